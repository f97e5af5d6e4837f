// Package main runs the cluster controller: the process that hosts the
// access-control store, the local domain access controller, the message
// access gate, and the publication manager behind a small debug/metrics/
// admin HTTP surface. It does not speak the joynr wire protocol itself —
// that is a transport-layer concern this binary leaves to the messaging
// runtime it is embedded alongside.
package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/pflag"
	"github.com/valyala/fasthttp"

	"github.com/joynr-go/clustercontroller/accesscontrol"
	"github.com/joynr-go/clustercontroller/accessstore"
	"github.com/joynr-go/clustercontroller/cmn"
	"github.com/joynr-go/clustercontroller/cmn/config"
	"github.com/joynr-go/clustercontroller/ldac"
	"github.com/joynr-go/clustercontroller/pubman"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		listenAddr    = pflag.String("listen", ":9090", "address the debug/metrics/admin HTTP surface listens on")
		snapshotPath  = pflag.String("snapshot", "accessstore.snapshot", "path of the access-control store's on-disk snapshot")
		configPath    = pflag.String("config", "", "optional config file to load and watch for hot-reload")
		localOnly     = pflag.Bool("local-only", true, "never query a global/backend access-control directory; serve only from the local snapshot")
		jwtSecret     = pflag.String("jwt-secret", "", "HMAC secret admin requests must be signed with")
		workers       = pflag.Int("publication-workers", 4, "number of worker goroutines draining scheduled publication runnables")
		ttlUpliftMs   = pflag.Int64("ttl-uplift-ms", 10000, "extra time allowed past a subscription's expiry date before a late publication is dropped")
		whitelistFlag = pflag.StringSlice("consumer-whitelist", nil, "participant ids exempt from the consumer permission check")
	)
	pflag.Parse()

	cmn.InitShortID(uint64(time.Now().UnixNano()))

	cfg := config.Default()
	cfg.SnapshotPath = *snapshotPath
	cfg.LocalOnly = *localOnly
	cfg.PublicationWorkers = *workers
	cfg.TTLUpliftMs = *ttlUpliftMs
	cfg.ConsumerWhitelist = *whitelistFlag
	config.GCO.Put(cfg)

	if *configPath != "" {
		if err := config.GCO.Load(*configPath); err != nil {
			glog.Warningf("main: no existing config at %s, starting from defaults: %v", *configPath, err)
			if err := config.GCO.Save(*configPath); err != nil {
				glog.Errorf("main: write initial config: %v", err)
			}
		}
		if err := config.GCO.WatchFile(*configPath); err != nil {
			glog.Errorf("main: watch config file: %v", err)
		}
		defer config.GCO.StopWatching()
	}
	cfg = config.GCO.Get()

	store, err := accessstore.New(cfg.SnapshotPath)
	if err != nil {
		glog.Errorf("main: open access store: %v", err)
		return 1
	}

	ldacController := ldac.NewController(store, nil, cfg.LocalOnly)
	directory := newMemDirectory()
	gate := accesscontrol.New(directory, consumerQuerier{c: ldacController}, ldacController, cfg.ConsumerWhitelist)

	pubMgr := pubman.New(memInterpreterRegistry{}, cfg.PublicationWorkers, cfg.TTLUplift())

	srv := &server{
		store:     store,
		directory: directory,
		gate:      gate,
		jwtSecret: []byte(*jwtSecret),
	}

	httpServer := &fasthttp.Server{
		Handler: srv.handler,
	}

	errCh := make(chan error, 1)
	go func() {
		glog.Infof("main: listening on %s", *listenAddr)
		errCh <- httpServer.ListenAndServe(*listenAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			glog.Errorf("main: http server: %v", err)
			return 1
		}
	case sig := <-sigCh:
		glog.Infof("main: received %s, shutting down", sig)
	}

	shutdownDeadline := time.NewTimer(5 * time.Second)
	defer shutdownDeadline.Stop()

	pubMgr.Shutdown()
	if err := httpServer.Shutdown(); err != nil {
		glog.Errorf("main: http server shutdown: %v", err)
	}
	return 0
}
