// Package metrics declares the process-wide prometheus collectors the
// core components increment inline; cmd/clustercontroller exports them on
// its debug HTTP surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	AccessStoreMutations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustercontroller",
		Subsystem: "accessstore",
		Name:      "mutations_total",
		Help:      "Access/registration/domain-role control entry writes and removals, by table.",
	}, []string{"table", "op"})

	AccessStoreSnapshotWrites = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clustercontroller",
		Subsystem: "accessstore",
		Name:      "snapshot_writes_total",
		Help:      "Access store on-disk snapshot writes.",
	})

	LDACCacheHits = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustercontroller",
		Subsystem: "ldac",
		Name:      "cache_hits_total",
		Help:      "Permission queries answered from already-cached policy, by side.",
	}, []string{"side"})

	LDACCacheMisses = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "clustercontroller",
		Subsystem: "ldac",
		Name:      "cache_misses_total",
		Help:      "Permission queries that triggered a backend fetch round, by side.",
	}, []string{"side"})

	PublicationThrottleCoalesced = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "clustercontroller",
		Subsystem: "pubman",
		Name:      "onchange_throttle_coalesced_total",
		Help:      "On-change notifications folded into an already-scheduled deferred publication.",
	})
)

func init() {
	prometheus.MustRegister(
		AccessStoreMutations,
		AccessStoreSnapshotWrites,
		LDACCacheHits,
		LDACCacheMisses,
		PublicationThrottleCoalesced,
	)
}
