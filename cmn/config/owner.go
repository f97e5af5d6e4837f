package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.uber.org/atomic"

	"github.com/joynr-go/clustercontroller/cmn/jsp"
)

// Owner is the hot-reloadable holder of the current Config, the Go
// equivalent of this codebase's global-config-owner pattern: readers load
// a pointer without ever blocking on the (rare) writer.
type Owner struct {
	cur atomic.Pointer[Config]

	mu      sync.Mutex
	path    string
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// GCO is the process-wide configuration owner, initialized to defaults at
// package load and replaced by whatever main() loads from disk.
var GCO = NewOwner(Default())

// NewOwner builds an Owner already holding initial.
func NewOwner(initial *Config) *Owner {
	o := &Owner{}
	o.cur.Store(initial)
	return o
}

// Get returns the current configuration. Never blocks, never nil.
func (o *Owner) Get() *Config {
	return o.cur.Load()
}

// Put swaps in a new configuration wholesale.
func (o *Owner) Put(c *Config) {
	o.cur.Store(c)
}

// Load reads path into a new Config via cmn/jsp and installs it. Any read
// or decode error, a missing file included, is returned, and the owner
// then keeps whatever configuration it already held.
func (o *Owner) Load(path string) error {
	c := &Config{}
	if _, err := jsp.Load(path, c, jsp.Options{Indent: true}); err != nil {
		return errors.Wrapf(err, "load config %s", path)
	}
	o.mu.Lock()
	o.path = path
	o.mu.Unlock()
	o.Put(c)
	return nil
}

// Save persists the current configuration to path.
func (o *Owner) Save(path string) error {
	return jsp.Save(path, o.Get(), jsp.Options{Indent: true}, nil)
}

// WatchFile starts watching path for writes and reloads the configuration
// on each one, logging (not failing) a reload error so a transient bad
// write does not tear down the watcher.
func (o *Owner) WatchFile(path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return errors.Wrapf(err, "watch config %s", path)
	}

	o.mu.Lock()
	o.watcher = w
	o.stopCh = make(chan struct{})
	stopCh := o.stopCh
	o.mu.Unlock()

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := o.Load(path); err != nil {
					glog.Errorf("config: reload %s: %v", path, err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				glog.Errorf("config: watch %s: %v", path, err)
			case <-stopCh:
				return
			}
		}
	}()

	return nil
}

// StopWatching tears down the file watcher started by WatchFile, if any.
func (o *Owner) StopWatching() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.watcher == nil {
		return
	}
	close(o.stopCh)
	o.watcher.Close()
	o.watcher = nil
}
