// +build debug

// Package debug provides assertions and verbosity knobs used only in
// debug builds of the cluster controller.
package debug

import (
	"bytes"
	"expvar"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"
	"sync"

	"github.com/golang/glog"
)

var xmodules map[string]*expvar.Map

func init() {
	xmodules = make(map[string]*expvar.Map, 4)
	loadLogLevel()
}

func NewExpvar(module string) {
	xmodules[module] = expvar.NewMap("cc." + module)
}

func SetExpvar(module, name string, val int64) {
	m, ok := xmodules[module]
	if !ok {
		fatalMsg("invalid module %q - call NewExpvar first", module)
	}
	v, ok := m.Get(name).(*expvar.Int)
	if !ok {
		v = new(expvar.Int)
		m.Set(name, v)
	}
	v.Set(val)
}

func Errorln(a ...interface{}) {
	if len(a) == 1 {
		glog.ErrorDepth(1, "[DEBUG] ", a[0])
		return
	}
	Errorf("%v", a)
}

func Errorf(f string, a ...interface{}) {
	glog.ErrorDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Infof(f string, a ...interface{}) {
	glog.InfoDepth(1, fmt.Sprintf("[DEBUG] "+f, a...))
}

func Func(f func()) { f() }

func _panic(a ...interface{}) {
	var msg = "DEBUG PANIC: "
	if len(a) > 0 {
		msg += fmt.Sprint(a...)
	}
	buffer := bytes.NewBuffer(make([]byte, 0, 1024))
	fmt.Fprint(buffer, msg)
	for i := 2; i < 9; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		if !strings.Contains(file, "clustercontroller") {
			break
		}
		f := filepath.Base(file)
		if buffer.Len() > len(msg) {
			buffer.WriteString(" <- ")
		}
		fmt.Fprintf(buffer, "%s:%d", f, line)
	}
	glog.Errorf("%s", buffer.Bytes())
	glog.Flush()
	panic(msg)
}

func Assert(cond bool, a ...interface{}) {
	if !cond {
		_panic(a...)
	}
}

func AssertFunc(f func() bool, a ...interface{}) {
	if !f() {
		_panic(a...)
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		_panic(msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		_panic(err)
	}
}

func Assertf(cond bool, f string, a ...interface{}) {
	if !cond {
		_panic(fmt.Sprintf(f, a...))
	}
}

func AssertMutexLocked(m *sync.Mutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "Mutex not Locked")
}

func AssertRWMutexLocked(m *sync.RWMutex) {
	state := reflect.ValueOf(m).Elem().FieldByName("w").FieldByName("state")
	AssertMsg(state.Int()&1 == 1, "RWMutex not Locked")
}

func AssertRWMutexRLocked(m *sync.RWMutex) {
	const maxReaders = 1 << 30 // taken from sync/rwmutex.go
	rc := reflect.ValueOf(m).Elem().FieldByName("readerCount").Int()
	AssertMsg(rc > 0 || (0 > rc && rc > -maxReaders), "RWMutex not RLocked")
}

func Handlers() map[string]http.HandlerFunc {
	return map[string]http.HandlerFunc{
		"/debug/vars":               expvar.Handler().ServeHTTP,
		"/debug/pprof/":             pprof.Index,
		"/debug/pprof/cmdline":      pprof.Cmdline,
		"/debug/pprof/profile":      pprof.Profile,
		"/debug/pprof/symbol":       pprof.Symbol,
		"/debug/pprof/block":        pprof.Handler("block").ServeHTTP,
		"/debug/pprof/heap":         pprof.Handler("heap").ServeHTTP,
		"/debug/pprof/goroutine":    pprof.Handler("goroutine").ServeHTTP,
		"/debug/pprof/threadcreate": pprof.Handler("threadcreate").ServeHTTP,
	}
}

// loadLogLevel maps CC_DEBUG=accessstore=2,ldac=3 onto glog's -vmodule flag
// so per-package verbosity can be toggled without touching the command line.
func loadLogLevel() {
	val := os.Getenv("CC_DEBUG")
	if val == "" {
		return
	}
	if err := flag.Set("vmodule", val); err != nil {
		fatalMsg("invalid CC_DEBUG=%q: %v", val, err)
	}
}

func fatalMsg(f string, v ...interface{}) {
	s := fmt.Sprintf(f, v...)
	if s == "" || s[len(s)-1] != '\n' {
		fmt.Fprintln(os.Stderr, s)
	} else {
		fmt.Fprint(os.Stderr, s)
	}
	os.Exit(1)
}
