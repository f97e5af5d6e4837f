package ldac

import "go.uber.org/atomic"

// initializer races a fixed number of independent fetches and fires
// exactly once — either onDone (every fetch succeeded) or onAbort (at
// least one failed) — on whichever goroutine observes the last
// completion. This mirrors the countdown-with-abort-latch discipline of
// the original controller's nested Initializer type: a WaitGroup alone
// cannot distinguish "all N succeeded" from "one of N failed", so the
// abort flag rides alongside the counter instead of being layered on top
// of it.
type initializer struct {
	remaining atomic.Int32
	aborted   atomic.Bool
	onDone    func()
	onAbort   func()
}

func newInitializer(n int32, onDone, onAbort func()) *initializer {
	i := &initializer{onDone: onDone, onAbort: onAbort}
	i.remaining.Store(n)
	return i
}

// complete reports one fetch's outcome. ok=false latches abort; the
// first call to observe the counter reach zero performs the one-time
// finalize (done or abort, whichever was latched).
func (i *initializer) complete(ok bool) {
	if !ok {
		i.aborted.Store(true)
	}
	if i.remaining.Dec() == 0 {
		if i.aborted.Load() {
			i.onAbort()
		} else {
			i.onDone()
		}
	}
}
