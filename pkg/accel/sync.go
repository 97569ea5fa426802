package accel

import "sync/atomic"

// Synchronizer blocks until previously issued asynchronous device work has
// completed.
type Synchronizer interface {
	Synchronize() error
}

// SyncFunc adapts a function to Synchronizer
type SyncFunc func() error

// Synchronize calls f
func (f SyncFunc) Synchronize() error {
	return f()
}

// Noop never blocks and never fails
var Noop Synchronizer = SyncFunc(func() error { return nil })

var hook atomic.Pointer[SyncFunc]

// RegisterSyncHook installs the process-wide device barrier used by Default,
// typically a binding to the vendor runtime. Passing nil removes it.
func RegisterSyncHook(fn func() error) {
	if fn == nil {
		hook.Store(nil)
		return
	}
	f := SyncFunc(fn)
	hook.Store(&f)
}

// Default returns the host synchronizer. It is a no-op unless Detect found an
// accelerator and a hook has been registered.
func Default() Synchronizer {
	return defaultSync{}
}

type defaultSync struct{}

func (defaultSync) Synchronize() error {
	if !Detect().Available {
		return nil
	}
	f := hook.Load()
	if f == nil {
		return nil
	}
	return (*f)()
}
