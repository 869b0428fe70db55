package scheduler

import "sync/atomic"

// Guard admits at most one cycle at a time. The zero value is ready to use.
type Guard struct {
	running atomic.Bool
}

// TryAcquire takes the slot if it is free. It never blocks.
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release frees the slot. Callers defer it right after a successful TryAcquire.
func (g *Guard) Release() {
	g.running.Store(false)
}

// Running reports whether a cycle currently holds the slot.
func (g *Guard) Running() bool {
	return g.running.Load()
}
