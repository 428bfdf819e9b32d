package audiobuffer

import (
	"context"
	"sync"
	"time"
)

// Gate is a level-triggered readiness signal. Opening it releases every
// goroutine blocked in Wait at once; waiters arriving while it is open return
// immediately.
type Gate struct {
	mu    sync.Mutex
	ready bool
	ch    chan struct{} // closed while ready
}

// NewGate returns a closed (not ready) gate.
func NewGate() *Gate {
	return &Gate{ch: make(chan struct{})}
}

// Open marks the gate ready. It reports whether this call changed the state.
func (g *Gate) Open() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ready {
		return false
	}
	g.ready = true
	close(g.ch)
	return true
}

// Reset marks the gate not ready. It reports whether this call changed the state.
func (g *Gate) Reset() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.ready {
		return false
	}
	g.ready = false
	g.ch = make(chan struct{})
	return true
}

// Ready reports the current state.
func (g *Gate) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

// Wait blocks until the gate opens, the timeout elapses or ctx is done.
// It returns true only if the gate was open. A non-positive timeout polls.
func (g *Gate) Wait(ctx context.Context, timeout time.Duration) bool {
	g.mu.Lock()
	if g.ready {
		g.mu.Unlock()
		return true
	}
	ch := g.ch
	g.mu.Unlock()

	if timeout <= 0 {
		return false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
