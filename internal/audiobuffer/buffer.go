// Package audiobuffer implements the bounded chunk queue that sits between the
// capture producer and the HTTP listeners.
package audiobuffer

import (
	"context"
	"sync"
	"time"

	"github.com/tphakala/turntable-relay/internal/errors"
)

// Config sizes a Buffer.
type Config struct {
	// MaxChunks is the hard capacity. Put evicts the oldest chunks to stay within it.
	MaxChunks int
	// PrebufferChunks is the queue length at which the buffer becomes ready.
	PrebufferChunks int
	// BudgetBytes is the nominal byte capacity used by OccupancyFraction.
	BudgetBytes int
}

// Observer receives buffer events after the buffer lock is released.
type Observer interface {
	ChunksEvicted(chunks, bytes int)
	ReadinessChanged(ready bool)
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithObserver attaches an event observer.
func WithObserver(o Observer) Option {
	return func(b *Buffer) {
		b.observer = o
	}
}

// Buffer is a bounded FIFO of Chunks with overflow eviction and a prebuffer
// readiness gate. Put and Get never block; WaitReady is the only call that
// suspends the caller.
//
// All readers share one read cursor: concurrent listeners compete for chunks
// rather than each receiving a full copy of the stream.
type Buffer struct {
	mu       sync.RWMutex
	slots    []Chunk
	head     int
	count    int
	stats    Stats
	cfg      Config
	gate     *Gate
	observer Observer
}

// New creates an empty, not-ready Buffer.
func New(cfg Config, opts ...Option) (*Buffer, error) {
	if cfg.MaxChunks < 1 {
		return nil, errors.Newf("max chunks must be at least 1, got %d", cfg.MaxChunks).
			Component("audiobuffer").
			Category(errors.CategoryValidation).
			Build()
	}
	if cfg.PrebufferChunks < 0 || cfg.PrebufferChunks > cfg.MaxChunks {
		return nil, errors.Newf("prebuffer chunks %d outside 0..%d", cfg.PrebufferChunks, cfg.MaxChunks).
			Component("audiobuffer").
			Category(errors.CategoryValidation).
			Context("max_chunks", cfg.MaxChunks).
			Build()
	}

	b := &Buffer{
		slots: make([]Chunk, cfg.MaxChunks),
		cfg:   cfg,
		gate:  NewGate(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Put appends c, evicting the oldest chunks first while the queue is full.
func (b *Buffer) Put(c Chunk) {
	var evictedChunks, evictedBytes int

	b.mu.Lock()
	for b.count >= len(b.slots) {
		old := b.popLocked()
		evictedChunks++
		evictedBytes += old.Len()
	}

	b.slots[(b.head+b.count)%len(b.slots)] = c
	b.count++

	n := uint64(c.Len())
	b.stats.CurrentSize += n
	b.stats.BytesWritten += n
	b.stats.ChunksWritten++
	b.stats.ChunksEvicted += uint64(evictedChunks)
	b.stats.BytesEvicted += uint64(evictedBytes)

	var changed bool
	if b.count >= b.cfg.PrebufferChunks {
		changed = b.gate.Open()
	} else {
		changed = b.gate.Reset()
	}
	ready := b.gate.Ready()
	b.stats.IsPrebuffered = ready
	b.mu.Unlock()

	if b.observer != nil {
		if evictedChunks > 0 {
			b.observer.ChunksEvicted(evictedChunks, evictedBytes)
		}
		if changed {
			b.observer.ReadinessChanged(ready)
		}
	}
}

// Get removes and returns the oldest chunk. It reports false when the buffer is
// empty. Draining the last chunk, or calling Get on an empty buffer, clears readiness.
func (b *Buffer) Get() (Chunk, bool) {
	b.mu.Lock()
	if b.count == 0 {
		changed := b.gate.Reset()
		b.stats.IsPrebuffered = false
		b.mu.Unlock()
		b.notifyReadiness(changed, false)
		return Chunk{}, false
	}

	c := b.popLocked()
	n := uint64(c.Len())
	b.stats.BytesRead += n
	b.stats.ChunksRead++

	var changed bool
	if b.count == 0 {
		changed = b.gate.Reset()
		b.stats.IsPrebuffered = false
	}
	b.mu.Unlock()

	b.notifyReadiness(changed, false)
	return c, true
}

// popLocked removes the head chunk and adjusts CurrentSize. Caller holds b.mu.
func (b *Buffer) popLocked() Chunk {
	c := b.slots[b.head]
	b.slots[b.head] = Chunk{}
	b.head = (b.head + 1) % len(b.slots)
	b.count--
	b.stats.CurrentSize -= uint64(c.Len())
	return c
}

func (b *Buffer) notifyReadiness(changed, ready bool) {
	if changed && b.observer != nil {
		b.observer.ReadinessChanged(ready)
	}
}

// WaitReady blocks until the buffer is ready, the timeout elapses or ctx is
// done, and reports whether readiness was observed. All waiters are released
// together when the prebuffer threshold is crossed.
func (b *Buffer) WaitReady(ctx context.Context, timeout time.Duration) bool {
	return b.gate.Wait(ctx, timeout)
}

// Ready reports whether the prebuffer threshold has been reached.
func (b *Buffer) Ready() bool {
	return b.gate.Ready()
}

// OccupancyFraction returns buffered bytes divided by the byte budget. The
// result is not clamped and can exceed 1 because the chunk capacity includes headroom.
func (b *Buffer) OccupancyFraction() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return occupancy(b.stats.CurrentSize, b.cfg.BudgetBytes)
}

// Stats returns a copy of the counters.
func (b *Buffer) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats
}

// Len returns the number of queued chunks.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Snapshot returns stats and occupancy captured under one lock.
func (b *Buffer) Snapshot() Snapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{
		Stats:             b.stats,
		QueueLen:          b.count,
		MaxChunks:         b.cfg.MaxChunks,
		PrebufferChunks:   b.cfg.PrebufferChunks,
		BudgetBytes:       b.cfg.BudgetBytes,
		OccupancyFraction: occupancy(b.stats.CurrentSize, b.cfg.BudgetBytes),
	}
}
