package stream

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
	relayerrors "github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

type syncBuffer struct {
	mu      sync.Mutex
	buf     bytes.Buffer
	flushes int
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

type failingWriter struct {
	writes int
	failAt int
}

func (f *failingWriter) Write(p []byte) (int, error) {
	f.writes++
	if f.writes >= f.failAt {
		return 0, errors.New("broken pipe")
	}
	return len(p), nil
}

type countingObserver struct {
	bytes     atomic.Int64
	underruns atomic.Int32
}

func (c *countingObserver) ChunkSent(n int) { c.bytes.Add(int64(n)) }
func (c *countingObserver) Underrun()       { c.underruns.Add(1) }

func newBuffer(t *testing.T, maxChunks, threshold int) *audiobuffer.Buffer {
	t.Helper()
	b, err := audiobuffer.New(audiobuffer.Config{MaxChunks: maxChunks, PrebufferChunks: threshold, BudgetBytes: 1024})
	require.NoError(t, err)
	return b
}

func fastConfig() Config {
	return Config{
		StartupTimeout: 50 * time.Millisecond,
		RefillTimeout:  20 * time.Millisecond,
		RetryDelay:     5 * time.Millisecond,
		LogEveryChunks: 2,
		LogInterval:    time.Second,
	}
}

func TestRunWritesHeaderThenChunksInOrder(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 8, 2)
	for _, s := range []string{"aa", "bb", "cc"} {
		buf.Put(audiobuffer.NewChunk([]byte(s)))
	}

	out := &syncBuffer{}
	obs := &countingObserver{}
	session := NewSession(buf, fastConfig(), []byte("HDR"), logger.NewDiscardLogger(), obs)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, out) }()

	require.Eventually(t, func() bool { return out.String() == "HDRaabbcc" }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(6), obs.bytes.Load())
	chunks, sent, _ := session.Totals()
	assert.Equal(t, uint64(3), chunks)
	assert.Equal(t, uint64(6), sent)
	out.mu.Lock()
	assert.GreaterOrEqual(t, out.flushes, 4)
	out.mu.Unlock()
}

func TestRunReturnsWriteError(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 8, 1)
	buf.Put(audiobuffer.NewChunk([]byte("x")))

	session := NewSession(buf, fastConfig(), []byte("HDR"), logger.NewDiscardLogger(), nil)
	err := session.Run(t.Context(), &failingWriter{failAt: 2})

	require.Error(t, err)
	assert.True(t, relayerrors.IsCategory(err, relayerrors.CategoryStream))
}

func TestRunHeaderWriteFailure(t *testing.T) {
	t.Parallel()

	session := NewSession(newBuffer(t, 4, 1), fastConfig(), []byte("HDR"), logger.NewDiscardLogger(), nil)
	err := session.Run(t.Context(), &failingWriter{failAt: 1})
	require.Error(t, err)
}

func TestRunWaitsForRefillAfterUnderrun(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 8, 2)
	out := &syncBuffer{}
	obs := &countingObserver{}
	cfg := fastConfig()
	cfg.RefillTimeout = 5 * time.Second
	session := NewSession(buf, cfg, nil, logger.NewDiscardLogger(), obs)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, out) }()

	require.Eventually(t, func() bool { return obs.underruns.Load() == 1 }, time.Second, time.Millisecond)

	buf.Put(audiobuffer.NewChunk([]byte("1")))
	buf.Put(audiobuffer.NewChunk([]byte("2")))

	require.Eventually(t, func() bool { return out.String() == "12" }, time.Second, time.Millisecond)
	// Draining back to empty counts a second underrun.
	require.Eventually(t, func() bool { return obs.underruns.Load() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRunStopsDuringRetryDelay(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 4, 2)
	cfg := fastConfig()
	cfg.RefillTimeout = time.Millisecond
	cfg.RetryDelay = time.Hour
	session := NewSession(buf, cfg, nil, logger.NewDiscardLogger(), nil)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- session.Run(ctx, &syncBuffer{}) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("session did not stop after cancellation")
	}
}

func TestWaitStartup(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 4, 2)
	session := NewSession(buf, fastConfig(), nil, logger.NewDiscardLogger(), nil)

	start := time.Now()
	assert.False(t, session.WaitStartup(t.Context()))
	assert.GreaterOrEqual(t, time.Since(start), fastConfig().StartupTimeout)

	buf.Put(audiobuffer.NewChunk([]byte("a")))
	buf.Put(audiobuffer.NewChunk([]byte("b")))
	assert.True(t, session.WaitStartup(t.Context()))
}

func TestSessionsShareOneCursor(t *testing.T) {
	t.Parallel()

	buf := newBuffer(t, 16, 1)
	for i := range 10 {
		buf.Put(audiobuffer.NewChunk([]byte{byte('a' + i)}))
	}

	first, second := &syncBuffer{}, &syncBuffer{}
	ctx, cancel := context.WithCancel(t.Context())
	var wg sync.WaitGroup
	for _, w := range []*syncBuffer{first, second} {
		wg.Go(func() {
			_ = NewSession(buf, fastConfig(), nil, logger.NewDiscardLogger(), nil).Run(ctx, w)
		})
	}

	require.Eventually(t, func() bool { return len(first.String())+len(second.String()) == 10 }, time.Second, time.Millisecond)
	cancel()
	wg.Wait()

	// Every chunk went to exactly one listener.
	assert.Equal(t, uint64(10), buf.Stats().ChunksRead)
}
