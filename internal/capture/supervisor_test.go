package capture

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// scriptedSource returns the result of next for the n-th Start (0-based).
type scriptedSource struct {
	starts atomic.Int32
	next   func(ctx context.Context, n int) (io.ReadCloser, error)
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Start(ctx context.Context) (io.ReadCloser, error) {
	n := int(s.starts.Add(1)) - 1
	return s.next(ctx, n)
}

type fakeStream struct {
	io.Reader
	closeErr error
	closed   atomic.Bool
}

func (f *fakeStream) Close() error {
	f.closed.Store(true)
	return f.closeErr
}

func newStream(data string) *fakeStream {
	return &fakeStream{Reader: strings.NewReader(data)}
}

// blockingStream produces nothing until ctx ends.
type blockingStream struct{ ctx context.Context }

func (b blockingStream) Read([]byte) (int, error) {
	<-b.ctx.Done()
	return 0, io.EOF
}
func (b blockingStream) Close() error { return nil }

func newTestBuffer(t *testing.T) *audiobuffer.Buffer {
	t.Helper()
	buf, err := audiobuffer.New(audiobuffer.Config{MaxChunks: 64, PrebufferChunks: 2, BudgetBytes: 4096})
	require.NoError(t, err)
	return buf
}

func fastPolicy() RestartPolicy {
	return RestartPolicy{Delay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

type recordingObserver struct {
	mu       sync.Mutex
	chunks   int
	bytes    int
	restarts []bool
	running  []bool
}

func (r *recordingObserver) ChunkCaptured(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunks++
	r.bytes += n
}

func (r *recordingObserver) CaptureRestarted(_ string, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.restarts = append(r.restarts, failed)
}

func (r *recordingObserver) CaptureRunning(running bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = append(r.running, running)
}

func TestRestartPolicyNextDelay(t *testing.T) {
	t.Parallel()

	p := RestartPolicy{Delay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Duration(0), p.NextDelay(0))
	assert.Equal(t, time.Second, p.NextDelay(1))
	assert.Equal(t, 2*time.Second, p.NextDelay(2))
	assert.Equal(t, 4*time.Second, p.NextDelay(3))
	assert.Equal(t, 5*time.Second, p.NextDelay(4), "capped at MaxDelay")

	flat := DefaultRestartPolicy()
	assert.Equal(t, 5*time.Second, flat.NextDelay(1))
	assert.Equal(t, 5*time.Second, flat.NextDelay(10))

	assert.Equal(t, time.Duration(0), RestartPolicy{}.NextDelay(3))
}

func TestSupervisorRestartsAfterCleanEnd(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	var streamsMu sync.Mutex
	var streams []*fakeStream
	src := &scriptedSource{next: func(_ context.Context, _ int) (io.ReadCloser, error) {
		s := newStream("abcd")
		streamsMu.Lock()
		streams = append(streams, s)
		streamsMu.Unlock()
		return s, nil
	}}
	obs := &recordingObserver{}
	producer := NewProducer(buf, ProducerConfig{ChunkSize: 4096}, logger.NewDiscardLogger(), obs)
	sup := NewSupervisor(src, producer, fastPolicy(), logger.NewDiscardLogger(), WithCaptureObserver(obs))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return src.starts.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	stats := buf.Stats()
	assert.GreaterOrEqual(t, stats.ChunksWritten, uint64(3), "buffer keeps data across sessions")
	assert.Equal(t, stats.ChunksWritten*4, stats.BytesWritten)

	streamsMu.Lock()
	defer streamsMu.Unlock()
	for _, s := range streams {
		assert.True(t, s.closed.Load(), "every stream is closed")
	}

	status := sup.Status()
	assert.Equal(t, StateStopped, status.State)
	assert.Equal(t, "scripted", status.Source)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.GreaterOrEqual(t, status.Restarts, uint64(2))

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, int(stats.ChunksWritten), obs.chunks)
	for _, failed := range obs.restarts {
		assert.False(t, failed)
	}
	require.NotEmpty(t, obs.running)
	assert.False(t, obs.running[len(obs.running)-1])
}

func TestSupervisorFailureAndRecoveryHooks(t *testing.T) {
	t.Parallel()

	buf := newTestBuffer(t)
	src := &scriptedSource{next: func(ctx context.Context, n int) (io.ReadCloser, error) {
		if n < 3 {
			return nil, errors.Newf("bluealsa-cli exited").Category(errors.CategoryCapture).Build()
		}
		return &fakeStream{Reader: io.MultiReader(strings.NewReader("pcm"), blockingStream{ctx})}, nil
	}}

	var mu sync.Mutex
	var attempts []int
	recovered := make(chan struct{}, 1)

	producer := NewProducer(buf, ProducerConfig{ChunkSize: 16}, logger.NewDiscardLogger(), nil)
	sup := NewSupervisor(src, producer, fastPolicy(), logger.NewDiscardLogger(),
		WithFailureHook(func(err error, n int) {
			mu.Lock()
			defer mu.Unlock()
			attempts = append(attempts, n)
		}),
		WithRecoverHook(func() { recovered <- struct{}{} }))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	select {
	case <-recovered:
	case <-time.After(2 * time.Second):
		t.Fatal("recovery hook not called")
	}

	status := sup.Status()
	assert.Equal(t, StateRunning, status.State)
	assert.Zero(t, status.ConsecutiveFailures)
	assert.Empty(t, status.LastError)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2, 3}, attempts)
}

func TestSupervisorGivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{next: func(context.Context, int) (io.ReadCloser, error) {
		return nil, errors.NewStd("no such device")
	}}
	policy := fastPolicy()
	policy.MaxRetries = 2

	producer := NewProducer(newTestBuffer(t), ProducerConfig{}, logger.NewDiscardLogger(), nil)
	sup := NewSupervisor(src, producer, policy, logger.NewDiscardLogger())

	err := sup.Run(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCapture))
	assert.Equal(t, int32(3), src.starts.Load())
	assert.Equal(t, 3, sup.Status().ConsecutiveFailures)
	assert.Contains(t, sup.Status().LastError, "no such device")
}

func TestSupervisorTreatsShortSessionAsFailure(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{next: func(context.Context, int) (io.ReadCloser, error) {
		return newStream(""), nil
	}}
	policy := fastPolicy()
	policy.StableAfter = time.Hour
	policy.MaxRetries = 1

	producer := NewProducer(newTestBuffer(t), ProducerConfig{}, logger.NewDiscardLogger(), nil)
	sup := NewSupervisor(src, producer, policy, logger.NewDiscardLogger())

	err := sup.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture ended after")
	assert.Equal(t, int32(2), src.starts.Load())
}

func TestSupervisorReportsCloseError(t *testing.T) {
	t.Parallel()

	closeErr := errors.NewStd("exit status 1")
	src := &scriptedSource{next: func(context.Context, int) (io.ReadCloser, error) {
		return &fakeStream{Reader: bytes.NewReader([]byte{1, 2}), closeErr: closeErr}, nil
	}}
	policy := fastPolicy()
	policy.MaxRetries = 1
	policy.StableAfter = time.Hour

	producer := NewProducer(newTestBuffer(t), ProducerConfig{}, logger.NewDiscardLogger(), nil)
	sup := NewSupervisor(src, producer, policy, logger.NewDiscardLogger())

	err := sup.Run(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, closeErr)
	assert.Equal(t, uint64(4), sup.Status().BytesCaptured)
}

func TestSupervisorStopsWhileWaiting(t *testing.T) {
	t.Parallel()

	src := &scriptedSource{next: func(context.Context, int) (io.ReadCloser, error) {
		return nil, errors.NewStd("down")
	}}
	policy := RestartPolicy{Delay: time.Hour, Multiplier: 1}

	producer := NewProducer(newTestBuffer(t), ProducerConfig{}, logger.NewDiscardLogger(), nil)
	sup := NewSupervisor(src, producer, policy, logger.NewDiscardLogger())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	require.Eventually(t, func() bool { return sup.Status().State == StateRestarting }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("supervisor did not stop during restart delay")
	}
	assert.Equal(t, int32(1), src.starts.Load())
}
