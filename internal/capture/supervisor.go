package capture

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// State of the capture loop
type State string

const (
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateRestarting State = "restarting"
	StateStopped    State = "stopped"
)

// RestartPolicy decides how long to wait before restarting a source.
type RestartPolicy struct {
	Delay       time.Duration // wait after the first failure
	MaxDelay    time.Duration // cap for backoff, 0 = uncapped
	Multiplier  float64       // growth per consecutive failure, 1 = constant
	MaxRetries  int           // consecutive failures before giving up, 0 = never
	StableAfter time.Duration // runtime after which a session counts as healthy
}

// DefaultRestartPolicy waits a flat five seconds and never gives up.
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{
		Delay:       5 * time.Second,
		MaxDelay:    time.Minute,
		Multiplier:  1,
		StableAfter: 5 * time.Second,
	}
}

// NextDelay returns the wait before the next start after failures consecutive
// failures. Zero failures restarts immediately.
func (p RestartPolicy) NextDelay(failures int) time.Duration {
	if failures <= 0 || p.Delay <= 0 {
		return 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := float64(p.Delay) * math.Pow(multiplier, float64(failures-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Status is a point-in-time view of the capture loop.
type Status struct {
	State               State     `json:"state"`
	Source              string    `json:"source"`
	Sessions            uint64    `json:"sessions"`
	Restarts            uint64    `json:"restarts"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
	LastStarted         time.Time `json:"last_started,omitzero"`
	ChunksCaptured      uint64    `json:"chunks_captured"`
	BytesCaptured       uint64    `json:"bytes_captured"`
}

// SupervisorOption configures a Supervisor
type SupervisorOption func(*Supervisor)

// WithFailureHook is called after every failed session with the consecutive failure count.
func WithFailureHook(fn func(err error, attempts int)) SupervisorOption {
	return func(s *Supervisor) { s.onFailure = fn }
}

// WithRecoverHook is called when a session becomes healthy after failures.
func WithRecoverHook(fn func()) SupervisorOption {
	return func(s *Supervisor) { s.onRecover = fn }
}

// WithCaptureObserver reports restarts and running state.
func WithCaptureObserver(o Observer) SupervisorOption {
	return func(s *Supervisor) { s.observer = o }
}

// Supervisor keeps a Source running, feeding each session through a Producer.
// The buffer is never cleared between sessions.
type Supervisor struct {
	src      Source
	producer *Producer
	policy   RestartPolicy
	log      logger.Logger

	onFailure func(err error, attempts int)
	onRecover func()
	observer  Observer

	mu     sync.RWMutex
	status Status
}

// NewSupervisor creates a supervisor for src.
func NewSupervisor(src Source, producer *Producer, policy RestartPolicy, log logger.Logger, opts ...SupervisorOption) *Supervisor {
	if log == nil {
		log = logger.Global().Module("capture")
	}
	s := &Supervisor{
		src:      src,
		producer: producer,
		policy:   policy,
		log:      log.With(logger.String("source", src.Name())),
		status:   Status{State: StateStopped, Source: src.Name()},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Status returns a copy of the current status.
func (s *Supervisor) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Supervisor) update(fn func(*Status)) {
	s.mu.Lock()
	fn(&s.status)
	s.mu.Unlock()
}

// Run captures until ctx is cancelled, restarting the source whenever it ends.
// It returns nil on cancellation and an error only when MaxRetries is exceeded.
func (s *Supervisor) Run(ctx context.Context) error {
	defer func() {
		s.update(func(st *Status) { st.State = StateStopped })
		if s.observer != nil {
			s.observer.CaptureRunning(false)
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		healthy, err := s.session(ctx, failures)
		if ctx.Err() != nil {
			return nil
		}

		if healthy {
			failures = 0
		}
		if err != nil {
			failures++
		}

		s.update(func(st *Status) {
			st.State = StateRestarting
			st.Restarts++
			st.ConsecutiveFailures = failures
			if err != nil {
				st.LastError = err.Error()
			}
		})
		if s.observer != nil {
			s.observer.CaptureRunning(false)
			s.observer.CaptureRestarted(s.src.Name(), err != nil)
		}

		if err != nil {
			if s.onFailure != nil {
				s.onFailure(err, failures)
			}
			if s.policy.MaxRetries > 0 && failures > s.policy.MaxRetries {
				s.log.Error("capture giving up after repeated failures",
					logger.Int("attempts", failures),
					logger.Error(err))
				return errors.New(err).
					Component("capture").
					Category(errors.CategoryCapture).
					Context("attempts", failures).
					Build()
			}
		}

		delay := s.policy.NextDelay(failures)
		if err != nil {
			s.log.Error("capture failed, restarting",
				logger.Error(err),
				logger.Int("attempt", failures),
				logger.Duration("delay", delay))
		} else {
			s.log.Info("capture ended, restarting", logger.Duration("delay", delay))
		}
		if !sleep(ctx, delay) {
			return nil
		}
	}
}

// session runs one Start/Pump/Close cycle. A session that ends before
// StableAfter without an error is reported as a failure so a source that exits
// immediately does not spin.
func (s *Supervisor) session(ctx context.Context, priorFailures int) (healthy bool, err error) {
	started := time.Now()
	s.update(func(st *Status) {
		st.State = StateStarting
		st.Sessions++
		st.LastStarted = started
	})
	s.log.Info("starting capture")

	stream, err := s.src.Start(ctx)
	if err != nil {
		return false, err
	}

	s.update(func(st *Status) { st.State = StateRunning })
	if s.observer != nil {
		s.observer.CaptureRunning(true)
	}

	onChunk := func() {
		if healthy || time.Since(started) < s.policy.StableAfter {
			return
		}
		healthy = true
		s.update(func(st *Status) {
			st.ConsecutiveFailures = 0
			st.LastError = ""
		})
		if priorFailures > 0 {
			s.log.Info("capture recovered", logger.Int("after_failures", priorFailures))
			if s.onRecover != nil {
				s.onRecover()
			}
		}
	}

	result, err := s.producer.Pump(ctx, stream, onChunk)
	if closeErr := stream.Close(); err == nil {
		err = closeErr
	}
	s.update(func(st *Status) {
		st.ChunksCaptured += result.Chunks
		st.BytesCaptured += result.Bytes
	})

	elapsed := time.Since(started)
	s.log.Info("capture session ended",
		logger.Duration("duration", elapsed),
		logger.Uint64("chunks", result.Chunks),
		logger.Uint64("bytes", result.Bytes))

	if err == nil && !healthy && ctx.Err() == nil {
		err = errors.Newf("capture ended after %s", elapsed.Round(time.Millisecond)).
			Component("capture").
			Category(errors.CategoryCapture).
			Context("chunks", result.Chunks).
			Build()
	}
	return healthy, err
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
