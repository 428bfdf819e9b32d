// Package stream delivers buffered audio to a single listener.
package stream

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// Source is the part of the audio buffer a session reads from.
type Source interface {
	Get() (audiobuffer.Chunk, bool)
	WaitReady(ctx context.Context, timeout time.Duration) bool
	Snapshot() audiobuffer.Snapshot
}

// Observer receives per-session delivery events.
type Observer interface {
	ChunkSent(bytes int)
	Underrun()
}

// Config controls pacing and progress logging.
type Config struct {
	StartupTimeout time.Duration // bound on the wait before the first byte
	RefillTimeout  time.Duration // bound on each wait after the buffer runs dry
	RetryDelay     time.Duration // pause after a refill wait times out
	LogEveryChunks uint64
	LogInterval    time.Duration
}

// DefaultConfig mirrors the stream defaults in conf.
func DefaultConfig() Config {
	return Config{
		StartupTimeout: 10 * time.Second,
		RefillTimeout:  10 * time.Second,
		RetryDelay:     100 * time.Millisecond,
		LogEveryChunks: 100,
		LogInterval:    5 * time.Second,
	}
}

// flusher matches http.Flusher and echo.Response.
type flusher interface {
	Flush()
}

// Session streams chunks from a Source to one writer.
type Session struct {
	src      Source
	cfg      Config
	header   []byte
	log      logger.Logger
	observer Observer

	chunksSent uint64
	bytesSent  uint64
	underruns  uint64
}

// NewSession creates a session. header is written before any audio; observer may be nil.
func NewSession(src Source, cfg Config, header []byte, log logger.Logger, observer Observer) *Session {
	if log == nil {
		log = logger.Global().Module("stream")
	}
	return &Session{
		src:      src,
		cfg:      cfg,
		header:   header,
		log:      log,
		observer: observer,
	}
}

// WaitStartup waits once for the prebuffer before delivery starts. Delivery
// should begin even when it returns false.
func (s *Session) WaitStartup(ctx context.Context) bool {
	s.log.Info("waiting for audio buffer to fill", logger.Duration("timeout", s.cfg.StartupTimeout))
	if s.src.WaitReady(ctx, s.cfg.StartupTimeout) {
		return true
	}
	if ctx.Err() == nil {
		s.log.Warn("timeout waiting for buffer, starting anyway")
	}
	return false
}

// Run writes the header and then forwards chunks until ctx is done or a write
// fails. Cancellation returns nil; a failed write returns the error.
func (s *Session) Run(ctx context.Context, w io.Writer) error {
	if err := s.write(w, s.header); err != nil {
		return err
	}

	lastLog := time.Now()
	empty := 0

	for {
		if ctx.Err() != nil {
			return nil
		}

		chunk, ok := s.src.Get()
		if !ok {
			empty++
			if empty == 1 {
				s.underruns++
				if s.observer != nil {
					s.observer.Underrun()
				}
				s.log.Warn("buffer empty, waiting to refill")
			}
			if !s.src.WaitReady(ctx, s.cfg.RefillTimeout) {
				if ctx.Err() != nil {
					return nil
				}
				s.log.Warn("buffer refill timeout")
				if !sleep(ctx, s.cfg.RetryDelay) {
					return nil
				}
			}
			continue
		}
		empty = 0

		if err := s.write(w, chunk.Bytes()); err != nil {
			return err
		}
		s.chunksSent++
		s.bytesSent += uint64(chunk.Len())
		if s.observer != nil {
			s.observer.ChunkSent(chunk.Len())
		}

		if s.shouldLog(lastLog) {
			s.logProgress()
			lastLog = time.Now()
		}
	}
}

func (s *Session) write(w io.Writer, p []byte) error {
	if len(p) == 0 {
		return nil
	}
	if _, err := w.Write(p); err != nil {
		return errors.New(err).
			Component("stream").
			Category(errors.CategoryStream).
			Context("bytes_sent", s.bytesSent).
			Build()
	}
	if f, ok := w.(flusher); ok {
		f.Flush()
	}
	return nil
}

func (s *Session) shouldLog(lastLog time.Time) bool {
	if s.cfg.LogEveryChunks > 0 && s.chunksSent%s.cfg.LogEveryChunks == 0 {
		return true
	}
	return s.cfg.LogInterval > 0 && time.Since(lastLog) > s.cfg.LogInterval
}

func (s *Session) logProgress() {
	snap := s.src.Snapshot()
	s.log.Info("streaming",
		logger.Float64("buffer_fill_percent", snap.OccupancyFraction*100),
		logger.Float64("buffer_mb", float64(snap.CurrentSize)/(1024*1024)),
		logger.Uint64("chunks_sent", s.chunksSent),
		logger.Int("chunks_in_buffer", snap.QueueLen),
		logger.Int("max_chunks", snap.MaxChunks))
}

// Totals returns what this session has delivered so far. Not safe to call
// concurrently with Run.
func (s *Session) Totals() (chunks, bytes, underruns uint64) {
	return s.chunksSent, s.bytesSent, s.underruns
}

// sleep waits for d or ctx, reporting false if ctx ended first.
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
