package capture

import (
	"context"
	"io"
	"time"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
)

// Sink receives captured chunks. *audiobuffer.Buffer satisfies it.
type Sink interface {
	Put(c audiobuffer.Chunk)
	Snapshot() audiobuffer.Snapshot
}

// Observer receives capture events, typically metrics.
type Observer interface {
	ChunkCaptured(bytes int)
	CaptureRestarted(source string, failed bool)
	CaptureRunning(running bool)
}

// ProducerConfig controls chunking and progress logging.
type ProducerConfig struct {
	ChunkSize      int
	LogEveryChunks uint64
	LogInterval    time.Duration
}

// Producer copies a PCM stream into the buffer one read at a time.
type Producer struct {
	sink     Sink
	cfg      ProducerConfig
	log      logger.Logger
	observer Observer

	// chunks across sessions, owned by the goroutine calling Pump
	totalChunks uint64
}

// PumpResult summarizes one capture session.
type PumpResult struct {
	Chunks uint64
	Bytes  uint64
}

// NewProducer creates a producer writing into sink. observer may be nil.
func NewProducer(sink Sink, cfg ProducerConfig, log logger.Logger, observer Observer) *Producer {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 4096
	}
	if log == nil {
		log = logger.Global().Module("capture")
	}
	return &Producer{sink: sink, cfg: cfg, log: log, observer: observer}
}

// Pump reads r until EOF, a read error or ctx cancellation. Every successful
// read becomes one chunk, so chunks may be shorter than ChunkSize. onChunk, if
// set, runs after each Put.
func (p *Producer) Pump(ctx context.Context, r io.Reader, onChunk func()) (PumpResult, error) {
	var result PumpResult
	buf := make([]byte, p.cfg.ChunkSize)
	lastLog := time.Now()

	for {
		if ctx.Err() != nil {
			return result, nil
		}

		n, err := r.Read(buf)
		if n > 0 {
			p.sink.Put(audiobuffer.NewChunk(buf[:n]))
			result.Chunks++
			result.Bytes += uint64(n)
			p.totalChunks++
			if p.observer != nil {
				p.observer.ChunkCaptured(n)
			}
			if onChunk != nil {
				onChunk()
			}
			if p.shouldLog(lastLog) {
				p.logProgress()
				lastLog = time.Now()
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return result, nil
		case ctx.Err() != nil:
			return result, nil
		default:
			return result, errors.New(err).
				Component("capture").
				Category(errors.CategoryCapture).
				Context("operation", "read_pcm").
				Context("session_bytes", result.Bytes).
				Build()
		}
	}
}

func (p *Producer) shouldLog(lastLog time.Time) bool {
	if p.cfg.LogEveryChunks > 0 && p.totalChunks%p.cfg.LogEveryChunks == 0 {
		return true
	}
	return p.cfg.LogInterval > 0 && time.Since(lastLog) > p.cfg.LogInterval
}

func (p *Producer) logProgress() {
	snap := p.sink.Snapshot()
	p.log.Info("buffer status",
		logger.Float64("fill_percent", snap.OccupancyFraction*100),
		logger.Int("chunks", snap.QueueLen),
		logger.Int("max_chunks", snap.MaxChunks),
		logger.Float64("size_mb", float64(snap.CurrentSize)/(1024*1024)),
		logger.Uint64("total_chunks_written", snap.ChunksWritten),
		logger.Uint64("total_mb_written", snap.BytesWritten/(1024*1024)))
}
