package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/stream"
)

const bytesPerMiB = 1024 * 1024

// StatusResponse is the /status document. The first block of fields keeps the
// names existing dashboards scrape.
type StatusResponse struct {
	BufferFillPercentage float64 `json:"buffer_fill_percentage"`
	BufferSizeMB         float64 `json:"buffer_size_mb"`
	MaxBufferMB          int     `json:"max_buffer_mb"`
	ChunksInBuffer       int     `json:"chunks_in_buffer"`
	MaxChunks            int     `json:"max_chunks"`
	TotalBytesWritten    uint64  `json:"total_bytes_written"`
	TotalBytesRead       uint64  `json:"total_bytes_read"`
	TotalChunksWritten   uint64  `json:"total_chunks_written"`
	TotalChunksRead      uint64  `json:"total_chunks_read"`
	Prebuffered          bool    `json:"prebuffered"`
	Server               string  `json:"server"`

	PrebufferChunks int             `json:"prebuffer_chunks"`
	ChunksEvicted   uint64          `json:"total_chunks_evicted"`
	BytesEvicted    uint64          `json:"total_bytes_evicted"`
	BufferedSeconds float64         `json:"buffered_seconds"`
	Listeners       int64           `json:"listeners"`
	MaxListeners    int             `json:"max_listeners"`
	UptimeSeconds   float64         `json:"uptime_seconds"`
	Capture         *capture.Status `json:"capture,omitempty"`
	System          SystemInfo      `json:"system"`
}

// HealthResponse is the /healthz document.
type HealthResponse struct {
	Status       string `json:"status"`
	Capture      string `json:"capture"`
	BufferChunks int    `json:"buffer_chunks"`
}

// Status assembles the /status document.
func (s *Server) Status() StatusResponse {
	snap := s.buffer.Snapshot()

	resp := StatusResponse{
		BufferFillPercentage: snap.OccupancyFraction * 100,
		BufferSizeMB:         float64(snap.CurrentSize) / bytesPerMiB,
		MaxBufferMB:          s.settings.Buffer.SizeMB,
		ChunksInBuffer:       snap.QueueLen,
		MaxChunks:            snap.MaxChunks,
		TotalBytesWritten:    snap.BytesWritten,
		TotalBytesRead:       snap.BytesRead,
		TotalChunksWritten:   snap.ChunksWritten,
		TotalChunksRead:      snap.ChunksRead,
		Prebuffered:          snap.IsPrebuffered,
		Server:               "running",

		PrebufferChunks: snap.PrebufferChunks,
		ChunksEvicted:   snap.ChunksEvicted,
		BytesEvicted:    snap.BytesEvicted,
		BufferedSeconds: s.format.Duration(snap.CurrentSize).Seconds(),
		Listeners:       s.activeListeners.Load(),
		MaxListeners:    s.settings.Server.MaxListeners,
		UptimeSeconds:   time.Since(s.started).Seconds(),
		System:          s.system.Get(),
	}
	if s.captureStatus != nil {
		st := s.captureStatus()
		resp.Capture = &st
	}
	return resp
}

func (s *Server) handleStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, s.Status())
}

func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Capture: "unknown", BufferChunks: s.buffer.Snapshot().QueueLen}
	healthy := resp.BufferChunks > 0
	if s.captureStatus != nil {
		st := s.captureStatus()
		resp.Capture = string(st.State)
		healthy = healthy && st.State == capture.StateRunning
	}
	if !healthy {
		resp.Status = "degraded"
		return c.JSON(http.StatusServiceUnavailable, resp)
	}
	return c.JSON(http.StatusOK, resp)
}

// handleStream delivers the endless WAV stream to one listener.
func (s *Server) handleStream(c echo.Context) error {
	if !s.limiter.Allow() {
		s.recordRejection("rate_limit")
		return echo.NewHTTPError(http.StatusTooManyRequests, "too many stream connections, retry shortly")
	}
	if !s.listeners.TryAcquire(1) {
		s.recordRejection("listener_limit")
		return echo.NewHTTPError(http.StatusServiceUnavailable, "listener limit reached")
	}
	defer s.listeners.Release(1)

	s.active.Add(1)
	defer s.active.Done()
	s.activeListeners.Add(1)
	defer s.activeListeners.Add(-1)

	// the session ends when the client goes away or the server shuts down
	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	stop := context.AfterFunc(s.sessions, cancel)
	defer stop()

	reqLog := s.log.Module("stream").With(
		logger.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		logger.String("remote_ip", c.RealIP()))
	reqLog.Info("listener connected")

	var observer stream.Observer
	if s.metrics != nil {
		s.metrics.Relay.ListenerConnected()
		observer = s.metrics.Relay
	}

	session := stream.NewSession(s.buffer, s.streamConfig(), s.header, reqLog, observer)
	session.WaitStartup(ctx)

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "audio/wav")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set(echo.HeaderConnection, "close")
	res.WriteHeader(http.StatusOK)

	err := session.Run(ctx, res)

	chunks, bytes, underruns := session.Totals()
	outcome := "disconnected"
	if err != nil {
		outcome = "error"
	}
	if s.metrics != nil {
		s.metrics.Relay.ListenerDisconnected(outcome)
	}
	reqLog.Info("listener disconnected",
		logger.String("outcome", outcome),
		logger.Uint64("chunks_sent", chunks),
		logger.Uint64("bytes_sent", bytes),
		logger.Uint64("underruns", underruns))

	// a failed write means the client is gone; the response is already committed
	if err != nil {
		reqLog.Debug("stream write failed", logger.Error(err))
	}
	return nil
}

func (s *Server) recordRejection(reason string) {
	if s.metrics == nil {
		return
	}
	s.metrics.HTTP.RecordRejection(reason)
	s.metrics.Relay.ListenerRejected()
}

func (s *Server) streamConfig() stream.Config {
	st := s.settings.Stream
	return stream.Config{
		StartupTimeout: st.StartupTimeout,
		RefillTimeout:  st.RefillTimeout,
		RetryDelay:     st.RetryDelay,
		LogEveryChunks: uint64(max(st.LogEveryChunks, 0)),
		LogInterval:    st.LogInterval,
	}
}
