// Package httpserver exposes the relay over HTTP: the endless WAV stream, a
// JSON status document, a health probe, Prometheus metrics and an info page.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/observability"
	"github.com/tphakala/turntable-relay/internal/stream"
	"github.com/tphakala/turntable-relay/internal/wavstream"
)

// Deps are the collaborators the server reads from.
type Deps struct {
	Settings *conf.Settings
	Buffer   stream.Source
	// CaptureStatus reports the capture loop state, nil when capture is not running in-process
	CaptureStatus func() capture.Status
	// Metrics may be nil when metrics are disabled
	Metrics *observability.Metrics
	Log     logger.Logger
}

// Server wraps echo with the relay routes.
type Server struct {
	Echo *echo.Echo

	settings      *conf.Settings
	buffer        stream.Source
	captureStatus func() capture.Status
	metrics       *observability.Metrics
	log           logger.Logger

	format    wavstream.Format
	header    []byte
	listeners *semaphore.Weighted
	limiter   *rate.Limiter
	active    sync.WaitGroup
	// activeListeners mirrors the semaphore for reporting
	activeListeners atomic.Int64
	system          *systemStats
	started         time.Time

	// sessions is cancelled on Shutdown so stream handlers return
	sessions       context.Context
	cancelSessions context.CancelFunc
}

// New builds the server and registers its routes. It does not start listening.
func New(deps Deps) *Server {
	log := deps.Log
	if log == nil {
		log = logger.Global().Module("http")
	}
	settings := deps.Settings

	format := wavstream.Format{
		SampleRate: settings.Audio.SampleRate,
		Channels:   settings.Audio.Channels,
		BitDepth:   settings.Audio.BitDepth,
	}

	sessions, cancel := context.WithCancel(context.Background())
	s := &Server{
		Echo:           echo.New(),
		settings:       settings,
		buffer:         deps.Buffer,
		captureStatus:  deps.CaptureStatus,
		metrics:        deps.Metrics,
		log:            log,
		format:         format,
		header:         wavstream.Header(format),
		listeners:      semaphore.NewWeighted(int64(max(settings.Server.MaxListeners, 1))),
		limiter:        rate.NewLimiter(rate.Limit(settings.Server.ConnectRate), max(settings.Server.ConnectBurst, 1)),
		system:         newSystemStats(systemStatsTTL),
		started:        time.Now(),
		sessions:       sessions,
		cancelSessions: cancel,
	}

	s.Echo.HideBanner = true
	s.Echo.HidePort = true
	s.Echo.Logger.SetOutput(&echoLogAdapter{log: log})
	s.setupTemplateRenderer()
	s.configureMiddleware()
	s.initRoutes()
	return s
}

func (s *Server) initRoutes() {
	s.Echo.GET("/", s.handleInfo)
	s.Echo.GET("/stream", s.handleStream)
	s.Echo.GET("/stream.wav", s.handleStream)
	s.Echo.GET("/status", s.handleStatus)
	s.Echo.GET("/healthz", s.handleHealth)
	if s.metrics != nil && s.settings.Metrics.Enabled {
		path := s.settings.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		s.Echo.GET(path, echo.WrapHandler(s.metrics.Handler(s.log.Module("metrics"))))
	}
}

// Start listens on the configured address and serves until Shutdown. It
// returns nil after a clean shutdown.
func (s *Server) Start() error {
	addr := s.settings.Server.Address()
	s.log.Info("HTTP server starting",
		logger.String("address", addr),
		logger.Int("max_listeners", s.settings.Server.MaxListeners))
	if err := s.Echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.New(err).
			Component("http").
			Category(errors.CategoryNetwork).
			Context("address", addr).
			Build()
	}
	return nil
}

// Shutdown ends all stream sessions and stops the server, waiting for
// in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("HTTP server shutting down")
	s.cancelSessions()
	err := s.Echo.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	return err
}

// Run serves until ctx is cancelled, then shuts down within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case err := <-errCh:
		s.cancelSessions()
		return err
	case <-ctx.Done():
	}

	timeout := s.settings.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("HTTP server shutdown incomplete", logger.Error(err))
	}
	return <-errCh
}
