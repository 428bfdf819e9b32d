package httpserver

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tphakala/turntable-relay/internal/logger"
)

// echoLogAdapter adapts Logger to the io.Writer echo logs to.
type echoLogAdapter struct {
	log logger.Logger
}

func (a *echoLogAdapter) Write(p []byte) (int, error) {
	if msg := strings.TrimSpace(string(p)); msg != "" {
		a.log.Info(msg)
	}
	return len(p), nil
}

// newRequestID returns a short request identifier.
func newRequestID() string {
	return uuid.New().String()[:8]
}

func (s *Server) configureMiddleware() {
	s.Echo.Use(middleware.Recover())
	s.Echo.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: newRequestID,
	}))
	s.Echo.Use(s.requestLogger())
}

// requestLogger logs every finished request and records HTTP metrics. For the
// stream routes the request finishes when the listener disconnects.
func (s *Server) requestLogger() echo.MiddlewareFunc {
	httpLog := s.log.Module("request")

	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:          true,
		LogStatus:       true,
		LogLatency:      true,
		LogRemoteIP:     true,
		LogMethod:       true,
		LogError:        true,
		LogResponseSize: true,
		LogRequestID:    true,
		HandleError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if s.metrics != nil {
				s.metrics.HTTP.RecordRequest(v.Method, routeLabel(c), v.Status, v.Latency)
			}

			fields := []logger.Field{
				logger.String("remote_ip", v.RemoteIP),
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Float64("latency_ms", float64(v.Latency)/float64(time.Millisecond)),
			}
			if v.RequestID != "" {
				fields = append(fields, logger.String("request_id", v.RequestID))
			}
			if v.ResponseSize > 0 {
				fields = append(fields, logger.Int64("resp_size", v.ResponseSize))
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}

			msg := v.Method + " " + v.URI
			switch {
			case v.Status >= 500:
				httpLog.Error(msg, fields...)
			case v.Status >= 400:
				httpLog.Warn(msg, fields...)
			case isStreamRoute(c):
				httpLog.Info(msg, fields...)
			default:
				httpLog.Debug(msg, fields...)
			}
			return nil
		},
	})
}

// routeLabel is the matched route pattern, bounded for metric cardinality.
func routeLabel(c echo.Context) string {
	if p := c.Path(); p != "" {
		return p
	}
	return "unmatched"
}

func isStreamRoute(c echo.Context) bool {
	return strings.HasPrefix(c.Path(), "/stream")
}
