package httpserver

import (
	"bytes"
	"embed"
	"html/template"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	gbytes "github.com/labstack/gommon/bytes"

	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

// TemplateRenderer renders embedded html/templates for echo.
type TemplateRenderer struct {
	templates *template.Template
	log       logger.Logger
}

// Render executes into a buffer first so a failing template does not send a partial page.
func (t *TemplateRenderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	var buf bytes.Buffer
	if err := t.templates.ExecuteTemplate(&buf, name, data); err != nil {
		t.log.Error("template execution failed", logger.String("template", name), logger.Error(err))
		return err
	}
	_, err := buf.WriteTo(w)
	return err
}

func (s *Server) setupTemplateRenderer() {
	s.Echo.Renderer = &TemplateRenderer{
		templates: template.Must(template.ParseFS(templateFS, "templates/*.html")),
		log:       s.log,
	}
}

// infoPage is the data behind the index template.
type infoPage struct {
	StreamURL       string
	MetricsPath     string
	FillPercent     float64
	BufferSize      string
	BufferBudget    string
	Chunks          int
	MaxChunks       int
	PrebufferChunks int
	Prebuffered     bool
	BufferedSeconds float64
	Written         string
	Read            string
	Evicted         string
	Listeners       int64
	MaxListeners    int
	Capture         *capture.Status
	SampleRate      int
	Channels        int
	BitDepth        int
}

func (s *Server) handleInfo(c echo.Context) error {
	status := s.Status()

	page := infoPage{
		StreamURL:       c.Scheme() + "://" + c.Request().Host + "/stream",
		FillPercent:     status.BufferFillPercentage,
		BufferSize:      gbytes.Format(int64(status.BufferSizeMB * bytesPerMiB)),
		BufferBudget:    gbytes.Format(int64(s.settings.Buffer.BudgetBytes())),
		Chunks:          status.ChunksInBuffer,
		MaxChunks:       status.MaxChunks,
		PrebufferChunks: status.PrebufferChunks,
		Prebuffered:     status.Prebuffered,
		BufferedSeconds: status.BufferedSeconds,
		Written:         gbytes.Format(int64(status.TotalBytesWritten)), //nolint:gosec // byte totals stay far below MaxInt64
		Read:            gbytes.Format(int64(status.TotalBytesRead)),    //nolint:gosec // byte totals stay far below MaxInt64
		Evicted:         gbytes.Format(int64(status.BytesEvicted)),      //nolint:gosec // byte totals stay far below MaxInt64
		Listeners:       status.Listeners,
		MaxListeners:    status.MaxListeners,
		Capture:         status.Capture,
		SampleRate:      s.format.SampleRate,
		Channels:        s.format.Channels,
		BitDepth:        s.format.BitDepth,
	}
	if s.metrics != nil && s.settings.Metrics.Enabled {
		page.MetricsPath = s.settings.Metrics.Path
	}
	return c.Render(http.StatusOK, "index", page)
}
