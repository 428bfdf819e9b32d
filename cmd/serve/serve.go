// Package serve runs the relay: capture, buffer, HTTP listeners and the
// optional MQTT publisher, until SIGINT or SIGTERM.
package serve

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
	"github.com/tphakala/turntable-relay/internal/buildinfo"
	"github.com/tphakala/turntable-relay/internal/capture"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/httpserver"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/mqtt"
	"github.com/tphakala/turntable-relay/internal/notification"
	"github.com/tphakala/turntable-relay/internal/observability"
	"github.com/tphakala/turntable-relay/internal/telemetry"
)

const notifierDrainTimeout = 5 * time.Second

// Command creates the serve command.
func Command(settings *conf.Settings, info buildinfo.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Capture audio and serve it to HTTP listeners",
		Long:  "Start the capture loop and the HTTP server. This is the default when no subcommand is given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return Run(cmd.Context(), settings, info)
		},
	}

	cmd.Flags().Int("port", 0, "HTTP listen port")
	cmd.Flags().String("mac", "", "Bluetooth MAC address of the turntable")
	cmd.Flags().String("backend", "", "Capture backend (bluealsa, command, device)")
	for key, flag := range map[string]string{
		"server.port":           "port",
		"capture.bluetooth.mac": "mac",
		"capture.backend":       "backend",
	} {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	return cmd
}

// Run wires every component and blocks until ctx or a signal ends it, or
// capture gives up after its retry limit.
func Run(ctx context.Context, settings *conf.Settings, info buildinfo.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	central := logger.Global()
	log := central.Module("main")
	log.Info("starting turntable-relay", logger.String("version", info.Version))

	flush, err := telemetry.Init(settings.Telemetry, info, central.Module("telemetry"))
	if err != nil {
		return err
	}
	defer flush()

	m, err := observability.NewMetrics()
	if err != nil {
		return err
	}

	buf, err := audiobuffer.New(audiobuffer.Config{
		MaxChunks:       settings.Buffer.MaxChunks(),
		PrebufferChunks: settings.Buffer.PrebufferChunks(),
		BudgetBytes:     settings.Buffer.BudgetBytes(),
	}, audiobuffer.WithObserver(m.Relay))
	if err != nil {
		return err
	}
	m.Relay.SetBufferSource(buf.Snapshot)

	captureLog := central.Module("capture")
	src, err := capture.NewSource(settings, captureLog)
	if err != nil {
		return err
	}

	notifier, err := notification.New(settings.Notification, m.Notification, central.Module("notification"))
	if err != nil {
		return err
	}

	producer := capture.NewProducer(buf, capture.ProducerConfigFromSettings(settings), captureLog, m.Relay)
	supervisor := capture.NewSupervisor(src, producer, capture.PolicyFromSettings(settings.Capture), captureLog,
		capture.WithCaptureObserver(m.Relay),
		capture.WithFailureHook(notifier.CaptureFailed),
		capture.WithRecoverHook(notifier.CaptureRecovered),
	)

	server := httpserver.New(httpserver.Deps{
		Settings:      settings,
		Buffer:        buf,
		CaptureStatus: supervisor.Status,
		Metrics:       m,
		Log:           central.Module("http"),
	})

	log.Info("relay configured",
		logger.String("source", src.Name()),
		logger.Int("max_chunks", settings.Buffer.MaxChunks()),
		logger.Int("prebuffer_chunks", settings.Buffer.PrebufferChunks()),
		logger.Int("budget_bytes", settings.Buffer.BudgetBytes()),
		logger.Bool("notifications", notifier.Enabled()),
		logger.Bool("mqtt", settings.MQTT.Enabled))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return supervisor.Run(gctx) })
	g.Go(func() error { return server.Run(gctx) })

	if settings.MQTT.Enabled {
		mqttLog := central.Module("mqtt")
		mqttCfg := mqtt.ConfigFromSettings(settings.MQTT)
		publisher := mqtt.NewPublisher(mqtt.NewClient(mqttCfg, m.MQTT, mqttLog), mqttCfg,
			func() any { return server.Status() }, mqttLog)
		g.Go(func() error { return publisher.Run(gctx) })
	}

	err = g.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), notifierDrainTimeout)
	defer cancel()
	if cerr := notifier.Close(drainCtx); cerr != nil {
		log.Warn("pending notifications dropped", logger.Error(cerr))
	}

	if err != nil {
		log.Error("relay stopped with error", logger.Error(err))
		return err
	}
	log.Info("relay stopped")
	return nil
}
