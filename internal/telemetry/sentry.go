// Package telemetry wires opt-in Sentry error reporting. Events are stripped
// of host identity and scrubbed of URLs, secrets and Bluetooth addresses
// before they leave the process.
package telemetry

import (
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/turntable-relay/internal/buildinfo"
	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/privacy"
)

const flushTimeout = 2 * time.Second

// Init starts the Sentry SDK and routes enhanced errors to it. It returns a
// flush function to run at shutdown; with telemetry disabled both are no-ops.
func Init(settings conf.TelemetrySettings, info buildinfo.Context, log logger.Logger) (func(), error) {
	if !settings.Enabled {
		return func() {}, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		SampleRate:       1.0,
		AttachStacktrace: false,
		Environment:      "production",
		ServerName:       "", // no hostname leakage
		Release:          info.Release(),
		BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
			return applyPrivacyFilters(event)
		},
	})
	if err != nil {
		return nil, errors.New(err).
			Component("telemetry").
			Category(errors.CategoryConfiguration).
			Context("operation", "sentry_init").
			Build()
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(true))
	if log != nil {
		log.Info("error telemetry enabled", logger.String("release", info.Release()))
	}

	return func() {
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters removes host identity and scrubs free text.
func applyPrivacyFilters(event *sentry.Event) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""

	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
		delete(event.Contexts, "runtime")
	}

	for k := range event.Extra {
		if k != "error_type" && k != "component" {
			delete(event.Extra, k)
		}
	}

	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}

	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	for i := range event.Breadcrumbs {
		event.Breadcrumbs[i].Message = privacy.ScrubMessage(event.Breadcrumbs[i].Message)
	}

	return event
}
