// Package notification sends capture outage alerts through shoutrrr
// service URLs (ntfy, Gotify, Telegram, Discord and friends).
package notification

import (
	"context"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/tphakala/turntable-relay/internal/conf"
	"github.com/tphakala/turntable-relay/internal/errors"
	"github.com/tphakala/turntable-relay/internal/logger"
	"github.com/tphakala/turntable-relay/internal/observability/metrics"
	"github.com/tphakala/turntable-relay/internal/privacy"
)

const (
	serviceName = "shoutrrr"

	EventCaptureFailed    = "capture_failed"
	EventCaptureRecovered = "capture_recovered"

	defaultTimeout          = 10 * time.Second
	defaultFailureThreshold = 3
)

// Sender delivers one message to every configured service.
type Sender interface {
	Send(message string, params *stypes.Params) []error
}

// Notifier raises one alert when capture keeps failing and one when it
// recovers. A Notifier without URLs is disabled and all calls are no-ops.
type Notifier struct {
	sender    Sender
	threshold int
	hostname  string
	metrics   *metrics.NotificationMetrics
	log       logger.Logger

	mu      sync.Mutex
	alerted bool
	wg      sync.WaitGroup
}

// New builds a Notifier from settings. m may be nil.
func New(settings conf.NotificationSettings, m *metrics.NotificationMetrics, log logger.Logger) (*Notifier, error) {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	if len(settings.URLs) == 0 {
		return &Notifier{log: log}, nil
	}

	router, err := shoutrrr.CreateSender(settings.URLs...)
	if err != nil {
		// shoutrrr errors echo the URL, tokens included
		return nil, errors.New(privacy.WrapError(err)).
			Component("notification").
			Category(errors.CategoryConfiguration).
			Context("url_count", len(settings.URLs)).
			Build()
	}
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	router.Timeout = timeout
	router.SetLogger(stdlog.New(io.Discard, "", 0))

	return NewWithSender(router, settings, m, log), nil
}

// NewWithSender builds an enabled Notifier around an existing sender.
func NewWithSender(sender Sender, settings conf.NotificationSettings, m *metrics.NotificationMetrics, log logger.Logger) *Notifier {
	if log == nil {
		log = logger.Global().Module("notification")
	}
	threshold := settings.FailureThreshold
	if threshold <= 0 {
		threshold = defaultFailureThreshold
	}
	hostname, _ := os.Hostname()
	return &Notifier{
		sender:    sender,
		threshold: threshold,
		hostname:  hostname,
		metrics:   m,
		log:       log,
	}
}

// Enabled reports whether any service is configured.
func (n *Notifier) Enabled() bool {
	return n.sender != nil
}

// CaptureFailed alerts once consecutive failures reach the threshold.
// Later failures of the same outage are silent.
func (n *Notifier) CaptureFailed(err error, attempts int) {
	if !n.Enabled() || attempts < n.threshold {
		return
	}

	n.mu.Lock()
	if n.alerted {
		n.mu.Unlock()
		return
	}
	n.alerted = true
	n.mu.Unlock()

	reason := "unknown error"
	if err != nil {
		reason = privacy.ScrubMessage(err.Error())
	}
	n.send(EventCaptureFailed,
		"Turntable relay: capture down",
		fmt.Sprintf("Audio capture on %s failed %d times in a row: %s", n.host(), attempts, reason))
}

// CaptureRecovered sends the all-clear if an outage alert went out.
func (n *Notifier) CaptureRecovered() {
	if !n.Enabled() {
		return
	}

	n.mu.Lock()
	if !n.alerted {
		n.mu.Unlock()
		return
	}
	n.alerted = false
	n.mu.Unlock()

	n.send(EventCaptureRecovered,
		"Turntable relay: capture recovered",
		fmt.Sprintf("Audio capture on %s is running again.", n.host()))
}

// Close waits for in-flight deliveries or ctx, whichever ends first.
func (n *Notifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) host() string {
	if n.hostname == "" {
		return "relay"
	}
	return n.hostname
}

// send delivers asynchronously so capture restarts never wait on a webhook.
func (n *Notifier) send(event, title, message string) {
	n.wg.Go(func() {
		start := time.Now()
		params := stypes.Params{}
		params.SetTitle(title)

		err := firstError(n.sender.Send(message, &params))
		status := "success"
		if err != nil {
			status = "error"
			n.log.Warn("notification delivery failed",
				logger.String("event", event),
				logger.Error(privacy.WrapError(err)))
		} else {
			n.log.Info("notification sent", logger.String("event", event))
		}
		if n.metrics != nil {
			n.metrics.RecordDelivery(serviceName, event, status, time.Since(start))
		}
	})
}

func firstError(errs []error) error {
	var msgs []string
	var first error
	for _, e := range errs {
		if e == nil {
			continue
		}
		if first == nil {
			first = e
		}
		msgs = append(msgs, e.Error())
	}
	if len(msgs) > 1 {
		return errors.NewStd(strings.Join(msgs, "; "))
	}
	return first
}
