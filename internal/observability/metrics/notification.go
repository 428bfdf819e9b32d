package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// NotificationMetrics tracks alert delivery.
type NotificationMetrics struct {
	DeliveriesTotal  *prometheus.CounterVec   // by service, event, status
	DeliveryDuration *prometheus.HistogramVec // by service

	registry *prometheus.Registry
}

// NewNotificationMetrics creates and registers notification metrics.
func NewNotificationMetrics(registry *prometheus.Registry) (*NotificationMetrics, error) {
	m := &NotificationMetrics{registry: registry}
	m.DeliveriesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "notification_deliveries_total",
		Help:      "Alert deliveries by service, event and status",
	}, []string{"service", "event", "status"})
	m.DeliveryDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "notification_delivery_duration_seconds",
		Help:      "Time taken to deliver an alert",
		Buckets:   prometheus.DefBuckets,
	}, []string{"service"})

	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register notification metrics: %w", err)
	}
	return m, nil
}

// RecordDelivery records one delivery attempt.
func (m *NotificationMetrics) RecordDelivery(service, event, status string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(service, event, status).Inc()
	m.DeliveryDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// Describe implements the prometheus.Collector interface.
func (m *NotificationMetrics) Describe(ch chan<- *prometheus.Desc) {
	m.DeliveriesTotal.Describe(ch)
	m.DeliveryDuration.Describe(ch)
}

// Collect implements the prometheus.Collector interface.
func (m *NotificationMetrics) Collect(ch chan<- prometheus.Metric) {
	m.DeliveriesTotal.Collect(ch)
	m.DeliveryDuration.Collect(ch)
}
