// Package metrics provides Prometheus metrics for the relay components.
package metrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tphakala/turntable-relay/internal/audiobuffer"
)

const namespace = "turntable"

// RelayMetrics covers the audio path: buffer, capture and listener sessions.
// It implements the observer interfaces of audiobuffer, capture and stream.
type RelayMetrics struct {
	registry *prometheus.Registry

	// capture
	chunksCaptured  prometheus.Counter
	bytesCaptured   prometheus.Counter
	captureRestarts *prometheus.CounterVec
	captureRunning  prometheus.Gauge

	// listeners
	listenersActive prometheus.Gauge
	sessionsTotal   *prometheus.CounterVec
	chunksSent      prometheus.Counter
	bytesSent       prometheus.Counter
	underruns       prometheus.Counter

	// buffer, collected at scrape time from the snapshot provider
	readinessTransitions *prometheus.CounterVec
	overflows            prometheus.Counter
	bufferBytesDesc      *prometheus.Desc
	bufferChunksDesc     *prometheus.Desc
	bufferOccupancyDesc  *prometheus.Desc
	bufferReadyDesc      *prometheus.Desc
	bytesTotalDesc       *prometheus.Desc
	chunksTotalDesc      *prometheus.Desc

	mu       sync.RWMutex
	snapshot func() audiobuffer.Snapshot
}

// NewRelayMetrics creates and registers relay metrics.
func NewRelayMetrics(registry *prometheus.Registry) (*RelayMetrics, error) {
	m := &RelayMetrics{registry: registry}
	m.initMetrics()
	if err := registry.Register(m); err != nil {
		return nil, fmt.Errorf("failed to register relay metrics: %w", err)
	}
	return m, nil
}

func (m *RelayMetrics) initMetrics() {
	m.chunksCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_chunks_total",
		Help:      "Chunks read from the capture source",
	})
	m.bytesCaptured = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_bytes_total",
		Help:      "PCM bytes read from the capture source",
	})
	m.captureRestarts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "capture_restarts_total",
		Help:      "Capture source restarts by outcome of the previous session",
	}, []string{"source", "result"}) // result: ended, failed
	m.captureRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "capture_running",
		Help:      "1 while a capture session is producing audio",
	})

	m.listenersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "stream_listeners",
		Help:      "Currently connected stream listeners",
	})
	m.sessionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_sessions_total",
		Help:      "Finished stream sessions by outcome",
	}, []string{"outcome"}) // outcome: disconnected, error, rejected
	m.chunksSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_chunks_sent_total",
		Help:      "Chunks written to listeners",
	})
	m.bytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_bytes_sent_total",
		Help:      "Audio bytes written to listeners, excluding headers",
	})
	m.underruns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stream_underruns_total",
		Help:      "Times a listener found the buffer empty",
	})

	m.readinessTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_readiness_transitions_total",
		Help:      "Prebuffer gate transitions",
	}, []string{"state"}) // state: ready, not_ready

	m.overflows = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "buffer_overflows_total",
		Help:      "Writes that had to evict old chunks because no listener was draining the buffer",
	})

	m.bufferBytesDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "bytes"),
		"Bytes currently queued", nil, nil)
	m.bufferChunksDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "chunks"),
		"Chunks currently queued", nil, nil)
	m.bufferOccupancyDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "occupancy_ratio"),
		"Queued bytes over the byte budget, may exceed 1", nil, nil)
	m.bufferReadyDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "prebuffered"),
		"1 when the buffer has reached the prebuffer threshold", nil, nil)
	m.bytesTotalDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "bytes_total"),
		"Bytes moved through the buffer by operation", []string{"op"}, nil) // op: written, read, evicted
	m.chunksTotalDesc = prometheus.NewDesc(prometheus.BuildFQName(namespace, "buffer", "chunks_total"),
		"Chunks moved through the buffer by operation", []string{"op"}, nil)
}

// SetBufferSource sets the snapshot provider read on every scrape.
func (m *RelayMetrics) SetBufferSource(fn func() audiobuffer.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = fn
}

// ChunksEvicted implements audiobuffer.Observer. Evicted totals come from the
// buffer stats at scrape time; this counts the overflow events.
func (m *RelayMetrics) ChunksEvicted(int, int) {
	m.overflows.Inc()
}

// ReadinessChanged implements audiobuffer.Observer.
func (m *RelayMetrics) ReadinessChanged(ready bool) {
	state := "not_ready"
	if ready {
		state = "ready"
	}
	m.readinessTransitions.WithLabelValues(state).Inc()
}

// ChunkCaptured implements capture.Observer.
func (m *RelayMetrics) ChunkCaptured(bytes int) {
	m.chunksCaptured.Inc()
	m.bytesCaptured.Add(float64(bytes))
}

// CaptureRestarted implements capture.Observer.
func (m *RelayMetrics) CaptureRestarted(source string, failed bool) {
	result := "ended"
	if failed {
		result = "failed"
	}
	m.captureRestarts.WithLabelValues(source, result).Inc()
}

// CaptureRunning implements capture.Observer.
func (m *RelayMetrics) CaptureRunning(running bool) {
	if running {
		m.captureRunning.Set(1)
	} else {
		m.captureRunning.Set(0)
	}
}

// ChunkSent implements stream.Observer.
func (m *RelayMetrics) ChunkSent(bytes int) {
	m.chunksSent.Inc()
	m.bytesSent.Add(float64(bytes))
}

// Underrun implements stream.Observer.
func (m *RelayMetrics) Underrun() {
	m.underruns.Inc()
}

// ListenerConnected marks a session start.
func (m *RelayMetrics) ListenerConnected() {
	m.listenersActive.Inc()
}

// ListenerDisconnected marks a session end with its outcome.
func (m *RelayMetrics) ListenerDisconnected(outcome string) {
	m.listenersActive.Dec()
	m.sessionsTotal.WithLabelValues(outcome).Inc()
}

// ListenerRejected counts a stream request turned away before it started.
func (m *RelayMetrics) ListenerRejected() {
	m.sessionsTotal.WithLabelValues("rejected").Inc()
}

// Describe implements prometheus.Collector.
func (m *RelayMetrics) Describe(ch chan<- *prometheus.Desc) {
	ch <- m.chunksCaptured.Desc()
	ch <- m.bytesCaptured.Desc()
	m.captureRestarts.Describe(ch)
	ch <- m.captureRunning.Desc()
	ch <- m.listenersActive.Desc()
	m.sessionsTotal.Describe(ch)
	ch <- m.chunksSent.Desc()
	ch <- m.bytesSent.Desc()
	ch <- m.underruns.Desc()
	m.readinessTransitions.Describe(ch)
	ch <- m.overflows.Desc()
	ch <- m.bufferBytesDesc
	ch <- m.bufferChunksDesc
	ch <- m.bufferOccupancyDesc
	ch <- m.bufferReadyDesc
	ch <- m.bytesTotalDesc
	ch <- m.chunksTotalDesc
}

// Collect implements prometheus.Collector.
func (m *RelayMetrics) Collect(ch chan<- prometheus.Metric) {
	ch <- m.chunksCaptured
	ch <- m.bytesCaptured
	m.captureRestarts.Collect(ch)
	ch <- m.captureRunning
	ch <- m.listenersActive
	m.sessionsTotal.Collect(ch)
	ch <- m.chunksSent
	ch <- m.bytesSent
	ch <- m.underruns
	m.readinessTransitions.Collect(ch)
	ch <- m.overflows

	m.mu.RLock()
	snapshotFn := m.snapshot
	m.mu.RUnlock()
	if snapshotFn == nil {
		return
	}
	snap := snapshotFn()

	ready := 0.0
	if snap.IsPrebuffered {
		ready = 1
	}
	ch <- prometheus.MustNewConstMetric(m.bufferBytesDesc, prometheus.GaugeValue, float64(snap.CurrentSize))
	ch <- prometheus.MustNewConstMetric(m.bufferChunksDesc, prometheus.GaugeValue, float64(snap.QueueLen))
	ch <- prometheus.MustNewConstMetric(m.bufferOccupancyDesc, prometheus.GaugeValue, snap.OccupancyFraction)
	ch <- prometheus.MustNewConstMetric(m.bufferReadyDesc, prometheus.GaugeValue, ready)

	for op, v := range map[string]uint64{"written": snap.BytesWritten, "read": snap.BytesRead, "evicted": snap.BytesEvicted} {
		ch <- prometheus.MustNewConstMetric(m.bytesTotalDesc, prometheus.CounterValue, float64(v), op)
	}
	for op, v := range map[string]uint64{"written": snap.ChunksWritten, "read": snap.ChunksRead, "evicted": snap.ChunksEvicted} {
		ch <- prometheus.MustNewConstMetric(m.chunksTotalDesc, prometheus.CounterValue, float64(v), op)
	}
}
