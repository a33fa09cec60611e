package session

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/resident-x/go-v2blocks/internal/codec"
	"github.com/resident-x/go-v2blocks/internal/validation"
)

// Metrics holds the Prometheus collectors updated by sessions. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	blocksTotal    *prometheus.CounterVec
	decodeDuration *prometheus.HistogramVec
	payloadBytes   prometheus.Counter
	findingsTotal  *prometheus.CounterVec
	sessionsActive prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		blocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2blocks",
			Name:      "blocks_ingested_total",
			Help:      "Blocks ingested by block id and outcome kind.",
		}, []string{"block", "result"}),
		decodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "v2blocks",
			Name:      "decode_duration_seconds",
			Help:      "Histogram of block decode durations.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		}, []string{"block"}),
		payloadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "v2blocks",
			Name:      "payload_bytes_total",
			Help:      "Total payload bytes ingested.",
		}),
		findingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "v2blocks",
			Name:      "validation_findings_total",
			Help:      "Validation findings by severity.",
		}, []string{"severity"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "v2blocks",
			Name:      "sessions_active",
			Help:      "Number of live telemetry sessions.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.blocksTotal,
			m.decodeDuration,
			m.payloadBytes,
			m.findingsTotal,
			m.sessionsActive,
		)
	}
	return m
}

func (m *Metrics) observeIngest(blockID uint16, size int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	block := strconv.Itoa(int(blockID))
	m.blocksTotal.WithLabelValues(block, codec.Kind(err)).Inc()
	m.decodeDuration.WithLabelValues(block).Observe(elapsed.Seconds())
	m.payloadBytes.Add(float64(size))
}

func (m *Metrics) observeFindings(findings []*validation.ValidationError) {
	if m == nil {
		return
	}
	for _, f := range findings {
		m.findingsTotal.WithLabelValues(f.Severity).Inc()
	}
}

func (m *Metrics) setSessions(n int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(n))
}
