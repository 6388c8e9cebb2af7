package monitoring

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dialer"

// Metrics are the pipeline's Prometheus instruments, registered on a
// private registry so tests can create as many as they need.
type Metrics struct {
	Registry *prometheus.Registry

	BatchesPopulated   *prometheus.CounterVec
	AccountsPopulated  *prometheus.CounterVec
	RecordsConstructed *prometheus.CounterVec
	ContactsSent       *prometheus.CounterVec
	ContactsDropped    *prometheus.CounterVec
	ChunksSent         *prometheus.CounterVec
	SendFailures       *prometheus.CounterVec
	DeadLetterDepth    prometheus.Gauge
	Callbacks          *prometheus.CounterVec
	SweepCalls         prometheus.Counter
	SweepFailures      prometheus.Counter
	PhaseDuration      *prometheus.HistogramVec
}

// NewMetrics creates and registers every instrument.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		BatchesPopulated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "batches_populated_total",
			Help: "Batches written to the scratch store.",
		}, []string{"rank"}),
		AccountsPopulated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "accounts_populated_total",
			Help: "Eligible accounts assigned to batches.",
		}, []string{"rank"}),
		RecordsConstructed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "records_constructed_total",
			Help: "Records upserted into the constructed table.",
		}, []string{"rank"}),
		ContactsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "contacts_sent_total",
			Help: "Contacts submitted to the dialer vendor.",
		}, []string{"rank"}),
		ContactsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "contacts_dropped_total",
			Help: "Records dropped before sending, by reason.",
		}, []string{"reason"}),
		ChunksSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "chunks_sent_total",
			Help: "Send chunks accepted by the vendor.",
		}, []string{"rank"}),
		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "send_failures_total",
			Help: "Send chunks that were dead-lettered.",
		}, []string{"rank", "error_type"}),
		DeadLetterDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "dead_letter_depth",
			Help: "Entries in the dead-letter table.",
		}),
		Callbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "callbacks_total",
			Help: "Vendor callbacks received, by outcome.",
		}, []string{"outcome"}),
		SweepCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_calls_total",
			Help: "Call results written by the sweep.",
		}),
		SweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sweep_window_failures_total",
			Help: "Sweep sub-windows that exhausted their retries.",
		}),
		PhaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Name: "phase_duration_seconds",
			Help:    "Wall time of pipeline phases.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"phase"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.BatchesPopulated, m.AccountsPopulated, m.RecordsConstructed,
		m.ContactsSent, m.ContactsDropped, m.ChunksSent, m.SendFailures,
		m.DeadLetterDepth, m.Callbacks, m.SweepCalls, m.SweepFailures,
		m.PhaseDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
