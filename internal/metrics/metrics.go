package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the relay loop.
type Metrics struct {
	windowsScanned prometheus.Counter
	eventsFound    prometheus.Counter
	actions        *prometheus.CounterVec
	alertsSent     prometheus.Counter
	alertsDropped  prometheus.Counter
	errors         *prometheus.CounterVec
	watermark      prometheus.Gauge
	sourceHead     prometheus.Gauge
	phase          prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = New(prometheus.DefaultRegisterer)
	})
	return metrics
}

// New creates and registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		windowsScanned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_windows_scanned_total",
			Help: "Total number of scan windows fully read from the source ledger",
		}),
		eventsFound: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_events_found_total",
			Help: "Total number of TokensLocked events found in scanned windows",
		}),
		actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_actions_total",
			Help: "Per-event action results by outcome (accepted, rejected, unknown, ignored, skipped)",
		}, []string{"outcome"}),
		alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_alerts_sent_total",
			Help: "Total number of alerts delivered",
		}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_relay_alerts_dropped_total",
			Help: "Total number of alerts that failed delivery",
		}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_relay_errors_total",
			Help: "Total number of cycle errors by class",
		}, []string{"class"}),
		watermark: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_relay_watermark",
			Help: "Highest committed source height",
		}),
		sourceHead: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_relay_source_head",
			Help: "Last observed source ledger head height",
		}),
		phase: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_relay_phase",
			Help: "Current relay engine phase as its numeric value",
		}),
	}
	reg.MustRegister(
		m.windowsScanned,
		m.eventsFound,
		m.actions,
		m.alertsSent,
		m.alertsDropped,
		m.errors,
		m.watermark,
		m.sourceHead,
		m.phase,
	)
	return m
}

// WindowScanned increments the scanned windows counter.
func (m *Metrics) WindowScanned() {
	if m != nil {
		m.windowsScanned.Inc()
	}
}

// EventsFound adds n to the events counter.
func (m *Metrics) EventsFound(n int) {
	if m != nil {
		m.eventsFound.Add(float64(n))
	}
}

// Action counts one per-event result.
func (m *Metrics) Action(outcome string) {
	if m != nil {
		m.actions.WithLabelValues(outcome).Inc()
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter for class (transient, connectivity, fatal).
func (m *Metrics) Errors(class string) {
	if m != nil {
		m.errors.WithLabelValues(class).Inc()
	}
}

func (m *Metrics) SetWatermark(h uint64) {
	if m != nil {
		m.watermark.Set(float64(h))
	}
}

func (m *Metrics) SetSourceHead(h uint64) {
	if m != nil {
		m.sourceHead.Set(float64(h))
	}
}

func (m *Metrics) SetPhase(p int) {
	if m != nil {
		m.phase.Set(float64(p))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Serve starts a /metrics listener in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
