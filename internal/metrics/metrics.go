package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/market-replica/internal/event"
	"github.com/rickgao/market-replica/internal/scanner"
	"github.com/rickgao/market-replica/internal/subscription"
	"github.com/rickgao/market-replica/internal/version"
	"github.com/rickgao/market-replica/internal/writer"
)

const namespace = "replica"

// Source is the session state read at scrape time.
type Source interface {
	Writer() *writer.Writer
	Scanner() *scanner.Scanner
	Subscriptions() *subscription.Manager
}

// Metrics holds the replica collectors on a dedicated registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
}

// New creates Metrics with build info, Go runtime and process collectors
// registered.
func New() *Metrics {
	info := version.Get()
	build := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information, always 1",
		ConstLabels: prometheus.Labels{
			"version":    info.Version,
			"commit":     info.Commit,
			"go_version": info.GoVersion,
		},
	})
	build.Set(1)

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Observer events by result code",
			},
			[]string{"code"},
		),
	}
	m.registry.MustRegister(
		m.events,
		build,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Observe counts ev. It has the event.Observer signature.
func (m *Metrics) Observe(ev event.Event) {
	if m == nil || ev == nil {
		return
	}
	m.events.WithLabelValues(ev.Code().String()).Inc()
}

// Chain returns an observer that counts each event and then passes it to
// next. next may be nil.
func (m *Metrics) Chain(next event.Observer) event.Observer {
	return func(ev event.Event) {
		m.Observe(ev)
		if next != nil {
			next(ev)
		}
	}
}

// RegisterSession adds collectors over the writer, scanner and
// subscription statistics of src.
func (m *Metrics) RegisterSession(src Source) {
	if m == nil {
		return
	}
	w, s, subs := src.Writer(), src.Scanner(), src.Subscriptions()

	m.registry.MustRegister(
		counterFunc("writer_upserts_total", "Upserts that wrote a document or trades",
			func() float64 { return float64(w.Stats().Upserts) }),
		counterFunc("writer_unchanged_total", "Upserts that found nothing to write",
			func() float64 { return float64(w.Stats().Unchanged) }),
		counterFunc("writer_patches_total", "Fee and volume patches applied",
			func() float64 { return float64(w.Stats().Patches) }),
		counterFunc("writer_trades_total", "Price history entries written",
			func() float64 { return float64(w.Stats().Trades) }),
		counterFunc("writer_errors_total", "Failed writes",
			func() float64 { return float64(w.Stats().Errors) }),

		counterFunc("scan_passes_total", "Completed scan passes",
			func() float64 { return float64(s.Stats().Passes) }),
		counterFunc("scan_failures_total", "Scan passes that failed",
			func() float64 { return float64(s.Stats().Failures) }),
		gaugeFunc("scan_last_count", "Markets upserted by the last successful pass",
			func() float64 { return float64(s.Stats().LastCount) }),
		gaugeFunc("scan_last_duration_seconds", "Duration of the last pass",
			func() float64 { return s.Stats().LastDuration.Seconds() }),

		counterFunc("notifications_dispatched_total", "Notifications handed to a handler",
			func() float64 { return float64(subs.Stats().Dispatched) }),
		counterFunc("notifications_dropped_total", "Notifications for an inactive kind",
			func() float64 { return float64(subs.Stats().Dropped) }),
		counterFunc("notifications_failed_total", "Notification handlers that failed",
			func() float64 { return float64(subs.Stats().Failed) }),
		gaugeFunc("subscriptions_active", "Active notification subscriptions",
			func() float64 { return float64(len(subs.ActiveKinds())) }),
	)
}

// RegisterStream adds a gauge that is 1 while connected reports true.
func (m *Metrics) RegisterStream(connected func() bool) {
	if m == nil {
		return
	}
	m.registry.MustRegister(gaugeFunc("stream_connected", "Ledger stream connection state",
		func() float64 {
			if connected() {
				return 1
			}
			return 0
		}))
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func counterFunc(name, help string, f func() float64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}

func gaugeFunc(name, help string, f func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, f)
}
