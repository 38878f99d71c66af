package infra

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "kalshi"

// Metrics holds every collector of the process on a private registry.
// All methods are safe on a nil *Metrics so components can run without one.
type Metrics struct {
	registry *prometheus.Registry

	feedState      *prometheus.GaugeVec
	feedReconnects *prometheus.CounterVec
	feedMessages   *prometheus.CounterVec
	errors         *prometheus.CounterVec
	bookResyncs    *prometheus.CounterVec
	books          prometheus.Gauge
	fairValue      prometheus.Gauge
	fairConfidence prometheus.Gauge
	signals        *prometheus.CounterVec
	arbitrage      *prometheus.CounterVec
	orders         *prometheus.CounterVec
	openOrders     prometheus.Gauge
	reprices       *prometheus.CounterVec
	edgeAlerts     *prometheus.CounterVec
	sinkDropped    prometheus.Gauge
	evalLatency    prometheus.Histogram
}

// NewMetrics creates and registers all collectors, including the Go runtime collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		feedState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "feed_state",
			Help: "Feed connection state (0 disconnected .. 5 reconnecting)",
		}, []string{"venue"}),
		feedReconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "feed_reconnects_total",
			Help: "Feed reconnects by reason",
		}, []string{"venue", "reason"}),
		feedMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "feed_messages_total",
			Help: "Inbound feed messages",
		}, []string{"venue"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "errors_total",
			Help: "Errors by component and class",
		}, []string{"component", "class"}),
		bookResyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "book_resyncs_total",
			Help: "Order book resyncs by reason",
		}, []string{"reason"}),
		books: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "books",
			Help: "Reconciled order books",
		}),
		fairValue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "fair_value",
			Help: "Fused spot fair value",
		}),
		fairConfidence: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "fair_value_confidence",
			Help: "Fair value confidence in [0,1]",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "signals_total",
			Help: "Emitted signals by mode and actionability",
		}, []string{"mode", "actionable"}),
		arbitrage: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "arbitrage_opportunities_total",
			Help: "Detected arbitrage opportunities by type",
		}, []string{"type"}),
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "order_events_total",
			Help: "Order state changes by status",
		}, []string{"status"}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "open_orders",
			Help: "Working orders",
		}),
		reprices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "reprices_total",
			Help: "Reprice decisions",
		}, []string{"outcome"}),
		edgeAlerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace, Name: "edge_alerts_total",
			Help: "Edge decay alerts by kind",
		}, []string{"kind"}),
		sinkDropped: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace, Name: "sink_dropped_records",
			Help: "Persistence records dropped on overflow",
		}),
		evalLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace, Name: "eval_cycle_seconds",
			Help:    "Evaluation cycle duration",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.feedState, m.feedReconnects, m.feedMessages, m.errors,
		m.bookResyncs, m.books, m.fairValue, m.fairConfidence,
		m.signals, m.arbitrage, m.orders, m.openOrders,
		m.reprices, m.edgeAlerts, m.sinkDropped, m.evalLatency,
	)
	return m
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetFeedState(v Venue, s FeedState) {
	if m == nil {
		return
	}
	m.feedState.WithLabelValues(string(v)).Set(float64(s))
}

func (m *Metrics) FeedReconnect(v Venue, reason string) {
	if m == nil {
		return
	}
	m.feedReconnects.WithLabelValues(string(v), reason).Inc()
}

func (m *Metrics) FeedMessage(v Venue) {
	if m == nil {
		return
	}
	m.feedMessages.WithLabelValues(string(v)).Inc()
}

// Error counts err under its class. Nil errors are ignored.
func (m *Metrics) Error(component string, err error) {
	if m == nil || err == nil {
		return
	}
	m.errors.WithLabelValues(component, string(Classify(err))).Inc()
}

func (m *Metrics) BookResync(reason string) {
	if m == nil {
		return
	}
	m.bookResyncs.WithLabelValues(reason).Inc()
}

func (m *Metrics) SetBooks(n int) {
	if m == nil {
		return
	}
	m.books.Set(float64(n))
}

func (m *Metrics) SetFairValue(value, confidence float64) {
	if m == nil {
		return
	}
	m.fairValue.Set(value)
	m.fairConfidence.Set(confidence)
}

func (m *Metrics) Signal(mode string, actionable bool) {
	if m == nil {
		return
	}
	a := "false"
	if actionable {
		a = "true"
	}
	m.signals.WithLabelValues(mode, a).Inc()
}

func (m *Metrics) Arbitrage(typ string) {
	if m == nil {
		return
	}
	m.arbitrage.WithLabelValues(typ).Inc()
}

func (m *Metrics) OrderEvent(status string) {
	if m == nil {
		return
	}
	m.orders.WithLabelValues(status).Inc()
}

func (m *Metrics) SetOpenOrders(n int) {
	if m == nil {
		return
	}
	m.openOrders.Set(float64(n))
}

func (m *Metrics) Reprice(outcome string) {
	if m == nil {
		return
	}
	m.reprices.WithLabelValues(outcome).Inc()
}

func (m *Metrics) EdgeAlert(kind string) {
	if m == nil {
		return
	}
	m.edgeAlerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetSinkDropped(n uint64) {
	if m == nil {
		return
	}
	m.sinkDropped.Set(float64(n))
}

func (m *Metrics) ObserveEval(seconds float64) {
	if m == nil {
		return
	}
	m.evalLatency.Observe(seconds)
}
