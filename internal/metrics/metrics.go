// Package metrics exposes the mirror's state as Prometheus metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/otcdesk/internal/domain"
	"github.com/alanyoungcy/otcdesk/internal/offers"
	"github.com/alanyoungcy/otcdesk/internal/state"
	"github.com/alanyoungcy/otcdesk/internal/txtracker"
)

// Metrics holds every collector on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	Offers          *prometheus.GaugeVec
	LoadingProgress prometheus.Gauge
	Connected       prometheus.Gauge
	Syncing         prometheus.Gauge
	PendingTxs      prometheus.Gauge
	ResolvedTxs     *prometheus.CounterVec
	Trades          prometheus.Counter
	HTTPRequests    *prometheus.CounterVec
	HTTPDuration    *prometheus.HistogramVec
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "otcdesk"
	}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		Offers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "offers", Name: "active",
			Help: "Offers in the local mirror by type.",
		}, []string{"type"}),
		LoadingProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "offers", Name: "loading_progress",
			Help: "Bulk offer sync progress in percent.",
		}),
		Connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node", Name: "connected",
			Help: "1 when the node answered the last connectivity check.",
		}),
		Syncing: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "node", Name: "syncing",
			Help: "1 while the node reports it is catching up.",
		}),
		PendingTxs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "tx", Name: "pending",
			Help: "Submitted transactions awaiting a receipt.",
		}),
		ResolvedTxs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "tx", Name: "resolved_total",
			Help: "Resolved transactions by type and outcome.",
		}, []string{"type", "outcome"}),
		Trades: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "trades", Name: "recorded_total",
			Help: "Trades recorded into history.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "API requests by method and status.",
		}, []string{"method", "code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "API request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	m.reg.MustRegister(
		m.Offers, m.LoadingProgress, m.Connected, m.Syncing, m.PendingTxs,
		m.ResolvedTxs, m.Trades, m.HTTPRequests, m.HTTPDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Registry exposes the registry for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method string, code int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(method).Observe(d.Seconds())
}

// OfferSource is the offer mirror.
type OfferSource interface {
	Subscribe(func(offers.Change))
	List(typ domain.OfferType) []domain.Offer
}

// PendingSource is the transaction tracker.
type PendingSource interface {
	ObserveRemoval(typ string, fn txtracker.Observer)
	Len() int
}

// Sources are the stores to observe. Nil fields are skipped.
type Sources struct {
	Offers  OfferSource
	Pending PendingSource
	Trades  interface{ Subscribe(func(domain.Trade)) }
	State   interface{ Subscribe(func(state.Snapshot)) }
}

// Attach keeps the gauges current from store notifications.
func (m *Metrics) Attach(src Sources) {
	if o := src.Offers; o != nil {
		o.Subscribe(func(offers.Change) {
			m.Offers.WithLabelValues(string(domain.OfferTypeBid)).Set(float64(len(o.List(domain.OfferTypeBid))))
			m.Offers.WithLabelValues(string(domain.OfferTypeAsk)).Set(float64(len(o.List(domain.OfferTypeAsk))))
		})
	}
	if p := src.Pending; p != nil {
		p.ObserveRemoval("", func(tx domain.PendingTx) {
			outcome := "effective"
			if tx.Receipt == nil || !tx.Receipt.Effective() {
				outcome = "no_effect"
			}
			m.ResolvedTxs.WithLabelValues(tx.Type, outcome).Inc()
			m.PendingTxs.Set(float64(p.Len()))
		})
	}
	if src.Trades != nil {
		src.Trades.Subscribe(func(domain.Trade) { m.Trades.Inc() })
	}
	if src.State != nil {
		src.State.Subscribe(func(s state.Snapshot) {
			m.LoadingProgress.Set(float64(s.LoadingProgress))
			m.Connected.Set(boolGauge(s.Connected()))
			m.Syncing.Set(boolGauge(s.Syncing))
		})
	}
}

// SetPending records the current tracker size; the tracker has no add hook.
func (m *Metrics) SetPending(n int) { m.PendingTxs.Set(float64(n)) }

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
