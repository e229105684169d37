// Package metrics holds the Prometheus collectors for the receipt and
// currency paths. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kassa"

// UnsupportedCurrency is the payment label for any tender code outside the
// rate table.
const UnsupportedCurrency = "unsupported"

type Metrics struct {
	registry *prometheus.Registry

	receiptsCreated    prometheus.Counter
	receiptMutations   *prometheus.CounterVec
	receiptsClosed     prometheus.Counter
	payments           *prometheus.CounterVec
	evaluationDuration prometheus.Histogram
	rateRefreshes      *prometheus.CounterVec
	rateSnapshotAge    prometheus.Gauge
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		receiptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_created_total",
			Help:      "Receipts opened.",
		}),
		receiptMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipt_mutations_total",
			Help:      "Line mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		receiptsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_closed_total",
			Help:      "Receipts closed by payment reconciliation.",
		}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_total",
			Help:      "Payment attempts by tender currency and outcome.",
		}, []string{"currency", "outcome"}),
		evaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "discount_evaluation_duration_seconds",
			Help:      "Time spent evaluating a receipt against campaigns.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1},
		}),
		rateRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_refreshes_total",
			Help:      "Exchange rate refreshes by source and outcome.",
		}, []string{"source", "outcome"}),
		rateSnapshotAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rate_snapshot_timestamp_seconds",
			Help:      "Unix time the current rate snapshot was fetched.",
		}),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.receiptsCreated,
		m.receiptMutations,
		m.receiptsClosed,
		m.payments,
		m.evaluationDuration,
		m.rateRefreshes,
		m.rateSnapshotAge,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) ReceiptCreated() {
	if m == nil {
		return
	}
	m.receiptsCreated.Inc()
}

func (m *Metrics) ReceiptMutation(op string, err error) {
	if m == nil {
		return
	}
	m.receiptMutations.WithLabelValues(op, outcome(err)).Inc()
}

func (m *Metrics) ReceiptClosed() {
	if m == nil {
		return
	}
	m.receiptsClosed.Inc()
}

func (m *Metrics) Payment(currency string, err error) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(currency, outcome(err)).Inc()
}

func (m *Metrics) ObserveEvaluation(d time.Duration) {
	if m == nil {
		return
	}
	m.evaluationDuration.Observe(d.Seconds())
}

// RateRefresh records a refresh attempt. source is "provider" or "cache".
func (m *Metrics) RateRefresh(source string, err error, fetchedAt time.Time) {
	if m == nil {
		return
	}
	m.rateRefreshes.WithLabelValues(source, outcome(err)).Inc()
	if err == nil && !fetchedAt.IsZero() {
		m.rateSnapshotAge.Set(float64(fetchedAt.Unix()))
	}
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
