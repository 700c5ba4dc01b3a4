// Package metrics exposes Prometheus counters for sync runs.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the daemon's Prometheus collectors.
type Metrics struct {
	RunsTotal            *prometheus.CounterVec
	AlertsSentTotal      *prometheus.CounterVec
	TransactionsInserted prometheus.Counter
}

// New registers the sync metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banksync_runs_total",
			Help: "Pipeline runs by terminal outcome.",
		}, []string{"outcome"}),
		AlertsSentTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "banksync_alerts_sent_total",
			Help: "Alerts sent by kind (status, expiry, match).",
		}, []string{"kind"}),
		TransactionsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "banksync_transactions_inserted_total",
			Help: "Newly persisted transactions.",
		}),
	}
}
