// Package metrics exposes Prometheus counters for the delivery pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DispatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookline_dispatches_total",
		Help: "Total dispatch calls accepted.",
	})

	DeliveriesCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookline_deliveries_created_total",
		Help: "Total delivery records created by fan-out.",
	})

	AttemptsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookline_delivery_attempts_total",
		Help: "Total transmission attempts made.",
	})

	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hookline_deliveries_total",
		Help: "Delivery attempt outcomes by resulting status.",
	}, []string{"status"})

	DeliveriesNotFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookline_deliveries_not_found_total",
		Help: "Enqueued delivery ids that no longer existed at send time.",
	})

	SweeperRequeued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hookline_sweeper_requeued_total",
		Help: "Deliveries re-enqueued by the retry sweeper.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
