package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rmax-ai/linkd/pkg/errs"
)

var (
	// transitionsTotal tracks lifecycle operations by outcome (ok or error kind)
	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_lifecycle_transitions_total",
			Help: "Total number of lifecycle operations processed",
		},
		[]string{"operation", "outcome"},
	)

	// eventsPublishedTotal tracks bus publications from the engine and the relay
	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_events_published_total",
			Help: "Total number of lifecycle event publications",
		},
		[]string{"topic", "outcome"},
	)

	// outboxPending tracks committed events not yet published
	outboxPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkd_outbox_pending",
			Help: "Number of outbox records awaiting publication",
		},
	)
)

func init() {
	prometheus.MustRegister(transitionsTotal)
	prometheus.MustRegister(eventsPublishedTotal)
	prometheus.MustRegister(outboxPending)
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(errs.KindOf(err))
}
