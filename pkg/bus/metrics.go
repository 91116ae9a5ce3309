package bus

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rmax-ai/linkd/pkg/store"
)

var (
	// deliveriesTotal counts handler outcomes per consumer group.
	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_bus_deliveries_total",
			Help: "Total number of event deliveries by outcome",
		},
		[]string{"topic", "group", "outcome"},
	)

	// deadLettersTotal counts messages moved to a dead-letter sink
	deadLettersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkd_bus_dead_letters_total",
			Help: "Total number of messages that failed permanently and were dead-lettered",
		},
		[]string{"topic", "group"},
	)
)

func init() {
	prometheus.MustRegister(deliveriesTotal)
	prometheus.MustRegister(deadLettersTotal)
}

func loggerFor(topic, group string, evt *store.Event) *slog.Logger {
	return slog.With("topic", topic, "group", group, "event_id", evt.EventID, "event_type", evt.EventType)
}
