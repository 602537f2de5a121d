package rabbitmq

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	messagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byteme_bus_messages_published_total",
			Help: "Total number of messages published and confirmed",
		},
		[]string{"exchange", "routing_key"},
	)

	publishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byteme_bus_publish_failures_total",
			Help: "Total number of publish attempts that failed",
		},
		[]string{"exchange"},
	)

	messagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "byteme_bus_messages_consumed_total",
			Help: "Total number of consumed messages by outcome",
		},
		[]string{"queue", "outcome"},
	)
)
