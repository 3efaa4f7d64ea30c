package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TradesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "trades_total",
		Help:      "Settled trades by source (book/pool).",
	}, []string{"asset", "source"})

	FailedMatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "failed_matches_total",
		Help:      "Crossing pairs that did not settle, by reason.",
	}, []string{"asset", "reason"}) // reason: insufficient_funds / conflict / error

	SwapsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pool_swaps_total",
		Help:      "Pool swaps by result.",
	}, []string{"asset", "side", "result"})

	OrdersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_total",
		Help:      "Order lifecycle operations.",
	}, []string{"asset", "op", "result"}) // op: place / cancel / execute

	OpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "op_duration_seconds",
		Help:      "Engine operation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms ~ 4s
	}, []string{"op"})

	ActorMailboxDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "actor_mailbox_depth",
		Help:      "Pending commands per asset actor.",
	}, []string{"asset"})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_published_total",
		Help:      "Events delivered to a sink.",
	}, []string{"sink", "type"})

	EventSinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_sink_errors_total",
		Help:      "Events a sink failed to deliver.",
	}, []string{"sink"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "event_bus_dropped_total",
		Help:      "Events dropped because the in-process bus was full.",
	})
)
