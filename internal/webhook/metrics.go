package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_events_applied_total",
		Help: "Broker webhook events applied to local state, by event kind.",
	}, []string{"event"})
	duplicateEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_duplicate_events_total",
		Help: "Webhook events dropped as duplicates of already-applied fills.",
	})
	invalidSignatures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_invalid_signatures_total",
		Help: "Webhook requests rejected for a bad HMAC signature.",
	})
	unknownOrders = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_unknown_orders_total",
		Help: "Webhook events referencing orders not tracked locally.",
	})
	invariantViolations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webhook_invariant_violations_total",
		Help: "Attempted mutations of orders already in a terminal state.",
	})
)
