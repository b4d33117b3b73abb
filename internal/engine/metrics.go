package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_submitted_total",
		Help: "Orders handed to the broker.",
	})
	ordersAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_orders_accepted_total",
		Help: "Orders acknowledged by the broker.",
	})
	guardrailRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "engine_guardrail_rejections_total",
		Help: "Orders rejected by the policy gate, by failing check.",
	}, []string{"check"})
	brokerRejections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_broker_rejections_total",
		Help: "Orders the broker received and declined.",
	})
	transientFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_transient_submission_failures_total",
		Help: "Submission attempts that failed in transport before a broker verdict.",
	})
)
