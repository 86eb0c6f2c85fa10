package notify

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeDelivered  = "delivered"
	outcomeSuppressed = "suppressed"
	outcomeFailed     = "failed"
)

var notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "couples_service",
	Subsystem: "notify",
	Name:      "notifications_total",
	Help:      "Partner completion notifications by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(notificationsTotal)
}
