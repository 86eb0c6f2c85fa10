package outbox

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// DLQ entry outcomes.
const (
	dlqOutcomeProcessed   = "processed"
	dlqOutcomeRequeued    = "requeued"
	dlqOutcomeRetry       = "retry_scheduled"
	dlqOutcomeQuarantined = "quarantined"
)

var (
	dlqEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "couples_service",
		Subsystem: "dlq",
		Name:      "entries_total",
		Help:      "DLQ entries handled by the manager, by outcome.",
	}, []string{"topic", "event_type", "outcome"})

	dlqBacklogGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "couples_service",
		Subsystem: "dlq",
		Name:      "queued_messages",
		Help:      "DLQ entries not yet quarantined.",
	})
)

func init() {
	prometheus.MustRegister(dlqEntries, dlqBacklogGauge)
}

func recordDLQ(entry dlqEntry, outcome string) {
	dlqEntries.WithLabelValues(entry.Topic, entry.EventType, outcome).Inc()
}

// refreshBacklog leaves the gauge untouched when the count query fails.
func refreshBacklog(ctx context.Context, pool *pgxpool.Pool) {
	var queued int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE quarantined_at IS NULL`).Scan(&queued); err == nil {
		dlqBacklogGauge.Set(float64(queued))
	}
}
