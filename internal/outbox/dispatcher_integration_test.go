//go:build integration

package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/testsupport"
)

func TestDispatcherPublishesMessages(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	seedOutbox(t, ctx, pool, "alice:bob", "activity.completed")

	producer := &stubProducer{}
	dispatcher := NewDispatcher(pool, producer, &stubRegistry{id: 42}, nil, 10*time.Millisecond, 5)

	beforeDelivered := testutil.ToFloat64(deliveredCounter)
	beforeHistogram := histogramSampleCount(t)

	require.NoError(t, dispatcher.processBatch(ctx))

	require.Len(t, producer.writes, 1)
	require.Equal(t, "activity_completed", producer.writes[0].topic)
	require.Len(t, producer.writes[0].messages, 1)
	require.Equal(t, "alice:bob", headerValue(producer.writes[0].messages[0], HeaderCoupleKey))
	require.InDelta(t, beforeDelivered+1, testutil.ToFloat64(deliveredCounter), 0.0001)
	require.Greater(t, histogramSampleCount(t), beforeHistogram)

	var published int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE published_at IS NOT NULL`).Scan(&published))
	require.Equal(t, 1, published)

	// A second pass finds nothing left to claim.
	require.NoError(t, dispatcher.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDispatcherRoutesFailuresThroughDLQ(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	seedOutbox(t, ctx, pool, "alice:bob", "activity.completed")
	registry := &stubRegistry{id: 7}

	failing := NewDispatcher(pool, &stubProducer{err: errors.New("kafka write failed")}, registry, nil, 10*time.Millisecond, 5)
	beforeFailed := testutil.ToFloat64(failedCounter)
	beforeDLQ := testutil.ToFloat64(dlqCounter.WithLabelValues("activity_completed"))

	require.NoError(t, failing.processBatch(ctx))

	require.InDelta(t, beforeFailed+1, testutil.ToFloat64(failedCounter), 0.0001)
	require.InDelta(t, beforeDLQ+1, testutil.ToFloat64(dlqCounter.WithLabelValues("activity_completed")), 0.0001)

	var dlqCount int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq WHERE couple_key = 'alice:bob'`).Scan(&dlqCount))
	require.Equal(t, 1, dlqCount)

	manager := NewDLQManager(pool, nil, 5, time.Second)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_dlq`).Scan(&dlqCount))
	require.Zero(t, dlqCount)

	producer := &stubProducer{}
	healthy := NewDispatcher(pool, producer, registry, nil, 10*time.Millisecond, 5)
	require.NoError(t, healthy.processBatch(ctx))
	require.Len(t, producer.writes, 1)
}

func TestDLQManagerQuarantinesExhaustedEntries(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (couple_key, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, retry_count, next_retry_at)
         VALUES ('alice:bob', 1, 'activity.completed', 'activity_completed', '{}'::jsonb, 'boom', 'activity_record', 'rec-1', 'activity_completed-value', 'alice:bob', 3, NOW())`)
	require.NoError(t, err)

	manager := NewDLQManager(pool, nil, 3, time.Second)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)

	var reason string
	require.NoError(t, pool.QueryRow(ctx, `SELECT quarantine_reason FROM outbox_dlq WHERE quarantined_at IS NOT NULL`).Scan(&reason))
	require.Equal(t, "retry limit reached", reason)
	require.Zero(t, testutil.ToFloat64(dlqBacklogGauge))
}

func TestDLQManagerBacksOffWhenRequeueFails(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)

	_, err := pool.Exec(ctx,
		`INSERT INTO outbox_dlq (couple_key, event_id, event_type, topic, payload, reason, aggregate_type, aggregate_id, schema_subject, partition_key, next_retry_at)
         VALUES ('alice:bob', 1, 'activity.completed', 'activity_completed', '{}'::jsonb, 'boom', 'activity_record', 'rec-1', '', 'alice:bob', NOW())`)
	require.NoError(t, err)

	manager := NewDLQManager(pool, nil, 3, time.Minute)
	requeued, err := manager.RunOnce(ctx, 10)
	require.NoError(t, err)
	require.Zero(t, requeued)

	var retries int
	var future bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT retry_count, next_retry_at > NOW() FROM outbox_dlq`).Scan(&retries, &future))
	require.Equal(t, 1, retries)
	require.True(t, future)
}

func histogramSampleCount(t *testing.T) uint64 {
	t.Helper()
	metric := &dto.Metric{}
	require.NoError(t, batchDuration.Write(metric))
	hist := metric.GetHistogram()
	require.NotNil(t, hist)
	return hist.GetSampleCount()
}

func seedOutbox(t *testing.T, ctx context.Context, pool *pgxpool.Pool, coupleKey, eventType string) int64 {
	t.Helper()
	var eventID int64
	err := pool.QueryRow(ctx,
		`INSERT INTO outbox (couple_key, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload)
         VALUES ($1,'activity_record','rec-1',$2,'activity_completed','activity_completed-value',$1,'{"record_id":"rec-1"}'::jsonb)
         RETURNING event_id`,
		coupleKey, eventType,
	).Scan(&eventID)
	require.NoError(t, err)
	return eventID
}
