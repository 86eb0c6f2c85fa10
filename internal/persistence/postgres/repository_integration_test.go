//go:build integration

package postgres

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/pairing"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/testsupport"
)

func TestConcurrentSubmissionsShareOneRecord(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	testsupport.SeedCouple(ctx, t, pool, "alice", "Alice", "bob", "Bob")

	repo := NewRepository(pool)
	svc := domain.NewService(repo, pairing.NewResolver(repo))

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 8; i++ {
		for _, user := range []string{"alice", "bob"} {
			wg.Add(1)
			go func(user string) {
				defer wg.Done()
				_, err := svc.Submit(ctx, domain.SubmitInput{
					UserID:       user,
					ActivityType: "daily_question",
					ActivityName: "q-2024-06-01",
					Response:     domain.Payload(`{"answer":"` + user + `"}`),
				})
				errs <- err
			}(user)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var records int
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM activity_records WHERE couple_key = 'alice:bob' AND activity_type = 'daily_question' AND activity_name = 'q-2024-06-01'`,
	).Scan(&records))
	require.Equal(t, 1, records)

	var events int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE event_type = 'activity.completed'`).Scan(&events))
	require.Equal(t, 1, events, "completion is recorded exactly once")
}

func TestCompletionWritesOutboxRow(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	testsupport.SeedCouple(ctx, t, pool, "alice", "Alice", "bob", "Bob")

	repo := NewRepository(pool)
	svc := domain.NewService(repo, pairing.NewResolver(repo))

	first, err := svc.Submit(ctx, domain.SubmitInput{
		UserID: "alice", ActivityType: "quiz", ActivityName: "trivia",
		Response: domain.Payload(`[1,2,3]`), ActivityData: domain.Payload(`{"rounds":3}`),
	})
	require.NoError(t, err)
	require.False(t, first.BothCompleted)

	var pending int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&pending))
	require.Zero(t, pending)

	second, err := svc.Submit(ctx, domain.SubmitInput{
		UserID: "bob", ActivityType: "quiz", ActivityName: "trivia", Response: domain.Payload(`[3,2,1]`),
	})
	require.NoError(t, err)
	require.True(t, second.JustCompleted)

	var coupleKey, topic, partitionKey, recipient string
	require.NoError(t, pool.QueryRow(ctx,
		`SELECT couple_key, topic, partition_key, payload->>'recipient_id' FROM outbox WHERE aggregate_id = $1`, second.RecordID,
	).Scan(&coupleKey, &topic, &partitionKey, &recipient))
	require.Equal(t, "alice:bob", coupleKey)
	require.Equal(t, "activity_completed", topic)
	require.Equal(t, "alice:bob", partitionKey)
	require.Equal(t, "alice", recipient)

	// Re-submitting after completion keeps the timestamp and adds no event.
	before, err := repo.Find(ctx, domain.RecordKey{CoupleKey: "alice:bob", ActivityType: domain.ActivityTypeQuiz, ActivityName: "trivia"})
	require.NoError(t, err)
	_, err = svc.Submit(ctx, domain.SubmitInput{
		UserID: "alice", ActivityType: "quiz", ActivityName: "trivia", Response: domain.Payload(`[2,2,2]`),
	})
	require.NoError(t, err)
	after, err := repo.Find(ctx, before.Key())
	require.NoError(t, err)
	require.True(t, after.BothCompleted)
	require.True(t, before.CompletedAt.Equal(*after.CompletedAt))
	require.JSONEq(t, `{"rounds":3}`, string(after.ActivityData))

	var total int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&total))
	require.Equal(t, 1, total)
}

func TestDirectoryAndHistoryQueries(t *testing.T) {
	ctx := context.Background()
	pool := testsupport.StartPostgres(ctx, t)
	testsupport.SeedCouple(ctx, t, pool, "alice", "Alice", "bob", "Bob")
	repo := NewRepository(pool)

	profile, err := repo.Lookup(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "bob", profile.PartnerID)

	_, err = repo.Lookup(ctx, "nobody")
	require.ErrorIs(t, err, domain.ErrUserNotFound)

	prefs, err := repo.NotificationPreferences(ctx, "bob")
	require.NoError(t, err)
	require.True(t, prefs.PartnerActivityCompleted)

	_, err = pool.Exec(ctx, `INSERT INTO notification_preferences (user_id, partner_activity_completed) VALUES ('bob', false)`)
	require.NoError(t, err)
	prefs, err = repo.NotificationPreferences(ctx, "bob")
	require.NoError(t, err)
	require.False(t, prefs.PartnerActivityCompleted)

	for _, name := range []string{"a", "b", "c"} {
		key := domain.RecordKey{CoupleKey: "alice:bob", ActivityType: domain.ActivityTypeGame, ActivityName: name}
		_, err := repo.Mutate(ctx, key, func(r *domain.ActivityRecord) (*domain.CompletionEvent, error) {
			_, err := r.Apply("alice", domain.Payload(`true`), nil, r.CreatedAt)
			return nil, err
		})
		require.NoError(t, err)
	}

	page, next, err := repo.ListByCouple(ctx, "alice:bob", domain.ActivityTypeGame, nil, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.NotNil(t, next)

	rest, next, err := repo.ListByCouple(ctx, "alice:bob", "", next, 2)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Nil(t, next)

	seen := map[string]bool{}
	for _, r := range append(page, rest...) {
		seen[r.ActivityName] = true
	}
	require.Len(t, seen, 3)
}
