package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/observability"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/events"
)

// Repository provides Postgres-backed persistence for activity records, the
// identity directory, notification preferences and outbox events.
type Repository struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, now: time.Now}
}

const recordColumns = `record_id, couple_key, activity_type, activity_name,
        participant_a_id, participant_a_response, participant_a_submitted_at,
        participant_b_id, participant_b_response, participant_b_submitted_at,
        activity_data, both_completed, completed_at, created_at, updated_at`

// Mutate creates the record if absent and applies fn under a row lock. The
// unique (couple_key, activity_type, activity_name) constraint makes
// concurrent first submissions converge on one row; FOR UPDATE serializes the
// read-modify-write. A completion event returned by fn is written to the
// outbox in the same transaction.
func (r *Repository) Mutate(ctx context.Context, key domain.RecordKey, fn domain.MutateFunc) (*domain.ActivityRecord, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := r.now().UTC()
	const insertIfAbsent = `INSERT INTO activity_records (record_id, couple_key, activity_type, activity_name, created_at, updated_at)
        VALUES ($1,$2,$3,$4,$5,$5)
        ON CONFLICT (couple_key, activity_type, activity_name) DO NOTHING`
	if _, err := tx.Exec(ctx, insertIfAbsent, uuid.NewString(), string(key.CoupleKey), string(key.ActivityType), key.ActivityName, now); err != nil {
		return nil, fmt.Errorf("insert activity record: %w", err)
	}

	row := tx.QueryRow(ctx, `SELECT `+recordColumns+`
        FROM activity_records WHERE couple_key=$1 AND activity_type=$2 AND activity_name=$3
        FOR UPDATE`, string(key.CoupleKey), string(key.ActivityType), key.ActivityName)
	record, err := scanRecord(row)
	if err != nil {
		return nil, fmt.Errorf("lock activity record: %w", err)
	}

	event, err := fn(&record)
	if err != nil {
		return nil, err
	}

	const update = `UPDATE activity_records SET
        participant_a_id=$2, participant_a_response=$3, participant_a_submitted_at=$4,
        participant_b_id=$5, participant_b_response=$6, participant_b_submitted_at=$7,
        activity_data=$8, both_completed=$9, completed_at=$10, updated_at=$11
        WHERE record_id=$1`
	a, b := record.Participants[0], record.Participants[1]
	if _, err := tx.Exec(ctx, update,
		record.ID,
		nullIfEmpty(a.UserID), jsonOrNull(a.Response), a.SubmittedAt,
		nullIfEmpty(b.UserID), jsonOrNull(b.Response), b.SubmittedAt,
		jsonOrNull(record.ActivityData),
		record.BothCompleted,
		record.CompletedAt,
		record.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("update activity record: %w", err)
	}

	if event != nil {
		if err := r.insertOutbox(ctx, tx, record, events.EventTypeActivityCompleted, *event); err != nil {
			return nil, fmt.Errorf("record completion event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	observability.RecordPersisted(record.UpdatedAt)
	return &record, nil
}

func (r *Repository) insertOutbox(ctx context.Context, tx pgx.Tx, record domain.ActivityRecord, eventType string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	meta := eventCatalog[eventType]
	if meta.Topic == "" {
		return fmt.Errorf("unknown event type: %s", eventType)
	}

	partitionKey := meta.PartitionKeyFn(record)
	dedupeKey := fmt.Sprintf("%s:%s", record.ID, eventType)

	const stmt = `INSERT INTO outbox (couple_key, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		string(record.CoupleKey),
		"activity_record",
		record.ID,
		eventType,
		meta.Topic,
		meta.SchemaSubject,
		partitionKey,
		body,
		dedupeKey,
	)
	return err
}

// Find retrieves the record for the key, or nil when none exists.
func (r *Repository) Find(ctx context.Context, key domain.RecordKey) (*domain.ActivityRecord, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+recordColumns+`
        FROM activity_records WHERE couple_key=$1 AND activity_type=$2 AND activity_name=$3`,
		string(key.CoupleKey), string(key.ActivityType), key.ActivityName)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

// ListByCouple returns the couple's records ordered newest first.
func (r *Repository) ListByCouple(ctx context.Context, coupleKey domain.CoupleKey, activityType domain.ActivityType, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	if limit <= 0 {
		limit = 20
	}
	args := []interface{}{string(coupleKey), limit}
	query := `SELECT ` + recordColumns + `
        FROM activity_records WHERE couple_key=$1`

	if activityType != "" {
		args = append(args, string(activityType))
		query += fmt.Sprintf(` AND activity_type=$%d`, len(args))
	}
	if cursor != nil {
		args = append(args, cursor.CreatedAt, cursor.ID)
		query += fmt.Sprintf(` AND (created_at, record_id) < ($%d, $%d::uuid)`, len(args)-1, len(args))
	}

	query += ` ORDER BY created_at DESC, record_id DESC LIMIT $2`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	results := make([]domain.ActivityRecord, 0, limit)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, nil, err
		}
		results = append(results, record)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	var nextCursor *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		nextCursor = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, nextCursor, nil
}

// Lookup implements pairing.Directory against the users table.
func (r *Repository) Lookup(ctx context.Context, userID string) (domain.UserProfile, error) {
	var profile domain.UserProfile
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, display_name, COALESCE(partner_id, '') FROM users WHERE user_id=$1`, userID,
	).Scan(&profile.ID, &profile.DisplayName, &profile.PartnerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserProfile{}, domain.ErrUserNotFound
		}
		return domain.UserProfile{}, err
	}
	return profile, nil
}

// NotificationPreferences implements notify.PreferenceStore.
func (r *Repository) NotificationPreferences(ctx context.Context, userID string) (domain.NotificationPreferences, error) {
	prefs := domain.NotificationPreferences{UserID: userID}
	err := r.pool.QueryRow(ctx,
		`SELECT partner_activity_completed FROM notification_preferences WHERE user_id=$1`, userID,
	).Scan(&prefs.PartnerActivityCompleted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultNotificationPreferences(userID), nil
		}
		return domain.NotificationPreferences{}, err
	}
	return prefs, nil
}

func scanRecord(row pgx.Row) (domain.ActivityRecord, error) {
	var (
		record                 domain.ActivityRecord
		coupleKey, activityTyp string
		aID, bID               *string
		aResp, bResp, data     []byte
	)
	if err := row.Scan(
		&record.ID, &coupleKey, &activityTyp, &record.ActivityName,
		&aID, &aResp, &record.Participants[0].SubmittedAt,
		&bID, &bResp, &record.Participants[1].SubmittedAt,
		&data, &record.BothCompleted, &record.CompletedAt, &record.CreatedAt, &record.UpdatedAt,
	); err != nil {
		return domain.ActivityRecord{}, err
	}
	record.CoupleKey = domain.CoupleKey(coupleKey)
	record.ActivityType = domain.ActivityType(activityTyp)
	record.Participants[0].UserID = derefString(aID)
	record.Participants[0].Response = domain.Payload(aResp)
	record.Participants[1].UserID = derefString(bID)
	record.Participants[1].Response = domain.Payload(bResp)
	record.ActivityData = domain.Payload(data)
	return record, nil
}

func derefString(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func nullIfEmpty(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func jsonOrNull(p domain.Payload) interface{} {
	if p.IsEmpty() {
		return nil
	}
	return []byte(p)
}

// EventMetadata describes how to route an outbox event.
type EventMetadata struct {
	Topic          string
	SchemaSubject  string
	PartitionKeyFn func(domain.ActivityRecord) string
}

var eventCatalog = map[string]EventMetadata{
	events.EventTypeActivityCompleted: {
		Topic:         "activity_completed",
		SchemaSubject: "activity_completed-value",
		PartitionKeyFn: func(r domain.ActivityRecord) string {
			return string(r.CoupleKey)
		},
	},
}
