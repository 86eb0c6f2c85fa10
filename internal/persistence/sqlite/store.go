// Package sqlite is a GORM-backed store on the pure-Go SQLite driver, used for
// single-node local runs and store tests.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/observability"
)

// UserRow is the directory table.
type UserRow struct {
	UserID      string `gorm:"column:user_id;type:TEXT;primaryKey"`
	DisplayName string `gorm:"column:display_name;type:TEXT NOT NULL;default:''"`
	PartnerID   string `gorm:"column:partner_id;type:TEXT;index"`
	CreatedAt   time.Time
}

// TableName implements the GORM tabler interface.
func (UserRow) TableName() string { return "users" }

// PreferenceRow stores notification preferences. Users without a row get
// domain.DefaultNotificationPreferences, so the column carries no default.
type PreferenceRow struct {
	UserID                   string `gorm:"column:user_id;type:TEXT;primaryKey"`
	PartnerActivityCompleted bool   `gorm:"column:partner_activity_completed;not null"`
	UpdatedAt                time.Time
}

// TableName implements the GORM tabler interface.
func (PreferenceRow) TableName() string { return "notification_preferences" }

// RecordRow is one activity record. The composite unique index is the
// upsert target for first submissions. Payload columns are TEXT: a JSON
// column gets NUMERIC affinity and would turn a bare number into an INTEGER.
type RecordRow struct {
	RecordID                string         `gorm:"column:record_id;type:TEXT;primaryKey"`
	CoupleKey               string         `gorm:"column:couple_key;type:TEXT NOT NULL;uniqueIndex:ux_activity_triple,priority:1;index:ix_couple_created,priority:1"`
	ActivityType            string         `gorm:"column:activity_type;type:TEXT NOT NULL;uniqueIndex:ux_activity_triple,priority:2"`
	ActivityName            string         `gorm:"column:activity_name;type:TEXT NOT NULL;uniqueIndex:ux_activity_triple,priority:3"`
	ParticipantAID          string         `gorm:"column:participant_a_id;type:TEXT"`
	ParticipantAResponse    datatypes.JSON `gorm:"column:participant_a_response;type:TEXT"`
	ParticipantASubmittedAt *time.Time     `gorm:"column:participant_a_submitted_at"`
	ParticipantBID          string         `gorm:"column:participant_b_id;type:TEXT"`
	ParticipantBResponse    datatypes.JSON `gorm:"column:participant_b_response;type:TEXT"`
	ParticipantBSubmittedAt *time.Time     `gorm:"column:participant_b_submitted_at"`
	ActivityData            datatypes.JSON `gorm:"column:activity_data;type:TEXT"`
	BothCompleted           bool           `gorm:"column:both_completed;not null;default:false"`
	CompletedAt             *time.Time     `gorm:"column:completed_at"`
	CreatedAt               time.Time      `gorm:"column:created_at;autoCreateTime:false;index:ix_couple_created,priority:2"`
	UpdatedAt               time.Time      `gorm:"column:updated_at;autoUpdateTime:false"`
}

// TableName implements the GORM tabler interface.
func (RecordRow) TableName() string { return "activity_records" }

// Store implements the record store, directory and preference lookup.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// Open connects to the database at path (":memory:" for an ephemeral one)
// and migrates the schema.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite has a single writer; one connection also keeps ":memory:" shared.
	sqlDB.SetMaxOpenConns(1)

	if err := db.Exec("PRAGMA journal_mode=WAL").Error; err != nil {
		return nil, fmt.Errorf("configure sqlite: %w", err)
	}
	if err := db.AutoMigrate(&UserRow{}, &PreferenceRow{}, &RecordRow{}); err != nil {
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutUser adds or replaces a directory entry.
func (s *Store) PutUser(ctx context.Context, profile domain.UserProfile) error {
	row := UserRow{UserID: profile.ID, DisplayName: profile.DisplayName, PartnerID: profile.PartnerID}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "partner_id"}),
	}).Create(&row).Error
}

// PutPreferences stores a user's notification preferences.
func (s *Store) PutPreferences(ctx context.Context, prefs domain.NotificationPreferences) error {
	row := PreferenceRow{UserID: prefs.UserID, PartnerActivityCompleted: prefs.PartnerActivityCompleted}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"partner_activity_completed", "updated_at"}),
	}).Select("*").Create(&row).Error
}

// Lookup implements pairing.Directory.
func (s *Store) Lookup(ctx context.Context, userID string) (domain.UserProfile, error) {
	var row UserRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	if err != nil {
		return domain.UserProfile{}, err
	}
	return domain.UserProfile{ID: row.UserID, DisplayName: row.DisplayName, PartnerID: row.PartnerID}, nil
}

// NotificationPreferences implements notify.PreferenceStore.
func (s *Store) NotificationPreferences(ctx context.Context, userID string) (domain.NotificationPreferences, error) {
	var row PreferenceRow
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.DefaultNotificationPreferences(userID), nil
	}
	if err != nil {
		return domain.NotificationPreferences{}, err
	}
	return domain.NotificationPreferences{UserID: row.UserID, PartnerActivityCompleted: row.PartnerActivityCompleted}, nil
}

// Mutate implements domain.RecordStore inside one transaction: insert the
// row if the triple is new, re-read it, apply fn and save.
func (s *Store) Mutate(ctx context.Context, key domain.RecordKey, fn domain.MutateFunc) (*domain.ActivityRecord, error) {
	var out domain.ActivityRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.now().UTC()
		fresh := RecordRow{
			RecordID:     uuid.NewString(),
			CoupleKey:    string(key.CoupleKey),
			ActivityType: string(key.ActivityType),
			ActivityName: key.ActivityName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "couple_key"}, {Name: "activity_type"}, {Name: "activity_name"}},
			DoNothing: true,
		}).Create(&fresh).Error; err != nil {
			return fmt.Errorf("insert activity record: %w", err)
		}

		var row RecordRow
		if err := tx.Where("couple_key = ? AND activity_type = ? AND activity_name = ?",
			key.CoupleKey, key.ActivityType, key.ActivityName).Take(&row).Error; err != nil {
			return fmt.Errorf("load activity record: %w", err)
		}

		record := toDomain(row)
		if _, err := fn(&record); err != nil {
			return err
		}

		updated := fromDomain(record)
		if err := tx.Model(&RecordRow{}).Where("record_id = ?", updated.RecordID).
			Select("*").Omit("record_id", "created_at").Updates(&updated).Error; err != nil {
			return fmt.Errorf("update activity record: %w", err)
		}
		out = record
		return nil
	})
	if err != nil {
		return nil, err
	}
	observability.RecordPersisted(out.UpdatedAt)
	return &out, nil
}

// Find implements domain.RecordStore.
func (s *Store) Find(ctx context.Context, key domain.RecordKey) (*domain.ActivityRecord, error) {
	var row RecordRow
	err := s.db.WithContext(ctx).Where("couple_key = ? AND activity_type = ? AND activity_name = ?",
		key.CoupleKey, key.ActivityType, key.ActivityName).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	record := toDomain(row)
	return &record, nil
}

// ListByCouple implements domain.RecordStore, newest first.
func (s *Store) ListByCouple(ctx context.Context, coupleKey domain.CoupleKey, activityType domain.ActivityType, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	if limit <= 0 {
		limit = 20
	}
	q := s.db.WithContext(ctx).Where("couple_key = ?", coupleKey)
	if activityType != "" {
		q = q.Where("activity_type = ?", activityType)
	}
	if cursor != nil {
		q = q.Where("((created_at < ?) OR (created_at = ? AND record_id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}

	var rows []RecordRow
	if err := q.Order("created_at DESC").Order("record_id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, err
	}

	results := make([]domain.ActivityRecord, 0, len(rows))
	for _, row := range rows {
		results = append(results, toDomain(row))
	}
	var next *domain.Cursor
	if len(results) == limit {
		last := results[len(results)-1]
		next = &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
	return results, next, nil
}

// Count returns the number of rows stored for a triple.
func (s *Store) Count(ctx context.Context, key domain.RecordKey) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&RecordRow{}).Where("couple_key = ? AND activity_type = ? AND activity_name = ?",
		key.CoupleKey, key.ActivityType, key.ActivityName).Count(&n).Error
	return n, err
}

func toDomain(row RecordRow) domain.ActivityRecord {
	return domain.ActivityRecord{
		ID:           row.RecordID,
		CoupleKey:    domain.CoupleKey(row.CoupleKey),
		ActivityType: domain.ActivityType(row.ActivityType),
		ActivityName: row.ActivityName,
		Participants: [2]domain.Participant{
			{UserID: row.ParticipantAID, Response: domain.Payload(row.ParticipantAResponse), SubmittedAt: row.ParticipantASubmittedAt},
			{UserID: row.ParticipantBID, Response: domain.Payload(row.ParticipantBResponse), SubmittedAt: row.ParticipantBSubmittedAt},
		},
		ActivityData:  domain.Payload(row.ActivityData),
		BothCompleted: row.BothCompleted,
		CompletedAt:   row.CompletedAt,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}

func fromDomain(record domain.ActivityRecord) RecordRow {
	a, b := record.Participants[0], record.Participants[1]
	return RecordRow{
		RecordID:                record.ID,
		CoupleKey:               string(record.CoupleKey),
		ActivityType:            string(record.ActivityType),
		ActivityName:            record.ActivityName,
		ParticipantAID:          a.UserID,
		ParticipantAResponse:    jsonOrNil(a.Response),
		ParticipantASubmittedAt: a.SubmittedAt,
		ParticipantBID:          b.UserID,
		ParticipantBResponse:    jsonOrNil(b.Response),
		ParticipantBSubmittedAt: b.SubmittedAt,
		ActivityData:            jsonOrNil(record.ActivityData),
		BothCompleted:           record.BothCompleted,
		CompletedAt:             record.CompletedAt,
		CreatedAt:               record.CreatedAt,
		UpdatedAt:               record.UpdatedAt,
	}
}

func jsonOrNil(p domain.Payload) datatypes.JSON {
	if p.IsEmpty() {
		return nil
	}
	return datatypes.JSON(p)
}
