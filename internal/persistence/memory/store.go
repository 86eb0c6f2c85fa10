// Package memory provides in-process implementations of the record store,
// identity directory and preference lookup for tests and local runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
)

// Store keeps everything in maps guarded by one mutex, which also serializes
// record mutations.
type Store struct {
	mu          sync.RWMutex
	records     map[domain.RecordKey]domain.ActivityRecord
	users       map[string]domain.UserProfile
	preferences map[string]domain.NotificationPreferences
	events      []domain.CompletionEvent
	now         func() time.Time
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		records:     make(map[domain.RecordKey]domain.ActivityRecord),
		users:       make(map[string]domain.UserProfile),
		preferences: make(map[string]domain.NotificationPreferences),
		now:         time.Now,
	}
}

// PutUser adds or replaces a directory entry.
func (s *Store) PutUser(profile domain.UserProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[profile.ID] = profile
}

// Pair links two users to each other, creating them if needed.
func (s *Store) Pair(a, aName, b, bName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[a] = domain.UserProfile{ID: a, DisplayName: aName, PartnerID: b}
	s.users[b] = domain.UserProfile{ID: b, DisplayName: bName, PartnerID: a}
}

// PutPreferences stores a user's notification preferences.
func (s *Store) PutPreferences(prefs domain.NotificationPreferences) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preferences[prefs.UserID] = prefs
}

// Lookup implements pairing.Directory.
func (s *Store) Lookup(ctx context.Context, userID string) (domain.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	profile, ok := s.users[userID]
	if !ok {
		return domain.UserProfile{}, domain.ErrUserNotFound
	}
	return profile, nil
}

// NotificationPreferences implements notify.PreferenceStore.
func (s *Store) NotificationPreferences(ctx context.Context, userID string) (domain.NotificationPreferences, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if prefs, ok := s.preferences[userID]; ok {
		return prefs, nil
	}
	return domain.DefaultNotificationPreferences(userID), nil
}

// Mutate implements domain.RecordStore. The record is only stored when fn
// succeeds, so a failed first write leaves no record behind.
func (s *Store) Mutate(ctx context.Context, key domain.RecordKey, fn domain.MutateFunc) (*domain.ActivityRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[key]
	if ok {
		record = record.Clone()
	} else {
		now := s.now().UTC()
		record = domain.ActivityRecord{
			ID:           uuid.NewString(),
			CoupleKey:    key.CoupleKey,
			ActivityType: key.ActivityType,
			ActivityName: key.ActivityName,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
	}

	event, err := fn(&record)
	if err != nil {
		return nil, err
	}
	s.records[key] = record.Clone()
	if event != nil {
		s.events = append(s.events, *event)
	}
	out := record.Clone()
	return &out, nil
}

// Find implements domain.RecordStore.
func (s *Store) Find(ctx context.Context, key domain.RecordKey) (*domain.ActivityRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	out := record.Clone()
	return &out, nil
}

// ListByCouple implements domain.RecordStore, newest first.
func (s *Store) ListByCouple(ctx context.Context, coupleKey domain.CoupleKey, activityType domain.ActivityType, cursor *domain.Cursor, limit int) ([]domain.ActivityRecord, *domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]domain.ActivityRecord, 0)
	for key, record := range s.records {
		if key.CoupleKey != coupleKey {
			continue
		}
		if activityType != "" && key.ActivityType != activityType {
			continue
		}
		if cursor != nil && !before(record, *cursor) {
			continue
		}
		matches = append(matches, record.Clone())
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].ID > matches[j].ID
		}
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})

	if limit <= 0 || len(matches) < limit {
		return matches, nil, nil
	}
	matches = matches[:limit]
	last := matches[len(matches)-1]
	return matches, &domain.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}, nil
}

// Count returns the number of stored records.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// CompletionEvents returns the events recorded with completing writes.
func (s *Store) CompletionEvents() []domain.CompletionEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.CompletionEvent, len(s.events))
	copy(out, s.events)
	return out
}

// before orders by (created_at, id) descending, matching the SQL stores.
func before(record domain.ActivityRecord, cursor domain.Cursor) bool {
	if record.CreatedAt.Equal(cursor.CreatedAt) {
		return record.ID < cursor.ID
	}
	return record.CreatedAt.Before(cursor.CreatedAt)
}
