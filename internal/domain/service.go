// Package domain implements the couple-activity synchronization rules: one
// shared record per couple and activity, merged from two independent
// participants, projected back relative to whoever is asking.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/observability"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
)

// MutateFunc edits a record inside the store's atomic section. A non-nil
// event is persisted alongside the record by stores that keep an outbox.
type MutateFunc func(record *ActivityRecord) (*CompletionEvent, error)

// RecordStore persists activity records. Mutate must create the record when
// absent and serialize concurrent mutations of the same key, so the triple
// never maps to more than one record. Find returns nil, nil when no record
// exists.
type RecordStore interface {
	Mutate(ctx context.Context, key RecordKey, fn MutateFunc) (*ActivityRecord, error)
	Find(ctx context.Context, key RecordKey) (*ActivityRecord, error)
	ListByCouple(ctx context.Context, coupleKey CoupleKey, activityType ActivityType, cursor *Cursor, limit int) ([]ActivityRecord, *Cursor, error)
}

// PairingResolver maps a user to their couple.
type PairingResolver interface {
	Resolve(ctx context.Context, userID string) (Pairing, error)
}

// CompletionSink receives completion events after the record is durable.
type CompletionSink interface {
	Publish(ctx context.Context, event CompletionEvent) error
}

// CompletionSinks fans an event out to several sinks.
type CompletionSinks []CompletionSink

// Publish delivers to every sink and joins their errors.
func (s CompletionSinks) Publish(ctx context.Context, event CompletionEvent) error {
	var err error
	for _, sink := range s {
		if sink == nil {
			continue
		}
		err = errors.Join(err, sink.Publish(ctx, event))
	}
	return err
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithLogger overrides the logger.
func WithLogger(log *logger.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithCompletionSink registers the sink notified on completion.
func WithCompletionSink(sink CompletionSink) Option {
	return func(s *Service) { s.sink = sink }
}

// Service orchestrates submissions and result reads.
type Service struct {
	store   RecordStore
	pairing PairingResolver
	sink    CompletionSink
	log     *logger.Logger
	now     func() time.Time
}

// NewService constructs a Service.
func NewService(store RecordStore, pairing PairingResolver, opts ...Option) *Service {
	s := &Service{
		store:   store,
		pairing: pairing,
		log:     logger.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitInput captures a participant's submission from the API layer.
type SubmitInput struct {
	UserID       string
	ActivityType string
	ActivityName string
	Response     Payload
	ActivityData Payload
}

// SubmitResult acknowledges a stored submission.
type SubmitResult struct {
	RecordID      string
	BothCompleted bool
	JustCompleted bool
}

// Submit merges the caller's response into the couple's record for the
// activity, creating the record on first submission.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (SubmitResult, error) {
	if !input.Response.Valid() || !input.ActivityData.Valid() {
		return SubmitResult{}, ErrInvalidPayload
	}
	if input.Response.IsEmpty() {
		return SubmitResult{}, ErrEmptyResponse
	}
	key, err := NewRecordKey("", input.ActivityType, input.ActivityName)
	if err != nil {
		return SubmitResult{}, err
	}

	pairing, err := s.pairing.Resolve(ctx, input.UserID)
	if err != nil {
		return SubmitResult{}, err
	}
	key.CoupleKey = pairing.Key

	now := s.now().UTC()
	var event *CompletionEvent
	record, err := s.store.Mutate(ctx, key, func(record *ActivityRecord) (*CompletionEvent, error) {
		// Stores may retry the closure; only the last attempt counts.
		event = nil
		completed, err := record.Apply(pairing.UserID, input.Response, input.ActivityData, now)
		if err != nil || !completed {
			return nil, err
		}
		event = &CompletionEvent{
			RecordID:         record.ID,
			CoupleKey:        string(record.CoupleKey),
			ActivityType:     string(record.ActivityType),
			ActivityName:     record.ActivityName,
			ActorID:          pairing.UserID,
			ActorDisplayName: pairing.UserName,
			RecipientID:      record.Other(pairing.UserID).UserID,
			CompletedAt:      *record.CompletedAt,
		}
		return event, nil
	})
	if err != nil {
		observability.RecordSubmission(string(key.ActivityType), observability.OutcomeError)
		if errors.Is(err, ErrIntegrityViolation) {
			s.log.Error("activity record integrity violation",
				"user_id", pairing.UserID, "couple_key", key.CoupleKey, "activity_type", key.ActivityType, "activity_name", key.ActivityName, "error", err)
		}
		return SubmitResult{}, fmt.Errorf("submit %s/%s: %w", key.ActivityType, key.ActivityName, err)
	}
	observability.RecordSubmission(string(key.ActivityType), observability.OutcomeStored)

	if event != nil {
		observability.RecordCompletion(string(key.ActivityType))
		s.publish(ctx, *event)
	}

	return SubmitResult{
		RecordID:      record.ID,
		BothCompleted: record.BothCompleted,
		JustCompleted: event != nil,
	}, nil
}

// publish never fails the submission: the record is already durable.
func (s *Service) publish(ctx context.Context, event CompletionEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Publish(ctx, event); err != nil {
		s.log.Warn("completion sink failed",
			"record_id", event.RecordID, "recipient_id", event.RecipientID, "error", err)
	}
}

// Results projects the couple's record for the activity onto the caller.
func (s *Service) Results(ctx context.Context, userID, activityType, activityName string) (Result, error) {
	key, err := NewRecordKey("", activityType, activityName)
	if err != nil {
		return Result{}, err
	}
	pairing, err := s.pairing.Resolve(ctx, userID)
	if errors.Is(err, ErrNotPaired) {
		return Result{HasPartner: false}, nil
	}
	if err != nil {
		return Result{}, err
	}
	key.CoupleKey = pairing.Key

	record, err := s.store.Find(ctx, key)
	if err != nil {
		return Result{}, fmt.Errorf("find %s/%s: %w", key.ActivityType, key.ActivityName, err)
	}
	if record == nil {
		return Result{HasPartner: true}, nil
	}

	projection, err := Project(*record, pairing)
	if err != nil {
		s.log.Error("activity record integrity violation", "record_id", record.ID, "user_id", userID, "error", err)
		return Result{}, err
	}
	return Result{HasPartner: true, BothCompleted: record.BothCompleted, Results: &projection}, nil
}

// HistoryPage is one page of the couple's records, newest first.
type HistoryPage struct {
	HasPartner bool
	Items      []HistoryItem
	Next       *Cursor
}

// HistoryItem is a projected record with its addressing fields.
type HistoryItem struct {
	RecordID      string
	ActivityType  ActivityType
	ActivityName  string
	BothCompleted bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Projection    Projection
}

// History lists the caller's couple records, optionally filtered by type.
func (s *Service) History(ctx context.Context, userID, activityType string, cursor *Cursor, limit int) (HistoryPage, error) {
	var filter ActivityType
	if activityType != "" {
		t, err := ParseActivityType(activityType)
		if err != nil {
			return HistoryPage{}, err
		}
		filter = t
	}
	pairing, err := s.pairing.Resolve(ctx, userID)
	if errors.Is(err, ErrNotPaired) {
		return HistoryPage{HasPartner: false}, nil
	}
	if err != nil {
		return HistoryPage{}, err
	}

	records, next, err := s.store.ListByCouple(ctx, pairing.Key, filter, cursor, limit)
	if err != nil {
		return HistoryPage{}, fmt.Errorf("list records: %w", err)
	}

	page := HistoryPage{HasPartner: true, Items: make([]HistoryItem, 0, len(records)), Next: next}
	for _, record := range records {
		projection, err := Project(record, pairing)
		if err != nil {
			return HistoryPage{}, err
		}
		page.Items = append(page.Items, HistoryItem{
			RecordID:      record.ID,
			ActivityType:  record.ActivityType,
			ActivityName:  record.ActivityName,
			BothCompleted: record.BothCompleted,
			CreatedAt:     record.CreatedAt,
			UpdatedAt:     record.UpdatedAt,
			Projection:    projection,
		})
	}
	return page, nil
}
