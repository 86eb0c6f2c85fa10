package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/events"
)

// ActivityType is the category of a shared activity.
type ActivityType string

const (
	ActivityTypeDailyQuestion ActivityType = "daily_question"
	ActivityTypeGame          ActivityType = "game"
	ActivityTypeExercise      ActivityType = "exercise"
	ActivityTypeQuiz          ActivityType = "quiz"
)

// ParseActivityType validates a raw activity type.
func ParseActivityType(raw string) (ActivityType, error) {
	switch t := ActivityType(strings.TrimSpace(raw)); t {
	case ActivityTypeDailyQuestion, ActivityTypeGame, ActivityTypeExercise, ActivityTypeQuiz:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown activity type %q", ErrInvalidActivity, raw)
	}
}

// RecordKey addresses the single record a couple keeps for an activity.
type RecordKey struct {
	CoupleKey    CoupleKey
	ActivityType ActivityType
	ActivityName string
}

// NewRecordKey validates the activity half of the key.
func NewRecordKey(coupleKey CoupleKey, activityType, activityName string) (RecordKey, error) {
	t, err := ParseActivityType(activityType)
	if err != nil {
		return RecordKey{}, err
	}
	name := strings.TrimSpace(activityName)
	if name == "" {
		return RecordKey{}, fmt.Errorf("%w: activity name is required", ErrInvalidActivity)
	}
	return RecordKey{CoupleKey: coupleKey, ActivityType: t, ActivityName: name}, nil
}

// Participant is one response slot of a record.
type Participant struct {
	UserID      string
	Response    Payload
	SubmittedAt *time.Time
}

// Assigned reports whether a user has claimed the slot.
func (p Participant) Assigned() bool { return p.UserID != "" }

// HasResponded applies the shared emptiness test to the slot.
func (p Participant) HasResponded() bool { return !p.Response.IsEmpty() }

// ActivityRecord is the shared result of one activity for one couple.
// Participants are addressed by identity; slot order only reflects who
// submitted first.
type ActivityRecord struct {
	ID            string
	CoupleKey     CoupleKey
	ActivityType  ActivityType
	ActivityName  string
	Participants  [2]Participant
	ActivityData  Payload
	BothCompleted bool
	CompletedAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CompletionEvent is emitted when a record becomes completed.
type CompletionEvent = events.ActivityCompleted

// Key returns the record's addressing triple.
func (r *ActivityRecord) Key() RecordKey {
	return RecordKey{CoupleKey: r.CoupleKey, ActivityType: r.ActivityType, ActivityName: r.ActivityName}
}

// Participant returns the slot held by userID.
func (r *ActivityRecord) Participant(userID string) (Participant, bool) {
	if i := r.slotOf(userID); i >= 0 {
		return r.Participants[i], true
	}
	return Participant{}, false
}

// Other returns the slot that is not held by userID.
func (r *ActivityRecord) Other(userID string) Participant {
	for _, p := range r.Participants {
		if p.UserID != userID {
			return p
		}
	}
	return Participant{}
}

func (r *ActivityRecord) slotOf(userID string) int {
	if userID == "" {
		return -1
	}
	for i, p := range r.Participants {
		if p.UserID == userID {
			return i
		}
	}
	return -1
}

func (r *ActivityRecord) freeSlot() int {
	for i, p := range r.Participants {
		if !p.Assigned() {
			return i
		}
	}
	return -1
}

func (r *ActivityRecord) completed() bool {
	return r.Participants[0].HasResponded() && r.Participants[1].HasResponded()
}

// Apply merges one participant's submission into the record and reports
// whether this write completed it. The caller's slot is found by identity or
// claimed if free; the response fully replaces the previous one and
// activityData replaces the stored data only when present. CompletedAt is
// set on the first completing write and never changes afterwards.
func (r *ActivityRecord) Apply(userID string, response, activityData Payload, now time.Time) (bool, error) {
	if response.IsEmpty() {
		return false, ErrEmptyResponse
	}
	if r.CoupleKey != "" && !r.CoupleKey.Contains(userID) {
		return false, fmt.Errorf("%w: %s is not a member of couple %s", ErrIntegrityViolation, userID, r.CoupleKey)
	}
	slot := r.slotOf(userID)
	if slot < 0 {
		slot = r.freeSlot()
		if slot < 0 {
			return false, fmt.Errorf("%w: record %s belongs to %s and %s, not %s",
				ErrIntegrityViolation, r.ID, r.Participants[0].UserID, r.Participants[1].UserID, userID)
		}
		r.Participants[slot].UserID = userID
	}

	wasCompleted := r.completed()
	submittedAt := now
	r.Participants[slot].Response = response.Clone()
	r.Participants[slot].SubmittedAt = &submittedAt
	if !activityData.IsEmpty() {
		r.ActivityData = activityData.Clone()
	}
	r.BothCompleted = r.completed()
	r.UpdatedAt = now

	if r.BothCompleted && !wasCompleted && r.CompletedAt == nil {
		completedAt := now
		r.CompletedAt = &completedAt
		return true, nil
	}
	return false, nil
}

// Clone deep-copies the record so callers cannot alias store state.
func (r ActivityRecord) Clone() ActivityRecord {
	out := r
	for i := range out.Participants {
		out.Participants[i].Response = r.Participants[i].Response.Clone()
		if r.Participants[i].SubmittedAt != nil {
			t := *r.Participants[i].SubmittedAt
			out.Participants[i].SubmittedAt = &t
		}
	}
	out.ActivityData = r.ActivityData.Clone()
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Cursor is the keyset pagination token for record listings.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}
