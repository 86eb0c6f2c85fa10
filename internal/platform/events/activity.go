// Package events defines the event payloads shared by the API, the outbox
// dispatcher and the notification consumer.
package events

import "time"

// ActivityCompleted is emitted once per record, when the second participant's
// response turns the record into a completed one.
type ActivityCompleted struct {
	RecordID         string    `json:"record_id"`
	CoupleKey        string    `json:"couple_key"`
	ActivityType     string    `json:"activity_type"`
	ActivityName     string    `json:"activity_name"`
	ActorID          string    `json:"actor_id"`
	ActorDisplayName string    `json:"actor_display_name"`
	RecipientID      string    `json:"recipient_id"`
	CompletedAt      time.Time `json:"completed_at"`
}

// EventTypeActivityCompleted is the outbox/Kafka event_type for ActivityCompleted.
const EventTypeActivityCompleted = "activity.completed"
