package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/events"
)

// NotificationHandler turns activity.completed events into partner
// notifications.
type NotificationHandler struct {
	sink domain.CompletionSink
}

// NewNotificationHandler constructs a NotificationHandler.
func NewNotificationHandler(sink domain.CompletionSink) *NotificationHandler {
	return &NotificationHandler{sink: sink}
}

// Handle decodes the event and passes it to the sink. Other event types are
// acknowledged without action.
func (h *NotificationHandler) Handle(ctx context.Context, msg Message) error {
	if msg.EventType != events.EventTypeActivityCompleted {
		return nil
	}
	var event events.ActivityCompleted
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return fmt.Errorf("decode %s: %w", msg.EventType, err)
	}
	if event.RecipientID == "" {
		return fmt.Errorf("%s for record %q has no recipient", msg.EventType, event.RecordID)
	}
	return h.sink.Publish(ctx, event)
}
