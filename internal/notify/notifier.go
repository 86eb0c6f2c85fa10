// Package notify tells a partner that the activity they both took part in is
// complete, honouring the partner's notification preferences.
package notify

import (
	"context"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
)

// PreferenceStore reads notification preferences. Stores return defaults
// for users who never saved any.
type PreferenceStore interface {
	NotificationPreferences(ctx context.Context, userID string) (domain.NotificationPreferences, error)
}

// Notifier implements domain.CompletionSink.
type Notifier struct {
	prefs    PreferenceStore
	delivery Delivery
	log      *logger.Logger
}

// NewNotifier constructs a Notifier. A nil delivery drops notifications.
func NewNotifier(prefs PreferenceStore, delivery Delivery, log *logger.Logger) *Notifier {
	if delivery == nil {
		delivery = NoopDelivery{}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Notifier{prefs: prefs, delivery: delivery, log: log}
}

// Publish notifies the event's recipient. Delivery problems are logged and
// counted here; the returned error is always nil so the completing
// submission is never failed by a notification.
func (n *Notifier) Publish(ctx context.Context, event domain.CompletionEvent) error {
	log := n.log.With("record_id", event.RecordID, "recipient_id", event.RecipientID)
	if event.RecipientID == "" {
		log.Warn("completion event without recipient")
		notificationsTotal.WithLabelValues(outcomeFailed).Inc()
		return nil
	}

	prefs, err := n.prefs.NotificationPreferences(ctx, event.RecipientID)
	if err != nil {
		log.Warn("load notification preferences failed, using defaults", "error", err)
		prefs = domain.DefaultNotificationPreferences(event.RecipientID)
	}
	if !prefs.PartnerActivityCompleted {
		log.Debug("partner completion notification suppressed")
		notificationsTotal.WithLabelValues(outcomeSuppressed).Inc()
		return nil
	}

	err = n.delivery.Deliver(ctx, Notification{
		RecipientID:      event.RecipientID,
		ActivityType:     event.ActivityType,
		ActivityName:     event.ActivityName,
		ActorDisplayName: event.ActorDisplayName,
		CompletedAt:      event.CompletedAt,
	})
	if err != nil {
		log.Warn("notification delivery failed", "error", err)
		notificationsTotal.WithLabelValues(outcomeFailed).Inc()
		return nil
	}
	notificationsTotal.WithLabelValues(outcomeDelivered).Inc()
	return nil
}
