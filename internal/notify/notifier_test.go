package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/persistence/memory"
)

type recordingDelivery struct {
	sent []Notification
	err  error
}

func (r *recordingDelivery) Deliver(_ context.Context, n Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type failingPrefs struct{}

func (failingPrefs) NotificationPreferences(context.Context, string) (domain.NotificationPreferences, error) {
	return domain.NotificationPreferences{}, errors.New("preferences unavailable")
}

func completion() domain.CompletionEvent {
	return domain.CompletionEvent{
		RecordID:         "rec-1",
		CoupleKey:        "alice:bob",
		ActivityType:     "daily_question",
		ActivityName:     "q-42",
		ActorID:          "bob",
		ActorDisplayName: "Bob",
		RecipientID:      "alice",
		CompletedAt:      time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestPublishDeliversWhenEnabled(t *testing.T) {
	store := memory.NewStore()
	delivery := &recordingDelivery{}
	notifier := NewNotifier(store, delivery, nil)

	before := testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeDelivered))
	require.NoError(t, notifier.Publish(context.Background(), completion()))

	require.Len(t, delivery.sent, 1)
	sent := delivery.sent[0]
	require.Equal(t, "alice", sent.RecipientID)
	require.Equal(t, "Bob", sent.ActorDisplayName)
	require.Equal(t, "daily_question", sent.ActivityType)
	require.Equal(t, "q-42", sent.ActivityName)
	require.Equal(t, before+1, testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeDelivered)))
}

func TestPublishSuppressedByPreference(t *testing.T) {
	store := memory.NewStore()
	store.PutPreferences(domain.NotificationPreferences{UserID: "alice", PartnerActivityCompleted: false})
	delivery := &recordingDelivery{}
	notifier := NewNotifier(store, delivery, nil)

	before := testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeSuppressed))
	require.NoError(t, notifier.Publish(context.Background(), completion()))
	require.Empty(t, delivery.sent)
	require.Equal(t, before+1, testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeSuppressed)))
}

func TestPublishSwallowsDeliveryFailure(t *testing.T) {
	delivery := &recordingDelivery{err: errors.New("gateway down")}
	notifier := NewNotifier(memory.NewStore(), delivery, nil)

	before := testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeFailed))
	require.NoError(t, notifier.Publish(context.Background(), completion()))
	require.Len(t, delivery.sent, 1)
	require.Equal(t, before+1, testutil.ToFloat64(notificationsTotal.WithLabelValues(outcomeFailed)))
}

func TestPublishDefaultsWhenPreferencesUnavailable(t *testing.T) {
	delivery := &recordingDelivery{}
	notifier := NewNotifier(failingPrefs{}, delivery, nil)

	require.NoError(t, notifier.Publish(context.Background(), completion()))
	require.Len(t, delivery.sent, 1)
}

func TestHTTPDeliveryPostsJSON(t *testing.T) {
	var got Notification
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	delivery := NewHTTPDelivery(srv.URL+"/", "push-token", time.Second)
	n := Notification{RecipientID: "alice", ActivityType: "game", ActivityName: "trivia", ActorDisplayName: "Bob", CompletedAt: time.Unix(1700000000, 0).UTC()}
	require.NoError(t, delivery.Deliver(context.Background(), n))
	require.Equal(t, "Bearer push-token", auth)
	require.Equal(t, n, got)
}

func TestHTTPDeliveryReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewHTTPDelivery(srv.URL, "", time.Second).Deliver(context.Background(), Notification{RecipientID: "alice"})
	var deliveryErr *DeliveryError
	require.ErrorAs(t, err, &deliveryErr)
	require.Equal(t, http.StatusBadGateway, deliveryErr.Status)
}
