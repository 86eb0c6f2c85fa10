package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Notification is the payload handed to the delivery collaborator.
type Notification struct {
	RecipientID      string    `json:"recipientId"`
	ActivityType     string    `json:"activityType"`
	ActivityName     string    `json:"activityName"`
	ActorDisplayName string    `json:"actorDisplayName"`
	CompletedAt      time.Time `json:"completedAt"`
}

// Delivery pushes a notification to the recipient's devices.
type Delivery interface {
	Deliver(ctx context.Context, n Notification) error
}

// NoopDelivery drops every notification.
type NoopDelivery struct{}

// Deliver performs no action.
func (NoopDelivery) Deliver(context.Context, Notification) error { return nil }

// HTTPDelivery posts notifications to a push gateway webhook.
type HTTPDelivery struct {
	client *http.Client
	url    string
	token  string
}

// NewHTTPDelivery constructs an HTTPDelivery.
func NewHTTPDelivery(endpoint, token string, timeout time.Duration) *HTTPDelivery {
	return &HTTPDelivery{
		client: &http.Client{Timeout: timeout},
		url:    strings.TrimRight(endpoint, "/"),
		token:  token,
	}
}

// Deliver sends the notification as JSON.
func (h *HTTPDelivery) Deliver(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return &DeliveryError{Status: resp.StatusCode}
	}
	return nil
}

// DeliveryError represents a non-successful gateway response.
type DeliveryError struct {
	Status int
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("notification delivery failed with status %d %s", e.Status, http.StatusText(e.Status))
}
