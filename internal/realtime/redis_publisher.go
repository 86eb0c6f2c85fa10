// Package realtime pushes completion events onto a Redis channel that
// connected clients' gateways subscribe to.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
)

// Message is the JSON published per completion.
type Message struct {
	Event        string    `json:"event"`
	RecipientID  string    `json:"recipientId"`
	ActorID      string    `json:"actorId"`
	RecordID     string    `json:"recordId"`
	ActivityType string    `json:"activityType"`
	ActivityName string    `json:"activityName"`
	CompletedAt  time.Time `json:"completedAt"`
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Publisher implements domain.CompletionSink over Redis pub/sub.
type Publisher struct {
	log     *logger.Logger
	rdb     publisher
	closer  func() error
	channel string
}

// NewRedisPublisher connects to addr and verifies the connection.
func NewRedisPublisher(log *logger.Logger, addr, channel string) (*Publisher, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	if log == nil {
		log = logger.NewNop()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	p := newPublisher(log, rdb, channel)
	p.closer = rdb.Close
	return p, nil
}

func newPublisher(log *logger.Logger, rdb publisher, channel string) *Publisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "couples.activity"
	}
	return &Publisher{log: log.With("service", "RedisPublisher"), rdb: rdb, channel: channel}
}

// Publish writes the event to the channel.
func (p *Publisher) Publish(ctx context.Context, event domain.CompletionEvent) error {
	raw, err := json.Marshal(Message{
		Event:        "activity.completed",
		RecipientID:  event.RecipientID,
		ActorID:      event.ActorID,
		RecordID:     event.RecordID,
		ActivityType: event.ActivityType,
		ActivityName: event.ActivityName,
		CompletedAt:  event.CompletedAt,
	})
	if err != nil {
		return err
	}
	receivers, err := p.rdb.Publish(ctx, p.channel, raw).Result()
	if err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	p.log.Debug("completion pushed", "record_id", event.RecordID, "receivers", receivers)
	return nil
}

// Close releases the client.
func (p *Publisher) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer()
}
