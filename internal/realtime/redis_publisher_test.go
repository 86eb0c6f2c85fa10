package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/domain"
	"github.com/VinoGram/echo-couples-connection-app-sub000/internal/platform/logger"
)

type fakeRedis struct {
	channel string
	payload []byte
	err     error
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *goredis.IntCmd {
	f.channel = channel
	f.payload, _ = message.([]byte)
	return goredis.NewIntResult(1, f.err)
}

func TestPublishWritesMessageToChannel(t *testing.T) {
	fake := &fakeRedis{}
	p := newPublisher(logger.NewNop(), fake, "")

	completedAt := time.Date(2024, 2, 14, 20, 0, 0, 0, time.UTC)
	err := p.Publish(context.Background(), domain.CompletionEvent{
		RecordID:     "rec-9",
		ActivityType: "exercise",
		ActivityName: "gratitude",
		ActorID:      "bob",
		RecipientID:  "alice",
		CompletedAt:  completedAt,
	})
	require.NoError(t, err)
	require.Equal(t, "couples.activity", fake.channel)

	var msg Message
	require.NoError(t, json.Unmarshal(fake.payload, &msg))
	require.Equal(t, "activity.completed", msg.Event)
	require.Equal(t, "alice", msg.RecipientID)
	require.Equal(t, "rec-9", msg.RecordID)
	require.True(t, completedAt.Equal(msg.CompletedAt))
}

func TestPublishWrapsRedisErrors(t *testing.T) {
	p := newPublisher(logger.NewNop(), &fakeRedis{err: errors.New("connection refused")}, "custom")
	err := p.Publish(context.Background(), domain.CompletionEvent{RecordID: "rec-1"})
	require.ErrorContains(t, err, "redis publish")
}

func TestNewRedisPublisherRequiresAddress(t *testing.T) {
	_, err := NewRedisPublisher(nil, " ", "chan")
	require.Error(t, err)
}
