// Package notify is the best-effort side channel for realtime pushes to an
// external pub/sub. Publishing can fail without affecting core state:
// failures are logged, never retried, and never block the caller beyond a
// short timeout.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type Notifier interface {
	Publish(ctx context.Context, event string, payload any)
}

// Nop drops everything; used when no pub/sub backend is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) {}

const publishTimeout = 2 * time.Second

// RedisNotifier publishes JSON envelopes to a single redis channel.
type RedisNotifier struct {
	client  *redis.Client
	channel string
}

func NewRedisNotifier(addr, channel string) *RedisNotifier {
	return &RedisNotifier{
		client:  redis.NewClient(&redis.Options{Addr: addr}),
		channel: channel,
	}
}

func (n *RedisNotifier) Publish(ctx context.Context, event string, payload any) {
	body, err := json.Marshal(map[string]any{
		"event":   event,
		"payload": payload,
	})
	if err != nil {
		log.Error().Err(err).Str("module", "notify").Str("event", event).Msg("marshal notification")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := n.client.Publish(ctx, n.channel, body).Err(); err != nil {
		log.Warn().Err(err).Str("module", "notify").Str("event", event).Msg("publish failed")
	}
}

func (n *RedisNotifier) Close() error {
	return n.client.Close()
}
