package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the Pub/Sub channel events travel on.
const DefaultChannel = "cazino:events"

// RedisBus publishes events to Redis Pub/Sub so every engine instance can
// relay them to its own WebSocket clients.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	log     *slog.Logger
}

// NewRedisBus creates a bus on channel. An empty channel uses
// DefaultChannel.
func NewRedisBus(rdb *redis.Client, channel string, log *slog.Logger) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{rdb: rdb, channel: channel, log: log}
}

// Publish sends ev to every subscribed instance, this one included.
func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notify: encode %s: %w", ev.Type, err)
	}
	if err := b.rdb.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", b.channel, err)
	}
	return nil
}

// Relay subscribes to the channel and hands every event to local until ctx
// is cancelled. Malformed payloads are logged and skipped.
func (b *RedisBus) Relay(ctx context.Context, local Publisher) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	defer pubsub.Close()

	// Confirm the subscription before reporting ready.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis: subscribe %s: %w", b.channel, err)
	}
	b.log.Info("event relay subscribed", "channel", b.channel)

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				b.log.Warn("dropping malformed event", "err", err)
				continue
			}
			if err := local.Publish(ctx, ev); err != nil {
				b.log.Warn("local delivery failed", "type", ev.Type, "err", err)
			}
		}
	}
}

var _ Publisher = (*RedisBus)(nil)
