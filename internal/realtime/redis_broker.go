package realtime

import (
	"context"
	"fmt"
	"strings"

	"ms-events/internal/logger"

	"github.com/go-redis/redis/v8"
)

const channelPrefix = "events:room:"

// RedisBroker shares rooms between instances over Redis pub/sub.
type RedisBroker struct {
	client *redis.Client
	hub    *Hub
	logger *logger.Logger
	ready  chan struct{}
}

func NewRedisBroker(client *redis.Client, hub *Hub, log *logger.Logger) *RedisBroker {
	return &RedisBroker{client: client, hub: hub, logger: log, ready: make(chan struct{})}
}

func (b *RedisBroker) Publish(ctx context.Context, room string, payload []byte) error {
	return b.client.Publish(ctx, channelPrefix+room, payload).Err()
}

// Ready is closed once the subscription is confirmed.
func (b *RedisBroker) Ready() <-chan struct{} {
	return b.ready
}

// Run delivers every room message to the local hub until ctx is done.
func (b *RedisBroker) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, channelPrefix+"*")
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to room channels: %w", err)
	}
	close(b.ready)
	b.logger.Info("REDIS", fmt.Sprintf("Subscribed to %s*", channelPrefix))

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			room := strings.TrimPrefix(msg.Channel, channelPrefix)
			b.hub.Deliver(room, []byte(msg.Payload))
		case <-ctx.Done():
			return nil
		}
	}
}
