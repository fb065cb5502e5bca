package realtime

import (
	"context"
	"testing"
	"time"

	"ms-events/internal/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *redis.Client {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisBrokerSharesRoomsAcrossHubs(t *testing.T) {
	client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// two hubs stand in for two server instances sharing one Redis
	publisherHub := NewHub(logger.NewNop())
	subscriberHub := NewHub(logger.NewNop())
	publisherBroker := NewRedisBroker(client, publisherHub, logger.NewNop())
	subscriberBroker := NewRedisBroker(client, subscriberHub, logger.NewNop())
	publisherHub.SetBroker(publisherBroker)
	subscriberHub.SetBroker(subscriberBroker)

	go publisherBroker.Run(ctx)
	go subscriberBroker.Run(ctx)
	for _, b := range []*RedisBroker{publisherBroker, subscriberBroker} {
		select {
		case <-b.Ready():
		case <-time.After(2 * time.Second):
			t.Fatal("broker did not subscribe")
		}
	}

	conn := subscriberHub.Connect(ctx)
	conn.Join("event-1")
	nextFrame(t, conn)

	require.NoError(t, publisherHub.Publish(ctx, "event-1", []byte(`{"type":"event.updated"}`)))

	frame := nextFrame(t, conn)
	assert.Equal(t, "notification", frame.Event)
	assert.JSONEq(t, `{"type":"event.updated"}`, string(frame.Data))
}

func TestRedisBrokerStopsOnCancel(t *testing.T) {
	client := setupTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())

	broker := NewRedisBroker(client, NewHub(logger.NewNop()), logger.NewNop())
	done := make(chan error, 1)
	go func() { done <- broker.Run(ctx) }()
	<-broker.Ready()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not stop")
	}
}
