package realtime

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const redisChannelPrefix = "school-connect:changes:"

// RedisHub fans change signals across replicas through Redis pub/sub
type RedisHub struct {
	*registry

	client *redis.Client
	pubsub *redis.PubSub
	wg     sync.WaitGroup
}

// NewRedisHub pattern-subscribes once on the client and dispatches to local subscribers
func NewRedisHub(ctx context.Context, client *redis.Client) (*RedisHub, error) {
	pubsub := client.PSubscribe(ctx, redisChannelPrefix+"*")

	// Wait for confirmation so publishes issued right after construction are not lost
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change channel: %w", err)
	}

	h := &RedisHub{
		registry: newRegistry(),
		client:   client,
		pubsub:   pubsub,
	}

	h.wg.Add(1)
	go h.listen()

	return h, nil
}

func (h *RedisHub) listen() {
	defer h.wg.Done()

	for msg := range h.pubsub.Channel() {
		topic := strings.TrimPrefix(msg.Channel, redisChannelPrefix)
		h.dispatch(topic)
	}
	log.Println("Redis change listener stopped")
}

func (h *RedisHub) Publish(ctx context.Context, topic string) error {
	if err := h.client.Publish(ctx, redisChannelPrefix+topic, "changed").Err(); err != nil {
		return fmt.Errorf("failed to publish change on %s: %w", topic, err)
	}
	return nil
}

func (h *RedisHub) Subscribe(ctx context.Context, topic string) (*Subscription, error) {
	return h.add(ctx, topic)
}

// Close stops the listener. The redis client is owned by the caller.
func (h *RedisHub) Close() error {
	h.closeAll()
	err := h.pubsub.Close()
	h.wg.Wait()
	return err
}
