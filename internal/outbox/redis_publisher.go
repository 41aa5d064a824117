package outbox

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher appends events to a per-topic redis stream.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "events"
	}
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	stream := fmt.Sprintf("%s:%s", p.prefix, ev.Topic)

	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{
			"outbox_id":      strconv.FormatInt(ev.ID, 10),
			"aggregate_type": ev.AggregateType,
			"aggregate_id":   ev.AggregateID,
			"event_type":     ev.EventType,
			"payload":        string(ev.Payload),
			"created_at":     ev.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", stream, err)
	}

	return nil
}
