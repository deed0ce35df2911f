package events

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"quotefeed/internal/quote"
)

// Redis publishes quote events onto a Redis stream via XADD. Subscribers
// read the stream with consumer groups, giving the same at-least-once shape
// as the Kafka sink.
type Redis struct {
	client *redis.Client
	stream string
}

// NewRedis constructs a Redis-stream publisher.
func NewRedis(client *redis.Client, stream string) *Redis {
	return &Redis{client: client, stream: stream}
}

func (p *Redis) Publish(ctx context.Context, ev quote.Event) error {
	err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]any{"id": ev.ID},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish quote event %d: %w", ev.ID, err)
	}
	return nil
}
