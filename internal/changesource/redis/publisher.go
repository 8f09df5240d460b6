package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"contentsync/internal/changesource/codec"
	"contentsync/internal/trigger"
)

// Publisher emits change batches to the channel sessions subscribe to.
type Publisher struct {
	client  redis.UniversalClient
	channel string
}

func NewPublisher(client redis.UniversalClient, channel string) *Publisher {
	return &Publisher{client: client, channel: channel}
}

// Publish sends events as one batch.
func (p *Publisher) Publish(ctx context.Context, events ...trigger.Event) error {
	data, err := codec.Encode(events...)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	return nil
}
