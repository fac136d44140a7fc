// Package redisbus broadcasts engine events on a Redis pub/sub channel so
// other processes can follow discoveries and acquisition results.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"dropwatch/internal/domain"
)

// publishClient is the subset of *redis.Client the publisher needs.
type publishClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

type Publisher struct {
	client  publishClient
	channel string
}

// NewPublisher returns a publisher for addr. An empty addr yields a disabled
// publisher whose Publish does nothing.
func NewPublisher(addr, password string, db int, channel string) *Publisher {
	if addr == "" {
		return &Publisher{channel: channel}
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Publisher{client: rdb, channel: channel}
}

func (p *Publisher) Enabled() bool { return p.client != nil }

func (p *Publisher) Publish(ctx context.Context, event domain.Event) error {
	if p.client == nil {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, raw).Err(); err != nil {
		return fmt.Errorf("redis publish to %s: %w", p.channel, err)
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.client == nil {
		return nil
	}
	return p.client.Close()
}
