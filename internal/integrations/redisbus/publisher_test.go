package redisbus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dropwatch/internal/domain"
)

type fakeClient struct {
	channel string
	message []byte
	err     error
	closed  bool
}

func (f *fakeClient) Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd {
	f.channel = channel
	f.message, _ = message.([]byte)
	return redis.NewIntResult(1, f.err)
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestPublish_EncodesEventOnChannel(t *testing.T) {
	fc := &fakeClient{}
	p := &Publisher{client: fc, channel: "dropwatch.events"}

	err := p.Publish(context.Background(), domain.Event{ID: "e1", Type: domain.EventItemDiscovered, ItemID: "77"})
	require.NoError(t, err)
	assert.Equal(t, "dropwatch.events", fc.channel)

	var got domain.Event
	require.NoError(t, json.Unmarshal(fc.message, &got))
	assert.Equal(t, domain.ItemID("77"), got.ItemID)
	assert.Equal(t, domain.EventItemDiscovered, got.Type)

	require.NoError(t, p.Close())
	assert.True(t, fc.closed)
}

func TestPublish_WrapsRedisError(t *testing.T) {
	p := &Publisher{client: &fakeClient{err: errors.New("connection refused")}, channel: "c"}
	err := p.Publish(context.Background(), domain.Event{ID: "e1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestNewPublisher_DisabledWithoutAddress(t *testing.T) {
	p := NewPublisher("", "", 0, "c")
	assert.False(t, p.Enabled())
	assert.NoError(t, p.Publish(context.Background(), domain.Event{ID: "e1"}))
	assert.NoError(t, p.Close())
}
