package redis

import (
	"context"
	"fmt"

	"github.com/sudokuhub/power-index/internal/infrastructure/messaging"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUB/SUB TRANSPORT
// ══════════════════════════════════════════════════════════════════════════════

// PubSub adapts Cache to messaging.PubSubClient.
type PubSub struct {
	cache      *Cache
	bufferSize int
}

var _ messaging.PubSubClient = (*PubSub)(nil)

// NewPubSub creates a Pub/Sub transport over cache.
func NewPubSub(cache *Cache) *PubSub {
	return &PubSub{cache: cache, bufferSize: 100}
}

// Publish sends a raw message to channel.
func (p *PubSub) Publish(ctx context.Context, channel, message string) error {
	if err := p.cache.Client().Publish(ctx, channel, message).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe listens on channel until ctx is cancelled.
// The returned channel is closed when the subscription ends.
func (p *PubSub) Subscribe(ctx context.Context, channel string) (<-chan messaging.PubSubMessage, error) {
	sub := p.cache.Client().Subscribe(ctx, channel)

	// Receive waits for the subscription confirmation.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	out := make(chan messaging.PubSubMessage, p.bufferSize)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				select {
				case out <- messaging.PubSubMessage{Channel: msg.Channel, Payload: msg.Payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
