package redis

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/synthex/internal/domain"
	"github.com/alanyoungcy/synthex/internal/metrics"
)

const busBuffer = 64

// SignalBus implements domain.SignalBus over Redis Pub/Sub. Delivery is
// at-most-once: snapshots published while nobody is subscribed are gone,
// and a subscriber that falls behind loses its oldest queued snapshots.
type SignalBus struct {
	rdb    *redis.Client
	buffer int
}

// NewSignalBus creates a SignalBus backed by c.
func NewSignalBus(c *Client) *SignalBus {
	return &SignalBus{rdb: c.Underlying(), buffer: busBuffer}
}

// Publish sends payload to channel.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("redis: publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe delivers payloads published to channel until ctx is cancelled.
// A channel containing glob characters (market:*) is a pattern
// subscription.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	var sub *redis.PubSub
	if strings.ContainsAny(channel, "*?[") {
		sub = b.rdb.PSubscribe(ctx, channel)
	} else {
		sub = b.rdb.Subscribe(ctx, channel)
	}
	// Wait for the subscription confirmation so callers see errors here.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("redis: subscribe %s: %w", channel, err)
	}

	out := make(chan []byte, b.buffer)
	go func() {
		defer close(out)
		defer sub.Close()

		in := sub.Channel(redis.WithChannelSize(b.buffer))
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-in:
				if !ok {
					return
				}
				if dropOldest(out, []byte(msg.Payload)) {
					metrics.BusDropped.WithLabelValues(channel).Inc()
				}
			}
		}
	}()
	return out, nil
}

// dropOldest queues payload, evicting the oldest queued item when out is
// full, and reports whether anything was evicted.
func dropOldest(out chan []byte, payload []byte) (dropped bool) {
	for {
		select {
		case out <- payload:
			return dropped
		default:
		}
		select {
		case <-out:
			dropped = true
		default:
		}
	}
}

var _ domain.SignalBus = (*SignalBus)(nil)
