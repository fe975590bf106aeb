// Package redisadp implements the pub/sub bus, the distributed process
// lock, and the stats cache on top of a shared go-redis client.
//
// API replicas and the worker see the same Redis, so a status update
// published from any process reaches every connected WebSocket client.
package redisadp

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Bus carries application status updates over a single Redis channel.
type Bus struct {
	rdb *redis.Client
}

func NewBus(rdb *redis.Client) *Bus {
	return &Bus{rdb: rdb}
}

// Publish marshals the update and fires it at the broadcast channel.
// Delivery is best effort: subscribers that are down simply miss it.
func (b *Bus) Publish(ctx domain.Context, upd domain.StatusUpdate) error {
	payload, err := json.Marshal(upd)
	if err != nil {
		return fmt.Errorf("op=bus.publish: %w", err)
	}
	if err := b.rdb.Publish(ctx, domain.BusChannel, payload).Err(); err != nil {
		return fmt.Errorf("op=bus.publish: %w", err)
	}
	return nil
}

// Subscribe blocks on the broadcast channel and invokes handler for
// every decodable message until ctx ends. Malformed payloads are
// logged and skipped so one bad producer cannot wedge the stream.
func (b *Bus) Subscribe(ctx domain.Context, handler func(upd domain.StatusUpdate)) error {
	sub := b.rdb.Subscribe(ctx, domain.BusChannel)
	defer func() { _ = sub.Close() }()

	// Wait for the subscription confirmation before draining the
	// channel, otherwise a broken connection surfaces as silence.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("op=bus.subscribe: %w", err)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return fmt.Errorf("op=bus.subscribe: subscription channel closed")
			}
			var upd domain.StatusUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				slog.Warn("discarding undecodable bus message",
					slog.String("channel", msg.Channel),
					slog.String("error", err.Error()))
				continue
			}
			handler(upd)
		}
	}
}
