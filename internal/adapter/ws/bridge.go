package ws

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// Bridge is the per-process bus subscriber: it relays every status update
// from the broadcast channel into the Hub.
type Bridge struct {
	Bus domain.Bus
	Hub *Hub
	// MaxRetries caps consecutive reconnect attempts before Run gives up.
	MaxRetries int
}

// NewBridge constructs a Bridge with the default retry cap.
func NewBridge(bus domain.Bus, hub *Hub) *Bridge {
	return &Bridge{Bus: bus, Hub: hub, MaxRetries: 10}
}

// healthyAfter is how long a subscription must live before the reconnect
// budget resets. Shorter lives count as consecutive failures.
const healthyAfter = 30 * time.Second

// Run subscribes and relays until ctx ends. Each reconnect backs off
// exponentially from 1s to 30s; after MaxRetries consecutive short-lived
// attempts the bridge reports failure so the supervisor restarts the
// process instead of spinning a dead loop.
func (b *Bridge) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	failures := 0
	for {
		started := time.Now()
		err := b.Bus.Subscribe(ctx, b.Hub.Dispatch)
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}

		if time.Since(started) >= healthyAfter {
			failures = 0
			bo.Reset()
		}
		failures++
		if failures > b.MaxRetries {
			slog.Error("notification bridge exhausted reconnect attempts, giving up",
				slog.Int("attempts", failures), slog.Any("error", err))
			return err
		}

		wait := bo.NextBackOff()
		slog.Warn("bus subscription lost, reconnecting",
			slog.Int("attempt", failures),
			slog.Duration("backoff", wait),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
