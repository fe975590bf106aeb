package redisadp

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

// releaseScript deletes the lock key only while this holder still owns
// it, so a release that arrives after TTL expiry cannot free a lock a
// peer has since taken.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out per-key distributed locks backed by SET NX. Each
// acquisition writes a fresh owner token; release is owner-checked.
type Locker struct {
	rdb *redis.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{rdb: rdb}
}

func (l *Locker) Acquire(ctx domain.Context, key string, ttl time.Duration) (bool, func(ctx domain.Context) error, error) {
	owner := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return false, nil, fmt.Errorf("op=locker.acquire: %w", err)
	}
	if !ok {
		return false, nil, nil
	}
	release := func(ctx domain.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{key}, owner).Err(); err != nil {
			return fmt.Errorf("op=locker.release: %w", err)
		}
		return nil
	}
	return true, release, nil
}
