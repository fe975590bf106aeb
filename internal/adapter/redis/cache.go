package redisadp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/global-credit-core/internal/domain"
)

const statsKeyPattern = "stats:*"

func statsKey(country string) string {
	return "stats:country:" + country
}

func applicationKey(id string) string {
	return "application:" + id
}

// Cache is the read-side cache for country statistics. Entries are
// JSON blobs keyed per country; any application write blows away the
// whole stats namespace.
type Cache struct {
	rdb *redis.Client
}

func NewCache(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

func (c *Cache) GetStats(ctx domain.Context, country string) (domain.CountryStats, bool, error) {
	raw, err := c.rdb.Get(ctx, statsKey(country)).Result()
	if errors.Is(err, redis.Nil) {
		return domain.CountryStats{}, false, nil
	}
	if err != nil {
		return domain.CountryStats{}, false, fmt.Errorf("op=cache.get_stats: %w", err)
	}
	var stats domain.CountryStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		// Poisoned entry: drop it and report a miss.
		_ = c.rdb.Del(ctx, statsKey(country)).Err()
		return domain.CountryStats{}, false, nil
	}
	return stats, true, nil
}

func (c *Cache) SetStats(ctx domain.Context, stats domain.CountryStats, ttl time.Duration) error {
	payload, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("op=cache.set_stats: %w", err)
	}
	if err := c.rdb.Set(ctx, statsKey(stats.Country), payload, ttl).Err(); err != nil {
		return fmt.Errorf("op=cache.set_stats: %w", err)
	}
	return nil
}

// InvalidateApplication drops the application entry plus every cached
// stats aggregate, since any status change shifts the per-country
// counters.
func (c *Cache) InvalidateApplication(ctx domain.Context, applicationID string) error {
	keys := []string{applicationKey(applicationID)}

	iter := c.rdb.Scan(ctx, 0, statsKeyPattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate: %w", err)
	}

	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("op=cache.invalidate: %w", err)
	}
	return nil
}
