package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flow_server/core/port/out"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

const scanBatch = 200

// RedisCache stores scores as plain strings with SET EX. Calls go through a circuit breaker;
// while it is open reads are misses and writes are dropped.
type RedisCache struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	log    zerolog.Logger
}

var _ out.ScoreCache = (*RedisCache)(nil)

func NewRedisCache(client *redis.Client, log zerolog.Logger) *RedisCache {
	log = log.With().Str("component", "score_cache").Logger()

	settings := gobreaker.Settings{
		Name:        "redis-score-cache",
		MaxRequests: 3,                // Half-open 상태에서 허용할 요청 수
		Interval:    60 * time.Second, // Closed 상태 카운터 리셋
		Timeout:     15 * time.Second, // Open 유지 시간
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 20 && failureRatio >= 0.5)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		},
	}

	return &RedisCache{
		client: client,
		cb:     gobreaker.NewCircuitBreaker(settings),
		log:    log,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	var (
		score float64
		found bool
	)
	err := c.execute(func() error {
		v, err := c.client.Get(ctx, key).Float64()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		score, found = v, true
		return nil
	})
	if isBreakerOpen(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return score, found, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, score float64, ttl time.Duration) error {
	if ttl <= 0 {
		return c.Delete(ctx, key)
	}
	err := c.execute(func() error {
		return c.client.Set(ctx, key, score, ttl).Err()
	})
	if isBreakerOpen(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	err := c.execute(func() error {
		return c.client.Del(ctx, key).Err()
	})
	if isBreakerOpen(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

// ClearPattern walks the keyspace with SCAN MATCH and deletes in batches.
func (c *RedisCache) ClearPattern(ctx context.Context, pattern string) (int, error) {
	removed := 0
	err := c.execute(func() error {
		var cursor uint64
		for {
			keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
			if err != nil {
				return err
			}
			if len(keys) > 0 {
				n, err := c.client.Del(ctx, keys...).Result()
				if err != nil {
					return err
				}
				removed += int(n)
			}
			cursor = next
			if cursor == 0 {
				return nil
			}
		}
	})
	if isBreakerOpen(err) {
		return 0, nil
	}
	if err != nil {
		return removed, fmt.Errorf("redis clear %s: %w", pattern, err)
	}
	return removed, nil
}

// Ping reports whether Redis answers.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// BreakerState is exposed on the health endpoint.
func (c *RedisCache) BreakerState() string {
	return c.cb.State().String()
}

func (c *RedisCache) execute(fn func() error) error {
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func isBreakerOpen(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
