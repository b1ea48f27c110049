package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// AllowSlidingWindow records one event for the subject and reports whether it
// fits inside the window. Events live in a sorted set scored by timestamp;
// each call prunes expired members, adds the new one and counts what remains.
// Over the limit, the speculative member is removed again so a rejected call
// does not consume capacity.
func (c *Client) AllowSlidingWindow(ctx context.Context, subject string, limit int, window time.Duration) (bool, error) {
	key := "ratelimit:" + subject
	now := time.Now()
	cutoff := strconv.FormatInt(now.Add(-window).UnixMilli(), 10)
	member := uuid.NewString()

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", cutoff)
	pipe.ZAdd(ctx, key, &redis.Z{Score: float64(now.UnixMilli()), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window+time.Second)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit pipeline failed: %w", err)
	}

	if countCmd.Val() > int64(limit) {
		c.client.ZRem(ctx, key, member)
		return false, nil
	}

	return true, nil
}

// IncrDaily atomically increments the user's counter for the given UTC day
// and returns the new value
func (c *Client) IncrDaily(ctx context.Context, user, day string, ttl time.Duration) (int64, error) {
	key := dailyKey(user, day)

	pipe := c.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota increment failed: %w", err)
	}

	return incrCmd.Val(), nil
}

// GetDaily reads the user's counter for the given UTC day; a missing key
// reads as zero
func (c *Client) GetDaily(ctx context.Context, user, day string) (int64, error) {
	val, err := c.client.Get(ctx, dailyKey(user, day)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

func dailyKey(user, day string) string {
	return fmt.Sprintf("quota:user:%s:%s", user, day)
}
