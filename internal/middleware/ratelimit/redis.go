package ratelimit

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore shares fixed-window counters between instances. Redis errors fail open.
type RedisStore struct {
	Client  redis.UniversalClient
	Limit   int
	Window  time.Duration
	Prefix  string
	Timeout time.Duration
	Now     func() time.Time
}

func NewRedisStore(client redis.UniversalClient, limit int, window time.Duration) *RedisStore {
	return &RedisStore{
		Client:  client,
		Limit:   limit,
		Window:  window,
		Prefix:  "ratelimit:",
		Timeout: 500 * time.Millisecond,
		Now:     time.Now,
	}
}

func (s *RedisStore) key(identifier string) string {
	slot := s.Now().UnixNano() / int64(s.Window)
	return s.Prefix + identifier + ":" + strconv.FormatInt(slot, 10)
}

func (s *RedisStore) Allow(identifier string) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	key := s.key(identifier)
	var incr *redis.IntCmd
	_, err := s.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, s.Window)
		return nil
	})
	if err != nil {
		slog.Warn("rate limit store unavailable", "error", err)
		return true, nil
	}
	return incr.Val() <= int64(s.Limit), nil
}

func (s *RedisStore) ResetAfter(string) time.Duration {
	now := s.Now().UnixNano()
	w := int64(s.Window)
	return time.Duration(w - now%w)
}
