package kv

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// redisStore implements Store on top of go-redis.
type redisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedis connects to the KV store at url (redis:// or rediss://).
// token, when non-empty, overrides the password embedded in the URL.
func NewRedis(url, token string, logger zerolog.Logger) (Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing KV URL: %w", err)
	}
	if token != "" {
		opts.Password = token
	}

	return &redisStore{
		client: redis.NewClient(opts),
		logger: logger.With().Str("component", "kv").Logger(),
	}, nil
}

// NewRedisFromClient wraps an existing client (useful for testing against
// miniredis).
func NewRedisFromClient(client *redis.Client, logger zerolog.Logger) Store {
	return &redisStore{client: client, logger: logger.With().Str("component", "kv").Logger()}
}

func (s *redisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	return v, err
}

func (s *redisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *redisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	return s.client.Del(ctx, keys...).Result()
}

func (s *redisStore) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNil
	}
	return v, err
}

func (s *redisStore) HSet(ctx context.Context, key string, fieldValues map[string]string) error {
	if len(fieldValues) == 0 {
		return nil
	}
	flat := make([]interface{}, 0, len(fieldValues)*2)
	for f, v := range fieldValues {
		flat = append(flat, f, v)
	}
	return s.client.HSet(ctx, key, flat...).Err()
}

func (s *redisStore) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	return s.client.HDel(ctx, key, fields...).Result()
}

func (s *redisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	return s.client.HGetAll(ctx, key).Result()
}

func (s *redisStore) HLen(ctx context.Context, key string) (int64, error) {
	return s.client.HLen(ctx, key).Result()
}

func (s *redisStore) LPush(ctx context.Context, key string, values ...string) (int64, error) {
	if len(values) == 0 {
		return s.client.LLen(ctx, key).Result()
	}
	flat := make([]interface{}, len(values))
	for i, v := range values {
		flat[i] = v
	}
	return s.client.LPush(ctx, key, flat...).Result()
}

func (s *redisStore) LTrim(ctx context.Context, key string, start, stop int64) error {
	return s.client.LTrim(ctx, key, start, stop).Err()
}

func (s *redisStore) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *redisStore) LLen(ctx context.Context, key string) (int64, error) {
	return s.client.LLen(ctx, key).Result()
}

func (s *redisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		out = append(out, keys...)
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

func (s *redisStore) DelPattern(ctx context.Context, pattern string) (int64, error) {
	keys, err := s.Keys(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	return s.client.Del(ctx, keys...).Result()
}

func (s *redisStore) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	return s.client.Eval(ctx, script, keys, args...).Result()
}

func (s *redisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *redisStore) Close() error {
	return s.client.Close()
}
