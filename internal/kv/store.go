// Package kv abstracts the key/value store backing all coordination state.
//
// The lock registry depends on Eval being truly atomic: the script runs as
// one step with no interleaved commands. Redis guarantees this for Lua
// scripts; any replacement backend must provide an equivalent primitive.
package kv

import (
	"context"
	"errors"
)

// ErrNil is returned by Get when the key does not exist.
var ErrNil = errors.New("kv: nil")

// Store is the key/value capability set the relay core needs.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Del(ctx context.Context, keys ...string) (int64, error)

	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key string, fieldValues map[string]string) error
	HDel(ctx context.Context, key string, fields ...string) (int64, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HLen(ctx context.Context, key string) (int64, error)

	LPush(ctx context.Context, key string, values ...string) (int64, error)
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)

	// Keys returns all keys matching the glob pattern. Used only by the
	// cleanup job, which tolerates SCAN-grade consistency.
	Keys(ctx context.Context, pattern string) ([]string, error)
	// DelPattern deletes all keys matching the glob pattern and returns
	// the number removed.
	DelPattern(ctx context.Context, pattern string) (int64, error)

	// Eval runs a server-side script atomically over keys with args.
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error)

	// Ping verifies connectivity. Used by the readiness probe.
	Ping(ctx context.Context) error

	Close() error
}
