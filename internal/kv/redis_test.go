package kv

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisFromClient(client, zerolog.Nop())
}

func TestGetSetDel(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNil)

	require.NoError(t, s.Set(ctx, "k", "v"))
	v, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	n, err := s.Del(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestHashOps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.HSet(ctx, "h", map[string]string{"f1": "v1", "f2": "v2"}))

	v, err := s.HGet(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, "v1", v)

	_, err = s.HGet(ctx, "h", "nope")
	assert.ErrorIs(t, err, ErrNil)

	all, err := s.HGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	n, err := s.HLen(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	removed, err := s.HDel(ctx, "h", "f1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}

func TestListOps(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.LPush(ctx, "l", "a", "b", "c")
	require.NoError(t, err)

	n, err := s.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	// LPUSH puts the newest at the head.
	vals, err := s.LRange(ctx, "l", 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, vals)

	require.NoError(t, s.LTrim(ctx, "l", 0, 0))
	n, err = s.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestKeysAndDelPattern(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "locks:repo1:main", "x"))
	require.NoError(t, s.Set(ctx, "locks:repo2:main", "x"))
	require.NoError(t, s.Set(ctx, "graph:repo1:main", "x"))

	keys, err := s.Keys(ctx, "locks:*")
	require.NoError(t, err)
	assert.Len(t, keys, 2)

	removed, err := s.DelPattern(ctx, "locks:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	keys, err = s.Keys(ctx, "locks:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestEval_Atomic(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	script := `
redis.call('SET', KEYS[1], ARGV[1])
return redis.call('GET', KEYS[1])
`
	res, err := s.Eval(ctx, script, []string{"k"}, "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", res)
}
