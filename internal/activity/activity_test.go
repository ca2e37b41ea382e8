package activity

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/namespace"
)

func testFeed(t *testing.T) (*Feed, namespace.Namespace) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisFromClient(client, zerolog.Nop())

	ns, err := namespace.New("https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	return NewFeed(store, zerolog.Nop()), ns
}

func TestRecordAndRecent(t *testing.T) {
	feed, ns := testFeed(t)
	ctx := context.Background()

	err := feed.Record(ctx, ns, []string{"src/a.ts", "src/b.ts"}, "user-1", "User One", "WRITING", "working", 1000)
	require.NoError(t, err)
	err = feed.Record(ctx, ns, []string{"src/a.ts"}, "user-1", "User One", "OPEN", "done", 2000)
	require.NoError(t, err)

	events, err := feed.Recent(ctx, ns, 0)
	require.NoError(t, err)
	require.Len(t, events, 3)

	// Newest first.
	assert.Equal(t, "OPEN", events[0].Status)
	assert.Equal(t, int64(2000), events[0].Timestamp)
	assert.Equal(t, "WRITING", events[2].Status)
}

func TestRecord_IDsUniquePerPath(t *testing.T) {
	feed, ns := testFeed(t)
	ctx := context.Background()

	err := feed.Record(ctx, ns, []string{"a.ts", "b.ts"}, "u", "u", "READING", "", 5)
	require.NoError(t, err)

	events, err := feed.Recent(ctx, ns, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.NotEqual(t, events[0].ID, events[1].ID)
}

func TestTrimAtCapacity(t *testing.T) {
	feed, ns := testFeed(t)
	ctx := context.Background()

	for i := 0; i < MaxRetained+10; i++ {
		err := feed.Record(ctx, ns, []string{fmt.Sprintf("f%d.ts", i)}, "u", "u", "WRITING", "", int64(i))
		require.NoError(t, err)
	}

	events, err := feed.Recent(ctx, ns, MaxRetained)
	require.NoError(t, err)
	assert.Len(t, events, MaxRetained)

	// The newest survives; the oldest was dropped.
	assert.Equal(t, int64(MaxRetained+9), events[0].Timestamp)
	assert.Equal(t, int64(10), events[len(events)-1].Timestamp)
}

func TestRecent_LimitClamped(t *testing.T) {
	feed, ns := testFeed(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, feed.Record(ctx, ns, []string{"a.ts"}, "u", "u", "WRITING", "", int64(i)))
	}

	events, err := feed.Recent(ctx, ns, 3)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestClear(t *testing.T) {
	feed, ns := testFeed(t)
	ctx := context.Background()

	require.NoError(t, feed.Record(ctx, ns, []string{"a.ts", "b.ts"}, "u", "u", "WRITING", "", 1))

	n, err := feed.Clear(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	events, err := feed.Recent(ctx, ns, 0)
	require.NoError(t, err)
	assert.Empty(t, events)
}
