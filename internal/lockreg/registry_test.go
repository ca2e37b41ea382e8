package lockreg

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/namespace"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := kv.NewRedisFromClient(client, zerolog.Nop())
	return New(store, zerolog.Nop())
}

func testNS(t *testing.T) namespace.Namespace {
	t.Helper()
	ns, err := namespace.New("https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	return ns
}

const baseNow int64 = 1_700_000_000_000

func acquireOne(t *testing.T, r *Registry, ns namespace.Namespace, path, user string, now int64) AcquireResult {
	t.Helper()
	res, err := r.Acquire(context.Background(), AcquireRequest{
		NS:        ns,
		Paths:     []string{path},
		UserID:    user,
		UserName:  user,
		Status:    StatusWriting,
		AgentHead: "abc123",
		Message:   "editing",
		NowMs:     now,
	})
	require.NoError(t, err)
	return res
}

func TestAcquire_Single(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	res := acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	assert.True(t, res.Success)
	require.Len(t, res.Locks, 1)
	assert.Equal(t, "src/a.ts", res.Locks[0].FilePath)
	assert.Equal(t, baseNow, res.Locks[0].Timestamp)
	assert.Equal(t, baseNow+LockTTLMillis, res.Locks[0].Expiry)

	locks, err := r.List(context.Background(), ns, baseNow)
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	assert.Equal(t, "user-1", locks["src/a.ts"].UserID)
}

func TestAcquire_ConflictReportsFileAndOwner(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)

	res := acquireOne(t, r, ns, "src/a.ts", "user-2", baseNow+1000)
	assert.False(t, res.Success)
	assert.Equal(t, ReasonFileConflict, res.Reason)
	assert.Equal(t, "src/a.ts", res.ConflictingFile)
	assert.Equal(t, "user-1", res.ConflictingUser)
}

func TestAcquire_MultiFileAllOrNothing(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	acquireOne(t, r, ns, "src/b.ts", "user-1", baseNow)

	// user-2 asks for a and b; b is blocked, so a must stay unlocked too.
	res, err := r.Acquire(context.Background(), AcquireRequest{
		NS:     ns,
		Paths:  []string{"src/a.ts", "src/b.ts"},
		UserID: "user-2", UserName: "user-2",
		Status: StatusWriting, AgentHead: "abc", NowMs: baseNow + 10,
	})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "src/b.ts", res.ConflictingFile)

	locks, err := r.List(context.Background(), ns, baseNow+20)
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	_, aLocked := locks["src/a.ts"]
	assert.False(t, aLocked, "failed multi-acquire must not write any lock")
}

func TestAcquire_ReacquireBySameUserRefreshesExpiry(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	first := acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	require.True(t, first.Success)

	second := acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow+60_000)
	require.True(t, second.Success)
	assert.Equal(t, baseNow+60_000+LockTTLMillis, second.Locks[0].Expiry)

	locks, err := r.List(context.Background(), ns, baseNow+60_001)
	require.NoError(t, err)
	assert.Equal(t, baseNow+60_000, locks["src/a.ts"].Timestamp)
}

func TestAcquire_ExpiredLockDoesNotBlock(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)

	// Exactly at expiry the lock is gone.
	res := acquireOne(t, r, ns, "src/a.ts", "user-2", baseNow+LockTTLMillis)
	assert.True(t, res.Success)
}

func TestAcquire_DuplicatePathsCollapse(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)

	res, err := r.Acquire(context.Background(), AcquireRequest{
		NS:     ns,
		Paths:  []string{"src/a.ts", "src/a.ts"},
		UserID: "user-1", UserName: "user-1",
		Status: StatusReading, AgentHead: "abc", NowMs: baseNow,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Len(t, res.Locks, 1)
}

func TestRelease_OnlyOwnerFields(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	acquireOne(t, r, ns, "src/b.ts", "user-2", baseNow)

	released, err := r.Release(ctx, ns, []string{"src/a.ts", "src/b.ts"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	locks, err := r.List(ctx, ns, baseNow+1)
	require.NoError(t, err)
	_, bStays := locks["src/b.ts"]
	assert.True(t, bStays)
	assert.Len(t, locks, 1)
}

func TestRelease_Idempotent(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)

	released, err := r.Release(ctx, ns, []string{"src/a.ts"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), released)

	released, err = r.Release(ctx, ns, []string{"src/a.ts"}, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), released)
}

func TestAcquireThenRelease_RestoresPriorState(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	_, err := r.Release(ctx, ns, []string{"src/a.ts"}, "user-1")
	require.NoError(t, err)

	locks, err := r.List(ctx, ns, baseNow+1)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestReleaseAll(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	acquireOne(t, r, ns, "src/b.ts", "user-2", baseNow)

	n, err := r.ReleaseAll(ctx, ns)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	locks, err := r.List(ctx, ns, baseNow)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestList_FiltersExpired(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/old.ts", "user-1", baseNow)
	acquireOne(t, r, ns, "src/new.ts", "user-1", baseNow+LockTTLMillis)

	locks, err := r.List(ctx, ns, baseNow+LockTTLMillis)
	require.NoError(t, err)
	assert.Len(t, locks, 1)
	_, ok := locks["src/new.ts"]
	assert.True(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	r := testRegistry(t)
	ns := testNS(t)
	ctx := context.Background()

	acquireOne(t, r, ns, "src/a.ts", "user-1", baseNow)
	acquireOne(t, r, ns, "src/b.ts", "user-2", baseNow+100_000)

	removed, err := r.CleanupExpired(ctx, ns, baseNow+LockTTLMillis)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// No expired locks left: cleanup is a no-op.
	removed, err = r.CleanupExpired(ctx, ns, baseNow+LockTTLMillis)
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestCleanupAll_SpansNamespaces(t *testing.T) {
	r := testRegistry(t)
	ctx := context.Background()

	ns1, err := namespace.New("https://github.com/acme/widgets", "main")
	require.NoError(t, err)
	ns2, err := namespace.New("https://github.com/acme/gadgets", "dev")
	require.NoError(t, err)

	acquireOne(t, r, ns1, "src/a.ts", "user-1", baseNow)
	acquireOne(t, r, ns2, "src/b.ts", "user-2", baseNow)

	removed, err := r.CleanupAll(ctx, baseNow+LockTTLMillis)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)
}
