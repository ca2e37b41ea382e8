// Package lockreg implements the atomic multi-file lock registry.
//
// All mutations run as server-side scripts so a multi-file acquire either
// writes every requested lock or none. Expired locks are invisible to
// reads and non-blocking to acquisitions whether or not a cleanup pass
// has removed them yet.
package lockreg

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/namespace"
)

// ReasonFileConflict is the normal-outcome reason for a refused acquire.
const ReasonFileConflict = "FILE_CONFLICT"

// acquireScript checks every requested path before writing anything.
// ARGV: now, callerID, n, path_1..path_n, lock_1..lock_n.
// Returns {0, blockingPath, ownerID} on conflict, {1} on success.
const acquireScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local caller = ARGV[2]
local n = tonumber(ARGV[3])
for i = 1, n do
  local path = ARGV[3 + i]
  local raw = redis.call('HGET', key, path)
  if raw then
    local ok, lock = pcall(cjson.decode, raw)
    if ok and lock.expiry and now < tonumber(lock.expiry) and lock.user_id ~= caller then
      return {0, path, lock.user_id}
    end
  end
end
for i = 1, n do
  redis.call('HSET', key, ARGV[3 + i], ARGV[3 + n + i])
end
return {1}
`

// releaseScript deletes only fields owned by the caller.
// ARGV: callerID, path_1..path_n. Returns the number removed.
const releaseScript = `
local key = KEYS[1]
local caller = ARGV[1]
local removed = 0
for i = 2, #ARGV do
  local raw = redis.call('HGET', key, ARGV[i])
  if raw then
    local ok, lock = pcall(cjson.decode, raw)
    if ok and lock.user_id == caller then
      redis.call('HDEL', key, ARGV[i])
      removed = removed + 1
    end
  end
end
return removed
`

// releaseAllScript clears the namespace, returning the prior cardinality.
const releaseAllScript = `
local n = redis.call('HLEN', KEYS[1])
redis.call('DEL', KEYS[1])
return n
`

// cleanupScript removes expired or unparsable fields.
// ARGV: now. Returns the number removed.
const cleanupScript = `
local key = KEYS[1]
local now = tonumber(ARGV[1])
local removed = 0
local fields = redis.call('HKEYS', key)
for i = 1, #fields do
  local raw = redis.call('HGET', key, fields[i])
  if raw then
    local ok, lock = pcall(cjson.decode, raw)
    if not ok or not lock.expiry or now >= tonumber(lock.expiry) then
      redis.call('HDEL', key, fields[i])
      removed = removed + 1
    end
  end
end
return removed
`

// Registry is the lock registry over a KV store.
type Registry struct {
	store  kv.Store
	logger zerolog.Logger
}

// New creates a lock registry.
func New(store kv.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.With().Str("component", "lockreg").Logger(),
	}
}

// AcquireRequest describes a multi-file acquire.
type AcquireRequest struct {
	NS        namespace.Namespace
	Paths     []string
	UserID    string
	UserName  string
	Status    string
	AgentHead string
	Message   string
	NowMs     int64
}

// AcquireResult is the outcome of an acquire. A conflict is a normal
// outcome, not an error: Success=false with Reason=FILE_CONFLICT.
type AcquireResult struct {
	Success         bool
	Locks           []Lock
	Reason          string
	ConflictingFile string
	ConflictingUser string
}

// Acquire takes every requested lock or none. Duplicate paths collapse to
// a single lock. An existing lock held by the caller is overwritten,
// refreshing timestamp and expiry.
func (r *Registry) Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error) {
	paths := dedupPaths(req.Paths)
	if len(paths) == 0 {
		return AcquireResult{Success: true}, nil
	}

	locks := make([]Lock, len(paths))
	args := make([]interface{}, 0, 3+2*len(paths))
	args = append(args, req.NowMs, req.UserID, len(paths))
	for _, p := range paths {
		args = append(args, p)
	}
	for i, p := range paths {
		locks[i] = Lock{
			FilePath:  p,
			UserID:    req.UserID,
			UserName:  req.UserName,
			Status:    req.Status,
			AgentHead: req.AgentHead,
			Message:   req.Message,
			Timestamp: req.NowMs,
			Expiry:    req.NowMs + LockTTLMillis,
		}
		raw, err := locks[i].marshal()
		if err != nil {
			return AcquireResult{}, fmt.Errorf("encoding lock: %w", err)
		}
		args = append(args, raw)
	}

	res, err := r.store.Eval(ctx, acquireScript, []string{req.NS.LocksKey()}, args...)
	if err != nil {
		return AcquireResult{}, fmt.Errorf("%w: acquire: %v", relayerrors.ErrLockStoreUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return AcquireResult{}, fmt.Errorf("%w: acquire: unexpected script reply", relayerrors.ErrLockStoreUnavailable)
	}

	if asInt(reply[0]) == 1 {
		return AcquireResult{Success: true, Locks: locks}, nil
	}

	out := AcquireResult{Success: false, Reason: ReasonFileConflict}
	if len(reply) >= 3 {
		out.ConflictingFile = asString(reply[1])
		out.ConflictingUser = asString(reply[2])
	}
	return out, nil
}

// Release deletes the caller's locks on the given paths. Fields owned by
// other users are silently ignored. Idempotent.
func (r *Registry) Release(ctx context.Context, ns namespace.Namespace, paths []string, userID string) (int64, error) {
	paths = dedupPaths(paths)
	if len(paths) == 0 {
		return 0, nil
	}

	args := make([]interface{}, 0, 1+len(paths))
	args = append(args, userID)
	for _, p := range paths {
		args = append(args, p)
	}

	res, err := r.store.Eval(ctx, releaseScript, []string{ns.LocksKey()}, args...)
	if err != nil {
		return 0, fmt.Errorf("%w: release: %v", relayerrors.ErrLockStoreUnavailable, err)
	}
	return asInt(res), nil
}

// ReleaseAll clears every lock in the namespace and returns how many there
// were.
func (r *Registry) ReleaseAll(ctx context.Context, ns namespace.Namespace) (int64, error) {
	res, err := r.store.Eval(ctx, releaseAllScript, []string{ns.LocksKey()})
	if err != nil {
		return 0, fmt.Errorf("%w: release all: %v", relayerrors.ErrLockStoreUnavailable, err)
	}
	return asInt(res), nil
}

// List returns all active locks keyed by path. Expired fields are skipped
// and opportunistically pruned.
func (r *Registry) List(ctx context.Context, ns namespace.Namespace, nowMs int64) (map[string]Lock, error) {
	fields, err := r.store.HGetAll(ctx, ns.LocksKey())
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", relayerrors.ErrLockStoreUnavailable, err)
	}

	out := make(map[string]Lock, len(fields))
	var stale []string
	for path, raw := range fields {
		lock, err := unmarshalLock(raw)
		if err != nil {
			r.logger.Warn().Str("path", path).Err(err).Msg("dropping unparsable lock field")
			stale = append(stale, path)
			continue
		}
		if !lock.Active(nowMs) {
			stale = append(stale, path)
			continue
		}
		out[path] = lock
	}

	if len(stale) > 0 {
		// Best-effort prune; correctness never depends on it. The cleanup
		// script re-checks expiry atomically, so a lock re-acquired since
		// the read above is never removed.
		if _, err := r.store.Eval(ctx, cleanupScript, []string{ns.LocksKey()}, nowMs); err != nil {
			r.logger.Debug().Err(err).Msg("opportunistic prune failed")
		}
	}

	return out, nil
}

// CleanupExpired scans the namespace and removes expired fields. Safe to
// run concurrently with any other operation.
func (r *Registry) CleanupExpired(ctx context.Context, ns namespace.Namespace, nowMs int64) (int64, error) {
	res, err := r.store.Eval(ctx, cleanupScript, []string{ns.LocksKey()}, nowMs)
	if err != nil {
		return 0, fmt.Errorf("%w: cleanup: %v", relayerrors.ErrLockStoreUnavailable, err)
	}
	return asInt(res), nil
}

// CleanupAll runs CleanupExpired over every lock namespace in the store.
func (r *Registry) CleanupAll(ctx context.Context, nowMs int64) (int64, error) {
	keys, err := r.store.Keys(ctx, "locks:*")
	if err != nil {
		return 0, fmt.Errorf("%w: scanning namespaces: %v", relayerrors.ErrLockStoreUnavailable, err)
	}

	var total int64
	for _, key := range keys {
		res, err := r.store.Eval(ctx, cleanupScript, []string{key}, nowMs)
		if err != nil {
			r.logger.Warn().Str("key", key).Err(err).Msg("cleanup failed for namespace")
			continue
		}
		total += asInt(res)
	}
	return total, nil
}

func dedupPaths(paths []string) []string {
	seen := make(map[string]struct{}, len(paths))
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

func asInt(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case string:
		if n == "1" {
			return 1
		}
	}
	return 0
}

func asString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
