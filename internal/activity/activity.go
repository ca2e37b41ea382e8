// Package activity keeps a bounded newest-first feed of status
// transitions per namespace.
package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/namespace"
)

const (
	// MaxRetained bounds the feed length; the oldest entry is dropped
	// when a push would exceed it.
	MaxRetained = 500
	// DefaultReadLimit is the read size when the caller does not specify.
	DefaultReadLimit = 120
)

// Event is one status transition on one file.
type Event struct {
	ID        string `json:"id"`
	FilePath  string `json:"file_path"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// Feed records and serves activity events.
type Feed struct {
	store  kv.Store
	logger zerolog.Logger
}

// NewFeed creates an activity feed.
func NewFeed(store kv.Store, logger zerolog.Logger) *Feed {
	return &Feed{
		store:  store,
		logger: logger.With().Str("component", "activity").Logger(),
	}
}

// Record pushes one event per path and trims the feed. Events share the
// given timestamp; ids stay unique via the per-path index.
func (f *Feed) Record(ctx context.Context, ns namespace.Namespace, paths []string, userID, userName, status, message string, nowMs int64) error {
	if len(paths) == 0 {
		return nil
	}

	values := make([]string, 0, len(paths))
	for i, path := range paths {
		event := Event{
			ID:        fmt.Sprintf("%d-%s-%s-%s-%d", nowMs, userID, status, path, i),
			FilePath:  path,
			UserID:    userID,
			UserName:  userName,
			Status:    status,
			Message:   message,
			Timestamp: nowMs,
		}
		raw, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encoding activity event: %w", err)
		}
		values = append(values, string(raw))
	}

	key := ns.ActivityKey()
	if _, err := f.store.LPush(ctx, key, values...); err != nil {
		return fmt.Errorf("pushing activity: %w", err)
	}
	if err := f.store.LTrim(ctx, key, 0, MaxRetained-1); err != nil {
		return fmt.Errorf("trimming activity: %w", err)
	}
	return nil
}

// Recent returns the newest limit events, newest first. Unparsable
// entries are skipped.
func (f *Feed) Recent(ctx context.Context, ns namespace.Namespace, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultReadLimit
	}
	if limit > MaxRetained {
		limit = MaxRetained
	}

	raws, err := f.store.LRange(ctx, ns.ActivityKey(), 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("reading activity: %w", err)
	}

	events := make([]Event, 0, len(raws))
	for _, raw := range raws {
		var e Event
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			f.logger.Warn().Err(err).Msg("skipping unparsable activity entry")
			continue
		}
		events = append(events, e)
	}
	return events, nil
}

// Clear deletes the feed and returns how many entries it held.
func (f *Feed) Clear(ctx context.Context, ns namespace.Namespace) (int64, error) {
	key := ns.ActivityKey()
	n, err := f.store.LLen(ctx, key)
	if err != nil {
		return 0, fmt.Errorf("reading activity length: %w", err)
	}
	if _, err := f.store.Del(ctx, key); err != nil {
		return 0, fmt.Errorf("clearing activity: %w", err)
	}
	return n, nil
}
