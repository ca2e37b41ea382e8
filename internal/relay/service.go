// Package relay implements the coordination core: the decision flow that
// turns head state, locks, and the dependency graph into verdicts.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/relay/internal/activity"
	"github.com/p-blackswan/relay/internal/clock"
	"github.com/p-blackswan/relay/internal/depgraph"
	relayerrors "github.com/p-blackswan/relay/internal/errors"
	"github.com/p-blackswan/relay/internal/identity"
	"github.com/p-blackswan/relay/internal/lockreg"
	"github.com/p-blackswan/relay/internal/metrics"
	"github.com/p-blackswan/relay/internal/namespace"
	"github.com/p-blackswan/relay/internal/orchestrate"
	"github.com/p-blackswan/relay/internal/repohost"
)

// ErrReleaseFailed marks a lock release that failed at the store layer.
// The request plane maps it to HTTP 500 with a STOP orchestration.
var ErrReleaseFailed = errors.New("lock release failed")

// Service wires the coordination components behind the request plane.
type Service struct {
	clock    clock.Clock
	host     repohost.Host
	locks    *lockreg.Registry
	graphs   *depgraph.Builder
	feed     *activity.Feed
	metrics  *metrics.Metrics
	strictID bool
	logger   zerolog.Logger
}

// New creates the relay service.
func New(clk clock.Clock, host repohost.Host, locks *lockreg.Registry, graphs *depgraph.Builder, feed *activity.Feed, m *metrics.Metrics, strictIdentity bool, logger zerolog.Logger) *Service {
	return &Service{
		clock:    clk,
		host:     host,
		locks:    locks,
		graphs:   graphs,
		feed:     feed,
		metrics:  m,
		strictID: strictIdentity,
		logger:   logger.With().Str("component", "relay").Logger(),
	}
}

// CheckStatus answers: is the caller current, and is anything it wants to
// touch (or a neighbor of it) claimed by someone else.
func (s *Service) CheckStatus(ctx context.Context, caller identity.Identity, req CheckStatusRequest) (*CheckStatusResponse, error) {
	if req.RepoURL == "" || req.Branch == "" || len(req.FilePaths) == 0 || req.AgentHead == "" {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}

	ns, err := namespace.New(req.RepoURL, req.Branch)
	if err != nil {
		return nil, err
	}

	owner, repo, err := repohost.ParseRepoCoordinates(ns.RepoURL)
	if err != nil {
		return nil, err
	}

	remoteHead, err := s.host.GetBranchHead(ctx, owner, repo, req.Branch)
	if err != nil {
		if s.metrics != nil && relayerrors.IsQuota(err) {
			s.metrics.QuotaHitsTotal.Inc()
		}
		return nil, err
	}

	now := s.clock.NowMillis()
	allLocks, err := s.locks.List(ctx, ns, now)
	if err != nil {
		return nil, err
	}

	// Read-only consult; never triggers a build.
	graph, err := s.graphs.GetCached(ctx, ns)
	if err != nil {
		s.logger.Warn().Err(err).Msg("graph read failed, continuing without neighbor overlay")
		graph = nil
	}

	tagged := orchestrate.TagLocks(allLocks, req.FilePaths, graph)
	verdict := orchestrate.ForCheck(caller.UserID, req.Branch, remoteHead, req.AgentHead, tagged)

	resp := &CheckStatusResponse{
		Status:        verdict.Status,
		RepoHead:      remoteHead,
		Locks:         make(map[string]LockView, len(tagged)),
		Orchestration: verdict.Command,
	}
	for path, l := range tagged {
		resp.Locks[path] = lockView(l.Lock, l.LockType)
	}
	if req.AgentHead != remoteHead {
		resp.Warnings = []string{fmt.Sprintf("STALE_BRANCH: Your branch is behind origin/%s", req.Branch)}
	}
	return resp, nil
}

// PostStatus applies a status transition: WRITING/READING acquire locks,
// OPEN releases them.
func (s *Service) PostStatus(ctx context.Context, caller identity.Identity, req PostStatusRequest) (*PostStatusResponse, error) {
	if req.RepoURL == "" || req.Branch == "" || len(req.FilePaths) == 0 {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}
	switch req.Status {
	case StatusOpen, StatusReading, StatusWriting:
	default:
		return nil, relayerrors.NewValidationError("Invalid status: " + req.Status)
	}
	if (req.Status == StatusWriting || req.Status == StatusReading) && req.AgentHead == "" {
		return nil, relayerrors.NewValidationError("agent_head is required for " + req.Status)
	}
	if err := identity.RequireForWrite(caller, s.strictID); err != nil {
		return nil, err
	}
	if len(req.Message) > maxMessageLen {
		req.Message = req.Message[:maxMessageLen]
	}

	ns, err := namespace.New(req.RepoURL, req.Branch)
	if err != nil {
		return nil, err
	}

	if req.Status == StatusOpen {
		return s.release(ctx, caller, ns, req)
	}
	return s.acquire(ctx, caller, ns, req)
}

func (s *Service) acquire(ctx context.Context, caller identity.Identity, ns namespace.Namespace, req PostStatusRequest) (*PostStatusResponse, error) {
	owner, repo, err := repohost.ParseRepoCoordinates(ns.RepoURL)
	if err != nil {
		return nil, err
	}

	remoteHead, err := s.host.GetBranchHead(ctx, owner, repo, req.Branch)
	if err != nil {
		if s.metrics != nil && relayerrors.IsQuota(err) {
			s.metrics.QuotaHitsTotal.Inc()
		}
		return nil, err
	}

	// WRITING demands a current tree. READING is advisory presence and
	// may proceed on a stale head.
	if req.Status == StatusWriting && req.AgentHead != remoteHead {
		return &PostStatusResponse{
			Success:       false,
			Orchestration: orchestrate.Pull(req.Branch, remoteHead),
		}, nil
	}

	now := s.clock.NowMillis()
	result, err := s.locks.Acquire(ctx, lockreg.AcquireRequest{
		NS:        ns,
		Paths:     req.FilePaths,
		UserID:    caller.UserID,
		UserName:  caller.DisplayName,
		Status:    req.Status,
		AgentHead: req.AgentHead,
		Message:   req.Message,
		NowMs:     now,
	})
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLockOp("acquire", "error")
		}
		return nil, err
	}

	if !result.Success {
		if s.metrics != nil {
			s.metrics.RecordLockOp("acquire", "conflict")
			s.metrics.ConflictsTotal.Inc()
		}
		return &PostStatusResponse{
			Success:       false,
			Orchestration: orchestrate.SwitchTaskConflict(result.ConflictingFile, result.ConflictingUser),
		}, nil
	}

	if s.metrics != nil {
		s.metrics.RecordLockOp("acquire", "ok")
	}

	if err := s.feed.Record(ctx, ns, paths(result.Locks), caller.UserID, caller.DisplayName, req.Status, req.Message, now); err != nil {
		// The lock write already happened; losing the event is acceptable.
		s.logger.Warn().Err(err).Msg("activity record failed after acquire")
	}

	views := make([]LockView, len(result.Locks))
	for i, l := range result.Locks {
		views[i] = lockView(l, "")
	}
	return &PostStatusResponse{
		Success:       true,
		Locks:         views,
		Orchestration: orchestrate.Proceed("Locks acquired; edit away"),
	}, nil
}

func (s *Service) release(ctx context.Context, caller identity.Identity, ns namespace.Namespace, req PostStatusRequest) (*PostStatusResponse, error) {
	// Releasing without having advanced the repo means the work was never
	// pushed; refuse and tell the caller to push first.
	if req.NewRepoHead != "" && req.AgentHead != "" && req.NewRepoHead == req.AgentHead {
		return &PostStatusResponse{
			Success:       false,
			Orchestration: orchestrate.Push(),
		}, nil
	}

	now := s.clock.NowMillis()
	released, err := s.locks.Release(ctx, ns, req.FilePaths, caller.UserID)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordLockOp("release", "error")
		}
		return &PostStatusResponse{
			Success:       false,
			Orchestration: orchestrate.Stop("Lock release failed; stop and report"),
		}, fmt.Errorf("%w: %v", ErrReleaseFailed, err)
	}

	if s.metrics != nil {
		s.metrics.RecordLockOp("release", "ok")
	}

	var orphaned []string
	if graph, err := s.graphs.GetCached(ctx, ns); err == nil && graph != nil {
		orphaned = graph.OrphanedDependents(req.FilePaths)
	}

	if err := s.feed.Record(ctx, ns, req.FilePaths, caller.UserID, caller.DisplayName, StatusOpen, req.Message, now); err != nil {
		s.logger.Warn().Err(err).Msg("activity record failed after release")
	}

	s.logger.Info().
		Str("user", caller.UserID).
		Int64("released", released).
		Int("orphaned", len(orphaned)).
		Msg("locks released")

	return &PostStatusResponse{
		Success:              true,
		OrphanedDependencies: orphaned,
		Orchestration:        orchestrate.Proceed("Locks released"),
	}, nil
}

// Graph returns the dependency graph with a fresh lock overlay,
// building it when absent or stale. force bypasses the head check.
func (s *Service) Graph(ctx context.Context, rawRepoURL, branch string, force bool) (*GraphResponse, error) {
	if rawRepoURL == "" || branch == "" {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}

	ns, err := namespace.New(rawRepoURL, branch)
	if err != nil {
		return nil, err
	}

	graph, err := s.graphs.Generate(ctx, ns, force)
	if err != nil {
		if s.metrics != nil && relayerrors.IsQuota(err) {
			s.metrics.QuotaHitsTotal.Inc()
		}
		return nil, err
	}

	allLocks, err := s.locks.List(ctx, ns, s.clock.NowMillis())
	if err != nil {
		return nil, err
	}

	resp := &GraphResponse{
		Nodes:    graph.Nodes,
		Edges:    graph.Edges,
		Locks:    make(map[string]LockView, len(allLocks)),
		Version:  graph.Version,
		Metadata: graph.Metadata,
	}
	for path, l := range allLocks {
		resp.Locks[path] = lockView(l, "")
	}
	return resp, nil
}

// Activity returns the newest events, oldest first for UI consumers.
func (s *Service) Activity(ctx context.Context, rawRepoURL, branch string, limit int) (*ActivityResponse, error) {
	if rawRepoURL == "" || branch == "" {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}

	ns, err := namespace.New(rawRepoURL, branch)
	if err != nil {
		return nil, err
	}

	events, err := s.feed.Recent(ctx, ns, limit)
	if err != nil {
		return nil, err
	}

	// Feed is newest-first; the wire contract is oldest-first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return &ActivityResponse{ActivityEvents: events}, nil
}

// ReleaseAll clears every lock in the namespace.
func (s *Service) ReleaseAll(ctx context.Context, rawRepoURL, branch string) (*ReleaseAllResponse, error) {
	if rawRepoURL == "" || branch == "" {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}

	ns, err := namespace.New(rawRepoURL, branch)
	if err != nil {
		return nil, err
	}

	released, err := s.locks.ReleaseAll(ctx, ns)
	if err != nil {
		return nil, err
	}
	return &ReleaseAllResponse{Success: true, Released: released, RepoURL: ns.RepoURL, Branch: ns.Branch}, nil
}

// Clear wipes both locks and the activity feed. On partial failure the
// response reports which half succeeded alongside the error.
func (s *Service) Clear(ctx context.Context, rawRepoURL, branch string) (*ClearResponse, error) {
	if rawRepoURL == "" || branch == "" {
		return nil, relayerrors.NewValidationError("Missing required fields")
	}

	ns, err := namespace.New(rawRepoURL, branch)
	if err != nil {
		return nil, err
	}

	resp := &ClearResponse{}
	locksCleared, lockErr := s.locks.ReleaseAll(ctx, ns)
	resp.LocksCleared = locksCleared

	feedCleared, feedErr := s.feed.Clear(ctx, ns)
	resp.FeedCleared = feedCleared

	if lockErr != nil || feedErr != nil {
		return resp, errors.Join(lockErr, feedErr)
	}
	resp.Success = true
	return resp, nil
}

// CleanupStaleLocks removes expired locks across every known namespace.
func (s *Service) CleanupStaleLocks(ctx context.Context) (*CleanupResponse, error) {
	removed, err := s.locks.CleanupAll(ctx, s.clock.NowMillis())
	if err != nil {
		return nil, err
	}
	return &CleanupResponse{Success: true, Removed: removed}, nil
}

func paths(locks []lockreg.Lock) []string {
	out := make([]string, len(locks))
	for i, l := range locks {
		out[i] = l.FilePath
	}
	return out
}
