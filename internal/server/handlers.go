package server

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
	"github.com/p-blackswan/relay/internal/identity"
	"github.com/p-blackswan/relay/internal/kv"
	"github.com/p-blackswan/relay/internal/metrics"
	"github.com/p-blackswan/relay/internal/relay"
)

const (
	// requestDeadline bounds a coordination request end to end.
	requestDeadline = 5 * time.Second
	// graphDeadline allows a full graph build.
	graphDeadline = 30 * time.Second
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	svc        *relay.Service
	store      kv.Store
	cronSecret string
	metrics    *metrics.Metrics
	logger     zerolog.Logger
	startTime  time.Time
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(svc *relay.Service, store kv.Store, cronSecret string, m *metrics.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		svc:        svc,
		store:      store,
		cronSecret: cronSecret,
		metrics:    m,
		logger:     logger.With().Str("component", "handlers").Logger(),
		startTime:  time.Now(),
	}
}

func (h *Handlers) callerIdentity(c *fiber.Ctx) identity.Identity {
	return identity.FromHeaders(func(key string) string { return c.Get(key) })
}

func (h *Handlers) deadline(c *fiber.Ctx, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), d)
}

func (h *Handlers) observe(endpoint, outcome string, start time.Time) {
	if h.metrics == nil {
		return
	}
	h.metrics.RecordRequest(endpoint, outcome)
	h.metrics.ObserveDuration(endpoint, time.Since(start).Seconds())
}

// CheckStatus handles POST /check_status.
func (h *Handlers) CheckStatus(c *fiber.Ctx) error {
	start := time.Now()

	var req relay.CheckStatusRequest
	if err := c.BodyParser(&req); err != nil {
		h.observe("check_status", "invalid", start)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	ctx, cancel := h.deadline(c, requestDeadline)
	defer cancel()

	resp, err := h.svc.CheckStatus(ctx, h.callerIdentity(c), req)
	if err != nil {
		h.observe("check_status", "error", start)
		return h.mapError(c, err)
	}

	h.observe("check_status", "ok", start)
	return c.JSON(resp)
}

// PostStatus handles POST /post_status.
func (h *Handlers) PostStatus(c *fiber.Ctx) error {
	start := time.Now()

	var req relay.PostStatusRequest
	if err := c.BodyParser(&req); err != nil {
		h.observe("post_status", "invalid", start)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	ctx, cancel := h.deadline(c, requestDeadline)
	defer cancel()

	resp, err := h.svc.PostStatus(ctx, h.callerIdentity(c), req)
	if err != nil {
		if errors.Is(err, relay.ErrReleaseFailed) && resp != nil {
			h.observe("post_status", "release_failed", start)
			return c.Status(fiber.StatusInternalServerError).JSON(resp)
		}
		h.observe("post_status", "error", start)
		return h.mapError(c, err)
	}

	h.observe("post_status", "ok", start)
	return c.JSON(resp)
}

// Graph handles GET /graph.
func (h *Handlers) Graph(c *fiber.Ctx) error {
	start := time.Now()

	repoURL := c.Query("repo_url")
	branch := c.Query("branch")
	force := c.QueryBool("regenerate", false)

	ctx, cancel := h.deadline(c, graphDeadline)
	defer cancel()

	resp, err := h.svc.Graph(ctx, repoURL, branch, force)
	if err != nil {
		h.observe("graph", "error", start)
		return h.mapError(c, err)
	}

	h.observe("graph", "ok", start)
	return c.JSON(resp)
}

// Activity handles GET /activity.
func (h *Handlers) Activity(c *fiber.Ctx) error {
	start := time.Now()

	repoURL := c.Query("repo_url")
	branch := c.Query("branch")
	limit := c.QueryInt("limit", 0)

	ctx, cancel := h.deadline(c, requestDeadline)
	defer cancel()

	resp, err := h.svc.Activity(ctx, repoURL, branch, limit)
	if err != nil {
		h.observe("activity", "error", start)
		return h.mapError(c, err)
	}

	c.Set("Cache-Control", "no-store, max-age=0")
	h.observe("activity", "ok", start)
	return c.JSON(resp)
}

// ReleaseAll handles POST /release_all_locks.
func (h *Handlers) ReleaseAll(c *fiber.Ctx) error {
	start := time.Now()

	var req struct {
		RepoURL string `json:"repo_url"`
		Branch  string `json:"branch"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	ctx, cancel := h.deadline(c, requestDeadline)
	defer cancel()

	resp, err := h.svc.ReleaseAll(ctx, req.RepoURL, req.Branch)
	if err != nil {
		h.observe("release_all", "error", start)
		return h.mapError(c, err)
	}

	h.observe("release_all", "ok", start)
	return c.JSON(resp)
}

// Clear handles POST /clear_agent_and_feed.
func (h *Handlers) Clear(c *fiber.Ctx) error {
	start := time.Now()

	var req struct {
		RepoURL string `json:"repo_url"`
		Branch  string `json:"branch"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Missing required fields"})
	}

	ctx, cancel := h.deadline(c, requestDeadline)
	defer cancel()

	resp, err := h.svc.Clear(ctx, req.RepoURL, req.Branch)
	if err != nil {
		if resp != nil {
			// Partial failure: report which half went through.
			h.observe("clear", "partial", start)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error":         "clear failed",
				"locks_cleared": resp.LocksCleared,
				"feed_cleared":  resp.FeedCleared,
			})
		}
		h.observe("clear", "error", start)
		return h.mapError(c, err)
	}

	h.observe("clear", "ok", start)
	return c.JSON(resp)
}

// Cleanup handles GET /cleanup_stale_locks, guarded by the cron secret.
func (h *Handlers) Cleanup(c *fiber.Ctx) error {
	start := time.Now()

	if c.Get("Authorization") != "Bearer "+h.cronSecret {
		h.observe("cleanup", "unauthorized", start)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	ctx, cancel := h.deadline(c, graphDeadline)
	defer cancel()

	resp, err := h.svc.CleanupStaleLocks(ctx)
	if err != nil {
		h.observe("cleanup", "error", start)
		return h.mapError(c, err)
	}

	h.observe("cleanup", "ok", start)
	return c.JSON(resp)
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz. Ready means the KV store answers.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	ctx, cancel := h.deadline(c, 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "kv unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ready"})
}

// mapError translates core errors onto the HTTP contract. Business
// outcomes never reach here — they are 200 bodies with success=false.
func (h *Handlers) mapError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, relayerrors.ErrValidation):
		var ve *relayerrors.ValidationError
		detail := "Missing required fields"
		if errors.As(err, &ve) {
			detail = ve.Detail
		}
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": detail})

	case errors.Is(err, relayerrors.ErrInvalidRepoURL):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})

	case errors.Is(err, relayerrors.ErrIdentityUnresolved):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "caller identity required"})

	case relayerrors.IsQuota(err):
		body := fiber.Map{
			"error":   "rate limited",
			"details": "Remote host API quota exhausted",
		}
		if ms := relayerrors.RetryAfterMs(err); ms > 0 {
			body["retry_after_ms"] = ms
		}
		return c.Status(fiber.StatusTooManyRequests).JSON(body)

	case errors.Is(err, relayerrors.ErrBranchNotFound):
		// Plain-JSON clients see the branch-not-found kind here; the agent
		// adapter calls the service directly and checks the error kind
		// itself for the master→main fallback.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "branch not found",
			"details": err.Error(),
		})

	case errors.Is(err, relayerrors.ErrUnreachable), errors.Is(err, relayerrors.ErrTimeout):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "remote host unreachable",
			"details": err.Error(),
		})

	case errors.Is(err, relayerrors.ErrLockStoreUnavailable):
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "lock store unavailable",
			"details": err.Error(),
		})

	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Msg("internal error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal error",
			"details": err.Error(),
		})
	}
}
