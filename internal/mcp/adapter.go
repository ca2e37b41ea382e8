package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
	"github.com/p-blackswan/relay/internal/identity"
	"github.com/p-blackswan/relay/internal/orchestrate"
	"github.com/p-blackswan/relay/internal/relay"
)

const (
	defaultBranch  = "master"
	fallbackBranch = "main"
)

// Adapter translates tool calls into core service calls and folds every
// infrastructure failure into a constant orchestration envelope so agents
// always see the same shape.
type Adapter struct {
	svc *relay.Service
	// canonicalRepoURL, when set, replaces the repo URL supplied by the
	// agent. Deployment narrowing, not a core contract.
	canonicalRepoURL string
	logger           zerolog.Logger
}

// NewAdapter creates the tool adapter.
func NewAdapter(svc *relay.Service, canonicalRepoURL string, logger zerolog.Logger) *Adapter {
	return &Adapter{
		svc:              svc,
		canonicalRepoURL: canonicalRepoURL,
		logger:           logger.With().Str("component", "mcp_adapter").Logger(),
	}
}

// ToolResult is the tool-call reply shape: a JSON text block plus the
// structured payload verbatim.
type ToolResult struct {
	Content           []ContentBlock `json:"content"`
	StructuredContent interface{}    `json:"structuredContent"`
	IsError           bool           `json:"isError,omitempty"`
}

// ContentBlock is one piece of tool output.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type checkArgs struct {
	Username  string   `json:"username"`
	FilePaths []string `json:"file_paths"`
	AgentHead string   `json:"agent_head"`
	RepoURL   string   `json:"repo_url"`
	Branch    string   `json:"branch"`
}

type postArgs struct {
	Username    string   `json:"username"`
	FilePaths   []string `json:"file_paths"`
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	AgentHead   string   `json:"agent_head"`
	NewRepoHead string   `json:"new_repo_head"`
	RepoURL     string   `json:"repo_url"`
	Branch      string   `json:"branch"`
}

// Call dispatches a named tool with raw JSON arguments.
func (a *Adapter) Call(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	switch name {
	case "check_status":
		var ca checkArgs
		if err := json.Unmarshal(args, &ca); err != nil {
			return nil, fmt.Errorf("invalid check_status arguments: %w", err)
		}
		return a.checkStatus(ctx, ca), nil

	case "post_status":
		var pa postArgs
		if err := json.Unmarshal(args, &pa); err != nil {
			return nil, fmt.Errorf("invalid post_status arguments: %w", err)
		}
		return a.postStatus(ctx, pa), nil

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// callerFor builds the identity the internal call runs under: the
// normalized username becomes both identity headers.
func callerFor(username string) identity.Identity {
	normalized := strings.TrimSpace(username)
	if normalized == "" {
		normalized = identity.Anonymous
	}
	return identity.Identity{UserID: normalized, DisplayName: normalized}
}

func (a *Adapter) repoURL(supplied string) string {
	if a.canonicalRepoURL != "" {
		return a.canonicalRepoURL
	}
	return supplied
}

func (a *Adapter) checkStatus(ctx context.Context, args checkArgs) *ToolResult {
	caller := callerFor(args.Username)

	branch := args.Branch
	branchDefaulted := branch == ""
	if branchDefaulted {
		branch = defaultBranch
	}

	req := relay.CheckStatusRequest{
		RepoURL:   a.repoURL(args.RepoURL),
		Branch:    branch,
		FilePaths: args.FilePaths,
		AgentHead: args.AgentHead,
	}

	resp, err := a.svc.CheckStatus(ctx, caller, req)
	if err != nil && branchDefaulted && errors.Is(err, relayerrors.ErrBranchNotFound) {
		// The agent never picked a branch; try main exactly once.
		req.Branch = fallbackBranch
		resp, err = a.svc.CheckStatus(ctx, caller, req)
	}
	if err != nil {
		return a.checkErrorEnvelope(err)
	}
	return toolResult(resp)
}

func (a *Adapter) postStatus(ctx context.Context, args postArgs) *ToolResult {
	caller := callerFor(args.Username)

	branch := args.Branch
	branchDefaulted := branch == ""
	if branchDefaulted {
		branch = defaultBranch
	}

	req := relay.PostStatusRequest{
		RepoURL:     a.repoURL(args.RepoURL),
		Branch:      branch,
		FilePaths:   args.FilePaths,
		Status:      args.Status,
		Message:     args.Message,
		AgentHead:   args.AgentHead,
		NewRepoHead: args.NewRepoHead,
	}

	resp, err := a.svc.PostStatus(ctx, caller, req)
	if err != nil && branchDefaulted && errors.Is(err, relayerrors.ErrBranchNotFound) {
		req.Branch = fallbackBranch
		resp, err = a.svc.PostStatus(ctx, caller, req)
	}
	if err != nil {
		return a.postErrorEnvelope(err)
	}
	return toolResult(resp)
}

// checkErrorEnvelope folds an infrastructure failure into the offline
// check_status shape.
func (a *Adapter) checkErrorEnvelope(err error) *ToolResult {
	envelope := relay.CheckStatusResponse{
		Status:   orchestrate.StatusOffline,
		RepoHead: "unknown",
		Locks:    map[string]relay.LockView{},
	}

	switch {
	case relayerrors.IsQuota(err):
		reason := "Rate limited - retry later"
		if ms := relayerrors.RetryAfterMs(err); ms > 0 {
			reason = fmt.Sprintf("Rate limited - retry after %d ms", ms)
		}
		envelope.Warnings = []string{"RATE_LIMITED: Remote host API quota exhausted"}
		envelope.Orchestration = orchestrate.Stop(reason)

	case errors.Is(err, relayerrors.ErrValidation), errors.Is(err, relayerrors.ErrInvalidRepoURL):
		envelope.Warnings = []string{"REQUEST_REJECTED: " + err.Error()}
		envelope.Orchestration = orchestrate.Stop("Validation error: " + err.Error())

	case errors.Is(err, relayerrors.ErrUnreachable), errors.Is(err, relayerrors.ErrTimeout):
		envelope.Warnings = []string{"OFFLINE_MODE: Relay service unreachable"}
		envelope.Orchestration = orchestrate.SwitchTask("", "", "")
		envelope.Orchestration.Reason = "System Offline"

	default:
		envelope.Warnings = []string{"HTTP_ERROR: " + err.Error()}
		envelope.Orchestration = orchestrate.Stop("check_status failed: " + err.Error())
	}

	a.logger.Warn().Err(err).Msg("check_status folded into offline envelope")
	return toolResult(envelope)
}

// postErrorEnvelope folds an infrastructure failure into the post_status
// failure shape.
func (a *Adapter) postErrorEnvelope(err error) *ToolResult {
	envelope := relay.PostStatusResponse{Success: false}

	switch {
	case relayerrors.IsQuota(err):
		envelope.Orchestration = orchestrate.Stop("Rate limited - retry later")

	case errors.Is(err, relayerrors.ErrValidation), errors.Is(err, relayerrors.ErrInvalidRepoURL):
		envelope.Orchestration = orchestrate.Stop("Validation error: " + err.Error())

	case errors.Is(err, relayerrors.ErrUnreachable), errors.Is(err, relayerrors.ErrTimeout):
		envelope.Orchestration = orchestrate.Stop("Relay offline - cannot acquire lock")

	default:
		envelope.Orchestration = orchestrate.Stop("post_status failed: " + err.Error())
	}

	a.logger.Warn().Err(err).Msg("post_status folded into failure envelope")
	return toolResult(envelope)
}

func toolResult(payload interface{}) *ToolResult {
	text, err := json.Marshal(payload)
	if err != nil {
		text = []byte("{}")
	}
	return &ToolResult{
		Content:           []ContentBlock{{Type: "text", Text: string(text)}},
		StructuredContent: payload,
	}
}
