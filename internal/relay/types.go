package relay

import (
	"github.com/p-blackswan/relay/internal/activity"
	"github.com/p-blackswan/relay/internal/depgraph"
	"github.com/p-blackswan/relay/internal/lockreg"
	"github.com/p-blackswan/relay/internal/orchestrate"
)

// Caller status values accepted by post_status.
const (
	StatusOpen    = "OPEN"
	StatusReading = lockreg.StatusReading
	StatusWriting = lockreg.StatusWriting
)

// maxMessageLen bounds the free-text message stored with a lock.
const maxMessageLen = 500

// CheckStatusRequest is the body of POST /check_status.
type CheckStatusRequest struct {
	RepoURL   string   `json:"repo_url"`
	Branch    string   `json:"branch"`
	FilePaths []string `json:"file_paths"`
	AgentHead string   `json:"agent_head"`
}

// PostStatusRequest is the body of POST /post_status.
type PostStatusRequest struct {
	RepoURL     string   `json:"repo_url"`
	Branch      string   `json:"branch"`
	FilePaths   []string `json:"file_paths"`
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	AgentHead   string   `json:"agent_head"`
	NewRepoHead string   `json:"new_repo_head"`
}

// LockView is the wire form of a lock. User aliases UserID for older
// consumers.
type LockView struct {
	FilePath  string `json:"file_path"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Status    string `json:"status"`
	AgentHead string `json:"agent_head"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
	Expiry    int64  `json:"expiry"`
	User      string `json:"user"`
	LockType  string `json:"lock_type,omitempty"`
}

func lockView(l lockreg.Lock, lockType string) LockView {
	return LockView{
		FilePath:  l.FilePath,
		UserID:    l.UserID,
		UserName:  l.UserName,
		Status:    l.Status,
		AgentHead: l.AgentHead,
		Message:   l.Message,
		Timestamp: l.Timestamp,
		Expiry:    l.Expiry,
		User:      l.UserID,
		LockType:  lockType,
	}
}

// CheckStatusResponse is the body of a successful check_status.
type CheckStatusResponse struct {
	Status        string              `json:"status"`
	RepoHead      string              `json:"repo_head"`
	Locks         map[string]LockView `json:"locks"`
	Warnings      []string            `json:"warnings,omitempty"`
	Orchestration orchestrate.Command `json:"orchestration"`
}

// PostStatusResponse is the body of a post_status reply. Business
// failures (stale, conflict, push-needed) are Success=false with the
// dictating orchestration, never HTTP errors.
type PostStatusResponse struct {
	Success              bool                `json:"success"`
	Locks                []LockView          `json:"locks,omitempty"`
	OrphanedDependencies []string            `json:"orphaned_dependencies,omitempty"`
	Orchestration        orchestrate.Command `json:"orchestration"`
}

// GraphResponse is the body of GET /graph.
type GraphResponse struct {
	Nodes    []depgraph.Node     `json:"nodes"`
	Edges    []depgraph.Edge     `json:"edges"`
	Locks    map[string]LockView `json:"locks"`
	Version  string              `json:"version"`
	Metadata depgraph.Metadata   `json:"metadata"`
}

// ActivityResponse is the body of GET /activity, oldest-first.
type ActivityResponse struct {
	ActivityEvents []activity.Event `json:"activity_events"`
}

// ReleaseAllResponse is the body of POST /release_all_locks.
type ReleaseAllResponse struct {
	Success  bool   `json:"success"`
	Released int64  `json:"released"`
	RepoURL  string `json:"repo_url"`
	Branch   string `json:"branch"`
}

// ClearResponse is the body of POST /clear_agent_and_feed.
type ClearResponse struct {
	Success      bool  `json:"success"`
	LocksCleared int64 `json:"locks_cleared"`
	FeedCleared  int64 `json:"feed_cleared"`
}

// CleanupResponse is the body of GET /cleanup_stale_locks.
type CleanupResponse struct {
	Success bool  `json:"success"`
	Removed int64 `json:"removed"`
}
