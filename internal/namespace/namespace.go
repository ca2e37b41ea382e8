// Package namespace defines the (repo, branch) coordinate all relay state
// is keyed under, and the KV key layout derived from it.
package namespace

import (
	"github.com/p-blackswan/relay/internal/repohost"
)

// Namespace is a normalized (repo URL, branch) pair.
type Namespace struct {
	RepoURL string
	Branch  string
}

// New normalizes the repo URL and returns the namespace. Fails with
// ErrInvalidRepoURL for unrecognizable URLs.
func New(rawRepoURL, branch string) (Namespace, error) {
	canonical, err := repohost.NormalizeRepoURL(rawRepoURL)
	if err != nil {
		return Namespace{}, err
	}
	return Namespace{RepoURL: canonical, Branch: branch}, nil
}

// LocksKey is the hash of path → serialized lock.
func (n Namespace) LocksKey() string { return "locks:" + n.RepoURL + ":" + n.Branch }

// GraphKey is the serialized dependency graph blob.
func (n Namespace) GraphKey() string { return "graph:" + n.RepoURL + ":" + n.Branch }

// GraphMetaKey holds the commit sha of the last graph build.
func (n Namespace) GraphMetaKey() string { return "graph:meta:" + n.RepoURL + ":" + n.Branch }

// FileSHAsKey is the hash of path → blob sha from the last known tree.
func (n Namespace) FileSHAsKey() string { return "graph:file_shas:" + n.RepoURL + ":" + n.Branch }

// ActivityKey is the newest-first list of activity events.
func (n Namespace) ActivityKey() string { return "activity:" + n.RepoURL + ":" + n.Branch }
