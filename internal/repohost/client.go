// Package repohost provides read-only access to the repository host.
package repohost

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v60/github"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
	"github.com/p-blackswan/relay/internal/retry"
)

const (
	headCacheTTL  = 30 * time.Second
	headCacheSize = 256
)

// TreeEntry is one path in a recursive repository tree.
type TreeEntry struct {
	Path string `json:"path"`
	SHA  string `json:"sha"`
	Size int    `json:"size"`
	Type string `json:"type"`
}

// Host is the read surface of the repository host the relay core consumes.
type Host interface {
	GetBranchHead(ctx context.Context, owner, repo, branch string) (string, error)
	GetRecursiveTree(ctx context.Context, owner, repo, commitSHA string) ([]TreeEntry, error)
	GetBlobContent(ctx context.Context, owner, repo, path, commitSHA string) ([]byte, error)
}

// Client wraps the GitHub REST API. A token is optional; setting one
// raises the quota.
type Client struct {
	gh        *github.Client
	headCache *lru.LRU[string, string]
	logger    zerolog.Logger
}

// NewClient creates a repository host client. token may be empty.
func NewClient(token string, logger zerolog.Logger) *Client {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	if token != "" {
		httpClient.Transport = &tokenTransport{token: token, base: http.DefaultTransport}
	}

	return &Client{
		gh:        github.NewClient(httpClient),
		headCache: lru.NewLRU[string, string](headCacheSize, nil, headCacheTTL),
		logger:    logger.With().Str("component", "repohost").Logger(),
	}
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req2 := req.Clone(req.Context())
	req2.Header.Set("Authorization", "token "+t.token)
	return t.base.RoundTrip(req2)
}

// GetBranchHead resolves the branch to its current commit sha. Results
// are cached for up to 30 seconds per (owner, repo, branch).
func (c *Client) GetBranchHead(ctx context.Context, owner, repo, branch string) (string, error) {
	cacheKey := owner + "/" + repo + "@" + branch
	if sha, ok := c.headCache.Get(cacheKey); ok {
		return sha, nil
	}

	ref, resp, err := c.gh.Git.GetRef(ctx, owner, repo, "heads/"+branch)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return "", fmt.Errorf("%w: %s on %s/%s", relayerrors.ErrBranchNotFound, branch, owner, repo)
		}
		return "", c.translate(err)
	}

	sha := ref.GetObject().GetSHA()
	if sha == "" {
		return "", relayerrors.NewAPIError("github", resp.StatusCode, "ref without object sha")
	}

	c.headCache.Add(cacheKey, sha)
	return sha, nil
}

// GetRecursiveTree lists every entry reachable from the commit. Transient
// host failures are retried with backoff.
func (c *Client) GetRecursiveTree(ctx context.Context, owner, repo, commitSHA string) ([]TreeEntry, error) {
	var tree *github.Tree
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		var err error
		tree, _, err = c.gh.Git.GetTree(ctx, owner, repo, commitSHA, true)
		if err != nil {
			return c.translate(err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	entries := make([]TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.GetType() != "blob" {
			continue
		}
		entries = append(entries, TreeEntry{
			Path: e.GetPath(),
			SHA:  e.GetSHA(),
			Size: e.GetSize(),
			Type: e.GetType(),
		})
	}

	if tree.GetTruncated() {
		c.logger.Warn().
			Str("repo", owner+"/"+repo).
			Str("commit", commitSHA).
			Msg("recursive tree truncated by host")
	}

	return entries, nil
}

// GetBlobContent fetches the raw bytes of path at the given commit.
func (c *Client) GetBlobContent(ctx context.Context, owner, repo, path, commitSHA string) ([]byte, error) {
	var content []byte
	err := retry.Do(ctx, retry.DefaultConfig(), func(ctx context.Context) error {
		file, _, resp, err := c.gh.Repositories.GetContents(ctx, owner, repo, path,
			&github.RepositoryContentGetOptions{Ref: commitSHA})
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusNotFound {
				return relayerrors.NewAPIError("github", http.StatusNotFound, "blob not found: "+path)
			}
			return c.translate(err)
		}
		if file == nil {
			return relayerrors.NewAPIError("github", resp.StatusCode, "path is not a file: "+path)
		}
		text, err := file.GetContent()
		if err != nil {
			return relayerrors.NewAPIError("github", resp.StatusCode, "decoding blob: "+err.Error())
		}
		content = []byte(text)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return content, nil
}

// translate maps go-github errors onto the relay error taxonomy.
func (c *Client) translate(err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		retryAfter := time.Until(rateErr.Rate.Reset.Time)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return relayerrors.NewQuotaError(retryAfter.Milliseconds(), err)
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var ms int64
		if abuseErr.RetryAfter != nil {
			ms = abuseErr.RetryAfter.Milliseconds()
		}
		return relayerrors.NewQuotaError(ms, err)
	}

	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return relayerrors.NewAPIError("github", ghErr.Response.StatusCode, ghErr.Message)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", relayerrors.ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", relayerrors.ErrUnreachable, err)
}
