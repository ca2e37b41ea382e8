package repohost

import (
	"fmt"
	"net/url"
	"strings"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
)

// NormalizeRepoURL canonicalizes a repository URL: lowercases the host and
// owner/repo segments, strips a trailing ".git" and trailing slashes.
// Anything that does not look like a host URL with an owner/repo path is
// rejected.
func NormalizeRepoURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty URL", relayerrors.ErrInvalidRepoURL)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || !strings.Contains(u.Host, ".") {
		return "", fmt.Errorf("%w: %q", relayerrors.ErrInvalidRepoURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", relayerrors.ErrInvalidRepoURL, u.Scheme)
	}

	path := strings.Trim(u.Path, "/")
	path = strings.TrimSuffix(path, ".git")
	path = strings.Trim(path, "/")
	if path == "" {
		return "", fmt.Errorf("%w: missing owner/repo in %q", relayerrors.ErrInvalidRepoURL, raw)
	}

	segments := strings.Split(path, "/")
	if len(segments) < 2 {
		return "", fmt.Errorf("%w: missing repo segment in %q", relayerrors.ErrInvalidRepoURL, raw)
	}

	owner := strings.ToLower(segments[0])
	repo := strings.ToLower(segments[1])
	if owner == "" || repo == "" {
		return "", fmt.Errorf("%w: %q", relayerrors.ErrInvalidRepoURL, raw)
	}

	return fmt.Sprintf("https://%s/%s/%s", strings.ToLower(u.Host), owner, repo), nil
}

// ParseRepoCoordinates extracts (owner, repo) from a repository URL,
// normalizing it first.
func ParseRepoCoordinates(rawURL string) (owner, repo string, err error) {
	canonical, err := NormalizeRepoURL(rawURL)
	if err != nil {
		return "", "", err
	}
	u, _ := url.Parse(canonical)
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	return segments[0], segments[1], nil
}
