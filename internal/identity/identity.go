// Package identity extracts the caller identity from request headers.
package identity

import (
	"strings"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
)

const (
	headerUser     = "x-github-user"
	headerUsername = "x-github-username"

	// Anonymous is the fallback identity when no header is present.
	Anonymous = "anonymous"
)

// Identity is the resolved caller identity for a single request.
type Identity struct {
	// UserID is the stable identity used for lock ownership.
	UserID string
	// DisplayName is shown to observers; never used for ownership checks.
	DisplayName string
}

// HeaderGetter abstracts header lookup so both fiber and net/http
// request types can be adapted without copying headers.
type HeaderGetter func(key string) string

// FromHeaders resolves the caller identity. UserID prefers x-github-user,
// DisplayName prefers x-github-username; both fall back to the other
// header and finally to "anonymous".
func FromHeaders(get HeaderGetter) Identity {
	user := strings.TrimSpace(get(headerUser))
	username := strings.TrimSpace(get(headerUsername))

	id := Identity{UserID: user, DisplayName: username}
	if id.UserID == "" {
		id.UserID = username
	}
	if id.DisplayName == "" {
		id.DisplayName = user
	}
	if id.UserID == "" {
		id.UserID = Anonymous
	}
	if id.DisplayName == "" {
		id.DisplayName = Anonymous
	}
	return id
}

// RequireForWrite enforces strict mode on write paths. With strict off
// (the default) an anonymous identity passes through unchanged.
func RequireForWrite(id Identity, strict bool) error {
	if strict && id.UserID == Anonymous {
		return relayerrors.ErrIdentityUnresolved
	}
	return nil
}
