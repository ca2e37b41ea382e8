// Package requestid tags every relay request with a stable ID so log
// lines from the JSON and agent-protocol surfaces can be correlated.
package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// Header carries the request ID on both requests and responses.
const Header = "X-Request-ID"

const prefix = "req-"

// maxInboundLen bounds client-supplied IDs so log fields stay readable.
const maxInboundLen = 64

type ctxKey struct{}

// Mint creates a fresh relay request ID.
func Mint() string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return prefix + raw[:16]
}

// Ensure adopts a sane client-supplied ID or mints a fresh one, and
// returns the enriched context together with the ID in effect.
func Ensure(ctx context.Context, inbound string) (context.Context, string) {
	id := sanitize(inbound)
	if id == "" {
		id = Mint()
	}
	return context.WithValue(ctx, ctxKey{}, id), id
}

// FromContext extracts the request ID, or "" when none was attached.
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// sanitize accepts only short, printable-ASCII inbound IDs; anything
// else is discarded so a hostile client cannot inject log noise.
func sanitize(inbound string) string {
	inbound = strings.TrimSpace(inbound)
	if inbound == "" || len(inbound) > maxInboundLen {
		return ""
	}
	for _, r := range inbound {
		if r <= ' ' || r > '~' {
			return ""
		}
	}
	return inbound
}
