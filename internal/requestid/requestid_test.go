package requestid

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMint_Format(t *testing.T) {
	id := Mint()
	assert.True(t, strings.HasPrefix(id, "req-"), "id: %s", id)
	assert.Len(t, id, len("req-")+16)
	assert.NotEqual(t, id, Mint())
}

func TestEnsure_MintsWhenMissing(t *testing.T) {
	ctx, id := Ensure(context.Background(), "")
	assert.True(t, strings.HasPrefix(id, "req-"))
	assert.Equal(t, id, FromContext(ctx))
}

func TestEnsure_AdoptsInboundID(t *testing.T) {
	ctx, id := Ensure(context.Background(), "client-abc-123")
	assert.Equal(t, "client-abc-123", id)
	assert.Equal(t, "client-abc-123", FromContext(ctx))
}

func TestEnsure_RejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		inbound string
	}{
		{"control chars", "abc\ndef"},
		{"non-ascii", "héllo"},
		{"too long", strings.Repeat("x", 65)},
		{"only spaces", "   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, id := Ensure(context.Background(), tt.inbound)
			assert.True(t, strings.HasPrefix(id, "req-"), "rejected input must mint a fresh id, got %q", id)
		})
	}
}

func TestFromContext_Missing(t *testing.T) {
	assert.Empty(t, FromContext(context.Background()))
}
