package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
)

func headers(m map[string]string) HeaderGetter {
	return func(key string) string { return m[key] }
}

func TestFromHeaders(t *testing.T) {
	tests := []struct {
		name        string
		headers     map[string]string
		wantUserID  string
		wantDisplay string
	}{
		{
			name:        "both headers",
			headers:     map[string]string{"x-github-user": "uid", "x-github-username": "display"},
			wantUserID:  "uid",
			wantDisplay: "display",
		},
		{
			name:        "user only",
			headers:     map[string]string{"x-github-user": "uid"},
			wantUserID:  "uid",
			wantDisplay: "uid",
		},
		{
			name:        "username only",
			headers:     map[string]string{"x-github-username": "display"},
			wantUserID:  "display",
			wantDisplay: "display",
		},
		{
			name:        "none",
			headers:     map[string]string{},
			wantUserID:  Anonymous,
			wantDisplay: Anonymous,
		},
		{
			name:        "whitespace trimmed",
			headers:     map[string]string{"x-github-user": "  uid  "},
			wantUserID:  "uid",
			wantDisplay: "uid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := FromHeaders(headers(tt.headers))
			assert.Equal(t, tt.wantUserID, id.UserID)
			assert.Equal(t, tt.wantDisplay, id.DisplayName)
		})
	}
}

func TestRequireForWrite(t *testing.T) {
	anon := Identity{UserID: Anonymous, DisplayName: Anonymous}
	named := Identity{UserID: "uid", DisplayName: "uid"}

	assert.NoError(t, RequireForWrite(anon, false))
	assert.NoError(t, RequireForWrite(named, true))
	assert.ErrorIs(t, RequireForWrite(anon, true), relayerrors.ErrIdentityUnresolved)
}
