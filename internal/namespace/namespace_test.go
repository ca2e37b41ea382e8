package namespace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	relayerrors "github.com/p-blackswan/relay/internal/errors"
)

func TestNew_NormalizesRepoURL(t *testing.T) {
	ns, err := New("https://GitHub.com/Acme/Widgets.git", "main")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/widgets", ns.RepoURL)
	assert.Equal(t, "main", ns.Branch)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New("nope", "main")
	assert.ErrorIs(t, err, relayerrors.ErrInvalidRepoURL)
}

func TestKeyLayout(t *testing.T) {
	ns, err := New("https://github.com/acme/widgets", "main")
	require.NoError(t, err)

	assert.Equal(t, "locks:https://github.com/acme/widgets:main", ns.LocksKey())
	assert.Equal(t, "graph:https://github.com/acme/widgets:main", ns.GraphKey())
	assert.Equal(t, "graph:meta:https://github.com/acme/widgets:main", ns.GraphMetaKey())
	assert.Equal(t, "graph:file_shas:https://github.com/acme/widgets:main", ns.FileSHAsKey())
	assert.Equal(t, "activity:https://github.com/acme/widgets:main", ns.ActivityKey())
}
