package badger

import (
	"context"
	"testing"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	anchoringtest "github.com/marmos91/dittodsu/pkg/anchoring/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerPersistence(t *testing.T) {
	suite := &anchoringtest.PersistenceTestSuite{
		NewPersistence: func(t *testing.T) anchoring.Persistence {
			p, err := New(context.Background(), Config{DBPath: t.TempDir()})
			require.NoError(t, err)
			t.Cleanup(func() { _ = p.Close() })
			return p
		},
	}
	suite.Run(t)
}

func TestBadgerPersistence_Reopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	require.NoError(t, p.CreateAnchor(ctx, "default", "a", "v0"))
	require.NoError(t, p.AppendAnchor(ctx, "default", "a", "v1"))
	require.NoError(t, p.Close())

	p, err = New(ctx, Config{DBPath: dir})
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	versions, err := p.GetAllVersions(ctx, "default", "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"v0", "v1"}, versions)
}

func TestBadgerPersistence_RequiresPath(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
}
