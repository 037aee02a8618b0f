package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/marmos91/dittodsu/pkg/anchoring"
	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// PersistenceTestSuite is a contract test suite for anchoring.Persistence
// implementations.
//
// Usage:
//
//	func TestMyPersistence(t *testing.T) {
//	    suite := &anchoringtest.PersistenceTestSuite{
//	        NewPersistence: func(t *testing.T) anchoring.Persistence {
//	            return mypersistence.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type PersistenceTestSuite struct {
	// NewPersistence creates a fresh, empty persistence for each test.
	NewPersistence func(t *testing.T) anchoring.Persistence
}

// Run executes all tests in the suite.
func (suite *PersistenceTestSuite) Run(t *testing.T) {
	t.Run("CreateAndRead", suite.testCreateAndRead)
	t.Run("CreateTwice", suite.testCreateTwice)
	t.Run("AppendKeepsOrder", suite.testAppendKeepsOrder)
	t.Run("AppendUnknown", suite.testAppendUnknown)
	t.Run("ReadUnknown", suite.testReadUnknown)
	t.Run("DomainsAreIsolated", suite.testDomainsAreIsolated)
	t.Run("ConcurrentAppends", suite.testConcurrentAppends)
}

func (suite *PersistenceTestSuite) testCreateAndRead(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.CreateAnchor(ctx, "default", "anchor1", "ssi:hl:default:v1"))

	versions, err := p.GetAllVersions(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, []string{"ssi:hl:default:v1"}, versions)

	last, err := p.GetLastVersion(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, "ssi:hl:default:v1", last)
}

func (suite *PersistenceTestSuite) testCreateTwice(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.CreateAnchor(ctx, "default", "anchor1", "v1"))

	err := p.CreateAnchor(ctx, "default", "anchor1", "v2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, anchoring.ErrAnchorExists))
	assert.Equal(t, 409, anchoring.StatusOf(err))

	versions, err := p.GetAllVersions(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, versions)
}

func (suite *PersistenceTestSuite) testAppendKeepsOrder(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.CreateAnchor(ctx, "default", "anchor1", "v0"))
	for i := 1; i < 5; i++ {
		require.NoError(t, p.AppendAnchor(ctx, "default", "anchor1", fmt.Sprintf("v%d", i)))
	}

	versions, err := p.GetAllVersions(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, []string{"v0", "v1", "v2", "v3", "v4"}, versions)

	last, err := p.GetLastVersion(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, "v4", last)
}

func (suite *PersistenceTestSuite) testAppendUnknown(t *testing.T) {
	p := suite.NewPersistence(t)

	err := p.AppendAnchor(context.Background(), "default", "ghost", "v1")
	require.Error(t, err)
	assert.True(t, fault.IsMissingData(err))
}

func (suite *PersistenceTestSuite) testReadUnknown(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	_, err := p.GetAllVersions(ctx, "default", "ghost")
	require.Error(t, err)
	assert.True(t, fault.IsMissingData(err))

	_, err = p.GetLastVersion(ctx, "default", "ghost")
	require.Error(t, err)
	assert.True(t, fault.IsMissingData(err))
}

func (suite *PersistenceTestSuite) testDomainsAreIsolated(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.CreateAnchor(ctx, "alpha", "anchor1", "a"))
	require.NoError(t, p.CreateAnchor(ctx, "beta", "anchor1", "b"))

	last, err := p.GetLastVersion(ctx, "alpha", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, "a", last)

	last, err = p.GetLastVersion(ctx, "beta", "anchor1")
	require.NoError(t, err)
	assert.Equal(t, "b", last)
}

func (suite *PersistenceTestSuite) testConcurrentAppends(t *testing.T) {
	p := suite.NewPersistence(t)
	ctx := context.Background()

	require.NoError(t, p.CreateAnchor(ctx, "default", "anchor1", "v0"))

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- p.AppendAnchor(ctx, "default", "anchor1", fmt.Sprintf("w%d", i))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	versions, err := p.GetAllVersions(ctx, "default", "anchor1")
	require.NoError(t, err)
	assert.Len(t, versions, writers+1)
	assert.Equal(t, "v0", versions[0])
}
