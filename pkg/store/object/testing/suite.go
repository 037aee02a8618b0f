package testing

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/dittodsu/pkg/fault"
	"github.com/marmos91/dittodsu/pkg/store/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a contract test suite for object.Store implementations.
// It tests the interface contract, not implementation details, so it can be
// reused across backends (memory, filesystem, S3).
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &storetest.StoreTestSuite{
//	        NewStore: func(t *testing.T) object.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore creates a fresh, empty store for each test.
	NewStore func(t *testing.T) object.Store
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("PutGet", suite.testPutGet)
	t.Run("GetMissing", suite.testGetMissing)
	t.Run("Overwrite", suite.testOverwrite)
	t.Run("ExistsAndDelete", suite.testExistsAndDelete)
	t.Run("List", suite.testList)
	t.Run("CallerBufferIsolation", suite.testBufferIsolation)
	t.Run("CancelledContext", suite.testCancelledContext)
}

func (suite *StoreTestSuite) testPutGet(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "bricks/default/abc", []byte("brick")))

	data, err := store.Get(ctx, "bricks/default/abc")
	require.NoError(t, err)
	assert.Equal(t, []byte("brick"), data)
}

func (suite *StoreTestSuite) testGetMissing(t *testing.T) {
	store := suite.NewStore(t)

	_, err := store.Get(context.Background(), "missing/key")
	require.Error(t, err)
	assert.True(t, errors.Is(err, object.ErrNotFound))
	assert.True(t, fault.IsMissingData(err))
}

func (suite *StoreTestSuite) testOverwrite(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("one")))
	require.NoError(t, store.Put(ctx, "k", []byte("two")))

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), data)
}

func (suite *StoreTestSuite) testExistsAndDelete(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	ok, err := store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	ok, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "k"))
	ok, err = store.Exists(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting twice is fine
	require.NoError(t, store.Delete(ctx, "k"))
}

func (suite *StoreTestSuite) testList(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	for _, k := range []string{"a/2", "a/1", "b/1", "a/sub/3"} {
		require.NoError(t, store.Put(ctx, k, []byte(k)))
	}

	keys, err := store.List(ctx, "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/1", "a/2", "a/sub/3"}, keys)

	keys, err = store.List(ctx, "zzz")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func (suite *StoreTestSuite) testBufferIsolation(t *testing.T) {
	store := suite.NewStore(t)
	ctx := context.Background()

	buf := []byte("original")
	require.NoError(t, store.Put(ctx, "k", buf))
	buf[0] = 'X'

	data, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), data)
}

func (suite *StoreTestSuite) testCancelledContext(t *testing.T) {
	store := suite.NewStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.Put(ctx, "k", []byte("v")), context.Canceled)
	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}
