package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/storage/local"
)

func TestIndexRebuildAfterLoss(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	backend, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)
	clock := newFakeClock()

	s := openTestStore(t, backend, clock, false)
	rec := record(42, "Lamp")
	_, err = s.StoreProject(ctx, rec, nil)
	require.NoError(t, err)
	rec.RaisedAmount = 900
	_, err = s.StoreProject(ctx, rec, nil)
	require.NoError(t, err)
	_, err = s.StoreProject(ctx, record(4200042, "Shade"), nil)
	require.NoError(t, err)
	before := s.ListIndex()

	require.NoError(t, backend.Delete(ctx, IndexKey))

	// Without rebuild the store starts empty but the artifacts survive.
	empty := openTestStore(t, backend, clock, false)
	assert.Empty(t, empty.ListIndex())
	versions, err := empty.Versions(ctx, 42)
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	n, err := empty.Rebuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, before, empty.ListIndex())

	// A corrupt index triggers the automatic rebuild when enabled.
	require.NoError(t, backend.Write(ctx, IndexKey, []byte("{not json")))
	rebuilt := openTestStore(t, backend, clock, true)
	assert.Equal(t, before, rebuilt.ListIndex())

	// Writes continue from the highest persisted version.
	rec.BackerCount = 1000
	v, written, err := rebuilt.StoreVersion(ctx, rec, nil)
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, 3, v.Version)
}
