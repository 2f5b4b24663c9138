package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/storage"
	"github.com/JakeFAU/modian-insight/internal/storage/memory"
)

func TestCleanupKeepsOnlyRecentVersions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	clock := newFakeClock()
	backend := memory.NewBlobStore()
	s := openTestStore(t, backend, clock, false)

	start := clock.Now()
	rec := record(42, "Lamp")
	_, err := s.StoreProject(ctx, rec, nil)
	require.NoError(t, err)

	// A second project that will age out completely.
	_, err = s.StoreProject(ctx, record(99, "Old Kettle"), nil)
	require.NoError(t, err)

	clock.Advance(10 * 24 * time.Hour)
	rec.BackerCount = 50
	_, err = s.StoreProject(ctx, rec, nil)
	require.NoError(t, err)

	clock.Advance(20 * 24 * time.Hour)
	rec.BackerCount = 60
	_, err = s.StoreProject(ctx, rec, nil)
	require.NoError(t, err)

	// now = start+30d+5d: the first version is 35 days old, the others 25 and 5.
	clock.Advance(5 * 24 * time.Hour)
	res, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 2, res.ProjectsScanned)
	assert.Equal(t, 1, res.ProjectsTrimmed)
	assert.Equal(t, 1, res.ProjectsRemoved)
	assert.Equal(t, 2, res.VersionsRemoved)
	assert.Zero(t, res.Failures)

	versions, err := s.Versions(ctx, 42)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, 2, versions[0].Version)
	assert.Equal(t, 3, versions[1].Version)

	entry, ok := s.Entry(42)
	require.True(t, ok)
	assert.Equal(t, 2, entry.VersionCount)
	assert.Equal(t, start, entry.FirstCrawlTime)
	require.NotNil(t, entry.LastCrawlTime)
	assert.Equal(t, versions[1].CrawlTime, *entry.LastCrawlTime)

	_, ok = s.Entry(99)
	assert.False(t, ok)
	_, err = backend.Read(ctx, ShardKey(99))
	require.ErrorIs(t, err, storage.ErrNotExist)

	// The persisted index reflects the cleanup.
	reopened := openTestStore(t, backend, clock, false)
	assert.Equal(t, []int64{42}, ids(reopened.ListIndex()))

	// Versions keep increasing after a cleanup.
	rec.BackerCount = 70
	v, written, err := s.StoreVersion(ctx, rec, nil)
	require.NoError(t, err)
	require.True(t, written)
	assert.Equal(t, 4, v.Version)
}

func TestCleanupNothingToDo(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := openTestStore(t, memory.NewBlobStore(), newFakeClock(), false)
	_, err := s.StoreProject(ctx, record(1, "Fresh"), nil)
	require.NoError(t, err)

	res, err := s.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Zero(t, res.VersionsRemoved)

	_, err = s.Cleanup(ctx, 0)
	require.Error(t, err)
}
