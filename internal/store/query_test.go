package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/storage/memory"
)

func seededStore(t *testing.T) (*Store, *memory.BlobStore) {
	t.Helper()
	ctx := context.Background()
	backend := memory.NewBlobStore()
	s := openTestStore(t, backend, newFakeClock(), false)

	recs := []project.Record{
		record(42, "Bamboo Lamp"),
		record(4200042, "Paper LAMP shade"),
		record(7, "Tea Kettle"),
	}
	recs[1].Category = "lighting"
	recs[2].Status = project.StatusSuccess
	for _, rec := range recs {
		written, err := s.StoreProject(ctx, rec, nil)
		require.NoError(t, err)
		require.True(t, written)
	}
	return s, backend
}

func ids(entries []project.IndexEntry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ProjectID)
	}
	return out
}

func TestQueryIndex(t *testing.T) {
	t.Parallel()

	s, _ := seededStore(t)

	assert.Equal(t, []int64{7, 42, 4200042}, ids(s.ListIndex()))
	assert.Equal(t, []int64{42}, ids(s.QueryIndex(Filter{Keyword: "42"})))
	assert.Equal(t, []int64{4200042}, ids(s.QueryIndex(Filter{Keyword: " 4200042 "})))
	assert.Equal(t, []int64{42, 4200042}, ids(s.QueryIndex(Filter{Keyword: "lamp"})))
	assert.Equal(t, []int64{4200042}, ids(s.QueryIndex(Filter{Keyword: "Lamp", Category: "lighting"})))
	assert.Equal(t, []int64{7}, ids(s.QueryIndex(Filter{Status: project.StatusSuccess})))
	assert.Empty(t, s.QueryIndex(Filter{Keyword: "999"}))
	assert.Len(t, s.QueryIndex(Filter{}), 3)
}

func TestCategoriesAndLastCrawl(t *testing.T) {
	t.Parallel()

	s, _ := seededStore(t)
	assert.Equal(t, []CategoryCount{{Category: "design", Count: 2}, {Category: "lighting", Count: 1}}, s.Categories())

	last, ok := s.LastCrawl()
	require.True(t, ok)
	assert.Equal(t, newFakeClock().Now(), last)
}

func TestStatsSkipsMissingArtifacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s, backend := seededStore(t)

	full, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, full.ProjectCount)
	assert.Equal(t, 3, full.TotalVersions)
	assert.Equal(t, 3, full.FileCount)
	assert.Positive(t, full.TotalBytes)
	assert.Equal(t, 2, full.ByStatus[project.StatusCrowdfunding])
	assert.Equal(t, 1, full.ByCategory["lighting"])

	require.NoError(t, backend.Delete(ctx, ShardKey(7)))
	partial, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, partial.ProjectCount)
	assert.Equal(t, 3, partial.TotalVersions)
	assert.Equal(t, 2, partial.FileCount)
	assert.Less(t, partial.TotalBytes, full.TotalBytes)
}
