package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/store"
)

func seededEnv(t *testing.T) *testEnv {
	t.Helper()
	env := newTestEnv(t, testConfig())
	env.seed(t, 3, "Desk Lamp", "design", 1)
	env.seed(t, 1, "Comic Vol.1", "comics", 3)
	env.seed(t, 2, "Board Game", "games", 2)
	return env
}

func TestListProjectsDefaultsToNewestFirst(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	rec, body := env.do(t, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	got := decodeData[page[project.IndexEntry]](t, rec)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 1, got.TotalPages)
	require.Len(t, got.Items, 3)
	assert.Equal(t, []int64{2, 1, 3}, ids(got.Items))
}

func TestListProjectsFiltersSortsAndPages(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)

	rec, _ := env.do(t, http.MethodGet, "/api/projects?sort_by=name&sort_order=asc&limit=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[page[project.IndexEntry]](t, rec)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.TotalPages)
	assert.Equal(t, []int64{3}, ids(got.Items))

	rec, _ = env.do(t, http.MethodGet, "/api/projects?category=games", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[page[project.IndexEntry]](t, rec)
	assert.Equal(t, []int64{2}, ids(got.Items))

	rec, _ = env.do(t, http.MethodGet, "/api/projects?keyword=lamp&status=Crowdfunding", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[page[project.IndexEntry]](t, rec)
	assert.Equal(t, []int64{3}, ids(got.Items))

	rec, _ = env.do(t, http.MethodGet, "/api/projects?start_date=2030-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[page[project.IndexEntry]](t, rec)
	assert.Empty(t, got.Items)
	assert.Equal(t, 0, got.TotalPages)
}

func TestListProjectsRejectsBadQueries(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	for _, q := range []string{
		"page=0",
		"limit=101",
		"limit=abc",
		"sort_by=goal",
		"sort_order=sideways",
		"start_date=yesterday",
	} {
		rec, body := env.do(t, http.MethodGet, "/api/projects?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
		assert.False(t, body.Success, q)
	}
}

func TestCategoriesAndSearch(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/projects/categories", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cats := decodeData[[]store.CategoryCount](t, rec)
	assert.Len(t, cats, 3)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/search?keyword=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	found := decodeData[[]project.IndexEntry](t, rec)
	assert.Equal(t, []int64{2}, ids(found))

	rec, _ = env.do(t, http.MethodGet, "/api/projects/search?keyword=COMIC", "")
	require.Equal(t, http.StatusOK, rec.Code)
	found = decodeData[[]project.IndexEntry](t, rec)
	assert.Equal(t, []int64{1}, ids(found))
}

func TestGetProjectReturnsLatestVersion(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/projects/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	v := decodeData[project.Version](t, rec)
	assert.Equal(t, 3, v.Version)
	assert.InDelta(t, 300, v.Data.RaisedAmount, 1e-9)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/99", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/-4", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProjectVersionsNewestFirstWithPaging(t *testing.T) {
	t.Parallel()

	env := seededEnv(t)
	rec, _ := env.do(t, http.MethodGet, "/api/projects/1/versions?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeData[page[project.Version]](t, rec)
	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.TotalPages)
	require.Len(t, got.Items, 2)
	assert.Equal(t, 3, got.Items[0].Version)
	assert.Equal(t, 2, got.Items[1].Version)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/1/versions?page=2&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[page[project.Version]](t, rec)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1, got.Items[0].Version)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/1/versions?end_date=2000-01-01", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got = decodeData[page[project.Version]](t, rec)
	assert.Empty(t, got.Items)

	rec, _ = env.do(t, http.MethodGet, "/api/projects/99/versions", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func ids(entries []project.IndexEntry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.ProjectID)
	}
	return out
}
