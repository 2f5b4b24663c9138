package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/progress"
	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/runs"
	"github.com/JakeFAU/modian-insight/internal/storage/memory"
	"github.com/JakeFAU/modian-insight/internal/store"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeCrawler struct {
	mu        sync.Mutex
	startOpts []crawler.Options
	startErr  error
	pauseErr  error
	resumeErr error
	stops     int
	task      *crawler.Task
	record    project.Record
	crawlErr  error
}

func (f *fakeCrawler) Start(_ context.Context, opts crawler.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.startOpts = append(f.startOpts, opts)
	return "task-1", nil
}

func (f *fakeCrawler) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeCrawler) Pause() error  { return f.pauseErr }
func (f *fakeCrawler) Resume() error { return f.resumeErr }

func (f *fakeCrawler) CurrentTask() (crawler.Task, bool) {
	if f.task == nil {
		return crawler.Task{}, false
	}
	return *f.task, true
}

func (f *fakeCrawler) IsRunning() bool { return f.task != nil }

func (f *fakeCrawler) CrawlOne(_ context.Context, id int64) (project.Record, error) {
	if f.crawlErr != nil {
		return project.Record{}, f.crawlErr
	}
	rec := f.record
	rec.ID = id
	return rec, nil
}

type testEnv struct {
	server  *Server
	crawler *fakeCrawler
	store   *store.Store
	clock   *fakeClock
	runs    *memory.RunStore
}

func testConfig() config.Config {
	return config.Config{
		Server: config.ServerConfig{Port: 3000},
		Crawler: config.CrawlerConfig{
			DefaultDelayMs: 1000,
			MinDelayMs:     500,
			MaxDelayMs:     5000,
			Concurrency:    1,
			TimeoutSeconds: 30,
			MaxTargets:     100,
			BaseURL:        "https://zhongchou.modian.com",
		},
		Storage:   config.StorageConfig{Backend: config.BackendMemory},
		Retention: config.RetentionConfig{Days: 30},
	}
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	clock := &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	st, err := store.Open(context.Background(), store.Config{Backend: memory.NewBlobStore(), Clock: clock})
	require.NoError(t, err)
	fc := &fakeCrawler{}
	rs := memory.NewRunStore()
	srv := NewServer(Deps{Crawler: fc, Store: st, Runs: rs, Clock: clock, Config: cfg})
	return &testEnv{server: srv, crawler: fc, store: st, clock: clock, runs: rs}
}

// seed stores n versions of a project, each an hour apart.
func (e *testEnv) seed(t *testing.T, id int64, name, category string, n int) {
	t.Helper()
	for i := range n {
		rec := project.Record{
			ID:           id,
			Name:         name,
			Category:     category,
			Status:       project.StatusCrowdfunding,
			GoalAmount:   1000,
			RaisedAmount: float64(100 * (i + 1)),
		}
		_, written, err := e.store.StoreVersion(context.Background(), rec, nil)
		require.NoError(t, err)
		require.True(t, written)
		e.clock.advance(time.Hour)
	}
}

func (e *testEnv) do(t *testing.T, method, target string, body string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	var env envelope
	_ = json.Unmarshal(rec.Body.Bytes(), &env)
	return rec, env
}

func decodeData[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var body struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Data
}

func TestProbesAndMetrics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec, _ := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
	rec, _ := env.do(t, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestAPIKeyRequiredWhenEnabled(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Auth = config.AuthConfig{Enabled: true, APIKey: "secret"}
	env := newTestEnv(t, cfg)

	rec, _ := env.do(t, http.MethodGet, "/api/projects", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/projects", nil)
	req.Header.Set("X-API-Key", "secret")
	ok := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(ok, req)
	assert.Equal(t, http.StatusOK, ok.Code)

	rec, _ = env.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIndexListsEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec, body := env.do(t, http.MethodGet, "/api/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Contains(t, rec.Body.String(), "/api/crawler/control")
}

func TestSystemStatusAndStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.seed(t, 1, "Lamp", "design", 2)
	env.seed(t, 2, "Comic", "comics", 1)
	env.crawler.task = &crawler.Task{ID: "task-9", Status: crawler.TaskRunning, Delay: 1500 * time.Millisecond}

	rec, body := env.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, body.Success)
	status := decodeData[systemStatusDTO](t, rec)
	assert.True(t, status.IsRunning)
	require.NotNil(t, status.CurrentTask)
	assert.Equal(t, int64(1500), status.CurrentTask.Delay)
	assert.Equal(t, 2, status.TotalProjects)
	assert.Equal(t, 3, status.TotalVersions)
	assert.Equal(t, 2, status.StorageInfo.FileCount)
	require.NotNil(t, status.LastCrawlTime)

	rec, _ = env.do(t, http.MethodGet, "/api/system/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeData[statsDTO](t, rec)
	assert.Equal(t, 2, stats.ProjectCount)
	assert.Equal(t, 1, stats.ByCategory["design"])
	assert.Len(t, stats.MostPopularCategories, 2)

	rec, body = env.do(t, http.MethodGet, "/api/system/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body.Message)
}

func TestCleanupEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.seed(t, 1, "Lamp", "design", 3)
	env.clock.advance(48 * time.Hour)

	rec, _ := env.do(t, http.MethodPost, "/api/system/cleanup", `{"retention_days":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/system/cleanup", `{"retention_days":1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeData[store.CleanupResult](t, rec)
	assert.Equal(t, 3, res.VersionsRemoved)
	assert.Equal(t, 1, res.ProjectsRemoved)

	rec, _ = env.do(t, http.MethodPost, "/api/system/cleanup", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRunsEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	ctx := context.Background()
	runID := mustUUID(t)
	require.NoError(t, env.runs.StartRun(ctx, runID, time.Now(), 3))
	require.NoError(t, env.runs.RecordFailure(ctx, runs.Failure{RunID: runID, ProjectID: 9, Reason: "fetch failed", At: time.Now()}))

	rec, _ := env.do(t, http.MethodGet, "/api/crawler/runs?status=running&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), runID.String())

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs/"+runID.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs/"+runID.String()+"/failures", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "fetch failed")

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs/"+mustUUID(t).String(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs?status=bogus", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/runs?limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunsUnavailableWithoutRepository(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Crawler: &fakeCrawler{}, Config: testConfig()})
	req := httptest.NewRequest(http.MethodGet, "/api/crawler/runs", nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddlewareReturns500(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zapNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(fmt.Sprintf("boom %d", 1))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fixedProgress struct{ stats progress.Stats }

func (f fixedProgress) Stats() progress.Stats { return f.stats }

func TestHealthIncludesProgressStats(t *testing.T) {
	t.Parallel()

	st, err := store.Open(context.Background(), store.Config{Backend: memory.NewBlobStore()})
	require.NoError(t, err)
	srv := NewServer(Deps{
		Crawler:  &fakeCrawler{},
		Store:    st,
		Progress: fixedProgress{stats: progress.Stats{Accepted: 9, Dropped: 2, Sinks: 3}},
		Config:   testConfig(),
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/system/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Data struct {
			Progress progress.Stats `json:"progress"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(9), body.Data.Progress.Accepted)
	assert.Equal(t, int64(2), body.Data.Progress.Dropped)
	assert.Equal(t, 3, body.Data.Progress.Sinks)
}
