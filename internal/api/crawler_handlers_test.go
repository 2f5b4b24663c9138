package api

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/project"
)

func TestControlStartPassesOptions(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec, body := env.do(t, http.MethodPost, "/api/crawler/control",
		`{"action":"start","config":{"start_id":10,"end_id":12,"delay":750}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, map[string]string{"task_id": "task-1"}, decodeData[map[string]string](t, rec))

	require.Len(t, env.crawler.startOpts, 1)
	opts := env.crawler.startOpts[0]
	require.NotNil(t, opts.StartID)
	require.NotNil(t, opts.EndID)
	assert.Equal(t, int64(10), *opts.StartID)
	assert.Equal(t, int64(12), *opts.EndID)
	assert.Equal(t, 750*time.Millisecond, opts.Delay)
	assert.Empty(t, opts.IDs)
}

func TestControlErrorsMapToStatusCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		setup  func(*fakeCrawler)
		body   string
		status int
	}{
		{name: "missing action", body: `{}`, status: http.StatusBadRequest},
		{name: "unknown action", body: `{"action":"restart"}`, status: http.StatusBadRequest},
		{name: "invalid json", body: `{`, status: http.StatusBadRequest},
		{name: "start without config", body: `{"action":"start"}`, status: http.StatusBadRequest},
		{
			name:   "already running",
			setup:  func(f *fakeCrawler) { f.startErr = crawler.ErrAlreadyRunning },
			body:   `{"action":"start","config":{"target_ids":[1]}}`,
			status: http.StatusConflict,
		},
		{
			name:   "invalid delay",
			setup:  func(f *fakeCrawler) { f.startErr = fmt.Errorf("%w: 10ms", crawler.ErrInvalidDelay) },
			body:   `{"action":"start","config":{"target_ids":[1],"delay":10}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "invalid target spec",
			setup:  func(f *fakeCrawler) { f.startErr = crawler.ErrInvalidTargetSpec },
			body:   `{"action":"start","config":{}}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "pause without task",
			setup:  func(f *fakeCrawler) { f.pauseErr = crawler.ErrNoActiveTask },
			body:   `{"action":"pause"}`,
			status: http.StatusConflict,
		},
		{
			name:   "resume while running",
			setup:  func(f *fakeCrawler) { f.resumeErr = crawler.ErrInvalidTransition },
			body:   `{"action":"resume"}`,
			status: http.StatusConflict,
		},
		{name: "pause ok", body: `{"action":"pause"}`, status: http.StatusOK},
		{name: "resume ok", body: `{"action":"resume"}`, status: http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			env := newTestEnv(t, testConfig())
			if tc.setup != nil {
				tc.setup(env.crawler)
			}
			rec, body := env.do(t, http.MethodPost, "/api/crawler/control", tc.body)
			assert.Equal(t, tc.status, rec.Code)
			assert.Equal(t, tc.status == http.StatusOK, body.Success)
		})
	}
}

func TestControlStopIsIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	for range 2 {
		rec, _ := env.do(t, http.MethodPost, "/api/crawler/control", `{"action":"stop"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 2, env.crawler.stops)
}

func TestCurrentTask(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec, body := env.do(t, http.MethodGet, "/api/crawler/task", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body.Data)

	env.crawler.task = &crawler.Task{
		ID:       "task-2",
		Status:   crawler.TaskPaused,
		Delay:    2 * time.Second,
		Progress: crawler.Progress{Total: 5, Completed: 2},
	}
	rec, _ = env.do(t, http.MethodGet, "/api/crawler/task", "")
	require.Equal(t, http.StatusOK, rec.Code)
	task := decodeData[taskDTO](t, rec)
	assert.Equal(t, "task-2", task.ID)
	assert.Equal(t, crawler.TaskPaused, task.Status)
	assert.Equal(t, int64(2000), task.Delay)
	assert.Equal(t, 2, task.Progress.Completed)
}

func TestCrawlerConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	rec, _ := env.do(t, http.MethodGet, "/api/crawler/config", "")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decodeData[crawlerConfigDTO](t, rec)
	assert.Equal(t, 1000, cfg.DefaultDelay)
	assert.Equal(t, 500, cfg.MinDelay)
	assert.Equal(t, 5000, cfg.MaxDelay)
	assert.Equal(t, 1, cfg.Concurrency)
	assert.Equal(t, 30000, cfg.Timeout)
}

func TestTestCrawl(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, testConfig())
	env.crawler.record = project.Record{Name: "Lamp", Status: project.StatusSuccess}

	rec, _ := env.do(t, http.MethodGet, "/api/crawler/test/123", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeData[struct {
		ProjectID int64          `json:"project_id"`
		Data      project.Record `json:"data"`
	}](t, rec)
	assert.Equal(t, int64(123), data.ProjectID)
	assert.Equal(t, "Lamp", data.Data.Name)

	rec, _ = env.do(t, http.MethodGet, "/api/crawler/test/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.crawler.crawlErr = fmt.Errorf("%w: http status 503", project.ErrFetchFailed)
	rec, body := env.do(t, http.MethodGet, "/api/crawler/test/123", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, body.Error, "503")

	env.crawler.crawlErr = fmt.Errorf("%w: missing name", project.ErrValidationFailed)
	rec, _ = env.do(t, http.MethodGet, "/api/crawler/test/123", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}
