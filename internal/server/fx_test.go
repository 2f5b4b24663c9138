package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/runs"
	"github.com/JakeFAU/modian-insight/internal/store"
)

type stubFetcher struct{}

func (stubFetcher) FetchRawProject(_ context.Context, id int64) (json.RawMessage, error) {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%d,"name":"Project %d","goal":"1000","backer_money":"250","category":"games"}`, id, id,
	)), nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.BackendMemory
	cfg.Retention.Enabled = false
	cfg.Crawler.DefaultDelayMs = 1
	cfg.Crawler.MinDelayMs = 1
	cfg.Crawler.MaxDelayMs = 1000
	cfg.Progress.MaxBatchWaitMs = 10
	return cfg
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	app, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithFetcher(stubFetcher{}),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, app.Close(ctx))
	})
	return app
}

func TestBuildCrawlsStoresAndRecordsRuns(t *testing.T) {
	t.Parallel()

	app := buildTestApp(t, testConfig(t))

	taskID, err := app.Crawler().Start(context.Background(), crawler.Options{IDs: []int64{7, 8}})
	require.NoError(t, err)
	require.NotEmpty(t, taskID)

	require.Eventually(t, func() bool {
		return len(app.Store().QueryIndex(store.Filter{})) == 2
	}, 3*time.Second, 10*time.Millisecond)

	require.Eventually(t, func() bool {
		list, err := app.runsRepo.ListRuns(context.Background(), nil, 10, 0)
		return err == nil && len(list) == 1 && list[0].Status == runs.StatusCompleted
	}, 3*time.Second, 10*time.Millisecond)

	rr := httptest.NewRecorder()
	app.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/projects/7", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBuildSkipsDuplicatePrometheusRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	for range 2 {
		app, err := Build(context.Background(), testConfig(t),
			WithLogger(zap.NewNop()),
			WithRegisterer(reg),
			WithFetcher(stubFetcher{}),
		)
		require.NoError(t, err)
		require.NoError(t, app.Close(context.Background()))
	}
}

func TestBuildRejectsBadRetentionSchedule(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Retention.Enabled = true
	cfg.Retention.Schedule = "not a schedule"

	_, err := Build(context.Background(), cfg,
		WithLogger(zap.NewNop()),
		WithRegisterer(prometheus.NewRegistry()),
		WithFetcher(stubFetcher{}),
	)
	require.ErrorContains(t, err, "retention scheduler init failed")
}
