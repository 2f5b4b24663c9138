package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/config"
	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/metrics"
	"github.com/JakeFAU/modian-insight/internal/store"
)

const topCategories = 10

type storageInfo struct {
	Backend   string `json:"backend"`
	DataDir   string `json:"data_dir,omitempty"`
	Bucket    string `json:"bucket,omitempty"`
	TotalSize int64  `json:"total_size"`
	FileCount int    `json:"file_count"`
}

type systemStatusDTO struct {
	IsRunning     bool        `json:"is_running"`
	CurrentTask   *taskDTO    `json:"current_task"`
	TotalProjects int         `json:"total_projects"`
	TotalVersions int         `json:"total_versions"`
	LastCrawlTime *time.Time  `json:"last_crawl_time,omitempty"`
	StorageInfo   storageInfo `json:"storage_info"`
}

func (s *Server) systemStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("load storage stats failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "failed to load system status", err)
		return
	}
	dto := systemStatusDTO{
		IsRunning:     s.crawler.IsRunning(),
		TotalProjects: stats.ProjectCount,
		TotalVersions: stats.TotalVersions,
		LastCrawlTime: stats.LastCrawlTime,
		StorageInfo:   s.storageInfo(stats),
	}
	if task, ok := s.crawler.CurrentTask(); ok {
		dto.CurrentTask = toTaskDTO(task)
	}
	s.ok(w, "system status", dto)
}

func (s *Server) systemHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "unhealthy", err)
		return
	}
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	body := map[string]any{
		"status":         "healthy",
		"uptime_seconds": s.clock.Now().Sub(s.started).Seconds(),
		"goroutines":     runtime.NumGoroutine(),
		"memory": map[string]uint64{
			"alloc":       mem.Alloc,
			"heap_in_use": mem.HeapInuse,
			"sys":         mem.Sys,
		},
		"storage": s.storageInfo(stats),
	}
	if s.progress != nil {
		body["progress"] = s.progress.Stats()
	}
	s.ok(w, "healthy", body)
}

type statsDTO struct {
	store.Stats
	MostPopularCategories []store.CategoryCount `json:"most_popular_categories"`
}

func (s *Server) systemStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("load statistics failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "failed to load statistics", err)
		return
	}
	popular := s.store.Categories()
	if len(popular) > topCategories {
		popular = popular[:topCategories]
	}
	s.ok(w, "statistics", statsDTO{Stats: stats, MostPopularCategories: popular})
}

type cleanupRequest struct {
	RetentionDays *int `json:"retention_days"`
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.fail(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	days := s.cfg.Retention.Days
	if req.RetentionDays != nil {
		days = *req.RetentionDays
	}
	if days < 1 {
		s.fail(w, http.StatusBadRequest, "retention_days must be >= 1", nil)
		return
	}
	res, err := s.store.Cleanup(r.Context(), days)
	if err != nil {
		metrics.ObserveRetentionRun("error")
		s.logger.Error("manual cleanup failed", zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "cleanup failed", err)
		return
	}
	metrics.ObserveRetentionRun("success")
	s.logger.Info("manual cleanup finished",
		zap.Int("retention_days", days),
		zap.Int("versions_removed", res.VersionsRemoved),
	)
	s.ok(w, "cleanup finished", res)
}

func (s *Server) storageInfo(stats store.Stats) storageInfo {
	info := storageInfo{
		Backend:   s.cfg.Storage.Backend,
		TotalSize: stats.TotalBytes,
		FileCount: stats.FileCount,
	}
	switch s.cfg.Storage.Backend {
	case config.BackendGCS:
		info.Bucket = s.cfg.Storage.GCSBucket
	default:
		info.DataDir = s.cfg.Storage.DataDir
	}
	return info
}

// taskDTO adds the pacing delay in milliseconds to the task snapshot.
type taskDTO struct {
	crawler.Task
	Delay int64 `json:"delay"`
}

func toTaskDTO(t crawler.Task) *taskDTO {
	return &taskDTO{Task: t, Delay: t.DelayMillis()}
}
