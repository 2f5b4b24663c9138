package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/project"
)

// Control actions accepted by POST /api/crawler/control.
const (
	actionStart  = "start"
	actionStop   = "stop"
	actionPause  = "pause"
	actionResume = "resume"
)

type controlRequest struct {
	Action string        `json:"action"`
	Config *crawlRequest `json:"config"`
}

// crawlRequest mirrors crawler.Options with the delay in milliseconds.
type crawlRequest struct {
	StartID   *int64  `json:"start_id"`
	EndID     *int64  `json:"end_id"`
	TargetIDs []int64 `json:"target_ids"`
	Delay     int64   `json:"delay"`
}

func (c crawlRequest) options() crawler.Options {
	return crawler.Options{
		IDs:     c.TargetIDs,
		StartID: c.StartID,
		EndID:   c.EndID,
		Delay:   time.Duration(c.Delay) * time.Millisecond,
	}
}

func (s *Server) controlCrawler(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid JSON", err)
		return
	}
	switch req.Action {
	case actionStart:
		if req.Config == nil {
			s.fail(w, http.StatusBadRequest, "config is required to start a crawl", nil)
			return
		}
		taskID, err := s.crawler.Start(r.Context(), req.Config.options())
		if err != nil {
			s.controlError(w, req.Action, err)
			return
		}
		s.logger.Info("crawl task started via API", zap.String("task_id", taskID))
		s.ok(w, "crawler started", map[string]string{"task_id": taskID})
	case actionStop:
		s.crawler.Stop()
		s.ok(w, "crawler stopped", nil)
	case actionPause:
		if err := s.crawler.Pause(); err != nil {
			s.controlError(w, req.Action, err)
			return
		}
		s.ok(w, "crawler paused", nil)
	case actionResume:
		if err := s.crawler.Resume(); err != nil {
			s.controlError(w, req.Action, err)
			return
		}
		s.ok(w, "crawler resumed", nil)
	case "":
		s.fail(w, http.StatusBadRequest, "action is required", nil)
	default:
		s.fail(w, http.StatusBadRequest, "unsupported action", fmt.Errorf("unsupported action %q", req.Action))
	}
}

func (s *Server) controlError(w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, crawler.ErrInvalidTargetSpec), errors.Is(err, crawler.ErrInvalidDelay):
		s.fail(w, http.StatusBadRequest, "invalid crawl options", err)
	case errors.Is(err, crawler.ErrAlreadyRunning),
		errors.Is(err, crawler.ErrNoActiveTask),
		errors.Is(err, crawler.ErrInvalidTransition):
		s.fail(w, http.StatusConflict, action+" rejected", err)
	default:
		s.logger.Error("crawler control failed", zap.String("action", action), zap.Error(err))
		s.fail(w, http.StatusInternalServerError, action+" failed", err)
	}
}

func (s *Server) currentTask(w http.ResponseWriter, _ *http.Request) {
	task, ok := s.crawler.CurrentTask()
	if !ok {
		s.ok(w, "no active task", nil)
		return
	}
	s.ok(w, "current task", toTaskDTO(task))
}

type crawlerConfigDTO struct {
	DefaultDelay      int     `json:"default_delay"`
	MinDelay          int     `json:"min_delay"`
	MaxDelay          int     `json:"max_delay"`
	Concurrency       int     `json:"concurrency"`
	Timeout           int     `json:"timeout"`
	MaxTargets        int     `json:"max_targets"`
	BaseURL           string  `json:"base_url"`
	RequestsPerSecond float64 `json:"requests_per_second"`
}

func (s *Server) crawlerConfig(w http.ResponseWriter, _ *http.Request) {
	c := s.cfg.Crawler
	s.ok(w, "crawler config", crawlerConfigDTO{
		DefaultDelay:      c.DefaultDelayMs,
		MinDelay:          c.MinDelayMs,
		MaxDelay:          c.MaxDelayMs,
		Concurrency:       c.Concurrency,
		Timeout:           int(c.Timeout().Milliseconds()),
		MaxTargets:        c.MaxTargets,
		BaseURL:           c.BaseURL,
		RequestsPerSecond: c.RequestsPerSecond,
	})
}

func (s *Server) testCrawl(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid project id", err)
		return
	}
	rec, err := s.crawler.CrawlOne(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, project.ErrFetchFailed), errors.Is(err, project.ErrParseFailed):
			status = http.StatusBadGateway
		case errors.Is(err, project.ErrValidationFailed):
			status = http.StatusUnprocessableEntity
		}
		s.logger.Warn("test crawl failed", zap.Int64("project_id", id), zap.Error(err))
		s.fail(w, status, "test crawl failed", err)
		return
	}
	s.ok(w, "test crawl succeeded", map[string]any{
		"project_id": id,
		"data":       rec,
	})
}
