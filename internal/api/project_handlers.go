package api

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/store"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// page is the paginated payload of list endpoints.
type page[T any] struct {
	Items      []T `json:"items"`
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"total_pages"`
}

func paginate[T any](items []T, pageNum, limit int) page[T] {
	total := len(items)
	start := min((pageNum-1)*limit, total)
	end := min(start+limit, total)
	out := items[start:end]
	if out == nil {
		out = []T{}
	}
	return page[T]{
		Items:      out,
		Total:      total,
		Page:       pageNum,
		Limit:      limit,
		TotalPages: (total + limit - 1) / limit,
	}
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pageNum, limit, err := parsePage(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid pagination", err)
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid date range", err)
		return
	}
	sortBy := q.Get("sort_by")
	if sortBy == "" {
		sortBy = "last_crawl_time"
	}
	less, ok := indexOrderings[sortBy]
	if !ok {
		s.fail(w, http.StatusBadRequest, "invalid sort_by", errors.New("unsupported sort field "+sortBy))
		return
	}
	desc := true
	switch strings.ToLower(q.Get("sort_order")) {
	case "", "desc":
	case "asc":
		desc = false
	default:
		s.fail(w, http.StatusBadRequest, "invalid sort_order", errors.New("sort_order must be asc or desc"))
		return
	}

	entries := s.store.QueryIndex(store.Filter{
		Category: q.Get("category"),
		Status:   project.Status(q.Get("status")),
		Keyword:  q.Get("keyword"),
	})
	entries = filterByLastCrawl(entries, from, to)
	sort.SliceStable(entries, func(i, j int) bool {
		if desc {
			return less(entries[j], entries[i])
		}
		return less(entries[i], entries[j])
	})
	s.ok(w, "projects", paginate(entries, pageNum, limit))
}

var indexOrderings = map[string]func(a, b project.IndexEntry) bool{
	"name":     func(a, b project.IndexEntry) bool { return a.Name < b.Name },
	"category": func(a, b project.IndexEntry) bool { return a.Category < b.Category },
	"status":   func(a, b project.IndexEntry) bool { return a.Status < b.Status },
	"first_crawl_time": func(a, b project.IndexEntry) bool {
		return a.FirstCrawlTime.Before(b.FirstCrawlTime)
	},
	"last_crawl_time": func(a, b project.IndexEntry) bool {
		return lastSeen(a).Before(lastSeen(b))
	},
	"version_count": func(a, b project.IndexEntry) bool { return a.VersionCount < b.VersionCount },
	"project_id":    func(a, b project.IndexEntry) bool { return a.ProjectID < b.ProjectID },
}

func lastSeen(e project.IndexEntry) time.Time {
	if e.LastCrawlTime != nil {
		return *e.LastCrawlTime
	}
	return e.FirstCrawlTime
}

func filterByLastCrawl(entries []project.IndexEntry, from, to *time.Time) []project.IndexEntry {
	if from == nil && to == nil {
		return entries
	}
	out := entries[:0]
	for _, e := range entries {
		if inRange(lastSeen(e), from, to) {
			out = append(out, e)
		}
	}
	return out
}

func inRange(t time.Time, from, to *time.Time) bool {
	if from != nil && t.Before(*from) {
		return false
	}
	if to != nil && t.After(*to) {
		return false
	}
	return true
}

func (s *Server) categories(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, "categories", s.store.Categories())
}

func (s *Server) searchProjects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	keyword := strings.TrimSpace(q.Get("keyword"))
	if keyword == "" {
		s.fail(w, http.StatusBadRequest, "keyword is required", nil)
		return
	}
	s.ok(w, "search results", s.store.QueryIndex(store.Filter{
		Category: q.Get("category"),
		Status:   project.Status(q.Get("status")),
		Keyword:  keyword,
	}))
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid project id", err)
		return
	}
	latest, ok, err := s.store.LatestVersion(r.Context(), id)
	if err != nil {
		s.logger.Error("load latest version failed", zap.Int64("project_id", id), zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "failed to load project", err)
		return
	}
	if !ok {
		s.fail(w, http.StatusNotFound, "project not found", nil)
		return
	}
	s.ok(w, "project", latest)
}

func (s *Server) projectVersions(w http.ResponseWriter, r *http.Request) {
	id, err := parseProjectID(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid project id", err)
		return
	}
	pageNum, limit, err := parsePage(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid pagination", err)
		return
	}
	from, to, err := parseDateRange(r)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "invalid date range", err)
		return
	}
	versions, err := s.store.Versions(r.Context(), id)
	if err != nil {
		s.logger.Error("load versions failed", zap.Int64("project_id", id), zap.Error(err))
		s.fail(w, http.StatusInternalServerError, "failed to load versions", err)
		return
	}
	if len(versions) == 0 {
		s.fail(w, http.StatusNotFound, "project not found", nil)
		return
	}
	filtered := make([]project.Version, 0, len(versions))
	for i := len(versions) - 1; i >= 0; i-- {
		if inRange(versions[i].CrawlTime, from, to) {
			filtered = append(filtered, versions[i])
		}
	}
	s.ok(w, "project versions", paginate(filtered, pageNum, limit))
}

func parseProjectID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "project_id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("project_id must be a positive integer")
	}
	return id, nil
}

func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	pageNum := 1
	if raw := q.Get("page"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 {
			return 0, 0, errors.New("page must be an integer >= 1")
		}
		pageNum = val
	}
	limit := defaultPageLimit
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 1 || val > maxPageLimit {
			return 0, 0, errors.New("limit must be an integer between 1 and 100")
		}
		limit = val
	}
	return pageNum, limit, nil
}

// parseDateRange reads start_date/end_date as RFC 3339 timestamps or plain
// dates. A plain end date covers the whole day.
func parseDateRange(r *http.Request) (*time.Time, *time.Time, error) {
	q := r.URL.Query()
	from, err := parseDate(q.Get("start_date"), false)
	if err != nil {
		return nil, nil, err
	}
	to, err := parseDate(q.Get("end_date"), true)
	if err != nil {
		return nil, nil, err
	}
	return from, to, nil
}

func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil, errors.New("dates must be RFC 3339 or YYYY-MM-DD: " + raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}
