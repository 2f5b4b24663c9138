package store

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/project"
)

var allDigits = regexp.MustCompile(`^\d+$`)

// Filter narrows QueryIndex. Zero fields match everything.
type Filter struct {
	Category string
	Status   project.Status
	// Keyword matches the project id exactly when all digits, otherwise a
	// case-insensitive substring of the name.
	Keyword string
}

// Stats summarizes what the store holds.
type Stats struct {
	ProjectCount  int                    `json:"total_projects"`
	TotalVersions int                    `json:"total_versions"`
	TotalBytes    int64                  `json:"total_size"`
	FileCount     int                    `json:"file_count"`
	ByStatus      map[project.Status]int `json:"by_status"`
	ByCategory    map[string]int         `json:"by_category"`
	LastCrawlTime *time.Time             `json:"last_crawl_time,omitempty"`
}

// CategoryCount is one row of Categories.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// ListIndex returns a snapshot of every index entry ordered by project id.
func (s *Store) ListIndex() []project.IndexEntry {
	s.mu.RLock()
	out := make([]project.IndexEntry, 0, len(s.index))
	for _, e := range s.index {
		out = append(out, e)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ProjectID < out[j].ProjectID
	})
	return out
}

// Entry returns the index entry of one project.
func (s *Store) Entry(id int64) (project.IndexEntry, bool) {
	return s.entry(id)
}

// QueryIndex filters the index.
func (s *Store) QueryIndex(f Filter) []project.IndexEntry {
	keyword := strings.ToLower(strings.TrimSpace(f.Keyword))
	var wantID int64
	byID := false
	if keyword != "" && allDigits.MatchString(keyword) {
		if id, err := strconv.ParseInt(keyword, 10, 64); err == nil {
			wantID, byID = id, true
		}
	}

	out := []project.IndexEntry{}
	for _, e := range s.ListIndex() {
		if f.Category != "" && e.Category != f.Category {
			continue
		}
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if keyword != "" {
			if byID {
				if e.ProjectID != wantID {
					continue
				}
			} else if !strings.Contains(strings.ToLower(e.Name), keyword) {
				continue
			}
		}
		out = append(out, e)
	}
	return out
}

// Categories counts projects per category, largest first.
func (s *Store) Categories() []CategoryCount {
	counts := map[string]int{}
	for _, e := range s.ListIndex() {
		if e.Category == "" {
			continue
		}
		counts[e.Category]++
	}
	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// LastCrawl returns the newest last-seen time across all projects.
func (s *Store) LastCrawl() (time.Time, bool) {
	var newest time.Time
	for _, e := range s.ListIndex() {
		if e.LastCrawlTime != nil && e.LastCrawlTime.After(newest) {
			newest = *e.LastCrawlTime
		}
	}
	return newest, !newest.IsZero()
}

// Stats sums version counts from the index and probes every artifact for its
// size. Artifacts that cannot be probed are skipped.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	entries := s.ListIndex()
	st := Stats{
		ProjectCount: len(entries),
		ByStatus:     map[project.Status]int{},
		ByCategory:   map[string]int{},
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return Stats{}, err
		}
		st.TotalVersions += e.VersionCount
		st.ByStatus[e.Status]++
		if e.Category != "" {
			st.ByCategory[e.Category]++
		}
		key := e.FilePath
		if key == "" {
			key = ShardKey(e.ProjectID)
		}
		size, err := s.backend.Size(ctx, key)
		if err != nil {
			s.logger.Debug("artifact not accessible", zap.Int64("project_id", e.ProjectID), zap.Error(err))
			continue
		}
		st.TotalBytes += size
		st.FileCount++
	}
	if last, ok := s.LastCrawl(); ok {
		st.LastCrawlTime = &last
	}
	return st, nil
}
