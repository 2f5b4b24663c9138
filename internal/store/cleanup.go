package store

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// CleanupResult reports what a retention pass removed.
type CleanupResult struct {
	Cutoff          time.Time `json:"cutoff"`
	ProjectsScanned int       `json:"projects_scanned"`
	ProjectsTrimmed int       `json:"projects_trimmed"`
	ProjectsRemoved int       `json:"projects_removed"`
	VersionsRemoved int       `json:"versions_removed"`
	Failures        int       `json:"failures"`
}

// Cleanup drops every version crawled at or before now minus retentionDays.
// Survivors are rewritten and the index entry's count and last-seen time are
// recomputed from them. A project left with no versions loses both its
// artifact and its index entry. Per-project failures are logged and counted;
// only cancellation or an index write failure aborts the pass.
func (s *Store) Cleanup(ctx context.Context, retentionDays int) (CleanupResult, error) {
	if retentionDays < 1 {
		return CleanupResult{}, fmt.Errorf("retention days must be >= 1, got %d", retentionDays)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cutoff := s.clock.Now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	res := CleanupResult{Cutoff: cutoff}
	dirty := false
	for _, e := range s.ListIndex() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.ProjectsScanned++
		logger := s.logger.With(zap.Int64("project_id", e.ProjectID))

		key := ShardKey(e.ProjectID)
		versions, err := s.readVersions(ctx, key)
		if err != nil {
			res.Failures++
			logger.Warn("cleanup read failed", zap.Error(err))
			continue
		}
		survivors := make([]project.Version, 0, len(versions))
		for _, v := range versions {
			if v.CrawlTime.After(cutoff) {
				survivors = append(survivors, v)
			}
		}
		dropped := len(versions) - len(survivors)
		if dropped == 0 {
			continue
		}

		if len(survivors) == 0 {
			if err := s.backend.Delete(ctx, key); err != nil {
				res.Failures++
				logger.Warn("cleanup delete failed", zap.Error(err))
				continue
			}
			s.removeEntry(e.ProjectID)
			res.ProjectsRemoved++
		} else {
			if err := s.writeVersions(ctx, key, survivors); err != nil {
				res.Failures++
				logger.Warn("cleanup rewrite failed", zap.Error(err))
				continue
			}
			last := survivors[len(survivors)-1].CrawlTime
			e.VersionCount = len(survivors)
			e.LastCrawlTime = &last
			s.setEntry(e)
			res.ProjectsTrimmed++
		}
		res.VersionsRemoved += dropped
		dirty = true
	}

	if dirty || s.indexDirty {
		if err := s.saveIndex(ctx); err != nil {
			return res, err
		}
	}
	s.logger.Info("retention cleanup finished",
		zap.Time("cutoff", cutoff),
		zap.Int("versions_removed", res.VersionsRemoved),
		zap.Int("projects_removed", res.ProjectsRemoved),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}
