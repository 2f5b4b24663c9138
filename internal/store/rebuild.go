package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/project"
)

// Rebuild re-derives the index by scanning every per-project artifact and
// persists it. Unreadable artifacts are skipped. It returns the number of
// indexed projects.
func (s *Store) Rebuild(ctx context.Context) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	keys, err := s.backend.List(ctx, ProjectsPrefix)
	if err != nil {
		return 0, fmt.Errorf("%w: list artifacts: %v", project.ErrStorageIO, err)
	}
	rebuilt := make(map[int64]project.IndexEntry, len(keys))
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		id, ok := projectIDFromKey(key)
		if !ok {
			continue
		}
		versions, err := s.readVersions(ctx, key)
		if err != nil {
			s.logger.Warn("skipping unreadable artifact", zap.String("key", key), zap.Error(err))
			continue
		}
		if len(versions) == 0 {
			continue
		}
		rebuilt[id] = entryFromVersions(id, key, versions)
	}

	s.mu.Lock()
	s.index = rebuilt
	s.mu.Unlock()
	if err := s.saveIndex(ctx); err != nil {
		return 0, err
	}
	return len(rebuilt), nil
}

func entryFromVersions(id int64, key string, versions []project.Version) project.IndexEntry {
	first := versions[0]
	latest := versions[len(versions)-1]
	last := latest.CrawlTime
	return project.IndexEntry{
		ProjectID:       id,
		Name:            latest.Data.Name,
		Category:        latest.Data.Category,
		Status:          latest.Data.Status,
		FirstCrawlTime:  first.CrawlTime,
		LastCrawlTime:   &last,
		VersionCount:    len(versions),
		FilePath:        key,
		LastFingerprint: latest.Fingerprint,
	}
}
