package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/changes"
	"github.com/JakeFAU/modian-insight/internal/project"
)

// StoreProject appends a new version when rec differs significantly from the
// latest persisted one. It reports whether a version was written, which may be
// true alongside an error when only the index write failed.
func (s *Store) StoreProject(ctx context.Context, rec project.Record, raw json.RawMessage) (bool, error) {
	_, written, err := s.StoreVersion(ctx, rec, raw)
	return written, err
}

// StoreVersion is StoreProject returning the written version.
func (s *Store) StoreVersion(ctx context.Context, rec project.Record, raw json.RawMessage) (project.Version, bool, error) {
	if rec.ID <= 0 {
		return project.Version{}, false, fmt.Errorf("%w: missing project id", project.ErrValidationFailed)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	logger := s.logger.With(zap.Int64("project_id", rec.ID))
	fingerprint := s.fingerprint(rec)
	existing, known := s.entry(rec.ID)
	if known && fingerprint != "" && existing.LastFingerprint == fingerprint {
		logger.Debug("project unchanged, skipping")
		return project.Version{}, false, s.flushIndex(ctx)
	}

	key := ShardKey(rec.ID)
	versions, err := s.readVersions(ctx, key)
	if err != nil {
		return project.Version{}, false, err
	}
	next := 1
	if n := len(versions); n > 0 {
		latest := versions[n-1]
		if known {
			if changed := changes.Diff(latest.Data, rec); !s.detector.IsSignificant(changed) {
				logger.Debug("no significant change, skipping", zap.Stringer("changed", changed))
				return project.Version{}, false, s.flushIndex(ctx)
			}
		}
		next = latest.Version + 1
	}

	now := s.clock.Now().UTC()
	version := project.Version{
		ProjectID:   rec.ID,
		Version:     next,
		CrawlTime:   now,
		Fingerprint: fingerprint,
		Data:        rec,
	}
	if s.keepRaw && len(raw) > 0 {
		version.RawData = append(json.RawMessage(nil), raw...)
	}
	versions = append(versions, version)
	if err := s.writeVersions(ctx, key, versions); err != nil {
		return project.Version{}, false, err
	}

	first := now
	if known {
		first = existing.FirstCrawlTime
	}
	last := now
	s.setEntry(project.IndexEntry{
		ProjectID:       rec.ID,
		Name:            rec.Name,
		Category:        rec.Category,
		Status:          rec.Status,
		FirstCrawlTime:  first,
		LastCrawlTime:   &last,
		VersionCount:    len(versions),
		FilePath:        key,
		LastFingerprint: fingerprint,
	})
	if err := s.saveIndex(ctx); err != nil {
		logger.Warn("version stored but index write failed", zap.Int("version", next), zap.Error(err))
		return version, true, err
	}
	logger.Info("stored project version", zap.Int("version", next))
	return version, true, nil
}

// LatestVersion returns the highest-numbered version of a project.
func (s *Store) LatestVersion(ctx context.Context, id int64) (project.Version, bool, error) {
	versions, err := s.readVersions(ctx, ShardKey(id))
	if err != nil {
		return project.Version{}, false, err
	}
	if len(versions) == 0 {
		return project.Version{}, false, nil
	}
	return versions[len(versions)-1], true, nil
}

// Versions returns every version of a project in ascending order. Unknown
// projects yield an empty slice.
func (s *Store) Versions(ctx context.Context, id int64) ([]project.Version, error) {
	versions, err := s.readVersions(ctx, ShardKey(id))
	if err != nil {
		return nil, err
	}
	if versions == nil {
		versions = []project.Version{}
	}
	return versions, nil
}
