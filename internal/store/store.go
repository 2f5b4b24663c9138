package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/changes"
	"github.com/JakeFAU/modian-insight/internal/clock/system"
	"github.com/JakeFAU/modian-insight/internal/project"
	"github.com/JakeFAU/modian-insight/internal/storage"
)

// IndexKey is the backend key of the global index artifact.
const IndexKey = "index.json"

// Hasher computes content fingerprints.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Config wires the store's collaborators.
//   - Backend: where artifacts live (required).
//   - Detector: significance policy (defaults to changes.DefaultSignificantFields).
//   - Hasher: fingerprints records for the unchanged fast path (optional).
//   - KeepRaw: persist the raw upstream payload alongside each version.
//   - RebuildOnCorruptIndex: rescan artifacts when the index cannot be loaded.
type Config struct {
	Backend               storage.Backend
	Detector              *changes.Detector
	Hasher                Hasher
	Clock                 Clock
	Logger                *zap.Logger
	KeepRaw               bool
	RebuildOnCorruptIndex bool
}

// Store is the sole owner of the project index. All mutations are serialized
// through writeMu; readers take a snapshot under mu.
type Store struct {
	backend  storage.Backend
	detector *changes.Detector
	hasher   Hasher
	clock    Clock
	logger   *zap.Logger
	keepRaw  bool

	writeMu sync.Mutex
	// indexDirty marks an in-memory index not yet persisted. Guarded by writeMu.
	indexDirty bool

	mu    sync.RWMutex
	index map[int64]project.IndexEntry
}

// Open loads the index from the backend. A missing or unreadable index is
// not fatal: the store starts empty and, when configured, rebuilds the index
// from the per-project artifacts.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Backend == nil {
		return nil, errors.New("store: backend is required")
	}
	if cfg.Detector == nil {
		cfg.Detector = changes.NewDetector(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		backend:  cfg.Backend,
		detector: cfg.Detector,
		hasher:   cfg.Hasher,
		clock:    cfg.Clock,
		logger:   logger,
		keepRaw:  cfg.KeepRaw,
		index:    make(map[int64]project.IndexEntry),
	}

	loaded, err := s.loadIndex(ctx)
	if err != nil {
		s.logger.Warn("project index unreadable, starting empty", zap.Error(err))
	}
	if !loaded && cfg.RebuildOnCorruptIndex {
		n, rebuildErr := s.Rebuild(ctx)
		if rebuildErr != nil {
			s.logger.Warn("project index rebuild failed", zap.Error(rebuildErr))
		} else {
			s.logger.Info("project index rebuilt", zap.Int("projects", n))
		}
	}
	return s, nil
}

// loadIndex reports whether a valid index artifact was found.
func (s *Store) loadIndex(ctx context.Context) (bool, error) {
	data, err := s.backend.Read(ctx, IndexKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			s.logger.Info("no project index found, starting empty")
			return false, nil
		}
		return false, fmt.Errorf("%w: read index: %v", project.ErrStorageIO, err)
	}
	var entries []project.IndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return false, fmt.Errorf("%w: decode index: %v", project.ErrStorageIO, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entry := range entries {
		if entry.ProjectID <= 0 {
			continue
		}
		s.index[entry.ProjectID] = entry
	}
	s.logger.Info("project index loaded", zap.Int("projects", len(s.index)))
	return true, nil
}

// saveIndex rewrites the whole index. Callers hold writeMu. A failed write
// leaves the index dirty so the next mutation retries it.
func (s *Store) saveIndex(ctx context.Context) error {
	entries := s.ListIndex()
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.indexDirty = true
		return fmt.Errorf("%w: encode index: %v", project.ErrStorageIO, err)
	}
	if err := s.backend.Write(ctx, IndexKey, data); err != nil {
		s.indexDirty = true
		return fmt.Errorf("%w: write index: %v", project.ErrStorageIO, err)
	}
	s.indexDirty = false
	return nil
}

// flushIndex persists the index if an earlier write failed. Callers hold writeMu.
func (s *Store) flushIndex(ctx context.Context) error {
	if !s.indexDirty {
		return nil
	}
	if err := s.saveIndex(ctx); err != nil {
		return err
	}
	s.logger.Info("pending project index persisted")
	return nil
}

func (s *Store) entry(id int64) (project.IndexEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.index[id]
	return e, ok
}

func (s *Store) setEntry(e project.IndexEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[e.ProjectID] = e
}

func (s *Store) removeEntry(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.index, id)
}

// readVersions loads an artifact sorted by version. A missing artifact yields
// an empty list.
func (s *Store) readVersions(ctx context.Context, key string) ([]project.Version, error) {
	data, err := s.backend.Read(ctx, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: read %s: %v", project.ErrStorageIO, key, err)
	}
	var versions []project.Version
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", project.ErrStorageIO, key, err)
	}
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].Version < versions[j].Version
	})
	return versions, nil
}

func (s *Store) writeVersions(ctx context.Context, key string, versions []project.Version) error {
	data, err := json.MarshalIndent(versions, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode %s: %v", project.ErrStorageIO, key, err)
	}
	if err := s.backend.Write(ctx, key, data); err != nil {
		return fmt.Errorf("%w: write %s: %v", project.ErrStorageIO, key, err)
	}
	return nil
}

func (s *Store) fingerprint(rec project.Record) string {
	if s.hasher == nil {
		return ""
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	sum, err := s.hasher.Hash(data)
	if err != nil {
		s.logger.Debug("fingerprint failed", zap.Int64("project_id", rec.ID), zap.Error(err))
		return ""
	}
	return sum
}
