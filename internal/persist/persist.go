// Package persist connects the crawler to the versioned project store. It
// subscribes to crawl events, stores every successfully crawled record and
// reports the store decision as progress events.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/crawler"
	"github.com/JakeFAU/modian-insight/internal/progress"
	"github.com/JakeFAU/modian-insight/internal/project"
)

const defaultTimeout = 30 * time.Second

// VersionStore is the part of the store the persister writes through.
type VersionStore interface {
	StoreVersion(ctx context.Context, rec project.Record, raw json.RawMessage) (project.Version, bool, error)
}

// Config wires a Persister.
//   - Store: destination of crawled records (required).
//   - Emitter: receives VERSION_STORED/VERSION_SKIPPED/STORE_ERROR (optional).
//   - Timeout: bound on a single store call (default 30s).
//   - BaseContext: parent of every store call (defaults to context.Background()).
type Config struct {
	Store       VersionStore
	Emitter     progress.Emitter
	Timeout     time.Duration
	BaseContext context.Context
	Logger      *zap.Logger
}

// Persister stores crawled projects. Its Listener runs on the crawler's
// dispatch goroutine, so stores happen one at a time in crawl order.
type Persister struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Persister.
func New(cfg Config) (*Persister, error) {
	if cfg.Store == nil {
		return nil, errors.New("persist: store is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Persister{cfg: cfg, logger: logger.Named("persist")}, nil
}

// Listener returns the crawler subscription callback.
func (p *Persister) Listener() crawler.Listener {
	return p.Handle
}

// Handle stores the record carried by a ProjectCrawled event. Other event
// types are ignored. Store failures never reach the crawler; they are logged
// and emitted as STORE_ERROR.
func (p *Persister) Handle(evt crawler.Event) {
	if evt.Type != crawler.EventProjectCrawled || evt.Record == nil {
		return
	}
	ctx, cancel := context.WithTimeout(p.cfg.BaseContext, p.cfg.Timeout)
	defer cancel()

	rec := *evt.Record
	logger := p.logger.With(zap.Int64("project_id", rec.ID), zap.String("task_id", evt.Task.ID))
	start := time.Now()
	version, written, err := p.cfg.Store.StoreVersion(ctx, rec, evt.Raw)

	out := progress.Event{
		TS:        evt.At.UTC(),
		ProjectID: rec.ID,
		Name:      rec.Name,
		Category:  rec.Category,
		Status:    string(rec.Status),
		Dur:       time.Since(start),
	}
	if out.TS.IsZero() {
		out.TS = time.Now().UTC()
	}
	out.TaskID = taskID(evt.Task.ID)

	switch {
	case err != nil:
		logger.Error("store project failed", zap.Error(err))
		out.Stage = progress.StageStoreError
		out.Note = err.Error()
		if written {
			out.Version = version.Version
		}
	case written:
		logger.Info("project version stored", zap.Int("version", version.Version))
		out.Stage = progress.StageVersionStored
		out.Version = version.Version
		out.Fingerprint = version.Fingerprint
	default:
		logger.Debug("project unchanged")
		out.Stage = progress.StageVersionSkipped
	}
	if p.cfg.Emitter != nil {
		p.cfg.Emitter.Emit(out)
	}
}

func taskID(id string) [16]byte {
	if u, err := uuid.Parse(id); err == nil {
		return progress.UUIDToBytes(u)
	}
	return [16]byte{}
}
