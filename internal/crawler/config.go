package crawler

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Defaults applied when Config leaves the pacing bounds unset.
const (
	DefaultDelay        = time.Second
	DefaultMinDelay     = 500 * time.Millisecond
	DefaultMaxDelay     = 5 * time.Second
	DefaultFetchTimeout = 30 * time.Second
	DefaultMaxTargets   = 1_000_000
)

// Config wires the orchestrator's collaborators and pacing bounds.
// When DefaultDelay, MinDelay and MaxDelay are all zero the package defaults
// apply; otherwise MinDelay <= DefaultDelay <= MaxDelay must hold.
type Config struct {
	Fetcher      Fetcher
	Clock        Clock
	IDs          IDGenerator
	Logger       *zap.Logger
	DefaultDelay time.Duration
	MinDelay     time.Duration
	MaxDelay     time.Duration
	FetchTimeout time.Duration
	MaxTargets   int
}

func (c *Config) applyDefaults() {
	if c.DefaultDelay == 0 && c.MinDelay == 0 && c.MaxDelay == 0 {
		c.DefaultDelay = DefaultDelay
		c.MinDelay = DefaultMinDelay
		c.MaxDelay = DefaultMaxDelay
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.MaxTargets <= 0 {
		c.MaxTargets = DefaultMaxTargets
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.Fetcher == nil {
		return errors.New("crawler: fetcher is required")
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("crawler: delay bounds [%s, %s] are inverted", c.MinDelay, c.MaxDelay)
	}
	if c.DefaultDelay < c.MinDelay || c.DefaultDelay > c.MaxDelay {
		return fmt.Errorf("crawler: default delay %s outside [%s, %s]", c.DefaultDelay, c.MinDelay, c.MaxDelay)
	}
	return nil
}

func (c Config) resolveDelay(requested time.Duration) (time.Duration, error) {
	if requested == 0 {
		return c.DefaultDelay, nil
	}
	if requested < c.MinDelay || requested > c.MaxDelay {
		return 0, fmt.Errorf("%w: %s not in [%s, %s]", ErrInvalidDelay, requested, c.MinDelay, c.MaxDelay)
	}
	return requested, nil
}

func (c Config) resolveTargets(opts Options) (targets, error) {
	hasIDs := len(opts.IDs) > 0
	hasRange := opts.StartID != nil || opts.EndID != nil
	switch {
	case hasIDs && hasRange:
		return targets{}, fmt.Errorf("%w: both ids and a range were given", ErrInvalidTargetSpec)
	case hasIDs:
		if len(opts.IDs) > c.MaxTargets {
			return targets{}, fmt.Errorf("%w: %d ids exceeds limit %d", ErrInvalidTargetSpec, len(opts.IDs), c.MaxTargets)
		}
		for _, id := range opts.IDs {
			if id < 0 {
				return targets{}, fmt.Errorf("%w: negative id %d", ErrInvalidTargetSpec, id)
			}
		}
		return targets{ids: append([]int64(nil), opts.IDs...)}, nil
	case hasRange:
		if opts.StartID == nil || opts.EndID == nil {
			return targets{}, fmt.Errorf("%w: range needs both start and end", ErrInvalidTargetSpec)
		}
		start, end := *opts.StartID, *opts.EndID
		if start < 0 || end < start {
			return targets{}, fmt.Errorf("%w: bad range %d..%d", ErrInvalidTargetSpec, start, end)
		}
		if end-start >= int64(c.MaxTargets) {
			return targets{}, fmt.Errorf("%w: range %d..%d exceeds limit %d", ErrInvalidTargetSpec, start, end, c.MaxTargets)
		}
		return targets{start: start, end: end, isRange: true}, nil
	default:
		return targets{}, ErrInvalidTargetSpec
	}
}
