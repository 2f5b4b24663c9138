package crawler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/modian-insight/internal/clock/system"
	"github.com/JakeFAU/modian-insight/internal/id/uuid"
	"github.com/JakeFAU/modian-insight/internal/normalize"
	"github.com/JakeFAU/modian-insight/internal/project"
)

// Crawler owns the single task slot and executes tasks one project at a time.
// It is safe for concurrent use.
type Crawler struct {
	cfg     Config
	fetcher Fetcher
	clock   Clock
	ids     IDGenerator
	logger  *zap.Logger
	events  *eventQueue

	mu   sync.Mutex
	task *Task
	run  *taskRun
}

// taskRun holds the control state of the active task.
type taskRun struct {
	ctx     context.Context
	cancel  context.CancelFunc
	targets targets
	// resume is non-nil while the task is paused and closed on resume or stop.
	resume chan struct{}
}

// New constructs a Crawler.
func New(cfg Config) (*Crawler, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clk := cfg.Clock
	if clk == nil {
		clk = system.New()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = uuid.New()
	}
	logger := cfg.Logger.Named("crawler")
	return &Crawler{
		cfg:     cfg,
		fetcher: cfg.Fetcher,
		clock:   clk,
		ids:     ids,
		logger:  logger,
		events:  newEventQueue(logger),
	}, nil
}

// Subscribe registers l for every subsequent event and returns a function that
// removes it.
func (c *Crawler) Subscribe(l Listener) func() {
	return c.events.subscribe(l)
}

// Close stops the active task, if any, and waits until queued events are
// delivered. It must not be called from a Listener.
func (c *Crawler) Close() {
	c.Stop()
	c.events.close()
}

// Start validates opts, installs a new running task and walks its ids on a
// background goroutine. The task outlives ctx; use Stop to end it.
func (c *Crawler) Start(ctx context.Context, opts Options) (string, error) {
	tgts, err := c.cfg.resolveTargets(opts)
	if err != nil {
		return "", err
	}
	delay, err := c.cfg.resolveDelay(opts.Delay)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task != nil {
		return "", ErrAlreadyRunning
	}
	id, err := c.ids.NewID()
	if err != nil {
		return "", fmt.Errorf("crawler: task id: %w", err)
	}

	now := c.clock.Now()
	task := &Task{
		ID:        id,
		StartID:   clonePtr(opts.StartID),
		EndID:     clonePtr(opts.EndID),
		TargetIDs: append([]int64(nil), opts.IDs...),
		Delay:     delay,
		Status:    TaskRunning,
		CreatedAt: now,
		StartedAt: &now,
		Progress:  Progress{Total: tgts.Len()},
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &taskRun{ctx: runCtx, cancel: cancel, targets: tgts}
	c.task = task
	c.run = r
	c.emitLocked(Event{Type: EventTaskStarted})

	c.logger.Info("crawl task started",
		zap.String("task_id", id),
		zap.Int("total", task.Progress.Total),
		zap.Duration("delay", delay),
	)
	go c.execute(r)
	return id, nil
}

// Stop cancels the active task, marks it completed and clears the slot. It is
// a no-op when no task is active.
func (c *Crawler) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return
	}
	c.finishLocked(TaskCompleted, "")
}

// Pause suspends a running task before its next fetch.
func (c *Crawler) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return ErrNoActiveTask
	}
	if c.task.Status != TaskRunning {
		return fmt.Errorf("%w: pause from %s", ErrInvalidTransition, c.task.Status)
	}
	c.task.Status = TaskPaused
	c.run.resume = make(chan struct{})
	c.emitLocked(Event{Type: EventTaskPaused})
	return nil
}

// Resume continues a paused task.
func (c *Crawler) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return ErrNoActiveTask
	}
	if c.task.Status != TaskPaused {
		return fmt.Errorf("%w: resume from %s", ErrInvalidTransition, c.task.Status)
	}
	c.task.Status = TaskRunning
	close(c.run.resume)
	c.run.resume = nil
	c.emitLocked(Event{Type: EventTaskResumed})
	return nil
}

// CurrentTask returns a snapshot of the active task.
func (c *Crawler) CurrentTask() (Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.task == nil {
		return Task{}, false
	}
	return c.task.clone(), true
}

// IsRunning reports whether a task occupies the slot, paused or not.
func (c *Crawler) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.task != nil
}

// CrawlOne fetches, unwraps, normalizes and validates a single project
// without touching task state.
func (c *Crawler) CrawlOne(ctx context.Context, id int64) (project.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	rec, _, err := c.crawlProject(ctx, id)
	return rec, err
}

func (c *Crawler) crawlProject(ctx context.Context, id int64) (project.Record, json.RawMessage, error) {
	raw, err := c.fetcher.FetchRawProject(ctx, id)
	if err != nil {
		return project.Record{}, nil, err
	}
	decoded, err := normalize.Decode(raw)
	if err != nil {
		return project.Record{}, nil, fmt.Errorf("project %d: %w", id, err)
	}
	rec := normalize.Normalize(decoded, c.clock.Now())
	if err := normalize.Validate(rec); err != nil {
		return project.Record{}, nil, fmt.Errorf("project %d: %w", id, err)
	}
	if !normalize.KnownStatus(string(decoded.Status)) {
		c.logger.Debug("unrecognized upstream status",
			zap.Int64("project_id", id),
			zap.String("status", string(decoded.Status)),
		)
	}
	return rec, raw, nil
}

func (c *Crawler) execute(r *taskRun) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("crawl loop panicked", zap.Any("panic", p))
			c.fail(r, fmt.Sprintf("internal error: %v", p))
		}
	}()

	n := r.targets.Len()
	for i := range n {
		if r.ctx.Err() != nil {
			return
		}
		if !c.waitWhilePaused(r) {
			return
		}
		id := r.targets.At(i)
		if !c.markCurrent(r, id) {
			return
		}

		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), c.cfg.FetchTimeout)
		rec, raw, err := c.crawlProject(fetchCtx, id)
		cancel()

		if !c.recordResult(r, id, rec, raw, err) {
			return
		}
		if i < n-1 && !c.pace(r) {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == r {
		c.finishLocked(TaskCompleted, "")
	}
}

// waitWhilePaused blocks until the task is running again. It returns false
// once the task has been stopped.
func (c *Crawler) waitWhilePaused(r *taskRun) bool {
	for {
		c.mu.Lock()
		if c.run != r {
			c.mu.Unlock()
			return false
		}
		resume := r.resume
		c.mu.Unlock()
		if resume == nil {
			return true
		}
		select {
		case <-resume:
		case <-r.ctx.Done():
			return false
		}
	}
}

func (c *Crawler) markCurrent(r *taskRun, id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return false
	}
	c.task.Progress.Current = &id
	return true
}

// recordResult applies one fetch outcome. Results that arrive after the task
// was stopped are discarded.
func (c *Crawler) recordResult(r *taskRun, id int64, rec project.Record, raw json.RawMessage, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		c.logger.Debug("discarding result of stopped task", zap.Int64("project_id", id))
		return false
	}
	if err != nil {
		c.task.Progress.Failed++
		c.logger.Warn("project crawl failed",
			zap.String("task_id", c.task.ID),
			zap.Int64("project_id", id),
			zap.Error(err),
		)
		c.emitLocked(Event{Type: EventProjectFailed, ProjectID: id, Err: err})
	} else {
		c.task.Progress.Completed++
		c.emitLocked(Event{Type: EventProjectCrawled, ProjectID: id, Record: &rec, Raw: raw})
	}
	c.emitLocked(Event{Type: EventProgressUpdated, ProjectID: id})
	return true
}

// pace sleeps for the task delay. It returns false if the task was stopped.
func (c *Crawler) pace(r *taskRun) bool {
	c.mu.Lock()
	if c.run != r {
		c.mu.Unlock()
		return false
	}
	delay := c.task.Delay
	c.mu.Unlock()
	if delay <= 0 {
		return r.ctx.Err() == nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-r.ctx.Done():
		return false
	}
}

func (c *Crawler) fail(r *taskRun, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run != r {
		return
	}
	c.task.Error = reason
	c.emitLocked(Event{Type: EventTaskError, Err: fmt.Errorf("crawler: %s", reason)})
	c.finishLocked(TaskFailed, reason)
}

// finishLocked moves the task to a terminal state, emits TaskCompleted with
// the final snapshot and clears the slot. c.mu must be held.
func (c *Crawler) finishLocked(status TaskStatus, reason string) {
	r := c.run
	r.cancel()
	if r.resume != nil {
		close(r.resume)
		r.resume = nil
	}
	now := c.clock.Now()
	c.task.Status = status
	c.task.CompletedAt = &now
	c.task.Progress.Current = nil
	if reason != "" {
		c.task.Error = reason
	}
	c.emitLocked(Event{Type: EventTaskCompleted})

	c.logger.Info("crawl task finished",
		zap.String("task_id", c.task.ID),
		zap.String("status", string(status)),
		zap.Int("completed", c.task.Progress.Completed),
		zap.Int("failed", c.task.Progress.Failed),
	)
	c.task = nil
	c.run = nil
}

// emitLocked queues evt stamped with the current task snapshot. c.mu must be
// held so queue order matches state-change order.
func (c *Crawler) emitLocked(evt Event) {
	evt.At = c.clock.Now()
	if c.task != nil {
		evt.Task = c.task.clone()
	}
	c.events.push(evt)
}
