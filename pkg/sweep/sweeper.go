// Package sweep runs the periodic batch re-evaluation of the item population.
//
// A sweep pages through the id space in ascending order, evaluates each item
// through the engine, and persists a checkpoint so a sweep that outlives its
// period (or is cancelled) resumes without skipping or duplicating items.
// Items within a page are hash-partitioned across workers (id mod workers),
// so each item has exactly one writer; access-event counter increments apply
// independently and never conflict with the sweep.
package sweep

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/oceanbase/memtier-go/pkg/core"
	"github.com/oceanbase/memtier-go/pkg/engine"
	"github.com/oceanbase/memtier-go/pkg/store"
)

// checkpointName is the persisted checkpoint key for the retention sweep.
const checkpointName = "retention_sweep"

// Stats summarizes one sweep run.
type Stats struct {
	// RunID uniquely identifies the run in logs.
	RunID string

	// Evaluated is the number of items whose evaluation committed.
	Evaluated int

	// Transitions is the number of tier changes committed.
	Transitions int

	// Compressed is the number of compression steps committed.
	Compressed int

	// Deleted is the number of items committed to DELETED.
	Deleted int

	// Deferred is the number of items skipped after exhausting retries;
	// they are picked up again next sweep.
	Deferred int

	// Corrupt is the number of items excluded for malformed data.
	Corrupt int

	// Refused is the number of deletions refused by the pre-commit
	// no-recent-access recheck.
	Refused int
}

// Sweeper periodically re-evaluates the item population.
//
// Example usage:
//
//	sweeper, _ := sweep.New(eng, cfg.Sweep)
//	sweeper.Start()
//	defer sweeper.Stop()
//
//	// or drive it manually:
//	stats, err := sweeper.RunOnce(ctx)
type Sweeper struct {
	engine *engine.Engine
	items  store.ItemStore
	marks  store.Checkpoints
	cfg    core.SweepConfig

	cron    *cron.Cron
	entryID cron.EntryID

	// mu serializes runs: a scheduled run skips if the previous one is
	// still going, since the checkpoint makes the next run resume anyway.
	mu      sync.Mutex
	running bool
}

// New creates a sweeper over the engine's store.
//
// The store must implement store.Checkpoints; all bundled stores do.
//
// Parameters:
//   - eng: The retention engine performing per-item evaluation
//   - cfg: Sweep schedule, worker count, batch size, retry policy
//
// Returns a new Sweeper, or an error wrapping core.ErrInvalidConfig.
func New(eng *engine.Engine, cfg core.SweepConfig) (*Sweeper, error) {
	items := eng.Store()
	marks, ok := items.(store.Checkpoints)
	if !ok {
		return nil, core.NewRetentionError("sweep.New",
			errors.New("store does not implement checkpoints"))
	}
	if cfg.Workers <= 0 || cfg.BatchSize <= 0 {
		return nil, core.NewRetentionError("sweep.New", core.ErrInvalidConfig)
	}

	return &Sweeper{
		engine: eng,
		items:  items,
		marks:  marks,
		cfg:    cfg,
		cron:   cron.New(),
	}, nil
}

// Start schedules sweeps per the configured cron expression (default
// "@hourly") and returns immediately.
func (s *Sweeper) Start() error {
	schedule := s.cfg.Schedule
	if schedule == "" {
		schedule = "@hourly"
	}

	id, err := s.cron.AddFunc(schedule, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			log.Printf("memtier: sweep failed: %v", err)
		}
	})
	if err != nil {
		return core.NewRetentionError("sweep.Start", err)
	}
	s.entryID = id
	s.cron.Start()
	return nil
}

// Stop stops the schedule and waits for a running scheduled sweep to reach
// its next between-items cancellation point.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce performs one full sweep over the item population, resuming from
// the persisted checkpoint.
//
// The sweep is cancellable only between items; the checkpoint advances only
// after every evaluation in a page has committed (or been deferred), so a
// cancelled sweep resumes without skipping items and without duplicating
// audit records (evaluation is idempotent). When the scan reaches the end
// of the id space the checkpoint resets, so the next run starts over.
//
// Returns the run's Stats. A transient store failure while paging aborts
// the run with an error; per-item failures only increment counters.
func (s *Sweeper) RunOnce(ctx context.Context) (*Stats, error) {
	const op = "sweep.RunOnce"

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("memtier: sweep already running, skipping this trigger")
		return &Stats{}, nil
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	stats := &Stats{RunID: uuid.NewString()}

	lastID, err := s.marks.LoadCheckpoint(ctx, checkpointName)
	if err != nil {
		return stats, core.NewRetentionError(op, err)
	}
	log.Printf("memtier: sweep %s starting after id %d", stats.RunID, lastID)

	for {
		if err := ctx.Err(); err != nil {
			log.Printf("memtier: sweep %s cancelled at id %d", stats.RunID, lastID)
			return stats, core.NewRetentionError(op, err)
		}

		page, err := s.items.QueryItems(ctx, &store.Filter{
			AfterID: lastID,
			Limit:   s.cfg.BatchSize,
		})
		if err != nil {
			return stats, core.NewRetentionError(op, err)
		}
		if len(page) == 0 {
			break
		}

		if err := s.processPage(ctx, page, stats); err != nil {
			// Cancelled mid-page: the checkpoint stays put, and the
			// resumed sweep re-evaluates the page idempotently.
			return stats, core.NewRetentionError(op, err)
		}

		lastID = page[len(page)-1].ID
		if err := s.marks.SaveCheckpoint(ctx, checkpointName, lastID); err != nil {
			return stats, core.NewRetentionError(op, err)
		}
	}

	// Scan complete: reset so the next run covers the whole population.
	if err := s.marks.ClearCheckpoint(ctx, checkpointName); err != nil {
		return stats, core.NewRetentionError(op, err)
	}

	log.Printf("memtier: sweep %s done: evaluated=%d transitions=%d compressed=%d deleted=%d deferred=%d corrupt=%d refused=%d",
		stats.RunID, stats.Evaluated, stats.Transitions, stats.Compressed,
		stats.Deleted, stats.Deferred, stats.Corrupt, stats.Refused)
	return stats, nil
}

// processPage fans one page out to the partition workers and merges counters.
func (s *Sweeper) processPage(ctx context.Context, page []*core.MemoryItem, stats *Stats) error {
	workers := s.cfg.Workers
	partitions := make([][]*core.MemoryItem, workers)
	for _, item := range page {
		// Hash partition by id: disjoint partitions preserve the
		// single-writer-per-item invariant.
		w := int(uint64(item.ID) % uint64(workers))
		partitions[w] = append(partitions[w], item)
	}

	var wg sync.WaitGroup
	results := make([]Stats, workers)
	for w := 0; w < workers; w++ {
		if len(partitions[w]) == 0 {
			continue
		}
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			s.processPartition(ctx, partitions[w], &results[w])
		}(w)
	}
	wg.Wait()

	for _, r := range results {
		stats.Evaluated += r.Evaluated
		stats.Transitions += r.Transitions
		stats.Compressed += r.Compressed
		stats.Deleted += r.Deleted
		stats.Deferred += r.Deferred
		stats.Corrupt += r.Corrupt
		stats.Refused += r.Refused
	}
	return ctx.Err()
}

// processPartition evaluates one worker's items sequentially, checking for
// cancellation between items, never mid-item.
func (s *Sweeper) processPartition(ctx context.Context, items []*core.MemoryItem, stats *Stats) {
	for _, item := range items {
		if ctx.Err() != nil {
			return
		}
		s.evaluateWithRetry(ctx, item.ID, stats)
	}
}

// evaluateWithRetry evaluates one item, retrying transient store failures
// with bounded exponential backoff up to the configured attempt cap, then
// deferring the item to the next sweep rather than blocking.
func (s *Sweeper) evaluateWithRetry(ctx context.Context, id int64, stats *Stats) {
	var outcome *engine.Outcome

	operation := func() error {
		var err error
		outcome, err = s.engine.EvaluateItem(ctx, id)
		if err != nil && !core.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.cfg.InitialBackoff
	policy.MaxInterval = s.cfg.MaxBackoff

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.cfg.MaxRetries)), ctx))

	switch {
	case err == nil:
		stats.Evaluated++
		if outcome.Decision.Changed() {
			stats.Transitions++
		}
		if outcome.ToLevel != outcome.FromLevel {
			stats.Compressed++
		}
		if outcome.Deleted {
			stats.Deleted++
		}
	case errors.Is(err, core.ErrPreconditionFailed):
		// Deletion raced a concurrent access; re-queued for next sweep.
		stats.Refused++
		log.Printf("memtier: delete of item %d refused by access recheck", id)
	case errors.Is(err, core.ErrCorruptItem):
		stats.Corrupt++
		log.Printf("memtier: item %d excluded from evaluation: %v", id, err)
	case errors.Is(err, core.ErrTerminalTier), errors.Is(err, core.ErrNotFound):
		// Deleted between paging and evaluation; nothing to do.
	case core.IsTransient(err):
		stats.Deferred++
		log.Printf("memtier: item %d deferred to next sweep: %v", id, err)
	default:
		stats.Deferred++
		log.Printf("memtier: item %d evaluation failed: %v", id, err)
	}
}
