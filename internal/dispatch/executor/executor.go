// Package executor runs a batch of independent tasks under a fixed
// concurrency ceiling with a fixed pause after each completion.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCanceled is returned by Run when the batch was canceled before all
// tasks settled.
var ErrCanceled = errors.New("batch canceled")

// Task is one opaque unit of work. It must honor ctx for its own remote
// call; the executor never forcibly aborts a running task.
type Task func(ctx context.Context) (any, error)

// Plan is the resolved speed policy for one batch. Immutable once an
// executor is built from it.
type Plan struct {
	Concurrency int
	Delay       time.Duration
}

// Result is the settled outcome of one task, placed at the task's
// original index regardless of completion order.
type Result struct {
	Success bool
	Value   any
	Err     error
	Latency time.Duration
}

// Callbacks stream per-task outcomes to the caller as they settle.
// Either field may be nil. OnResult fires in completion order, not index
// order; callers that need list order must buffer by index.
type Callbacks struct {
	OnResult   func(index int, res Result)
	OnProgress func(completed, total int)
}

// Stats is a point-in-time snapshot of a running batch.
type Stats struct {
	TotalTasks         int
	CompletedTasks     int
	CurrentConcurrency int
	Elapsed            time.Duration
	Throughput         float64 // tasks per second, observed
	ETA                time.Duration
}

// Executor runs one batch. One instance per batch run; not reusable.
type Executor struct {
	plan Plan
	log  *slog.Logger

	cancelOnce sync.Once
	canceled   chan struct{}

	mu        sync.Mutex
	total     int
	completed int
	inFlight  int
	startTime time.Time
}

// New builds an executor for the given plan. Concurrency below 1 is
// raised to 1 and a negative delay is treated as zero.
func New(plan Plan, log *slog.Logger) *Executor {
	if plan.Concurrency < 1 {
		plan.Concurrency = 1
	}
	if plan.Delay < 0 {
		plan.Delay = 0
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{
		plan:     plan,
		log:      log,
		canceled: make(chan struct{}),
	}
}

// Plan returns the plan the executor was built from.
func (e *Executor) Plan() Plan {
	return e.plan
}

// Cancel requests cooperative cancellation. Idempotent. No further tasks
// are scheduled; Run returns ErrCanceled once in-flight tasks drain.
func (e *Executor) Cancel() {
	e.cancelOnce.Do(func() {
		close(e.canceled)
	})
}

type settled struct {
	index int
	res   Result
}

// Run executes tasks and returns results index-aligned with the input.
// A task's own failure never aborts the batch; only cancellation (via
// Cancel or ctx) ends it early, after the in-flight set drains.
func (e *Executor) Run(ctx context.Context, tasks []Task, cb Callbacks) ([]Result, error) {
	if len(tasks) == 0 {
		return []Result{}, nil
	}

	e.mu.Lock()
	e.total = len(tasks)
	e.startTime = time.Now()
	e.mu.Unlock()

	results := make([]Result, len(tasks))
	done := make(chan settled, e.plan.Concurrency)

	next := 0
	inFlight := 0
	completed := 0

	launch := func(index int) {
		task := tasks[index]
		go func() {
			start := time.Now()
			value, err := task(ctx)
			res := Result{
				Success: err == nil,
				Value:   value,
				Err:     err,
				Latency: time.Since(start),
			}
			done <- settled{index: index, res: res}
		}()
	}

	for completed < len(tasks) {
		// Refill the in-flight set up to the concurrency bound, unless
		// cancellation was requested.
		for !e.isCanceled(ctx) && inFlight < e.plan.Concurrency && next < len(tasks) {
			launch(next)
			next++
			inFlight++
			e.setInFlight(inFlight)
		}

		if inFlight == 0 {
			// Canceled with nothing running: stop scheduling.
			break
		}

		// Wait for the earliest settlement, never for the whole set.
		s := <-done
		inFlight--
		completed++
		e.recordSettled(inFlight)

		results[s.index] = s.res
		if !s.res.Success {
			e.log.Debug("task failed", "index", s.index, "error", s.res.Err)
		}
		if cb.OnResult != nil {
			cb.OnResult(s.index, s.res)
		}
		if cb.OnProgress != nil {
			cb.OnProgress(completed, len(tasks))
		}

		// Pause after each completion, but never after the last task and
		// never once cancellation is in progress.
		if completed < len(tasks) && e.plan.Delay > 0 && !e.isCanceled(ctx) {
			if !e.sleep(ctx, e.plan.Delay) {
				// Sleep cut short by cancellation; loop re-checks.
				continue
			}
		}
	}

	if e.isCanceled(ctx) && completed < len(tasks) {
		return results, ErrCanceled
	}
	return results, nil
}

// Stats returns a snapshot of the current run. ETA is derived from the
// observed throughput, not from the configured pause.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Stats{
		TotalTasks:         e.total,
		CompletedTasks:     e.completed,
		CurrentConcurrency: e.inFlight,
	}
	if !e.startTime.IsZero() {
		s.Elapsed = time.Since(e.startTime)
	}
	if s.Elapsed > 0 && e.completed > 0 {
		s.Throughput = float64(e.completed) / s.Elapsed.Seconds()
		remaining := e.total - e.completed
		s.ETA = time.Duration(float64(remaining) / s.Throughput * float64(time.Second))
	}
	return s
}

func (e *Executor) isCanceled(ctx context.Context) bool {
	select {
	case <-e.canceled:
		return true
	default:
	}
	return ctx.Err() != nil
}

// sleep waits for d, returning false if cancellation interrupted it.
func (e *Executor) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.canceled:
		return false
	case <-ctx.Done():
		return false
	}
}

func (e *Executor) setInFlight(n int) {
	e.mu.Lock()
	e.inFlight = n
	e.mu.Unlock()
}

func (e *Executor) recordSettled(inFlight int) {
	e.mu.Lock()
	e.inFlight = inFlight
	e.completed++
	e.mu.Unlock()
}
