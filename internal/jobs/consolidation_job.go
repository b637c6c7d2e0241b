package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reins-ai/reins-memory/internal/memory"
)

// Schedule is a job's enable/interval configuration (spec §6).
type Schedule struct {
	Enabled  bool
	Interval time.Duration
}

// ConsolidationJob wraps a memory.Runner with the start/stop/triggerNow
// lifecycle shared by both background jobs (spec §4.10, C10), grounded on
// the teacher's cron.Service robfig wiring.
type ConsolidationJob struct {
	runner   *memory.Runner
	schedule Schedule
	logger   *zap.Logger

	onComplete func(*memory.RunResult)
	onError    func(error)

	cron      *robfigcron.Cron
	entryID   robfigcron.EntryID
	hasEntry  bool

	mu        sync.Mutex
	running   bool
	executing bool
	lastRunAt time.Time
	runCount  int
}

// ConsolidationJobOption configures a ConsolidationJob at construction.
type ConsolidationJobOption func(*ConsolidationJob)

// WithConsolidationLogger injects a structured logger. Defaults to zap.NewNop().
func WithConsolidationLogger(logger *zap.Logger) ConsolidationJobOption {
	return func(j *ConsolidationJob) { j.logger = logger }
}

// WithConsolidationCallbacks registers completion/error callbacks, fired
// synchronously after each run's state update.
func WithConsolidationCallbacks(onComplete func(*memory.RunResult), onError func(error)) ConsolidationJobOption {
	return func(j *ConsolidationJob) {
		j.onComplete = onComplete
		j.onError = onError
	}
}

// NewConsolidationJob constructs a job around runner with the given schedule.
func NewConsolidationJob(runner *memory.Runner, schedule Schedule, opts ...ConsolidationJobOption) *ConsolidationJob {
	j := &ConsolidationJob{
		runner:   runner,
		schedule: schedule,
		logger:   zap.NewNop(),
		cron:     robfigcron.New(robfigcron.WithSeconds()),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start arms the scheduled interval. Idempotent if already running; fails
// if the job is disabled or the interval is non-positive (spec §4.10).
func (j *ConsolidationJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	if !j.schedule.Enabled {
		return NewError(CodeConsolidationJobDisabled, "Start", nil)
	}
	if j.schedule.Interval <= 0 {
		return NewError(CodeConsolidationJobInvalidInterval, "Start", nil)
	}

	spec := fmt.Sprintf("@every %s", j.schedule.Interval)
	entryID, err := j.cron.AddFunc(spec, func() {
		j.runScheduled(ctx)
	})
	if err != nil {
		return NewError(CodeConsolidationJobInvalidInterval, "AddFunc", err)
	}

	j.entryID = entryID
	j.hasEntry = true
	j.cron.Start()
	j.running = true
	return nil
}

// Stop cancels the scheduled interval. An in-flight executeInternal call is
// allowed to run to completion (spec §5).
func (j *ConsolidationJob) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	if j.hasEntry {
		j.cron.Remove(j.entryID)
	}
	stopCtx := j.cron.Stop()
	j.running = false
	j.mu.Unlock()

	// Wait outside the lock: the in-flight run needs it to record its result.
	<-stopCtx.Done()
}

// TriggerNow executes the run immediately, guarded against concurrent
// execution (spec §4.10). The check-and-set of the executing flag happens
// under a single lock acquisition so two concurrent callers can never both
// observe the guard as free.
func (j *ConsolidationJob) TriggerNow(ctx context.Context) error {
	if !j.acquireExecution() {
		return NewError(CodeConsolidationJobAlreadyRunning, "TriggerNow", nil)
	}
	j.executeInternal(ctx)
	return nil
}

// runScheduled is the cron tick entry point. A tick that fires while a run
// is already in flight (from cron or TriggerNow) is silently skipped,
// matching the same guard used by TriggerNow (spec §4.10, §5).
func (j *ConsolidationJob) runScheduled(ctx context.Context) {
	if !j.acquireExecution() {
		return
	}
	j.executeInternal(ctx)
}

// acquireExecution atomically checks and sets the executing flag, returning
// true only to the caller that wins the race.
func (j *ConsolidationJob) acquireExecution() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.executing {
		return false
	}
	j.executing = true
	return true
}

// IsExecuting reports whether a run is currently in flight.
func (j *ConsolidationJob) IsExecuting() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.executing
}

// executeInternal runs the underlying Runner and updates state. Callers must
// already hold the execution guard (via acquireExecution) before calling
// this.
func (j *ConsolidationJob) executeInternal(ctx context.Context) {
	result, err := j.runner.Run(ctx)

	j.mu.Lock()
	j.executing = false
	j.lastRunAt = time.Now()
	if err == nil {
		j.runCount++
	}
	j.mu.Unlock()

	if err != nil {
		j.logger.Warn("consolidation run failed", zap.Error(err))
		if j.onError != nil {
			j.onError(err)
		}
		return
	}
	if j.onComplete != nil {
		j.onComplete(result)
	}
}

// IsRunning reports whether the job's scheduled interval is currently armed.
func (j *ConsolidationJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// Stats exposes the job's last-run bookkeeping for diagnostics.
func (j *ConsolidationJob) Stats() (lastRunAt time.Time, runCount int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRunAt, j.runCount
}
