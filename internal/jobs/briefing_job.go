package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	robfigcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/reins-ai/reins-memory/internal/briefing"
)

// BriefingJob wraps a briefing.Service with the same start/stop/triggerNow
// lifecycle as ConsolidationJob (spec §4.10, C10).
type BriefingJob struct {
	service  *briefing.Service
	schedule Schedule
	logger   *zap.Logger

	onComplete func(*briefing.Briefing, []briefing.Message)
	onError    func(error)

	cron     *robfigcron.Cron
	entryID  robfigcron.EntryID
	hasEntry bool

	mu           sync.Mutex
	running      bool
	executing    bool
	lastRunAt    time.Time
	lastBriefing *briefing.Briefing
	runCount     int
}

// BriefingJobOption configures a BriefingJob at construction.
type BriefingJobOption func(*BriefingJob)

// WithBriefingLogger injects a structured logger. Defaults to zap.NewNop().
func WithBriefingLogger(logger *zap.Logger) BriefingJobOption {
	return func(j *BriefingJob) { j.logger = logger }
}

// WithBriefingCallbacks registers completion/error callbacks.
func WithBriefingCallbacks(onComplete func(*briefing.Briefing, []briefing.Message), onError func(error)) BriefingJobOption {
	return func(j *BriefingJob) {
		j.onComplete = onComplete
		j.onError = onError
	}
}

// NewBriefingJob constructs a job around service with the given schedule.
func NewBriefingJob(service *briefing.Service, schedule Schedule, opts ...BriefingJobOption) *BriefingJob {
	j := &BriefingJob{
		service:  service,
		schedule: schedule,
		logger:   zap.NewNop(),
		cron:     robfigcron.New(robfigcron.WithSeconds()),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start arms the scheduled interval (spec §4.10).
func (j *BriefingJob) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	if !j.schedule.Enabled {
		return NewError(CodeBriefingJobDisabled, "Start", nil)
	}
	if j.schedule.Interval <= 0 {
		return NewError(CodeBriefingJobInvalidInterval, "Start", nil)
	}

	spec := fmt.Sprintf("@every %s", j.schedule.Interval)
	entryID, err := j.cron.AddFunc(spec, func() {
		j.runScheduled(ctx)
	})
	if err != nil {
		return NewError(CodeBriefingJobInvalidInterval, "AddFunc", err)
	}

	j.entryID = entryID
	j.hasEntry = true
	j.cron.Start()
	j.running = true
	return nil
}

// Stop cancels the scheduled interval.
func (j *BriefingJob) Stop() {
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
// execution. The check-and-set of the executing flag happens under a
// single lock acquisition so two concurrent callers can never both observe
// the guard as free.
func (j *BriefingJob) TriggerNow(ctx context.Context) error {
	if !j.acquireExecution() {
		return NewError(CodeBriefingJobAlreadyRunning, "TriggerNow", nil)
	}
	j.executeInternal(ctx)
	return nil
}

// runScheduled is the cron tick entry point. A tick that fires while a run
// is already in flight (from cron or TriggerNow) is silently skipped.
func (j *BriefingJob) runScheduled(ctx context.Context) {
	if !j.acquireExecution() {
		return
	}
	j.executeInternal(ctx)
}

// acquireExecution atomically checks and sets the executing flag, returning
// true only to the caller that wins the race.
func (j *BriefingJob) acquireExecution() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.executing {
		return false
	}
	j.executing = true
	return true
}

// IsExecuting reports whether a run is currently in flight.
func (j *BriefingJob) IsExecuting() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.executing
}

// executeInternal runs the underlying service and updates state. Callers
// must already hold the execution guard (via acquireExecution) before
// calling this.
func (j *BriefingJob) executeInternal(ctx context.Context) {
	result, err := j.service.Generate(ctx)

	j.mu.Lock()
	j.executing = false
	j.lastRunAt = time.Now()
	if err == nil {
		j.lastBriefing = result
		j.runCount++
	}
	j.mu.Unlock()

	if err != nil {
		wrapped := NewError(CodeBriefingJobRunFailed, "Generate", err)
		j.logger.Warn("briefing run failed", zap.Error(wrapped))
		if j.onError != nil {
			j.onError(wrapped)
		}
		return
	}

	if j.onComplete != nil {
		j.onComplete(result, briefing.Format(result))
	}
}

// IsRunning reports whether the job's scheduled interval is currently armed.
func (j *BriefingJob) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// LastBriefing returns the most recently generated briefing, if any.
func (j *BriefingJob) LastBriefing() (*briefing.Briefing, time.Time) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastBriefing, j.lastRunAt
}
