package memory

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// RetryPolicy controls the consolidation runner's retry/backoff behavior
// (spec §4.7, §6).
type RetryPolicy struct {
	MaxRetries    int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
}

// DefaultRetryPolicy returns the spec §6 defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:  3,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
	}
}

// backoffFor returns baseBackoff * 2^attempt, capped at maxBackoff.
func (p RetryPolicy) backoffFor(attempt int) time.Duration {
	d := p.BaseBackoff
	for i := 0; i < attempt; i++ {
		d *= 2
		if d > p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// RunStats summarizes one consolidation run (spec §4.7).
type RunStats struct {
	CandidatesProcessed int
	FactsDistilled      int
	Created             int
	Updated             int
	Superseded          int
	Skipped             int
	Failed              int
}

// RunResult is the output of one Consolidation Runner invocation.
type RunResult struct {
	RunID       string
	Timestamp   time.Time
	Stats       RunStats
	MergeResult *MergeResult
	Errors      []string
	DurationMs  int64
}

// Runner drives the full consolidation pipeline: select, distill, merge,
// write (spec §4.7, C7).
type Runner struct {
	selector  *Selector
	distiller *DistillationEngine
	merger    *MergeEngine
	writer    LtmWriter
	retry     RetryPolicy
	now       Clock
	genID     IDGenerator

	logger *zap.Logger

	runsCounter     metric.Int64Counter
	factsHistogram  metric.Int64Histogram
	durationHistogram metric.Float64Histogram

	sleep func(ctx context.Context, d time.Duration) error
}

// RunnerOption configures a Runner at construction time.
type RunnerOption func(*Runner)

// WithLogger injects a structured logger. Defaults to zap.NewNop().
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = logger }
}

// WithMeter wires OTEL metric instruments onto the runner. Safe to omit;
// without it the instruments stay nil and no metrics are recorded.
func WithMeter(meter metric.Meter) RunnerOption {
	return func(r *Runner) {
		if meter == nil {
			return
		}
		if c, err := meter.Int64Counter("memory.consolidation.runs"); err == nil {
			r.runsCounter = c
		}
		if h, err := meter.Int64Histogram("memory.consolidation.facts_distilled"); err == nil {
			r.factsHistogram = h
		}
		if h, err := meter.Float64Histogram("memory.consolidation.duration_ms"); err == nil {
			r.durationHistogram = h
		}
	}
}

// WithClock overrides the runner's time source (tests only).
func WithClock(now Clock) RunnerOption {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides the runner's id source (tests only).
func WithIDGenerator(genID IDGenerator) RunnerOption {
	return func(r *Runner) { r.genID = genID }
}

// WithSleep overrides the backoff sleep implementation (tests only), so
// retry timing is observable without real wall-clock waits (spec §9).
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) { r.sleep = sleep }
}

// NewRunner constructs a Runner.
func NewRunner(selector *Selector, distiller *DistillationEngine, merger *MergeEngine, writer LtmWriter, retry RetryPolicy, opts ...RunnerOption) *Runner {
	r := &Runner{
		selector:  selector,
		distiller: distiller,
		merger:    merger,
		writer:    writer,
		retry:     retry,
		now:       time.Now,
		genID:     generateID,
		logger:    zap.NewNop(),
		sleep:     ctxSleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func ctxSleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run implements the pipeline sequence of spec §4.7.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	runID := r.genID()
	start := r.now()
	result := &RunResult{RunID: runID, Timestamp: start}

	defer func() {
		result.DurationMs = r.now().Sub(start).Milliseconds()
		if r.durationHistogram != nil {
			r.durationHistogram.Record(ctx, float64(result.DurationMs))
		}
		if r.runsCounter != nil {
			r.runsCounter.Add(ctx, 1)
		}
	}()

	batch, err := r.selector.SelectBatch(ctx)
	if err != nil {
		return nil, NewError(CodeRunSelectFailed, "SelectBatch", err)
	}

	if len(batch.Candidates) == 0 {
		return result, nil
	}

	ids := batch.RecordIDs()
	result.Stats.CandidatesProcessed = len(ids)
	r.selector.MarkProcessing(batch.BatchID, ids)

	records, err := r.loadBatchRecords(ctx, batch)
	if err != nil {
		r.selector.MarkFailed(ids)
		return nil, NewError(CodeRunDistillFailed, "loadBatchRecords", err)
	}

	distillation, err := r.distillWithRetry(ctx, batch, records)
	if err != nil {
		r.selector.MarkFailed(ids)
		return nil, err
	}

	result.Stats.FactsDistilled = len(distillation.Facts)
	for _, w := range distillation.Warnings {
		result.Errors = append(result.Errors, w)
	}
	if len(distillation.FailedCandidateIDs) > 0 {
		r.selector.MarkFailed(distillation.FailedCandidateIDs)
		result.Stats.Failed += len(distillation.FailedCandidateIDs)
	}

	if len(distillation.Facts) == 0 {
		remaining := idsMinus(ids, distillation.FailedCandidateIDs)
		r.selector.MarkConsolidated(remaining)
		return result, nil
	}

	if r.factsHistogram != nil {
		r.factsHistogram.Record(ctx, int64(len(distillation.Facts)))
	}

	existing, err := r.writer.GetExisting(ctx, distillation.Facts)
	if err != nil {
		r.selector.MarkFailed(ids)
		return nil, NewError(CodeRunLTMFetchFailed, "GetExisting", err)
	}

	mergeResult, err := r.merger.Merge(distillation.Facts, existing, r.now, r.genID)
	if err != nil {
		r.selector.MarkFailed(ids)
		return nil, NewError(CodeRunMergeFailed, "Merge", err)
	}
	result.MergeResult = mergeResult
	result.Stats.Created = len(mergeResult.Created)
	result.Stats.Updated = len(mergeResult.Updated)
	result.Stats.Superseded = len(mergeResult.Superseded)
	result.Stats.Skipped = len(mergeResult.Skipped)

	toPersist := make([]*MemoryRecord, 0, len(mergeResult.Created)+len(mergeResult.Updated)+len(mergeResult.Superseded))
	toPersist = append(toPersist, mergeResult.Created...)
	toPersist = append(toPersist, mergeResult.Updated...)
	toPersist = append(toPersist, mergeResult.Superseded...)

	if err := r.writeWithRetry(ctx, toPersist); err != nil {
		r.selector.MarkFailed(ids)
		return nil, NewError(CodeRunWriteFailed, "Write", err)
	}

	remaining := idsMinus(ids, distillation.FailedCandidateIDs)
	r.selector.MarkConsolidated(remaining)

	return result, nil
}

// loadBatchRecords fetches the full MemoryRecord for each candidate in batch,
// keyed by id, for the distillation engine's prompt rendering.
func (r *Runner) loadBatchRecords(ctx context.Context, batch *StmBatch) (map[string]*MemoryRecord, error) {
	records, err := r.selector.source.ListSTMRecords(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]*MemoryRecord, len(batch.Candidates))
	for _, rec := range records {
		out[rec.ID] = rec
	}
	return out, nil
}

// distillWithRetry invokes the distillation engine under the runner's retry
// policy: maxRetries attempts total beyond the first, exponential backoff
// between attempts, never before the first or after the last (spec §4.7).
func (r *Runner) distillWithRetry(ctx context.Context, batch *StmBatch, records map[string]*MemoryRecord) (*DistillationResult, error) {
	var lastErr error
	attempts := r.retry.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.retry.backoffFor(attempt-1)); err != nil {
				return nil, err
			}
		}
		result, err := r.distiller.Distill(ctx, batch, records)
		if err == nil {
			return result, nil
		}
		lastErr = err
		r.logger.Warn("distillation attempt failed", zap.Int("attempt", attempt), zap.Error(err))
	}
	return nil, NewError(CodeRunRetryExhausted, "distillWithRetry", lastErr)
}

// writeWithRetry persists records under the runner's retry policy.
func (r *Runner) writeWithRetry(ctx context.Context, records []*MemoryRecord) error {
	if len(records) == 0 {
		return nil
	}
	var lastErr error
	attempts := r.retry.MaxRetries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := r.sleep(ctx, r.retry.backoffFor(attempt-1)); err != nil {
				return err
			}
		}
		if err := r.writer.Write(ctx, records); err == nil {
			return nil
		} else {
			lastErr = err
			r.logger.Warn("ltm write attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
	}
	return NewError(CodeRunRetryExhausted, "writeWithRetry", lastErr)
}

func idsMinus(all, excluded []string) []string {
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
