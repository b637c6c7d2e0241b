// Command reinsd runs the Reins memory daemon: the consolidation pipeline
// and morning briefing service on their scheduled intervals.
//
// Configuration is fixed to the spec defaults for now; a production
// deployment would load overrides from environment or a config file the
// way contextd's pkg/config does.
package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/reins-ai/reins-memory/internal/briefing"
	"github.com/reins-ai/reins-memory/internal/jobs"
	"github.com/reins-ai/reins-memory/internal/memory"
	"github.com/reins-ai/reins-memory/internal/memstore"
)

const (
	defaultConsolidationInterval = 6 * time.Hour
	defaultBriefingInterval      = 24 * time.Hour
)

// NoOpProvider is a no-op memory.Provider: it never produces facts. Used
// until a real LLM client is wired in, mirroring the teacher's
// extraction.NoOpExtractor fallback for a disabled provider.
type NoOpProvider struct{}

// Complete implements memory.Provider by returning an empty facts payload.
func (NoOpProvider) Complete(ctx context.Context, prompt string) (string, error) {
	return `{"facts":[]}`, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("reinsd exited with error", zap.Error(err))
	}
	logger.Info("reinsd shut down cleanly")
}

func run(ctx context.Context, logger *zap.Logger) error {
	store := memstore.New()
	meter := noop.NewMeterProvider().Meter("reinsd")

	scorer, err := memory.NewScorer(memory.DefaultScorerConfig())
	if err != nil {
		return fmt.Errorf("construct scorer: %w", err)
	}

	selector := memory.NewSelector(memory.DefaultSelectorConfig(), store, nil)

	classifier := memory.NewLexicalClassifier()
	distiller := memory.NewDistillationEngine(memory.DefaultDistillerConfig(), NoOpProvider{}, classifier)

	mergeCfg := memory.DefaultMergeConfig()
	lookup := memory.NewLookup(mergeCfg.SimilarityThreshold)
	merger := memory.NewMergeEngine(mergeCfg, lookup, scorer)

	runner := memory.NewRunner(selector, distiller, merger, store, memory.DefaultRetryPolicy(),
		memory.WithLogger(logger.Named("consolidation")),
		memory.WithMeter(meter),
	)

	briefingService := briefing.NewService(briefing.DefaultConfig(), store,
		briefing.WithMeter(meter),
	)

	consolidationJob := jobs.NewConsolidationJob(runner, jobs.Schedule{Enabled: true, Interval: defaultConsolidationInterval},
		jobs.WithConsolidationLogger(logger.Named("jobs.consolidation")),
		jobs.WithConsolidationCallbacks(
			func(result *memory.RunResult) {
				logger.Info("consolidation run complete",
					zap.String("runId", result.RunID),
					zap.Int("candidatesProcessed", result.Stats.CandidatesProcessed),
					zap.Int("factsDistilled", result.Stats.FactsDistilled))
			},
			func(err error) {
				logger.Error("consolidation run failed", zap.Error(err))
			},
		),
	)

	briefingJob := jobs.NewBriefingJob(briefingService, jobs.Schedule{Enabled: true, Interval: defaultBriefingInterval},
		jobs.WithBriefingLogger(logger.Named("jobs.briefing")),
		jobs.WithBriefingCallbacks(
			func(b *briefing.Briefing, messages []briefing.Message) {
				logger.Info("briefing generated", zap.Int("totalItems", b.TotalItems), zap.Int("sections", len(b.Sections)))
			},
			func(err error) {
				logger.Error("briefing run failed", zap.Error(err))
			},
		),
	)

	handle, err := jobs.RegisterMemoryCronJobs(ctx, consolidationJob, briefingJob, func() bool { return true })
	if err != nil {
		return fmt.Errorf("register cron jobs: %w", err)
	}
	defer handle.StopAll()

	logger.Info("reinsd started",
		zap.Bool("consolidationRunning", handle.IsConsolidationRunning()),
		zap.Bool("briefingRunning", handle.IsBriefingRunning()))

	<-ctx.Done()
	return ctx.Err()
}
