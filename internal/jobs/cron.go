package jobs

import "context"

// Handle is returned by RegisterMemoryCronJobs on success (spec §4.11).
type Handle struct {
	consolidationJob *ConsolidationJob
	briefingJob      *BriefingJob
}

// StopAll stops both managed jobs.
func (h *Handle) StopAll() {
	h.consolidationJob.Stop()
	h.briefingJob.Stop()
}

// IsConsolidationRunning reports whether the consolidation job's scheduled
// interval is currently armed.
func (h *Handle) IsConsolidationRunning() bool {
	return h.consolidationJob.IsRunning()
}

// IsBriefingRunning reports whether the briefing job's scheduled interval is
// currently armed.
func (h *Handle) IsBriefingRunning() bool {
	return h.briefingJob.IsRunning()
}

// RegisterMemoryCronJobs starts the consolidation and briefing jobs under a
// readiness gate, rolling back on partial failure so that exactly zero of
// the managed jobs remain running on any failure path (spec §4.11).
func RegisterMemoryCronJobs(ctx context.Context, consolidationJob *ConsolidationJob, briefingJob *BriefingJob, isMemoryReady func() bool) (*Handle, error) {
	if !isMemoryReady() {
		return nil, NewError(CodeDaemonMemoryNotReady, "RegisterMemoryCronJobs", nil)
	}

	if err := consolidationJob.Start(ctx); err != nil {
		return nil, NewError(CodeDaemonCronRegistrationFailed, "consolidationJob.Start", err)
	}

	if err := briefingJob.Start(ctx); err != nil {
		consolidationJob.Stop()
		return nil, NewError(CodeDaemonCronRegistrationFailed, "briefingJob.Start", err)
	}

	return &Handle{consolidationJob: consolidationJob, briefingJob: briefingJob}, nil
}
