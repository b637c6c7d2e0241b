package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterMemoryCronJobsNotReady(t *testing.T) {
	consolidation := NewConsolidationJob(newTestRunner(t), Schedule{Enabled: true, Interval: time.Hour})
	briefingJob := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: time.Hour})

	handle, err := RegisterMemoryCronJobs(context.Background(), consolidation, briefingJob, func() bool { return false })
	require.Error(t, err)
	assert.Nil(t, handle)

	var jobErr *Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeDaemonMemoryNotReady, jobErr.Code)
	assert.False(t, consolidation.IsRunning())
	assert.False(t, briefingJob.IsRunning())
}

func TestRegisterMemoryCronJobsSuccess(t *testing.T) {
	consolidation := NewConsolidationJob(newTestRunner(t), Schedule{Enabled: true, Interval: time.Hour})
	briefingJob := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: time.Hour})

	handle, err := RegisterMemoryCronJobs(context.Background(), consolidation, briefingJob, func() bool { return true })
	require.NoError(t, err)
	require.NotNil(t, handle)

	assert.True(t, handle.IsConsolidationRunning())
	assert.True(t, handle.IsBriefingRunning())

	handle.StopAll()
	assert.False(t, handle.IsConsolidationRunning())
	assert.False(t, handle.IsBriefingRunning())
}

// TestRegisterMemoryCronJobsRollsBackOnPartialFailure exercises the rollback
// path: consolidation starts successfully, briefing fails to start (disabled),
// and the consolidation job must be stopped before the error is returned so
// that exactly zero managed jobs remain running (spec S7).
func TestRegisterMemoryCronJobsRollsBackOnPartialFailure(t *testing.T) {
	consolidation := NewConsolidationJob(newTestRunner(t), Schedule{Enabled: true, Interval: time.Hour})
	briefingJob := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: false, Interval: time.Hour})

	handle, err := RegisterMemoryCronJobs(context.Background(), consolidation, briefingJob, func() bool { return true })
	require.Error(t, err)
	assert.Nil(t, handle)

	var jobErr *Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeDaemonCronRegistrationFailed, jobErr.Code)

	assert.False(t, consolidation.IsRunning(), "consolidation must be rolled back when briefing fails to start")
	assert.False(t, briefingJob.IsRunning())
}
