package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reins-ai/reins-memory/internal/briefing"
)

type fakeRetrievalProvider struct {
	all []briefing.RetrievalRecord
	err error
}

func (f *fakeRetrievalProvider) SearchByType(ctx context.Context, types []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeRetrievalProvider) SearchByTags(ctx context.Context, tags []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return nil, nil
}

func (f *fakeRetrievalProvider) ListAll(ctx context.Context) ([]briefing.RetrievalRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.all, nil
}

func newTestBriefingService() *briefing.Service {
	return briefing.NewService(briefing.DefaultConfig(), &fakeRetrievalProvider{})
}

func TestBriefingJobStartStopIdempotent(t *testing.T) {
	job := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: time.Hour})

	require.NoError(t, job.Start(context.Background()))
	assert.True(t, job.IsRunning())

	require.NoError(t, job.Start(context.Background()))
	assert.True(t, job.IsRunning())

	job.Stop()
	assert.False(t, job.IsRunning())
}

func TestBriefingJobDisabled(t *testing.T) {
	job := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: false, Interval: time.Hour})
	err := job.Start(context.Background())
	require.Error(t, err)
	var jobErr *Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeBriefingJobDisabled, jobErr.Code)
}

func TestBriefingJobInvalidInterval(t *testing.T) {
	job := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: -time.Second})
	err := job.Start(context.Background())
	require.Error(t, err)
	var jobErr *Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeBriefingJobInvalidInterval, jobErr.Code)
}

func TestBriefingJobTriggerNowPopulatesLastBriefing(t *testing.T) {
	var gotMessages []briefing.Message
	job := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: time.Hour},
		WithBriefingCallbacks(func(b *briefing.Briefing, msgs []briefing.Message) { gotMessages = msgs }, nil))

	require.NoError(t, job.TriggerNow(context.Background()))

	last, lastRunAt := job.LastBriefing()
	require.NotNil(t, last)
	assert.False(t, lastRunAt.IsZero())
	require.Len(t, gotMessages, 1)
	assert.Equal(t, briefing.SectionType("empty"), gotMessages[0].SectionType)
}

func TestBriefingJobTriggerNowRejectsReentrantExecution(t *testing.T) {
	job := NewBriefingJob(newTestBriefingService(), Schedule{Enabled: true, Interval: time.Hour})
	job.executing = true

	err := job.TriggerNow(context.Background())
	require.Error(t, err)
	var jobErr *Error
	require.ErrorAs(t, err, &jobErr)
	assert.Equal(t, CodeBriefingJobAlreadyRunning, jobErr.Code)
}

func TestBriefingJobOnErrorCallbackWrapsRunFailed(t *testing.T) {
	service := briefing.NewService(briefing.DefaultConfig(), &fakeRetrievalProvider{err: assertErr("boom")})

	var failed error
	job := NewBriefingJob(service, Schedule{Enabled: true, Interval: time.Hour},
		WithBriefingCallbacks(nil, func(e error) { failed = e }))

	require.NoError(t, job.TriggerNow(context.Background()))
	require.Error(t, failed)
	var jobErr *Error
	require.ErrorAs(t, failed, &jobErr)
	assert.Equal(t, CodeBriefingJobRunFailed, jobErr.Code)

	last, _ := job.LastBriefing()
	assert.Nil(t, last)
}

type blockingRetrievalProvider struct {
	release chan struct{}
}

func (b *blockingRetrievalProvider) SearchByType(ctx context.Context, types []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	<-b.release
	return nil, nil
}

func (b *blockingRetrievalProvider) SearchByTags(ctx context.Context, tags []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	return nil, nil
}

func (b *blockingRetrievalProvider) ListAll(ctx context.Context) ([]briefing.RetrievalRecord, error) {
	return nil, nil
}

// TestBriefingJobTriggerNowIsRaceSafe exercises two TriggerNow calls that
// genuinely overlap in time. The first call is held mid-run by a blocking
// retrieval provider; a second call issued while the first is still
// executing must be rejected with CodeBriefingJobAlreadyRunning, never a
// false nil.
func TestBriefingJobTriggerNowIsRaceSafe(t *testing.T) {
	release := make(chan struct{})
	service := briefing.NewService(briefing.DefaultConfig(), &blockingRetrievalProvider{release: release})
	job := NewBriefingJob(service, Schedule{Enabled: true, Interval: time.Hour})

	var firstErr error
	done := make(chan struct{})
	go func() {
		firstErr = job.TriggerNow(context.Background())
		close(done)
	}()

	require.Eventually(t, job.IsExecuting, time.Second, time.Millisecond)

	secondErr := job.TriggerNow(context.Background())
	require.Error(t, secondErr)
	var jobErr *Error
	require.ErrorAs(t, secondErr, &jobErr)
	assert.Equal(t, CodeBriefingJobAlreadyRunning, jobErr.Code)

	close(release)
	<-done
	require.NoError(t, firstErr)
	assert.False(t, job.IsExecuting())
}
