package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	response string
	err      error
	calls    int
}

func (f *fakeProvider) Complete(ctx context.Context, prompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func testBatch(ids ...string) (*StmBatch, map[string]*MemoryRecord) {
	batch := &StmBatch{BatchID: "b1", CreatedAt: time.Now()}
	records := make(map[string]*MemoryRecord)
	for _, id := range ids {
		batch.Candidates = append(batch.Candidates, &ConsolidationCandidate{RecordID: id, Status: StatusProcessing, BatchID: "b1"})
		records[id] = stmRecord(id, time.Now().Add(-10*time.Minute))
	}
	return batch, records
}

func TestDistillEmptyBatchShortCircuits(t *testing.T) {
	provider := &fakeProvider{}
	engine := NewDistillationEngine(DefaultDistillerConfig(), provider, nil)

	result, err := engine.Distill(context.Background(), &StmBatch{}, nil)
	require.NoError(t, err)
	assert.Empty(t, result.Facts)
	assert.Equal(t, 0, provider.calls)
}

func TestDistillHappyPath(t *testing.T) {
	batch, records := testBatch("r1", "r2")
	provider := &fakeProvider{response: `{"facts":[
		{"type":"preference","content":"Dark mode preferred","confidence":0.9,"sourceCandidateIds":["r1"],"reasoning":"x"},
		{"type":"preference","content":"TypeScript preferred","confidence":0.85,"sourceCandidateIds":["r2"],"reasoning":"y"}
	]}`}
	engine := NewDistillationEngine(DefaultDistillerConfig(), provider, nil)

	result, err := engine.Distill(context.Background(), batch, records)
	require.NoError(t, err)
	assert.Len(t, result.Facts, 2)
	assert.Empty(t, result.FailedCandidateIDs)
}

func TestDistillProviderFailureWraps(t *testing.T) {
	batch, records := testBatch("r1")
	provider := &fakeProvider{err: assertError("provider down")}
	engine := NewDistillationEngine(DefaultDistillerConfig(), provider, nil)

	_, err := engine.Distill(context.Background(), batch, records)
	require.Error(t, err)
	var memErr *Error
	require.ErrorAs(t, err, &memErr)
	assert.Equal(t, CodeDistillationProviderFailed, memErr.Code)
}

func TestDistillDropsBelowConfidenceThreshold(t *testing.T) {
	batch, records := testBatch("r1")
	provider := &fakeProvider{response: `{"facts":[{"type":"fact","content":"weak","confidence":0.1,"sourceCandidateIds":["r1"],"reasoning":"x"}]}`}
	engine := NewDistillationEngine(DefaultDistillerConfig(), provider, nil)

	result, err := engine.Distill(context.Background(), batch, records)
	require.NoError(t, err)
	assert.Empty(t, result.Facts)
	assert.Equal(t, []string{"r1"}, result.FailedCandidateIDs)
}

func TestDistillCapsAtMaxFactsPerBatch(t *testing.T) {
	batch, records := testBatch("r1", "r2", "r3")
	cfg := DefaultDistillerConfig()
	cfg.MaxFactsPerBatch = 1
	provider := &fakeProvider{response: `{"facts":[
		{"type":"fact","content":"low","confidence":0.6,"sourceCandidateIds":["r1"],"reasoning":"x"},
		{"type":"fact","content":"high","confidence":0.95,"sourceCandidateIds":["r2"],"reasoning":"y"}
	]}`}
	engine := NewDistillationEngine(cfg, provider, nil)

	result, err := engine.Distill(context.Background(), batch, records)
	require.NoError(t, err)
	require.Len(t, result.Facts, 1)
	assert.Equal(t, "high", result.Facts[0].Content)
	assert.ElementsMatch(t, []string{"r1", "r3"}, result.FailedCandidateIDs)
}

func TestDistillUnparseablePayloadFailsAllCandidates(t *testing.T) {
	batch, records := testBatch("r1", "r2")
	provider := &fakeProvider{response: "not json"}
	engine := NewDistillationEngine(DefaultDistillerConfig(), provider, nil)

	result, err := engine.Distill(context.Background(), batch, records)
	require.NoError(t, err)
	assert.Empty(t, result.Facts)
	assert.ElementsMatch(t, []string{"r1", "r2"}, result.FailedCandidateIDs)
	assert.NotEmpty(t, result.Warnings)
}
