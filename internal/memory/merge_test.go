package memory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMergeEngine(t *testing.T, cfg MergeConfig) *MergeEngine {
	t.Helper()
	scorer, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
	lookup := NewLookup(cfg.SimilarityThreshold)
	return NewMergeEngine(cfg, lookup, scorer)
}

func sequentialIDGen() IDGenerator {
	n := 0
	return func() string {
		n++
		return "gen-" + string(rune('0'+n))
	}
}

func TestMergeCreatesNewRecordWhenNoMatch(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()
	clock := newFixedClock(now)

	facts := []DistilledFact{{
		Type:               TypePreference,
		Content:            "Dark mode preferred",
		Confidence:         0.9,
		SourceCandidateIDs: []string{"r1"},
		Entities:           []string{"user"},
		Tags:               []string{"ui"},
	}}

	result, err := engine.Merge(facts, nil, clock, sequentialIDGen())
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	assert.Empty(t, result.Updated)
	assert.Equal(t, "Dark mode preferred", result.Created[0].Content)
	assert.Equal(t, LayerLTM, result.Created[0].Layer)
}

func TestMergeSkipsLowConfidence(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()

	facts := []DistilledFact{{Type: TypeFact, Content: "weak fact", Confidence: 0.1, SourceCandidateIDs: []string{"r1"}}}
	result, err := engine.Merge(facts, nil, newFixedClock(now), sequentialIDGen())
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipLowConfidence, result.Skipped[0].Reason)
}

func TestMergeReinforcesDuplicate(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()

	existing := ltmRecord("r1", "User prefers dark mode", TypePreference, nil, nil)
	existing.Importance = 0.5
	existing.AccessedAt = now.Add(-time.Hour)

	facts := []DistilledFact{{Type: TypePreference, Content: "User prefers dark mode", Confidence: 0.9, SourceCandidateIDs: []string{"r2"}}}

	result, err := engine.Merge(facts, []*MemoryRecord{existing}, newFixedClock(now), sequentialIDGen())
	require.NoError(t, err)
	require.Len(t, result.Updated, 1)
	assert.Greater(t, result.Updated[0].Importance, 0.5)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipDuplicate, result.Skipped[0].Reason)
}

func TestMergeNewerWinsContradiction(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()

	existing := ltmRecord("r1", "User does not like morning standups", TypeFact, []string{"user", "meeting"}, nil)
	existing.UpdatedAt = now.Add(-time.Hour)

	facts := []DistilledFact{{
		Type:               TypeFact,
		Content:            "User likes morning standups",
		Confidence:         0.9,
		SourceCandidateIDs: []string{"r2"},
		Entities:           []string{"user", "meeting"},
	}}

	result, err := engine.Merge(facts, []*MemoryRecord{existing}, newFixedClock(now), sequentialIDGen())
	require.NoError(t, err)
	require.Len(t, result.Created, 1)
	require.Len(t, result.Superseded, 1)
	assert.Equal(t, "r1", result.Superseded[0].ID)
	assert.Equal(t, result.Created[0].ID, result.Superseded[0].SupersededBy)
	assert.Equal(t, "r1", result.Created[0].Supersedes)
	require.Len(t, result.SupersessionChain, 1)
	assert.Equal(t, "r1", result.SupersessionChain[0].OriginalID)
	assert.Equal(t, result.Created[0].ID, result.SupersessionChain[0].ReplacedByID)
}

func TestMergeChainDepthCeilingBlocksSupersession(t *testing.T) {
	cfg := DefaultMergeConfig()
	cfg.MaxSupersessionChainDepth = 1
	engine := newTestMergeEngine(t, cfg)
	now := time.Now()

	root := ltmRecord("root", "Root record about weather", TypeFact, []string{"user"}, nil)
	root.UpdatedAt = now.Add(-3 * time.Hour)

	mid := ltmRecord("mid", "User does not like morning standups", TypeFact, []string{"user", "meeting"}, nil)
	mid.UpdatedAt = now.Add(-time.Hour)
	mid.Supersedes = "root"

	facts := []DistilledFact{{
		Type:               TypeFact,
		Content:            "User likes morning standups",
		Confidence:         0.9,
		SourceCandidateIDs: []string{"r2"},
		Entities:           []string{"user", "meeting"},
	}}

	result, err := engine.Merge(facts, []*MemoryRecord{root, mid}, newFixedClock(now), sequentialIDGen())
	require.NoError(t, err)
	assert.Empty(t, result.Created)
	assert.Empty(t, result.Superseded)
	require.Len(t, result.Skipped, 1)
	assert.Equal(t, SkipSupersessionChainDepthExceeded, result.Skipped[0].Reason)
}

func TestMergePurity(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()

	facts := []DistilledFact{{
		Type:               TypePreference,
		Content:            "Dark mode preferred",
		Confidence:         0.9,
		SourceCandidateIDs: []string{"r1"},
	}}
	existing := []*MemoryRecord{ltmRecord("e1", "unrelated content entirely", TypeFact, nil, nil)}

	clock := newFixedClock(now)
	genID := func() string { return "fixed-id" }

	result1, err := engine.Merge(facts, existing, clock, genID)
	require.NoError(t, err)
	result2, err := engine.Merge(facts, existing, clock, genID)
	require.NoError(t, err)

	require.Len(t, result1.Created, 1)
	require.Len(t, result2.Created, 1)
	assert.Equal(t, result1.Created[0].ID, result2.Created[0].ID)
	assert.Equal(t, result1.Created[0].Content, result2.Created[0].Content)
	assert.Equal(t, result1.Created[0].CreatedAt, result2.Created[0].CreatedAt)
}

func TestMergeNeverCategoryBypassesMatching(t *testing.T) {
	engine := newTestMergeEngine(t, DefaultMergeConfig())
	now := time.Now()

	existing := ltmRecord("r1", "Found SQL injection vulnerability in login", TypeFact, []string{"user"}, nil)

	facts := []DistilledFact{{
		Type:               TypeFact,
		Content:            "Found SQL injection vulnerability in login",
		Confidence:         0.9,
		SourceCandidateIDs: []string{"r2"},
		Category:           CategorySecurity,
	}}

	result, err := engine.Merge(facts, []*MemoryRecord{existing}, newFixedClock(now), sequentialIDGen())
	require.NoError(t, err)
	assert.Len(t, result.Created, 1, "security-category facts always create, never dedupe")
	assert.Empty(t, result.Updated)
}
