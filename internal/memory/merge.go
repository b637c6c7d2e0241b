package memory

import (
	"sort"
	"strings"
	"time"
)

// SkipReason explains why a fact was skipped during merge rather than
// producing a created or updated record.
type SkipReason string

const (
	SkipLowConfidence               SkipReason = "low_confidence"
	SkipDuplicate                   SkipReason = "duplicate"
	SkipSupersessionChainDepthExceeded SkipReason = "supersession_chain_depth_exceeded"
)

// SkippedFact records one fact that did not produce a create/update.
type SkippedFact struct {
	Fact   DistilledFact
	Reason SkipReason
}

// SupersessionEvent is one entry in a MergeResult's supersession chain.
type SupersessionEvent struct {
	OriginalID   string
	ReplacedByID string
	Reason       string
	Timestamp    time.Time
}

// MergeResult is the output of one Merge Engine invocation (spec §4.6).
type MergeResult struct {
	Created           []*MemoryRecord
	Updated           []*MemoryRecord
	Superseded        []*MemoryRecord
	Skipped           []SkippedFact
	SupersessionChain []SupersessionEvent
}

// MergeConfig holds the Merge Engine's tunables (spec §4.6, §6).
type MergeConfig struct {
	MinConfidenceToMerge      float64
	SimilarityThreshold       float64
	MaxSupersessionChainDepth int
}

// DefaultMergeConfig returns the spec §6 defaults.
func DefaultMergeConfig() MergeConfig {
	return MergeConfig{
		MinConfidenceToMerge:      0.5,
		SimilarityThreshold:       1.0,
		MaxSupersessionChainDepth: 8,
	}
}

// mergeNeverCategories are DistilledFact categories that are never eligible
// for the duplicate/contradiction merge paths, regardless of lexical match —
// additive policy from SPEC_FULL §12.2, grounded on the teacher's
// reasoningbank merge gate that exempts certain categories from automatic
// consolidation. Facts in these categories always take the "create" path.
var mergeNeverCategories = map[MemoryCategory]struct{}{
	CategorySecurity: {},
}

// MergeEngine orchestrates the duplicate/contradiction/create decision for
// each distilled fact against a snapshot of existing LTM records (spec §4.6,
// C6). It is a pure function of its inputs plus the injected Clock and
// IDGenerator: identical inputs and identical now/generateId always produce
// byte-identical results (testable property 7).
type MergeEngine struct {
	cfg    MergeConfig
	lookup *Lookup
	scorer *Scorer
}

// NewMergeEngine constructs a MergeEngine. lookup's similarity threshold
// should match cfg.SimilarityThreshold; callers typically build it via
// NewLookup(cfg.SimilarityThreshold).
func NewMergeEngine(cfg MergeConfig, lookup *Lookup, scorer *Scorer) *MergeEngine {
	return &MergeEngine{cfg: cfg, lookup: lookup, scorer: scorer}
}

// Merge implements the algorithm of spec §4.6. existingLtm is treated as a
// read-only snapshot by the caller; Merge clones every record it touches
// before mutating, so the caller's slice is never aliased (spec §9 open
// question 1: snapshot defensively rather than mutate the backing list).
func (m *MergeEngine) Merge(facts []DistilledFact, existingLtm []*MemoryRecord, now Clock, genID IDGenerator) (*MergeResult, error) {
	result := &MergeResult{}

	snapshot := make([]*MemoryRecord, len(existingLtm))
	for i, rec := range existingLtm {
		cp := rec.Clone()
		if !cp.IsInert() {
			cp.Importance = m.scorer.Decay(cp.Importance, cp.AccessedAt, now())
		}
		snapshot[i] = cp
	}

	for _, fact := range facts {
		if err := m.mergeOne(fact, &snapshot, result, now, genID); err != nil {
			return nil, NewError(CodeMergeFailed, "mergeOne", err)
		}
	}

	return result, nil
}

func (m *MergeEngine) mergeOne(fact DistilledFact, snapshot *[]*MemoryRecord, result *MergeResult, now Clock, genID IDGenerator) error {
	if fact.Confidence < m.cfg.MinConfidenceToMerge {
		result.Skipped = append(result.Skipped, SkippedFact{Fact: fact, Reason: SkipLowConfidence})
		return nil
	}

	_, neverMerge := mergeNeverCategories[fact.Category]

	if !neverMerge {
		if dup := m.lookup.FindDuplicate(fact, *snapshot); dup != nil {
			ts := now()
			dup.Importance = m.scorer.Reinforce(dup.Importance, 1)
			dup.UpdatedAt = ts
			dup.AccessedAt = ts
			replaceInSnapshot(snapshot, dup)
			result.Updated = append(result.Updated, dup)
			result.Skipped = append(result.Skipped, SkippedFact{Fact: fact, Reason: SkipDuplicate})
			return nil
		}
	}

	if !neverMerge {
		if contradictions := m.lookup.FindContradictions(fact, *snapshot); len(contradictions) > 0 {
			latest := newestByUpdatedAt(contradictions)
			depth := supersessionDepth(latest, *snapshot)
			if depth >= m.cfg.MaxSupersessionChainDepth {
				result.Skipped = append(result.Skipped, SkippedFact{Fact: fact, Reason: SkipSupersessionChainDepthExceeded})
				return nil
			}

			ts := now()
			newRec := recordFromFact(fact, ts, genID(), latest.ID)

			latest.SupersededBy = newRec.ID
			latest.UpdatedAt = ts

			*snapshot = append(*snapshot, newRec)
			replaceInSnapshot(snapshot, latest)

			result.Created = append(result.Created, newRec)
			result.Superseded = append(result.Superseded, latest)
			result.SupersessionChain = append(result.SupersessionChain, SupersessionEvent{
				OriginalID:   latest.ID,
				ReplacedByID: newRec.ID,
				Reason:       "newer_wins_contradiction",
				Timestamp:    ts,
			})
			return nil
		}
	}

	ts := now()
	newRec := recordFromFact(fact, ts, genID(), "")
	*snapshot = append(*snapshot, newRec)
	result.Created = append(result.Created, newRec)
	return nil
}

// recordFromFact builds a new LTM record per spec §4.6's construction rule.
func recordFromFact(fact DistilledFact, now time.Time, id, supersedes string) *MemoryRecord {
	return &MemoryRecord{
		ID:         id,
		Content:    strings.TrimSpace(fact.Content),
		Type:       fact.Type,
		Layer:      LayerLTM,
		Tags:       dedupNonEmpty(fact.Tags),
		Entities:   dedupNonEmpty(fact.Entities),
		Importance: fact.Confidence,
		Confidence: fact.Confidence,
		Provenance: Provenance{
			SourceType:     SourceConsolidation,
			ConversationID: strings.Join(fact.SourceCandidateIDs, ","),
		},
		Supersedes: supersedes,
		CreatedAt:  now,
		UpdatedAt:  now,
		AccessedAt: now,
	}
}

func replaceInSnapshot(snapshot *[]*MemoryRecord, rec *MemoryRecord) {
	for i, r := range *snapshot {
		if r.ID == rec.ID {
			(*snapshot)[i] = rec
			return
		}
	}
}

func newestByUpdatedAt(records []*MemoryRecord) *MemoryRecord {
	sorted := make([]*MemoryRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].UpdatedAt.After(sorted[j].UpdatedAt)
	})
	return sorted[0]
}

// supersessionDepth walks rec's supersedes chain backward through snapshot,
// counting hops, with a visited-id guard against cycles (spec §4.6, §9).
func supersessionDepth(rec *MemoryRecord, snapshot []*MemoryRecord) int {
	byID := make(map[string]*MemoryRecord, len(snapshot))
	for _, r := range snapshot {
		byID[r.ID] = r
	}

	visited := map[string]struct{}{rec.ID: {}}
	depth := 0
	cur := rec
	for cur.Supersedes != "" {
		if _, seen := visited[cur.Supersedes]; seen {
			break
		}
		next, ok := byID[cur.Supersedes]
		if !ok {
			break
		}
		visited[cur.Supersedes] = struct{}{}
		depth++
		cur = next
	}
	return depth
}
