package memory

import (
	"context"
	"sort"
	"sync"
	"time"
)

// StmSource lists STM records for selection (spec §6, "Runner -> STM
// source"). No pagination is required at this layer; the selector filters.
type StmSource interface {
	ListSTMRecords(ctx context.Context) ([]*MemoryRecord, error)
}

// SelectorConfig holds the STM Selector's tunables (spec §4.4, §6).
type SelectorConfig struct {
	BatchSize      int
	DedupeWindow   time.Duration
	MaxRetries     int
	MinAge         time.Duration
}

// DefaultSelectorConfig returns the spec §6 defaults.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		BatchSize:    20,
		DedupeWindow: 30 * time.Minute,
		MaxRetries:   3,
		MinAge:       5 * time.Minute,
	}
}

// Selector assembles consolidation batches from STM and owns the candidate
// state machine described in spec §4.4 (C4). A Selector instance owns its
// candidate map exclusively; running multiple selectors concurrently
// requires one instance per selector (spec §5).
type Selector struct {
	cfg    SelectorConfig
	source StmSource
	now    Clock

	mu         sync.Mutex
	candidates map[string]*ConsolidationCandidate // keyed by record id
}

// NewSelector constructs a Selector. now defaults to time.Now when nil.
func NewSelector(cfg SelectorConfig, source StmSource, now Clock) *Selector {
	if now == nil {
		now = time.Now
	}
	return &Selector{
		cfg:        cfg,
		source:     source,
		now:        now,
		candidates: make(map[string]*ConsolidationCandidate),
	}
}

// SelectBatch implements spec §4.4's batch assembly algorithm.
func (s *Selector) SelectBatch(ctx context.Context) (*StmBatch, error) {
	records, err := s.source.ListSTMRecords(ctx)
	if err != nil {
		return nil, NewError(CodeConsolidationSelectionFailed, "ListSTMRecords", err)
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	eligibleRecords := make([]*MemoryRecord, 0, len(records))
	for _, rec := range records {
		if rec.Layer != LayerSTM || rec.IsInert() {
			continue
		}
		if !rec.CreatedAt.Before(now.Add(-s.cfg.MinAge)) {
			continue
		}

		cand := s.candidates[rec.ID]
		if cand != nil {
			if cand.Status.IsTerminal() || cand.Status == StatusProcessing {
				continue
			}
			if cand.Status == StatusFailed && now.Sub(cand.LastAttemptAt) < s.cfg.DedupeWindow {
				continue
			}
		}

		eligibleRecords = append(eligibleRecords, rec)
	}

	sort.Slice(eligibleRecords, func(i, j int) bool {
		if !eligibleRecords[i].CreatedAt.Equal(eligibleRecords[j].CreatedAt) {
			return eligibleRecords[i].CreatedAt.Before(eligibleRecords[j].CreatedAt)
		}
		return eligibleRecords[i].ID < eligibleRecords[j].ID
	})

	if len(eligibleRecords) > s.cfg.BatchSize {
		eligibleRecords = eligibleRecords[:s.cfg.BatchSize]
	}

	batchID := generateID()
	batch := &StmBatch{BatchID: batchID, CreatedAt: now}

	for _, rec := range eligibleRecords {
		prior := s.candidates[rec.ID]
		cand := &ConsolidationCandidate{
			RecordID: rec.ID,
			Status:   StatusEligible,
			BatchID:  batchID,
		}
		if prior != nil {
			cand.RetryCount = prior.RetryCount
			cand.LastAttemptAt = prior.LastAttemptAt
		}
		s.candidates[rec.ID] = cand
		batch.Candidates = append(batch.Candidates, cand)
	}

	return batch, nil
}

// MarkProcessing moves candidates with the given ids from eligible to
// processing, but only if their current batchId matches batchID. A mismatch
// (wrong batch) or missing candidate is a silent no-op (spec §4.4).
func (s *Selector) MarkProcessing(batchID string, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		cand, ok := s.candidates[id]
		if !ok {
			continue
		}
		if cand.Status != StatusEligible || cand.BatchID != batchID {
			continue
		}
		cand.Status = StatusProcessing
		cand.LastAttemptAt = now
	}
}

// MarkConsolidated moves processing candidates to consolidated. Already
// consolidated candidates are left untouched (idempotent). Unknown ids are
// silently ignored.
func (s *Selector) MarkConsolidated(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		cand, ok := s.candidates[id]
		if !ok {
			continue
		}
		if cand.Status == StatusConsolidated {
			continue
		}
		if cand.Status != StatusProcessing {
			continue
		}
		cand.Status = StatusConsolidated
		cand.LastAttemptAt = now
	}
}

// MarkFailed acts only on processing candidates: increments RetryCount and
// transitions to skipped once RetryCount reaches MaxRetries, otherwise to
// failed. Unknown ids are silently ignored.
func (s *Selector) MarkFailed(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, id := range ids {
		cand, ok := s.candidates[id]
		if !ok {
			continue
		}
		if cand.Status != StatusProcessing {
			continue
		}
		cand.RetryCount++
		cand.LastAttemptAt = now
		if cand.RetryCount >= s.cfg.MaxRetries {
			cand.Status = StatusSkipped
		} else {
			cand.Status = StatusFailed
		}
	}
}

// CandidateStatus returns the current status for a record id and whether a
// candidate entry exists at all. Exposed for tests and for callers (e.g. the
// runner) that need to inspect state without mutating it.
func (s *Selector) CandidateStatus(id string) (CandidateStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cand, ok := s.candidates[id]
	if !ok {
		return "", false
	}
	return cand.Status, true
}
