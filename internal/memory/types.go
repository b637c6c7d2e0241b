// Package memory implements the Reins memory pipeline: the subsystem that
// ingests conversational messages, extracts candidate memories, buffers them
// in short-term memory (STM), and consolidates them into durable long-term
// memory (LTM) through distillation, merge, and supersession.
package memory

import (
	"time"

	"github.com/google/uuid"
)

// RecordType classifies the semantic kind of a MemoryRecord.
type RecordType string

const (
	TypeFact       RecordType = "fact"
	TypePreference RecordType = "preference"
	TypeDecision   RecordType = "decision"
	TypeEntity     RecordType = "entity"
	TypeEpisode    RecordType = "episode"
	TypeSkill      RecordType = "skill"
)

// Layer is the memory layer a record currently lives in.
type Layer string

const (
	LayerSTM Layer = "stm"
	LayerLTM Layer = "ltm"
)

// SourceType identifies how a record's content entered the system.
type SourceType string

const (
	SourceImplicit     SourceType = "implicit"
	SourceExplicit     SourceType = "explicit"
	SourceConversation SourceType = "conversation"
	SourceConsolidation SourceType = "consolidation"
)

// Provenance records where a MemoryRecord's content came from.
type Provenance struct {
	SourceType     SourceType
	ConversationID string
}

// MemoryRecord is the single persisted entity in the memory pipeline.
//
// Invariants (spec §3):
//  1. Supersedes and SupersededBy are never both set to the same id; the
//     supersession chain is acyclic.
//  2. A record with SupersededBy set is inert: never matched for duplicates,
//     contradictions, or briefings.
//  3. Importance stays within [minImportance, maxImportance] after every
//     scorer operation.
//  4. UpdatedAt advances monotonically on each mutation.
//  5. Layer "ltm" records are the only ones eligible for merge output;
//     layer "stm" records are the only ones eligible for consolidation
//     selection.
type MemoryRecord struct {
	ID         string
	Content    string
	Type       RecordType
	Layer      Layer
	Tags       []string
	Entities   []string
	Importance float64
	Confidence float64
	Provenance Provenance

	Supersedes    string // id of a record this one replaces, "" if none
	SupersededBy  string // id of the record that replaces this one, "" if active

	CreatedAt  time.Time
	UpdatedAt  time.Time
	AccessedAt time.Time
}

// IsInert reports whether the record has been superseded and is therefore
// never matched for duplicates, contradictions, or briefings (invariant 2).
func (r *MemoryRecord) IsInert() bool {
	return r.SupersededBy != ""
}

// Clone returns a deep-enough copy of r (independent Tags/Entities slices) so
// callers can treat store snapshots as immutable without aliasing bugs.
func (r *MemoryRecord) Clone() *MemoryRecord {
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.Entities = append([]string(nil), r.Entities...)
	return &cp
}

// CandidateStatus is the lifecycle state of a ConsolidationCandidate.
type CandidateStatus string

const (
	StatusEligible   CandidateStatus = "eligible"
	StatusProcessing CandidateStatus = "processing"
	StatusConsolidated CandidateStatus = "consolidated"
	StatusFailed     CandidateStatus = "failed"
	StatusSkipped    CandidateStatus = "skipped"
)

// IsTerminal reports whether the status can never leave this value again.
func (s CandidateStatus) IsTerminal() bool {
	return s == StatusConsolidated || s == StatusSkipped
}

// ConsolidationCandidate is an in-memory wrapper over a MemoryRecord tracked
// by the STM selector's state machine (spec §4.4).
type ConsolidationCandidate struct {
	RecordID      string
	Status        CandidateStatus
	RetryCount    int
	LastAttemptAt time.Time
	BatchID       string
}

// StmBatch is the unit of work produced by one selectBatch call. It is not
// persisted; its lifetime is a single pipeline run.
type StmBatch struct {
	BatchID    string
	Candidates []*ConsolidationCandidate
	CreatedAt  time.Time
}

// RecordIDs returns the record ids carried by every candidate in the batch.
func (b *StmBatch) RecordIDs() []string {
	ids := make([]string, len(b.Candidates))
	for i, c := range b.Candidates {
		ids[i] = c.RecordID
	}
	return ids
}

// DistilledFact is a single validated fact produced by the distillation
// engine from LLM output (spec §3, §4.3).
type DistilledFact struct {
	Type               RecordType
	Content            string
	Confidence         float64
	SourceCandidateIDs []string
	Entities           []string
	Tags               []string
	Reasoning          string
	// Category is additive metadata (SPEC_FULL §12.1), not part of the
	// core spec's DistilledFact fields; it never gates validation.
	Category MemoryCategory
}

// generateID returns a fresh opaque unique identifier, matching the
// teacher's reasoningbank.Memory / reasoningbank.Fact convention of
// UUID-based IDs (github.com/google/uuid).
func generateID() string {
	return uuid.New().String()
}

// Clock abstracts "now" so the pipeline's pure functions (merge, decay,
// selection) are reproducible under test, per spec's "injected now()"
// requirement (§4.6) and testable property 7 (merge purity).
type Clock func() time.Time

// IDGenerator abstracts id creation for the same reason (merge purity,
// testable property 7).
type IDGenerator func() string
