package memory

import (
	"context"
	"time"
)

// LtmWriter is the runner's injected collaborator for reading and persisting
// long-term memory (spec §6). GetExisting may return a conservative
// over-approximation (e.g. all LTM records); Write must be atomic from the
// caller's perspective.
type LtmWriter interface {
	GetExisting(ctx context.Context, facts []DistilledFact) ([]*MemoryRecord, error)
	Write(ctx context.Context, records []*MemoryRecord) error
}

// SessionMessage is the minimal shape the session extractor needs from a
// conversation turn.
type SessionMessage struct {
	ID      string
	Role    string
	Content string
}

// ExtractionOptions carries the context a session extractor needs to scope
// its extraction (spec §6).
type ExtractionOptions struct {
	SessionID      string
	ConversationID string
	Timestamp      time.Time
}

// ExtractedItem is one candidate memory surfaced by the session extractor,
// ahead of the category filter applied by the Preservation Hook.
type ExtractedItem struct {
	Content    string
	Type       RecordType
	Category   MemoryCategory
	Confidence float64
	Entities   []string
	Tags       []string
}

// ExtractionResult is the session extractor's output (spec §6).
type ExtractionResult struct {
	Items []ExtractedItem
}

// SessionExtractor is the Preservation Hook's injected collaborator for
// turning raw conversation messages into candidate memories and persisting
// the survivors (spec §6, §4.8).
type SessionExtractor interface {
	ExtractFromSession(ctx context.Context, messages []SessionMessage, opts ExtractionOptions) (ExtractionResult, error)
	PersistExtractions(ctx context.Context, result ExtractionResult) ([]string, error)
}
