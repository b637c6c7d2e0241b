package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CompactionContext describes the conversation truncation that triggered a
// preservation pass (spec §4.8).
type CompactionContext struct {
	ConversationID   string
	SessionID        string
	CompactionReason string
	Timestamp        time.Time
	TruncationPoint  int
}

// preservedRecordTypes are the high-value types preserved ahead of a
// compaction truncation (spec §4.8).
var preservedRecordTypes = map[RecordType]struct{}{
	TypeDecision:   {},
	TypeFact:       {},
	TypePreference: {},
}

// PreservationResult is the outcome of one Preserve call.
type PreservationResult struct {
	PersistedIDs      []string
	SkippedDuplicates int
}

// PreservationHook extracts and persists high-value memories from a
// conversation before compaction truncates its history (spec §4.8, C8).
//
// The idempotency key set is construction-bound, not a process-wide
// singleton (spec §9): each PreservationHook instance owns its own set.
type PreservationHook struct {
	extractor SessionExtractor

	mu      sync.Mutex
	seenKey map[string]struct{}
}

// NewPreservationHook constructs a hook with a fresh idempotency key set.
func NewPreservationHook(extractor SessionExtractor) *PreservationHook {
	return &PreservationHook{
		extractor: extractor,
		seenKey:   make(map[string]struct{}),
	}
}

// idempotencyKey computes conversationId:truncationPoint:sha256(sort(messageIds))
// per spec §4.8.
func idempotencyKey(ctx CompactionContext, messages []SessionMessage) string {
	ids := make([]string, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, ",")))
	return ctx.ConversationID + ":" + strconv.Itoa(ctx.TruncationPoint) + ":" + hex.EncodeToString(sum[:])
}

// Preserve implements spec §4.8: extract, filter to high-value categories,
// tag, and persist, guarded by an idempotency key over
// (conversationId, truncationPoint, sorted messageIds).
func (h *PreservationHook) Preserve(ctx context.Context, cctx CompactionContext, messages []SessionMessage) (*PreservationResult, error) {
	key := idempotencyKey(cctx, messages)

	h.mu.Lock()
	if _, seen := h.seenKey[key]; seen {
		h.mu.Unlock()
		return &PreservationResult{SkippedDuplicates: 1}, nil
	}
	h.seenKey[key] = struct{}{}
	h.mu.Unlock()

	if len(messages) == 0 {
		return &PreservationResult{}, nil
	}

	extraction, err := h.extractor.ExtractFromSession(ctx, messages, ExtractionOptions{
		SessionID:      cctx.SessionID,
		ConversationID: cctx.ConversationID,
		Timestamp:      cctx.Timestamp,
	})
	if err != nil {
		return nil, NewError(CodeCompactionPreservationExtract, "ExtractFromSession", err)
	}

	filtered := make([]ExtractedItem, 0, len(extraction.Items))
	for _, item := range extraction.Items {
		if _, ok := preservedRecordTypes[item.Type]; !ok {
			continue
		}
		item.Tags = append(append([]string{}, item.Tags...),
			"source:compaction",
			"compaction-reason:"+cctx.CompactionReason,
			"compaction-truncation-point:"+strconv.Itoa(cctx.TruncationPoint),
		)
		filtered = append(filtered, item)
	}

	persistedIDs, err := h.extractor.PersistExtractions(ctx, ExtractionResult{Items: filtered})
	if err != nil {
		return nil, NewError(CodeCompactionPreservationPersist, "PersistExtractions", err)
	}

	return &PreservationResult{PersistedIDs: persistedIDs}, nil
}
