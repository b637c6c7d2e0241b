// Package memstore provides a process-local, mutex-guarded implementation
// of the memory pipeline's store-facing interfaces (StmSource, LtmWriter,
// briefing.RetrievalProvider). It exists to give cmd/reinsd something
// concrete to wire the pipeline against; a production deployment would
// replace it with a durable repository behind the same interfaces.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/reins-ai/reins-memory/internal/briefing"
	"github.com/reins-ai/reins-memory/internal/memory"
)

// Store is an in-memory, concurrency-safe collection of MemoryRecords
// spanning both the STM and LTM layers.
type Store struct {
	mu      sync.RWMutex
	records map[string]*memory.MemoryRecord
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]*memory.MemoryRecord)}
}

// Put inserts or replaces a record.
func (s *Store) Put(rec *memory.MemoryRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = rec.Clone()
}

// ListSTMRecords implements memory.StmSource.
func (s *Store) ListSTMRecords(ctx context.Context) ([]*memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*memory.MemoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Layer == memory.LayerSTM {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// GetExisting implements memory.LtmWriter. It conservatively returns all
// LTM records, superseded ones included, as permitted by spec §6.
func (s *Store) GetExisting(ctx context.Context, facts []memory.DistilledFact) ([]*memory.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*memory.MemoryRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Layer == memory.LayerLTM {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

// Write implements memory.LtmWriter, persisting records atomically from the
// caller's perspective (a single mutex-guarded batch update).
func (s *Store) Write(ctx context.Context, records []*memory.MemoryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.records[rec.ID] = rec.Clone()
	}
	return nil
}

// SearchByType implements briefing.RetrievalProvider.
func (s *Store) SearchByType(ctx context.Context, types []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []briefing.RetrievalRecord
	for _, rec := range s.records {
		if rec.Layer != memory.LayerLTM || rec.IsInert() {
			continue
		}
		if _, ok := wanted[string(rec.Type)]; !ok {
			continue
		}
		if rec.Importance < opts.MinImportance {
			continue
		}
		if !opts.After.IsZero() && rec.AccessedAt.Before(opts.After) {
			continue
		}
		out = append(out, toRetrievalRecord(rec))
	}
	return limitAndSort(out, opts.Limit), nil
}

// SearchByTags implements briefing.RetrievalProvider.
func (s *Store) SearchByTags(ctx context.Context, tags []string, opts briefing.SearchOptions) ([]briefing.RetrievalRecord, error) {
	wanted := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		wanted[strings.ToLower(t)] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []briefing.RetrievalRecord
	for _, rec := range s.records {
		if rec.Layer != memory.LayerLTM || rec.IsInert() {
			continue
		}
		if !opts.After.IsZero() && rec.AccessedAt.Before(opts.After) {
			continue
		}
		matched := false
		for _, tag := range rec.Tags {
			if _, ok := wanted[strings.ToLower(tag)]; ok {
				matched = true
				break
			}
		}
		if !matched {
			continue
		}
		out = append(out, toRetrievalRecord(rec))
	}
	return limitAndSort(out, opts.Limit), nil
}

// ListAll implements briefing.RetrievalProvider for the health-check section.
func (s *Store) ListAll(ctx context.Context) ([]briefing.RetrievalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]briefing.RetrievalRecord, 0, len(s.records))
	for _, rec := range s.records {
		if rec.Layer != memory.LayerLTM || rec.IsInert() {
			continue
		}
		out = append(out, toRetrievalRecord(rec))
	}
	return out, nil
}

func toRetrievalRecord(rec *memory.MemoryRecord) briefing.RetrievalRecord {
	return briefing.RetrievalRecord{
		ID:         rec.ID,
		Content:    rec.Content,
		Type:       string(rec.Type),
		Importance: rec.Importance,
		Tags:       append([]string(nil), rec.Tags...),
		AccessedAt: rec.AccessedAt,
		Source:     string(rec.Provenance.SourceType),
	}
}

func limitAndSort(records []briefing.RetrievalRecord, limit int) []briefing.RetrievalRecord {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Importance > records[j].Importance
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records
}
