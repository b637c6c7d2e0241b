package briefing

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// RetrievalRecord is the shape the retrieval provider returns for a matched
// LTM record (spec §6).
type RetrievalRecord struct {
	ID         string
	Content    string
	Type       string
	Importance float64
	Tags       []string
	AccessedAt time.Time
	Source     string
}

// SearchOptions scopes a retrieval call (spec §6).
type SearchOptions struct {
	Limit         int
	MinImportance float64
	After         time.Time
}

// RetrievalProvider is the briefing service's injected read-only access to
// LTM (spec §6).
type RetrievalProvider interface {
	SearchByType(ctx context.Context, types []string, opts SearchOptions) ([]RetrievalRecord, error)
	SearchByTags(ctx context.Context, tags []string, opts SearchOptions) ([]RetrievalRecord, error)
	ListAll(ctx context.Context) ([]RetrievalRecord, error)
}

// sectionSpec is the per-section retrieval table from spec §4.9.
type sectionSpec struct {
	sectionType   SectionType
	title         string
	types         []string
	minImportance float64
	extraTags     []string
}

var sectionSpecs = []sectionSpec{
	{
		sectionType:   SectionOpenThreads,
		title:         "Open Threads",
		types:         []string{"episode", "fact"},
		minImportance: 0.3,
		extraTags:     []string{"action-item", "todo", "unresolved", "follow-up", "open"},
	},
	{
		sectionType:   SectionHighImportance,
		title:         "High Importance",
		types:         []string{"fact", "preference", "skill", "entity"},
		minImportance: 0.7,
	},
	{
		sectionType:   SectionRecentDecisions,
		title:         "Recent Decisions",
		types:         []string{"decision"},
		minImportance: 0.4,
	},
	{
		sectionType:   SectionUpcoming,
		title:         "Upcoming",
		types:         []string{"episode", "fact"},
		minImportance: 0.3,
		extraTags:     []string{"upcoming", "deadline", "scheduled", "reminder", "time-sensitive"},
	},
}

// Config holds the Morning Briefing Service's tunables (spec §6).
type Config struct {
	MaxSections        int
	MaxItemsPerSection int
	LookbackWindow     time.Duration
	TopicFilters       []string
	StaleAfter         time.Duration
}

// DefaultConfig returns the spec §6 defaults.
func DefaultConfig() Config {
	return Config{
		MaxSections:        4,
		MaxItemsPerSection: 5,
		LookbackWindow:     24 * time.Hour,
		TopicFilters:       nil,
		StaleAfter:         90 * 24 * time.Hour,
	}
}

// Service assembles a Briefing from LTM (spec §4.9, C9).
type Service struct {
	cfg      Config
	provider RetrievalProvider
	now      func() time.Time

	generatedCounter metric.Int64Counter
}

// ServiceOption configures a Service at construction time.
type ServiceOption func(*Service)

// WithClock overrides the service's time source (tests only).
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// WithMeter wires an OTEL counter for briefings generated.
func WithMeter(meter metric.Meter) ServiceOption {
	return func(s *Service) {
		if meter == nil {
			return
		}
		if c, err := meter.Int64Counter("briefing.generated"); err == nil {
			s.generatedCounter = c
		}
	}
}

// NewService constructs a Service.
func NewService(cfg Config, provider RetrievalProvider, opts ...ServiceOption) *Service {
	s := &Service{cfg: cfg, provider: provider, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Generate implements spec §4.9's assembly algorithm.
func (s *Service) Generate(ctx context.Context) (*Briefing, error) {
	start := s.now()
	b := &Briefing{Timestamp: start}

	for _, spec := range sectionSpecs {
		section, err := s.buildSection(ctx, spec)
		if err != nil {
			return nil, NewError(CodeRetrievalFailed, "buildSection:"+string(spec.sectionType), err)
		}
		if section.ItemCount == 0 {
			continue
		}
		b.Sections = append(b.Sections, *section)
		b.TotalItems += section.ItemCount
	}

	healthSection, err := s.buildHealthCheck(ctx)
	if err != nil {
		return nil, NewError(CodeRetrievalFailed, "buildHealthCheck", err)
	}
	if healthSection != nil {
		b.Sections = append(b.Sections, *healthSection)
		b.TotalItems += healthSection.ItemCount
	}

	if len(b.Sections) > s.cfg.MaxSections {
		b.Sections = b.Sections[:s.cfg.MaxSections]
		b.TotalItems = 0
		for _, sec := range b.Sections {
			b.TotalItems += sec.ItemCount
		}
	}

	b.GeneratedInMs = s.now().Sub(start).Milliseconds()

	if s.generatedCounter != nil {
		s.generatedCounter.Add(ctx, 1)
	}

	return b, nil
}

func (s *Service) buildSection(ctx context.Context, spec sectionSpec) (*Section, error) {
	limit := s.cfg.MaxItemsPerSection * 3
	after := s.now().Add(-s.cfg.LookbackWindow)
	opts := SearchOptions{Limit: limit, MinImportance: spec.minImportance, After: after}

	byType, err := s.provider.SearchByType(ctx, spec.types, opts)
	if err != nil {
		return nil, err
	}

	var byTags []RetrievalRecord
	if len(spec.extraTags) > 0 {
		byTags, err = s.provider.SearchByTags(ctx, spec.extraTags, SearchOptions{Limit: limit, After: after})
		if err != nil {
			return nil, err
		}
	}

	merged := dedupByID(byType, byTags)
	merged = filterByTopics(merged, s.cfg.TopicFilters)

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Importance > merged[j].Importance
	})
	if len(merged) > s.cfg.MaxItemsPerSection {
		merged = merged[:s.cfg.MaxItemsPerSection]
	}

	items := make([]Item, len(merged))
	for i, rec := range merged {
		items[i] = Item{
			Content:    rec.Content,
			Type:       rec.Type,
			Importance: rec.Importance,
			Source:     rec.Source,
			Timestamp:  rec.AccessedAt,
		}
	}

	return &Section{
		Type:      spec.sectionType,
		Title:     spec.title,
		Items:     items,
		ItemCount: len(items),
	}, nil
}

// buildHealthCheck implements spec §4.9's health check section: stale
// records (now - accessedAt > StaleAfter) summarized into a single item.
func (s *Service) buildHealthCheck(ctx context.Context) (*Section, error) {
	records, err := s.provider.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var stale []RetrievalRecord
	for _, rec := range records {
		if now.Sub(rec.AccessedAt) > s.cfg.StaleAfter {
			stale = append(stale, rec)
		}
	}
	if len(stale) == 0 {
		return nil, nil
	}

	sort.Slice(stale, func(i, j int) bool {
		return stale[i].AccessedAt.Before(stale[j].AccessedAt)
	})
	oldest := stale[0]
	preview := clip(oldest.Content, 60)

	summary := formatHealthSummary(len(stale), int(s.cfg.StaleAfter.Hours()/24), preview)

	return &Section{
		Type:  SectionHealthCheck,
		Title: "Health Check",
		Items: []Item{{
			Content:    summary,
			Type:       "fact",
			Importance: 0.5,
			Source:     "health_check",
			Timestamp:  now,
		}},
		ItemCount: 1,
	}, nil
}

func formatHealthSummary(staleCount, staleDays int, preview string) string {
	return fmt.Sprintf("%d memories have not been accessed in over %d days. Oldest: %q", staleCount, staleDays, preview)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func dedupByID(lists ...[]RetrievalRecord) []RetrievalRecord {
	seen := make(map[string]struct{})
	var out []RetrievalRecord
	for _, list := range lists {
		for _, rec := range list {
			if rec.ID != "" {
				if _, ok := seen[rec.ID]; ok {
					continue
				}
				seen[rec.ID] = struct{}{}
			}
			out = append(out, rec)
		}
	}
	return out
}

func filterByTopics(records []RetrievalRecord, filters []string) []RetrievalRecord {
	if len(filters) == 0 {
		return records
	}
	lower := make(map[string]struct{}, len(filters))
	for _, f := range filters {
		lower[strings.ToLower(f)] = struct{}{}
	}
	var out []RetrievalRecord
	for _, rec := range records {
		for _, tag := range rec.Tags {
			if _, ok := lower[strings.ToLower(tag)]; ok {
				out = append(out, rec)
				break
			}
		}
	}
	return out
}
