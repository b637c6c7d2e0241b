// Package briefing assembles and formats the daily morning briefing: a
// section-typed digest of long-term memory suitable for user delivery.
package briefing

import "time"

// SectionType identifies one kind of briefing section.
type SectionType string

const (
	SectionOpenThreads     SectionType = "open_threads"
	SectionHighImportance  SectionType = "high_importance"
	SectionRecentDecisions SectionType = "recent_decisions"
	SectionUpcoming        SectionType = "upcoming"
	SectionHealthCheck     SectionType = "health_check"
)

// Item is a single retrieved memory surfaced inside a briefing section.
type Item struct {
	Content    string
	Type       string
	Importance float64
	Source     string
	Timestamp  time.Time
}

// Section is one typed group of items within a Briefing.
type Section struct {
	Type      SectionType
	Title     string
	Items     []Item
	ItemCount int
}

// Briefing is the assembled daily digest (spec §3, §4.9).
type Briefing struct {
	Timestamp     time.Time
	Sections      []Section
	TotalItems    int
	GeneratedInMs int64
}
