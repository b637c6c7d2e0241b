package memory

import "strings"

// MemoryCategory classifies the topical domain of a record's content.
//
// This is additive metadata (SPEC_FULL §12.1), grounded on the teacher's
// reasoningbank.MemoryCategory: it never participates in the core spec's
// validation of a DistilledFact, only in the merge engine's never-merge gate
// (see mergeNeverCategories in merge.go). The briefing service does not read it.
type MemoryCategory string

const (
	CategoryOperational   MemoryCategory = "operational"
	CategoryArchitectural MemoryCategory = "architectural"
	CategoryDebugging     MemoryCategory = "debugging"
	CategorySecurity      MemoryCategory = "security"
	CategoryFeature       MemoryCategory = "feature"
	CategoryGeneral       MemoryCategory = "general"
)

// categoryKeywords maps each category to lexical hints used by the
// lightweight classifier. Matches are case-insensitive substrings of the
// combined title/content/tags text.
var categoryKeywords = map[MemoryCategory][]string{
	CategoryOperational: {
		"build", "deploy", "docker", "kubernetes", "k8s", "port", "env var",
		"config file", "run command", "startup", "install",
	},
	CategoryArchitectural: {
		"architecture", "design pattern", "interface", "module boundary",
		"refactor", "structure", "decouple", "dependency graph",
	},
	CategoryDebugging: {
		"bug", "error", "stack trace", "root cause", "crash", "fix",
		"workaround", "exception", "panic",
	},
	CategorySecurity: {
		"vulnerability", "cve", "owasp", "authentication", "authorization",
		"injection", "exploit", "secret", "credential",
	},
	CategoryFeature: {
		"feature", "endpoint", "handler", "workflow", "implement", "api",
	},
}

// CategoryClassifier assigns a best-effort category to memory content.
type CategoryClassifier interface {
	Classify(content string, tags []string) MemoryCategory
}

// LexicalClassifier is a keyword-matching CategoryClassifier, grounded on
// reasoningbank's category.go taxonomy but implemented as a scorer over
// categoryKeywords rather than the teacher's pluggable interface-only
// definition (the teacher never shipped a concrete implementation).
type LexicalClassifier struct{}

// NewLexicalClassifier returns the default classifier.
func NewLexicalClassifier() *LexicalClassifier {
	return &LexicalClassifier{}
}

// Classify returns the category whose keyword set has the most hits against
// content and tags; ties favor CategoryGeneral's absence by keeping the
// first category (iteration order fixed below) found at the maximum count.
func (c *LexicalClassifier) Classify(content string, tags []string) MemoryCategory {
	haystack := strings.ToLower(content + " " + strings.Join(tags, " "))

	order := []MemoryCategory{
		CategorySecurity, CategoryDebugging, CategoryOperational,
		CategoryArchitectural, CategoryFeature,
	}

	best := CategoryGeneral
	bestCount := 0
	for _, cat := range order {
		count := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(haystack, kw) {
				count++
			}
		}
		if count > bestCount {
			bestCount = count
			best = cat
		}
	}
	return best
}
