package memory

import (
	"regexp"
	"strings"
)

// negationTokens are the polarity markers used by contradiction detection
// (spec §4.2).
var negationTokens = []string{
	"not", "never", "no", "cannot", "don't", "doesn't", "won't", "dislike",
}

// genericEntities are excluded from the "shares an entity" contradiction
// test because they refer to conversation participants, not topics.
var genericEntities = map[string]struct{}{
	"user": {}, "assistant": {}, "system": {}, "me": {},
}

var nonAlnumRegex = regexp.MustCompile(`[^a-z0-9]+`)

// normalizeContent lowercases s, replaces runs of non-alphanumeric
// characters with a single space, and trims the result.
func normalizeContent(s string) string {
	lower := strings.ToLower(s)
	collapsed := nonAlnumRegex.ReplaceAllString(lower, " ")
	return strings.TrimSpace(collapsed)
}

// jaccardSimilarity computes token-set Jaccard similarity over
// whitespace-split tokens of the two (already normalized) strings.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1.0
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0.0
	}

	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0.0
	}
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	tokens := strings.Fields(s)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

func hasNegation(s string) bool {
	normalized := " " + normalizeContent(s) + " "
	for _, tok := range negationTokens {
		if strings.Contains(normalized, " "+normalizeContent(tok)+" ") {
			return true
		}
	}
	return false
}

func stringSliceContains(set []string, target string) bool {
	for _, s := range set {
		if strings.EqualFold(s, target) {
			return true
		}
	}
	return false
}

func sharesElement(a, b []string, excluded map[string]struct{}) bool {
	for _, x := range a {
		if _, skip := excluded[strings.ToLower(x)]; skip {
			continue
		}
		if stringSliceContains(b, x) {
			return true
		}
	}
	return false
}

// Lookup performs lexical/structural duplicate and contradiction detection
// against a read-only snapshot of LTM records (spec §4.2, C2). It holds no
// state of its own; every method is a pure function of its arguments.
type Lookup struct {
	similarityThreshold float64
}

// NewLookup returns a Lookup using similarityThreshold for duplicate
// detection (default 1.0 per spec §6, i.e. exact match after normalization).
func NewLookup(similarityThreshold float64) *Lookup {
	if similarityThreshold <= 0 {
		similarityThreshold = 1.0
	}
	return &Lookup{similarityThreshold: similarityThreshold}
}

// FindDuplicate returns the first LTM record of fact's type whose normalized
// content matches fact's normalized content exactly, or whose Jaccard
// similarity is >= the configured threshold. Superseded and non-LTM records
// are never candidates.
func (l *Lookup) FindDuplicate(fact DistilledFact, records []*MemoryRecord) *MemoryRecord {
	normalizedFact := normalizeContent(fact.Content)

	for _, rec := range records {
		if rec.Type != fact.Type || rec.Layer != LayerLTM || rec.IsInert() {
			continue
		}
		normalizedRec := normalizeContent(rec.Content)
		if normalizedRec == normalizedFact {
			return rec
		}
		if jaccardSimilarity(normalizedRec, normalizedFact) >= l.similarityThreshold {
			return rec
		}
	}
	return nil
}

// FindContradictions returns every LTM record that is a contradiction
// candidate for fact (spec §4.2): same type, LTM layer, not superseded, not
// content-identical, sharing an entity or tag, and either differing in
// negative polarity or overlapping at Jaccard >= 0.5.
func (l *Lookup) FindContradictions(fact DistilledFact, records []*MemoryRecord) []*MemoryRecord {
	normalizedFact := normalizeContent(fact.Content)
	factNegated := hasNegation(fact.Content)

	var out []*MemoryRecord
	for _, rec := range records {
		if rec.Type != fact.Type || rec.Layer != LayerLTM || rec.IsInert() {
			continue
		}
		normalizedRec := normalizeContent(rec.Content)
		if normalizedRec == normalizedFact {
			continue
		}
		sharesEntity := sharesElement(fact.Entities, rec.Entities, genericEntities)
		sharesTag := sharesElement(fact.Tags, rec.Tags, nil)
		if !sharesEntity && !sharesTag {
			continue
		}

		recNegated := hasNegation(rec.Content)
		polarityDiffers := factNegated != recNegated
		similar := jaccardSimilarity(normalizedRec, normalizedFact) >= 0.5

		if polarityDiffers || similar {
			out = append(out, rec)
		}
	}
	return out
}
