package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/template"
)

// Provider is the single synchronous text-in/text-out LLM capability the
// distillation engine depends on (spec §6). The underlying model, prompt
// strategy, and transport are entirely the caller's concern; this package
// only requires that the response roughly resembles JSON, tolerating
// surrounding prose or code fences (spec §4.3).
type Provider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// DistillerConfig holds the Distillation Engine's tunables (spec §4.5, §6).
type DistillerConfig struct {
	ConfidenceThreshold float64
	MaxFactsPerBatch    int
}

// DefaultDistillerConfig returns the spec §6 defaults.
func DefaultDistillerConfig() DistillerConfig {
	return DistillerConfig{
		ConfidenceThreshold: 0.5,
		MaxFactsPerBatch:    25,
	}
}

// DistillationResult is the output of one DistillationEngine.Distill call
// (spec §4.5).
type DistillationResult struct {
	Facts              []DistilledFact
	FailedCandidateIDs []string
	Warnings           []string
}

// DistillationEngine composes the prompt, invokes the provider, validates
// the response, and enforces threshold/cap policy (spec §4.5, C5).
type DistillationEngine struct {
	cfg        DistillerConfig
	provider   Provider
	classifier CategoryClassifier
	promptTmpl *template.Template
}

// NewDistillationEngine builds an engine. classifier may be nil to skip
// category tagging of distilled facts.
func NewDistillationEngine(cfg DistillerConfig, provider Provider, classifier CategoryClassifier) *DistillationEngine {
	return &DistillationEngine{
		cfg:        cfg,
		provider:   provider,
		classifier: classifier,
		promptTmpl: template.Must(template.New("distill").Parse(distillationPromptTemplate)),
	}
}

const distillationPromptTemplate = `You are distilling short-term memory candidates into durable facts.

Keep only facts with confidence >= {{.ConfidenceThreshold}}.
Return at most {{.MaxFactsPerBatch}} facts, the highest-confidence ones first.
Respond with a JSON object: {"facts": [{"type": ..., "content": ..., "confidence": ..., "sourceCandidateIds": [...], "entities": [...], "tags": [...], "reasoning": ...}]}.

Candidates:
{{.Candidates}}
`

type candidateLine struct {
	Record *MemoryRecord
}

func renderCandidateLines(batch *StmBatch, records map[string]*MemoryRecord) string {
	var b strings.Builder
	for _, cand := range batch.Candidates {
		rec, ok := records[cand.RecordID]
		if !ok {
			continue
		}
		content := strings.Join(strings.Fields(rec.Content), " ")
		fmt.Fprintf(&b, "- id=%s type=%s confidence=%.2f importance=%.2f createdAt=%s source=%s tags=%s entities=%s content=%q\n",
			cand.RecordID, rec.Type, rec.Confidence, rec.Importance,
			rec.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
			rec.Provenance.SourceType,
			strings.Join(rec.Tags, ","),
			strings.Join(rec.Entities, ","),
			content,
		)
	}
	return b.String()
}

// renderPrompt substitutes {{confidenceThreshold}}, {{maxFactsPerBatch}},
// {{candidates}} per spec §4.5 step 2.
func (e *DistillationEngine) renderPrompt(batch *StmBatch, records map[string]*MemoryRecord) (string, error) {
	var b strings.Builder
	err := e.promptTmpl.Execute(&b, struct {
		ConfidenceThreshold float64
		MaxFactsPerBatch    int
		Candidates          string
	}{
		ConfidenceThreshold: e.cfg.ConfidenceThreshold,
		MaxFactsPerBatch:    e.cfg.MaxFactsPerBatch,
		Candidates:          renderCandidateLines(batch, records),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}

// Distill implements the full algorithm of spec §4.5. records must contain
// every record referenced by batch's candidates (by id); missing entries are
// simply omitted from the prompt.
func (e *DistillationEngine) Distill(ctx context.Context, batch *StmBatch, records map[string]*MemoryRecord) (*DistillationResult, error) {
	if len(batch.Candidates) == 0 {
		return &DistillationResult{}, nil
	}

	allIDs := batch.RecordIDs()

	prompt, err := e.renderPrompt(batch, records)
	if err != nil {
		return nil, NewError(CodeDistillationProviderFailed, "renderPrompt", err)
	}

	raw, err := e.provider.Complete(ctx, prompt)
	if err != nil {
		return nil, NewError(CodeDistillationProviderFailed, "Provider.Complete", err)
	}

	validated := ValidateDistillationOutput(raw, allIDs, e.classifier)
	if len(validated.Facts) == 0 && len(raw) > 0 {
		// A payload that could not be parsed, or whose facts were all
		// invalid, already carries warnings from ValidateDistillationOutput.
		// Only a parsed payload with no facts at all arrives here without
		// one, so add the generic warning only when nothing more specific
		// was recorded.
		if len(validated.Warnings) == 0 {
			validated.Warnings = append(validated.Warnings, "distillation payload produced no usable facts")
		}
	}

	facts := make([]DistilledFact, 0, len(validated.Facts))
	warnings := append([]string(nil), validated.Warnings...)

	for _, f := range validated.Facts {
		if f.Confidence < e.cfg.ConfidenceThreshold {
			warnings = append(warnings, fmt.Sprintf("dropped fact below confidence threshold: %q (%.3f)", f.Content, f.Confidence))
			continue
		}
		facts = append(facts, f)
	}

	if len(facts) > e.cfg.MaxFactsPerBatch {
		sort.SliceStable(facts, func(i, j int) bool {
			return facts[i].Confidence > facts[j].Confidence
		})
		warnings = append(warnings, fmt.Sprintf("truncated %d facts to maxFactsPerBatch=%d", len(facts), e.cfg.MaxFactsPerBatch))
		facts = facts[:e.cfg.MaxFactsPerBatch]
	}

	covered := make(map[string]struct{})
	for _, f := range facts {
		for _, id := range f.SourceCandidateIDs {
			covered[id] = struct{}{}
		}
	}
	var failedIDs []string
	for _, id := range allIDs {
		if _, ok := covered[id]; !ok {
			failedIDs = append(failedIDs, id)
		}
	}

	return &DistillationResult{
		Facts:              facts,
		FailedCandidateIDs: failedIDs,
		Warnings:           warnings,
	}, nil
}
