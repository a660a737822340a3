package service

import (
	"context"
	"regexp"
	"strings"
)

// Boundaries is the extracted "scope / exclusions / completion conditions"
// structure that planning-mode setup builds before task generation.
type Boundaries struct {
	Scope               []string
	Exclusions          []string
	CompletionConditions []string
}

func (b Boundaries) Empty() bool {
	return len(b.Scope) == 0 && len(b.Exclusions) == 0 && len(b.CompletionConditions) == 0
}

// boundaryMarker pairs a regex matching one marker phrase (ASCII or
// non-ASCII) with the Boundaries field it feeds.
type boundaryMarker struct {
	pattern *regexp.Regexp
	field   func(*Boundaries) *[]string
}

// Markers are pinned explicitly rather than derived from locale, mirroring
// the completion-phrase pinning in task_planner.go: a fixed bilingual set,
// not an i18n lookup. Grounded on agent_loop.go's exitCodeHint-style
// bilingual string handling.
var boundaryMarkers = []boundaryMarker{
	{
		pattern: regexp.MustCompile(`(?i)(?:scope|in[- ]scope)\s*:\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.Scope },
	},
	{
		pattern: regexp.MustCompile(`范围\s*[:：]\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.Scope },
	},
	{
		pattern: regexp.MustCompile(`(?i)(?:exclu(?:de|sions?)|out[- ]of[- ]scope)\s*:\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.Exclusions },
	},
	{
		pattern: regexp.MustCompile(`排除\s*[:：]\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.Exclusions },
	},
	{
		pattern: regexp.MustCompile(`(?i)(?:completion|done when|finished when)\s*:\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.CompletionConditions },
	},
	{
		pattern: regexp.MustCompile(`完成条件\s*[:：]\s*(.+)`),
		field:   func(b *Boundaries) *[]string { return &b.CompletionConditions },
	},
}

// BoundaryLLMExtractor is the fallback used when the regex pass finds
// nothing — an external LLM call, injected so this package stays transport
// free.
type BoundaryLLMExtractor interface {
	ExtractBoundaries(ctx context.Context, goal string) (Boundaries, error)
}

// ExtractBoundaries runs the regex pass line by line over goal, then falls
// back to llmExtractor (if non-nil) when nothing matched.
func ExtractBoundaries(ctx context.Context, goal string, llmExtractor BoundaryLLMExtractor) (Boundaries, error) {
	var b Boundaries
	for _, line := range strings.Split(goal, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, m := range boundaryMarkers {
			match := m.pattern.FindStringSubmatch(line)
			if match == nil {
				continue
			}
			target := m.field(&b)
			*target = append(*target, strings.TrimSpace(match[1]))
		}
	}

	if !b.Empty() || llmExtractor == nil {
		return b, nil
	}
	return llmExtractor.ExtractBoundaries(ctx, goal)
}
