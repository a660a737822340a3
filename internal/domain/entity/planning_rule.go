package entity

import "strings"

// RuleOrigin distinguishes where a PlanningRule came from; only seed rules
// are immutable — workspace and evolved rules may override mutable rules
// but never immutable ones.
type RuleOrigin string

const (
	RuleOriginSeed      RuleOrigin = "seed"
	RuleOriginWorkspace RuleOrigin = "workspace"
	RuleOriginEvolved   RuleOrigin = "evolved"
)

// PlanningRule biases the Task Planner's list generation toward known
// patterns.
type PlanningRule struct {
	id              string
	priority        int
	keywords        []string
	contextKeywords []string
	toolHint        string
	instruction     string
	mutable         bool
	origin          RuleOrigin
}

// NewPlanningRule constructs a rule. Seed-origin rules are always immutable
// regardless of the mutable argument, matching the RuleOrigin invariant.
func NewPlanningRule(id string, priority int, keywords, contextKeywords []string, toolHint, instruction string, mutable bool, origin RuleOrigin) (*PlanningRule, error) {
	if id == "" {
		return nil, ErrInvalidRuleID
	}
	if origin == RuleOriginSeed {
		mutable = false
	}
	return &PlanningRule{
		id:              id,
		priority:        priority,
		keywords:        keywords,
		contextKeywords: contextKeywords,
		toolHint:        toolHint,
		instruction:     instruction,
		mutable:         mutable,
		origin:          origin,
	}, nil
}

func (r *PlanningRule) ID() string              { return r.id }
func (r *PlanningRule) Priority() int            { return r.priority }
func (r *PlanningRule) Keywords() []string       { return r.keywords }
func (r *PlanningRule) ContextKeywords() []string { return r.contextKeywords }
func (r *PlanningRule) ToolHint() string         { return r.toolHint }
func (r *PlanningRule) Instruction() string      { return r.instruction }
func (r *PlanningRule) Mutable() bool            { return r.mutable }
func (r *PlanningRule) Origin() RuleOrigin       { return r.origin }

// Matches reports whether any of the rule's keywords appear (case-insensitive
// substring) in the supplied goal text.
func (r *PlanningRule) Matches(goalLower string) bool {
	for _, kw := range r.keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(goalLower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
