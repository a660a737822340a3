package service

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agentrt/core/internal/domain/entity"
)

// GeneratedTask is the raw shape an LLM-backed generator returns before the
// planner wraps it in entity.Task (keeps the planner itself independent of
// any particular LLM request/response shape).
type GeneratedTask struct {
	Description string
	ToolHint    string
}

// TaskGenerator delegates task-list generation to an LLM. Implemented by
// an adapter over AgentLoop's LLMClient so the planner itself has no
// transport dependency.
type TaskGenerator interface {
	GenerateTasks(ctx context.Context, goal, workContext string, skills []string, rules []*entity.PlanningRule, persona, boundaries string) ([]GeneratedTask, error)
}

// completionPattern pins one regex used by CheckCompletionIn. The exact
// completion-phrase set is pinned rather than left to locale, so this list
// is fixed English + CJK, not derived from any runtime locale setting.
var completionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)task\s+(\d+)\s*(?:is\s+)?(?:complete|completed|done|finished)`),
	regexp.MustCompile(`任务\s*(\d+)\s*(?:已)?(?:完成|结束)`),
	regexp.MustCompile(`第\s*(\d+)\s*(?:个)?任务(?:已)?(?:完成|结束)`),
}

// TaskPlanner owns an ordered task list and a cursor. One instance lives
// for the duration of a single turn; Replan swaps the list in place but
// never replaces the TaskPlanner itself, following LoopDetector's "single
// mutable slice behind a mutex" shape (guardrails.go).
type TaskPlanner struct {
	mu        sync.Mutex
	tasks     []*entity.Task
	generator TaskGenerator
	logger    *zap.Logger
}

// NewTaskPlanner constructs an empty planner; call Generate to populate it.
func NewTaskPlanner(generator TaskGenerator, logger *zap.Logger) *TaskPlanner {
	return &TaskPlanner{generator: generator, logger: logger}
}

// Generate delegates to the LLM and replaces the list wholesale. An empty
// result is valid — it means the goal needs no tool-driven tasks (a pure
// text response).
func (p *TaskPlanner) Generate(ctx context.Context, goal, workContext string, skills []string, rules []*entity.PlanningRule, persona, boundaries string) ([]*entity.Task, error) {
	generated, err := p.generator.GenerateTasks(ctx, goal, workContext, skills, rules, persona, boundaries)
	if err != nil {
		return nil, fmt.Errorf("generate task list: %w", err)
	}

	tasks := make([]*entity.Task, 0, len(generated))
	for i, g := range generated {
		t, err := entity.NewTask(i+1, g.Description, g.ToolHint)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}

	p.mu.Lock()
	p.tasks = tasks
	p.mu.Unlock()

	return p.Snapshot(), nil
}

// Replan replaces the list; the cursor (first-incomplete index) resets, but
// completion marks for tasks whose description survives verbatim in the new
// list are carried over (description equality, not id equality — preserves
// observable behaviour across a replan even when task ids are renumbered).
func (p *TaskPlanner) Replan(newDescriptions []GeneratedTask) ([]*entity.Task, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	completedByDesc := make(map[string]bool, len(p.tasks))
	for _, t := range p.tasks {
		if t.Completed() {
			completedByDesc[t.Description()] = true
		}
	}

	next := make([]*entity.Task, 0, len(newDescriptions))
	for i, g := range newDescriptions {
		t, err := entity.NewTask(i+1, g.Description, g.ToolHint)
		if err != nil {
			return nil, err
		}
		if completedByDesc[g.Description] {
			t.MarkCompleted()
		}
		next = append(next, t)
	}

	p.tasks = next
	return cloneTasks(p.tasks), nil
}

// CheckCompletionIn scans assistant text for completion-claim phrases and
// returns the task ids they name, in the order found.
func (p *TaskPlanner) CheckCompletionIn(text string) []int {
	var ids []int
	seen := make(map[int]bool)
	for _, re := range completionPatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) < 2 {
				continue
			}
			id, err := strconv.Atoi(m[1])
			if err != nil || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// MarkCompleted flags task id complete. Refuses premature completion: id
// may be at most the cursor (the id of the first incomplete task), i.e. the
// current task or one the planner has already moved the cursor past.
func (p *TaskPlanner) MarkCompleted(id int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cursor := p.cursorLocked()
	if id > cursor {
		return entity.ErrPrematureCompletion
	}
	for _, t := range p.tasks {
		if t.ID() == id {
			t.MarkCompleted()
			return nil
		}
	}
	return fmt.Errorf("task %d not found", id)
}

// cursorLocked returns the 1-based id of the first incomplete task, or
// len(tasks)+1 if all are complete. Caller must hold p.mu.
func (p *TaskPlanner) cursorLocked() int {
	for _, t := range p.tasks {
		if !t.Completed() {
			return t.ID()
		}
	}
	return len(p.tasks) + 1
}

// BuildNudgeMessage renders a message naming the next pending task, used to
// redirect the model when it drifts off the current task (the per-task
// depth guard and the planner-driven nudge).
func (p *TaskPlanner) BuildNudgeMessage() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, t := range p.tasks {
		if !t.Completed() {
			hint := ""
			if t.ToolHint() != "" {
				hint = fmt.Sprintf(" (suggested tool: %s)", t.ToolHint())
			}
			return fmt.Sprintf("Reminder: task %d is still pending — %s%s. Focus on completing it before moving on.", t.ID(), t.Description(), hint)
		}
	}
	return "All tasks are marked complete."
}

// AllCompleted reports whether every task in the current list is complete.
// An empty list counts as complete — empty generation means no tool-driven
// work was needed.
func (p *TaskPlanner) AllCompleted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tasks {
		if !t.Completed() {
			return false
		}
	}
	return true
}

// CurrentTask returns the first incomplete task, or nil if none remains.
func (p *TaskPlanner) CurrentTask() *entity.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, t := range p.tasks {
		if !t.Completed() {
			return t.Clone()
		}
	}
	return nil
}

// Snapshot returns a deep copy of the current task list.
func (p *TaskPlanner) Snapshot() []*entity.Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneTasks(p.tasks)
}

func cloneTasks(tasks []*entity.Task) []*entity.Task {
	out := make([]*entity.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}

// SelectRules filters rules matching the goal, highest priority first,
// respecting immutability: an immutable rule can never be shadowed by a
// mutable one with the same id.
func SelectRules(goalLower string, rules []*entity.PlanningRule) []*entity.PlanningRule {
	byID := make(map[string]*entity.PlanningRule)
	for _, r := range rules {
		if !r.Matches(goalLower) {
			continue
		}
		existing, ok := byID[r.ID()]
		if ok && !existing.Mutable() {
			continue // immutable rule already claimed this id — never overridden
		}
		byID[r.ID()] = r
	}

	out := make([]*entity.PlanningRule, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}
	sortRulesByPriority(out)
	return out
}

func sortRulesByPriority(rules []*entity.PlanningRule) {
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rules[j-1].Priority() < rules[j].Priority(); j-- {
			rules[j-1], rules[j] = rules[j], rules[j-1]
		}
	}
}

// normalizeGoal lower-cases a goal string for rule matching, keeping the
// transformation in one place so callers don't re-derive it differently.
func normalizeGoal(goal string) string {
	return strings.ToLower(goal)
}
