package tool

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentrt/core/internal/domain/service"
	domaintool "github.com/agentrt/core/internal/domain/tool"
	"go.uber.org/zap"
)

// SwarmTool fans a task out across several independent sub-agents and
// returns their results side by side. It builds on the same AgentLoop
// plumbing as SubAgentTool but runs N instances concurrently instead of
// one, which suits tasks better split by angle (e.g. "review this diff
// for correctness, security, and performance") than by sub-step.
type SwarmTool struct {
	llm             service.LLMClient
	tools           service.ToolExecutor
	defaultModel    string
	defaultMaxSteps int
	timeout         time.Duration
	maxFanout       int
	logger          *zap.Logger
}

// NewSwarmTool creates the delegate_to_swarm tool.
func NewSwarmTool(llm service.LLMClient, tools service.ToolExecutor, defaultModel string, maxSteps int, timeout time.Duration, logger *zap.Logger) *SwarmTool {
	if maxSteps <= 0 {
		maxSteps = 15
	}
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SwarmTool{
		llm:             llm,
		tools:           tools,
		defaultModel:    defaultModel,
		defaultMaxSteps: maxSteps,
		timeout:         timeout,
		maxFanout:       8,
		logger:          logger,
	}
}

func (t *SwarmTool) Name() string         { return "delegate_to_swarm" }
func (t *SwarmTool) Kind() domaintool.Kind { return domaintool.KindExecute }

func (t *SwarmTool) Description() string {
	return fmt.Sprintf("Fan a task out across multiple independent sub-agents running concurrently, "+
		"each given its own task description, then collect all results together. "+
		"Use this for tasks naturally split by perspective or by independent unit of work "+
		"(e.g. reviewing several files, or the same change from several angles). "+
		"Up to %d tasks run per call. For a single delegated sub-task, use spawn_agent instead.",
		t.maxFanout)
}

func (t *SwarmTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"tasks": map[string]interface{}{
				"type":        "array",
				"description": "Task descriptions, one per sub-agent to spawn",
				"items":       map[string]interface{}{"type": "string"},
			},
			"system_prompt": map[string]interface{}{
				"type":        "string",
				"description": "Optional shared system prompt applied to every sub-agent",
			},
		},
		"required": []string{"tasks"},
	}
}

type swarmMember struct {
	index  int
	task   string
	result string
	err    error
	steps  int
	tokens int
}

func (t *SwarmTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	rawTasks, ok := args["tasks"].([]interface{})
	if !ok || len(rawTasks) == 0 {
		return &domaintool.Result{Success: false, Error: "tasks array is required"}, nil
	}

	depth := 0
	if d, ok := ctx.Value(depthKey{}).(int); ok {
		depth = d
	}
	if depth >= 2 {
		return &domaintool.Result{Success: false, Error: "sub-agent nesting depth limit reached (max 2 levels)"}, nil
	}

	tasks := make([]string, 0, len(rawTasks))
	for _, raw := range rawTasks {
		if s, ok := raw.(string); ok && s != "" {
			tasks = append(tasks, s)
		}
	}
	if len(tasks) == 0 {
		return &domaintool.Result{Success: false, Error: "tasks array contained no usable entries"}, nil
	}
	if len(tasks) > t.maxFanout {
		t.logger.Warn("swarm fan-out truncated", zap.Int("requested", len(tasks)), zap.Int("limit", t.maxFanout))
		tasks = tasks[:t.maxFanout]
	}

	systemPrompt, _ := args["system_prompt"].(string)

	subCtx := context.WithValue(ctx, depthKey{}, depth+1)
	subCtx, cancel := context.WithTimeout(subCtx, t.timeout)
	defer cancel()

	members := make([]swarmMember, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task string) {
			defer wg.Done()
			members[i] = t.runMember(subCtx, i, task, systemPrompt)
		}(i, task)
	}
	wg.Wait()

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("=== Swarm Result (%d agents) ===\n\n", len(members)))

	succeeded := 0
	totalSteps, totalTokens := 0, 0
	for _, m := range members {
		sb.WriteString(fmt.Sprintf("--- Agent %d: %s ---\n", m.index+1, truncateStr(m.task, 80)))
		if m.err != nil {
			sb.WriteString(fmt.Sprintf("ERROR: %v\n\n", m.err))
			continue
		}
		succeeded++
		totalSteps += m.steps
		totalTokens += m.tokens
		sb.WriteString(m.result)
		sb.WriteString("\n\n")
	}
	sb.WriteString(fmt.Sprintf("--- Summary: %d/%d succeeded | %d total steps | %d total tokens ---\n",
		succeeded, len(members), totalSteps, totalTokens))

	t.logger.Info("swarm completed",
		zap.Int("members", len(members)),
		zap.Int("succeeded", succeeded),
	)

	return &domaintool.Result{
		Output:  sb.String(),
		Success: succeeded > 0,
		Metadata: map[string]interface{}{
			"members":   len(members),
			"succeeded": succeeded,
		},
	}, nil
}

func (t *SwarmTool) runMember(ctx context.Context, index int, task, systemPrompt string) swarmMember {
	cfg := service.DefaultAgentLoopConfig()
	cfg.MaxOutputChars = 16000
	cfg.Temperature = 0.7
	cfg.Model = t.defaultModel
	cfg.MaxIterations = t.defaultMaxSteps

	agent := service.NewAgentLoop(t.llm, t.tools, cfg, t.logger.Named(fmt.Sprintf("swarm-%d", index)))

	result, eventCh := agent.Run(ctx, service.RunOptions{
		SystemPrompt: systemPrompt,
		UserMessage:  task,
	})

	for range eventCh {
		// drained, not streamed to the parent
	}

	return swarmMember{
		index:  index,
		task:   task,
		result: result.FinalContent,
		steps:  result.TotalSteps,
		tokens: result.TotalTokens,
	}
}
