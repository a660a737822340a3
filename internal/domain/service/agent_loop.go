package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentrt/core/internal/domain/entity"
	domaintool "github.com/agentrt/core/internal/domain/tool"
	"go.uber.org/zap"
)

// AgentLoopConfig holds configuration for the agent loop.
type AgentLoopConfig struct {
	MaxOutputChars int     // Maximum characters per tool output before truncation (default: 32000)
	Temperature    float64 // LLM temperature
	Model          string  // LLM model identifier

	// Per-model policy overrides from config.yaml.
	ModelPolicies map[string]*ModelPolicyOverride

	// Auto-retry configuration
	MaxRetries    int           // Max retries per LLM call (default: 3)
	RetryBaseWait time.Duration // Base wait between retries (default: 2s, exponential)

	// Context compaction
	CompactKeepLast int // Number of recent messages to preserve during compaction (default: 10)

	// Parallel tool execution
	MaxParallelTools int // Max concurrent tool executions (default: 4, 1 = sequential)

	ToolTimeout      time.Duration // Per-tool execution timeout (default 30s)
	ContextMaxTokens int           // Context window token limit (default 128000)
	ContextWarnRatio float64       // Warn when context > this ratio (default 0.7)
	ContextHardRatio float64       // Force compact when > this ratio (default 0.85)

	LoopWindowSize      int // Sliding window size for exact-match loop detection (default 10)
	LoopDetectThreshold int // Identical calls in window to trigger reflection (default 5)
	LoopNameThreshold   int // Same tool name calls within the sliding window to trigger reflection (default 8)

	// Hard terminal ceilings — guards global to any iteration.
	// Unlike an unbounded "never terminate, nudge forever" philosophy, each
	// of these fires an explicit terminal state rather than looping forever.
	MaxIterations             int // hard iteration ceiling → StateIterationStopped
	MaxTaskDepth              int // per-task tool-call ceiling → inject nudge, reset, continue
	MaxConsecutiveFailures    int // fatal ceiling → StateFailureStopped
	MaxContextOverflowRetries int // bound on compact-and-retry after a context-overflow error → StateContextStopped (messages are compacted; tool messages are not truncated in place)
	MaxNoToolTurns            int // bound on reflection-phase no-progress counter → StateNoToolStopped
}

// DefaultAgentLoopConfig returns production-ready defaults.
func DefaultAgentLoopConfig() AgentLoopConfig {
	return AgentLoopConfig{
		MaxOutputChars:            32000,
		Temperature:               0.7,
		MaxRetries:                3,
		RetryBaseWait:             2 * time.Second,
		CompactKeepLast:           10,
		MaxParallelTools:          4,
		ToolTimeout:               30 * time.Second,
		ContextMaxTokens:          128000,
		ContextWarnRatio:          0.7,
		ContextHardRatio:          0.85,
		LoopWindowSize:            10,
		LoopDetectThreshold:       5,
		LoopNameThreshold:         8,
		MaxIterations:             200,
		MaxTaskDepth:              8,
		MaxConsecutiveFailures:    3,
		MaxContextOverflowRetries: 3,
		MaxNoToolTurns:            2,
	}
}

// LLMClient is the interface the agent loop uses to communicate with language models.
type LLMClient interface {
	Generate(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
	GenerateStream(ctx context.Context, req *LLMRequest, deltaCh chan<- StreamChunk) (*LLMResponse, error)
}

// StreamChunk represents a single delta from a streaming LLM response.
type StreamChunk struct {
	DeltaText     string
	DeltaToolCall *entity.ToolCallInfo
	FinishReason  string
}

// LLMRequest is the request sent to the language model.
type LLMRequest struct {
	Messages    []LLMMessage            `json:"messages"`
	Tools       []domaintool.Definition `json:"tools,omitempty"`
	Model       string                  `json:"model"`
	MaxTokens   int                     `json:"max_tokens,omitempty"`
	Temperature float64                 `json:"temperature"`
}

// LLMMessage represents a single message in the conversation.
type LLMMessage struct {
	Role       string                `json:"role"`
	Content    string                `json:"content"`
	Parts      []ContentPart         `json:"parts,omitempty"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ToolCallID string                `json:"tool_call_id,omitempty"`
	Name       string                `json:"name,omitempty"`
}

// ContentPart represents a multimodal content fragment.
type ContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Data     []byte `json:"data,omitempty"`
}

// TextContent returns all text content, joining text parts or falling back to Content.
func (m *LLMMessage) TextContent() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	if len(texts) == 0 {
		return m.Content
	}
	return strings.Join(texts, "\n")
}

// HasMedia returns true if the message contains non-text content.
func (m *LLMMessage) HasMedia() bool {
	for _, p := range m.Parts {
		if p.Type != "text" {
			return true
		}
	}
	return false
}

// LLMResponse is the response from the language model.
type LLMResponse struct {
	Content    string                `json:"content"`
	ToolCalls  []entity.ToolCallInfo `json:"tool_calls,omitempty"`
	ModelUsed  string                `json:"model_used"`
	TokensUsed int                   `json:"tokens_used"`
}

// ToolExecutor is the interface for executing tools within the agent loop —
// this is the Agent Loop's view of the Extension Registry.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args map[string]interface{}) (*domaintool.Result, error)
	GetDefinitions() []domaintool.Definition
	GetToolKind(name string) domaintool.Kind
}

// SkillDisclosure is optionally implemented by a ToolExecutor to support
// progressive disclosure of skill documentation during the batch phase: if
// the tool is a skill the LLM has not yet seen full documentation for,
// suppress execution and inject the skill's full documentation instead.
// This happens at most once per skill per turn.
type SkillDisclosure interface {
	SkillOwning(toolName string) (skillName string, ok bool)
	Documentation(skillName string) string
}

// updateTaskPlanTool is the planning-mode special tool name intercepted by
// the Agent Loop itself rather than dispatched through the registry.
const updateTaskPlanTool = "update_task_plan"

// AgentLoop implements the agent loop: two shapes (simple, planning)
// sharing one skeleton, five hard terminal states plus Aborted/InternalError,
// replacing an unbounded "nudge forever" philosophy with
// explicit ceilings on iterations, per-task depth,
// consecutive failures, and context-overflow retries.
type AgentLoop struct {
	llm          LLMClient
	tools        ToolExecutor
	config       AgentLoopConfig
	hooks        AgentHook
	middleware   *MiddlewarePipeline
	toolCache    *ToolResultCache
	checkpointer Checkpointer
	logger       *zap.Logger
}

// Checkpointer persists a latest-wins snapshot of a run after each
// iteration, so a crashed or interrupted process can resume instead of
// starting the goal over. Optional: a nil checkpointer disables it.
type Checkpointer interface {
	Save(cp *entity.Checkpoint) error
}

// SetCheckpointer optionally injects a checkpoint store.
func (a *AgentLoop) SetCheckpointer(c Checkpointer) {
	a.checkpointer = c
}

// NewAgentLoop creates a new agent loop.
func NewAgentLoop(llm LLMClient, tools ToolExecutor, config AgentLoopConfig, logger *zap.Logger) *AgentLoop {
	if config.MaxOutputChars <= 0 {
		config.MaxOutputChars = 32000
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryBaseWait <= 0 {
		config.RetryBaseWait = 2 * time.Second
	}
	if config.CompactKeepLast <= 0 {
		config.CompactKeepLast = 10
	}
	if config.MaxParallelTools <= 0 {
		config.MaxParallelTools = 4
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = 30 * time.Second
	}
	if config.ContextMaxTokens <= 0 {
		config.ContextMaxTokens = 128000
	}
	if config.ContextWarnRatio <= 0 {
		config.ContextWarnRatio = 0.7
	}
	if config.ContextHardRatio <= 0 {
		config.ContextHardRatio = 0.85
	}
	if config.LoopWindowSize <= 0 {
		config.LoopWindowSize = 10
	}
	if config.LoopDetectThreshold <= 0 {
		config.LoopDetectThreshold = 5
	}
	if config.MaxIterations <= 0 {
		config.MaxIterations = 200
	}
	if config.MaxTaskDepth <= 0 {
		config.MaxTaskDepth = 8
	}
	if config.MaxConsecutiveFailures <= 0 {
		config.MaxConsecutiveFailures = 3
	}
	if config.MaxContextOverflowRetries <= 0 {
		config.MaxContextOverflowRetries = 3
	}
	if config.MaxNoToolTurns <= 0 {
		config.MaxNoToolTurns = 2
	}

	return &AgentLoop{
		llm:        llm,
		tools:      tools,
		config:     config,
		hooks:      &NoOpHook{},
		middleware: NewMiddlewarePipeline(logger),
		toolCache:  NewToolResultCache(30*time.Second, 100),
		logger:     logger,
	}
}

func (a *AgentLoop) SetHooks(hooks AgentHook) {
	if hooks != nil {
		a.hooks = hooks
	}
}

func (a *AgentLoop) SetMiddleware(mw *MiddlewarePipeline) {
	if mw != nil {
		a.middleware = mw
	}
}

// AgentResult is the final result of an agent loop run.
type AgentResult struct {
	FinalContent string
	TotalSteps   int
	TotalTokens  int
	ModelUsed    string
	ToolsUsed    []string
	StopReason   string // the terminal state name the run ended in
}

// RunOptions configures one turn. Planner is nil for the simple shape;
// non-nil activates the planning shape — both shapes share the same
// skeleton.
type RunOptions struct {
	SystemPrompt  string
	UserMessage   string
	History       []LLMMessage
	ModelOverride string
	Planner       *TaskPlanner
	RunID         string // non-empty enables per-iteration checkpointing
	Workspace     string
}

// Run executes the agent loop, emitting events to the returned channel.
// The caller should read from eventCh until it's closed.
func (a *AgentLoop) Run(ctx context.Context, opts RunOptions) (*AgentResult, <-chan entity.AgentEvent) {
	eventCh := make(chan entity.AgentEvent, 64)
	result := &AgentResult{}

	ctx = WithTraceID(ctx, "")
	a.logger = a.logger.With(zap.String("trace_id", TraceIDFromContext(ctx)))

	a.toolCache.Clear()

	sm := NewStateMachine(a.config.MaxIterations, a.logger)
	sm.OnTransition(func(from, to AgentState, snap StateSnapshot) {
		a.hooks.OnStateChange(from, to, snap)
	})

	go func() {
		defer close(eventCh)
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("Agent loop panicked", zap.Any("panic", r), zap.Stack("stack"))
				_ = sm.TransitionWithReason(StateInternalError, fmt.Sprintf("panic: %v", r))
				a.emitEvent(eventCh, entity.AgentEvent{
					Type:  entity.EventError,
					Error: fmt.Sprintf("Internal error: %v", r),
				})
				result.FinalContent = fmt.Sprintf("Internal error: %v", r)
				result.StopReason = string(StateInternalError)
			}
		}()
		a.runLoop(ctx, opts, result, eventCh, sm)
	}()

	return result, eventCh
}

func (a *AgentLoop) runLoop(
	ctx context.Context,
	opts RunOptions,
	result *AgentResult,
	eventCh chan<- entity.AgentEvent,
	sm *StateMachine,
) {
	ctx = WithUserMessage(ctx, opts.UserMessage)

	messages := make([]LLMMessage, 0, len(opts.History)+2)
	if opts.SystemPrompt != "" {
		messages = append(messages, LLMMessage{Role: "system", Content: opts.SystemPrompt})
	}
	messages = append(messages, opts.History...)
	messages = append(messages, LLMMessage{Role: "user", Content: opts.UserMessage})

	toolDefs := a.tools.GetDefinitions()
	toolsUsedSet := make(map[string]bool)
	skillDisclosure, _ := a.tools.(SkillDisclosure)
	disclosedThisTurn := make(map[string]bool)

	planning := opts.Planner != nil
	if planning {
		_ = sm.Transition(StatePlanning)
		_ = sm.Transition(StatePrompting)
	} else {
		_ = sm.Transition(StatePrompting)
	}

	loopDetector := NewLoopDetector(a.config.LoopWindowSize, a.config.LoopDetectThreshold, a.config.LoopNameThreshold, a.logger)
	contextGuard := NewContextGuard(a.config.ContextMaxTokens, a.config.ContextWarnRatio, a.config.ContextHardRatio, a.logger)

	consecutiveFailures := 0
	callsSinceTaskReset := 0
	overflowRetries := 0
	noToolTurns := 0
	toolCallsIssuedThisSession := false
	compactionThisTurn := false

	var assistantTexts []string

	model := a.config.Model
	if opts.ModelOverride != "" {
		model = opts.ModelOverride
	}
	policy := ResolveModelPolicy(model, a.config.ModelPolicies)

	finish := func(state AgentState, reason, content string) {
		result.FinalContent = content
		result.StopReason = reason
		_ = sm.TransitionWithReason(state, reason)
		for name := range toolsUsedSet {
			result.ToolsUsed = append(result.ToolsUsed, name)
		}
		a.hooks.OnComplete(ctx, result)
		a.emitEvent(eventCh, entity.AgentEvent{Type: entity.EventDone})
	}

	for iteration := 1; ; iteration++ {
		sm.SetStep(iteration)

		if err := ctx.Err(); err != nil {
			_ = sm.TransitionWithReason(StateAborted, "context cancelled")
			a.emitEvent(eventCh, entity.AgentEvent{Type: entity.EventError, Error: "context cancelled"})
			result.StopReason = string(StateAborted)
			return
		}

		if iteration > a.config.MaxIterations {
			finish(StateIterationStopped, string(StateIterationStopped), lastAssistantText(assistantTexts))
			return
		}

		if policy.ProgressInterval > 0 && iteration > 1 && iteration%policy.ProgressInterval == 0 {
			if msg := policy.BuildProgressMessage(iteration); msg != "" {
				messages = append(messages, LLMMessage{Role: "user", Content: msg})
			}
		}

		if opts.Planner != nil {
			if task := opts.Planner.CurrentTask(); task != nil {
				hint := ""
				if task.ToolHint() != "" {
					hint = fmt.Sprintf(" (suggested tool: %s)", task.ToolHint())
				}
				messages = append(messages, LLMMessage{
					Role:    "user",
					Content: fmt.Sprintf("Current task %d: %s%s", task.ID(), task.Description(), hint),
				})
			}
		}

		ctxCheck := contextGuard.Check(messages)
		if ctxCheck.NeedCompaction {
			_ = sm.Transition(StateCompacting)
			messages = a.compactMessages(messages)
			compactionThisTurn = true
			_ = sm.Transition(StatePrompting)
		}

		messages = sanitizeMessages(messages)

		mwMessages := a.middleware.RunBeforeModel(ctx, messages, iteration)
		llmReq := &LLMRequest{Messages: mwMessages, Tools: toolDefs, Model: model, Temperature: a.config.Temperature}
		a.hooks.BeforeLLMCall(ctx, llmReq, iteration)

		resp, err := a.callLLMWithRetry(ctx, llmReq, iteration, eventCh)
		if err != nil {
			if IsContextOverflowError(err) && overflowRetries < a.config.MaxContextOverflowRetries {
				overflowRetries++
				_ = sm.Transition(StateCompacting)
				messages = a.compactMessages(messages)
				_ = sm.Transition(StatePrompting)
				continue
			}
			if IsContextOverflowError(err) {
				finish(StateContextStopped, string(StateContextStopped), lastAssistantText(assistantTexts))
				return
			}

			sm.RecordError()
			_ = sm.TransitionWithReason(StateInternalError, err.Error())
			a.hooks.OnError(ctx, err, iteration)
			a.emitEvent(eventCh, entity.AgentEvent{
				Type:  entity.EventError,
				Error: fmt.Sprintf("LLM error at iteration %d (after %d retries): %v", iteration, a.config.MaxRetries, err),
			})
			result.FinalContent = fmt.Sprintf("Error: %v", err)
			result.StopReason = string(StateInternalError)
			return
		}

		result.TotalTokens += resp.TokensUsed
		result.ModelUsed = resp.ModelUsed
		result.TotalSteps = iteration
		sm.AddTokens(resp.TokensUsed)
		sm.SetModel(resp.ModelUsed)

		resp = a.middleware.RunAfterModel(ctx, resp, iteration)
		a.hooks.AfterLLMCall(ctx, resp, iteration)

		snap := sm.Snapshot()
		a.emitEvent(eventCh, entity.AgentEvent{
			Type: entity.EventStepDone,
			StepInfo: &entity.StepInfo{
				Step:       iteration,
				TokensUsed: resp.TokensUsed,
				ModelUsed:  resp.ModelUsed,
				State:      string(snap.State),
			},
		})

		if len(resp.ToolCalls) == 0 {
			if compactionThisTurn {
				compactionThisTurn = false
				messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content})
				messages = append(messages, LLMMessage{Role: "user", Content: "continue"})
				continue
			}

			// --- Reflection phase ---
			_ = sm.Transition(StateReflecting)

			text := strings.TrimSpace(StripReasoningTags(resp.Content))

			// Simple mode first iteration, tools available: silent rejection + nudge.
			// Planning mode, no tool calls issued yet this session: same, up to iteration 2.
			if !toolCallsIssuedThisSession && len(toolDefs) > 0 && (iteration == 1 || (planning && iteration <= 2)) {
				messages = append(messages, LLMMessage{
					Role:    "user",
					Content: "You must use the available tools to make progress on this request before responding with plain text. Call a tool now.",
				})
				_ = sm.Transition(StatePrompting)
				continue
			}

			if text != "" {
				assistantTexts = append(assistantTexts, text)
			}

			if opts.Planner != nil {
				for _, id := range opts.Planner.CheckCompletionIn(resp.Content) {
					_ = opts.Planner.MarkCompleted(id) // ignores premature-completion attempts
				}
				if opts.Planner.AllCompleted() {
					finish(StateAllDone, string(StateAllDone), finalText(text, assistantTexts))
					return
				}
			} else if text != "" {
				// Simple mode: any substantive text response after tools have run is success.
				finish(StateAllDone, string(StateAllDone), finalText(text, assistantTexts))
				return
			}

			if text != "" && len(assistantTexts) >= 1 {
				// Progress was made (non-empty narration) — keep going.
				noToolTurns = 0
				_ = sm.Transition(StatePrompting)
				continue
			}

			noToolTurns++
			if noToolTurns > a.config.MaxNoToolTurns {
				finish(StateNoToolStopped, string(StateNoToolStopped), finalText(text, assistantTexts))
				return
			}

			if opts.Planner != nil {
				messages = append(messages, LLMMessage{Role: "user", Content: opts.Planner.BuildNudgeMessage()})
			} else {
				messages = append(messages, LLMMessage{Role: "user", Content: "Please continue working toward the goal, or state your final answer."})
			}
			_ = sm.Transition(StatePrompting)
			continue
		}

		// --- Batch phase ---
		toolCallsIssuedThisSession = true
		if cleaned := strings.TrimSpace(StripReasoningTags(resp.Content)); cleaned != "" {
			assistantTexts = append(assistantTexts, cleaned)
		}

		messages = append(messages, LLMMessage{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls})

		_ = sm.Transition(StateBatch)

		// Progressive disclosure: suppress the whole batch and re-prompt if any
		// call targets a skill whose docs haven't been shown this turn yet.
		if skillDisclosure != nil {
			disclosedNow := false
			for _, tc := range resp.ToolCalls {
				skillName, ok := skillDisclosure.SkillOwning(tc.Name)
				if !ok || disclosedThisTurn[skillName] {
					continue
				}
				disclosedThisTurn[skillName] = true
				disclosedNow = true
				messages = append(messages, LLMMessage{
					Role:    "assistant",
					Content: fmt.Sprintf("[skill documentation: %s]\n%s", skillName, skillDisclosure.Documentation(skillName)),
				})
			}
			if disclosedNow {
				_ = sm.Transition(StatePrompting)
				continue
			}
		}

		var reflectionPrompts []string
		for _, tc := range resp.ToolCalls {
			if tc.Name == updateTaskPlanTool {
				continue
			}
			kind := a.tools.GetToolKind(tc.Name)
			if domaintool.SafeKinds[kind] {
				continue
			}
			if prompt := loopDetector.RecordName(tc.Name); prompt != "" {
				reflectionPrompts = append(reflectionPrompts, prompt)
			}
			argsFingerprint := ""
			if tc.Arguments != nil {
				if raw, err := json.Marshal(tc.Arguments); err == nil {
					argsFingerprint = string(raw)
				}
			}
			if prompt := loopDetector.Record(tc.Name, argsFingerprint); prompt != "" {
				reflectionPrompts = append(reflectionPrompts, prompt)
			}
		}

		for _, tc := range resp.ToolCalls {
			a.emitEvent(eventCh, entity.AgentEvent{
				Type:     entity.EventToolCall,
				ToolCall: &entity.ToolCallEvent{ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments},
			})
		}

		results := a.executeBatch(ctx, resp.ToolCalls, opts.Planner, eventCh)

		allFailed := len(results) > 0
		for _, r := range results {
			toolsUsedSet[r.TC.Name] = true
			sm.RecordToolExec(r.TC.Name)
			if r.Success {
				allFailed = false
			}

			a.emitEvent(eventCh, entity.AgentEvent{
				Type: entity.EventToolResult,
				ToolCall: &entity.ToolCallEvent{
					ID: r.TC.ID, Name: r.TC.Name, Arguments: r.TC.Arguments,
					Output: r.Output, Display: r.Display, Success: r.Success, Duration: r.Duration,
				},
			})

			messages = append(messages, LLMMessage{Role: "tool", Content: r.Output, ToolCallID: r.TC.ID, Name: r.TC.Name})
		}

		if allFailed {
			consecutiveFailures++
		} else {
			consecutiveFailures = 0
		}

		if consecutiveFailures >= a.config.MaxConsecutiveFailures {
			finish(StateFailureStopped, string(StateFailureStopped), finalText("", assistantTexts))
			return
		}

		if opts.Planner != nil {
			// Per-task depth guard: a replan that was the batch's last call resets
			// the counter; otherwise reaching MaxTaskDepth injects a nudge and resets it.
			replanWasLastInBatch := false
			for _, r := range results {
				replanWasLastInBatch = r.TC.Name == updateTaskPlanTool
				if !replanWasLastInBatch {
					callsSinceTaskReset++
				}
			}
			if replanWasLastInBatch {
				callsSinceTaskReset = 0
			} else if callsSinceTaskReset >= a.config.MaxTaskDepth {
				_ = sm.Transition(StateDepthStopped)
				messages = append(messages, LLMMessage{Role: "user", Content: fmt.Sprintf("Depth limit: %d tool calls on the current task without completing it. Finish the task now or call update_task_plan to revise the plan.\n\n%s", callsSinceTaskReset, opts.Planner.BuildNudgeMessage())})
				callsSinceTaskReset = 0
			}
		}

		for _, prompt := range reflectionPrompts {
			messages = append(messages, LLMMessage{Role: "user", Content: prompt})
		}

		if opts.Planner != nil {
			for _, id := range opts.Planner.CheckCompletionIn(resp.Content) {
				_ = opts.Planner.MarkCompleted(id)
			}
		}

		postToolCheck := contextGuard.Check(messages)
		if postToolCheck.NeedCompaction {
			_ = sm.Transition(StateCompacting)
			messages = a.compactMessages(messages)
			compactionThisTurn = true
		}

		a.saveCheckpoint(opts, messages)

		_ = sm.Transition(StatePrompting)
	}
}

// saveCheckpoint writes the run's current messages/task plan to the
// configured Checkpointer, if any. Failures are logged, not propagated —
// a checkpoint write never aborts the turn it's shadowing.
func (a *AgentLoop) saveCheckpoint(opts RunOptions, messages []LLMMessage) {
	if a.checkpointer == nil || opts.RunID == "" {
		return
	}

	var tasks []*entity.Task
	if opts.Planner != nil {
		tasks = opts.Planner.Snapshot()
	}

	cp, err := entity.NewCheckpoint(opts.RunID, opts.UserMessage, opts.Workspace)
	if err != nil {
		a.logger.Warn("checkpoint construction failed", zap.Error(err))
		return
	}
	cp.Touch(tasks, toChatMessages(messages))

	if err := a.checkpointer.Save(cp); err != nil {
		a.logger.Warn("checkpoint save failed", zap.Error(err))
	}
}

// toChatMessages converts the in-flight LLMMessage slice to the durable
// ChatMessage form persisted in a checkpoint.
func toChatMessages(messages []LLMMessage) []entity.ChatMessage {
	out := make([]entity.ChatMessage, 0, len(messages))
	for _, m := range messages {
		cm := entity.ChatMessage{Role: m.Role, Content: m.Content, ToolCallID: m.ToolCallID}
		for _, tc := range m.ToolCalls {
			argStr := ""
			if tc.Arguments != nil {
				if raw, err := json.Marshal(tc.Arguments); err == nil {
					argStr = string(raw)
				}
			}
			cm.ToolCalls = append(cm.ToolCalls, entity.ToolCall{
				ID:             tc.ID,
				FunctionName:   tc.Name,
				ArgumentString: argStr,
			})
		}
		out = append(out, cm)
	}
	return out
}

type toolExecResult struct {
	Index    int
	TC       entity.ToolCallInfo
	Output   string
	Display  string
	Success  bool
	Duration time.Duration
}

// executeBatch runs one LLM batch of tool calls, in order of appearance for
// message-ordering purposes, but concurrently up to MaxParallelTools: results
// are appended in the order the calls were issued, regardless of which
// finishes first. update_task_plan is intercepted here rather than
// dispatched through the registry.
func (a *AgentLoop) executeBatch(ctx context.Context, calls []entity.ToolCallInfo, planner *TaskPlanner, eventCh chan<- entity.AgentEvent) []toolExecResult {
	results := make([]toolExecResult, len(calls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, a.config.MaxParallelTools)

	for i, tc := range calls {
		if tc.Name == updateTaskPlanTool && planner != nil {
			results[i] = a.handleReplan(tc, planner)
			continue
		}

		wg.Add(1)
		go func(idx int, call entity.ToolCallInfo) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				results[idx] = toolExecResult{Index: idx, TC: call, Output: "context cancelled", Success: false}
				return
			}

			if !a.hooks.BeforeToolCall(ctx, call.Name, call.Arguments) {
				results[idx] = toolExecResult{
					Index: idx, TC: call,
					Output:  fmt.Sprintf("Tool '%s' was blocked by security policy", call.Name),
					Success: false,
				}
				return
			}

			start := time.Now()

			if cached, cachedSuccess, hit := a.toolCache.Get(call.Name, call.Arguments); hit {
				results[idx] = toolExecResult{Index: idx, TC: call, Output: cached, Success: cachedSuccess, Duration: time.Since(start)}
				a.hooks.AfterToolCall(ctx, call.Name, cached, cachedSuccess)
				return
			}

			toolCtx := ctx
			if a.config.ToolTimeout > 0 {
				var cancel context.CancelFunc
				toolCtx, cancel = context.WithTimeout(ctx, a.config.ToolTimeout)
				defer cancel()
			}

			toolResult, err := a.tools.Execute(toolCtx, call.Name, call.Arguments)
			duration := time.Since(start)

			var output string
			var success bool

			if err != nil {
				output = fmt.Sprintf("[TOOL_FAILED] %s\n[ERROR] %v\n[HINT] The tool raised an error; stop retrying and explain the failure to the user if it persists.", call.Name, err)
				success = false
			} else {
				success = toolResult.Success
				if !success {
					errText := toolResult.Error
					if errText == "" {
						errText = toolResult.Output
					}
					exitCode := 1
					hint := "command failed"
					if toolResult.Metadata != nil {
						if ec, ok := toolResult.Metadata["exit_code"].(int); ok {
							exitCode = ec
							hint = exitCodeHint(ec)
						}
					}
					output = fmt.Sprintf("[TOOL_FAILED] %s\n[EXIT_CODE] %d — %s\n[OUTPUT]\n%s", call.Name, exitCode, hint, errText)
				} else {
					output = toolResult.Output
				}
			}

			output = truncateOutput(output, a.config.MaxOutputChars)
			a.toolCache.Put(call.Name, call.Arguments, output, success)

			var display string
			if toolResult != nil {
				display = toolResult.Display
			}

			results[idx] = toolExecResult{Index: idx, TC: call, Output: output, Display: display, Success: success, Duration: duration}
			a.hooks.AfterToolCall(ctx, call.Name, output, success)
		}(i, tc)
	}

	wg.Wait()
	return results
}

// handleReplan invokes the planner's Replan operation for an
// update_task_plan call, increments the replan count, and records the
// outcome as a ToolResult.
func (a *AgentLoop) handleReplan(tc entity.ToolCallInfo, planner *TaskPlanner) toolExecResult {
	rawTasks, _ := tc.Arguments["tasks"].([]interface{})
	newTasks := make([]GeneratedTask, 0, len(rawTasks))
	for _, raw := range rawTasks {
		item, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		desc, _ := item["description"].(string)
		hint, _ := item["tool_hint"].(string)
		if desc == "" {
			continue
		}
		newTasks = append(newTasks, GeneratedTask{Description: desc, ToolHint: hint})
	}

	updated, err := planner.Replan(newTasks)
	if err != nil {
		return toolExecResult{TC: tc, Output: fmt.Sprintf("replan failed: %v", err), Success: false}
	}

	descriptions := make([]string, len(updated))
	for i, t := range updated {
		status := "pending"
		if t.Completed() {
			status = "completed"
		}
		descriptions[i] = fmt.Sprintf("%d. [%s] %s", t.ID(), status, t.Description())
	}
	return toolExecResult{
		TC:      tc,
		Output:  fmt.Sprintf("Task plan updated (%d tasks):\n%s", len(updated), strings.Join(descriptions, "\n")),
		Success: true,
	}
}

func lastAssistantText(texts []string) string {
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func finalText(preferred string, assistantTexts []string) string {
	if strings.TrimSpace(preferred) != "" {
		return preferred
	}
	return lastAssistantText(assistantTexts)
}

// exitCodeHint returns a human-readable explanation for common process exit codes.
func exitCodeHint(code int) string {
	switch code {
	case 0:
		return "success"
	case 1:
		return "general error — check command arguments or file paths"
	case 2:
		return "argument error — incorrect command syntax"
	case 124:
		return "timed out — command did not finish in time, possibly unreachable network or unresponsive service"
	case 126:
		return "permission denied — file is not executable"
	case 127:
		return "command not found — check the command name or PATH"
	case 128:
		return "exited on signal — process was terminated abnormally"
	case 130:
		return "interrupted (Ctrl+C)"
	case 137:
		return "killed by SIGKILL — possibly out of memory (OOM)"
	case 139:
		return "segmentation fault (SIGSEGV)"
	case 143:
		return "terminated by SIGTERM"
	case 255:
		return "SSH connection failed — check host reachability, port, authentication"
	default:
		if code > 128 {
			return fmt.Sprintf("terminated by signal %d", code-128)
		}
		return "unknown error"
	}
}
