package service

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// AgentState represents the discrete states of the agent loop's state
// machine: Init → Planning? → (Prompt → Batch|Reflect)* → Terminal.
type AgentState string

const (
	StateInit       AgentState = "init"
	StatePlanning   AgentState = "planning"   // planning-mode initial setup (task-list generation)
	StateCompacting AgentState = "compacting" // context compaction in progress
	StateRetrying   AgentState = "retrying"   // waiting between LLM retry attempts
	StatePrompting  AgentState = "prompting"  // LLM call in flight
	StateBatch      AgentState = "batch"      // executing a tool-call batch
	StateReflecting AgentState = "reflecting" // handling a no-tool-calls assistant turn

	// Terminal states.
	StateAllDone         AgentState = "all_done"
	StateDepthStopped    AgentState = "depth_stopped"
	StateFailureStopped  AgentState = "failure_stopped"
	StateNoToolStopped   AgentState = "no_tool_stopped"
	StateIterationStopped AgentState = "iteration_stopped"
	StateContextStopped  AgentState = "context_stopped"

	// Additional terminals for paths the core taxonomy doesn't name but
	// the runtime must still resolve to a tagged variant — every terminal
	// state should be an explicit tagged variant.
	StateAborted      AgentState = "aborted"       // ctx cancelled / user abort
	StateInternalError AgentState = "internal_error" // unrecoverable error (panic, ConfigError, SandboxFailure)
)

// validTransitions defines the allowed state transitions. DepthStopped is
// modeled as a pass-through state (inject nudge, reset counter, continue)
// rather than a hard terminal, even though it's named alongside the other
// terminals — the loop continues past it rather than stopping, so it
// behaves as a transient checkpoint, not a dead end.
var validTransitions = map[AgentState]map[AgentState]bool{
	StateInit: {
		StatePlanning:  true,
		StatePrompting: true,
	},
	StatePlanning: {
		StatePrompting: true,
		StateAborted:   true,
		StateInternalError: true,
	},
	StatePrompting: {
		StateBatch:           true,
		StateReflecting:      true,
		StateCompacting:      true,
		StateRetrying:        true,
		StateIterationStopped: true,
		StateContextStopped:  true,
		StateAborted:         true,
		StateInternalError:   true,
	},
	StateBatch: {
		StatePrompting:       true, // next round after tool results appended
		StateDepthStopped:    true,
		StateFailureStopped:  true,
		StateCompacting:      true,
		StateAborted:         true,
		StateInternalError:   true,
	},
	StateDepthStopped: {
		StatePrompting: true, // depth limit injects a message and continues
	},
	StateReflecting: {
		StatePrompting:     true, // nudge injected, retry
		StateAllDone:       true,
		StateNoToolStopped: true,
		StateAborted:       true,
		StateInternalError: true,
	},
	StateCompacting: {
		StatePrompting: true,
		StateAborted:   true,
		StateInternalError: true,
	},
	StateRetrying: {
		StatePrompting:     true,
		StateContextStopped: true,
		StateAborted:       true,
		StateInternalError: true,
	},
	// Terminal states — no transitions out.
	StateAllDone:          {},
	StateFailureStopped:   {},
	StateNoToolStopped:    {},
	StateIterationStopped: {},
	StateContextStopped:   {},
	StateAborted:          {},
	StateInternalError:    {},
}

// StateSnapshot captures the agent's runtime state at a point in time.
type StateSnapshot struct {
	State         AgentState    `json:"state"`
	Step          int           `json:"step"`
	MaxSteps      int           `json:"max_steps"` // 0 = unlimited
	TokensUsed    int           `json:"tokens_used"`
	ToolsExecuted int           `json:"tools_executed"`
	RetryCount    int           `json:"retry_count"`
	ErrorCount    int           `json:"error_count"`
	Elapsed       time.Duration `json:"elapsed"`
	ModelUsed     string        `json:"model_used,omitempty"`
	LastTool      string        `json:"last_tool,omitempty"`
	StopReason    string        `json:"stop_reason,omitempty"` // populated once a terminal is reached
}

// StateMachine manages state transitions for an agent loop run.
// Thread-safe — multiple goroutines can read state concurrently.
type StateMachine struct {
	mu            sync.RWMutex
	state         AgentState
	step          int
	maxSteps      int
	tokensUsed    int
	toolsExecuted int
	retryCount    int
	errorCount    int
	startTime     time.Time
	modelUsed     string
	lastTool      string
	stopReason    string
	logger        *zap.Logger

	listeners []func(from, to AgentState, snap StateSnapshot)
}

// NewStateMachine creates a state machine starting in Init.
func NewStateMachine(maxSteps int, logger *zap.Logger) *StateMachine {
	return &StateMachine{
		state:     StateInit,
		maxSteps:  maxSteps,
		startTime: time.Now(),
		logger:    logger,
	}
}

// State returns the current state (thread-safe).
func (sm *StateMachine) State() AgentState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.state
}

// Snapshot returns a full copy of the current runtime state.
func (sm *StateMachine) Snapshot() StateSnapshot {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.snapshotLocked()
}

func (sm *StateMachine) snapshotLocked() StateSnapshot {
	return StateSnapshot{
		State:         sm.state,
		Step:          sm.step,
		MaxSteps:      sm.maxSteps,
		TokensUsed:    sm.tokensUsed,
		ToolsExecuted: sm.toolsExecuted,
		RetryCount:    sm.retryCount,
		ErrorCount:    sm.errorCount,
		Elapsed:       time.Since(sm.startTime),
		ModelUsed:     sm.modelUsed,
		LastTool:      sm.lastTool,
		StopReason:    sm.stopReason,
	}
}

// Transition attempts to move to a new state.
func (sm *StateMachine) Transition(to AgentState) error {
	return sm.TransitionWithReason(to, "")
}

// TransitionWithReason is Transition plus a human-readable reason recorded
// on the snapshot once a terminal state is reached — this is the `reason?`
// half of the "every turn ends with a {status, reason?} summary" contract.
func (sm *StateMachine) TransitionWithReason(to AgentState, reason string) error {
	sm.mu.Lock()
	from := sm.state

	allowed, ok := validTransitions[from]
	if !ok || !allowed[to] {
		sm.mu.Unlock()
		err := fmt.Errorf("invalid state transition: %s → %s", from, to)
		sm.logger.Error("State machine violation", zap.Error(err))
		return err
	}

	sm.state = to
	if reason != "" {
		sm.stopReason = reason
	}
	snap := sm.snapshotLocked()
	listeners := make([]func(from, to AgentState, snap StateSnapshot), len(sm.listeners))
	copy(listeners, sm.listeners)
	sm.mu.Unlock()

	sm.logger.Debug("State transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.Int("step", snap.Step),
	)

	for _, fn := range listeners {
		fn(from, to, snap)
	}

	return nil
}

// OnTransition registers a listener called on every state change.
func (sm *StateMachine) OnTransition(fn func(from, to AgentState, snap StateSnapshot)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listeners = append(sm.listeners, fn)
}

// --- Mutation helpers (all thread-safe) ---

func (sm *StateMachine) SetStep(step int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.step = step
}

func (sm *StateMachine) AddTokens(n int) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.tokensUsed += n
}

func (sm *StateMachine) RecordToolExec(toolName string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.toolsExecuted++
	sm.lastTool = toolName
}

func (sm *StateMachine) RecordRetry() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount++
}

func (sm *StateMachine) RecordError() {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.errorCount++
}

func (sm *StateMachine) SetModel(model string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.modelUsed = model
}

// IsTerminal returns true if the state machine is in a state with no
// outgoing transitions (DepthStopped excluded — it always resumes).
func (sm *StateMachine) IsTerminal() bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	allowed, ok := validTransitions[sm.state]
	return ok && len(allowed) == 0
}
