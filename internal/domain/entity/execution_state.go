package entity

// ToolExecRecord is one entry in ExecutionState's ordered (tool, success) log.
type ToolExecRecord struct {
	Tool    string
	Success bool
}

// ExecutionState holds the per-turn counters the Agent Loop's guards read.
// One instance lives for exactly one turn.
type ExecutionState struct {
	TotalToolCalls      int
	FailedToolCalls     int
	ConsecutiveFailures int
	CallsSinceTaskReset int // calls since the per-task depth counter was last reset
	ReplanCount         int
	ContextOverflowRetries int
	IterationCount      int
	Records             []ToolExecRecord
}

// NewExecutionState returns a zeroed state for a fresh turn.
func NewExecutionState() *ExecutionState {
	return &ExecutionState{}
}

// RecordToolResult appends a (tool, success) record and updates the derived
// counters (consecutive-failure tracking resets to 0 on success).
func (s *ExecutionState) RecordToolResult(tool string, success bool) {
	s.Records = append(s.Records, ToolExecRecord{Tool: tool, Success: success})
	s.TotalToolCalls++
	s.CallsSinceTaskReset++
	if success {
		s.ConsecutiveFailures = 0
		return
	}
	s.FailedToolCalls++
	s.ConsecutiveFailures++
}

// ResetTaskDepth zeroes the per-task call counter, called after a depth-limit
// nudge is injected or (per Open Question (c)) when a replan was the last
// action processed in the current batch.
func (s *ExecutionState) ResetTaskDepth() {
	s.CallsSinceTaskReset = 0
}
