package tool

import (
	"context"
	"time"

	"github.com/agentrt/core/internal/domain/service"
	domaintool "github.com/agentrt/core/internal/domain/tool"
	"github.com/agentrt/core/internal/infrastructure/sandbox"
	"go.uber.org/zap"
)

// ToolLayerDeps aggregates all external dependencies needed by the tool layer.
// This is the single configuration point for the entire tool subsystem.
type ToolLayerDeps struct {
	// Required
	Registry domaintool.Registry
	Logger   *zap.Logger

	// Infrastructure
	Sandbox *sandbox.ProcessSandbox // nil = sandboxed tools disabled

	// Paths
	OutputDir string // where write_output/list_output/preview_server operate

	// Sub-agent / swarm (nil = spawn_agent / delegate_to_swarm not registered)
	SubAgent *SubAgentDeps
}

// SubAgentDeps holds dependencies for the spawn_agent and delegate_to_swarm tools.
type SubAgentDeps struct {
	LLMClient    service.LLMClient
	ToolExecutor service.ToolExecutor
	DefaultModel string
	MaxSteps     int
	Timeout      time.Duration
}

// RegisterAllTools registers all tools in one place. This is the ONLY
// tool registration entry point. Adding a new tool? Add it here.
//
// Registration order:
//  1. Core file operations (bash, read, write, edit, list, grep, glob)
//  2. Advanced editing (apply_patch)
//  3. Output artifacts (write_output, list_output, preview_server, run_command)
//  4. Agent capabilities (save_memory, update_plan, spawn_agent, delegate_to_swarm)
func RegisterAllTools(deps ToolLayerDeps) int {
	var tools []domaintool.Tool

	// ── 1. Core File Operations ──
	tools = append(tools,
		NewBashTool(deps.Sandbox, deps.Logger),
		NewReadFileTool(deps.Sandbox, deps.Logger),
		NewWriteFileTool(deps.Sandbox, deps.Logger),
		NewEditFileTool(deps.Sandbox, deps.Logger),
		NewListDirTool(deps.Sandbox, deps.Logger),
		NewSearchTool(deps.Sandbox, deps.Logger),
		NewGlobTool(deps.Sandbox, deps.Logger),
	)

	// ── 2. Advanced Editing ──
	tools = append(tools, NewApplyPatchTool(deps.Sandbox, deps.Logger))

	// ── 3. Output Artifacts ──
	if deps.OutputDir != "" {
		tools = append(tools,
			NewWriteOutputTool(deps.OutputDir, deps.Logger),
			NewListOutputTool(deps.OutputDir, deps.Logger),
			NewPreviewServerTool(deps.OutputDir, deps.Logger),
		)
	}

	if deps.Sandbox != nil {
		tools = append(tools, NewRunCommandTool(sandboxExecAdapter(deps.Sandbox), deps.Logger))
	}

	// ── 4. Agent Capabilities ──
	tools = append(tools,
		NewSaveMemoryTool(deps.Logger),
		NewUpdatePlanTool(deps.Logger),
	)

	if deps.SubAgent != nil {
		sa := deps.SubAgent
		tools = append(tools,
			NewSubAgentTool(sa.LLMClient, sa.ToolExecutor, sa.DefaultModel, sa.MaxSteps, sa.Timeout, deps.Logger),
			NewSwarmTool(sa.LLMClient, sa.ToolExecutor, sa.DefaultModel, sa.MaxSteps, sa.Timeout, deps.Logger),
		)
	}

	// ── Register everything ──
	registered := 0
	for _, t := range tools {
		if err := deps.Registry.Register(t); err != nil {
			deps.Logger.Warn("Failed to register tool",
				zap.String("tool", t.Name()),
				zap.Error(err),
			)
		} else {
			deps.Logger.Info("Registered tool", zap.String("tool", t.Name()))
			registered++
		}
	}

	deps.Logger.Info("Tool layer initialized",
		zap.Int("total_registered", registered),
	)

	return registered
}

// sandboxExecAdapter adapts ProcessSandbox.Execute to RunCommandTool's
// narrower (output, exitCode, error) shape.
func sandboxExecAdapter(s *sandbox.ProcessSandbox) func(ctx context.Context, command string, args []string) (string, int, error) {
	return func(ctx context.Context, command string, args []string) (string, int, error) {
		result, err := s.Execute(ctx, command, args)
		if result == nil {
			return "", -1, err
		}
		output := result.Stdout
		if result.Stderr != "" {
			output += "\n[stderr]\n" + result.Stderr
		}
		return output, result.ExitCode, err
	}
}
