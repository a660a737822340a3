package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level application configuration.
type Config struct {
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	AIService AIServiceConfig `mapstructure:"ai_service"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	PythonEnv string          `mapstructure:"python_env"` // global Python interpreter root (conda/venv)
}

// GatewayConfig configures the HTTP/gRPC gateway's bind address and mode.
type GatewayConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // local, production
}

// AIServiceConfig configures an auxiliary AI backend reachable over gRPC.
type AIServiceConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	Timeout int    `mapstructure:"timeout"` // seconds
}

// DatabaseConfig configures the persistence backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AgentConfig configures agent-loop behavior.
type AgentConfig struct {
	DefaultModel    string              `mapstructure:"default_model"`
	DefaultProvider string              `mapstructure:"default_provider"`
	Workspace       string              `mapstructure:"workspace"`
	MaxIterations   int                 `mapstructure:"max_iterations"`
	AskMode         bool                `mapstructure:"ask_mode"`
	Models          []ModelConfig       `mapstructure:"models"`          // selectable model catalog
	FallbackModels  []string            `mapstructure:"fallback_models"` // failover chain
	Providers       []LLMProviderConfig `mapstructure:"providers"`      // LLM provider configs for Go builtin

	// Per-model policy overrides (model family key → overrides).
	// Keys are matched by substring against model ID, e.g. "qwen3", "minimax", "claude".
	// Nil values / omitted keys use auto-detected defaults from resolveModelPolicy.
	ModelPolicies map[string]ModelPolicyConfig `mapstructure:"model_policies"`

	Runtime    RuntimeConfig    `mapstructure:"runtime"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Tools      ToolsConfig      `mapstructure:"tools"`
	Security   SecurityConfig   `mapstructure:"security"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	MCP        MCPConfig        `mapstructure:"mcp"`
	GRPCPort   int              `mapstructure:"grpc_port"` // gRPC agent server port (default 50051)
}

// ModelPolicyConfig holds YAML-configurable per-model policy overrides.
// All fields are pointers so nil = "don't override, use auto-detected value".
type ModelPolicyConfig struct {
	RepairToolPairing   *bool   `mapstructure:"repair_tool_pairing"`
	EnforceTurnOrdering *bool   `mapstructure:"enforce_turn_ordering"`
	ReasoningFormat     *string `mapstructure:"reasoning_format"`
	ProgressInterval    *int    `mapstructure:"progress_interval"`
	ProgressEscalation  *bool   `mapstructure:"progress_escalation"`
	PromptStyle         *string `mapstructure:"prompt_style"`
	SystemRoleSupport   *bool   `mapstructure:"system_role_support"`
	ThinkingTagHint     *bool   `mapstructure:"thinking_tag_hint"`
}

// LLMProviderConfig configures a Go-native LLM provider (used by llm.Router).
type LLMProviderConfig struct {
	Name     string   `mapstructure:"name"`
	BaseURL  string   `mapstructure:"base_url"`
	APIKey   string   `mapstructure:"api_key"`
	Models   []string `mapstructure:"models"`
	Priority int      `mapstructure:"priority"`
	Type     string   `mapstructure:"api_type"` // "openai" (default) | "anthropic" | "gemini"
}

// ModelConfig describes one selectable model entry.
type ModelConfig struct {
	ID          string `mapstructure:"id"`          // e.g. "antigravity/gemini-3-flash"
	Alias       string `mapstructure:"alias"`       // e.g. "Flash"
	Provider    string `mapstructure:"provider"`    // e.g. "Antigravity"
	Description string `mapstructure:"description"`
}

// RuntimeConfig tunes agent-loop runtime limits. All fields are adjustable via config.yaml.
type RuntimeConfig struct {
	ToolTimeout      time.Duration `mapstructure:"tool_timeout"`        // per-tool execution timeout
	RunTimeout       time.Duration `mapstructure:"run_timeout"`         // max duration of a single Run
	SubAgentTimeout  time.Duration `mapstructure:"sub_agent_timeout"`   // sub-agent timeout
	SubAgentMaxSteps int           `mapstructure:"sub_agent_max_steps"` // sub-agent max steps
	MaxTokenBudget   int64         `mapstructure:"max_token_budget"`    // token budget ceiling
	ConcurrentTools  bool          `mapstructure:"concurrent_tools"`    // run tool calls concurrently
	MaxRetries       int           `mapstructure:"max_retries"`         // LLM call retry ceiling (default: 3)
	RetryBaseWait    time.Duration `mapstructure:"retry_base_wait"`     // retry base wait (default: 2s, exponential backoff)
}

// GuardrailsConfig tunes context-window and loop-detection guardrails.
type GuardrailsConfig struct {
	ContextMaxTokens    int     `mapstructure:"context_max_tokens"`    // context window size
	ContextWarnRatio    float64 `mapstructure:"context_warn_ratio"`    // warn threshold (0.7 = 70%)
	ContextHardRatio    float64 `mapstructure:"context_hard_ratio"`    // forced-compaction threshold
	LoopDetectWindow    int     `mapstructure:"loop_detect_window"`    // loop-detection sliding window
	LoopDetectThreshold int     `mapstructure:"loop_detect_threshold"` // N repeats of the same tool counts as a loop
	LoopNameThreshold   int     `mapstructure:"loop_name_threshold"`   // N calls of one tool name within the window counts as a loop
	CostGuardEnabled    bool    `mapstructure:"cost_guard_enabled"`    // enable cost guard
}

// SecurityConfig configures the tool-call approval policy.
type SecurityConfig struct {
	// ApprovalMode: "auto" | "ask_dangerous" | "ask_all"
	//   auto          — run every tool call automatically
	//   ask_dangerous — ask confirmation only for tools in the dangerous list
	//   ask_all       — ask confirmation for every tool call
	ApprovalMode    string        `mapstructure:"approval_mode"`
	DangerousTools  []string      `mapstructure:"dangerous_tools"`  // tools requiring confirmation
	TrustedTools    []string      `mapstructure:"trusted_tools"`    // tools that never require confirmation
	TrustedCommands []string      `mapstructure:"trusted_commands"` // shell command prefixes exempt from confirmation
	ApprovalTimeout time.Duration `mapstructure:"approval_timeout"` // confirmation timeout (default 5m)
}

// ToolsConfig configures the tool registry overlay.
type ToolsConfig struct {
	Registry []ToolRegConfig `mapstructure:"registry"`
}

// ToolRegConfig describes one tool registration override.
type ToolRegConfig struct {
	Name         string              `mapstructure:"name"`          // canonical tool name
	Backend      string              `mapstructure:"backend"`       // go | python | command | grpc
	Command      string              `mapstructure:"command"`       // shell command when backend=command
	ArgsFormat   string              `mapstructure:"args_format"`   // argument format template
	Handler      string              `mapstructure:"handler"`       // builtin handler name when backend=go
	GRPCMethod   string              `mapstructure:"grpc_method"`   // when backend=python/grpc
	GRPCEndpoint string              `mapstructure:"grpc_endpoint"` // address when backend=grpc
	Enabled      bool                `mapstructure:"enabled"`
	Timeout      time.Duration       `mapstructure:"timeout"` // optional, overrides the global tool_timeout
	Aliases      map[string][]string `mapstructure:"aliases"` // provider → alias list
}

// CompactionConfig tunes conversation-history compaction.
type CompactionConfig struct {
	MessageThreshold int  `mapstructure:"message_threshold"`   // message-count trigger
	TokenThreshold   int  `mapstructure:"token_threshold"`     // token-count trigger
	KeepRecent       int  `mapstructure:"keep_recent"`         // keep the most recent N messages verbatim
	SummaryMaxTokens int  `mapstructure:"summary_max_tokens"`  // max tokens for the generated summary
	PreFlushToMemory bool `mapstructure:"pre_flush_to_memory"` // write key facts to memory before compacting
}

// MCPConfig configures attached MCP servers.
type MCPConfig struct {
	Servers []MCPServerConfig `mapstructure:"servers"`
}

// MCPServerConfig describes one MCP server.
type MCPServerConfig struct {
	Name     string `mapstructure:"name"`
	Endpoint string `mapstructure:"endpoint"` // JSON-RPC endpoint
	Enabled  bool   `mapstructure:"enabled"`
}

// MemoryConfig configures the long-term memory store.
type MemoryConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	OllamaURL  string `mapstructure:"ollama_url"`  // Ollama endpoint (http://host:port)
	EmbedModel string `mapstructure:"embed_model"` // embedding model name, e.g. qwen3-embedding
	StorePath  string `mapstructure:"store_path"`  // vector store persistence directory
	StoreType  string `mapstructure:"store_type"`  // lancedb | memory
}

// Load reads configuration from a layered set of sources.
func Load() (*Config, error) {
	// .env is loaded once, best-effort, before viper/env resolution — missing
	// file is not an error, it just means no local overrides are present.
	_ = godotenv.Load()

	v := viper.New()

	setDefaults(v)

	// ─── Layered config loading (mirrors Claude Code / Gemini CLI) ───
	// Priority (low → high): defaults → global ~/.ngoclaw/ → project-local → env vars
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Layer 1: global config ~/.ngoclaw/config.yaml (base layer — API keys, providers)
	globalDir := filepath.Join(os.Getenv("HOME"), ".ngoclaw")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read global config: %w", err)
		}
	}

	// Layer 2: project-local config (overlay — workspace, models, runtime, etc.)
	// Checks ./config/config.yaml and ./config.yaml, merged in via MergeConfigMap.
	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "config.yaml")
		if _, err := os.Stat(localPath); err == nil {
			v2 := viper.New()
			v2.SetConfigFile(localPath)
			if err := v2.ReadInConfig(); err == nil {
				_ = v.MergeConfigMap(v2.AllSettings())
			}
			break // only the first local config found is used
		}
	}

	// Overlay the compatible openclaw.json (only supplements providers/model)
	_ = loadOpenClawConfig(v)

	// Environment variable overrides, with aliases for the common Anthropic/OpenAI
	// key names so existing shells keep working without an NGOCLAW_ prefix.
	v.SetEnvPrefix("NGOCLAW")
	v.AutomaticEnv()
	bindEnvAliases(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// bindEnvAliases binds a handful of conventional, unprefixed environment
// variable names onto config keys, so a plain ANTHROPIC_API_KEY or
// OPENAI_API_KEY in the shell is picked up without NGOCLAW_ prefixing.
func bindEnvAliases(v *viper.Viper) {
	aliases := map[string]string{
		"agent.runtime.anthropic_key": "ANTHROPIC_API_KEY",
		"agent.runtime.openai_key":    "OPENAI_API_KEY",
		"database.dsn":                "NGOCLAW_DATABASE_DSN",
		"memory.ollama_url":           "OLLAMA_URL",
	}
	for key, env := range aliases {
		_ = v.BindEnv(key, env)
	}
}

// setDefaults populates viper with the builtin default configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18789)
	v.SetDefault("gateway.mode", "local")

	v.SetDefault("ai_service.host", "localhost")
	v.SetDefault("ai_service.port", 50051)
	v.SetDefault("ai_service.timeout", 120)

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "ngoclaw.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("agent.runtime.tool_timeout", "30s")
	v.SetDefault("agent.runtime.run_timeout", "5m")
	v.SetDefault("agent.runtime.sub_agent_timeout", "2m")
	v.SetDefault("agent.runtime.max_token_budget", 100000)
	v.SetDefault("agent.runtime.concurrent_tools", true)
	v.SetDefault("agent.runtime.max_retries", 3)
	v.SetDefault("agent.runtime.retry_base_wait", "2s")

	v.SetDefault("agent.guardrails.context_max_tokens", 128000)
	v.SetDefault("agent.guardrails.context_warn_ratio", 0.7)
	v.SetDefault("agent.guardrails.context_hard_ratio", 0.85)
	v.SetDefault("agent.guardrails.loop_detect_window", 10)
	v.SetDefault("agent.guardrails.loop_detect_threshold", 5)
	v.SetDefault("agent.guardrails.cost_guard_enabled", true)

	v.SetDefault("agent.compaction.message_threshold", 30)
	v.SetDefault("agent.compaction.token_threshold", 30000)
	v.SetDefault("agent.compaction.keep_recent", 10)
	v.SetDefault("agent.compaction.summary_max_tokens", 1000)
	v.SetDefault("agent.compaction.pre_flush_to_memory", true)

	v.SetDefault("agent.security.approval_mode", "ask_dangerous")
	v.SetDefault("agent.security.dangerous_tools", []string{"shell_exec", "write_file", "delete_file", "python_exec"})
	v.SetDefault("agent.security.trusted_tools", []string{"read_file", "list_files", "web_search", "think"})
	v.SetDefault("agent.security.trusted_commands", []string{"ls", "cat", "head", "tail", "grep", "find", "wc", "echo", "pwd", "which", "file", "stat"})
	v.SetDefault("agent.security.approval_timeout", "5m")
}

// loadOpenClawConfig overlays a compatible openclaw.json, if present.
func loadOpenClawConfig(v *viper.Viper) error {
	paths := []string{
		filepath.Join(os.Getenv("HOME"), ".openclaw", "openclaw.json"),
		"openclaw.json",
	}

	var configPath string
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			configPath = path
			break
		}
	}

	if configPath == "" {
		return fmt.Errorf("openclaw.json not found")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("read openclaw.json: %w", err)
	}

	var oc map[string]interface{}
	if err := json.Unmarshal(data, &oc); err != nil {
		return fmt.Errorf("parse openclaw.json: %w", err)
	}

	// Map providers
	if providers, ok := oc["providers"].([]interface{}); ok {
		for _, p := range providers {
			prov, ok := p.(map[string]interface{})
			if !ok {
				continue
			}
			name, _ := prov["name"].(string)
			apiKey, _ := prov["apiKey"].(string)
			baseURL, _ := prov["baseURL"].(string)

			if name != "" && apiKey != "" {
				v.Set(fmt.Sprintf("providers.%s.api_key", name), apiKey)
			}
			if name != "" && baseURL != "" {
				v.Set(fmt.Sprintf("providers.%s.base_url", name), baseURL)
			}
		}
	}

	// Map default model
	if model, ok := oc["model"].(string); ok && model != "" {
		v.Set("agent.runtime.model", model)
	}

	return nil
}
