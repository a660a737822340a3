package application

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentrt/core/internal/application/usecase"
	"github.com/agentrt/core/internal/domain/entity"
	"github.com/agentrt/core/internal/domain/repository"
	"github.com/agentrt/core/internal/domain/service"
	domainskill "github.com/agentrt/core/internal/domain/skill"
	domaintool "github.com/agentrt/core/internal/domain/tool"
	"github.com/agentrt/core/internal/domain/valueobject"
	"github.com/agentrt/core/internal/infrastructure/config"
	"github.com/agentrt/core/internal/infrastructure/eventbus"
	"github.com/agentrt/core/internal/infrastructure/journal"
	"github.com/agentrt/core/internal/infrastructure/llm"
	_ "github.com/agentrt/core/internal/infrastructure/llm/anthropic" // register anthropic provider factory
	_ "github.com/agentrt/core/internal/infrastructure/llm/gemini"    // register gemini provider factory
	_ "github.com/agentrt/core/internal/infrastructure/llm/openai"    // register openai provider factory
	"github.com/agentrt/core/internal/infrastructure/monitoring"
	"github.com/agentrt/core/internal/infrastructure/persistence"
	"github.com/agentrt/core/internal/infrastructure/plugin"
	"github.com/agentrt/core/internal/infrastructure/prompt"
	"github.com/agentrt/core/internal/infrastructure/sandbox"
	toolpkg "github.com/agentrt/core/internal/infrastructure/tool"
	"github.com/agentrt/core/internal/interfaces/agentgrpc"
	httpServer "github.com/agentrt/core/internal/interfaces/http"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// App is the gateway's dependency-injection container: it wires the
// domain, application, and infrastructure layers together and owns
// their lifecycle.
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB

	// Repositories
	agentRepo   repository.AgentRepository
	messageRepo repository.MessageRepository

	// Domain services
	agentSelector service.AgentSelector
	messageRouter service.MessageRouter

	// Application services
	processMessageUseCase *usecase.ProcessMessageUseCase

	// Infrastructure
	toolRegistry domaintool.Registry
	toolExecutor *toolpkg.Executor
	llmRouter    *llm.Router
	agentLoop    *service.AgentLoop
	securityHook *service.SecurityHook
	grpcAgentSrv *agentgrpc.Server
	httpServer   *httpServer.Server

	promptEngine *prompt.PromptEngine
	eventBus     *eventbus.InMemoryBus
	pluginLoader *plugin.Loader
	monitor      *monitoring.Monitor
}

// NewApp builds the full gateway application, including its HTTP and
// gRPC interfaces.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	// Bootstrap: ensure ~/.ngoclaw/ exists with default files on first run
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	if err := app.seedData(); err != nil {
		return nil, fmt.Errorf("failed to seed data: %w", err)
	}

	return app, nil
}

// NewAppCLI creates a lightweight app for CLI mode.
// Only initializes: DB (silent), Tools, LLM Router, AgentLoop, PromptEngine.
// Skips: HTTP server, gRPC, seed data.
func NewAppCLI(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := config.Bootstrap(logger); err != nil {
		logger.Warn("Bootstrap failed (non-fatal)", zap.Error(err))
	}

	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositoriesSilent(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	// No initInterfaces (HTTP/gRPC) — CLI doesn't need servers
	// No seedData — avoid noisy DB writes on every CLI launch
	return app, nil
}

// initRepositories connects the database and builds GORM-backed repositories.
func (app *App) initRepositories() error {
	app.logger.Info("Initializing repositories")

	db, err := persistence.NewDBConnection(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db

	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)

	return nil
}

// initRepositoriesSilent initializes repos with silent DB logging (for CLI mode)
func (app *App) initRepositoriesSilent() error {
	db, err := persistence.NewDBConnectionSilent(&app.config.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	app.db = db
	app.agentRepo = persistence.NewGormAgentRepository(db)
	app.messageRepo = persistence.NewGormMessageRepository(db)
	return nil
}

// initDomainServices wires the agent selector and message router.
func (app *App) initDomainServices() error {
	app.logger.Info("Initializing domain services")

	app.agentSelector = service.NewDefaultAgentSelector(app.agentRepo)
	app.messageRouter = service.NewDefaultMessageRouter(app.agentSelector)

	return nil
}

// outputDir returns where write_output/list_output/preview_server operate,
// defaulting to <workspace>/.ngoclaw/output.
func (app *App) outputDir() string {
	workspace := app.config.Agent.Workspace
	if workspace == "" {
		workspace, _ = os.Getwd()
	}
	return filepath.Join(workspace, ".ngoclaw", "output")
}

// initInfrastructure builds the sandbox, tool registry, LLM router, and
// registers every tool.
func (app *App) initInfrastructure() error {
	app.logger.Info("Initializing infrastructure")

	app.toolRegistry = domaintool.NewInMemoryRegistry()
	homeDir, _ := os.UserHomeDir()
	systemSkillsDir := filepath.Join(homeDir, ".ngoclaw", "skills")

	// Monitor collects request/tool/token metrics, fed by a MetricsHook
	// chained onto the agent loop in initApplicationServices.
	app.monitor = monitoring.NewMonitor(app.logger)

	// Event bus carries lifecycle/error signals between infrastructure
	// components; a wildcard subscriber keeps a debug trail.
	app.eventBus = eventbus.NewInMemoryBus(app.logger, 256)
	app.eventBus.Subscribe("*", func(ctx context.Context, event eventbus.Event) {
		app.logger.Debug("event",
			zap.String("type", event.Type()),
			zap.Time("ts", event.Timestamp()),
		)
	})

	// Plugin loader hot-loads extensions from <workspace>/.ngoclaw/plugins.
	pluginDir := filepath.Join(app.config.Agent.Workspace, ".ngoclaw", "plugins")
	pluginLoader, err := plugin.NewLoader(&plugin.LoaderConfig{
		PluginDir:     pluginDir,
		EnableHotLoad: true,
	}, app.logger)
	if err != nil {
		app.logger.Warn("Plugin loader init failed, plugins disabled", zap.Error(err))
	} else {
		plugin.RegisterBuiltinPlugins(pluginLoader)
		if err := pluginLoader.LoadAll(context.Background()); err != nil {
			app.logger.Warn("Plugin discovery failed", zap.Error(err))
		}
		if err := pluginLoader.StartWatching(context.Background()); err != nil {
			app.logger.Warn("Plugin hot-reload watch failed", zap.Error(err))
		}
		app.pluginLoader = pluginLoader
	}

	sbxCfg := sandbox.DefaultConfig()
	sbxCfg.PythonEnv = app.config.PythonEnv
	if app.config.Agent.Runtime.ToolTimeout > 0 {
		sbxCfg.Timeout = app.config.Agent.Runtime.ToolTimeout
	}
	sbx, sbxErr := sandbox.NewProcessSandbox(sbxCfg, app.logger)
	if sbxErr != nil {
		app.logger.Warn("Sandbox init failed, tools will run unsandboxed", zap.Error(sbxErr))
	}

	// Executor only runs tool calls; registration happens via RegisterAllTools below.
	app.toolExecutor = toolpkg.NewExecutor(
		app.toolRegistry,
		&domaintool.Policy{Profile: "full"},
		sbx,
		app.logger,
		app.config.PythonEnv,
		systemSkillsDir,
	)

	// LLM Router (modular provider factory with failover).
	// Must be initialized BEFORE RegisterAllTools because spawn_agent/delegate_to_swarm depend on it.
	app.llmRouter = llm.NewRouter(app.logger)
	for _, p := range app.config.Agent.Providers {
		provider, err := llm.CreateProvider(llm.ProviderConfig{
			Name:     p.Name,
			Type:     p.Type,
			BaseURL:  p.BaseURL,
			APIKey:   p.APIKey,
			Models:   p.Models,
			Priority: p.Priority,
		}, app.logger)
		if err != nil {
			app.logger.Error("Failed to create LLM provider",
				zap.String("name", p.Name),
				zap.String("type", p.Type),
				zap.Error(err),
			)
			app.eventBus.Publish(context.Background(), eventbus.NewEvent(eventbus.EventTypeError, eventbus.ErrorPayload{
				Component: "llm_provider",
				Error:     err.Error(),
			}))
			continue
		}
		app.llmRouter.AddProvider(provider)
	}
	app.logger.Info("LLM Router initialized",
		zap.Int("providers", len(app.config.Agent.Providers)),
	)

	subMaxSteps := app.config.Agent.Runtime.SubAgentMaxSteps
	if subMaxSteps <= 0 {
		subMaxSteps = 25
	}

	toolpkg.RegisterAllTools(toolpkg.ToolLayerDeps{
		Registry:  app.toolRegistry,
		Sandbox:   sbx,
		OutputDir: app.outputDir(),
		SubAgent: &toolpkg.SubAgentDeps{
			LLMClient:    app.llmRouter,
			ToolExecutor: &toolBridge{registry: app.toolRegistry},
			DefaultModel: app.config.Agent.DefaultModel,
			MaxSteps:     subMaxSteps,
			Timeout:      app.config.Agent.Runtime.SubAgentTimeout,
		},
		Logger: app.logger,
	})

	// Skill Loader: scans ~/.ngoclaw/skills, runs each manifest through the
	// static scanner, and promotes every executable script as a tool.
	scanCache := sandbox.NewScanCache(filepath.Join(homeDir, ".ngoclaw", "cache"))
	scanner := sandbox.NewScanner(domainskill.SeverityHigh, scanCache)
	skillManager := toolpkg.NewSkillManager(systemSkillsDir, scanner, nil, app.logger)
	promoter := toolpkg.NewRegistryToolPromoter(app.toolRegistry, sbx, app.logger)
	promotedSkills := 0
	for _, loaded := range skillManager.List() {
		if loaded.Skill.TrustTier == domainskill.TrustUntrusted && loaded.ScanReport != nil && !scanner.Safe(loaded.ScanReport) {
			app.logger.Warn("skill held back by static scan", zap.String("skill", loaded.Skill.Manifest.Name))
			continue
		}
		if n, err := skillManager.PromoteToTool(loaded.Skill.Manifest.Name, promoter); err != nil {
			app.logger.Warn("skill promotion failed", zap.String("skill", loaded.Skill.Manifest.Name), zap.Error(err))
		} else {
			promotedSkills += n
		}
	}
	app.logger.Info("Skill loader initialized",
		zap.Int("skills_found", len(skillManager.List())),
		zap.Int("tools_promoted", promotedSkills),
	)

	// Prompt Engine (hot-pluggable system prompt assembly — System + Workspace layers)
	app.promptEngine = prompt.NewPromptEngine(app.config.Agent.Workspace, app.logger)
	if err := app.promptEngine.Discover(); err != nil {
		app.logger.Warn("Prompt engine discovery failed, will use empty system prompt",
			zap.Error(err),
		)
	}

	return nil
}

// initApplicationServices builds the agent loop and its middleware/hooks.
func (app *App) initApplicationServices() error {
	app.logger.Info("Initializing application services")

	app.processMessageUseCase = usecase.NewProcessMessageUseCase(
		app.messageRepo,
		app.messageRouter,
		app.llmRouter,
		app.logger,
	)

	loopTools := &toolBridge{registry: app.toolRegistry}

	loopCfg := service.DefaultAgentLoopConfig()
	loopCfg.Model = app.config.Agent.DefaultModel

	// Bridge per-model policy overrides from config.yaml
	if len(app.config.Agent.ModelPolicies) > 0 {
		loopCfg.ModelPolicies = make(map[string]*service.ModelPolicyOverride)
		for key, cfgPolicy := range app.config.Agent.ModelPolicies {
			override := &service.ModelPolicyOverride{
				RepairToolPairing:   cfgPolicy.RepairToolPairing,
				EnforceTurnOrdering: cfgPolicy.EnforceTurnOrdering,
				ReasoningFormat:     cfgPolicy.ReasoningFormat,
				ProgressInterval:    cfgPolicy.ProgressInterval,
				ProgressEscalation:  cfgPolicy.ProgressEscalation,
				PromptStyle:         cfgPolicy.PromptStyle,
				SystemRoleSupport:   cfgPolicy.SystemRoleSupport,
				ThinkingTagHint:     cfgPolicy.ThinkingTagHint,
			}
			loopCfg.ModelPolicies[key] = override
		}
	}
	if app.config.Agent.Guardrails.LoopDetectThreshold > 0 {
		loopCfg.LoopDetectThreshold = app.config.Agent.Guardrails.LoopDetectThreshold
	}
	if app.config.Agent.Guardrails.LoopNameThreshold > 0 {
		loopCfg.LoopNameThreshold = app.config.Agent.Guardrails.LoopNameThreshold
	}

	if app.config.Agent.Runtime.MaxRetries > 0 {
		loopCfg.MaxRetries = app.config.Agent.Runtime.MaxRetries
	}
	if app.config.Agent.Runtime.RetryBaseWait > 0 {
		loopCfg.RetryBaseWait = app.config.Agent.Runtime.RetryBaseWait
	}

	if app.config.Agent.Compaction.KeepRecent > 0 {
		loopCfg.CompactKeepLast = app.config.Agent.Compaction.KeepRecent
	}

	app.agentLoop = service.NewAgentLoop(
		app.llmRouter,
		loopTools,
		loopCfg,
		app.logger,
	)
	app.logger.Info("Agent Loop initialized",
		zap.String("model", loopCfg.Model),
	)

	// SecurityHook gates mutating tool calls. With no approval callback set,
	// it auto-approves and logs a warning; interfaces that can actually ask
	// a human (HTTP/gRPC handlers with their own UI) call SetApprovalFunc.
	app.securityHook = service.NewSecurityHook(
		app.config.Agent.Security,
		nil,
		app.logger,
	)
	metricsHook := monitoring.NewMetricsHook(app.monitor)
	app.agentLoop.SetHooks(service.NewHookChain(app.securityHook, metricsHook))

	mwPipeline := service.NewMiddlewarePipeline(app.logger)
	mwPipeline.Use(
		service.NewDanglingToolCallMiddleware(app.logger),
	)
	app.agentLoop.SetMiddleware(mwPipeline)
	app.logger.Info("Middleware pipeline configured",
		zap.Int("middlewares", mwPipeline.Len()),
	)

	homeDir, _ := os.UserHomeDir()
	checkpointDir := filepath.Join(homeDir, ".ngoclaw", "checkpoints")
	if store, err := journal.NewCheckpointStore(checkpointDir); err != nil {
		app.logger.Warn("Checkpoint store init failed, resume-on-crash disabled", zap.Error(err))
	} else {
		app.agentLoop.SetCheckpointer(store)
		app.logger.Info("Checkpoint store initialized", zap.String("dir", checkpointDir))
	}

	return nil
}

// initInterfaces constructs the HTTP and gRPC agent servers; Start runs them.
func (app *App) initInterfaces() error {
	app.logger.Info("Initializing interfaces")

	loopToolsBridge := &toolBridge{registry: app.toolRegistry}
	app.httpServer = httpServer.NewServer(
		httpServer.Config{
			Host: app.config.Gateway.Host,
			Port: app.config.Gateway.Port,
			Mode: app.config.Gateway.Mode,
		},
		app.processMessageUseCase,
		app.agentLoop,
		loopToolsBridge,
		app.promptEngine,
		app.monitor,
		app.pluginLoader,
		app.logger,
	)

	grpcPort := app.config.Agent.GRPCPort
	if grpcPort == 0 {
		grpcPort = 50052
	}
	app.grpcAgentSrv = agentgrpc.NewServer(app.agentLoop, loopToolsBridge, grpcPort, app.logger)
	app.logger.Info("gRPC agent server created", zap.Int("port", grpcPort))

	return nil
}

// seedData creates the default agent row on first run.
func (app *App) seedData() error {
	app.logger.Info("Seeding default data")

	ctx := context.Background()

	defaultAgent, err := entity.NewAgent(
		"default",
		"Default Assistant",
		valueobject.DefaultModelConfig(),
	)
	if err != nil {
		return fmt.Errorf("failed to create default agent: %w", err)
	}

	if err := app.agentRepo.Save(ctx, defaultAgent); err != nil {
		return fmt.Errorf("failed to save default agent: %w", err)
	}

	app.logger.Info("Default agent created",
		zap.String("id", defaultAgent.ID()),
		zap.String("name", defaultAgent.Name()),
	)

	return nil
}

// Start brings up the HTTP and gRPC interfaces.
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting application")

	if err := app.httpServer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	if app.grpcAgentSrv != nil {
		if err := app.grpcAgentSrv.Start(); err != nil {
			app.logger.Warn("gRPC agent server failed to start", zap.Error(err))
		}
	}

	app.logger.Info("Application started successfully")
	return nil
}

// Stop shuts down the HTTP/gRPC interfaces and closes the database.
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping application")

	if app.grpcAgentSrv != nil {
		app.grpcAgentSrv.Stop()
	}

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Error("Failed to stop HTTP server", zap.Error(err))
	}

	if app.db != nil {
		sqlDB, err := app.db.DB()
		if err == nil {
			if err := sqlDB.Close(); err != nil {
				app.logger.Error("Failed to close database connection", zap.Error(err))
			}
		}
	}

	if app.pluginLoader != nil {
		if err := app.pluginLoader.Close(); err != nil {
			app.logger.Error("Failed to close plugin loader", zap.Error(err))
		}
	}
	if app.eventBus != nil {
		app.eventBus.Close()
	}

	app.logger.Info("Application stopped successfully")
	return nil
}

// ProcessMessageUseCase returns the message processing usecase.
func (app *App) ProcessMessageUseCase() *usecase.ProcessMessageUseCase {
	return app.processMessageUseCase
}

// Logger returns the application logger.
func (app *App) Logger() *zap.Logger {
	return app.logger
}

// AppConfig returns the application config.
func (app *App) AppConfig() *config.Config {
	return app.config
}

// AgentLoop returns the agent loop instance (used by CLI/TUI).
func (app *App) AgentLoop() *service.AgentLoop {
	return app.agentLoop
}

// PromptEngine returns the prompt engine (used by CLI/TUI).
func (app *App) PromptEngine() *prompt.PromptEngine {
	return app.promptEngine
}

// ToolRegistry returns the tool registry (used by CLI/TUI).
func (app *App) ToolRegistry() domaintool.Registry {
	return app.toolRegistry
}
