package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SpawnConfig configures a sub-agent spawn request.
type SpawnConfig struct {
	Name           string            // sub-agent name
	SystemPrompt   string            // system prompt
	AllowedTools   []string          // tool allowlist
	DeniedTools    []string          // tool denylist
	InheritContext bool              // inherit the parent agent's context
	InheritTools   bool              // inherit the parent agent's tool permissions
	MaxDepth       int               // max nesting depth (guards against unbounded recursion)
	Timeout        time.Duration     // sub-agent timeout
	Metadata       map[string]string // extra metadata
}

// DefaultSpawnConfig returns a SpawnConfig with sane defaults.
func DefaultSpawnConfig(name string) *SpawnConfig {
	return &SpawnConfig{
		Name:           name,
		AllowedTools:   []string{},
		DeniedTools:    []string{},
		InheritContext: true,
		InheritTools:   true,
		MaxDepth:       3,
		Timeout:        5 * time.Minute,
		Metadata:       make(map[string]string),
	}
}

// Permission describes what a spawned agent is allowed to do.
type Permission struct {
	Tools       []string // allowed tools
	DeniedTools []string // denied tools
	CanSpawn    bool     // whether this agent may spawn further sub-agents
	MaxSpawns   int      // max number of sub-agents
	MaxDepth    int       // max spawn depth
}

// CanUseTool reports whether toolName is permitted.
func (p *Permission) CanUseTool(toolName string) bool {
	for _, denied := range p.DeniedTools {
		if denied == toolName {
			return false
		}
	}

	// Empty allowlist means everything not denied is allowed.
	if len(p.Tools) == 0 {
		return true
	}

	for _, allowed := range p.Tools {
		if allowed == toolName {
			return true
		}
	}

	return false
}

// SpawnedAgent is a single spawned sub-agent's tracked state.
type SpawnedAgent struct {
	ID           string
	ParentID     string
	Name         string
	SystemPrompt string
	Permission   *Permission
	Depth        int
	CreatedAt    time.Time
	Status       AgentStatus
	mu           sync.RWMutex
}

// AgentStatus is a spawned agent's lifecycle state.
type AgentStatus int

const (
	AgentStatusIdle AgentStatus = iota
	AgentStatusRunning
	AgentStatusCompleted
	AgentStatusError
	AgentStatusTerminated
)

// String returns the status as a lowercase string.
func (s AgentStatus) String() string {
	switch s {
	case AgentStatusIdle:
		return "idle"
	case AgentStatusRunning:
		return "running"
	case AgentStatusCompleted:
		return "completed"
	case AgentStatusError:
		return "error"
	case AgentStatusTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Spawner creates and tracks sub-agents.
type Spawner interface {
	// Spawn creates a sub-agent under parentID.
	Spawn(ctx context.Context, parentID string, config *SpawnConfig) (*SpawnedAgent, error)
	// Get looks up a spawned agent by ID.
	Get(agentID string) (*SpawnedAgent, bool)
	// ListChildren lists the direct children of parentID.
	ListChildren(parentID string) []*SpawnedAgent
	// Terminate stops a spawned agent and all of its children.
	Terminate(agentID string) error
	// TerminateAll stops every child of parentID.
	TerminateAll(parentID string) error
	// GetDepth returns an agent's current nesting depth.
	GetDepth(agentID string) int
}

// InMemorySpawner is an in-memory Spawner implementation.
type InMemorySpawner struct {
	mu       sync.RWMutex
	agents   map[string]*SpawnedAgent
	children map[string][]string // parentID -> []childID
	logger   *zap.Logger
	maxDepth int
}

// NewInMemorySpawner creates an in-memory Spawner with the given max nesting depth.
func NewInMemorySpawner(logger *zap.Logger, maxDepth int) *InMemorySpawner {
	if maxDepth <= 0 {
		maxDepth = 5
	}
	return &InMemorySpawner{
		agents:   make(map[string]*SpawnedAgent),
		children: make(map[string][]string),
		logger:   logger,
		maxDepth: maxDepth,
	}
}

// Spawn creates a sub-agent under parentID ("" for a root agent).
func (s *InMemorySpawner) Spawn(ctx context.Context, parentID string, config *SpawnConfig) (*SpawnedAgent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the parent, if this isn't a root spawn.
	var parentDepth int
	if parentID != "" {
		parent, exists := s.agents[parentID]
		if !exists {
			return nil, fmt.Errorf("parent agent %s not found", parentID)
		}
		parentDepth = parent.Depth

		if parentDepth >= s.maxDepth {
			return nil, fmt.Errorf("max spawn depth (%d) exceeded", s.maxDepth)
		}

		if parent.Permission != nil && !parent.Permission.CanSpawn {
			return nil, fmt.Errorf("parent agent %s cannot spawn sub-agents", parentID)
		}
	}

	agentID := uuid.New().String()

	permission := s.buildPermission(parentID, config)

	agent := &SpawnedAgent{
		ID:           agentID,
		ParentID:     parentID,
		Name:         config.Name,
		SystemPrompt: config.SystemPrompt,
		Permission:   permission,
		Depth:        parentDepth + 1,
		CreatedAt:    time.Now(),
		Status:       AgentStatusIdle,
	}

	s.agents[agentID] = agent
	if parentID != "" {
		s.children[parentID] = append(s.children[parentID], agentID)
	}

	if s.logger != nil {
		s.logger.Info("Sub-agent spawned",
			zap.String("agent_id", agentID),
			zap.String("parent_id", parentID),
			zap.String("name", config.Name),
			zap.Int("depth", agent.Depth),
		)
	}

	return agent, nil
}

// buildPermission derives a spawned agent's effective permission set.
func (s *InMemorySpawner) buildPermission(parentID string, config *SpawnConfig) *Permission {
	perm := &Permission{
		Tools:       make([]string, 0),
		DeniedTools: make([]string, 0),
		CanSpawn:    config.MaxDepth > 1,
		MaxSpawns:   5,
		MaxDepth:    config.MaxDepth,
	}

	if config.InheritTools && parentID != "" {
		if parent, exists := s.agents[parentID]; exists && parent.Permission != nil {
			perm.Tools = append(perm.Tools, parent.Permission.Tools...)
			perm.DeniedTools = append(perm.DeniedTools, parent.Permission.DeniedTools...)
		}
	}

	perm.Tools = append(perm.Tools, config.AllowedTools...)
	perm.DeniedTools = append(perm.DeniedTools, config.DeniedTools...)

	return perm
}

// Get looks up a spawned agent by ID.
func (s *InMemorySpawner) Get(agentID string) (*SpawnedAgent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, exists := s.agents[agentID]
	return agent, exists
}

// ListChildren lists the direct children of parentID.
func (s *InMemorySpawner) ListChildren(parentID string) []*SpawnedAgent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	childIDs, exists := s.children[parentID]
	if !exists {
		return []*SpawnedAgent{}
	}

	children := make([]*SpawnedAgent, 0, len(childIDs))
	for _, childID := range childIDs {
		if agent, exists := s.agents[childID]; exists {
			children = append(children, agent)
		}
	}

	return children
}

// Terminate stops agentID and all of its children.
func (s *InMemorySpawner) Terminate(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	agent, exists := s.agents[agentID]
	if !exists {
		return fmt.Errorf("agent %s not found", agentID)
	}

	// Terminate children first.
	if childIDs, hasChildren := s.children[agentID]; hasChildren {
		for _, childID := range childIDs {
			if child, exists := s.agents[childID]; exists {
				child.mu.Lock()
				child.Status = AgentStatusTerminated
				child.mu.Unlock()
			}
		}
		delete(s.children, agentID)
	}

	agent.mu.Lock()
	agent.Status = AgentStatusTerminated
	agent.mu.Unlock()

	// Remove from the parent's child list.
	if agent.ParentID != "" {
		if siblings, exists := s.children[agent.ParentID]; exists {
			newSiblings := make([]string, 0, len(siblings)-1)
			for _, siblingID := range siblings {
				if siblingID != agentID {
					newSiblings = append(newSiblings, siblingID)
				}
			}
			s.children[agent.ParentID] = newSiblings
		}
	}

	if s.logger != nil {
		s.logger.Info("Agent terminated",
			zap.String("agent_id", agentID),
		)
	}

	return nil
}

// TerminateAll stops every child of parentID.
func (s *InMemorySpawner) TerminateAll(parentID string) error {
	children := s.ListChildren(parentID)
	for _, child := range children {
		if err := s.Terminate(child.ID); err != nil {
			if s.logger != nil {
				s.logger.Warn("Failed to terminate child agent",
					zap.String("child_id", child.ID),
					zap.Error(err),
				)
			}
		}
	}
	return nil
}

// GetDepth returns an agent's current nesting depth.
func (s *InMemorySpawner) GetDepth(agentID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if agent, exists := s.agents[agentID]; exists {
		return agent.Depth
	}
	return 0
}

// SetStatus sets the agent's lifecycle status.
func (a *SpawnedAgent) SetStatus(status AgentStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Status = status
}

// GetStatus returns the agent's current lifecycle status.
func (a *SpawnedAgent) GetStatus() AgentStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.Status
}

// IsActive reports whether the agent is idle or running.
func (a *SpawnedAgent) IsActive() bool {
	status := a.GetStatus()
	return status == AgentStatusIdle || status == AgentStatusRunning
}
