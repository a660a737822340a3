package service

import (
	"context"

	"github.com/agentrt/core/internal/domain/entity"
)

// MessageRouter is the domain service that routes a message to an agent.
type MessageRouter interface {
	// Route routes message to the agent that should handle it.
	Route(ctx context.Context, message *entity.Message) (*entity.Agent, error)
}

// DefaultMessageRouter is the default MessageRouter implementation.
type DefaultMessageRouter struct {
	agentSelector AgentSelector
}

// AgentSelector selects the agent that should handle a message.
type AgentSelector interface {
	// Select picks the agent that should process message.
	Select(ctx context.Context, message *entity.Message) (*entity.Agent, error)
}

// NewDefaultMessageRouter creates a DefaultMessageRouter.
func NewDefaultMessageRouter(selector AgentSelector) *DefaultMessageRouter {
	return &DefaultMessageRouter{
		agentSelector: selector,
	}
}

// Route implements the routing logic by delegating to the AgentSelector.
func (r *DefaultMessageRouter) Route(ctx context.Context, message *entity.Message) (*entity.Agent, error) {
	return r.agentSelector.Select(ctx, message)
}
