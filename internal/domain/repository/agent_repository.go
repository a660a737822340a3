package repository

import (
	"context"

	"github.com/agentrt/core/internal/domain/entity"
)

// AgentRepository is the agent repository interface (dependency inversion:
// defined in the domain layer, implemented in infrastructure).
type AgentRepository interface {
	// FindByID looks up an agent by ID.
	FindByID(ctx context.Context, id string) (*entity.Agent, error)

	// FindAll returns every agent.
	FindAll(ctx context.Context) ([]*entity.Agent, error)

	// FindByName looks up an agent by name.
	FindByName(ctx context.Context, name string) (*entity.Agent, error)

	// Save upserts an agent.
	Save(ctx context.Context, agent *entity.Agent) error

	// Delete removes an agent by ID.
	Delete(ctx context.Context, id string) error

	// Exists reports whether an agent with the given ID exists.
	Exists(ctx context.Context, id string) (bool, error)
}
