package entity

import (
	"time"

	"github.com/agentrt/core/internal/domain/valueobject"
)

// Agent is the aggregate root for a conversational agent: an entity that
// processes messages and produces responses.
type Agent struct {
	id          string
	name        string
	modelConfig valueobject.ModelConfig
	skills      []Skill
	workspace   string
	createdAt   time.Time
	updatedAt   time.Time
}

// NewAgent creates a new Agent (factory method).
func NewAgent(id, name string, modelConfig valueobject.ModelConfig) (*Agent, error) {
	if id == "" {
		return nil, ErrInvalidAgentID
	}
	if name == "" {
		return nil, ErrInvalidAgentName
	}

	now := time.Now()
	return &Agent{
		id:          id,
		name:        name,
		modelConfig: modelConfig,
		skills:      make([]Skill, 0),
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// ReconstructAgent rebuilds an Agent from persisted state.
func ReconstructAgent(
	id, name string,
	modelConfig valueobject.ModelConfig,
	skills []Skill,
	workspace string,
	createdAt, updatedAt time.Time,
) *Agent {
	return &Agent{
		id:          id,
		name:        name,
		modelConfig: modelConfig,
		skills:      skills,
		workspace:   workspace,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// ID returns the agent's identity (aggregate root key).
func (a *Agent) ID() string {
	return a.id
}

// Name returns the agent's name.
func (a *Agent) Name() string {
	return a.name
}

// ModelConfig returns the agent's model configuration.
func (a *Agent) ModelConfig() valueobject.ModelConfig {
	return a.modelConfig
}

// Skills returns the agent's skill list.
func (a *Agent) Skills() []Skill {
	// Return a copy to protect invariants.
	skills := make([]Skill, len(a.skills))
	copy(skills, a.skills)
	return skills
}

// AddSkill adds a skill (domain behavior).
func (a *Agent) AddSkill(skill Skill) error {
	for _, s := range a.skills {
		if s.ID() == skill.ID() {
			return ErrSkillAlreadyExists
		}
	}

	a.skills = append(a.skills, skill)
	a.updatedAt = time.Now()
	return nil
}

// RemoveSkill removes a skill (domain behavior).
func (a *Agent) RemoveSkill(skillID string) error {
	for i, skill := range a.skills {
		if skill.ID() == skillID {
			a.skills = append(a.skills[:i], a.skills[i+1:]...)
			a.updatedAt = time.Now()
			return nil
		}
	}
	return ErrSkillNotFound
}

// UpdateModelConfig updates the agent's model configuration (domain behavior).
func (a *Agent) UpdateModelConfig(config valueobject.ModelConfig) {
	a.modelConfig = config
	a.updatedAt = time.Now()
}

// CanProcessMessage reports whether the agent can process a message (domain rule).
func (a *Agent) CanProcessMessage(msg *Message) bool {
	// An agent needs a valid model configured before it can process messages.
	if a.modelConfig.Model() == "" {
		return false
	}
	return true
}
