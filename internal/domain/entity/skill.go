package entity

import "time"

// Skill is an agent capability entity.
type Skill struct {
	id          string
	name        string
	description string
	enabled     bool
	config      map[string]interface{}
	createdAt   time.Time
}

// NewSkill creates a new Skill.
func NewSkill(id, name, description string) (*Skill, error) {
	if id == "" {
		return nil, ErrInvalidSkillID
	}
	if name == "" {
		return nil, ErrInvalidSkillName
	}

	return &Skill{
		id:          id,
		name:        name,
		description: description,
		enabled:     true,
		config:      make(map[string]interface{}),
		createdAt:   time.Now(),
	}, nil
}

// ID returns the skill ID.
func (s *Skill) ID() string {
	return s.id
}

// Name returns the skill name.
func (s *Skill) Name() string {
	return s.name
}

// Description returns the skill description.
func (s *Skill) Description() string {
	return s.description
}

// IsEnabled reports whether the skill is enabled.
func (s *Skill) IsEnabled() bool {
	return s.enabled
}

// Enable enables the skill.
func (s *Skill) Enable() {
	s.enabled = true
}

// Disable disables the skill.
func (s *Skill) Disable() {
	s.enabled = false
}

// SetConfig sets a configuration value.
func (s *Skill) SetConfig(key string, value interface{}) {
	s.config[key] = value
}

// GetConfig retrieves a configuration value.
func (s *Skill) GetConfig(key string) (interface{}, bool) {
	val, ok := s.config[key]
	return val, ok
}
