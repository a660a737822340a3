package entity

import "errors"

var (
	// Agent errors
	ErrInvalidAgentID      = errors.New("invalid agent id")
	ErrInvalidAgentName    = errors.New("invalid agent name")
	ErrSkillAlreadyExists  = errors.New("skill already exists")
	ErrSkillNotFound       = errors.New("skill not found")

	// Message errors
	ErrInvalidMessageID      = errors.New("invalid message id")
	ErrInvalidConversationID = errors.New("invalid conversation id")

	// Skill errors
	ErrInvalidSkillID   = errors.New("invalid skill id")
	ErrInvalidSkillName = errors.New("invalid skill name")

	// Conversation errors
	ErrInvalidChannelID = errors.New("invalid channel id")

	// Task / planner errors
	ErrInvalidTaskDescription = errors.New("task description must not be empty")
	ErrTaskOutOfOrder         = errors.New("task id out of order: ids must be contiguous starting at 1")
	ErrPrematureCompletion    = errors.New("cannot mark task complete: predecessor tasks are still incomplete")

	// Planning rule errors
	ErrInvalidRuleID       = errors.New("invalid planning rule id")
	ErrImmutableRule       = errors.New("cannot override an immutable seed rule")

	// Checkpoint errors
	ErrInvalidRunID = errors.New("invalid run id")
)
