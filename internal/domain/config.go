package domain

import (
	"fmt"
	"time"
)

const (
	DefaultInvestigationBudget = 50.0
	DefaultAgentBudget         = 15.0
	DefaultMinConfidence       = 0.65
	DefaultMaxDisproofAttempts = 3
	DefaultAgentTimeout        = 60 * time.Second
	DefaultDeadline            = 15 * time.Minute
	DefaultMaxRounds           = 3
	DefaultLookback            = time.Hour
)

// InvestigationConfig holds the externally configurable limits of one investigation.
type InvestigationConfig struct {
	Budget              float64       `json:"budget"`
	AgentBudget         float64       `json:"agent_budget"`
	MinConfidence       float64       `json:"min_confidence"`
	MaxDisproofAttempts int           `json:"max_disproof_attempts"`
	AgentTimeout        time.Duration `json:"agent_timeout"`
	Deadline            time.Duration `json:"deadline"`
	MaxRounds           int           `json:"max_rounds"`
	Lookback            time.Duration `json:"lookback"`
}

func DefaultInvestigationConfig() InvestigationConfig {
	return InvestigationConfig{
		Budget:              DefaultInvestigationBudget,
		AgentBudget:         DefaultAgentBudget,
		MinConfidence:       DefaultMinConfidence,
		MaxDisproofAttempts: DefaultMaxDisproofAttempts,
		AgentTimeout:        DefaultAgentTimeout,
		Deadline:            DefaultDeadline,
		MaxRounds:           DefaultMaxRounds,
		Lookback:            DefaultLookback,
	}
}

// Validate rejects configurations that cannot run. It is called at investigation start.
func (c InvestigationConfig) Validate() error {
	switch {
	case c.Budget <= 0:
		return &ValidationError{Field: "budget", Message: "must be positive"}
	case c.AgentBudget <= 0:
		return &ValidationError{Field: "agent_budget", Message: "must be positive"}
	case c.AgentBudget > c.Budget:
		return &ValidationError{Field: "agent_budget", Message: "cannot exceed the investigation budget"}
	case c.MinConfidence < 0 || c.MinConfidence > 1:
		return &ValidationError{Field: "min_confidence", Message: "must be between 0 and 1"}
	case c.MaxDisproofAttempts <= 0:
		return &ValidationError{Field: "max_disproof_attempts", Message: "must be positive"}
	case c.AgentTimeout <= 0:
		return &ValidationError{Field: "agent_timeout", Message: "must be positive"}
	case c.Deadline <= 0:
		return &ValidationError{Field: "deadline", Message: "must be positive"}
	case c.MaxRounds <= 0:
		return &ValidationError{Field: "max_rounds", Message: "must be positive"}
	case c.Lookback < 0:
		return &ValidationError{Field: "lookback", Message: "cannot be negative"}
	}
	return nil
}

// AgentSettings are the per-agent knobs from the roster.
type AgentSettings struct {
	Name          string        `json:"name" yaml:"name"`
	Domain        string        `json:"domain" yaml:"domain"`
	Budget        float64       `json:"budget" yaml:"budget"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	MinConfidence float64       `json:"min_confidence" yaml:"min_confidence"`
}

func (s AgentSettings) Validate() error {
	switch {
	case s.Name == "":
		return &ValidationError{Field: "agent.name", Message: "is required"}
	case s.Budget < 0:
		return &ValidationError{Field: "agent.budget", Message: "cannot be negative"}
	case s.Timeout < 0:
		return &ValidationError{Field: "agent.timeout", Message: "cannot be negative"}
	case s.MinConfidence < 0 || s.MinConfidence > 1:
		return &ValidationError{Field: "agent.min_confidence", Message: "must be between 0 and 1"}
	}
	return nil
}

// ValidateFor checks the agent's own ceilings against one investigation's limits.
func (s AgentSettings) ValidateFor(cfg InvestigationConfig) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if s.Budget > cfg.Budget {
		return &ValidationError{
			Field:   fmt.Sprintf("agents.%s.budget", s.Name),
			Message: fmt.Sprintf("%.2f exceeds the investigation budget %.2f", s.Budget, cfg.Budget),
		}
	}
	return nil
}

// EffectiveTimeout falls back to the investigation default when unset.
func (s AgentSettings) EffectiveTimeout(cfg InvestigationConfig) time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return cfg.AgentTimeout
}

func (s AgentSettings) EffectiveBudget(cfg InvestigationConfig) float64 {
	if s.Budget > 0 {
		return s.Budget
	}
	return cfg.AgentBudget
}

func (s AgentSettings) EffectiveMinConfidence(cfg InvestigationConfig) float64 {
	if s.MinConfidence > 0 {
		return s.MinConfidence
	}
	return cfg.MinConfidence
}
