package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// StrategyCategory groups disproof strategies by the kind of contradiction they look for.
type StrategyCategory string

const (
	CategoryTemporal    StrategyCategory = "temporal"
	CategoryMetric      StrategyCategory = "metric"
	CategoryScope       StrategyCategory = "scope"
	CategoryAlternative StrategyCategory = "alternative"
	CategoryDomain      StrategyCategory = "domain"
)

func ValidStrategyCategory(c string) bool {
	switch StrategyCategory(c) {
	case CategoryTemporal, CategoryMetric, CategoryScope, CategoryAlternative, CategoryDomain:
		return true
	}
	return false
}

// ObservationContext is what an agent gets when asked to observe.
type ObservationContext struct {
	InvestigationID uuid.UUID
	Service         string
	Symptoms        []string
	Round           int
	WindowStart     time.Time
	WindowEnd       time.Time
	// Budget is the most the agent may spend on this call.
	Budget float64
}

// StrategyContext carries the investigation state a disproof strategy may consult.
type StrategyContext struct {
	InvestigationID  uuid.UUID
	Service          string
	Symptoms         []string
	Observations     []Observation
	AvailableSources []string
	WindowStart      time.Time
	WindowEnd        time.Time
}

// GenerationContext is what an agent gets when asked to propose hypotheses.
// ConstraintContext is the rendered summary of what the chronicle has ruled out.
type GenerationContext struct {
	InvestigationID   uuid.UUID
	Service           string
	Symptoms          []string
	Observations      []Observation
	ConstraintContext string
}

// DisproofStrategy is one named falsification test.
type DisproofStrategy interface {
	Name() string
	Category() StrategyCategory
	// RequiredSources lists the data sources the strategy queries. A strategy
	// is infeasible when any of them is unavailable.
	RequiredSources() []string
	// Priority orders candidate strategies for h. Zero or less means not applicable.
	Priority(h *Hypothesis) float64
	Attempt(ctx context.Context, h *Hypothesis, sc StrategyContext) (DisproofAttempt, error)
}

// SpecialistAgent is a domain-scoped observer, hypothesis generator and falsifier.
type SpecialistAgent interface {
	Name() string
	Domain() string
	Settings() AgentSettings
	// Observe returns whatever it managed to collect. Failed queries are
	// reported as absent observations, not errors.
	Observe(ctx context.Context, oc ObservationContext) ([]Observation, error)
	// GenerateHypotheses proposes 1-5 hypotheses and returns the cost of doing so.
	GenerateHypotheses(ctx context.Context, gc GenerationContext) ([]*Hypothesis, float64, error)
	AttemptFalsification(ctx context.Context, h *Hypothesis, sc StrategyContext) (DisproofAttempt, error)
	DomainStrategies() []DisproofStrategy
}

// QueryTemplate is a data-source query an agent runs while observing.
type QueryTemplate struct {
	Name        string `json:"name" yaml:"name"`
	Source      string `json:"source" yaml:"source"`
	Expr        string `json:"expr" yaml:"expr"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// CheckTemplate is a domain-specific falsification test supplied by an agent.
// Keywords restrict the check to hypotheses mentioning any of them.
type CheckTemplate struct {
	Name        string   `json:"name" yaml:"name"`
	Source      string   `json:"source" yaml:"source"`
	Expr        string   `json:"expr" yaml:"expr"`
	Description string   `json:"description" yaml:"description"`
	Keywords    []string `json:"keywords,omitempty" yaml:"keywords"`
	Priority    float64  `json:"priority,omitempty" yaml:"priority"`
}

// AgentDefinition is one roster entry.
type AgentDefinition struct {
	AgentSettings `yaml:",inline"`
	Queries       []QueryTemplate `json:"queries" yaml:"queries"`
	Checks        []CheckTemplate `json:"checks,omitempty" yaml:"checks"`
}

func (d AgentDefinition) Validate() error {
	if err := d.AgentSettings.Validate(); err != nil {
		return err
	}
	if len(d.Queries) == 0 {
		return &ValidationError{Field: "agent.queries", Message: d.Name + " has no queries"}
	}
	for _, q := range d.Queries {
		if q.Source == "" || q.Expr == "" {
			return &ValidationError{Field: "agent.queries", Message: d.Name + " has a query without source or expr"}
		}
	}
	for _, c := range d.Checks {
		if c.Name == "" || c.Source == "" {
			return &ValidationError{Field: "agent.checks", Message: d.Name + " has a check without name or source"}
		}
	}
	return nil
}
