package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/llm"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

var (
	ErrDuplicateStrategy = errors.New("strategy already registered")
	ErrNoApplicableCheck = errors.New("no applicable domain check")
)

// RedisproofBoost is added to the priority of a strategy that already
// disproved a near-duplicate statement, so a repeat is re-disproved cheaply.
const RedisproofBoost = 1.0

// StrategyRegistry holds named disproof strategies. It is populated at startup
// and read concurrently afterwards.
type StrategyRegistry struct {
	mu                  sync.RWMutex
	strategies          map[string]domain.DisproofStrategy
	SimilarityThreshold float64
}

func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		strategies:          make(map[string]domain.DisproofStrategy),
		SimilarityThreshold: DefaultSimilarityThreshold,
	}
}

func (r *StrategyRegistry) Register(s domain.DisproofStrategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.strategies[s.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateStrategy, s.Name())
	}
	r.strategies[s.Name()] = s
	return nil
}

func (r *StrategyRegistry) Get(name string) (domain.DisproofStrategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// All returns every registered strategy ordered by name.
func (r *StrategyRegistry) All() []domain.DisproofStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.DisproofStrategy, 0, len(r.strategies))
	for _, s := range r.strategies {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// BuildRegistry registers the generic strategies followed by every agent's
// domain checks.
func BuildRegistry(source domain.DataSource, reasoner domain.ReasoningClient, agents []domain.SpecialistAgent) (*StrategyRegistry, error) {
	r := NewStrategyRegistry()
	for _, spec := range GenericStrategySpecs() {
		s, err := NewReasonedStrategy(spec, source, reasoner)
		if err != nil {
			return nil, err
		}
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	for _, a := range agents {
		for _, s := range a.DomainStrategies() {
			if err := r.Register(s); err != nil {
				return nil, fmt.Errorf("agent %s: %w", a.Name(), err)
			}
		}
	}
	return r, nil
}

// PlannedStrategy is one feasible candidate test for a hypothesis.
type PlannedStrategy struct {
	Strategy domain.DisproofStrategy
	Priority float64
	Boosted  bool
}

// Plan returns the feasible, not yet attempted strategies for h ordered by
// priority (highest first, then by name).
func (r *StrategyRegistry) Plan(h *domain.Hypothesis, available []string, disproven []domain.DisprovenHypothesis) []PlannedStrategy {
	redisprovers := map[string]bool{}
	for _, d := range disproven {
		if d.DisprovedBy == nil || d.Hypothesis.ID == h.ID {
			continue
		}
		if Jaccard(h.Statement, d.Hypothesis.Statement) >= r.SimilarityThreshold {
			redisprovers[d.DisprovedBy.Strategy] = true
		}
	}

	var plan []PlannedStrategy
	for _, s := range r.All() {
		if h.Attempted(s.Name()) || !sourcesAvailable(s.RequiredSources(), available) {
			continue
		}
		p := s.Priority(h)
		if p <= 0 {
			continue
		}
		ps := PlannedStrategy{Strategy: s, Priority: p}
		if redisprovers[s.Name()] {
			ps.Priority += RedisproofBoost
			ps.Boosted = true
		}
		plan = append(plan, ps)
	}
	sort.SliceStable(plan, func(i, j int) bool {
		if plan[i].Priority != plan[j].Priority {
			return plan[i].Priority > plan[j].Priority
		}
		return plan[i].Strategy.Name() < plan[j].Strategy.Name()
	})
	return plan
}

func sourcesAvailable(required, available []string) bool {
	for _, req := range required {
		found := false
		for _, a := range available {
			if a == req {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ProbeFunc decides whether a strategy applies to a hypothesis and how urgently.
type ProbeFunc func(h *domain.Hypothesis) float64

// ReasonedStrategy runs an optional data-source probe and asks the reasoning
// service whether the result contradicts the hypothesis.
type ReasonedStrategy struct {
	name     string
	category domain.StrategyCategory
	agent    string
	question string
	probe    *domain.QueryTemplate
	priority ProbeFunc
	source   domain.DataSource
	reasoner domain.ReasoningClient
	schema   *jsonschema.Schema
	now      func() time.Time
}

var _ domain.DisproofStrategy = (*ReasonedStrategy)(nil)

// StrategySpec describes a ReasonedStrategy.
type StrategySpec struct {
	Name     string
	Category domain.StrategyCategory
	Agent    string
	Question string
	Probe    *domain.QueryTemplate
	Priority ProbeFunc
}

func NewReasonedStrategy(spec StrategySpec, source domain.DataSource, reasoner domain.ReasoningClient) (*ReasonedStrategy, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("strategy name is required")
	}
	if spec.Probe != nil && source == nil {
		return nil, fmt.Errorf("strategy %s probes %s but no data source is configured", spec.Name, spec.Probe.Source)
	}
	schema, err := llm.FalsificationVerdictSchema()
	if err != nil {
		return nil, err
	}
	priority := spec.Priority
	if priority == nil {
		priority = func(*domain.Hypothesis) float64 { return 0.5 }
	}
	return &ReasonedStrategy{
		name:     spec.Name,
		category: spec.Category,
		agent:    spec.Agent,
		question: spec.Question,
		probe:    spec.Probe,
		priority: priority,
		source:   source,
		reasoner: reasoner,
		schema:   schema,
		now:      time.Now,
	}, nil
}

func (s *ReasonedStrategy) Name() string { return s.name }

func (s *ReasonedStrategy) Category() domain.StrategyCategory { return s.category }

func (s *ReasonedStrategy) Priority(h *domain.Hypothesis) float64 { return s.priority(h) }

func (s *ReasonedStrategy) RequiredSources() []string {
	if s.probe == nil {
		return nil
	}
	return []string{s.probe.Source}
}

// Attempt returns the cost spent so far even when it fails.
func (s *ReasonedStrategy) Attempt(ctx context.Context, h *domain.Hypothesis, sc domain.StrategyContext) (domain.DisproofAttempt, error) {
	attempt := domain.DisproofAttempt{
		ID:       uuid.New(),
		Strategy: s.name,
		Category: s.category,
		Agent:    s.agent,
	}

	var probe *domain.QueryResult
	if s.probe != nil {
		res, err := s.source.Query(ctx, domain.DomainQuery{
			Source:  s.probe.Source,
			Service: sc.Service,
			Expr:    expandTemplate(s.probe.Expr, h, sc),
			Start:   sc.WindowStart,
			End:     sc.WindowEnd,
		})
		if err != nil {
			return attempt, fmt.Errorf("%s probe: %w", s.name, err)
		}
		attempt.Cost += res.Cost
		probe = res
	}

	req := llm.FalsificationRequest(llm.FalsificationPromptInput{
		Service:      sc.Service,
		Hypothesis:   h,
		Strategy:     s.name,
		Question:     s.question,
		Category:     s.category,
		Observations: sc.Observations,
		Probe:        probe,
	})
	verdict, resp, err := llm.Structured[llm.FalsificationVerdict](ctx, s.reasoner, req, s.schema)
	if resp != nil {
		attempt.Cost += resp.Cost
	}
	if err != nil {
		return attempt, fmt.Errorf("%s verdict: %w", s.name, err)
	}
	if strings.TrimSpace(verdict.Reasoning) == "" {
		return attempt, &domain.SchemaViolationError{Schema: llm.SchemaFalsificationVerdict, Err: errors.New("empty reasoning")}
	}

	attempt.ExpectedIfTrue = verdict.ExpectedIfTrue
	attempt.ObservedOutcome = verdict.ObservedOutcome
	attempt.Disproven = verdict.Disproven
	attempt.Reasoning = verdict.Reasoning
	attempt.Lessons = verdict.Lessons
	attempt.AttemptedAt = s.now().UTC()

	quality := domain.EvidenceQuality(verdict.Quality)
	if probe == nil || probe.Empty {
		quality = domain.QualityCircumstantial
	}
	summary := verdict.ObservedOutcome
	if summary == "" && probe != nil {
		summary = probe.Summary
	}
	addedBy := s.agent
	if addedBy == "" {
		addedBy = s.name
	}
	ev := domain.NewEvidence(summary, quality, !verdict.Disproven, addedBy)
	attempt.Evidence = &ev

	return attempt, nil
}

func expandTemplate(expr string, h *domain.Hypothesis, sc domain.StrategyContext) string {
	return strings.NewReplacer(
		"{service}", sc.Service,
		"{systems}", strings.Join(h.AffectedSystems, ","),
	).Replace(expr)
}

// Generic strategy names.
const (
	StrategyTemporal    = "temporal_contradiction"
	StrategyMetric      = "metric_contradiction"
	StrategyScope       = "scope_mismatch"
	StrategyAlternative = "alternative_explanation"
)

// GenericStrategySpecs are the strategies applicable to any hypothesis.
func GenericStrategySpecs() []StrategySpec {
	return []StrategySpec{
		{
			Name:     StrategyTemporal,
			Category: domain.CategoryTemporal,
			Question: "Does the timing align? If the hypothesis were true, its cause must start at or before symptom onset.",
			Probe:    &domain.QueryTemplate{Source: "events", Expr: `changes{service="{service}",systems="{systems}"}`},
			Priority: func(*domain.Hypothesis) float64 { return 0.8 },
		},
		{
			Name:     StrategyMetric,
			Category: domain.CategoryMetric,
			Question: "Do adjacent metrics disagree? If the hypothesis were true, neighbouring signals would move with it.",
			Probe:    &domain.QueryTemplate{Source: "metrics", Expr: `adjacent{service="{service}",systems="{systems}"}`},
			Priority: func(*domain.Hypothesis) float64 { return 0.7 },
		},
		{
			Name:     StrategyScope,
			Category: domain.CategoryScope,
			Question: "Does the affected-system scope match? Every symptomatic component must depend on the claimed affected systems.",
			Probe:    &domain.QueryTemplate{Source: "traces", Expr: `dependencies{service="{service}"}`},
			Priority: func(h *domain.Hypothesis) float64 {
				if len(h.AffectedSystems) == 0 {
					return 0
				}
				return 0.6
			},
		},
		{
			Name:     StrategyAlternative,
			Category: domain.CategoryAlternative,
			Question: "Is there a simpler alternative explanation that accounts for all the symptoms better than this hypothesis?",
			Probe:    &domain.QueryTemplate{Source: "logs", Expr: `errors{service="{service}"}`},
			Priority: func(*domain.Hypothesis) float64 { return 0.4 },
		},
	}
}

// CheckPriority restricts a domain check to hypotheses mentioning one of its keywords.
func CheckPriority(check domain.CheckTemplate) ProbeFunc {
	base := check.Priority
	if base <= 0 {
		base = 0.9
	}
	return func(h *domain.Hypothesis) float64 {
		if len(check.Keywords) == 0 {
			return base
		}
		stmt := strings.ToLower(h.Statement + " " + strings.Join(h.AffectedSystems, " "))
		for _, kw := range check.Keywords {
			if strings.Contains(stmt, strings.ToLower(kw)) {
				return base
			}
		}
		return 0
	}
}
