package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"
)

type outcome struct {
	disproven bool
	err       error
	cost      float64
	quality   domain.EvidenceQuality
	lessons   []string
}

// fakeStrategy replays scripted outcomes; once they run out it survives.
type fakeStrategy struct {
	mu       sync.Mutex
	name     string
	category domain.StrategyCategory
	sources  []string
	priority float64
	outcomes []outcome
	calls    int
}

func newFakeStrategy(name string, priority float64, outcomes ...outcome) *fakeStrategy {
	return &fakeStrategy{name: name, category: domain.CategoryMetric, priority: priority, outcomes: outcomes}
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Category() domain.StrategyCategory { return s.category }

func (s *fakeStrategy) RequiredSources() []string { return s.sources }

func (s *fakeStrategy) Priority(*domain.Hypothesis) float64 { return s.priority }

func (s *fakeStrategy) Attempt(ctx context.Context, h *domain.Hypothesis, sc domain.StrategyContext) (domain.DisproofAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	var o outcome
	if len(s.outcomes) > 0 {
		o = s.outcomes[0]
		s.outcomes = s.outcomes[1:]
	}
	a := domain.DisproofAttempt{Strategy: s.name, Category: s.category, Cost: o.cost}
	if o.err != nil {
		return a, o.err
	}
	a.ExpectedIfTrue = "signal follows the symptom"
	a.Disproven = o.disproven
	a.ObservedOutcome = "signal flat"
	if !o.disproven {
		a.ObservedOutcome = "signal follows the symptom"
	}
	a.Reasoning = "compared expected and observed"
	a.Lessons = o.lessons
	if o.quality != "" {
		ev := domain.NewEvidence(a.ObservedOutcome, o.quality, !o.disproven, s.name)
		a.Evidence = &ev
	}
	return a, nil
}

func (s *fakeStrategy) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type proposal struct {
	statement  string
	confidence float64
}

// scriptedAgent is a SpecialistAgent with fixed costs and scripted hypotheses.
type scriptedAgent struct {
	mu          sync.Mutex
	settings    domain.AgentSettings
	observeCost float64
	observeErr  error
	delay       time.Duration
	rounds      [][]proposal
	genErrs     []error
	genCost     float64

	observeCalls  int
	generateCalls int
	contexts      []domain.GenerationContext
}

func newScriptedAgent(name string, rounds ...[]proposal) *scriptedAgent {
	return &scriptedAgent{settings: domain.AgentSettings{Name: name, Domain: name}, rounds: rounds}
}

func (a *scriptedAgent) Name() string { return a.settings.Name }

func (a *scriptedAgent) Domain() string { return a.settings.Domain }

func (a *scriptedAgent) Settings() domain.AgentSettings { return a.settings }

func (a *scriptedAgent) DomainStrategies() []domain.DisproofStrategy { return nil }

func (a *scriptedAgent) Observe(ctx context.Context, oc domain.ObservationContext) ([]domain.Observation, error) {
	a.mu.Lock()
	a.observeCalls++
	delay := a.delay
	a.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	obs := []domain.Observation{{
		ID:             uuid.New(),
		Agent:          a.settings.Name,
		Source:         "metrics",
		Interpretation: a.settings.Name + " saw elevated latency",
		Confidence:     0.9,
		Cost:           a.observeCost,
		Timestamp:      time.Now().UTC(),
	}}
	return obs, a.observeErr
}

func (a *scriptedAgent) GenerateHypotheses(ctx context.Context, gc domain.GenerationContext) ([]*domain.Hypothesis, float64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.generateCalls++
	a.contexts = append(a.contexts, gc)

	if len(a.genErrs) > 0 {
		err := a.genErrs[0]
		a.genErrs = a.genErrs[1:]
		if err != nil {
			return nil, a.genCost, err
		}
	}
	if len(a.rounds) == 0 {
		return nil, a.genCost, errors.New("nothing to propose")
	}
	batch := a.rounds[0]
	if len(a.rounds) > 1 {
		a.rounds = a.rounds[1:]
	}
	var out []*domain.Hypothesis
	for _, p := range batch {
		out = append(out, domain.NewHypothesis(p.statement, a.settings.Name, p.confidence, []string{"db"}))
	}
	return out, a.genCost, nil
}

func (a *scriptedAgent) AttemptFalsification(ctx context.Context, h *domain.Hypothesis, sc domain.StrategyContext) (domain.DisproofAttempt, error) {
	return domain.DisproofAttempt{}, ErrNoApplicableCheck
}

func (a *scriptedAgent) ObserveCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.observeCalls
}

func (a *scriptedAgent) Contexts() []domain.GenerationContext {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.GenerationContext(nil), a.contexts...)
}

type mockChronicleStore struct {
	mock.Mock
}

func (m *mockChronicleStore) Save(ctx context.Context, c *domain.Chronicle) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *mockChronicleStore) Load(ctx context.Context, investigationID uuid.UUID, tenantID uuid.UUID) (*domain.Chronicle, error) {
	args := m.Called(ctx, investigationID, tenantID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Chronicle), args.Error(1)
}

func (m *mockChronicleStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error) {
	args := m.Called(ctx, tenantID, limit)
	return args.Get(0).([]domain.ChronicleSummary), args.Error(1)
}

func newTestEngine(strategies ...domain.DisproofStrategy) *ValidationEngine {
	reg := NewStrategyRegistry()
	for _, s := range strategies {
		_ = reg.Register(s)
	}
	return NewValidationEngine(DefaultConfidenceModel(), reg, zap.NewNop())
}

func testConfig() domain.InvestigationConfig {
	cfg := domain.DefaultInvestigationConfig()
	cfg.AgentTimeout = 2 * time.Second
	cfg.Deadline = time.Minute
	return cfg
}

func newTestChronicle(cfg domain.InvestigationConfig) *domain.Chronicle {
	return domain.NewChronicle(uuid.New(), uuid.New(), "checkout", []string{"p99 latency above 2s"}, cfg)
}
