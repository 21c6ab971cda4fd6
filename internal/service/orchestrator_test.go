package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/embedding"
	"github.com/Harshitk-cp/inquest/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func survivingStrategies() []domain.DisproofStrategy {
	return []domain.DisproofStrategy{
		newFakeStrategy("metric", 0.7),
		newFakeStrategy("temporal", 0.8),
		newFakeStrategy("alternative", 0.4),
	}
}

func newTestOrchestrator(c *domain.Chronicle, engine *ValidationEngine, agents ...domain.SpecialistAgent) (*Orchestrator, *store.MemoryChronicleStore) {
	chronicles := store.NewMemoryChronicleStore()
	o := NewOrchestrator(c, OrchestratorDeps{
		Agents:     agents,
		Validation: engine,
		Context:    NewContextBuilder(),
		Sources:    []string{"metrics", "logs"},
		Store:      chronicles,
		Logger:     zap.NewNop(),
	})
	return o, chronicles
}

func decide(t *testing.T, o *Orchestrator, in domain.DecisionInput) {
	t.Helper()
	_, err := o.ApplyDecision(context.Background(), in)
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background()))
}

func topHypothesis(t *testing.T, o *Orchestrator) *domain.Hypothesis {
	t.Helper()
	ranked := o.Gate().Rank(o.Chronicle())
	require.NotEmpty(t, ranked)
	return ranked[0].Hypothesis
}

func TestOrchestrator_BudgetCheckedAfterEveryAgent(t *testing.T) {
	cfg := testConfig()
	cfg.Budget = 10
	cfg.AgentBudget = 5

	var agents []domain.SpecialistAgent
	var scripted []*scriptedAgent
	for _, name := range []string{"database", "network", "application", "infrastructure"} {
		a := newScriptedAgent(name, []proposal{{"cause in " + name, 0.5}})
		a.observeCost = 4
		agents = append(agents, a)
		scripted = append(scripted, a)
	}

	c := newTestChronicle(cfg)
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agents...)

	err := o.Run(context.Background())

	var be *domain.BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.ErrorIs(t, err, domain.ErrBudgetExceeded)
	assert.Equal(t, 10.0, be.Limit)
	assert.Equal(t, 12.0, c.TotalCost)
	assert.Len(t, c.EventsOfType(domain.EventObservation), 3)
	assert.Equal(t, 0, scripted[3].ObserveCalls())
	assert.Equal(t, domain.PhaseFailed, c.Phase)
	assert.Equal(t, domain.OutcomeFailed, c.Outcome)
	assert.Contains(t, c.FailureReason, "budget")
}

func TestOrchestrator_HappyPathToResolved(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(testConfig())
	o, chronicles := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)

	pending := c.PendingDecision()
	require.NotNil(t, pending)
	assert.Equal(t, domain.DecisionSelect, pending.Recommendation.Kind)

	h := topHypothesis(t, o)
	assert.Equal(t, 3, h.SurvivedAttempts())
	decide(t, o, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &h.ID, DeclaredConfidence: 0.8, Reasoning: "matches pool graphs"})

	assert.Equal(t, domain.PhaseMitigating, c.Phase)
	assert.Equal(t, domain.HypothesisValidated, h.Status)
	assert.True(t, c.Decisions[0].AgreesWithRecommendation)

	decide(t, o, domain.DecisionInput{Kind: domain.DecisionResolved, DeclaredConfidence: 1})

	assert.Equal(t, domain.PhaseResolved, c.Phase)
	assert.Equal(t, domain.OutcomeResolved, c.Outcome)
	assert.Len(t, c.EventsOfType(domain.EventHumanDecision), 2)
	assert.Positive(t, chronicles.SaveCount())

	stored, err := chronicles.Load(context.Background(), c.InvestigationID, c.TenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResolved, stored.Phase)
	assert.Equal(t, len(c.Events), len(stored.Events))

	for i, e := range c.Events {
		assert.Equal(t, i+1, e.Sequence)
	}
}

func TestOrchestrator_DisproofFeedsNextRound(t *testing.T) {
	agent := newScriptedAgent("network",
		[]proposal{{"DNS resolution failures", 0.6}},
		[]proposal{{"Connection pool exhaustion", 0.6}},
	)
	metric := newFakeStrategy("metric", 0.9, outcome{
		disproven: true,
		quality:   domain.QualityDirect,
		lessons:   []string{"resolver latency stayed under 5ms"},
	})
	engine := newTestEngine(metric, newFakeStrategy("alternative", 0.4))

	lessons := NewLessonService(store.NewMemoryLessonStore(), embedding.NewMockClient(), zap.NewNop())
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, engine, agent)
	o.deps.Lessons = lessons

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
	assert.Equal(t, 2, c.Round)
	require.Len(t, c.Disproven, 1)
	assert.Equal(t, "DNS resolution failures", c.Disproven[0].Hypothesis.Statement)
	assert.Equal(t, []string{"resolver latency stayed under 5ms"}, c.Disproven[0].LessonsLearned)
	assert.Contains(t, c.Constraints, "resolver latency stayed under 5ms")

	contexts := agent.Contexts()
	require.Len(t, contexts, 2)
	assert.Contains(t, contexts[0].ConstraintContext, "## Already disproven (do not propose these again)\nnone")
	assert.Contains(t, contexts[1].ConstraintContext, `"DNS resolution failures"`)
	assert.Contains(t, contexts[1].ConstraintContext, "resolver latency stayed under 5ms")

	// the disproven statement can never be presented again
	for _, r := range o.Gate().Rank(c) {
		assert.NotEqual(t, "DNS resolution failures", r.Hypothesis.Statement)
	}

	similar, err := lessons.Similar(context.Background(), c.TenantID, "DNS resolution failures", 3)
	require.NoError(t, err)
	require.NotEmpty(t, similar)
	assert.Equal(t, "DNS resolution failures", similar[0].Statement)
}

func TestOrchestrator_TimeoutCompletesWithReducedEvidence(t *testing.T) {
	fast := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	slow := newScriptedAgent("network")
	slow.settings.Timeout = 20 * time.Millisecond
	slow.delay = time.Second

	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), fast, slow)

	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, domain.PhaseAwaitingHuman, c.Phase)

	var timedOut bool
	for _, e := range c.EventsOfType(domain.EventObservation) {
		if e.Actor == "network" && strings.Contains(e.Description, "timed out") {
			timedOut = true
		}
	}
	assert.True(t, timedOut)
	assert.True(t, c.HasWarnings())

	h := topHypothesis(t, o)
	decide(t, o, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &h.ID, DeclaredConfidence: 0.8})
	decide(t, o, domain.DecisionInput{Kind: domain.DecisionResolved, DeclaredConfidence: 0.9})

	assert.Equal(t, domain.PhaseResolved, c.Phase)
	assert.Equal(t, domain.OutcomeResolvedReducedEvidence, c.Outcome)
}

func TestOrchestrator_GenerationRetry(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	agent.genErrs = []error{&domain.SchemaViolationError{Schema: "hypothesis_batch", Err: errors.New("too many items")}}
	agent.genCost = 0.5

	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	require.NoError(t, o.Run(context.Background()))

	assert.Len(t, c.EventsOfType(domain.EventReasoning), 2)
	assert.Empty(t, c.EventsOfType(domain.EventWarning))
	assert.Equal(t, 1.0, c.AgentCosts["database"])
	assert.Len(t, c.Hypotheses, 1)
}

func TestOrchestrator_GenerationAbstention(t *testing.T) {
	good := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	broken := newScriptedAgent("network", []proposal{{"never used", 0.5}})
	broken.genErrs = []error{errors.New("malformed"), errors.New("malformed again")}

	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), good, broken)

	require.NoError(t, o.Run(context.Background()))

	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
	warnings := c.EventsOfType(domain.EventWarning)
	require.Len(t, warnings, 1)
	assert.Equal(t, "network", warnings[0].Actor)
	assert.Contains(t, warnings[0].Description, "malformed again")
	assert.Len(t, c.Hypotheses, 1)
}

func TestOrchestrator_NoStrategiesNeverValidates(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.95}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(), agent)

	require.NoError(t, o.Run(context.Background()))

	h := c.Hypotheses[0]
	assert.Equal(t, domain.HypothesisRequiresHuman, h.Status)
	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
	assert.Equal(t, domain.DecisionInvestigateFurther, c.PendingDecision().Recommendation.Kind)
	assert.Len(t, c.EventsOfType(domain.EventHypothesisEscalated), 1)

	// a human may still choose it; it goes to mitigation without being validated
	decide(t, o, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &h.ID, DeclaredConfidence: 0.7})
	assert.Equal(t, domain.PhaseMitigating, c.Phase)
	assert.Equal(t, domain.HypothesisRequiresHuman, h.Status)
	assert.Empty(t, c.HypothesesWithStatus(domain.HypothesisValidated))
}

func TestOrchestrator_InconclusiveReturnsToHuman(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)
	require.NoError(t, o.Run(context.Background()))

	decide(t, o, domain.DecisionInput{
		Kind:               domain.DecisionPropose,
		Statement:          "Lock contention on the orders table",
		DeclaredConfidence: 0.2,
	})

	var proposed *domain.Hypothesis
	for _, h := range c.Hypotheses {
		if h.GeneratedBy == domain.GeneratedByHuman {
			proposed = h
		}
	}
	require.NotNil(t, proposed)
	assert.Equal(t, 3, proposed.SurvivedAttempts())
	assert.Equal(t, domain.HypothesisRequiresHuman, proposed.Status)
	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
	assert.Nil(t, c.Selected)
	require.NotNil(t, c.PendingDecision())
	assert.Len(t, c.Decisions, 2)

	// escalated for human judgement, so it is offered again
	var offered bool
	for _, opt := range c.PendingDecision().Options {
		if opt.HypothesisID != nil && *opt.HypothesisID == proposed.ID {
			offered = true
		}
	}
	assert.True(t, offered)
}

func TestOrchestrator_BelowThresholdSurvivorIsNotOffered(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{
		{"Connection pool exhaustion", 0.7},
		{"Lock contention", 0.2},
	})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	require.NoError(t, o.Run(context.Background()))
	require.Equal(t, domain.PhaseAwaitingHuman, c.Phase)

	var weak *domain.Hypothesis
	for _, h := range c.Hypotheses {
		if h.Statement == "Lock contention" {
			weak = h
		}
	}
	require.NotNil(t, weak)
	assert.Equal(t, domain.HypothesisActive, weak.Status)
	assert.Equal(t, 3, weak.SurvivedAttempts())
	assert.Less(t, weak.CurrentConfidence, c.Config.MinConfidence)

	for _, opt := range c.PendingDecision().Options {
		assert.NotEqual(t, "Lock contention", opt.Label)
	}
	for _, r := range o.Gate().Rank(c) {
		assert.NotEqual(t, weak.ID, r.Hypothesis.ID)
	}

	_, err := o.ApplyDecision(context.Background(), domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &weak.ID, DeclaredConfidence: 0.5})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
}

func TestOrchestrator_NoReviewableHypothesisFailsAfterLastRound(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRounds = 2
	agent := newScriptedAgent("database", []proposal{{"Lock contention", 0.2}})
	c := newTestChronicle(cfg)
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	err := o.Run(context.Background())

	assert.ErrorIs(t, err, ErrNoViableHypotheses)
	assert.Equal(t, 2, c.Round)
	assert.Equal(t, domain.PhaseFailed, c.Phase)
	assert.Empty(t, c.Decisions)
	assert.Len(t, c.Hypotheses, 2)
}

func TestOrchestrator_DisproofAttemptCapIsPerHypothesis(t *testing.T) {
	strategies := []domain.DisproofStrategy{
		newFakeStrategy("a", 0.9),
		newFakeStrategy("b", 0.8),
		newFakeStrategy("c", 0.7),
		newFakeStrategy("d", 0.6),
		newFakeStrategy("e", 0.5),
	}
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(strategies...), agent)

	require.NoError(t, o.Run(context.Background()))
	h := topHypothesis(t, o)
	require.Len(t, h.DisproofAttempts, c.Config.MaxDisproofAttempts)

	decide(t, o, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &h.ID, DeclaredConfidence: 0.8})

	assert.Equal(t, domain.PhaseMitigating, c.Phase)
	assert.Equal(t, domain.HypothesisValidated, h.Status)
	assert.Len(t, h.DisproofAttempts, c.Config.MaxDisproofAttempts)
	assert.Len(t, c.EventsOfType(domain.EventDisproofAttempt), c.Config.MaxDisproofAttempts)
	assert.Equal(t, 0, strategies[3].(*fakeStrategy).Calls())
	assert.Equal(t, 0, strategies[4].(*fakeStrategy).Calls())
}

func TestCallWithTimeout_LateResultIsDiscarded(t *testing.T) {
	tests := []struct {
		name string
		err  func(ctx context.Context) error
	}{
		{"agent reports the deadline", func(ctx context.Context) error { return ctx.Err() }},
		{"agent swallows the deadline", func(context.Context) error { return nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := callWithTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) ([]string, error) {
				<-ctx.Done()
				return []string{"partial"}, tt.err(ctx)
			})
			assert.ErrorIs(t, err, errAgentTimeout)
			assert.Nil(t, v)
		})
	}

	v, err := callWithTimeout(context.Background(), time.Second, func(context.Context) ([]string, error) {
		return []string{"complete"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, v)
}

func TestOrchestrator_HumanProposal(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Lock contention", 0.7}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)
	require.NoError(t, o.Run(context.Background()))

	decide(t, o, domain.DecisionInput{
		Kind:               domain.DecisionPropose,
		Statement:          "Expired TLS certificate on the ingress",
		AffectedSystems:    []string{"ingress"},
		Reasoning:          "handshake errors in the edge logs",
		DeclaredConfidence: 0.6,
	})

	var proposed *domain.Hypothesis
	for _, h := range c.Hypotheses {
		if h.GeneratedBy == domain.GeneratedByHuman {
			proposed = h
		}
	}
	require.NotNil(t, proposed)
	assert.Equal(t, "handshake errors in the edge logs", proposed.Rationale)
	assert.Equal(t, domain.HypothesisValidated, proposed.Status)
	assert.Equal(t, domain.PhaseMitigating, c.Phase)
	assert.False(t, c.Decisions[0].AgreesWithRecommendation)
}

func TestOrchestrator_Abort(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Lock contention", 0.7}})
	c := newTestChronicle(testConfig())
	o, chronicles := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)
	require.NoError(t, o.Run(context.Background()))

	decide(t, o, domain.DecisionInput{Kind: domain.DecisionAbort, DeclaredConfidence: 0})

	assert.Equal(t, domain.PhaseFailed, c.Phase)
	assert.Equal(t, "aborted by human", c.FailureReason)
	stored, err := chronicles.Load(context.Background(), c.InvestigationID, c.TenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFailed, stored.Phase)
}

func TestOrchestrator_DecisionErrors(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Lock contention", 0.7}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	_, err := o.ApplyDecision(context.Background(), domain.DecisionInput{Kind: domain.DecisionAbort})
	assert.ErrorIs(t, err, ErrNotAwaitingDecision)

	require.NoError(t, o.Run(context.Background()))

	unknown := c.InvestigationID
	_, err = o.ApplyDecision(context.Background(), domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &unknown})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = o.ApplyDecision(context.Background(), domain.DecisionInput{Kind: domain.DecisionResolved})
	assert.ErrorAs(t, err, &ve, "resolved is not offered before mitigation")
	assert.Equal(t, domain.PhaseAwaitingHuman, c.Phase)
}

func TestOrchestrator_PersistenceFailureFails(t *testing.T) {
	chronicles := new(mockChronicleStore)
	chronicles.On("Save", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	c := newTestChronicle(testConfig())
	o := NewOrchestrator(c, OrchestratorDeps{
		Agents:     []domain.SpecialistAgent{newScriptedAgent("database", []proposal{{"x", 0.5}})},
		Validation: newTestEngine(),
		Context:    NewContextBuilder(),
		Store:      chronicles,
		Logger:     zap.NewNop(),
	})

	err := o.Run(context.Background())

	var pe *domain.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, c.InvestigationID, pe.InvestigationID)
	assert.Equal(t, domain.PhaseFailed, c.Phase)
	chronicles.AssertCalled(t, "Save", mock.Anything, c)
}

func steppingClock(step time.Duration) (func() time.Time, func(time.Duration)) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return func() time.Time {
			now = now.Add(step)
			return now
		}, func(d time.Duration) {
			now = now.Add(d)
		}
}

func TestOrchestrator_DeadlineCountsMachineTime(t *testing.T) {
	cfg := testConfig()
	cfg.Deadline = 5 * time.Second

	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(cfg)
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)
	clock, _ := steppingClock(time.Second)
	o.now = clock

	err := o.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrDeadlineExceeded)
	assert.Equal(t, domain.PhaseFailed, c.Phase)
}

func TestOrchestrator_HumanWaitIsNotMachineTime(t *testing.T) {
	cfg := testConfig()
	cfg.Deadline = 10 * time.Minute

	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(cfg)
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)
	clock, advance := steppingClock(time.Millisecond)
	o.now = clock

	require.NoError(t, o.Run(context.Background()))
	before := c.MachineTime

	advance(time.Hour)
	h := topHypothesis(t, o)
	decide(t, o, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &h.ID, DeclaredConfidence: 0.8})

	assert.Equal(t, domain.PhaseMitigating, c.Phase)
	assert.Less(t, c.MachineTime-before, time.Second)
}

func TestOrchestrator_ShutdownSuspendsWithoutFailing(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(testConfig())
	o, chronicles := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrShuttingDown)
	err := o.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.PhaseTriggered, c.Phase)
	assert.Equal(t, 1, chronicles.SaveCount())
}

func TestOrchestrator_StopFailsWithCause(t *testing.T) {
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	c := newTestChronicle(testConfig())
	o, _ := newTestOrchestrator(c, newTestEngine(survivingStrategies()...), agent)

	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(ErrStopped)
	err := o.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, domain.PhaseFailed, c.Phase)
	assert.Equal(t, ErrStopped.Error(), c.FailureReason)
}

func TestAgentThreshold(t *testing.T) {
	cfg := testConfig()
	strict := newScriptedAgent("database")
	strict.settings.MinConfidence = 0.9
	lenient := newScriptedAgent("network")

	threshold := AgentThreshold([]domain.SpecialistAgent{strict, lenient}, cfg)

	assert.Equal(t, 0.9, threshold(domain.NewHypothesis("x", "database", 0.5, nil)))
	assert.Equal(t, cfg.MinConfidence, threshold(domain.NewHypothesis("x", "network", 0.5, nil)))
	assert.Equal(t, cfg.MinConfidence, threshold(domain.NewHypothesis("x", domain.GeneratedByHuman, 0.5, nil)))
}
