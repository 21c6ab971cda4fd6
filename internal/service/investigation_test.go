package service

import (
	"context"
	"testing"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(chronicles domain.ChronicleStore, agents ...domain.SpecialistAgent) *InvestigationService {
	deps := OrchestratorDeps{
		Agents:     agents,
		Validation: newTestEngine(survivingStrategies()...),
		Context:    NewContextBuilder(),
		Sources:    []string{"metrics", "logs"},
		Store:      chronicles,
	}
	return NewInvestigationService(deps, testConfig(), nil, zap.NewNop())
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func startInput() StartInput {
	return StartInput{Service: "checkout", Symptoms: []string{"p99 latency above 2s", " "}}
}

func TestInvestigationService_FullLifecycle(t *testing.T) {
	ctx := waitCtx(t)
	tenant := uuid.New()
	svc := newTestService(store.NewMemoryChronicleStore(), newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}}))

	c, err := svc.Start(ctx, tenant, startInput())
	require.NoError(t, err)
	assert.Equal(t, []string{"p99 latency above 2s"}, c.Symptoms)
	id := c.InvestigationID

	require.NoError(t, svc.Wait(ctx, tenant, id))
	status, err := svc.Status(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, ReportAwaitingDecision, status.Report)
	assert.Equal(t, domain.PhaseAwaitingHuman, status.Phase)
	require.NotNil(t, status.PendingDecision)

	ranked, err := svc.GetHypotheses(ctx, tenant, id)
	require.NoError(t, err)
	require.Len(t, ranked, 1)
	assert.True(t, ranked[0].Eligible)

	selected := ranked[0].Hypothesis.ID
	d, err := svc.SubmitDecision(ctx, tenant, id, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &selected, DeclaredConfidence: 0.8})
	require.NoError(t, err)
	assert.True(t, d.AgreesWithRecommendation)
	require.NoError(t, svc.Wait(ctx, tenant, id))

	c, err = svc.GetChronicle(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseMitigating, c.Phase)

	_, err = svc.SubmitDecision(ctx, tenant, id, domain.DecisionInput{Kind: domain.DecisionResolved, DeclaredConfidence: 1})
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx, tenant, id))

	status, err = svc.Status(ctx, tenant, id)
	require.NoError(t, err)
	assert.Equal(t, ReportCompleted, status.Report)
	assert.Equal(t, domain.OutcomeResolved, status.Outcome)

	_, err = svc.SubmitDecision(ctx, tenant, id, domain.DecisionInput{Kind: domain.DecisionAbort})
	assert.ErrorIs(t, err, ErrNotAwaitingDecision)

	summaries, err := svc.List(ctx, tenant, 0)
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, id, summaries[0].InvestigationID)
}

func TestInvestigationService_StartValidation(t *testing.T) {
	svc := newTestService(store.NewMemoryChronicleStore(), newScriptedAgent("database"))
	negative := -1.0

	tests := []struct {
		name  string
		in    StartInput
		field string
	}{
		{"missing service", StartInput{Symptoms: []string{"slow"}}, "service"},
		{"blank symptoms", StartInput{Service: "checkout", Symptoms: []string{"", "  "}}, "symptoms"},
		{"bad budget", StartInput{Service: "checkout", Symptoms: []string{"slow"}, Overrides: ConfigOverrides{Budget: &negative}}, "budget"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(context.Background(), uuid.New(), tt.in)
			var ve *domain.ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestInvestigationService_StartRejectsAgentBudgetAboveInvestigationBudget(t *testing.T) {
	greedy := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	greedy.settings.Budget = 30
	chronicles := store.NewMemoryChronicleStore()
	svc := newTestService(chronicles, greedy)

	budget := 20.0
	in := startInput()
	in.Overrides.Budget = &budget
	_, err := svc.Start(context.Background(), uuid.New(), in)

	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "agents.database.budget", ve.Field)
	assert.Zero(t, chronicles.SaveCount())
	assert.Zero(t, greedy.ObserveCalls())
}

func TestInvestigationService_TenantIsolation(t *testing.T) {
	ctx := waitCtx(t)
	owner := uuid.New()
	svc := newTestService(store.NewMemoryChronicleStore(), newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}}))

	c, err := svc.Start(ctx, owner, startInput())
	require.NoError(t, err)
	require.NoError(t, svc.Wait(ctx, owner, c.InvestigationID))

	_, err = svc.GetChronicle(ctx, uuid.New(), c.InvestigationID)
	assert.ErrorIs(t, err, ErrInvestigationNotFound)

	_, err = svc.SubmitDecision(ctx, uuid.New(), c.InvestigationID, domain.DecisionInput{Kind: domain.DecisionAbort})
	assert.ErrorIs(t, err, ErrInvestigationNotFound)

	_, err = svc.Status(ctx, owner, uuid.New())
	assert.ErrorIs(t, err, ErrInvestigationNotFound)
}

func TestInvestigationService_RehydratesFromStore(t *testing.T) {
	ctx := waitCtx(t)
	tenant := uuid.New()
	chronicles := store.NewMemoryChronicleStore()
	agent := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})

	first := newTestService(chronicles, agent)
	c, err := first.Start(ctx, tenant, startInput())
	require.NoError(t, err)
	require.NoError(t, first.Wait(ctx, tenant, c.InvestigationID))

	// a fresh process sees the pending decision and can complete it
	second := newTestService(chronicles, agent)
	ranked, err := second.GetHypotheses(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	require.Len(t, ranked, 1)

	selected := ranked[0].Hypothesis.ID
	_, err = second.SubmitDecision(ctx, tenant, c.InvestigationID, domain.DecisionInput{Kind: domain.DecisionSelect, HypothesisID: &selected, DeclaredConfidence: 0.8})
	require.NoError(t, err)
	require.NoError(t, second.Wait(ctx, tenant, c.InvestigationID))

	status, err := second.Status(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseMitigating, status.Phase)
}

func TestInvestigationService_BusyAndStop(t *testing.T) {
	ctx := waitCtx(t)
	tenant := uuid.New()
	slow := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	slow.delay = 10 * time.Second
	svc := newTestService(store.NewMemoryChronicleStore(), slow)

	c, err := svc.Start(ctx, tenant, startInput())
	require.NoError(t, err)

	_, err = svc.SubmitDecision(ctx, tenant, c.InvestigationID, domain.DecisionInput{Kind: domain.DecisionAbort})
	assert.ErrorIs(t, err, ErrInvestigationBusy)

	status, err := svc.Status(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	assert.Equal(t, ReportInProgress, status.Report)
	assert.True(t, status.Running)

	require.NoError(t, svc.Stop(ctx, tenant, c.InvestigationID))

	status, err = svc.Status(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	assert.Equal(t, ReportFailed, status.Report)
	assert.Equal(t, ErrStopped.Error(), status.FailureReason)

	// stopping a terminal investigation is a no-op
	require.NoError(t, svc.Stop(ctx, tenant, c.InvestigationID))
}

func TestInvestigationService_ShutdownLeavesInvestigationResumable(t *testing.T) {
	ctx := waitCtx(t)
	tenant := uuid.New()
	chronicles := store.NewMemoryChronicleStore()

	slow := newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}})
	slow.delay = 10 * time.Second
	svc := newTestService(chronicles, slow)
	c, err := svc.Start(ctx, tenant, startInput())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return slow.ObserveCalls() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, svc.Shutdown(ctx))

	stored, err := chronicles.Load(ctx, c.InvestigationID, tenant)
	require.NoError(t, err)
	assert.False(t, stored.Phase.IsTerminal())

	restarted := newTestService(chronicles, newScriptedAgent("database", []proposal{{"Connection pool exhaustion", 0.7}}))
	_, err = restarted.GetChronicle(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	require.NoError(t, restarted.Wait(ctx, tenant, c.InvestigationID))

	status, err := restarted.Status(ctx, tenant, c.InvestigationID)
	require.NoError(t, err)
	assert.Equal(t, ReportAwaitingDecision, status.Report)
}

func TestConfigOverrides_Apply(t *testing.T) {
	budget, timeout, rounds := 20.0, 1.5, 5
	cfg := ConfigOverrides{Budget: &budget, AgentTimeoutSeconds: &timeout, MaxRounds: &rounds}.Apply(domain.DefaultInvestigationConfig())

	assert.Equal(t, 20.0, cfg.Budget)
	assert.Equal(t, 1500*time.Millisecond, cfg.AgentTimeout)
	assert.Equal(t, 5, cfg.MaxRounds)
	assert.Equal(t, domain.DefaultAgentBudget, cfg.AgentBudget)
}
