package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func falsifyOpts(max int) FalsifyOptions {
	return FalsifyOptions{
		MaxAttempts: max,
		Context:     domain.StrategyContext{Service: "checkout"},
	}
}

func TestFalsify_DisproofIsDecisive(t *testing.T) {
	s := newFakeStrategy("metric", 0.7, outcome{disproven: true, quality: domain.QualityDirect, lessons: []string{"pool never saturated"}})
	engine := newTestEngine(s)

	h := domain.NewHypothesis("Connection pool exhaustion", "database", 0.8, []string{"db"})
	res, err := engine.Falsify(context.Background(), h, falsifyOpts(3))

	require.NoError(t, err)
	assert.True(t, res.Disproven)
	assert.Len(t, res.Attempts, 1)
	assert.Equal(t, domain.HypothesisDisproven, h.Status)
	assert.Equal(t, 0.0, h.CurrentConfidence)
	assert.Equal(t, 0.8, h.DisproofAttempts[0].ConfidenceBefore)
	assert.Equal(t, 0.0, h.DisproofAttempts[0].ConfidenceAfter)
	require.Len(t, h.Evidence, 1)
	assert.False(t, h.Evidence[0].Supports)
}

func TestFalsify_SurvivalAccumulatesConfidence(t *testing.T) {
	direct := outcome{quality: domain.QualityDirect}
	engine := newTestEngine(
		newFakeStrategy("a", 0.9, direct),
		newFakeStrategy("b", 0.8, direct),
		newFakeStrategy("c", 0.7, direct),
		newFakeStrategy("d", 0.6, direct),
	)

	h := domain.NewHypothesis("Connection pool exhaustion", "database", 0.65, nil)
	res, err := engine.Falsify(context.Background(), h, falsifyOpts(3))

	require.NoError(t, err)
	assert.False(t, res.Disproven)
	assert.Len(t, res.Attempts, 3)
	assert.Equal(t, 3, h.SurvivedAttempts())
	assert.InDelta(t, 1.0, h.CurrentConfidence, 1e-9)

	require.NoError(t, engine.Accept(h, 0.65))
	assert.Equal(t, domain.HypothesisValidated, h.Status)
}

func TestFalsify_CapCountsEarlierAttempts(t *testing.T) {
	engine := newTestEngine(
		newFakeStrategy("a", 0.9),
		newFakeStrategy("b", 0.8),
		newFakeStrategy("c", 0.7),
		newFakeStrategy("d", 0.6),
		newFakeStrategy("e", 0.5),
	)
	h := domain.NewHypothesis("Connection pool exhaustion", "database", 0.5, nil)

	first, err := engine.Falsify(context.Background(), h, falsifyOpts(2))
	require.NoError(t, err)
	assert.Len(t, first.Attempts, 2)

	second, err := engine.Falsify(context.Background(), h, falsifyOpts(3))
	require.NoError(t, err)
	assert.Len(t, second.Attempts, 1)
	assert.Equal(t, "c", second.Attempts[0].Strategy)

	third, err := engine.Falsify(context.Background(), h, falsifyOpts(3))
	require.NoError(t, err)
	assert.Empty(t, third.Attempts)
	assert.Len(t, h.DisproofAttempts, 3)
	assert.Equal(t, domain.HypothesisActive, h.Status)
}

func TestFalsify_AttemptOrderFollowsPriority(t *testing.T) {
	low := newFakeStrategy("low", 0.2)
	high := newFakeStrategy("high", 0.9)
	mid := newFakeStrategy("mid", 0.5)
	engine := newTestEngine(low, high, mid)

	h := domain.NewHypothesis("Cache stampede", "application", 0.5, nil)
	res, err := engine.Falsify(context.Background(), h, falsifyOpts(2))

	require.NoError(t, err)
	require.Len(t, res.Attempts, 2)
	assert.Equal(t, "high", res.Attempts[0].Strategy)
	assert.Equal(t, "mid", res.Attempts[1].Strategy)
	assert.Equal(t, 0, low.Calls())
}

func TestFalsify_NoFeasibleStrategyEscalates(t *testing.T) {
	s := newFakeStrategy("traces-only", 0.9)
	s.sources = []string{"traces"}
	engine := newTestEngine(s)

	h := domain.NewHypothesis("Upstream timeout", "network", 0.7, nil)
	opts := falsifyOpts(3)
	opts.Context.AvailableSources = []string{"metrics"}
	res, err := engine.Falsify(context.Background(), h, opts)

	require.NoError(t, err)
	assert.Equal(t, 0, res.Feasible)
	assert.True(t, res.Escalated)
	assert.Equal(t, domain.HypothesisRequiresHuman, h.Status)
	assert.Equal(t, 0, s.Calls())
}

func TestFalsify_ErrorsAreNotSurvival(t *testing.T) {
	boom := errors.New("datasource down")
	engine := newTestEngine(
		newFakeStrategy("a", 0.9, outcome{err: boom, cost: 0.5}),
		newFakeStrategy("b", 0.8, outcome{err: boom}),
	)

	var failures []string
	var spent float64
	opts := falsifyOpts(3)
	opts.Hooks.OnFailure = func(h *domain.Hypothesis, strategy string, cost float64, err error) error {
		failures = append(failures, strategy)
		spent += cost
		return nil
	}

	h := domain.NewHypothesis("Disk pressure", "infrastructure", 0.9, nil)
	res, err := engine.Falsify(context.Background(), h, opts)

	require.NoError(t, err)
	assert.Equal(t, 2, res.Failures)
	assert.Empty(t, h.DisproofAttempts)
	assert.Equal(t, []string{"a", "b"}, failures)
	assert.Equal(t, 0.5, spent)
	assert.True(t, res.Escalated)
	assert.Equal(t, domain.HypothesisRequiresHuman, h.Status)
	assert.False(t, engine.Eligible(h, 0.5))
}

func TestFalsify_PlateauStopsEarly(t *testing.T) {
	var strategies []domain.DisproofStrategy
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		strategies = append(strategies, newFakeStrategy(name, 0.5))
	}
	engine := newTestEngine(strategies...)

	h := domain.NewHypothesis("Noisy neighbour", "infrastructure", 0.9, nil)
	res, err := engine.Falsify(context.Background(), h, falsifyOpts(6))

	require.NoError(t, err)
	assert.True(t, res.Plateaued)
	// 0.95, 1.0, 1.0, 1.0: the last two moved by less than the plateau delta
	assert.Len(t, res.Attempts, 4)
}

func TestFalsify_HookErrorStops(t *testing.T) {
	stop := errors.New("budget")
	engine := newTestEngine(newFakeStrategy("a", 0.9), newFakeStrategy("b", 0.8))
	opts := falsifyOpts(3)
	opts.Hooks.OnAttempt = func(*domain.Hypothesis, domain.DisproofAttempt) error { return stop }

	h := domain.NewHypothesis("Lock contention", "database", 0.5, nil)
	res, err := engine.Falsify(context.Background(), h, opts)

	assert.ErrorIs(t, err, stop)
	assert.Len(t, res.Attempts, 1)
}

func TestFalsify_ClosedHypothesis(t *testing.T) {
	engine := newTestEngine(newFakeStrategy("a", 0.9))
	h := domain.NewHypothesis("Lock contention", "database", 0.5, nil)
	require.NoError(t, h.SetStatus(domain.HypothesisDisproven))

	_, err := engine.Falsify(context.Background(), h, falsifyOpts(3))
	assert.ErrorIs(t, err, ErrHypothesisClosed)
}

func TestAccept_RequiresSurvivedAttempt(t *testing.T) {
	engine := newTestEngine()
	h := domain.NewHypothesis("Bad deploy", "application", 0.99, nil)

	assert.ErrorIs(t, engine.Accept(h, 0.5), ErrNotEligible)
	assert.Equal(t, domain.HypothesisActive, h.Status)
}

func TestApplyAttempt_SurvivalNeverLowersConfidence(t *testing.T) {
	engine := newTestEngine()
	h := domain.NewHypothesis("Bad deploy", "application", 0.6, nil)
	h.CurrentConfidence = 0.9

	a, err := engine.ApplyAttempt(h, domain.DisproofAttempt{Strategy: "x", Reasoning: "r"})
	require.NoError(t, err)
	assert.Equal(t, 0.9, a.ConfidenceAfter)
	assert.Equal(t, 0.9, h.CurrentConfidence)
}

func TestAddEvidence(t *testing.T) {
	engine := newTestEngine()
	h := domain.NewHypothesis("Bad deploy", "application", 0.5, nil)

	require.NoError(t, engine.AddEvidence(h, domain.NewEvidence("error rate doubled", domain.QualityCorroborated, true, "application")))
	assert.InDelta(t, 0.59, h.CurrentConfidence, 1e-9)

	require.NoError(t, engine.AddEvidence(h, domain.NewEvidence("errors predate deploy", domain.QualityDirect, false, "application")))
	assert.InDelta(t, 0.44, h.CurrentConfidence, 1e-9)
}

func TestLessonsFromAttempt(t *testing.T) {
	h := domain.NewHypothesis("Connection pool exhaustion.", "database", 0.5, nil)

	tests := []struct {
		name    string
		attempt *domain.DisproofAttempt
		want    []string
	}{
		{"nil attempt", nil, nil},
		{
			"explicit lessons win",
			&domain.DisproofAttempt{Lessons: []string{" pool peaked at 40% ", ""}},
			[]string{"pool peaked at 40%"},
		},
		{
			"derived from outcome",
			&domain.DisproofAttempt{ExpectedIfTrue: "pool saturation", ObservedOutcome: "pool at 40%"},
			[]string{"Connection pool exhaustion: observed pool at 40%, not pool saturation"},
		},
		{
			"missing outcome",
			&domain.DisproofAttempt{},
			[]string{"Connection pool exhaustion: observed data contradicted it"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LessonsFromAttempt(h, tt.attempt))
		})
	}
}
