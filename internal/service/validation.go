package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrHypothesisClosed = errors.New("hypothesis is no longer active")
	ErrNotEligible      = errors.New("hypothesis is not eligible for acceptance")
)

// FalsifyHooks let the caller record and pay for each attempt as it happens.
// A hook returning an error stops the loop and the error is returned.
type FalsifyHooks struct {
	OnAttempt func(h *domain.Hypothesis, a domain.DisproofAttempt) error
	OnFailure func(h *domain.Hypothesis, strategy string, cost float64, err error) error
}

type FalsifyOptions struct {
	// MaxAttempts caps the attempts recorded on the hypothesis over its
	// lifetime, including those from earlier runs.
	MaxAttempts int
	Context     domain.StrategyContext
	Disproven   []domain.DisprovenHypothesis
	Hooks       FalsifyHooks
}

// FalsifyResult summarises one falsification run.
type FalsifyResult struct {
	Feasible  int
	Attempts  []domain.DisproofAttempt
	Failures  int
	Disproven bool
	Plateaued bool
	Escalated bool
}

// ValidationEngine scores hypotheses and drives falsification.
type ValidationEngine struct {
	model    ConfidenceModel
	registry *StrategyRegistry
	logger   *zap.Logger
}

func NewValidationEngine(model ConfidenceModel, registry *StrategyRegistry, logger *zap.Logger) *ValidationEngine {
	return &ValidationEngine{
		model:    model,
		registry: registry,
		logger:   logger,
	}
}

func (e *ValidationEngine) Model() ConfidenceModel { return e.model }

func (e *ValidationEngine) Registry() *StrategyRegistry { return e.registry }

// Rescore recomputes current confidence for an active hypothesis.
func (e *ValidationEngine) Rescore(h *domain.Hypothesis) float64 {
	if h.Status == domain.HypothesisActive {
		h.CurrentConfidence = e.model.Score(h)
	}
	return h.CurrentConfidence
}

// AddEvidence attaches evidence to an active hypothesis and rescores it.
func (e *ValidationEngine) AddEvidence(h *domain.Hypothesis, ev domain.Evidence) error {
	if h.Status != domain.HypothesisActive {
		return ErrHypothesisClosed
	}
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	h.Evidence = append(h.Evidence, ev)
	e.Rescore(h)
	return nil
}

// ApplyAttempt appends an attempt to h. A successful disproof is decisive:
// confidence drops to exactly 0 and the status becomes DISPROVEN.
func (e *ValidationEngine) ApplyAttempt(h *domain.Hypothesis, a domain.DisproofAttempt) (domain.DisproofAttempt, error) {
	if h.Status != domain.HypothesisActive {
		return a, ErrHypothesisClosed
	}
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.AttemptedAt.IsZero() {
		a.AttemptedAt = time.Now().UTC()
	}
	a.ConfidenceBefore = h.CurrentConfidence

	if a.Evidence != nil {
		ev := *a.Evidence
		ev.Supports = !a.Disproven
		a.Evidence = &ev
		h.Evidence = append(h.Evidence, ev)
	}
	h.DisproofAttempts = append(h.DisproofAttempts, a)

	if a.Disproven {
		h.CurrentConfidence = 0
		if err := h.SetStatus(domain.HypothesisDisproven); err != nil {
			return a, err
		}
	} else if score := e.model.Score(h); score > h.CurrentConfidence {
		// a surviving attempt never lowers confidence
		h.CurrentConfidence = score
	}

	a.ConfidenceAfter = h.CurrentConfidence
	h.DisproofAttempts[len(h.DisproofAttempts)-1] = a
	return a, nil
}

// Eligible reports whether h may be recommended at the decision gate.
func (e *ValidationEngine) Eligible(h *domain.Hypothesis, threshold float64) bool {
	if h.Status != domain.HypothesisActive && h.Status != domain.HypothesisValidated {
		return false
	}
	return h.CurrentConfidence >= threshold && h.SurvivedAttempts() >= 1
}

// Accept marks h VALIDATED. It refuses hypotheses that never survived a disproof attempt.
func (e *ValidationEngine) Accept(h *domain.Hypothesis, threshold float64) error {
	if h.Status != domain.HypothesisActive {
		return ErrHypothesisClosed
	}
	if !e.Eligible(h, threshold) {
		return ErrNotEligible
	}
	return h.SetStatus(domain.HypothesisValidated)
}

// Escalate marks an active hypothesis REQUIRES_HUMAN.
func (e *ValidationEngine) Escalate(h *domain.Hypothesis) error {
	return h.SetStatus(domain.HypothesisRequiresHuman)
}

// Falsify runs feasible strategies against h in priority order until it is
// disproven, h holds MaxAttempts attempts, or confidence plateaus. A hypothesis
// that ends with no surviving attempt is escalated rather than left to look
// as if it had survived.
func (e *ValidationEngine) Falsify(ctx context.Context, h *domain.Hypothesis, opts FalsifyOptions) (*FalsifyResult, error) {
	res := &FalsifyResult{}
	if h.Status != domain.HypothesisActive {
		return res, ErrHypothesisClosed
	}

	plan := e.registry.Plan(h, opts.Context.AvailableSources, opts.Disproven)
	res.Feasible = len(plan)

	for _, p := range plan {
		if len(h.DisproofAttempts) >= opts.MaxAttempts {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		a, err := p.Strategy.Attempt(ctx, h, opts.Context)
		if err != nil {
			res.Failures++
			e.logger.Warn("disproof attempt failed",
				zap.String("hypothesis_id", h.ID.String()),
				zap.String("strategy", p.Strategy.Name()),
				zap.Error(err))
			if opts.Hooks.OnFailure != nil {
				if herr := opts.Hooks.OnFailure(h, p.Strategy.Name(), a.Cost, err); herr != nil {
					return res, herr
				}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			continue
		}

		if a.Strategy == "" {
			a.Strategy = p.Strategy.Name()
		}
		if a.Category == "" {
			a.Category = p.Strategy.Category()
		}
		if strings.TrimSpace(a.Reasoning) == "" {
			res.Failures++
			e.logger.Warn("disproof attempt without reasoning discarded",
				zap.String("hypothesis_id", h.ID.String()),
				zap.String("strategy", a.Strategy))
			if opts.Hooks.OnFailure != nil {
				if herr := opts.Hooks.OnFailure(h, a.Strategy, a.Cost, errors.New("attempt returned no reasoning")); herr != nil {
					return res, herr
				}
			}
			continue
		}

		applied, err := e.ApplyAttempt(h, a)
		if err != nil {
			return res, fmt.Errorf("apply attempt %s: %w", a.Strategy, err)
		}
		res.Attempts = append(res.Attempts, applied)

		e.logger.Debug("disproof attempt",
			zap.String("hypothesis_id", h.ID.String()),
			zap.String("strategy", applied.Strategy),
			zap.Bool("disproven", applied.Disproven),
			zap.Bool("boosted", p.Boosted),
			zap.Float64("confidence", applied.ConfidenceAfter))

		if opts.Hooks.OnAttempt != nil {
			if herr := opts.Hooks.OnAttempt(h, applied); herr != nil {
				return res, herr
			}
		}

		if applied.Disproven {
			res.Disproven = true
			return res, nil
		}
		if e.model.Plateaued(h) {
			res.Plateaued = true
			break
		}
	}

	if h.Status == domain.HypothesisActive && h.SurvivedAttempts() == 0 {
		if err := e.Escalate(h); err != nil {
			return res, err
		}
		res.Escalated = true
	}
	return res, nil
}

// LessonsFromAttempt returns the lessons a disproof produced. When the
// falsifier supplied none, one is derived from the contradicting outcome.
func LessonsFromAttempt(h *domain.Hypothesis, a *domain.DisproofAttempt) []string {
	if a == nil {
		return nil
	}
	var lessons []string
	for _, l := range a.Lessons {
		if l = strings.TrimSpace(l); l != "" {
			lessons = append(lessons, l)
		}
	}
	if len(lessons) > 0 {
		return lessons
	}

	observed := strings.TrimSpace(a.ObservedOutcome)
	if observed == "" {
		observed = "data contradicted it"
	}
	lesson := fmt.Sprintf("%s: observed %s", strings.TrimSuffix(h.Statement, "."), observed)
	if expected := strings.TrimSpace(a.ExpectedIfTrue); expected != "" {
		lesson += fmt.Sprintf(", not %s", expected)
	}
	return []string{lesson}
}
