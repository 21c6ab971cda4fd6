package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/llm"
	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	observedConfidence = 0.9
	absentConfidence   = 0.0
)

// DomainAgent is a specialist agent driven by a roster definition: it observes
// through data-source queries and reasons through the reasoning service.
type DomainAgent struct {
	def         domain.AgentDefinition
	source      domain.DataSource
	reasoner    domain.ReasoningClient
	batchSchema *jsonschema.Schema
	strategies  []domain.DisproofStrategy
	logger      *zap.Logger
	now         func() time.Time
}

var _ domain.SpecialistAgent = (*DomainAgent)(nil)

func NewDomainAgent(def domain.AgentDefinition, source domain.DataSource, reasoner domain.ReasoningClient, logger *zap.Logger) (*DomainAgent, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if source == nil || reasoner == nil {
		return nil, fmt.Errorf("agent %s needs a data source and a reasoning client", def.Name)
	}
	schema, err := llm.HypothesisBatchSchema()
	if err != nil {
		return nil, err
	}

	a := &DomainAgent{
		def:         def,
		source:      source,
		reasoner:    reasoner,
		batchSchema: schema,
		logger:      logger.With(zap.String("agent", def.Name)),
		now:         time.Now,
	}
	for _, check := range def.Checks {
		s, err := NewReasonedStrategy(StrategySpec{
			Name:     def.Name + "." + check.Name,
			Category: domain.CategoryDomain,
			Agent:    def.Name,
			Question: check.Description,
			Probe:    &domain.QueryTemplate{Name: check.Name, Source: check.Source, Expr: check.Expr},
			Priority: CheckPriority(check),
		}, source, reasoner)
		if err != nil {
			return nil, fmt.Errorf("agent %s check %s: %w", def.Name, check.Name, err)
		}
		a.strategies = append(a.strategies, s)
	}
	return a, nil
}

func (a *DomainAgent) Name() string { return a.def.Name }

func (a *DomainAgent) Domain() string { return a.def.Domain }

func (a *DomainAgent) Settings() domain.AgentSettings { return a.def.AgentSettings }

func (a *DomainAgent) DomainStrategies() []domain.DisproofStrategy { return a.strategies }

// Observe runs the agent's queries in order. A failed or empty query becomes
// an absent observation. Once oc.Budget is spent no further queries are issued.
// An error is returned only when every query failed.
func (a *DomainAgent) Observe(ctx context.Context, oc domain.ObservationContext) ([]domain.Observation, error) {
	var (
		obs   []domain.Observation
		errs  []error
		spent float64
	)
	for _, q := range a.def.Queries {
		if oc.Budget > 0 && spent >= oc.Budget {
			a.logger.Info("agent budget spent, skipping remaining queries",
				zap.Float64("spent", spent),
				zap.Float64("budget", oc.Budget))
			break
		}
		if ctx.Err() != nil {
			break
		}

		expr := strings.ReplaceAll(q.Expr, "{service}", oc.Service)
		o := domain.Observation{
			ID:        uuid.New(),
			Agent:     a.def.Name,
			Source:    q.Source,
			Query:     expr,
			Timestamp: a.now().UTC(),
			Round:     oc.Round,
		}

		res, err := a.source.Query(ctx, domain.DomainQuery{
			Source:  q.Source,
			Service: oc.Service,
			Expr:    expr,
			Start:   oc.WindowStart,
			End:     oc.WindowEnd,
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("%s: %w", queryName(q), err))
			o.Absent = true
			o.Confidence = absentConfidence
			o.Interpretation = fmt.Sprintf("%s unavailable: %v", queryName(q), err)
		case res.Empty:
			o.Absent = true
			o.Confidence = absentConfidence
			o.Interpretation = fmt.Sprintf("%s returned no data", queryName(q))
			o.Cost = res.Cost
		default:
			o.Value = res.Value
			o.Confidence = observedConfidence
			o.Interpretation = res.Summary
			o.Cost = res.Cost
		}
		spent += o.Cost
		obs = append(obs, o)
	}

	if len(errs) > 0 && len(errs) == len(obs) {
		return obs, &domain.AgentObservationError{Agent: a.def.Name, Err: errors.Join(errs...)}
	}
	return obs, nil
}

func queryName(q domain.QueryTemplate) string {
	if q.Name != "" {
		return q.Name
	}
	return q.Source
}

// GenerateHypotheses asks the reasoning service for a validated batch of
// hypotheses. The returned cost is what the call spent, even on error.
func (a *DomainAgent) GenerateHypotheses(ctx context.Context, gc domain.GenerationContext) ([]*domain.Hypothesis, float64, error) {
	req := llm.GenerationRequest(llm.GenerationPromptInput{
		Agent:             a.def.Name,
		Service:           gc.Service,
		Symptoms:          gc.Symptoms,
		Observations:      gc.Observations,
		ConstraintContext: gc.ConstraintContext,
	})
	batch, resp, err := llm.Structured[llm.HypothesisBatch](ctx, a.reasoner, req, a.batchSchema)
	var cost float64
	if resp != nil {
		cost = resp.Cost
	}
	if err != nil {
		return nil, cost, err
	}

	hyps := make([]*domain.Hypothesis, 0, len(batch.Hypotheses))
	for _, p := range batch.Hypotheses {
		stmt := strings.TrimSpace(p.Statement)
		if stmt == "" {
			continue
		}
		h := domain.NewHypothesis(stmt, a.def.Name, p.Confidence, p.AffectedSystems)
		h.Rationale = p.Rationale
		hyps = append(hyps, h)
	}
	if len(hyps) == 0 {
		return nil, cost, &domain.SchemaViolationError{Schema: llm.SchemaHypothesisBatch, Err: errors.New("no usable hypothesis statements")}
	}
	return hyps, cost, nil
}

// AttemptFalsification runs the highest-priority domain check of this agent
// that applies to h and has not been tried yet. During an investigation the
// same checks run through the StrategyRegistry (see BuildRegistry), which
// orders them against the generic strategies and applies the attempt cap.
func (a *DomainAgent) AttemptFalsification(ctx context.Context, h *domain.Hypothesis, sc domain.StrategyContext) (domain.DisproofAttempt, error) {
	var (
		best     domain.DisproofStrategy
		priority float64
	)
	for _, s := range a.strategies {
		if h.Attempted(s.Name()) || !sourcesAvailable(s.RequiredSources(), sc.AvailableSources) {
			continue
		}
		if p := s.Priority(h); p > priority {
			best, priority = s, p
		}
	}
	if best == nil {
		return domain.DisproofAttempt{}, fmt.Errorf("%w for %s", ErrNoApplicableCheck, a.def.Name)
	}
	return best.Attempt(ctx, h, sc)
}
