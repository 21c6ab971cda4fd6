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

const (
	actorOrchestrator = "orchestrator"
	actorValidation   = "validation-engine"

	generationAttempts = 2
)

var (
	ErrNotAwaitingDecision = errors.New("investigation is not waiting for a decision")
	ErrNoViableHypotheses  = errors.New("no viable hypotheses remain")
	ErrShuttingDown        = errors.New("service shutting down")
	ErrStopped             = errors.New("stopped by request")

	errAgentTimeout = errors.New("agent timed out")
)

// LessonIndexer stores disproven hypotheses for later investigations.
type LessonIndexer interface {
	Index(ctx context.Context, c *domain.Chronicle, d domain.DisprovenHypothesis) error
}

// OrchestratorDeps are the collaborators shared by every investigation.
type OrchestratorDeps struct {
	Agents     []domain.SpecialistAgent
	Validation *ValidationEngine
	Context    ContextBuilder
	Sources    []string
	Store      domain.ChronicleStore
	Lessons    LessonIndexer
	Recorder   Recorder
	Logger     *zap.Logger
	// OnCheckpoint receives a private copy of the chronicle after every save.
	OnCheckpoint func(*domain.Chronicle)
}

// Orchestrator drives one investigation's state machine. It is the single
// writer of its chronicle and is not safe for concurrent use.
type Orchestrator struct {
	c      *domain.Chronicle
	deps   OrchestratorDeps
	gate   DecisionGate
	logger *zap.Logger
	now    func() time.Time
	mark   time.Time
}

func NewOrchestrator(c *domain.Chronicle, deps OrchestratorDeps) *Orchestrator {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	o := &Orchestrator{
		c:      c,
		deps:   deps,
		logger: deps.Logger.With(zap.String("investigation_id", c.InvestigationID.String())),
		now:    time.Now,
	}
	o.gate = NewDecisionGate(deps.Validation, AgentThreshold(deps.Agents, c.Config))
	return o
}

func (o *Orchestrator) Chronicle() *domain.Chronicle { return o.c }

func (o *Orchestrator) Gate() DecisionGate { return o.gate }

func (o *Orchestrator) threshold(h *domain.Hypothesis) float64 {
	return AgentThreshold(o.deps.Agents, o.c.Config)(h)
}

// AgentThreshold uses the generating agent's threshold when it sets one.
func AgentThreshold(agents []domain.SpecialistAgent, cfg domain.InvestigationConfig) ThresholdFunc {
	return func(h *domain.Hypothesis) float64 {
		for _, a := range agents {
			if a.Name() == h.GeneratedBy {
				return a.Settings().EffectiveMinConfidence(cfg)
			}
		}
		return cfg.MinConfidence
	}
}

// Run advances the investigation until it needs a human or ends. A fatal
// error leaves the chronicle FAILED, persisted, and is returned.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.mark = o.now()
	defer o.tick()

	for {
		if o.c.Phase.IsTerminal() {
			return nil
		}
		if o.c.Phase.IsDecisionPhase() && o.c.PendingDecision() != nil {
			return nil
		}
		if err := o.guard(ctx); err != nil {
			return o.halt(ctx, err)
		}

		var err error
		switch o.c.Phase {
		case domain.PhaseTriggered:
			err = o.transition(ctx, domain.PhaseObserving, "investigation started")
		case domain.PhaseObserving:
			err = o.observe(ctx)
		case domain.PhaseHypothesisGeneration:
			err = o.generate(ctx)
		case domain.PhaseAwaitingHuman, domain.PhaseMitigating:
			err = o.openDecision(ctx)
		case domain.PhaseTesting:
			err = o.test(ctx)
		default:
			err = fmt.Errorf("unknown phase %q", o.c.Phase)
		}
		if err != nil {
			return o.halt(ctx, err)
		}
	}
}

// halt fails the investigation, except on process shutdown where the
// chronicle is only checkpointed so the run can resume later.
func (o *Orchestrator) halt(ctx context.Context, err error) error {
	if errors.Is(context.Cause(ctx), ErrShuttingDown) {
		o.logger.Info("investigation suspended for shutdown", zap.String("phase", string(o.c.Phase)))
		if cerr := o.checkpoint(context.WithoutCancel(ctx)); cerr != nil {
			return errors.Join(err, cerr)
		}
		return err
	}
	return o.fail(ctx, err)
}

// tick folds the wall time since the last mark into the chronicle's machine time.
func (o *Orchestrator) tick() {
	now := o.now()
	if !o.mark.IsZero() {
		o.c.MachineTime += now.Sub(o.mark)
	}
	o.mark = now
}

func (o *Orchestrator) guard(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.tick()
	if o.c.MachineTime > o.c.Config.Deadline {
		return fmt.Errorf("%w after %s", domain.ErrDeadlineExceeded, o.c.MachineTime.Round(time.Millisecond))
	}
	return nil
}

func (o *Orchestrator) checkBudget() error {
	if o.c.TotalCost > o.c.Config.Budget {
		return &domain.BudgetExceededError{Scope: "investigation", Limit: o.c.Config.Budget, Spent: o.c.TotalCost}
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, cause error) error {
	if o.c.Phase.IsTerminal() {
		return cause
	}
	reason := cause.Error()
	if errors.Is(cause, context.Canceled) {
		if c := context.Cause(ctx); c != nil {
			reason = c.Error()
		}
	}
	o.logger.Error("investigation failed", zap.String("phase", string(o.c.Phase)), zap.Error(cause))

	from := o.c.Phase
	o.c.Fail(actorOrchestrator, reason)
	o.deps.Recorder.PhaseTransition(from, domain.PhaseFailed)
	o.deps.Recorder.InvestigationFinished(o.c.Outcome)

	// the final checkpoint must not be skipped because the run context ended
	saveCtx := context.WithoutCancel(ctx)
	if err := o.checkpoint(saveCtx); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

func (o *Orchestrator) transition(ctx context.Context, to domain.Phase, reason string) error {
	from := o.c.Phase
	if err := o.c.Transition(to, actorOrchestrator, reason); err != nil {
		return err
	}
	o.logger.Info("phase transition",
		zap.String("from", string(from)),
		zap.String("to", string(to)),
		zap.String("reason", reason))
	o.deps.Recorder.PhaseTransition(from, to)
	if to.IsTerminal() {
		o.deps.Recorder.InvestigationFinished(o.c.Outcome)
	}
	return o.checkpoint(ctx)
}

// checkpoint persists the whole chronicle and publishes a snapshot.
func (o *Orchestrator) checkpoint(ctx context.Context) error {
	o.tick()
	if o.deps.Store != nil {
		if err := o.deps.Store.Save(ctx, o.c); err != nil {
			return &domain.PersistenceError{Op: "save", InvestigationID: o.c.InvestigationID, Err: err}
		}
	}
	if o.deps.OnCheckpoint != nil {
		snap, err := o.c.Clone()
		if err != nil {
			return err
		}
		o.deps.OnCheckpoint(snap)
	}
	return nil
}

func (o *Orchestrator) spend(actor string, cost float64) {
	o.c.AddCost(actor, cost)
	o.deps.Recorder.Spend(actor, cost)
}

func (o *Orchestrator) remainingAgentBudget(a domain.SpecialistAgent) float64 {
	return a.Settings().EffectiveBudget(o.c.Config) - o.c.AgentCosts[a.Name()]
}

func (o *Orchestrator) observe(ctx context.Context) error {
	o.c.Round++
	end := o.now().UTC()
	start := end.Add(-o.c.Config.Lookback)

	for _, a := range o.deps.Agents {
		if err := o.guard(ctx); err != nil {
			return err
		}
		remaining := o.remainingAgentBudget(a)
		if remaining <= 0 {
			o.c.Warn(a.Name(), "agent budget exhausted, skipped observation")
			continue
		}
		if err := o.dispatch(ctx, a, domain.ObservationContext{
			InvestigationID: o.c.InvestigationID,
			Service:         o.c.Service,
			Symptoms:        o.c.Symptoms,
			Round:           o.c.Round,
			WindowStart:     start,
			WindowEnd:       end,
			Budget:          remaining,
		}); err != nil {
			return err
		}
		if err := o.checkBudget(); err != nil {
			return err
		}
	}
	return o.transition(ctx, domain.PhaseHypothesisGeneration, fmt.Sprintf("round %d observations collected", o.c.Round))
}

// dispatch runs one agent's observe call under its timeout. Only a cancelled
// investigation context is returned as an error.
func (o *Orchestrator) dispatch(ctx context.Context, a domain.SpecialistAgent, oc domain.ObservationContext) error {
	timeout := a.Settings().EffectiveTimeout(o.c.Config)
	started := o.now()

	obs, err := callWithTimeout(ctx, timeout, func(ctx context.Context) ([]domain.Observation, error) {
		return a.Observe(ctx, oc)
	})
	elapsed := o.now().Sub(started)
	if ctx.Err() != nil {
		return ctx.Err()
	}

	var cost float64
	absent := 0
	for i := range obs {
		if obs[i].ID == uuid.Nil {
			obs[i].ID = uuid.New()
		}
		obs[i].Agent = a.Name()
		obs[i].Round = oc.Round
		cost += obs[i].Cost
		if obs[i].Absent {
			absent++
		}
	}

	timedOut := errors.Is(err, errAgentTimeout)
	desc := fmt.Sprintf("round %d: %d observation(s), %d absent", oc.Round, len(obs), absent)
	if timedOut {
		desc = fmt.Sprintf("round %d: timed out after %s", oc.Round, timeout)
	}
	o.c.RecordDispatch(a.Name(), obs, cost, desc)
	o.deps.Recorder.Spend(a.Name(), cost)
	o.deps.Recorder.AgentDispatch(a.Name(), elapsed, len(obs), timedOut)

	if err != nil {
		var oe *domain.AgentObservationError
		if !errors.As(err, &oe) {
			oe = &domain.AgentObservationError{Agent: a.Name(), Err: err}
		}
		o.c.Warn(a.Name(), oe.Error())
		o.logger.Warn("agent observation degraded", zap.String("agent", a.Name()), zap.Error(err))
	}
	o.logger.Debug("agent dispatched",
		zap.String("agent", a.Name()),
		zap.Int("observations", len(obs)),
		zap.Float64("cost", cost),
		zap.Float64("total_cost", o.c.TotalCost))
	return nil
}

// roundObservations returns the observations gathered in the current round.
func (o *Orchestrator) roundObservations() []domain.Observation {
	var out []domain.Observation
	for _, ob := range o.c.Observations {
		if ob.Round == o.c.Round {
			out = append(out, ob)
		}
	}
	return out
}

func (o *Orchestrator) generate(ctx context.Context) error {
	gc := domain.GenerationContext{
		InvestigationID:   o.c.InvestigationID,
		Service:           o.c.Service,
		Symptoms:          o.c.Symptoms,
		Observations:      o.roundObservations(),
		ConstraintContext: o.deps.Context.Build(o.c),
	}

	var fresh []*domain.Hypothesis
	for _, a := range o.deps.Agents {
		if err := o.guard(ctx); err != nil {
			return err
		}
		if o.remainingAgentBudget(a) <= 0 {
			o.c.Warn(a.Name(), "agent budget exhausted, abstained from hypothesis generation")
			continue
		}
		hyps, err := o.generateFor(ctx, a, gc)
		if err != nil {
			return err
		}
		for _, h := range hyps {
			h.SimilarTo = SimilarityNotes(h.Statement, h.ID, o.c, o.deps.Validation.Registry().SimilarityThreshold)
			o.c.AddHypothesis(h)
			fresh = append(fresh, h)
		}
	}

	for _, h := range fresh {
		if err := o.guard(ctx); err != nil {
			return err
		}
		if err := o.falsify(ctx, h); err != nil {
			return err
		}
	}

	switch reviewable := len(o.gate.Reviewable(o.c)); {
	case reviewable > 0:
		return o.transition(ctx, domain.PhaseAwaitingHuman,
			fmt.Sprintf("%d hypotheses ready for review", reviewable))
	case o.c.Round < o.c.Config.MaxRounds:
		return o.transition(ctx, domain.PhaseObserving, "no hypothesis reached the confidence threshold")
	default:
		return fmt.Errorf("%w after %d round(s)", ErrNoViableHypotheses, o.c.Round)
	}
}

// generateFor calls the agent with one retry. A second failure is absorbed
// as an abstention; only budget exhaustion and cancellation are returned.
func (o *Orchestrator) generateFor(ctx context.Context, a domain.SpecialistAgent, gc domain.GenerationContext) ([]*domain.Hypothesis, error) {
	timeout := a.Settings().EffectiveTimeout(o.c.Config)

	type generated struct {
		hyps []*domain.Hypothesis
		cost float64
	}

	var lastErr error
	for attempt := 1; attempt <= generationAttempts; attempt++ {
		res, err := callWithTimeout(ctx, timeout, func(ctx context.Context) (generated, error) {
			hyps, cost, err := a.GenerateHypotheses(ctx, gc)
			return generated{hyps: hyps, cost: cost}, err
		})
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		desc := fmt.Sprintf("round %d hypothesis generation attempt %d", o.c.Round, attempt)
		if err == nil {
			desc += fmt.Sprintf(": %d hypotheses", len(res.hyps))
		}
		o.spend(a.Name(), res.cost)
		o.c.AppendEvent(domain.InvestigationEvent{
			Type:        domain.EventReasoning,
			Actor:       a.Name(),
			Description: desc,
			Cost:        res.cost,
		})
		if berr := o.checkBudget(); berr != nil {
			return nil, berr
		}
		if err == nil {
			return res.hyps, nil
		}
		lastErr = err
		o.logger.Warn("hypothesis generation failed",
			zap.String("agent", a.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))
	}

	genErr := &domain.AgentGenerationError{Agent: a.Name(), Attempts: generationAttempts, Err: lastErr}
	o.c.Warn(a.Name(), genErr.Error())
	return nil, nil
}

func (o *Orchestrator) strategyContext() domain.StrategyContext {
	end := o.now().UTC()
	return domain.StrategyContext{
		InvestigationID:  o.c.InvestigationID,
		Service:          o.c.Service,
		Symptoms:         o.c.Symptoms,
		Observations:     o.c.Observations,
		AvailableSources: o.deps.Sources,
		WindowStart:      end.Add(-o.c.Config.Lookback),
		WindowEnd:        end,
	}
}

// falsify tops h up to MaxDisproofAttempts attempts and records the outcome
// in the chronicle.
func (o *Orchestrator) falsify(ctx context.Context, h *domain.Hypothesis) error {
	if h.Status != domain.HypothesisActive {
		return nil
	}
	res, err := o.deps.Validation.Falsify(ctx, h, FalsifyOptions{
		MaxAttempts: o.c.Config.MaxDisproofAttempts,
		Context:     o.strategyContext(),
		Disproven:   o.c.Disproven,
		Hooks: FalsifyHooks{
			OnAttempt: func(h *domain.Hypothesis, a domain.DisproofAttempt) error {
				o.c.RecordAttempt(h, a)
				o.deps.Recorder.Spend(actorFor(a), a.Cost)
				o.deps.Recorder.DisproofAttempt(a.Strategy, a.Disproven)
				return o.checkBudget()
			},
			OnFailure: func(h *domain.Hypothesis, strategy string, cost float64, err error) error {
				o.spend(actorValidation, cost)
				o.c.Warn(actorValidation, fmt.Sprintf("strategy %s failed against %q: %v", strategy, h.Statement, err))
				return o.checkBudget()
			},
		},
	})
	if err != nil {
		return err
	}

	switch {
	case res.Disproven:
		return o.recordDisproven(ctx, h)
	case res.Escalated:
		reason := "no disproof strategy could run"
		if res.Feasible > 0 {
			reason = "every feasible disproof strategy failed to complete"
		}
		o.c.RecordStatus(h, actorValidation, reason)
	}
	return nil
}

func actorFor(a domain.DisproofAttempt) string {
	if a.Agent != "" {
		return a.Agent
	}
	return actorValidation
}

func (o *Orchestrator) recordDisproven(ctx context.Context, h *domain.Hypothesis) error {
	a := h.DisprovingAttempt()
	var evidence []domain.Evidence
	if a != nil && a.Evidence != nil {
		evidence = append(evidence, *a.Evidence)
	}
	actor := actorValidation
	if a != nil {
		actor = actorFor(*a)
	}
	d, err := o.c.RecordDisproven(h, LessonsFromAttempt(h, a), evidence, actor)
	if err != nil {
		return err
	}
	o.logger.Info("hypothesis disproven",
		zap.String("hypothesis_id", h.ID.String()),
		zap.String("statement", h.Statement),
		zap.Strings("lessons", d.LessonsLearned))

	if o.deps.Lessons != nil {
		if err := o.deps.Lessons.Index(ctx, o.c, d); err != nil {
			o.logger.Warn("lesson indexing failed", zap.String("hypothesis_id", h.ID.String()), zap.Error(err))
		}
	}
	return nil
}

func (o *Orchestrator) openDecision(ctx context.Context) error {
	d := o.gate.Open(o.c)
	o.c.OpenDecision(d)
	o.logger.Info("awaiting human decision",
		zap.String("phase", string(o.c.Phase)),
		zap.Int("options", len(d.Options)),
		zap.String("recommendation", string(d.Recommendation.Kind)))
	return o.checkpoint(ctx)
}

func (o *Orchestrator) test(ctx context.Context) error {
	if o.c.Selected == nil {
		return &domain.TransitionError{From: o.c.Phase, To: domain.PhaseMitigating, Reason: "no hypothesis selected"}
	}
	h := o.c.Hypothesis(*o.c.Selected)
	if h == nil {
		return fmt.Errorf("%w: %s", domain.ErrHypothesisNotFound, *o.c.Selected)
	}

	switch h.Status {
	case domain.HypothesisValidated:
		return o.transition(ctx, domain.PhaseMitigating, fmt.Sprintf("%q validated", h.Statement))
	case domain.HypothesisRequiresHuman:
		return o.transition(ctx, domain.PhaseMitigating,
			fmt.Sprintf("%q accepted by a human without automated confirmation", h.Statement))
	case domain.HypothesisDisproven:
		return o.afterDisproof(ctx, h)
	}

	if err := o.falsify(ctx, h); err != nil {
		return err
	}

	threshold := o.threshold(h)
	switch {
	case h.Status == domain.HypothesisDisproven:
		return o.afterDisproof(ctx, h)
	case h.Status == domain.HypothesisActive && o.deps.Validation.Eligible(h, threshold):
		if err := o.deps.Validation.Accept(h, threshold); err != nil {
			return err
		}
		o.c.RecordStatus(h, actorValidation, fmt.Sprintf("confidence %.2f after %d surviving attempt(s)", h.CurrentConfidence, h.SurvivedAttempts()))
		return o.transition(ctx, domain.PhaseMitigating, fmt.Sprintf("%q validated", h.Statement))
	default:
		if h.Status == domain.HypothesisActive {
			if err := o.deps.Validation.Escalate(h); err != nil {
				return err
			}
			o.c.RecordStatus(h, actorValidation,
				fmt.Sprintf("inconclusive: confidence %.2f below threshold %.2f", h.CurrentConfidence, threshold))
		}
		o.c.Selected = nil
		return o.transition(ctx, domain.PhaseAwaitingHuman, fmt.Sprintf("%q is inconclusive", h.Statement))
	}
}

func (o *Orchestrator) afterDisproof(ctx context.Context, h *domain.Hypothesis) error {
	o.c.Selected = nil
	reason := fmt.Sprintf("%q disproven", h.Statement)
	switch {
	case len(o.gate.Reviewable(o.c)) > 0:
		return o.transition(ctx, domain.PhaseAwaitingHuman, reason)
	case o.c.Round < o.c.Config.MaxRounds:
		return o.transition(ctx, domain.PhaseObserving, reason+"; starting a new round")
	default:
		return fmt.Errorf("%w: %s after %d round(s)", ErrNoViableHypotheses, reason, o.c.Round)
	}
}

// ApplyDecision completes the pending decision point and moves the state
// machine accordingly. The caller resumes Run afterwards.
func (o *Orchestrator) ApplyDecision(ctx context.Context, in domain.DecisionInput) (*domain.HumanDecisionPoint, error) {
	if !o.c.Phase.IsDecisionPhase() || o.c.PendingDecision() == nil {
		return nil, ErrNotAwaitingDecision
	}
	// time spent waiting for the human is not machine time
	o.mark = o.now()
	defer o.tick()

	d, err := o.c.CompleteDecision(in)
	if err != nil {
		return nil, err
	}
	o.deps.Recorder.Decision(d.ChosenKind, d.AgreesWithRecommendation)
	actor := in.DecidedBy
	if actor == "" {
		actor = domain.GeneratedByHuman
	}

	switch d.ChosenKind {
	case domain.DecisionSelect:
		id := *d.ChosenHypothesisID
		o.c.Selected = &id
		err = o.humanTransition(ctx, domain.PhaseTesting, actor, "human selected a hypothesis")
	case domain.DecisionPropose:
		h := domain.NewHypothesis(d.ProposedStatement, domain.GeneratedByHuman, d.DeclaredConfidence, in.AffectedSystems)
		h.Rationale = strings.TrimSpace(in.Reasoning)
		h.SimilarTo = SimilarityNotes(h.Statement, h.ID, o.c, o.deps.Validation.Registry().SimilarityThreshold)
		o.c.AddHypothesis(h)
		o.c.Selected = &h.ID
		err = o.humanTransition(ctx, domain.PhaseTesting, actor, "human proposed a hypothesis")
	case domain.DecisionInvestigateFurther:
		o.c.Selected = nil
		err = o.humanTransition(ctx, domain.PhaseObserving, actor, "human asked for further investigation")
	case domain.DecisionAbort:
		from := o.c.Phase
		o.c.Fail(actor, "aborted by human")
		o.deps.Recorder.PhaseTransition(from, domain.PhaseFailed)
		o.deps.Recorder.InvestigationFinished(o.c.Outcome)
		err = o.checkpoint(ctx)
	case domain.DecisionResolved:
		err = o.humanTransition(ctx, domain.PhaseResolved, actor, "human confirmed resolution")
	}
	return d, err
}

func (o *Orchestrator) humanTransition(ctx context.Context, to domain.Phase, actor, reason string) error {
	from := o.c.Phase
	if err := o.c.Transition(to, actor, reason); err != nil {
		return err
	}
	o.deps.Recorder.PhaseTransition(from, to)
	if to.IsTerminal() {
		o.deps.Recorder.InvestigationFinished(o.c.Outcome)
	}
	return o.checkpoint(ctx)
}

// callWithTimeout runs fn under a deadline. A call that outlives the deadline
// counts as empty: whatever fn returns after it is discarded and
// errAgentTimeout is returned. The buffered channel lets a late fn finish.
func callWithTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v    T
		err  error
		late bool
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(cctx)
		ch <- result{v: v, err: err, late: cctx.Err() != nil}
	}()

	var zero T
	select {
	case r := <-ch:
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if r.late {
			return zero, fmt.Errorf("%w after %s", errAgentTimeout, timeout)
		}
		return r.v, r.err
	case <-cctx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", errAgentTimeout, timeout)
	}
}
