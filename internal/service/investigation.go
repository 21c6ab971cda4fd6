package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvestigationNotFound = errors.New("investigation not found")
	ErrInvestigationBusy     = errors.New("investigation is running; wait for the decision gate")
)

// Report values distinguish a failed investigation from one that completed
// with reduced evidence.
const (
	ReportInProgress               = "in_progress"
	ReportAwaitingDecision         = "awaiting_decision"
	ReportCompleted                = "completed"
	ReportCompletedReducedEvidence = "completed_reduced_evidence"
	ReportFailed                   = "failed"
)

// ConfigOverrides are the per-investigation knobs a caller may change.
// Durations are in seconds.
type ConfigOverrides struct {
	Budget              *float64 `json:"budget,omitempty"`
	AgentBudget         *float64 `json:"agent_budget,omitempty"`
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	MaxDisproofAttempts *int     `json:"max_disproof_attempts,omitempty"`
	AgentTimeoutSeconds *float64 `json:"agent_timeout_seconds,omitempty"`
	DeadlineSeconds     *float64 `json:"deadline_seconds,omitempty"`
	MaxRounds           *int     `json:"max_rounds,omitempty"`
	LookbackSeconds     *float64 `json:"lookback_seconds,omitempty"`
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func (o ConfigOverrides) Apply(cfg domain.InvestigationConfig) domain.InvestigationConfig {
	if o.Budget != nil {
		cfg.Budget = *o.Budget
	}
	if o.AgentBudget != nil {
		cfg.AgentBudget = *o.AgentBudget
	}
	if o.MinConfidence != nil {
		cfg.MinConfidence = *o.MinConfidence
	}
	if o.MaxDisproofAttempts != nil {
		cfg.MaxDisproofAttempts = *o.MaxDisproofAttempts
	}
	if o.AgentTimeoutSeconds != nil {
		cfg.AgentTimeout = seconds(*o.AgentTimeoutSeconds)
	}
	if o.DeadlineSeconds != nil {
		cfg.Deadline = seconds(*o.DeadlineSeconds)
	}
	if o.MaxRounds != nil {
		cfg.MaxRounds = *o.MaxRounds
	}
	if o.LookbackSeconds != nil {
		cfg.Lookback = seconds(*o.LookbackSeconds)
	}
	return cfg
}

type StartInput struct {
	Service   string          `json:"service"`
	Symptoms  []string        `json:"symptoms"`
	Overrides ConfigOverrides `json:"config"`
}

// InvestigationStatus is the summary reported to CLI and UI clients.
type InvestigationStatus struct {
	InvestigationID uuid.UUID                  `json:"investigation_id"`
	Service         string                     `json:"service"`
	Phase           domain.Phase               `json:"phase"`
	Outcome         domain.Outcome             `json:"outcome"`
	Report          string                     `json:"report"`
	FailureReason   string                     `json:"failure_reason,omitempty"`
	Round           int                        `json:"round"`
	TotalCost       float64                    `json:"total_cost"`
	Budget          float64                    `json:"budget"`
	Running         bool                       `json:"running"`
	PendingDecision *domain.HumanDecisionPoint `json:"pending_decision,omitempty"`
	UpdatedAt       time.Time                  `json:"updated_at"`
}

type run struct {
	tenantID uuid.UUID
	orch     *Orchestrator
	snapshot atomic.Pointer[domain.Chronicle]

	mu      sync.Mutex
	running bool
	done    chan struct{}
	cancel  context.CancelCauseFunc
	err     error
}

// InvestigationService owns every running investigation in the process.
// Each investigation has its own orchestrator and chronicle; the registry
// map is the only structure shared between them.
type InvestigationService struct {
	deps     OrchestratorDeps
	defaults domain.InvestigationConfig
	lessons  *LessonService
	logger   *zap.Logger

	baseCtx context.Context
	stopAll context.CancelCauseFunc
	wg      sync.WaitGroup

	mu   sync.Mutex
	runs map[uuid.UUID]*run
}

func NewInvestigationService(deps OrchestratorDeps, defaults domain.InvestigationConfig, lessons *LessonService, logger *zap.Logger) *InvestigationService {
	if deps.Recorder == nil {
		deps.Recorder = nopRecorder{}
	}
	deps.Logger = logger
	if deps.Lessons == nil && lessons.Enabled() {
		deps.Lessons = lessons
	}
	ctx, cancel := context.WithCancelCause(context.Background())
	return &InvestigationService{
		deps:     deps,
		defaults: defaults,
		lessons:  lessons,
		logger:   logger,
		baseCtx:  ctx,
		stopAll:  cancel,
		runs:     make(map[uuid.UUID]*run),
	}
}

// Start validates the request, persists a new chronicle and runs the
// investigation in the background up to its first decision gate.
func (s *InvestigationService) Start(ctx context.Context, tenantID uuid.UUID, in StartInput) (*domain.Chronicle, error) {
	service := strings.TrimSpace(in.Service)
	if service == "" {
		return nil, &domain.ValidationError{Field: "service", Message: "is required"}
	}
	var symptoms []string
	for _, sym := range in.Symptoms {
		if sym = strings.TrimSpace(sym); sym != "" {
			symptoms = append(symptoms, sym)
		}
	}
	if len(symptoms) == 0 {
		return nil, &domain.ValidationError{Field: "symptoms", Message: "at least one symptom is required"}
	}
	cfg := in.Overrides.Apply(s.defaults)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	for _, a := range s.deps.Agents {
		if err := a.Settings().ValidateFor(cfg); err != nil {
			return nil, err
		}
	}

	c := domain.NewChronicle(uuid.New(), tenantID, service, symptoms, cfg)
	if s.lessons.Enabled() {
		prior, err := s.lessons.PriorLessons(ctx, tenantID, service, symptoms, DefaultPriorLessonMin)
		if err != nil {
			s.logger.Warn("prior lesson lookup failed", zap.Error(err))
		}
		c.PriorLessons = prior
	}

	if err := s.deps.Store.Save(ctx, c); err != nil {
		return nil, &domain.PersistenceError{Op: "create", InvestigationID: c.InvestigationID, Err: err}
	}

	r := s.newRun(c)
	s.mu.Lock()
	s.runs[c.InvestigationID] = r
	s.mu.Unlock()

	s.deps.Recorder.InvestigationStarted()
	s.logger.Info("investigation started",
		zap.String("investigation_id", c.InvestigationID.String()),
		zap.String("service", service),
		zap.Int("agents", len(s.deps.Agents)))

	r.mu.Lock()
	s.launchLocked(r)
	r.mu.Unlock()
	return r.snapshot.Load(), nil
}

func (s *InvestigationService) newRun(c *domain.Chronicle) *run {
	r := &run{tenantID: c.TenantID}
	deps := s.deps
	deps.OnCheckpoint = func(snap *domain.Chronicle) { r.snapshot.Store(snap) }
	r.orch = NewOrchestrator(c, deps)
	if snap, err := c.Clone(); err == nil {
		r.snapshot.Store(snap)
	}
	return r
}

// launchLocked starts Run in the background. r.mu must be held.
func (s *InvestigationService) launchLocked(r *run) {
	ctx, cancel := context.WithCancelCause(s.baseCtx)
	done := make(chan struct{})
	r.running = true
	r.done = done
	r.cancel = cancel
	r.err = nil

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel(nil)

		err := r.orch.Run(ctx)
		if err != nil {
			s.logger.Warn("investigation run ended with error",
				zap.String("investigation_id", r.orch.Chronicle().InvestigationID.String()),
				zap.Error(err))
		}
		if snap, cerr := r.orch.Chronicle().Clone(); cerr == nil {
			r.snapshot.Store(snap)
		}

		r.mu.Lock()
		r.running = false
		r.err = err
		r.mu.Unlock()
		close(done)
	}()
}

// lookup finds an investigation visible to tenantID, rehydrating it from the
// store when this process does not hold it.
func (s *InvestigationService) lookup(ctx context.Context, tenantID, id uuid.UUID) (*run, error) {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if ok {
		if r.tenantID != tenantID {
			return nil, ErrInvestigationNotFound
		}
		return r, nil
	}

	c, err := s.deps.Store.Load(ctx, id, tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvestigationNotFound
		}
		return nil, &domain.PersistenceError{Op: "load", InvestigationID: id, Err: err}
	}

	r = s.newRun(c)
	if c.Phase.IsTerminal() {
		return r, nil
	}

	s.mu.Lock()
	if existing, ok := s.runs[id]; ok {
		s.mu.Unlock()
		return existing, nil
	}
	s.runs[id] = r
	s.mu.Unlock()

	if !c.Phase.IsDecisionPhase() || c.PendingDecision() == nil {
		s.logger.Info("resuming interrupted investigation",
			zap.String("investigation_id", id.String()),
			zap.String("phase", string(c.Phase)))
		r.mu.Lock()
		s.launchLocked(r)
		r.mu.Unlock()
	}
	return r, nil
}

// GetChronicle returns the latest published snapshot. Callers must treat it as read-only.
func (s *InvestigationService) GetChronicle(ctx context.Context, tenantID, id uuid.UUID) (*domain.Chronicle, error) {
	r, err := s.lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	return r.snapshot.Load(), nil
}

// GetHypotheses returns the hypotheses a human may choose from, in ranked order.
func (s *InvestigationService) GetHypotheses(ctx context.Context, tenantID, id uuid.UUID) ([]domain.RankedHypothesis, error) {
	c, err := s.GetChronicle(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	gate := NewDecisionGate(s.deps.Validation, AgentThreshold(s.deps.Agents, c.Config))
	return gate.Rank(c), nil
}

func (s *InvestigationService) Status(ctx context.Context, tenantID, id uuid.UUID) (*InvestigationStatus, error) {
	r, err := s.lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	c := r.snapshot.Load()
	r.mu.Lock()
	running := r.running
	r.mu.Unlock()

	return &InvestigationStatus{
		InvestigationID: c.InvestigationID,
		Service:         c.Service,
		Phase:           c.Phase,
		Outcome:         c.Outcome,
		Report:          report(c, running),
		FailureReason:   c.FailureReason,
		Round:           c.Round,
		TotalCost:       c.TotalCost,
		Budget:          c.Config.Budget,
		Running:         running,
		PendingDecision: c.PendingDecision(),
		UpdatedAt:       c.UpdatedAt,
	}, nil
}

func report(c *domain.Chronicle, running bool) string {
	switch c.Outcome {
	case domain.OutcomeFailed:
		return ReportFailed
	case domain.OutcomeResolved:
		return ReportCompleted
	case domain.OutcomeResolvedReducedEvidence:
		return ReportCompletedReducedEvidence
	}
	if !running && c.Phase.IsDecisionPhase() && c.PendingDecision() != nil {
		return ReportAwaitingDecision
	}
	return ReportInProgress
}

// SubmitDecision completes the pending decision and resumes the investigation.
func (s *InvestigationService) SubmitDecision(ctx context.Context, tenantID, id uuid.UUID, in domain.DecisionInput) (*domain.HumanDecisionPoint, error) {
	r, err := s.lookup(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil, ErrInvestigationBusy
	}
	if r.orch.Chronicle().Phase.IsTerminal() {
		return nil, ErrNotAwaitingDecision
	}

	d, err := r.orch.ApplyDecision(ctx, in)
	if err != nil {
		var pe *domain.PersistenceError
		if errors.As(err, &pe) {
			_ = r.orch.fail(ctx, err)
			if snap, cerr := r.orch.Chronicle().Clone(); cerr == nil {
				r.snapshot.Store(snap)
			}
		}
		return nil, err
	}
	decided := *d

	s.logger.Info("decision recorded",
		zap.String("investigation_id", id.String()),
		zap.String("kind", string(decided.ChosenKind)),
		zap.Bool("agrees_with_recommendation", decided.AgreesWithRecommendation))

	s.launchLocked(r)
	return &decided, nil
}

// Wait blocks until the investigation's current run stops.
func (s *InvestigationService) Wait(ctx context.Context, tenantID, id uuid.UUID) error {
	r, err := s.lookup(ctx, tenantID, id)
	if err != nil {
		return err
	}
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop ends a non-terminal investigation as FAILED.
func (s *InvestigationService) Stop(ctx context.Context, tenantID, id uuid.UUID) error {
	r, err := s.lookup(ctx, tenantID, id)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.running {
		cancel, done := r.cancel, r.done
		r.mu.Unlock()
		cancel(ErrStopped)
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	defer r.mu.Unlock()
	if r.orch.Chronicle().Phase.IsTerminal() {
		return nil
	}
	_ = r.orch.fail(ctx, ErrStopped)
	if snap, cerr := r.orch.Chronicle().Clone(); cerr == nil {
		r.snapshot.Store(snap)
	}
	return nil
}

func (s *InvestigationService) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.deps.Store.ListByTenant(ctx, tenantID, limit)
}

// Shutdown cancels every running investigation and waits for them to checkpoint.
func (s *InvestigationService) Shutdown(ctx context.Context) error {
	s.stopAll(ErrShuttingDown)
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
