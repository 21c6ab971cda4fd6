package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ChronicleSchemaVersion is bumped whenever the serialized document changes shape.
const ChronicleSchemaVersion = 1

type EventType string

const (
	EventObservation         EventType = "observation"
	EventHypothesisGenerated EventType = "hypothesis_generated"
	EventHypothesisDisproven EventType = "hypothesis_disproven"
	EventHumanDecision       EventType = "human_decision"
	EventPhaseTransition     EventType = "phase_transition"
	EventDisproofAttempt     EventType = "disproof_attempt"
	EventHypothesisValidated EventType = "hypothesis_validated"
	EventHypothesisEscalated EventType = "hypothesis_escalated"
	EventReasoning           EventType = "reasoning"
	EventWarning             EventType = "warning"
)

// InvestigationEvent is one append-only timeline entry.
type InvestigationEvent struct {
	ID           uuid.UUID  `json:"id"`
	Sequence     int        `json:"sequence"`
	Type         EventType  `json:"event_type"`
	Actor        string     `json:"actor"`
	Description  string     `json:"description"`
	HypothesisID *uuid.UUID `json:"hypothesis_id,omitempty"`
	EvidenceID   *uuid.UUID `json:"evidence_id,omitempty"`
	DecisionID   *uuid.UUID `json:"decision_id,omitempty"`
	FromPhase    Phase      `json:"from_phase,omitempty"`
	ToPhase      Phase      `json:"to_phase,omitempty"`
	Cost         float64    `json:"cost"`
	Timestamp    time.Time  `json:"timestamp"`
}

// Chronicle is the append-only record of one investigation plus the state
// derived from it. It has a single writer: the orchestrator that owns it.
type Chronicle struct {
	SchemaVersion   int                   `json:"schema_version"`
	InvestigationID uuid.UUID             `json:"investigation_id"`
	TenantID        uuid.UUID             `json:"tenant_id"`
	Service         string                `json:"service"`
	Symptoms        []string              `json:"symptoms"`
	Config          InvestigationConfig   `json:"config"`
	Phase           Phase                 `json:"phase"`
	Outcome         Outcome               `json:"outcome"`
	FailureReason   string                `json:"failure_reason,omitempty"`
	Round           int                   `json:"round"`
	Selected        *uuid.UUID            `json:"selected_hypothesis_id,omitempty"`
	MachineTime     time.Duration         `json:"machine_time"`
	PriorLessons    []string              `json:"prior_lessons,omitempty"`
	Events          []InvestigationEvent  `json:"events"`
	Observations    []Observation         `json:"observations"`
	Hypotheses      []*Hypothesis         `json:"hypotheses"`
	Disproven       []DisprovenHypothesis `json:"disproven"`
	Constraints     []string              `json:"constraints"`
	Decisions       []*HumanDecisionPoint `json:"decisions"`
	TotalCost       float64               `json:"total_cost"`
	AgentCosts      map[string]float64    `json:"agent_costs"`
	CreatedAt       time.Time             `json:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at"`
}

func NewChronicle(investigationID, tenantID uuid.UUID, service string, symptoms []string, cfg InvestigationConfig) *Chronicle {
	now := time.Now().UTC()
	return &Chronicle{
		SchemaVersion:   ChronicleSchemaVersion,
		InvestigationID: investigationID,
		TenantID:        tenantID,
		Service:         service,
		Symptoms:        append([]string(nil), symptoms...),
		Config:          cfg,
		Phase:           PhaseTriggered,
		Outcome:         OutcomeInProgress,
		Events:          []InvestigationEvent{},
		Observations:    []Observation{},
		Hypotheses:      []*Hypothesis{},
		Disproven:       []DisprovenHypothesis{},
		Constraints:     []string{},
		Decisions:       []*HumanDecisionPoint{},
		AgentCosts:      map[string]float64{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// AppendEvent assigns the next sequence number and appends the event.
func (c *Chronicle) AppendEvent(e InvestigationEvent) InvestigationEvent {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	e.Sequence = len(c.Events) + 1
	c.Events = append(c.Events, e)
	c.UpdatedAt = e.Timestamp
	return e
}

// Transition moves the state machine and records a phase_transition event.
func (c *Chronicle) Transition(to Phase, actor, reason string) error {
	from := c.Phase
	if !CanTransition(from, to) {
		return &TransitionError{From: from, To: to, Reason: reason}
	}
	switch {
	case to == PhaseAwaitingHuman && len(c.Candidates()) == 0:
		return &TransitionError{From: from, To: to, Reason: "no candidate hypotheses"}
	case to == PhaseTesting && c.Selected == nil:
		return &TransitionError{From: from, To: to, Reason: "no human-selected hypothesis"}
	}
	c.Phase = to
	switch to {
	case PhaseFailed:
		c.Outcome = OutcomeFailed
		c.FailureReason = reason
	case PhaseResolved:
		c.Outcome = OutcomeResolved
		if c.HasWarnings() {
			c.Outcome = OutcomeResolvedReducedEvidence
		}
	}
	desc := fmt.Sprintf("%s -> %s", from, to)
	if reason != "" {
		desc += ": " + reason
	}
	c.AppendEvent(InvestigationEvent{
		Type:        EventPhaseTransition,
		Actor:       actor,
		Description: desc,
		FromPhase:   from,
		ToPhase:     to,
	})
	return nil
}

// Fail moves any non-terminal chronicle to FAILED. It is a no-op on terminal chronicles.
func (c *Chronicle) Fail(actor, reason string) {
	if c.Phase.IsTerminal() {
		return
	}
	_ = c.Transition(PhaseFailed, actor, reason)
}

// AddCost charges cost to an actor without adding an event.
func (c *Chronicle) AddCost(actor string, cost float64) {
	if cost == 0 {
		return
	}
	c.TotalCost += cost
	if c.AgentCosts == nil {
		c.AgentCosts = map[string]float64{}
	}
	c.AgentCosts[actor] += cost
}

// RecordDispatch appends an agent's observations as a single observation event.
func (c *Chronicle) RecordDispatch(agent string, obs []Observation, cost float64, description string) InvestigationEvent {
	c.Observations = append(c.Observations, obs...)
	c.AddCost(agent, cost)
	return c.AppendEvent(InvestigationEvent{
		Type:        EventObservation,
		Actor:       agent,
		Description: description,
		Cost:        cost,
	})
}

// AddHypothesis registers a newly generated hypothesis.
func (c *Chronicle) AddHypothesis(h *Hypothesis) {
	h.Round = c.Round
	c.Hypotheses = append(c.Hypotheses, h)
	id := h.ID
	c.AppendEvent(InvestigationEvent{
		Type:         EventHypothesisGenerated,
		Actor:        h.GeneratedBy,
		Description:  h.Statement,
		HypothesisID: &id,
	})
}

func (c *Chronicle) Hypothesis(id uuid.UUID) *Hypothesis {
	for _, h := range c.Hypotheses {
		if h.ID == id {
			return h
		}
	}
	return nil
}

func (c *Chronicle) HypothesesWithStatus(status HypothesisStatus) []*Hypothesis {
	var out []*Hypothesis
	for _, h := range c.Hypotheses {
		if h.Status == status {
			out = append(out, h)
		}
	}
	return out
}

// Candidates returns the open hypotheses in chronicle order.
func (c *Chronicle) Candidates() []*Hypothesis {
	var out []*Hypothesis
	for _, h := range c.Hypotheses {
		if h.IsCandidate() {
			out = append(out, h)
		}
	}
	return out
}

// RecordAttempt appends a disproof_attempt event for an attempt already applied to h.
func (c *Chronicle) RecordAttempt(h *Hypothesis, a DisproofAttempt) {
	id := h.ID
	verdict := "survived"
	if a.Disproven {
		verdict = "disproved"
	}
	actor := a.Agent
	if actor == "" {
		actor = "validation-engine"
	}
	c.AddCost(actor, a.Cost)
	c.AppendEvent(InvestigationEvent{
		Type:         EventDisproofAttempt,
		Actor:        actor,
		Description:  fmt.Sprintf("%s %s: %s", a.Strategy, verdict, a.ObservedOutcome),
		HypothesisID: &id,
		Cost:         a.Cost,
	})
}

// RecordDisproven stores the permanent disproven record and folds its lessons
// into the constraint set. h must already be DISPROVEN.
func (c *Chronicle) RecordDisproven(h *Hypothesis, lessons []string, evidence []Evidence, actor string) (DisprovenHypothesis, error) {
	if h.Status != HypothesisDisproven {
		return DisprovenHypothesis{}, fmt.Errorf("hypothesis %s is %s, not disproven", h.ID, h.Status)
	}
	for _, d := range c.Disproven {
		if d.Hypothesis.ID == h.ID {
			return d, nil
		}
	}

	cleaned := normalizeLessons(lessons)
	dh := DisprovenHypothesis{
		Hypothesis:         *h.Clone(),
		LessonsLearned:     cleaned,
		DisprovingEvidence: append([]Evidence(nil), evidence...),
		DisprovenAt:        time.Now().UTC(),
	}
	if a := h.DisprovingAttempt(); a != nil {
		cp := *a
		dh.DisprovedBy = &cp
	}
	c.Disproven = append(c.Disproven, dh)
	for _, l := range cleaned {
		c.AddConstraint(l)
	}

	id := h.ID
	c.AppendEvent(InvestigationEvent{
		Type:         EventHypothesisDisproven,
		Actor:        actor,
		Description:  fmt.Sprintf("%s (lessons: %s)", h.Statement, strings.Join(cleaned, "; ")),
		HypothesisID: &id,
	})
	return dh, nil
}

// RecordStatus appends a validated/escalated event for h.
func (c *Chronicle) RecordStatus(h *Hypothesis, actor, reason string) {
	var t EventType
	switch h.Status {
	case HypothesisValidated:
		t = EventHypothesisValidated
	case HypothesisRequiresHuman:
		t = EventHypothesisEscalated
	default:
		return
	}
	id := h.ID
	c.AppendEvent(InvestigationEvent{
		Type:         t,
		Actor:        actor,
		Description:  fmt.Sprintf("%s: %s", h.Statement, reason),
		HypothesisID: &id,
	})
}

// AddConstraint inserts a constraint keeping the set sorted and unique.
func (c *Chronicle) AddConstraint(constraint string) {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" {
		return
	}
	i := sort.SearchStrings(c.Constraints, constraint)
	if i < len(c.Constraints) && c.Constraints[i] == constraint {
		return
	}
	c.Constraints = append(c.Constraints, "")
	copy(c.Constraints[i+1:], c.Constraints[i:])
	c.Constraints[i] = constraint
}

// OpenDecision appends a pending decision point.
func (c *Chronicle) OpenDecision(d *HumanDecisionPoint) {
	c.Decisions = append(c.Decisions, d)
}

// PendingDecision returns the open decision point, if any.
func (c *Chronicle) PendingDecision() *HumanDecisionPoint {
	if len(c.Decisions) == 0 {
		return nil
	}
	last := c.Decisions[len(c.Decisions)-1]
	if last.Decided() {
		return nil
	}
	return last
}

// CompleteDecision completes the pending decision and records a human_decision event.
func (c *Chronicle) CompleteDecision(in DecisionInput) (*HumanDecisionPoint, error) {
	d := c.PendingDecision()
	if d == nil {
		return nil, ErrNoPendingDecision
	}
	if err := d.Complete(in, time.Now()); err != nil {
		return nil, err
	}
	actor := in.DecidedBy
	if actor == "" {
		actor = GeneratedByHuman
	}
	desc := string(d.ChosenKind)
	if d.ChosenHypothesisID != nil {
		if h := c.Hypothesis(*d.ChosenHypothesisID); h != nil {
			desc += ": " + h.Statement
		}
	}
	if d.ProposedStatement != "" {
		desc += ": " + d.ProposedStatement
	}
	decisionID := d.ID
	c.AppendEvent(InvestigationEvent{
		Type:         EventHumanDecision,
		Actor:        actor,
		Description:  desc,
		DecisionID:   &decisionID,
		HypothesisID: d.ChosenHypothesisID,
	})
	return d, nil
}

// Warn records an absorbed agent-level failure.
func (c *Chronicle) Warn(actor, description string) {
	c.AppendEvent(InvestigationEvent{
		Type:        EventWarning,
		Actor:       actor,
		Description: description,
	})
}

func (c *Chronicle) HasWarnings() bool {
	for _, e := range c.Events {
		if e.Type == EventWarning {
			return true
		}
	}
	return false
}

func (c *Chronicle) EventsOfType(t EventType) []InvestigationEvent {
	var out []InvestigationEvent
	for _, e := range c.Events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// DisprovenStatements returns the statements of every disproven hypothesis in order.
func (c *Chronicle) DisprovenStatements() []string {
	out := make([]string, 0, len(c.Disproven))
	for _, d := range c.Disproven {
		out = append(out, d.Hypothesis.Statement)
	}
	return out
}

// Clone returns an independent deep copy through the serialized form.
func (c *Chronicle) Clone() (*Chronicle, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal chronicle: %w", err)
	}
	var out Chronicle
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal chronicle: %w", err)
	}
	return &out, nil
}

func normalizeLessons(lessons []string) []string {
	out := make([]string, 0, len(lessons))
	seen := make(map[string]struct{}, len(lessons))
	for _, l := range lessons {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
