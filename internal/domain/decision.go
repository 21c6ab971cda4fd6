package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecisionKind is what a human can choose at the decision gate.
type DecisionKind string

const (
	DecisionSelect             DecisionKind = "select"
	DecisionPropose            DecisionKind = "propose"
	DecisionInvestigateFurther DecisionKind = "investigate_further"
	DecisionAbort              DecisionKind = "abort"
	DecisionResolved           DecisionKind = "resolved"
)

func ValidDecisionKind(k string) bool {
	switch DecisionKind(k) {
	case DecisionSelect, DecisionPropose, DecisionInvestigateFurther, DecisionAbort, DecisionResolved:
		return true
	}
	return false
}

type DecisionOption struct {
	Kind         DecisionKind `json:"kind"`
	HypothesisID *uuid.UUID   `json:"hypothesis_id,omitempty"`
	Label        string       `json:"label"`
	Confidence   float64      `json:"confidence,omitempty"`
	Eligible     bool         `json:"eligible,omitempty"`
}

type Recommendation struct {
	Kind         DecisionKind `json:"kind"`
	HypothesisID *uuid.UUID   `json:"hypothesis_id,omitempty"`
	Confidence   float64      `json:"confidence"`
	Reasoning    string       `json:"reasoning"`
}

// DecisionInput is what a human submits to complete a decision point.
type DecisionInput struct {
	Kind               DecisionKind `json:"kind"`
	HypothesisID       *uuid.UUID   `json:"hypothesis_id,omitempty"`
	Statement          string       `json:"statement,omitempty"`
	AffectedSystems    []string     `json:"affected_systems,omitempty"`
	Reasoning          string       `json:"reasoning"`
	DeclaredConfidence float64      `json:"declared_confidence"`
	DecidedBy          string       `json:"decided_by,omitempty"`
}

// HumanDecisionPoint captures one interaction at the decision gate.
// Once DecidedAt is set the record is immutable.
type HumanDecisionPoint struct {
	ID                       uuid.UUID        `json:"id"`
	Phase                    Phase            `json:"phase"`
	Options                  []DecisionOption `json:"options"`
	Recommendation           Recommendation   `json:"recommendation"`
	ChosenKind               DecisionKind     `json:"chosen_kind,omitempty"`
	ChosenHypothesisID       *uuid.UUID       `json:"chosen_hypothesis_id,omitempty"`
	ProposedStatement        string           `json:"proposed_statement,omitempty"`
	Reasoning                string           `json:"reasoning,omitempty"`
	DeclaredConfidence       float64          `json:"declared_confidence"`
	AgreesWithRecommendation bool             `json:"agrees_with_recommendation"`
	DecidedBy                string           `json:"decided_by,omitempty"`
	CreatedAt                time.Time        `json:"created_at"`
	DecidedAt                *time.Time       `json:"decided_at,omitempty"`
}

func (d *HumanDecisionPoint) Decided() bool {
	return d.DecidedAt != nil
}

// Allows reports whether the input matches one of the presented options.
// Proposing a new hypothesis is always allowed while awaiting a human.
func (d *HumanDecisionPoint) Allows(in DecisionInput) bool {
	for _, opt := range d.Options {
		if opt.Kind != in.Kind {
			continue
		}
		if opt.Kind != DecisionSelect {
			return true
		}
		if in.HypothesisID != nil && opt.HypothesisID != nil && *opt.HypothesisID == *in.HypothesisID {
			return true
		}
	}
	return false
}

// Complete records the human's choice. It fails if the point was already decided.
func (d *HumanDecisionPoint) Complete(in DecisionInput, at time.Time) error {
	if d.Decided() {
		return ErrDecisionAlreadyRecorded
	}
	if in.DeclaredConfidence < 0 || in.DeclaredConfidence > 1 {
		return &ValidationError{Field: "declared_confidence", Message: "must be between 0 and 1"}
	}
	if in.Kind == DecisionPropose && strings.TrimSpace(in.Statement) == "" {
		return &ValidationError{Field: "statement", Message: "a proposed hypothesis needs a statement"}
	}
	if !d.Allows(in) {
		return &ValidationError{Field: "kind", Message: "choice is not one of the presented options"}
	}

	d.ChosenKind = in.Kind
	if in.HypothesisID != nil {
		id := *in.HypothesisID
		d.ChosenHypothesisID = &id
	}
	d.ProposedStatement = strings.TrimSpace(in.Statement)
	d.Reasoning = in.Reasoning
	d.DeclaredConfidence = in.DeclaredConfidence
	d.DecidedBy = in.DecidedBy
	d.AgreesWithRecommendation = agrees(d.Recommendation, in)
	decided := at.UTC()
	d.DecidedAt = &decided
	return nil
}

func agrees(rec Recommendation, in DecisionInput) bool {
	if rec.Kind != in.Kind {
		return false
	}
	if rec.HypothesisID == nil || in.HypothesisID == nil {
		return rec.HypothesisID == nil && in.HypothesisID == nil
	}
	return *rec.HypothesisID == *in.HypothesisID
}
