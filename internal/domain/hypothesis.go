package domain

import (
	"time"

	"github.com/google/uuid"
)

type HypothesisStatus string

const (
	HypothesisActive        HypothesisStatus = "active"
	HypothesisValidated     HypothesisStatus = "validated"
	HypothesisDisproven     HypothesisStatus = "disproven"
	HypothesisRequiresHuman HypothesisStatus = "requires_human"
)

func ValidHypothesisStatus(s string) bool {
	switch HypothesisStatus(s) {
	case HypothesisActive, HypothesisValidated, HypothesisDisproven, HypothesisRequiresHuman:
		return true
	}
	return false
}

// CanTransitionHypothesis reports whether a status change is allowed.
// Status only moves forward out of active.
func CanTransitionHypothesis(from, to HypothesisStatus) bool {
	if from != HypothesisActive {
		return false
	}
	switch to {
	case HypothesisValidated, HypothesisDisproven, HypothesisRequiresHuman:
		return true
	}
	return false
}

// GeneratedByHuman is the generated_by marker for hypotheses proposed at the decision gate.
const GeneratedByHuman = "human"

// DisproofAttempt is one falsification try against a hypothesis.
type DisproofAttempt struct {
	ID               uuid.UUID        `json:"id"`
	Strategy         string           `json:"strategy"`
	Category         StrategyCategory `json:"category"`
	Agent            string           `json:"agent,omitempty"`
	ExpectedIfTrue   string           `json:"expected_outcome_if_hypothesis_true"`
	ObservedOutcome  string           `json:"observed_outcome"`
	Disproven        bool             `json:"disproven"`
	Reasoning        string           `json:"reasoning"`
	Cost             float64          `json:"cost"`
	Lessons          []string         `json:"lessons,omitempty"`
	Evidence         *Evidence        `json:"evidence,omitempty"`
	ConfidenceBefore float64          `json:"confidence_before"`
	ConfidenceAfter  float64          `json:"confidence_after"`
	AttemptedAt      time.Time        `json:"attempted_at"`
}

// SimilarityNote is an advisory marker that a statement closely matches another.
// It never filters anything.
type SimilarityNote struct {
	HypothesisID uuid.UUID `json:"hypothesis_id"`
	Statement    string    `json:"statement"`
	Score        float64   `json:"score"`
	Disproven    bool      `json:"disproven"`
}

// Hypothesis is a testable causal statement about the incident.
type Hypothesis struct {
	ID                uuid.UUID         `json:"id"`
	Statement         string            `json:"statement"`
	GeneratedBy       string            `json:"generated_by"`
	Rationale         string            `json:"rationale,omitempty"`
	InitialConfidence float64           `json:"initial_confidence"`
	CurrentConfidence float64           `json:"current_confidence"`
	Evidence          []Evidence        `json:"evidence"`
	DisproofAttempts  []DisproofAttempt `json:"disproof_attempts"`
	Status            HypothesisStatus  `json:"status"`
	AffectedSystems   []string          `json:"affected_systems"`
	SimilarTo         []SimilarityNote  `json:"similar_to,omitempty"`
	Round             int               `json:"round"`
	CreatedAt         time.Time         `json:"created_at"`
}

func NewHypothesis(statement, generatedBy string, initialConfidence float64, affected []string) *Hypothesis {
	return &Hypothesis{
		ID:                uuid.New(),
		Statement:         statement,
		GeneratedBy:       generatedBy,
		InitialConfidence: initialConfidence,
		CurrentConfidence: initialConfidence,
		Evidence:          []Evidence{},
		DisproofAttempts:  []DisproofAttempt{},
		Status:            HypothesisActive,
		AffectedSystems:   affected,
		CreatedAt:         time.Now().UTC(),
	}
}

// SetStatus moves the hypothesis to a new status, enforcing the one-way lifecycle.
func (h *Hypothesis) SetStatus(to HypothesisStatus) error {
	if h.Status == to {
		return nil
	}
	if !CanTransitionHypothesis(h.Status, to) {
		return &HypothesisTransitionError{HypothesisID: h.ID, From: h.Status, To: to}
	}
	h.Status = to
	return nil
}

func (h *Hypothesis) SupportingEvidence() []Evidence {
	var out []Evidence
	for _, e := range h.Evidence {
		if e.Supports {
			out = append(out, e)
		}
	}
	return out
}

func (h *Hypothesis) ContradictingEvidence() []Evidence {
	var out []Evidence
	for _, e := range h.Evidence {
		if !e.Supports {
			out = append(out, e)
		}
	}
	return out
}

// SurvivedAttempts counts disproof attempts that failed to disprove.
func (h *Hypothesis) SurvivedAttempts() int {
	n := 0
	for _, a := range h.DisproofAttempts {
		if !a.Disproven {
			n++
		}
	}
	return n
}

// DisprovingAttempt returns the attempt that disproved the hypothesis, if any.
func (h *Hypothesis) DisprovingAttempt() *DisproofAttempt {
	for i := range h.DisproofAttempts {
		if h.DisproofAttempts[i].Disproven {
			return &h.DisproofAttempts[i]
		}
	}
	return nil
}

func (h *Hypothesis) Attempted(strategy string) bool {
	for _, a := range h.DisproofAttempts {
		if a.Strategy == strategy {
			return true
		}
	}
	return false
}

// IsCandidate reports whether the hypothesis is still open: neither disproven
// nor validated. Whether a human sees it is decided by the decision gate.
func (h *Hypothesis) IsCandidate() bool {
	return h.Status == HypothesisActive || h.Status == HypothesisRequiresHuman
}

// Clone returns a deep copy.
func (h *Hypothesis) Clone() *Hypothesis {
	c := *h
	c.Evidence = append([]Evidence{}, h.Evidence...)
	c.DisproofAttempts = make([]DisproofAttempt, len(h.DisproofAttempts))
	for i, a := range h.DisproofAttempts {
		a.Lessons = append([]string(nil), a.Lessons...)
		if a.Evidence != nil {
			ev := *a.Evidence
			a.Evidence = &ev
		}
		c.DisproofAttempts[i] = a
	}
	c.AffectedSystems = append([]string(nil), h.AffectedSystems...)
	c.SimilarTo = append([]SimilarityNote(nil), h.SimilarTo...)
	return &c
}

// DisprovenHypothesis is the permanent record of a falsified hypothesis and
// the lessons extracted from it.
type DisprovenHypothesis struct {
	Hypothesis         Hypothesis       `json:"hypothesis"`
	LessonsLearned     []string         `json:"lessons_learned"`
	DisprovedBy        *DisproofAttempt `json:"disproved_by,omitempty"`
	DisprovingEvidence []Evidence       `json:"disproving_evidence,omitempty"`
	DisprovenAt        time.Time        `json:"disproven_at"`
}

// RankedHypothesis is a hypothesis as presented at the decision gate.
type RankedHypothesis struct {
	Rank       int         `json:"rank"`
	Hypothesis *Hypothesis `json:"hypothesis"`
	Eligible   bool        `json:"eligible"`
}
