package domain

// Phase is a state of the investigation state machine.
type Phase string

const (
	PhaseTriggered            Phase = "triggered"
	PhaseObserving            Phase = "observing"
	PhaseHypothesisGeneration Phase = "hypothesis_generation"
	PhaseAwaitingHuman        Phase = "awaiting_human"
	PhaseTesting              Phase = "testing"
	PhaseMitigating           Phase = "mitigating"
	PhaseResolved             Phase = "resolved"
	PhaseFailed               Phase = "failed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseTriggered:            {PhaseObserving},
	PhaseObserving:            {PhaseHypothesisGeneration},
	PhaseHypothesisGeneration: {PhaseAwaitingHuman, PhaseObserving},
	PhaseAwaitingHuman:        {PhaseTesting, PhaseObserving},
	PhaseTesting:              {PhaseMitigating, PhaseAwaitingHuman, PhaseObserving},
	PhaseMitigating:           {PhaseResolved},
}

func ValidPhase(p string) bool {
	switch Phase(p) {
	case PhaseTriggered, PhaseObserving, PhaseHypothesisGeneration, PhaseAwaitingHuman,
		PhaseTesting, PhaseMitigating, PhaseResolved, PhaseFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible.
func (p Phase) IsTerminal() bool {
	return p == PhaseResolved || p == PhaseFailed
}

// IsDecisionPhase reports whether the phase waits on a human.
func (p Phase) IsDecisionPhase() bool {
	return p == PhaseAwaitingHuman || p == PhaseMitigating
}

// CanTransition reports whether the state machine allows from -> to.
// FAILED is reachable from every non-terminal phase.
func CanTransition(from, to Phase) bool {
	if from.IsTerminal() {
		return false
	}
	if to == PhaseFailed {
		return true
	}
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Outcome is the reportable result of an investigation.
type Outcome string

const (
	OutcomeInProgress              Outcome = "in_progress"
	OutcomeResolved                Outcome = "resolved"
	OutcomeResolvedReducedEvidence Outcome = "resolved_reduced_evidence"
	OutcomeFailed                  Outcome = "failed"
)
