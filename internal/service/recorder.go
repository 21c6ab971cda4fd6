package service

import (
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

// Recorder receives investigation lifecycle measurements.
type Recorder interface {
	InvestigationStarted()
	InvestigationFinished(outcome domain.Outcome)
	PhaseTransition(from, to domain.Phase)
	AgentDispatch(agent string, d time.Duration, observations int, timedOut bool)
	DisproofAttempt(strategy string, disproven bool)
	Spend(actor string, cost float64)
	Decision(kind domain.DecisionKind, agreed bool)
}

type nopRecorder struct{}

func (nopRecorder) InvestigationStarted() {}
func (nopRecorder) InvestigationFinished(domain.Outcome) {}
func (nopRecorder) PhaseTransition(domain.Phase, domain.Phase) {}
func (nopRecorder) AgentDispatch(string, time.Duration, int, bool) {}
func (nopRecorder) DisproofAttempt(string, bool) {}
func (nopRecorder) Spend(string, float64) {}
func (nopRecorder) Decision(domain.DecisionKind, bool) {}
