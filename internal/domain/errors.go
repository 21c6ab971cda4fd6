package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrBudgetExceeded          = errors.New("budget exceeded")
	ErrDecisionAlreadyRecorded = errors.New("decision already recorded")
	ErrNoPendingDecision       = errors.New("no pending decision")
	ErrHypothesisNotFound      = errors.New("hypothesis not found")
	ErrDeadlineExceeded        = errors.New("investigation deadline exceeded")
)

// BudgetExceededError is fatal: the investigation halts immediately and the
// chronicle is preserved up to the point of failure.
type BudgetExceededError struct {
	Scope string
	Limit float64
	Spent float64
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s budget exceeded: spent %.2f of %.2f", e.Scope, e.Spent, e.Limit)
}

func (e *BudgetExceededError) Is(target error) bool {
	return target == ErrBudgetExceeded
}

// AgentObservationError is recoverable: the agent contributes nothing this round.
type AgentObservationError struct {
	Agent string
	Err   error
}

func (e *AgentObservationError) Error() string {
	return fmt.Sprintf("agent %s observation failed: %v", e.Agent, e.Err)
}

func (e *AgentObservationError) Unwrap() error { return e.Err }

// AgentGenerationError is recoverable after one retry: the agent abstains this round.
type AgentGenerationError struct {
	Agent    string
	Attempts int
	Err      error
}

func (e *AgentGenerationError) Error() string {
	return fmt.Sprintf("agent %s hypothesis generation failed after %d attempt(s): %v", e.Agent, e.Attempts, e.Err)
}

func (e *AgentGenerationError) Unwrap() error { return e.Err }

// PersistenceError is fatal for the affected operation and always surfaced.
type PersistenceError struct {
	Op              string
	InvestigationID uuid.UUID
	Err             error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s for investigation %s: %v", e.Op, e.InvestigationID, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// SchemaViolationError is returned when a reasoning response does not match
// the requested schema.
type SchemaViolationError struct {
	Schema string
	Err    error
}

func (e *SchemaViolationError) Error() string {
	return fmt.Sprintf("response violates schema %s: %v", e.Schema, e.Err)
}

func (e *SchemaViolationError) Unwrap() error { return e.Err }

type TransitionError struct {
	From   Phase
	To     Phase
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("illegal transition %s -> %s", e.From, e.To)
	}
	return fmt.Sprintf("illegal transition %s -> %s: %s", e.From, e.To, e.Reason)
}

type HypothesisTransitionError struct {
	HypothesisID uuid.UUID
	From         HypothesisStatus
	To           HypothesisStatus
}

func (e *HypothesisTransitionError) Error() string {
	return fmt.Sprintf("hypothesis %s cannot move from %s to %s", e.HypothesisID, e.From, e.To)
}

// ValidationError reports a rejected field in input or configuration.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + ": " + e.Message
}
