package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/service"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service and domain errors onto HTTP statuses.
// Anything unrecognised is a 500 with a generic message.
func writeServiceError(w http.ResponseWriter, err error, fallback string) {
	var (
		ve *domain.ValidationError
		te *domain.TransitionError
		pe *domain.PersistenceError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, service.ErrEmptyLessonQuery):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrInvestigationNotFound),
		errors.Is(err, domain.ErrHypothesisNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvestigationBusy),
		errors.Is(err, service.ErrNotAwaitingDecision),
		errors.Is(err, domain.ErrDecisionAlreadyRecorded),
		errors.Is(err, domain.ErrNoPendingDecision),
		errors.As(err, &te):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrBudgetExceeded):
		writeError(w, http.StatusPaymentRequired, err.Error())
	case errors.Is(err, service.ErrLessonIndexDisabled):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &pe):
		writeError(w, http.StatusInternalServerError, "failed to persist investigation")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
