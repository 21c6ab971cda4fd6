package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/inquest/internal/api/middleware"
	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Investigations is the part of the investigation service the HTTP layer uses.
type Investigations interface {
	Start(ctx context.Context, tenantID uuid.UUID, in service.StartInput) (*domain.Chronicle, error)
	GetChronicle(ctx context.Context, tenantID, id uuid.UUID) (*domain.Chronicle, error)
	GetHypotheses(ctx context.Context, tenantID, id uuid.UUID) ([]domain.RankedHypothesis, error)
	Status(ctx context.Context, tenantID, id uuid.UUID) (*service.InvestigationStatus, error)
	SubmitDecision(ctx context.Context, tenantID, id uuid.UUID, in domain.DecisionInput) (*domain.HumanDecisionPoint, error)
	Stop(ctx context.Context, tenantID, id uuid.UUID) error
	List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error)
}

type InvestigationHandler struct {
	svc Investigations
}

func NewInvestigationHandler(svc Investigations) *InvestigationHandler {
	return &InvestigationHandler{svc: svc}
}

type startInvestigationResponse struct {
	InvestigationID uuid.UUID    `json:"investigation_id"`
	Phase           domain.Phase `json:"phase"`
	PriorLessons    []string     `json:"prior_lessons,omitempty"`
}

func (h *InvestigationHandler) Start(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req service.StartInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	c, err := h.svc.Start(r.Context(), tenant.ID, req)
	if err != nil {
		writeServiceError(w, err, "failed to start investigation")
		return
	}

	writeJSON(w, http.StatusAccepted, startInvestigationResponse{
		InvestigationID: c.InvestigationID,
		Phase:           c.Phase,
		PriorLessons:    c.PriorLessons,
	})
}

func (h *InvestigationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 500")
			return
		}
		limit = n
	}

	summaries, err := h.svc.List(r.Context(), tenant.ID, limit)
	if err != nil {
		writeServiceError(w, err, "failed to list investigations")
		return
	}
	if summaries == nil {
		summaries = []domain.ChronicleSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"investigations": summaries})
}

// target resolves the tenant and the {id} path parameter. It writes the
// error response itself and reports false when the request cannot proceed.
func target(w http.ResponseWriter, r *http.Request) (tenantID, id uuid.UUID, ok bool) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid investigation id")
		return uuid.Nil, uuid.Nil, false
	}
	return tenant.ID, id, true
}

// Chronicle returns the full audit document.
func (h *InvestigationHandler) Chronicle(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := target(w, r)
	if !ok {
		return
	}

	c, err := h.svc.GetChronicle(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err, "failed to get investigation")
		return
	}

	writeJSON(w, http.StatusOK, c)
}

func (h *InvestigationHandler) Hypotheses(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := target(w, r)
	if !ok {
		return
	}

	ranked, err := h.svc.GetHypotheses(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err, "failed to rank hypotheses")
		return
	}
	if ranked == nil {
		ranked = []domain.RankedHypothesis{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"hypotheses": ranked})
}

func (h *InvestigationHandler) Status(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := target(w, r)
	if !ok {
		return
	}

	status, err := h.svc.Status(r.Context(), tenantID, id)
	if err != nil {
		writeServiceError(w, err, "failed to get investigation status")
		return
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *InvestigationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := target(w, r)
	if !ok {
		return
	}

	var req domain.DecisionInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidDecisionKind(string(req.Kind)) {
		writeError(w, http.StatusBadRequest, "invalid decision kind")
		return
	}

	d, err := h.svc.SubmitDecision(r.Context(), tenantID, id, req)
	if err != nil {
		writeServiceError(w, err, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

func (h *InvestigationHandler) Stop(w http.ResponseWriter, r *http.Request) {
	tenantID, id, ok := target(w, r)
	if !ok {
		return
	}

	if err := h.svc.Stop(r.Context(), tenantID, id); err != nil {
		writeServiceError(w, err, "failed to stop investigation")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
