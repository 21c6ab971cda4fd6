package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Harshitk-cp/inquest/internal/api/middleware"
	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
)

// LessonSearcher finds lessons from disproven hypotheses of past investigations.
type LessonSearcher interface {
	Similar(ctx context.Context, tenantID uuid.UUID, text string, topK int) ([]domain.LessonWithScore, error)
}

type LessonHandler struct {
	lessons LessonSearcher
}

func NewLessonHandler(lessons LessonSearcher) *LessonHandler {
	return &LessonHandler{lessons: lessons}
}

func (h *LessonHandler) Similar(w http.ResponseWriter, r *http.Request) {
	tenant := middleware.TenantFromContext(r.Context())
	if tenant == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	topK := 5
	if s := r.URL.Query().Get("top_k"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 || n > 50 {
			writeError(w, http.StatusBadRequest, "top_k must be between 1 and 50")
			return
		}
		topK = n
	}

	matches, err := h.lessons.Similar(r.Context(), tenant.ID, r.URL.Query().Get("q"), topK)
	if err != nil {
		writeServiceError(w, err, "failed to search lessons")
		return
	}
	if matches == nil {
		matches = []domain.LessonWithScore{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"lessons": matches})
}
