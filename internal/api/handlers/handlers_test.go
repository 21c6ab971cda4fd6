package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Harshitk-cp/inquest/internal/api/middleware"
	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/service"
	"github.com/Harshitk-cp/inquest/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockInvestigations struct {
	mock.Mock
}

func (m *mockInvestigations) Start(ctx context.Context, tenantID uuid.UUID, in service.StartInput) (*domain.Chronicle, error) {
	args := m.Called(ctx, tenantID, in)
	c, _ := args.Get(0).(*domain.Chronicle)
	return c, args.Error(1)
}

func (m *mockInvestigations) GetChronicle(ctx context.Context, tenantID, id uuid.UUID) (*domain.Chronicle, error) {
	args := m.Called(ctx, tenantID, id)
	c, _ := args.Get(0).(*domain.Chronicle)
	return c, args.Error(1)
}

func (m *mockInvestigations) GetHypotheses(ctx context.Context, tenantID, id uuid.UUID) ([]domain.RankedHypothesis, error) {
	args := m.Called(ctx, tenantID, id)
	r, _ := args.Get(0).([]domain.RankedHypothesis)
	return r, args.Error(1)
}

func (m *mockInvestigations) Status(ctx context.Context, tenantID, id uuid.UUID) (*service.InvestigationStatus, error) {
	args := m.Called(ctx, tenantID, id)
	s, _ := args.Get(0).(*service.InvestigationStatus)
	return s, args.Error(1)
}

func (m *mockInvestigations) SubmitDecision(ctx context.Context, tenantID, id uuid.UUID, in domain.DecisionInput) (*domain.HumanDecisionPoint, error) {
	args := m.Called(ctx, tenantID, id, in)
	d, _ := args.Get(0).(*domain.HumanDecisionPoint)
	return d, args.Error(1)
}

func (m *mockInvestigations) Stop(ctx context.Context, tenantID, id uuid.UUID) error {
	return m.Called(ctx, tenantID, id).Error(0)
}

func (m *mockInvestigations) List(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error) {
	args := m.Called(ctx, tenantID, limit)
	s, _ := args.Get(0).([]domain.ChronicleSummary)
	return s, args.Error(1)
}

type mockLessons struct {
	mock.Mock
}

func (m *mockLessons) Similar(ctx context.Context, tenantID uuid.UUID, text string, topK int) ([]domain.LessonWithScore, error) {
	args := m.Called(ctx, tenantID, text, topK)
	l, _ := args.Get(0).([]domain.LessonWithScore)
	return l, args.Error(1)
}

var testTenant = &domain.Tenant{ID: uuid.MustParse("7f1d3c2a-0000-4000-8000-000000000001"), Name: "acme"}

func withTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithTenant(r.Context(), testTenant)))
	})
}

func newTestRouter(inv Investigations, lessons LessonSearcher) http.Handler {
	ih := NewInvestigationHandler(inv)
	lh := NewLessonHandler(lessons)
	r := chi.NewRouter()
	r.Use(withTenant)
	r.Post("/v1/investigations", ih.Start)
	r.Get("/v1/investigations", ih.List)
	r.Get("/v1/investigations/{id}", ih.Status)
	r.Get("/v1/investigations/{id}/chronicle", ih.Chronicle)
	r.Get("/v1/investigations/{id}/hypotheses", ih.Hypotheses)
	r.Post("/v1/investigations/{id}/decisions", ih.Decide)
	r.Post("/v1/investigations/{id}/stop", ih.Stop)
	r.Get("/v1/lessons/similar", lh.Similar)
	return r
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInvestigationHandler_Start(t *testing.T) {
	inv := &mockInvestigations{}
	c := domain.NewChronicle(uuid.New(), testTenant.ID, "checkout", []string{"p99 latency above 2s"}, domain.DefaultInvestigationConfig())
	c.PriorLessons = []string{"checkout: pool exhaustion was disproven"}
	inv.On("Start", mock.Anything, testTenant.ID, mock.MatchedBy(func(in service.StartInput) bool {
		return in.Service == "checkout" && len(in.Symptoms) == 1 && in.Overrides.Budget != nil && *in.Overrides.Budget == 5
	})).Return(c, nil)

	rec := do(newTestRouter(inv, &mockLessons{}), http.MethodPost, "/v1/investigations",
		`{"service":"checkout","symptoms":["p99 latency above 2s"],"config":{"budget":5}}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startInvestigationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, c.InvestigationID, resp.InvestigationID)
	assert.Equal(t, domain.PhaseTriggered, resp.Phase)
	assert.Len(t, resp.PriorLessons, 1)
	inv.AssertExpectations(t)
}

func TestInvestigationHandler_ErrorMapping(t *testing.T) {
	id := uuid.New()

	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"validation", &domain.ValidationError{Field: "kind", Message: "choice is not one of the presented options"}, http.StatusBadRequest},
		{"not found", service.ErrInvestigationNotFound, http.StatusNotFound},
		{"unknown hypothesis", domain.ErrHypothesisNotFound, http.StatusNotFound},
		{"busy", service.ErrInvestigationBusy, http.StatusConflict},
		{"not awaiting", service.ErrNotAwaitingDecision, http.StatusConflict},
		{"already decided", domain.ErrDecisionAlreadyRecorded, http.StatusConflict},
		{"illegal transition", &domain.TransitionError{From: domain.PhaseResolved, To: domain.PhaseTesting}, http.StatusConflict},
		{"budget", &domain.BudgetExceededError{Scope: "investigation", Limit: 10, Spent: 12}, http.StatusPaymentRequired},
		{"persistence", &domain.PersistenceError{Op: "save", InvestigationID: id, Err: errors.New("db down")}, http.StatusInternalServerError},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &mockInvestigations{}
			inv.On("SubmitDecision", mock.Anything, testTenant.ID, id, mock.Anything).Return(nil, tt.err)

			rec := do(newTestRouter(inv, &mockLessons{}), http.MethodPost, "/v1/investigations/"+id.String()+"/decisions",
				`{"kind":"abort","reasoning":"enough","declared_confidence":1}`)

			assert.Equal(t, tt.status, rec.Code)
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestInvestigationHandler_Decide(t *testing.T) {
	id, hypothesisID := uuid.New(), uuid.New()
	inv := &mockInvestigations{}
	decided := &domain.HumanDecisionPoint{ID: uuid.New(), ChosenKind: domain.DecisionSelect, ChosenHypothesisID: &hypothesisID, AgreesWithRecommendation: true}
	inv.On("SubmitDecision", mock.Anything, testTenant.ID, id, mock.MatchedBy(func(in domain.DecisionInput) bool {
		return in.Kind == domain.DecisionSelect && in.HypothesisID != nil && *in.HypothesisID == hypothesisID && in.DeclaredConfidence == 0.8
	})).Return(decided, nil)
	router := newTestRouter(inv, &mockLessons{})

	rec := do(router, http.MethodPost, "/v1/investigations/"+id.String()+"/decisions",
		`{"kind":"select","hypothesis_id":"`+hypothesisID.String()+`","declared_confidence":0.8}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"agrees_with_recommendation":true`)

	rec = do(router, http.MethodPost, "/v1/investigations/"+id.String()+"/decisions", `{"kind":"retry"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/v1/investigations/not-a-uuid/decisions", `{"kind":"abort"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/v1/investigations/"+id.String()+"/decisions", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	inv.AssertNumberOfCalls(t, "SubmitDecision", 1)
}

func TestInvestigationHandler_Reads(t *testing.T) {
	id := uuid.New()
	c := domain.NewChronicle(id, testTenant.ID, "checkout", []string{"slow"}, domain.DefaultInvestigationConfig())
	inv := &mockInvestigations{}
	inv.On("GetChronicle", mock.Anything, testTenant.ID, id).Return(c, nil)
	inv.On("GetHypotheses", mock.Anything, testTenant.ID, id).Return(nil, nil)
	inv.On("Status", mock.Anything, testTenant.ID, id).Return(&service.InvestigationStatus{InvestigationID: id, Report: service.ReportInProgress, Running: true}, nil)
	inv.On("Stop", mock.Anything, testTenant.ID, id).Return(nil)
	inv.On("List", mock.Anything, testTenant.ID, 10).Return([]domain.ChronicleSummary{{InvestigationID: id, Service: "checkout"}}, nil)
	router := newTestRouter(inv, &mockLessons{})

	rec := do(router, http.MethodGet, "/v1/investigations/"+id.String()+"/chronicle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"service":"checkout"`)

	rec = do(router, http.MethodGet, "/v1/investigations/"+id.String()+"/hypotheses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"hypotheses":[]}`, rec.Body.String())

	rec = do(router, http.MethodGet, "/v1/investigations/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"running":true`)

	rec = do(router, http.MethodPost, "/v1/investigations/"+id.String()+"/stop", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(router, http.MethodGet, "/v1/investigations?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id.String())

	rec = do(router, http.MethodGet, "/v1/investigations?limit=0", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	inv.AssertExpectations(t)
}

func TestLessonHandler_Similar(t *testing.T) {
	lessons := &mockLessons{}
	lessons.On("Similar", mock.Anything, testTenant.ID, "pool exhaustion", 3).Return([]domain.LessonWithScore{
		{LessonRecord: domain.LessonRecord{Statement: "connection pool exhaustion", Lessons: []string{"pool peaked at 40%"}}, Score: 0.91},
	}, nil)
	lessons.On("Similar", mock.Anything, testTenant.ID, "", 5).Return(nil, service.ErrEmptyLessonQuery)
	router := newTestRouter(&mockInvestigations{}, lessons)

	rec := do(router, http.MethodGet, "/v1/lessons/similar?q=pool+exhaustion&top_k=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pool peaked at 40%")

	rec = do(router, http.MethodGet, "/v1/lessons/similar", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodGet, "/v1/lessons/similar?q=x&top_k=100", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTenantHandler_Create(t *testing.T) {
	tenants := store.NewMemoryTenantStore()
	h := NewTenantHandler(tenants)

	rec := do(http.HandlerFunc(h.Create), http.MethodPost, "/v1/tenants", `{"name":"acme"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp createTenantResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, strings.HasPrefix(resp.APIKey, "iq_"))

	got, err := tenants.GetByAPIKeyHash(context.Background(), middleware.HashAPIKey(resp.APIKey))
	require.NoError(t, err)
	assert.Equal(t, "acme", got.Name)

	rec = do(http.HandlerFunc(h.Create), http.MethodPost, "/v1/tenants", `{"name":"  "}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(http.HandlerFunc(h.Create), http.MethodPost, "/v1/tenants", `{"name":"`+strings.Repeat("a", 101)+`"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
