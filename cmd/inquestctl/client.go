package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/Harshitk-cp/inquest/internal/service"
	"github.com/google/uuid"
)

// apiError is a non-2xx response from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

type client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func newClient(baseURL, apiKey string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &apiError{Status: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type startResponse struct {
	InvestigationID uuid.UUID    `json:"investigation_id"`
	Phase           domain.Phase `json:"phase"`
	PriorLessons    []string     `json:"prior_lessons"`
}

func (c *client) Start(ctx context.Context, in service.StartInput) (*startResponse, error) {
	var out startResponse
	if err := c.do(ctx, http.MethodPost, "/v1/investigations", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) List(ctx context.Context, limit int) ([]domain.ChronicleSummary, error) {
	path := "/v1/investigations"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var out struct {
		Investigations []domain.ChronicleSummary `json:"investigations"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Investigations, nil
}

func (c *client) Status(ctx context.Context, id uuid.UUID) (*service.InvestigationStatus, error) {
	var out service.InvestigationStatus
	if err := c.do(ctx, http.MethodGet, "/v1/investigations/"+id.String(), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Hypotheses(ctx context.Context, id uuid.UUID) ([]domain.RankedHypothesis, error) {
	var out struct {
		Hypotheses []domain.RankedHypothesis `json:"hypotheses"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/investigations/"+id.String()+"/hypotheses", nil, &out); err != nil {
		return nil, err
	}
	return out.Hypotheses, nil
}

// Chronicle returns the raw audit document so it can be printed unchanged.
func (c *client) Chronicle(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/v1/investigations/"+id.String()+"/chronicle", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) Decide(ctx context.Context, id uuid.UUID, in domain.DecisionInput) (*domain.HumanDecisionPoint, error) {
	var out domain.HumanDecisionPoint
	if err := c.do(ctx, http.MethodPost, "/v1/investigations/"+id.String()+"/decisions", in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) Stop(ctx context.Context, id uuid.UUID) error {
	return c.do(ctx, http.MethodPost, "/v1/investigations/"+id.String()+"/stop", nil, nil)
}

func (c *client) SimilarLessons(ctx context.Context, query string, topK int) ([]domain.LessonWithScore, error) {
	q := url.Values{}
	q.Set("q", query)
	if topK > 0 {
		q.Set("top_k", strconv.Itoa(topK))
	}
	var out struct {
		Lessons []domain.LessonWithScore `json:"lessons"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/lessons/similar?"+q.Encode(), nil, &out); err != nil {
		return nil, err
	}
	return out.Lessons, nil
}
