package datasource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

// Source names understood by the query backend.
const (
	SourceMetrics = "metrics"
	SourceLogs    = "logs"
	SourceTraces  = "traces"
	SourceEvents  = "events"
)

var DefaultSources = []string{SourceMetrics, SourceLogs, SourceTraces, SourceEvents}

// HTTPSource queries a metrics/logs/traces/events backend over a JSON API.
// Each source is served at <base>/api/v1/query/<source>.
type HTTPSource struct {
	baseURL    string
	sources    []string
	queryCost  float64
	httpClient *http.Client
}

var _ domain.DataSource = (*HTTPSource)(nil)

// NewHTTPSource constructs a source targeting baseURL. queryCost is charged for
// every query the backend does not price itself.
func NewHTTPSource(baseURL string, sources []string, timeout time.Duration, queryCost float64) *HTTPSource {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &HTTPSource{
		baseURL:   strings.TrimRight(baseURL, "/"),
		sources:   append([]string(nil), sources...),
		queryCost: queryCost,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

func (s *HTTPSource) Sources() []string {
	return append([]string(nil), s.sources...)
}

func (s *HTTPSource) Query(ctx context.Context, q domain.DomainQuery) (*domain.QueryResult, error) {
	if s.baseURL == "" {
		return nil, fmt.Errorf("datasource base URL not configured")
	}
	if !contains(s.sources, q.Source) {
		return nil, fmt.Errorf("datasource %q not available", q.Source)
	}

	payload := map[string]any{
		"service": q.Service,
		"expr":    q.Expr,
		"start":   q.Start.UTC().Format(time.RFC3339),
		"end":     q.End.UTC().Format(time.RFC3339),
	}

	var response struct {
		Summary string          `json:"summary"`
		Value   json.RawMessage `json:"value"`
		Empty   bool            `json:"empty"`
		Cost    *float64        `json:"cost"`
	}
	if err := s.postJSON(ctx, s.endpoint("/api/v1/query/"+q.Source), payload, &response); err != nil {
		return nil, fmt.Errorf("%s query failed: %w", q.Source, err)
	}

	cost := s.queryCost
	if response.Cost != nil {
		cost = *response.Cost
	}
	empty := response.Empty || len(response.Value) == 0 || string(response.Value) == "null"
	return &domain.QueryResult{
		Source:  q.Source,
		Summary: response.Summary,
		Value:   response.Value,
		Empty:   empty,
		Cost:    cost,
	}, nil
}

func (s *HTTPSource) endpoint(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(s.baseURL)
	if err != nil {
		return s.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (s *HTTPSource) postJSON(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("datasource returned %s", resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func contains(items []string, v string) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
