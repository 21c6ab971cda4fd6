package datasource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"gopkg.in/yaml.v3"
)

// Fixture is a canned answer for one source/expr pair.
type Fixture struct {
	Source  string  `yaml:"source"`
	Expr    string  `yaml:"expr"`
	Summary string  `yaml:"summary"`
	Value   any     `yaml:"value"`
	Empty   bool    `yaml:"empty"`
	Cost    float64 `yaml:"cost"`
	Error   string  `yaml:"error"`
}

type fixtureFile struct {
	Sources  []string  `yaml:"sources"`
	Fixtures []Fixture `yaml:"fixtures"`
}

// StaticSource answers queries from fixtures. Unknown queries return an empty
// result. It backs tests and offline runs.
type StaticSource struct {
	mu        sync.Mutex
	sources   []string
	results   map[string]*domain.QueryResult
	failures  map[string]error
	QueryCost float64
	Queries   []domain.DomainQuery
}

var _ domain.DataSource = (*StaticSource)(nil)

func NewStaticSource(sources ...string) *StaticSource {
	if len(sources) == 0 {
		sources = DefaultSources
	}
	return &StaticSource{
		sources:  append([]string(nil), sources...),
		results:  make(map[string]*domain.QueryResult),
		failures: make(map[string]error),
	}
}

// LoadFixtures reads a YAML fixture file.
func LoadFixtures(path string) (*StaticSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures: %w", err)
	}
	var ff fixtureFile
	if err := yaml.Unmarshal(data, &ff); err != nil {
		return nil, fmt.Errorf("parse fixtures: %w", err)
	}

	s := NewStaticSource(ff.Sources...)
	for _, f := range ff.Fixtures {
		if f.Error != "" {
			s.Fail(f.Source, f.Expr, errors.New(f.Error))
			continue
		}
		var raw json.RawMessage
		if f.Value != nil {
			raw, err = json.Marshal(f.Value)
			if err != nil {
				return nil, fmt.Errorf("fixture %s/%s value: %w", f.Source, f.Expr, err)
			}
		}
		s.Set(f.Source, f.Expr, &domain.QueryResult{
			Source:  f.Source,
			Summary: f.Summary,
			Value:   raw,
			Empty:   f.Empty || raw == nil,
			Cost:    f.Cost,
		})
	}
	return s, nil
}

func key(source, expr string) string { return source + "\x00" + expr }

// Set registers the result for a source/expr pair.
func (s *StaticSource) Set(source, expr string, r *domain.QueryResult) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[key(source, expr)] = r
	return s
}

// Fail makes a source/expr pair return err.
func (s *StaticSource) Fail(source, expr string, err error) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[key(source, expr)] = err
	return s
}

func (s *StaticSource) Sources() []string {
	return append([]string(nil), s.sources...)
}

func (s *StaticSource) Query(ctx context.Context, q domain.DomainQuery) (*domain.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Queries = append(s.Queries, q)

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !contains(s.sources, q.Source) {
		return nil, fmt.Errorf("datasource %q not available", q.Source)
	}
	if err := s.failures[key(q.Source, q.Expr)]; err != nil {
		return nil, err
	}
	if r, ok := s.results[key(q.Source, q.Expr)]; ok {
		out := *r
		if out.Cost == 0 {
			out.Cost = s.QueryCost
		}
		return &out, nil
	}
	return &domain.QueryResult{Source: q.Source, Summary: "no data", Empty: true, Cost: s.QueryCost}, nil
}

// QueryCount returns how many queries were issued.
func (s *StaticSource) QueryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Queries)
}
