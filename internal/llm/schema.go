package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/jsonschema-go/jsonschema"
)

// Schema names sent with each reasoning request.
const (
	SchemaHypothesisBatch      = "hypothesis_batch"
	SchemaFalsificationVerdict = "falsification_verdict"
)

const (
	MinHypothesesPerBatch = 1
	MaxHypothesesPerBatch = 5
)

// HypothesisProposal is one candidate hypothesis returned by the reasoning service.
type HypothesisProposal struct {
	Statement       string   `json:"statement" jsonschema:"a single testable causal statement about the incident"`
	Rationale       string   `json:"rationale" jsonschema:"which observations point to this cause"`
	Confidence      float64  `json:"confidence" jsonschema:"initial confidence between 0 and 1"`
	AffectedSystems []string `json:"affected_systems" jsonschema:"systems the cause lives in"`
}

type HypothesisBatch struct {
	Hypotheses []HypothesisProposal `json:"hypotheses" jsonschema:"between 1 and 5 distinct hypotheses"`
}

// FalsificationVerdict is the structured outcome of one disproof attempt.
type FalsificationVerdict struct {
	ExpectedIfTrue  string   `json:"expected_outcome_if_hypothesis_true" jsonschema:"what the data would show if the hypothesis were true"`
	ObservedOutcome string   `json:"observed_outcome" jsonschema:"what the data actually shows"`
	Disproven       bool     `json:"disproven" jsonschema:"true only if the observed outcome contradicts the expected outcome"`
	Reasoning       string   `json:"reasoning" jsonschema:"why the observation does or does not contradict the hypothesis"`
	Quality         string   `json:"evidence_quality" jsonschema:"how directly the observation was obtained"`
	Lessons         []string `json:"lessons,omitempty" jsonschema:"short declarative constraints learned when disproven"`
}

// HypothesisBatchSchema is the schema every generation response must satisfy.
func HypothesisBatchSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[HypothesisBatch](nil)
	if err != nil {
		return nil, fmt.Errorf("derive %s schema: %w", SchemaHypothesisBatch, err)
	}
	if hs := s.Properties["hypotheses"]; hs != nil {
		hs.MinItems = intPtr(MinHypothesesPerBatch)
		hs.MaxItems = intPtr(MaxHypothesesPerBatch)
		if hs.Items != nil {
			if conf := hs.Items.Properties["confidence"]; conf != nil {
				conf.Minimum = floatPtr(0)
				conf.Maximum = floatPtr(1)
			}
			if stmt := hs.Items.Properties["statement"]; stmt != nil {
				stmt.MinLength = intPtr(1)
			}
		}
	}
	return s, nil
}

func FalsificationVerdictSchema() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[FalsificationVerdict](nil)
	if err != nil {
		return nil, fmt.Errorf("derive %s schema: %w", SchemaFalsificationVerdict, err)
	}
	if q := s.Properties["evidence_quality"]; q != nil {
		for _, v := range domain.AllEvidenceQualities() {
			q.Enum = append(q.Enum, string(v))
		}
	}
	return s, nil
}

// Decode validates content against schema and unmarshals it into T.
// Anything that fails validation is returned as a *domain.SchemaViolationError.
func Decode[T any](name string, schema *jsonschema.Schema, content []byte) (T, error) {
	var out T
	content = []byte(stripFences(string(content)))

	var instance any
	if err := json.Unmarshal(content, &instance); err != nil {
		return out, &domain.SchemaViolationError{Schema: name, Err: fmt.Errorf("not JSON: %w", err)}
	}
	if schema != nil {
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return out, fmt.Errorf("resolve %s schema: %w", name, err)
		}
		if err := resolved.Validate(instance); err != nil {
			return out, &domain.SchemaViolationError{Schema: name, Err: err}
		}
	}
	if err := json.Unmarshal(content, &out); err != nil {
		return out, &domain.SchemaViolationError{Schema: name, Err: err}
	}
	return out, nil
}

// Structured sends req with the given schema attached and decodes the validated reply.
// The response is returned even when decoding fails so its cost can be charged.
func Structured[T any](ctx context.Context, client domain.ReasoningClient, req domain.ReasoningRequest, schema *jsonschema.Schema) (T, *domain.ReasoningResponse, error) {
	var zero T
	req.Schema = schema
	resp, err := client.Generate(ctx, req)
	if err != nil {
		return zero, nil, err
	}
	out, err := Decode[T](req.Name, schema, resp.Content)
	if err != nil {
		return zero, resp, err
	}
	return out, resp, nil
}

// stripFences removes markdown code fences some models wrap JSON in.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func schemaJSON(s *jsonschema.Schema) string {
	if s == nil {
		return "{}"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }
