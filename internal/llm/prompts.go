package llm

import (
	"fmt"
	"strings"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

const systemPrompt = `You are a specialist incident investigator working inside a falsification-driven investigation.
You never guess beyond the data you are given. Every answer is a single JSON object matching the supplied JSON schema.
Respond ONLY with JSON. No markdown, no explanation outside the JSON.`

const generationPrompt = `You are the %s investigator. Service %q is showing these symptoms:
%s

Your observations:
%s

%s

Propose between 1 and 5 testable causal hypotheses within your domain.
Do NOT restate any hypothesis listed as disproven above, even in different words.
Each hypothesis needs a statement, a rationale referencing the observations, an initial confidence between 0 and 1,
and the affected systems.`

const falsificationPrompt = `Try to DISPROVE this hypothesis about service %q.

Hypothesis: %s
Affected systems: %s

Test: %s (%s)
%s

Observations gathered so far:
%s

Probe result:
%s

State what the data would show if the hypothesis were true, what it actually shows, and whether that contradicts the hypothesis.
Only set disproven to true when the observed outcome clearly contradicts the expected outcome.
When disproven, give one to three short lessons stating what is now known to be true.`

// GenerationPromptInput is everything an agent hands the reasoning service to propose hypotheses.
type GenerationPromptInput struct {
	Agent             string
	Service           string
	Symptoms          []string
	Observations      []domain.Observation
	ConstraintContext string
}

func GenerationRequest(in GenerationPromptInput) domain.ReasoningRequest {
	constraints := in.ConstraintContext
	if strings.TrimSpace(constraints) == "" {
		constraints = "Nothing has been ruled out yet."
	}
	return domain.ReasoningRequest{
		Name:   SchemaHypothesisBatch,
		System: systemPrompt,
		Prompt: fmt.Sprintf(generationPrompt,
			in.Agent,
			in.Service,
			bulletList(in.Symptoms),
			formatObservations(in.Observations),
			constraints,
		),
		MaxTokens: 2048,
	}
}

// FalsificationPromptInput describes one disproof attempt for the reasoning service.
type FalsificationPromptInput struct {
	Service      string
	Hypothesis   *domain.Hypothesis
	Strategy     string
	Question     string
	Category     domain.StrategyCategory
	Observations []domain.Observation
	Probe        *domain.QueryResult
}

func FalsificationRequest(in FalsificationPromptInput) domain.ReasoningRequest {
	probe := "No probe was run for this test."
	if in.Probe != nil {
		probe = fmt.Sprintf("[%s] %s", in.Probe.Source, in.Probe.Summary)
		if len(in.Probe.Value) > 0 {
			probe += "\n" + truncate(string(in.Probe.Value), 2000)
		}
		if in.Probe.Empty {
			probe += "\n(the probe returned no data)"
		}
	}
	return domain.ReasoningRequest{
		Name:   SchemaFalsificationVerdict,
		System: systemPrompt,
		Prompt: fmt.Sprintf(falsificationPrompt,
			in.Service,
			in.Hypothesis.Statement,
			joinOrNone(in.Hypothesis.AffectedSystems),
			in.Strategy,
			in.Category,
			in.Question,
			formatObservations(in.Observations),
			probe,
		),
		MaxTokens: 1024,
	}
}

// userMessage appends the schema the reply must follow to the prompt.
func userMessage(req domain.ReasoningRequest) string {
	return req.Prompt + "\n\nJSON schema for your response (" + req.Name + "):\n" + schemaJSON(req.Schema)
}

func formatObservations(obs []domain.Observation) string {
	if len(obs) == 0 {
		return "- none"
	}
	var sb strings.Builder
	for _, o := range obs {
		if o.Absent {
			fmt.Fprintf(&sb, "- [%s/%s] no data: %s\n", o.Agent, o.Source, o.Interpretation)
			continue
		}
		fmt.Fprintf(&sb, "- [%s/%s] %s (confidence %.2f)\n", o.Agent, o.Source, o.Interpretation, o.Confidence)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- none reported"
	}
	return "- " + strings.Join(items, "\n- ")
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "none stated"
	}
	return strings.Join(items, ", ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
