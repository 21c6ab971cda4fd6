package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
)

// ThresholdFunc returns the acceptance threshold that applies to h.
type ThresholdFunc func(h *domain.Hypothesis) float64

// DecisionGate builds the decision points presented to a human.
type DecisionGate struct {
	engine    *ValidationEngine
	threshold ThresholdFunc
}

func NewDecisionGate(engine *ValidationEngine, threshold ThresholdFunc) DecisionGate {
	return DecisionGate{engine: engine, threshold: threshold}
}

// Reviewable returns the hypotheses a human may be shown: those eligible for
// acceptance and those escalated for human judgement. An active hypothesis
// below its threshold is never offered.
func (g DecisionGate) Reviewable(c *domain.Chronicle) []*domain.Hypothesis {
	var out []*domain.Hypothesis
	for _, h := range c.Candidates() {
		if h.Status == domain.HypothesisRequiresHuman || g.engine.Eligible(h, g.threshold(h)) {
			out = append(out, h)
		}
	}
	return out
}

// Rank orders reviewable hypotheses by current confidence, highest first.
// Near-duplicates are kept side by side.
func (g DecisionGate) Rank(c *domain.Chronicle) []domain.RankedHypothesis {
	hyps := g.Reviewable(c)
	sort.SliceStable(hyps, func(i, j int) bool {
		a, b := hyps[i], hyps[j]
		if a.CurrentConfidence != b.CurrentConfidence {
			return a.CurrentConfidence > b.CurrentConfidence
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID.String() < b.ID.String()
	})

	ranked := make([]domain.RankedHypothesis, len(hyps))
	for i, h := range hyps {
		ranked[i] = domain.RankedHypothesis{
			Rank:       i + 1,
			Hypothesis: h,
			Eligible:   g.engine.Eligible(h, g.threshold(h)),
		}
	}
	return ranked
}

// Open builds the decision point for the chronicle's current phase.
func (g DecisionGate) Open(c *domain.Chronicle) *domain.HumanDecisionPoint {
	d := &domain.HumanDecisionPoint{
		ID:        uuid.New(),
		Phase:     c.Phase,
		CreatedAt: time.Now().UTC(),
	}
	if c.Phase == domain.PhaseMitigating {
		g.mitigationOptions(c, d)
	} else {
		g.selectionOptions(c, d)
	}
	return d
}

func (g DecisionGate) selectionOptions(c *domain.Chronicle, d *domain.HumanDecisionPoint) {
	ranked := g.Rank(c)
	roundsLeft := c.Round < c.Config.MaxRounds

	for _, r := range ranked {
		id := r.Hypothesis.ID
		d.Options = append(d.Options, domain.DecisionOption{
			Kind:         domain.DecisionSelect,
			HypothesisID: &id,
			Label:        r.Hypothesis.Statement,
			Confidence:   r.Hypothesis.CurrentConfidence,
			Eligible:     r.Eligible,
		})
	}
	d.Options = append(d.Options, domain.DecisionOption{Kind: domain.DecisionPropose, Label: "propose a different hypothesis"})
	if roundsLeft {
		d.Options = append(d.Options, domain.DecisionOption{
			Kind:  domain.DecisionInvestigateFurther,
			Label: fmt.Sprintf("run observation round %d", c.Round+1),
		})
	}
	d.Options = append(d.Options, domain.DecisionOption{Kind: domain.DecisionAbort, Label: "abort the investigation"})

	d.Recommendation = g.recommend(ranked, roundsLeft)
}

func (g DecisionGate) recommend(ranked []domain.RankedHypothesis, roundsLeft bool) domain.Recommendation {
	for _, r := range ranked {
		if r.Eligible {
			id := r.Hypothesis.ID
			return domain.Recommendation{
				Kind:         domain.DecisionSelect,
				HypothesisID: &id,
				Confidence:   r.Hypothesis.CurrentConfidence,
				Reasoning: fmt.Sprintf("survived %d disproof attempt(s) with confidence %.2f",
					r.Hypothesis.SurvivedAttempts(), r.Hypothesis.CurrentConfidence),
			}
		}
	}
	if roundsLeft {
		return domain.Recommendation{
			Kind:      domain.DecisionInvestigateFurther,
			Reasoning: "no hypothesis has survived falsification above the confidence threshold",
		}
	}
	if len(ranked) > 0 {
		top := ranked[0].Hypothesis
		id := top.ID
		return domain.Recommendation{
			Kind:         domain.DecisionSelect,
			HypothesisID: &id,
			Confidence:   top.CurrentConfidence,
			Reasoning:    "no eligible hypothesis and no observation rounds left; this is the strongest remaining candidate",
		}
	}
	return domain.Recommendation{
		Kind:      domain.DecisionPropose,
		Reasoning: "no candidate hypotheses remain",
	}
}

func (g DecisionGate) mitigationOptions(c *domain.Chronicle, d *domain.HumanDecisionPoint) {
	label := "confirm the incident is resolved"
	var conf float64
	if c.Selected != nil {
		if h := c.Hypothesis(*c.Selected); h != nil {
			label = fmt.Sprintf("confirm mitigation of %q resolved the incident", h.Statement)
			conf = h.CurrentConfidence
		}
	}
	d.Options = []domain.DecisionOption{
		{Kind: domain.DecisionResolved, HypothesisID: c.Selected, Label: label, Confidence: conf},
		{Kind: domain.DecisionAbort, Label: "abort the investigation"},
	}
	d.Recommendation = domain.Recommendation{
		Kind:       domain.DecisionResolved,
		Confidence: conf,
		Reasoning:  "mitigate the selected root cause and confirm recovery",
	}
}
