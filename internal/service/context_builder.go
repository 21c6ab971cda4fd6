package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

const (
	DefaultContextMaxDisproven   = 20
	DefaultContextMaxConstraints = 50
	DefaultContextMaxChars       = 8000

	truncatedMarker = "[... truncated]"
)

// ContextBuilder renders the chronicle into the bounded constraint block
// handed to hypothesis generation. Output is deterministic for a given chronicle.
type ContextBuilder struct {
	MaxDisproven   int
	MaxConstraints int
	MaxChars       int
}

func NewContextBuilder() ContextBuilder {
	return ContextBuilder{
		MaxDisproven:   DefaultContextMaxDisproven,
		MaxConstraints: DefaultContextMaxConstraints,
		MaxChars:       DefaultContextMaxChars,
	}
}

// Build returns the constraint context. When the full rendering exceeds
// MaxChars the oldest disproven hypotheses are dropped first, then
// constraints, and every drop is replaced by an explicit marker.
func (b ContextBuilder) Build(c *domain.Chronicle) string {
	maxDisproven := b.MaxDisproven
	if maxDisproven <= 0 || maxDisproven > len(c.Disproven) {
		maxDisproven = len(c.Disproven)
	}
	maxConstraints := b.MaxConstraints
	if maxConstraints <= 0 || maxConstraints > len(c.Constraints) {
		maxConstraints = len(c.Constraints)
	}

	out := b.render(c, maxDisproven, maxConstraints)
	if b.MaxChars <= 0 {
		return out
	}
	for len(out) > b.MaxChars && maxDisproven > 0 {
		maxDisproven--
		out = b.render(c, maxDisproven, maxConstraints)
	}
	for len(out) > b.MaxChars && maxConstraints > 0 {
		maxConstraints--
		out = b.render(c, maxDisproven, maxConstraints)
	}
	if len(out) > b.MaxChars {
		cut := b.MaxChars - len(truncatedMarker) - 1
		if cut < 0 {
			cut = 0
		}
		out = out[:cut] + "\n" + truncatedMarker
	}
	return out
}

func (b ContextBuilder) render(c *domain.Chronicle, keepDisproven, keepConstraints int) string {
	var sb strings.Builder

	sb.WriteString("## Already disproven (do not propose these again)\n")
	if len(c.Disproven) == 0 {
		sb.WriteString("none\n")
	} else {
		omitted := len(c.Disproven) - keepDisproven
		if omitted > 0 {
			fmt.Fprintf(&sb, "[... %d older disproven hypotheses omitted]\n", omitted)
		}
		kept := c.Disproven[omitted:]
		for _, group := range groupByAgent(kept) {
			fmt.Fprintf(&sb, "### from %s\n", group.agent)
			for _, d := range group.items {
				fmt.Fprintf(&sb, "- %q\n", d.Hypothesis.Statement)
				for _, l := range d.LessonsLearned {
					fmt.Fprintf(&sb, "  lesson: %s\n", l)
				}
			}
		}
	}

	sb.WriteString("\n## Active constraints\n")
	if len(c.Constraints) == 0 {
		sb.WriteString("none\n")
	} else {
		for _, con := range c.Constraints[:keepConstraints] {
			fmt.Fprintf(&sb, "- %s\n", con)
		}
		if omitted := len(c.Constraints) - keepConstraints; omitted > 0 {
			fmt.Fprintf(&sb, "[... %d more constraints omitted]\n", omitted)
		}
	}

	sb.WriteString("\n## Already under investigation\n")
	active := c.Candidates()
	if len(active) == 0 {
		sb.WriteString("none\n")
	} else {
		for _, h := range active {
			fmt.Fprintf(&sb, "- %q (%s, confidence %.2f)\n", h.Statement, h.Status, h.CurrentConfidence)
		}
	}

	if len(c.PriorLessons) > 0 {
		sb.WriteString("\n## Lessons from earlier investigations\n")
		for _, l := range c.PriorLessons {
			fmt.Fprintf(&sb, "- %s\n", l)
		}
	}

	return sb.String()
}

type disprovenGroup struct {
	agent string
	items []domain.DisprovenHypothesis
}

// groupByAgent groups by generating agent, agents sorted by name, items in
// chronicle order.
func groupByAgent(ds []domain.DisprovenHypothesis) []disprovenGroup {
	idx := map[string]int{}
	var groups []disprovenGroup
	for _, d := range ds {
		agent := d.Hypothesis.GeneratedBy
		if agent == "" {
			agent = "unknown"
		}
		i, ok := idx[agent]
		if !ok {
			i = len(groups)
			idx[agent] = i
			groups = append(groups, disprovenGroup{agent: agent})
		}
		groups[i].items = append(groups[i].items, d)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].agent < groups[j].agent })
	return groups
}
