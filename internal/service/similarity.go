package service

import (
	"sort"
	"strings"
	"unicode"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
)

// DefaultSimilarityThreshold is the token overlap above which two statements
// are flagged as near-duplicates. The flag is advisory and never filters.
const DefaultSimilarityThreshold = 0.7

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "was": {}, "were": {}, "be": {},
	"of": {}, "in": {}, "on": {}, "to": {}, "for": {}, "by": {}, "and": {}, "or": {},
	"due": {}, "caused": {}, "causing": {}, "from": {}, "with": {}, "at": {}, "its": {},
}

// Tokens returns the lowercased content words of s.
func Tokens(s string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if _, stop := stopwords[w]; stop {
			continue
		}
		out[w] = struct{}{}
	}
	return out
}

// Jaccard returns the token overlap of two statements in [0,1].
func Jaccard(a, b string) float64 {
	ta, tb := Tokens(a), Tokens(b)
	if len(ta) == 0 && len(tb) == 0 {
		return 0
	}
	inter := 0
	for t := range ta {
		if _, ok := tb[t]; ok {
			inter++
		}
	}
	union := len(ta) + len(tb) - inter
	return float64(inter) / float64(union)
}

// SimilarityNotes compares a statement against the chronicle's disproven and
// existing hypotheses and returns notes for those at or above threshold,
// highest score first.
func SimilarityNotes(statement string, self uuid.UUID, c *domain.Chronicle, threshold float64) []domain.SimilarityNote {
	var notes []domain.SimilarityNote
	seen := map[uuid.UUID]bool{self: true}
	for _, d := range c.Disproven {
		if seen[d.Hypothesis.ID] {
			continue
		}
		seen[d.Hypothesis.ID] = true
		if score := Jaccard(statement, d.Hypothesis.Statement); score >= threshold {
			notes = append(notes, domain.SimilarityNote{
				HypothesisID: d.Hypothesis.ID,
				Statement:    d.Hypothesis.Statement,
				Score:        score,
				Disproven:    true,
			})
		}
	}
	for _, h := range c.Hypotheses {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		if score := Jaccard(statement, h.Statement); score >= threshold {
			notes = append(notes, domain.SimilarityNote{
				HypothesisID: h.ID,
				Statement:    h.Statement,
				Score:        score,
				Disproven:    h.Status == domain.HypothesisDisproven,
			})
		}
	}
	sort.SliceStable(notes, func(i, j int) bool { return notes[i].Score > notes[j].Score })
	return notes
}
