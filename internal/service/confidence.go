package service

import (
	"math"

	"github.com/Harshitk-cp/inquest/internal/domain"
)

const (
	DefaultSupportStep       = 0.1
	DefaultSupportCap        = 0.3
	DefaultSurvivalBonus     = 0.05
	DefaultSurvivalCap       = 0.2
	DefaultContradictionStep = 0.15
	DefaultPlateauDelta      = 0.02
	DefaultPlateauWindow     = 2
)

// ConfidenceModel scores hypotheses from their evidence and disproof history.
type ConfidenceModel struct {
	SupportStep       float64
	SupportCap        float64
	SurvivalBonus     float64
	SurvivalCap       float64
	ContradictionStep float64
	PlateauDelta      float64
	PlateauWindow     int
}

func DefaultConfidenceModel() ConfidenceModel {
	return ConfidenceModel{
		SupportStep:       DefaultSupportStep,
		SupportCap:        DefaultSupportCap,
		SurvivalBonus:     DefaultSurvivalBonus,
		SurvivalCap:       DefaultSurvivalCap,
		ContradictionStep: DefaultContradictionStep,
		PlateauDelta:      DefaultPlateauDelta,
		PlateauWindow:     DefaultPlateauWindow,
	}
}

// Score computes current confidence. A disproven hypothesis always scores 0.
func (m ConfidenceModel) Score(h *domain.Hypothesis) float64 {
	if h.Status == domain.HypothesisDisproven || h.DisprovingAttempt() != nil {
		return 0
	}

	var support, contradiction float64
	for _, e := range h.Evidence {
		if e.Supports {
			support += e.Quality.Weight() * m.SupportStep
		} else {
			contradiction += e.Quality.Weight() * m.ContradictionStep
		}
	}
	support = math.Min(support, m.SupportCap)
	survival := math.Min(float64(h.SurvivedAttempts())*m.SurvivalBonus, m.SurvivalCap)

	return clamp01(h.InitialConfidence + support + survival - contradiction)
}

// Plateaued reports whether the last PlateauWindow attempts all survived and
// each moved confidence by less than PlateauDelta.
func (m ConfidenceModel) Plateaued(h *domain.Hypothesis) bool {
	n := len(h.DisproofAttempts)
	if m.PlateauWindow <= 0 || n < m.PlateauWindow {
		return false
	}
	for _, a := range h.DisproofAttempts[n-m.PlateauWindow:] {
		if a.Disproven {
			return false
		}
		if a.ConfidenceAfter-a.ConfidenceBefore >= m.PlateauDelta {
			return false
		}
	}
	return true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
