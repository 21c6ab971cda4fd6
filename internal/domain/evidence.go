package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EvidenceQuality rates how evidence was obtained. It is independent of the
// confidence of the observation it came from.
type EvidenceQuality string

const (
	QualityDirect         EvidenceQuality = "direct"
	QualityCorroborated   EvidenceQuality = "corroborated"
	QualityIndirect       EvidenceQuality = "indirect"
	QualityCircumstantial EvidenceQuality = "circumstantial"
	QualityWeak           EvidenceQuality = "weak"
)

// Weight returns the multiplier applied to this quality during scoring.
func (q EvidenceQuality) Weight() float64 {
	switch q {
	case QualityDirect:
		return 1.0
	case QualityCorroborated:
		return 0.9
	case QualityIndirect:
		return 0.6
	case QualityCircumstantial:
		return 0.3
	case QualityWeak:
		return 0.1
	default:
		return 0
	}
}

func ValidEvidenceQuality(q string) bool {
	switch EvidenceQuality(q) {
	case QualityDirect, QualityCorroborated, QualityIndirect, QualityCircumstantial, QualityWeak:
		return true
	}
	return false
}

func AllEvidenceQualities() []EvidenceQuality {
	return []EvidenceQuality{QualityDirect, QualityCorroborated, QualityIndirect, QualityCircumstantial, QualityWeak}
}

// Observation is a single fact gathered from a data source. Immutable once created.
type Observation struct {
	ID             uuid.UUID       `json:"id"`
	Agent          string          `json:"agent"`
	Source         string          `json:"source"`
	Query          string          `json:"query,omitempty"`
	Value          json.RawMessage `json:"value,omitempty"`
	Interpretation string          `json:"interpretation"`
	Confidence     float64         `json:"confidence"`
	Timestamp      time.Time       `json:"timestamp"`
	Cost           float64         `json:"cost"`
	Round          int             `json:"round"`
	// Absent marks a query that failed or returned nothing usable.
	Absent bool `json:"absent,omitempty"`
}

// Evidence attaches one or more observations to a hypothesis, either in
// support of it or contradicting it.
type Evidence struct {
	ID             uuid.UUID       `json:"id"`
	ObservationIDs []uuid.UUID     `json:"observation_ids,omitempty"`
	Summary        string          `json:"summary"`
	Quality        EvidenceQuality `json:"quality"`
	Supports       bool            `json:"supports"`
	AddedBy        string          `json:"added_by"`
	AddedAt        time.Time       `json:"added_at"`
}

func NewEvidence(summary string, quality EvidenceQuality, supports bool, addedBy string, observationIDs ...uuid.UUID) Evidence {
	return Evidence{
		ID:             uuid.New(),
		ObservationIDs: observationIDs,
		Summary:        summary,
		Quality:        quality,
		Supports:       supports,
		AddedBy:        addedBy,
		AddedAt:        time.Now().UTC(),
	}
}
