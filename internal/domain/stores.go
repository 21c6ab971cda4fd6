package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"
)

type TenantStore interface {
	Create(ctx context.Context, t *Tenant) error
	GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*Tenant, error)
}

// ChronicleSummary is the listing view of a stored chronicle.
type ChronicleSummary struct {
	InvestigationID uuid.UUID `json:"investigation_id"`
	Service         string    `json:"service"`
	Phase           Phase     `json:"phase"`
	Outcome         Outcome   `json:"outcome"`
	TotalCost       float64   `json:"total_cost"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ChronicleStore persists whole chronicle documents.
type ChronicleStore interface {
	Save(ctx context.Context, c *Chronicle) error
	Load(ctx context.Context, investigationID uuid.UUID, tenantID uuid.UUID) (*Chronicle, error)
	ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]ChronicleSummary, error)
}

// ChroniclePruner removes finished chronicles past their retention window.
// Chronicles that are still in progress are never pruned.
type ChroniclePruner interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LessonRecord is a disproven hypothesis indexed across investigations.
type LessonRecord struct {
	ID              uuid.UUID `json:"id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	InvestigationID uuid.UUID `json:"investigation_id"`
	HypothesisID    uuid.UUID `json:"hypothesis_id"`
	Service         string    `json:"service"`
	Statement       string    `json:"statement"`
	Lessons         []string  `json:"lessons"`
	Strategy        string    `json:"strategy,omitempty"`
	Embedding       []float32 `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
}

type LessonWithScore struct {
	LessonRecord
	Score float32 `json:"score"`
}

type LessonStore interface {
	Create(ctx context.Context, l *LessonRecord) error
	FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]LessonWithScore, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// ReasoningRequest asks the reasoning service for a structured response.
// Schema describes the only shape the caller will accept.
type ReasoningRequest struct {
	Name      string
	System    string
	Prompt    string
	Schema    *jsonschema.Schema
	MaxTokens int
}

type ReasoningResponse struct {
	Content      json.RawMessage
	Model        string
	InputTokens  int
	OutputTokens int
	Cost         float64
}

// ReasoningClient is the narrow contract to an external inference service.
type ReasoningClient interface {
	Generate(ctx context.Context, req ReasoningRequest) (*ReasoningResponse, error)
}

type DomainQuery struct {
	Source  string    `json:"source"`
	Service string    `json:"service"`
	Expr    string    `json:"expr"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
}

type QueryResult struct {
	Source  string          `json:"source"`
	Summary string          `json:"summary"`
	Value   json.RawMessage `json:"value,omitempty"`
	Empty   bool            `json:"empty"`
	Cost    float64         `json:"cost"`
}

// DataSource is the adapter to a metrics, log, trace or event backend.
type DataSource interface {
	Query(ctx context.Context, q DomainQuery) (*QueryResult, error)
	Sources() []string
}
