package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ChronicleStore keeps each chronicle as one versioned JSONB document.
// The indexed columns mirror document fields for listing.
type ChronicleStore struct {
	db *pgxpool.Pool
}

func NewChronicleStore(db *pgxpool.Pool) *ChronicleStore {
	return &ChronicleStore{db: db}
}

func (s *ChronicleStore) Save(ctx context.Context, c *domain.Chronicle) error {
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chronicle: %w", err)
	}
	tag, err := s.db.Exec(ctx,
		`INSERT INTO chronicles (investigation_id, tenant_id, service, phase, outcome, total_cost, schema_version, document, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (investigation_id) DO UPDATE SET
			phase = EXCLUDED.phase,
			outcome = EXCLUDED.outcome,
			total_cost = EXCLUDED.total_cost,
			schema_version = EXCLUDED.schema_version,
			document = EXCLUDED.document,
			updated_at = EXCLUDED.updated_at
		 WHERE chronicles.tenant_id = EXCLUDED.tenant_id`,
		c.InvestigationID, c.TenantID, c.Service, c.Phase, c.Outcome, c.TotalCost, c.SchemaVersion, doc, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save chronicle: %w", err)
	}
	// the conflict clause skips rows owned by another tenant
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (s *ChronicleStore) Load(ctx context.Context, investigationID uuid.UUID, tenantID uuid.UUID) (*domain.Chronicle, error) {
	var (
		version int
		doc     []byte
	)
	err := s.db.QueryRow(ctx,
		`SELECT schema_version, document FROM chronicles
		 WHERE investigation_id = $1 AND tenant_id = $2`,
		investigationID, tenantID,
	).Scan(&version, &doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeChronicle(version, doc)
}

func decodeChronicle(version int, doc []byte) (*domain.Chronicle, error) {
	if version > domain.ChronicleSchemaVersion {
		return nil, fmt.Errorf("chronicle schema version %d is newer than supported version %d", version, domain.ChronicleSchemaVersion)
	}
	var c domain.Chronicle
	if err := json.Unmarshal(doc, &c); err != nil {
		return nil, fmt.Errorf("unmarshal chronicle: %w", err)
	}
	return &c, nil
}

func (s *ChronicleStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT investigation_id, service, phase, outcome, total_cost, created_at, updated_at
		 FROM chronicles WHERE tenant_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		tenantID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ChronicleSummary
	for rows.Next() {
		var sum domain.ChronicleSummary
		if err := rows.Scan(&sum.InvestigationID, &sum.Service, &sum.Phase, &sum.Outcome, &sum.TotalCost, &sum.CreatedAt, &sum.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan chronicle summary: %w", err)
		}
		out = append(out, sum)
	}
	return out, rows.Err()
}

func (s *ChronicleStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM chronicles WHERE outcome <> $1 AND updated_at < $2`,
		domain.OutcomeInProgress, cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
