package store

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// LessonStore indexes disproven hypotheses by embedding for cross-investigation lookup.
type LessonStore struct {
	db *pgxpool.Pool
}

func NewLessonStore(db *pgxpool.Pool) *LessonStore {
	return &LessonStore{db: db}
}

func (s *LessonStore) Create(ctx context.Context, l *domain.LessonRecord) error {
	var embedding *pgvector.Vector
	if len(l.Embedding) > 0 {
		v := pgvector.NewVector(l.Embedding)
		embedding = &v
	}
	if l.Lessons == nil {
		l.Lessons = []string{}
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO disproven_lessons (tenant_id, investigation_id, hypothesis_id, service, statement, lessons, strategy, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (hypothesis_id) DO UPDATE SET lessons = EXCLUDED.lessons
		 RETURNING id, created_at`,
		l.TenantID, l.InvestigationID, l.HypothesisID, l.Service, l.Statement, l.Lessons, l.Strategy, embedding,
	).Scan(&l.ID, &l.CreatedAt)
}

func (s *LessonStore) FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]domain.LessonWithScore, error) {
	if topK <= 0 {
		topK = 5
	}
	vec := pgvector.NewVector(embedding)

	rows, err := s.db.Query(ctx,
		`SELECT id, tenant_id, investigation_id, hypothesis_id, service, statement, lessons, strategy, created_at,
			1 - (embedding <=> $1) AS score
		FROM disproven_lessons
		WHERE tenant_id = $2 AND embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $3`,
		vec, tenantID, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("find similar lessons query: %w", err)
	}
	defer rows.Close()

	var results []domain.LessonWithScore
	for rows.Next() {
		var l domain.LessonWithScore
		if err := rows.Scan(&l.ID, &l.TenantID, &l.InvestigationID, &l.HypothesisID, &l.Service, &l.Statement,
			&l.Lessons, &l.Strategy, &l.CreatedAt, &l.Score); err != nil {
			return nil, fmt.Errorf("scan similar lesson row: %w", err)
		}
		results = append(results, l)
	}
	return results, rows.Err()
}
