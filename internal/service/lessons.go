package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultLessonTopK     = 5
	DefaultPriorLessonMin = 0.75
)

var (
	ErrLessonIndexDisabled = errors.New("lesson index is not configured")
	ErrEmptyLessonQuery    = errors.New("query text is required")
)

// LessonService indexes disproven hypotheses across investigations so later
// investigations can see what was already ruled out. It never filters
// hypotheses; results are advisory.
type LessonService struct {
	store    domain.LessonStore
	embedder domain.EmbeddingClient
	logger   *zap.Logger
}

func NewLessonService(store domain.LessonStore, embedder domain.EmbeddingClient, logger *zap.Logger) *LessonService {
	return &LessonService{store: store, embedder: embedder, logger: logger}
}

func (s *LessonService) Enabled() bool {
	return s != nil && s.store != nil && s.embedder != nil
}

func lessonText(statement string, lessons []string) string {
	if len(lessons) == 0 {
		return statement
	}
	return statement + "\n" + strings.Join(lessons, "\n")
}

// Index embeds and stores one disproven hypothesis.
func (s *LessonService) Index(ctx context.Context, c *domain.Chronicle, d domain.DisprovenHypothesis) error {
	if !s.Enabled() {
		return ErrLessonIndexDisabled
	}
	emb, err := s.embedder.Embed(ctx, lessonText(d.Hypothesis.Statement, d.LessonsLearned))
	if err != nil {
		return fmt.Errorf("embed lesson: %w", err)
	}

	rec := &domain.LessonRecord{
		ID:              uuid.New(),
		TenantID:        c.TenantID,
		InvestigationID: c.InvestigationID,
		HypothesisID:    d.Hypothesis.ID,
		Service:         c.Service,
		Statement:       d.Hypothesis.Statement,
		Lessons:         d.LessonsLearned,
		Embedding:       emb,
		CreatedAt:       time.Now().UTC(),
	}
	if d.DisprovedBy != nil {
		rec.Strategy = d.DisprovedBy.Strategy
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("store lesson: %w", err)
	}
	s.logger.Debug("lesson indexed",
		zap.String("investigation_id", c.InvestigationID.String()),
		zap.String("hypothesis_id", d.Hypothesis.ID.String()))
	return nil
}

// Similar returns the past disproven hypotheses closest to text.
func (s *LessonService) Similar(ctx context.Context, tenantID uuid.UUID, text string, topK int) ([]domain.LessonWithScore, error) {
	if !s.Enabled() {
		return nil, ErrLessonIndexDisabled
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyLessonQuery
	}
	if topK <= 0 {
		topK = DefaultLessonTopK
	}
	emb, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.FindSimilar(ctx, tenantID, emb, topK)
}

// PriorLessons renders the closest earlier lessons for a new incident.
// Matches below minScore are ignored.
func (s *LessonService) PriorLessons(ctx context.Context, tenantID uuid.UUID, service string, symptoms []string, minScore float32) ([]string, error) {
	text := service + "\n" + strings.Join(symptoms, "\n")
	matches, err := s.Similar(ctx, tenantID, text, DefaultLessonTopK)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, m := range matches {
		if m.Score < minScore {
			continue
		}
		line := fmt.Sprintf("%s: %q was disproven", m.Service, m.Statement)
		if len(m.Lessons) > 0 {
			line += " (" + strings.Join(m.Lessons, "; ") + ")"
		}
		out = append(out, line)
	}
	return out, nil
}
