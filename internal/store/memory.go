package store

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"github.com/google/uuid"
)

// The in-memory stores back a server started without DATABASE_URL and the
// tests. They keep serialized copies so callers never share state with them.

type storedChronicle struct {
	tenantID uuid.UUID
	version  int
	doc      []byte
	summary  domain.ChronicleSummary
}

type MemoryChronicleStore struct {
	mu    sync.RWMutex
	docs  map[uuid.UUID]storedChronicle
	err   error
	saves int
}

func NewMemoryChronicleStore() *MemoryChronicleStore {
	return &MemoryChronicleStore{docs: make(map[uuid.UUID]storedChronicle)}
}

func (s *MemoryChronicleStore) Save(ctx context.Context, c *domain.Chronicle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if existing, ok := s.docs[c.InvestigationID]; ok && existing.tenantID != c.TenantID {
		return ErrConflict
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal chronicle: %w", err)
	}
	s.docs[c.InvestigationID] = storedChronicle{
		tenantID: c.TenantID,
		version:  c.SchemaVersion,
		doc:      doc,
		summary: domain.ChronicleSummary{
			InvestigationID: c.InvestigationID,
			Service:         c.Service,
			Phase:           c.Phase,
			Outcome:         c.Outcome,
			TotalCost:       c.TotalCost,
			CreatedAt:       c.CreatedAt,
			UpdatedAt:       c.UpdatedAt,
		},
	}
	s.saves++
	return nil
}

func (s *MemoryChronicleStore) Load(ctx context.Context, investigationID uuid.UUID, tenantID uuid.UUID) (*domain.Chronicle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.docs[investigationID]
	if !ok || sc.tenantID != tenantID {
		return nil, ErrNotFound
	}
	return decodeChronicle(sc.version, sc.doc)
}

func (s *MemoryChronicleStore) ListByTenant(ctx context.Context, tenantID uuid.UUID, limit int) ([]domain.ChronicleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ChronicleSummary
	for _, sc := range s.docs {
		if sc.tenantID == tenantID {
			out = append(out, sc.summary)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryChronicleStore) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var deleted int64
	for id, sc := range s.docs {
		if sc.summary.Outcome != domain.OutcomeInProgress && sc.summary.UpdatedAt.Before(cutoff) {
			delete(s.docs, id)
			deleted++
		}
	}
	return deleted, nil
}

// SaveCount returns how many times Save succeeded.
func (s *MemoryChronicleStore) SaveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}

// SetErr makes every following Save fail with err.
func (s *MemoryChronicleStore) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

type MemoryTenantStore struct {
	mu      sync.RWMutex
	tenants map[string]domain.Tenant
}

func NewMemoryTenantStore() *MemoryTenantStore {
	return &MemoryTenantStore{tenants: make(map[string]domain.Tenant)}
}

func (s *MemoryTenantStore) Create(ctx context.Context, t *domain.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tenants[t.APIKeyHash]; ok {
		return ErrConflict
	}
	now := time.Now().UTC()
	t.ID = uuid.New()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.tenants[t.APIKeyHash] = *t
	return nil
}

func (s *MemoryTenantStore) GetByAPIKeyHash(ctx context.Context, apiKeyHash string) (*domain.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[apiKeyHash]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

type MemoryLessonStore struct {
	mu      sync.RWMutex
	lessons []domain.LessonRecord
}

func NewMemoryLessonStore() *MemoryLessonStore {
	return &MemoryLessonStore{}
}

func (s *MemoryLessonStore) Create(ctx context.Context, l *domain.LessonRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.lessons {
		if existing.HypothesisID == l.HypothesisID {
			s.lessons[i].Lessons = append([]string(nil), l.Lessons...)
			l.ID, l.CreatedAt = existing.ID, existing.CreatedAt
			return nil
		}
	}
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	rec := *l
	rec.Lessons = append([]string(nil), l.Lessons...)
	rec.Embedding = append([]float32(nil), l.Embedding...)
	s.lessons = append(s.lessons, rec)
	return nil
}

func (s *MemoryLessonStore) FindSimilar(ctx context.Context, tenantID uuid.UUID, embedding []float32, topK int) ([]domain.LessonWithScore, error) {
	if topK <= 0 {
		topK = 5
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.LessonWithScore
	for _, l := range s.lessons {
		if l.TenantID != tenantID || len(l.Embedding) == 0 {
			continue
		}
		out = append(out, domain.LessonWithScore{LessonRecord: l, Score: cosine(embedding, l.Embedding)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
