package service

import (
	"context"
	"sync"
	"time"

	"github.com/Harshitk-cp/inquest/internal/domain"
	"go.uber.org/zap"
)

const defaultRetentionInterval = 1 * time.Hour

// RetentionService prunes finished chronicles once they are older than the
// configured retention window.
type RetentionService struct {
	store     domain.ChroniclePruner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time

	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewRetentionService(store domain.ChroniclePruner, retention time.Duration, logger *zap.Logger) *RetentionService {
	return &RetentionService{
		store:     store,
		retention: retention,
		logger:    logger,
		now:       time.Now,
		interval:  defaultRetentionInterval,
		stopCh:    make(chan struct{}),
	}
}

func (s *RetentionService) SetInterval(d time.Duration) {
	s.interval = d
}

// Start runs the pruner on a periodic schedule in a background goroutine.
func (s *RetentionService) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.logger.Info("chronicle retention started",
			zap.Duration("interval", s.interval),
			zap.Duration("retention", s.retention))

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				s.RunOnce(ctx)
				cancel()
			case <-s.stopCh:
				s.logger.Info("chronicle retention stopped")
				return
			}
		}
	}()
}

// Stop gracefully stops the pruner.
func (s *RetentionService) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// RunOnce deletes every finished chronicle last updated before the cutoff.
func (s *RetentionService) RunOnce(ctx context.Context) int64 {
	cutoff := s.now().Add(-s.retention)
	deleted, err := s.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune finished chronicles", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		s.logger.Info("pruned finished chronicles",
			zap.Int64("count", deleted),
			zap.Time("cutoff", cutoff))
	}
	return deleted
}
