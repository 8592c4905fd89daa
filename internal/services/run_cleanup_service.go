package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/osvaldoandrade/personaq/internal/repository"
)

// RunCleanupService drops terminal run states nobody acknowledged.
type RunCleanupService interface {
	Start(ctx context.Context)
	SweepOnce() int
}

type runCleanupService struct {
	repo      repository.RunStateRepository
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewRunCleanupService(repo repository.RunStateRepository, logger *slog.Logger, intervalSeconds, retentionSeconds int) RunCleanupService {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	if retentionSeconds <= 0 {
		retentionSeconds = 86400
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &runCleanupService{
		repo:      repo,
		logger:    logger,
		interval:  time.Duration(intervalSeconds) * time.Second,
		retention: time.Duration(retentionSeconds) * time.Second,
		now:       time.Now,
	}
}

func (s *runCleanupService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce()
		}
	}
}

func (s *runCleanupService) SweepOnce() int {
	removed := s.repo.Sweep(s.now().Add(-s.retention))
	if removed > 0 {
		s.logger.Info("run cleanup removed", "count", removed)
	}
	return removed
}
