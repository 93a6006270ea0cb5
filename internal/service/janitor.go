package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"food-auth-service/internal/repository"
)

// Janitor periodically prunes rows that expired more than retention ago.
// It runs in the worker binary, never inside request handling.
type Janitor struct {
	pruner    repository.Pruner
	interval  time.Duration
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewJanitor(pruner repository.Pruner, interval, retention time.Duration, logger *zap.Logger) *Janitor {
	return &Janitor{
		pruner:    pruner,
		interval:  interval,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// RunOnce prunes once and returns how many rows were removed.
func (j *Janitor) RunOnce(ctx context.Context) (int, error) {
	return j.pruner.PruneExpired(ctx, j.now().Add(-j.retention))
}

// Run prunes every interval until ctx is done.
func (j *Janitor) Run(ctx context.Context) {
	if j.interval <= 0 {
		return
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := j.RunOnce(ctx)
			if err != nil {
				j.logger.Error("Janitor prune failed", zap.Error(err))
				continue
			}
			j.logger.Debug("Janitor prune finished", zap.Int("removed", removed))
		}
	}
}
