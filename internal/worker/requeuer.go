package worker

import (
	"context"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/pkg/logger"
)

// Requeuer republishes QUEUED jobs that have waited longer than After. It
// recovers tasks lost between the submission commit and the publish. Each job
// is claimed before it is published, so a job gets at most one extra task per
// After window however many sweeps or sweepers run.
type Requeuer struct {
	jobs      services.JobRepository
	publisher services.TaskPublisher
	interval  time.Duration
	after     time.Duration
	batch     int
	now       func() time.Time
}

func NewRequeuer(jobs services.JobRepository, publisher services.TaskPublisher, interval, after time.Duration, batch int) *Requeuer {
	if interval <= 0 {
		interval = time.Minute
	}
	if batch <= 0 {
		batch = 100
	}
	return &Requeuer{
		jobs:      jobs,
		publisher: publisher,
		interval:  interval,
		after:     after,
		batch:     batch,
		now:       time.Now,
	}
}

func (r *Requeuer) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, err := r.Sweep(ctx); err != nil {
				logger.Errorf("requeue sweep failed after %d jobs: %v", n, err)
			} else if n > 0 {
				logger.Warnf("requeued %d stale jobs", n)
			}
		}
	}
}

// Sweep publishes one batch of stale jobs and returns how many were published.
func (r *Requeuer) Sweep(ctx context.Context) (int, error) {
	now := r.now()
	cutoff := now.Add(-r.after)
	stale, err := r.jobs.ListStaleQueued(ctx, cutoff, r.batch)
	if err != nil {
		return 0, err
	}

	published := 0
	for i := range stale {
		claimed, err := r.jobs.ClaimRequeue(ctx, stale[i].ID, cutoff, now)
		if err != nil {
			return published, err
		}
		if !claimed {
			continue
		}
		if err := r.publisher.Publish(ctx, models.TaskFor(&stale[i], now)); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
