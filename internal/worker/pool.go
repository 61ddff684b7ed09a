package worker

import (
	"context"

	"github.com/google/uuid"
	"github.com/riskdesk/backend/internal/queue"
	"github.com/riskdesk/backend/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// Pool runs Count blocking consumers, each handling one task at a time.
type Pool struct {
	queue    queue.Queue
	worker   *Worker
	count    int
	instance string
}

// NewPool names consumers after instance, or a random id when it is empty,
// so that consumers of different processes never collide.
func NewPool(q queue.Queue, w *Worker, count int, instance string) *Pool {
	if count <= 0 {
		count = 1
	}
	if instance == "" {
		instance = "worker-" + uuid.NewString()[:8]
	}
	return &Pool{queue: q, worker: w, count: count, instance: instance}
}

// Run blocks until ctx is done or a consumer fails.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.count; i++ {
		name := queue.ConsumerName(p.instance, i)
		g.Go(func() error {
			logger.Infof("consumer %s started", name)
			defer logger.Infof("consumer %s stopped", name)
			return p.queue.Consume(ctx, name, p.worker.Handle)
		})
	}
	return g.Wait()
}
