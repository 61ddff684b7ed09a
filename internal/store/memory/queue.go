package memory

import (
	"context"
	"sync"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/queue"
)

// DeadLetter is a task a handler rejected.
type DeadLetter struct {
	Task     models.Task
	Consumer string
}

// DefaultRetryDelay is how long a requeued task waits before redelivery.
const DefaultRetryDelay = 200 * time.Millisecond

// Queue is an in-process queue.Queue. Requeued tasks go to the back of the
// line after the retry delay; rejected tasks are kept in Dead.
type Queue struct {
	mu         sync.Mutex
	pending    []models.Task
	delayed    int
	dead       []DeadLetter
	publishErr error
	retryDelay time.Duration
	notify     chan struct{}
}

var _ queue.Queue = (*Queue)(nil)

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1), retryDelay: DefaultRetryDelay}
}

// SetRetryDelay changes the redelivery delay for requeued tasks.
func (q *Queue) SetRetryDelay(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.retryDelay = d
}

// FailPublish makes every following Publish return err; nil restores it.
func (q *Queue) FailPublish(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.publishErr = err
}

func (q *Queue) Publish(_ context.Context, task models.Task) error {
	q.mu.Lock()
	if q.publishErr != nil {
		err := q.publishErr
		q.mu.Unlock()
		return err
	}
	q.pending = append(q.pending, task)
	q.mu.Unlock()

	q.signal()
	return nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) pop() (models.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.pending) == 0 {
		return models.Task{}, false
	}
	task := q.pending[0]
	q.pending = q.pending[1:]
	if len(q.pending) > 0 {
		// wake another consumer for the rest
		defer q.signal()
	}
	return task, true
}

// Consume hands tasks to handler one at a time until ctx is done.
func (q *Queue) Consume(ctx context.Context, consumer string, handler queue.Handler) error {
	for {
		task, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return nil
			case <-q.notify:
				continue
			}
		}

		switch handler(ctx, task) {
		case queue.Ack:
		case queue.Reject:
			q.mu.Lock()
			q.dead = append(q.dead, DeadLetter{Task: task, Consumer: consumer})
			q.mu.Unlock()
		case queue.Requeue:
			q.requeue(task)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// requeue parks the task for the retry delay, like a pending Redis entry
// waiting to be reclaimed, so a failing handler does not spin.
func (q *Queue) requeue(task models.Task) {
	q.mu.Lock()
	q.delayed++
	delay := q.retryDelay
	q.mu.Unlock()

	time.AfterFunc(delay, func() {
		q.mu.Lock()
		q.delayed--
		q.pending = append(q.pending, task)
		q.mu.Unlock()
		q.signal()
	})
}

// Len is the number of tasks waiting for delivery, including requeued ones
// still inside their retry delay.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + q.delayed
}

// Dead returns the rejected tasks.
func (q *Queue) Dead() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]DeadLetter(nil), q.dead...)
}
