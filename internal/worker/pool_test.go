package worker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/riskdesk/backend/internal/analyzer"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestPool_Run(t *testing.T) {
	a := new(MockAnalyzer)
	a.On("Analyze", mock.Anything, mock.Anything).Return(okResult(), nil)
	f := newFixture(t, a)
	f.topUp(t, 1, 100)

	ids := make([]int64, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, f.submit(t, 1).JobID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewPool(f.queue, f.worker, 3, "test").Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, id := range ids {
			if f.job(t, id).Status != models.JobDone {
				return false
			}
		}
		return true
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("pool did not stop")
	}
	assert.True(t, f.balance(t, 1).Equal(d(50)))
	a.AssertNumberOfCalls(t, "Analyze", 5)
}

func TestNewPool_Defaults(t *testing.T) {
	p := NewPool(nil, nil, 0, "")
	assert.Equal(t, 1, p.count)
	assert.Contains(t, p.instance, "worker-")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, models.Task) error {
	return errors.New("broker down")
}

func TestRequeuer_Sweep(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analyzer.NewHeuristic())
	f.topUp(t, 1, 100)

	queued := f.submit(t, 1)
	started := f.submit(t, 1)
	_, err := f.store.MarkRunning(ctx, started.JobID, time.Minute)
	require.NoError(t, err)

	// drop what Submit published, as if the process died before publishing
	for f.queue.Len() > 0 {
		drained, cancel := context.WithCancel(ctx)
		f.queue.Consume(drained, "drop", func(context.Context, models.Task) queue.Outcome {
			cancel()
			return queue.Ack
		})
	}

	r := NewRequeuer(f.store, f.queue, time.Minute, 10*time.Minute, 10)
	r.now = func() time.Time { return time.Now().Add(time.Hour) }

	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, f.queue.Len())

	f.drain(t)
	assert.Equal(t, models.JobDone, f.job(t, queued.JobID).Status)

	r.now = time.Now
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	f.submit(t, 1)
	broken := NewRequeuer(f.store, failingPublisher{}, 0, 0, 0)
	broken.now = func() time.Time { return time.Now().Add(time.Hour) }
	n, err = broken.Sweep(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestRequeuer_SweepClaimsEachJobOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analyzer.NewHeuristic())
	f.topUp(t, 1, 100)
	sub := f.submit(t, 1)
	require.Equal(t, 1, f.queue.Len())

	base := time.Now()
	r := NewRequeuer(f.store, f.queue, time.Minute, time.Minute, 10)

	r.now = func() time.Time { return base.Add(2 * time.Minute) }
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	r.now = func() time.Time { return base.Add(3 * time.Minute) }
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "a job requeued inside the window is not published again")
	assert.Equal(t, 2, f.queue.Len())

	// a full window later the job is still waiting, so it gets one more task
	r.now = func() time.Time { return base.Add(4 * time.Minute) }
	n, err = r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	f.drain(t)
	assert.Equal(t, models.JobDone, f.job(t, sub.JobID).Status)
	assert.True(t, f.balance(t, 1).Equal(d(90)))
}

func TestRequeuer_SkipsJobsStartedBeforeClaim(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, analyzer.NewHeuristic())
	f.topUp(t, 1, 100)
	sub := f.submit(t, 1)

	stale, err := f.store.ListStaleQueued(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)

	_, err = f.store.MarkRunning(ctx, sub.JobID, time.Minute)
	require.NoError(t, err)

	claimed, err := f.store.ClaimRequeue(ctx, sub.JobID, time.Now().Add(time.Hour), time.Now())
	require.NoError(t, err)
	assert.False(t, claimed)
}
