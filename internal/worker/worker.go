// Package worker consumes analysis tasks and settles the jobs they reference.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/riskdesk/backend/internal/analyzer"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/queue"
	"github.com/riskdesk/backend/internal/services"
	"github.com/riskdesk/backend/pkg/logger"
	"github.com/sirupsen/logrus"
)

// JobFailer moves a job to ERROR and refunds it. Failing a settled job is a no-op.
type JobFailer interface {
	FailJob(ctx context.Context, jobID int64, message string) error
}

// Worker runs one task at a time: validate, analyze, resolve.
type Worker struct {
	jobs     services.JobRepository
	failer   JobFailer
	analyzer analyzer.Analyzer
	timeout  time.Duration
}

func New(jobs services.JobRepository, failer JobFailer, a analyzer.Analyzer, timeout time.Duration) *Worker {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Worker{jobs: jobs, failer: failer, analyzer: a, timeout: timeout}
}

// Handle processes a task and tells the queue how to resolve it. Every step
// tolerates redelivery: terminal jobs are acked untouched.
func (w *Worker) Handle(ctx context.Context, task models.Task) (outcome queue.Outcome) {
	log := logger.WithFields(logrus.Fields{"job_id": task.JobID})

	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic while handling task: %v\n%s", r, debug.Stack())
			if err := w.failer.FailJob(ctx, task.JobID, "internal error"); err != nil {
				log.Errorf("failed to settle job after panic: %v", err)
			}
			outcome = queue.Reject
		}
	}()

	job, err := w.jobs.GetJob(ctx, task.JobID)
	if errors.Is(err, models.ErrNotFound) {
		log.Warn("job not found, dropping task")
		return queue.Ack
	}
	if err != nil {
		log.Errorf("load job: %v", err)
		return queue.Requeue
	}
	if job.Status.Terminal() {
		log.Infof("job already %s, skipping", job.Status)
		return queue.Ack
	}

	doc, err := w.jobs.GetDocument(ctx, job.DocumentID)
	if errors.Is(err, models.ErrNotFound) {
		return w.fail(ctx, log, job.ID, "document not found")
	}
	if err != nil {
		log.Errorf("load document: %v", err)
		return queue.Requeue
	}
	if strings.TrimSpace(doc.RawText) == "" {
		return w.fail(ctx, log, job.ID, "document has no text")
	}

	model, err := w.jobs.GetModel(ctx, job.ModelID)
	if errors.Is(err, models.ErrNotFound) {
		return w.fail(ctx, log, job.ID, "model not found")
	}
	if err != nil {
		log.Errorf("load model: %v", err)
		return queue.Requeue
	}

	if _, err := w.jobs.MarkRunning(ctx, job.ID, w.lease()); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Infof("job settled concurrently: %v", err)
			return queue.Ack
		}
		if errors.Is(err, models.ErrJobBusy) {
			// another copy of the task is running; retry once its lease lapses
			log.Infof("job busy: %v", err)
			return queue.Requeue
		}
		log.Errorf("mark running: %v", err)
		return queue.Requeue
	}

	result, err := w.analyze(ctx, analyzer.Request{
		Text:      doc.RawText,
		Depth:     job.SummaryDepth,
		ModelName: model.Name,
	})
	if err != nil {
		return w.fail(ctx, log, job.ID, err.Error())
	}

	// the charge was fixed at submission; it is never recomputed here
	if err := w.jobs.MarkDone(ctx, job.ID, result.Outcome(), job.ChargedAmount); err != nil {
		if errors.Is(err, models.ErrInvalidTransition) {
			log.Infof("job settled concurrently: %v", err)
			return queue.Ack
		}
		log.Errorf("mark done: %v", err)
		return queue.Requeue
	}

	log.WithFields(logrus.Fields{
		"risk_score": result.RiskScore,
		"clauses":    len(result.Clauses),
	}).Info("job done")
	return queue.Ack
}

// lease is how long a RUNNING job belongs to the worker that started it.
// Past it the worker is presumed dead and a redelivered task may take over.
func (w *Worker) lease() time.Duration {
	return 2 * w.timeout
}

func (w *Worker) analyze(ctx context.Context, req analyzer.Request) (*analyzer.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	result, err := w.analyzer.Analyze(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("analysis timed out after %s", w.timeout)
		}
		return nil, fmt.Errorf("analysis failed: %v", err)
	}
	if result.RiskScore < 0 || result.RiskScore > 1 {
		return nil, fmt.Errorf("analysis failed: risk score %.2f out of range", result.RiskScore)
	}
	return result, nil
}

func (w *Worker) fail(ctx context.Context, log *logrus.Entry, jobID int64, message string) queue.Outcome {
	err := w.failer.FailJob(ctx, jobID, message)
	switch {
	case err == nil:
		return queue.Ack
	case errors.Is(err, models.ErrNotFound):
		// without the document there is no owner to refund
		log.Errorf("cannot settle job: %v", err)
		return queue.Reject
	default:
		log.Errorf("fail job: %v", err)
		return queue.Requeue
	}
}
