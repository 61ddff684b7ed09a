// Package queue carries analysis tasks from the API to the workers.
package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/riskdesk/backend/internal/models"
)

// Outcome tells the queue what to do with a delivered task.
type Outcome int

const (
	// Ack removes the task.
	Ack Outcome = iota
	// Reject dead-letters the task without requeueing it.
	Reject
	// Requeue leaves the task undelivered so it is handed out again later.
	Requeue
)

func (o Outcome) String() string {
	switch o {
	case Ack:
		return "ack"
	case Reject:
		return "reject"
	case Requeue:
		return "requeue"
	default:
		return "unknown"
	}
}

// Handler processes one task. The queue delivers at most one unresolved task
// per consumer at a time.
type Handler func(ctx context.Context, task models.Task) Outcome

// Queue is a durable at-least-once task queue.
type Queue interface {
	Publish(ctx context.Context, task models.Task) error
	// Consume blocks, handing tasks to handler until ctx is done.
	Consume(ctx context.Context, consumer string, handler Handler) error
}

// ConsumerName names the i-th consumer of a worker instance.
func ConsumerName(instance string, i int) string {
	if instance == "" {
		instance = "worker"
	}
	return fmt.Sprintf("%s-%d", instance, i)
}

const (
	fieldJobID        = "job_id"
	fieldDocumentID   = "document_id"
	fieldModelID      = "model_id"
	fieldSummaryDepth = "summary_depth"
	fieldTimestamp    = "timestamp"
)

// EncodeTask flattens a task into stream field/value pairs.
func EncodeTask(task models.Task) []interface{} {
	return []interface{}{
		fieldJobID, strconv.FormatInt(task.JobID, 10),
		fieldDocumentID, strconv.FormatInt(task.DocumentID, 10),
		fieldModelID, strconv.FormatInt(task.ModelID, 10),
		fieldSummaryDepth, string(task.SummaryDepth),
		fieldTimestamp, task.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// DecodeTask reads a task back from stream fields.
func DecodeTask(values map[string]interface{}) (models.Task, error) {
	var task models.Task
	var err error

	if task.JobID, err = intField(values, fieldJobID); err != nil {
		return task, err
	}
	if task.DocumentID, err = intField(values, fieldDocumentID); err != nil {
		return task, err
	}
	if task.ModelID, err = intField(values, fieldModelID); err != nil {
		return task, err
	}

	depth, _ := getStr(values, fieldSummaryDepth)
	task.SummaryDepth = models.SummaryDepth(depth)

	if ts, ok := getStr(values, fieldTimestamp); ok && ts != "" {
		if task.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return task, fmt.Errorf("field %s: %w", fieldTimestamp, err)
		}
	}
	return task, nil
}

func intField(values map[string]interface{}, key string) (int64, error) {
	s, ok := getStr(values, key)
	if !ok {
		return 0, fmt.Errorf("missing field %s", key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("field %s: must be positive", key)
	}
	return n, nil
}

func getStr(m map[string]interface{}, key string) (string, bool) {
	if v, ok := m[key]; ok {
		switch t := v.(type) {
		case string:
			return t, true
		case []byte:
			return string(t), true
		}
	}
	return "", false
}
