package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/pkg/logger"
)

type Options struct {
	Stream       string        // default: "ml:tasks"
	Group        string        // default: "ml_workers"
	DeadLetter   string        // default: Stream + ":dead"
	Block        time.Duration // default: 5s
	MinIdle      time.Duration // default: 5m, pending age before redelivery
	ReclaimEvery time.Duration // default: MinIdle/2, max gap between reclaim passes
}

// RedisTaskQueue is a Queue on a Redis stream with one consumer group.
// Tasks stay pending until acked; pending tasks idle for MinIdle are
// reclaimed and delivered again.
type RedisTaskQueue struct {
	rdb redis.UniversalClient
	opt Options
}

func NewRedisTaskQueue(rdb redis.UniversalClient, opt *Options) *RedisTaskQueue {
	o := Options{
		Stream:  "ml:tasks",
		Group:   "ml_workers",
		Block:   5 * time.Second,
		MinIdle: 5 * time.Minute,
	}
	if opt != nil {
		if opt.Stream != "" {
			o.Stream = opt.Stream
		}
		if opt.Group != "" {
			o.Group = opt.Group
		}
		if opt.DeadLetter != "" {
			o.DeadLetter = opt.DeadLetter
		}
		if opt.Block != 0 {
			o.Block = opt.Block
		}
		if opt.MinIdle != 0 {
			o.MinIdle = opt.MinIdle
		}
		if opt.ReclaimEvery != 0 {
			o.ReclaimEvery = opt.ReclaimEvery
		}
	}
	if o.DeadLetter == "" {
		o.DeadLetter = o.Stream + ":dead"
	}
	if o.ReclaimEvery == 0 {
		o.ReclaimEvery = o.MinIdle / 2
	}
	return &RedisTaskQueue{rdb: rdb, opt: o}
}

// Publish appends the task to the stream.
func (q *RedisTaskQueue) Publish(ctx context.Context, task models.Task) error {
	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.opt.Stream,
		Values: EncodeTask(task),
	}).Result()
	if err != nil {
		return fmt.Errorf("publish job %d: %w", task.JobID, err)
	}
	logger.Debugf("published job %d as %s", task.JobID, id)
	return nil
}

// EnsureGroup creates the consumer group, and the stream with it, once.
func (q *RedisTaskQueue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.opt.Stream, q.opt.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", q.opt.Group, q.opt.Stream, err)
	}
	if err == nil {
		logger.Infof("created group %q on %s", q.opt.Group, q.opt.Stream)
	}
	return nil
}

// Consume reads one task at a time for consumer until ctx is done. Read
// errors back off exponentially. Tasks abandoned by crashed consumers, and
// tasks this consumer requeued, are reclaimed whenever the stream goes idle
// and at least every ReclaimEvery under steady traffic.
func (q *RedisTaskQueue) Consume(ctx context.Context, consumer string, handler Handler) error {
	if err := q.EnsureGroup(ctx); err != nil {
		return err
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 200 * time.Millisecond
	retry.MaxInterval = 5 * time.Second
	retry.MaxElapsedTime = 0

	q.reclaim(ctx, consumer, handler)
	lastReclaim := time.Now()
	for {
		if ctx.Err() != nil {
			return nil
		}

		idle, err := q.poll(ctx, consumer, handler)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wait := retry.NextBackOff()
			logger.Errorf("read from %s failed, retrying in %s: %v", q.opt.Stream, wait, err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		retry.Reset()

		if idle || time.Since(lastReclaim) >= q.opt.ReclaimEvery {
			q.reclaim(ctx, consumer, handler)
			lastReclaim = time.Now()
		}
	}
}

// poll reads and handles at most one new task. It reports idle when the
// block timeout passed without a delivery.
func (q *RedisTaskQueue) poll(ctx context.Context, consumer string, handler Handler) (bool, error) {
	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.opt.Group,
		Consumer: consumer,
		Streams:  []string{q.opt.Stream, ">"},
		Count:    1,
		Block:    q.opt.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return true, nil
	}
	if err != nil {
		return false, err
	}

	for _, stream := range res {
		for _, msg := range stream.Messages {
			q.dispatch(ctx, consumer, msg, handler)
		}
	}
	return false, nil
}

// reclaim takes over tasks left pending longer than MinIdle, one at a time.
func (q *RedisTaskQueue) reclaim(ctx context.Context, consumer string, handler Handler) {
	start := "0-0"
	for ctx.Err() == nil {
		msgs, next, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.opt.Stream,
			Group:    q.opt.Group,
			Consumer: consumer,
			MinIdle:  q.opt.MinIdle,
			Start:    start,
			Count:    1,
		}).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) {
				logger.Errorf("reclaim on %s failed: %v", q.opt.Stream, err)
			}
			return
		}
		for _, msg := range msgs {
			logger.Warnf("redelivering %s to %s", msg.ID, consumer)
			q.dispatch(ctx, consumer, msg, handler)
		}
		if next == "0-0" || len(msgs) == 0 {
			return
		}
		start = next
	}
}

func (q *RedisTaskQueue) dispatch(ctx context.Context, consumer string, msg redis.XMessage, handler Handler) {
	task, err := DecodeTask(msg.Values)
	if err != nil {
		logger.Errorf("malformed task %s: %v", msg.ID, err)
		q.deadLetter(ctx, msg, err.Error())
		return
	}

	switch outcome := handler(ctx, task); outcome {
	case Ack:
		if err := q.rdb.XAck(ctx, q.opt.Stream, q.opt.Group, msg.ID).Err(); err != nil {
			logger.Errorf("ack %s failed: %v", msg.ID, err)
		}
	case Reject:
		q.deadLetter(ctx, msg, "rejected")
	case Requeue:
		logger.Warnf("job %d left pending on %s for redelivery", task.JobID, consumer)
	}
}

// deadLetter copies the message to the dead-letter stream and acks the original.
func (q *RedisTaskQueue) deadLetter(ctx context.Context, msg redis.XMessage, reason string) {
	keys := make([]string, 0, len(msg.Values))
	for k := range msg.Values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make([]interface{}, 0, 2*len(keys)+4)
	for _, k := range keys {
		values = append(values, k, msg.Values[k])
	}
	values = append(values, "source_id", msg.ID, "reason", reason)

	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.opt.DeadLetter, Values: values}).Err(); err != nil {
		// leave it pending so it is not lost
		logger.Errorf("dead-letter %s failed: %v", msg.ID, err)
		return
	}
	if err := q.rdb.XAck(ctx, q.opt.Stream, q.opt.Group, msg.ID).Err(); err != nil {
		logger.Errorf("ack %s after dead-letter failed: %v", msg.ID, err)
	}
}
