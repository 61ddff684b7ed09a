package database

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/pkg/logger"
)

// ReconnectPolicy retries a connect operation with bounded exponential backoff.
type ReconnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// NewReconnectPolicy converts the configured connect policy.
func NewReconnectPolicy(p config.ConnectPolicy) ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: p.InitialInterval,
		MaxInterval:     p.MaxInterval,
		MaxAttempts:     p.MaxAttempts,
	}
}

func (p ReconnectPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, p.MaxAttempts), ctx)
}

// Do runs connect until it succeeds, the attempts are exhausted or ctx ends.
// The last error is returned when every attempt failed.
func (p ReconnectPolicy) Do(ctx context.Context, name string, connect func() error) error {
	attempt := 0
	op := func() error {
		attempt++
		return connect()
	}
	notify := func(err error, wait time.Duration) {
		logger.Warnf("%s connect attempt %d failed: %v (retrying in %s)", name, attempt, err, wait.Round(time.Millisecond))
	}
	return backoff.RetryNotify(op, p.backOff(ctx), notify)
}
