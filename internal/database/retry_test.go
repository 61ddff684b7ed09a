package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func testPolicy(attempts uint64) ReconnectPolicy {
	return ReconnectPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		MaxAttempts:     attempts,
	}
}

func TestReconnectPolicy_Do(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := testPolicy(5).Do(context.Background(), "postgres", func() error {
			calls++
			if calls < 3 {
				return errors.New("connection refused")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("gives up after bounded attempts", func(t *testing.T) {
		calls := 0
		err := testPolicy(2).Do(context.Background(), "redis", func() error {
			calls++
			return errors.New("connection refused")
		})

		assert.EqualError(t, err, "connection refused")
		assert.Equal(t, 3, calls, "first attempt plus two retries")
	})

	t.Run("stops when context is canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		calls := 0
		err := testPolicy(10).Do(ctx, "redis", func() error {
			calls++
			return errors.New("connection refused")
		})

		assert.Error(t, err)
		assert.LessOrEqual(t, calls, 1)
	})
}
