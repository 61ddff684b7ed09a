package models

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrJobBusy           = errors.New("job is running on another worker")
	ErrBackend           = errors.New("analysis backend failure")
	ErrInvalidDocument   = errors.New("invalid document")
	ErrModelInactive     = errors.New("model is not active")
	ErrQueueUnavailable  = errors.New("task queue unavailable")
	ErrForbidden         = errors.New("resource belongs to another owner")
)

// InsufficientFundsError reports a rejected debit. It matches ErrInsufficientFunds.
type InsufficientFundsError struct {
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: required %s, available %s", e.Required.String(), e.Available.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// QueueUnavailableError reports a submission whose task never reached the
// queue. Refunded is false when rolling the job back failed as well; the job
// then stays QUEUED and charged until the requeuer publishes it.
type QueueUnavailableError struct {
	JobID    int64
	Refunded bool
	Cause    error
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("%s: job %d: %v", ErrQueueUnavailable, e.JobID, e.Cause)
}

func (e *QueueUnavailableError) Is(target error) bool {
	return target == ErrQueueUnavailable
}

func (e *QueueUnavailableError) Unwrap() error {
	return e.Cause
}
