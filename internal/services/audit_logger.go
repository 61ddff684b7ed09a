package services

import (
	"encoding/json"
	"time"

	"github.com/riskdesk/backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// AuditEvent is one money-moving or failure event, logged as a JSON line.
type AuditEvent struct {
	Timestamp time.Time       `json:"timestamp"`
	EventType string          `json:"event_type"`
	JobID     int64           `json:"job_id,omitempty"`
	OwnerID   int64           `json:"owner_id"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status"`
	Details   any             `json:"details,omitempty"`
}

type AuditLogger struct {
	now func() time.Time
}

func NewAuditLogger() *AuditLogger {
	return &AuditLogger{now: time.Now}
}

func (a *AuditLogger) LogCharge(jobID, ownerID int64, amount decimal.Decimal, units int, model string) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: "CHARGE",
		JobID:     jobID,
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details: map[string]any{
			"units": units,
			"model": model,
		},
	})
}

func (a *AuditLogger) LogRefund(jobID, ownerID int64, amount decimal.Decimal, reason string) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: "REFUND",
		JobID:     jobID,
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"reason": reason},
	})
}

func (a *AuditLogger) LogTopUp(ownerID int64, amount decimal.Decimal) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: "TOPUP",
		OwnerID:   ownerID,
		Amount:    amount,
		Status:    "SUCCESS",
	})
}

func (a *AuditLogger) LogError(jobID, ownerID int64, err error) {
	a.log(AuditEvent{
		Timestamp: a.now(),
		EventType: "ERROR",
		JobID:     jobID,
		OwnerID:   ownerID,
		Amount:    decimal.Zero,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *AuditLogger) log(event AuditEvent) {
	data, _ := json.Marshal(event)
	logger.WithField("component", "audit").Infof("AUDIT: %s", string(data))
}
