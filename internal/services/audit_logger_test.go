package services

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/riskdesk/backend/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureAudit(t *testing.T, fn func(a *AuditLogger)) AuditEvent {
	t.Helper()
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	t.Cleanup(func() { logger.SetOutput(os.Stdout) })

	a := NewAuditLogger()
	a.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	fn(a)

	out := buf.String()
	start := strings.Index(out, "AUDIT: ")
	require.NotEqual(t, -1, start, out)
	line := out[start+len("AUDIT: "):]
	line = line[:strings.LastIndex(line, "}")+1]
	// text formatter quotes the message
	line = strings.ReplaceAll(line, `\"`, `"`)

	var event AuditEvent
	require.NoError(t, json.Unmarshal([]byte(line), &event), line)
	return event
}

func TestAuditLogger(t *testing.T) {
	t.Run("charge", func(t *testing.T) {
		event := captureAudit(t, func(a *AuditLogger) { a.LogCharge(9, 1, dec(10), 2, "default_model") })
		assert.Equal(t, "CHARGE", event.EventType)
		assert.Equal(t, int64(9), event.JobID)
		assert.True(t, event.Amount.Equal(dec(10)))
	})

	t.Run("refund", func(t *testing.T) {
		event := captureAudit(t, func(a *AuditLogger) { a.LogRefund(9, 1, dec(10), "timeout") })
		assert.Equal(t, "REFUND", event.EventType)
		assert.Equal(t, int64(1), event.OwnerID)
	})

	t.Run("error", func(t *testing.T) {
		event := captureAudit(t, func(a *AuditLogger) { a.LogError(9, 1, errors.New("broker down")) })
		assert.Equal(t, "FAILED", event.Status)
		assert.True(t, event.Amount.IsZero())
	})
}
