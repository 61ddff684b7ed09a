package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Document is an uploaded contract. It is immutable once created.
type Document struct {
	ID         int64     `json:"id" db:"id"`
	OwnerID    int64     `json:"owner_id" db:"owner_id"`
	Filename   string    `json:"filename" db:"filename"`
	RawText    string    `json:"-" db:"raw_text"`
	UnitCount  int       `json:"unit_count" db:"unit_count"`
	Language   string    `json:"language" db:"language"`
	Checksum   string    `json:"checksum" db:"checksum"`
	UploadedAt time.Time `json:"uploaded_at" db:"uploaded_at"`
}

// Model is an analysis model and its per-unit price.
type Model struct {
	ID           int64           `json:"id" db:"id"`
	Name         string          `json:"name" db:"name"`
	PricePerUnit decimal.Decimal `json:"price_per_unit" db:"price_per_unit"`
	Active       bool            `json:"active" db:"active"`
}

// Cost is the charge for analysing the given number of units.
func (m Model) Cost(units int) decimal.Decimal {
	return m.PricePerUnit.Mul(decimal.NewFromInt(int64(units)))
}

// Task is the flat queue payload that references a job.
type Task struct {
	JobID        int64        `json:"job_id"`
	DocumentID   int64        `json:"document_id"`
	ModelID      int64        `json:"model_id"`
	SummaryDepth SummaryDepth `json:"summary_depth"`
	Timestamp    time.Time    `json:"timestamp"`
}

// TaskFor builds the queue payload for a job.
func TaskFor(job *Job, now time.Time) Task {
	return Task{
		JobID:        job.ID,
		DocumentID:   job.DocumentID,
		ModelID:      job.ModelID,
		SummaryDepth: job.SummaryDepth,
		Timestamp:    now,
	}
}
