package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobQueued  JobStatus = "QUEUED"
	JobRunning JobStatus = "RUNNING"
	JobDone    JobStatus = "DONE"
	JobError   JobStatus = "ERROR"
)

var jobTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobQueued:  {JobRunning: {}, JobError: {}},
	JobRunning: {JobDone: {}, JobError: {}},
	JobDone:    {},
	JobError:   {},
}

// CanTransition reports whether a job may move from one status to another.
func CanTransition(from, to JobStatus) bool {
	allowed, ok := jobTransitions[from]
	if !ok {
		return false
	}
	_, ok = allowed[to]
	return ok
}

// Terminal reports whether no further transitions are permitted.
func (s JobStatus) Terminal() bool {
	return s == JobDone || s == JobError
}

// SummaryDepth controls how verbose the analysis summary is.
type SummaryDepth string

const (
	DepthBullet   SummaryDepth = "BULLET"
	DepthDetailed SummaryDepth = "DETAILED"
)

// RiskLevel grades a single clause.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Job is a paid analysis request for one document.
type Job struct {
	ID            int64           `json:"id" db:"id"`
	DocumentID    int64           `json:"document_id" db:"document_id"`
	ModelID       int64           `json:"model_id" db:"model_id"`
	Status        JobStatus       `json:"status" db:"status"`
	SummaryDepth  SummaryDepth    `json:"summary_depth" db:"summary_depth"`
	ChargedAmount decimal.Decimal `json:"charged_amount" db:"charged_amount"`
	ResultSummary string          `json:"result_summary,omitempty" db:"result_summary"`
	RiskScore     *float64        `json:"risk_score,omitempty" db:"risk_score"`
	RiskClauses   []RiskClause    `json:"risk_clauses,omitempty"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	StartedAt     *time.Time      `json:"started_at,omitempty" db:"started_at"`
	FinishedAt    *time.Time      `json:"finished_at,omitempty" db:"finished_at"`
}

// RiskClause is a finding attached to a finished job.
type RiskClause struct {
	ID          int64     `json:"id" db:"id"`
	JobID       int64     `json:"job_id" db:"job_id"`
	Text        string    `json:"text" db:"clause_text"`
	RiskLevel   RiskLevel `json:"risk_level" db:"risk_level"`
	Explanation string    `json:"explanation" db:"explanation"`
}

// AnalysisOutcome is what a successful run persists on a job.
type AnalysisOutcome struct {
	Summary   string
	RiskScore float64
	Clauses   []RiskClause
}

// Refund is what moving a job to ERROR credited back, and to whom.
type Refund struct {
	JobID   int64
	OwnerID int64
	Amount  decimal.Decimal
}

// ErrorSummary formats the message stored on a failed job.
func ErrorSummary(message string) string {
	return "Error: " + message
}
