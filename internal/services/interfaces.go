package services

import (
	"context"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// WalletStore is the wallet surface used by the coordinator and handlers.
// WalletService implements it on Postgres; store/memory implements it in memory.
type WalletStore interface {
	GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error)
	Credit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error)
	Debit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error)
	Balance(ctx context.Context, ownerID int64) (decimal.Decimal, error)
	Transactions(ctx context.Context, ownerID int64, skip, limit int) ([]models.LedgerEntry, error)
	Count(ctx context.Context, ownerID int64) (int, error)
}

// JobRepository persists documents, models and jobs. MarkError must credit
// the job's charge back to the document owner atomically with the transition.
type JobRepository interface {
	CreateSubmission(ctx context.Context, doc *models.Document, job *models.Job) error
	CreateJob(ctx context.Context, documentID, modelID int64, depth models.SummaryDepth) (*models.Job, error)
	GetJob(ctx context.Context, id int64) (*models.Job, error)
	JobOwner(ctx context.Context, jobID int64) (int64, error)
	MarkRunning(ctx context.Context, id int64, lease time.Duration) (*models.Job, error)
	MarkDone(ctx context.Context, id int64, outcome models.AnalysisOutcome, charged decimal.Decimal) error
	MarkError(ctx context.Context, id int64, message string) (models.Refund, error)
	RiskClauses(ctx context.Context, jobID int64) ([]models.RiskClause, error)
	ListJobs(ctx context.Context, ownerID int64, skip, limit int) ([]models.Job, error)
	CountJobs(ctx context.Context, ownerID int64) (int, error)
	ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]models.Job, error)
	ClaimRequeue(ctx context.Context, id int64, before, now time.Time) (bool, error)

	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	ListDocuments(ctx context.Context, ownerID int64, skip, limit int) ([]models.Document, error)
	CountDocuments(ctx context.Context, ownerID int64) (int, error)

	GetModel(ctx context.Context, id int64) (*models.Model, error)
	GetModelByName(ctx context.Context, name string) (*models.Model, error)
	CreateModel(ctx context.Context, name string, price decimal.Decimal, active bool) (*models.Model, error)
	ListActiveModels(ctx context.Context) ([]models.Model, error)
}

// TaskPublisher hands a task to the queue. A nil error means the broker has
// accepted the task durably.
type TaskPublisher interface {
	Publish(ctx context.Context, task models.Task) error
}

var (
	_ WalletStore   = (*WalletService)(nil)
	_ JobRepository = (*JobStore)(nil)
)
