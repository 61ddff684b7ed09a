package services

import (
	"context"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockJobRepository struct {
	mock.Mock
}

func (m *MockJobRepository) CreateSubmission(ctx context.Context, doc *models.Document, job *models.Job) error {
	args := m.Called(ctx, doc, job)
	return args.Error(0)
}

func (m *MockJobRepository) CreateJob(ctx context.Context, documentID, modelID int64, depth models.SummaryDepth) (*models.Job, error) {
	args := m.Called(ctx, documentID, modelID, depth)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobRepository) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobRepository) JobOwner(ctx context.Context, jobID int64) (int64, error) {
	args := m.Called(ctx, jobID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockJobRepository) MarkRunning(ctx context.Context, id int64, lease time.Duration) (*models.Job, error) {
	args := m.Called(ctx, id, lease)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Job), args.Error(1)
}

func (m *MockJobRepository) MarkDone(ctx context.Context, id int64, outcome models.AnalysisOutcome, charged decimal.Decimal) error {
	args := m.Called(ctx, id, outcome, charged)
	return args.Error(0)
}

func (m *MockJobRepository) MarkError(ctx context.Context, id int64, message string) (models.Refund, error) {
	args := m.Called(ctx, id, message)
	return args.Get(0).(models.Refund), args.Error(1)
}

func (m *MockJobRepository) RiskClauses(ctx context.Context, jobID int64) ([]models.RiskClause, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RiskClause), args.Error(1)
}

func (m *MockJobRepository) ListJobs(ctx context.Context, ownerID int64, skip, limit int) ([]models.Job, error) {
	args := m.Called(ctx, ownerID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *MockJobRepository) CountJobs(ctx context.Context, ownerID int64) (int, error) {
	args := m.Called(ctx, ownerID)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepository) ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]models.Job, error) {
	args := m.Called(ctx, before, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Job), args.Error(1)
}

func (m *MockJobRepository) ClaimRequeue(ctx context.Context, id int64, before, now time.Time) (bool, error) {
	args := m.Called(ctx, id, before, now)
	return args.Bool(0), args.Error(1)
}

func (m *MockJobRepository) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Document), args.Error(1)
}

func (m *MockJobRepository) ListDocuments(ctx context.Context, ownerID int64, skip, limit int) ([]models.Document, error) {
	args := m.Called(ctx, ownerID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Document), args.Error(1)
}

func (m *MockJobRepository) CountDocuments(ctx context.Context, ownerID int64) (int, error) {
	args := m.Called(ctx, ownerID)
	return args.Int(0), args.Error(1)
}

func (m *MockJobRepository) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Model), args.Error(1)
}

func (m *MockJobRepository) GetModelByName(ctx context.Context, name string) (*models.Model, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Model), args.Error(1)
}

func (m *MockJobRepository) CreateModel(ctx context.Context, name string, price decimal.Decimal, active bool) (*models.Model, error) {
	args := m.Called(ctx, name, price, active)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Model), args.Error(1)
}

func (m *MockJobRepository) ListActiveModels(ctx context.Context) ([]models.Model, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Model), args.Error(1)
}

type MockWalletStore struct {
	mock.Mock
}

func (m *MockWalletStore) GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wallet), args.Error(1)
}

func (m *MockWalletStore) Credit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, ownerID, amount, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockWalletStore) Debit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	args := m.Called(ctx, ownerID, amount, reference)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.LedgerEntry), args.Error(1)
}

func (m *MockWalletStore) Balance(ctx context.Context, ownerID int64) (decimal.Decimal, error) {
	args := m.Called(ctx, ownerID)
	return args.Get(0).(decimal.Decimal), args.Error(1)
}

func (m *MockWalletStore) Transactions(ctx context.Context, ownerID int64, skip, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, ownerID, skip, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.LedgerEntry), args.Error(1)
}

func (m *MockWalletStore) Count(ctx context.Context, ownerID int64) (int, error) {
	args := m.Called(ctx, ownerID)
	return args.Int(0), args.Error(1)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, task models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}
