package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/riskdesk/backend/internal/config"
	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"
)

// compensationTimeout bounds the refund issued after a failed publish. It runs
// detached from the request context so a canceled request still gets refunded.
const compensationTimeout = 10 * time.Second

// SubmitRequest is a document handed over by the ingestion step.
type SubmitRequest struct {
	OwnerID  int64  `validate:"required,gt=0"`
	Filename string `validate:"required,max=255"`
	Text     string `validate:"required"`
	// UnitCount is used as-is when the ingestion step already counted pages.
	UnitCount    int                 `validate:"gte=0"`
	Language     string              `validate:"omitempty,max=16"`
	ModelName    string              `validate:"omitempty,max=100"`
	SummaryDepth models.SummaryDepth `validate:"omitempty,oneof=BULLET DETAILED"`
}

// Submission is an accepted, charged and enqueued job.
type Submission struct {
	JobID      int64            `json:"job_id"`
	DocumentID int64            `json:"document_id"`
	Model      string           `json:"model"`
	Units      int              `json:"units"`
	Cost       decimal.Decimal  `json:"cost"`
	Status     models.JobStatus `json:"status"`
}

// BillingService ties job outcomes to money movement: charge on submit,
// refund on failure, credit on top-up.
type BillingService struct {
	jobs      JobRepository
	wallets   WalletStore
	publisher TaskPublisher
	audit     *AuditLogger
	validator *ValidationHelper
	cfg       config.BillingConfig
	now       func() time.Time
}

func NewBillingService(jobs JobRepository, wallets WalletStore, publisher TaskPublisher, cfg config.BillingConfig) *BillingService {
	if cfg.WordsPerUnit <= 0 {
		cfg.WordsPerUnit = 500
	}
	return &BillingService{
		jobs:      jobs,
		wallets:   wallets,
		publisher: publisher,
		audit:     NewAuditLogger(),
		validator: NewValidationHelper(),
		cfg:       cfg,
		now:       time.Now,
	}
}

// CountUnits returns the billable page count of a text: one unit per
// wordsPerUnit words, never less than one.
func CountUnits(text string, wordsPerUnit int) int {
	if wordsPerUnit <= 0 {
		wordsPerUnit = 500
	}
	units := len(strings.Fields(text)) / wordsPerUnit
	if units < 1 {
		return 1
	}
	return units
}

// Checksum is the hex BLAKE2b-256 digest of a document text.
func Checksum(text string) string {
	sum := blake2b.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Submit charges the owner and enqueues the analysis. Either both the charge
// and the enqueue succeed, or the owner ends up with the balance they started with.
func (s *BillingService) Submit(ctx context.Context, req SubmitRequest) (*Submission, error) {
	if err := s.validator.ValidateStruct(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidDocument, err)
	}
	if strings.TrimSpace(req.Text) == "" {
		return nil, fmt.Errorf("%w: empty text", models.ErrInvalidDocument)
	}

	model, err := s.resolveModel(ctx, req.ModelName)
	if err != nil {
		return nil, err
	}

	units := req.UnitCount
	if units <= 0 {
		units = CountUnits(req.Text, s.cfg.WordsPerUnit)
	}
	depth := req.SummaryDepth
	if depth == "" {
		depth = models.DepthBullet
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	doc := &models.Document{
		OwnerID:   req.OwnerID,
		Filename:  req.Filename,
		RawText:   req.Text,
		UnitCount: units,
		Language:  language,
		Checksum:  Checksum(req.Text),
	}
	job := &models.Job{
		ModelID:       model.ID,
		SummaryDepth:  depth,
		ChargedAmount: model.Cost(units),
	}

	if err := s.jobs.CreateSubmission(ctx, doc, job); err != nil {
		return nil, err
	}

	if err := s.publisher.Publish(ctx, models.TaskFor(job, s.now())); err != nil {
		refunded := s.compensate(ctx, job, doc.OwnerID, err)
		return nil, &models.QueueUnavailableError{JobID: job.ID, Refunded: refunded, Cause: err}
	}

	s.audit.LogCharge(job.ID, doc.OwnerID, job.ChargedAmount, units, model.Name)
	logger.WithFields(logrus.Fields{
		"job_id":   job.ID,
		"owner_id": doc.OwnerID,
		"units":    units,
		"cost":     job.ChargedAmount.String(),
	}).Info("submission accepted")

	return &Submission{
		JobID:      job.ID,
		DocumentID: doc.ID,
		Model:      model.Name,
		Units:      units,
		Cost:       job.ChargedAmount,
		Status:     job.Status,
	}, nil
}

// compensate settles a job whose task never reached the queue and reports
// whether the job was rolled back. When it was not, the job keeps its charge
// and waits for the requeuer.
func (s *BillingService) compensate(ctx context.Context, job *models.Job, ownerID int64, cause error) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensationTimeout)
	defer cancel()

	s.audit.LogError(job.ID, ownerID, cause)
	refund, err := s.jobs.MarkError(ctx, job.ID, "enqueue failed")
	if err != nil {
		logger.WithField("job_id", job.ID).Errorf("failed to roll back unpublished job: %v", err)
		return false
	}
	if refund.Amount.IsPositive() {
		s.audit.LogRefund(job.ID, refund.OwnerID, refund.Amount, "enqueue failed")
	}
	return true
}

func (s *BillingService) resolveModel(ctx context.Context, name string) (*models.Model, error) {
	if name == "" {
		name = s.cfg.DefaultModel
	}
	model, err := s.jobs.GetModelByName(ctx, name)
	if errors.Is(err, models.ErrNotFound) {
		model, err = s.jobs.CreateModel(ctx, name, s.cfg.DefaultPrice, true)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve model %q: %w", name, err)
	}
	if !model.Active {
		return nil, fmt.Errorf("%q: %w", name, models.ErrModelInactive)
	}
	return model, nil
}

// FailJob moves a job to ERROR and refunds its charge. Failing a job that is
// already settled is a no-op, so redelivered failures never refund twice.
func (s *BillingService) FailJob(ctx context.Context, jobID int64, message string) error {
	refund, err := s.jobs.MarkError(ctx, jobID, message)
	if errors.Is(err, models.ErrInvalidTransition) {
		logger.WithField("job_id", jobID).Infof("job already settled, skipping refund: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	if refund.Amount.IsPositive() {
		s.audit.LogRefund(jobID, refund.OwnerID, refund.Amount, message)
	}
	logger.WithFields(logrus.Fields{
		"job_id":   jobID,
		"owner_id": refund.OwnerID,
		"refund":   refund.Amount.String(),
	}).Warnf("job failed: %s", message)
	return nil
}

// TopUp credits the owner's wallet.
func (s *BillingService) TopUp(ctx context.Context, ownerID int64, amount decimal.Decimal) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	entry, err := s.wallets.Credit(ctx, ownerID, amount, models.RefTopUp)
	if err != nil {
		return nil, err
	}
	s.audit.LogTopUp(ownerID, amount)
	return entry, nil
}

// JobForOwner returns a job with its clauses, provided the caller owns it.
func (s *BillingService) JobForOwner(ctx context.Context, ownerID, jobID int64) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	owner, err := s.jobs.JobOwner(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if owner != ownerID {
		return nil, fmt.Errorf("job %d: %w", jobID, models.ErrForbidden)
	}
	if job.Status == models.JobDone {
		clauses, err := s.jobs.RiskClauses(ctx, jobID)
		if err != nil {
			return nil, err
		}
		job.RiskClauses = clauses
	}
	return job, nil
}

// DocumentForOwner returns a document, provided the caller owns it.
func (s *BillingService) DocumentForOwner(ctx context.Context, ownerID, documentID int64) (*models.Document, error) {
	doc, err := s.jobs.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.OwnerID != ownerID {
		return nil, fmt.Errorf("document %d: %w", documentID, models.ErrForbidden)
	}
	return doc, nil
}

// History returns one page of the owner's jobs, newest first, with the risk
// clauses of finished jobs attached, and the owner's total job count.
func (s *BillingService) History(ctx context.Context, ownerID int64, skip, limit int) ([]models.Job, int, error) {
	jobs, err := s.jobs.ListJobs(ctx, ownerID, skip, limit)
	if err != nil {
		return nil, 0, err
	}
	for i := range jobs {
		if jobs[i].Status != models.JobDone {
			continue
		}
		clauses, err := s.jobs.RiskClauses(ctx, jobs[i].ID)
		if err != nil {
			return nil, 0, err
		}
		jobs[i].RiskClauses = clauses
	}
	total, err := s.jobs.CountJobs(ctx, ownerID)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}
