package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// JobStore persists documents, models, jobs and risk clauses, and owns the
// job status transitions.
type JobStore struct {
	db      *sql.DB
	wallets *WalletService
	now     func() time.Time
}

func NewJobStore(db *sql.DB, wallets *WalletService) *JobStore {
	return &JobStore{db: db, wallets: wallets, now: time.Now}
}

const jobColumns = `id, document_id, model_id, status, summary_depth, charged_amount,
		result_summary, risk_score, created_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var (
		j          models.Job
		status     string
		depth      string
		riskScore  sql.NullFloat64
		startedAt  sql.NullTime
		finishedAt sql.NullTime
	)
	err := row.Scan(&j.ID, &j.DocumentID, &j.ModelID, &status, &depth, &j.ChargedAmount,
		&j.ResultSummary, &riskScore, &j.CreatedAt, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	j.SummaryDepth = models.SummaryDepth(depth)
	if riskScore.Valid {
		score := riskScore.Float64
		j.RiskScore = &score
	}
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if finishedAt.Valid {
		j.FinishedAt = &finishedAt.Time
	}
	return &j, nil
}

func notFound(err error, what string, id any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %v: %w", what, id, models.ErrNotFound)
	}
	return err
}

// Models

func (s *JobStore) GetModel(ctx context.Context, id int64) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRowContext(ctx, `SELECT id, name, price_per_unit, active FROM models WHERE id = $1`, id).
		Scan(&m.ID, &m.Name, &m.PricePerUnit, &m.Active)
	if err != nil {
		return nil, notFound(err, "model", id)
	}
	return &m, nil
}

func (s *JobStore) GetModelByName(ctx context.Context, name string) (*models.Model, error) {
	var m models.Model
	err := s.db.QueryRowContext(ctx, `SELECT id, name, price_per_unit, active FROM models WHERE name = $1`, name).
		Scan(&m.ID, &m.Name, &m.PricePerUnit, &m.Active)
	if err != nil {
		return nil, notFound(err, "model", name)
	}
	return &m, nil
}

// CreateModel inserts a model unless one with the same name exists, and
// returns the stored row either way.
func (s *JobStore) CreateModel(ctx context.Context, name string, price decimal.Decimal, active bool) (*models.Model, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO models (name, price_per_unit, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO NOTHING`, name, price, active)
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return s.GetModelByName(ctx, name)
}

func (s *JobStore) ListActiveModels(ctx context.Context) ([]models.Model, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, price_per_unit, active FROM models WHERE active ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Model{}
	for rows.Next() {
		var m models.Model
		if err := rows.Scan(&m.ID, &m.Name, &m.PricePerUnit, &m.Active); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Documents

func (s *JobStore) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	var d models.Document
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, filename, raw_text, unit_count, language, checksum, uploaded_at
		FROM documents
		WHERE id = $1`, id).
		Scan(&d.ID, &d.OwnerID, &d.Filename, &d.RawText, &d.UnitCount, &d.Language, &d.Checksum, &d.UploadedAt)
	if err != nil {
		return nil, notFound(err, "document", id)
	}
	return &d, nil
}

func (s *JobStore) ListDocuments(ctx context.Context, ownerID int64, skip, limit int) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, filename, unit_count, language, checksum, uploaded_at
		FROM documents
		WHERE owner_id = $1
		ORDER BY uploaded_at DESC, id DESC
		OFFSET $2 LIMIT $3`, ownerID, skip, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Document{}
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.ID, &d.OwnerID, &d.Filename, &d.UnitCount, &d.Language, &d.Checksum, &d.UploadedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *JobStore) CountDocuments(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

func (s *JobStore) insertDocumentTx(ctx context.Context, tx *sql.Tx, d *models.Document) error {
	if d.UploadedAt.IsZero() {
		d.UploadedAt = s.now()
	}
	return tx.QueryRowContext(ctx, `
		INSERT INTO documents (owner_id, filename, raw_text, unit_count, language, checksum, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		d.OwnerID, d.Filename, d.RawText, d.UnitCount, d.Language, d.Checksum, d.UploadedAt).Scan(&d.ID)
}

// Jobs

func (s *JobStore) insertJobTx(ctx context.Context, tx *sql.Tx, j *models.Job) error {
	j.Status = models.JobQueued
	if j.CreatedAt.IsZero() {
		j.CreatedAt = s.now()
	}
	return tx.QueryRowContext(ctx, `
		INSERT INTO jobs (document_id, model_id, status, summary_depth, charged_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		j.DocumentID, j.ModelID, string(j.Status), string(j.SummaryDepth), j.ChargedAmount, j.CreatedAt).Scan(&j.ID)
}

// CreateJob records an uncharged QUEUED job for an existing document.
func (s *JobStore) CreateJob(ctx context.Context, documentID, modelID int64, depth models.SummaryDepth) (*models.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	job := &models.Job{DocumentID: documentID, ModelID: modelID, SummaryDepth: depth, ChargedAmount: decimal.Zero}
	if err := s.insertJobTx(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	return job, tx.Commit()
}

// CreateSubmission writes the document and the QUEUED job and debits the
// owner for job.ChargedAmount, all in one transaction. A failed debit leaves
// no rows behind.
func (s *JobStore) CreateSubmission(ctx context.Context, doc *models.Document, job *models.Job) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := s.insertDocumentTx(ctx, tx, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	job.DocumentID = doc.ID
	if err := s.insertJobTx(ctx, tx, job); err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	if job.ChargedAmount.IsPositive() {
		if _, err := s.wallets.DebitTx(ctx, tx, doc.OwnerID, job.ChargedAmount, models.JobChargeRef(job.ID)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *JobStore) GetJob(ctx context.Context, id int64) (*models.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "job", id)
	}
	return job, nil
}

func (s *JobStore) currentStatus(ctx context.Context, q interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}, id int64) (models.JobStatus, error) {
	var status string
	if err := q.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status); err != nil {
		return "", notFound(err, "job", id)
	}
	return models.JobStatus(status), nil
}

// MarkRunning moves a QUEUED job to RUNNING. A RUNNING job whose start is
// older than lease is taken over with a fresh start time; a younger one
// yields ErrJobBusy. A terminal job yields ErrInvalidTransition.
func (s *JobStore) MarkRunning(ctx context.Context, id int64, lease time.Duration) (*models.Job, error) {
	now := s.now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, started_at = $2
		WHERE id = $3 AND (status = $4 OR (status = $1 AND started_at < $5))`,
		string(models.JobRunning), now, id, string(models.JobQueued), now.Add(-lease))
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}

	if rowsAffected == 0 {
		status, err := s.currentStatus(ctx, s.db, id)
		if err != nil {
			return nil, err
		}
		if status == models.JobRunning {
			return nil, fmt.Errorf("job %d: %w", id, models.ErrJobBusy)
		}
		return nil, fmt.Errorf("job %d %s -> %s: %w", id, status, models.JobRunning, models.ErrInvalidTransition)
	}
	return s.GetJob(ctx, id)
}

// MarkDone moves a RUNNING job to DONE and stores its results and clauses together.
func (s *JobStore) MarkDone(ctx context.Context, id int64, outcome models.AnalysisOutcome, charged decimal.Decimal) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, result_summary = $2, risk_score = $3, charged_amount = $4, finished_at = $5
		WHERE id = $6 AND status = $7`,
		string(models.JobDone), outcome.Summary, outcome.RiskScore, charged, s.now(), id, string(models.JobRunning))
	if err != nil {
		return err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		status, err := s.currentStatus(ctx, tx, id)
		if err != nil {
			return err
		}
		return fmt.Errorf("job %d %s -> %s: %w", id, status, models.JobDone, models.ErrInvalidTransition)
	}

	for _, c := range outcome.Clauses {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO risk_clauses (job_id, clause_text, risk_level, explanation)
			VALUES ($1, $2, $3, $4)`,
			id, c.Text, string(c.RiskLevel), c.Explanation)
		if err != nil {
			return fmt.Errorf("insert risk clause: %w", err)
		}
	}
	return tx.Commit()
}

// MarkError moves a non-terminal job to ERROR and, in the same transaction,
// credits the charged amount back to the document owner. Only the transition
// issues the refund, so a job is refunded at most once.
func (s *JobStore) MarkError(ctx context.Context, id int64, message string) (models.Refund, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return models.Refund{}, err
	}
	defer tx.Rollback()

	var (
		status  string
		charged decimal.Decimal
		ownerID int64
	)
	err = tx.QueryRowContext(ctx, `
		SELECT j.status, j.charged_amount, d.owner_id
		FROM jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE j.id = $1
		FOR UPDATE OF j`, id).Scan(&status, &charged, &ownerID)
	if err != nil {
		return models.Refund{}, notFound(err, "job", id)
	}
	if !models.CanTransition(models.JobStatus(status), models.JobError) {
		return models.Refund{}, fmt.Errorf("job %d %s -> %s: %w", id, status, models.JobError, models.ErrInvalidTransition)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE jobs
		SET status = $1, result_summary = $2, finished_at = $3
		WHERE id = $4`,
		string(models.JobError), models.ErrorSummary(message), s.now(), id)
	if err != nil {
		return models.Refund{}, err
	}

	if charged.IsPositive() {
		if _, err := s.wallets.CreditTx(ctx, tx, ownerID, charged, models.JobRefundRef(id)); err != nil {
			return models.Refund{}, fmt.Errorf("refund job %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Refund{}, err
	}
	return models.Refund{JobID: id, OwnerID: ownerID, Amount: charged}, nil
}

func (s *JobStore) RiskClauses(ctx context.Context, jobID int64) ([]models.RiskClause, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, job_id, clause_text, risk_level, explanation
		FROM risk_clauses
		WHERE job_id = $1
		ORDER BY id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.RiskClause{}
	for rows.Next() {
		var c models.RiskClause
		var level string
		if err := rows.Scan(&c.ID, &c.JobID, &c.Text, &level, &c.Explanation); err != nil {
			return nil, err
		}
		c.RiskLevel = models.RiskLevel(level)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *JobStore) queryJobs(ctx context.Context, query string, args ...any) ([]models.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Job{}
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *job)
	}
	return out, rows.Err()
}

// ListJobs returns the owner's jobs, newest first.
func (s *JobStore) ListJobs(ctx context.Context, ownerID int64, skip, limit int) ([]models.Job, error) {
	return s.queryJobs(ctx, `
		SELECT j.id, j.document_id, j.model_id, j.status, j.summary_depth, j.charged_amount,
		       j.result_summary, j.risk_score, j.created_at, j.started_at, j.finished_at
		FROM jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE d.owner_id = $1
		ORDER BY j.created_at DESC, j.id DESC
		OFFSET $2 LIMIT $3`, ownerID, skip, limit)
}

func (s *JobStore) CountJobs(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE d.owner_id = $1`, ownerID).Scan(&n)
	return n, err
}

// ListStaleQueued returns QUEUED jobs created before the cutoff and not
// requeued since, oldest first.
func (s *JobStore) ListStaleQueued(ctx context.Context, before time.Time, limit int) ([]models.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+`
		FROM jobs
		WHERE status = $1 AND created_at < $2 AND (requeued_at IS NULL OR requeued_at < $2)
		ORDER BY created_at, id
		LIMIT $3`, string(models.JobQueued), before, limit)
}

// ClaimRequeue stamps a stale QUEUED job as requeued at now. It reports false
// when the job has started or settled, or another sweep requeued it after the
// cutoff. Nothing should be published then.
func (s *JobStore) ClaimRequeue(ctx context.Context, id int64, before, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET requeued_at = $1
		WHERE id = $2 AND status = $3 AND (requeued_at IS NULL OR requeued_at < $4)`,
		now, id, string(models.JobQueued), before)
	if err != nil {
		return false, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return rowsAffected == 1, nil
}

// JobOwner returns the owner of the job's document.
func (s *JobStore) JobOwner(ctx context.Context, jobID int64) (int64, error) {
	var ownerID int64
	err := s.db.QueryRowContext(ctx, `
		SELECT d.owner_id
		FROM jobs j
		JOIN documents d ON d.id = j.document_id
		WHERE j.id = $1`, jobID).Scan(&ownerID)
	if err != nil {
		return 0, notFound(err, "job", jobID)
	}
	return ownerID, nil
}
