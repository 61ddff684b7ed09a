// Package memory keeps wallets, ledger entries and jobs in process memory.
// It backs the "memory" store mode and the scenario tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/riskdesk/backend/internal/services"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu sync.RWMutex

	// Wallet storage, keyed by owner
	wallets map[int64]*models.Wallet

	// Append-only ledger
	entries []models.LedgerEntry

	documents map[int64]*models.Document
	catalog   map[int64]*models.Model
	jobs      map[int64]*models.Job
	clauses   map[int64][]models.RiskClause
	requeued  map[int64]time.Time

	nextID int64
	now    func() time.Time
}

var (
	_ services.WalletStore   = (*Store)(nil)
	_ services.JobRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		wallets:   make(map[int64]*models.Wallet),
		entries:   make([]models.LedgerEntry, 0),
		documents: make(map[int64]*models.Document),
		catalog:   make(map[int64]*models.Model),
		jobs:      make(map[int64]*models.Job),
		clauses:   make(map[int64][]models.RiskClause),
		requeued:  make(map[int64]time.Time),
		now:       time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

func notFound(what string, id any) error {
	return fmt.Errorf("%s %v: %w", what, id, models.ErrNotFound)
}

// Wallet store implementation

func (s *Store) walletLocked(ownerID int64) *models.Wallet {
	w, ok := s.wallets[ownerID]
	if !ok {
		now := s.now()
		w = &models.Wallet{ID: s.id(), OwnerID: ownerID, Balance: decimal.Zero, CreatedAt: now, UpdatedAt: now}
		s.wallets[ownerID] = w
	}
	return w
}

func (s *Store) GetOrCreate(_ context.Context, ownerID int64) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w := *s.walletLocked(ownerID)
	return &w, nil
}

func (s *Store) appendLocked(ownerID int64, kind models.EntryKind, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	w := s.walletLocked(ownerID)
	if kind == models.EntryDebit && w.Balance.LessThan(amount) {
		return nil, &models.InsufficientFundsError{Required: amount, Available: w.Balance}
	}

	entry := models.LedgerEntry{
		ID:        s.id(),
		OwnerID:   ownerID,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		CreatedAt: s.now(),
	}
	s.entries = append(s.entries, entry)
	w.Balance = w.Balance.Add(entry.Signed())
	w.UpdatedAt = entry.CreatedAt
	return &entry, nil
}

func (s *Store) Credit(_ context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ownerID, models.EntryCredit, amount, reference)
}

func (s *Store) Debit(_ context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(ownerID, models.EntryDebit, amount, reference)
}

// Balance is the signed sum of the owner's ledger entries.
func (s *Store) Balance(_ context.Context, ownerID int64) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := decimal.Zero
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			sum = sum.Add(e.Signed())
		}
	}
	return sum, nil
}

func (s *Store) Transactions(_ context.Context, ownerID int64, skip, limit int) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.LedgerEntry, 0)
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].OwnerID == ownerID {
			result = append(result, s.entries[i])
		}
	}
	return page(result, skip, limit), nil
}

func (s *Store) Count(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, e := range s.entries {
		if e.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// Model storage

func (s *Store) GetModel(_ context.Context, id int64) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if m, ok := s.catalog[id]; ok {
		c := *m
		return &c, nil
	}
	return nil, notFound("model", id)
}

func (s *Store) GetModelByName(_ context.Context, name string) (*models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.catalog {
		if m.Name == name {
			c := *m
			return &c, nil
		}
	}
	return nil, notFound("model", name)
}

func (s *Store) CreateModel(_ context.Context, name string, price decimal.Decimal, active bool) (*models.Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.catalog {
		if m.Name == name {
			c := *m
			return &c, nil
		}
	}
	m := &models.Model{ID: s.id(), Name: name, PricePerUnit: price, Active: active}
	s.catalog[m.ID] = m
	c := *m
	return &c, nil
}

// SetModelActive toggles a model; it has no Postgres counterpart and exists
// for seeding and tests.
func (s *Store) SetModelActive(name string, active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.catalog {
		if m.Name == name {
			m.Active = active
		}
	}
}

func (s *Store) ListActiveModels(_ context.Context) ([]models.Model, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Model, 0)
	for _, m := range s.catalog {
		if m.Active {
			result = append(result, *m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// Document storage

func (s *Store) GetDocument(_ context.Context, id int64) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if d, ok := s.documents[id]; ok {
		c := *d
		return &c, nil
	}
	return nil, notFound("document", id)
}

// DeleteDocument removes a document. Tests use it to simulate lost rows.
func (s *Store) DeleteDocument(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.documents, id)
}

func (s *Store) ListDocuments(_ context.Context, ownerID int64, skip, limit int) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Document, 0)
	for _, d := range s.documents {
		if d.OwnerID == ownerID {
			c := *d
			c.RawText = ""
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return page(result, skip, limit), nil
}

func (s *Store) CountDocuments(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.documents {
		if d.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// Job storage

// CreateSubmission stores the document and the QUEUED job and debits the
// owner under one lock. A failed debit stores nothing.
func (s *Store) CreateSubmission(_ context.Context, doc *models.Document, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if job.ChargedAmount.IsPositive() {
		w := s.walletLocked(doc.OwnerID)
		if w.Balance.LessThan(job.ChargedAmount) {
			return &models.InsufficientFundsError{Required: job.ChargedAmount, Available: w.Balance}
		}
	}

	now := s.now()
	doc.ID = s.id()
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = now
	}
	d := *doc
	s.documents[d.ID] = &d

	job.ID = s.id()
	job.DocumentID = doc.ID
	job.Status = models.JobQueued
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	j := *job
	s.jobs[j.ID] = &j

	if job.ChargedAmount.IsPositive() {
		if _, err := s.appendLocked(doc.OwnerID, models.EntryDebit, job.ChargedAmount, models.JobChargeRef(job.ID)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) CreateJob(_ context.Context, documentID, modelID int64, depth models.SummaryDepth) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j := &models.Job{
		ID:            s.id(),
		DocumentID:    documentID,
		ModelID:       modelID,
		Status:        models.JobQueued,
		SummaryDepth:  depth,
		ChargedAmount: decimal.Zero,
		CreatedAt:     s.now(),
	}
	s.jobs[j.ID] = j
	c := *j
	return &c, nil
}

func (s *Store) GetJob(_ context.Context, id int64) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if j, ok := s.jobs[id]; ok {
		c := *j
		return &c, nil
	}
	return nil, notFound("job", id)
}

func (s *Store) ownerLocked(jobID int64) (int64, error) {
	j, ok := s.jobs[jobID]
	if !ok {
		return 0, notFound("job", jobID)
	}
	d, ok := s.documents[j.DocumentID]
	if !ok {
		return 0, notFound("document", j.DocumentID)
	}
	return d.OwnerID, nil
}

func (s *Store) JobOwner(_ context.Context, jobID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ownerLocked(jobID)
}

// MarkRunning starts a QUEUED job or takes over a RUNNING one whose start is
// older than lease.
func (s *Store) MarkRunning(_ context.Context, id int64, lease time.Duration) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, notFound("job", id)
	}
	now := s.now()
	switch {
	case j.Status == models.JobRunning:
		if j.StartedAt != nil && !j.StartedAt.Before(now.Add(-lease)) {
			return nil, fmt.Errorf("job %d: %w", id, models.ErrJobBusy)
		}
	case !models.CanTransition(j.Status, models.JobRunning):
		return nil, fmt.Errorf("job %d %s -> %s: %w", id, j.Status, models.JobRunning, models.ErrInvalidTransition)
	}
	j.Status = models.JobRunning
	j.StartedAt = &now
	c := *j
	return &c, nil
}

func (s *Store) MarkDone(_ context.Context, id int64, outcome models.AnalysisOutcome, charged decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return notFound("job", id)
	}
	if j.Status != models.JobRunning {
		return fmt.Errorf("job %d %s -> %s: %w", id, j.Status, models.JobDone, models.ErrInvalidTransition)
	}

	now := s.now()
	score := outcome.RiskScore
	j.Status = models.JobDone
	j.ResultSummary = outcome.Summary
	j.RiskScore = &score
	j.ChargedAmount = charged
	j.FinishedAt = &now

	clauses := make([]models.RiskClause, 0, len(outcome.Clauses))
	for _, c := range outcome.Clauses {
		c.ID = s.id()
		c.JobID = id
		clauses = append(clauses, c)
	}
	s.clauses[id] = clauses
	return nil
}

// MarkError moves a non-terminal job to ERROR and credits its charge back
// to the document owner under the same lock.
func (s *Store) MarkError(_ context.Context, id int64, message string) (models.Refund, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return models.Refund{}, notFound("job", id)
	}
	if !models.CanTransition(j.Status, models.JobError) {
		return models.Refund{}, fmt.Errorf("job %d %s -> %s: %w", id, j.Status, models.JobError, models.ErrInvalidTransition)
	}

	refund := models.Refund{JobID: id, Amount: j.ChargedAmount}
	if j.ChargedAmount.IsPositive() {
		ownerID, err := s.ownerLocked(id)
		if err != nil {
			return models.Refund{}, err
		}
		if _, err := s.appendLocked(ownerID, models.EntryCredit, j.ChargedAmount, models.JobRefundRef(id)); err != nil {
			return models.Refund{}, err
		}
		refund.OwnerID = ownerID
	}

	now := s.now()
	j.Status = models.JobError
	j.ResultSummary = models.ErrorSummary(message)
	j.FinishedAt = &now
	return refund, nil
}

func (s *Store) RiskClauses(_ context.Context, jobID int64) ([]models.RiskClause, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.RiskClause{}, s.clauses[jobID]...), nil
}

func (s *Store) ownedJobsLocked(ownerID int64) []models.Job {
	result := make([]models.Job, 0)
	for _, j := range s.jobs {
		if d, ok := s.documents[j.DocumentID]; ok && d.OwnerID == ownerID {
			result = append(result, *j)
		}
	}
	return result
}

func (s *Store) ListJobs(_ context.Context, ownerID int64, skip, limit int) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := s.ownedJobsLocked(ownerID)
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return page(result, skip, limit), nil
}

func (s *Store) CountJobs(_ context.Context, ownerID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ownedJobsLocked(ownerID)), nil
}

func (s *Store) staleLocked(j *models.Job, before time.Time) bool {
	if j.Status != models.JobQueued || !j.CreatedAt.Before(before) {
		return false
	}
	at, ok := s.requeued[j.ID]
	return !ok || at.Before(before)
}

func (s *Store) ListStaleQueued(_ context.Context, before time.Time, limit int) ([]models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Job, 0)
	for _, j := range s.jobs {
		if s.staleLocked(j, before) {
			result = append(result, *j)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return page(result, 0, limit), nil
}

func (s *Store) ClaimRequeue(_ context.Context, id int64, before, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !s.staleLocked(j, before) {
		return false, nil
	}
	s.requeued[id] = now
	return true, nil
}

// Verify checks the cached wallet balance against the ledger.
func (s *Store) Verify(ctx context.Context, ownerID int64) error {
	sum, err := s.Balance(ctx, ownerID)
	if err != nil {
		return err
	}
	w, err := s.GetOrCreate(ctx, ownerID)
	if err != nil {
		return err
	}
	if !w.Balance.Equal(sum) {
		return fmt.Errorf("%w: owner %d cached %s, ledger %s", services.ErrBalanceDrift, ownerID, w.Balance, sum)
	}
	return nil
}

func page[T any](items []T, skip, limit int) []T {
	start := skip
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
