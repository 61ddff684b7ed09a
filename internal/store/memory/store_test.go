package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func submit(t *testing.T, s *Store, owner int64, charge decimal.Decimal) (*models.Document, *models.Job) {
	t.Helper()
	doc := &models.Document{OwnerID: owner, Filename: "c.txt", RawText: "text", UnitCount: 1}
	job := &models.Job{ModelID: 1, SummaryDepth: models.DepthBullet, ChargedAmount: charge}
	require.NoError(t, s.CreateSubmission(context.Background(), doc, job))
	return doc, job
}

func TestStore_CreditDebit(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Credit(ctx, 1, d(100), models.RefTopUp)
	require.NoError(t, err)
	_, err = s.Debit(ctx, 1, d(30), "manual")
	require.NoError(t, err)

	_, err = s.Debit(ctx, 1, d(80), "manual")
	var insufficient *models.InsufficientFundsError
	require.True(t, errors.As(err, &insufficient))
	assert.True(t, insufficient.Required.Equal(d(80)))
	assert.True(t, insufficient.Available.Equal(d(70)))

	_, err = s.Credit(ctx, 1, d(0), models.RefTopUp)
	assert.ErrorIs(t, err, models.ErrInvalidAmount)

	balance, err := s.Balance(ctx, 1)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d(70)))
	assert.NoError(t, s.Verify(ctx, 1))

	entries, err := s.Transactions(ctx, 1, 0, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.EntryDebit, entries[0].Kind)
	assert.Equal(t, models.EntryCredit, entries[1].Kind)

	n, err := s.Count(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestStore_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	s := New()
	_, err := s.Credit(ctx, 1, d(10), models.RefTopUp)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Debit(ctx, 1, d(1), "race"); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	balance, _ := s.Balance(ctx, 1)
	assert.True(t, balance.IsZero())
	assert.NoError(t, s.Verify(ctx, 1))
}

func TestStore_CreateSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("insufficient funds stores nothing", func(t *testing.T) {
		s := New()
		doc := &models.Document{OwnerID: 1, Filename: "c.txt", RawText: "text", UnitCount: 10}
		job := &models.Job{ModelID: 1, ChargedAmount: d(10)}

		err := s.CreateSubmission(ctx, doc, job)
		assert.ErrorIs(t, err, models.ErrInsufficientFunds)

		docs, _ := s.ListDocuments(ctx, 1, 0, 10)
		assert.Empty(t, docs)
		jobs, _ := s.ListJobs(ctx, 1, 0, 10)
		assert.Empty(t, jobs)
		n, _ := s.Count(ctx, 1)
		assert.Zero(t, n)
	})

	t.Run("charges and queues", func(t *testing.T) {
		s := New()
		_, err := s.Credit(ctx, 1, d(100), models.RefTopUp)
		require.NoError(t, err)

		doc, job := submit(t, s, 1, d(10))
		assert.Equal(t, models.JobQueued, job.Status)
		assert.Equal(t, doc.ID, job.DocumentID)

		entries, _ := s.Transactions(ctx, 1, 0, 1)
		require.Len(t, entries, 1)
		assert.Equal(t, models.JobChargeRef(job.ID), entries[0].Reference)

		balance, _ := s.Balance(ctx, 1)
		assert.True(t, balance.Equal(d(90)))

		owner, err := s.JobOwner(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), owner)
	})
}

func TestStore_JobTransitions(t *testing.T) {
	ctx := context.Background()

	t.Run("done is final", func(t *testing.T) {
		s := New()
		_, _ = s.Credit(ctx, 1, d(100), models.RefTopUp)
		_, job := submit(t, s, 1, d(10))

		running, err := s.MarkRunning(ctx, job.ID, time.Minute)
		require.NoError(t, err)
		assert.Equal(t, models.JobRunning, running.Status)
		require.NotNil(t, running.StartedAt)

		_, err = s.MarkRunning(ctx, job.ID, time.Minute)
		assert.ErrorIs(t, err, models.ErrJobBusy)

		outcome := models.AnalysisOutcome{
			Summary:   "ok",
			RiskScore: 0.4,
			Clauses:   []models.RiskClause{{Text: "penalty", RiskLevel: models.RiskHigh}},
		}
		require.NoError(t, s.MarkDone(ctx, job.ID, outcome, job.ChargedAmount))

		assert.ErrorIs(t, s.MarkDone(ctx, job.ID, outcome, job.ChargedAmount), models.ErrInvalidTransition)
		_, err = s.MarkRunning(ctx, job.ID, time.Minute)
		assert.ErrorIs(t, err, models.ErrInvalidTransition)
		_, err = s.MarkError(ctx, job.ID, "late")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		clauses, _ := s.RiskClauses(ctx, job.ID)
		require.Len(t, clauses, 1)
		assert.Equal(t, job.ID, clauses[0].JobID)

		balance, _ := s.Balance(ctx, 1)
		assert.True(t, balance.Equal(d(90)))
	})

	t.Run("error refunds once", func(t *testing.T) {
		s := New()
		_, _ = s.Credit(ctx, 1, d(100), models.RefTopUp)
		_, job := submit(t, s, 1, d(10))

		refund, err := s.MarkError(ctx, job.ID, "backend down")
		require.NoError(t, err)
		assert.True(t, refund.Amount.Equal(d(10)))
		assert.Equal(t, int64(1), refund.OwnerID)

		_, err = s.MarkError(ctx, job.ID, "backend down")
		assert.ErrorIs(t, err, models.ErrInvalidTransition)

		got, _ := s.GetJob(ctx, job.ID)
		assert.Equal(t, models.JobError, got.Status)
		assert.Equal(t, "Error: backend down", got.ResultSummary)

		balance, _ := s.Balance(ctx, 1)
		assert.True(t, balance.Equal(d(100)))
		assert.NoError(t, s.Verify(ctx, 1))
	})

	t.Run("concurrent failures refund once", func(t *testing.T) {
		s := New()
		_, _ = s.Credit(ctx, 1, d(100), models.RefTopUp)
		_, job := submit(t, s, 1, d(10))

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = s.MarkError(ctx, job.ID, "boom")
			}()
		}
		wg.Wait()

		n, _ := s.Count(ctx, 1)
		assert.Equal(t, 3, n)
		balance, _ := s.Balance(ctx, 1)
		assert.True(t, balance.Equal(d(100)))
	})

	t.Run("missing job", func(t *testing.T) {
		s := New()
		_, err := s.MarkRunning(ctx, 42, time.Minute)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestStore_Models(t *testing.T) {
	ctx := context.Background()
	s := New()

	m, err := s.CreateModel(ctx, "default_model", d(2), true)
	require.NoError(t, err)
	again, err := s.CreateModel(ctx, "default_model", d(5), true)
	require.NoError(t, err)
	assert.Equal(t, m.ID, again.ID)
	assert.True(t, again.PricePerUnit.Equal(d(2)))

	s.SetModelActive("default_model", false)
	active, _ := s.ListActiveModels(ctx)
	assert.Empty(t, active)

	_, err = s.GetModelByName(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestStore_ListStaleQueued(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	_, job := submit(t, s, 1, decimal.Zero)
	_, running := submit(t, s, 1, decimal.Zero)
	_, err := s.MarkRunning(ctx, running.ID, time.Minute)
	require.NoError(t, err)

	stale, err := s.ListStaleQueued(ctx, base.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, job.ID, stale[0].ID)

	stale, _ = s.ListStaleQueued(ctx, base, 10)
	assert.Empty(t, stale)
}

func TestStore_ClaimRequeue(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, job := submit(t, s, 1, decimal.Zero)

	claimed, err := s.ClaimRequeue(ctx, job.ID, base.Add(time.Minute), base.Add(11*time.Minute))
	require.NoError(t, err)
	assert.True(t, claimed)

	// the second sweep's cutoff is before the first claim
	claimed, _ = s.ClaimRequeue(ctx, job.ID, base.Add(2*time.Minute), base.Add(12*time.Minute))
	assert.False(t, claimed)
	stale, _ := s.ListStaleQueued(ctx, base.Add(2*time.Minute), 10)
	assert.Empty(t, stale)

	claimed, _ = s.ClaimRequeue(ctx, job.ID, base.Add(12*time.Minute), base.Add(22*time.Minute))
	assert.True(t, claimed)

	claimed, _ = s.ClaimRequeue(ctx, 404, base.Add(time.Hour), base.Add(time.Hour))
	assert.False(t, claimed)
}

func TestStore_MarkRunningTakesOverExpiredLease(t *testing.T) {
	ctx := context.Background()
	s := New()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }
	_, job := submit(t, s, 1, decimal.Zero)

	_, err := s.MarkRunning(ctx, job.ID, time.Minute)
	require.NoError(t, err)

	s.now = func() time.Time { return base.Add(30 * time.Second) }
	_, err = s.MarkRunning(ctx, job.ID, time.Minute)
	assert.ErrorIs(t, err, models.ErrJobBusy)

	s.now = func() time.Time { return base.Add(2 * time.Minute) }
	taken, err := s.MarkRunning(ctx, job.ID, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, base.Add(2*time.Minute), *taken.StartedAt)
}
