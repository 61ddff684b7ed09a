package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/riskdesk/backend/internal/models"
	"github.com/shopspring/decimal"
)

// LedgerService is the append-only store of ledger entries. Entries are never
// updated or deleted.
type LedgerService struct {
	db  *sql.DB
	now func() time.Time
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{db: db, now: time.Now}
}

// Append writes a single entry in its own transaction.
func (s *LedgerService) Append(ctx context.Context, ownerID int64, kind models.EntryKind, amount decimal.Decimal, reference string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := s.AppendTx(ctx, tx, ownerID, kind, amount, reference)
	if err != nil {
		return 0, err
	}
	return id, tx.Commit()
}

// AppendTx writes an entry inside the caller's transaction.
func (s *LedgerService) AppendTx(ctx context.Context, tx *sql.Tx, ownerID int64, kind models.EntryKind, amount decimal.Decimal, reference string) (int64, error) {
	if !amount.IsPositive() {
		return 0, models.ErrInvalidAmount
	}
	if kind != models.EntryCredit && kind != models.EntryDebit {
		return 0, fmt.Errorf("unknown entry kind %q", kind)
	}

	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (owner_id, kind, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		ownerID, string(kind), amount, reference, s.now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("append ledger entry: %w", err)
	}
	return id, nil
}

// Balance is the signed sum of the owner's entries.
func (s *LedgerService) Balance(ctx context.Context, ownerID int64) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN kind = 'CREDIT' THEN amount ELSE -amount END), 0)
		FROM ledger_entries
		WHERE owner_id = $1`, ownerID).Scan(&balance)
	if err != nil {
		return decimal.Zero, err
	}
	return balance, nil
}

// History returns entries newest first; ties on timestamp are broken by id.
func (s *LedgerService) History(ctx context.Context, ownerID int64, offset, limit int) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, kind, amount, reference, created_at
		FROM ledger_entries
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		OFFSET $2 LIMIT $3`, ownerID, offset, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.LedgerEntry{}
	for rows.Next() {
		var e models.LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.OwnerID, &kind, &e.Amount, &e.Reference, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = models.EntryKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of entries for the owner.
func (s *LedgerService) Count(ctx context.Context, ownerID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ledger_entries WHERE owner_id = $1`, ownerID).Scan(&n)
	return n, err
}
