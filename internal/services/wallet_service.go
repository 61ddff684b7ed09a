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

// WalletService mutates balances through the ledger. Every mutation locks the
// owner's wallet row, appends the entry and updates the cached balance in one
// transaction, so concurrent debits for an owner are serialized.
type WalletService struct {
	db     *sql.DB
	ledger *LedgerService
	now    func() time.Time
}

func NewWalletService(db *sql.DB, ledger *LedgerService) *WalletService {
	return &WalletService{db: db, ledger: ledger, now: time.Now}
}

// GetOrCreate returns the owner's wallet, creating an empty one on first use.
// Concurrent callers collapse on the unique owner_id constraint.
func (s *WalletService) GetOrCreate(ctx context.Context, ownerID int64) (*models.Wallet, error) {
	if err := s.ensureWallet(ctx, s.db, ownerID); err != nil {
		return nil, err
	}

	var w models.Wallet
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_id, balance, created_at, updated_at
		FROM wallets
		WHERE owner_id = $1`, ownerID).Scan(&w.ID, &w.OwnerID, &w.Balance, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *WalletService) ensureWallet(ctx context.Context, db execer, ownerID int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (owner_id) DO NOTHING`, ownerID, s.now())
	if err != nil {
		return fmt.Errorf("create wallet: %w", err)
	}
	return nil
}

// Credit appends a CREDIT entry.
func (s *WalletService) Credit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	return s.mutate(ctx, ownerID, func(tx *sql.Tx) (*models.LedgerEntry, error) {
		return s.CreditTx(ctx, tx, ownerID, amount, reference)
	})
}

// Debit appends a DEBIT entry only if the balance covers it.
func (s *WalletService) Debit(ctx context.Context, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	return s.mutate(ctx, ownerID, func(tx *sql.Tx) (*models.LedgerEntry, error) {
		return s.DebitTx(ctx, tx, ownerID, amount, reference)
	})
}

func (s *WalletService) mutate(ctx context.Context, ownerID int64, fn func(tx *sql.Tx) (*models.LedgerEntry, error)) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	entry, err := fn(tx)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

// CreditTx credits inside the caller's transaction.
func (s *WalletService) CreditTx(ctx context.Context, tx *sql.Tx, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	wallet, err := s.lockWallet(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.apply(ctx, tx, wallet, models.EntryCredit, amount, reference)
}

// DebitTx debits inside the caller's transaction. The balance check happens
// under the wallet row lock, so it cannot race another mutation.
func (s *WalletService) DebitTx(ctx context.Context, tx *sql.Tx, ownerID int64, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	if !amount.IsPositive() {
		return nil, models.ErrInvalidAmount
	}
	wallet, err := s.lockWallet(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}
	if wallet.Balance.LessThan(amount) {
		return nil, &models.InsufficientFundsError{Required: amount, Available: wallet.Balance}
	}
	return s.apply(ctx, tx, wallet, models.EntryDebit, amount, reference)
}

func (s *WalletService) apply(ctx context.Context, tx *sql.Tx, wallet *models.Wallet, kind models.EntryKind, amount decimal.Decimal, reference string) (*models.LedgerEntry, error) {
	id, err := s.ledger.AppendTx(ctx, tx, wallet.OwnerID, kind, amount, reference)
	if err != nil {
		return nil, err
	}

	entry := &models.LedgerEntry{
		ID:        id,
		OwnerID:   wallet.OwnerID,
		Kind:      kind,
		Amount:    amount,
		Reference: reference,
		CreatedAt: s.now(),
	}
	if err := s.updateBalance(ctx, tx, wallet.ID, wallet.Balance.Add(entry.Signed())); err != nil {
		return nil, err
	}
	return entry, nil
}

func (s *WalletService) lockWallet(ctx context.Context, tx *sql.Tx, ownerID int64) (*models.Wallet, error) {
	if err := s.ensureWallet(ctx, tx, ownerID); err != nil {
		return nil, err
	}

	var w models.Wallet
	err := tx.QueryRowContext(ctx, `
		SELECT id, owner_id, balance
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE`, ownerID).Scan(&w.ID, &w.OwnerID, &w.Balance)
	if err != nil {
		return nil, fmt.Errorf("lock wallet: %w", err)
	}
	return &w, nil
}

func (s *WalletService) updateBalance(ctx context.Context, tx *sql.Tx, walletID int64, balance decimal.Decimal) error {
	if balance.IsNegative() {
		return fmt.Errorf("wallet %d balance would become negative", walletID)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, updated_at = $2
		WHERE id = $3`,
		balance, s.now(), walletID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("wallet %d not updated", walletID)
	}
	return nil
}

// Balance is the ledger-derived balance of the owner.
func (s *WalletService) Balance(ctx context.Context, ownerID int64) (decimal.Decimal, error) {
	return s.ledger.Balance(ctx, ownerID)
}

// Transactions pages through the owner's entries, newest first.
func (s *WalletService) Transactions(ctx context.Context, ownerID int64, skip, limit int) ([]models.LedgerEntry, error) {
	return s.ledger.History(ctx, ownerID, skip, limit)
}

func (s *WalletService) Count(ctx context.Context, ownerID int64) (int, error) {
	return s.ledger.Count(ctx, ownerID)
}

// ErrBalanceDrift is returned by Verify when the cached balance disagrees with the ledger.
var ErrBalanceDrift = errors.New("wallet balance differs from ledger")

// Verify checks the cached balance against the ledger sum.
func (s *WalletService) Verify(ctx context.Context, ownerID int64) error {
	wallet, err := s.GetOrCreate(ctx, ownerID)
	if err != nil {
		return err
	}
	sum, err := s.ledger.Balance(ctx, ownerID)
	if err != nil {
		return err
	}
	if !wallet.Balance.Equal(sum) {
		return fmt.Errorf("%w: owner %d cached %s, ledger %s", ErrBalanceDrift, ownerID, wallet.Balance, sum)
	}
	return nil
}
