package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind is the direction of a ledger entry.
type EntryKind string

const (
	EntryCredit EntryKind = "CREDIT"
	EntryDebit  EntryKind = "DEBIT"
)

// LedgerEntry is an immutable movement of funds for an owner.
type LedgerEntry struct {
	ID        int64           `json:"id" db:"id"`
	OwnerID   int64           `json:"owner_id" db:"owner_id"`
	Kind      EntryKind       `json:"kind" db:"kind"`
	Amount    decimal.Decimal `json:"amount" db:"amount"` // always positive
	Reference string          `json:"reference" db:"reference"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
}

// Signed returns the amount with the sign of its direction.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Kind == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Wallet caches the balance of an owner. The ledger is the source of truth;
// Balance always equals the signed sum of the owner's entries.
type Wallet struct {
	ID        int64           `json:"id" db:"id"`
	OwnerID   int64           `json:"owner_id" db:"owner_id"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Ledger entry references.
const (
	RefTopUp = "topup"
)

// JobChargeRef and JobRefundRef tie an entry to the job that caused it.
func JobChargeRef(jobID int64) string { return fmt.Sprintf("job:%d:charge", jobID) }
func JobRefundRef(jobID int64) string { return fmt.Sprintf("job:%d:refund", jobID) }
