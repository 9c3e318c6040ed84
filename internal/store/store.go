// Package store defines the persistence interfaces for the ledger (accounts
// and call receipts) and provides SQLite and Parquet implementations.
package store

import (
	"context"
	"errors"
	"time"

	"markethours/internal/domain"
	"markethours/internal/pda"
)

// ErrAccountNotFound is returned when no account exists at an address.
var ErrAccountNotFound = errors.New("account not found")

// AccountReader reads ledger accounts.
type AccountReader interface {
	// GetAccount returns the account at addr or ErrAccountNotFound.
	GetAccount(ctx context.Context, addr pda.Address) (*domain.Account, error)
}

// Tx is a read-write view of the ledger scoped to one atomic call.
type Tx interface {
	AccountReader

	// PutAccount inserts or replaces the account at acct.Address.
	PutAccount(ctx context.Context, acct *domain.Account) error

	// SaveReceipt records the call outcome as part of the transaction.
	SaveReceipt(ctx context.Context, r *domain.Receipt) error
}

// Ledger persists accounts and receipts with all-or-nothing writes.
type Ledger interface {
	AccountReader

	// WithTx runs fn inside a transaction. Any error from fn rolls back every
	// write fn made; a nil return commits them together.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// SaveReceipt records a receipt outside of any call transaction, used for
	// calls that failed and rolled back.
	SaveReceipt(ctx context.Context, r *domain.Receipt) error

	// ListReceipts returns receipts created in [start, end), newest first, up
	// to limit (0 means no limit).
	ListReceipts(ctx context.Context, start, end time.Time, limit int) ([]domain.Receipt, error)
}

// ReceiptArchive stores receipts for long-term retention.
type ReceiptArchive interface {
	// WriteReceipts persists a batch of receipts.
	WriteReceipts(ctx context.Context, receipts []domain.Receipt) error

	// ReadReceipts returns archived receipts within [start, end].
	ReadReceipts(ctx context.Context, start, end time.Time) ([]domain.Receipt, error)
}
