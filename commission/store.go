/*
store.go - Persistence interfaces

PURPOSE:
  Defines the interface between the engine and the database. The engine
  describes the records it needs; implementations decide how to query them.

KEY INTERFACES:
  TransactionStore: Transaction CRUD and filtered listing
  SequenceStore:    Atomic per fiscal year invoice counter
  FilingLockStore:  Per period filing lock records
  TxStore:          All of the above inside one atomic unit of work
  AuditLog:         Append-only audit sink (written outside TxStore)

ATOMICITY:
  NextSequence is a single increment-and-read. Implementations must never
  read the counter and write it back in two steps. UpsertFilingLock is
  atomic per (fiscal year, month, year) key.

IMPLEMENTATIONS:
  - commission/store/memory.go: In-memory, for tests and dev
  - store/sqlite/sqlite.go: SQLite (default)
  - store/postgres/postgres.go: PostgreSQL via pgx
*/
package commission

import (
	"context"
	"time"
)

// =============================================================================
// STORE
// =============================================================================

// TransactionFilter narrows ListTransactions. Zero values mean "no filter".
type TransactionFilter struct {
	From          *time.Time // inclusive
	To            *time.Time // inclusive
	FiscalYear    FiscalYear
	PaymentMode   PaymentMode
	InvoiceNumber string
	CreatedBy     string
	Limit         int
	Offset        int
}

// Matches applies the filter to a single transaction (pagination excluded).
func (f TransactionFilter) Matches(tx Transaction) bool {
	if f.From != nil && tx.Date.Before(NormalizeDate(*f.From)) {
		return false
	}
	if f.To != nil && tx.Date.After(NormalizeDate(*f.To)) {
		return false
	}
	if f.FiscalYear != "" && tx.FiscalYear != f.FiscalYear {
		return false
	}
	if f.PaymentMode != "" && tx.PaymentMode != f.PaymentMode {
		return false
	}
	if f.InvoiceNumber != "" && tx.InvoiceNumber != f.InvoiceNumber {
		return false
	}
	if f.CreatedBy != "" && tx.CreatedBy != f.CreatedBy {
		return false
	}
	return true
}

type TransactionStore interface {
	// InsertTransaction fails with ErrDuplicateInvoiceNumber on a uniqueness violation.
	InsertTransaction(ctx context.Context, tx Transaction) error

	// UpdateTransaction replaces every field of an existing row.
	UpdateTransaction(ctx context.Context, tx Transaction) error

	DeleteTransaction(ctx context.Context, id string) error

	// GetTransaction returns nil, nil when the transaction does not exist.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// ListTransactions returns matches ordered by date, then invoice number.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
}

type SequenceStore interface {
	// NextSequence atomically creates or increments the counter for fy and
	// returns the new value. The first call for a fiscal year returns 1.
	NextSequence(ctx context.Context, fy FiscalYear, prefix string) (int64, error)
}

type FilingLockStore interface {
	// UpsertFilingLock creates or replaces the lock for lock.Key().
	UpsertFilingLock(ctx context.Context, lock FilingLock) error

	// GetFilingLock returns nil, nil when no record exists for the key.
	GetFilingLock(ctx context.Context, key LockKey) (*FilingLock, error)

	// ListFilingLocks returns every lock record of a fiscal year ("" for all).
	ListFilingLocks(ctx context.Context, fy FiscalYear) ([]FilingLock, error)
}

// Store groups the persistence needed by the engine.
type Store interface {
	TransactionStore
	SequenceStore
	FilingLockStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store is rolled back.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// AUDIT LOG
// =============================================================================

// AuditLog stores audit entries. Append-only.
type AuditLog interface {
	AppendAudit(ctx context.Context, entry AuditEntry) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]AuditEntry, error)
}

// AuditFilter selects audit entries. Results are oldest first; a positive
// Limit keeps the most recent Limit matches.
type AuditFilter struct {
	ActorID  string
	EntityID string
	Actions  []AuditAction
	From     *time.Time
	To       *time.Time
	Limit    int
}

// Matches applies the filter to a single entry (limit excluded).
func (f AuditFilter) Matches(e AuditEntry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.EntityID != "" && e.EntityID != f.EntityID {
		return false
	}
	if len(f.Actions) > 0 {
		found := false
		for _, a := range f.Actions {
			if a == e.Action {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}
