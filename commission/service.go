/*
service.go - Transaction mutation orchestration

PURPOSE:
  Composes the calculation rule, the validator, the filing lock guard and
  the invoice allocator into the create / update / delete paths.

CREATE:
  1. Resolve commission percent (input or default) and tax rate (config)
  2. Compute derived amounts          -> ErrInvalidInput, nothing written
  3. Re-check derived amounts         -> ErrCalculationMismatch, nothing written
  4. In one store transaction:
       a. filing lock guard on date   -> ErrFilingLocked (audited)
       b. allocate invoice number, derive fiscal year
       c. insert
  5. Audit transaction_created

  The invoice counter is incremented inside the same store transaction as
  the insert, so a failed insert releases the number.

UPDATE:
  Lock guard on the stored date and, when the date changes, on the new date.
  A date change may not cross a fiscal year (the invoice number and fiscal
  year are fixed at creation). All derived fields are recomputed and the
  full row is written.

DELETE:
  Lock guard on the stored date, hard delete, audit a snapshot of the row.
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Config holds the system configuration the engine depends on.
type Config struct {
	Rates         Rates
	InvoicePrefix string
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the entry point for every transaction, lock and report operation.
type Service struct {
	store     TxStore
	locks     *FilingLocks
	audit     *Auditor
	numberer  InvoiceNumberer
	validator Validator
	rates     Rates
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService validates cfg and wires the engine.
func NewService(store TxStore, auditLog AuditLog, cfg Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	if err := cfg.Rates.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rates: %w", err)
	}
	if cfg.InvoicePrefix == "" {
		cfg.InvoicePrefix = DefaultInvoicePrefix
	}
	if err := ValidatePrefix(cfg.InvoicePrefix); err != nil {
		return nil, err
	}

	audit := NewAuditor(auditLog, logger)
	s := &Service{
		store:     store,
		audit:     audit,
		locks:     NewFilingLocks(store, audit),
		numberer:  InvoiceNumberer{Prefix: cfg.InvoicePrefix},
		validator: Validator{},
		rates:     cfg.Rates,
		logger:    logger.With().Str("component", "commission").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.locks.now = s.now
	s.audit.now = s.now
	return s, nil
}

// Rates returns the configured rates.
func (s *Service) Rates() Rates { return s.rates }

// Validator returns the batch validator reports run.
func (s *Service) Validator() Validator { return s.validator }

// =============================================================================
// INPUTS
// =============================================================================

// CreateInput holds the raw fields of a new transaction.
type CreateInput struct {
	Date              time.Time
	TotalReceived     decimal.Decimal
	CommissionPercent *decimal.Decimal // nil = configured default
	PaymentMode       PaymentMode      // "" = qr
	Remarks           string
}

// Patch holds the fields to change on an existing transaction. Nil = unchanged.
type Patch struct {
	Date              *time.Time
	TotalReceived     *decimal.Decimal
	CommissionPercent *decimal.Decimal
	PaymentMode       *PaymentMode
	Remarks           *string
}

func checkFields(date time.Time, mode PaymentMode, remarks string) error {
	if date.IsZero() {
		return &InputError{Field: "date", Value: "", Reason: "is required"}
	}
	if !mode.Valid() {
		return &InputError{Field: "payment_mode", Value: mode, Reason: "unsupported payment mode"}
	}
	if n := utf8.RuneCountInString(remarks); n > MaxRemarksLength {
		return &InputError{Field: "remarks", Value: n, Reason: fmt.Sprintf("must be at most %d characters", MaxRemarksLength)}
	}
	return nil
}

// Preview runs the calculation rule with the configured rates, without side effects.
func (s *Service) Preview(total decimal.Decimal, commissionPercent *decimal.Decimal) (Breakdown, error) {
	pct := s.rates.DefaultCommissionPercent
	if commissionPercent != nil {
		pct = *commissionPercent
	}
	return Compute(total, pct, s.rates.TaxRatePercent)
}

// derive computes and re-checks the derived amounts.
func (s *Service) derive(total, pct decimal.Decimal) (Breakdown, error) {
	b, err := Compute(total, pct, s.rates.TaxRatePercent)
	if err != nil {
		return Breakdown{}, err
	}
	if err := ValidateCalculation(total, b); err != nil {
		return Breakdown{}, err
	}
	return b, nil
}

// =============================================================================
// CREATE
// =============================================================================

func (s *Service) CreateTransaction(ctx context.Context, in CreateInput, actor Actor) (Transaction, error) {
	if in.PaymentMode == "" {
		in.PaymentMode = PaymentModeQR
	}
	if err := checkFields(in.Date, in.PaymentMode, in.Remarks); err != nil {
		return Transaction{}, err
	}
	pct := s.rates.DefaultCommissionPercent
	if in.CommissionPercent != nil {
		pct = *in.CommissionPercent
	}

	b, err := s.derive(in.TotalReceived, pct)
	if err != nil {
		s.auditRejected(ctx, "create", "", PeriodOf(in.Date), actor, err)
		return Transaction{}, err
	}

	date := NormalizeDate(in.Date)
	now := s.now()
	tx := Transaction{
		ID:                uuid.NewString(),
		Date:              date,
		TotalReceived:     in.TotalReceived,
		CommissionPercent: pct,
		TaxRatePercent:    s.rates.TaxRatePercent,
		Breakdown:         b,
		PaymentMode:       in.PaymentMode,
		CreatedBy:         actor.ID,
		Remarks:           in.Remarks,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	err = s.store.WithTx(ctx, func(st Store) error {
		if err := s.guard(ctx, st, date, "create", "", actor); err != nil {
			return err
		}
		number, fy, err := s.numberer.Next(ctx, st, date)
		if err != nil {
			return err
		}
		tx.InvoiceNumber = number
		tx.FiscalYear = fy
		if err := st.InsertTransaction(ctx, tx); err != nil {
			if errors.Is(err, ErrDuplicateInvoiceNumber) {
				s.logger.Error().Err(err).Str("invoice_number", number).Msg("invoice number already persisted")
				return &IntegrityError{InvoiceNumber: number, Err: err}
			}
			return fmt.Errorf("insert transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		s.auditRejected(ctx, "create", "", PeriodOf(date), actor, err)
		return Transaction{}, err
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityTransaction,
		EntityID:   tx.ID,
		Period:     tx.Period().FilingPeriod(),
		Details: TransactionCreatedDetails{
			InvoiceNumber: tx.InvoiceNumber,
			FiscalYear:    tx.FiscalYear,
			Amounts:       snapshotOf(tx),
		},
	})
	s.logger.Debug().Str("transaction_id", tx.ID).Str("invoice_number", tx.InvoiceNumber).Msg("transaction created")
	return tx, nil
}

// =============================================================================
// UPDATE
// =============================================================================

func (s *Service) UpdateTransaction(ctx context.Context, id string, patch Patch, actor Actor) (Transaction, error) {
	var before, after Transaction
	period := Period{}

	err := s.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Kind: "transaction", Key: id}
		}
		before = *existing
		period = before.Period()
		if err := s.guard(ctx, st, before.Date, "update", id, actor); err != nil {
			return err
		}

		after = before
		if patch.Date != nil {
			after.Date = NormalizeDate(*patch.Date)
		}
		if patch.TotalReceived != nil {
			after.TotalReceived = *patch.TotalReceived
		}
		if patch.CommissionPercent != nil {
			after.CommissionPercent = *patch.CommissionPercent
		}
		if patch.PaymentMode != nil {
			after.PaymentMode = *patch.PaymentMode
		}
		if patch.Remarks != nil {
			after.Remarks = *patch.Remarks
		}
		if err := checkFields(after.Date, after.PaymentMode, after.Remarks); err != nil {
			return err
		}

		if !after.Date.Equal(before.Date) {
			if fy := FiscalYearOf(after.Date); fy != before.FiscalYear {
				return &InputError{Field: "date", Value: after.Date.Format(time.DateOnly),
					Reason: fmt.Sprintf("cannot move a %s transaction into %s", before.FiscalYear, fy)}
			}
			period = after.Period()
			if err := s.guard(ctx, st, after.Date, "update", id, actor); err != nil {
				return err
			}
		}

		b, err := s.derive(after.TotalReceived, after.CommissionPercent)
		if err != nil {
			return err
		}
		after.TaxRatePercent = s.rates.TaxRatePercent
		after.Breakdown = b
		after.UpdatedAt = s.now()
		return st.UpdateTransaction(ctx, after)
	})
	if err != nil {
		s.auditRejected(ctx, "update", id, period, actor, err)
		return Transaction{}, err
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityTransaction,
		EntityID:   id,
		Period:     after.Period().FilingPeriod(),
		Details: TransactionUpdatedDetails{
			InvoiceNumber: after.InvoiceNumber,
			Before:        snapshotOf(before),
			After:         snapshotOf(after),
		},
	})
	return after, nil
}

// =============================================================================
// DELETE
// =============================================================================

func (s *Service) DeleteTransaction(ctx context.Context, id string, actor Actor) error {
	var deleted Transaction
	period := Period{}

	err := s.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Kind: "transaction", Key: id}
		}
		deleted = *existing
		period = deleted.Period()
		if err := s.guard(ctx, st, deleted.Date, "delete", id, actor); err != nil {
			return err
		}
		return st.DeleteTransaction(ctx, id)
	})
	if err != nil {
		s.auditRejected(ctx, "delete", id, period, actor, err)
		return err
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityTransaction,
		EntityID:   id,
		Period:     period.FilingPeriod(),
		Details: TransactionDeletedDetails{
			InvoiceNumber: deleted.InvoiceNumber,
			FiscalYear:    deleted.FiscalYear,
			PaymentMode:   deleted.PaymentMode,
			CreatedBy:     deleted.CreatedBy,
			Amounts:       snapshotOf(deleted),
		},
	})
	return nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if tx == nil {
		return Transaction{}, &NotFoundError{Kind: "transaction", Key: id}
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	return s.store.ListTransactions(ctx, filter)
}

// =============================================================================
// FILING LOCKS
// =============================================================================

func (s *Service) LockPeriod(ctx context.Context, period Period, actor Actor, opts LockOptions) (FilingLock, error) {
	return s.locks.Lock(ctx, period, actor, opts)
}

func (s *Service) UnlockPeriod(ctx context.Context, period Period, actor Actor) (FilingLock, error) {
	return s.locks.Unlock(ctx, period, actor)
}

func (s *Service) PeriodState(ctx context.Context, period Period) (PeriodState, error) {
	return s.locks.State(ctx, period)
}

func (s *Service) IsDateLocked(ctx context.Context, date time.Time) (bool, error) {
	return s.locks.IsDateLocked(ctx, date)
}

func (s *Service) ListLocks(ctx context.Context, fy FiscalYear) ([]FilingLock, error) {
	return s.locks.List(ctx, fy)
}

// =============================================================================
// HELPERS
// =============================================================================

// guard refuses mutations of transactions dated in a locked period.
func (s *Service) guard(ctx context.Context, st FilingLockStore, date time.Time, op, txID string, actor Actor) error {
	locked, err := isDateLocked(ctx, st, date)
	if err != nil {
		return fmt.Errorf("check filing lock: %w", err)
	}
	if locked {
		return &FilingLockedError{Period: PeriodOf(date), Operation: op, ActorID: actor.ID, TransactionID: txID}
	}
	return nil
}

// auditRejected records lock refusals and calculation mismatches as failed validations.
func (s *Service) auditRejected(ctx context.Context, op, txID string, period Period, actor Actor, err error) {
	var reason string
	switch {
	case errors.Is(err, ErrFilingLocked):
		reason = "filing_locked"
	case errors.Is(err, ErrCalculationMismatch):
		reason = "calculation_mismatch"
	default:
		return
	}
	var lockedErr *FilingLockedError
	if errors.As(err, &lockedErr) {
		period = lockedErr.Period
	}

	entry := AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityTransaction,
		EntityID:   txID,
		Details:    ValidationFailedDetails{Operation: op, Reason: reason, TransactionID: txID},
		Status:     AuditFailure,
		Error:      err.Error(),
	}
	if period.Year != 0 {
		entry.Period = period.FilingPeriod()
	}
	s.audit.Record(ctx, entry)
	s.logger.Warn().Err(err).Str("operation", op).Str("actor_id", actor.ID).Msg("mutation rejected")
}
