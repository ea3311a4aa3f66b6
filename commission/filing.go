/*
filing.go - Filing lock state machine

PURPOSE:
  Once the regulatory filings for a month are submitted, the month is
  locked: transactions dated in it can no longer be created, updated or
  deleted.

STATES:
  Unlocked{Previous: nil}  never locked (no record)
  Locked{Lock}             record exists, IsLocked = true
  Unlocked{Previous: rec}  record exists, IsLocked = false

TRANSITIONS:
  Lock:   any state -> Locked. Re-locking refreshes LockedAt/LockedBy and the
          filing dates; the audit entry keeps the previous lock.
  Unlock: Locked|Unlocked{rec} -> Unlocked{rec}. Privileged actors only.
          ErrNotFound when no record exists.

KEYS:
  Records are keyed by (fiscal year, month, year). The fiscal year is always
  re-derived from the period, never taken from the caller.
*/
package commission

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// FilingDates records when each regulator filing for a period was submitted.
type FilingDates struct {
	GSTR1  *time.Time `json:"gstr1,omitempty"`
	GSTR3B *time.Time `json:"gstr3b,omitempty"`
}

// LockKey is the natural key of a FilingLock.
type LockKey struct {
	FiscalYear FiscalYear
	Month      time.Month
	Year       int
}

// KeyOf derives the lock key for a period.
func KeyOf(p Period) LockKey {
	return LockKey{FiscalYear: p.FiscalYear(), Month: p.Month, Year: p.Year}
}

func (k LockKey) Period() Period { return Period{Year: k.Year, Month: k.Month} }

// FilingLock is the persisted lock record of one period.
type FilingLock struct {
	ID           string      `json:"id"`
	FiscalYear   FiscalYear  `json:"fiscal_year"`
	Month        time.Month  `json:"month"`
	Year         int         `json:"year"`
	FilingPeriod string      `json:"filing_period"`
	IsLocked     bool        `json:"is_locked"`
	LockedAt     time.Time   `json:"locked_at"`
	LockedBy     string      `json:"locked_by"`
	UnlockedAt   *time.Time  `json:"unlocked_at,omitempty"`
	UnlockedBy   string      `json:"unlocked_by,omitempty"`
	FilingDates  FilingDates `json:"filing_dates"`
	Remarks      string      `json:"remarks,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

func (l FilingLock) Key() LockKey {
	return LockKey{FiscalYear: l.FiscalYear, Month: l.Month, Year: l.Year}
}

func (l FilingLock) Period() Period { return Period{Year: l.Year, Month: l.Month} }

// =============================================================================
// STATE
// =============================================================================

// PeriodState is either Locked or Unlocked.
type PeriodState interface {
	IsLocked() bool
}

type Locked struct {
	Lock FilingLock
}

// Unlocked carries the previous record when the period was locked before.
type Unlocked struct {
	Previous *FilingLock
}

func (Locked) IsLocked() bool   { return true }
func (Unlocked) IsLocked() bool { return false }

func stateOf(rec *FilingLock) PeriodState {
	if rec != nil && rec.IsLocked {
		return Locked{Lock: *rec}
	}
	return Unlocked{Previous: rec}
}

// =============================================================================
// FILING LOCKS
// =============================================================================

// LockOptions are the optional inputs of a lock.
type LockOptions struct {
	FilingDates FilingDates
	Remarks     string
}

// FilingLocks runs the lock state machine.
type FilingLocks struct {
	store TxStore
	audit *Auditor
	now   func() time.Time
}

func NewFilingLocks(store TxStore, audit *Auditor) *FilingLocks {
	return &FilingLocks{store: store, audit: audit, now: func() time.Time { return time.Now().UTC() }}
}

// Lock moves the period to Locked.
func (f *FilingLocks) Lock(ctx context.Context, period Period, actor Actor, opts LockOptions) (FilingLock, error) {
	if len([]rune(opts.Remarks)) > MaxRemarksLength {
		return FilingLock{}, &InputError{Field: "remarks", Value: len([]rune(opts.Remarks)), Reason: "too long"}
	}
	key := KeyOf(period)

	var (
		lock     FilingLock
		previous *FilingLock
	)
	err := f.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetFilingLock(ctx, key)
		if err != nil {
			return err
		}
		now := f.now()
		lock = FilingLock{
			ID:           uuid.NewString(),
			FiscalYear:   key.FiscalYear,
			Month:        key.Month,
			Year:         key.Year,
			FilingPeriod: period.FilingPeriod(),
			IsLocked:     true,
			LockedAt:     now,
			LockedBy:     actor.ID,
			FilingDates:  opts.FilingDates,
			Remarks:      opts.Remarks,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if existing != nil {
			lock.ID = existing.ID
			lock.CreatedAt = existing.CreatedAt
			if existing.IsLocked {
				previous = existing
			}
		}
		return st.UpsertFilingLock(ctx, lock)
	})
	if err != nil {
		return FilingLock{}, err
	}

	f.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityFilingLock,
		EntityID:   lock.ID,
		Period:     lock.FilingPeriod,
		Details: PeriodLockedDetails{
			FilingPeriod: lock.FilingPeriod,
			FilingDates:  lock.FilingDates,
			Remarks:      lock.Remarks,
			Previous:     previous,
		},
	})
	return lock, nil
}

// Unlock moves a previously locked period to Unlocked.
func (f *FilingLocks) Unlock(ctx context.Context, period Period, actor Actor) (FilingLock, error) {
	if !actor.IsPrivileged() {
		err := &ForbiddenError{Operation: "unlock period " + period.String(), ActorID: actor.ID}
		f.audit.Record(ctx, AuditEntry{
			ActorID:    actor.ID,
			EntityType: EntityFilingLock,
			Period:     period.FilingPeriod(),
			Details:    PeriodUnlockedDetails{FilingPeriod: period.FilingPeriod()},
			Status:     AuditFailure,
			Error:      err.Error(),
		})
		return FilingLock{}, err
	}
	key := KeyOf(period)

	var (
		lock      FilingLock
		wasLocked bool
	)
	err := f.store.WithTx(ctx, func(st Store) error {
		existing, err := st.GetFilingLock(ctx, key)
		if err != nil {
			return err
		}
		if existing == nil {
			return &NotFoundError{Kind: "filing lock", Key: period.FilingPeriod()}
		}
		lock = *existing
		wasLocked = lock.IsLocked
		now := f.now()
		lock.IsLocked = false
		lock.UnlockedAt = &now
		lock.UnlockedBy = actor.ID
		lock.UpdatedAt = now
		return st.UpsertFilingLock(ctx, lock)
	})
	if err != nil {
		return FilingLock{}, err
	}

	details := PeriodUnlockedDetails{FilingPeriod: lock.FilingPeriod}
	if wasLocked {
		lockedAt := lock.LockedAt
		details.LockedAt = &lockedAt
		details.LockedBy = lock.LockedBy
	}
	f.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityFilingLock,
		EntityID:   lock.ID,
		Period:     lock.FilingPeriod,
		Details:    details,
	})
	return lock, nil
}

// State returns the current state of the period.
func (f *FilingLocks) State(ctx context.Context, period Period) (PeriodState, error) {
	rec, err := f.store.GetFilingLock(ctx, KeyOf(period))
	if err != nil {
		return nil, err
	}
	return stateOf(rec), nil
}

// IsDateLocked reports whether the period containing date is locked.
func (f *FilingLocks) IsDateLocked(ctx context.Context, date time.Time) (bool, error) {
	return isDateLocked(ctx, f.store, date)
}

// List returns the lock records of a fiscal year ("" for all).
func (f *FilingLocks) List(ctx context.Context, fy FiscalYear) ([]FilingLock, error) {
	return f.store.ListFilingLocks(ctx, fy)
}

func isDateLocked(ctx context.Context, st FilingLockStore, date time.Time) (bool, error) {
	rec, err := st.GetFilingLock(ctx, KeyOf(PeriodOf(date)))
	if err != nil {
		return false, err
	}
	return stateOf(rec).IsLocked(), nil
}
