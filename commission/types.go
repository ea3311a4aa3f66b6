/*
Package commission provides the commission/tax calculation and compliance engine.

PURPOSE:
  Records QR-payment transactions, derives the platform commission and the
  tax owed on that commission, numbers invoices per fiscal year and freezes
  filed periods. Everything that touches money or a compliance guard lives
  here; HTTP, persistence and rendering are collaborators.

KEY CONCEPTS IN THIS FILE (types.go):
  - Transaction: one recorded QR payment with raw inputs and derived amounts
  - Breakdown: the four derived amounts of a transaction
  - Period: a calendar month, the unit of filing locks
  - Actor: who is performing an operation, and with which role

MONEY:
  All amounts are decimal.Decimal. Derived amounts are rounded to 2 places
  half-away-from-zero at every step (see calc.go).

SEE ALSO:
  - calc.go: Calculation rule
  - validation.go: Invariant validator
  - filing.go: Filing lock state machine
  - service.go: Mutation orchestration
*/
package commission

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY
// =============================================================================

// Tolerance is the maximum difference accepted when re-checking derived amounts.
var Tolerance = decimal.New(1, -2)

var hundred = decimal.NewFromInt(100)

// Round2 rounds to 2 decimal places, half away from zero.
func Round2(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

func approxEqual(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(Tolerance)
}

// =============================================================================
// IDENTITY
// =============================================================================

type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

// IsPrivileged reports whether the actor may reopen filed periods.
func (a Actor) IsPrivileged() bool { return a.Role == RoleAdmin }

// SystemActor is used by operator commands run outside the HTTP boundary.
var SystemActor = Actor{ID: "system", Role: RoleAdmin}

// =============================================================================
// TRANSACTION
// =============================================================================

// PaymentMode identifies the payment channel. The set is closed.
type PaymentMode string

const (
	PaymentModeQR PaymentMode = "qr"
)

// Valid reports whether m is a known payment mode.
func (m PaymentMode) Valid() bool {
	switch m {
	case PaymentModeQR:
		return true
	}
	return false
}

// MaxRemarksLength bounds Transaction.Remarks, counted in runes.
const MaxRemarksLength = 500

// Breakdown holds the amounts derived from a total received.
type Breakdown struct {
	CommissionAmount decimal.Decimal `json:"commission_amount"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	NetIncome        decimal.Decimal `json:"net_income"`
	ReturnAmount     decimal.Decimal `json:"return_amount"`
}

// Transaction is one recorded QR payment.
// Derived amounts are persisted with the raw inputs, including the tax rate
// they were computed at, so that later changes to the default rate or the tax
// rate never alter or invalidate historical records.
type Transaction struct {
	ID                string
	Date              time.Time
	TotalReceived     decimal.Decimal
	CommissionPercent decimal.Decimal
	TaxRatePercent    decimal.Decimal
	Breakdown
	PaymentMode   PaymentMode
	InvoiceNumber string
	FiscalYear    FiscalYear
	CreatedBy     string
	Remarks       string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Period returns the filing period the transaction falls into.
func (t Transaction) Period() Period { return PeriodOf(t.Date) }

// NormalizeDate drops the time of day; transaction dates are calendar dates.
func NormalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// InvoiceSequence is the per fiscal year invoice counter.
type InvoiceSequence struct {
	FiscalYear         FiscalYear
	LastSequenceNumber int64
	Prefix             string
}

// =============================================================================
// PERIOD - calendar month, the granularity of filing locks
// =============================================================================

type Period struct {
	Year  int
	Month time.Month
}

// NewPeriod validates month and year.
func NewPeriod(month, year int) (Period, error) {
	if month < 1 || month > 12 {
		return Period{}, &InputError{Field: "month", Value: month, Reason: "must be between 1 and 12"}
	}
	if year < 2000 || year > 2099 {
		return Period{}, &InputError{Field: "year", Value: year, Reason: "must be between 2000 and 2099"}
	}
	return Period{Year: year, Month: time.Month(month)}, nil
}

// PeriodOf returns the period containing date.
func PeriodOf(date time.Time) Period {
	return Period{Year: date.Year(), Month: date.Month()}
}

// FiscalYear re-derives the fiscal year from the first day of the period.
func (p Period) FiscalYear() FiscalYear { return FiscalYearOf(p.Start()) }

func (p Period) Start() time.Time {
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
}

func (p Period) End() time.Time {
	return p.Start().AddDate(0, 1, -1)
}

// Contains reports whether date falls within the period.
func (p Period) Contains(date time.Time) bool {
	return date.Year() == p.Year && date.Month() == p.Month
}

// FilingPeriod is the unique string key of the period, e.g. "FY23-2024-01".
func (p Period) FilingPeriod() string {
	return fmt.Sprintf("%s-%04d-%02d", p.FiscalYear(), p.Year, int(p.Month))
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
