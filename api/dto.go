/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the commission domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts go out as fixed two-decimal strings ("1000.00") so clients never
  parse them as floats. Inputs accept either JSON numbers or strings.

VALIDATION:
  Request shapes are checked with go-playground/validator struct tags.
  Domain rules (positive totals, percent ranges, locks) stay in the
  commission package.
*/
package api

import (
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/shopspring/decimal"
)

// =============================================================================
// REQUESTS
// =============================================================================

type CreateTransactionRequest struct {
	Date              string           `json:"date" validate:"required,datetime=2006-01-02"`
	TotalReceived     decimal.Decimal  `json:"total_received"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	PaymentMode       string           `json:"payment_mode" validate:"omitempty,oneof=qr"`
	Remarks           string           `json:"remarks" validate:"max=500"`
}

// UpdateTransactionRequest carries only the fields to change.
type UpdateTransactionRequest struct {
	Date              *string          `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	TotalReceived     *decimal.Decimal `json:"total_received,omitempty"`
	CommissionPercent *decimal.Decimal `json:"commission_percent,omitempty"`
	PaymentMode       *string          `json:"payment_mode,omitempty" validate:"omitempty,oneof=qr"`
	Remarks           *string          `json:"remarks,omitempty" validate:"omitempty,max=500"`
}

type FilingDatesRequest struct {
	GSTR1  *string `json:"gstr1,omitempty" validate:"omitempty,datetime=2006-01-02"`
	GSTR3B *string `json:"gstr3b,omitempty" validate:"omitempty,datetime=2006-01-02"`
}

type LockPeriodRequest struct {
	Month       int                `json:"month" validate:"required,min=1,max=12"`
	Year        int                `json:"year" validate:"required,min=2000,max=2099"`
	FilingDates FilingDatesRequest `json:"filing_dates"`
	Remarks     string             `json:"remarks" validate:"max=500"`
}

// =============================================================================
// RESPONSES
// =============================================================================

type BreakdownDTO struct {
	CommissionAmount string `json:"commission_amount"`
	TaxableValue     string `json:"taxable_value"`
	TaxAmount        string `json:"tax_amount"`
	NetIncome        string `json:"net_income"`
	ReturnAmount     string `json:"return_amount"`
}

func toBreakdownDTO(b commission.Breakdown) BreakdownDTO {
	return BreakdownDTO{
		CommissionAmount: money(b.CommissionAmount),
		TaxableValue:     money(b.CommissionAmount),
		TaxAmount:        money(b.TaxAmount),
		NetIncome:        money(b.NetIncome),
		ReturnAmount:     money(b.ReturnAmount),
	}
}

type CalculationDTO struct {
	TotalReceived     string `json:"total_received"`
	CommissionPercent string `json:"commission_percent"`
	TaxRatePercent    string `json:"tax_rate_percent"`
	BreakdownDTO
}

type TransactionDTO struct {
	ID                string `json:"id"`
	Date              string `json:"date"`
	TotalReceived     string `json:"total_received"`
	CommissionPercent string `json:"commission_percent"`
	TaxRatePercent    string `json:"tax_rate_percent"`
	BreakdownDTO
	PaymentMode   string    `json:"payment_mode"`
	InvoiceNumber string    `json:"invoice_number"`
	FiscalYear    string    `json:"fiscal_year"`
	FilingPeriod  string    `json:"filing_period"`
	CreatedBy     string    `json:"created_by"`
	Remarks       string    `json:"remarks,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toTransactionDTO(tx commission.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                tx.ID,
		Date:              tx.Date.Format(time.DateOnly),
		TotalReceived:     money(tx.TotalReceived),
		CommissionPercent: tx.CommissionPercent.String(),
		TaxRatePercent:    tx.TaxRatePercent.String(),
		BreakdownDTO:      toBreakdownDTO(tx.Breakdown),
		PaymentMode:       string(tx.PaymentMode),
		InvoiceNumber:     tx.InvoiceNumber,
		FiscalYear:        string(tx.FiscalYear),
		FilingPeriod:      tx.Period().FilingPeriod(),
		CreatedBy:         tx.CreatedBy,
		Remarks:           tx.Remarks,
		CreatedAt:         tx.CreatedAt,
		UpdatedAt:         tx.UpdatedAt,
	}
}

func toTransactionDTOs(txs []commission.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx))
	}
	return dtos
}

type FilingLockDTO struct {
	ID           string                 `json:"id"`
	FiscalYear   string                 `json:"fiscal_year"`
	Month        int                    `json:"month"`
	Year         int                    `json:"year"`
	FilingPeriod string                 `json:"filing_period"`
	IsLocked     bool                   `json:"is_locked"`
	LockedAt     time.Time              `json:"locked_at"`
	LockedBy     string                 `json:"locked_by"`
	UnlockedAt   *time.Time             `json:"unlocked_at,omitempty"`
	UnlockedBy   string                 `json:"unlocked_by,omitempty"`
	FilingDates  commission.FilingDates `json:"filing_dates"`
	Remarks      string                 `json:"remarks,omitempty"`
}

func toFilingLockDTO(l commission.FilingLock) FilingLockDTO {
	return FilingLockDTO{
		ID:           l.ID,
		FiscalYear:   string(l.FiscalYear),
		Month:        int(l.Month),
		Year:         l.Year,
		FilingPeriod: l.FilingPeriod,
		IsLocked:     l.IsLocked,
		LockedAt:     l.LockedAt,
		LockedBy:     l.LockedBy,
		UnlockedAt:   l.UnlockedAt,
		UnlockedBy:   l.UnlockedBy,
		FilingDates:  l.FilingDates,
		Remarks:      l.Remarks,
	}
}

// LockStatusDTO answers "is this date locked?".
type LockStatusDTO struct {
	Date         string         `json:"date"`
	FilingPeriod string         `json:"filing_period"`
	FiscalYear   string         `json:"fiscal_year"`
	Locked       bool           `json:"locked"`
	Lock         *FilingLockDTO `json:"lock,omitempty"`
}

type TotalsDTO struct {
	TransactionCount int    `json:"transaction_count"`
	TotalReceived    string `json:"total_received"`
	TaxableValue     string `json:"taxable_value"`
	TaxAmount        string `json:"tax_amount"`
	NetIncome        string `json:"net_income"`
	ReturnAmount     string `json:"return_amount"`
}

func toTotalsDTO(t commission.Totals) TotalsDTO {
	return TotalsDTO{
		TransactionCount: t.TransactionCount,
		TotalReceived:    money(t.TotalReceived),
		TaxableValue:     money(t.TaxableValue),
		TaxAmount:        money(t.TaxAmount),
		NetIncome:        money(t.NetIncome),
		ReturnAmount:     money(t.ReturnAmount),
	}
}

type MonthlySummaryDTO struct {
	Period       string                       `json:"period"`
	FilingPeriod string                       `json:"filing_period"`
	FiscalYear   string                       `json:"fiscal_year"`
	TaxRate      string                       `json:"tax_rate_percent"`
	Locked       bool                         `json:"locked"`
	Totals       TotalsDTO                    `json:"totals"`
	Warnings     []commission.ComplianceIssue `json:"warnings"`
}

type FilingRowDTO struct {
	Period       string `json:"period"`
	FilingPeriod string `json:"filing_period"`
	Locked       bool   `json:"locked"`
	TotalsDTO
}

type FilingReportDTO struct {
	FiscalYear string                       `json:"fiscal_year"`
	From       string                       `json:"from"`
	To         string                       `json:"to"`
	TaxRate    string                       `json:"tax_rate_percent"`
	Rows       []FilingRowDTO               `json:"rows"`
	Totals     TotalsDTO                    `json:"totals"`
	Warnings   []commission.ComplianceIssue `json:"warnings"`
}

type AuditEntryDTO struct {
	ID         string                  `json:"id"`
	Timestamp  time.Time               `json:"timestamp"`
	Action     string                  `json:"action"`
	ActorID    string                  `json:"actor_id"`
	EntityType string                  `json:"entity_type"`
	EntityID   string                  `json:"entity_id,omitempty"`
	Period     string                  `json:"period,omitempty"`
	Status     string                  `json:"status"`
	Error      string                  `json:"error,omitempty"`
	Details    commission.AuditDetails `json:"details,omitempty"`
}

func toAuditEntryDTO(e commission.AuditEntry) AuditEntryDTO {
	return AuditEntryDTO{
		ID:         e.ID,
		Timestamp:  e.Timestamp,
		Action:     string(e.Action),
		ActorID:    e.ActorID,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Period:     e.Period,
		Status:     string(e.Status),
		Error:      e.Error,
		Details:    e.Details,
	}
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error   string                       `json:"error"`
	Code    string                       `json:"code"`
	Details string                       `json:"details,omitempty"`
	Fields  map[string]string            `json:"fields,omitempty"`
	Issues  []commission.ComplianceIssue `json:"issues,omitempty"`
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nonNilIssues(issues []commission.ComplianceIssue) []commission.ComplianceIssue {
	if issues == nil {
		return []commission.ComplianceIssue{}
	}
	return issues
}
