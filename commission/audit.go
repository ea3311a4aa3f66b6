/*
audit.go - Audit trail of mutating and compliance-relevant actions

PURPOSE:
  Every create, update, delete, lock, unlock, report, export and every
  rejected compliance check produces one AuditEntry. The engine only writes
  entries; it never reads them back to make decisions.

PAYLOADS:
  Details is a closed set of typed structs, one per AuditAction. The action
  is the discriminator when an entry is persisted as JSON.

FIRE AND FORGET:
  Auditor.Record never returns an error. A failing sink is logged and the
  primary operation carries on.
*/
package commission

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ACTIONS
// =============================================================================

type AuditAction string

const (
	AuditTransactionCreated AuditAction = "transaction_created"
	AuditTransactionUpdated AuditAction = "transaction_updated"
	AuditTransactionDeleted AuditAction = "transaction_deleted"
	AuditPeriodLocked       AuditAction = "period_locked"
	AuditPeriodUnlocked     AuditAction = "period_unlocked"
	AuditReportGenerated    AuditAction = "report_generated"
	AuditExportGenerated    AuditAction = "export_generated"
	AuditValidationFailed   AuditAction = "validation_failed"
)

type AuditStatus string

const (
	AuditSuccess AuditStatus = "success"
	AuditFailure AuditStatus = "failure"
)

// Entity types referenced by audit entries.
const (
	EntityTransaction = "transaction"
	EntityFilingLock  = "filing_lock"
	EntityReport      = "report"
)

// AuditEntry records who did what when.
type AuditEntry struct {
	ID         string
	Timestamp  time.Time
	Action     AuditAction
	ActorID    string
	EntityType string
	EntityID   string
	Period     string
	Details    AuditDetails
	Status     AuditStatus
	Error      string
}

// =============================================================================
// DETAILS - one payload type per action
// =============================================================================

// AuditDetails is implemented by the payload types below and nothing else.
type AuditDetails interface {
	AuditAction() AuditAction
}

// AmountsSnapshot captures the money fields of a transaction at a point in time.
type AmountsSnapshot struct {
	Date              string          `json:"date"`
	TotalReceived     decimal.Decimal `json:"total_received"`
	CommissionPercent decimal.Decimal `json:"commission_percent"`
	TaxRatePercent    decimal.Decimal `json:"tax_rate_percent"`
	Breakdown
}

func snapshotOf(tx Transaction) AmountsSnapshot {
	return AmountsSnapshot{
		Date:              tx.Date.Format(time.DateOnly),
		TotalReceived:     tx.TotalReceived,
		CommissionPercent: tx.CommissionPercent,
		TaxRatePercent:    tx.TaxRatePercent,
		Breakdown:         tx.Breakdown,
	}
}

type TransactionCreatedDetails struct {
	InvoiceNumber string          `json:"invoice_number"`
	FiscalYear    FiscalYear      `json:"fiscal_year"`
	Amounts       AmountsSnapshot `json:"amounts"`
}

type TransactionUpdatedDetails struct {
	InvoiceNumber string          `json:"invoice_number"`
	Before        AmountsSnapshot `json:"before"`
	After         AmountsSnapshot `json:"after"`
}

type TransactionDeletedDetails struct {
	InvoiceNumber string          `json:"invoice_number"`
	FiscalYear    FiscalYear      `json:"fiscal_year"`
	PaymentMode   PaymentMode     `json:"payment_mode"`
	CreatedBy     string          `json:"created_by"`
	Amounts       AmountsSnapshot `json:"amounts"`
}

type PeriodLockedDetails struct {
	FilingPeriod string      `json:"filing_period"`
	FilingDates  FilingDates `json:"filing_dates"`
	Remarks      string      `json:"remarks,omitempty"`
	// Previous is set when an already locked period is locked again.
	Previous *FilingLock `json:"previous,omitempty"`
}

type PeriodUnlockedDetails struct {
	FilingPeriod string     `json:"filing_period"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	LockedBy     string     `json:"locked_by,omitempty"`
}

type ReportGeneratedDetails struct {
	Report           string `json:"report"`
	Scope            string `json:"scope"`
	TransactionCount int    `json:"transaction_count"`
	WarningCount     int    `json:"warning_count"`
}

type ExportGeneratedDetails struct {
	Format string `json:"format"`
	Scope  string `json:"scope"`
	Rows   int    `json:"rows"`
}

type ValidationFailedDetails struct {
	Operation     string            `json:"operation"`
	Reason        string            `json:"reason"`
	TransactionID string            `json:"transaction_id,omitempty"`
	Issues        []ComplianceIssue `json:"issues,omitempty"`
}

func (TransactionCreatedDetails) AuditAction() AuditAction { return AuditTransactionCreated }
func (TransactionUpdatedDetails) AuditAction() AuditAction { return AuditTransactionUpdated }
func (TransactionDeletedDetails) AuditAction() AuditAction { return AuditTransactionDeleted }
func (PeriodLockedDetails) AuditAction() AuditAction       { return AuditPeriodLocked }
func (PeriodUnlockedDetails) AuditAction() AuditAction     { return AuditPeriodUnlocked }
func (ReportGeneratedDetails) AuditAction() AuditAction    { return AuditReportGenerated }
func (ExportGeneratedDetails) AuditAction() AuditAction    { return AuditExportGenerated }
func (ValidationFailedDetails) AuditAction() AuditAction   { return AuditValidationFailed }

// DecodeAuditDetails restores a typed payload from its persisted JSON form.
// Payloads come back as values, the same shape Auditor.Record writes.
func DecodeAuditDetails(action AuditAction, data []byte) (AuditDetails, error) {
	switch action {
	case AuditTransactionCreated:
		return decodeDetails[TransactionCreatedDetails](action, data)
	case AuditTransactionUpdated:
		return decodeDetails[TransactionUpdatedDetails](action, data)
	case AuditTransactionDeleted:
		return decodeDetails[TransactionDeletedDetails](action, data)
	case AuditPeriodLocked:
		return decodeDetails[PeriodLockedDetails](action, data)
	case AuditPeriodUnlocked:
		return decodeDetails[PeriodUnlockedDetails](action, data)
	case AuditReportGenerated:
		return decodeDetails[ReportGeneratedDetails](action, data)
	case AuditExportGenerated:
		return decodeDetails[ExportGeneratedDetails](action, data)
	case AuditValidationFailed:
		return decodeDetails[ValidationFailedDetails](action, data)
	}
	return nil, fmt.Errorf("unknown audit action %q", action)
}

func decodeDetails[T AuditDetails](action AuditAction, data []byte) (AuditDetails, error) {
	var v T
	if len(data) > 0 {
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode %s details: %w", action, err)
		}
	}
	return v, nil
}

// =============================================================================
// AUDITOR
// =============================================================================

// Auditor writes entries to an AuditLog and swallows sink failures.
type Auditor struct {
	log    AuditLog
	logger zerolog.Logger
	now    func() time.Time
}

func NewAuditor(log AuditLog, logger zerolog.Logger) *Auditor {
	return &Auditor{
		log:    log,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record fills ID, timestamp and action, then appends the entry.
func (a *Auditor) Record(ctx context.Context, entry AuditEntry) {
	if a == nil || a.log == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = a.now()
	}
	if entry.Details != nil {
		entry.Action = entry.Details.AuditAction()
	}
	if entry.Status == "" {
		entry.Status = AuditSuccess
	}

	if err := a.log.AppendAudit(ctx, entry); err != nil {
		a.logger.Error().Err(err).
			Str("action", string(entry.Action)).
			Str("actor_id", entry.ActorID).
			Str("entity_id", entry.EntityID).
			Msg("failed to write audit entry")
	}
}
