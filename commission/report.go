/*
report.go - Read-side reports and exports

PURPOSE:
  Reshapes stored transactions into regulator-shaped aggregates. Every
  report and export re-runs ValidateBatch first; an invalid batch is audited
  and returned as a *ComplianceError, never as partial figures.

TAXABLE VALUE:
  The taxable value of a period is the sum of commission amounts. The total
  received is reported separately and is never taxable.
*/
package commission

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Totals are the summed money fields of a set of transactions.
type Totals struct {
	TransactionCount int             `json:"transaction_count"`
	TotalReceived    decimal.Decimal `json:"total_received"`
	TaxableValue     decimal.Decimal `json:"taxable_value"`
	TaxAmount        decimal.Decimal `json:"tax_amount"`
	NetIncome        decimal.Decimal `json:"net_income"`
	ReturnAmount     decimal.Decimal `json:"return_amount"`
}

func (t *Totals) add(tx Transaction) {
	t.TransactionCount++
	t.TotalReceived = t.TotalReceived.Add(tx.TotalReceived)
	t.TaxableValue = t.TaxableValue.Add(tx.CommissionAmount)
	t.TaxAmount = t.TaxAmount.Add(tx.TaxAmount)
	t.NetIncome = t.NetIncome.Add(tx.NetIncome)
	t.ReturnAmount = t.ReturnAmount.Add(tx.ReturnAmount)
}

func (t *Totals) merge(o Totals) {
	t.TransactionCount += o.TransactionCount
	t.TotalReceived = t.TotalReceived.Add(o.TotalReceived)
	t.TaxableValue = t.TaxableValue.Add(o.TaxableValue)
	t.TaxAmount = t.TaxAmount.Add(o.TaxAmount)
	t.NetIncome = t.NetIncome.Add(o.NetIncome)
	t.ReturnAmount = t.ReturnAmount.Add(o.ReturnAmount)
}

// MonthlySummary is the report of one filing period.
type MonthlySummary struct {
	Period       string            `json:"period"`
	FilingPeriod string            `json:"filing_period"`
	FiscalYear   FiscalYear        `json:"fiscal_year"`
	TaxRate      decimal.Decimal   `json:"tax_rate_percent"`
	Locked       bool              `json:"locked"`
	Totals       Totals            `json:"totals"`
	Warnings     []ComplianceIssue `json:"warnings"`
}

// FilingRow is one month of a FilingReport.
type FilingRow struct {
	Period       string `json:"period"`
	FilingPeriod string `json:"filing_period"`
	Locked       bool   `json:"locked"`
	Totals
}

// FilingReport is the per-month filing data of a fiscal year.
type FilingReport struct {
	FiscalYear FiscalYear        `json:"fiscal_year"`
	From       string            `json:"from"`
	To         string            `json:"to"`
	TaxRate    decimal.Decimal   `json:"tax_rate_percent"`
	Rows       []FilingRow       `json:"rows"`
	Totals     Totals            `json:"totals"`
	Warnings   []ComplianceIssue `json:"warnings"`
}

// MonthlySummary aggregates the transactions of one period.
func (s *Service) MonthlySummary(ctx context.Context, period Period, actor Actor) (MonthlySummary, error) {
	from, to := period.Start(), period.End()
	txs, err := s.store.ListTransactions(ctx, TransactionFilter{From: &from, To: &to})
	if err != nil {
		return MonthlySummary{}, err
	}
	res, err := s.checkBatch(ctx, txs, "monthly_summary", period.FilingPeriod(), actor)
	if err != nil {
		return MonthlySummary{}, err
	}
	state, err := s.locks.State(ctx, period)
	if err != nil {
		return MonthlySummary{}, err
	}

	summary := MonthlySummary{
		Period:       period.String(),
		FilingPeriod: period.FilingPeriod(),
		FiscalYear:   period.FiscalYear(),
		TaxRate:      s.rates.TaxRatePercent,
		Locked:       state.IsLocked(),
		Warnings:     res.Warnings,
	}
	for _, tx := range txs {
		summary.Totals.add(tx)
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityReport,
		EntityID:   "monthly_summary",
		Period:     period.FilingPeriod(),
		Details: ReportGeneratedDetails{
			Report:           "monthly_summary",
			Scope:            period.FilingPeriod(),
			TransactionCount: len(txs),
			WarningCount:     len(res.Warnings),
		},
	})
	return summary, nil
}

// FilingData builds the month-by-month filing figures of a fiscal year.
func (s *Service) FilingData(ctx context.Context, fy FiscalYear, actor Actor) (FilingReport, error) {
	txs, err := s.store.ListTransactions(ctx, TransactionFilter{FiscalYear: fy})
	if err != nil {
		return FilingReport{}, err
	}
	res, err := s.checkBatch(ctx, txs, "filing_data", string(fy), actor)
	if err != nil {
		return FilingReport{}, err
	}
	locks, err := s.store.ListFilingLocks(ctx, fy)
	if err != nil {
		return FilingReport{}, err
	}
	locked := make(map[LockKey]bool, len(locks))
	for _, l := range locks {
		locked[l.Key()] = l.IsLocked
	}

	report := FilingReport{
		FiscalYear: fy,
		From:       fy.Start().Format(time.DateOnly),
		To:         fy.End().Format(time.DateOnly),
		TaxRate:    s.rates.TaxRatePercent,
		Warnings:   res.Warnings,
	}
	byPeriod := make(map[Period]*Totals, 12)
	for _, tx := range txs {
		p := tx.Period()
		if byPeriod[p] == nil {
			byPeriod[p] = &Totals{}
		}
		byPeriod[p].add(tx)
	}
	for _, p := range fy.Periods() {
		row := FilingRow{Period: p.String(), FilingPeriod: p.FilingPeriod(), Locked: locked[KeyOf(p)]}
		if t := byPeriod[p]; t != nil {
			row.Totals = *t
		}
		report.Totals.merge(row.Totals)
		report.Rows = append(report.Rows, row)
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityReport,
		EntityID:   "filing_data",
		Period:     string(fy),
		Details: ReportGeneratedDetails{
			Report:           "filing_data",
			Scope:            string(fy),
			TransactionCount: len(txs),
			WarningCount:     len(res.Warnings),
		},
	})
	return report, nil
}

var exportHeader = []string{
	"invoice_number", "date", "fiscal_year", "payment_mode",
	"total_received", "commission_percent", "commission_amount",
	"taxable_value", "tax_amount", "net_income", "return_amount", "remarks",
}

// ExportCSV writes the transactions matching filter as CSV and returns the row count.
func (s *Service) ExportCSV(ctx context.Context, filter TransactionFilter, actor Actor, w io.Writer) (int, error) {
	txs, err := s.store.ListTransactions(ctx, filter)
	if err != nil {
		return 0, err
	}
	scope := filter.describe()
	if _, err := s.checkBatch(ctx, txs, "export_csv", scope, actor); err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, tx := range txs {
		rec := []string{
			tx.InvoiceNumber,
			tx.Date.Format(time.DateOnly),
			string(tx.FiscalYear),
			string(tx.PaymentMode),
			tx.TotalReceived.StringFixed(2),
			tx.CommissionPercent.String(),
			tx.CommissionAmount.StringFixed(2),
			tx.CommissionAmount.StringFixed(2),
			tx.TaxAmount.StringFixed(2),
			tx.NetIncome.StringFixed(2),
			tx.ReturnAmount.StringFixed(2),
			spreadsheetSafe(tx.Remarks),
		}
		if err := cw.Write(rec); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}

	s.audit.Record(ctx, AuditEntry{
		ActorID:    actor.ID,
		EntityType: EntityReport,
		EntityID:   "transactions_csv",
		Details:    ExportGeneratedDetails{Format: "csv", Scope: scope, Rows: len(txs)},
	})
	return len(txs), nil
}

// spreadsheetSafe quotes free text that a spreadsheet would evaluate as a formula.
func spreadsheetSafe(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@', '\t', '\r':
		return "'" + v
	}
	return v
}

// SweepCompliance re-validates every stored transaction of a fiscal year.
// An invalid batch is audited like a blocked report; a clean one leaves no trace.
func (s *Service) SweepCompliance(ctx context.Context, fy FiscalYear, actor Actor) (ComplianceResult, error) {
	txs, err := s.store.ListTransactions(ctx, TransactionFilter{FiscalYear: fy})
	if err != nil {
		return ComplianceResult{}, err
	}
	return s.checkBatch(ctx, txs, "compliance_sweep", string(fy), actor)
}

// checkBatch validates txs and audits a failure before returning it.
func (s *Service) checkBatch(ctx context.Context, txs []Transaction, op, scope string, actor Actor) (ComplianceResult, error) {
	res := s.validator.ValidateBatch(txs)
	if err := res.Err(); err != nil {
		s.audit.Record(ctx, AuditEntry{
			ActorID:    actor.ID,
			EntityType: EntityReport,
			EntityID:   op,
			Period:     scope,
			Details:    ValidationFailedDetails{Operation: op, Reason: "compliance_validation_failed", Issues: res.Errors},
			Status:     AuditFailure,
			Error:      err.Error(),
		})
		s.logger.Warn().Str("operation", op).Int("errors", len(res.Errors)).Msg("report blocked by compliance validation")
		return res, err
	}
	return res, nil
}

func (f TransactionFilter) describe() string {
	var parts []string
	if f.From != nil {
		parts = append(parts, "from="+f.From.Format(time.DateOnly))
	}
	if f.To != nil {
		parts = append(parts, "to="+f.To.Format(time.DateOnly))
	}
	if f.FiscalYear != "" {
		parts = append(parts, "fiscal_year="+string(f.FiscalYear))
	}
	if f.PaymentMode != "" {
		parts = append(parts, "payment_mode="+string(f.PaymentMode))
	}
	if len(parts) == 0 {
		return "all"
	}
	return strings.Join(parts, ",")
}
