/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes commission.Service via a REST API. Handles HTTP request/response,
  JSON serialization, and delegates every rule to the engine.

ENDPOINTS:
  Calculation:
    GET    /api/calculate                      Preview a breakdown, nothing stored

  Transactions:
    GET    /api/transactions                   List (from, to, fiscal_year, payment_mode, invoice_number, limit, offset)
    POST   /api/transactions                   Create
    GET    /api/transactions/{id}              Get
    PUT    /api/transactions/{id}              Partial update
    DELETE /api/transactions/{id}              Delete

  Filing locks:
    GET    /api/filing-locks                   List (fiscal_year)
    POST   /api/filing-locks                   Lock a period
    POST   /api/filing-locks/{year}/{month}/unlock   Unlock (admin)
    GET    /api/filing-locks/status?date=      Is the date locked?

  Reports:
    GET    /api/reports/monthly?month=&year=   Monthly summary
    GET    /api/reports/filing?fiscal_year=    Filing data per month
    GET    /api/exports/transactions.csv       CSV export (list filters)

  Audit:
    GET    /api/audit                          Audit trail (admin)

  Scenarios (scenarios.go):
    GET    /api/scenarios                      List demo scenarios
    POST   /api/scenarios/load                 Reset and load one (admin)

REQUEST FLOW:
  1. Actor from the JWT middleware
  2. Decode + validate the request shape
  3. Call commission.Service
  4. Serialize response, or map the error kind to a status
*/
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/qrbooks/commission-engine/commission"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	svc      *commission.Service
	audit    commission.AuditLog
	validate *validator.Validate
	logger   zerolog.Logger

	// resetter is set by EnableScenarios; nil keeps the scenario routes off.
	resetter Resetter
}

// NewHandler creates a handler over the engine and its audit log.
func NewHandler(svc *commission.Service, audit commission.AuditLog, logger zerolog.Logger) *Handler {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{
		svc:      svc,
		audit:    audit,
		validate: v,
		logger:   logger.With().Str("component", "api").Logger(),
	}
}

// decode parses a JSON body and validates it.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeValidationError(w, err)
		return false
	}
	return true
}

func actorOf(r *http.Request) commission.Actor {
	actor, _ := ActorFromContext(r.Context())
	return actor
}

// =============================================================================
// HEALTH & CALCULATION
// =============================================================================

// Health reports liveness.
// GET /api/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Calculate previews the breakdown of a total with the configured rates.
// GET /api/calculate?total=1000&commission_percent=1
func (h *Handler) Calculate(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	total, err := decimal.NewFromString(q.Get("total"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "total must be a decimal", err)
		return
	}
	var pct *decimal.Decimal
	if raw := q.Get("commission_percent"); raw != "" {
		p, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "commission_percent must be a decimal", err)
			return
		}
		pct = &p
	}

	b, err := h.svc.Preview(total, pct)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	rates := h.svc.Rates()
	used := rates.DefaultCommissionPercent
	if pct != nil {
		used = *pct
	}
	writeJSON(w, http.StatusOK, CalculationDTO{
		TotalReceived:     money(total),
		CommissionPercent: used.String(),
		TaxRatePercent:    rates.TaxRatePercent.String(),
		BreakdownDTO:      toBreakdownDTO(b),
	})
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// ListTransactions returns the transactions matching the query filters.
// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	txs, err := h.svc.ListTransactions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTOs(txs))
}

// CreateTransaction records a new QR payment.
// POST /api/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	date, _ := time.Parse(time.DateOnly, req.Date)

	tx, err := h.svc.CreateTransaction(r.Context(), commission.CreateInput{
		Date:              date,
		TotalReceived:     req.TotalReceived,
		CommissionPercent: req.CommissionPercent,
		PaymentMode:       commission.PaymentMode(req.PaymentMode),
		Remarks:           req.Remarks,
	}, actorOf(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx))
}

// GetTransaction returns one transaction.
// GET /api/transactions/{id}
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.svc.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// UpdateTransaction applies a partial update and recomputes derived amounts.
// PUT /api/transactions/{id}
func (h *Handler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	var req UpdateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	patch := commission.Patch{
		TotalReceived:     req.TotalReceived,
		CommissionPercent: req.CommissionPercent,
		Remarks:           req.Remarks,
	}
	if req.Date != nil {
		d, _ := time.Parse(time.DateOnly, *req.Date)
		patch.Date = &d
	}
	if req.PaymentMode != nil {
		mode := commission.PaymentMode(*req.PaymentMode)
		patch.PaymentMode = &mode
	}

	tx, err := h.svc.UpdateTransaction(r.Context(), chi.URLParam(r, "id"), patch, actorOf(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactionDTO(tx))
}

// DeleteTransaction removes a transaction from an unlocked period.
// DELETE /api/transactions/{id}
func (h *Handler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteTransaction(r.Context(), chi.URLParam(r, "id"), actorOf(r)); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// FILING LOCKS
// =============================================================================

// ListLocks returns the lock records of a fiscal year, or all.
// GET /api/filing-locks?fiscal_year=FY24
func (h *Handler) ListLocks(w http.ResponseWriter, r *http.Request) {
	var fy commission.FiscalYear
	if raw := r.URL.Query().Get("fiscal_year"); raw != "" {
		parsed, err := commission.ParseFiscalYear(raw)
		if err != nil {
			writeDomainError(w, h.logger, err)
			return
		}
		fy = parsed
	}
	locks, err := h.svc.ListLocks(r.Context(), fy)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	dtos := make([]FilingLockDTO, 0, len(locks))
	for _, l := range locks {
		dtos = append(dtos, toFilingLockDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// LockPeriod locks a month after its filings were submitted.
// POST /api/filing-locks
func (h *Handler) LockPeriod(w http.ResponseWriter, r *http.Request) {
	var req LockPeriodRequest
	if !h.decode(w, r, &req) {
		return
	}
	period, err := commission.NewPeriod(req.Month, req.Year)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	lock, err := h.svc.LockPeriod(r.Context(), period, actorOf(r), commission.LockOptions{
		FilingDates: commission.FilingDates{
			GSTR1:  parseOptionalDate(req.FilingDates.GSTR1),
			GSTR3B: parseOptionalDate(req.FilingDates.GSTR3B),
		},
		Remarks: req.Remarks,
	})
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, toFilingLockDTO(lock))
}

// UnlockPeriod reopens a locked month. Admin only.
// POST /api/filing-locks/{year}/{month}/unlock
func (h *Handler) UnlockPeriod(w http.ResponseWriter, r *http.Request) {
	period, err := periodFromPath(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	lock, err := h.svc.UnlockPeriod(r.Context(), period, actorOf(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toFilingLockDTO(lock))
}

// LockStatus reports whether the period containing a date is locked.
// GET /api/filing-locks/status?date=2024-01-15
func (h *Handler) LockStatus(w http.ResponseWriter, r *http.Request) {
	date, err := parseDate("date", r.URL.Query().Get("date"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	period := commission.PeriodOf(date)
	state, err := h.svc.PeriodState(r.Context(), period)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	resp := LockStatusDTO{
		Date:         date.Format(time.DateOnly),
		FilingPeriod: period.FilingPeriod(),
		FiscalYear:   string(period.FiscalYear()),
		Locked:       state.IsLocked(),
	}
	switch s := state.(type) {
	case commission.Locked:
		dto := toFilingLockDTO(s.Lock)
		resp.Lock = &dto
	case commission.Unlocked:
		if s.Previous != nil {
			dto := toFilingLockDTO(*s.Previous)
			resp.Lock = &dto
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// =============================================================================
// REPORTS
// =============================================================================

// MonthlyReport returns the compliance-checked summary of one month.
// GET /api/reports/monthly?month=1&year=2024
func (h *Handler) MonthlyReport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	month, err1 := strconv.Atoi(q.Get("month"))
	year, err2 := strconv.Atoi(q.Get("year"))
	if err := errors.Join(err1, err2); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", "month and year must be integers", err)
		return
	}
	period, err := commission.NewPeriod(month, year)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	s, err := h.svc.MonthlySummary(r.Context(), period, actorOf(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MonthlySummaryDTO{
		Period:       s.Period,
		FilingPeriod: s.FilingPeriod,
		FiscalYear:   string(s.FiscalYear),
		TaxRate:      s.TaxRate.String(),
		Locked:       s.Locked,
		Totals:       toTotalsDTO(s.Totals),
		Warnings:     nonNilIssues(s.Warnings),
	})
}

// FilingReport returns the per-month filing data of a fiscal year.
// GET /api/reports/filing?fiscal_year=FY24
func (h *Handler) FilingReport(w http.ResponseWriter, r *http.Request) {
	fy, err := commission.ParseFiscalYear(r.URL.Query().Get("fiscal_year"))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	rep, err := h.svc.FilingData(r.Context(), fy, actorOf(r))
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}

	rows := make([]FilingRowDTO, 0, len(rep.Rows))
	for _, row := range rep.Rows {
		rows = append(rows, FilingRowDTO{
			Period:       row.Period,
			FilingPeriod: row.FilingPeriod,
			Locked:       row.Locked,
			TotalsDTO:    toTotalsDTO(row.Totals),
		})
	}
	writeJSON(w, http.StatusOK, FilingReportDTO{
		FiscalYear: string(rep.FiscalYear),
		From:       rep.From,
		To:         rep.To,
		TaxRate:    rep.TaxRate.String(),
		Rows:       rows,
		Totals:     toTotalsDTO(rep.Totals),
		Warnings:   nonNilIssues(rep.Warnings),
	})
}

// ExportCSV streams the filtered transactions as CSV.
// GET /api/exports/transactions.csv
func (h *Handler) ExportCSV(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	// Buffered so a compliance failure can still be answered with JSON.
	var buf bytes.Buffer
	if _, err := h.svc.ExportCSV(r.Context(), filter, actorOf(r), &buf); err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="transactions.csv"`)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// =============================================================================
// AUDIT
// =============================================================================

// ListAudit returns audit entries. Admin only.
// GET /api/audit?actor_id=&entity_id=&action=&limit= (limit keeps the newest entries)
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	actor := actorOf(r)
	if !actor.IsPrivileged() {
		writeDomainError(w, h.logger, &commission.ForbiddenError{Operation: "read the audit trail", ActorID: actor.ID})
		return
	}
	q := r.URL.Query()
	filter := commission.AuditFilter{
		ActorID:  q.Get("actor_id"),
		EntityID: q.Get("entity_id"),
	}
	for _, a := range q["action"] {
		filter.Actions = append(filter.Actions, commission.AuditAction(a))
	}
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_INPUT", "limit must be a non-negative integer", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.audit.QueryAudit(r.Context(), filter)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	dtos := make([]AuditEntryDTO, 0, len(entries))
	for _, e := range entries {
		dtos = append(dtos, toAuditEntryDTO(e))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// PARSING HELPERS
// =============================================================================

func parseFilter(r *http.Request) (commission.TransactionFilter, error) {
	q := r.URL.Query()
	var f commission.TransactionFilter

	if raw := q.Get("from"); raw != "" {
		d, err := parseDate("from", raw)
		if err != nil {
			return f, err
		}
		f.From = &d
	}
	if raw := q.Get("to"); raw != "" {
		d, err := parseDate("to", raw)
		if err != nil {
			return f, err
		}
		f.To = &d
	}
	if raw := q.Get("fiscal_year"); raw != "" {
		fy, err := commission.ParseFiscalYear(raw)
		if err != nil {
			return f, err
		}
		f.FiscalYear = fy
	}
	if raw := q.Get("payment_mode"); raw != "" {
		mode := commission.PaymentMode(raw)
		if !mode.Valid() {
			return f, &commission.InputError{Field: "payment_mode", Value: raw, Reason: "unsupported payment mode"}
		}
		f.PaymentMode = mode
	}
	f.InvoiceNumber = q.Get("invoice_number")

	var err error
	if f.Limit, err = parseNonNegative(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseNonNegative(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func parseNonNegative(q map[string][]string, key string) (int, error) {
	vals := q[key]
	if len(vals) == 0 || vals[0] == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(vals[0])
	if err != nil || n < 0 {
		return 0, &commission.InputError{Field: key, Value: vals[0], Reason: "must be a non-negative integer"}
	}
	return n, nil
}

func parseDate(field, raw string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, &commission.InputError{Field: field, Value: raw, Reason: "expected YYYY-MM-DD"}
	}
	return d, nil
}

func parseOptionalDate(raw *string) *time.Time {
	if raw == nil {
		return nil
	}
	d, err := time.Parse(time.DateOnly, *raw)
	if err != nil {
		return nil
	}
	return &d
}

func periodFromPath(r *http.Request) (commission.Period, error) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		return commission.Period{}, &commission.InputError{Field: "year", Value: chi.URLParam(r, "year"), Reason: "must be an integer"}
	}
	month, err := strconv.Atoi(chi.URLParam(r, "month"))
	if err != nil {
		return commission.Period{}, &commission.InputError{Field: "month", Value: chi.URLParam(r, "month"), Reason: "must be an integer"}
	}
	return commission.NewPeriod(month, year)
}
