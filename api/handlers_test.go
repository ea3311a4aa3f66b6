/*
handlers_test.go - HTTP tests for the API handlers

Tests for:
- Authentication and role checks
- Transaction CRUD and the filing lock guard over HTTP
- Error kind to status mapping
- Reports, CSV export and the audit trail
*/
package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/commission/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var testSecret = []byte("test-secret")

type testAPI struct {
	t       *testing.T
	server  *httptest.Server
	handler *Handler
	store   *store.TxMemory
	user    string
	admin   string
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	st := store.NewTxMemory()
	svc, err := commission.NewService(st, st, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)

	h := NewHandler(svc, st, zerolog.Nop())
	router := NewRouter(h, RouterOptions{
		AllowedOrigins: []string{"http://localhost:3000"},
		JWTSecret:      testSecret,
		Logger:         zerolog.Nop(),
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &testAPI{
		t:       t,
		server:  server,
		handler: h,
		store:   st,
		user:    token(t, commission.Actor{ID: "alice", Role: commission.RoleUser}),
		admin:   token(t, commission.Actor{ID: "root", Role: commission.RoleAdmin}),
	}
}

func token(t *testing.T, actor commission.Actor) string {
	t.Helper()
	tok, err := SignToken(testSecret, actor, time.Hour)
	require.NoError(t, err)
	return tok
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (a *testAPI) do(method, path, tok string, body any, out any) *http.Response {
	a.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, a.server.URL+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { resp.Body.Close() })
	if out != nil {
		require.NoError(a.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func (a *testAPI) create(date, total string) TransactionDTO {
	a.t.Helper()
	var tx TransactionDTO
	resp := a.do(http.MethodPost, "/api/transactions", a.user, map[string]any{"date": date, "total_received": total}, &tx)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
	return tx
}

func (a *testAPI) lock(month, year int) {
	a.t.Helper()
	resp := a.do(http.MethodPost, "/api/filing-locks", a.user, map[string]any{"month": month, "year": year}, nil)
	require.Equal(a.t, http.StatusCreated, resp.StatusCode)
}

// =============================================================================
// AUTH
// =============================================================================

func TestAPI_HealthIsPublic(t *testing.T) {
	a := newTestAPI(t)

	var body map[string]string
	resp := a.do(http.MethodGet, "/api/health", "", nil, &body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPI_RequiresToken(t *testing.T) {
	a := newTestAPI(t)

	var errResp ErrorResponse
	resp := a.do(http.MethodGet, "/api/transactions", "", nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "UNAUTHORIZED", errResp.Code)

	forged, err := SignToken([]byte("other-secret"), commission.Actor{ID: "mallory", Role: commission.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	resp = a.do(http.MethodGet, "/api/transactions", forged, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired, err := SignToken(testSecret, commission.Actor{ID: "alice", Role: commission.RoleUser}, -time.Minute)
	require.NoError(t, err)
	resp = a.do(http.MethodGet, "/api/transactions", expired, nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestParseToken(t *testing.T) {
	tok := token(t, commission.Actor{ID: "root", Role: commission.RoleAdmin})
	actor, err := ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, commission.Actor{ID: "root", Role: commission.RoleAdmin}, actor)

	// An empty role means a regular user
	tok = token(t, commission.Actor{ID: "bob"})
	actor, err = ParseToken(testSecret, tok)
	require.NoError(t, err)
	assert.Equal(t, commission.RoleUser, actor.Role)

	tok = token(t, commission.Actor{ID: "eve", Role: "superuser"})
	_, err = ParseToken(testSecret, tok)
	assert.Error(t, err)

	tok = token(t, commission.Actor{Role: commission.RoleUser})
	_, err = ParseToken(testSecret, tok)
	assert.Error(t, err)
}

// =============================================================================
// CALCULATION
// =============================================================================

func TestAPI_Calculate(t *testing.T) {
	a := newTestAPI(t)

	var calc CalculationDTO
	resp := a.do(http.MethodGet, "/api/calculate?total=10000", a.user, nil, &calc)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10000.00", calc.TotalReceived)
	assert.Equal(t, "1", calc.CommissionPercent)
	assert.Equal(t, "100.00", calc.CommissionAmount)
	assert.Equal(t, "100.00", calc.TaxableValue)
	assert.Equal(t, "18.00", calc.TaxAmount)
	assert.Equal(t, "82.00", calc.NetIncome)
	assert.Equal(t, "9900.00", calc.ReturnAmount)

	var errResp ErrorResponse
	resp = a.do(http.MethodGet, "/api/calculate?total=5000&commission_percent=150", a.user, nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "INVALID_INPUT", errResp.Code)

	resp = a.do(http.MethodGet, "/api/calculate?total=abc", a.user, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func TestAPI_CreateAndGetTransaction(t *testing.T) {
	a := newTestAPI(t)

	first := a.create("2024-04-01", "10000")
	second := a.create("2024-04-02", "250.50")

	assert.Equal(t, "INV-FY24-00001", first.InvoiceNumber)
	assert.Equal(t, "INV-FY24-00002", second.InvoiceNumber)
	assert.Equal(t, "FY24", first.FiscalYear)
	assert.Equal(t, "FY24-2024-04", first.FilingPeriod)
	assert.Equal(t, "100.00", first.CommissionAmount)
	assert.Equal(t, "18.00", first.TaxAmount)
	assert.Equal(t, "18", first.TaxRatePercent)
	assert.Equal(t, "qr", first.PaymentMode)
	assert.Equal(t, "alice", first.CreatedBy)

	var got TransactionDTO
	resp := a.do(http.MethodGet, "/api/transactions/"+second.ID, a.user, nil, &got)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "250.50", got.TotalReceived)
	assert.Equal(t, "2.51", got.CommissionAmount)

	var list []TransactionDTO
	resp = a.do(http.MethodGet, "/api/transactions?fiscal_year=FY24&limit=1&offset=1", a.user, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, list, 1)
	assert.Equal(t, second.ID, list[0].ID)

	resp = a.do(http.MethodGet, "/api/transactions/missing", a.user, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPI_CreateTransaction_Validation(t *testing.T) {
	a := newTestAPI(t)

	cases := []struct {
		name  string
		body  map[string]any
		field string
	}{
		{"missing date", map[string]any{"total_received": "100"}, "date"},
		{"bad date", map[string]any{"date": "01/02/2024", "total_received": "100"}, "date"},
		{"unknown payment mode", map[string]any{"date": "2024-05-01", "total_received": "100", "payment_mode": "cash"}, "payment_mode"},
		{"long remarks", map[string]any{"date": "2024-05-01", "total_received": "100", "remarks": strings.Repeat("x", 501)}, "remarks"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var errResp ErrorResponse
			resp := a.do(http.MethodPost, "/api/transactions", a.user, tc.body, &errResp)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, "INVALID_INPUT", errResp.Code)
			assert.Contains(t, errResp.Fields, tc.field)
		})
	}

	// Domain bounds come back from the engine
	var errResp ErrorResponse
	resp := a.do(http.MethodPost, "/api/transactions", a.user, map[string]any{"date": "2024-05-01", "total_received": 0}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errResp.Error, "total_received")

	resp = a.do(http.MethodPost, "/api/transactions", a.user, map[string]any{"date": "2024-05-01", "total_received": "100", "extra": 1}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_LockedPeriodReturns423(t *testing.T) {
	// GIVEN: Transactions on Jan 15 and Feb 1 2024, January locked
	a := newTestAPI(t)
	jan := a.create("2024-01-15", "1000")
	feb := a.create("2024-02-01", "1000")
	a.lock(1, 2024)

	// WHEN: Updating both
	var errResp ErrorResponse
	resp := a.do(http.MethodPut, "/api/transactions/"+jan.ID, a.user, map[string]any{"total_received": "2000"}, &errResp)

	// THEN: January is refused, February goes through
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	assert.Equal(t, "FILING_LOCKED", errResp.Code)

	var updated TransactionDTO
	resp = a.do(http.MethodPut, "/api/transactions/"+feb.ID, a.user, map[string]any{"total_received": "2000"}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "20.00", updated.CommissionAmount)
	assert.Equal(t, feb.InvoiceNumber, updated.InvoiceNumber)

	resp = a.do(http.MethodDelete, "/api/transactions/"+jan.ID, a.user, nil, nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp = a.do(http.MethodPost, "/api/transactions", a.user, map[string]any{"date": "2024-01-20", "total_received": "5"}, nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	resp = a.do(http.MethodDelete, "/api/transactions/"+feb.ID, a.user, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

// =============================================================================
// FILING LOCKS
// =============================================================================

func TestAPI_LockStatusAndUnlock(t *testing.T) {
	a := newTestAPI(t)

	var status LockStatusDTO
	resp := a.do(http.MethodGet, "/api/filing-locks/status?date=2024-01-15", a.user, nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, status.Locked)
	assert.Nil(t, status.Lock)
	assert.Equal(t, "FY23-2024-01", status.FilingPeriod)

	var lock FilingLockDTO
	resp = a.do(http.MethodPost, "/api/filing-locks", a.user, map[string]any{
		"month": 1, "year": 2024,
		"filing_dates": map[string]any{"gstr1": "2024-02-11", "gstr3b": "2024-02-20"},
		"remarks":      "filed on time",
	}, &lock)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "FY23", lock.FiscalYear)
	assert.True(t, lock.IsLocked)
	require.NotNil(t, lock.FilingDates.GSTR3B)

	resp = a.do(http.MethodGet, "/api/filing-locks/status?date=2024-01-15", a.user, nil, &status)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, status.Locked)
	require.NotNil(t, status.Lock)
	assert.Equal(t, "alice", status.Lock.LockedBy)

	// WHEN: A regular user tries to unlock
	var errResp ErrorResponse
	resp = a.do(http.MethodPost, "/api/filing-locks/2024/1/unlock", a.user, nil, &errResp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, "FORBIDDEN", errResp.Code)

	// THEN: Only the admin can
	var unlocked FilingLockDTO
	resp = a.do(http.MethodPost, "/api/filing-locks/2024/1/unlock", a.admin, nil, &unlocked)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, unlocked.IsLocked)
	assert.Equal(t, "root", unlocked.UnlockedBy)

	resp = a.do(http.MethodPost, "/api/filing-locks/2024/3/unlock", a.admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = a.do(http.MethodPost, "/api/filing-locks/2024/13/unlock", a.admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var locks []FilingLockDTO
	resp = a.do(http.MethodGet, "/api/filing-locks?fiscal_year=FY23", a.user, nil, &locks)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, locks, 1)
	assert.False(t, locks[0].IsLocked)
}

func TestAPI_LockPeriod_Validation(t *testing.T) {
	a := newTestAPI(t)

	var errResp ErrorResponse
	resp := a.do(http.MethodPost, "/api/filing-locks", a.user, map[string]any{"month": 13, "year": 2024}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errResp.Fields, "month")

	resp = a.do(http.MethodPost, "/api/filing-locks", a.user, map[string]any{
		"month": 1, "year": 2024, "filing_dates": map[string]any{"gstr1": "11-02-2024"},
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, errResp.Fields, "filing_dates.gstr1")
}

// =============================================================================
// REPORTS & EXPORTS
// =============================================================================

func TestAPI_Reports(t *testing.T) {
	a := newTestAPI(t)
	a.create("2024-04-10", "1000")
	a.create("2024-04-11", "2000")
	a.lock(4, 2024)

	var summary MonthlySummaryDTO
	resp := a.do(http.MethodGet, "/api/reports/monthly?month=4&year=2024", a.user, nil, &summary)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FY24-2024-04", summary.FilingPeriod)
	assert.True(t, summary.Locked)
	assert.Equal(t, 2, summary.Totals.TransactionCount)
	assert.Equal(t, "30.00", summary.Totals.TaxableValue)
	assert.Equal(t, "5.40", summary.Totals.TaxAmount)
	assert.NotNil(t, summary.Warnings)

	var report FilingReportDTO
	resp = a.do(http.MethodGet, "/api/reports/filing?fiscal_year=FY24", a.user, nil, &report)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, report.Rows, 12)
	assert.Equal(t, "3000.00", report.Totals.TotalReceived)
	assert.True(t, report.Rows[0].Locked)

	resp = a.do(http.MethodGet, "/api/reports/monthly?month=x&year=2024", a.user, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = a.do(http.MethodGet, "/api/reports/filing?fiscal_year=2024", a.user, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAPI_ComplianceFailureBlocksReports(t *testing.T) {
	// GIVEN: A row whose tax was altered behind the engine's back
	a := newTestAPI(t)
	a.create("2024-04-10", "1000")
	txs, err := a.store.ListTransactions(context.Background(), commission.TransactionFilter{})
	require.NoError(t, err)
	tampered := txs[0]
	tampered.TaxAmount = tampered.TaxAmount.Add(tampered.TaxAmount)
	require.NoError(t, a.store.UpdateTransaction(context.Background(), tampered))

	// WHEN: Requesting the report and the export
	var errResp ErrorResponse
	resp := a.do(http.MethodGet, "/api/reports/monthly?month=4&year=2024", a.user, nil, &errResp)

	// THEN: 422 with the offending field
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "COMPLIANCE_VALIDATION_FAILED", errResp.Code)
	require.NotEmpty(t, errResp.Issues)
	assert.Equal(t, "tax_amount", errResp.Issues[0].Field)

	resp = a.do(http.MethodGet, "/api/exports/transactions.csv", a.user, nil, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestAPI_ExportCSV(t *testing.T) {
	a := newTestAPI(t)
	a.create("2024-05-01", "250")
	a.create("2024-06-01", "10000")

	resp := a.do(http.MethodGet, "/api/exports/transactions.csv?from=2024-05-01&to=2024-05-31", a.user, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv; charset=utf-8", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "transactions.csv")

	records, err := csv.NewReader(resp.Body).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "INV-FY24-00001", records[1][0])
	assert.Equal(t, "2.50", records[1][6])

	resp = a.do(http.MethodGet, "/api/exports/transactions.csv?payment_mode=card", a.user, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

// =============================================================================
// AUDIT
// =============================================================================

func TestAPI_AuditTrail(t *testing.T) {
	a := newTestAPI(t)
	tx := a.create("2024-05-01", "250")
	a.do(http.MethodPut, "/api/transactions/"+tx.ID, a.user, map[string]any{"remarks": "fixed"}, nil)

	resp := a.do(http.MethodGet, "/api/audit", a.user, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var entries []map[string]any
	resp = a.do(http.MethodGet, "/api/audit?entity_id="+tx.ID, a.admin, nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 2)
	assert.Equal(t, "transaction_created", entries[0]["action"])
	assert.Equal(t, "transaction_updated", entries[1]["action"])
	details, ok := entries[0]["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "INV-FY24-00001", details["invoice_number"])

	resp = a.do(http.MethodGet, "/api/audit?action=transaction_updated&limit=1", a.admin, nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, entries, 1)

	// A bare limit returns the latest entry
	resp = a.do(http.MethodGet, "/api/audit?limit=1", a.admin, nil, &entries)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, "transaction_updated", entries[0]["action"])

	resp = a.do(http.MethodGet, "/api/audit?limit=-1", a.admin, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
