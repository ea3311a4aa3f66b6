/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the store with realistic
	QR payment data for demos and manual testing. Every row goes through
	commission.Service, so amounts, invoice numbers and audit entries are
	exactly what a real client would produce.

AVAILABLE SCENARIOS:

	first-quarter:    FY24 April to June with mixed commission rates
	filed-quarter:    January to March 2024, January and February filed and locked
	year-boundary:    Payments around April 1 2024 showing the invoice sequence restart
	suspicious-entry: A 100% commission payment that reports carry as a warning

HOW SCENARIOS WORK:
 1. Reset the store (transactions, sequences, locks, audit)
 2. Create transactions through the service
 3. Lock filed periods where the scenario needs them

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "filed-quarter"}

USAGE VIA CLI:

	commission-engine seed filed-quarter

NOTE:

	Scenarios reset the store. The HTTP routes answer 404 unless
	ENABLE_SCENARIOS=true.

SEE ALSO:
  - handlers.go: the rest of the API
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/shopspring/decimal"
)

// Resetter clears every table of a store.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ScenarioDTO describes a loadable scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResult summarizes what a load created.
type ScenarioResult struct {
	Scenario     ScenarioDTO `json:"scenario"`
	Transactions int         `json:"transactions"`
	LockedMonths []string    `json:"locked_months"`
	Invoices     []string    `json:"invoices"`
	Totals       TotalsDTO   `json:"totals"`
	Warnings     int         `json:"warnings"`
	LoadedAt     time.Time   `json:"loaded_at"`

	totals commission.Totals
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// seedPayment is one payment of a scenario. An empty percent uses the configured default.
type seedPayment struct {
	date    time.Time
	total   string
	percent string
	remarks string
}

type seedLock struct {
	month, year int
	gstr1       time.Time
	gstr3b      time.Time
}

type scenario struct {
	ScenarioDTO
	payments []seedPayment
	locks    []seedLock
}

func seedDate(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

var scenarios = []scenario{
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "first-quarter",
			Name:        "First Quarter",
			Description: "FY24 April to June with default, reduced and premium commission rates",
		},
		payments: []seedPayment{
			{date: seedDate(2024, 4, 3), total: "12500", remarks: "Counter QR"},
			{date: seedDate(2024, 4, 18), total: "4820.50", percent: "0.5", remarks: "Wholesale rate"},
			{date: seedDate(2024, 5, 2), total: "1234.56", percent: "1.5"},
			{date: seedDate(2024, 5, 27), total: "30000", remarks: "Festival week"},
			{date: seedDate(2024, 6, 11), total: "999.99", percent: "2"},
			{date: seedDate(2024, 6, 29), total: "7450"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "filed-quarter",
			Name:        "Filed Quarter",
			Description: "January to March 2024; January and February returns filed and locked",
		},
		payments: []seedPayment{
			{date: seedDate(2024, 1, 15), total: "10000"},
			{date: seedDate(2024, 1, 28), total: "1234.56", percent: "1.5"},
			{date: seedDate(2024, 2, 9), total: "5600"},
			{date: seedDate(2024, 2, 21), total: "820.40", percent: "2"},
			{date: seedDate(2024, 3, 7), total: "15000", remarks: "Still open for edits"},
		},
		locks: []seedLock{
			{month: 1, year: 2024, gstr1: seedDate(2024, 2, 11), gstr3b: seedDate(2024, 2, 20)},
			{month: 2, year: 2024, gstr1: seedDate(2024, 3, 11), gstr3b: seedDate(2024, 3, 20)},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "year-boundary",
			Name:        "Year Boundary",
			Description: "Payments on March 30-31 and April 1-2 2024; invoice numbers restart in FY24",
		},
		payments: []seedPayment{
			{date: seedDate(2024, 3, 30), total: "2500"},
			{date: seedDate(2024, 3, 31), total: "4100"},
			{date: seedDate(2024, 4, 1), total: "3300"},
			{date: seedDate(2024, 4, 2), total: "1800"},
		},
	},
	{
		ScenarioDTO: ScenarioDTO{
			ID:          "suspicious-entry",
			Name:        "Suspicious Entry",
			Description: "A 100% commission payment next to ordinary ones; reports warn but do not block",
		},
		payments: []seedPayment{
			{date: seedDate(2024, 7, 5), total: "6400"},
			{date: seedDate(2024, 7, 12), total: "250", percent: "100", remarks: "Service fee collected via QR"},
			{date: seedDate(2024, 7, 19), total: "9100"},
		},
	},
}

// Scenarios lists the available scenarios.
func Scenarios() []ScenarioDTO {
	out := make([]ScenarioDTO, 0, len(scenarios))
	for _, s := range scenarios {
		out = append(out, s.ScenarioDTO)
	}
	return out
}

// LoadScenario resets the store and replays a scenario through svc.
func LoadScenario(ctx context.Context, svc *commission.Service, resetter Resetter, id string, actor commission.Actor) (ScenarioResult, error) {
	var sc *scenario
	for i := range scenarios {
		if scenarios[i].ID == id {
			sc = &scenarios[i]
			break
		}
	}
	if sc == nil {
		return ScenarioResult{}, &commission.NotFoundError{Kind: "scenario", Key: id}
	}

	if err := resetter.Reset(ctx); err != nil {
		return ScenarioResult{}, fmt.Errorf("reset store: %w", err)
	}

	result := ScenarioResult{Scenario: sc.ScenarioDTO, LockedMonths: []string{}, Invoices: []string{}}
	for _, p := range sc.payments {
		in := commission.CreateInput{
			Date:          p.date,
			TotalReceived: decimal.RequireFromString(p.total),
			Remarks:       p.remarks,
		}
		if p.percent != "" {
			pct := decimal.RequireFromString(p.percent)
			in.CommissionPercent = &pct
		}
		tx, err := svc.CreateTransaction(ctx, in, actor)
		if err != nil {
			return ScenarioResult{}, fmt.Errorf("scenario %s: payment on %s: %w", id, p.date.Format(time.DateOnly), err)
		}
		result.Transactions++
		result.Invoices = append(result.Invoices, tx.InvoiceNumber)
		result.addTotals(tx)
	}

	for _, l := range sc.locks {
		period, err := commission.NewPeriod(l.month, l.year)
		if err != nil {
			return ScenarioResult{}, err
		}
		gstr1, gstr3b := l.gstr1, l.gstr3b
		if _, err := svc.LockPeriod(ctx, period, actor, commission.LockOptions{
			FilingDates: commission.FilingDates{GSTR1: &gstr1, GSTR3B: &gstr3b},
			Remarks:     "Returns filed",
		}); err != nil {
			return ScenarioResult{}, fmt.Errorf("scenario %s: lock %s: %w", id, period, err)
		}
		result.LockedMonths = append(result.LockedMonths, period.FilingPeriod())
	}

	txs, err := svc.ListTransactions(ctx, commission.TransactionFilter{})
	if err != nil {
		return ScenarioResult{}, err
	}
	result.Warnings = len(svc.Validator().ValidateBatch(txs).Warnings)
	result.Totals = toTotalsDTO(result.totals)
	result.LoadedAt = time.Now().UTC()
	return result, nil
}

func (r *ScenarioResult) addTotals(tx commission.Transaction) {
	r.totals.TransactionCount++
	r.totals.TotalReceived = r.totals.TotalReceived.Add(tx.TotalReceived)
	r.totals.TaxableValue = r.totals.TaxableValue.Add(tx.CommissionAmount)
	r.totals.TaxAmount = r.totals.TaxAmount.Add(tx.TaxAmount)
	r.totals.NetIncome = r.totals.NetIncome.Add(tx.NetIncome)
	r.totals.ReturnAmount = r.totals.ReturnAmount.Add(tx.ReturnAmount)
}

// =============================================================================
// HANDLERS
// =============================================================================

// EnableScenarios exposes the scenario routes backed by resetter.
func (h *Handler) EnableScenarios(resetter Resetter) {
	h.resetter = resetter
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "scenarios are disabled", nil)
		return
	}
	writeJSON(w, http.StatusOK, Scenarios())
}

// LoadScenario resets the store and loads a scenario. Admin only.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	if h.resetter == nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "scenarios are disabled", nil)
		return
	}
	actor := actorOf(r)
	if !actor.IsPrivileged() {
		writeDomainError(w, h.logger, &commission.ForbiddenError{Operation: "load a scenario", ActorID: actor.ID})
		return
	}
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}

	result, err := LoadScenario(r.Context(), h.svc, h.resetter, req.ScenarioID, actor)
	if err != nil {
		writeDomainError(w, h.logger, err)
		return
	}
	h.logger.Info().Str("scenario", req.ScenarioID).Int("transactions", result.Transactions).Msg("scenario loaded")
	writeJSON(w, http.StatusOK, result)
}
