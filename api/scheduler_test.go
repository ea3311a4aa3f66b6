package api

import (
	"context"
	"testing"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/commission/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, now time.Time) (*ComplianceScheduler, *commission.Service, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	svc, err := commission.NewService(st, st, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)
	cs := NewComplianceScheduler(svc, zerolog.Nop())
	cs.now = func() time.Time { return now }
	return cs, svc, st
}

func TestScheduler_DueFiscalYears(t *testing.T) {
	cs, _, _ := newTestScheduler(t, time.Date(2024, 4, 20, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []commission.FiscalYear{"FY24", "FY23"}, cs.dueFiscalYears())

	cs.now = func() time.Time { return time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC) }
	assert.Equal(t, []commission.FiscalYear{"FY24"}, cs.dueFiscalYears())
}

func TestScheduler_RunNow_CleanBatch(t *testing.T) {
	ctx := context.Background()
	cs, svc, st := newTestScheduler(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	_, err := svc.CreateTransaction(ctx, commission.CreateInput{
		Date:          time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		TotalReceived: decimal.NewFromInt(1000),
	}, commission.Actor{ID: "alice", Role: commission.RoleUser})
	require.NoError(t, err)

	results := cs.RunNow(ctx)
	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Zero(t, results[0].Errors)

	failures, err := st.QueryAudit(ctx, commission.AuditFilter{Actions: []commission.AuditAction{commission.AuditValidationFailed}})
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestScheduler_RunNow_TamperedRowIsAudited(t *testing.T) {
	ctx := context.Background()
	cs, svc, st := newTestScheduler(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))

	// GIVEN a stored transaction whose tax was edited behind the engine's back
	tx, err := svc.CreateTransaction(ctx, commission.CreateInput{
		Date:          time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
		TotalReceived: decimal.NewFromInt(10000),
	}, commission.Actor{ID: "alice", Role: commission.RoleUser})
	require.NoError(t, err)
	tx.TaxAmount = decimal.NewFromInt(20)
	tx.NetIncome = decimal.NewFromInt(80)
	require.NoError(t, st.UpdateTransaction(ctx, tx))

	// WHEN the sweep runs
	results := cs.RunNow(ctx)

	// THEN the failure is reported and audited as the system actor
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, commission.ErrComplianceValidationFailed)
	assert.Equal(t, 1, results[0].Errors)

	failures, err := st.QueryAudit(ctx, commission.AuditFilter{Actions: []commission.AuditAction{commission.AuditValidationFailed}})
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, commission.SystemActor.ID, failures[0].ActorID)
	assert.Equal(t, "FY24", failures[0].Period)
	details, ok := failures[0].Details.(commission.ValidationFailedDetails)
	require.True(t, ok)
	assert.Equal(t, "compliance_sweep", details.Operation)
	assert.Equal(t, tx.ID, details.Issues[0].TransactionID)
}

func TestScheduler_StartStop(t *testing.T) {
	cs, _, _ := newTestScheduler(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	cs.CheckInterval = time.Hour

	cs.Start()
	cs.Start()
	cs.Stop()
	cs.Stop()
	assert.Nil(t, cs.ticker)
}

func TestScheduler_DisabledDoesNotStart(t *testing.T) {
	cs, _, _ := newTestScheduler(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC))
	cs.CheckInterval = 0

	cs.Start()
	assert.Nil(t, cs.ticker)
	cs.Stop()
}
