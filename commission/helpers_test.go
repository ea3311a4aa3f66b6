package commission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/commission/store"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	alice = commission.Actor{ID: "alice", Role: commission.RoleUser}
	admin = commission.Actor{ID: "root", Role: commission.RoleAdmin}
)

// testClock advances one second per call so audit entries keep their order.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func newTestService(t *testing.T) (*commission.Service, *store.TxMemory) {
	t.Helper()
	st := store.NewTxMemory()
	clock := &testClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
	svc, err := commission.NewService(st, st, commission.Config{Rates: commission.DefaultRates()},
		zerolog.Nop(), commission.WithClock(clock.Now))
	require.NoError(t, err)
	return svc, st
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func period(t *testing.T, month, year int) commission.Period {
	t.Helper()
	p, err := commission.NewPeriod(month, year)
	require.NoError(t, err)
	return p
}

func createTx(t *testing.T, svc *commission.Service, date time.Time, total string) commission.Transaction {
	t.Helper()
	tx, err := svc.CreateTransaction(context.Background(), commission.CreateInput{
		Date:          date,
		TotalReceived: dec(total),
	}, alice)
	require.NoError(t, err)
	return tx
}

func auditActions(t *testing.T, st *store.TxMemory, filter commission.AuditFilter) []commission.AuditAction {
	t.Helper()
	entries, err := st.QueryAudit(context.Background(), filter)
	require.NoError(t, err)
	actions := make([]commission.AuditAction, 0, len(entries))
	for _, e := range entries {
		actions = append(actions, e.Action)
	}
	return actions
}
