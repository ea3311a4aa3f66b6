package postgres_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/store/postgres"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests run against a disposable database named by TEST_DATABASE_URL.
// Every table is truncated before each test.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := postgres.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(store.Close)
	require.NoError(t, store.Reset(ctx))
	return store
}

var user = commission.Actor{ID: "alice", Role: commission.RoleUser}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStore_NextSequence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		got, err := store.NextSequence(ctx, "FY24", "INV")
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	other, err := store.NextSequence(ctx, "FY25", "INV")
	require.NoError(t, err)
	assert.Equal(t, int64(1), other)
}

func TestStore_NextSequenceConcurrent(t *testing.T) {
	store := newTestStore(t)
	const workers = 40

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[int64]bool, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.NextSequence(context.Background(), "FY24", "INV")
			assert.NoError(t, err)
			mu.Lock()
			seen[n] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, workers)
}

func TestStore_WithTxRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(st commission.Store) error {
		_, err := st.NextSequence(ctx, "FY24", "INV")
		require.NoError(t, err)
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	n, err := store.NextSequence(ctx, "FY24", "INV")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestStore_LockCheckWaitsForConcurrentLock(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p := commission.Period{Year: 2024, Month: time.January}
	key := commission.KeyOf(p)

	// GIVEN: A transaction that has read January's lock and is about to write it
	read := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- store.WithTx(ctx, func(st commission.Store) error {
			if _, err := st.GetFilingLock(ctx, key); err != nil {
				return err
			}
			close(read)
			time.Sleep(200 * time.Millisecond)
			now := time.Now().UTC()
			return st.UpsertFilingLock(ctx, commission.FilingLock{
				ID:           "lock-jan",
				FiscalYear:   key.FiscalYear,
				Month:        key.Month,
				Year:         key.Year,
				FilingPeriod: p.FilingPeriod(),
				IsLocked:     true,
				LockedAt:     now,
				LockedBy:     "root",
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		})
	}()
	<-read

	// WHEN: A second transaction checks the same month meanwhile
	var seen *commission.FilingLock
	err := store.WithTx(ctx, func(st commission.Store) error {
		var err error
		seen, err = st.GetFilingLock(ctx, key)
		return err
	})

	// THEN: It waited for the first to commit and sees the lock
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NotNil(t, seen)
	assert.True(t, seen.IsLocked)
}

func TestService_OnPostgres(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	svc, err := commission.NewService(store, store, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)

	// GIVEN: Two FY23 transactions, January locked
	first, err := svc.CreateTransaction(ctx, commission.CreateInput{Date: date(2024, time.January, 15), TotalReceived: decimal.RequireFromString("1234.56")}, user)
	require.NoError(t, err)
	second, err := svc.CreateTransaction(ctx, commission.CreateInput{Date: date(2024, time.February, 1), TotalReceived: decimal.NewFromInt(500)}, user)
	require.NoError(t, err)
	assert.Equal(t, "INV-FY23-00001", first.InvoiceNumber)
	assert.Equal(t, "INV-FY23-00002", second.InvoiceNumber)

	_, err = svc.LockPeriod(ctx, commission.Period{Year: 2024, Month: time.January}, commission.SystemActor, commission.LockOptions{})
	require.NoError(t, err)

	// THEN: NUMERIC columns come back exact
	got, err := svc.GetTransaction(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.35", got.CommissionAmount.StringFixed(2))
	assert.Equal(t, "2.22", got.TaxAmount.StringFixed(2))
	assert.Equal(t, date(2024, time.January, 15), got.Date.UTC())

	// AND: The lock guard holds
	assert.ErrorIs(t, svc.DeleteTransaction(ctx, first.ID, user), commission.ErrFilingLocked)
	assert.NoError(t, svc.DeleteTransaction(ctx, second.ID, user))

	state, err := svc.PeriodState(ctx, commission.Period{Year: 2024, Month: time.January})
	require.NoError(t, err)
	assert.True(t, state.IsLocked())

	// AND: The audit trail decodes
	entries, err := store.QueryAudit(ctx, commission.AuditFilter{
		Actions: []commission.AuditAction{commission.AuditTransactionDeleted, commission.AuditValidationFailed},
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	_, ok := entries[0].Details.(commission.ValidationFailedDetails)
	assert.True(t, ok)
	deleted, ok := entries[1].Details.(commission.TransactionDeletedDetails)
	require.True(t, ok)
	assert.Equal(t, "INV-FY23-00002", deleted.InvoiceNumber)
}

func TestStore_DuplicateInvoiceNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	tx := commission.Transaction{
		ID:                "00000000-0000-0000-0000-000000000001",
		Date:              date(2024, time.May, 2),
		TotalReceived:     decimal.NewFromInt(100),
		CommissionPercent: decimal.NewFromInt(1),
		TaxRatePercent:    decimal.NewFromInt(18),
		Breakdown: commission.Breakdown{
			CommissionAmount: decimal.NewFromInt(1),
			TaxAmount:        decimal.RequireFromString("0.18"),
			NetIncome:        decimal.RequireFromString("0.82"),
			ReturnAmount:     decimal.NewFromInt(99),
		},
		PaymentMode:   commission.PaymentModeQR,
		InvoiceNumber: "INV-FY24-00001",
		FiscalYear:    "FY24",
		CreatedBy:     "alice",
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
	require.NoError(t, store.InsertTransaction(ctx, tx))

	tx.ID = "00000000-0000-0000-0000-000000000002"
	err := store.InsertTransaction(ctx, tx)

	assert.ErrorIs(t, err, commission.ErrDuplicateInvoiceNumber)
}
