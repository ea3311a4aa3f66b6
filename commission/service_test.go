package commission_test

import (
	"context"
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
// CREATE
// =============================================================================

func TestCreateTransaction_DerivesAndNumbers(t *testing.T) {
	svc, st := newTestService(t)

	// WHEN: Creating 10000 with the default 1%
	tx, err := svc.CreateTransaction(context.Background(), commission.CreateInput{
		Date:          time.Date(2024, time.May, 2, 17, 30, 0, 0, time.UTC),
		TotalReceived: dec("10000"),
		Remarks:       "counter 3",
	}, alice)
	require.NoError(t, err)

	// THEN: Derived amounts, invoice number and fiscal year are filled in
	assert.NotEmpty(t, tx.ID)
	assert.Equal(t, day(2024, time.May, 2), tx.Date)
	assert.Equal(t, "1", tx.CommissionPercent.String())
	assertMoney(t, "100.00", tx.CommissionAmount, "commission")
	assertMoney(t, "18.00", tx.TaxAmount, "tax")
	assertMoney(t, "82.00", tx.NetIncome, "net")
	assertMoney(t, "9900.00", tx.ReturnAmount, "return")
	assert.Equal(t, "INV-FY24-00001", tx.InvoiceNumber)
	assert.Equal(t, commission.FiscalYear("FY24"), tx.FiscalYear)
	assert.Equal(t, commission.PaymentModeQR, tx.PaymentMode)
	assert.Equal(t, "alice", tx.CreatedBy)

	stored, err := svc.GetTransaction(context.Background(), tx.ID)
	require.NoError(t, err)
	assert.Equal(t, tx.InvoiceNumber, stored.InvoiceNumber)

	// AND: One creation entry in the audit trail
	entries, err := st.QueryAudit(context.Background(), commission.AuditFilter{EntityID: tx.ID})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, commission.AuditTransactionCreated, entries[0].Action)
	assert.Equal(t, commission.AuditSuccess, entries[0].Status)
	assert.Equal(t, "FY24-2024-05", entries[0].Period)
	created := entries[0].Details.(commission.TransactionCreatedDetails)
	assert.Equal(t, "INV-FY24-00001", created.InvoiceNumber)
}

func TestCreateTransaction_SequentialInvoiceNumbers(t *testing.T) {
	// GIVEN: Two transactions in FY24 created one after the other
	svc, _ := newTestService(t)

	first := createTx(t, svc, day(2024, time.April, 1), "100")
	second := createTx(t, svc, day(2025, time.March, 31), "200")
	other := createTx(t, svc, day(2024, time.March, 31), "300")

	// THEN: FY24 counts 1, 2 and FY23 has its own counter
	assert.Equal(t, "INV-FY24-00001", first.InvoiceNumber)
	assert.Equal(t, "INV-FY24-00002", second.InvoiceNumber)
	assert.Equal(t, "INV-FY23-00001", other.InvoiceNumber)
}

func TestCreateTransaction_CustomPrefix(t *testing.T) {
	st := store.NewTxMemory()
	svc, err := commission.NewService(st, st, commission.Config{Rates: commission.DefaultRates(), InvoicePrefix: "QR"}, zerolog.Nop())
	require.NoError(t, err)

	tx := createTx(t, svc, day(2024, time.July, 1), "50")
	assert.Equal(t, "QR-FY24-00001", tx.InvoiceNumber)

	_, err = commission.NewService(st, st, commission.Config{Rates: commission.DefaultRates(), InvoicePrefix: "bad-"}, zerolog.Nop())
	assert.ErrorIs(t, err, commission.ErrInvalidInput)
}

func TestCreateTransaction_InvalidInputWritesNothing(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	cases := []commission.CreateInput{
		{Date: day(2024, time.May, 2), TotalReceived: dec("0")},
		{Date: day(2024, time.May, 2), TotalReceived: dec("5000"), CommissionPercent: decPtr("150")},
		{TotalReceived: dec("100")},
		{Date: day(2024, time.May, 2), TotalReceived: dec("100"), PaymentMode: "cash"},
		{Date: day(2024, time.May, 2), TotalReceived: dec("100"), Remarks: strings.Repeat("é", commission.MaxRemarksLength+1)},
	}
	for i, in := range cases {
		_, err := svc.CreateTransaction(ctx, in, alice)
		assert.ErrorIs(t, err, commission.ErrInvalidInput, "case %d", i)
	}

	txs, err := svc.ListTransactions(ctx, commission.TransactionFilter{})
	require.NoError(t, err)
	assert.Empty(t, txs)
	_, ok := st.Sequence("FY24")
	assert.False(t, ok, "no invoice number may be consumed")
	assert.Empty(t, auditActions(t, st, commission.AuditFilter{}))
}

func TestCreateTransaction_RemarksCountedInRunes(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.CreateTransaction(context.Background(), commission.CreateInput{
		Date:          day(2024, time.May, 2),
		TotalReceived: dec("100"),
		Remarks:       strings.Repeat("é", commission.MaxRemarksLength),
	}, alice)

	assert.NoError(t, err)
}

func TestCreateTransaction_LockedPeriodRejectedAndAudited(t *testing.T) {
	// GIVEN: January 2024 is locked
	svc, st := newTestService(t)
	ctx := context.Background()
	_, err := svc.LockPeriod(ctx, period(t, 1, 2024), admin, commission.LockOptions{})
	require.NoError(t, err)

	// WHEN: Creating a transaction dated in January
	_, err = svc.CreateTransaction(ctx, commission.CreateInput{Date: day(2024, time.January, 20), TotalReceived: dec("100")}, alice)

	// THEN: FilingLocked, no number consumed, failure audited
	require.ErrorIs(t, err, commission.ErrFilingLocked)
	var lockedErr *commission.FilingLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, "create", lockedErr.Operation)
	assert.Equal(t, commission.Period{Year: 2024, Month: time.January}, lockedErr.Period)

	_, ok := st.Sequence("FY23")
	assert.False(t, ok)

	entries, err := st.QueryAudit(ctx, commission.AuditFilter{ActorID: "alice"})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, commission.AuditValidationFailed, entries[0].Action)
	assert.Equal(t, commission.AuditFailure, entries[0].Status)
	assert.Equal(t, "FY23-2024-01", entries[0].Period)
	details := entries[0].Details.(commission.ValidationFailedDetails)
	assert.Equal(t, "filing_locked", details.Reason)
}

// failingInsertStore fails every insert after the counter was incremented.
type failingInsertStore struct {
	*store.TxMemory
}

func (f failingInsertStore) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	return f.TxMemory.WithTx(ctx, func(st commission.Store) error {
		return fn(failingInsertView{st})
	})
}

type failingInsertView struct {
	commission.Store
}

func (failingInsertView) InsertTransaction(context.Context, commission.Transaction) error {
	return assert.AnError
}

func TestCreateTransaction_FailedInsertLeavesNoGap(t *testing.T) {
	// GIVEN: A store whose inserts fail after allocation
	mem := store.NewTxMemory()
	broken, err := commission.NewService(failingInsertStore{mem}, mem, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)

	_, err = broken.CreateTransaction(context.Background(), commission.CreateInput{Date: day(2024, time.May, 2), TotalReceived: dec("100")}, alice)
	require.ErrorIs(t, err, assert.AnError)

	// WHEN: The next create goes through a healthy service on the same data
	healthy, err := commission.NewService(mem, mem, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)
	tx := createTx(t, healthy, day(2024, time.May, 3), "100")

	// THEN: The counter was rolled back with the insert
	assert.Equal(t, "INV-FY24-00001", tx.InvoiceNumber)
}

func TestCreateTransaction_DuplicateInvoiceIsIntegrityFault(t *testing.T) {
	// GIVEN: A row already holding the number the counter will hand out next
	svc, st := newTestService(t)
	ctx := context.Background()
	squatter := validTx("squatter", "100")
	squatter.InvoiceNumber = "INV-FY24-00001"
	require.NoError(t, st.InsertTransaction(ctx, squatter))

	// WHEN: Creating through the service
	_, err := svc.CreateTransaction(ctx, commission.CreateInput{Date: day(2024, time.May, 2), TotalReceived: dec("100")}, alice)

	// THEN: Integrity fault, not retried
	require.ErrorIs(t, err, commission.ErrDuplicateInvoiceNumber)
	var integrity *commission.IntegrityError
	require.ErrorAs(t, err, &integrity)
	assert.Equal(t, "INV-FY24-00001", integrity.InvoiceNumber)
}

// =============================================================================
// UPDATE
// =============================================================================

func TestUpdateTransaction_LockedPeriod(t *testing.T) {
	// GIVEN: Transactions on Jan 15 and Feb 1 2024, January locked
	svc, st := newTestService(t)
	ctx := context.Background()
	jan := createTx(t, svc, day(2024, time.January, 15), "1000")
	feb := createTx(t, svc, day(2024, time.February, 1), "1000")
	_, err := svc.LockPeriod(ctx, period(t, 1, 2024), admin, commission.LockOptions{})
	require.NoError(t, err)

	// WHEN: Updating the January transaction, twice
	for i := 0; i < 2; i++ {
		_, err = svc.UpdateTransaction(ctx, jan.ID, commission.Patch{TotalReceived: decPtr("2000")}, alice)
		require.ErrorIs(t, err, commission.ErrFilingLocked)
	}

	// THEN: It is untouched
	stored, err := svc.GetTransaction(ctx, jan.ID)
	require.NoError(t, err)
	assertMoney(t, "1000.00", stored.TotalReceived, "total")

	// AND: The February transaction updates normally
	updated, err := svc.UpdateTransaction(ctx, feb.ID, commission.Patch{TotalReceived: decPtr("2000")}, alice)
	require.NoError(t, err)
	assertMoney(t, "20.00", updated.CommissionAmount, "commission")
	assertMoney(t, "3.60", updated.TaxAmount, "tax")
	assertMoney(t, "1980.00", updated.ReturnAmount, "return")
	assert.Equal(t, feb.InvoiceNumber, updated.InvoiceNumber)

	failures, err := st.QueryAudit(ctx, commission.AuditFilter{EntityID: jan.ID, Actions: []commission.AuditAction{commission.AuditValidationFailed}})
	require.NoError(t, err)
	assert.Len(t, failures, 2)
}

func TestUpdateTransaction_RecomputesAndAuditsBeforeAfter(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	tx := createTx(t, svc, day(2024, time.June, 10), "10000")

	remarks := "corrected"
	updated, err := svc.UpdateTransaction(ctx, tx.ID, commission.Patch{
		CommissionPercent: decPtr("2"),
		Remarks:           &remarks,
	}, alice)
	require.NoError(t, err)

	assertMoney(t, "200.00", updated.CommissionAmount, "commission")
	assertMoney(t, "36.00", updated.TaxAmount, "tax")
	assertMoney(t, "164.00", updated.NetIncome, "net")
	assert.Equal(t, "corrected", updated.Remarks)
	assert.True(t, updated.UpdatedAt.After(tx.UpdatedAt))
	assert.Equal(t, tx.CreatedAt, updated.CreatedAt)

	entries, err := st.QueryAudit(ctx, commission.AuditFilter{EntityID: tx.ID, Actions: []commission.AuditAction{commission.AuditTransactionUpdated}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	details := entries[0].Details.(commission.TransactionUpdatedDetails)
	assertMoney(t, "100.00", details.Before.CommissionAmount, "before")
	assertMoney(t, "200.00", details.After.CommissionAmount, "after")
}

func TestUpdateTransaction_MoveIntoLockedPeriodRejected(t *testing.T) {
	// GIVEN: A February transaction and a locked January
	svc, _ := newTestService(t)
	ctx := context.Background()
	feb := createTx(t, svc, day(2024, time.February, 5), "100")
	_, err := svc.LockPeriod(ctx, period(t, 1, 2024), admin, commission.LockOptions{})
	require.NoError(t, err)

	// WHEN: Moving it into January
	newDate := day(2024, time.January, 31)
	_, err = svc.UpdateTransaction(ctx, feb.ID, commission.Patch{Date: &newDate}, alice)

	// THEN: Rejected on the target period
	require.ErrorIs(t, err, commission.ErrFilingLocked)
	var lockedErr *commission.FilingLockedError
	require.ErrorAs(t, err, &lockedErr)
	assert.Equal(t, time.January, lockedErr.Period.Month)

	// AND: Moving within an open period works
	newDate = day(2024, time.March, 1)
	moved, err := svc.UpdateTransaction(ctx, feb.ID, commission.Patch{Date: &newDate}, alice)
	require.NoError(t, err)
	assert.Equal(t, newDate, moved.Date)
}

func TestUpdateTransaction_CannotCrossFiscalYear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tx := createTx(t, svc, day(2024, time.March, 31), "100")

	newDate := day(2024, time.April, 1)
	_, err := svc.UpdateTransaction(ctx, tx.ID, commission.Patch{Date: &newDate}, alice)

	require.ErrorIs(t, err, commission.ErrInvalidInput)
	var inErr *commission.InputError
	require.ErrorAs(t, err, &inErr)
	assert.Equal(t, "date", inErr.Field)
}

func TestUpdateTransaction_InvalidPatch(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tx := createTx(t, svc, day(2024, time.June, 10), "100")

	_, err := svc.UpdateTransaction(ctx, tx.ID, commission.Patch{TotalReceived: decPtr("-5")}, alice)
	assert.ErrorIs(t, err, commission.ErrInvalidInput)

	mode := commission.PaymentMode("card")
	_, err = svc.UpdateTransaction(ctx, tx.ID, commission.Patch{PaymentMode: &mode}, alice)
	assert.ErrorIs(t, err, commission.ErrInvalidInput)

	_, err = svc.UpdateTransaction(ctx, "missing", commission.Patch{}, alice)
	assert.ErrorIs(t, err, commission.ErrNotFound)

	stored, err := svc.GetTransaction(ctx, tx.ID)
	require.NoError(t, err)
	assertMoney(t, "100.00", stored.TotalReceived, "total")
}

// =============================================================================
// DELETE
// =============================================================================

func TestDeleteTransaction(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	tx := createTx(t, svc, day(2024, time.June, 10), "100")

	require.NoError(t, svc.DeleteTransaction(ctx, tx.ID, alice))

	_, err := svc.GetTransaction(ctx, tx.ID)
	assert.ErrorIs(t, err, commission.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteTransaction(ctx, tx.ID, alice), commission.ErrNotFound)

	entries, err := st.QueryAudit(ctx, commission.AuditFilter{Actions: []commission.AuditAction{commission.AuditTransactionDeleted}})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	details := entries[0].Details.(commission.TransactionDeletedDetails)
	assert.Equal(t, tx.InvoiceNumber, details.InvoiceNumber)
	assertMoney(t, "100.00", details.Amounts.TotalReceived, "total")

	// Deleted numbers are never reissued
	next := createTx(t, svc, day(2024, time.June, 11), "100")
	assert.Equal(t, "INV-FY24-00002", next.InvoiceNumber)
}

func TestDeleteTransaction_LockedPeriod(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	tx := createTx(t, svc, day(2024, time.January, 15), "100")
	_, err := svc.LockPeriod(ctx, period(t, 1, 2024), admin, commission.LockOptions{})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		assert.ErrorIs(t, svc.DeleteTransaction(ctx, tx.ID, alice), commission.ErrFilingLocked)
	}
	_, err = svc.GetTransaction(ctx, tx.ID)
	assert.NoError(t, err)

	// WHEN: The period is reopened
	_, err = svc.UnlockPeriod(ctx, period(t, 1, 2024), admin)
	require.NoError(t, err)

	// THEN: The delete goes through
	assert.NoError(t, svc.DeleteTransaction(ctx, tx.ID, alice))
}

// =============================================================================
// READS
// =============================================================================

func TestListTransactions_Filters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	createTx(t, svc, day(2024, time.March, 30), "100")
	createTx(t, svc, day(2024, time.April, 2), "200")
	createTx(t, svc, day(2024, time.April, 1), "300")
	bob := commission.Actor{ID: "bob", Role: commission.RoleUser}
	_, err := svc.CreateTransaction(ctx, commission.CreateInput{Date: day(2024, time.May, 1), TotalReceived: dec("400")}, bob)
	require.NoError(t, err)

	all, err := svc.ListTransactions(ctx, commission.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, day(2024, time.March, 30), all[0].Date)
	assert.Equal(t, day(2024, time.April, 1), all[1].Date)

	fy24, err := svc.ListTransactions(ctx, commission.TransactionFilter{FiscalYear: "FY24"})
	require.NoError(t, err)
	assert.Len(t, fy24, 3)

	from, to := day(2024, time.April, 1), day(2024, time.April, 30)
	april, err := svc.ListTransactions(ctx, commission.TransactionFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, april, 2)

	byBob, err := svc.ListTransactions(ctx, commission.TransactionFilter{CreatedBy: "bob"})
	require.NoError(t, err)
	require.Len(t, byBob, 1)

	page, err := svc.ListTransactions(ctx, commission.TransactionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, all[1].ID, page[0].ID)

	byNumber, err := svc.ListTransactions(ctx, commission.TransactionFilter{InvoiceNumber: "INV-FY23-00001"})
	require.NoError(t, err)
	require.Len(t, byNumber, 1)
	assert.Equal(t, day(2024, time.March, 30), byNumber[0].Date)
}

func TestPreview_UsesConfiguredRates(t *testing.T) {
	svc, st := newTestService(t)

	b, err := svc.Preview(dec("10000"), nil)
	require.NoError(t, err)
	assertMoney(t, "100.00", b.CommissionAmount, "commission")

	b, err = svc.Preview(dec("10000"), decPtr("2.5"))
	require.NoError(t, err)
	assertMoney(t, "250.00", b.CommissionAmount, "commission")
	assertMoney(t, "45.00", b.TaxAmount, "tax")

	_, err = svc.Preview(dec("0"), nil)
	assert.ErrorIs(t, err, commission.ErrInvalidInput)

	assert.Empty(t, auditActions(t, st, commission.AuditFilter{}))
}

// =============================================================================
// AUDIT SINK FAILURES
// =============================================================================

type failingAuditLog struct {
	calls int
}

func (f *failingAuditLog) AppendAudit(context.Context, commission.AuditEntry) error {
	f.calls++
	return assert.AnError
}

func (f *failingAuditLog) QueryAudit(context.Context, commission.AuditFilter) ([]commission.AuditEntry, error) {
	return nil, nil
}

func TestAuditFailureDoesNotFailTheOperation(t *testing.T) {
	st := store.NewTxMemory()
	sink := &failingAuditLog{}
	svc, err := commission.NewService(st, sink, commission.Config{Rates: commission.DefaultRates()}, zerolog.Nop())
	require.NoError(t, err)

	tx := createTx(t, svc, day(2024, time.June, 10), "100")

	assert.NotEmpty(t, tx.InvoiceNumber)
	assert.Equal(t, 1, sink.calls)
}

func TestQueryAudit_LimitKeepsMostRecent(t *testing.T) {
	// GIVEN: three creates, one second apart
	// WHEN: Asking for the last two audit entries
	// THEN: The newest two come back, oldest first

	svc, st := newTestService(t)
	createTx(t, svc, day(2024, time.June, 10), "100")
	second := createTx(t, svc, day(2024, time.June, 11), "200")
	third := createTx(t, svc, day(2024, time.June, 12), "300")

	entries, err := st.QueryAudit(context.Background(), commission.AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, second.ID, entries[0].EntityID)
	assert.Equal(t, third.ID, entries[1].EntityID)
}
