package commission_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/qrbooks/commission-engine/commission"
	"github.com/qrbooks/commission-engine/commission/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatInvoiceNumber(t *testing.T) {
	assert.Equal(t, "INV-FY24-00001", commission.FormatInvoiceNumber("INV", "FY24", 1))
	assert.Equal(t, "QR-FY23-12345", commission.FormatInvoiceNumber("QR", "FY23", 12345))
	assert.Equal(t, "INV-FY24-123456", commission.FormatInvoiceNumber("INV", "FY24", 123456))
}

func TestParseInvoiceNumber(t *testing.T) {
	prefix, fy, seq, err := commission.ParseInvoiceNumber("INV-FY24-00042")
	require.NoError(t, err)
	assert.Equal(t, "INV", prefix)
	assert.Equal(t, commission.FiscalYear("FY24"), fy)
	assert.Equal(t, int64(42), seq)

	for _, bad := range []string{"", "INV-24-00001", "INV-FY24-1", "inv-FY24-00001", "INV-FY24-00000"} {
		_, _, _, err := commission.ParseInvoiceNumber(bad)
		assert.ErrorIs(t, err, commission.ErrInvalidInput, bad)
	}
}

func TestValidatePrefix(t *testing.T) {
	for _, ok := range []string{"INV", "Q", "QR2024"} {
		assert.NoError(t, commission.ValidatePrefix(ok), ok)
	}
	for _, bad := range []string{"", "inv", "1INV", "INV-X", "ABCDEFGHIJK"} {
		assert.ErrorIs(t, commission.ValidatePrefix(bad), commission.ErrInvalidInput, bad)
	}
}

func TestInvoiceNumberer_PerFiscalYear(t *testing.T) {
	// GIVEN: One counter store and two fiscal years
	st := store.NewMemory()
	n := commission.InvoiceNumberer{Prefix: "INV"}
	ctx := context.Background()

	// WHEN: Allocating around the April boundary
	a, fyA, err := n.Next(ctx, st, day(2024, time.March, 31))
	require.NoError(t, err)
	b, fyB, err := n.Next(ctx, st, day(2024, time.April, 1))
	require.NoError(t, err)
	c, _, err := n.Next(ctx, st, day(2024, time.April, 2))
	require.NoError(t, err)

	// THEN: Each fiscal year starts at 1
	assert.Equal(t, "INV-FY23-00001", a)
	assert.Equal(t, commission.FiscalYear("FY23"), fyA)
	assert.Equal(t, "INV-FY24-00001", b)
	assert.Equal(t, commission.FiscalYear("FY24"), fyB)
	assert.Equal(t, "INV-FY24-00002", c)

	seq, ok := st.Sequence("FY24")
	require.True(t, ok)
	assert.Equal(t, int64(2), seq.LastSequenceNumber)
	assert.Equal(t, "INV", seq.Prefix)
}

func TestInvoiceNumberer_ConcurrentAllocationsAreUnique(t *testing.T) {
	// GIVEN: 100 goroutines allocating in the same fiscal year
	st := store.NewMemory()
	n := commission.InvoiceNumberer{Prefix: "INV"}
	const workers = 100

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = make(map[string]bool, workers)
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num, _, err := n.Next(context.Background(), st, day(2024, time.June, 1))
			assert.NoError(t, err)
			mu.Lock()
			numbers[num] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	// THEN: Every number is distinct and the range is contiguous
	assert.Len(t, numbers, workers)
	for i := int64(1); i <= workers; i++ {
		assert.True(t, numbers[commission.FormatInvoiceNumber("INV", "FY24", i)], "missing %d", i)
	}
}
