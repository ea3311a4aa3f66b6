package commission

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// DefaultInvoicePrefix is used when no prefix is configured.
const DefaultInvoicePrefix = "INV"

var (
	invoicePrefixPattern = regexp.MustCompile(`^[A-Z][A-Z0-9]{0,9}$`)
	invoiceNumberPattern = regexp.MustCompile(`^([A-Z][A-Z0-9]{0,9})-(FY\d{2})-(\d{5,})$`)
)

// ValidatePrefix checks an invoice prefix: upper-case alphanumerics, starting with a letter.
func ValidatePrefix(prefix string) error {
	if !invoicePrefixPattern.MatchString(prefix) {
		return &InputError{Field: "invoice_prefix", Value: prefix, Reason: "must be 1-10 upper-case alphanumerics starting with a letter"}
	}
	return nil
}

// InvoiceNumberer issues invoice numbers of the form {prefix}-{FY}-{00001}.
// Numbers are unique and increase per fiscal year. Gaps are possible only if
// a store commits the counter without the transaction that consumed it.
type InvoiceNumberer struct {
	Prefix string
}

// Next allocates the next number for the fiscal year containing date.
func (n InvoiceNumberer) Next(ctx context.Context, store SequenceStore, date time.Time) (string, FiscalYear, error) {
	fy := FiscalYearOf(date)
	seq, err := store.NextSequence(ctx, fy, n.Prefix)
	if err != nil {
		return "", "", fmt.Errorf("allocate invoice sequence for %s: %w", fy, err)
	}
	return FormatInvoiceNumber(n.Prefix, fy, seq), fy, nil
}

// FormatInvoiceNumber pads seq to five digits.
func FormatInvoiceNumber(prefix string, fy FiscalYear, seq int64) string {
	return fmt.Sprintf("%s-%s-%05d", prefix, fy, seq)
}

// ParseInvoiceNumber splits a well-formed invoice number.
func ParseInvoiceNumber(s string) (prefix string, fy FiscalYear, seq int64, err error) {
	m := invoiceNumberPattern.FindStringSubmatch(s)
	if m == nil {
		return "", "", 0, &InputError{Field: "invoice_number", Value: s, Reason: "expected format PREFIX-FYxx-00000"}
	}
	seq, err = strconv.ParseInt(m[3], 10, 64)
	if err != nil || seq < 1 {
		return "", "", 0, &InputError{Field: "invoice_number", Value: s, Reason: "sequence must be a positive integer"}
	}
	return m[1], FiscalYear(m[2]), seq, nil
}
