/*
validation.go - Invariant re-checks on derived amounts

PURPOSE:
  The calculation rule is re-derived independently here. Writes are gated by
  ValidateCalculation; reports and exports are gated by ValidateBatch. A
  failure is never auto-corrected.

BATCH RULES (per transaction):
  error:   commission_amount must be > 0
  error:   tax_amount     ~ commission_amount * tax_rate_percent / 100
           (the rate recorded on the row, not the configured one)
  error:   net_income     ~ commission_amount - tax_amount
  error:   return_amount  ~ total_received - commission_amount
  warning: total_received ~ commission_amount (suspicious, not wrong)

  "~" means within Tolerance (0.01).
*/
package commission

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ValidateCalculation re-checks net income and return amount against the
// supplied commission and tax, and checks commission + return = total.
func ValidateCalculation(totalReceived decimal.Decimal, b Breakdown) error {
	expectedNet := Round2(b.CommissionAmount.Sub(b.TaxAmount))
	if !approxEqual(expectedNet, b.NetIncome) {
		return &MismatchError{Field: "net_income", Expected: expectedNet.StringFixed(2), Actual: b.NetIncome.StringFixed(2)}
	}
	expectedReturn := Round2(totalReceived.Sub(b.CommissionAmount))
	if !approxEqual(expectedReturn, b.ReturnAmount) {
		return &MismatchError{Field: "return_amount", Expected: expectedReturn.StringFixed(2), Actual: b.ReturnAmount.StringFixed(2)}
	}
	if sum := b.CommissionAmount.Add(b.ReturnAmount); !approxEqual(sum, totalReceived) {
		return &MismatchError{Field: "total_received", Expected: totalReceived.StringFixed(2), Actual: sum.StringFixed(2)}
	}
	return nil
}

// =============================================================================
// BATCH VALIDATION
// =============================================================================

// ComplianceIssue is one field-level finding on one transaction.
type ComplianceIssue struct {
	TransactionID string `json:"transaction_id"`
	InvoiceNumber string `json:"invoice_number,omitempty"`
	Field         string `json:"field"`
	Expected      string `json:"expected,omitempty"`
	Actual        string `json:"actual"`
	Message       string `json:"message"`
}

func (i ComplianceIssue) String() string {
	return fmt.Sprintf("%s %s: %s", i.TransactionID, i.Field, i.Message)
}

// ComplianceResult is the outcome of ValidateBatch.
type ComplianceResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ComplianceIssue `json:"errors"`
	Warnings []ComplianceIssue `json:"warnings"`
}

// Err returns a *ComplianceError when the batch is invalid, nil otherwise.
func (r ComplianceResult) Err() error {
	if r.IsValid {
		return nil
	}
	return &ComplianceError{Issues: r.Errors}
}

// Validator checks stored transactions against the tax rate each one was
// recorded at.
type Validator struct{}

// ValidateBatch must pass before any tax figure leaves the system.
func (v Validator) ValidateBatch(txs []Transaction) ComplianceResult {
	res := ComplianceResult{Errors: []ComplianceIssue{}, Warnings: []ComplianceIssue{}}

	for _, tx := range txs {
		issue := func(field, expected string, actual decimal.Decimal, msg string) ComplianceIssue {
			return ComplianceIssue{
				TransactionID: tx.ID,
				InvoiceNumber: tx.InvoiceNumber,
				Field:         field,
				Expected:      expected,
				Actual:        actual.StringFixed(2),
				Message:       msg,
			}
		}

		if !tx.CommissionAmount.IsPositive() {
			res.Errors = append(res.Errors, issue("commission_amount", "> 0.00", tx.CommissionAmount,
				"commission amount must be greater than 0"))
		}

		expectedTax := Round2(tx.CommissionAmount.Mul(tx.TaxRatePercent).Div(hundred))
		if !approxEqual(expectedTax, tx.TaxAmount) {
			res.Errors = append(res.Errors, issue("tax_amount", expectedTax.StringFixed(2), tx.TaxAmount,
				fmt.Sprintf("tax must be %s%% of the commission", tx.TaxRatePercent.String())))
		}

		expectedNet := Round2(tx.CommissionAmount.Sub(tx.TaxAmount))
		if !approxEqual(expectedNet, tx.NetIncome) {
			res.Errors = append(res.Errors, issue("net_income", expectedNet.StringFixed(2), tx.NetIncome,
				"net income must equal commission minus tax"))
		}

		expectedReturn := Round2(tx.TotalReceived.Sub(tx.CommissionAmount))
		if !approxEqual(expectedReturn, tx.ReturnAmount) {
			res.Errors = append(res.Errors, issue("return_amount", expectedReturn.StringFixed(2), tx.ReturnAmount,
				"return amount must equal total received minus commission"))
		}

		if approxEqual(tx.TotalReceived, tx.CommissionAmount) {
			res.Warnings = append(res.Warnings, issue("total_received", "", tx.TotalReceived,
				"total received equals the commission; the total may have been entered as revenue"))
		}
	}

	res.IsValid = len(res.Errors) == 0
	return res
}
