package commission

import (
	"github.com/shopspring/decimal"
)

// Rates are the system-wide percentages applied to new transactions.
type Rates struct {
	DefaultCommissionPercent decimal.Decimal
	TaxRatePercent           decimal.Decimal
}

// DefaultRates is 1% commission and 18% tax on the commission.
func DefaultRates() Rates {
	return Rates{
		DefaultCommissionPercent: decimal.NewFromInt(1),
		TaxRatePercent:           decimal.NewFromInt(18),
	}
}

// Validate checks both percentages are within [0,100].
func (r Rates) Validate() error {
	if err := checkPercent("commission_percent", r.DefaultCommissionPercent); err != nil {
		return err
	}
	return checkPercent("tax_rate_percent", r.TaxRatePercent)
}

// Compute derives commission, tax, net income and return amount from a total.
//
// Each step is rounded on its own, from the already rounded previous step:
//
//	commission = round2(total * commissionPercent / 100)
//	tax        = round2(commission * taxRatePercent / 100)
//	net        = round2(commission - tax)
//	return     = round2(total - commission)
//
// Tax is always levied on the commission, never on the total received.
func Compute(totalReceived, commissionPercent, taxRatePercent decimal.Decimal) (Breakdown, error) {
	if !totalReceived.IsPositive() {
		return Breakdown{}, &InputError{Field: "total_received", Value: totalReceived, Reason: "must be greater than 0"}
	}
	if err := checkPercent("commission_percent", commissionPercent); err != nil {
		return Breakdown{}, err
	}
	if err := checkPercent("tax_rate_percent", taxRatePercent); err != nil {
		return Breakdown{}, err
	}

	commission := Round2(totalReceived.Mul(commissionPercent).Div(hundred))
	tax := Round2(commission.Mul(taxRatePercent).Div(hundred))
	return Breakdown{
		CommissionAmount: commission,
		TaxAmount:        tax,
		NetIncome:        Round2(commission.Sub(tax)),
		ReturnAmount:     Round2(totalReceived.Sub(commission)),
	}, nil
}

func checkPercent(field string, p decimal.Decimal) error {
	if p.IsNegative() || p.GreaterThan(hundred) {
		return &InputError{Field: field, Value: p, Reason: "must be between 0 and 100"}
	}
	return nil
}
