package projection

import (
	"dcf_valuation/pkg/core/errs"
)

// FCFInputs holds the driver series for a free cash flow projection.
// Optional series may be nil and are treated as all-zero.
type FCFInputs struct {
	Revenue                  []float64
	EBIT                     []float64
	CapitalExpenditure       []float64
	Depreciation             []float64
	NetWorkingCapitalChanges []float64
	TaxRate                  float64

	// Optional
	Amortization             []float64
	OtherNonCashItems        []float64
	OtherWorkingCapitalItems []float64
}

// ProjectRevenue applies growth rates to a revenue base.
//
// Two modes, chosen by length:
//   - len(rates) == len(base):   Rev_i = Base_i × (1 + g_i)
//   - len(rates) == len(base)-1: Rev_0 = Base_0, Rev_i = Rev_{i-1} × (1 + g_{i-1})
//
// Any other combination is an error, as is a rate below -100%.
func ProjectRevenue(base, rates []float64) ([]float64, error) {
	if len(base) == 0 {
		return nil, errs.Invalid("revenue", "base revenue series is empty")
	}
	for i, g := range rates {
		if g < -1 {
			return nil, errs.Invalid("revenue_growth_rates", "rate[%d]=%g is below -1 and would produce negative revenue", i, g)
		}
	}

	out := make([]float64, len(base))
	switch len(rates) {
	case len(base):
		for i := range base {
			out[i] = base[i] * (1 + rates[i])
		}
	case len(base) - 1:
		out[0] = base[0]
		for i := 1; i < len(base); i++ {
			out[i] = out[i-1] * (1 + rates[i-1])
		}
	default:
		return nil, errs.Invalid("revenue_growth_rates",
			"got %d rates for %d base periods (want %d or %d)", len(rates), len(base), len(base), len(base)-1)
	}
	return out, nil
}

// ProjectEBIT computes EBIT_i = Revenue_i × margin
func ProjectEBIT(revenue []float64, margin float64) ([]float64, error) {
	if len(revenue) == 0 {
		return nil, errs.Invalid("revenue", "series is empty")
	}
	if margin < 0 || margin > 1 {
		return nil, errs.Invalid("ebit_margin", "%g is outside [0, 1]", margin)
	}
	out := make([]float64, len(revenue))
	for i, r := range revenue {
		out[i] = r * margin
	}
	return out, nil
}

// ProjectFreeCashFlow derives unlevered free cash flow per period.
//
// FORMULA: FCF = EBIT × (1 - T) + D + A + OtherNonCash - CapEx - ΔNWC - OtherWC
func ProjectFreeCashFlow(in FCFInputs) ([]float64, error) {
	if in.TaxRate < 0 || in.TaxRate > 1 {
		return nil, errs.Invalid("corporate_tax_rate", "%g is outside [0, 1]", in.TaxRate)
	}

	required := []struct {
		name   string
		series []float64
	}{
		{"revenue", in.Revenue},
		{"ebit", in.EBIT},
		{"capital_expenditure", in.CapitalExpenditure},
		{"depreciation", in.Depreciation},
		{"net_working_capital_changes", in.NetWorkingCapitalChanges},
	}
	n := len(in.EBIT)
	for _, r := range required {
		if len(r.series) == 0 {
			return nil, errs.Invalid(r.name, "required series is missing or empty")
		}
		if len(r.series) != n {
			return nil, errs.Invalid(r.name, "length %d does not match horizon %d", len(r.series), n)
		}
	}

	amort, err := optionalSeries("amortization", in.Amortization, n)
	if err != nil {
		return nil, err
	}
	otherNonCash, err := optionalSeries("other_non_cash_items", in.OtherNonCashItems, n)
	if err != nil {
		return nil, err
	}
	otherWC, err := optionalSeries("other_working_capital_items", in.OtherWorkingCapitalItems, n)
	if err != nil {
		return nil, err
	}

	fcf := make([]float64, n)
	for i := 0; i < n; i++ {
		fcf[i] = NOPAT(in.EBIT[i], in.TaxRate) +
			in.Depreciation[i] + amort[i] + otherNonCash[i] -
			in.CapitalExpenditure[i] - in.NetWorkingCapitalChanges[i] - otherWC[i]
	}
	return fcf, nil
}

// NOPAT = EBIT × (1 - T)
func NOPAT(ebit, taxRate float64) float64 {
	return ebit * (1 - taxRate)
}

// EBITDA = EBIT + D + A for a single period
func EBITDA(ebit, depreciation, amortization float64) float64 {
	return ebit + depreciation + amortization
}

func optionalSeries(name string, s []float64, n int) ([]float64, error) {
	if len(s) == 0 {
		return make([]float64, n), nil
	}
	if len(s) != n {
		return nil, errs.Invalid(name, "length %d does not match horizon %d", len(s), n)
	}
	return s, nil
}
