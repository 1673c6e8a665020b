package valuation

import (
	"math"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/projection"
)

// Financials is the projected operating series a valuation runs on
type Financials struct {
	Revenue      []float64 `json:"revenue,omitempty"`
	EBIT         []float64 `json:"ebit,omitempty"`
	Depreciation []float64 `json:"depreciation,omitempty"`
	Amortization []float64 `json:"amortization,omitempty"`
	FreeCashFlow []float64 `json:"free_cash_flow"`
	FromOverride bool      `json:"from_override"`
}

// NetDebt shows how the debt deducted from enterprise value was chosen
type NetDebt struct {
	GrossDebt float64 `json:"gross_debt"`
	DebtYear  int     `json:"debt_year"`
	Cash      float64 `json:"cash"`
	NetDebt   float64 `json:"net_debt"`
}

// DCFResult holds the WACC-method valuation outputs
type DCFResult struct {
	EnterpriseValue         float64    `json:"enterprise_value"`
	EquityValue             float64    `json:"equity_value"`
	PricePerShare           *float64   `json:"price_per_share"`
	FreeCashFlows           []float64  `json:"free_cash_flows"`
	DiscountedFreeCashFlows []float64  `json:"discounted_free_cash_flows"`
	PVFreeCashFlows         float64    `json:"pv_free_cash_flows"`
	TerminalValue           float64    `json:"terminal_value"`
	DiscountedTerminalValue float64    `json:"discounted_terminal_value"`
	ImpliedExitMultiple     *float64   `json:"implied_exit_multiple,omitempty"` // TV / EBITDA (terminal year)
	MidYearConvention       bool       `json:"mid_year_convention"`
	WACC                    WACCResult `json:"wacc"`
	NetDebt                 NetDebt    `json:"net_debt"`
}

// CalculateDCF values the firm by discounting unlevered FCF at the resolved WACC.
//
//	EV     = Σ FCF_i / (1+WACC)^t_i + TV / (1+WACC)^t_N
//	Equity = EV - NetDebt
//	Price  = Equity / Shares
func CalculateDCF(p *Parameters) (*DCFResult, error) {
	wacc, err := ResolveWACC(p)
	if err != nil {
		return nil, err
	}
	if err := checkGrowth(p.TerminalGrowthRate, wacc.WACC, "WACC"); err != nil {
		return nil, err
	}

	fin, err := ProjectFinancials(p)
	if err != nil {
		return nil, err
	}
	n := len(fin.FreeCashFlow)
	if err := checkDebtYears(p, n); err != nil {
		return nil, err
	}

	d, err := discountCashFlows(fin.FreeCashFlow, wacc.WACC, p.TerminalGrowthRate, p.UseMidYearConvention)
	if err != nil {
		return nil, err
	}

	nd := ResolveNetDebt(p, n)
	equity := d.ev - nd.NetDebt
	if err := checkFinite("enterprise_value", d.ev); err != nil {
		return nil, err
	}

	res := &DCFResult{
		EnterpriseValue:         d.ev,
		EquityValue:             equity,
		PricePerShare:           PricePerShare(equity, p.SharesOutstanding),
		FreeCashFlows:           fin.FreeCashFlow,
		DiscountedFreeCashFlows: d.pv,
		PVFreeCashFlows:         d.sumPV,
		TerminalValue:           d.tv,
		DiscountedTerminalValue: d.pvTV,
		MidYearConvention:       p.UseMidYearConvention,
		WACC:                    *wacc,
		NetDebt:                 nd,
	}
	if ebitda, ok := fin.TerminalEBITDA(); ok && ebitda != 0 {
		res.ImpliedExitMultiple = Float(d.tv / ebitda)
	}
	return res, nil
}

// ProjectFinancials returns the FCF series the valuation discounts, either the
// free_cash_flow_series override or the Driver Projector's output. Revenue and
// EBIT are projected whenever revenue is available so multiples can use them.
func ProjectFinancials(p *Parameters) (*Financials, error) {
	fin, err := projectOperating(p)
	if err != nil {
		return nil, err
	}

	if len(p.FreeCashFlowSeries) > 0 {
		if fin.Revenue != nil && len(fin.Revenue) != len(p.FreeCashFlowSeries) {
			return nil, errs.Invalid("free_cash_flow_series", "length %d does not match revenue length %d",
				len(p.FreeCashFlowSeries), len(fin.Revenue))
		}
		fin.FreeCashFlow = cloneSeries(p.FreeCashFlowSeries)
		fin.FromOverride = true
		return fin, nil
	}
	if p.FreeCashFlowSeries != nil {
		return nil, errs.Invalid("free_cash_flow_series", "override is present but empty")
	}
	if fin.Revenue == nil {
		return nil, errs.Invalid("revenue", "required when free_cash_flow_series is not supplied")
	}

	fcf, err := projection.ProjectFreeCashFlow(projection.FCFInputs{
		Revenue:                  fin.Revenue,
		EBIT:                     fin.EBIT,
		CapitalExpenditure:       p.CapitalExpenditure,
		Depreciation:             p.Depreciation,
		NetWorkingCapitalChanges: p.NetWorkingCapitalChanges,
		TaxRate:                  p.CorporateTaxRate,
		Amortization:             p.Amortization,
		OtherNonCashItems:        p.OtherNonCashItems,
		OtherWorkingCapitalItems: p.OtherWorkingCapitalItems,
	})
	if err != nil {
		return nil, err
	}
	fin.FreeCashFlow = fcf
	return fin, nil
}

// projectOperating projects revenue and EBIT only
func projectOperating(p *Parameters) (*Financials, error) {
	fin := &Financials{
		Depreciation: cloneSeries(p.Depreciation),
		Amortization: cloneSeries(p.Amortization),
	}
	if len(p.Revenue) == 0 {
		return fin, nil
	}
	revenue := cloneSeries(p.Revenue)
	if len(p.RevenueGrowthRates) > 0 {
		var err error
		if revenue, err = projection.ProjectRevenue(p.Revenue, p.RevenueGrowthRates); err != nil {
			return nil, err
		}
	}
	ebit, err := projection.ProjectEBIT(revenue, p.EBITMargin)
	if err != nil {
		return nil, err
	}
	fin.Revenue, fin.EBIT = revenue, ebit
	return fin, nil
}

// missingFCFDrivers is true when no override is given and a series the
// projector requires is absent
func missingFCFDrivers(p *Parameters) bool {
	if len(p.FreeCashFlowSeries) > 0 {
		return false
	}
	return len(p.CapitalExpenditure) == 0 || len(p.Depreciation) == 0 || len(p.NetWorkingCapitalChanges) == 0
}

// Horizon is the number of projected periods
func (f *Financials) Horizon() int {
	if len(f.FreeCashFlow) > 0 {
		return len(f.FreeCashFlow)
	}
	return len(f.Revenue)
}

// TerminalEBITDA is EBIT + D (+ A) for the last projected period
func (f *Financials) TerminalEBITDA() (float64, bool) {
	if len(f.EBIT) == 0 || len(f.Depreciation) != len(f.EBIT) {
		return 0, false
	}
	last := len(f.EBIT) - 1
	amort := 0.0
	if len(f.Amortization) == len(f.EBIT) {
		amort = f.Amortization[last]
	}
	return projection.EBITDA(f.EBIT[last], f.Depreciation[last], amort), true
}

// DiscountPeriod returns the exponent for a 0-indexed period:
// i+1 at year end, i+0.5 under the mid-year convention.
func DiscountPeriod(i int, midYear bool) float64 {
	if midYear {
		return float64(i) + 0.5
	}
	return float64(i) + 1
}

// PresentValue = cf / (1 + rate)^t
func PresentValue(cf, rate, t float64) float64 {
	return cf / math.Pow(1+rate, t)
}

// GordonTerminalValue capitalises the final cash flow as a growing perpetuity.
//
// FORMULA: TV = FCF_N × (1 + g) / (r - g), defined only for g < r
func GordonTerminalValue(lastFCF, growth, rate float64) (float64, error) {
	if err := checkGrowth(growth, rate, "discount rate"); err != nil {
		return 0, err
	}
	return lastFCF * (1 + growth) / (rate - growth), nil
}

// ResolveNetDebt uses debt at the terminal forecast year (N-1), falling back to
// year 0 when that entry is unset or zero, less cash and equivalents.
func ResolveNetDebt(p *Parameters, horizon int) NetDebt {
	year := horizon - 1
	if year < 0 {
		year = 0
	}
	debt := p.DebtAt(year)
	if debt == 0 {
		year = 0
		debt = p.DebtAt(0)
	}
	return NetDebt{
		GrossDebt: debt,
		DebtYear:  year,
		Cash:      p.CashAndEquivalents,
		NetDebt:   debt - p.CashAndEquivalents,
	}
}

// PricePerShare is nil when the share count is unavailable
func PricePerShare(equity, shares float64) *float64 {
	if shares <= 0 {
		return nil
	}
	return Float(equity / shares)
}

type discounted struct {
	pv    []float64
	sumPV float64
	tv    float64
	pvTV  float64
	ev    float64
}

func discountCashFlows(fcf []float64, rate, growth float64, midYear bool) (*discounted, error) {
	n := len(fcf)
	if n == 0 {
		return nil, errs.Invalid("free_cash_flow_series", "no cash flows to discount")
	}
	tv, err := GordonTerminalValue(fcf[n-1], growth, rate)
	if err != nil {
		return nil, err
	}

	d := &discounted{pv: make([]float64, n), tv: tv}
	for i, cf := range fcf {
		d.pv[i] = PresentValue(cf, rate, DiscountPeriod(i, midYear))
		d.sumPV += d.pv[i]
	}
	// Terminal value sits one period beyond the last forecast year
	d.pvTV = PresentValue(tv, rate, DiscountPeriod(n, midYear))
	d.ev = d.sumPV + d.pvTV
	return d, nil
}

func checkGrowth(growth, rate float64, rateName string) error {
	if growth >= rate {
		return errs.Calculation("terminal_growth_rate",
			"%g must be below the %s %g for the Gordon growth model", growth, rateName, rate)
	}
	return nil
}

func checkDebtYears(p *Parameters, horizon int) error {
	for year := range p.DebtSchedule {
		if year >= horizon {
			return errs.Invalid("debt_schedule", "year %d is beyond the %d-period forecast", year, horizon)
		}
	}
	return nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return errs.Calculation(field, "result is not finite (%g)", v)
	}
	return nil
}
