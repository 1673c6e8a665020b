package valuation

import (
	"math"
	"sort"

	"dcf_valuation/pkg/core/errs"
)

// EquityProxyRevenueMultiple sizes the rough equity value used by the last
// WACC fallback (no target structure, no explicit WACC): E ≈ Revenue_0 × multiple.
const EquityProxyRevenueMultiple = 2.0

// DistributionSpec describes the probability distribution of one Monte Carlo variable.
// Which shape fields are required depends on Kind.
type DistributionSpec struct {
	Kind string `json:"kind" yaml:"kind"` // normal, uniform, lognormal, triangular

	// normal / lognormal
	Mean float64 `json:"mean,omitempty" yaml:"mean,omitempty"`
	Std  float64 `json:"std,omitempty" yaml:"std,omitempty"`

	// uniform
	Low  float64 `json:"low,omitempty" yaml:"low,omitempty"`
	High float64 `json:"high,omitempty" yaml:"high,omitempty"`

	// triangular
	Min  float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Mode float64 `json:"mode,omitempty" yaml:"mode,omitempty"`
	Max  float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// PeerRow is one comparable company: column name -> value.
// Multiple columns are named "<Numerator>/<Denominator>", e.g. "EV/EBITDA".
type PeerRow map[string]interface{}

// Parameters is the configuration record passed through every component.
// Build one per valuation request; batch components work on Clone()s.
type Parameters struct {
	// Forecast series (one entry per forecast period)
	Revenue                  []float64 `json:"revenue,omitempty"`
	RevenueGrowthRates       []float64 `json:"revenue_growth_rates,omitempty"`
	CapitalExpenditure       []float64 `json:"capital_expenditure,omitempty"`
	Depreciation             []float64 `json:"depreciation,omitempty"`
	NetWorkingCapitalChanges []float64 `json:"net_working_capital_changes,omitempty"`
	Amortization             []float64 `json:"amortization,omitempty"`
	OtherNonCashItems        []float64 `json:"other_non_cash_items,omitempty"`
	OtherWorkingCapitalItems []float64 `json:"other_working_capital_items,omitempty"`

	// Scalar assumptions
	EBITMargin                   float64  `json:"ebit_margin"`
	CorporateTaxRate             float64  `json:"corporate_tax_rate"`
	TerminalGrowthRate           float64  `json:"terminal_growth_rate"`
	WeightedAverageCostOfCapital *float64 `json:"weighted_average_cost_of_capital,omitempty"`
	CostOfDebt                   float64  `json:"cost_of_debt"`
	SharesOutstanding            float64  `json:"shares_outstanding"`
	UseMidYearConvention         bool     `json:"use_mid_year_convention"`

	// Capital structure
	DebtSchedule           map[int]float64 `json:"debt_schedule,omitempty"`
	CashAndEquivalents     float64         `json:"cash_and_equivalents"`
	RiskFreeRate           float64         `json:"risk_free_rate"`
	EquityRiskPremium      float64         `json:"equity_risk_premium"`
	LeveredBeta            float64         `json:"levered_beta"`
	UnleveredBeta          float64         `json:"unlevered_beta"`
	TargetDebtToValueRatio *float64        `json:"target_debt_to_value_ratio,omitempty"`
	UnleveredCostOfEquity  *float64        `json:"unlevered_cost_of_equity,omitempty"`

	// Direct override, bypasses the driver projector
	FreeCashFlowSeries []float64 `json:"free_cash_flow_series,omitempty"`

	// Analysis configuration
	ComparableMultiplesData    []PeerRow                         `json:"comparable_multiples_data,omitempty"`
	ScenarioDefinitions        map[string]map[string]interface{} `json:"scenario_definitions,omitempty"`
	SensitivityParameterRanges map[string][]float64              `json:"sensitivity_parameter_ranges,omitempty"`
	MonteCarloVariableSpecs    map[string]DistributionSpec       `json:"monte_carlo_variable_specs,omitempty"`
}

// Float returns a pointer to v, for the optional scalar fields
func Float(v float64) *float64 { return &v }

// Clone returns a fully independent deep copy
func (p *Parameters) Clone() *Parameters {
	if p == nil {
		return nil
	}
	c := *p

	c.Revenue = cloneSeries(p.Revenue)
	c.RevenueGrowthRates = cloneSeries(p.RevenueGrowthRates)
	c.CapitalExpenditure = cloneSeries(p.CapitalExpenditure)
	c.Depreciation = cloneSeries(p.Depreciation)
	c.NetWorkingCapitalChanges = cloneSeries(p.NetWorkingCapitalChanges)
	c.Amortization = cloneSeries(p.Amortization)
	c.OtherNonCashItems = cloneSeries(p.OtherNonCashItems)
	c.OtherWorkingCapitalItems = cloneSeries(p.OtherWorkingCapitalItems)
	c.FreeCashFlowSeries = cloneSeries(p.FreeCashFlowSeries)

	c.WeightedAverageCostOfCapital = clonePtr(p.WeightedAverageCostOfCapital)
	c.TargetDebtToValueRatio = clonePtr(p.TargetDebtToValueRatio)
	c.UnleveredCostOfEquity = clonePtr(p.UnleveredCostOfEquity)

	if p.DebtSchedule != nil {
		c.DebtSchedule = make(map[int]float64, len(p.DebtSchedule))
		for k, v := range p.DebtSchedule {
			c.DebtSchedule[k] = v
		}
	}
	if p.ComparableMultiplesData != nil {
		c.ComparableMultiplesData = make([]PeerRow, len(p.ComparableMultiplesData))
		for i, row := range p.ComparableMultiplesData {
			r := make(PeerRow, len(row))
			for k, v := range row {
				r[k] = v
			}
			c.ComparableMultiplesData[i] = r
		}
	}
	if p.ScenarioDefinitions != nil {
		c.ScenarioDefinitions = make(map[string]map[string]interface{}, len(p.ScenarioDefinitions))
		for name, overrides := range p.ScenarioDefinitions {
			o := make(map[string]interface{}, len(overrides))
			for k, v := range overrides {
				o[k] = cloneValue(v)
			}
			c.ScenarioDefinitions[name] = o
		}
	}
	if p.SensitivityParameterRanges != nil {
		c.SensitivityParameterRanges = make(map[string][]float64, len(p.SensitivityParameterRanges))
		for k, v := range p.SensitivityParameterRanges {
			c.SensitivityParameterRanges[k] = cloneSeries(v)
		}
	}
	if p.MonteCarloVariableSpecs != nil {
		c.MonteCarloVariableSpecs = make(map[string]DistributionSpec, len(p.MonteCarloVariableSpecs))
		for k, v := range p.MonteCarloVariableSpecs {
			c.MonteCarloVariableSpecs[k] = v
		}
	}
	return &c
}

// Validate checks the record invariants that do not depend on a resolved
// discount rate. The terminal growth guard is applied by each valuation
// method against the rate it actually discounts at.
func (p *Parameters) Validate() error {
	if p == nil {
		return errs.Invalid("parameters", "record is nil")
	}

	// Co-required forecast series share the horizon
	horizon := 0
	horizonField := ""
	for _, s := range p.forecastSeries() {
		if len(s.values) == 0 {
			continue
		}
		if horizon == 0 {
			horizon, horizonField = len(s.values), s.name
			continue
		}
		if len(s.values) != horizon {
			return errs.Invalid(s.name, "length %d does not match %s length %d", len(s.values), horizonField, horizon)
		}
	}
	if p.FreeCashFlowSeries != nil && len(p.FreeCashFlowSeries) == 0 {
		return errs.Invalid("free_cash_flow_series", "override is present but empty")
	}
	if n := len(p.FreeCashFlowSeries); n > 0 && horizon > 0 && n != horizon {
		return errs.Invalid("free_cash_flow_series", "length %d does not match %s length %d", n, horizonField, horizon)
	}

	for _, s := range append(p.forecastSeries(),
		namedSeries{"revenue_growth_rates", p.RevenueGrowthRates},
		namedSeries{"free_cash_flow_series", p.FreeCashFlowSeries}) {
		for i, v := range s.values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errs.Invalid(s.name, "value[%d] is not finite", i)
			}
		}
	}

	if err := inRange("ebit_margin", p.EBITMargin, 0, 1); err != nil {
		return err
	}
	if err := inRange("corporate_tax_rate", p.CorporateTaxRate, 0, 1); err != nil {
		return err
	}
	if math.IsNaN(p.TerminalGrowthRate) || math.IsInf(p.TerminalGrowthRate, 0) {
		return errs.Invalid("terminal_growth_rate", "value is not finite")
	}
	if p.WeightedAverageCostOfCapital != nil && !(*p.WeightedAverageCostOfCapital > 0) {
		return errs.Invalid("weighted_average_cost_of_capital", "%g must be > 0", *p.WeightedAverageCostOfCapital)
	}
	if p.TargetDebtToValueRatio != nil {
		if err := inRange("target_debt_to_value_ratio", *p.TargetDebtToValueRatio, 0, 1); err != nil {
			return err
		}
	}
	if p.UnleveredCostOfEquity != nil && !(*p.UnleveredCostOfEquity > 0) {
		return errs.Invalid("unlevered_cost_of_equity", "%g must be > 0", *p.UnleveredCostOfEquity)
	}

	nonNegative := []struct {
		name string
		v    float64
	}{
		{"cost_of_debt", p.CostOfDebt},
		{"shares_outstanding", p.SharesOutstanding},
		{"cash_and_equivalents", p.CashAndEquivalents},
		{"risk_free_rate", p.RiskFreeRate},
		{"equity_risk_premium", p.EquityRiskPremium},
		{"levered_beta", p.LeveredBeta},
		{"unlevered_beta", p.UnleveredBeta},
	}
	for _, f := range nonNegative {
		if !(f.v >= 0) || math.IsInf(f.v, 0) {
			return errs.Invalid(f.name, "%g must be a finite value >= 0", f.v)
		}
	}

	for year, debt := range p.DebtSchedule {
		if year < 0 {
			return errs.Invalid("debt_schedule", "year index %d is negative", year)
		}
		if !(debt >= 0) || math.IsInf(debt, 0) {
			return errs.Invalid("debt_schedule", "debt %g for year %d must be a finite value >= 0", debt, year)
		}
	}
	return nil
}

// Horizon returns the number of forecast periods implied by the record
func (p *Parameters) Horizon() int {
	if len(p.FreeCashFlowSeries) > 0 {
		return len(p.FreeCashFlowSeries)
	}
	for _, s := range p.forecastSeries() {
		if len(s.values) > 0 {
			return len(s.values)
		}
	}
	return 0
}

// DebtAt returns scheduled debt for a forecast year (0 when unset)
func (p *Parameters) DebtAt(year int) float64 {
	return p.DebtSchedule[year]
}

// DebtYears returns the scheduled years in ascending order
func (p *Parameters) DebtYears() []int {
	years := make([]int, 0, len(p.DebtSchedule))
	for y := range p.DebtSchedule {
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

type namedSeries struct {
	name   string
	values []float64
}

func (p *Parameters) forecastSeries() []namedSeries {
	return []namedSeries{
		{"revenue", p.Revenue},
		{"capital_expenditure", p.CapitalExpenditure},
		{"depreciation", p.Depreciation},
		{"net_working_capital_changes", p.NetWorkingCapitalChanges},
		{"amortization", p.Amortization},
		{"other_non_cash_items", p.OtherNonCashItems},
		{"other_working_capital_items", p.OtherWorkingCapitalItems},
	}
}

func inRange(field string, v, lo, hi float64) error {
	if !(v >= lo && v <= hi) {
		return errs.Invalid(field, "%g is outside [%g, %g]", v, lo, hi)
	}
	return nil
}

func cloneSeries(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case []float64:
		return cloneSeries(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		copy(out, t)
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, x := range t {
			out[k] = cloneValue(x)
		}
		return out
	case map[int]float64:
		out := make(map[int]float64, len(t))
		for k, x := range t {
			out[k] = x
		}
		return out
	default:
		return v
	}
}
