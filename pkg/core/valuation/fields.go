package valuation

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"dcf_valuation/pkg/core/errs"
)

// FieldKind is the value shape an overridable field accepts
type FieldKind string

const (
	KindScalar   FieldKind = "scalar"
	KindBool     FieldKind = "bool"
	KindSeries   FieldKind = "series"
	KindSchedule FieldKind = "schedule"
)

// Field describes one overridable Parameters field
type Field struct {
	Name string
	Kind FieldKind

	setScalar   func(p *Parameters, v float64)
	getScalar   func(p *Parameters) float64
	setBool     func(p *Parameters, v bool)
	setSeries   func(p *Parameters, v []float64)
	setSchedule func(p *Parameters, v map[int]float64)
}

func scalar(name string, get func(*Parameters) float64, set func(*Parameters, float64)) Field {
	return Field{Name: name, Kind: KindScalar, getScalar: get, setScalar: set}
}

func optionalScalar(name string, ref func(*Parameters) **float64) Field {
	return Field{
		Name: name,
		Kind: KindScalar,
		getScalar: func(p *Parameters) float64 {
			if v := *ref(p); v != nil {
				return *v
			}
			return math.NaN()
		},
		setScalar: func(p *Parameters, v float64) { *ref(p) = Float(v) },
	}
}

func series(name string, ref func(*Parameters) *[]float64) Field {
	return Field{Name: name, Kind: KindSeries, setSeries: func(p *Parameters, v []float64) { *ref(p) = v }}
}

// fields is the closed set of names scenarios, sweeps and simulations may touch.
// Analysis configuration itself is deliberately absent.
var fields = map[string]Field{}

func init() {
	for _, f := range []Field{
		series("revenue", func(p *Parameters) *[]float64 { return &p.Revenue }),
		series("revenue_growth_rates", func(p *Parameters) *[]float64 { return &p.RevenueGrowthRates }),
		series("capital_expenditure", func(p *Parameters) *[]float64 { return &p.CapitalExpenditure }),
		series("depreciation", func(p *Parameters) *[]float64 { return &p.Depreciation }),
		series("net_working_capital_changes", func(p *Parameters) *[]float64 { return &p.NetWorkingCapitalChanges }),
		series("amortization", func(p *Parameters) *[]float64 { return &p.Amortization }),
		series("other_non_cash_items", func(p *Parameters) *[]float64 { return &p.OtherNonCashItems }),
		series("other_working_capital_items", func(p *Parameters) *[]float64 { return &p.OtherWorkingCapitalItems }),
		series("free_cash_flow_series", func(p *Parameters) *[]float64 { return &p.FreeCashFlowSeries }),

		scalar("ebit_margin", func(p *Parameters) float64 { return p.EBITMargin }, func(p *Parameters, v float64) { p.EBITMargin = v }),
		scalar("corporate_tax_rate", func(p *Parameters) float64 { return p.CorporateTaxRate }, func(p *Parameters, v float64) { p.CorporateTaxRate = v }),
		scalar("terminal_growth_rate", func(p *Parameters) float64 { return p.TerminalGrowthRate }, func(p *Parameters, v float64) { p.TerminalGrowthRate = v }),
		scalar("cost_of_debt", func(p *Parameters) float64 { return p.CostOfDebt }, func(p *Parameters, v float64) { p.CostOfDebt = v }),
		scalar("shares_outstanding", func(p *Parameters) float64 { return p.SharesOutstanding }, func(p *Parameters, v float64) { p.SharesOutstanding = v }),
		scalar("cash_and_equivalents", func(p *Parameters) float64 { return p.CashAndEquivalents }, func(p *Parameters, v float64) { p.CashAndEquivalents = v }),
		scalar("risk_free_rate", func(p *Parameters) float64 { return p.RiskFreeRate }, func(p *Parameters, v float64) { p.RiskFreeRate = v }),
		scalar("equity_risk_premium", func(p *Parameters) float64 { return p.EquityRiskPremium }, func(p *Parameters, v float64) { p.EquityRiskPremium = v }),
		scalar("levered_beta", func(p *Parameters) float64 { return p.LeveredBeta }, func(p *Parameters, v float64) { p.LeveredBeta = v }),
		scalar("unlevered_beta", func(p *Parameters) float64 { return p.UnleveredBeta }, func(p *Parameters, v float64) { p.UnleveredBeta = v }),
		optionalScalar("weighted_average_cost_of_capital", func(p *Parameters) **float64 { return &p.WeightedAverageCostOfCapital }),
		optionalScalar("target_debt_to_value_ratio", func(p *Parameters) **float64 { return &p.TargetDebtToValueRatio }),
		optionalScalar("unlevered_cost_of_equity", func(p *Parameters) **float64 { return &p.UnleveredCostOfEquity }),

		{Name: "use_mid_year_convention", Kind: KindBool, setBool: func(p *Parameters, v bool) { p.UseMidYearConvention = v }},
		{Name: "debt_schedule", Kind: KindSchedule, setSchedule: func(p *Parameters, v map[int]float64) { p.DebtSchedule = v }},
	} {
		fields[f.Name] = f
	}
}

// LookupField returns the registry entry for name
func LookupField(name string) (Field, bool) {
	f, ok := fields[name]
	return f, ok
}

// FieldNames lists every overridable field, sorted
func FieldNames() []string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ScalarField returns the registry entry for a numeric scalar field, or a
// ConfigurationInvalid error naming the offending key.
func ScalarField(name string) (Field, error) {
	f, ok := fields[name]
	if !ok {
		return Field{}, errs.Configuration(name, "not a valuation parameter")
	}
	if f.Kind != KindScalar {
		return Field{}, errs.Configuration(name, "is a %s field; only numeric scalar fields can be varied", f.Kind)
	}
	return f, nil
}

// SetScalar sets a numeric scalar field on p
func (f Field) SetScalar(p *Parameters, v float64) {
	f.setScalar(p, v)
}

// Scalar reads a numeric scalar field (NaN for an unset optional field)
func (f Field) Scalar(p *Parameters) float64 {
	return f.getScalar(p)
}

// Apply coerces raw (typically decoded JSON) and assigns it to the field on p
func (f Field) Apply(p *Parameters, raw interface{}) error {
	switch f.Kind {
	case KindScalar:
		v, ok := toFloat(raw)
		if !ok {
			return errs.Configuration(f.Name, "expected a number, got %T", raw)
		}
		f.setScalar(p, v)
	case KindBool:
		v, ok := raw.(bool)
		if !ok {
			return errs.Configuration(f.Name, "expected a boolean, got %T", raw)
		}
		f.setBool(p, v)
	case KindSeries:
		v, ok := toSeries(raw)
		if !ok {
			return errs.Configuration(f.Name, "expected a list of numbers, got %T", raw)
		}
		f.setSeries(p, v)
	case KindSchedule:
		v, ok := toSchedule(raw)
		if !ok {
			return errs.Configuration(f.Name, "expected a year -> debt mapping, got %T", raw)
		}
		f.setSchedule(p, v)
	}
	return nil
}

// ValidateOverrides checks every key and value type without touching p
func ValidateOverrides(overrides map[string]interface{}) error {
	probe := &Parameters{}
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		f, ok := fields[k]
		if !ok {
			return errs.Configuration(k, "not a valuation parameter")
		}
		if err := f.Apply(probe, overrides[k]); err != nil {
			return err
		}
	}
	return nil
}

// ApplyOverrides assigns every override to p (a clone owned by the caller)
func ApplyOverrides(p *Parameters, overrides map[string]interface{}) error {
	if err := ValidateOverrides(overrides); err != nil {
		return err
	}
	for k, v := range overrides {
		if err := fields[k].Apply(p, cloneValue(v)); err != nil {
			return err
		}
	}
	return nil
}

func toFloat(raw interface{}) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toSeries(raw interface{}) ([]float64, bool) {
	switch v := raw.(type) {
	case []float64:
		return cloneSeries(v), true
	case []interface{}:
		out := make([]float64, len(v))
		for i, x := range v {
			f, ok := toFloat(x)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	default:
		return nil, false
	}
}

func toSchedule(raw interface{}) (map[int]float64, bool) {
	switch v := raw.(type) {
	case map[int]float64:
		out := make(map[int]float64, len(v))
		for k, x := range v {
			out[k] = x
		}
		return out, true
	case map[string]interface{}:
		out := make(map[int]float64, len(v))
		for k, x := range v {
			year, err := strconv.Atoi(k)
			if err != nil {
				return nil, false
			}
			f, ok := toFloat(x)
			if !ok {
				return nil, false
			}
			out[year] = f
		}
		return out, true
	default:
		return nil, false
	}
}

// String implements fmt.Stringer for log output
func (f Field) String() string {
	return fmt.Sprintf("%s(%s)", f.Name, f.Kind)
}
