package valuation

import (
	"math"

	"dcf_valuation/pkg/core/errs"
)

// WACCSource records which branch of the resolution chain produced a rate
type WACCSource string

const (
	WACCSourceTarget   WACCSource = "target_structure"
	WACCSourceExplicit WACCSource = "explicit"
	WACCSourceMarket   WACCSource = "estimated_market_values"
)

// WACCResult holds the resolved discount rate and its components
type WACCResult struct {
	Source       WACCSource `json:"source"`
	WACC         float64    `json:"wacc"`
	LeveredBeta  float64    `json:"levered_beta,omitempty"`
	CostOfEquity float64    `json:"cost_of_equity,omitempty"`
	CostOfDebt   float64    `json:"after_tax_cost_of_debt,omitempty"` // Rd × (1 - T)
	WeightDebt   float64    `json:"weight_debt"`
	WeightEquity float64    `json:"weight_equity"`
	DebtValue    float64    `json:"debt_value,omitempty"`
	EquityValue  float64    `json:"equity_value,omitempty"`
}

// CostOfEquityCAPM calculates required return on equity using CAPM.
//
// FORMULA: r_e = r_f + β × MRP
func CostOfEquityCAPM(riskFreeRate, beta, marketRiskPremium float64) (float64, error) {
	if riskFreeRate < 0 {
		return 0, errs.Invalid("risk_free_rate", "%g must be >= 0", riskFreeRate)
	}
	if beta < 0 {
		return 0, errs.Invalid("beta", "%g must be >= 0", beta)
	}
	if marketRiskPremium < 0 {
		return 0, errs.Invalid("equity_risk_premium", "%g must be >= 0", marketRiskPremium)
	}
	return riskFreeRate + beta*marketRiskPremium, nil
}

// WACCFromMarketValues weights the cost of each source by its market value.
//
// FORMULA: WACC = E/V × r_e + D/V × r_d × (1 - T)
func WACCFromMarketValues(equityValue, debtValue, costOfEquity, costOfDebt, taxRate float64) (float64, error) {
	if equityValue < 0 || debtValue < 0 {
		return 0, errs.Invalid("market_values", "equity %g and debt %g must be >= 0", equityValue, debtValue)
	}
	total := equityValue + debtValue
	if total == 0 {
		return 0, errs.Calculation("market_values", "total capital (equity + debt) is zero; cannot weight WACC")
	}
	return weighted(equityValue/total, debtValue/total, costOfEquity, costOfDebt, taxRate), nil
}

// WACCFromTargetStructure uses a configured debt-to-value ratio instead of
// current market values. This is the preferred path: it avoids WACC depending
// on an equity value that is itself the output of the DCF.
func WACCFromTargetStructure(targetDebtRatio, costOfEquity, costOfDebt, taxRate float64) (float64, error) {
	if targetDebtRatio < 0 || targetDebtRatio > 1 {
		return 0, errs.Invalid("target_debt_to_value_ratio", "%g is outside [0, 1]", targetDebtRatio)
	}
	return weighted(1-targetDebtRatio, targetDebtRatio, costOfEquity, costOfDebt, taxRate), nil
}

func weighted(we, wd, ke, kd, t float64) float64 {
	return we*ke + wd*kd*(1-t)
}

// UnleverBeta strips financial leverage (Hamada).
//
// FORMULA: β_U = β_L / (1 + (1 - T) × D/E)
func UnleverBeta(leveredBeta, taxRate, debtToEquity float64) float64 {
	return leveredBeta / (1 + (1-taxRate)*debtToEquity)
}

// ReleverBeta reintroduces financial leverage (Hamada).
//
// FORMULA: β_L = β_U × (1 + (1 - T) × D/E)
func ReleverBeta(unleveredBeta, taxRate, debtToEquity float64) float64 {
	return unleveredBeta * (1 + (1-taxRate)*debtToEquity)
}

// DebtToEquityFromRatio converts D/V into D/E: D/E = w / (1 - w)
func DebtToEquityFromRatio(debtToValue float64) float64 {
	if debtToValue >= 1 {
		return math.Inf(1)
	}
	return debtToValue / (1 - debtToValue)
}

// ResolveWACC picks the discount rate for a WACC-DCF run.
//
// Priority:
//  1. target_debt_to_value_ratio set -> relever beta to the target D/E, CAPM, target-structure weights
//  2. weighted_average_cost_of_capital set -> use as is
//  3. estimated market values: E ≈ Revenue_0 × EquityProxyRevenueMultiple, D = year-0 debt
//
// Branch 1 breaks the WACC <-> equity value circularity; branch 3 only
// approximates it and exists so a request without either input still resolves.
func ResolveWACC(p *Parameters) (*WACCResult, error) {
	kd := p.CostOfDebt * (1 - p.CorporateTaxRate)

	if p.TargetDebtToValueRatio != nil {
		wd := *p.TargetDebtToValueRatio
		res := &WACCResult{Source: WACCSourceTarget, CostOfDebt: kd, WeightDebt: wd, WeightEquity: 1 - wd}
		if wd < 1 {
			beta, err := targetBeta(p, wd)
			if err != nil {
				return nil, err
			}
			ke, err := CostOfEquityCAPM(p.RiskFreeRate, beta, p.EquityRiskPremium)
			if err != nil {
				return nil, err
			}
			res.LeveredBeta = beta
			res.CostOfEquity = ke
		}
		w, err := WACCFromTargetStructure(wd, res.CostOfEquity, p.CostOfDebt, p.CorporateTaxRate)
		if err != nil {
			return nil, err
		}
		res.WACC = w
		return res, checkRate("weighted_average_cost_of_capital", res.WACC)
	}

	if p.WeightedAverageCostOfCapital != nil {
		res := &WACCResult{Source: WACCSourceExplicit, WACC: *p.WeightedAverageCostOfCapital}
		return res, checkRate("weighted_average_cost_of_capital", res.WACC)
	}

	beta := p.LeveredBeta
	if beta == 0 {
		beta = p.UnleveredBeta
	}
	if beta == 0 {
		return nil, errs.Invalid("levered_beta",
			"no target_debt_to_value_ratio or weighted_average_cost_of_capital given, and no beta to estimate one")
	}
	ke, err := CostOfEquityCAPM(p.RiskFreeRate, beta, p.EquityRiskPremium)
	if err != nil {
		return nil, err
	}
	equity := equityProxy(p)
	debt := p.DebtAt(0)
	w, err := WACCFromMarketValues(equity, debt, ke, p.CostOfDebt, p.CorporateTaxRate)
	if err != nil {
		return nil, err
	}
	total := equity + debt
	res := &WACCResult{
		Source:       WACCSourceMarket,
		WACC:         w,
		LeveredBeta:  beta,
		CostOfEquity: ke,
		CostOfDebt:   kd,
		WeightDebt:   debt / total,
		WeightEquity: equity / total,
		DebtValue:    debt,
		EquityValue:  equity,
	}
	return res, checkRate("weighted_average_cost_of_capital", res.WACC)
}

// CheckVaried rejects varying field on p when ResolveWACC would never read
// it: an explicit WACC is ignored once a target debt ratio is configured, so
// every run would report the same value.
func CheckVaried(p *Parameters, field string) error {
	if field == "weighted_average_cost_of_capital" && p.TargetDebtToValueRatio != nil {
		return errs.Configuration(field,
			"has no effect while target_debt_to_value_ratio is set; vary target_debt_to_value_ratio or the beta inputs instead")
	}
	return nil
}

// targetBeta returns the levered beta at the target structure. An unlevered
// beta is relevered to the target D/E; otherwise the levered beta is used as given.
func targetBeta(p *Parameters, debtToValue float64) (float64, error) {
	if p.UnleveredBeta > 0 {
		return ReleverBeta(p.UnleveredBeta, p.CorporateTaxRate, DebtToEquityFromRatio(debtToValue)), nil
	}
	if p.LeveredBeta > 0 {
		return p.LeveredBeta, nil
	}
	return 0, errs.Invalid("unlevered_beta", "target-structure WACC needs unlevered_beta or levered_beta")
}

func equityProxy(p *Parameters) float64 {
	if len(p.Revenue) == 0 {
		return 0
	}
	return math.Max(p.Revenue[0], 0) * EquityProxyRevenueMultiple
}

func checkRate(field string, r float64) error {
	if math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 {
		return errs.Calculation(field, "resolved discount rate %g must be a finite value > 0", r)
	}
	return nil
}
