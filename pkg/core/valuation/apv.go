package valuation

import (
	"math"

	"dcf_valuation/pkg/core/errs"
)

// UnleveredRateSource records how the APV discount rate was obtained
type UnleveredRateSource string

const (
	RateExplicit      UnleveredRateSource = "explicit"
	RateHamadaLevered UnleveredRateSource = "hamada_from_levered_beta"
	RateUnleveredBeta UnleveredRateSource = "capm_unlevered_beta"
)

// APVComponents splits enterprise value into operations and financing side effects
type APVComponents struct {
	ValueUnlevered float64 `json:"value_unlevered"`
	PVTaxShield    float64 `json:"pv_tax_shield"`
}

// TaxShield is the interest tax shield for one scheduled debt year
type TaxShield struct {
	Year         int     `json:"year"`
	Debt         float64 `json:"debt"`
	Shield       float64 `json:"shield"`
	PresentValue float64 `json:"present_value"`
}

// APVResult holds the Adjusted Present Value outputs
type APVResult struct {
	EnterpriseValue         float64             `json:"enterprise_value"`
	EquityValue             float64             `json:"equity_value"`
	PricePerShare           *float64            `json:"price_per_share"`
	Components              APVComponents       `json:"components"`
	UnleveredCostOfEquity   float64             `json:"unlevered_cost_of_equity"`
	RateSource              UnleveredRateSource `json:"rate_source"`
	UnleveredBeta           float64             `json:"unlevered_beta,omitempty"`
	FreeCashFlows           []float64           `json:"free_cash_flows"`
	TerminalValue           float64             `json:"terminal_value"`
	DiscountedTerminalValue float64             `json:"discounted_terminal_value"`
	TaxShields              []TaxShield         `json:"tax_shields"`
	MidYearConvention       bool                `json:"mid_year_convention"`
	NetDebt                 NetDebt             `json:"net_debt"`
}

// CalculateAPV values the unlevered firm and adds the PV of interest tax shields.
//
//	V_U    = Σ FCF_i / (1+r_U)^t_i + TV / (1+r_U)^t_N
//	PV(TS) = Σ D_y × r_d × T / (1+r_U)^t_y
//	EV     = V_U + PV(TS)
//
// Tax shields are discounted at r_U, the same rate as the unlevered cash flows.
func CalculateAPV(p *Parameters) (*APVResult, error) {
	ru, src, betaU, err := ResolveUnleveredCostOfEquity(p)
	if err != nil {
		return nil, err
	}
	if err := checkGrowth(p.TerminalGrowthRate, ru, "unlevered cost of equity"); err != nil {
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

	d, err := discountCashFlows(fin.FreeCashFlow, ru, p.TerminalGrowthRate, p.UseMidYearConvention)
	if err != nil {
		return nil, err
	}

	shields := make([]TaxShield, 0, len(p.DebtSchedule))
	pvShield := 0.0
	for _, year := range p.DebtYears() {
		debt := p.DebtAt(year)
		if debt == 0 {
			continue
		}
		ts := debt * p.CostOfDebt * p.CorporateTaxRate
		pv := PresentValue(ts, ru, DiscountPeriod(year, p.UseMidYearConvention))
		shields = append(shields, TaxShield{Year: year, Debt: debt, Shield: ts, PresentValue: pv})
		pvShield += pv
	}

	ev := d.ev + pvShield
	if err := checkFinite("enterprise_value", ev); err != nil {
		return nil, err
	}
	nd := ResolveNetDebt(p, n)
	equity := ev - nd.NetDebt

	return &APVResult{
		EnterpriseValue:         ev,
		EquityValue:             equity,
		PricePerShare:           PricePerShare(equity, p.SharesOutstanding),
		Components:              APVComponents{ValueUnlevered: d.ev, PVTaxShield: pvShield},
		UnleveredCostOfEquity:   ru,
		RateSource:              src,
		UnleveredBeta:           betaU,
		FreeCashFlows:           fin.FreeCashFlow,
		TerminalValue:           d.tv,
		DiscountedTerminalValue: d.pvTV,
		TaxShields:              shields,
		MidYearConvention:       p.UseMidYearConvention,
		NetDebt:                 nd,
	}, nil
}

// ResolveUnleveredCostOfEquity picks r_U:
//  1. unlevered_cost_of_equity if given
//  2. levered beta unlevered (Hamada) at the current D/E, then CAPM
//  3. unlevered beta with CAPM
//
// Current D/E comes from the target structure when configured, otherwise
// year-0 debt over the revenue-based equity proxy.
func ResolveUnleveredCostOfEquity(p *Parameters) (float64, UnleveredRateSource, float64, error) {
	if p.UnleveredCostOfEquity != nil {
		return *p.UnleveredCostOfEquity, RateExplicit, 0, nil
	}

	if p.LeveredBeta > 0 {
		if de, ok := currentDebtToEquity(p); ok {
			betaU := UnleverBeta(p.LeveredBeta, p.CorporateTaxRate, de)
			ru, err := CostOfEquityCAPM(p.RiskFreeRate, betaU, p.EquityRiskPremium)
			if err != nil {
				return 0, "", 0, err
			}
			return ru, RateHamadaLevered, betaU, checkRate("unlevered_cost_of_equity", ru)
		}
	}

	if p.UnleveredBeta > 0 {
		ru, err := CostOfEquityCAPM(p.RiskFreeRate, p.UnleveredBeta, p.EquityRiskPremium)
		if err != nil {
			return 0, "", 0, err
		}
		return ru, RateUnleveredBeta, p.UnleveredBeta, checkRate("unlevered_cost_of_equity", ru)
	}

	return 0, "", 0, errs.Invalid("unlevered_cost_of_equity",
		"APV needs unlevered_cost_of_equity, levered_beta with a usable D/E, or unlevered_beta")
}

func currentDebtToEquity(p *Parameters) (float64, bool) {
	if p.TargetDebtToValueRatio != nil {
		de := DebtToEquityFromRatio(*p.TargetDebtToValueRatio)
		return de, !math.IsInf(de, 0)
	}
	debt, equity := p.DebtAt(0), equityProxy(p)
	if debt == 0 {
		return 0, true
	}
	if equity <= 0 {
		return 0, false
	}
	return debt / equity, true
}
