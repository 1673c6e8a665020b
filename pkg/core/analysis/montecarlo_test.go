package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

func baseParams() *valuation.Parameters {
	return &valuation.Parameters{
		Revenue:                      []float64{100, 110, 121},
		CapitalExpenditure:           []float64{10, 11, 12},
		Depreciation:                 []float64{5, 6, 7},
		NetWorkingCapitalChanges:     []float64{2, 2, 2},
		EBITMargin:                   0.20,
		CorporateTaxRate:             0.21,
		TerminalGrowthRate:           0.02,
		WeightedAverageCostOfCapital: valuation.Float(0.10),
		CostOfDebt:                   0.05,
		SharesOutstanding:            100,
		RiskFreeRate:                 0.04,
		EquityRiskPremium:            0.05,
		LeveredBeta:                  1.2,
	}
}

func seed(v uint64) *uint64 { return &v }

func TestMonteCarlo_ConvergesToPointEstimate(t *testing.T) {
	p := baseParams()
	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{
		"ebit_margin":          {Kind: "normal", Mean: 0.20, Std: 1e-9},
		"terminal_growth_rate": {Kind: "normal", Mean: 0.02, Std: 1e-9},
	}

	point, err := valuation.CalculateDCF(p)
	require.NoError(t, err)
	pointAPV, err := valuation.CalculateAPV(p)
	require.NoError(t, err)

	res, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10000, Seed: seed(42)})
	require.NoError(t, err)

	assert.Equal(t, 10000, res.WACC.Successful)
	assert.Equal(t, 0, res.WACC.Failed)
	require.NotNil(t, res.WACC.EnterpriseValue)
	assert.InDelta(t, point.EnterpriseValue, res.WACC.EnterpriseValue.Mean, 1e-4)
	assert.InDelta(t, point.EnterpriseValue, res.WACC.EnterpriseValue.Median, 1e-4)
	assert.Less(t, res.WACC.EnterpriseValue.Std, 1e-4)
	assert.InDelta(t, *point.PricePerShare, res.WACC.PricePerShare.Mean, 1e-6)

	require.NotNil(t, res.APV.EnterpriseValue)
	assert.InDelta(t, pointAPV.EnterpriseValue, res.APV.EnterpriseValue.Mean, 1e-4)
	assert.False(t, res.WACC.HighFailureRate)

	// The base record is untouched
	assert.Equal(t, 0.20, p.EBITMargin)
}

func TestMonteCarlo_FailedDrawsDoNotAbort(t *testing.T) {
	p := baseParams()
	// g >= 0.10 fails for roughly 10/12 of draws
	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{
		"terminal_growth_rate": {Kind: "uniform", Low: 0.08, High: 0.20},
	}

	res, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 2000, Seed: seed(7), Options: Options{Workers: 4}})
	require.NoError(t, err)

	assert.Equal(t, 2000, res.WACC.Successful+res.WACC.Failed)
	assert.Greater(t, res.WACC.Successful, 0)
	assert.Greater(t, res.WACC.FailureRate, DefaultFailureThreshold)
	assert.True(t, res.WACC.HighFailureRate)
	assert.NotEmpty(t, res.WACC.Warning)
	assert.Equal(t, res.WACC.Failed, res.WACC.FailureReasons[string(errs.CalculationInvalid)])

	require.NotNil(t, res.WACC.EnterpriseValue)
	assert.LessOrEqual(t, res.WACC.EnterpriseValue.CI95Lower, res.WACC.EnterpriseValue.Median)
	assert.GreaterOrEqual(t, res.WACC.EnterpriseValue.CI95Upper, res.WACC.EnterpriseValue.Median)
}

func TestMonteCarlo_SeedReproducible(t *testing.T) {
	p := baseParams()
	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{
		"ebit_margin":          {Kind: "triangular", Min: 0.15, Mode: 0.2, Max: 0.25},
		"corporate_tax_rate":   {Kind: "uniform", Low: 0.18, High: 0.25},
		"terminal_growth_rate": {Kind: "normal", Mean: 0.02, Std: 0.005},
	}

	a, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 500, Seed: seed(99), Options: Options{Workers: 1}})
	require.NoError(t, err)
	b, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 500, Seed: seed(99), Options: Options{Workers: 8}})
	require.NoError(t, err)

	assert.Equal(t, uint64(99), a.Seed)
	assert.Equal(t, a.WACC.EnterpriseValue, b.WACC.EnterpriseValue)
	assert.Equal(t, a.APV.EquityValue, b.APV.EquityValue)
	assert.Equal(t, []string{"corporate_tax_rate", "ebit_margin", "terminal_growth_rate"}, a.Variables)
}

func TestMonteCarlo_ConfigurationErrors(t *testing.T) {
	p := baseParams()
	_, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10})
	assert.True(t, errs.IsKind(err, errs.ConfigurationInvalid), "no specs: %v", err)

	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{"ebit_margin": {Kind: "beta"}}
	_, err = RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10})
	assert.True(t, errs.IsKind(err, errs.ConfigurationInvalid), "bad kind: %v", err)

	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{"ebit_margin": {Kind: "normal", Mean: 0.2}}
	_, err = RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10})
	assert.True(t, errs.IsKind(err, errs.ConfigurationInvalid), "missing std: %v", err)

	_, err = RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 0})
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "zero runs: %v", err)
}

func TestMonteCarlo_ExplicitWACCIgnoredUnderTargetRatio(t *testing.T) {
	p := baseParams()
	p.UnleveredBeta = 1.0
	p.TargetDebtToValueRatio = valuation.Float(0.3)
	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{
		"ebit_margin":                      {Kind: "normal", Mean: 0.2, Std: 0.01},
		"weighted_average_cost_of_capital": {Kind: "uniform", Low: 0.06, High: 0.14},
	}
	_, err := RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10, Seed: seed(1)})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.ConfigurationInvalid), "got %v", err)

	delete(p.MonteCarloVariableSpecs, "weighted_average_cost_of_capital")
	_, err = RunMonteCarlo(context.Background(), p, MonteCarloConfig{Runs: 10, Seed: seed(1)})
	assert.NoError(t, err)
}

func TestMonteCarlo_Cancelled(t *testing.T) {
	p := baseParams()
	p.MonteCarloVariableSpecs = map[string]valuation.DistributionSpec{
		"ebit_margin": {Kind: "uniform", Low: 0.1, High: 0.3},
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunMonteCarlo(ctx, p, MonteCarloConfig{Runs: 100, Seed: seed(1)})
	assert.ErrorIs(t, err, context.Canceled)
}
