package engine

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

func params() *valuation.Parameters {
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
		ComparableMultiplesData: []valuation.PeerRow{
			{"EV/EBITDA": 9.0}, {"EV/EBITDA": 11.0},
		},
		ScenarioDefinitions: map[string]map[string]interface{}{
			"bull": {"ebit_margin": 0.25},
		},
		SensitivityParameterRanges: map[string][]float64{
			"weighted_average_cost_of_capital": {0.08, 0.12},
		},
		MonteCarloVariableSpecs: map[string]valuation.DistributionSpec{
			"ebit_margin": {Kind: "normal", Mean: 0.2, Std: 0.01},
		},
	}
}

func TestRun_DefaultsToWACCAndAPV(t *testing.T) {
	resp, err := New(Config{}).Run(context.Background(), Request{Parameters: params()})
	require.NoError(t, err)

	assert.Equal(t, []AnalysisType{AnalysisWACC, AnalysisAPV}, resp.Analyses)
	assert.NotEmpty(t, resp.RunID)
	require.NotNil(t, resp.Results.WACC)
	require.NotNil(t, resp.Results.APV)
	assert.Nil(t, resp.Results.MonteCarlo)
}

func TestRun_AllAnalyses(t *testing.T) {
	seed := uint64(11)
	resp, err := New(Config{Workers: 2}).Run(context.Background(), Request{
		Parameters:     params(),
		Analyses:       []AnalysisType{"monte_carlo", "wacc", "multiples", "scenario", "sensitivity", "apv", "wacc"},
		MonteCarloRuns: 200,
		Seed:           &seed,
	})
	require.NoError(t, err)

	assert.Equal(t, AllAnalyses, resp.Analyses)
	r := resp.Results
	require.NotNil(t, r.WACC)
	require.NotNil(t, r.Multiples)
	require.Len(t, r.Multiples.EnterpriseMultiples, 1)
	require.NotNil(t, r.Scenario)
	assert.Equal(t, 1, r.Scenario.Successful)
	require.NotNil(t, r.Sensitivity)
	assert.Equal(t, 2, r.Sensitivity.Points)
	require.NotNil(t, r.MonteCarlo)
	assert.Equal(t, 200, r.MonteCarlo.Runs)
	assert.Equal(t, seed, r.MonteCarlo.Seed)

	// Response serialises without NaN
	_, err = json.Marshal(resp)
	require.NoError(t, err)
}

func TestRun_DefaultMonteCarloRuns(t *testing.T) {
	resp, err := New(Config{DefaultMonteCarloRuns: 50}).Run(context.Background(), Request{
		Parameters: params(),
		Analyses:   []AnalysisType{AnalysisMonteCarlo},
	})
	require.NoError(t, err)
	assert.Equal(t, 50, resp.Results.MonteCarlo.Runs)
}

func TestRun_Errors(t *testing.T) {
	e := New(Config{MaxMonteCarloRuns: 100})

	_, err := e.Run(context.Background(), Request{})
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "nil parameters: %v", err)

	_, err = e.Run(context.Background(), Request{Parameters: params(), Analyses: []AnalysisType{"dcf-ish"}})
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "unknown analysis: %v", err)

	_, err = e.Run(context.Background(), Request{Parameters: params(), Analyses: []AnalysisType{AnalysisMonteCarlo}, MonteCarloRuns: 101})
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "too many runs: %v", err)

	p := params()
	p.TerminalGrowthRate = 0.10
	_, err = e.Run(context.Background(), Request{Parameters: p})
	assert.True(t, errs.IsKind(err, errs.CalculationInvalid), "single-shot guard: %v", err)

	p = params()
	p.ScenarioDefinitions["typo"] = map[string]interface{}{"margin": 0.3}
	_, err = e.Run(context.Background(), Request{Parameters: p, Analyses: []AnalysisType{AnalysisScenario}})
	assert.True(t, errs.IsKind(err, errs.ConfigurationInvalid), "bad scenario: %v", err)
}

func TestParseAnalyses(t *testing.T) {
	got, err := ParseAnalyses([]string{" APV", "monte-carlo", ""})
	require.NoError(t, err)
	assert.Equal(t, []AnalysisType{AnalysisAPV, AnalysisMonteCarlo}, got)

	got, err = ParseAnalyses(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultAnalyses, got)

	_, err = ParseAnalyses([]string{"lbo"})
	assert.Error(t, err)
}
