package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/errs"
)

type point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func TestSmartParse(t *testing.T) {
	cases := map[string]string{
		"strict json":    `{"x": 1, "y": 2}`,
		"trailing comma": `{"x": 1, "y": 2,}`,
		"single quotes":  `{'x': 1, 'y': 2}`,
		"hjson":          "{\n  # comment\n  x: 1\n  y: 2\n}",
		"padded":         "\n\n  {\"x\": 1, \"y\": 2}  \n",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			var p point
			out, err := SmartParse(input, &p)
			require.NoError(t, err)
			assert.Equal(t, point{1, 2}, p)
			assert.JSONEq(t, `{"x": 1, "y": 2}`, out)
		})
	}
}

func TestSmartParse_Failures(t *testing.T) {
	var p point
	_, err := SmartParse("", &p)
	assert.Error(t, err)

	_, err = SmartParse(`{"x": 1, "z": 3}`, &p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown field "z"`)

	_, err = SmartParse(`{"x": "one"}`, &p)
	assert.Error(t, err)
}

func TestParseHJSON(t *testing.T) {
	out, err := ParseHJSON("{a: 1, b: [1, 2]}")
	require.NoError(t, err)
	assert.JSONEq(t, `{"a": 1, "b": [1, 2]}`, out)
}

const paramsHJSON = `{
  # three-year plan
  revenue: [100, 110, 121]
  capital_expenditure: [10, 11, 12]
  depreciation: [5, 6, 7]
  net_working_capital_changes: [2, 2, 2]
  ebit_margin: 0.2
  corporate_tax_rate: 0.21
  terminal_growth_rate: 0.02
  weighted_average_cost_of_capital: 0.1
  cost_of_debt: 0.05
  shares_outstanding: 100
  debt_schedule: {"0": 50, "1": 40}
  scenario_definitions: {
    bull: {ebit_margin: 0.25, revenue: [110, 121, 133]}
  }
  monte_carlo_variable_specs: {
    ebit_margin: {kind: "normal", mean: 0.2, std: 0.02}
  }
}`

func TestLoadParameters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "params.hjson")
	require.NoError(t, os.WriteFile(path, []byte(paramsHJSON), 0o644))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, []float64{100, 110, 121}, p.Revenue)
	require.NotNil(t, p.WeightedAverageCostOfCapital)
	assert.Equal(t, 0.1, *p.WeightedAverageCostOfCapital)
	assert.Equal(t, map[int]float64{0: 50, 1: 40}, p.DebtSchedule)
	assert.Equal(t, "normal", p.MonteCarloVariableSpecs["ebit_margin"].Kind)
	assert.Contains(t, p.ScenarioDefinitions["bull"], "revenue")
}

func TestParseParameters_Errors(t *testing.T) {
	_, err := ParseParameters(`{"revenue": [100], "ebit_margn": 0.2}`)
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "unknown field: %v", err)

	// Parses, but fails validation
	_, err = ParseParameters(`{"revenue": [100, 110], "capital_expenditure": [10], "depreciation": [5, 6], "net_working_capital_changes": [1, 1], "shares_outstanding": 1}`)
	assert.True(t, errs.IsKind(err, errs.InvalidInput), "length mismatch: %v", err)

	_, err = LoadParameters(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
