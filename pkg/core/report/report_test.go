package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

func response(t *testing.T) *engine.Response {
	t.Helper()
	seed := uint64(5)
	p := &valuation.Parameters{
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
		ComparableMultiplesData:      []valuation.PeerRow{{"EV/EBITDA": 9.0}, {"EV/EBITDA": 11.0}},
		ScenarioDefinitions: map[string]map[string]interface{}{
			"bull":   {"ebit_margin": 0.25},
			"broken": {"terminal_growth_rate": 0.2},
		},
		SensitivityParameterRanges: map[string][]float64{"ebit_margin": {0.18, 0.22}},
		MonteCarloVariableSpecs: map[string]valuation.DistributionSpec{
			"ebit_margin": {Kind: "uniform", Low: 0.18, High: 0.22},
		},
	}
	resp, err := engine.New(engine.Config{}).Run(context.Background(), engine.Request{
		Parameters:     p,
		Analyses:       engine.AllAnalyses,
		MonteCarloRuns: 100,
		Seed:           &seed,
	})
	require.NoError(t, err)
	return resp
}

func TestMarkdown_Sections(t *testing.T) {
	out := Markdown(response(t))
	for _, h := range []string{"# Valuation Report", "## WACC-DCF", "## APV", "## Comparable Multiples", "## Scenarios", "## Sensitivity", "### ebit_margin", "## Monte Carlo"} {
		assert.Contains(t, out, h+"\n")
	}
	// Failed scenario keeps its row with n/a values
	assert.Regexp(t, `\| broken \| n/a \| n/a \| n/a \| .+ \|`, out)
	assert.Contains(t, out, "100 runs, seed 5")
}

func TestHTML_Tables(t *testing.T) {
	resp := response(t)
	html, err := HTML(resp)
	require.NoError(t, err)

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	require.NoError(t, err)
	assert.Equal(t, "Valuation Report", doc.Find("h1").First().Text())

	var ev string
	doc.Find("table").First().Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
		if strings.TrimSpace(tr.Find("td").First().Text()) == "Enterprise value" {
			ev = strings.TrimSpace(tr.Find("td").Eq(1).Text())
		}
	})
	assert.Equal(t, num(resp.Results.WACC.EnterpriseValue), ev)

	// One row per projection year in the FCF table
	assert.Equal(t, 3, doc.Find("table").Eq(1).Find("tbody tr").Length())
}

func TestRender(t *testing.T) {
	resp := response(t)

	out, err := Render(resp, FormatJSON)
	require.NoError(t, err)
	var back engine.Response
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, resp.RunID, back.RunID)

	out, err = Render(resp, FormatMarkdown)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("# Valuation Report")))
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{"": FormatJSON, "JSON": FormatJSON, "md": FormatMarkdown, "markdown": FormatMarkdown, " html ": FormatHTML}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("pdf")
	assert.True(t, errs.IsKind(err, errs.InvalidInput))
	assert.Equal(t, "text/html; charset=utf-8", FormatHTML.ContentType())
}

func TestTable_EscapesAndEmpty(t *testing.T) {
	var sb strings.Builder
	table(&sb, []string{"A"}, nil)
	assert.Equal(t, "_No data._\n\n", sb.String())

	sb.Reset()
	table(&sb, []string{"A", "B"}, [][]string{{"x|y", "line\nbreak"}})
	assert.Equal(t, "| A | B |\n| --- | --- |\n| x\\|y | line break |\n\n", sb.String())
}
