// Package report renders an engine response as a Markdown or HTML summary.
package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"dcf_valuation/pkg/core/analysis"
	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// Format is an output format
type Format string

const (
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
)

// ParseFormat accepts json, markdown (md) and html; empty means json
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	}
	return "", errs.Invalid("format", "unsupported format %q", s)
}

// ContentType is the HTTP content type for f
func (f Format) ContentType() string {
	switch f {
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	case FormatHTML:
		return "text/html; charset=utf-8"
	}
	return "application/json"
}

// Render serializes resp in format f
func Render(resp *engine.Response, f Format) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return []byte(Markdown(resp)), nil
	case FormatHTML:
		return HTML(resp)
	default:
		return json.MarshalIndent(resp, "", "  ")
	}
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// HTML converts the Markdown summary to an HTML fragment
func HTML(resp *engine.Response) ([]byte, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(Markdown(resp)), &buf); err != nil {
		return nil, fmt.Errorf("failed to render html: %w", err)
	}
	return buf.Bytes(), nil
}

// Markdown builds the summary document, one section per analysis
func Markdown(resp *engine.Response) string {
	var sb strings.Builder
	sb.WriteString("# Valuation Report\n\n")
	fmt.Fprintf(&sb, "Run `%s` at %s (%s)\n\n", resp.RunID, resp.CreatedAt.Format("2006-01-02 15:04:05 MST"), resp.Duration)

	r := resp.Results
	if r.WACC != nil {
		writeDCF(&sb, r.WACC)
	}
	if r.APV != nil {
		writeAPV(&sb, r.APV)
	}
	if r.Multiples != nil {
		writeMultiples(&sb, r.Multiples)
	}
	if r.Scenario != nil {
		writeScenarios(&sb, r.Scenario)
	}
	if r.Sensitivity != nil {
		writeSensitivity(&sb, r.Sensitivity)
	}
	if r.MonteCarlo != nil {
		writeMonteCarlo(&sb, r.MonteCarlo)
	}
	return sb.String()
}

func writeDCF(sb *strings.Builder, d *valuation.DCFResult) {
	sb.WriteString("## WACC-DCF\n\n")
	table(sb, []string{"Item", "Value"}, [][]string{
		{"WACC", pct(d.WACC.WACC) + " (" + string(d.WACC.Source) + ")"},
		{"PV of free cash flows", num(d.PVFreeCashFlows)},
		{"Terminal value", num(d.TerminalValue)},
		{"PV of terminal value", num(d.DiscountedTerminalValue)},
		{"Enterprise value", num(d.EnterpriseValue)},
		{"Net debt", num(d.NetDebt.NetDebt)},
		{"Equity value", num(d.EquityValue)},
		{"Price per share", numPtr(d.PricePerShare)},
		{"Implied exit EV/EBITDA", numPtr(d.ImpliedExitMultiple)},
	})

	rows := make([][]string, len(d.FreeCashFlows))
	for i := range d.FreeCashFlows {
		rows[i] = []string{fmt.Sprint(i), num(d.FreeCashFlows[i]), num(d.DiscountedFreeCashFlows[i])}
	}
	table(sb, []string{"Year", "FCF", "PV"}, rows)
}

func writeAPV(sb *strings.Builder, a *valuation.APVResult) {
	sb.WriteString("## APV\n\n")
	table(sb, []string{"Item", "Value"}, [][]string{
		{"Unlevered cost of equity", pct(a.UnleveredCostOfEquity) + " (" + string(a.RateSource) + ")"},
		{"Unlevered value", num(a.Components.ValueUnlevered)},
		{"PV of tax shields", num(a.Components.PVTaxShield)},
		{"Enterprise value", num(a.EnterpriseValue)},
		{"Equity value", num(a.EquityValue)},
		{"Price per share", numPtr(a.PricePerShare)},
	})
}

func writeMultiples(sb *strings.Builder, m *valuation.RelativeValuationResult) {
	sb.WriteString("## Comparable Multiples\n\n")
	all := append(append([]valuation.MultipleResult(nil), m.EnterpriseMultiples...), m.EquityMultiples...)
	rows := make([][]string, 0, len(all))
	for _, r := range all {
		rows = append(rows, []string{
			r.Multiple,
			fmt.Sprint(r.PeerCount),
			num(r.MedianPeerMultiple),
			num(r.ImpliedEquityMedian),
			numPtr(r.ImpliedPriceMedian),
		})
	}
	table(sb, []string{"Multiple", "Peers", "Median multiple", "Implied equity", "Implied price"}, rows)
	if len(m.Skipped) > 0 {
		fmt.Fprintf(sb, "Skipped: %s\n\n", strings.Join(m.Skipped, ", "))
	}
}

func writeScenarios(sb *strings.Builder, s *analysis.ScenarioResult) {
	sb.WriteString("## Scenarios\n\n")
	names := make([]string, 0, len(s.Scenarios))
	for n := range s.Scenarios {
		names = append(names, n)
	}
	sort.Strings(names)
	rows := make([][]string, 0, len(names))
	for _, n := range names {
		o := s.Scenarios[n]
		rows = append(rows, []string{n, numPtr(o.EnterpriseValue), numPtr(o.PricePerShare), pctPtr(o.WACC), o.Error})
	}
	table(sb, []string{"Scenario", "Enterprise value", "Price", "WACC", "Error"}, rows)
}

func writeSensitivity(sb *strings.Builder, s *analysis.SensitivityResult) {
	sb.WriteString("## Sensitivity\n\n")
	names := make([]string, 0, len(s.Parameters))
	for n := range s.Parameters {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(sb, "### %s\n\n", n)
		pts := s.Parameters[n]
		rows := make([][]string, len(pts))
		for i, p := range pts {
			rows[i] = []string{fmt.Sprintf("%g", p.Value), numPtr(p.EnterpriseValue), numPtr(p.PricePerShare), p.Error}
		}
		table(sb, []string{"Value", "Enterprise value", "Price", "Error"}, rows)
	}
}

func writeMonteCarlo(sb *strings.Builder, mc *analysis.MonteCarloResult) {
	sb.WriteString("## Monte Carlo\n\n")
	fmt.Fprintf(sb, "%d runs, seed %d, variables: %s\n\n", mc.Runs, mc.Seed, strings.Join(mc.Variables, ", "))
	rows := [][]string{}
	for _, m := range []analysis.MethodStats{mc.WACC, mc.APV} {
		rows = append(rows, []string{
			m.Method,
			fmt.Sprint(m.Successful),
			fmt.Sprint(m.Failed),
			distMean(m.EnterpriseValue),
			distCI(m.EnterpriseValue),
			distMean(m.PricePerShare),
		})
	}
	table(sb, []string{"Method", "OK", "Failed", "Mean EV", "EV 95% CI", "Mean price"}, rows)
	for _, m := range []analysis.MethodStats{mc.WACC, mc.APV} {
		if m.Warning != "" {
			fmt.Fprintf(sb, "> **Warning (%s):** %s\n\n", m.Method, m.Warning)
		}
	}
}

// table writes a GitHub-style Markdown table
func table(sb *strings.Builder, header []string, rows [][]string) {
	if len(rows) == 0 {
		sb.WriteString("_No data._\n\n")
		return
	}
	sb.WriteString("|")
	for _, h := range header {
		sb.WriteString(" " + h + " |")
	}
	sb.WriteString("\n|")
	for range header {
		sb.WriteString(" --- |")
	}
	sb.WriteString("\n")
	for _, row := range rows {
		sb.WriteString("|")
		for _, cell := range row {
			sb.WriteString(" " + escapeCell(cell) + " |")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", `\|`), "\n", " ")
}

func num(v float64) string { return fmt.Sprintf("%.2f", v) }

func pct(v float64) string { return fmt.Sprintf("%.2f%%", v*100) }

func numPtr(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return num(*v)
}

func pctPtr(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return pct(*v)
}

func distMean(d *analysis.Distribution) string {
	if d == nil {
		return "n/a"
	}
	return num(d.Mean)
}

func distCI(d *analysis.Distribution) string {
	if d == nil {
		return "n/a"
	}
	return num(d.CI95Lower) + " to " + num(d.CI95Upper)
}
