package valuation

import (
	"math"
	"sort"
	"strings"

	"dcf_valuation/pkg/core/errs"
)

// OutlierStdDevs is the peer-multiple outlier cutoff
const OutlierStdDevs = 3.0

// MultipleBasis is what a peer multiple implies: enterprise or equity value
type MultipleBasis string

const (
	BasisEnterprise MultipleBasis = "enterprise"
	BasisEquity     MultipleBasis = "equity"
)

// Own-metric names used as multiple denominators
const (
	MetricEBITDA    = "EBITDA"
	MetricNetIncome = "NetIncome"
	MetricFCF       = "FCF"
	MetricRevenue   = "Revenue"
)

var denominatorAliases = map[string]string{
	"EBITDA":    MetricEBITDA,
	"NETINCOME": MetricNetIncome,
	"E":         MetricNetIncome,
	"EARNINGS":  MetricNetIncome,
	"FCF":       MetricFCF,
	"REVENUE":   MetricRevenue,
	"SALES":     MetricRevenue,
}

var numeratorBasis = map[string]MultipleBasis{
	"EV":        BasisEnterprise,
	"TEV":       BasisEnterprise,
	"P":         BasisEquity,
	"PRICE":     BasisEquity,
	"MARKETCAP": BasisEquity,
}

// MetricInput holds the valuation entity's own trailing (last forecast period) metrics.
// Absent entries could not be derived from the parameters.
type MetricInput map[string]float64

// MultipleResult is the implied-value distribution for one peer multiple column
type MultipleResult struct {
	Multiple           string        `json:"multiple"`
	Basis              MultipleBasis `json:"basis"`
	Metric             string        `json:"metric"`
	OwnMetric          float64       `json:"own_metric"`
	PeerCount          int           `json:"peer_count"`
	OutliersRemoved    int           `json:"outliers_removed"`
	MeanPeerMultiple   float64       `json:"mean_peer_multiple"`
	MedianPeerMultiple float64       `json:"median_peer_multiple"`
	ImpliedValues      []float64     `json:"implied_values"`
	Implied            Summary       `json:"implied"`

	// Normalised to equity so the two bases can be compared side by side
	ImpliedEquityMean   float64  `json:"implied_equity_mean"`
	ImpliedEquityMedian float64  `json:"implied_equity_median"`
	ImpliedPriceMean    *float64 `json:"implied_price_mean"`
	ImpliedPriceMedian  *float64 `json:"implied_price_median"`
}

// RelativeValuationResult holds every multiple that produced a result
type RelativeValuationResult struct {
	OwnMetrics          MetricInput      `json:"own_metrics"`
	NetDebt             NetDebt          `json:"net_debt"`
	EnterpriseMultiples []MultipleResult `json:"enterprise_multiples"`
	EquityMultiples     []MultipleResult `json:"equity_multiples"`
	Skipped             []string         `json:"skipped,omitempty"`
}

// OwnMetrics derives the entity's trailing metrics from the projected series.
//
//	EBITDA    = EBIT_N + D_N (+ A_N)
//	NetIncome = (EBIT_N - Debt_terminal × r_d) × (1 - T)
//	FCF       = FCF_N
//	Revenue   = Revenue_N
func OwnMetrics(p *Parameters, fin *Financials) MetricInput {
	m := MetricInput{}
	if n := len(fin.FreeCashFlow); n > 0 {
		m[MetricFCF] = fin.FreeCashFlow[n-1]
	}
	if n := len(fin.Revenue); n > 0 {
		m[MetricRevenue] = fin.Revenue[n-1]
	}
	if ebitda, ok := fin.TerminalEBITDA(); ok {
		m[MetricEBITDA] = ebitda
	}
	if n := len(fin.EBIT); n > 0 {
		debt := ResolveNetDebt(p, fin.Horizon()).GrossDebt
		m[MetricNetIncome] = (fin.EBIT[n-1] - debt*p.CostOfDebt) * (1 - p.CorporateTaxRate)
	}
	return m
}

// CalculateComps applies the peer multiples in comparable_multiples_data to
// the entity's own metrics. Columns are named "<Numerator>/<Denominator>";
// EV/TEV numerators imply enterprise value, P/Price/MarketCap imply equity.
func CalculateComps(p *Parameters) (*RelativeValuationResult, error) {
	if len(p.ComparableMultiplesData) == 0 {
		return nil, errs.Invalid("comparable_multiples_data", "no peer rows supplied")
	}
	fin, err := ProjectFinancials(p)
	if err != nil {
		if len(p.Revenue) == 0 || !missingFCFDrivers(p) {
			return nil, err
		}
		// Revenue and earnings multiples still apply; the rest are skipped
		if fin, err = projectOperating(p); err != nil {
			return nil, err
		}
	}

	own := OwnMetrics(p, fin)
	nd := ResolveNetDebt(p, fin.Horizon())
	res := &RelativeValuationResult{
		OwnMetrics:          own,
		NetDebt:             nd,
		EnterpriseMultiples: []MultipleResult{},
		EquityMultiples:     []MultipleResult{},
	}

	for _, col := range multipleColumns(p.ComparableMultiplesData) {
		basis, metric, ok := parseMultiple(col)
		if !ok {
			continue
		}
		ownValue, ok := own[metric]
		if !ok {
			res.Skipped = append(res.Skipped, col)
			continue
		}

		peers := peerValues(p.ComparableMultiplesData, col)
		kept := FilterOutliers(peers, OutlierStdDevs)
		if len(kept) == 0 {
			res.Skipped = append(res.Skipped, col)
			continue
		}

		implied := make([]float64, len(kept))
		for i, m := range kept {
			implied[i] = m * ownValue
		}
		peerSummary := Summarize(kept)
		r := MultipleResult{
			Multiple:           col,
			Basis:              basis,
			Metric:             metric,
			OwnMetric:          ownValue,
			PeerCount:          len(kept),
			OutliersRemoved:    len(peers) - len(kept),
			MeanPeerMultiple:   peerSummary.Mean,
			MedianPeerMultiple: peerSummary.Median,
			ImpliedValues:      implied,
			Implied:            Summarize(implied),
		}

		bridge := 0.0
		if basis == BasisEnterprise {
			bridge = nd.NetDebt
		}
		r.ImpliedEquityMean = r.Implied.Mean - bridge
		r.ImpliedEquityMedian = r.Implied.Median - bridge
		r.ImpliedPriceMean = PricePerShare(r.ImpliedEquityMean, p.SharesOutstanding)
		r.ImpliedPriceMedian = PricePerShare(r.ImpliedEquityMedian, p.SharesOutstanding)

		if basis == BasisEnterprise {
			res.EnterpriseMultiples = append(res.EnterpriseMultiples, r)
		} else {
			res.EquityMultiples = append(res.EquityMultiples, r)
		}
	}

	if len(res.EnterpriseMultiples) == 0 && len(res.EquityMultiples) == 0 {
		return nil, errs.Calculation("comparable_multiples_data", "no valid multiples found")
	}
	return res, nil
}

// parseMultiple maps a column name to its basis and own-metric denominator
func parseMultiple(col string) (MultipleBasis, string, bool) {
	i := strings.Index(col, "/")
	if i <= 0 || i == len(col)-1 {
		return "", "", false
	}
	num := normalizeToken(col[:i])
	den := normalizeToken(col[i+1:])
	metric, ok := denominatorAliases[den]
	if !ok {
		return "", "", false
	}
	basis, ok := numeratorBasis[num]
	if !ok {
		return "", "", false
	}
	return basis, metric, true
}

func normalizeToken(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "").Replace(s)
}

// multipleColumns returns every column name seen across peer rows, sorted
func multipleColumns(rows []PeerRow) []string {
	seen := map[string]bool{}
	for _, row := range rows {
		for k := range row {
			seen[k] = true
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// peerValues collects finite numeric values for col, dropping missing and
// non-numeric entries
func peerValues(rows []PeerRow, col string) []float64 {
	out := make([]float64, 0, len(rows))
	for _, row := range rows {
		raw, ok := row[col]
		if !ok || raw == nil {
			continue
		}
		v, ok := toFloat(raw)
		if !ok || math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		out = append(out, v)
	}
	return out
}
