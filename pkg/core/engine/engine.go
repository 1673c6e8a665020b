// Package engine dispatches a valuation request to the requested analyses.
//
// The engine holds no state between requests and knows nothing about caching
// or persistence; the API layer owns both.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/analysis"
	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// AnalysisType names one analysis a request can ask for
type AnalysisType string

const (
	AnalysisWACC        AnalysisType = "wacc"
	AnalysisAPV         AnalysisType = "apv"
	AnalysisMultiples   AnalysisType = "multiples"
	AnalysisScenario    AnalysisType = "scenario"
	AnalysisSensitivity AnalysisType = "sensitivity"
	AnalysisMonteCarlo  AnalysisType = "monte_carlo"
)

// AllAnalyses in execution order
var AllAnalyses = []AnalysisType{
	AnalysisWACC, AnalysisAPV, AnalysisMultiples, AnalysisScenario, AnalysisSensitivity, AnalysisMonteCarlo,
}

// DefaultAnalyses run when a request names none
var DefaultAnalyses = []AnalysisType{AnalysisWACC, AnalysisAPV}

// Request is one valuation job
type Request struct {
	Parameters     *valuation.Parameters `json:"parameters" validate:"required"`
	Analyses       []AnalysisType        `json:"analyses,omitempty"`
	MonteCarloRuns int                   `json:"monte_carlo_runs,omitempty" validate:"gte=0"`
	Seed           *uint64               `json:"seed,omitempty"`
}

// Results has one entry per requested analysis
type Results struct {
	WACC        *valuation.DCFResult               `json:"wacc,omitempty"`
	APV         *valuation.APVResult               `json:"apv,omitempty"`
	Multiples   *valuation.RelativeValuationResult `json:"multiples,omitempty"`
	Scenario    *analysis.ScenarioResult           `json:"scenario,omitempty"`
	Sensitivity *analysis.SensitivityResult        `json:"sensitivity,omitempty"`
	MonteCarlo  *analysis.MonteCarloResult         `json:"monte_carlo,omitempty"`
}

// Response is the engine output for a Request
type Response struct {
	RunID     string         `json:"run_id"`
	Analyses  []AnalysisType `json:"analyses"`
	Results   Results        `json:"results"`
	CreatedAt time.Time      `json:"created_at"`
	Duration  time.Duration  `json:"duration_ns"`
}

// Config tunes the engine; zero values fall back to the defaults below
type Config struct {
	Workers               int     `json:"workers" yaml:"workers"`
	DefaultMonteCarloRuns int     `json:"default_monte_carlo_runs" yaml:"default_monte_carlo_runs"`
	MaxMonteCarloRuns     int     `json:"max_monte_carlo_runs" yaml:"max_monte_carlo_runs"`
	FailureThreshold      float64 `json:"failure_threshold" yaml:"failure_threshold"`
}

const (
	DefaultMonteCarloRuns = 1000
	MaxMonteCarloRuns     = 100000
)

// Engine runs valuation requests
type Engine struct {
	cfg Config
}

// New creates an engine, filling unset config fields with defaults
func New(cfg Config) *Engine {
	if cfg.DefaultMonteCarloRuns <= 0 {
		cfg.DefaultMonteCarloRuns = DefaultMonteCarloRuns
	}
	if cfg.MaxMonteCarloRuns <= 0 {
		cfg.MaxMonteCarloRuns = MaxMonteCarloRuns
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = analysis.DefaultFailureThreshold
	}
	return &Engine{cfg: cfg}
}

// Config returns the effective configuration
func (e *Engine) Config() Config { return e.cfg }

// ParseAnalyses turns names such as "wacc,monte_carlo" into analysis types.
// Duplicates collapse and the result follows AllAnalyses order; an empty
// input yields DefaultAnalyses.
func ParseAnalyses(names []string) ([]AnalysisType, error) {
	want := map[AnalysisType]bool{}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		t := AnalysisType(strings.ReplaceAll(n, "-", "_"))
		if !t.Valid() {
			return nil, errs.Invalid("analyses", "unknown analysis %q", n)
		}
		want[t] = true
	}
	if len(want) == 0 {
		return append([]AnalysisType(nil), DefaultAnalyses...), nil
	}
	out := make([]AnalysisType, 0, len(want))
	for _, t := range AllAnalyses {
		if want[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Valid reports whether t is a known analysis
func (t AnalysisType) Valid() bool {
	for _, a := range AllAnalyses {
		if a == t {
			return true
		}
	}
	return false
}

// Normalize validates the request and resolves defaults in place.
// Analyses are deduplicated, ordered, and MonteCarloRuns is set when needed.
func (e *Engine) Normalize(req *Request) error {
	if req.Parameters == nil {
		return errs.Invalid("parameters", "required")
	}
	names := make([]string, len(req.Analyses))
	for i, a := range req.Analyses {
		names[i] = string(a)
	}
	analyses, err := ParseAnalyses(names)
	if err != nil {
		return err
	}
	req.Analyses = analyses

	if req.MonteCarloRuns < 0 {
		return errs.Invalid("monte_carlo_runs", "%d must be >= 0", req.MonteCarloRuns)
	}
	if req.MonteCarloRuns > e.cfg.MaxMonteCarloRuns {
		return errs.Invalid("monte_carlo_runs", "%d exceeds the limit of %d", req.MonteCarloRuns, e.cfg.MaxMonteCarloRuns)
	}
	if req.MonteCarloRuns == 0 && req.Has(AnalysisMonteCarlo) {
		req.MonteCarloRuns = e.cfg.DefaultMonteCarloRuns
	}
	return req.Parameters.Validate()
}

// Has reports whether the request asks for analysis t
func (r *Request) Has(t AnalysisType) bool {
	for _, a := range r.Analyses {
		if a == t {
			return true
		}
	}
	return false
}

// Run executes every requested analysis. Any error fails the whole request;
// batch analyses record their own per-point failures inside their results.
func (e *Engine) Run(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	if err := e.Normalize(&req); err != nil {
		return nil, err
	}

	resp := &Response{
		RunID:     uuid.New().String(),
		Analyses:  req.Analyses,
		CreatedAt: start.UTC(),
	}
	logger := log.With().Str("component", "engine").Str("run_id", resp.RunID).Logger()
	logger.Info().Interface("analyses", req.Analyses).Msg("Valuation started")

	p := req.Parameters
	opts := analysis.Options{Workers: e.cfg.Workers}
	var err error
	for _, a := range req.Analyses {
		if err = ctx.Err(); err != nil {
			return nil, err
		}
		switch a {
		case AnalysisWACC:
			resp.Results.WACC, err = valuation.CalculateDCF(p)
		case AnalysisAPV:
			resp.Results.APV, err = valuation.CalculateAPV(p)
		case AnalysisMultiples:
			resp.Results.Multiples, err = valuation.CalculateComps(p)
		case AnalysisScenario:
			resp.Results.Scenario, err = analysis.RunScenarios(ctx, p, opts)
		case AnalysisSensitivity:
			resp.Results.Sensitivity, err = analysis.RunSensitivity(ctx, p, opts)
		case AnalysisMonteCarlo:
			resp.Results.MonteCarlo, err = analysis.RunMonteCarlo(ctx, p, analysis.MonteCarloConfig{
				Runs:             req.MonteCarloRuns,
				Seed:             req.Seed,
				FailureThreshold: e.cfg.FailureThreshold,
				Options:          opts,
			})
		}
		if err != nil {
			logger.Warn().Err(err).Str("analysis", string(a)).Str("kind", string(errs.KindOf(err))).Msg("Valuation failed")
			return nil, err
		}
	}

	resp.Duration = time.Since(start)
	logger.Info().Dur("took", resp.Duration).Msg("Valuation complete")
	return resp, nil
}
