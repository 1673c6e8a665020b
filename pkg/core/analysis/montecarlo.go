package analysis

import (
	"context"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// DefaultFailureThreshold flags a simulation where more than half the runs failed
const DefaultFailureThreshold = 0.5

// Valuation methods run per iteration
const (
	MethodWACC = "wacc"
	MethodAPV  = "apv"
)

// MonteCarloConfig controls one simulation batch
type MonteCarloConfig struct {
	Runs             int
	Seed             *uint64 // nil draws a fresh seed, reported in the result
	FailureThreshold float64 // <= 0 uses DefaultFailureThreshold
	Options
}

// MethodStats aggregates one valuation method across iterations
type MethodStats struct {
	Method          string         `json:"method"`
	Successful      int            `json:"successful"`
	Failed          int            `json:"failed"`
	FailureRate     float64        `json:"failure_rate"`
	HighFailureRate bool           `json:"high_failure_rate"`
	Warning         string         `json:"warning,omitempty"`
	FailureReasons  map[string]int `json:"failure_reasons,omitempty"` // error kind -> count
	EnterpriseValue *Distribution  `json:"enterprise_value"`
	EquityValue     *Distribution  `json:"equity_value"`
	PricePerShare   *Distribution  `json:"price_per_share"`
}

// MonteCarloResult is the simulation output for both methods
type MonteCarloResult struct {
	Runs      int                      `json:"runs"`
	Seed      uint64                   `json:"seed"`
	Variables []string                 `json:"variables"`
	Samples   map[string]*Distribution `json:"samples"` // realised input draws
	WACC      MethodStats              `json:"wacc"`
	APV       MethodStats              `json:"apv"`
	Duration  time.Duration            `json:"duration_ns"`
}

type outcome struct {
	ok     bool
	ev, eq float64
	price  *float64
	kind   errs.Kind
}

// RunMonteCarlo samples every configured variable, re-values the firm with
// both WACC-DCF and APV per draw, and aggregates the successful runs. A failed
// or non-finite draw is counted against its method and never aborts the batch.
func RunMonteCarlo(ctx context.Context, base *valuation.Parameters, cfg MonteCarloConfig) (*MonteCarloResult, error) {
	start := time.Now()
	if cfg.Runs <= 0 {
		return nil, errs.Invalid("monte_carlo_runs", "%d must be > 0", cfg.Runs)
	}
	specs := base.MonteCarloVariableSpecs
	if len(specs) == 0 {
		return nil, errs.Configuration("monte_carlo_variable_specs", "no variables configured")
	}

	vars := make([]string, 0, len(specs))
	fields := make([]valuation.Field, 0, len(specs))
	for name := range specs {
		vars = append(vars, name)
	}
	sort.Strings(vars)
	for _, name := range vars {
		if err := ValidateSpec(name, specs[name]); err != nil {
			return nil, err
		}
		if err := valuation.CheckVaried(base, name); err != nil {
			return nil, err
		}
		f, _ := valuation.ScalarField(name)
		fields = append(fields, f)
	}

	var seed uint64
	if cfg.Seed != nil {
		seed = *cfg.Seed
	} else {
		seed = rand.Uint64()
	}
	samples, err := GenerateSamples(specs, cfg.Runs, seed)
	if err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "montecarlo").Int("runs", cfg.Runs).Uint64("seed", seed).Logger()
	logger.Info().Strs("variables", vars).Msg("Starting simulation")

	waccOut := make([]outcome, cfg.Runs)
	apvOut := make([]outcome, cfg.Runs)
	err = forEach(ctx, cfg.Runs, cfg.workers(), func(i int) {
		p := base.Clone()
		for j, f := range fields {
			f.SetScalar(p, samples[vars[j]][i])
		}
		if err := p.Validate(); err != nil {
			waccOut[i], apvOut[i] = failed(err), failed(err)
			return
		}

		if r, err := valuation.CalculateDCF(p); err != nil {
			waccOut[i] = failed(err)
		} else {
			waccOut[i] = succeeded(r.EnterpriseValue, r.EquityValue, r.PricePerShare)
		}
		if r, err := valuation.CalculateAPV(p); err != nil {
			apvOut[i] = failed(err)
		} else {
			apvOut[i] = succeeded(r.EnterpriseValue, r.EquityValue, r.PricePerShare)
		}
	})
	if err != nil {
		return nil, err
	}

	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	res := &MonteCarloResult{
		Runs:      cfg.Runs,
		Seed:      seed,
		Variables: vars,
		Samples:   make(map[string]*Distribution, len(vars)),
		WACC:      aggregate(MethodWACC, waccOut, threshold),
		APV:       aggregate(MethodAPV, apvOut, threshold),
	}
	for _, v := range vars {
		res.Samples[v] = Describe(samples[v])
	}
	res.Duration = time.Since(start)

	for _, m := range []MethodStats{res.WACC, res.APV} {
		if m.HighFailureRate {
			logger.Warn().Str("method", m.Method).Float64("failure_rate", m.FailureRate).
				Interface("reasons", m.FailureReasons).Msg(m.Warning)
		}
	}
	logger.Info().Int("wacc_ok", res.WACC.Successful).Int("apv_ok", res.APV.Successful).
		Dur("took", res.Duration).Msg("Simulation complete")
	return res, nil
}

func succeeded(ev, eq float64, price *float64) outcome {
	if !finite(ev) || !finite(eq) || (price != nil && !finite(*price)) {
		return outcome{kind: errs.CalculationInvalid}
	}
	return outcome{ok: true, ev: ev, eq: eq, price: price}
}

func failed(err error) outcome {
	kind := errs.KindOf(err)
	if kind == "" {
		kind = "unknown"
	}
	return outcome{kind: kind}
}

func aggregate(method string, outs []outcome, threshold float64) MethodStats {
	var ev, eq, price []float64
	reasons := map[string]int{}
	for _, o := range outs {
		if !o.ok {
			reasons[string(o.kind)]++
			continue
		}
		ev = append(ev, o.ev)
		eq = append(eq, o.eq)
		if o.price != nil {
			price = append(price, *o.price)
		}
	}

	m := MethodStats{
		Method:          method,
		Successful:      len(ev),
		Failed:          len(outs) - len(ev),
		EnterpriseValue: Describe(ev),
		EquityValue:     Describe(eq),
		PricePerShare:   Describe(price),
	}
	if len(reasons) > 0 {
		m.FailureReasons = reasons
	}
	if len(outs) > 0 {
		m.FailureRate = float64(m.Failed) / float64(len(outs))
	}
	if m.FailureRate > threshold {
		m.HighFailureRate = true
		m.Warning = "more than the tolerated share of simulation runs failed; check the distributions " +
			"(sampled terminal growth at or above the sampled discount rate is the usual cause)"
	}
	return m
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
