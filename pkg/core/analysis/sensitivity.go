package analysis

import (
	"context"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// SensitivityPoint is one (parameter, test value) run. Outputs are null when
// the run failed.
type SensitivityPoint struct {
	Value           float64  `json:"value"`
	EnterpriseValue *float64 `json:"enterprise_value"`
	PricePerShare   *float64 `json:"price_per_share"`
	WACC            *float64 `json:"wacc"`
	Error           string   `json:"error,omitempty"`
}

// SensitivityResult maps each swept parameter to its points, in input order
type SensitivityResult struct {
	Parameters map[string][]SensitivityPoint `json:"parameters"`
	Points     int                           `json:"points"`
	Failed     int                           `json:"failed"`
}

type sweepJob struct {
	field valuation.Field
	index int
	value float64
}

// ValidateSensitivity checks that every swept name is a numeric scalar
// parameter with at least one finite test value.
func ValidateSensitivity(ranges map[string][]float64) error {
	if len(ranges) == 0 {
		return errs.Configuration("sensitivity_parameter_ranges", "no parameters configured")
	}
	for name, values := range ranges {
		if _, err := valuation.ScalarField(name); err != nil {
			return err
		}
		if len(values) == 0 {
			return errs.Configuration(name, "no test values supplied")
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return errs.Configuration(name, "test value[%d] is not finite", i)
			}
		}
	}
	return nil
}

// RunSensitivity varies one parameter at a time over its test values. Each
// point runs WACC-DCF on a fresh copy of base, so WACC is re-resolved from the
// varied inputs (sweeping target_debt_to_value_ratio re-levers beta each time).
func RunSensitivity(ctx context.Context, base *valuation.Parameters, opts Options) (*SensitivityResult, error) {
	ranges := base.SensitivityParameterRanges
	if err := ValidateSensitivity(ranges); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ranges))
	for name := range ranges {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := valuation.CheckVaried(base, name); err != nil {
			return nil, err
		}
	}

	var jobs []sweepJob
	res := &SensitivityResult{Parameters: make(map[string][]SensitivityPoint, len(names))}
	for _, name := range names {
		f, _ := valuation.ScalarField(name)
		res.Parameters[name] = make([]SensitivityPoint, len(ranges[name]))
		for i, v := range ranges[name] {
			jobs = append(jobs, sweepJob{field: f, index: i, value: v})
		}
	}

	points := make([]SensitivityPoint, len(jobs))
	err := forEach(ctx, len(jobs), opts.workers(), func(i int) {
		points[i] = runPoint(base, jobs[i])
	})
	if err != nil {
		return nil, err
	}

	for i, job := range jobs {
		pt := points[i]
		res.Parameters[job.field.Name][job.index] = pt
		res.Points++
		if pt.Error != "" {
			res.Failed++
			log.Debug().Str("component", "sensitivity").Str("parameter", job.field.Name).
				Float64("value", job.value).Str("error", pt.Error).Msg("Sensitivity point failed")
		}
	}
	log.Info().Str("component", "sensitivity").Int("points", res.Points).Int("failed", res.Failed).Msg("Sweep complete")
	return res, nil
}

func runPoint(base *valuation.Parameters, job sweepJob) SensitivityPoint {
	pt := SensitivityPoint{Value: job.value}
	p := base.Clone()
	job.field.SetScalar(p, job.value)
	if err := p.Validate(); err != nil {
		pt.Error = err.Error()
		return pt
	}
	r, err := valuation.CalculateDCF(p)
	if err != nil {
		pt.Error = err.Error()
		return pt
	}
	pt.EnterpriseValue = valuation.Float(r.EnterpriseValue)
	pt.PricePerShare = r.PricePerShare
	pt.WACC = valuation.Float(r.WACC.WACC)
	return pt
}
