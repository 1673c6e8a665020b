package analysis

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/distuv"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// DistributionType for Monte Carlo simulation
type DistributionType string

const (
	DistNormal     DistributionType = "normal"
	DistTriangular DistributionType = "triangular"
	DistUniform    DistributionType = "uniform"
	DistLognormal  DistributionType = "lognormal"
)

// SupportedDistributions lists the kinds ValidateSpec accepts
var SupportedDistributions = []DistributionType{DistNormal, DistUniform, DistLognormal, DistTriangular}

// constant is a degenerate distribution (triangular with min == max)
type constant float64

func (c constant) Rand() float64 { return float64(c) }

// ValidateSpec checks one monte_carlo_variable_specs entry: the variable must
// be a numeric scalar parameter and the shape parameters must suit the kind.
func ValidateSpec(variable string, spec valuation.DistributionSpec) error {
	if _, err := valuation.ScalarField(variable); err != nil {
		return err
	}
	field := "monte_carlo_variable_specs." + variable

	finite := func(vs ...float64) bool {
		for _, v := range vs {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return false
			}
		}
		return true
	}

	switch DistributionType(spec.Kind) {
	case DistNormal:
		if !finite(spec.Mean, spec.Std) || spec.Std <= 0 {
			return errs.Configuration(field, "normal needs a finite mean and std > 0 (got mean=%g std=%g)", spec.Mean, spec.Std)
		}
	case DistLognormal:
		if !finite(spec.Mean, spec.Std) || spec.Mean <= 0 || spec.Std <= 0 {
			return errs.Configuration(field,
				"lognormal mean and std are the moments of the variable itself, not of its logarithm, so both must be > 0 (got mean=%g std=%g)",
				spec.Mean, spec.Std)
		}
	case DistUniform:
		if !finite(spec.Low, spec.High) || spec.Low >= spec.High {
			return errs.Configuration(field, "uniform needs low < high (got low=%g high=%g)", spec.Low, spec.High)
		}
	case DistTriangular:
		if !finite(spec.Min, spec.Mode, spec.Max) || spec.Min > spec.Mode || spec.Mode > spec.Max {
			return errs.Configuration(field, "triangular needs min <= mode <= max (got %g, %g, %g)", spec.Min, spec.Mode, spec.Max)
		}
	default:
		return errs.Configuration(field, "unsupported distribution %q (want one of %v)", spec.Kind, SupportedDistributions)
	}
	return nil
}

// NewSampler builds a gonum distribution for spec drawing from src.
// Lognormal mean/std describe the variable itself and are converted to the
// underlying normal: σ² = ln(1 + s²/m²), μ = ln m - σ²/2.
func NewSampler(variable string, spec valuation.DistributionSpec, src rand.Source) (distuv.Rander, error) {
	if err := ValidateSpec(variable, spec); err != nil {
		return nil, err
	}
	switch DistributionType(spec.Kind) {
	case DistNormal:
		return distuv.Normal{Mu: spec.Mean, Sigma: spec.Std, Src: src}, nil
	case DistLognormal:
		sigma2 := math.Log1p((spec.Std * spec.Std) / (spec.Mean * spec.Mean))
		return distuv.LogNormal{Mu: math.Log(spec.Mean) - sigma2/2, Sigma: math.Sqrt(sigma2), Src: src}, nil
	case DistUniform:
		return distuv.Uniform{Min: spec.Low, Max: spec.High, Src: src}, nil
	default: // triangular
		if spec.Min == spec.Max {
			return constant(spec.Min), nil
		}
		return distuv.NewTriangle(spec.Min, spec.Max, spec.Mode, src), nil
	}
}

// GenerateSamples pre-draws runs values for every variable. Variables are
// drawn in sorted order from a single PCG source seeded once, so a seed
// reproduces the whole batch regardless of how iterations are scheduled.
func GenerateSamples(specs map[string]valuation.DistributionSpec, runs int, seed uint64) (map[string][]float64, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	out := make(map[string][]float64, len(names))
	for _, name := range names {
		sampler, err := NewSampler(name, specs[name], src)
		if err != nil {
			return nil, err
		}
		draws := make([]float64, runs)
		for i := range draws {
			draws[i] = sampler.Rand()
		}
		out[name] = draws
	}
	return out, nil
}
