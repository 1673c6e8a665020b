package analysis

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// ScenarioOutcome is the WACC-DCF result for one named scenario. Value fields
// are null when the scenario failed.
type ScenarioOutcome struct {
	Name            string    `json:"name"`
	Overrides       []string  `json:"overrides"`
	EnterpriseValue *float64  `json:"enterprise_value"`
	EquityValue     *float64  `json:"equity_value"`
	PricePerShare   *float64  `json:"price_per_share"`
	WACC            *float64  `json:"wacc"`
	Error           string    `json:"error,omitempty"`
	ErrorKind       errs.Kind `json:"error_kind,omitempty"`
}

// Failed reports whether the scenario produced no valuation
func (o ScenarioOutcome) Failed() bool { return o.Error != "" }

// ScenarioResult holds every scenario keyed by name
type ScenarioResult struct {
	Scenarios  map[string]ScenarioOutcome `json:"scenarios"`
	Successful int                        `json:"successful"`
	Failed     int                        `json:"failed"`
}

// ValidateScenarios rejects unknown override fields and badly typed values
// before anything runs.
func ValidateScenarios(defs map[string]map[string]interface{}) error {
	if len(defs) == 0 {
		return errs.Configuration("scenario_definitions", "no scenarios configured")
	}
	for name, overrides := range defs {
		if err := valuation.ValidateOverrides(overrides); err != nil {
			return errs.Wrap(errs.ConfigurationInvalid, "scenario_definitions."+name, err, "invalid override")
		}
	}
	return nil
}

// RunScenarios re-values the firm once per scenario_definitions entry, each
// on its own copy of base. A scenario that fails (growth at or above WACC,
// an out-of-range override) is recorded and the rest still run.
func RunScenarios(ctx context.Context, base *valuation.Parameters, opts Options) (*ScenarioResult, error) {
	defs := base.ScenarioDefinitions
	if err := ValidateScenarios(defs); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)

	outs := make([]ScenarioOutcome, len(names))
	err := forEach(ctx, len(names), opts.workers(), func(i int) {
		outs[i] = runScenario(base, names[i], defs[names[i]])
	})
	if err != nil {
		return nil, err
	}

	res := &ScenarioResult{Scenarios: make(map[string]ScenarioOutcome, len(outs))}
	for _, o := range outs {
		res.Scenarios[o.Name] = o
		if o.Failed() {
			res.Failed++
			log.Debug().Str("component", "scenario").Str("scenario", o.Name).Str("error", o.Error).Msg("Scenario failed")
		} else {
			res.Successful++
		}
	}
	log.Info().Str("component", "scenario").Int("ok", res.Successful).Int("failed", res.Failed).Msg("Scenarios complete")
	return res, nil
}

func runScenario(base *valuation.Parameters, name string, overrides map[string]interface{}) ScenarioOutcome {
	out := ScenarioOutcome{Name: name, Overrides: make([]string, 0, len(overrides))}
	for k := range overrides {
		out.Overrides = append(out.Overrides, k)
	}
	sort.Strings(out.Overrides)

	p := base.Clone()
	if err := valuation.ApplyOverrides(p, overrides); err != nil {
		return out.fail(err)
	}
	for _, k := range out.Overrides {
		if err := valuation.CheckVaried(p, k); err != nil {
			return out.fail(err)
		}
	}
	if err := p.Validate(); err != nil {
		return out.fail(err)
	}
	r, err := valuation.CalculateDCF(p)
	if err != nil {
		return out.fail(err)
	}
	out.EnterpriseValue = valuation.Float(r.EnterpriseValue)
	out.EquityValue = valuation.Float(r.EquityValue)
	out.PricePerShare = r.PricePerShare
	out.WACC = valuation.Float(r.WACC.WACC)
	return out
}

func (o ScenarioOutcome) fail(err error) ScenarioOutcome {
	o.Error = err.Error()
	o.ErrorKind = errs.KindOf(err)
	return o
}
