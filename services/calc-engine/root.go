package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"dcf_valuation/pkg/core/analysis"
	"dcf_valuation/pkg/core/engine"
	"dcf_valuation/pkg/core/logging"
	"dcf_valuation/pkg/core/report"
	"dcf_valuation/pkg/core/utils"
	"dcf_valuation/pkg/core/valuation"
)

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:           "calc-engine",
		Short:         "DCF valuation calculator",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(logLevel, true, cmd.ErrOrStderr())
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "trace|debug|info|warn|error")
	root.AddCommand(checkCmd(), calculateCmd())
	return root
}

func checkCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a parameter file without valuing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := utils.LoadParameters(path)
			if err != nil {
				return err
			}
			if err := checkBatchConfig(p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "OK: %d-year horizon, %d peers, %d scenarios, %d sensitivity parameters, %d simulated variables\n",
				p.Horizon(), len(p.ComparableMultiplesData), len(p.ScenarioDefinitions), len(p.SensitivityParameterRanges), len(p.MonteCarloVariableSpecs))
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "params", "p", "", "parameter file (JSON or Hjson)")
	cmd.MarkFlagRequired("params")
	return cmd
}

// checkBatchConfig validates whichever batch configurations are present
func checkBatchConfig(p *valuation.Parameters) error {
	if len(p.ScenarioDefinitions) > 0 {
		if err := analysis.ValidateScenarios(p.ScenarioDefinitions); err != nil {
			return err
		}
	}
	if len(p.SensitivityParameterRanges) > 0 {
		if err := analysis.ValidateSensitivity(p.SensitivityParameterRanges); err != nil {
			return err
		}
		for name := range p.SensitivityParameterRanges {
			if err := valuation.CheckVaried(p, name); err != nil {
				return err
			}
		}
	}
	for name, spec := range p.MonteCarloVariableSpecs {
		if err := analysis.ValidateSpec(name, spec); err != nil {
			return err
		}
		if err := valuation.CheckVaried(p, name); err != nil {
			return err
		}
	}
	return nil
}

func calculateCmd() *cobra.Command {
	var (
		path     string
		analyses []string
		runs     int
		seed     uint64
		output   string
		workers  int
	)
	cmd := &cobra.Command{
		Use:   "calculate",
		Short: "Run valuation analyses on a parameter file",
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := report.ParseFormat(output)
			if err != nil {
				return err
			}
			p, err := utils.LoadParameters(path)
			if err != nil {
				return err
			}
			types, err := engine.ParseAnalyses(analyses)
			if err != nil {
				return err
			}
			req := engine.Request{Parameters: p, Analyses: types, MonteCarloRuns: runs}
			if cmd.Flags().Changed("seed") {
				req.Seed = &seed
			}

			resp, err := engine.New(engine.Config{Workers: workers}).Run(cmd.Context(), req)
			if err != nil {
				return err
			}
			body, err := report.Render(resp, format)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			out.Write(body)
			if len(body) > 0 && body[len(body)-1] != '\n' {
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "params", "p", "", "parameter file (JSON or Hjson)")
	cmd.Flags().StringSliceVarP(&analyses, "analyses", "a", nil, "comma-separated analyses: wacc,apv,multiples,scenario,sensitivity,monte_carlo")
	cmd.Flags().IntVarP(&runs, "runs", "n", 0, "Monte Carlo iterations (0 uses the default)")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Monte Carlo seed; omitted draws a fresh one")
	cmd.Flags().StringVarP(&output, "output", "o", "json", "json|markdown|html")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "worker goroutines (0 uses GOMAXPROCS)")
	cmd.MarkFlagRequired("params")
	return cmd
}
