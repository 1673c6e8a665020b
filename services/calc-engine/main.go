package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/rs/zerolog/log"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logging.Setup("warn", true, nil)
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("calc-engine failed")
		os.Exit(exitCode(err))
	}
}

// exitCode is 2 for bad input or configuration, 3 for a failed calculation
func exitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.InvalidInput, errs.ConfigurationInvalid:
		return 2
	case errs.CalculationInvalid:
		return 3
	}
	return 1
}
