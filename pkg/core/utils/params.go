package utils

import (
	"fmt"
	"os"

	"dcf_valuation/pkg/core/errs"
	"dcf_valuation/pkg/core/valuation"
)

// ParseParameters decodes a parameter record leniently and validates it.
// Unknown fields are rejected.
func ParseParameters(input string) (*valuation.Parameters, error) {
	var p valuation.Parameters
	if _, err := SmartParse(input, &p); err != nil {
		return nil, errs.Wrap(errs.InvalidInput, "parameters", err, "cannot parse parameter record")
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadParameters reads a JSON or Hjson parameter file
func LoadParameters(path string) (*valuation.Parameters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return ParseParameters(string(data))
}
