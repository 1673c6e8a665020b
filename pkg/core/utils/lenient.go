package utils

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	"github.com/hjson/hjson-go/v4"
)

// RepairJSON fixes common hand-editing mistakes.
// Supported repairs:
// - Missing quotes around keys
// - Single quotes instead of double quotes
// - Unclosed arrays/objects
// - Trailing commas
// - Comments in JSON
func RepairJSON(malformedJSON string) (string, error) {
	repaired, err := jsonrepair.RepairJSON(malformedJSON)
	if err != nil {
		return "", fmt.Errorf("JSON_REPAIR_FAILED: %v", err)
	}
	return repaired, nil
}

// ParseHJSON parses Human-friendly JSON (Hjson) and returns standard JSON.
// Hjson supports comments, unquoted keys and optional commas.
func ParseHJSON(hjsonData string) (string, error) {
	var result interface{}
	if err := hjson.Unmarshal([]byte(hjsonData), &result); err != nil {
		return "", fmt.Errorf("HJSON_PARSE_ERROR: %v", err)
	}

	jsonBytes, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("JSON_MARSHAL_ERROR: %v", err)
	}
	return string(jsonBytes), nil
}

// DecodeStrict unmarshals data into v and rejects unknown fields
func DecodeStrict(data []byte, v interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("unexpected data after top-level value")
	}
	return nil
}

// SmartParse tries multiple parsing strategies and decodes into schema.
// Order of attempts:
// 1. Standard JSON
// 2. Hjson (comments, unquoted keys)
// 3. JSON repair
//
// A candidate that is valid JSON but fails to decode (unknown field, wrong
// type) is reported in preference to a syntax failure.
func SmartParse(input string, schema interface{}) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("SMART_PARSE_FAILED: empty input")
	}

	var decodeErr error
	try := func(candidate string) bool {
		if !json.Valid([]byte(candidate)) {
			return false
		}
		if err := DecodeStrict([]byte(candidate), schema); err != nil {
			if decodeErr == nil {
				decodeErr = err
			}
			return false
		}
		return true
	}

	if try(input) {
		return input, nil
	}
	if converted, err := ParseHJSON(input); err == nil && try(converted) {
		return converted, nil
	}
	if repaired, err := RepairJSON(input); err == nil && try(repaired) {
		return repaired, nil
	}

	if decodeErr != nil {
		return "", fmt.Errorf("SMART_PARSE_FAILED: %w", decodeErr)
	}
	return "", fmt.Errorf("SMART_PARSE_FAILED: all parsing strategies failed for input")
}
