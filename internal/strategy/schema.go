package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// planSchemaJSON is the contract a raw model plan must satisfy before
// normalization. Kept permissive on params; the normalizer handles semantic
// back-fill.
const planSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"assistant_text": {"type": "string"},
		"intent": {"type": "string"},
		"params": {"type": "object"},
		"rationale": {"type": "string"},
		"risk_notes": {"type": "array", "items": {"type": "string"}},
		"actions": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"type": {"type": "string"},
					"params": {"type": "object"}
				},
				"required": ["type"]
			}
		}
	},
	"required": ["assistant_text"]
}`

var planSchema = jsonschema.MustCompileString("plan.schema.json", planSchemaJSON)

// ValidatePlanJSON checks a decoded raw plan against the plan schema.
func ValidatePlanJSON(doc any) error {
	if err := planSchema.Validate(doc); err != nil {
		return fmt.Errorf("strategy: plan rejected by schema: %w", err)
	}
	return nil
}

// SummarizeSchemaError flattens a validation error into one line for the API
// error envelope.
func SummarizeSchemaError(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	loc := strings.TrimPrefix(leaf.InstanceLocation, "/")
	if loc == "" {
		return leaf.Message
	}
	return loc + ": " + leaf.Message
}
