package services

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/fluxline/fluxline/pkg/models"
)

// Per-step-type parameter schemas. Validated synchronously before a run is
// created, so malformed step params are rejected and never enqueued.
var stepParamSchemas = map[models.StepType]string{
	models.StepTypeSQLQuery: `{
		"type": "object",
		"properties": {
			"max_rows":  {"type": "integer", "minimum": 1},
			"read_only": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	models.StepTypeRedisCommand: `{
		"type": "object",
		"properties": {
			"key_prefix": {"type": "string"}
		},
		"additionalProperties": false
	}`,
	models.StepTypeHTTPRequest: `{
		"type": "object",
		"properties": {
			"expected_status": {"type": "integer", "minimum": 100, "maximum": 599}
		},
		"additionalProperties": false
	}`,
}

func validateStep(ordinal int, step models.PipelineStep) error {
	err := step.Engine.Validate()
	if err != nil {
		return fmt.Errorf("%w: step %d: %w", ErrInvalidStep, ordinal, err)
	}

	schema, ok := stepParamSchemas[step.Type]
	if !ok {
		return fmt.Errorf("%w: step %d: unknown step type %q", ErrInvalidStep, ordinal, step.Type)
	}

	params := step.Params
	if params == nil {
		params = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewGoLoader(params),
	)
	if err != nil {
		return fmt.Errorf("%w: step %d: %w", ErrInvalidStep, ordinal, err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: step %d: params do not match schema for %q: %v",
			ErrInvalidStep, ordinal, step.Type, result.Errors())
	}

	return nil
}
