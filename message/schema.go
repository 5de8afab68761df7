package message

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/chatsession/errors"
)

// Field schemas for the envelope types whose Values are converted to typed
// structures. Types without a schema accept any Values.
var schemaSources = map[Type]string{
	TypeStatusResponse: `{
		"type": "object",
		"properties": {
			"ServiceName":      {"type": ["string", "null"]},
			"StatusCode":       {"type": ["number", "string"]},
			"StatusMessage":    {"type": ["string", "null"]},
			"StatusDetails":    {"type": ["object", "null"]},
			"ServerTime":       {"type": ["string", "number", "null"]},
			"ServerTimeOffset": {"type": ["number", "string"]}
		}
	}`,
	TypeCommand: `{
		"type": "object",
		"required": ["Command"],
		"properties": {
			"Command":   {"type": "string", "minLength": 1},
			"Arguments": {"type": ["array", "null"]}
		}
	}`,
	TypeError: `{
		"type": "object",
		"properties": {
			"Message": {"type": ["string", "null"]}
		}
	}`,
}

var schemas = compileSchemas()

func compileSchemas() map[Type]*gojsonschema.Schema {
	compiled := make(map[Type]*gojsonschema.Schema, len(schemaSources))
	for t, src := range schemaSources {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
		if err != nil {
			panic(fmt.Sprintf("message: invalid %s schema: %v", t, err))
		}
		compiled[t] = schema
	}
	return compiled
}

// Validate checks env's Values against the schema registered for as.
// as is usually env.Type; status-update notifications are validated as
// STATUS_RESPONSE.
func Validate(env *Envelope, as Type) error {
	schema, ok := schemas[as]
	if !ok {
		return nil
	}

	doc, err := json.Marshal(env.Values)
	if err != nil {
		return errors.WrapInvalid(err, "message", "Validate", "encode values")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"message", "Validate", "run schema")
	}
	if result.Valid() {
		return nil
	}

	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrInvalidData, strings.Join(problems, "; ")),
		"message", "Validate", fmt.Sprintf("validate %s values", as))
}
