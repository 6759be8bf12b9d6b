package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationError lists the schema violations of one tool call
type ValidationError struct {
	Tool   string
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, strings.Join(e.Errors, "; "))
}

type validatedTool struct {
	Tool
	schema *gojsonschema.Schema
}

func withValidation(tool Tool) (Tool, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(tool.Schema()))
	if err != nil {
		return nil, fmt.Errorf("invalid schema for %s: %w", tool.Name(), err)
	}
	return &validatedTool{Tool: tool, schema: schema}, nil
}

// Call validates the JSON input and then runs the wrapped tool
func (v *validatedTool) Call(ctx context.Context, input string) (string, error) {
	if err := ValidateArgs(v.schema, v.Name(), input); err != nil {
		return "", err
	}
	return v.Tool.Call(ctx, input)
}

// ValidateArgs checks a JSON argument document against schema
func ValidateArgs(schema *gojsonschema.Schema, toolName, input string) error {
	if strings.TrimSpace(input) == "" {
		input = "{}"
	}

	var args any
	if err := json.Unmarshal([]byte(input), &args); err != nil {
		return &ValidationError{Tool: toolName, Errors: []string{"arguments are not valid JSON: " + err.Error()}}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return &ValidationError{Tool: toolName, Errors: problems}
	}
	return nil
}

// objectSchema builds a JSON schema for an object of required string fields
func objectSchema(fields map[string]string) map[string]any {
	properties := make(map[string]any, len(fields))
	required := make([]any, 0, len(fields))
	for name, description := range fields {
		properties[name] = map[string]any{
			"type":        "string",
			"minLength":   1,
			"description": description,
		}
		required = append(required, name)
	}
	return map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	}
}
