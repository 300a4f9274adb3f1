package worker

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Option schemas are validated client-side so a malformed command fails
// fast with a readable message instead of a worker rejection. Types
// without a dedicated schema fall back to the base schema, which only
// requires options to be a flat object.

const baseOptionsSchema = `{
	"type": "object",
	"additionalProperties": {
		"type": ["string", "number", "boolean"]
	}
}`

var optionSchemas = map[string]string{
	"image-set": `{
		"type": "object",
		"properties": {
			"source_url": {"type": "string", "format": "uri"},
			"max_images": {"type": "integer", "minimum": 1, "maximum": 200},
			"include_floor_plans": {"type": "boolean"}
		},
		"additionalProperties": false
	}`,
	"review-set": `{
		"type": "object",
		"properties": {
			"source_url": {"type": "string", "format": "uri"},
			"max_reviews": {"type": "integer", "minimum": 1, "maximum": 1000},
			"languages": {"type": "array", "items": {"type": "string"}}
		},
		"additionalProperties": false
	}`,
	"competitor-set": `{
		"type": "object",
		"properties": {
			"radius_km": {"type": "number", "minimum": 0.1, "maximum": 50},
			"max_competitors": {"type": "integer", "minimum": 1, "maximum": 50}
		},
		"additionalProperties": false
	}`,
}

var (
	schemaOnce     sync.Once
	schemaErr      error
	compiledBase   *jsonschema.Schema
	compiledByType map[string]*jsonschema.Schema
)

func compileSchemas() {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	add := func(name, raw string) (*jsonschema.Schema, error) {
		url := "quarters://options/" + name + ".json"
		if err := compiler.AddResource(url, strings.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		return schema, nil
	}

	compiledBase, schemaErr = add("base", baseOptionsSchema)
	if schemaErr != nil {
		return
	}

	compiledByType = make(map[string]*jsonschema.Schema, len(optionSchemas))
	for name, raw := range optionSchemas {
		schema, err := add(name, raw)
		if err != nil {
			schemaErr = err
			return
		}
		compiledByType[name] = schema
	}
}

// ValidateOptions checks command options against the job type's schema.
// Nil options are always valid.
func ValidateOptions(jobType string, opts map[string]any) error {
	if opts == nil {
		return nil
	}

	schemaOnce.Do(compileSchemas)
	if schemaErr != nil {
		return schemaErr
	}

	schema, ok := compiledByType[jobType]
	if !ok {
		schema = compiledBase
	}

	// Round-trip through JSON so validation sees the wire representation.
	raw, err := json.Marshal(opts)
	if err != nil {
		return fmt.Errorf("options not serializable: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}

	return schema.Validate(doc)
}
