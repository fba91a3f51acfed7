// internal/schema/validator.go
// Package schema provides JSON schema validation for cached documents.
// A cached value that does not match the schema of its namespace is treated as a miss
// rather than decoded into a half-populated record.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// mediaSchema is shared by the app and category schemas.
const mediaSchema = `{"type":"object","required":["url"],"properties":{"url":{"type":"string","minLength":1},"width":{"type":"integer","minimum":0},"height":{"type":"integer","minimum":0}}}`

// appSchema describes a cached model.App.
var appSchema = `{
	"type":"object",
	"required":["name","title"],
	"properties":{
		"name":{"type":"string","minLength":1},
		"title":{"type":"string"},
		"publisher":{"type":"string"},
		"publisherValidated":{"type":"boolean"},
		"summary":{"type":"string"},
		"description":{"type":"string"},
		"icon":` + mediaSchema + `,
		"screenshots":{"type":["array","null"],"items":` + mediaSchema + `},
		"installed":{"type":"boolean"},
		"installedSize":{"type":"integer","minimum":0},
		"downloadSize":{"type":"integer","minimum":0},
		"ratings":{"type":"object","properties":{
			"total":{"type":"integer","minimum":0},
			"stars":{"type":"array","minItems":5,"maxItems":5,"items":{"type":"integer","minimum":0}},
			"average":{"type":"number","minimum":0,"maximum":5}
		}}
	}
}`

// reviewsSchema describes a cached []model.Review.
const reviewsSchema = `{
	"type":"array",
	"items":{
		"type":"object",
		"required":["review_id","rating"],
		"properties":{
			"review_id":{"type":"integer"},
			"rating":{"type":"integer","minimum":0,"maximum":100},
			"summary":{"type":"string"},
			"description":{"type":"string"},
			"reviewer_name":{"type":"string"},
			"date_created":{"type":"number"}
		}
	}
}`

// categorySchema describes a cached model.Category.
var categorySchema = `{
	"type":"object",
	"required":["name","apps"],
	"properties":{
		"name":{"type":"string","minLength":1},
		"title":{"type":"string"},
		"summary":{"type":"string"},
		"apps":{"type":["array","null"],"items":` + appSchema + `}
	}
}`

// Validator validates cached documents against per-namespace JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema // Map of namespace to compiled schema
}

// NewValidator compiles the schemas for the apps, reviews and categories namespaces.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}

	for namespace, doc := range map[string]string{
		"apps":       appSchema,
		"reviews":    reviewsSchema,
		"categories": categorySchema,
	} {
		if err := v.loadSchema(namespace, doc); err != nil {
			return nil, fmt.Errorf("failed to load %s schema: %w", namespace, err)
		}
	}

	return v, nil
}

// loadSchema parses and compiles the JSON schema for a namespace.
func (v *Validator) loadSchema(namespace, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", namespace, err)
	}
	v.schemas[namespace] = schema
	return nil
}

// Validate checks a cached document against the schema of its namespace.
// Namespaces without a schema are accepted as long as the document is valid JSON.
func (v *Validator) Validate(namespace string, doc json.RawMessage) error {
	schema, exists := v.schemas[namespace]
	if !exists {
		if !json.Valid(doc) {
			return fmt.Errorf("invalid JSON document")
		}
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return fmt.Errorf("validation failed: %s", strings.Join(errs, "; "))
	}

	return nil
}
