// Package validator implements the input/output schema validation port
// described in spec.md §4.5, backed by JSON Schema (santhosh-tekuri/jsonschema/v6),
// the same library the urpc toolchain in the wider retrieval pack uses for its
// own runtime request validation.
package validator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/forattini-dev/raffel/internal/errs"
)

// Validator is the port every registry entry's InputSchema/OutputSchema is
// validated through before/after a handler runs.
type Validator interface {
	// Validate checks value (already unmarshaled into a Go value, typically
	// map[string]any) against the named schema and returns a VALIDATION_ERROR
	// with one errs.FieldError per violation when it fails.
	Validate(schemaName string, value any) error
	// Register compiles and stores a JSON Schema document under name so
	// later Validate calls can reference it.
	Register(name string, schemaJSON []byte) error
}

// JSONSchemaValidator is the default Validator, compiling and caching schemas
// with jsonschema/v6.
type JSONSchemaValidator struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// New returns an empty JSONSchemaValidator.
func New() *JSONSchemaValidator {
	return &JSONSchemaValidator{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and stores it under name.
func (v *JSONSchemaValidator) Register(name string, schemaJSON []byte) error {
	compiler := jsonschema.NewCompiler()
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("validator: decode schema %q: %w", name, err)
	}
	resource := "mem://" + name
	if err := compiler.AddResource(resource, doc); err != nil {
		return fmt.Errorf("validator: add schema %q: %w", name, err)
	}
	schema, err := compiler.Compile(resource)
	if err != nil {
		return fmt.Errorf("validator: compile schema %q: %w", name, err)
	}
	v.mu.Lock()
	v.schemas[name] = schema
	v.mu.Unlock()
	return nil
}

// Validate checks value against the named schema.
func (v *JSONSchemaValidator) Validate(schemaName string, value any) error {
	if schemaName == "" {
		return nil
	}
	v.mu.RLock()
	schema, ok := v.schemas[schemaName]
	v.mu.RUnlock()
	if !ok {
		return errs.Newf(errs.Internal, "validator: unknown schema %q", schemaName)
	}

	// jsonschema/v6 validates against "plain" JSON values (map[string]any,
	// []any, string, float64, bool, nil); round-trip through JSON so callers
	// can pass typed structs as well as maps.
	normalized, err := roundTrip(value)
	if err != nil {
		return errs.Newf(errs.ValidationError, "value is not JSON-representable: %v", err)
	}

	if err := schema.Validate(normalized); err != nil {
		return toValidationError(err)
	}
	return nil
}

func roundTrip(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func toValidationError(err error) *errs.Error {
	var fields []errs.FieldError
	if verr, ok := err.(*jsonschema.ValidationError); ok {
		for _, cause := range verr.Causes {
			fields = append(fields, errs.FieldError{
				Field:   joinPath(cause.InstanceLocation),
				Message: cause.Error(),
			})
		}
		if len(fields) == 0 {
			fields = append(fields, errs.FieldError{
				Field:   joinPath(verr.InstanceLocation),
				Message: verr.Error(),
			})
		}
	} else {
		fields = append(fields, errs.FieldError{Field: "", Message: err.Error()})
	}
	return errs.Validation(fields)
}

func joinPath(segments []string) string {
	if len(segments) == 0 {
		return "$"
	}
	out := ""
	for _, s := range segments {
		out += "/" + s
	}
	return out
}
