// Package jsonschema validates JSON documents against JSON Schema definitions.
package jsonschema

import (
	"fmt"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled schema, safe for concurrent use
type Schema struct {
	compiled *jsonschema.Schema
}

var (
	cacheMu sync.RWMutex
	cache   = make(map[string]*Schema)
)

// Compile compiles schemaStr. Results are cached by schema text since the same
// response check runs once per iteration per virtual user.
func Compile(schemaStr string) (*Schema, error) {
	cacheMu.RLock()
	s, ok := cache[schemaStr]
	cacheMu.RUnlock()
	if ok {
		return s, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	s = &Schema{compiled: compiled}
	cacheMu.Lock()
	cache[schemaStr] = s
	cacheMu.Unlock()
	return s, nil
}

// Check validates jsonStr and returns every violation found
func (s *Schema) Check(jsonStr string) ValidationErrors {
	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return ValidationErrors{fmt.Errorf("invalid JSON: %w", err)}
	}

	err := s.compiled.Validate(doc)
	if err == nil {
		return nil
	}
	if validationErr, ok := err.(*jsonschema.ValidationError); ok {
		return extractValidationErrors(validationErr)
	}
	return ValidationErrors{err}
}

// Validate validates a JSON string against a JSON Schema.
// An error is returned only for an unusable schema or document.
func Validate(jsonStr, schemaStr string) (bool, error) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, err
	}

	var doc interface{}
	if err := json.Unmarshal([]byte(jsonStr), &doc); err != nil {
		return false, fmt.Errorf("invalid JSON: %w", err)
	}
	return s.compiled.Validate(doc) == nil, nil
}

// ValidateWithErrors validates a JSON string against a JSON Schema and
// returns the individual violations when it does not conform
func ValidateWithErrors(jsonStr, schemaStr string) (bool, ValidationErrors) {
	s, err := Compile(schemaStr)
	if err != nil {
		return false, ValidationErrors{err}
	}
	errs := s.Check(jsonStr)
	return len(errs) == 0, errs
}

func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	if err.Message != "" && len(err.Causes) == 0 {
		errs = append(errs, fmt.Errorf("validation error at %q: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	if len(errs) == 0 {
		errs = append(errs, fmt.Errorf("validation error at %q: %s", err.InstanceLocation, err.Message))
	}
	return errs
}
