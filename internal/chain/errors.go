package chain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingInput is returned when a run is requested without a problem statement.
var ErrMissingInput = errors.New("problem statement is required")

// UpstreamError wraps a failure of the model collaborator.
type UpstreamError struct {
	Role  Role
	Depth int
	Err   error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s call failed at depth %d: %v", e.Role, e.Depth, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// ParseError means the model text was not valid JSON after cleanup.
// Raw holds the text as received so it can be logged.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse model output: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// FieldError describes one missing or mistyped field.
type FieldError struct {
	Field   string `json:"field"`
	Problem string `json:"problem"`
}

// SchemaViolationError means a parsed document does not have the shape
// required for the role that produced it.
type SchemaViolationError struct {
	Role   Role
	Fields []FieldError
}

func (e *SchemaViolationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Problem)
	}
	return fmt.Sprintf("invalid %s output: %s", e.Role, strings.Join(parts, "; "))
}
