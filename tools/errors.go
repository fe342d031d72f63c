package tools

import (
	"fmt"
	"strings"

	"github.com/m4xw311/tandem/errors"
)

// ErrToolNotFound is returned by Registry.Get for unregistered names.
var ErrToolNotFound = errors.Sentinel("tool not found")

// ExecutionError wraps the cause of a failed tool run.
type ExecutionError struct {
	Tool  string
	Cause error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool '%s' execution failed: %v", e.Tool, e.Cause)
}

func (e *ExecutionError) Unwrap() error { return e.Cause }

// ValidationError reports arguments that do not fit the tool's schema.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("tool '%s' validation failed: %s", e.Tool, strings.Join(e.Problems, ", "))
}

// InterruptRequest is returned from Execute by an interrupt-capable tool
// that needs information from the user before it can produce a result.
// It is a pause signal, not a failure.
type InterruptRequest struct {
	Question string
	Context  map[string]any
}

func (r *InterruptRequest) Error() string {
	return "interrupt requested: " + r.Question
}

// PathTraversalError is raised when a path resolves outside the allowed roots.
type PathTraversalError struct {
	Path string
	Root string
}

func (e *PathTraversalError) Error() string {
	return fmt.Sprintf("Path traversal blocked: '%s' is outside allowed directory '%s'", e.Path, e.Root)
}

// DisallowedCommandError is raised for blocked commands or shell operators.
type DisallowedCommandError struct {
	Command string
	Reason  string
}

func (e *DisallowedCommandError) Error() string {
	return fmt.Sprintf("Command disallowed: '%s'. Reason: %s", e.Command, e.Reason)
}
