package mnemo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/mnemo-ai/mnemo/pkg/store"
)

// ErrNotFound is returned when a memory does not exist.
var ErrNotFound = store.ErrNotFound

// ValidationError reports invalid caller input.
type ValidationError = store.ValidationError

// ConflictError reports an operation rejected because the memory is in use,
// for example deleting a source of an in-progress consolidation.
type ConflictError struct {
	MemoryID string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on memory %s: %s", e.MemoryID, e.Reason)
}

// DependencyError wraps a failure of an external collaborator such as the
// embedding provider or the summarizer.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s dependency failed: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error {
	return e.Err
}

// Error type constants for classification
const (
	ErrTypeValidation = "validation"
	ErrTypeNotFound   = "not_found"
	ErrTypeConflict   = "conflict"
	ErrTypeDependency = "dependency"
	ErrTypeDatabase   = "database"
	ErrTypeTimeout    = "timeout"
	ErrTypeNetwork    = "network"
	ErrTypeUnknown    = "unknown"
)

// ClassifyError inspects an error and returns its type classification.
// This enables grouping errors by category in metrics.
func ClassifyError(err error) string {
	if err == nil {
		return ""
	}

	if errors.Is(err, ErrNotFound) {
		return ErrTypeNotFound
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ErrTypeValidation
	}

	var conflictErr *ConflictError
	if errors.As(err, &conflictErr) {
		return ErrTypeConflict
	}

	errStrLower := strings.ToLower(err.Error())

	// Check for timeout errors
	if errors.Is(err, context.DeadlineExceeded) ||
		strings.Contains(errStrLower, "timeout") ||
		strings.Contains(errStrLower, "deadline exceeded") {
		return ErrTypeTimeout
	}

	var depErr *DependencyError
	if errors.As(err, &depErr) {
		return ErrTypeDependency
	}

	// Check for network errors
	var netErr *net.OpError
	if errors.As(err, &netErr) {
		return ErrTypeNetwork
	}
	if strings.Contains(errStrLower, "connection refused") ||
		strings.Contains(errStrLower, "connection reset") ||
		strings.Contains(errStrLower, "no such host") ||
		strings.Contains(errStrLower, "network is unreachable") ||
		strings.Contains(errStrLower, "dial tcp") {
		return ErrTypeNetwork
	}

	// Check for database errors (SQLite specific)
	if strings.Contains(errStrLower, "sql") ||
		strings.Contains(errStrLower, "database") ||
		strings.Contains(errStrLower, "constraint") ||
		strings.Contains(errStrLower, "transaction") {
		return ErrTypeDatabase
	}

	return ErrTypeUnknown
}
