package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorClass partitions errors by how the caller should react to them.
type ErrorClass string

const (
	// ErrorClassValidation indicates the declared configuration is unusable.
	// Raised before any provider call is made; nothing to roll back.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassProvider indicates a single node's provider operation failed.
	// Recorded on that node; sibling subtrees keep executing.
	ErrorClassProvider ErrorClass = "provider"

	// ErrorClassPartial indicates the run finished with one or more failed or
	// skipped nodes. State for succeeded nodes is already persisted.
	ErrorClassPartial ErrorClass = "partial"
)

// CycleError reports a circular dependency among resource specs. Cycle lists
// the participating ids in path order with the first id repeated at the end.
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Cycle, " -> "))
}

// DanglingReferenceError reports a spec referencing an id that is not part of
// the declaration set.
type DanglingReferenceError struct {
	From string
	To   string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("resource %q references unknown resource %q", e.From, e.To)
}

// ValidationError wraps graph-level configuration failures. It is terminal for
// the run and guaranteed to precede all provider calls.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError wraps err as a run-terminal validation failure.
func NewValidationError(err error) *ValidationError {
	return &ValidationError{Err: err}
}

// ProviderError wraps a single node's apply/delete/poll failure with the
// resource and operation it occurred on.
type ProviderError struct {
	ResourceID string
	Op         string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s failed for resource %q: %v", e.Op, e.ResourceID, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// NewProviderError wraps err as a node-scoped provider failure.
func NewProviderError(resourceID, op string, err error) *ProviderError {
	return &ProviderError{ResourceID: resourceID, Op: op, Err: err}
}

// ReadinessTimeoutError is the ProviderError subtype raised when a node's
// asynchronous completion predicate never reported ready within budget.
type ReadinessTimeoutError struct {
	ResourceID string
	Timeout    time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("resource %q did not become ready within %s", e.ResourceID, e.Timeout)
}

// PartialFailureError is the run-level aggregate returned when one or more
// nodes failed or were skipped. It carries the full per-node report.
type PartialFailureError struct {
	Report *RunReport
}

func (e *PartialFailureError) Error() string {
	if e.Report == nil {
		return "convergence run partially failed"
	}
	return fmt.Sprintf("convergence run partially failed: %d failed, %d skipped of %d nodes",
		e.Report.Summary.Failed, e.Report.Summary.Skipped, e.Report.Summary.Total)
}

// Classify returns the error class for err, or "" if err carries none.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case IsValidation(err):
		return ErrorClassValidation
	case IsPartialFailure(err):
		return ErrorClassPartial
	case IsProvider(err):
		return ErrorClassProvider
	default:
		return ""
	}
}

// IsValidation reports whether err is (or wraps) a graph-level validation
// failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	var ce *CycleError
	var de *DanglingReferenceError
	return errors.As(err, &ve) || errors.As(err, &ce) || errors.As(err, &de)
}

// IsProvider reports whether err is (or wraps) a node-scoped provider failure.
func IsProvider(err error) bool {
	var pe *ProviderError
	var rt *ReadinessTimeoutError
	return errors.As(err, &pe) || errors.As(err, &rt)
}

// IsReadinessTimeout reports whether err is (or wraps) a readiness timeout.
func IsReadinessTimeout(err error) bool {
	var rt *ReadinessTimeoutError
	return errors.As(err, &rt)
}

// IsPartialFailure reports whether err is (or wraps) a partial run failure.
func IsPartialFailure(err error) bool {
	var pf *PartialFailureError
	return errors.As(err, &pf)
}
