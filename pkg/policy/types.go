package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for warnings that should be reviewed but do not
	// block a run.
	SeverityWarning Severity = "warning"

	// SeverityError is for violations that block the run.
	SeverityError Severity = "error"
)

// Policy is one admission rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`
}

// Violation is a single policy violation against a plan.
type Violation struct {
	// Policy is the name of the violated policy.
	Policy string `json:"policy"`

	// Resource is the offending resource id, when the rule names one.
	Resource string `json:"resource,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result is the outcome of evaluating a plan against all loaded policies.
type Result struct {
	// Allowed is false when any error-severity violation fired.
	Allowed bool `json:"allowed"`

	// Violations lists every violation, warnings included.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings collects evaluation problems that did not block the run.
	Warnings []string `json:"warnings,omitempty"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`
}

// Errors returns the blocking violations only.
func (r *Result) Errors() []Violation {
	var out []Violation
	for _, v := range r.Violations {
		if v.Severity == SeverityError {
			out = append(out, v)
		}
	}
	return out
}

// DeniedError is returned when the gate vetoes a plan.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		msgs = append(msgs, fmt.Sprintf("%s: %s", v.Policy, v.Message))
	}
	return fmt.Sprintf("plan denied by policy: %s", strings.Join(msgs, "; "))
}

// PolicyInput is the document handed to Rego evaluation.
type PolicyInput struct {
	// Plan is the full change set under review.
	Plan *engine.Plan `json:"plan"`

	// Context carries evaluation metadata.
	Context *PolicyContext `json:"context"`
}

// PolicyContext carries evaluation metadata.
type PolicyContext struct {
	// Timestamp is when the evaluation started.
	Timestamp time.Time `json:"timestamp"`

	// Operation names the driver entry point, plan or destroy.
	Operation string `json:"operation"`
}
