package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
	"time"
)

// Attributes is a declared or observed attribute mapping. Values are strings,
// lists of strings, or nested mappings; comparison is exact with no
// normalization across provider representations.
type Attributes map[string]any

// Clone returns a deep copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch vv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(vv))
		for k, e := range vv {
			out[k] = cloneValue(e)
		}
		return out
	case Attributes:
		return map[string]any(vv.Clone())
	case []any:
		out := make([]any, len(vv))
		for i, e := range vv {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		out := make([]string, len(vv))
		copy(out, vv)
		return out
	default:
		return vv
	}
}

// Equal reports exact structural equality with other.
func (a Attributes) Equal(other Attributes) bool {
	return reflect.DeepEqual(normalizeValue(map[string]any(a)), normalizeValue(map[string]any(other)))
}

// normalizeValue converts attribute values to the shape they take after a JSON
// round trip so that in-memory and store-loaded snapshots compare equal.
func normalizeValue(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// WaitSpec bounds the readiness polling loop for a node whose provider-side
// completion is asynchronous.
type WaitSpec struct {
	// Timeout is the total budget before the node fails with a readiness
	// timeout.
	Timeout time.Duration `json:"timeout"`

	// PollInterval is the delay between readiness polls.
	PollInterval time.Duration `json:"poll_interval"`
}

// ResourceSpec is the declared desired state of one resource. Specs are
// immutable once a convergence run starts.
type ResourceSpec struct {
	// Kind is the resource type.
	Kind Kind `json:"kind"`

	// ID is the stable logical name, unique within a graph.
	ID string `json:"id"`

	// Attributes is the desired configuration. Values may reference other
	// specs' outputs with ${id.attr} interpolation; such references become
	// graph edges.
	Attributes Attributes `json:"attributes"`

	// DependsOn lists explicit ordering dependencies in addition to the ones
	// discovered through interpolation.
	DependsOn []string `json:"depends_on,omitempty"`

	// Protect blocks destructive operations (delete, replace) on this
	// resource at the policy gate.
	Protect bool `json:"protect,omitempty"`

	// Wait overrides the provider's default readiness wait for this node.
	Wait *WaitSpec `json:"wait,omitempty"`
}

// Fingerprint returns a stable hash of the spec's kind and raw declared
// attributes. Interpolation tokens are hashed verbatim so the fingerprint does
// not churn when upstream outputs change values without changing identity.
func (s *ResourceSpec) Fingerprint() string {
	payload := struct {
		Kind       Kind       `json:"kind"`
		Attributes Attributes `json:"attributes"`
	}{Kind: s.Kind, Attributes: s.Attributes}

	raw, err := json.Marshal(payload)
	if err != nil {
		// Attributes hold only JSON-representable values; a marshal failure
		// means a programming error upstream.
		panic(fmt.Sprintf("fingerprint resource %s: %v", s.ID, err))
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Validate checks the structural invariants of the spec.
func (s *ResourceSpec) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("resource spec has empty id")
	}
	if err := s.Kind.Validate(); err != nil {
		return fmt.Errorf("resource %s: %w", s.ID, err)
	}
	if s.Wait != nil {
		if s.Wait.Timeout <= 0 {
			return fmt.Errorf("resource %s: wait timeout must be positive", s.ID)
		}
		if s.Wait.PollInterval <= 0 {
			return fmt.Errorf("resource %s: wait poll interval must be positive", s.ID)
		}
	}
	return nil
}

// ResourceState is the last observed real-world state for a logical resource.
// It is owned by the state store and mutated only by the executor after a
// provider call settles.
type ResourceState struct {
	// ID is the logical resource id.
	ID string `json:"id"`

	// Kind is the resource type, recorded so teardown does not need the spec.
	Kind Kind `json:"kind"`

	// ProviderID is the provider-assigned identifier (ARN, zone id,
	// distribution id).
	ProviderID string `json:"provider_id"`

	// Declared is the raw spec attribute snapshot that produced this state,
	// before interpolation resolution.
	Declared Attributes `json:"declared"`

	// Observed is the provider-reported attribute snapshot, including
	// computed outputs.
	Observed Attributes `json:"observed"`

	// LastAppliedHash is the fingerprint of the spec that produced this
	// state.
	LastAppliedHash string `json:"last_applied_hash"`

	// Status is the stored lifecycle status.
	Status ResourceStatus `json:"status"`

	// Dependencies records the ids this resource depended on at apply time.
	// Used to gate reverse-order teardown when the spec is gone.
	Dependencies []string `json:"dependencies,omitempty"`

	// CreatedAt is when the resource was first applied.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the state was last written.
	UpdatedAt time.Time `json:"updated_at"`
}

// FieldDiff describes one changed attribute.
type FieldDiff struct {
	// Path is the attribute name (top-level key).
	Path string `json:"path"`

	// Before is the previously applied value, nil for additions.
	Before any `json:"before,omitempty"`

	// After is the newly declared value, nil for removals.
	After any `json:"after,omitempty"`

	// Immutable marks fields the provider cannot mutate in place; any such
	// change forces a replace.
	Immutable bool `json:"immutable,omitempty"`
}

// ChangeSet is the per-node decision for one convergence run. Change sets are
// computed fresh each run and never persisted.
type ChangeSet struct {
	// ResourceID is the logical id the decision applies to.
	ResourceID string `json:"resource_id"`

	// Kind is the resource type.
	Kind Kind `json:"kind"`

	// Action is the operation the executor will perform.
	Action ChangeAction `json:"action"`

	// Fields lists the attribute diffs behind an update or replace.
	Fields []FieldDiff `json:"fields,omitempty"`

	// Reason explains replace and drift-overwrite decisions.
	Reason string `json:"reason,omitempty"`

	// Protect mirrors the spec's protect flag for the policy gate.
	Protect bool `json:"protect,omitempty"`
}

// NodeResult is the per-node outcome recorded in the run report.
type NodeResult struct {
	// ResourceID is the logical id.
	ResourceID string `json:"resource_id"`

	// Kind is the resource type.
	Kind Kind `json:"kind"`

	// Action is the change the executor attempted.
	Action ChangeAction `json:"action"`

	// Outcome is the final disposition.
	Outcome Outcome `json:"outcome"`

	// Err is the node's failure, if any.
	Err error `json:"-"`

	// Error is the failure message for serialization.
	Error string `json:"error,omitempty"`

	// RunningAt is when the provider call was dispatched.
	RunningAt time.Time `json:"running_at,omitzero"`

	// ReadyAt is when the node became ready for dependents.
	ReadyAt time.Time `json:"ready_at,omitzero"`

	// DoneAt is when state was persisted and dependents unblocked.
	DoneAt time.Time `json:"done_at,omitzero"`
}

// RunSummary counts node outcomes for a run.
type RunSummary struct {
	Total   int `json:"total"`
	Applied int `json:"applied"`
	NoOp    int `json:"no_op"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
}

// RunReport enumerates per-node outcomes for one convergence run plus the
// summary outputs downstream tooling consumes.
type RunReport struct {
	// RunID identifies the run.
	RunID string `json:"run_id"`

	// Status is the aggregate run status.
	Status RunStatus `json:"status"`

	// StartedAt and CompletedAt bound the run.
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`

	// Nodes lists per-node results in graph order.
	Nodes []NodeResult `json:"nodes"`

	// Summary counts outcomes.
	Summary RunSummary `json:"summary"`

	// Outputs carries the site-facing values: the distribution's public
	// hostname, the serving URL, and the storage bucket's resolved name,
	// when present.
	Outputs map[string]string `json:"outputs,omitempty"`
}

// Output keys surfaced in RunReport.Outputs.
const (
	// OutputEndpoint is the CDN distribution's public hostname.
	OutputEndpoint = "endpoint"

	// OutputURL is the site URL served through the alias record.
	OutputURL = "url"

	// OutputBucket is the storage bucket's resolved name.
	OutputBucket = "bucket"
)

// Node returns the result for a resource id, or nil if absent.
func (r *RunReport) Node(id string) *NodeResult {
	for i := range r.Nodes {
		if r.Nodes[i].ResourceID == id {
			return &r.Nodes[i]
		}
	}
	return nil
}
