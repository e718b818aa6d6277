package engine

import "fmt"

// Kind identifies a resource type managed by the engine.
type Kind string

const (
	// KindBucket is an object storage bucket holding the site assets.
	KindBucket Kind = "bucket"

	// KindCertificate is a TLS certificate issued for the site domain.
	KindCertificate Kind = "certificate"

	// KindDNSRecordSet is a set of DNS records in the site's zone.
	KindDNSRecordSet Kind = "dnsRecordSet"

	// KindCDNDistribution is the CDN distribution fronting the bucket.
	KindCDNDistribution Kind = "cdnDistribution"

	// KindAliasRecord is an alias record pointing a hostname at the CDN.
	KindAliasRecord Kind = "aliasRecord"

	// KindPolicyAttachment attaches an access policy to a bucket.
	KindPolicyAttachment Kind = "policyAttachment"
)

// Validate checks that the kind is one the engine knows about.
func (k Kind) Validate() error {
	switch k {
	case KindBucket, KindCertificate, KindDNSRecordSet,
		KindCDNDistribution, KindAliasRecord, KindPolicyAttachment:
		return nil
	default:
		return fmt.Errorf("invalid resource kind: %s", k)
	}
}

// ChangeAction is the per-node decision computed by the diff engine.
type ChangeAction string

const (
	// ActionNoOp means stored and declared state already agree.
	ActionNoOp ChangeAction = "noop"

	// ActionCreate means no prior state exists for the node.
	ActionCreate ChangeAction = "create"

	// ActionUpdate means changed fields can be mutated in place.
	ActionUpdate ChangeAction = "update"

	// ActionReplace means an immutable field changed: create the new
	// resource, wait for it to become ready, then delete the old one.
	ActionReplace ChangeAction = "replace"

	// ActionDelete means the resource is no longer declared.
	ActionDelete ChangeAction = "delete"
)

// IsDestructive reports whether the action tears down an existing resource.
func (a ChangeAction) IsDestructive() bool {
	return a == ActionDelete || a == ActionReplace
}

// IsMutating reports whether the action issues any provider write.
func (a ChangeAction) IsMutating() bool {
	return a != ActionNoOp
}

// Validate checks that the action is a known one.
func (a ChangeAction) Validate() error {
	switch a {
	case ActionNoOp, ActionCreate, ActionUpdate, ActionReplace, ActionDelete:
		return nil
	default:
		return fmt.Errorf("invalid change action: %s", a)
	}
}

// NodeStatus tracks a node through the executor's state machine:
// Pending -> Blocked -> Running -> AwaitingReady -> Ready -> Done, with Failed
// absorbing from Running/AwaitingReady and Skipped for nodes whose gates never
// open.
type NodeStatus string

const (
	// NodeStatusPending means the node is queued, gates not yet evaluated.
	NodeStatusPending NodeStatus = "pending"

	// NodeStatusBlocked means at least one gate dependency is outstanding.
	NodeStatusBlocked NodeStatus = "blocked"

	// NodeStatusRunning means the provider call for the node is in flight.
	NodeStatusRunning NodeStatus = "running"

	// NodeStatusAwaitingReady means the apply succeeded and the node is
	// polling its readiness predicate.
	NodeStatusAwaitingReady NodeStatus = "awaiting_ready"

	// NodeStatusReady means the resource is ready for dependents.
	NodeStatusReady NodeStatus = "ready"

	// NodeStatusDone means state is persisted and dependents are unblocked.
	NodeStatusDone NodeStatus = "done"

	// NodeStatusFailed is terminal for the node for this run.
	NodeStatusFailed NodeStatus = "failed"

	// NodeStatusSkipped means a gate dependency failed or the run was
	// cancelled before the node was scheduled.
	NodeStatusSkipped NodeStatus = "skipped"
)

// IsTerminal reports whether the status is final for the run.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeStatusDone || s == NodeStatusFailed || s == NodeStatusSkipped
}

// ResourceStatus is the stored lifecycle status of a resource.
type ResourceStatus string

const (
	// ResourceStatusAbsent means the resource does not exist provider-side.
	ResourceStatusAbsent ResourceStatus = "absent"

	// ResourceStatusCreating means an apply has been issued but the resource
	// has not reported ready yet.
	ResourceStatusCreating ResourceStatus = "creating"

	// ResourceStatusReady means the resource exists and is serving.
	ResourceStatusReady ResourceStatus = "ready"

	// ResourceStatusUpdating means an in-place mutation is in flight.
	ResourceStatusUpdating ResourceStatus = "updating"

	// ResourceStatusDeleting means a teardown is in flight.
	ResourceStatusDeleting ResourceStatus = "deleting"

	// ResourceStatusFailed means the last operation on the resource failed.
	ResourceStatusFailed ResourceStatus = "failed"
)

// Validate checks that the status is a known one.
func (s ResourceStatus) Validate() error {
	switch s {
	case ResourceStatusAbsent, ResourceStatusCreating, ResourceStatusReady,
		ResourceStatusUpdating, ResourceStatusDeleting, ResourceStatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid resource status: %s", s)
	}
}

// Outcome is the per-node result recorded in the run report.
type Outcome string

const (
	// OutcomeApplied means a mutating operation completed and persisted.
	OutcomeApplied Outcome = "applied"

	// OutcomeNoOp means nothing needed doing.
	OutcomeNoOp Outcome = "no-op"

	// OutcomeFailed means the node's provider operation or readiness wait
	// failed.
	OutcomeFailed Outcome = "failed"

	// OutcomeSkipped means the node was never attempted.
	OutcomeSkipped Outcome = "skipped"
)

// RunStatus summarizes a whole convergence run.
type RunStatus string

const (
	// RunStatusRunning means the run is still executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded means every node applied or was a no-op.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial means some nodes failed or were skipped.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed means no node succeeded.
	RunStatusFailed RunStatus = "failed"
)

// Readiness is the result of one readiness poll.
type Readiness string

const (
	// ReadinessReady means the asynchronous provider-side process completed.
	ReadinessReady Readiness = "ready"

	// ReadinessPending means the process is still in progress.
	ReadinessPending Readiness = "pending"
)
