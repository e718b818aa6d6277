package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Default readiness wait applied when neither the spec nor the provider
// schema supplies one.
var DefaultWait = WaitSpec{
	Timeout:      5 * time.Minute,
	PollInterval: 2 * time.Second,
}

// DefaultConcurrency bounds simultaneous provider apply calls when no
// explicit limit is configured.
const DefaultConcurrency = 4

// NodeEvent is emitted on every node status transition. The telemetry layer
// subscribes to these for logging, metrics, and live progress output.
type NodeEvent struct {
	Time       time.Time
	RunID      string
	ResourceID string
	Kind       Kind
	Action     ChangeAction
	Status     NodeStatus
	Message    string
}

// Executor walks a plan over the dependency graph, dispatching each node the
// moment its prerequisites are satisfied. Provider apply and delete calls are
// bounded by a fixed-size slot pool; readiness polling holds no slot, so a
// slow certificate validation never starves unrelated work.
type Executor struct {
	registry    *Registry
	store       StateStore
	logger      zerolog.Logger
	concurrency int
	defaultWait WaitSpec
	onEvent     func(NodeEvent)
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithConcurrency sets the apply slot count. Values below 1 are ignored.
func WithConcurrency(n int) ExecutorOption {
	return func(e *Executor) {
		if n >= 1 {
			e.concurrency = n
		}
	}
}

// WithDefaultWait overrides the fallback readiness wait.
func WithDefaultWait(w WaitSpec) ExecutorOption {
	return func(e *Executor) {
		if w.Timeout > 0 && w.PollInterval > 0 {
			e.defaultWait = w
		}
	}
}

// WithEventSink registers a callback for node status transitions. The
// callback runs on the executor's scheduling goroutine and must not block.
func WithEventSink(fn func(NodeEvent)) ExecutorOption {
	return func(e *Executor) {
		e.onEvent = fn
	}
}

// NewExecutor builds an executor over the given provider registry and state
// store.
func NewExecutor(reg *Registry, store StateStore, logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    reg,
		store:       store,
		logger:      logger,
		concurrency: DefaultConcurrency,
		defaultWait: DefaultWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// execNode carries per-node scheduling state for one run.
type execNode struct {
	id     string
	change ChangeSet
	spec   *ResourceSpec  // nil for orphan deletes
	prior  *ResourceState // nil when creating
	deps   []string       // graph dependencies, recorded into state on save

	status NodeStatus
	result *NodeResult

	// remaining counts unfinished prerequisites.
	remaining int

	// readyDependents unblock when this node reaches ready; doneDependents
	// unblock when it reaches done. Deletes gate on done so a resource is
	// never removed while a stored dependent still references it.
	readyDependents []string
	doneDependents  []string
}

type nodePhase int

const (
	phaseAwaiting nodePhase = iota
	phaseReady
	phaseDone
)

// execEvent is a worker-to-scheduler message.
type execEvent struct {
	id       string
	phase    nodePhase
	status   NodeStatus
	outcome  Outcome
	err      error
	observed Attributes
	at       time.Time
}

// Execute runs the plan to completion and returns the run report. A non-nil
// error means the run did not fully succeed: a PartialFailureError when one
// or more nodes failed or were skipped, or the context error when the run
// was canceled. The report is valid in every case.
func (e *Executor) Execute(ctx context.Context, g *Graph, plan *Plan, states map[string]*ResourceState) (*RunReport, error) {
	runID := uuid.NewString()
	report := &RunReport{
		RunID:     runID,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}

	nodes, order := buildExecNodes(g, plan, states)

	log := e.logger.With().Str("run_id", runID).Logger()
	log.Info().Int("nodes", len(order)).Int("concurrency", e.concurrency).Msg("starting run")

	outputs := make(map[string]Attributes, len(order))
	events := make(chan execEvent)
	sem := make(chan struct{}, e.concurrency)
	running := 0
	finished := 0
	canceled := false

	emit := func(n *execNode, msg string) {
		if e.onEvent != nil {
			e.onEvent(NodeEvent{
				Time:       time.Now().UTC(),
				RunID:      runID,
				ResourceID: n.id,
				Kind:       n.change.Kind,
				Action:     n.change.Action,
				Status:     n.status,
				Message:    msg,
			})
		}
	}

	var markSkipped func(n *execNode, reason string)
	markSkipped = func(n *execNode, reason string) {
		if n.status.IsTerminal() || n.status == NodeStatusRunning || n.status == NodeStatusAwaitingReady || n.status == NodeStatusReady {
			return
		}
		n.status = NodeStatusSkipped
		n.result.Outcome = OutcomeSkipped
		n.result.Error = reason
		finished++
		log.Warn().Str("resource", n.id).Str("reason", reason).Msg("node skipped")
		emit(n, reason)
		for _, dep := range n.readyDependents {
			markSkipped(nodes[dep], fmt.Sprintf("dependency %s skipped", n.id))
		}
		for _, dep := range n.doneDependents {
			markSkipped(nodes[dep], fmt.Sprintf("dependency %s skipped", n.id))
		}
	}

	skipDependents := func(n *execNode, reason string) {
		for _, dep := range n.readyDependents {
			markSkipped(nodes[dep], reason)
		}
		for _, dep := range n.doneDependents {
			markSkipped(nodes[dep], reason)
		}
	}

	unblock := func(ids []string) {
		for _, id := range ids {
			d := nodes[id]
			d.remaining--
			if d.remaining == 0 && d.status == NodeStatusBlocked {
				d.status = NodeStatusPending
			}
		}
	}

	dispatch := func() {
		for progressed := true; progressed; {
			progressed = false
			for _, id := range order {
				n := nodes[id]
				if n.status != NodeStatusPending || canceled {
					continue
				}

				if n.change.Action == ActionNoOp {
					now := time.Now().UTC()
					n.status = NodeStatusDone
					n.result.Outcome = OutcomeNoOp
					n.result.RunningAt, n.result.ReadyAt, n.result.DoneAt = now, now, now
					if n.prior != nil {
						outputs[n.id] = n.prior.Observed
					}
					finished++
					emit(n, "no changes")
					unblock(n.readyDependents)
					unblock(n.doneDependents)
					progressed = true
					continue
				}

				var resolved Attributes
				if n.spec != nil {
					var err error
					resolved, err = ResolveAttributes(n.spec.Attributes, func(id, attr string) (any, bool) {
						obs, ok := outputs[id]
						if !ok {
							return nil, false
						}
						v, ok := obs[attr]
						return v, ok
					})
					if err != nil {
						n.status = NodeStatusFailed
						n.result.Outcome = OutcomeFailed
						n.result.Err = err
						n.result.Error = err.Error()
						finished++
						log.Error().Str("resource", n.id).Err(err).Msg("attribute resolution failed")
						emit(n, err.Error())
						skipDependents(n, fmt.Sprintf("dependency %s failed", n.id))
						progressed = true
						continue
					}
				}

				n.status = NodeStatusRunning
				n.result.RunningAt = time.Now().UTC()
				running++
				log.Info().Str("resource", n.id).Str("action", string(n.change.Action)).Msg("node dispatched")
				emit(n, "dispatched")
				go e.runNode(ctx, n, resolved, events, sem)
				progressed = true
			}
		}
	}

	ctxDone := ctx.Done()
	for finished < len(order) {
		dispatch()
		if finished >= len(order) {
			break
		}
		if running == 0 {
			// Nothing in flight and nothing dispatchable: either the run was
			// canceled or the stored delete ordering is unsatisfiable.
			reason := "dependency ordering unsatisfiable"
			if canceled {
				reason = "run canceled"
			}
			for _, id := range order {
				if n := nodes[id]; !n.status.IsTerminal() {
					markSkipped(n, reason)
				}
			}
			continue
		}

		select {
		case ev := <-events:
			n := nodes[ev.id]
			switch ev.phase {
			case phaseAwaiting:
				n.status = NodeStatusAwaitingReady
				emit(n, "awaiting readiness")
			case phaseReady:
				n.status = NodeStatusReady
				n.result.ReadyAt = ev.at
				outputs[n.id] = ev.observed
				emit(n, "ready")
				unblock(n.readyDependents)
			case phaseDone:
				running--
				finished++
				n.status = ev.status
				n.result.Outcome = ev.outcome
				n.result.DoneAt = ev.at
				if ev.err != nil {
					n.result.Err = ev.err
					n.result.Error = ev.err.Error()
				}
				switch ev.status {
				case NodeStatusDone:
					log.Info().Str("resource", n.id).Msg("node done")
					emit(n, "done")
					unblock(n.doneDependents)
				default:
					log.Error().Str("resource", n.id).Err(ev.err).Msg("node failed")
					emit(n, n.result.Error)
					skipDependents(n, fmt.Sprintf("dependency %s failed", n.id))
				}
			}
		case <-ctxDone:
			canceled = true
			ctxDone = nil
			log.Warn().Msg("run canceled, waiting for in-flight nodes")
		}
	}

	report.Nodes = make([]NodeResult, 0, len(order))
	for _, id := range order {
		report.Nodes = append(report.Nodes, *nodes[id].result)
	}
	report.Summary = summarize(report.Nodes)
	report.CompletedAt = time.Now().UTC()
	report.Status = runStatus(report.Summary)

	log.Info().
		Str("status", string(report.Status)).
		Int("applied", report.Summary.Applied).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Msg("run complete")

	if canceled {
		return report, context.Cause(ctx)
	}
	if report.Summary.Failed > 0 || report.Summary.Skipped > 0 {
		return report, &PartialFailureError{Report: report}
	}
	return report, nil
}

func buildExecNodes(g *Graph, plan *Plan, states map[string]*ResourceState) (map[string]*execNode, []string) {
	nodes := make(map[string]*execNode, len(plan.Changes))
	order := make([]string, 0, len(plan.Changes))
	for _, c := range plan.Changes {
		n := &execNode{
			id:     c.ResourceID,
			change: c,
			prior:  states[c.ResourceID],
			status: NodeStatusPending,
			result: &NodeResult{ResourceID: c.ResourceID, Kind: c.Kind, Action: c.Action},
		}
		if gn := g.Node(c.ResourceID); gn != nil {
			spec := gn.Spec
			n.spec = &spec
			n.deps = g.DependenciesOf(c.ResourceID)
		}
		nodes[c.ResourceID] = n
		order = append(order, c.ResourceID)
	}

	for _, id := range order {
		n := nodes[id]
		if n.spec == nil {
			// Orphan delete: every node whose stored state still references
			// this resource must finish before the delete runs.
			for _, oid := range order {
				o := nodes[oid]
				if oid == id || o.prior == nil {
					continue
				}
				for _, dep := range o.prior.Dependencies {
					if dep == id {
						n.remaining++
						o.doneDependents = append(o.doneDependents, id)
						break
					}
				}
			}
		} else {
			for _, dep := range n.deps {
				if d, ok := nodes[dep]; ok {
					n.remaining++
					d.readyDependents = append(d.readyDependents, id)
				}
			}
		}
		if n.remaining > 0 {
			n.status = NodeStatusBlocked
		}
	}
	return nodes, order
}

// runNode executes one mutating node end to end: slot acquisition, the
// provider call, readiness polling, state persistence, and for replacements
// the teardown of the prior instance. It reports progress to the scheduler
// over events and never touches shared scheduling state directly.
func (e *Executor) runNode(ctx context.Context, n *execNode, resolved Attributes, events chan<- execEvent, sem chan struct{}) {
	send := func(ev execEvent) {
		ev.id = n.id
		ev.at = time.Now().UTC()
		events <- ev
	}
	fail := func(err error) {
		send(execEvent{phase: phaseDone, status: NodeStatusFailed, outcome: OutcomeFailed, err: err})
	}

	provider, err := e.registry.Get(n.change.Kind)
	if err != nil {
		fail(err)
		return
	}

	select {
	case sem <- struct{}{}:
	case <-ctx.Done():
		send(execEvent{phase: phaseDone, status: NodeStatusSkipped, outcome: OutcomeSkipped, err: context.Cause(ctx)})
		return
	}

	// An apply that has started runs to completion even if the run is
	// canceled; aborting mid-call could leave the provider half-mutated.
	opCtx := context.WithoutCancel(ctx)

	if n.change.Action == ActionDelete {
		err := provider.Delete(opCtx, n.prior.ProviderID)
		<-sem
		if err != nil {
			e.persistStatus(opCtx, n.prior, ResourceStatusFailed)
			fail(&ProviderError{ResourceID: n.id, Op: "delete", Err: err})
			return
		}
		if err := e.store.Delete(opCtx, n.id); err != nil {
			fail(err)
			return
		}
		send(execEvent{phase: phaseDone, status: NodeStatusDone, outcome: OutcomeApplied})
		return
	}

	// A replacement applies as a fresh create, no prior attached, so the new
	// instance exists before the old one is destroyed.
	req := ApplyRequest{Spec: *n.spec, Attributes: resolved}
	if n.change.Action == ActionUpdate {
		req.Prior = n.prior
	}
	res, err := provider.Apply(opCtx, req)
	<-sem
	if err != nil {
		fail(&ProviderError{ResourceID: n.id, Op: "apply", Err: err})
		return
	}

	send(execEvent{phase: phaseAwaiting})
	if err := e.awaitReady(ctx, provider, n, res.ProviderID); err != nil {
		// The resource exists even though it never became ready. Record it
		// as failed rather than losing track of the provider id.
		if saveErr := e.store.Save(opCtx, e.buildState(n, res, ResourceStatusFailed)); saveErr != nil {
			e.logger.Error().Str("resource", n.id).Err(saveErr).Msg("failed to persist state")
		}
		fail(err)
		return
	}

	if err := e.store.Save(opCtx, e.buildState(n, res, ResourceStatusReady)); err != nil {
		fail(err)
		return
	}
	send(execEvent{phase: phaseReady, observed: res.Observed})

	if n.change.Action == ActionReplace && n.prior != nil && n.prior.ProviderID != "" && n.prior.ProviderID != res.ProviderID {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			fail(fmt.Errorf("replacement cleanup canceled: %w", context.Cause(ctx)))
			return
		}
		err := provider.Delete(opCtx, n.prior.ProviderID)
		<-sem
		if err != nil {
			fail(&ProviderError{ResourceID: n.id, Op: "delete", Err: err})
			return
		}
	}
	send(execEvent{phase: phaseDone, status: NodeStatusDone, outcome: OutcomeApplied})
}

// awaitReady polls the provider until the resource reports ready, the wait
// times out, or the run is canceled. No apply slot is held while polling.
func (e *Executor) awaitReady(ctx context.Context, provider Provider, n *execNode, providerID string) error {
	wait := e.waitFor(n.spec, provider)
	deadline := time.NewTimer(wait.Timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(wait.PollInterval)
	defer ticker.Stop()

	for {
		r, err := provider.PollReady(context.WithoutCancel(ctx), providerID)
		if err != nil {
			return &ProviderError{ResourceID: n.id, Op: "poll", Err: err}
		}
		if r == ReadinessReady {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return &ReadinessTimeoutError{ResourceID: n.id, Timeout: wait.Timeout}
		case <-ctx.Done():
			return fmt.Errorf("readiness wait for %s canceled: %w", n.id, context.Cause(ctx))
		}
	}
}

// waitFor resolves the effective wait for a spec: the spec's own override
// wins, then the provider schema's default, then the executor default.
// Partial overrides inherit the missing field.
func (e *Executor) waitFor(spec *ResourceSpec, provider Provider) WaitSpec {
	w := e.defaultWait
	if schema, err := provider.Schema(spec.Kind); err == nil && schema != nil && schema.WaitDefaults != nil {
		if schema.WaitDefaults.Timeout > 0 {
			w.Timeout = schema.WaitDefaults.Timeout
		}
		if schema.WaitDefaults.PollInterval > 0 {
			w.PollInterval = schema.WaitDefaults.PollInterval
		}
	}
	if spec.Wait != nil {
		if spec.Wait.Timeout > 0 {
			w.Timeout = spec.Wait.Timeout
		}
		if spec.Wait.PollInterval > 0 {
			w.PollInterval = spec.Wait.PollInterval
		}
	}
	return w
}

func (e *Executor) buildState(n *execNode, res *ApplyResult, status ResourceStatus) *ResourceState {
	now := time.Now().UTC()
	created := now
	if n.prior != nil && !n.prior.CreatedAt.IsZero() {
		created = n.prior.CreatedAt
	}
	return &ResourceState{
		ID:              n.id,
		Kind:            n.spec.Kind,
		ProviderID:      res.ProviderID,
		Declared:        n.spec.Attributes.Clone(),
		Observed:        res.Observed.Clone(),
		LastAppliedHash: n.spec.Fingerprint(),
		Status:          status,
		Dependencies:    n.deps,
		CreatedAt:       created,
		UpdatedAt:       now,
	}
}

// persistStatus rewrites the stored status of an existing state. Used when a
// delete fails so the resource is not silently forgotten.
func (e *Executor) persistStatus(ctx context.Context, prior *ResourceState, status ResourceStatus) {
	if prior == nil {
		return
	}
	st := *prior
	st.Status = status
	st.UpdatedAt = time.Now().UTC()
	if err := e.store.Save(ctx, &st); err != nil {
		e.logger.Error().Str("resource", st.ID).Err(err).Msg("failed to persist state")
	}
}

func summarize(nodes []NodeResult) RunSummary {
	s := RunSummary{Total: len(nodes)}
	for _, n := range nodes {
		switch n.Outcome {
		case OutcomeApplied:
			s.Applied++
		case OutcomeNoOp:
			s.NoOp++
		case OutcomeFailed:
			s.Failed++
		case OutcomeSkipped:
			s.Skipped++
		}
	}
	return s
}

func runStatus(s RunSummary) RunStatus {
	switch {
	case s.Failed == 0 && s.Skipped == 0:
		return RunStatusSucceeded
	case s.Applied > 0 || s.NoOp > 0:
		return RunStatusPartial
	default:
		return RunStatusFailed
	}
}
