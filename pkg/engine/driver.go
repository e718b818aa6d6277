package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// PolicyGate evaluates a plan before execution. Implementations live in
// pkg/policy; a nil gate admits every plan.
type PolicyGate interface {
	// Check returns a non-nil error to veto the plan.
	Check(ctx context.Context, plan *Plan) error
}

// Driver is the top-level convergence entry point. It owns the full cycle:
// graph construction, state load, diffing, the policy gate, execution, and
// run history.
type Driver struct {
	registry *Registry
	store    StateStore
	runs     RunStore
	differ   *Differ
	executor *Executor
	gate     PolicyGate
	logger   zerolog.Logger
}

// DriverOption configures a Driver.
type DriverOption func(*Driver)

// WithPolicyGate installs a policy gate consulted before every run.
func WithPolicyGate(gate PolicyGate) DriverOption {
	return func(d *Driver) { d.gate = gate }
}

// WithRunStore enables run history persistence.
func WithRunStore(runs RunStore) DriverOption {
	return func(d *Driver) { d.runs = runs }
}

// NewDriver wires a driver around a provider registry, state store, and a
// configured executor.
func NewDriver(reg *Registry, store StateStore, exec *Executor, logger zerolog.Logger, opts ...DriverOption) *Driver {
	d := &Driver{
		registry: reg,
		store:    store,
		differ:   NewDiffer(reg),
		executor: exec,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Plan builds the dependency graph for the desired specs, loads stored
// state, and computes the change set without mutating anything.
func (d *Driver) Plan(ctx context.Context, specs []ResourceSpec) (*Graph, *Plan, error) {
	g, err := BuildGraph(specs)
	if err != nil {
		return nil, nil, err
	}
	states, err := d.loadStates(ctx)
	if err != nil {
		return nil, nil, err
	}
	plan, err := d.differ.Diff(ctx, g, states)
	if err != nil {
		return nil, nil, err
	}
	if err := checkProtected(plan); err != nil {
		return nil, nil, err
	}
	return g, plan, nil
}

// Converge drives the desired specs to reality: it plans, gates the plan
// through policy, executes, records run history, and returns the report with
// site outputs attached. The error mirrors Execute's contract; the report is
// valid whenever it is non-nil.
func (d *Driver) Converge(ctx context.Context, specs []ResourceSpec) (*RunReport, error) {
	g, plan, err := d.Plan(ctx, specs)
	if err != nil {
		return nil, err
	}

	if d.gate != nil {
		if err := d.gate.Check(ctx, plan); err != nil {
			return nil, err
		}
	}

	states, err := d.loadStates(ctx)
	if err != nil {
		return nil, err
	}
	report, execErr := d.executor.Execute(ctx, g, plan, states)
	d.attachOutputs(ctx, report)

	if d.runs != nil {
		if err := d.runs.SaveRun(context.WithoutCancel(ctx), report); err != nil {
			d.logger.Error().Str("run_id", report.RunID).Err(err).Msg("failed to record run history")
		}
	}
	return report, execErr
}

// Destroy tears down every stored resource, dependents before dependencies.
// Protected resources abort the teardown unless force is set.
func (d *Driver) Destroy(ctx context.Context, specs []ResourceSpec, force bool) (*RunReport, error) {
	states, err := d.loadStates(ctx)
	if err != nil {
		return nil, err
	}

	protect := make(map[string]bool, len(specs))
	for _, s := range specs {
		protect[s.ID] = s.Protect
	}
	if !force {
		for id, st := range states {
			if protect[id] && st.Status != ResourceStatusAbsent {
				return nil, &ValidationError{Err: fmt.Errorf("resource %q is protected, refusing to destroy", id)}
			}
		}
	}

	// An empty graph makes every stored resource an orphan, which the differ
	// already orders dependents-first.
	g, err := BuildGraph(nil)
	if err != nil {
		return nil, err
	}
	plan, err := d.differ.Diff(ctx, g, states)
	if err != nil {
		return nil, err
	}

	if d.gate != nil && !force {
		if err := d.gate.Check(ctx, plan); err != nil {
			return nil, err
		}
	}

	report, execErr := d.executor.Execute(ctx, g, plan, states)
	if d.runs != nil {
		if err := d.runs.SaveRun(context.WithoutCancel(ctx), report); err != nil {
			d.logger.Error().Str("run_id", report.RunID).Err(err).Msg("failed to record run history")
		}
	}
	return report, execErr
}

func (d *Driver) loadStates(ctx context.Context) (map[string]*ResourceState, error) {
	list, err := d.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading state: %w", err)
	}
	states := make(map[string]*ResourceState, len(list))
	for _, st := range list {
		states[st.ID] = st
	}
	return states, nil
}

// attachOutputs publishes the user-facing outputs of a converged site: the
// distribution's public hostname, the serving URL from the alias record, and
// the origin bucket name.
func (d *Driver) attachOutputs(ctx context.Context, report *RunReport) {
	states, err := d.loadStates(ctx)
	if err != nil {
		d.logger.Error().Err(err).Msg("failed to load state for outputs")
		return
	}
	outputs := make(map[string]string)
	for _, st := range states {
		if st.Status != ResourceStatusReady {
			continue
		}
		switch st.Kind {
		case KindCDNDistribution:
			if v, ok := st.Observed["domain_name"].(string); ok {
				outputs[OutputEndpoint] = v
			}
		case KindAliasRecord:
			if v, ok := st.Observed["endpoint"].(string); ok {
				outputs[OutputURL] = v
			}
		case KindBucket:
			if v, ok := st.Observed["name"].(string); ok {
				outputs[OutputBucket] = v
			}
		}
	}
	if len(outputs) > 0 {
		report.Outputs = outputs
	}
}

// checkProtected rejects plans that would delete or replace a protected
// resource. This is a hard engine guarantee independent of the policy gate.
func checkProtected(plan *Plan) error {
	for _, c := range plan.Changes {
		if c.Protect && c.Action.IsDestructive() {
			return &ValidationError{Err: fmt.Errorf("resource %q is protected, refusing %s", c.ResourceID, c.Action)}
		}
	}
	return nil
}
