package engine

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
)

// Plan is the full set of changes a convergence run will apply.
type Plan struct {
	Changes []ChangeSet `json:"changes"`
}

// IsEmpty reports whether the plan contains no mutating change.
func (p *Plan) IsEmpty() bool {
	for _, c := range p.Changes {
		if c.Action.IsMutating() {
			return false
		}
	}
	return true
}

// Destructive returns the change sets that delete or replace a resource.
func (p *Plan) Destructive() []ChangeSet {
	var out []ChangeSet
	for _, c := range p.Changes {
		if c.Action.IsDestructive() {
			out = append(out, c)
		}
	}
	return out
}

// Change returns the change set for a resource id, or nil.
func (p *Plan) Change(id string) *ChangeSet {
	for i := range p.Changes {
		if p.Changes[i].ResourceID == id {
			return &p.Changes[i]
		}
	}
	return nil
}

// Differ computes the change set between desired specs and stored state.
// Comparison is fingerprint based over the raw declared attributes, so
// unresolved ${id.attr} references never register as drift on their own.
type Differ struct {
	registry *Registry
}

// NewDiffer returns a Differ that consults reg for kind schemas when
// classifying attribute changes as updates or replacements.
func NewDiffer(reg *Registry) *Differ {
	return &Differ{registry: reg}
}

// Diff produces one change set per desired resource plus a delete for every
// stored resource no longer declared. Desired changes follow the graph's
// topological order; deletes follow afterwards in reverse topological order
// of the stored dependency edges.
func (d *Differ) Diff(ctx context.Context, g *Graph, states map[string]*ResourceState) (*Plan, error) {
	plan := &Plan{}

	for _, id := range g.TopoOrder() {
		node := g.Node(id)
		cs, err := d.diffOne(ctx, node.Spec, states[id])
		if err != nil {
			return nil, err
		}
		plan.Changes = append(plan.Changes, *cs)
	}

	orphans := orphanedStates(g, states)
	for _, st := range orphans {
		plan.Changes = append(plan.Changes, ChangeSet{
			ResourceID: st.ID,
			Kind:       st.Kind,
			Action:     ActionDelete,
			Reason:     "resource no longer declared",
		})
	}
	return plan, nil
}

func (d *Differ) diffOne(ctx context.Context, spec ResourceSpec, state *ResourceState) (*ChangeSet, error) {
	cs := &ChangeSet{
		ResourceID: spec.ID,
		Kind:       spec.Kind,
		Protect:    spec.Protect,
	}

	if state == nil || state.Status == ResourceStatusAbsent {
		cs.Action = ActionCreate
		cs.Reason = "resource does not exist"
		cs.Fields = fieldDiffs("", nil, spec.Attributes, nil)
		return cs, nil
	}

	if state.LastAppliedHash == spec.Fingerprint() {
		if state.Status == ResourceStatusReady {
			// The declaration is unchanged; confirm the provider still
			// agrees before calling it a no-op.
			if err := d.confirm(ctx, spec, state, cs); err != nil {
				return nil, err
			}
			return cs, nil
		}
		// Same declaration, but the last run never brought it to ready.
		cs.Action = ActionUpdate
		cs.Reason = fmt.Sprintf("previous apply left resource %s", state.Status)
		return cs, nil
	}

	schema, err := d.schemaFor(spec.Kind)
	if err != nil {
		return nil, err
	}
	cs.Fields = fieldDiffs("", state.Declared, spec.Attributes, schema)

	cs.Action = ActionUpdate
	cs.Reason = "declaration changed"
	for _, f := range cs.Fields {
		if f.Immutable {
			cs.Action = ActionReplace
			cs.Reason = fmt.Sprintf("immutable field %s changed", f.Path)
			break
		}
	}
	return cs, nil
}

// confirm describes the live resource and classifies drift against the
// declared attributes. A vanished resource becomes a create; a drifted one
// becomes an update (or replace, when an immutable field drifted) that
// writes the declared values back.
func (d *Differ) confirm(ctx context.Context, spec ResourceSpec, state *ResourceState, cs *ChangeSet) error {
	if d.registry == nil || state.ProviderID == "" {
		cs.Action = ActionNoOp
		return nil
	}
	provider, err := d.registry.Get(spec.Kind)
	if err != nil {
		return err
	}

	live, err := provider.Describe(ctx, state.ProviderID)
	if errors.Is(err, ErrNotFound) {
		cs.Action = ActionCreate
		cs.Reason = "resource vanished from provider"
		cs.Fields = fieldDiffs("", nil, spec.Attributes, nil)
		return nil
	}
	if err != nil {
		return &ProviderError{ResourceID: spec.ID, Op: "describe", Err: err}
	}

	schema, err := d.schemaFor(spec.Kind)
	if err != nil {
		return err
	}
	fields := declaredDrift("", spec.Attributes, live, schema)
	if len(fields) == 0 {
		cs.Action = ActionNoOp
		return nil
	}

	cs.Fields = fields
	cs.Action = ActionUpdate
	cs.Reason = "provider attributes drifted"
	for _, f := range fields {
		if f.Immutable {
			cs.Action = ActionReplace
			cs.Reason = fmt.Sprintf("immutable field %s drifted", f.Path)
			break
		}
	}
	return nil
}

func (d *Differ) schemaFor(kind Kind) (*KindSchema, error) {
	if d.registry == nil {
		return nil, nil
	}
	provider, err := d.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	return provider.Schema(kind)
}

// fieldDiffs computes a flat, dot-pathed diff between two attribute trees.
// Nested maps recurse; every other value compares as a unit.
func fieldDiffs(prefix string, before, after map[string]any, schema *KindSchema) []FieldDiff {
	keys := make(map[string]struct{}, len(before)+len(after))
	for k := range before {
		keys[k] = struct{}{}
	}
	for k := range after {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var diffs []FieldDiff
	for _, k := range sorted {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		b, hasB := before[k]
		a, hasA := after[k]
		if hasB && hasA {
			bm, bOK := asMap(b)
			am, aOK := asMap(a)
			if bOK && aOK {
				diffs = append(diffs, fieldDiffs(path, bm, am, schema)...)
				continue
			}
			if attrEqual(b, a) {
				continue
			}
		}
		diffs = append(diffs, FieldDiff{
			Path:      path,
			Before:    b,
			After:     a,
			Immutable: schema.Immutable(path),
		})
	}
	return diffs
}

// declaredDrift compares the declared attributes against the provider's live
// answer, keyed by the declaration. Values still carrying ${id.attr}
// references resolve only at dispatch and cannot be compared here; the
// fingerprint path covers changes to them. Provider outputs absent from the
// declaration never count as drift.
func declaredDrift(prefix string, declared, live map[string]any, schema *KindSchema) []FieldDiff {
	keys := make([]string, 0, len(declared))
	for k := range declared {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var diffs []FieldDiff
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		dv := declared[k]
		if carriesReference(dv) {
			continue
		}
		lv := live[k]
		if dm, ok := asMap(dv); ok {
			lm, _ := asMap(lv)
			diffs = append(diffs, declaredDrift(path, dm, lm, schema)...)
			continue
		}
		if attrEqual(dv, lv) {
			continue
		}
		diffs = append(diffs, FieldDiff{
			Path:      path,
			Before:    lv,
			After:     dv,
			Immutable: schema.Immutable(path),
		})
	}
	return diffs
}

// carriesReference reports whether any string inside the value holds an
// unresolved ${id.attr} reference.
func carriesReference(v any) bool {
	found := false
	walkStrings(v, func(s string) {
		if refPattern.MatchString(s) {
			found = true
		}
	})
	return found
}

func asMap(v any) (map[string]any, bool) {
	switch vv := v.(type) {
	case map[string]any:
		return vv, true
	case Attributes:
		return vv, true
	default:
		return nil, false
	}
}

func attrEqual(a, b any) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	// Numeric values round-trip through JSON as float64; compare loosely.
	return Attributes{"v": a}.Equal(Attributes{"v": b})
}

// orphanedStates returns stored states whose ids are absent from the desired
// graph, ordered so that dependents come before their dependencies. The
// ordering uses the dependency edges recorded in the states themselves.
func orphanedStates(g *Graph, states map[string]*ResourceState) []*ResourceState {
	var orphans []*ResourceState
	for id, st := range states {
		if g.Node(id) == nil && st.Status != ResourceStatusAbsent {
			orphans = append(orphans, st)
		}
	}
	sort.Slice(orphans, func(i, j int) bool { return orphans[i].ID < orphans[j].ID })

	// Dependents first. Repeatedly emit orphans none of the remaining
	// orphans depend on.
	byID := make(map[string]*ResourceState, len(orphans))
	for _, st := range orphans {
		byID[st.ID] = st
	}
	dependedOn := func(id string, remaining map[string]*ResourceState) bool {
		for _, st := range remaining {
			if st.ID == id {
				continue
			}
			for _, dep := range st.Dependencies {
				if dep == id {
					return true
				}
			}
		}
		return false
	}

	ordered := make([]*ResourceState, 0, len(orphans))
	remaining := byID
	for len(remaining) > 0 {
		progressed := false
		ids := make([]string, 0, len(remaining))
		for id := range remaining {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			if !dependedOn(id, remaining) {
				ordered = append(ordered, remaining[id])
				delete(remaining, id)
				progressed = true
			}
		}
		if !progressed {
			// Cycle in stored edges; fall back to name order for the rest.
			for _, id := range ids {
				if st, ok := remaining[id]; ok {
					ordered = append(ordered, st)
					delete(remaining, id)
				}
			}
		}
	}
	return ordered
}
