package engine

import (
	"context"
	"errors"
	"sort"
	"time"
)

// DriftEntry describes how one resource's live provider-side attributes
// diverge from the last observed snapshot.
type DriftEntry struct {
	// ResourceID is the drifted resource.
	ResourceID string `json:"resource_id"`

	// Kind is the resource kind.
	Kind Kind `json:"kind"`

	// Missing reports that the provider no longer knows the resource at all.
	Missing bool `json:"missing,omitempty"`

	// Fields are the attribute-level differences, observed as before and
	// live as after.
	Fields []FieldDiff `json:"fields,omitempty"`
}

// DriftReport is the result of comparing stored state against the provider.
type DriftReport struct {
	CheckedAt time.Time    `json:"checked_at"`
	Checked   int          `json:"checked"`
	Entries   []DriftEntry `json:"entries,omitempty"`
}

// Drifted reports whether any resource diverged.
func (r *DriftReport) Drifted() bool {
	return len(r.Entries) > 0
}

// DetectDrift asks each provider to describe every stored resource and
// reports divergence from the observed snapshot. With refresh set, the
// provider's answer is authoritative: drifted snapshots are rewritten and
// vanished resources are dropped from state, so the next plan re-creates or
// re-applies them.
func (d *Driver) DetectDrift(ctx context.Context, refresh bool) (*DriftReport, error) {
	states, err := d.loadStates(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	report := &DriftReport{CheckedAt: time.Now().UTC(), Checked: len(ids)}
	for _, id := range ids {
		st := states[id]
		provider, err := d.registry.Get(st.Kind)
		if err != nil {
			return nil, err
		}

		live, err := provider.Describe(ctx, st.ProviderID)
		if errors.Is(err, ErrNotFound) {
			report.Entries = append(report.Entries, DriftEntry{ResourceID: id, Kind: st.Kind, Missing: true})
			if refresh {
				if err := d.store.Delete(ctx, id); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err != nil {
			return nil, &ProviderError{ResourceID: id, Op: "describe", Err: err}
		}

		fields := fieldDiffs("", st.Observed, live, nil)
		if len(fields) == 0 {
			continue
		}
		report.Entries = append(report.Entries, DriftEntry{ResourceID: id, Kind: st.Kind, Fields: fields})
		if refresh {
			st.Observed = live.Clone()
			st.UpdatedAt = time.Now().UTC()
			if err := d.store.Save(ctx, st); err != nil {
				return nil, err
			}
		}
	}
	return report, nil
}
