package engine

import "context"

// StateStore is the persistence contract the engine drives. Implementations
// live in pkg/stores; the engine only ever sees this interface so runs can be
// tested against an in-memory store.
type StateStore interface {
	// Get returns the stored state for a resource id, or ErrNotFound.
	Get(ctx context.Context, id string) (*ResourceState, error)

	// List returns all stored resource states.
	List(ctx context.Context) ([]*ResourceState, error)

	// Save inserts or updates a resource state.
	Save(ctx context.Context, state *ResourceState) error

	// Delete removes a resource state. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, id string) error
}

// RunStore records completed convergence runs. It is optional; a nil RunStore
// disables run history.
type RunStore interface {
	// SaveRun persists a finished run report.
	SaveRun(ctx context.Context, report *RunReport) error

	// ListRuns returns the most recent run reports, newest first, capped at
	// limit.
	ListRuns(ctx context.Context, limit int) ([]*RunReport, error)
}
