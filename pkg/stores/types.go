package stores

import (
	"context"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Store is the full persistence surface: resource state plus run history.
// Both SQLiteStore and MemoryStore satisfy it.
type Store interface {
	engine.StateStore
	engine.RunStore

	// Init prepares the backing storage for use.
	Init(ctx context.Context) error

	// Migrate brings the storage schema up to date.
	Migrate(ctx context.Context) error

	// Close releases the backing storage.
	Close() error
}
