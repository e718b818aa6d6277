// Package stores provides persistence layer implementations for EdgeForge.
// It includes SQLite-based storage with WAL mode, connection pooling, and
// CRUD operations for resource state and run history, plus an in-memory
// store for tests and dry runs.
package stores
