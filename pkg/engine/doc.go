// Package engine implements the convergence core: dependency graph
// construction over declared resources, fingerprint-based diffing against
// stored state, and an event-driven executor that applies changes with
// bounded concurrency and first-class readiness waits.
//
// The engine is provider-agnostic. Resource kinds are served by Provider
// implementations registered in a Registry; persistence goes through the
// StateStore interface. The Driver ties the pieces into the plan, converge,
// destroy, and drift entry points the CLI exposes.
package engine
