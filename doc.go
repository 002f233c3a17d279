// Package gamecore defines the core interfaces, types, and helpers used across the
// game engine codebase. It provides the entity envelope, repository and cache
// contracts, shared error codes, identity, retry, and concurrency helpers.
// Concrete backends live in subpackages such as sqlite, cassandra, and redis,
// while the engine subpackage wires the pieces into a runnable command core.
// It is a foundational package that other components build upon.
package gamecore

// Timeout model
//
// Engine operations (notably multi-entity lock acquisition) are bounded by two timers:
//  1. The caller-provided context deadline/cancellation which propagates across subsystems.
//  2. An operation-specific maximum duration (e.g., the executor's lock timeout) which is a
//     shared budget: every lock acquired within one call draws down the same allowance.
//
// The effective wait is the earlier of the context deadline and the remaining budget.
// Timeouts are surfaced as Error values with code LockAcquisitionFailure so callers can
// distinguish contention from hard failures.
