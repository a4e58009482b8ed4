// Package audit implements the change-diff computation and log-entry
// lifecycle engine.
//
// A Registry maps tracked entity types to their tracking configuration
// (include/exclude/mapping/mask fields and the observed event set). The
// Lifecycle reacts to entity mutations dispatched by the host, computes a
// field-level diff between the durable old state and the new state, and
// persists one immutable LogEntry per mutation through a Store.
//
// Audit logging is strictly lower priority than the primary data mutation:
// any failure while diffing or persisting is logged and swallowed, never
// propagated to the mutating caller.
package audit
