// Package engine is the concurrent channel health-check engine.
//
// It consumes already-parsed channel records and mutates them in place:
// a bounded scheduler dispatches each channel through a two-phase protocol
// probe (existence check, then throughput measurement), a per-host failure
// guard stops it from hammering hosts that keep failing, and a classifier
// turns raw probe outcomes into online/offline statuses with a
// human-readable failure reason.
//
// The engine is an in-process batch library: it has no network-facing API
// of its own and keeps no state across runs.
package engine
