// Package types defines the value types shared across the agent: the
// configured QuerySpec, the Observation rows written to the store, and the
// per-cycle CycleResult that drives the published gauge.
package types
