// Package registry holds the immutable set of SLO queries loaded at startup.
//
// Load parses the SLO_Queries JSON document, rejects anything ambiguous
// (duplicate pairs, targets outside [0,1], empty names) with a *ConfigError,
// and returns a Registry whose Specs() order is the file order. That order
// is the tie-break order used by the evaluator.
package registry
