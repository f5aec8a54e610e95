// Package compute turns measurements into the per-cycle worst performer.
//
// delta.go holds the pure parts: DeltaPolicy, which normalises every pair so
// that a positive delta always means "worse than target", and Worst, the
// max-delta fold with first-wins ties.
//
// evaluator.go holds the Evaluator, which queries the backend for each
// registered pair, appends every successful measurement to the store and
// folds the results. Query failures skip a pair; store failures never do.
package compute
