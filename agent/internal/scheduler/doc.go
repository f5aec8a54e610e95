// Package scheduler drives the evaluation loop.
//
// Each cycle flushes queued observations, evaluates every pair, publishes the
// worst performer, records the cycle for the status API and then runs the
// secondary collectors. Run sleeps a fixed interval between the end of one
// cycle and the start of the next until its context is cancelled.
package scheduler
