// Package retry runs an operation until it succeeds under a Policy.
//
// Constant(d) retries forever at a fixed interval and is what the agent uses
// for its startup store connection. Exponential grows the wait between a
// bounded number of attempts and is used for PagerDuty calls.
//
// Sleeping goes through a Sleeper so tests can count waits instead of taking
// them.
package retry
