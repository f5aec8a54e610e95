// Package observations persists every successful measurement to Postgres.
//
// Connect blocks until the database answers a ping, retrying at a fixed
// interval. EnsureSchema is idempotent. Append never retries inline: a failed
// row is parked in a bounded in-memory queue and Flush re-attempts it at the
// start of the next cycle.
package observations
