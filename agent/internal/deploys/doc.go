// Package deploys reports successful and failed deployments per application
// over a rolling window, read from the release pipeline's Postgres table.
package deploys
