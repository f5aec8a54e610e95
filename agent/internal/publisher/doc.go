// Package publisher exports cycle results as Prometheus metrics.
//
// The headline series is delta_slo{service,metric}: at most one series,
// valued with the measured SLO of the cycle's worst performer. What it shows
// for a cycle with no worst performer is set by the sentinel policy.
package publisher
