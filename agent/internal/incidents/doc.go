// Package incidents reports the mean time to resolution of PagerDuty
// incidents over a rolling window.
package incidents
