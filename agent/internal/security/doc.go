// Package security inspects the TLS certificate of the metrics backend.
//
// Check dials the endpoint and classifies the leaf certificate as valid,
// expiring (30 days or less), expired or unreachable. CertCollector runs the
// check once per cycle and exports the days left.
package security
