// Package backend queries a Prometheus-compatible HTTP API for single
// instant values.
//
// Client.Query returns exactly one of: a Measurement, ErrNoData (empty result,
// not a failure), *BackendError (transport or non-2xx), or
// *MalformedResponseError (body does not have the expected shape or the value
// is not a number). Nothing is retried here; the evaluator decides.
//
// Authentication is applied by authRoundTripper in transport.go, which reads
// the secret from the environment on every request.
package backend
