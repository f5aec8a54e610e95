package types

import "time"

// QuerySpec is one configured (service, metric) query and its target.
type QuerySpec struct {
	Service string
	Metric  string

	// Query is passed verbatim to the metrics backend.
	Query string

	// TargetSLO is a ratio in [0, 1]. Values above 0.5 are read as
	// success-rate targets, the rest as failure-rate targets.
	TargetSLO float64
}

// Observation is one successful measurement, appended to the store once.
type Observation struct {
	Service    string    `json:"service"`
	Metric     string    `json:"metric"`
	ObservedAt time.Time `json:"observed_at"`
	Value      float64   `json:"value"`
}

// CycleResult is the worst performer of a single polling cycle.
// The zero value is the sentinel: no pair had a positive delta.
type CycleResult struct {
	Service    string  `json:"service"`
	Metric     string  `json:"metric"`
	Delta      float64 `json:"delta"`
	CurrentSLO float64 `json:"current_slo"`
}

// IsSentinel reports whether r is the "nothing worse than target" result.
func (r CycleResult) IsSentinel() bool {
	return r.Service == ""
}
