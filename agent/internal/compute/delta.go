package compute

import "github.com/obsidianstack/slowatch/pkg/types"

// PolarityThreshold separates success-rate targets (above) from failure-rate
// targets (at or below). It is a fixed policy, not a configuration knob.
const PolarityThreshold = 0.5

// DeltaPolicy returns how far measured is from target. Positive means the
// pair is doing worse than its objective.
type DeltaPolicy func(target, measured float64) float64

// DefaultDeltaPolicy reads targets above PolarityThreshold as "at least this
// much succeeds" and the rest as "at most this much fails".
func DefaultDeltaPolicy(target, measured float64) float64 {
	if target > PolarityThreshold {
		return target - measured
	}
	return measured - target
}

// Worst folds evaluated pairs into the cycle result. Only pairs with
// Outcome "ok" take part. A pair replaces the current worst only when its
// delta is strictly greater, so ties keep the earlier pair and a cycle with
// no positive delta returns the zero sentinel.
func Worst(pairs []PairOutcome) types.CycleResult {
	var worst types.CycleResult
	for _, p := range pairs {
		if p.Outcome != OutcomeOK {
			continue
		}
		if p.Delta > worst.Delta {
			worst = types.CycleResult{
				Service:    p.Service,
				Metric:     p.Metric,
				Delta:      p.Delta,
				CurrentSLO: p.Measured,
			}
		}
	}
	return worst
}
