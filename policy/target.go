// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package policy

import "math"

// calculateCandidate returns the capacity that brings the metric to target,
// given the ratio of metric to target, capped into [min, max].
//
// The calculation is done in floating point and capped before converting so
// that very large ratios cannot overflow int64.
func calculateCandidate(current int64, ratio float64, min, max int64) int64 {
	if math.IsNaN(ratio) || ratio < 0 {
		ratio = 0
	}

	var raw float64

	// Handle cases were the fleet is scaling from 0. If the current count is
	// 0, then just use the ratio as the new count to target. Otherwise use
	// our standard calculation.
	switch current {
	case 0:
		raw = math.Ceil(ratio)
	default:
		raw = math.Ceil(float64(current) * ratio)
	}

	switch {
	case raw < float64(min):
		return min
	case raw > float64(max):
		return max
	default:
		return int64(raw)
	}
}
