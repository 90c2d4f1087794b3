// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package policy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_calculateCandidate(t *testing.T) {
	testCases := []struct {
		current        int64
		ratio          float64
		min, max       int64
		expectedOutput int64
		name           string
	}{
		{current: 2, ratio: 5, min: 1, max: 5, expectedOutput: 5, name: "capped to max"},
		{current: 3, ratio: 0, min: 1, max: 5, expectedOutput: 1, name: "empty queue capped to min"},
		{current: 0, ratio: 50, min: 1, max: 5, expectedOutput: 5, name: "cold start from zero"},
		{current: 0, ratio: 0, min: 0, max: 5, expectedOutput: 0, name: "cold and empty"},
		{current: 0, ratio: 2.1, min: 0, max: 5, expectedOutput: 3, name: "cold start rounds up"},
		{current: 4, ratio: 0.5, min: 1, max: 10, expectedOutput: 2, name: "scale down"},
		{current: 4, ratio: 0.6, min: 1, max: 10, expectedOutput: 3, name: "scale down rounds up"},
		{current: 3, ratio: 1, min: 1, max: 10, expectedOutput: 3, name: "on target"},
		{current: 1 << 40, ratio: 1e300, min: 1, max: 5, expectedOutput: 5, name: "huge ratio does not overflow"},
		{current: 3, ratio: math.Inf(1), min: 1, max: 5, expectedOutput: 5, name: "infinite ratio"},
		{current: 3, ratio: math.NaN(), min: 1, max: 5, expectedOutput: 1, name: "nan ratio"},
		{current: 3, ratio: -2, min: 1, max: 5, expectedOutput: 1, name: "negative ratio"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual := calculateCandidate(tc.current, tc.ratio, tc.min, tc.max)
			assert.Equal(t, tc.expectedOutput, actual, tc.name)
		})
	}
}
