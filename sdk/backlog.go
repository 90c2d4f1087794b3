// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import "time"

// BacklogSample is a single observation of a stage's queue and fleet. The two
// readings are taken independently and may be skewed in time relative to each
// other; that skew is accepted noise and not an error.
type BacklogSample struct {

	// QueueDepth is the approximate number of items waiting in the stage's
	// input queue.
	QueueDepth int64

	// InServiceInstances is the number of fleet members currently counted as
	// healthy and active.
	InServiceInstances int64

	// Timestamp is when the sample was assembled.
	Timestamp time.Time
}

// PerInstance returns the backlog-per-instance value of the sample.
func (s BacklogSample) PerInstance() float64 {
	return BacklogPerInstance(s.QueueDepth, s.InServiceInstances)
}

// BacklogPerInstance divides the queue depth by the number of in-service
// instances, flooring the instance count at 1. A fleet that has scaled to zero
// while the queue still holds work therefore reports the full queue depth
// rather than dividing by zero, which lets the controller scale up from cold.
//
// Negative readings are treated as zero so the result is always finite and
// non-negative.
func BacklogPerInstance(queueDepth, inService int64) float64 {
	if queueDepth < 0 {
		queueDepth = 0
	}
	if inService < 1 {
		inService = 1
	}
	return float64(queueDepth) / float64(inService)
}
