// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import "fmt"

// ScaleDirection is the direction of a capacity change.
type ScaleDirection int8

const (
	ScaleDirectionNone ScaleDirection = iota
	ScaleDirectionUp
	ScaleDirectionDown
)

func (d ScaleDirection) String() string {
	switch d {
	case ScaleDirectionUp:
		return "up"
	case ScaleDirectionDown:
		return "down"
	default:
		return "none"
	}
}

// CalculateDirection returns the direction required to move from the current
// count to the desired one.
func CalculateDirection(current, desired int64) ScaleDirection {
	switch {
	case desired > current:
		return ScaleDirectionUp
	case desired < current:
		return ScaleDirectionDown
	default:
		return ScaleDirectionNone
	}
}

// PolicyKey identifies a scaling policy attached to a stage. It is the
// idempotency key used when applying or deleting the policy and when applying
// capacity decisions made by it.
type PolicyKey struct {
	Stage  string
	Policy string
}

func (k PolicyKey) String() string {
	return fmt.Sprintf("%s/%s", k.Stage, k.Policy)
}

// ScalingDecision is the outcome of a single controller evaluation that
// requires the fleet capacity to change.
type ScalingDecision struct {

	// Key is the policy that produced the decision.
	Key PolicyKey

	// Count is the desired capacity of the fleet.
	Count int64

	// Direction is the direction of the change relative to the capacity the
	// decision was calculated from.
	Direction ScaleDirection

	// Reason is a human readable description of why the decision was made.
	Reason string
}

// CapCount caps the decision count into the [min, max] interval.
func (d *ScalingDecision) CapCount(min, max int64) {
	if d.Count < min {
		d.Count = min
	}
	if d.Count > max {
		d.Count = max
	}
}
