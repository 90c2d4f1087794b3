// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import (
	"errors"
	"fmt"
	"math"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	errHelper "github.com/hashicorp/pipeline-autoscaler/sdk/helper/error"
)

// StageSpec is the declared configuration of a single pipeline stage.
type StageSpec struct {

	// Name uniquely identifies the stage within the pipeline. It is used to
	// derive the queue name, the locator parameter name and the policy key.
	Name string

	// Fleet is the backend name of the worker fleet that processes the
	// stage's queue.
	Fleet string

	// Principal is the identity used by the fleet's workers.
	Principal Principal

	// PolicyName names the scaling policy attached to the fleet. Together
	// with Name it forms the policy idempotency key.
	PolicyName string

	// MinCapacity forms a lower bound the fleet is never asked to break.
	MinCapacity int64

	// MaxCapacity forms an upper bound the fleet is never asked to exceed.
	MaxCapacity int64

	// TargetValue is the backlog-per-instance the controller tracks.
	TargetValue float64

	// Cooldown is the minimum interval between two capacity changes.
	Cooldown time.Duration

	// EvaluationInterval is the tick interval of the stage controller.
	EvaluationInterval time.Duration
}

// PolicyKey returns the idempotency key of the stage's scaling policy.
func (s *StageSpec) PolicyKey() PolicyKey {
	return PolicyKey{Stage: s.Name, Policy: s.PolicyName}
}

// Validate checks the stage for configuration errors. All violations are
// returned together.
func (s *StageSpec) Validate() error {
	if s == nil {
		return errors.New("stage is nil")
	}

	var result *multierror.Error

	if s.Name == "" {
		result = multierror.Append(result, errors.New("stage name must not be empty"))
	}
	if s.Fleet == "" {
		result = multierror.Append(result, errors.New("fleet must not be empty"))
	}
	if s.Principal.Name == "" {
		result = multierror.Append(result, errors.New("principal must not be empty"))
	}
	if s.PolicyName == "" {
		result = multierror.Append(result, errors.New("policy_name must not be empty"))
	}
	if s.MinCapacity < 0 {
		result = multierror.Append(result, fmt.Errorf("min_capacity must not be negative, got %d", s.MinCapacity))
	}
	if s.MaxCapacity < 1 {
		result = multierror.Append(result, fmt.Errorf("max_capacity must be at least 1, got %d", s.MaxCapacity))
	}
	if s.MinCapacity > s.MaxCapacity {
		result = multierror.Append(result, fmt.Errorf("min_capacity (%d) must not be greater than max_capacity (%d)",
			s.MinCapacity, s.MaxCapacity))
	}
	if math.IsNaN(s.TargetValue) || math.IsInf(s.TargetValue, 0) || s.TargetValue <= 0 {
		result = multierror.Append(result, fmt.Errorf("target_value must be a positive number, got %v", s.TargetValue))
	}
	if s.Cooldown < 0 {
		result = multierror.Append(result, fmt.Errorf("cooldown must not be negative, got %s", s.Cooldown))
	}
	if s.EvaluationInterval <= 0 {
		result = multierror.Append(result, fmt.Errorf("evaluation_interval must be positive, got %s", s.EvaluationInterval))
	}

	return errHelper.FormattedMultiError(result)
}
