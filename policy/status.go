// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package policy

import (
	"time"

	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// TickResult describes the outcome of a single evaluation.
type TickResult struct {
	Sample             sdk.BacklogSample
	BacklogPerInstance float64

	// Current is the fleet's desired capacity at the time of the sample.
	Current int64

	// Candidate is the capped capacity calculated from the sample. It equals
	// Current when the fleet was not ready.
	Candidate int64

	// Applied is true when a capacity request was accepted by the fleet.
	Applied bool

	// InCooldown is true when a change was suppressed by cooldown.
	InCooldown bool
}

// HandlerStatus is a point in time snapshot of a handler.
type HandlerStatus struct {
	Policy            string        `json:"policy"`
	State             string        `json:"state"`
	TargetValue       float64       `json:"target_value"`
	Cooldown          time.Duration `json:"cooldown"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
	LastAdjustment    *time.Time    `json:"last_adjustment,omitempty"`
	LastEvaluation    *time.Time    `json:"last_evaluation,omitempty"`
	QueueDepth        int64         `json:"queue_depth"`
	InService         int64         `json:"in_service"`
	BacklogPerInst    float64       `json:"backlog_per_instance"`
	Capacity          int64         `json:"capacity"`
	Candidate         int64         `json:"candidate"`
	LastError         string        `json:"last_error,omitempty"`
}

// Status returns a snapshot of the handler. It is safe to call concurrently
// with Run.
func (h *Handler) Status() HandlerStatus {
	s := HandlerStatus{
		Policy:      h.key.String(),
		State:       h.getState().String(),
		TargetValue: h.target,
		Cooldown:    h.cooldown,
	}

	h.cooldownLock.RLock()
	if !h.lastAdjustment.IsZero() {
		t := h.lastAdjustment
		s.LastAdjustment = &t
		if rcd := calculateRemainingCooldown(h.cooldown, nowFunc(), t); rcd > 0 && s.State == StateCooldown.String() {
			s.CooldownRemaining = rcd
		}
	}
	h.cooldownLock.RUnlock()

	h.statusLock.RLock()
	defer h.statusLock.RUnlock()

	if !h.lastTick.IsZero() {
		t := h.lastTick
		s.LastEvaluation = &t
	}
	if h.lastError != nil {
		s.LastError = h.lastError.Error()
	}
	if r := h.lastResult; r != nil {
		s.QueueDepth = r.Sample.QueueDepth
		s.InService = r.Sample.InServiceInstances
		s.BacklogPerInst = r.BacklogPerInstance
		s.Capacity = r.Current
		s.Candidate = r.Candidate
	}
	return s
}
