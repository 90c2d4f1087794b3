// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"github.com/hashicorp/pipeline-autoscaler/fleet"
	"github.com/hashicorp/pipeline-autoscaler/policy"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// Queue identifies a stage's input queue.
type Queue struct {

	// Name is the backend name of the queue.
	Name string `json:"name"`

	// Locator is the stable address workers use to reach the queue.
	Locator string `json:"locator"`

	// Parameter is the name of the parameter the locator is published under.
	Parameter string `json:"parameter"`
}

// Stage couples the input queue, the worker fleet and the scaling policy of
// one pipeline unit. The stage owns all three. Downstream points at the next
// stage's queue, which the stage may only produce into, and is nil for the
// last stage.
type Stage struct {
	Index      int
	Name       string
	Spec       sdk.StageSpec
	Queue      Queue
	Downstream *Queue
	Fleet      *fleet.Fleet
	Policy     *policy.Handler
}

// StageStatus is a point in time snapshot of a stage.
type StageStatus struct {
	Index      int                  `json:"index"`
	Name       string               `json:"name"`
	Queue      Queue                `json:"queue"`
	Downstream *Queue               `json:"downstream,omitempty"`
	Fleet      string               `json:"fleet"`
	Principal  string               `json:"principal"`
	Min        int64                `json:"min_capacity"`
	Max        int64                `json:"max_capacity"`
	Policy     policy.HandlerStatus `json:"policy"`
}

// Status returns a snapshot of the stage.
func (s *Stage) Status() StageStatus {
	min, max := s.Fleet.Bounds()
	return StageStatus{
		Index:      s.Index,
		Name:       s.Name,
		Queue:      s.Queue,
		Downstream: s.Downstream,
		Fleet:      s.Fleet.Name(),
		Principal:  s.Spec.Principal.Name,
		Min:        min,
		Max:        max,
		Policy:     s.Policy.Status(),
	}
}
