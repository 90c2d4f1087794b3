// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

type fleetState struct {
	min, max  int64
	desired   int64
	current   int64
	inService int64

	// pending counts members that have joined but are not yet in service.
	pending int64
}

// Fleets is an in-process FleetBackend. Members join and leave one at a time
// on each reconciliation, and a joining member spends one reconciliation
// pending before it is counted as in service.
type Fleets struct {
	lock   sync.Mutex
	fleets map[string]*fleetState

	// failNext, when set, is returned by the next SetDesiredCapacity call.
	failNext error
}

var _ sdk.FleetBackend = (*Fleets)(nil)

// NewFleets returns an empty fleet backend.
func NewFleets() *Fleets {
	return &Fleets{fleets: make(map[string]*fleetState)}
}

// Configure creates the named fleet, or updates its bounds, and caps its
// desired capacity into them. A new fleet starts at its minimum capacity.
func (f *Fleets) Configure(_ context.Context, name string, min, max int64) error {
	if min < 0 || max < min {
		return fmt.Errorf("invalid capacity bounds [%d, %d]", min, max)
	}

	f.lock.Lock()
	defer f.lock.Unlock()

	fs, ok := f.fleets[name]
	if !ok {
		fs = &fleetState{desired: min}
		f.fleets[name] = fs
	}
	fs.min, fs.max = min, max
	d := sdk.ScalingDecision{Count: fs.desired}
	d.CapCount(min, max)
	fs.desired = d.Count
	return nil
}

func (f *Fleets) SetDesiredCapacity(_ context.Context, name string, n int64) error {
	f.lock.Lock()
	defer f.lock.Unlock()

	if err := f.failNext; err != nil {
		f.failNext = nil
		return err
	}

	fs, ok := f.fleets[name]
	if !ok {
		return fmt.Errorf("fleet %s: %w", name, sdk.ErrNotFound)
	}
	if n < fs.min || n > fs.max {
		return fmt.Errorf("desired capacity %d outside of bounds [%d, %d]", n, fs.min, fs.max)
	}
	fs.desired = n
	return nil
}

func (f *Fleets) Status(_ context.Context, name string) (*sdk.FleetStatus, error) {
	f.lock.Lock()
	defer f.lock.Unlock()

	fs, ok := f.fleets[name]
	if !ok {
		return nil, fmt.Errorf("fleet %s: %w", name, sdk.ErrNotFound)
	}
	return &sdk.FleetStatus{
		Desired:   fs.desired,
		Current:   fs.current,
		InService: fs.inService,
		Ready:     true,
	}, nil
}

// FailNext makes the next SetDesiredCapacity call return err.
func (f *Fleets) FailNext(err error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.failNext = err
}

// Reconcile moves every fleet one step toward its desired capacity.
func (f *Fleets) Reconcile() {
	f.lock.Lock()
	defer f.lock.Unlock()

	for _, fs := range f.fleets {
		// Pending members from the previous step come into service.
		fs.inService += fs.pending
		fs.pending = 0

		switch {
		case fs.current < fs.desired:
			fs.current++
			fs.pending++
		case fs.current > fs.desired:
			fs.current--
			if fs.inService > fs.current {
				fs.inService = fs.current
			}
		}
	}
}

// Run reconciles the fleets every interval until ctx is canceled.
func (f *Fleets) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.Reconcile()
		}
	}
}

// Names returns the names of the known fleets, sorted.
func (f *Fleets) Names() []string {
	f.lock.Lock()
	defer f.lock.Unlock()

	names := make([]string, 0, len(f.fleets))
	for n := range f.fleets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
