// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package fleet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// Fleet is an elastic pool of workers bounded by a [min, max] capacity
// interval. It wraps the FleetBackend that runs the pool and may only be
// written to by the controller of the stage that owns it.
type Fleet struct {
	name    string
	min     int64
	max     int64
	backend sdk.FleetBackend
	log     hclog.Logger

	// lock protects the fields below. Observers such as the HTTP API read
	// them concurrently with the owning controller.
	lock sync.RWMutex

	// desired is the last capacity accepted by the backend, or -1 when no
	// request has succeeded yet.
	desired int64

	// lastApplied records the most recent decision successfully applied,
	// keyed by the policy that produced it.
	lastApplied map[sdk.PolicyKey]int64
}

// New returns a Fleet for the named backend fleet. The bounds are checked but
// not pushed to the backend; use Configure for that.
func New(name string, min, max int64, backend sdk.FleetBackend, log hclog.Logger) (*Fleet, error) {
	if name == "" {
		return nil, errors.New("fleet name must not be empty")
	}
	if backend == nil {
		return nil, errors.New("fleet backend must not be nil")
	}
	if min < 0 || max < 1 || min > max {
		return nil, fmt.Errorf("invalid capacity bounds [%d, %d]", min, max)
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}

	return &Fleet{
		name:        name,
		min:         min,
		max:         max,
		backend:     backend,
		log:         log.Named("fleet").With("fleet", name),
		desired:     -1,
		lastApplied: make(map[sdk.PolicyKey]int64),
	}, nil
}

// Name returns the backend name of the fleet.
func (f *Fleet) Name() string { return f.name }

// Bounds returns the capacity interval of the fleet.
func (f *Fleet) Bounds() (int64, int64) { return f.min, f.max }

// Clamp caps n into the capacity interval of the fleet.
func (f *Fleet) Clamp(n int64) int64 {
	d := sdk.ScalingDecision{Count: n}
	d.CapCount(f.min, f.max)
	return d.Count
}

// Configure pushes the capacity bounds to the backend.
func (f *Fleet) Configure(ctx context.Context) error {
	if err := f.backend.Configure(ctx, f.name, f.min, f.max); err != nil {
		return fmt.Errorf("failed to configure fleet %s: %w", f.name, err)
	}
	return nil
}

// RequestCapacity asks the backend to converge the fleet to n members after
// clamping n into the capacity bounds. It returns the clamped value sent. The
// fleet converges asynchronously so callers must not assume observed
// capacity has changed when it returns.
func (f *Fleet) RequestCapacity(ctx context.Context, n int64) (int64, error) {
	count := f.Clamp(n)
	if count != n {
		f.log.Debug("requested capacity clamped", "requested", n, "clamped", count)
	}

	if err := f.backend.SetDesiredCapacity(ctx, f.name, count); err != nil {
		return count, fmt.Errorf("failed to set desired capacity of fleet %s: %w", f.name, err)
	}

	f.lock.Lock()
	f.desired = count
	f.lock.Unlock()

	return count, nil
}

// Apply applies a scaling decision to the fleet. Applying the same decision
// twice, identified by its key and clamped count, sends a single request to
// the backend as long as the observed desired capacity still matches it. A
// failed request is not recorded so the next Apply retries it. The returned
// bool reports whether a request was sent.
func (f *Fleet) Apply(ctx context.Context, d sdk.ScalingDecision) (bool, error) {
	d.CapCount(f.min, f.max)

	f.lock.RLock()
	last, ok := f.lastApplied[d.Key]
	f.lock.RUnlock()

	if ok && last == d.Count {
		f.log.Trace("decision already applied", "policy", d.Key.String(), "count", d.Count)
		return false, nil
	}

	if _, err := f.RequestCapacity(ctx, d.Count); err != nil {
		return false, err
	}

	f.lock.Lock()
	f.lastApplied[d.Key] = d.Count
	f.lock.Unlock()

	f.log.Info("applied scaling decision",
		"policy", d.Key.String(), "count", d.Count, "direction", d.Direction, "reason", d.Reason)
	return true, nil
}

// Observe returns the best-known status of the fleet. The status may lag the
// state of the backend.
//
// Applied decisions whose count no longer matches the observed desired
// capacity are forgotten, so a fleet changed outside of Apply is corrected
// by the next decision.
func (f *Fleet) Observe(ctx context.Context) (*sdk.FleetStatus, error) {
	status, err := f.backend.Status(ctx, f.name)
	if err != nil {
		return nil, fmt.Errorf("failed to read status of fleet %s: %w", f.name, err)
	}
	if status == nil {
		return nil, fmt.Errorf("fleet %s returned no status", f.name)
	}

	f.lock.Lock()
	for key, count := range f.lastApplied {
		if count != status.Desired {
			f.log.Debug("fleet desired capacity drifted from applied decision",
				"policy", key.String(), "applied", count, "observed", status.Desired)
			delete(f.lastApplied, key)
		}
	}
	f.lock.Unlock()

	return status, nil
}

// Desired returns the last desired capacity accepted by the backend and
// whether any request has been accepted yet.
func (f *Fleet) Desired() (int64, bool) {
	f.lock.RLock()
	defer f.lock.RUnlock()
	return f.desired, f.desired >= 0
}
