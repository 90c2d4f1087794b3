// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	metrics "github.com/armon/go-metrics"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/fleet"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// handlerState is the representation of the current occupation of the handler,
// it works as a state machine with the following rules:
//
//	    ┌──────────────── candidate == current ──────────────┐
//	    │                                                     │
//	┌───▼────┐ capacity request accepted  ┌────────────┐      │
//	│ Idle   ├────────────────────────────► Cooldown   ├──────┘
//	└───▲─┬──┘                            └─────┬──────┘
//	    │ │ request failed                      │ cooldown expired,
//	    └─┘                                     │ candidate != current
//	                                            └──────► request ...
//
// Both states move to Stopped once Run returns, which is terminal.
type handlerState int

const (
	StateIdle handlerState = iota
	StateCooldown
	StateStopped
)

func (s handlerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCooldown:
		return "cooldown"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// defaultRequestTimeout bounds how long a capacity request may run once
	// it has been detached from the handler's context.
	defaultRequestTimeout = 30 * time.Second
)

var (
	// ErrSampleFailed is returned by Tick when the queue depth or the fleet
	// status could not be read. No decision is made for that tick.
	ErrSampleFailed = errors.New("failed to sample backlog")

	// ErrHandlerStopped is returned by Tick once the handler has stopped.
	ErrHandlerStopped = errors.New("handler stopped")

	// nowFunc is the function used to determine the current time. It is
	// overridden in tests.
	nowFunc = time.Now
)

// depthReader reads the approximate depth of a queue. It is satisfied by
// sdk.QueueBackend.
type depthReader interface {
	Depth(ctx context.Context, locator string) (int64, error)
}

// HandlerConfig holds the configuration of a single stage controller.
type HandlerConfig struct {
	Key                sdk.PolicyKey
	Queue              depthReader
	QueueLocator       string
	Fleet              *fleet.Fleet
	TargetValue        float64
	Cooldown           time.Duration
	EvaluationInterval time.Duration
	Log                hclog.Logger

	// RequestTimeout bounds capacity requests. Zero uses a default.
	RequestTimeout time.Duration
}

// Handler is the target-tracking controller of one stage. It keeps the
// backlog-per-instance of the stage's queue near the target value by resizing
// the stage's fleet, with cooldown between adjustments.
type Handler struct {
	log hclog.Logger

	key            sdk.PolicyKey
	queue          depthReader
	locator        string
	fleet          *fleet.Fleet
	target         float64
	cooldown       time.Duration
	interval       time.Duration
	requestTimeout time.Duration
	labels         []metrics.Label

	// tickLock serialises evaluations so a tick never overlaps the previous
	// one, including manual ticks made outside of Run.
	tickLock sync.Mutex

	stateLock sync.RWMutex
	state     handlerState

	cooldownLock    sync.RWMutex
	lastAdjustment  time.Time
	outOfCooldownOn time.Time

	statusLock sync.RWMutex
	lastResult *TickResult
	lastError  error
	lastTick   time.Time
}

// NewHandler validates the configuration and returns an idle handler.
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	switch {
	case cfg.Queue == nil:
		return nil, errors.New("handler queue must not be nil")
	case cfg.Fleet == nil:
		return nil, errors.New("handler fleet must not be nil")
	case cfg.QueueLocator == "":
		return nil, errors.New("handler queue locator must not be empty")
	case !(cfg.TargetValue > 0):
		return nil, fmt.Errorf("target value must be positive, got %v", cfg.TargetValue)
	case cfg.Cooldown < 0:
		return nil, fmt.Errorf("cooldown must not be negative, got %s", cfg.Cooldown)
	case cfg.EvaluationInterval <= 0:
		return nil, fmt.Errorf("evaluation interval must be positive, got %s", cfg.EvaluationInterval)
	}

	log := cfg.Log
	if log == nil {
		log = hclog.NewNullLogger()
	}

	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	return &Handler{
		log:            log,
		key:            cfg.Key,
		queue:          cfg.Queue,
		locator:        cfg.QueueLocator,
		fleet:          cfg.Fleet,
		target:         cfg.TargetValue,
		cooldown:       cfg.Cooldown,
		interval:       cfg.EvaluationInterval,
		requestTimeout: timeout,
		labels: []metrics.Label{
			{Name: "stage", Value: cfg.Key.Stage},
			{Name: "policy", Value: cfg.Key.Policy},
		},
		state: StateIdle,
	}, nil
}

// Run evaluates the stage once straight away and then every evaluation
// interval until ctx is canceled. Evaluation errors are logged and retried on
// the next tick. A capacity
// request in flight when ctx is canceled is allowed to complete and no new
// tick starts afterwards.
//
// This function blocks until the context provided is canceled.
func (h *Handler) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	defer h.updateState(StateStopped)

	h.log.Trace("starting policy handler")

	if ctx.Err() == nil {
		if _, err := h.Tick(ctx); err != nil {
			h.log.Error("failed to evaluate stage", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.log.Info("stopping policy handler due to context done")
			return

		case <-ticker.C:
			// Both channels may be ready at once; never begin a tick after
			// shutdown was requested.
			if ctx.Err() != nil {
				continue
			}

			if _, err := h.Tick(ctx); err != nil {
				h.log.Error("failed to evaluate stage", "error", err)
			}
		}
	}
}

// Tick performs a single evaluation of the stage.
func (h *Handler) Tick(ctx context.Context) (TickResult, error) {
	h.tickLock.Lock()
	defer h.tickLock.Unlock()

	if h.getState() == StateStopped {
		return TickResult{}, ErrHandlerStopped
	}

	result, err := h.tick(ctx)
	h.recordTick(result, err)
	return result, err
}

func (h *Handler) tick(ctx context.Context) (TickResult, error) {
	evalStartTime := nowFunc()
	h.log.Debug("received stage for evaluation")

	sample, status, err := h.sample(ctx)
	if err != nil {
		metrics.IncrCounterWithLabels([]string{"sample", "error_count"}, 1, h.labels)
		return TickResult{}, fmt.Errorf("%w: %w", ErrSampleFailed, err)
	}

	result := TickResult{
		Sample:             sample,
		BacklogPerInstance: sample.PerInstance(),
		Current:            status.Desired,
		Candidate:          status.Desired,
	}

	metrics.SetGaugeWithLabels([]string{"stage", "queue_depth"}, float32(sample.QueueDepth), h.labels)
	metrics.SetGaugeWithLabels([]string{"stage", "in_service"}, float32(sample.InServiceInstances), h.labels)
	metrics.SetGaugeWithLabels([]string{"stage", "backlog_per_instance"}, float32(result.BacklogPerInstance), h.labels)

	if !status.Ready {
		h.log.Debug("skipping evaluation, fleet not ready")
		return result, nil
	}

	min, max := h.fleet.Bounds()
	result.Candidate = calculateCandidate(status.Desired, result.BacklogPerInstance/h.target, min, max)

	metrics.MeasureSinceWithLabels([]string{"scale", "evaluate_ms"}, evalStartTime, h.labels)

	h.log.Debug("calculated scaling target",
		"from", result.Current, "to", result.Candidate,
		"queue_depth", sample.QueueDepth, "in_service", sample.InServiceInstances,
		"backlog_per_instance", result.BacklogPerInstance)

	// Cooldown is checked against the time the decision is made, the sample
	// may be older.
	now := nowFunc()
	if h.getState() == StateCooldown {
		if now.Before(h.getOutOfCooldownOn()) {
			result.InCooldown = true
			h.log.Debug("skipping scaling, policy still on cooldown",
				"remaining", h.getOutOfCooldownOn().Sub(now))
			return result, nil
		}
		h.updateState(StateIdle)
	}

	if result.Candidate == result.Current {
		h.log.Debug("skipping scaling, no action needed")
		h.updateState(StateIdle)
		return result, nil
	}

	decision := sdk.ScalingDecision{
		Key:       h.key,
		Count:     result.Candidate,
		Direction: sdk.CalculateDirection(result.Current, result.Candidate),
		Reason: fmt.Sprintf("backlog per instance is %f against a target of %f",
			result.BacklogPerInstance, h.target),
	}

	applied, err := h.runFleetScale(ctx, decision)
	if err != nil {
		h.updateState(StateIdle)
		return result, err
	}
	if !applied {
		h.log.Debug("decision already applied, waiting for fleet to converge", "count", decision.Count)
		return result, nil
	}

	result.Applied = true
	h.updateLastAdjustment(now)
	h.updateState(StateCooldown)
	h.log.Info("successfully submitted scaling action to fleet, scaling policy has been placed into cooldown",
		"from", result.Current, "to", decision.Count, "cooldown", h.cooldown)

	return result, nil
}

// sample reads the queue depth and the fleet status. The readings are taken
// independently of each other.
func (h *Handler) sample(ctx context.Context) (sdk.BacklogSample, *sdk.FleetStatus, error) {
	depth, err := h.queue.Depth(ctx, h.locator)
	if err != nil {
		return sdk.BacklogSample{}, nil, fmt.Errorf("failed to read depth of queue %s: %w", h.locator, err)
	}

	status, err := h.fleet.Observe(ctx)
	if err != nil {
		return sdk.BacklogSample{}, nil, err
	}

	return sdk.BacklogSample{
		QueueDepth:         depth,
		InServiceInstances: status.InService,
		Timestamp:          nowFunc(),
	}, status, nil
}

// runFleetScale wraps the fleet.Apply call to provide operational
// functionality. The request is detached from ctx so that shutdown does not
// abandon it halfway through.
func (h *Handler) runFleetScale(ctx context.Context, d sdk.ScalingDecision) (bool, error) {
	reqCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.requestTimeout)
	defer cancel()

	defer metrics.MeasureSinceWithLabels([]string{"scale", "invoke_ms"}, time.Now(), h.labels)
	h.log.Debug("scaling fleet", "fleet", h.fleet.Name(), "count", d.Count)

	applied, err := h.fleet.Apply(reqCtx, d)
	if err != nil {
		metrics.IncrCounterWithLabels([]string{"scale", "invoke", "error_count"}, 1, h.labels)
		return false, err
	}
	if applied {
		metrics.IncrCounterWithLabels([]string{"scale", "invoke", "success_count"}, 1, h.labels)
	}
	return applied, nil
}

func (h *Handler) getState() handlerState {
	h.stateLock.RLock()
	defer h.stateLock.RUnlock()

	return h.state
}

func (h *Handler) updateState(hs handlerState) {
	h.stateLock.Lock()
	defer h.stateLock.Unlock()

	h.state = hs
}

func (h *Handler) getOutOfCooldownOn() time.Time {
	h.cooldownLock.RLock()
	defer h.cooldownLock.RUnlock()

	return h.outOfCooldownOn
}

func (h *Handler) updateLastAdjustment(t time.Time) {
	h.cooldownLock.Lock()
	defer h.cooldownLock.Unlock()

	h.lastAdjustment = t
	h.outOfCooldownOn = t.Add(h.cooldown)
}

func (h *Handler) recordTick(r TickResult, err error) {
	h.statusLock.Lock()
	defer h.statusLock.Unlock()

	h.lastTick = nowFunc()
	h.lastError = err
	if err == nil || !errors.Is(err, ErrSampleFailed) {
		h.lastResult = &r
	}
}

// calculateRemainingCooldown calculates the remaining cooldown based on the
// time of the last adjustment. The remaining period can be negative,
// indicating no cooldown period is required.
func calculateRemainingCooldown(cd time.Duration, now, lastAdjustment time.Time) time.Duration {
	return cd - now.Sub(lastAdjustment)
}
