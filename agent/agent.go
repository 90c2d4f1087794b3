// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	"github.com/hashicorp/pipeline-autoscaler/pipeline"
	"github.com/hashicorp/pipeline-autoscaler/policy"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	errHelper "github.com/hashicorp/pipeline-autoscaler/sdk/helper/error"
)

// teardownTimeout bounds the cleanup performed when the agent exits with
// teardown enabled.
const teardownTimeout = time.Minute

// errNotSetup is returned by the HTTP handlers before Setup has completed.
var errNotSetup = errors.New("agent has not been setup")

// Agent builds the pipeline declared in its configuration and runs the stage
// controllers until it is told to exit.
type Agent struct {
	logger    hclog.Logger
	config    *config.Agent
	inMemSink *metrics.InmemSink

	lock     sync.RWMutex
	pipeline *pipeline.Pipeline
	backends *backends
}

// NewAgent returns an agent for the configuration. Nothing is built until
// Setup is called.
func NewAgent(c *config.Agent, logger hclog.Logger) *Agent {
	return &Agent{
		logger: logger,
		config: c,
	}
}

// Setup configures telemetry and the backends, then builds the pipeline. A
// configuration error is returned before any backend resource is created.
func (a *Agent) Setup(ctx context.Context) error {
	pipelineCfg, err := a.config.PipelineConfig()
	if err != nil {
		return err
	}
	if err := pipelineCfg.Validate(); err != nil {
		return fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	// Setup the telemetry sinks.
	inMem, err := a.setupTelemetry(a.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %v", err)
	}
	a.inMemSink = inMem

	b, err := a.setupBackends(ctx, &pipelineCfg)
	if err != nil {
		return fmt.Errorf("failed to setup %s backend: %v", a.config.Backend, err)
	}

	p, err := pipeline.Build(ctx, pipelineCfg, b.Backends, a.logger)
	if err != nil {
		b.close()
		return err
	}

	a.lock.Lock()
	a.pipeline = p
	a.backends = b
	a.lock.Unlock()
	return nil
}

// Run runs the pipeline until ctx is canceled or an exit signal is received.
// Setup must have been called.
func (a *Agent) Run(ctx context.Context) error {
	a.lock.RLock()
	p, b := a.pipeline, a.backends
	a.lock.RUnlock()
	if p == nil {
		return errNotSetup
	}
	defer b.close()

	// Create context to handle propagation to downstream routines.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, r := range b.runners {
		wg.Add(1)
		go func(r func(context.Context)) {
			defer wg.Done()
			r(ctx)
		}(r)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	// Wait for our exit.
	a.handleSignals(ctx)
	cancel()

	err := <-errCh
	wg.Wait()

	if a.config.Pipeline != nil && a.config.Pipeline.TeardownOnExit {
		a.logger.Info("tearing down pipeline", "pipeline", p.Name())

		tCtx, tCancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer tCancel()
		if tErr := p.Teardown(tCtx); tErr != nil {
			a.logger.Error("failed to tear down pipeline", "error", tErr)
			if err == nil {
				err = tErr
			}
		}
	}
	return err
}

// handleSignals blocks until the agent receives an exit signal or ctx is
// canceled.
func (a *Agent) handleSignals(ctx context.Context) {
	signalCh := make(chan os.Signal, 3)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	select {
	case sig := <-signalCh:
		a.logger.Info("caught signal", "signal", sig.String())
	case <-ctx.Done():
		a.logger.Info("context closed, shutting down agent")
	}
}

func (a *Agent) getPipeline() (*pipeline.Pipeline, error) {
	a.lock.RLock()
	defer a.lock.RUnlock()
	if a.pipeline == nil {
		return nil, errNotSetup
	}
	return a.pipeline, nil
}

// PipelineStatus is the HTTP representation of the pipeline.
type PipelineStatus struct {
	Name   string                 `json:"name"`
	Stages []pipeline.StageStatus `json:"stages"`
}

func (a *Agent) DisplayMetrics(resp http.ResponseWriter, req *http.Request) (interface{}, error) {
	if a.inMemSink == nil {
		return nil, errNotSetup
	}
	return a.inMemSink.DisplayMetrics(resp, req)
}

// PipelineHealth returns an error naming every stage whose controller has
// stopped.
func (a *Agent) PipelineHealth() error {
	p, err := a.getPipeline()
	if err != nil {
		return err
	}

	var result *multierror.Error
	for _, s := range p.Stages() {
		if s.Policy.Status().State == policy.StateStopped.String() {
			result = multierror.Append(result, fmt.Errorf("stage %q controller stopped", s.Name))
		}
	}
	return errHelper.FormattedMultiError(result)
}

func (a *Agent) PipelineStatus(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	p, err := a.getPipeline()
	if err != nil {
		return nil, err
	}
	return PipelineStatus{Name: p.Name(), Stages: p.Status()}, nil
}

func (a *Agent) StageStatus(_ http.ResponseWriter, _ *http.Request, stage string) (interface{}, error) {
	p, err := a.getPipeline()
	if err != nil {
		return nil, err
	}
	for _, s := range p.Stages() {
		if s.Name == stage {
			return s.Status(), nil
		}
	}
	return nil, fmt.Errorf("stage %q: %w", stage, sdk.ErrNotFound)
}
