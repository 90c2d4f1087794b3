// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"

	hclog "github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pipeline-autoscaler/fleet"
	"github.com/hashicorp/pipeline-autoscaler/policy"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	errHelper "github.com/hashicorp/pipeline-autoscaler/sdk/helper/error"
)

var (
	// ErrAlreadyRun is returned by Run when the pipeline has already been
	// run. Stage controllers cannot be restarted after they stop.
	ErrAlreadyRun = errors.New("pipeline has already been run")
)

// Pipeline is an ordered chain of stages built once at startup. The set of
// stages never changes afterwards.
type Pipeline struct {
	name     string
	operator string
	prefix   string
	log      hclog.Logger
	backends Backends
	stages   []*Stage

	lock sync.Mutex
	ran  bool
}

// Build validates the configuration and creates every stage in order. The
// configuration is checked in full before any backend is called so that a
// configuration error never leaves partial resources behind. If a backend
// call fails while wiring, the resources created so far are removed on a best
// effort basis and the error is returned.
func Build(ctx context.Context, cfg Config, backends Backends, log hclog.Logger) (*Pipeline, error) {
	var mErr *multierror.Error
	if err := cfg.Validate(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if err := backends.validate(); err != nil {
		mErr = multierror.Append(mErr, err)
	}
	if err := errHelper.FormattedMultiError(mErr); err != nil {
		return nil, fmt.Errorf("invalid pipeline configuration: %w", err)
	}

	if log == nil {
		log = hclog.NewNullLogger()
	}

	p := &Pipeline{
		name:     cfg.Name,
		operator: cfg.Operator,
		prefix:   cfg.parameterPrefix(),
		log:      log.Named("pipeline").With("pipeline", cfg.Name),
		backends: backends,
	}

	if err := p.build(ctx, cfg); err != nil {
		if rErr := p.Teardown(ctx); rErr != nil {
			p.log.Error("failed to clean up partially built pipeline", "error", rErr)
		}
		return nil, err
	}

	p.log.Info("pipeline built", "stages", len(p.stages))
	return p, nil
}

func (p *Pipeline) build(ctx context.Context, cfg Config) error {

	// Create every queue and fleet before wiring, since a stage's grants
	// refer to its successor.
	for i, spec := range cfg.Stages {
		s, err := p.newStage(ctx, i, spec, cfg)
		if err != nil {
			return fmt.Errorf("failed to create stage %s: %w", spec.Name, err)
		}
		p.stages = append(p.stages, s)
	}

	for i, s := range p.stages {
		if i+1 < len(p.stages) {
			next := p.stages[i+1].Queue
			s.Downstream = &next
		}
	}

	for _, s := range p.stages {
		if err := p.wireStage(ctx, s); err != nil {
			return fmt.Errorf("failed to wire stage %s: %w", s.Name, err)
		}
	}
	return nil
}

func (p *Pipeline) newStage(ctx context.Context, index int, spec sdk.StageSpec, cfg Config) (*Stage, error) {
	log := p.log.With("stage", spec.Name)

	name := QueueName(p.name, spec.Name)
	locator, err := p.backends.Queues.EnsureQueue(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure queue %s: %w", name, err)
	}

	fl, err := fleet.New(spec.Fleet, spec.MinCapacity, spec.MaxCapacity, p.backends.Fleets, log)
	if err != nil {
		return nil, err
	}
	if err := fl.Configure(ctx); err != nil {
		return nil, err
	}

	h, err := policy.NewHandler(policy.HandlerConfig{
		Key:                spec.PolicyKey(),
		Queue:              p.backends.Queues,
		QueueLocator:       locator,
		Fleet:              fl,
		TargetValue:        spec.TargetValue,
		Cooldown:           spec.Cooldown,
		EvaluationInterval: spec.EvaluationInterval,
		RequestTimeout:     cfg.RequestTimeout,
		Log: p.log.ResetNamed("policy_handler").With(
			"stage", spec.Name, "policy", spec.PolicyName),
	})
	if err != nil {
		return nil, err
	}

	param := ParameterName(p.prefix, spec.Name)
	if err := p.backends.Parameters.PutParameter(ctx, param, locator); err != nil {
		return nil, fmt.Errorf("failed to publish queue locator: %w", err)
	}

	log.Debug("stage created", "queue", name, "locator", locator, "fleet", spec.Fleet)

	return &Stage{
		Index:  index,
		Name:   spec.Name,
		Spec:   spec,
		Queue:  Queue{Name: name, Locator: locator, Parameter: param},
		Fleet:  fl,
		Policy: h,
	}, nil
}

// wireStage makes the grants of the stage's principal and attaches its
// scaling policy. The principal may consume from its own queue and produce
// into the downstream queue, never the reverse.
func (p *Pipeline) wireStage(ctx context.Context, s *Stage) error {
	principal := s.Spec.Principal

	if err := p.backends.Queues.GrantConsume(ctx, s.Queue.Locator, principal); err != nil {
		return fmt.Errorf("failed to grant consume on %s: %w", s.Queue.Name, err)
	}
	if err := p.backends.Parameters.GrantRead(ctx, s.Queue.Parameter, principal); err != nil {
		return fmt.Errorf("failed to grant read on %s: %w", s.Queue.Parameter, err)
	}

	if s.Downstream != nil {
		if err := p.backends.Queues.GrantProduce(ctx, s.Downstream.Locator, principal); err != nil {
			return fmt.Errorf("failed to grant produce on %s: %w", s.Downstream.Name, err)
		}
		if err := p.backends.Parameters.GrantRead(ctx, s.Downstream.Parameter, principal); err != nil {
			return fmt.Errorf("failed to grant read on %s: %w", s.Downstream.Parameter, err)
		}
	}

	doc := sdk.PolicyDocument{
		Fleet:        s.Spec.Fleet,
		QueueLocator: s.Queue.Locator,
		TargetValue:  s.Spec.TargetValue,
		Cooldown:     s.Spec.Cooldown,
		MinCapacity:  s.Spec.MinCapacity,
		MaxCapacity:  s.Spec.MaxCapacity,
		Operator:     p.operator,
	}
	if err := p.backends.Policies.PutPolicy(ctx, s.Spec.PolicyKey(), doc); err != nil {
		return fmt.Errorf("failed to apply policy %s: %w", s.Spec.PolicyKey(), err)
	}

	p.log.Debug("stage wired", "stage", s.Name, "principal", principal.Name,
		"downstream", s.Downstream != nil)
	return nil
}

// Name returns the name of the pipeline.
func (p *Pipeline) Name() string { return p.name }

// Stages returns the stages in pipeline order.
func (p *Pipeline) Stages() []*Stage {
	out := make([]*Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// Status returns a snapshot of every stage in pipeline order.
func (p *Pipeline) Status() []StageStatus {
	out := make([]StageStatus, 0, len(p.stages))
	for _, s := range p.stages {
		out = append(out, s.Status())
	}
	return out
}

// Run starts the controller of every stage and blocks until ctx is canceled
// and every controller has stopped. Controllers run independently of each
// other; an error in one stage never stalls another.
func (p *Pipeline) Run(ctx context.Context) error {
	p.lock.Lock()
	if p.ran {
		p.lock.Unlock()
		return ErrAlreadyRun
	}
	p.ran = true
	p.lock.Unlock()

	p.log.Info("starting stage controllers", "stages", len(p.stages))

	var wg sync.WaitGroup
	for _, s := range p.stages {
		wg.Add(1)
		go func(s *Stage) {
			defer wg.Done()
			s.Policy.Run(ctx)
		}(s)
	}
	wg.Wait()

	p.log.Info("stage controllers stopped")
	return nil
}

// Teardown removes the policy, grants and locator parameter of every stage.
// Cleanup is best effort: a failure is recorded and the remaining resources
// are still removed. Queues are retained. Teardown should be called once Run
// has returned.
func (p *Pipeline) Teardown(ctx context.Context) error {
	var mErr *multierror.Error

	for i := len(p.stages) - 1; i >= 0; i-- {
		s := p.stages[i]
		if err := p.teardownStage(ctx, s); err != nil {
			mErr = multierror.Append(mErr, err)
		}
	}

	if err := errHelper.FormattedMultiError(mErr); err != nil {
		return fmt.Errorf("failed to tear down pipeline %s: %w", p.name, err)
	}

	p.log.Info("pipeline torn down")
	return nil
}

type teardownStep struct {
	desc string
	fn   func() error
}

func (p *Pipeline) teardownStage(ctx context.Context, s *Stage) error {
	principal := s.Spec.Principal

	steps := []teardownStep{
		{"delete policy " + s.Spec.PolicyKey().String(), func() error {
			return p.backends.Policies.DeletePolicy(ctx, s.Spec.PolicyKey())
		}},
		{"revoke grants on " + s.Queue.Name, func() error {
			return p.backends.Queues.RevokeGrants(ctx, s.Queue.Locator, principal)
		}},
		{"revoke read on " + s.Queue.Parameter, func() error {
			return p.backends.Parameters.RevokeRead(ctx, s.Queue.Parameter, principal)
		}},
	}
	if d := s.Downstream; d != nil {
		steps = append(steps,
			teardownStep{"revoke grants on " + d.Name, func() error {
				return p.backends.Queues.RevokeGrants(ctx, d.Locator, principal)
			}},
			teardownStep{"revoke read on " + d.Parameter, func() error {
				return p.backends.Parameters.RevokeRead(ctx, d.Parameter, principal)
			}},
		)
	}
	steps = append(steps, teardownStep{"delete parameter " + s.Queue.Parameter, func() error {
		return p.backends.Parameters.DeleteParameter(ctx, s.Queue.Parameter)
	}})

	var mErr *multierror.Error
	for _, step := range steps {
		if err := step.fn(); err != nil {
			p.log.Warn("teardown step failed", "stage", s.Name, "step", step.desc, "error", err)
			mErr = multierror.Append(mErr, multierror.Prefix(err,
				fmt.Sprintf("stage[%s] -> %s:", s.Name, step.desc)))
		}
	}
	return mErr.ErrorOrNil()
}
