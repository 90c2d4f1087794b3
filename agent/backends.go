// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	awsBackend "github.com/hashicorp/pipeline-autoscaler/backend/aws"
	"github.com/hashicorp/pipeline-autoscaler/backend/memory"
	redisBackend "github.com/hashicorp/pipeline-autoscaler/backend/redis"
	"github.com/hashicorp/pipeline-autoscaler/pipeline"
)

// defaultReconcileInterval is used when the local block does not set one.
const defaultReconcileInterval = 10 * time.Second

// backends holds the pipeline backends along with the background routines
// and cleanup functions they need.
type backends struct {
	pipeline.Backends

	// runners are started by Run and stopped when it returns.
	runners []func(context.Context)

	closers []func() error
}

func (b *backends) close() {
	for _, c := range b.closers {
		_ = c()
	}
	b.closers = nil
}

func (a *Agent) setupBackends(ctx context.Context, cfg *pipeline.Config) (*backends, error) {
	switch a.config.Backend {
	case config.BackendAWS:
		return a.setupAWSBackends(ctx, cfg)
	case config.BackendLocal, "":
		return a.setupLocalBackends(ctx)
	default:
		return nil, fmt.Errorf("unsupported backend %q", a.config.Backend)
	}
}

func (a *Agent) setupAWSBackends(ctx context.Context, cfg *pipeline.Config) (*backends, error) {
	c := awsBackend.Config{}
	if a.config.AWS != nil {
		c = awsBackend.Config{
			Region:          a.config.AWS.Region,
			AccessKeyID:     a.config.AWS.AccessKeyID,
			SecretAccessKey: a.config.AWS.SecretAccessKey,
			SessionToken:    a.config.AWS.SessionToken,
			RateLimit:       a.config.AWS.RateLimit,
		}
	}

	log := a.logger.ResetNamed("aws")
	awsCfg, err := awsBackend.LoadConfig(ctx, c, log)
	if err != nil {
		return nil, err
	}
	log.Info("using AWS backend", "region", awsCfg.Region)

	b := awsBackend.NewBackends(awsCfg, cfg.PolicyPrefix(), log)
	return &backends{
		Backends: pipeline.Backends{
			Queues:     b.Queues,
			Fleets:     b.Fleets,
			Policies:   b.Parameters,
			Parameters: b.Parameters,
		},
	}, nil
}

// setupLocalBackends runs the fleets in process. Queues, parameters and
// policies are kept in Redis when it is configured and in memory otherwise.
func (a *Agent) setupLocalBackends(ctx context.Context) (*backends, error) {
	interval := defaultReconcileInterval
	if a.config.Local != nil && a.config.Local.ReconcileInterval > 0 {
		interval = a.config.Local.ReconcileInterval
	}
	fleets := memory.NewFleets()

	out := &backends{
		runners: []func(context.Context){
			func(ctx context.Context) { fleets.Run(ctx, interval) },
		},
	}
	out.Fleets = fleets

	if r := a.config.Redis; r != nil && r.Address != "" {
		rb, err := redisBackend.New(ctx, redisBackend.Config{
			Address:  r.Address,
			Password: r.Password,
			DB:       r.DB,
			Prefix:   r.Prefix,
		})
		if err != nil {
			return nil, err
		}
		a.logger.Info("using local backend with Redis", "address", r.Address)

		out.Queues = rb
		out.Policies = rb
		out.Parameters = rb
		out.closers = append(out.closers, rb.Close)
		return out, nil
	}

	a.logger.Info("using in-memory local backend")

	grants := memory.NewGrants()
	out.Queues = memory.NewQueues(grants)
	out.Policies = memory.NewPolicies()
	out.Parameters = memory.NewParameters(grants)
	return out, nil
}
