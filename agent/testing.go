// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"time"

	"github.com/hashicorp/pipeline-autoscaler/agent/config"
)

// TestAgentConfig returns a local backend configuration with a two stage
// pipeline that evaluates quickly.
func TestAgentConfig() *config.Agent {
	cfg := config.Default()
	cfg.Local.ReconcileInterval = 10 * time.Millisecond
	cfg.Pipeline = &config.Pipeline{
		Name:               "demo",
		Operator:           "ops",
		EvaluationInterval: 10 * time.Millisecond,
		Cooldown:           time.Millisecond,
		Stages: []*config.Stage{
			{
				Name:        "ingest",
				Fleet:       "SQS-ASG-1-demo",
				Principal:   "ingest-role",
				PolicyName:  "sqs-target-tracking-scaling-policy-queue-1",
				MinCapacity: 1,
				MaxCapacity: 5,
				TargetValue: 1,
			},
			{
				Name:        "render",
				Fleet:       "SQS-ASG-2-demo",
				Principal:   "render-role",
				PolicyName:  "sqs-target-tracking-scaling-policy-queue-2",
				MinCapacity: 1,
				MaxCapacity: 5,
				TargetValue: 1,
			},
		},
	}
	return cfg
}
