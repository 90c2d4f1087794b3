// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	"github.com/hashicorp/pipeline-autoscaler/backend/memory"
	"github.com/hashicorp/pipeline-autoscaler/pipeline"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/assert"
)

func TestAgent_Setup_invalidConfig(t *testing.T) {
	testCases := []struct {
		inputConfig func(*config.Agent)
		expectedErr string
		name        string
	}{
		{
			inputConfig: func(c *config.Agent) { c.Pipeline = nil },
			expectedErr: "no pipeline block found in configuration",
			name:        "missing pipeline",
		},
		{
			inputConfig: func(c *config.Agent) { c.Pipeline.Stages[1].MaxCapacity = 0 },
			expectedErr: "stage[render] -> max_capacity must be at least 1, got 0",
			name:        "invalid stage",
		},
		{
			inputConfig: func(c *config.Agent) { c.Backend = "gcp" },
			expectedErr: `unsupported backend "gcp"`,
			name:        "unsupported backend",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := TestAgentConfig()
			tc.inputConfig(cfg)

			a := NewAgent(cfg, hclog.NewNullLogger())
			err := a.Setup(context.Background())
			must.ErrorContains(t, err, tc.expectedErr)

			_, err = a.getPipeline()
			must.ErrorIs(t, err, errNotSetup)
		})
	}
}

func TestAgent_Run_notSetup(t *testing.T) {
	a := NewAgent(TestAgentConfig(), hclog.NewNullLogger())
	must.ErrorIs(t, a.Run(context.Background()), errNotSetup)
}

func TestAgent_local(t *testing.T) {
	cfg := TestAgentConfig()
	cfg.Pipeline.TeardownOnExit = true

	a := NewAgent(cfg, hclog.NewNullLogger())
	must.NoError(t, a.Setup(context.Background()))

	queues, ok := a.backends.Queues.(*memory.Queues)
	must.True(t, ok)
	policies, ok := a.backends.Policies.(*memory.Policies)
	must.True(t, ok)
	must.Eq(t, 2, policies.Len())

	// Put work on the first stage only.
	ingest := a.pipeline.Stages()[0].Queue.Locator
	must.NoError(t, queues.Push(ingest, "", "a", "b", "c", "d"))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	// The first stage scales out while the second stays at its minimum.
	assert.Eventually(t, func() bool {
		out, err := a.StageStatus(nil, nil, "ingest")
		if err != nil {
			return false
		}
		return out.(pipeline.StageStatus).Policy.Capacity > 1
	}, 5*time.Second, 10*time.Millisecond)

	out, err := a.StageStatus(nil, nil, "render")
	must.NoError(t, err)
	must.Eq(t, int64(1), out.(pipeline.StageStatus).Policy.Capacity)

	_, err = a.StageStatus(nil, nil, "publish")
	must.ErrorIs(t, err, sdk.ErrNotFound)

	status, err := a.PipelineStatus(nil, nil)
	must.NoError(t, err)
	must.Eq(t, "demo", status.(PipelineStatus).Name)
	must.SliceLen(t, 2, status.(PipelineStatus).Stages)
	must.NoError(t, a.PipelineHealth())

	cancel()
	select {
	case err := <-errCh:
		must.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	// Teardown on exit removed the policies.
	must.Eq(t, 0, policies.Len())
	must.ErrorContains(t, a.PipelineHealth(), `stage "ingest" controller stopped`)
}

func TestAgent_localRedis(t *testing.T) {
	db, err := miniredis.Run()
	must.NoError(t, err)
	defer db.Close()

	cfg := TestAgentConfig()
	cfg.Redis = &config.Redis{Address: db.Addr(), Prefix: "test:"}

	a := NewAgent(cfg, hclog.NewNullLogger())
	must.NoError(t, a.Setup(context.Background()))
	defer a.backends.close()

	members, err := db.Members("test:queues")
	must.NoError(t, err)
	must.SliceContains(t, members, "test:queue:demo-ingest")
	must.NotEq(t, "", db.HGet("test:parameters", "/demo/ingest"))
	must.NotEq(t, "", db.HGet("test:policies", "ingest/sqs-target-tracking-scaling-policy-queue-1"))
}

func TestAgent_DisplayMetrics(t *testing.T) {
	a := NewAgent(TestAgentConfig(), hclog.NewNullLogger())

	_, err := a.DisplayMetrics(httptest.NewRecorder(), httptest.NewRequest("GET", "/v1/metrics", nil))
	assert.ErrorIs(t, err, errNotSetup)
	assert.ErrorIs(t, a.PipelineHealth(), errNotSetup)
}
