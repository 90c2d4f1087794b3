// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"fmt"
	"net/http"
	"testing"

	metrics "github.com/armon/go-metrics"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// MockAgentHTTP serves fixed responses. It knows a single stage named
// "ingest". PipelineHealth returns HealthErr.
type MockAgentHTTP struct {
	HealthErr error
}

func (m *MockAgentHTTP) DisplayMetrics(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	return metrics.MetricsSummary{
		Timestamp: "2020-11-17 00:17:50 +0000 UTC",
		Counters:  []metrics.SampledValue{},
		Gauges:    []metrics.GaugeValue{},
		Points:    []metrics.PointValue{},
		Samples:   []metrics.SampledValue{},
	}, nil
}

func (m *MockAgentHTTP) PipelineHealth() error { return m.HealthErr }

func (m *MockAgentHTTP) PipelineStatus(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	return map[string]interface{}{
		"name":   "demo",
		"stages": []map[string]string{{"name": "ingest", "state": "idle"}},
	}, nil
}

func (m *MockAgentHTTP) StageStatus(_ http.ResponseWriter, _ *http.Request, stage string) (interface{}, error) {
	if stage != "ingest" {
		return nil, fmt.Errorf("stage %q: %w", stage, sdk.ErrNotFound)
	}
	return map[string]string{"name": "ingest", "state": "idle"}, nil
}

// TestServer creates a server listening on the next available local port. The
// server is not started; tests drive its mux directly.
func TestServer(t *testing.T, enableProm bool) (*Server, func()) {
	return TestServerWithAgent(t, enableProm, &MockAgentHTTP{})
}

// TestServerWithAgent is TestServer with the given agent.
func TestServerWithAgent(t *testing.T, enableProm bool, agent AgentHTTP) (*Server, func()) {
	t.Helper()

	cfg := &config.HTTP{
		BindAddress: "127.0.0.1",
		BindPort:    0, // Use next available port.
	}

	s, err := NewHTTPServer(false, enableProm, cfg, hclog.NewNullLogger(), agent)
	if err != nil {
		t.Fatalf("failed to start test server: %v", err)
	}

	return s, func() {
		s.Stop()
		_ = s.ln.Close()
	}
}
