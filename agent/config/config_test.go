// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	"github.com/mitchellh/go-homedir"
	"github.com/shoenig/test/must"
	"github.com/stretchr/testify/assert"
)

const testPipelineHCL = `
log_level = "debug"
backend   = "aws"

aws {
  region = "us-east-1"
}

pipeline "demo" {
  operator            = "ops"
  parameter_prefix    = "/processing-pipeline"
  evaluation_interval = "1m"
  cooldown            = "2m"

  stage "ingest" {
    fleet        = "SQS-ASG-1-demo"
    principal    = "ingest-role"
    policy_name  = "sqs-target-tracking-scaling-policy-queue-1"
    min_capacity = 1
    max_capacity = 5
    target_value = 1
    cooldown     = "60s"
  }

  stage "render" {
    fleet        = "SQS-ASG-2-demo"
    principal    = "render-role"
    policy_name  = "sqs-target-tracking-scaling-policy-queue-2"
    min_capacity = 1
    max_capacity = 5
    target_value = 1.5
  }
}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	must.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func Test_Default(t *testing.T) {
	def := Default()
	assert.NotNil(t, def)
	assert.False(t, def.LogJson)
	assert.Equal(t, "info", def.LogLevel)
	assert.Equal(t, BackendLocal, def.Backend)
	assert.Equal(t, "127.0.0.1", def.HTTP.BindAddress)
	assert.Equal(t, 8080, def.HTTP.BindPort)
	assert.Equal(t, 1*time.Second, def.Telemetry.CollectionInterval)
	assert.Equal(t, 10*time.Second, def.Local.ReconcileInterval)
	assert.Nil(t, def.Redis)
	assert.Nil(t, def.Pipeline)
}

func TestAgent_Merge(t *testing.T) {
	baseCfg := Default()

	cfg1 := &Agent{
		HTTP: &HTTP{
			BindAddress: "scaler.internal",
		},
		AWS: &AWS{
			Region: "eu-west-1",
		},
		Pipeline: &Pipeline{
			Name:     "demo",
			Operator: "ops",
			Stages: []*Stage{
				{Name: "ingest", Fleet: "fleet-a", MaxCapacity: 5},
				{Name: "render", Fleet: "fleet-b", MaxCapacity: 5},
			},
		},
	}

	cfg2 := &Agent{
		LogLevel: "trace",
		LogJson:  true,
		Backend:  BackendAWS,
		HTTP: &HTTP{
			BindPort: 4646,
		},
		AWS: &AWS{
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
			RateLimit:       -1,
		},
		Redis: &Redis{
			Address: "127.0.0.1:6379",
		},
		Telemetry: &Telemetry{
			StatsiteAddr:            "some-address",
			PrometheusMetrics:       true,
			PrometheusRetentionTime: 48 * time.Hour,
			DisableHostname:         true,
			EnableHostnameLabel:     true,
			CollectionInterval:      3 * time.Second,
		},
		Pipeline: &Pipeline{
			TeardownOnExit: true,
			Cooldown:       time.Minute,
			Stages: []*Stage{
				{Name: "publish", Fleet: "fleet-c", MaxCapacity: 2},
				{Name: "ingest", Fleet: "fleet-a", MaxCapacity: 10},
			},
		},
	}

	expectedResult := &Agent{
		LogLevel: "trace",
		LogJson:  true,
		Backend:  BackendAWS,
		HTTP: &HTTP{
			BindAddress: "scaler.internal",
			BindPort:    4646,
		},
		Telemetry: &Telemetry{
			StatsiteAddr:            "some-address",
			PrometheusMetrics:       true,
			PrometheusRetentionTime: 48 * time.Hour,
			DisableHostname:         true,
			EnableHostnameLabel:     true,
			CollectionInterval:      3 * time.Second,
		},
		AWS: &AWS{
			Region:          "eu-west-1",
			AccessKeyID:     "AKIDEXAMPLE",
			SecretAccessKey: "secret",
			RateLimit:       -1,
		},
		Redis: &Redis{
			Address: "127.0.0.1:6379",
		},
		Local: &Local{
			ReconcileInterval: 10 * time.Second,
		},
		Pipeline: &Pipeline{
			Name:           "demo",
			Operator:       "ops",
			Cooldown:       time.Minute,
			TeardownOnExit: true,
			Stages: []*Stage{
				{Name: "ingest", Fleet: "fleet-a", MaxCapacity: 10},
				{Name: "render", Fleet: "fleet-b", MaxCapacity: 5},
				{Name: "publish", Fleet: "fleet-c", MaxCapacity: 2},
			},
		},
	}

	actualResult := baseCfg.Merge(cfg1)
	actualResult = actualResult.Merge(cfg2)

	if diff := cmp.Diff(expectedResult, actualResult); diff != "" {
		t.Fatalf("unexpected merge result (-want +got):\n%s", diff)
	}

	// Merging must not alias the stages of the merged configurations.
	actualResult.Pipeline.Stages[1].MaxCapacity = 99
	assert.Equal(t, int64(5), cfg1.Pipeline.Stages[1].MaxCapacity)
}

func TestAgent_Validate(t *testing.T) {
	testCases := []struct {
		inputConfig *Agent
		expectedErr string
		name        string
	}{
		{
			inputConfig: Default(),
			expectedErr: "",
			name:        "default config",
		},
		{
			inputConfig: &Agent{LogLevel: "loud"},
			expectedErr: `invalid log_level "loud"`,
			name:        "invalid log level",
		},
		{
			inputConfig: &Agent{Backend: "gcp"},
			expectedErr: `backend must be "aws" or "local", got "gcp"`,
			name:        "invalid backend",
		},
		{
			inputConfig: &Agent{HTTP: &HTTP{BindPort: 70000}},
			expectedErr: "http -> invalid bind_port 70000",
			name:        "invalid bind port",
		},
		{
			inputConfig: &Agent{Pipeline: &Pipeline{
				Name:     "demo",
				Cooldown: -time.Second,
				Stages:   []*Stage{{Name: "ingest"}, {Name: "ingest"}},
			}},
			expectedErr: "pipeline[demo] -> cooldown must not be negative",
			name:        "invalid pipeline",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.inputConfig.Validate()
			if tc.expectedErr == "" {
				assert.NoError(t, err, tc.name)
				return
			}
			assert.ErrorContains(t, err, tc.expectedErr, tc.name)
		})
	}
}

func TestAgent_parseFile(t *testing.T) {
	dir := t.TempDir()

	// Should receive a non-nil response as the file doesn't exist.
	assert.NotNil(t, parseFile(filepath.Join(dir, "honeybadger.hcl"), &Agent{}))

	// Write some nonsense content and expect to receive a non-nil response.
	bad := writeFile(t, dir, "bad.hcl", "¿que?")
	assert.NotNil(t, parseFile(bad, &Agent{}))

	badDuration := writeFile(t, dir, "duration.hcl", `local { reconcile_interval = "soon" }`)
	assert.ErrorContains(t, parseFile(badDuration, &Agent{}), `invalid reconcile_interval "soon"`)

	cfg := &Agent{}
	path := writeFile(t, dir, "pipeline.hcl", testPipelineHCL)
	must.NoError(t, parseFile(path, cfg))

	must.Eq(t, "debug", cfg.LogLevel)
	must.Eq(t, BackendAWS, cfg.Backend)
	must.Eq(t, "us-east-1", cfg.AWS.Region)
	must.NotNil(t, cfg.Pipeline)
	must.Eq(t, "demo", cfg.Pipeline.Name)
	must.Eq(t, time.Minute, cfg.Pipeline.EvaluationInterval)
	must.Eq(t, 2*time.Minute, cfg.Pipeline.Cooldown)
	must.SliceLen(t, 2, cfg.Pipeline.Stages)
	must.Eq(t, "ingest", cfg.Pipeline.Stages[0].Name)
	must.Eq(t, 60*time.Second, cfg.Pipeline.Stages[0].Cooldown)
	must.Eq(t, int64(5), cfg.Pipeline.Stages[0].MaxCapacity)
	must.Eq(t, 1.5, cfg.Pipeline.Stages[1].TargetValue)
}

func TestAgent_PipelineConfig(t *testing.T) {
	_, err := Default().PipelineConfig()
	must.ErrorContains(t, err, "no pipeline block")

	dir := t.TempDir()
	cfg, err := LoadPaths([]string{writeFile(t, dir, "pipeline.hcl", testPipelineHCL)})
	must.NoError(t, err)

	out, err := cfg.PipelineConfig()
	must.NoError(t, err)
	must.NoError(t, out.Validate())

	must.Eq(t, "demo", out.Name)
	must.Eq(t, "ops", out.Operator)
	must.Eq(t, "/processing-pipeline", out.ParameterPrefix)
	must.Eq(t, []sdk.StageSpec{
		{
			Name:               "ingest",
			Fleet:              "SQS-ASG-1-demo",
			Principal:          sdk.Principal{Name: "ingest-role"},
			PolicyName:         "sqs-target-tracking-scaling-policy-queue-1",
			MinCapacity:        1,
			MaxCapacity:        5,
			TargetValue:        1,
			Cooldown:           60 * time.Second,
			EvaluationInterval: time.Minute,
		},
		{
			Name:               "render",
			Fleet:              "SQS-ASG-2-demo",
			Principal:          sdk.Principal{Name: "render-role"},
			PolicyName:         "sqs-target-tracking-scaling-policy-queue-2",
			MinCapacity:        1,
			MaxCapacity:        5,
			TargetValue:        1.5,
			Cooldown:           2 * time.Minute,
			EvaluationInterval: time.Minute,
		},
	}, out.Stages)

	// Without pipeline level durations the agent defaults apply.
	cfg.Pipeline.EvaluationInterval = 0
	cfg.Pipeline.Cooldown = 0
	out, err = cfg.PipelineConfig()
	must.NoError(t, err)
	must.Eq(t, defaultCooldown, out.Stages[1].Cooldown)
	must.Eq(t, defaultEvaluationInterval, out.Stages[1].EvaluationInterval)
}

func TestConfig_Load(t *testing.T) {
	// Fails if the target doesn't exist
	_, err := Load("/honeybadger/")
	assert.NotNil(t, err)

	dir := t.TempDir()
	path := writeFile(t, dir, "agent.hcl", `log_level = "trace"`)

	// Works on a config file
	cfg, err := Load(path)
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)

	confDir := filepath.Join(dir, "conf.d")
	must.NoError(t, os.Mkdir(confDir, 0700))
	writeFile(t, confDir, "config1.hcl", `backend = "aws"`)

	// Works on config dir
	cfg, err = Load(confDir)
	assert.Nil(t, err)
	assert.Equal(t, BackendAWS, cfg.Backend)

	// Expands the home directory.
	homedir.DisableCache = true
	t.Setenv("HOME", dir)
	cfg, err = Load("~/agent.hcl")
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
}

func TestAgent_loadDir(t *testing.T) {
	// Should receive a non-nil response as the dir doesn't exist.
	_, err := loadDir("/honeybadger/")
	assert.NotNil(t, err)

	dir := t.TempDir()

	// Returns empty config on empty dir.
	config, err := loadDir(dir)
	assert.Nil(t, err)
	assert.Equal(t, config, &Agent{})

	writeFile(t, dir, "config1.hcl", `log_level = "trace"`)
	writeFile(t, dir, "config2.json", `{"backend": "aws"}`)
	file3 := writeFile(t, dir, "config3.hcl", "¿que?")

	// Fails if we have a bad config file.
	_, err = loadDir(dir)
	assert.NotNil(t, err)

	// Remove the invalid config file.
	assert.Nil(t, os.Remove(file3))

	// We should now be able to load as all the configs are valid.
	cfg, err := loadDir(dir)
	assert.Nil(t, err)
	assert.Equal(t, "trace", cfg.LogLevel)
	assert.Equal(t, BackendAWS, cfg.Backend)
}

func TestLoadPaths(t *testing.T) {
	dir := t.TempDir()
	first := writeFile(t, dir, "a.hcl", `backend = "gcp"`)
	second := writeFile(t, dir, "b.hcl", `log_level = "loud"`)

	// Every invalid file is reported.
	_, err := LoadPaths([]string{first, second})
	must.ErrorContains(t, err, "a.hcl")
	must.ErrorContains(t, err, "b.hcl")

	good := writeFile(t, dir, "c.hcl", `http { bind_port = 9090 }`)
	cfg, err := LoadPaths([]string{good})
	must.NoError(t, err)
	must.Eq(t, 9090, cfg.HTTP.BindPort)
	must.Eq(t, "127.0.0.1", cfg.HTTP.BindAddress)
}
