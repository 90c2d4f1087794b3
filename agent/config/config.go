// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/pipeline-autoscaler/pipeline"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	"github.com/hashicorp/pipeline-autoscaler/sdk/helper/file"
	"github.com/mitchellh/copystructure"
	"github.com/mitchellh/go-homedir"
)

// Agent is the overall configuration of an autoscaler agent and includes all
// required information for it to start successfully.
//
// All time.Duration values should have two parts:
//   - a string field tagged with an hcl:"foo" and json:"-"
//   - a time.Duration field in the same struct which is populated within the
//     parseFile if the HCL param is populated.
//
// The string reference of a duration can include "ns", "us" (or "µs"), "ms",
// "s", "m", "h" suffixes.
type Agent struct {

	// LogLevel is the level of the logs to emit.
	LogLevel string `hcl:"log_level,optional"`

	// LogJson enables log output in JSON format.
	LogJson bool `hcl:"log_json,optional"`

	// EnableDebug is used to enable debugging HTTP endpoints.
	EnableDebug bool `hcl:"enable_debug,optional"`

	// Backend selects the systems the pipeline is built on. It is either
	// "aws" or "local".
	Backend string `hcl:"backend,optional"`

	// HTTP is the configuration used to setup the HTTP health server.
	HTTP *HTTP `hcl:"http,block"`

	// Telemetry is the configuration used to setup metrics collection.
	Telemetry *Telemetry `hcl:"telemetry,block"`

	// AWS is the configuration used to setup the AWS clients when the aws
	// backend is selected.
	AWS *AWS `hcl:"aws,block"`

	// Redis configures the queue and parameter store of the local backend.
	// When it is not set, the local backend keeps everything in memory.
	Redis *Redis `hcl:"redis,block"`

	// Local is the configuration of the in-process fleets used by the local
	// backend.
	Local *Local `hcl:"local,block"`

	// Pipeline declares the pipeline managed by the agent.
	Pipeline *Pipeline `hcl:"pipeline,block"`
}

// HTTP contains all configuration details for the running of the agent HTTP
// health server.
type HTTP struct {

	// BindAddress is the tcp address to bind to.
	BindAddress string `hcl:"bind_address,optional"`

	// BindPort is the port used to run the HTTP server.
	BindPort int `hcl:"bind_port,optional"`
}

// Telemetry holds the user specified configuration for metrics collection.
type Telemetry struct {

	// PrometheusRetentionTime is the retention time for prometheus metrics if
	// greater than 0.
	PrometheusRetentionTime    time.Duration
	PrometheusRetentionTimeHCL string `hcl:"prometheus_retention_time,optional" json:"-"`

	// PrometheusMetrics specifies whether the agent should make Prometheus
	// formatted metrics available.
	PrometheusMetrics bool `hcl:"prometheus_metrics,optional"`

	// DisableHostname specifies if gauge values should be prefixed with the
	// local hostname.
	DisableHostname bool `hcl:"disable_hostname,optional"`

	// EnableHostnameLabel adds the hostname as a label on all metrics.
	EnableHostnameLabel bool `hcl:"enable_hostname_label,optional"`

	// CollectionInterval specifies the time interval at which the agent
	// collects telemetry data.
	CollectionInterval    time.Duration
	CollectionIntervalHCL string `hcl:"collection_interval,optional" json:"-"`

	// StatsiteAddr specifies the address of a statsite server to forward
	// metrics data to.
	StatsiteAddr string `hcl:"statsite_address,optional"`

	// StatsdAddr specifies the address of a statsd server to forward metrics
	// to.
	StatsdAddr string `hcl:"statsd_address,optional"`

	// DogStatsDAddr specifies the address of a DataDog statsd server to
	// forward metrics to.
	DogStatsDAddr string `hcl:"dogstatsd_address,optional"`

	// DogStatsDTags specifies a list of global tags that will be added to all
	// telemetry packets sent to DogStatsD.
	DogStatsDTags []string `hcl:"dogstatsd_tags,optional"`
}

// AWS holds the user specified configuration for connectivity to the AWS
// APIs. Settings left empty fall back to the default credential chain and
// the environment.
type AWS struct {
	Region          string `hcl:"region,optional"`
	AccessKeyID     string `hcl:"access_key_id,optional"`
	SecretAccessKey string `hcl:"secret_access_key,optional"`
	SessionToken    string `hcl:"session_token,optional"`

	// RateLimit caps AWS API requests per second. A negative value disables
	// rate limiting.
	RateLimit int `hcl:"rate_limit,optional"`
}

// Redis holds the connection details of the Redis server backing the local
// queues and parameters.
type Redis struct {
	Address  string `hcl:"address,optional"`
	Password string `hcl:"password,optional"`
	DB       int    `hcl:"db,optional"`
	Prefix   string `hcl:"prefix,optional"`
}

// Local is the configuration of the in-process fleets.
type Local struct {

	// ReconcileInterval is how often the fleets move their members one step
	// toward the desired capacity.
	ReconcileInterval    time.Duration
	ReconcileIntervalHCL string `hcl:"reconcile_interval,optional" json:"-"`
}

// Pipeline is the HCL representation of a pipeline. Durations set on the
// pipeline are used by the stages that do not set their own.
type Pipeline struct {
	Name string `hcl:"name,label"`

	// Operator is recorded on every policy attached by the pipeline.
	Operator string `hcl:"operator,optional"`

	// ParameterPrefix is the path queue locators are published under.
	ParameterPrefix string `hcl:"parameter_prefix,optional"`

	// RequestTimeout bounds each capacity request.
	RequestTimeout    time.Duration
	RequestTimeoutHCL string `hcl:"request_timeout,optional" json:"-"`

	// EvaluationInterval is the default tick interval of the stages.
	EvaluationInterval    time.Duration
	EvaluationIntervalHCL string `hcl:"evaluation_interval,optional" json:"-"`

	// Cooldown is the default cooldown of the stages.
	Cooldown    time.Duration
	CooldownHCL string `hcl:"cooldown,optional" json:"-"`

	// TeardownOnExit removes policies, grants and parameters when the agent
	// shuts down.
	TeardownOnExit bool `hcl:"teardown_on_exit,optional"`

	Stages []*Stage `hcl:"stage,block"`
}

// Stage is the HCL representation of a single pipeline stage.
type Stage struct {
	Name        string  `hcl:"name,label"`
	Fleet       string  `hcl:"fleet"`
	Principal   string  `hcl:"principal"`
	PrincipalID string  `hcl:"principal_id,optional"`
	PolicyName  string  `hcl:"policy_name"`
	MinCapacity int64   `hcl:"min_capacity,optional"`
	MaxCapacity int64   `hcl:"max_capacity"`
	TargetValue float64 `hcl:"target_value"`

	Cooldown    time.Duration
	CooldownHCL string `hcl:"cooldown,optional" json:"-"`

	EvaluationInterval    time.Duration
	EvaluationIntervalHCL string `hcl:"evaluation_interval,optional" json:"-"`
}

const (
	// defaultLogLevel is the default log level used for the autoscaler agent.
	defaultLogLevel = "info"

	// defaultHTTPBindAddress is the default address used for the HTTP health
	// server.
	defaultHTTPBindAddress = "127.0.0.1"

	// defaultHTTPBindPort is the default port used for the HTTP health server.
	defaultHTTPBindPort = 8080

	// defaultTelemetryCollectionInterval is the default telemetry metrics
	// collection interval.
	defaultTelemetryCollectionInterval = 1 * time.Second

	// defaultEvaluationInterval is the default value for the stage
	// evaluation interval.
	defaultEvaluationInterval = time.Minute

	// defaultCooldown is the default value for the stage cooldown.
	defaultCooldown = 5 * time.Minute

	// defaultReconcileInterval is the default step interval of local fleets.
	defaultReconcileInterval = 10 * time.Second
)

const (
	BackendAWS   = "aws"
	BackendLocal = "local"
)

// Default is used to generate a new default agent configuration.
func Default() *Agent {
	return &Agent{
		LogLevel: defaultLogLevel,
		Backend:  BackendLocal,
		HTTP: &HTTP{
			BindAddress: defaultHTTPBindAddress,
			BindPort:    defaultHTTPBindPort,
		},
		Telemetry: &Telemetry{
			CollectionInterval: defaultTelemetryCollectionInterval,
		},
		AWS: &AWS{},
		Local: &Local{
			ReconcileInterval: defaultReconcileInterval,
		},
	}
}

// Merge is used to merge two agent configurations.
func (a *Agent) Merge(b *Agent) *Agent {
	if a == nil {
		return b
	}

	result := *a

	if b.EnableDebug {
		result.EnableDebug = true
	}
	if b.LogLevel != "" {
		result.LogLevel = b.LogLevel
	}
	if b.LogJson {
		result.LogJson = true
	}
	if b.Backend != "" {
		result.Backend = b.Backend
	}

	if b.HTTP != nil {
		result.HTTP = result.HTTP.merge(b.HTTP)
	}

	if b.Telemetry != nil {
		result.Telemetry = result.Telemetry.merge(b.Telemetry)
	}

	if b.AWS != nil {
		result.AWS = result.AWS.merge(b.AWS)
	}

	if b.Redis != nil {
		result.Redis = result.Redis.merge(b.Redis)
	}

	if b.Local != nil {
		result.Local = result.Local.merge(b.Local)
	}

	if b.Pipeline != nil {
		result.Pipeline = result.Pipeline.merge(b.Pipeline)
	}

	return &result
}

// Validate is used to validate the configuration. Only the values that are
// set are checked, so it can be used on partial configuration files.
func (a *Agent) Validate() error {
	var result *multierror.Error

	if a.LogLevel != "" && hclog.LevelFromString(a.LogLevel) == hclog.NoLevel {
		result = multierror.Append(result, fmt.Errorf("invalid log_level %q", a.LogLevel))
	}

	switch a.Backend {
	case "", BackendAWS, BackendLocal:
	default:
		result = multierror.Append(result, fmt.Errorf("backend must be %q or %q, got %q",
			BackendAWS, BackendLocal, a.Backend))
	}

	if a.HTTP != nil && (a.HTTP.BindPort < 0 || a.HTTP.BindPort > 65535) {
		result = multierror.Append(result, fmt.Errorf("http -> invalid bind_port %d", a.HTTP.BindPort))
	}

	if a.Local != nil && a.Local.ReconcileInterval < 0 {
		result = multierror.Append(result, errors.New("local -> reconcile_interval must not be negative"))
	}

	if a.Pipeline != nil {
		if err := a.Pipeline.validate(); err != nil {
			result = multierror.Append(result, err.Errors...)
		}
	}

	return result.ErrorOrNil()
}

func (h *HTTP) merge(b *HTTP) *HTTP {
	if h == nil {
		return b
	}

	result := *h

	if b.BindAddress != "" {
		result.BindAddress = b.BindAddress
	}
	if b.BindPort != 0 {
		result.BindPort = b.BindPort
	}

	return &result
}

func (t *Telemetry) merge(b *Telemetry) *Telemetry {
	if t == nil {
		return b
	}

	result := *t

	if b.StatsiteAddr != "" {
		result.StatsiteAddr = b.StatsiteAddr
	}
	if b.StatsdAddr != "" {
		result.StatsdAddr = b.StatsdAddr
	}
	if b.DogStatsDAddr != "" {
		result.DogStatsDAddr = b.DogStatsDAddr
	}
	if b.DogStatsDTags != nil {
		result.DogStatsDTags = b.DogStatsDTags
	}
	if b.PrometheusMetrics {
		result.PrometheusMetrics = b.PrometheusMetrics
	}
	if b.PrometheusRetentionTime != 0 {
		result.PrometheusRetentionTime = b.PrometheusRetentionTime
	}
	if b.DisableHostname {
		result.DisableHostname = true
	}
	if b.EnableHostnameLabel {
		result.EnableHostnameLabel = true
	}
	if b.CollectionInterval != 0 {
		result.CollectionInterval = b.CollectionInterval
	}

	return &result
}

func (a *AWS) merge(b *AWS) *AWS {
	if a == nil {
		return b
	}

	result := *a

	if b.Region != "" {
		result.Region = b.Region
	}
	if b.AccessKeyID != "" {
		result.AccessKeyID = b.AccessKeyID
	}
	if b.SecretAccessKey != "" {
		result.SecretAccessKey = b.SecretAccessKey
	}
	if b.SessionToken != "" {
		result.SessionToken = b.SessionToken
	}
	if b.RateLimit != 0 {
		result.RateLimit = b.RateLimit
	}

	return &result
}

func (r *Redis) merge(b *Redis) *Redis {
	if r == nil {
		return b
	}

	result := *r

	if b.Address != "" {
		result.Address = b.Address
	}
	if b.Password != "" {
		result.Password = b.Password
	}
	if b.DB != 0 {
		result.DB = b.DB
	}
	if b.Prefix != "" {
		result.Prefix = b.Prefix
	}

	return &result
}

func (l *Local) merge(b *Local) *Local {
	if l == nil {
		return b
	}

	result := *l
	if b.ReconcileInterval != 0 {
		result.ReconcileInterval = b.ReconcileInterval
	}
	return &result
}

func (p *Pipeline) merge(b *Pipeline) *Pipeline {
	if p == nil {
		return b.copy()
	}

	result := *p

	if b.Name != "" {
		result.Name = b.Name
	}
	if b.Operator != "" {
		result.Operator = b.Operator
	}
	if b.ParameterPrefix != "" {
		result.ParameterPrefix = b.ParameterPrefix
	}
	if b.RequestTimeout != 0 {
		result.RequestTimeout = b.RequestTimeout
	}
	if b.EvaluationInterval != 0 {
		result.EvaluationInterval = b.EvaluationInterval
	}
	if b.Cooldown != 0 {
		result.Cooldown = b.Cooldown
	}
	if b.TeardownOnExit {
		result.TeardownOnExit = true
	}

	result.Stages = stageConfigSetMerge(p.Stages, b.Stages)
	return &result
}

func (p *Pipeline) copy() *Pipeline {
	if p == nil {
		return nil
	}

	c := *p
	c.Stages = make([]*Stage, len(p.Stages))
	for i, s := range p.Stages {
		c.Stages[i] = s.copy()
	}
	return &c
}

func (p *Pipeline) validate() *multierror.Error {
	var result *multierror.Error
	prefix := fmt.Sprintf("pipeline[%s] ->", p.Name)

	if p.RequestTimeout < 0 {
		result = multierror.Append(result, errors.New("request_timeout must not be negative"))
	}
	if p.EvaluationInterval < 0 {
		result = multierror.Append(result, errors.New("evaluation_interval must not be negative"))
	}
	if p.Cooldown < 0 {
		result = multierror.Append(result, errors.New("cooldown must not be negative"))
	}

	seen := make(map[string]bool, len(p.Stages))
	for _, s := range p.Stages {
		if seen[s.Name] {
			result = multierror.Append(result, fmt.Errorf("stage %q is defined more than once", s.Name))
		}
		seen[s.Name] = true
	}

	if result != nil {
		for i, err := range result.Errors {
			result.Errors[i] = multierror.Prefix(err, prefix)
		}
	}
	return result
}

func (s *Stage) copy() *Stage {
	if s == nil {
		return nil
	}

	i, err := copystructure.Copy(s)
	if err != nil {
		panic(err.Error())
	}
	return i.(*Stage)
}

// stageConfigSetMerge merges two sets of stages by name. Stage order follows
// the first set, with stages only present in the second set appended in the
// order they are declared. A stage defined in both sets is replaced by the
// definition in the second.
func stageConfigSetMerge(first, second []*Stage) []*Stage {
	sindex := make(map[string]*Stage, len(second))
	for _, s := range second {
		sindex[s.Name] = s
	}

	out := make([]*Stage, 0, len(first)+len(second))
	findex := make(map[string]bool, len(first))
	for _, s := range first {
		findex[s.Name] = true
		if override, ok := sindex[s.Name]; ok {
			out = append(out, override.copy())
			continue
		}
		out = append(out, s.copy())
	}

	for _, s := range second {
		if findex[s.Name] {
			continue
		}
		out = append(out, s.copy())
	}

	return out
}

// PipelineConfig converts the pipeline block to the configuration used to
// build the pipeline. Stage durations left unset are taken from the pipeline
// block and then from the agent defaults.
func (a *Agent) PipelineConfig() (pipeline.Config, error) {
	if a.Pipeline == nil {
		return pipeline.Config{}, errors.New("no pipeline block found in configuration")
	}
	p := a.Pipeline

	evalInterval := p.EvaluationInterval
	if evalInterval == 0 {
		evalInterval = defaultEvaluationInterval
	}
	cooldown := p.Cooldown
	if cooldown == 0 {
		cooldown = defaultCooldown
	}

	cfg := pipeline.Config{
		Name:            p.Name,
		Operator:        p.Operator,
		ParameterPrefix: p.ParameterPrefix,
		RequestTimeout:  p.RequestTimeout,
		Stages:          make([]sdk.StageSpec, 0, len(p.Stages)),
	}

	for _, s := range p.Stages {
		spec := sdk.StageSpec{
			Name:               s.Name,
			Fleet:              s.Fleet,
			Principal:          sdk.Principal{Name: s.Principal, ID: s.PrincipalID},
			PolicyName:         s.PolicyName,
			MinCapacity:        s.MinCapacity,
			MaxCapacity:        s.MaxCapacity,
			TargetValue:        s.TargetValue,
			Cooldown:           s.Cooldown,
			EvaluationInterval: s.EvaluationInterval,
		}
		if s.CooldownHCL == "" && spec.Cooldown == 0 {
			spec.Cooldown = cooldown
		}
		if spec.EvaluationInterval == 0 {
			spec.EvaluationInterval = evalInterval
		}
		cfg.Stages = append(cfg.Stages, spec)
	}

	return cfg, nil
}

// parseDuration parses raw into out when raw is not empty.
func parseDuration(field, raw string, out *time.Duration) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %v", field, raw, err)
	}
	*out = d
	return nil
}

func parseFile(file string, cfg *Agent) error {
	if err := hclsimple.DecodeFile(file, nil, cfg); err != nil {
		return err
	}

	var result *multierror.Error

	if cfg.Telemetry != nil {
		result = multierror.Append(result,
			parseDuration("collection_interval", cfg.Telemetry.CollectionIntervalHCL, &cfg.Telemetry.CollectionInterval),
			parseDuration("prometheus_retention_time", cfg.Telemetry.PrometheusRetentionTimeHCL, &cfg.Telemetry.PrometheusRetentionTime),
		)
	}

	if cfg.Local != nil {
		result = multierror.Append(result,
			parseDuration("reconcile_interval", cfg.Local.ReconcileIntervalHCL, &cfg.Local.ReconcileInterval))
	}

	if p := cfg.Pipeline; p != nil {
		result = multierror.Append(result,
			parseDuration("request_timeout", p.RequestTimeoutHCL, &p.RequestTimeout),
			parseDuration("evaluation_interval", p.EvaluationIntervalHCL, &p.EvaluationInterval),
			parseDuration("cooldown", p.CooldownHCL, &p.Cooldown),
		)
		for _, s := range p.Stages {
			result = multierror.Append(result,
				multierror.Prefix(parseDuration("cooldown", s.CooldownHCL, &s.Cooldown), fmt.Sprintf("stage[%s] ->", s.Name)),
				multierror.Prefix(parseDuration("evaluation_interval", s.EvaluationIntervalHCL, &s.EvaluationInterval), fmt.Sprintf("stage[%s] ->", s.Name)),
			)
		}
	}

	return result.ErrorOrNil()
}

// LoadPaths loads the configuration at every path and merges it over the
// default configuration, in order.
func LoadPaths(paths []string) (*Agent, error) {
	// Grab a default config as the base.
	cfg := Default()

	var validationErr *multierror.Error

	for _, path := range paths {
		current, err := Load(path)
		if err != nil {
			return nil, fmt.Errorf("error loading configuration from %s: %s", path, err)
		}

		if err := current.Validate(); err != nil {
			errPrefix := fmt.Sprintf("%s:", path)
			validationErr = multierror.Append(validationErr, multierror.Prefix(err, errPrefix))

			// Continue looping so we can validate other files.
			continue
		}

		cfg = cfg.Merge(current)
	}

	if validationErr != nil {
		return nil, fmt.Errorf("invalid configuration. %v", validationErr)
	}

	return cfg, nil
}

// Load loads the configuration at the given path, regardless if its a file or
// directory. Called for each -config to build up the runtime config value.
func Load(path string) (*Agent, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if fi.IsDir() {
		return loadDir(path)
	}

	cleaned := filepath.Clean(path)

	cfg := &Agent{}
	if err := parseFile(cleaned, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file %s: %v", cleaned, err)
	}
	return cfg, nil
}

// loadDir loads all the configurations in the given directory in alphabetical
// order.
func loadDir(dir string) (*Agent, error) {

	files, err := file.GetFileListFromDir(dir, ".hcl", ".json")
	if err != nil {
		return nil, fmt.Errorf("failed to load config directory: %v", err)
	}

	// Fast-path if we have no files
	if len(files) == 0 {
		return &Agent{}, nil
	}

	sort.Strings(files)

	var result *Agent
	for _, f := range files {

		cfg := &Agent{}

		if err := parseFile(f, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %v", f, err)
		}

		if result == nil {
			result = cfg
		} else {
			result = result.Merge(cfg)
		}
	}

	return result, nil
}
