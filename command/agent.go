// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"context"
	"flag"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/agent"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
	agentHTTP "github.com/hashicorp/pipeline-autoscaler/agent/http"
	flaghelper "github.com/hashicorp/pipeline-autoscaler/sdk/helper/flag"
	"github.com/hashicorp/pipeline-autoscaler/version"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type AgentCommand struct {
	args []string

	agent      *agent.Agent
	httpServer *agentHTTP.Server
}

// Help should return long-form help text that includes the command-line
// usage, a brief few sentences explaining the function of the command,
// and the complete list of flags the command accepts.
func (c *AgentCommand) Help() string {
	helpText := `
Usage: pipeline-autoscaler agent [options] [args]

  Builds the configured pipeline and runs its stage controllers until an
  interrupt is received.

  The agent's configuration primarily comes from the config files used, but a
  subset of the options may also be passed directly as CLI arguments, listed
  below.

Options:

  -config=<path>
    The path to either a single config file or a directory of config
    files to use for configuring the agent.

  -log-level=<level>
    Specify the verbosity level of the agent's logs. Valid values include
    DEBUG, INFO, and WARN, in decreasing order of verbosity. The default is
    INFO.

  -log-json
    Output logs in a JSON format. The default is false.

  -enable-debug
    Enable the agent debugging HTTP endpoints. The default is false.

  -backend=<name>
    The backend the pipeline is built on, either "aws" or "local". The
    default is local.

HTTP Options:

  -http-bind-address=<addr>
    The HTTP address that the health server will bind to. The default is
    127.0.0.1.

  -http-bind-port=<port>
    The port that the health server will bind to. The default is 8080.

AWS Options:

  -aws-region=<region>
    The AWS region to use. Defaults to the region of the environment.

  -aws-rate-limit=<num>
    The maximum number of AWS API requests per second. A negative value
    disables rate limiting. The default is 10.

Local Options:

  -redis-address=<addr>
    The address of a Redis server used for the local queues, parameters and
    policies. When not set, they are kept in memory.

  -redis-prefix=<prefix>
    The prefix of every key written to Redis. The default is "pipeline:".

  -local-reconcile-interval=<dur>
    How often local fleets move one member toward the desired capacity. The
    default is 10s.

Pipeline Options:

  -pipeline-operator=<name>
    The operator recorded on every policy attached by the pipeline.

  -pipeline-request-timeout=<dur>
    The time limit of each capacity request. The default is 30s.

  -teardown-on-exit
    Remove the policies, grants and parameters of the pipeline when the agent
    exits. Queues are retained.

  -stage-principal=<stage>=<principal>
    Override the principal of stages, formatted as
    <stage1>=<principal1>,<stage2>=<principal2>.

Telemetry Options:

  -telemetry-disable-hostname
    Specifies whether gauge values should be prefixed with the local hostname.

  -telemetry-enable-hostname-label
    Enable adding hostname to metric labels.

  -telemetry-collection-interval=<dur>
    Specifies the time interval at which the agent collects telemetry data. The
    default is 1s.

  -telemetry-statsite-address=<addr>
    The address of the statsite aggregation server.

  -telemetry-statsd-address=<addr>
    The address of the statsd aggregation.

  -telemetry-dogstatsd-address=<addr>
    The address of the Datadog statsd server.

  -telemetry-dogstatsd-tags=<tag_list>
    A list of global tags that will be added to all telemetry packets sent to
    DogStatsD.

  -telemetry-prometheus-metrics
    Indicates whether the agent should make Prometheus formatted metrics available.
    Defaults to false.

  -telemetry-prometheus-retention-time=<dur>
    The time to retain Prometheus metrics before they are expired and untracked.
`
	return strings.TrimSpace(helpText)
}

// Synopsis should return a one-line, short synopsis of the command.
// This should be less than 50 characters ideally.
func (c *AgentCommand) Synopsis() string {
	return "Runs a pipeline autoscaler agent"
}

// Run should run the actual command with the given CLI instance and
// command-line arguments. It should return the exit status when it is
// finished.
func (c *AgentCommand) Run(args []string) int {

	c.args = args

	parsedConfig, _ := c.readConfig()
	if parsedConfig == nil {
		fmt.Println("Run 'pipeline-autoscaler agent --help' for more information.")
		return 1
	}

	// Create the agent logger.
	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:       "agent",
		Level:      hclog.LevelFromString(parsedConfig.LogLevel),
		JSONFormat: parsedConfig.LogJson,
	})

	logger.Info("Starting pipeline autoscaler agent")

	// Compile agent information for output later
	info := make(map[string]string)
	info["backend"] = parsedConfig.Backend
	info["bind addrs"] = parsedConfig.HTTP.BindAddress
	info["log level"] = parsedConfig.LogLevel
	info["version"] = version.GetHumanVersion()
	if p := parsedConfig.Pipeline; p != nil {
		info["pipeline"] = p.Name
		info["stages"] = strconv.Itoa(len(p.Stages))
	}

	// Sort the keys for output
	infoKeys := make([]string, 0, len(info))
	for key := range info {
		infoKeys = append(infoKeys, key)
	}
	sort.Strings(infoKeys)

	// Agent configuration output
	padding := 18
	title := cases.Title(language.English)
	logger.Info("Pipeline autoscaler agent configuration:")
	logger.Info("")
	for _, k := range infoKeys {
		logger.Info(fmt.Sprintf(
			"%s%s: %s",
			strings.Repeat(" ", padding-len(k)),
			title.String(k),
			info[k]))
	}
	logger.Info("")

	// Build the pipeline before serving anything so that configuration errors
	// exit before any stage starts.
	ctx := context.Background()
	c.agent = agent.NewAgent(parsedConfig, logger)
	if err := c.agent.Setup(ctx); err != nil {
		logger.Error("failed to setup agent", "error", err)
		return 1
	}

	httpServer, err := agentHTTP.NewHTTPServer(
		parsedConfig.EnableDebug, parsedConfig.Telemetry.PrometheusMetrics, parsedConfig.HTTP, logger, c.agent)
	if err != nil {
		logger.Error("failed to setup HTTP server", "error", err)
		return 1
	}

	c.httpServer = httpServer
	go c.httpServer.Start()
	defer c.httpServer.Stop()

	// Output the header that the server has started
	logger.Info("Pipeline autoscaler agent started! Log data will stream in below:")

	if err := c.agent.Run(ctx); err != nil {
		logger.Error("agent exited with error", "error", err)
		return 1
	}
	return 0
}

func (c *AgentCommand) readConfig() (*config.Agent, []string) {
	var configPath []string

	// cmdConfig is used to store any passed CLI flags.
	cmdConfig := &config.Agent{
		HTTP:      &config.HTTP{},
		Telemetry: &config.Telemetry{},
		AWS:       &config.AWS{},
		Local:     &config.Local{},
	}

	// The pipeline and Redis blocks are only created when one of their flags
	// is set, so that they do not override a configuration without them.
	pipelineCfg := func() *config.Pipeline {
		if cmdConfig.Pipeline == nil {
			cmdConfig.Pipeline = &config.Pipeline{}
		}
		return cmdConfig.Pipeline
	}
	redisCfg := func() *config.Redis {
		if cmdConfig.Redis == nil {
			cmdConfig.Redis = &config.Redis{}
		}
		return cmdConfig.Redis
	}
	var stagePrincipals map[string]string

	flags := flag.NewFlagSet("agent", flag.ContinueOnError)
	flags.Usage = func() { c.Help() }

	// Specify our top level CLI flags.
	flags.Var((*flaghelper.StringFlag)(&configPath), "config", "")
	flags.StringVar(&cmdConfig.LogLevel, "log-level", "", "")
	flags.BoolVar(&cmdConfig.LogJson, "log-json", false, "")
	flags.BoolVar(&cmdConfig.EnableDebug, "enable-debug", false, "")
	flags.StringVar(&cmdConfig.Backend, "backend", "", "")

	// Specify our HTTP bind flags.
	flags.StringVar(&cmdConfig.HTTP.BindAddress, "http-bind-address", "", "")
	flags.IntVar(&cmdConfig.HTTP.BindPort, "http-bind-port", 0, "")

	// Specify our AWS flags.
	flags.StringVar(&cmdConfig.AWS.Region, "aws-region", "", "")
	flags.IntVar(&cmdConfig.AWS.RateLimit, "aws-rate-limit", 0, "")

	// Specify our local backend flags.
	flags.Func("redis-address", "", func(s string) error {
		redisCfg().Address = s
		return nil
	})
	flags.Func("redis-prefix", "", func(s string) error {
		redisCfg().Prefix = s
		return nil
	})
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Local.ReconcileInterval = d
		return nil
	}), "local-reconcile-interval", "")

	// Specify our pipeline flags.
	flags.Func("pipeline-operator", "", func(s string) error {
		pipelineCfg().Operator = s
		return nil
	})
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		pipelineCfg().RequestTimeout = d
		return nil
	}), "pipeline-request-timeout", "")
	flags.Var((flaghelper.FuncBoolVar)(func(b bool) error {
		pipelineCfg().TeardownOnExit = b
		return nil
	}), "teardown-on-exit", "")
	flags.Var((flaghelper.FuncMapStringStringVar)(func(m map[string]string) error {
		stagePrincipals = m
		return nil
	}), "stage-principal", "")

	// Specify our Telemetry CLI flags.
	flags.BoolVar(&cmdConfig.Telemetry.DisableHostname, "telemetry-disable-hostname", false, "")
	flags.BoolVar(&cmdConfig.Telemetry.EnableHostnameLabel, "telemetry-enable-hostname-label", false, "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Telemetry.CollectionInterval = d
		return nil
	}), "telemetry-collection-interval", "")
	flags.StringVar(&cmdConfig.Telemetry.StatsiteAddr, "telemetry-statsite-address", "", "")
	flags.StringVar(&cmdConfig.Telemetry.StatsdAddr, "telemetry-statsd-address", "", "")
	flags.StringVar(&cmdConfig.Telemetry.DogStatsDAddr, "telemetry-dogstatsd-address", "", "")
	flags.Var((*flaghelper.StringFlag)(&cmdConfig.Telemetry.DogStatsDTags), "telemetry-dogstatsd-tags", "")
	flags.BoolVar(&cmdConfig.Telemetry.PrometheusMetrics, "telemetry-prometheus-metrics", false, "")
	flags.Var((flaghelper.FuncDurationVar)(func(d time.Duration) error {
		cmdConfig.Telemetry.PrometheusRetentionTime = d
		return nil
	}), "telemetry-prometheus-retention-time", "")

	if err := flags.Parse(c.args); err != nil {
		return nil, configPath
	}

	// Validate config values from flags.
	if err := cmdConfig.Validate(); err != nil {
		fmt.Printf("%s\n", err)
		return nil, configPath
	}

	fileConfig, err := config.LoadPaths(configPath)
	if err != nil {
		fmt.Printf("%s\n", err)
		return nil, configPath
	}

	result := fileConfig.Merge(cmdConfig)
	if err := applyStagePrincipals(result, stagePrincipals); err != nil {
		fmt.Printf("%s\n", err)
		return nil, configPath
	}
	return result, configPath
}

// applyStagePrincipals overrides the principal of the named stages.
func applyStagePrincipals(cfg *config.Agent, principals map[string]string) error {
	if len(principals) == 0 {
		return nil
	}
	if cfg.Pipeline == nil {
		return fmt.Errorf("-stage-principal requires a pipeline block")
	}

	known := make(map[string]*config.Stage, len(cfg.Pipeline.Stages))
	for _, s := range cfg.Pipeline.Stages {
		known[s.Name] = s
	}

	names := make([]string, 0, len(principals))
	for name := range principals {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		s, ok := known[name]
		if !ok {
			return fmt.Errorf("-stage-principal: unknown stage %q", name)
		}
		s.Principal = principals[name]
	}
	return nil
}
