// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package agent

import (
	"fmt"
	"time"

	metrics "github.com/armon/go-metrics"
	"github.com/armon/go-metrics/datadog"
	"github.com/armon/go-metrics/prometheus"
	"github.com/hashicorp/pipeline-autoscaler/agent/config"
)

const (
	telemetryServiceName = "pipeline-autoscaler"

	// inmemRetain is how long the in-memory sink keeps aggregated intervals.
	// It backs the /v1/metrics endpoint and the SIGUSR1 dump.
	inmemRetain = time.Minute

	defaultInmemInterval = 10 * time.Second
)

// sinkBuilder creates one optional sink. It returns a nil sink when the sink
// is not configured.
type sinkBuilder struct {
	name  string
	build func(cfg *config.Telemetry, host string) (metrics.MetricSink, error)
}

var sinkBuilders = []sinkBuilder{
	{
		name: "statsite",
		build: func(cfg *config.Telemetry, _ string) (metrics.MetricSink, error) {
			if cfg.StatsiteAddr == "" {
				return nil, nil
			}
			return metrics.NewStatsiteSink(cfg.StatsiteAddr)
		},
	},
	{
		name: "statsd",
		build: func(cfg *config.Telemetry, _ string) (metrics.MetricSink, error) {
			if cfg.StatsdAddr == "" {
				return nil, nil
			}
			return metrics.NewStatsdSink(cfg.StatsdAddr)
		},
	},
	{
		name: "Prometheus",
		build: func(cfg *config.Telemetry, _ string) (metrics.MetricSink, error) {
			if !cfg.PrometheusMetrics && cfg.PrometheusRetentionTime == 0 {
				return nil, nil
			}
			return prometheus.NewPrometheusSinkFrom(prometheus.PrometheusOpts{
				Expiration: cfg.PrometheusRetentionTime,
			})
		},
	},
	{
		name: "DogStatsD",
		build: func(cfg *config.Telemetry, host string) (metrics.MetricSink, error) {
			if cfg.DogStatsDAddr == "" {
				return nil, nil
			}
			sink, err := datadog.NewDogStatsdSink(cfg.DogStatsDAddr, host)
			if err != nil {
				return nil, err
			}
			sink.SetTags(cfg.DogStatsDTags)
			return sink, nil
		},
	},
}

// setupTelemetry configures the global metrics sink from cfg and returns the
// in-memory sink served over HTTP. The in-memory sink aggregates over the
// configured collection interval.
func (a *Agent) setupTelemetry(cfg *config.Telemetry) (*metrics.InmemSink, error) {
	if cfg == nil {
		cfg = &config.Telemetry{}
	}

	interval := cfg.CollectionInterval
	if interval <= 0 {
		interval = defaultInmemInterval
	}
	inm := metrics.NewInmemSink(interval, inmemRetain)
	metrics.DefaultInmemSignal(inm)

	metricsConf := metrics.DefaultConfig(telemetryServiceName)
	metricsConf.EnableHostname = !cfg.DisableHostname
	metricsConf.EnableHostnameLabel = cfg.EnableHostnameLabel

	var fanout metrics.FanoutSink
	for _, b := range sinkBuilders {
		sink, err := b.build(cfg, metricsConf.HostName)
		if err != nil {
			return nil, fmt.Errorf("failed to setup %s sink: %v", b.name, err)
		}
		if sink != nil {
			a.logger.Debug("configured telemetry sink", "sink", b.name)
			fanout = append(fanout, sink)
		}
	}
	fanout = append(fanout, inm)

	if _, err := metrics.NewGlobal(metricsConf, fanout); err != nil {
		return nil, fmt.Errorf("failed to setup global sink: %v", err)
	}
	return inm, nil
}
