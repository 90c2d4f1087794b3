// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	metricsFormatJSON       = "json"
	metricsFormatPrometheus = "prometheus"
)

// getMetrics responds with the agent's telemetry. The format query parameter
// selects between the in-memory JSON summary, the default, and the
// Prometheus exposition format.
func (s *Server) getMetrics(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	switch format := r.URL.Query().Get("format"); format {
	case "", metricsFormatJSON:
		return s.agent.DisplayMetrics(w, r)
	case metricsFormatPrometheus:
		if s.promHandler == nil {
			return nil, newCodedError(http.StatusUnsupportedMediaType, "Prometheus is not enabled")
		}
		s.promHandler.ServeHTTP(w, r)
		return nil, nil
	default:
		return nil, newCodedError(http.StatusBadRequest, fmt.Sprintf("unsupported metrics format %q", format))
	}
}

func (s *Server) newPrometheusHandler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		ErrorLog:           s.log.Named("prometheus_handler").StandardLogger(nil),
		ErrorHandling:      promhttp.ContinueOnError,
		DisableCompression: true,
	})
}
