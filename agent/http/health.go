// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"sync/atomic"
)

// getHealth reports the agent as healthy while the server is serving and the
// agent's pipeline reports no failure.
func (s *Server) getHealth(_ http.ResponseWriter, _ *http.Request) (interface{}, error) {
	if atomic.LoadInt32(&s.aliveness) != healthAlivenessReady {
		return nil, newCodedError(http.StatusServiceUnavailable, "server is not serving")
	}
	if err := s.agent.PipelineHealth(); err != nil {
		return nil, wrapCodedError(http.StatusServiceUnavailable, "pipeline unhealthy", err)
	}
	return nil, nil
}
