// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"strings"
)

// getPipeline responds with the status of every stage of the pipeline.
func (s *Server) getPipeline(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	return s.agent.PipelineStatus(w, r)
}

// getStage responds with the status of the stage named by the last path
// element.
func (s *Server) getStage(w http.ResponseWriter, r *http.Request) (interface{}, error) {
	name := strings.Trim(strings.TrimPrefix(r.URL.Path, stageRoutePattern), "/")
	if name == "" || strings.Contains(name, "/") {
		return nil, newCodedError(http.StatusNotFound, "stage name required")
	}
	return s.agent.StageStatus(w, r, name)
}
