// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_getHealth(t *testing.T) {
	testCases := []struct {
		inputReq             *http.Request
		inputSetAliveness    int32
		inputHealthErr       error
		expectedRespCode     int
		expectedRespContains string
		name                 string
	}{
		{
			inputReq:          httptest.NewRequest("GET", "/v1/health", nil),
			inputSetAliveness: healthAlivenessReady,
			expectedRespCode:  200,
			name:              "agent alive and pipeline healthy",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/health", nil),
			inputSetAliveness:    healthAlivenessUnavailable,
			expectedRespCode:     503,
			expectedRespContains: "server is not serving",
			name:                 "server unavailable",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/health", nil),
			inputSetAliveness:    healthAlivenessReady,
			inputHealthErr:       errors.New("stage \"ingest\" stopped"),
			expectedRespCode:     503,
			expectedRespContains: "pipeline unhealthy: stage \"ingest\" stopped",
			name:                 "pipeline unhealthy",
		},
		{
			inputReq:             httptest.NewRequest("PUT", "/v1/health", nil),
			inputSetAliveness:    healthAlivenessReady,
			expectedRespCode:     405,
			expectedRespContains: "method PUT not allowed",
			name:                 "incorrect request method",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, stopSrv := TestServerWithAgent(t, false, &MockAgentHTTP{HealthErr: tc.inputHealthErr})
			defer stopSrv()

			atomic.StoreInt32(&srv.aliveness, tc.inputSetAliveness)

			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, tc.inputReq)
			assert.Equal(t, tc.expectedRespCode, w.Code, tc.name)
			assert.Contains(t, w.Body.String(), tc.expectedRespContains, tc.name)
		})
	}
}
