// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_getMetrics(t *testing.T) {
	testCases := []struct {
		inputReq             *http.Request
		inputPromEnabled     bool
		expectedRespCode     int
		expectedRespContains string
		name                 string
	}{
		{
			inputReq:             httptest.NewRequest("PUT", "/v1/metrics", nil),
			expectedRespCode:     405,
			expectedRespContains: "method PUT not allowed",
			name:                 "incorrect request method",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics", nil),
			expectedRespCode:     200,
			expectedRespContains: "Counters\":[],\"Gauges\":[],\"Points\":[],\"Samples\":[]",
			name:                 "correct request for JSON metrics",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics?format=json", nil),
			expectedRespCode:     200,
			expectedRespContains: "\"Timestamp\":\"2020-11-17 00:17:50 +0000 UTC\"",
			name:                 "explicit JSON format",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics?format=json&pretty", nil),
			expectedRespCode:     200,
			expectedRespContains: "\n    \"",
			name:                 "pretty JSON metrics",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics?format=prometheus", nil),
			inputPromEnabled:     true,
			expectedRespCode:     200,
			expectedRespContains: "# TYPE go_goroutines gauge",
			name:                 "correct request for Prometheus formatted metrics",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics?format=prometheus", nil),
			expectedRespCode:     415,
			expectedRespContains: "Prometheus is not enabled",
			name:                 "Prometheus not enabled",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/metrics?format=xml", nil),
			expectedRespCode:     400,
			expectedRespContains: "unsupported metrics format \"xml\"",
			name:                 "unsupported format",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, stopSrv := TestServer(t, tc.inputPromEnabled)
			defer stopSrv()

			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, tc.inputReq)
			assert.Equal(t, tc.expectedRespCode, w.Code, tc.name)
			assert.Contains(t, w.Body.String(), tc.expectedRespContains, tc.name)
		})
	}
}
