// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestServer_pipeline(t *testing.T) {
	testCases := []struct {
		inputReq             *http.Request
		expectedRespCode     int
		expectedRespContains string
		name                 string
	}{
		{
			inputReq:             httptest.NewRequest("GET", "/v1/pipeline", nil),
			expectedRespCode:     200,
			expectedRespContains: `"name":"demo"`,
			name:                 "pipeline status",
		},
		{
			inputReq:         httptest.NewRequest("POST", "/v1/pipeline", nil),
			expectedRespCode: 405,
			name:             "incorrect pipeline request method",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/pipeline/stage/ingest", nil),
			expectedRespCode:     200,
			expectedRespContains: `"state":"idle"`,
			name:                 "stage status",
		},
		{
			inputReq:             httptest.NewRequest("GET", "/v1/pipeline/stage/publish", nil),
			expectedRespCode:     404,
			expectedRespContains: `stage "publish"`,
			name:                 "unknown stage",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/pipeline/stage/", nil),
			expectedRespCode: 404,
			name:             "missing stage name",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/pipeline/stage/ingest/extra", nil),
			expectedRespCode: 404,
			name:             "nested stage path",
		},
		{
			inputReq:         httptest.NewRequest("DELETE", "/v1/pipeline/stage/ingest", nil),
			expectedRespCode: 405,
			name:             "incorrect stage request method",
		},
	}

	srv, stopSrv := TestServer(t, false)
	defer stopSrv()

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert := assert.New(t)

			w := httptest.NewRecorder()
			srv.mux.ServeHTTP(w, tc.inputReq)
			assert.Equal(tc.expectedRespCode, w.Code)
			assert.Contains(w.Body.String(), tc.expectedRespContains)
			if tc.expectedRespCode == 405 {
				assert.Equal("GET", w.Header().Get("Allow"))
			}
			if tc.expectedRespCode == 200 {
				assert.Equal("application/json", w.Header().Get("Content-Type"))
			}
		})
	}
}
