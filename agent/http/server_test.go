// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	"github.com/stretchr/testify/assert"
)

func TestServer_handlerHTTPError(t *testing.T) {
	testCases := []struct {
		inputReq         *http.Request
		inputWriter      *httptest.ResponseRecorder
		inputError       error
		expectedRespCode int
		expectedRespBody string
		name             string
	}{
		{
			inputReq:         httptest.NewRequest("GET", "/v1/health", nil),
			inputWriter:      httptest.NewRecorder(),
			inputError:       errors.New("random error string"),
			expectedRespCode: 500,
			expectedRespBody: "random error string",
			name:             "internal server error",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/health", nil),
			inputWriter:      httptest.NewRecorder(),
			inputError:       newCodedError(418, "I'm a teapot"),
			expectedRespCode: 418,
			expectedRespBody: "I'm a teapot",
			name:             "custom error using codedError",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/pipeline/stage/ingest", nil),
			inputWriter:      httptest.NewRecorder(),
			inputError:       fmt.Errorf("stage \"ingest\": %w", sdk.ErrNotFound),
			expectedRespCode: 404,
			expectedRespBody: "stage \"ingest\": resource not found",
			name:             "not found error",
		},
		{
			inputReq:         httptest.NewRequest("GET", "/v1/health", nil),
			inputWriter:      httptest.NewRecorder(),
			inputError:       fmt.Errorf("check: %w", wrapCodedError(503, "pipeline unhealthy", sdk.ErrNotFound)),
			expectedRespCode: 503,
			expectedRespBody: "check: pipeline unhealthy: resource not found",
			name:             "wrapped coded error takes precedence",
		},
	}

	srv := &Server{log: hclog.NewNullLogger()}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv.handleHTTPError(tc.inputWriter, tc.inputReq, tc.inputError)
			assert.Equal(t, tc.expectedRespCode, tc.inputWriter.Code, tc.name)
			assert.Equal(t, tc.expectedRespBody, tc.inputWriter.Body.String(), tc.name)
		})
	}
}

func TestServer_Start(t *testing.T) {
	srv, stopSrv := TestServer(t, false)

	go srv.Start()
	defer stopSrv()

	assert.Eventually(t, func() bool {
		resp, err := http.Get("http://" + srv.Addr() + healthRoutePattern)
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 10*time.Millisecond)
}
