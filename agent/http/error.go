// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package http

import (
	"fmt"
	"net/http"
)

// codedError is an error that carries the HTTP status code it is reported
// with.
type codedError interface {
	error
	Code() int
}

var _ codedError = (*httpError)(nil)

type httpError struct {
	code int
	msg  string
	err  error
}

func newCodedError(code int, msg string) *httpError {
	return &httpError{code: code, msg: msg}
}

// wrapCodedError reports err with the given code. The wrapped error remains
// reachable through errors.Is and errors.As.
func wrapCodedError(code int, msg string, err error) *httpError {
	return &httpError{code: code, msg: msg, err: err}
}

func errMethodNotAllowed(method string) *httpError {
	return newCodedError(http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", method))
}

func (e *httpError) Error() string {
	switch {
	case e.err == nil:
		return e.msg
	case e.msg == "":
		return e.err.Error()
	default:
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
}

func (e *httpError) Code() int     { return e.code }
func (e *httpError) Unwrap() error { return e.err }
