// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package flag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringFlag(t *testing.T) {
	sv := new(StringFlag)
	assert.Nil(t, sv.Set("agent.hcl"))
	assert.Nil(t, sv.Set("pipeline.d"))
	assert.Equal(t, []string{"agent.hcl", "pipeline.d"}, []string(*sv))
	assert.Equal(t, "agent.hcl,pipeline.d", sv.String())
}

func TestFuncDurationVar(t *testing.T) {
	var dur time.Duration

	sv := FuncDurationVar(func(d time.Duration) error {
		dur = d
		return nil
	})

	assert.Nil(t, sv.Set("30s"))
	assert.Equal(t, 30*time.Second, dur)
	assert.Equal(t, "", sv.String())
	assert.False(t, sv.IsBoolFlag())
	assert.NotNil(t, sv.Set("thirty"))
}

func TestFuncBoolVar(t *testing.T) {
	var out *bool

	sv := FuncBoolVar(func(b bool) error {
		out = &b
		return nil
	})

	assert.Nil(t, out)
	assert.Nil(t, sv.Set("false"))
	assert.NotNil(t, out)
	assert.False(t, *out)
	assert.True(t, sv.IsBoolFlag())
	assert.NotNil(t, sv.Set("maybe"))
}

func TestFuncMapStringStringVar(t *testing.T) {
	testCases := []struct {
		input          string
		expectedOutput map[string]string
		expectError    bool
		name           string
	}{
		{
			input:          "ingest=ingest-role,render=render-role",
			expectedOutput: map[string]string{"ingest": "ingest-role", "render": "render-role"},
			name:           "multiple pairs",
		},
		{
			input:          "ingest=",
			expectedOutput: map[string]string{"ingest": ""},
			name:           "empty value",
		},
		{
			input:       "ingest",
			expectError: true,
			name:        "missing separator",
		},
		{
			input:       "=ingest-role",
			expectError: true,
			name:        "missing key",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var out map[string]string
			sv := FuncMapStringStringVar(func(m map[string]string) error {
				out = m
				return nil
			})

			err := sv.Set(tc.input)
			if tc.expectError {
				assert.NotNil(t, err, tc.name)
				return
			}
			assert.Nil(t, err, tc.name)
			assert.Equal(t, tc.expectedOutput, out, tc.name)
		})
	}
}
