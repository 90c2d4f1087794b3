// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hashicorp/pipeline-autoscaler/version"
	"github.com/mitchellh/cli"
	"github.com/shoenig/test/must"
)

func TestVersionCommand_Run(t *testing.T) {
	oldCommit := version.GitCommit
	version.GitCommit = "deadbeef"
	defer func() { version.GitCommit = oldCommit }()

	testCases := []struct {
		name     string
		args     []string
		exitCode int
		check    func(t *testing.T, ui *cli.MockUi)
	}{
		{
			name: "human output",
			check: func(t *testing.T, ui *cli.MockUi) {
				out := ui.OutputWriter.String()
				must.StrContains(t, out, "pipeline-autoscaler "+version.GetHumanVersion())
				must.StrContains(t, out, "Revision deadbeef")
			},
		},
		{
			name: "json output",
			args: []string{"-json"},
			check: func(t *testing.T, ui *cli.MockUi) {
				var got map[string]string
				must.NoError(t, json.Unmarshal([]byte(ui.OutputWriter.String()), &got))
				must.Eq(t, version.Version, got["version"])
				must.Eq(t, "deadbeef", got["revision"])
				must.Eq(t, version.GetHumanVersion(), got["human"])
			},
		},
		{
			name:     "unexpected argument",
			args:     []string{"extra"},
			exitCode: 1,
			check: func(t *testing.T, ui *cli.MockUi) {
				must.StrContains(t, ui.ErrorWriter.String(), "takes no arguments")
			},
		},
		{
			name:     "unknown flag",
			args:     []string{"-yaml"},
			exitCode: 1,
			check: func(t *testing.T, ui *cli.MockUi) {
				must.True(t, strings.HasPrefix(ui.OutputWriter.String(), "Usage: pipeline-autoscaler version"))
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ui := cli.NewMockUi()
			cmd := &VersionCommand{Ui: ui}
			must.Eq(t, tc.exitCode, cmd.Run(tc.args))
			tc.check(t, ui)
		})
	}
}
