// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package command

import (
	"bytes"
	"flag"
	"strings"

	"github.com/hashicorp/go-msgpack/codec"
	"github.com/hashicorp/pipeline-autoscaler/version"
	"github.com/mitchellh/cli"
)

// VersionCommand reports the build of the running binary.
type VersionCommand struct {
	Ui cli.Ui
}

// versionInfo is the machine readable form written by -json.
type versionInfo struct {
	Version    string `codec:"version"`
	Prerelease string `codec:"prerelease"`
	Metadata   string `codec:"metadata"`
	Revision   string `codec:"revision"`
	Human      string `codec:"human"`
}

func (c *VersionCommand) Help() string {
	helpText := `
Usage: pipeline-autoscaler version [options]

  Prints the pipeline autoscaler version and the git revision it was
  built from.

Options:

  -json
    Output the version information as a JSON object.
`
	return strings.TrimSpace(helpText)
}

func (c *VersionCommand) Synopsis() string {
	return "Prints the pipeline autoscaler version"
}

func (c *VersionCommand) Run(args []string) int {
	var jsonOutput bool

	flags := flag.NewFlagSet("version", flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	flags.BoolVar(&jsonOutput, "json", false, "")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() > 0 {
		c.Ui.Error("This command takes no arguments")
		return 1
	}

	info := versionInfo{
		Version:    version.Version,
		Prerelease: version.VersionPrerelease,
		Metadata:   version.VersionMetadata,
		Revision:   version.GitCommit,
		Human:      version.GetHumanVersion(),
	}

	if !jsonOutput {
		c.Ui.Output("pipeline-autoscaler " + info.Human)
		if info.Revision != "" {
			c.Ui.Output("Revision " + info.Revision)
		}
		return 0
	}

	var buf bytes.Buffer
	handle := &codec.JsonHandle{HTMLCharsAsIs: true, Indent: 2}
	if err := codec.NewEncoder(&buf, handle).Encode(info); err != nil {
		c.Ui.Error("Failed to encode version: " + err.Error())
		return 1
	}
	c.Ui.Output(buf.String())
	return 0
}
