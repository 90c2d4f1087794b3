// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package pipeline

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	multierror "github.com/hashicorp/go-multierror"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
	errHelper "github.com/hashicorp/pipeline-autoscaler/sdk/helper/error"
)

// validName matches the names accepted for pipelines and stages. Queue names
// are derived from both so the set is restricted to what every queue backend
// accepts.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,40}$`)

// Config is the declared shape of a pipeline.
type Config struct {

	// Name identifies the pipeline and prefixes every queue it creates.
	Name string

	// Operator is the identity of whoever operates the pipeline. It is
	// recorded on every policy attached by the pipeline.
	Operator string

	// ParameterPrefix is the path under which queue locators are published.
	// It defaults to "/<Name>".
	ParameterPrefix string

	// RequestTimeout bounds each capacity request made by a stage
	// controller. Zero uses the controller default.
	RequestTimeout time.Duration

	// Stages lists the stages in pipeline order. Each stage consumes from its
	// own queue and may produce into the next stage's queue only.
	Stages []sdk.StageSpec
}

// Validate checks the configuration, returning every violation found.
func (c *Config) Validate() error {
	var mErr *multierror.Error

	if !validName.MatchString(c.Name) {
		mErr = multierror.Append(mErr, fmt.Errorf("invalid pipeline name %q", c.Name))
	}
	if c.ParameterPrefix != "" && !strings.HasPrefix(c.ParameterPrefix, "/") {
		mErr = multierror.Append(mErr, fmt.Errorf("parameter_prefix must start with '/', got %q", c.ParameterPrefix))
	}
	if c.RequestTimeout < 0 {
		mErr = multierror.Append(mErr, fmt.Errorf("request timeout must not be negative, got %s", c.RequestTimeout))
	}
	if len(c.Stages) == 0 {
		mErr = multierror.Append(mErr, errors.New("at least one stage is required"))
	}

	seenStages := make(map[string]bool)
	seenFleets := make(map[string]string)
	seenPrincipals := make(map[string]string)
	for i := range c.Stages {
		s := &c.Stages[i]
		prefix := fmt.Sprintf("stage[%d] ->", i)
		if s.Name != "" {
			prefix = fmt.Sprintf("stage[%s] ->", s.Name)
		}

		if err := s.Validate(); err != nil {
			var sErr *multierror.Error
			if errors.As(err, &sErr) {
				mErr = multierror.Append(mErr, errHelper.PrefixErrors(sErr, prefix).Errors...)
			} else {
				mErr = multierror.Append(mErr, multierror.Prefix(err, prefix))
			}
		}
		if s.Name != "" && !validName.MatchString(s.Name) {
			mErr = multierror.Append(mErr, multierror.Prefix(
				fmt.Errorf("invalid stage name %q", s.Name), prefix))
		}
		if seenStages[s.Name] {
			mErr = multierror.Append(mErr, multierror.Prefix(
				fmt.Errorf("duplicate stage name %q", s.Name), prefix))
		}
		seenStages[s.Name] = true

		// Two stages sharing a fleet would break the single writer rule.
		if other, ok := seenFleets[s.Fleet]; ok && s.Fleet != "" {
			mErr = multierror.Append(mErr, multierror.Prefix(
				fmt.Errorf("fleet %q is already used by stage %q", s.Fleet, other), prefix))
		}
		seenFleets[s.Fleet] = s.Name

		// Grants are made per principal, so a shared identity would be able
		// to produce into its own input queue.
		if other, ok := seenPrincipals[s.Principal.Name]; ok && s.Principal.Name != "" {
			mErr = multierror.Append(mErr, multierror.Prefix(
				fmt.Errorf("principal %q is already used by stage %q", s.Principal.Name, other), prefix))
		}
		seenPrincipals[s.Principal.Name] = s.Name
	}

	return errHelper.FormattedMultiError(mErr)
}

func (c *Config) parameterPrefix() string {
	if c.ParameterPrefix == "" {
		return "/" + c.Name
	}
	return strings.TrimSuffix(c.ParameterPrefix, "/")
}

// PolicyPrefix returns the parameter path below which backends that keep
// policies as parameters store them.
func (c *Config) PolicyPrefix() string {
	return c.parameterPrefix() + "/policies"
}

// QueueName returns the name of the queue created for the stage.
func QueueName(pipeline, stage string) string {
	return pipeline + "-" + stage
}

// ParameterName returns the name of the parameter the stage's queue locator
// is published under.
func ParameterName(prefix, stage string) string {
	return strings.TrimSuffix(prefix, "/") + "/" + stage
}

// Backends groups the external systems a pipeline is built on.
type Backends struct {
	Queues     sdk.QueueBackend
	Fleets     sdk.FleetBackend
	Policies   sdk.PolicyBackend
	Parameters sdk.ParameterStore
}

func (b *Backends) validate() error {
	var mErr *multierror.Error

	if b.Queues == nil {
		mErr = multierror.Append(mErr, errors.New("queue backend is required"))
	}
	if b.Fleets == nil {
		mErr = multierror.Append(mErr, errors.New("fleet backend is required"))
	}
	if b.Policies == nil {
		mErr = multierror.Append(mErr, errors.New("policy backend is required"))
	}
	if b.Parameters == nil {
		mErr = multierror.Append(mErr, errors.New("parameter store is required"))
	}
	return errHelper.FormattedMultiError(mErr)
}
