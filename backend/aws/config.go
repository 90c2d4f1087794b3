// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package aws implements the pipeline backends on Amazon Web Services: SQS
// queues, EC2 Auto Scaling groups, SSM parameters and IAM inline role
// policies for grants.
package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/rate_limiter"
)

const (
	// DefaultRegion is used when neither the configuration nor the
	// environment name a region.
	DefaultRegion = "us-east-1"

	// DefaultRateLimit is the number of AWS API requests allowed per second
	// when none is configured.
	DefaultRateLimit = 10
)

// Config holds the settings used to build the AWS clients.
type Config struct {
	Region string

	// AccessKeyID and SecretAccessKey are used as static credentials when
	// both are set; the session token is optional. Otherwise the default
	// credential chain applies.
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// RateLimit caps AWS API requests per second. A negative value disables
	// rate limiting.
	RateLimit int
}

// LoadConfig loads the default AWS configuration, which handles pulling
// configuration from default profiles and environment variables, and
// overrides it with the passed settings.
func LoadConfig(ctx context.Context, c Config, log hclog.Logger) (aws.Config, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	rateLimit := c.RateLimit
	if rateLimit == 0 {
		rateLimit = DefaultRateLimit
	}

	opts := []func(*config.LoadOptions) error{
		config.WithHTTPClient(rate_limiter.NewInstrumentedWrapper("aws", rateLimit, nil)),
	}

	if c.Region != "" {
		opts = append(opts, config.WithRegion(c.Region))
	}

	// In order to use static credentials both the access key and secret key
	// need to be present.
	if c.AccessKeyID != "" && c.SecretAccessKey != "" {
		log.Trace("setting AWS access credentials from config")
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, c.SessionToken)))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load default AWS config: %w", err)
	}

	if cfg.Region == "" {
		log.Trace("setting AWS region for client", "region", DefaultRegion)
		cfg.Region = DefaultRegion
	}
	return cfg, nil
}

// Backends holds the AWS implementation of every pipeline backend.
type Backends struct {
	Queues     *SQS
	Fleets     *ASG
	Parameters *SSM
}

// NewBackends builds the service clients from cfg. Policies are stored as
// SSM parameters below policyPrefix.
func NewBackends(cfg aws.Config, policyPrefix string, log hclog.Logger) *Backends {
	if log == nil {
		log = hclog.NewNullLogger()
	}

	granter := NewIAM(iam.NewFromConfig(cfg), log)
	return &Backends{
		Queues:     NewSQS(sqs.NewFromConfig(cfg), granter, log),
		Fleets:     NewASG(autoscaling.NewFromConfig(cfg), log),
		Parameters: NewSSM(ssm.NewFromConfig(cfg), granter, policyPrefix, log),
	}
}

// isErrorCode reports whether err is an AWS API error with one of the codes.
func isErrorCode(err error, codes ...string) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	for _, c := range codes {
		if ae.ErrorCode() == c {
			return true
		}
	}
	return false
}
