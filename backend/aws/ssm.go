// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// ssmAPI is the subset of the SSM client used by the parameter and policy
// backends.
type ssmAPI interface {
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	DeleteParameter(ctx context.Context, params *ssm.DeleteParameterInput, optFns ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error)
}

// SSM is a ParameterStore on SSM Parameter Store. It is also the
// PolicyBackend: policy documents are kept as JSON parameters named
// "<policy prefix>/<stage>/<policy>".
type SSM struct {
	client       ssmAPI
	granter      *IAM
	policyPrefix string
	log          hclog.Logger
}

var (
	_ sdk.ParameterStore = (*SSM)(nil)
	_ sdk.PolicyBackend  = (*SSM)(nil)
)

// NewSSM returns a parameter store making read grants with granter.
func NewSSM(client ssmAPI, granter *IAM, policyPrefix string, log hclog.Logger) *SSM {
	return &SSM{
		client:       client,
		granter:      granter,
		policyPrefix: strings.TrimSuffix(policyPrefix, "/"),
		log:          log.Named("ssm"),
	}
}

func (s *SSM) PutParameter(ctx context.Context, name, value string) error {
	_, err := s.client.PutParameter(ctx, &ssm.PutParameterInput{
		Name:      aws.String(name),
		Value:     aws.String(value),
		Type:      types.ParameterTypeString,
		Overwrite: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}

	s.log.Debug("put parameter", "name", name)
	return nil
}

// GetParameter returns the value and ARN of the named parameter.
func (s *SSM) GetParameter(ctx context.Context, name string) (string, string, error) {
	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{Name: aws.String(name)})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return "", "", fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
		}
		return "", "", fmt.Errorf("failed to get parameter %s: %w", name, err)
	}
	if out.Parameter == nil {
		return "", "", fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
	}
	return aws.ToString(out.Parameter.Value), aws.ToString(out.Parameter.ARN), nil
}

func (s *SSM) DeleteParameter(ctx context.Context, name string) error {
	_, err := s.client.DeleteParameter(ctx, &ssm.DeleteParameterInput{Name: aws.String(name)})
	if err != nil {
		var nf *types.ParameterNotFound
		if errors.As(err, &nf) {
			return nil
		}
		return fmt.Errorf("failed to delete parameter %s: %w", name, err)
	}
	return nil
}

func (s *SSM) GrantRead(ctx context.Context, name string, p sdk.Principal) error {
	if p.Name == "" {
		return errors.New("principal must not be empty")
	}
	_, arn, err := s.GetParameter(ctx, name)
	if err != nil {
		return err
	}
	return s.granter.Grant(ctx, p.Name, policyName("read", name), arn, "ssm:GetParameter")
}

func (s *SSM) RevokeRead(ctx context.Context, name string, p sdk.Principal) error {
	return s.granter.Revoke(ctx, p.Name, policyName("read", name))
}

func (s *SSM) policyParameter(key sdk.PolicyKey) string {
	return s.policyPrefix + "/" + key.Stage + "/" + key.Policy
}

func (s *SSM) PutPolicy(ctx context.Context, key sdk.PolicyKey, doc sdk.PolicyDocument) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, &codec.JsonHandle{}).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode policy %s: %w", key, err)
	}
	if err := s.PutParameter(ctx, s.policyParameter(key), string(raw)); err != nil {
		return fmt.Errorf("failed to apply policy %s: %w", key, err)
	}
	return nil
}

// GetPolicy returns the policy stored under key.
func (s *SSM) GetPolicy(ctx context.Context, key sdk.PolicyKey) (*sdk.PolicyDocument, error) {
	raw, _, err := s.GetParameter(ctx, s.policyParameter(key))
	if err != nil {
		return nil, err
	}

	var doc sdk.PolicyDocument
	if err := codec.NewDecoderBytes([]byte(raw), &codec.JsonHandle{}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy %s: %w", key, err)
	}
	return &doc, nil
}

func (s *SSM) DeletePolicy(ctx context.Context, key sdk.PolicyKey) error {
	return s.DeleteParameter(ctx, s.policyParameter(key))
}
