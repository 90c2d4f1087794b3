// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-msgpack/codec"
)

// iamAPI is the subset of the IAM client used by the granter.
type iamAPI interface {
	PutRolePolicy(ctx context.Context, params *iam.PutRolePolicyInput, optFns ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error)
	DeleteRolePolicy(ctx context.Context, params *iam.DeleteRolePolicyInput, optFns ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error)
}

// invalidPolicyNameChars matches characters IAM does not accept in policy
// names.
var invalidPolicyNameChars = regexp.MustCompile(`[^\w+=,.@-]`)

type policyDocument struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect   string   `json:"Effect"`
	Action   []string `json:"Action"`
	Resource string   `json:"Resource"`
}

// IAM attaches grants to roles as inline policies with deterministic names,
// which makes granting and revoking idempotent.
type IAM struct {
	client iamAPI
	log    hclog.Logger
}

// NewIAM returns a granter using client.
func NewIAM(client iamAPI, log hclog.Logger) *IAM {
	return &IAM{client: client, log: log.Named("iam")}
}

// policyName returns the inline policy name for a grant kind and resource.
func policyName(kind, resource string) string {
	name := "pipeline-" + kind + "-" + invalidPolicyNameChars.ReplaceAllString(resource, ".")
	if len(name) > 128 {
		name = name[:128]
	}
	return name
}

// Grant allows role to perform actions on resource.
func (i *IAM) Grant(ctx context.Context, role, name, resource string, actions ...string) error {
	doc := policyDocument{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:   "Allow",
			Action:   actions,
			Resource: resource,
		}},
	}

	var raw []byte
	if err := codec.NewEncoderBytes(&raw, &codec.JsonHandle{}).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode policy %s: %w", name, err)
	}

	_, err := i.client.PutRolePolicy(ctx, &iam.PutRolePolicyInput{
		RoleName:       aws.String(role),
		PolicyName:     aws.String(name),
		PolicyDocument: aws.String(string(raw)),
	})
	if err != nil {
		return fmt.Errorf("failed to put role policy %s on %s: %w", name, role, err)
	}

	i.log.Debug("granted role policy", "role", role, "policy", name, "resource", resource)
	return nil
}

// Revoke removes the named inline policy from role. A missing policy is not
// an error.
func (i *IAM) Revoke(ctx context.Context, role, name string) error {
	_, err := i.client.DeleteRolePolicy(ctx, &iam.DeleteRolePolicyInput{
		RoleName:   aws.String(role),
		PolicyName: aws.String(name),
	})
	if err != nil && !isErrorCode(err, "NoSuchEntity") {
		return fmt.Errorf("failed to delete role policy %s from %s: %w", name, role, err)
	}
	return nil
}
