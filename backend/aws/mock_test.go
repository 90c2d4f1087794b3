// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	asgtypes "github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/aws/smithy-go"
)

// mockIAM keeps inline role policies in memory, keyed by role then policy
// name.
type mockIAM struct {
	lock     sync.Mutex
	policies map[string]map[string]string
	err      error
}

func newMockIAM() *mockIAM {
	return &mockIAM{policies: make(map[string]map[string]string)}
}

func (m *mockIAM) PutRolePolicy(_ context.Context, in *iam.PutRolePolicyInput, _ ...func(*iam.Options)) (*iam.PutRolePolicyOutput, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	role := aws.ToString(in.RoleName)
	if m.policies[role] == nil {
		m.policies[role] = make(map[string]string)
	}
	m.policies[role][aws.ToString(in.PolicyName)] = aws.ToString(in.PolicyDocument)
	return &iam.PutRolePolicyOutput{}, nil
}

func (m *mockIAM) DeleteRolePolicy(_ context.Context, in *iam.DeleteRolePolicyInput, _ ...func(*iam.Options)) (*iam.DeleteRolePolicyOutput, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	role, name := aws.ToString(in.RoleName), aws.ToString(in.PolicyName)
	if _, ok := m.policies[role][name]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NoSuchEntity", Message: "policy not found"}
	}
	delete(m.policies[role], name)
	return &iam.DeleteRolePolicyOutput{}, nil
}

func (m *mockIAM) names(role string) []string {
	m.lock.Lock()
	defer m.lock.Unlock()

	var out []string
	for n := range m.policies[role] {
		out = append(out, n)
	}
	return out
}

type mockSQS struct {
	queues  map[string]string
	depth   string
	err     error
	created int
}

func newMockSQS() *mockSQS {
	return &mockSQS{queues: make(map[string]string), depth: "0"}
}

func queueURL(name string) string {
	return "https://sqs.us-east-1.amazonaws.com/123456789012/" + name
}

func (m *mockSQS) CreateQueue(_ context.Context, in *sqs.CreateQueueInput, _ ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	name := aws.ToString(in.QueueName)
	url := queueURL(name)
	if _, ok := m.queues[url]; !ok {
		m.created++
		m.queues[url] = "arn:aws:sqs:us-east-1:123456789012:" + name
	}
	return &sqs.CreateQueueOutput{QueueUrl: aws.String(url)}, nil
}

func (m *mockSQS) GetQueueAttributes(_ context.Context, in *sqs.GetQueueAttributesInput, _ ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	arn, ok := m.queues[aws.ToString(in.QueueUrl)]
	if !ok {
		return nil, &smithy.GenericAPIError{Code: "AWS.SimpleQueueService.NonExistentQueue"}
	}

	attrs := make(map[string]string)
	for _, n := range in.AttributeNames {
		switch n {
		case "ApproximateNumberOfMessages":
			if m.depth != "" {
				attrs[string(n)] = m.depth
			}
		case "QueueArn":
			attrs[string(n)] = arn
		}
	}
	return &sqs.GetQueueAttributesOutput{Attributes: attrs}, nil
}

type mockASG struct {
	group      *asgtypes.AutoScalingGroup
	activities []asgtypes.Activity
	updates    []*autoscaling.UpdateAutoScalingGroupInput
	desired    []*autoscaling.SetDesiredCapacityInput
	err        error
}

func (m *mockASG) UpdateAutoScalingGroup(_ context.Context, in *autoscaling.UpdateAutoScalingGroupInput, _ ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.updates = append(m.updates, in)
	return &autoscaling.UpdateAutoScalingGroupOutput{}, nil
}

func (m *mockASG) SetDesiredCapacity(_ context.Context, in *autoscaling.SetDesiredCapacityInput, _ ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.desired = append(m.desired, in)
	return &autoscaling.SetDesiredCapacityOutput{}, nil
}

func (m *mockASG) DescribeAutoScalingGroups(_ context.Context, in *autoscaling.DescribeAutoScalingGroupsInput, _ ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := &autoscaling.DescribeAutoScalingGroupsOutput{}
	if m.group != nil && len(in.AutoScalingGroupNames) == 1 &&
		in.AutoScalingGroupNames[0] == aws.ToString(m.group.AutoScalingGroupName) {
		out.AutoScalingGroups = []asgtypes.AutoScalingGroup{*m.group}
	}
	return out, nil
}

func (m *mockASG) DescribeScalingActivities(context.Context, *autoscaling.DescribeScalingActivitiesInput, ...func(*autoscaling.Options)) (*autoscaling.DescribeScalingActivitiesOutput, error) {
	return &autoscaling.DescribeScalingActivitiesOutput{Activities: m.activities}, nil
}

type mockSSM struct {
	params map[string]string
	err    error
}

func newMockSSM() *mockSSM {
	return &mockSSM{params: make(map[string]string)}
}

func (m *mockSSM) PutParameter(_ context.Context, in *ssm.PutParameterInput, _ ...func(*ssm.Options)) (*ssm.PutParameterOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	name := aws.ToString(in.Name)
	if _, ok := m.params[name]; ok && !aws.ToBool(in.Overwrite) {
		return nil, &ssmtypes.ParameterAlreadyExists{}
	}
	m.params[name] = aws.ToString(in.Value)
	return &ssm.PutParameterOutput{Version: 1}, nil
}

func (m *mockSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	name := aws.ToString(in.Name)
	v, ok := m.params[name]
	if !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{
		Name:  aws.String(name),
		Value: aws.String(v),
		ARN:   aws.String(fmt.Sprintf("arn:aws:ssm:us-east-1:123456789012:parameter%s", name)),
	}}, nil
}

func (m *mockSSM) DeleteParameter(_ context.Context, in *ssm.DeleteParameterInput, _ ...func(*ssm.Options)) (*ssm.DeleteParameterOutput, error) {
	if m.err != nil {
		return nil, m.err
	}
	name := aws.ToString(in.Name)
	if _, ok := m.params[name]; !ok {
		return nil, &ssmtypes.ParameterNotFound{}
	}
	delete(m.params, name)
	return &ssm.DeleteParameterOutput{}, nil
}
