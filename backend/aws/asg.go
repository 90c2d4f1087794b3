// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"fmt"
	"math"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling"
	"github.com/aws/aws-sdk-go-v2/service/autoscaling/types"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// asgAPI is the subset of the Auto Scaling client used by the fleet backend.
type asgAPI interface {
	UpdateAutoScalingGroup(ctx context.Context, params *autoscaling.UpdateAutoScalingGroupInput, optFns ...func(*autoscaling.Options)) (*autoscaling.UpdateAutoScalingGroupOutput, error)
	SetDesiredCapacity(ctx context.Context, params *autoscaling.SetDesiredCapacityInput, optFns ...func(*autoscaling.Options)) (*autoscaling.SetDesiredCapacityOutput, error)
	DescribeAutoScalingGroups(ctx context.Context, params *autoscaling.DescribeAutoScalingGroupsInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeAutoScalingGroupsOutput, error)
	DescribeScalingActivities(ctx context.Context, params *autoscaling.DescribeScalingActivitiesInput, optFns ...func(*autoscaling.Options)) (*autoscaling.DescribeScalingActivitiesOutput, error)
}

// ASG is a FleetBackend on EC2 Auto Scaling groups. The groups, their launch
// templates and networking are created elsewhere.
type ASG struct {
	client asgAPI
	log    hclog.Logger
}

var _ sdk.FleetBackend = (*ASG)(nil)

// NewASG returns a fleet backend using client.
func NewASG(client asgAPI, log hclog.Logger) *ASG {
	return &ASG{client: client, log: log.Named("asg")}
}

func toInt32(n int64) (int32, error) {
	if n < 0 || n > math.MaxInt32 {
		return 0, fmt.Errorf("capacity %d out of range", n)
	}
	return int32(n), nil
}

func (a *ASG) Configure(ctx context.Context, name string, min, max int64) error {
	minSize, err := toInt32(min)
	if err != nil {
		return err
	}
	maxSize, err := toInt32(max)
	if err != nil {
		return err
	}

	_, err = a.client.UpdateAutoScalingGroup(ctx, &autoscaling.UpdateAutoScalingGroupInput{
		AutoScalingGroupName: aws.String(name),
		MinSize:              aws.Int32(minSize),
		MaxSize:              aws.Int32(maxSize),
	})
	if err != nil {
		return fmt.Errorf("failed to update Autoscaling Group %s: %w", name, err)
	}

	a.log.Debug("configured Autoscaling Group bounds", "asg_name", name, "min", min, "max", max)
	return nil
}

// SetDesiredCapacity updates the group's desired capacity. The group's own
// cooldown is not honoured; cooldown is enforced by the stage controller.
func (a *ASG) SetDesiredCapacity(ctx context.Context, name string, n int64) error {
	count, err := toInt32(n)
	if err != nil {
		return err
	}

	_, err = a.client.SetDesiredCapacity(ctx, &autoscaling.SetDesiredCapacityInput{
		AutoScalingGroupName: aws.String(name),
		DesiredCapacity:      aws.Int32(count),
		HonorCooldown:        aws.Bool(false),
	})
	if err != nil {
		return fmt.Errorf("failed to set desired capacity of Autoscaling Group %s: %w", name, err)
	}
	return nil
}

func (a *ASG) describeASG(ctx context.Context, name string) (*types.AutoScalingGroup, error) {
	out, err := a.client.DescribeAutoScalingGroups(ctx, &autoscaling.DescribeAutoScalingGroupsInput{
		AutoScalingGroupNames: []string{name},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe AWS Autoscaling Group: %w", err)
	}
	if len(out.AutoScalingGroups) != 1 {
		return nil, fmt.Errorf("autoscaling group %s: %w", name, sdk.ErrNotFound)
	}
	return &out.AutoScalingGroups[0], nil
}

// Status counts the InService members of the group. The group is not ready
// while it is being deleted or while its last scaling activity is still in
// progress.
func (a *ASG) Status(ctx context.Context, name string) (*sdk.FleetStatus, error) {
	asg, err := a.describeASG(ctx, name)
	if err != nil {
		return nil, err
	}

	// The asg.Status field is only set when the ASG is being deleted.
	status := sdk.FleetStatus{
		Desired: int64(aws.ToInt32(asg.DesiredCapacity)),
		Current: int64(len(asg.Instances)),
		Ready:   asg.Status == nil,
	}
	for _, i := range asg.Instances {
		if i.LifecycleState == types.LifecycleStateInService {
			status.InService++
		}
	}

	activities, err := a.client.DescribeScalingActivities(ctx, &autoscaling.DescribeScalingActivitiesInput{
		AutoScalingGroupName: aws.String(name),
		MaxRecords:           aws.Int32(1),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to describe AWS Autoscaling Group activities: %w", err)
	}

	// If the last activity has not finished the group is still converging
	// on a previous request.
	if len(activities.Activities) > 0 {
		if p := activities.Activities[0].Progress; p != nil && *p != 100 {
			status.Ready = false
		}
	}

	return &status, nil
}
