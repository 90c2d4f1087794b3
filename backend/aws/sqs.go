// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package aws

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// sqsAPI is the subset of the SQS client used by the queue backend.
type sqsAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
}

var (
	// consumeActions may be granted on a stage's own queue.
	consumeActions = []string{
		"sqs:ReceiveMessage",
		"sqs:DeleteMessage",
		"sqs:ChangeMessageVisibility",
		"sqs:GetQueueAttributes",
		"sqs:GetQueueUrl",
	}

	// produceActions may be granted on a stage's downstream queue.
	produceActions = []string{
		"sqs:SendMessage",
		"sqs:GetQueueAttributes",
		"sqs:GetQueueUrl",
	}
)

// SQS is a QueueBackend on Amazon SQS. Queue locators are the queue URLs.
type SQS struct {
	client  sqsAPI
	granter *IAM
	log     hclog.Logger

	arnLock sync.RWMutex
	arns    map[string]string
}

var _ sdk.QueueBackend = (*SQS)(nil)

// NewSQS returns a queue backend making grants with granter.
func NewSQS(client sqsAPI, granter *IAM, log hclog.Logger) *SQS {
	return &SQS{
		client:  client,
		granter: granter,
		log:     log.Named("sqs"),
		arns:    make(map[string]string),
	}
}

// queueNameFromURL returns the queue name, which is the last element of the
// queue URL.
func queueNameFromURL(url string) string {
	return url[strings.LastIndex(url, "/")+1:]
}

func (s *SQS) EnsureQueue(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("queue name must not be empty")
	}

	// CreateQueue returns the existing queue when one with the same name and
	// attributes already exists.
	out, err := s.client.CreateQueue(ctx, &sqs.CreateQueueInput{QueueName: aws.String(name)})
	if err != nil {
		return "", fmt.Errorf("failed to create queue %s: %w", name, err)
	}
	if out.QueueUrl == nil {
		return "", fmt.Errorf("no URL returned for queue %s", name)
	}

	s.log.Debug("ensured queue", "queue", name, "url", *out.QueueUrl)
	return *out.QueueUrl, nil
}

func (s *SQS) attributes(ctx context.Context, url string, names ...types.QueueAttributeName) (map[string]string, error) {
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl:       aws.String(url),
		AttributeNames: names,
	})
	if err != nil {
		if isErrorCode(err, "AWS.SimpleQueueService.NonExistentQueue", "QueueDoesNotExist") {
			return nil, fmt.Errorf("queue %s: %w", url, sdk.ErrNotFound)
		}
		return nil, err
	}
	return out.Attributes, nil
}

// Depth returns the approximate number of visible messages in the queue.
func (s *SQS) Depth(ctx context.Context, locator string) (int64, error) {
	attrs, err := s.attributes(ctx, locator, types.QueueAttributeNameApproximateNumberOfMessages)
	if err != nil {
		return 0, fmt.Errorf("failed to read depth of queue %s: %w", locator, err)
	}

	raw, ok := attrs[string(types.QueueAttributeNameApproximateNumberOfMessages)]
	if !ok {
		return 0, fmt.Errorf("queue %s did not report its depth", locator)
	}
	depth, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid depth %q reported by queue %s: %w", raw, locator, err)
	}
	return depth, nil
}

// queueARN returns the ARN of the queue, which is stable for its lifetime.
func (s *SQS) queueARN(ctx context.Context, url string) (string, error) {
	s.arnLock.RLock()
	arn, ok := s.arns[url]
	s.arnLock.RUnlock()
	if ok {
		return arn, nil
	}

	attrs, err := s.attributes(ctx, url, types.QueueAttributeNameQueueArn)
	if err != nil {
		return "", fmt.Errorf("failed to read ARN of queue %s: %w", url, err)
	}
	arn = attrs[string(types.QueueAttributeNameQueueArn)]
	if arn == "" {
		return "", fmt.Errorf("queue %s did not report its ARN", url)
	}

	s.arnLock.Lock()
	s.arns[url] = arn
	s.arnLock.Unlock()
	return arn, nil
}

func (s *SQS) GrantConsume(ctx context.Context, locator string, p sdk.Principal) error {
	return s.grant(ctx, locator, p, "consume", consumeActions)
}

func (s *SQS) GrantProduce(ctx context.Context, locator string, p sdk.Principal) error {
	return s.grant(ctx, locator, p, "produce", produceActions)
}

func (s *SQS) grant(ctx context.Context, locator string, p sdk.Principal, kind string, actions []string) error {
	if p.Name == "" {
		return errors.New("principal must not be empty")
	}
	arn, err := s.queueARN(ctx, locator)
	if err != nil {
		return err
	}
	return s.granter.Grant(ctx, p.Name, policyName(kind, queueNameFromURL(locator)), arn, actions...)
}

func (s *SQS) RevokeGrants(ctx context.Context, locator string, p sdk.Principal) error {
	name := queueNameFromURL(locator)
	if err := s.granter.Revoke(ctx, p.Name, policyName("consume", name)); err != nil {
		return err
	}
	return s.granter.Revoke(ctx, p.Name, policyName("produce", name))
}
