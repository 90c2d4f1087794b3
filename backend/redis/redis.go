// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

// Package redis implements the queue, parameter and policy backends on top of
// a Redis server. Each stage queue is a Redis list, so any worker speaking the
// Redis protocol can take part in the pipeline.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-redis/redis"
	"github.com/hashicorp/go-msgpack/codec"
	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

const (
	locatorScheme = "redis://"

	// DefaultPrefix is the key prefix used when none is configured.
	DefaultPrefix = "pipeline:"
)

// Config holds the Redis connection settings.
type Config struct {
	Address  string
	Password string
	DB       int
	Prefix   string
}

// Backend stores queues, grants, parameters and policies in Redis. Grants are
// kept as sets named "<prefix>grants:<principal>" holding "<perm>:<resource>"
// members; the Redis server itself does not enforce them.
type Backend struct {
	client *redis.Client
	addr   string
	prefix string
}

var (
	_ sdk.QueueBackend   = (*Backend)(nil)
	_ sdk.ParameterStore = (*Backend)(nil)
	_ sdk.PolicyBackend  = (*Backend)(nil)
)

// New connects to the configured server and checks it is reachable.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address must not be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.WithContext(ctx).Ping().Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}
	return NewFromClient(client, cfg.Prefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Backend{
		client: client,
		addr:   client.Options().Addr,
		prefix: prefix,
	}
}

// Close closes the underlying client.
func (b *Backend) Close() error { return b.client.Close() }

func (b *Backend) queueKey(name string) string       { return b.prefix + "queue:" + name }
func (b *Backend) queuesKey() string                 { return b.prefix + "queues" }
func (b *Backend) parametersKey() string             { return b.prefix + "parameters" }
func (b *Backend) policiesKey() string               { return b.prefix + "policies" }
func (b *Backend) grantsKey(principal string) string { return b.prefix + "grants:" + principal }

func grantMember(perm sdk.Permission, resource string) string {
	return string(perm) + ":" + resource
}

// parseLocator returns the list key addressed by the locator.
func (b *Backend) parseLocator(locator string) (string, error) {
	rest, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok {
		return "", fmt.Errorf("invalid queue locator %q", locator)
	}
	addr, key, ok := strings.Cut(rest, "/")
	if !ok || key == "" {
		return "", fmt.Errorf("invalid queue locator %q", locator)
	}
	if addr != b.addr {
		return "", fmt.Errorf("queue locator %q does not belong to server %s", locator, b.addr)
	}
	return key, nil
}

func (b *Backend) EnsureQueue(ctx context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("queue name must not be empty")
	}

	key := b.queueKey(name)
	if err := b.client.WithContext(ctx).SAdd(b.queuesKey(), key).Err(); err != nil {
		return "", fmt.Errorf("failed to register queue %s: %w", name, err)
	}
	return locatorScheme + b.addr + "/" + key, nil
}

func (b *Backend) Depth(ctx context.Context, locator string) (int64, error) {
	key, err := b.parseLocator(locator)
	if err != nil {
		return 0, err
	}

	c := b.client.WithContext(ctx)

	// An empty list does not exist in Redis, so the registry tells a missing
	// queue apart from an empty one.
	known, err := c.SIsMember(b.queuesKey(), key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to look up queue %s: %w", key, err)
	}
	if !known {
		return 0, fmt.Errorf("queue %s: %w", key, sdk.ErrNotFound)
	}

	depth, err := c.LLen(key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read depth of queue %s: %w", key, err)
	}
	return depth, nil
}

func (b *Backend) GrantConsume(ctx context.Context, locator string, p sdk.Principal) error {
	return b.grantQueue(ctx, locator, p, sdk.PermissionConsume)
}

func (b *Backend) GrantProduce(ctx context.Context, locator string, p sdk.Principal) error {
	return b.grantQueue(ctx, locator, p, sdk.PermissionProduce)
}

func (b *Backend) grantQueue(ctx context.Context, locator string, p sdk.Principal, perm sdk.Permission) error {
	key, err := b.parseLocator(locator)
	if err != nil {
		return err
	}
	return b.grant(ctx, p, perm, key)
}

func (b *Backend) grant(ctx context.Context, p sdk.Principal, perm sdk.Permission, resource string) error {
	if p.Name == "" {
		return errors.New("principal must not be empty")
	}
	if err := b.client.WithContext(ctx).SAdd(b.grantsKey(p.Name), grantMember(perm, resource)).Err(); err != nil {
		return fmt.Errorf("failed to grant %s on %s to %s: %w", perm, resource, p.Name, err)
	}
	return nil
}

func (b *Backend) RevokeGrants(ctx context.Context, locator string, p sdk.Principal) error {
	key, err := b.parseLocator(locator)
	if err != nil {
		return err
	}
	return b.revoke(ctx, p, key, sdk.PermissionConsume, sdk.PermissionProduce)
}

func (b *Backend) revoke(ctx context.Context, p sdk.Principal, resource string, perms ...sdk.Permission) error {
	members := make([]interface{}, 0, len(perms))
	for _, perm := range perms {
		members = append(members, grantMember(perm, resource))
	}
	if err := b.client.WithContext(ctx).SRem(b.grantsKey(p.Name), members...).Err(); err != nil {
		return fmt.Errorf("failed to revoke grants on %s from %s: %w", resource, p.Name, err)
	}
	return nil
}

// HasGrant reports whether the principal holds perm on the resource. Queue
// resources are identified by their list key.
func (b *Backend) HasGrant(ctx context.Context, principal string, perm sdk.Permission, resource string) (bool, error) {
	return b.client.WithContext(ctx).SIsMember(b.grantsKey(principal), grantMember(perm, resource)).Result()
}

func (b *Backend) PutParameter(ctx context.Context, name, value string) error {
	if name == "" {
		return errors.New("parameter name must not be empty")
	}
	if err := b.client.WithContext(ctx).HSet(b.parametersKey(), name, value).Err(); err != nil {
		return fmt.Errorf("failed to put parameter %s: %w", name, err)
	}
	return nil
}

// GetParameter returns the value of the named parameter.
func (b *Backend) GetParameter(ctx context.Context, name string) (string, error) {
	v, err := b.client.WithContext(ctx).HGet(b.parametersKey(), name).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
	}
	return v, err
}

func (b *Backend) DeleteParameter(ctx context.Context, name string) error {
	if err := b.client.WithContext(ctx).HDel(b.parametersKey(), name).Err(); err != nil {
		return fmt.Errorf("failed to delete parameter %s: %w", name, err)
	}
	return nil
}

func (b *Backend) GrantRead(ctx context.Context, name string, p sdk.Principal) error {
	exists, err := b.client.WithContext(ctx).HExists(b.parametersKey(), name).Result()
	if err != nil {
		return fmt.Errorf("failed to look up parameter %s: %w", name, err)
	}
	if !exists {
		return fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
	}
	return b.grant(ctx, p, sdk.PermissionRead, name)
}

func (b *Backend) RevokeRead(ctx context.Context, name string, p sdk.Principal) error {
	return b.revoke(ctx, p, name, sdk.PermissionRead)
}

func (b *Backend) PutPolicy(ctx context.Context, key sdk.PolicyKey, doc sdk.PolicyDocument) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, &codec.JsonHandle{}).Encode(doc); err != nil {
		return fmt.Errorf("failed to encode policy %s: %w", key, err)
	}
	if err := b.client.WithContext(ctx).HSet(b.policiesKey(), key.String(), raw).Err(); err != nil {
		return fmt.Errorf("failed to put policy %s: %w", key, err)
	}
	return nil
}

// GetPolicy returns the policy stored under key.
func (b *Backend) GetPolicy(ctx context.Context, key sdk.PolicyKey) (*sdk.PolicyDocument, error) {
	raw, err := b.client.WithContext(ctx).HGet(b.policiesKey(), key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("policy %s: %w", key, sdk.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}

	var doc sdk.PolicyDocument
	if err := codec.NewDecoderBytes(raw, &codec.JsonHandle{}).Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode policy %s: %w", key, err)
	}
	return &doc, nil
}

func (b *Backend) DeletePolicy(ctx context.Context, key sdk.PolicyKey) error {
	if err := b.client.WithContext(ctx).HDel(b.policiesKey(), key.String()).Err(); err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", key, err)
	}
	return nil
}

// Push appends items to the tail of the queue.
func (b *Backend) Push(ctx context.Context, locator string, items ...string) error {
	key, err := b.parseLocator(locator)
	if err != nil {
		return err
	}
	values := make([]interface{}, len(items))
	for i, it := range items {
		values[i] = it
	}
	return b.client.WithContext(ctx).RPush(key, values...).Err()
}
