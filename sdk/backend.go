// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package sdk

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by backends when the requested resource does not
// exist.
var ErrNotFound = errors.New("resource not found")

// Principal is the identity associated with a worker fleet. Grants made by the
// pipeline are attached to it; its other permissions are not managed here.
type Principal struct {

	// Name is the backend specific name of the identity, for example an IAM
	// role name.
	Name string

	// ID is an optional backend specific identifier such as an ARN.
	ID string
}

// Permission is an access right granted to a principal on a resource.
type Permission string

const (
	// PermissionConsume allows receiving and deleting items from a queue.
	PermissionConsume Permission = "consume"

	// PermissionProduce allows sending items to a queue.
	PermissionProduce Permission = "produce"

	// PermissionRead allows reading a configuration parameter.
	PermissionRead Permission = "read"
)

// QueueBackend is the contract with the system that hosts the stage queues.
type QueueBackend interface {

	// EnsureQueue creates the named queue if it does not exist and returns
	// its stable locator. Calling it for an existing queue returns the same
	// locator.
	EnsureQueue(ctx context.Context, name string) (string, error)

	// Depth returns the approximate number of items in the queue. The value
	// is eventually consistent.
	Depth(ctx context.Context, locator string) (int64, error)

	// GrantConsume allows the principal to receive and delete items from the
	// queue, never to send.
	GrantConsume(ctx context.Context, locator string, p Principal) error

	// GrantProduce allows the principal to send items to the queue, never to
	// receive.
	GrantProduce(ctx context.Context, locator string, p Principal) error

	// RevokeGrants removes any grant made on the queue to the principal.
	// Revoking grants that do not exist is not an error.
	RevokeGrants(ctx context.Context, locator string, p Principal) error
}

// FleetStatus is the best-known state of a worker fleet. It may lag reality.
type FleetStatus struct {

	// Desired is the capacity the fleet is converging toward.
	Desired int64

	// Current is the number of members in the fleet regardless of their
	// lifecycle state.
	Current int64

	// InService is the number of members counted as healthy and active.
	InService int64

	// Ready indicates whether the fleet is able to accept capacity changes.
	Ready bool
}

// FleetBackend is the contract with the system that runs worker fleets.
type FleetBackend interface {

	// Configure sets the capacity bounds of the named fleet.
	Configure(ctx context.Context, name string, min, max int64) error

	// SetDesiredCapacity requests the fleet to converge to n members.
	// Repeated identical requests have the same effect as a single one.
	SetDesiredCapacity(ctx context.Context, name string, n int64) error

	// Status returns the current best-known status of the fleet.
	Status(ctx context.Context, name string) (*FleetStatus, error)
}

// PolicyDocument describes a target-tracking policy attached to a stage.
type PolicyDocument struct {
	Fleet        string        `json:"fleet"`
	QueueLocator string        `json:"queue_locator"`
	TargetValue  float64       `json:"target_value"`
	Cooldown     time.Duration `json:"cooldown"`
	MinCapacity  int64         `json:"min_capacity"`
	MaxCapacity  int64         `json:"max_capacity"`
	Operator     string        `json:"operator,omitempty"`
}

// PolicyBackend is the control plane that records the scaling policies
// attached to fleets. Both calls are idempotent with respect to the key.
type PolicyBackend interface {

	// PutPolicy creates or replaces the policy identified by key.
	PutPolicy(ctx context.Context, key PolicyKey, doc PolicyDocument) error

	// DeletePolicy removes the policy identified by key. Deleting a policy
	// that does not exist is not an error.
	DeletePolicy(ctx context.Context, key PolicyKey) error
}

// ParameterStore publishes configuration values, such as queue locators, for
// workers to discover at runtime.
type ParameterStore interface {

	// PutParameter creates or overwrites the named parameter.
	PutParameter(ctx context.Context, name, value string) error

	// DeleteParameter removes the named parameter. Deleting a parameter that
	// does not exist is not an error.
	DeleteParameter(ctx context.Context, name string) error

	// GrantRead allows the principal to read the named parameter.
	GrantRead(ctx context.Context, name string, p Principal) error

	// RevokeRead removes a read grant made by GrantRead. Revoking a grant
	// that does not exist is not an error.
	RevokeRead(ctx context.Context, name string, p Principal) error
}
