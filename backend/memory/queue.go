// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

const locatorScheme = "memory://"

// Queues is an in-process QueueBackend. Items are opaque strings.
type Queues struct {
	grants *Grants

	lock   sync.RWMutex
	queues map[string][]string

	// depthErr, when set, is returned by the next Depth call.
	depthErr error
}

var _ sdk.QueueBackend = (*Queues)(nil)

// NewQueues returns an empty queue backend recording grants in g. A nil g
// uses a private registry.
func NewQueues(g *Grants) *Queues {
	if g == nil {
		g = NewGrants()
	}
	return &Queues{grants: g, queues: make(map[string][]string)}
}

// Grants returns the registry the backend records grants in.
func (q *Queues) Grants() *Grants { return q.grants }

// Locator returns the locator of the named queue.
func Locator(name string) string { return locatorScheme + name }

func parseLocator(locator string) (string, error) {
	name, ok := strings.CutPrefix(locator, locatorScheme)
	if !ok || name == "" {
		return "", fmt.Errorf("invalid queue locator %q", locator)
	}
	return name, nil
}

func (q *Queues) EnsureQueue(_ context.Context, name string) (string, error) {
	if name == "" {
		return "", errors.New("queue name must not be empty")
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if _, ok := q.queues[name]; !ok {
		q.queues[name] = nil
	}
	return Locator(name), nil
}

func (q *Queues) Depth(_ context.Context, locator string) (int64, error) {
	name, err := parseLocator(locator)
	if err != nil {
		return 0, err
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	if err := q.depthErr; err != nil {
		q.depthErr = nil
		return 0, err
	}

	items, ok := q.queues[name]
	if !ok {
		return 0, fmt.Errorf("queue %s: %w", name, sdk.ErrNotFound)
	}
	return int64(len(items)), nil
}

// FailNextDepth makes the next Depth call return err.
func (q *Queues) FailNextDepth(err error) {
	q.lock.Lock()
	defer q.lock.Unlock()
	q.depthErr = err
}

func (q *Queues) GrantConsume(_ context.Context, locator string, p sdk.Principal) error {
	return q.grant(locator, p, sdk.PermissionConsume)
}

func (q *Queues) GrantProduce(_ context.Context, locator string, p sdk.Principal) error {
	return q.grant(locator, p, sdk.PermissionProduce)
}

func (q *Queues) grant(locator string, p sdk.Principal, perm sdk.Permission) error {
	if p.Name == "" {
		return errors.New("principal must not be empty")
	}
	if _, err := q.lookup(locator); err != nil {
		return err
	}
	q.grants.add(p.Name, locator, perm)
	return nil
}

func (q *Queues) RevokeGrants(_ context.Context, locator string, p sdk.Principal) error {
	q.grants.revoke(p.Name, locator, sdk.PermissionConsume, sdk.PermissionProduce)
	return nil
}

func (q *Queues) lookup(locator string) (string, error) {
	name, err := parseLocator(locator)
	if err != nil {
		return "", err
	}

	q.lock.RLock()
	defer q.lock.RUnlock()

	if _, ok := q.queues[name]; !ok {
		return "", fmt.Errorf("queue %s: %w", name, sdk.ErrNotFound)
	}
	return name, nil
}

// Push appends items to the queue, on behalf of the given principal. It fails
// unless the principal holds the produce permission, or the principal is
// empty which stands for the operator.
func (q *Queues) Push(locator, principal string, items ...string) error {
	name, err := q.lookup(locator)
	if err != nil {
		return err
	}
	if principal != "" && !q.grants.Has(principal, locator, sdk.PermissionProduce) {
		return fmt.Errorf("principal %s may not produce to queue %s", principal, name)
	}

	q.lock.Lock()
	defer q.lock.Unlock()
	q.queues[name] = append(q.queues[name], items...)
	return nil
}

// Pop removes and returns up to n items from the head of the queue on behalf
// of the given principal, who must hold the consume permission.
func (q *Queues) Pop(locator, principal string, n int) ([]string, error) {
	name, err := q.lookup(locator)
	if err != nil {
		return nil, err
	}
	if principal != "" && !q.grants.Has(principal, locator, sdk.PermissionConsume) {
		return nil, fmt.Errorf("principal %s may not consume from queue %s", principal, name)
	}

	q.lock.Lock()
	defer q.lock.Unlock()

	items := q.queues[name]
	if n > len(items) {
		n = len(items)
	}
	out := append([]string(nil), items[:n]...)
	q.queues[name] = items[n:]
	return out, nil
}
