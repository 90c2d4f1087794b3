// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// Policies is an in-process PolicyBackend.
type Policies struct {
	lock     sync.RWMutex
	policies map[sdk.PolicyKey]sdk.PolicyDocument

	// failDelete, when set, is returned by every DeletePolicy call.
	failDelete error
}

var _ sdk.PolicyBackend = (*Policies)(nil)

// NewPolicies returns an empty policy backend.
func NewPolicies() *Policies {
	return &Policies{policies: make(map[sdk.PolicyKey]sdk.PolicyDocument)}
}

func (p *Policies) PutPolicy(_ context.Context, key sdk.PolicyKey, doc sdk.PolicyDocument) error {
	if key.Stage == "" || key.Policy == "" {
		return fmt.Errorf("invalid policy key %q", key.String())
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	p.policies[key] = doc
	return nil
}

func (p *Policies) DeletePolicy(_ context.Context, key sdk.PolicyKey) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.failDelete != nil {
		return p.failDelete
	}
	delete(p.policies, key)
	return nil
}

// Get returns the policy stored under key.
func (p *Policies) Get(key sdk.PolicyKey) (sdk.PolicyDocument, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()

	doc, ok := p.policies[key]
	return doc, ok
}

// Len returns the number of stored policies.
func (p *Policies) Len() int {
	p.lock.RLock()
	defer p.lock.RUnlock()
	return len(p.policies)
}

// FailDelete makes every DeletePolicy call return err. A nil err clears it.
func (p *Policies) FailDelete(err error) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.failDelete = err
}

// Parameters is an in-process ParameterStore. Read grants are recorded in the
// shared Grants registry.
type Parameters struct {
	grants *Grants

	lock   sync.RWMutex
	params map[string]string
}

var _ sdk.ParameterStore = (*Parameters)(nil)

// NewParameters returns an empty parameter store recording grants in g. A
// nil g uses a private registry.
func NewParameters(g *Grants) *Parameters {
	if g == nil {
		g = NewGrants()
	}
	return &Parameters{grants: g, params: make(map[string]string)}
}

func (p *Parameters) PutParameter(_ context.Context, name, value string) error {
	if name == "" {
		return errors.New("parameter name must not be empty")
	}

	p.lock.Lock()
	defer p.lock.Unlock()
	p.params[name] = value
	return nil
}

func (p *Parameters) DeleteParameter(_ context.Context, name string) error {
	p.lock.Lock()
	defer p.lock.Unlock()
	delete(p.params, name)
	return nil
}

func (p *Parameters) GrantRead(_ context.Context, name string, pr sdk.Principal) error {
	if pr.Name == "" {
		return errors.New("principal must not be empty")
	}

	p.lock.RLock()
	_, ok := p.params[name]
	p.lock.RUnlock()

	if !ok {
		return fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
	}
	p.grants.add(pr.Name, name, sdk.PermissionRead)
	return nil
}

func (p *Parameters) RevokeRead(_ context.Context, name string, pr sdk.Principal) error {
	p.grants.revoke(pr.Name, name, sdk.PermissionRead)
	return nil
}

// Get returns the value of the named parameter on behalf of the principal,
// who must hold the read permission. An empty principal stands for the
// operator.
func (p *Parameters) Get(name, principal string) (string, error) {
	if principal != "" && !p.grants.Has(principal, name, sdk.PermissionRead) {
		return "", fmt.Errorf("principal %s may not read parameter %s", principal, name)
	}

	p.lock.RLock()
	defer p.lock.RUnlock()

	v, ok := p.params[name]
	if !ok {
		return "", fmt.Errorf("parameter %s: %w", name, sdk.ErrNotFound)
	}
	return v, nil
}
