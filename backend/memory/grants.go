// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package memory

import (
	"sort"
	"sync"

	"github.com/hashicorp/pipeline-autoscaler/sdk"
)

// Grant is a single permission held by a principal on a resource.
type Grant struct {
	Principal  string         `json:"principal"`
	Resource   string         `json:"resource"`
	Permission sdk.Permission `json:"permission"`
}

// Grants records the permissions handed out by the in-memory backends. It is
// shared between the queue and parameter backends so that a single registry
// answers every access question.
type Grants struct {
	lock   sync.RWMutex
	grants map[string]map[string]map[sdk.Permission]struct{}
}

// NewGrants returns an empty registry.
func NewGrants() *Grants {
	return &Grants{grants: make(map[string]map[string]map[sdk.Permission]struct{})}
}

func (g *Grants) add(principal, resource string, perm sdk.Permission) {
	g.lock.Lock()
	defer g.lock.Unlock()

	byResource, ok := g.grants[principal]
	if !ok {
		byResource = make(map[string]map[sdk.Permission]struct{})
		g.grants[principal] = byResource
	}
	perms, ok := byResource[resource]
	if !ok {
		perms = make(map[sdk.Permission]struct{})
		byResource[resource] = perms
	}
	perms[perm] = struct{}{}
}

func (g *Grants) revoke(principal, resource string, perms ...sdk.Permission) {
	g.lock.Lock()
	defer g.lock.Unlock()

	byResource, ok := g.grants[principal]
	if !ok {
		return
	}
	if len(perms) == 0 {
		delete(byResource, resource)
	} else if current, ok := byResource[resource]; ok {
		for _, p := range perms {
			delete(current, p)
		}
		if len(current) == 0 {
			delete(byResource, resource)
		}
	}
	if len(byResource) == 0 {
		delete(g.grants, principal)
	}
}

// Has reports whether the principal holds perm on the resource.
func (g *Grants) Has(principal, resource string, perm sdk.Permission) bool {
	g.lock.RLock()
	defer g.lock.RUnlock()

	_, ok := g.grants[principal][resource][perm]
	return ok
}

// List returns every grant held by the principal, sorted by resource and
// permission. An empty principal lists the grants of every principal.
func (g *Grants) List(principal string) []Grant {
	g.lock.RLock()
	defer g.lock.RUnlock()

	var out []Grant
	for p, byResource := range g.grants {
		if principal != "" && p != principal {
			continue
		}
		for r, perms := range byResource {
			for perm := range perms {
				out = append(out, Grant{Principal: p, Resource: r, Permission: perm})
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Principal != out[j].Principal {
			return out[i].Principal < out[j].Principal
		}
		if out[i].Resource != out[j].Resource {
			return out[i].Resource < out[j].Resource
		}
		return out[i].Permission < out[j].Permission
	})
	return out
}
