// Copyright (c) 2019 Cisco and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package cache keeps the last known copy of every policy entity and
// offers reverse lookups needed by the renderers to fan updates out
// (e.g. from a bridge domain to every group forwarding through it).
// Every write is announced to the event loop as a PolicyUpdate.
package cache

import (
	"sort"
	"sync"

	"github.com/ligato/cn-infra/infra"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/policy/model"
)

// PolicyCacheAPI is the read/write access to the policy state.
type PolicyCacheAPI interface {
	PolicyReader

	// Update stores (entity non-nil) or removes (entity nil) a policy
	// entity and pushes a PolicyUpdate event for its key.
	Update(key model.Key, entity interface{})
}

// PolicyReader is the read-only view used by the renderers.
type PolicyReader interface {
	GetRoutingDomain(uri string) *model.RoutingDomain
	GetBridgeDomain(uri string) *model.BridgeDomain
	GetEndpointGroup(uri string) *model.EndpointGroup
	GetEndpoint(uuid string) *model.Endpoint
	GetSecurityGroup(uri string) *model.SecurityGroup
	GetPlatformConfig() *model.PlatformConfig

	// ListEndpointGroups returns URIs of all known groups, sorted.
	ListEndpointGroups() []string

	// ListEndpoints returns UUIDs of all known endpoints, sorted.
	ListEndpoints() []string

	// EndpointsByGroup returns UUIDs of endpoints whose parent or
	// floating-IP group is the given one, sorted.
	EndpointsByGroup(uri string) []string

	// EndpointsBySecGroup returns UUIDs of endpoints attached to the
	// given security group, sorted.
	EndpointsBySecGroup(uri string) []string

	// EndpointsByInterface returns UUIDs of endpoints bound to the given
	// host interface, sorted.
	EndpointsByInterface(ifName string) []string

	// GroupsByDomain returns URIs of groups forwarding through the given
	// bridge or routing domain, sorted.
	GroupsByDomain(class model.Class, uri string) []string
}

// PolicyCache implements PolicyCacheAPI on top of plain in-memory maps.
// All methods are safe for concurrent use; the renderers nevertheless only
// ever read it from the serialized event loop.
type PolicyCache struct {
	Deps

	mu sync.RWMutex

	routingDomains map[string]*model.RoutingDomain
	bridgeDomains  map[string]*model.BridgeDomain
	groups         map[string]*model.EndpointGroup
	endpoints      map[string]*model.Endpoint
	secGroups      map[string]*model.SecurityGroup
	platform       *model.PlatformConfig
}

// Deps lists dependencies of the policy cache.
type Deps struct {
	infra.PluginDeps
	EventLoop controller.EventLoop
}

// Init allocates the internal maps.
func (c *PolicyCache) Init() error {
	c.routingDomains = make(map[string]*model.RoutingDomain)
	c.bridgeDomains = make(map[string]*model.BridgeDomain)
	c.groups = make(map[string]*model.EndpointGroup)
	c.endpoints = make(map[string]*model.Endpoint)
	c.secGroups = make(map[string]*model.SecurityGroup)
	return nil
}

// Close is NOOP.
func (c *PolicyCache) Close() error {
	return nil
}

// Update stores or removes the given entity and announces the change.
// A nil entity (or a typed nil pointer) removes the key.
func (c *PolicyCache) Update(key model.Key, entity interface{}) {
	c.mu.Lock()
	switch key.Class {
	case model.ClassRoutingDomain:
		if rd, ok := entity.(*model.RoutingDomain); ok && rd != nil {
			c.routingDomains[key.URI] = rd
		} else {
			delete(c.routingDomains, key.URI)
		}
	case model.ClassBridgeDomain:
		if bd, ok := entity.(*model.BridgeDomain); ok && bd != nil {
			c.bridgeDomains[key.URI] = bd
		} else {
			delete(c.bridgeDomains, key.URI)
		}
	case model.ClassEndpointGroup:
		if group, ok := entity.(*model.EndpointGroup); ok && group != nil {
			c.groups[key.URI] = group
		} else {
			delete(c.groups, key.URI)
		}
	case model.ClassEndpoint:
		if ep, ok := entity.(*model.Endpoint); ok && ep != nil {
			c.endpoints[key.URI] = ep
		} else {
			delete(c.endpoints, key.URI)
		}
	case model.ClassSecurityGroup:
		if sg, ok := entity.(*model.SecurityGroup); ok && sg != nil {
			c.secGroups[key.URI] = sg
		} else {
			delete(c.secGroups, key.URI)
		}
	case model.ClassPlatformConfig:
		c.platform, _ = entity.(*model.PlatformConfig)
	default:
		c.mu.Unlock()
		c.Log.Warnf("ignoring update for unknown class %q", key.Class)
		return
	}
	c.mu.Unlock()

	c.Log.Debugf("policy update: %v", key)
	if c.EventLoop != nil {
		if err := c.EventLoop.PushEvent(&controller.PolicyUpdate{Key: key}); err != nil {
			c.Log.Errorf("failed to push policy update event for %v: %v", key, err)
		}
	}
}

// GetRoutingDomain returns the routing domain with the given URI or nil.
func (c *PolicyCache) GetRoutingDomain(uri string) *model.RoutingDomain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.routingDomains[uri]
}

// GetBridgeDomain returns the bridge domain with the given URI or nil.
func (c *PolicyCache) GetBridgeDomain(uri string) *model.BridgeDomain {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bridgeDomains[uri]
}

// GetEndpointGroup returns the group with the given URI or nil.
func (c *PolicyCache) GetEndpointGroup(uri string) *model.EndpointGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.groups[uri]
}

// GetEndpoint returns the endpoint with the given UUID or nil.
func (c *PolicyCache) GetEndpoint(uuid string) *model.Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.endpoints[uuid]
}

// GetSecurityGroup returns the security group with the given URI or nil.
func (c *PolicyCache) GetSecurityGroup(uri string) *model.SecurityGroup {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.secGroups[uri]
}

// GetPlatformConfig returns the platform configuration or nil.
func (c *PolicyCache) GetPlatformConfig() *model.PlatformConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.platform
}

// ListEndpointGroups returns URIs of all known groups, sorted.
func (c *PolicyCache) ListEndpointGroups() (uris []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for uri := range c.groups {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}

// ListEndpoints returns UUIDs of all known endpoints, sorted.
func (c *PolicyCache) ListEndpoints() (uuids []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for uuid := range c.endpoints {
		uuids = append(uuids, uuid)
	}
	sort.Strings(uuids)
	return uuids
}

// EndpointsByGroup returns UUIDs of endpoints whose parent group or one of
// the floating-IP target groups is the given one.
func (c *PolicyCache) EndpointsByGroup(uri string) (uuids []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for uuid, ep := range c.endpoints {
		if ep.EndpointGroup == uri {
			uuids = append(uuids, uuid)
			continue
		}
		for _, fip := range ep.FloatingIPs {
			if fip.EndpointGroup == uri {
				uuids = append(uuids, uuid)
				break
			}
		}
	}
	sort.Strings(uuids)
	return uuids
}

// EndpointsBySecGroup returns UUIDs of endpoints attached to the group.
func (c *PolicyCache) EndpointsBySecGroup(uri string) (uuids []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for uuid, ep := range c.endpoints {
		for _, sg := range ep.SecurityGroups {
			if sg == uri {
				uuids = append(uuids, uuid)
				break
			}
		}
	}
	sort.Strings(uuids)
	return uuids
}

// EndpointsByInterface returns UUIDs of endpoints bound to the interface.
func (c *PolicyCache) EndpointsByInterface(ifName string) (uuids []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for uuid, ep := range c.endpoints {
		if ep.Interface == ifName {
			uuids = append(uuids, uuid)
		}
	}
	sort.Strings(uuids)
	return uuids
}

// GroupsByDomain returns URIs of groups affected by a change of the given
// bridge or routing domain.
func (c *PolicyCache) GroupsByDomain(class model.Class, uri string) (uris []string) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	bdURIs := make(map[string]struct{})
	switch class {
	case model.ClassBridgeDomain:
		bdURIs[uri] = struct{}{}
	case model.ClassRoutingDomain:
		for bdURI, bd := range c.bridgeDomains {
			if bd.RoutingDomain == uri {
				bdURIs[bdURI] = struct{}{}
			}
		}
	default:
		return nil
	}

	for groupURI, group := range c.groups {
		if _, affected := bdURIs[group.BridgeDomain]; affected {
			uris = append(uris, groupURI)
		}
	}
	sort.Strings(uris)
	return uris
}
