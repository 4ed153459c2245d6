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

// Package idalloc translates policy URIs into small numeric identifiers
// used to name dataplane objects (bridge domains, VRF tables). An URI keeps
// its identifier for the whole lifetime of the agent, so that re-created
// entities map back onto the same dataplane objects.
package idalloc

import (
	"math"
	"sync"

	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/pkg/errors"

	"github.com/gbpvpp/agent/plugins/policy/model"
)

// firstID is the lowest identifier handed out. Identifiers below it are
// reserved for statically configured objects.
const firstID = 100

// API defines methods provided by the IDAllocator plugin for use by the
// renderers to map policy URIs onto numeric dataplane identifiers.
type API interface {
	// GetOrAllocateID returns the ID allocated in the pool of the given
	// class for the given URI. If the ID was not already allocated,
	// allocates a new available ID.
	GetOrAllocateID(class model.Class, uri string) (id uint32, err error)

	// GetAllocatedID returns the existing allocation, without allocating.
	GetAllocatedID(class model.Class, uri string) (id uint32, found bool)

	// ReleaseID releases existing allocation for given class and URI.
	// NOOP if the allocation does not exist. Released identifiers are not
	// reused until the numeric space wraps around.
	ReleaseID(class model.Class, uri string)

	// Dump returns a copy of all allocation pools, for inspection.
	Dump() map[model.Class]map[string]uint32
}

// IDAllocator implements API with one in-memory pool per entity class.
type IDAllocator struct {
	Deps

	mu    sync.Mutex
	pools map[model.Class]*pool
}

// Deps lists dependencies of the IDAllocator plugin.
type Deps struct {
	infra.PluginDeps
	HTTPHandlers rest.HTTPHandlers // optional
}

type pool struct {
	ids  map[string]uint32
	next uint32
}

// Init allocates the pool map.
func (a *IDAllocator) Init() error {
	a.pools = make(map[model.Class]*pool)
	if a.HTTPHandlers != nil {
		a.registerHandlers()
	}
	return nil
}

// Close is NOOP.
func (a *IDAllocator) Close() error {
	return nil
}

// GetOrAllocateID returns the ID of the URI, allocating on first use.
func (a *IDAllocator) GetOrAllocateID(class model.Class, uri string) (uint32, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pools[class]
	if p == nil {
		p = &pool{ids: make(map[string]uint32), next: firstID}
		a.pools[class] = p
	}
	if id, found := p.ids[uri]; found {
		return id, nil
	}
	if p.next == math.MaxUint32 {
		return 0, errors.Errorf("identifier pool of class %q is exhausted", class)
	}
	id := p.next
	p.next++
	p.ids[uri] = id
	a.Log.Debugf("allocated ID %d for %s/%s", id, class, uri)
	return id, nil
}

// GetAllocatedID returns the existing allocation, without allocating.
func (a *IDAllocator) GetAllocatedID(class model.Class, uri string) (uint32, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := a.pools[class]
	if p == nil {
		return 0, false
	}
	id, found := p.ids[uri]
	return id, found
}

// ReleaseID releases existing allocation for given class and URI.
func (a *IDAllocator) ReleaseID(class model.Class, uri string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if p := a.pools[class]; p != nil {
		delete(p.ids, uri)
	}
}

// Dump returns a copy of all allocation pools.
func (a *IDAllocator) Dump() map[model.Class]map[string]uint32 {
	a.mu.Lock()
	defer a.mu.Unlock()

	dump := make(map[model.Class]map[string]uint32)
	for class, p := range a.pools {
		dump[class] = make(map[string]uint32, len(p.ids))
		for uri, id := range p.ids {
			dump[class][uri] = id
		}
	}
	return dump
}
