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

// Package vppstate keeps the desired dataplane state assembled from the
// renderers. Each renderer asserts the objects implied by one policy entity
// (the owner) inside a scope; when the scope closes, objects the owner no
// longer asserts are swept. Objects asserted by multiple owners (bridge
// domains, the global NAT configuration) are kept as per-owner fragments
// and merged deterministically, so they disappear only with their last
// owner.
package vppstate

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gogo/protobuf/proto"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/stats"
)

// API is the access to the desired-state arena used by the renderers.
type API interface {
	// BeginScope opens an assertion scope of the given owner. All objects
	// previously asserted by the owner and not re-asserted before Close
	// are swept.
	BeginScope(owner model.Key, txn controller.UpdateOperations) Scope

	// Resync re-puts every merged object into the given transaction.
	Resync(txn controller.UpdateOperations)

	// SetSweepFrozen enables or disables sweeping. With sweeping frozen,
	// closing a scope updates and adds objects but removes nothing. Used
	// while the policy feed is disconnected and its state cannot be
	// trusted to be complete.
	SetSweepFrozen(frozen bool)

	// ObjectCount returns the number of desired-state objects.
	ObjectCount() int

	// Dump returns a copy of the merged desired state.
	Dump() controller.KeyValuePairs

	// Owners returns, for every owner, the keys it currently asserts.
	Owners() map[string][]string
}

// Scope collects assertions of one owner for one event.
type Scope interface {
	// Assert declares that the owner requires the object under the given
	// key to exist with (at least) the given value. Repeated assertions
	// of one key within a scope are merged.
	Assert(key string, value proto.Message)

	// Close merges the assertions into the arena, emits the resulting
	// puts and deletes into the scope's transaction and ends the scope.
	Close()
}

// VppState implements API.
type VppState struct {
	Deps

	mu sync.Mutex

	// key -> per-owner fragments + their merge
	objects map[string]*objectState

	// owner -> keys asserted by the owner, in assertion order
	ownerKeys map[string][]string

	sweepFrozen bool
}

// Deps lists dependencies of the VppState plugin.
type Deps struct {
	infra.PluginDeps
	Stats        *stats.Plugin     // optional
	HTTPHandlers rest.HTTPHandlers // optional
}

type objectState struct {
	merged    proto.Message
	fragments map[string]proto.Message // owner -> fragment
}

type assertion struct {
	key   string
	value proto.Message
}

type scope struct {
	state    *VppState
	owner    string
	txn      controller.UpdateOperations
	asserted []assertion
	index    map[string]int // key -> position in asserted
	closed   bool
}

// Init allocates the arena.
func (s *VppState) Init() error {
	s.objects = make(map[string]*objectState)
	s.ownerKeys = make(map[string][]string)
	if s.HTTPHandlers != nil {
		s.registerHandlers()
	}
	return nil
}

// Close is NOOP.
func (s *VppState) Close() error {
	return nil
}

// BeginScope opens an assertion scope of the given owner.
func (s *VppState) BeginScope(owner model.Key, txn controller.UpdateOperations) Scope {
	return &scope{
		state: s,
		owner: owner.String(),
		txn:   txn,
		index: make(map[string]int),
	}
}

// SetSweepFrozen enables or disables sweeping.
func (s *VppState) SetSweepFrozen(frozen bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sweepFrozen != frozen {
		s.Log.Infof("sweeping frozen: %t", frozen)
	}
	s.sweepFrozen = frozen
}

// Resync re-puts every merged object into the given transaction.
func (s *VppState) Resync(txn controller.UpdateOperations) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, key := range s.sortedKeys() {
		txn.Put(key, s.objects[key].merged)
	}
}

// String identifies the event handler.
func (s *VppState) String() string {
	return "vppstate"
}

// HandlesEvent selects resync events.
func (s *VppState) HandlesEvent(event controller.Event) bool {
	_, isResync := event.(*controller.Resync)
	return isResync
}

// Update republishes the whole arena into the resync transaction.
// A resync commit describes the complete desired state, so the puts that
// the renderers' scopes suppressed as unchanged must be restored here.
// Runs after the renderers re-asserted their state.
func (s *VppState) Update(event controller.Event, txn controller.Transaction) (string, error) {
	s.Resync(txn)
	return fmt.Sprintf("republish %d object(s)", s.ObjectCount()), nil
}

// ObjectCount returns the number of desired-state objects.
func (s *VppState) ObjectCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

// Dump returns a copy of the merged desired state.
func (s *VppState) Dump() controller.KeyValuePairs {
	s.mu.Lock()
	defer s.mu.Unlock()
	dump := make(controller.KeyValuePairs, len(s.objects))
	for key, obj := range s.objects {
		dump[key] = proto.Clone(obj.merged)
	}
	return dump
}

// Owners returns, for every owner, the keys it currently asserts.
func (s *VppState) Owners() map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	owners := make(map[string][]string, len(s.ownerKeys))
	for owner, keys := range s.ownerKeys {
		owners[owner] = append([]string(nil), keys...)
	}
	return owners
}

func (s *VppState) sortedKeys() (keys []string) {
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Assert declares one object required by the scope's owner.
func (sc *scope) Assert(key string, value proto.Message) {
	if sc.closed {
		sc.state.Log.WithField("key", key).Warn("assertion into a closed scope")
		return
	}
	if value == nil {
		panic("asserted nil value for key '" + key + "'")
	}
	if pos, repeated := sc.index[key]; repeated {
		sc.asserted[pos].value = mergeValues(sc.asserted[pos].value, value)
		return
	}
	sc.index[key] = len(sc.asserted)
	sc.asserted = append(sc.asserted, assertion{key: key, value: value})
}

// Close merges the assertions into the arena and ends the scope.
func (sc *scope) Close() {
	if sc.closed {
		return
	}
	sc.closed = true

	s := sc.state
	s.mu.Lock()
	defer s.mu.Unlock()

	var assertedCount, sweptCount int
	prevKeys := s.ownerKeys[sc.owner]

	// phase 1: apply the asserted fragments
	for _, a := range sc.asserted {
		obj := s.objects[a.key]
		if obj == nil {
			obj = &objectState{fragments: make(map[string]proto.Message)}
			s.objects[a.key] = obj
		}
		obj.fragments[sc.owner] = a.value
		merged := mergeFragments(obj.fragments)
		if obj.merged == nil || !proto.Equal(obj.merged, merged) {
			obj.merged = merged
			sc.txn.Put(a.key, merged)
			assertedCount++
		}
	}

	// phase 2: sweep objects the owner no longer asserts, in reverse
	// assertion order so that dependent objects go before their parents
	if !s.sweepFrozen {
		for i := len(prevKeys) - 1; i >= 0; i-- {
			key := prevKeys[i]
			if _, stillAsserted := sc.index[key]; stillAsserted {
				continue
			}
			obj := s.objects[key]
			if obj == nil {
				continue
			}
			delete(obj.fragments, sc.owner)
			if len(obj.fragments) == 0 {
				delete(s.objects, key)
				sc.txn.Delete(key)
				sweptCount++
				continue
			}
			merged := mergeFragments(obj.fragments)
			if !proto.Equal(obj.merged, merged) {
				obj.merged = merged
				sc.txn.Put(key, merged)
			}
		}
		s.ownerKeys[sc.owner] = sc.assertedKeys()
		if len(s.ownerKeys[sc.owner]) == 0 {
			delete(s.ownerKeys, sc.owner)
		}
	} else {
		// keep the old assertions around until sweeping is allowed again
		union := sc.assertedKeys()
		for _, key := range prevKeys {
			if _, reasserted := sc.index[key]; !reasserted {
				union = append(union, key)
			}
		}
		s.ownerKeys[sc.owner] = union
	}

	s.Stats.ObjectsAsserted(assertedCount)
	s.Stats.ObjectsSwept(sweptCount)
	s.Stats.SetObjectCount(len(s.objects))
}

func (sc *scope) assertedKeys() (keys []string) {
	for _, a := range sc.asserted {
		keys = append(keys, a.key)
	}
	return keys
}
