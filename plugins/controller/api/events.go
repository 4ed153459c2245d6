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

package api

import (
	"fmt"

	"github.com/gbpvpp/agent/plugins/policy/model"
)

// Resync is pushed once after startup and whenever the desired state has to
// be rebuilt from scratch. Handlers re-render everything they own.
type Resync struct {
}

// GetName returns a name of the event type.
func (ev *Resync) GetName() string {
	return "Resync"
}

// String describes the event instance.
func (ev *Resync) String() string {
	return ev.GetName()
}

// PolicyUpdate is pushed by the policy cache for every created, changed or
// removed policy entity.
type PolicyUpdate struct {
	Key model.Key
}

// GetName returns a name of the event type.
func (ev *PolicyUpdate) GetName() string {
	return "PolicyUpdate"
}

// String describes the event instance.
func (ev *PolicyUpdate) String() string {
	return fmt.Sprintf("PolicyUpdate %v", ev.Key)
}

// DHCPLeaseAcquired is pushed when the uplink obtains or renews its address
// over DHCP. The notification arrives from the dataplane agent asynchronously
// and is re-dispatched through the event queue so that the reaction runs
// serialized with policy updates.
type DHCPLeaseAcquired struct {
	InterfaceName string
	HostIPAddress string // in <IP>/<prefix-len> form
	RouterIP      string
}

// GetName returns a name of the event type.
func (ev *DHCPLeaseAcquired) GetName() string {
	return "DHCPLeaseAcquired"
}

// String describes the event instance.
func (ev *DHCPLeaseAcquired) String() string {
	return fmt.Sprintf("DHCPLeaseAcquired itf=%s addr=%s router=%s",
		ev.InterfaceName, ev.HostIPAddress, ev.RouterIP)
}

// PortStatusChange is pushed when the operational link state of an endpoint
// interface changes.
type PortStatusChange struct {
	InterfaceName string
	Up            bool
}

// GetName returns a name of the event type.
func (ev *PortStatusChange) GetName() string {
	return "PortStatusChange"
}

// String describes the event instance.
func (ev *PortStatusChange) String() string {
	state := "down"
	if ev.Up {
		state = "up"
	}
	return fmt.Sprintf("PortStatusChange itf=%s state=%s", ev.InterfaceName, state)
}

// PeerStatusChange is pushed when connectivity to the policy feed flips.
// Losing all peers freezes sweeping until the feed converges again.
type PeerStatusChange struct {
	Peer      string
	Connected bool
}

// GetName returns a name of the event type.
func (ev *PeerStatusChange) GetName() string {
	return "PeerStatusChange"
}

// String describes the event instance.
func (ev *PeerStatusChange) String() string {
	state := "disconnected"
	if ev.Connected {
		state = "connected"
	}
	return fmt.Sprintf("PeerStatusChange peer=%s state=%s", ev.Peer, state)
}

// Shutdown is pushed to cleanly terminate the event loop.
type Shutdown struct {
}

// GetName returns a name of the event type.
func (ev *Shutdown) GetName() string {
	return "Shutdown"
}

// String describes the event instance.
func (ev *Shutdown) String() string {
	return ev.GetName()
}
