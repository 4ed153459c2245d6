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

// Package peersync reacts to connectivity changes of the policy source.
// While the peer is down the dataplane keeps the last known good state,
// so the sweep phase of the reconciler is frozen. A reconnected peer
// replays its policy, after which a full resync removes whatever became
// stale during the outage.
package peersync

import (
	"github.com/ligato/cn-infra/infra"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

// PeerSync freezes and thaws the reconciler sweep on peer connectivity
// changes.
type PeerSync struct {
	Deps

	connected bool
}

// Deps lists dependencies of PeerSync.
type Deps struct {
	infra.PluginDeps

	VPPState  vppstate.API
	EventLoop controller.EventLoop
}

// Init assumes a healthy policy feed until told otherwise, so that the
// very first disconnect is not mistaken for a duplicate.
func (p *PeerSync) Init() error {
	p.connected = true
	return nil
}

// Close is NOOP.
func (p *PeerSync) Close() error {
	return nil
}

// String identifies the event handler.
func (p *PeerSync) String() string {
	return "peersync"
}

// HandlesEvent selects peer connectivity changes.
func (p *PeerSync) HandlesEvent(event controller.Event) bool {
	_, isPeerStatus := event.(*controller.PeerStatusChange)
	return isPeerStatus
}

// Update freezes the sweep when the peer disconnects and schedules a full
// resync when it comes back.
func (p *PeerSync) Update(event controller.Event, txn controller.Transaction) (string, error) {
	ev, isPeerStatus := event.(*controller.PeerStatusChange)
	if !isPeerStatus {
		return "", nil
	}
	if ev.Connected == p.connected {
		return "", nil
	}
	p.connected = ev.Connected

	if !ev.Connected {
		p.Log.Warnf("peer %s disconnected, freezing removal of dataplane state", ev.Peer)
		p.VPPState.SetSweepFrozen(true)
		return "freeze sweeping (peer down)", nil
	}

	p.Log.Infof("peer %s connected, scheduling full resync", ev.Peer)
	p.VPPState.SetSweepFrozen(false)
	if err := p.EventLoop.PushEvent(&controller.Resync{}); err != nil {
		p.Log.Errorf("failed to schedule resync: %v", err)
	}
	return "thaw sweeping (peer up)", nil
}
