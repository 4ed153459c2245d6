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

package epgroup

import (
	"fmt"

	"github.com/gbpvpp/agent/plugins/idalloc"
	"github.com/gbpvpp/agent/plugins/policy/cache"
	"github.com/gbpvpp/agent/plugins/policy/model"
)

// ForwardingInfo is the resolved forwarding context of an endpoint group:
// the dataplane names and identifiers derived from the group's bridge and
// routing domains.
type ForwardingInfo struct {
	Vnid uint32

	BDURI  string
	BDID   uint32
	BDName string

	// BDVnid identifies the bridge domain in the overlay; flood tunnels
	// are keyed by it. Falls back to the group VNID when the policy model
	// does not assign one.
	BDVnid uint32

	RDURI  string
	VrfID  uint32
	RDVnid uint32

	BVIName string

	// MulticastIP is the effective flood group: the group's own override,
	// or the platform-wide one.
	MulticastIP string
}

// ResolveForwarding resolves the forwarding context of the group.
// It returns nil without error while a referenced domain is not known yet;
// rendering is postponed until the missing entity arrives.
func ResolveForwarding(reader cache.PolicyReader, ids idalloc.API,
	group *model.EndpointGroup) (*ForwardingInfo, error) {

	bd := reader.GetBridgeDomain(group.BridgeDomain)
	if bd == nil {
		return nil, nil
	}
	rd := reader.GetRoutingDomain(bd.RoutingDomain)
	if rd == nil {
		return nil, nil
	}

	bdID, err := ids.GetOrAllocateID(model.ClassBridgeDomain, bd.URI)
	if err != nil {
		return nil, err
	}
	vrfID, err := ids.GetOrAllocateID(model.ClassRoutingDomain, rd.URI)
	if err != nil {
		return nil, err
	}

	fwd := &ForwardingInfo{
		Vnid:        group.Vnid,
		BDURI:       bd.URI,
		BDID:        bdID,
		BDName:      fmt.Sprintf("bd-%d", bdID),
		BDVnid:      bd.Vnid,
		RDURI:       rd.URI,
		VrfID:       vrfID,
		RDVnid:      rd.Vnid,
		BVIName:     fmt.Sprintf("bvi-%d", bdID),
		MulticastIP: group.MulticastIP,
	}
	if fwd.BDVnid == 0 {
		fwd.BDVnid = group.Vnid
	}
	if fwd.MulticastIP == "" {
		if platform := reader.GetPlatformConfig(); platform != nil {
			fwd.MulticastIP = platform.MulticastIP
		}
	}
	return fwd, nil
}
