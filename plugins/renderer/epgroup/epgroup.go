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

// Package epgroup renders endpoint groups into their forwarding objects:
// a bridge domain, VRF tables, the virtual-router BVI and the encap link
// towards the fabric.
package epgroup

import (
	"fmt"

	"github.com/ligato/cn-infra/infra"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"
	vpp_nat "github.com/ligato/vpp-agent/api/models/vpp/nat"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/idalloc"
	"github.com/gbpvpp/agent/plugins/policy/cache"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/uplink"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

// uplinkSplitHorizonGroup prevents fabric-facing members of a bridge domain
// from flooding back into the fabric.
const uplinkSplitHorizonGroup = 1

// Renderer translates endpoint groups into desired dataplane state.
type Renderer struct {
	Deps
}

// Deps lists dependencies of the Renderer.
type Deps struct {
	infra.PluginDeps

	Cache    cache.PolicyReader
	IDAlloc  idalloc.API
	VPPState vppstate.API
	Uplink   uplink.API
	GBPConf  gbpconf.API
}

// Init is NOOP.
func (r *Renderer) Init() error {
	return nil
}

// Close is NOOP.
func (r *Renderer) Close() error {
	return nil
}

// String identifies the event handler.
func (r *Renderer) String() string {
	return "epgroup"
}

// HandlesEvent selects events that can change group forwarding.
func (r *Renderer) HandlesEvent(event controller.Event) bool {
	switch ev := event.(type) {
	case *controller.Resync:
		return true
	case *controller.DHCPLeaseAcquired:
		// tunnels can be sourced once the uplink has an address
		return true
	case *controller.PolicyUpdate:
		switch ev.Key.Class {
		case model.ClassEndpointGroup, model.ClassBridgeDomain,
			model.ClassRoutingDomain, model.ClassPlatformConfig:
			return true
		}
	}
	return false
}

// Update re-renders the groups affected by the event.
func (r *Renderer) Update(event controller.Event, txn controller.Transaction) (string, error) {
	switch ev := event.(type) {
	case *controller.Resync, *controller.DHCPLeaseAcquired:
		return r.renderGroups(r.Cache.ListEndpointGroups(), txn)

	case *controller.PolicyUpdate:
		switch ev.Key.Class {
		case model.ClassEndpointGroup:
			if err := r.renderGroup(ev.Key.URI, txn); err != nil {
				return "", err
			}
			return "render group " + ev.Key.URI, nil

		case model.ClassBridgeDomain, model.ClassRoutingDomain:
			return r.renderGroups(r.Cache.GroupsByDomain(ev.Key.Class, ev.Key.URI), txn)

		case model.ClassPlatformConfig:
			return r.renderGroups(r.Cache.ListEndpointGroups(), txn)
		}
	}
	return "", nil
}

func (r *Renderer) renderGroups(uris []string, txn controller.Transaction) (string, error) {
	for _, uri := range uris {
		if err := r.renderGroup(uri, txn); err != nil {
			return "", err
		}
	}
	if len(uris) == 0 {
		return "", nil
	}
	return fmt.Sprintf("re-render %d group(s)", len(uris)), nil
}

// renderGroup asserts all forwarding objects of one group. A group removed
// from the policy state, or one with unresolved forwarding, ends up with
// an empty scope and its previous objects are swept.
func (r *Renderer) renderGroup(uri string, txn controller.Transaction) error {
	owner := model.Key{Class: model.ClassEndpointGroup, URI: uri}
	scope := r.VPPState.BeginScope(owner, txn)
	defer scope.Close()

	group := r.Cache.GetEndpointGroup(uri)
	if group == nil {
		r.Log.Debugf("group %s removed, sweeping its state", uri)
		return nil
	}
	fwd, err := ResolveForwarding(r.Cache, r.IDAlloc, group)
	if err != nil {
		return controller.NewFatalError(err)
	}
	if fwd == nil {
		r.Log.Debugf("forwarding of group %s not resolved yet", uri)
		return nil
	}

	routerCfg := r.GBPConf.GetConfig().VirtualRouter

	// VRF tables of the routing domain
	for _, protocol := range []vpp_l3.VrfTable_Protocol{
		vpp_l3.VrfTable_IPV4, vpp_l3.VrfTable_IPV6,
	} {
		key, vrf := vrfTable(fwd.VrfID, protocol)
		scope.Assert(key, vrf)
	}

	// bridge domain, with the BVI member when routing is on
	key, bd := r.bridgeDomain(fwd, routerCfg.Enabled)
	scope.Assert(key, bd)

	if routerCfg.Enabled {
		// virtual-router BVI
		key, bvi := r.bviInterface(fwd, routerCfg.MAC)
		scope.Assert(key, bvi)

		// the BVI MAC must be a static L2FIB entry, learning is off
		key, fib := bviFIB(fwd, routerCfg.MAC)
		scope.Assert(key, fib)

		// the BVI is the inside edge of NAT
		scope.Assert(vpp_nat.GlobalNAT44Key(), &vpp_nat.Nat44Global{
			NatInterfaces: []*vpp_nat.Nat44Global_Interface{
				{Name: fwd.BVIName, IsInside: true},
			},
		})
	}

	// encap link towards the fabric
	mode := gbpmodel.ModeStitched
	encapName, err := r.Uplink.EncapLink(scope, fwd.Vnid, fwd.BDVnid, fwd.MulticastIP)
	if err != nil {
		// postponed until the uplink is ready; the group still forwards
		// locally in the meantime
		r.Log.Debugf("no encap link for group %s yet: %v", uri, err)
		encapName = ""
	} else {
		scope.Assert(vpp_l2.BridgeDomainKey(fwd.BDName), &vpp_l2.BridgeDomain{
			Name: fwd.BDName,
			Interfaces: []*vpp_l2.BridgeDomain_Interface{
				{Name: encapName, SplitHorizonGroup: uplinkSplitHorizonGroup},
			},
		})
	}
	if r.GBPConf.GetConfig().Encap.Mode == gbpconf.EncapModeVXLAN {
		mode = gbpmodel.ModeTransport
	}

	// policy binding of the group
	scope.Assert(gbpmodel.EndpointGroupKey(fwd.Vnid), &gbpmodel.EndpointGroup{
		Vnid:            fwd.Vnid,
		Mode:            mode,
		BridgeDomain:    fwd.BDName,
		VrfId:           fwd.VrfID,
		UplinkInterface: encapName,
		BdVnid:          fwd.BDVnid,
		RdVnid:          fwd.RDVnid,
	})

	// subnets of the group
	for _, subnet := range group.Subnets {
		r.renderSubnet(scope, fwd, subnet, routerCfg)
	}
	return nil
}

// renderSubnet asserts the objects of one group subnet: the subnet binding,
// and when the subnet carries a virtual-router address, the gateway address
// on the BVI with its ARP termination and the connected route.
func (r *Renderer) renderSubnet(scope vppstate.Scope, fwd *ForwardingInfo,
	subnet model.Subnet, routerCfg gbpconf.VirtualRouterConfig) {

	if subnet.Address == "" || subnet.PrefixLen == 0 {
		return
	}
	prefix := fmt.Sprintf("%s/%d", subnet.Address, subnet.PrefixLen)

	scope.Assert(gbpmodel.SubnetKey(fwd.VrfID, prefix), &gbpmodel.Subnet{
		VrfId:  fwd.VrfID,
		Prefix: prefix,
		Type:   gbpmodel.SubnetInternal,
	})

	if subnet.VirtualRouterIP == "" || !routerCfg.Enabled {
		return
	}

	// gateway address on the BVI
	scope.Assert(vpp_interfaces.InterfaceKey(fwd.BVIName), &vpp_interfaces.Interface{
		Name:        fwd.BVIName,
		IpAddresses: []string{fmt.Sprintf("%s/%d", subnet.VirtualRouterIP, subnet.PrefixLen)},
	})

	if routerCfg.Advertise {
		// the dataplane answers gateway ARP directly
		scope.Assert(vpp_l2.BridgeDomainKey(fwd.BDName), &vpp_l2.BridgeDomain{
			Name: fwd.BDName,
			ArpTerminationTable: []*vpp_l2.BridgeDomain_ArpTerminationEntry{
				{IpAddress: subnet.VirtualRouterIP, PhysAddress: routerCfg.MAC},
			},
		})
	}

	// connected route of the subnet
	route := &vpp_l3.Route{
		VrfId:             fwd.VrfID,
		DstNetwork:        prefix,
		OutgoingInterface: fwd.BVIName,
	}
	scope.Assert(vpp_l3.RouteKey(route.OutgoingInterface, route.VrfId, route.DstNetwork, route.NextHopAddr), route)
}

// bridgeDomain returns the base configuration of the group's bridge domain.
// MAC learning stays off: the L2FIB is programmed from policy.
func (r *Renderer) bridgeDomain(fwd *ForwardingInfo, withBVI bool) (key string, config *vpp_l2.BridgeDomain) {
	bd := &vpp_l2.BridgeDomain{
		Name:                fwd.BDName,
		Forward:             true,
		Flood:               true,
		UnknownUnicastFlood: true,
		ArpTermination:      true,
	}
	if withBVI {
		bd.Interfaces = []*vpp_l2.BridgeDomain_Interface{
			{Name: fwd.BVIName, BridgedVirtualInterface: true},
		}
	}
	return vpp_l2.BridgeDomainKey(bd.Name), bd
}

// bviInterface returns the base configuration of the virtual-router BVI.
func (r *Renderer) bviInterface(fwd *ForwardingInfo, routerMAC string) (key string, config *vpp_interfaces.Interface) {
	bvi := &vpp_interfaces.Interface{
		Name:        fwd.BVIName,
		Type:        vpp_interfaces.Interface_SOFTWARE_LOOPBACK,
		Enabled:     true,
		Vrf:         fwd.VrfID,
		PhysAddress: routerMAC,
	}
	return vpp_interfaces.InterfaceKey(bvi.Name), bvi
}

// bviFIB returns the static L2FIB entry of the BVI MAC.
func bviFIB(fwd *ForwardingInfo, routerMAC string) (key string, config *vpp_l2.FIBEntry) {
	fib := &vpp_l2.FIBEntry{
		BridgeDomain:            fwd.BDName,
		PhysAddress:             routerMAC,
		OutgoingInterface:       fwd.BVIName,
		StaticConfig:            true,
		BridgedVirtualInterface: true,
		Action:                  vpp_l2.FIBEntry_FORWARD,
	}
	return vpp_l2.FIBKey(fib.BridgeDomain, fib.PhysAddress), fib
}

// vrfTable returns one VRF table of the routing domain.
func vrfTable(vrfID uint32, protocol vpp_l3.VrfTable_Protocol) (key string, config *vpp_l3.VrfTable) {
	protocolStr := "IPv4"
	if protocol == vpp_l3.VrfTable_IPV6 {
		protocolStr = "IPv6"
	}
	vrf := &vpp_l3.VrfTable{
		Id:       vrfID,
		Protocol: protocol,
		Label:    fmt.Sprintf("vrf-%d-%s", vrfID, protocolStr),
	}
	return vpp_l3.VrfTableKey(vrf.Id, vrf.Protocol), vrf
}
