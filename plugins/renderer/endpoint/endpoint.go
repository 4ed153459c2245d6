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

// Package endpoint renders endpoints into their attachment objects:
// the workload interface bridged into the group's domain, the L2FIB and
// neighbor entries of its addresses, the compiled security ACLs and the
// NAT bindings of floating addresses.
package endpoint

import (
	"fmt"

	"github.com/ligato/cn-infra/infra"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"
	vpp_nat "github.com/ligato/vpp-agent/api/models/vpp/nat"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/idalloc"
	"github.com/gbpvpp/agent/plugins/policy/cache"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/renderer/epgroup"
	"github.com/gbpvpp/agent/plugins/renderer/secgroup"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

// Renderer translates endpoints into desired dataplane state.
type Renderer struct {
	Deps
}

// Deps lists dependencies of the Renderer.
type Deps struct {
	infra.PluginDeps

	Cache    cache.PolicyReader
	IDAlloc  idalloc.API
	VPPState vppstate.API
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
	return "endpoint"
}

// HandlesEvent selects events that can change endpoint attachment.
func (r *Renderer) HandlesEvent(event controller.Event) bool {
	switch ev := event.(type) {
	case *controller.Resync:
		return true
	case *controller.PortStatusChange:
		return true
	case *controller.PolicyUpdate:
		switch ev.Key.Class {
		case model.ClassEndpoint, model.ClassEndpointGroup,
			model.ClassSecurityGroup, model.ClassBridgeDomain,
			model.ClassRoutingDomain:
			return true
		}
	}
	return false
}

// Update re-renders the endpoints affected by the event.
func (r *Renderer) Update(event controller.Event, txn controller.Transaction) (string, error) {
	switch ev := event.(type) {
	case *controller.Resync:
		return r.renderEndpoints(r.Cache.ListEndpoints(), txn)

	case *controller.PortStatusChange:
		return r.renderEndpoints(r.Cache.EndpointsByInterface(ev.InterfaceName), txn)

	case *controller.PolicyUpdate:
		switch ev.Key.Class {
		case model.ClassEndpoint:
			if err := r.renderEndpoint(ev.Key.URI, txn); err != nil {
				return "", err
			}
			return "render endpoint " + ev.Key.URI, nil

		case model.ClassEndpointGroup:
			return r.renderEndpoints(r.Cache.EndpointsByGroup(ev.Key.URI), txn)

		case model.ClassSecurityGroup:
			return r.renderEndpoints(r.Cache.EndpointsBySecGroup(ev.Key.URI), txn)

		case model.ClassBridgeDomain, model.ClassRoutingDomain:
			return r.renderEndpoints(r.endpointsByDomain(ev.Key), txn)
		}
	}
	return "", nil
}

// endpointsByDomain returns endpoints of all groups forwarding through the
// given domain, deduplicated.
func (r *Renderer) endpointsByDomain(key model.Key) []string {
	seen := make(map[string]struct{})
	var uuids []string
	for _, groupURI := range r.Cache.GroupsByDomain(key.Class, key.URI) {
		for _, uuid := range r.Cache.EndpointsByGroup(groupURI) {
			if _, dup := seen[uuid]; !dup {
				uuids = append(uuids, uuid)
				seen[uuid] = struct{}{}
			}
		}
	}
	return uuids
}

func (r *Renderer) renderEndpoints(uuids []string, txn controller.Transaction) (string, error) {
	for _, uuid := range uuids {
		if err := r.renderEndpoint(uuid, txn); err != nil {
			return "", err
		}
	}
	if len(uuids) == 0 {
		return "", nil
	}
	return fmt.Sprintf("re-render %d endpoint(s)", len(uuids)), nil
}

// renderEndpoint asserts all attachment objects of one endpoint. A removed
// endpoint, or one whose group is not resolvable yet, ends up with an empty
// scope and its previous objects are swept.
func (r *Renderer) renderEndpoint(uuid string, txn controller.Transaction) error {
	owner := model.Key{Class: model.ClassEndpoint, URI: uuid}
	scope := r.VPPState.BeginScope(owner, txn)
	defer scope.Close()

	ep := r.Cache.GetEndpoint(uuid)
	if ep == nil {
		r.Log.Debugf("endpoint %s removed, sweeping its state", uuid)
		return nil
	}
	group := r.Cache.GetEndpointGroup(ep.EndpointGroup)
	if group == nil {
		r.Log.Debugf("group of endpoint %s not known yet", uuid)
		return nil
	}
	fwd, err := epgroup.ResolveForwarding(r.Cache, r.IDAlloc, group)
	if err != nil {
		return controller.NewFatalError(err)
	}
	if fwd == nil {
		r.Log.Debugf("forwarding of endpoint %s not resolved yet", uuid)
		return nil
	}

	itfName := r.renderInterface(scope, ep)

	// bridge the interface into the group's domain
	scope.Assert(vpp_l2.BridgeDomainKey(fwd.BDName), &vpp_l2.BridgeDomain{
		Name: fwd.BDName,
		Interfaces: []*vpp_l2.BridgeDomain_Interface{
			{Name: itfName},
		},
	})

	// static L2FIB entry of the endpoint MAC
	if ep.MAC != "" {
		fib := &vpp_l2.FIBEntry{
			BridgeDomain:      fwd.BDName,
			PhysAddress:       ep.MAC,
			OutgoingInterface: itfName,
			StaticConfig:      true,
			Action:            vpp_l2.FIBEntry_FORWARD,
		}
		scope.Assert(vpp_l2.FIBKey(fib.BridgeDomain, fib.PhysAddress), fib)
	}

	// neighbor entry and host route of every endpoint address
	for _, ip := range ep.IPs {
		r.renderAddress(scope, fwd, ep, ip)
	}

	// policy binding of the endpoint
	scope.Assert(gbpmodel.EndpointKey(ep.UUID), &gbpmodel.Endpoint{
		Name:        ep.UUID,
		Interface:   itfName,
		PhysAddress: ep.MAC,
		IpAddresses: append([]string(nil), ep.IPs...),
		Vnid:        fwd.Vnid,
	})

	// compiled security policy
	r.renderSecurity(scope, ep, itfName)

	// NAT bindings of floating addresses
	for _, fip := range ep.FloatingIPs {
		r.renderFloatingIP(scope, fwd, ep, fip)
	}
	return nil
}

// renderInterface asserts the workload interface, with a VLAN sub-interface
// on top for trunk attachments, and returns the interface to bridge.
func (r *Renderer) renderInterface(scope vppstate.Scope, ep *model.Endpoint) string {
	parent := &vpp_interfaces.Interface{
		Name:    ep.Interface,
		Type:    vpp_interfaces.Interface_AF_PACKET,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Afpacket{
			Afpacket: &vpp_interfaces.AfpacketLink{
				HostIfName: ep.Interface,
			},
		},
	}
	scope.Assert(vpp_interfaces.InterfaceKey(parent.Name), parent)
	if ep.AccessVLAN == 0 {
		return parent.Name
	}

	subIf := &vpp_interfaces.Interface{
		Name:    fmt.Sprintf("%s.%d", ep.Interface, ep.AccessVLAN),
		Type:    vpp_interfaces.Interface_SUB_INTERFACE,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Sub{
			Sub: &vpp_interfaces.SubInterface{
				ParentName:  ep.Interface,
				SubId:       ep.AccessVLAN,
				TagRwOption: vpp_interfaces.SubInterface_POP1,
			},
		},
	}
	scope.Assert(vpp_interfaces.InterfaceKey(subIf.Name), subIf)
	return subIf.Name
}

// renderAddress asserts the neighbor entry and the host route of one
// endpoint address. Both sit on the group's BVI, which routes traffic of
// other groups towards the endpoint.
func (r *Renderer) renderAddress(scope vppstate.Scope, fwd *epgroup.ForwardingInfo,
	ep *model.Endpoint, ip string) {

	if ep.MAC != "" {
		arp := &vpp_l3.ARPEntry{
			Interface:   fwd.BVIName,
			IpAddress:   ip,
			PhysAddress: ep.MAC,
			Static:      true,
		}
		scope.Assert(vpp_l3.ArpEntryKey(arp.Interface, arp.IpAddress), arp)
	}

	route := &vpp_l3.Route{
		VrfId:             fwd.VrfID,
		DstNetwork:        hostPrefix(ip),
		NextHopAddr:       ip,
		OutgoingInterface: fwd.BVIName,
	}
	scope.Assert(vpp_l3.RouteKey(route.OutgoingInterface, route.VrfId, route.DstNetwork, route.NextHopAddr), route)
}

// renderSecurity compiles the endpoint's security groups and asserts the
// resulting ACLs and the ethertype whitelist.
func (r *Renderer) renderSecurity(scope vppstate.Scope, ep *model.Endpoint, itfName string) {
	if len(ep.SecurityGroups) == 0 {
		return
	}
	var groups []*model.SecurityGroup
	for _, uri := range ep.SecurityGroups {
		if group := r.Cache.GetSecurityGroup(uri); group != nil {
			groups = append(groups, group)
		} else {
			r.Log.Debugf("security group %s of endpoint %s not known yet", uri, ep.UUID)
		}
	}
	if len(groups) == 0 {
		return
	}
	compiled := secgroup.Compile(groups)

	key, whitelist := compiled.EthertypeWhitelist(itfName)
	scope.Assert(key, whitelist)
	key, inACL := compiled.InACL(itfName)
	scope.Assert(key, inACL)
	key, outACL := compiled.OutACL(itfName)
	scope.Assert(key, outACL)
}

// renderFloatingIP asserts the NAT binding of one floating address:
// the static translation, the presence of the floating address in the
// target group's domain and the recirculation hop through which translated
// traffic re-enters classification in the endpoint's group.
func (r *Renderer) renderFloatingIP(scope vppstate.Scope, fwd *epgroup.ForwardingInfo,
	ep *model.Endpoint, fip model.FloatingIP) {

	if fip.IP == "" || fip.MappedIP == "" {
		return
	}
	natGroup := r.Cache.GetEndpointGroup(fip.EndpointGroup)
	if natGroup == nil {
		r.Log.Debugf("NAT group of floating IP %s not known yet", fip.UUID)
		return
	}
	natFwd, err := epgroup.ResolveForwarding(r.Cache, r.IDAlloc, natGroup)
	if err != nil || natFwd == nil {
		r.Log.Debugf("forwarding of NAT group %s not resolved yet", fip.EndpointGroup)
		return
	}

	// static one-to-one translation
	dnat := &vpp_nat.DNat44{
		Label: "fip-" + fip.UUID,
		StMappings: []*vpp_nat.DNat44_StaticMapping{
			{
				ExternalIp: fip.IP,
				LocalIps: []*vpp_nat.DNat44_StaticMapping_LocalIP{
					{LocalIp: fip.MappedIP},
				},
			},
		},
	}
	scope.Assert(vpp_nat.DNAT44Key(dnat.Label), dnat)

	// the floating address answers in the NAT group's domain
	scope.Assert(vpp_l2.BridgeDomainKey(natFwd.BDName), &vpp_l2.BridgeDomain{
		Name: natFwd.BDName,
		ArpTerminationTable: []*vpp_l2.BridgeDomain_ArpTerminationEntry{
			{IpAddress: fip.IP, PhysAddress: ep.MAC},
		},
	})
	arp := &vpp_l3.ARPEntry{
		Interface:   natFwd.BVIName,
		IpAddress:   fip.IP,
		PhysAddress: ep.MAC,
		Static:      true,
	}
	scope.Assert(vpp_l3.ArpEntryKey(arp.Interface, arp.IpAddress), arp)

	route := &vpp_l3.Route{
		VrfId:             natFwd.VrfID,
		DstNetwork:        hostPrefix(fip.IP),
		NextHopAddr:       fip.IP,
		OutgoingInterface: natFwd.BVIName,
	}
	scope.Assert(vpp_l3.RouteKey(route.OutgoingInterface, route.VrfId, route.DstNetwork, route.NextHopAddr), route)

	// recirculation hop back into the endpoint's group
	recircName := fmt.Sprintf("recirc-%d", fwd.Vnid)
	scope.Assert(vpp_interfaces.InterfaceKey(recircName), &vpp_interfaces.Interface{
		Name:    recircName,
		Type:    vpp_interfaces.Interface_SOFTWARE_LOOPBACK,
		Enabled: true,
		Vrf:     fwd.VrfID,
	})
	scope.Assert(vpp_nat.GlobalNAT44Key(), &vpp_nat.Nat44Global{
		NatInterfaces: []*vpp_nat.Nat44Global_Interface{
			{Name: recircName, IsInside: false},
		},
	})
	scope.Assert(vpp_l2.BridgeDomainKey(fwd.BDName), &vpp_l2.BridgeDomain{
		Name: fwd.BDName,
		Interfaces: []*vpp_l2.BridgeDomain_Interface{
			{Name: recircName},
		},
	})
	scope.Assert(gbpmodel.RecircKey(recircName), &gbpmodel.Recirc{
		Interface: recircName,
		Vnid:      fwd.Vnid,
		Type:      gbpmodel.RecircInternal,
	})

	// translated frames of the endpoint reach it through the recirc hop
	fib := &vpp_l2.FIBEntry{
		BridgeDomain:      natFwd.BDName,
		PhysAddress:       ep.MAC,
		OutgoingInterface: recircName,
		StaticConfig:      true,
		Action:            vpp_l2.FIBEntry_FORWARD,
	}
	scope.Assert(vpp_l2.FIBKey(fib.BridgeDomain, fib.PhysAddress), fib)
}

// hostPrefix returns the single-address prefix of the given IP.
func hostPrefix(ip string) string {
	if isIPv6(ip) {
		return ip + "/128"
	}
	return ip + "/32"
}

func isIPv6(ip string) bool {
	for i := 0; i < len(ip); i++ {
		if ip[i] == ':' {
			return true
		}
	}
	return false
}
