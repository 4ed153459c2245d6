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

package uplink

import (
	"fmt"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

const (
	// uplinkTapName is the logical name of the tap punting uplink control
	// traffic into the host.
	uplinkTapName = "tap-uplink"

	// defaultRouteV4 matches all IPv4 traffic.
	defaultRouteV4 = "0.0.0.0/0"
)

// render asserts all uplink objects for the current state.
func (u *Uplink) render(txn controller.UpdateOperations) {
	scope := u.VPPState.BeginScope(uplinkOwner, txn)
	defer scope.Close()

	// uplink port, optionally bonded from slave ports
	key, uplinkIf := u.uplinkInterface()
	scope.Assert(key, uplinkIf)
	for _, member := range u.config.UplinkSlaves {
		key, memberIf := physicalInterface(member, 0)
		scope.Assert(key, memberIf)
	}

	// VRF tables hosting the uplink routes
	for _, protocol := range []vpp_l3.VrfTable_Protocol{
		vpp_l3.VrfTable_IPV4, vpp_l3.VrfTable_IPV6,
	} {
		protocolStr := "IPv4"
		if protocol == vpp_l3.VrfTable_IPV6 {
			protocolStr = "IPv6"
		}
		vrf := &vpp_l3.VrfTable{
			Protocol: protocol,
			Label:    fmt.Sprintf("uplink-%s", protocolStr),
		}
		scope.Assert(vpp_l3.VrfTableKey(vrf.Id, vrf.Protocol), vrf)
	}

	// control sub-interface leasing the uplink address
	if u.config.ControlVLAN != 0 {
		key, ctrlIf := u.controlSubIf()
		scope.Assert(key, ctrlIf)
	}

	// LLDP on the uplink
	scope.Assert(gbpmodel.LLDPKey, &gbpmodel.LLDP{
		SystemName: u.systemName(),
		Interfaces: []string{u.config.UplinkInterface},
	})

	// statically configured cross-connects
	for _, xconn := range u.config.CrossConnects {
		u.renderCrossConnect(scope, xconn)
	}

	// the rest needs the leased address
	if u.lease == nil {
		return
	}

	key, tap := u.uplinkTap()
	scope.Assert(key, tap)

	key, proxyARP := u.uplinkProxyARP()
	scope.Assert(key, proxyARP)

	if u.lease.routerIP != nil {
		key, route := u.defaultRoute()
		scope.Assert(key, route)
	}
}

// uplinkInterface returns configuration for the uplink port. With member
// ports configured the uplink is a LACP bond enslaving them.
func (u *Uplink) uplinkInterface() (key string, config *vpp_interfaces.Interface) {
	var iface *vpp_interfaces.Interface
	if len(u.config.UplinkSlaves) > 0 {
		var members []*vpp_interfaces.BondLink_BondedInterface
		for _, member := range u.config.UplinkSlaves {
			members = append(members, &vpp_interfaces.BondLink_BondedInterface{
				Name: member,
			})
		}
		iface = &vpp_interfaces.Interface{
			Name:    u.config.UplinkInterface,
			Type:    vpp_interfaces.Interface_BOND_INTERFACE,
			Enabled: true,
			Link: &vpp_interfaces.Interface_Bond{
				Bond: &vpp_interfaces.BondLink{
					Mode:             vpp_interfaces.BondLink_LACP,
					BondedInterfaces: members,
				},
			},
		}
		key = vpp_interfaces.InterfaceKey(iface.Name)
	} else {
		key, iface = physicalInterface(u.config.UplinkInterface, 0)
	}
	if u.config.ControlVLAN == 0 {
		iface.SetDhcpClient = true
	}
	return key, iface
}

// controlSubIf returns configuration for the control VLAN sub-interface.
func (u *Uplink) controlSubIf() (key string, config *vpp_interfaces.Interface) {
	iface := &vpp_interfaces.Interface{
		Name:    subInterfaceName(u.config.UplinkInterface, u.config.ControlVLAN),
		Type:    vpp_interfaces.Interface_SUB_INTERFACE,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Sub{
			Sub: &vpp_interfaces.SubInterface{
				ParentName: u.config.UplinkInterface,
				SubId:      u.config.ControlVLAN,
			},
		},
		SetDhcpClient: true,
	}
	return vpp_interfaces.InterfaceKey(iface.Name), iface
}

// uplinkTap returns configuration for the host punt tap. The tap shares
// the leased address with the control interface.
func (u *Uplink) uplinkTap() (key string, config *vpp_interfaces.Interface) {
	tap := &vpp_interfaces.Interface{
		Name:    uplinkTapName,
		Type:    vpp_interfaces.Interface_TAP,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Tap{
			Tap: &vpp_interfaces.TapLink{},
		},
		Unnumbered: &vpp_interfaces.Interface_Unnumbered{
			InterfaceWithIp: u.ControlInterfaceName(),
		},
	}
	return vpp_interfaces.InterfaceKey(tap.Name), tap
}

// uplinkProxyARP makes the dataplane answer ARP for the whole leased prefix
// on the host punt tap.
func (u *Uplink) uplinkProxyARP() (key string, config *vpp_l3.ProxyARP) {
	first, last := cidr.AddressRange(u.lease.hostNet)
	proxyARP := &vpp_l3.ProxyARP{
		Interfaces: []*vpp_l3.ProxyARP_Interface{
			{Name: uplinkTapName},
		},
		Ranges: []*vpp_l3.ProxyARP_Range{
			{FirstIpAddr: first.String(), LastIpAddr: last.String()},
		},
	}
	return vpp_l3.ProxyARPKey(), proxyARP
}

// defaultRoute returns the default route via the DHCP-announced router.
func (u *Uplink) defaultRoute() (key string, config *vpp_l3.Route) {
	route := &vpp_l3.Route{
		DstNetwork:        defaultRouteV4,
		NextHopAddr:       u.lease.routerIP.String(),
		OutgoingInterface: u.ControlInterfaceName(),
	}
	key = vpp_l3.RouteKey(route.OutgoingInterface, route.VrfId, route.DstNetwork, route.NextHopAddr)
	return key, route
}

// encapVLANSubIf returns configuration for the stitched encap link of a
// group. The VLAN tag is popped on ingress so that frames enter the bridge
// domain untagged.
func (u *Uplink) encapVLANSubIf(vnid uint32) (key string, config *vpp_interfaces.Interface) {
	iface := &vpp_interfaces.Interface{
		Name:    subInterfaceName(u.config.UplinkInterface, vnid),
		Type:    vpp_interfaces.Interface_SUB_INTERFACE,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Sub{
			Sub: &vpp_interfaces.SubInterface{
				ParentName:  u.config.UplinkInterface,
				SubId:       vnid,
				TagRwOption: vpp_interfaces.SubInterface_POP1,
			},
		},
	}
	return vpp_interfaces.InterfaceKey(iface.Name), iface
}

// encapVxlanTunnel returns configuration for the flood tunnel of a bridge
// domain.
func (u *Uplink) encapVxlanTunnel(bdVnid uint32, mcastIP string) (key string, config *vpp_interfaces.Interface) {
	vxlan := &vpp_interfaces.Interface{
		Name:    fmt.Sprintf("vxlan-mc-%d", bdVnid),
		Type:    vpp_interfaces.Interface_VXLAN_TUNNEL,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Vxlan{
			Vxlan: &vpp_interfaces.VxlanLink{
				SrcAddress: u.lease.hostAddr.String(),
				DstAddress: mcastIP,
				Vni:        bdVnid,
			},
		},
	}
	return vpp_interfaces.InterfaceKey(vxlan.Name), vxlan
}

// renderCrossConnect asserts one static cross-connect: both legs and
// the xconnect pairs in both directions.
func (u *Uplink) renderCrossConnect(scope vppstate.Scope, xconn gbpconf.CrossConnectConfig) {
	east := u.renderCrossConnectSide(scope, xconn.East)
	west := u.renderCrossConnectSide(scope, xconn.West)

	scope.Assert(vpp_l2.XConnectKey(east), &vpp_l2.XConnectPair{
		ReceiveInterface:  east,
		TransmitInterface: west,
	})
	scope.Assert(vpp_l2.XConnectKey(west), &vpp_l2.XConnectPair{
		ReceiveInterface:  west,
		TransmitInterface: east,
	})
}

// renderCrossConnectSide asserts the interfaces of one cross-connect leg
// and returns the name of the interface to patch.
func (u *Uplink) renderCrossConnectSide(scope vppstate.Scope, side gbpconf.CrossConnectSide) string {
	key, iface := physicalInterface(side.Interface, 0)
	scope.Assert(key, iface)
	if side.VLAN == 0 {
		return iface.Name
	}
	subIf := &vpp_interfaces.Interface{
		Name:    subInterfaceName(side.Interface, side.VLAN),
		Type:    vpp_interfaces.Interface_SUB_INTERFACE,
		Enabled: true,
		Link: &vpp_interfaces.Interface_Sub{
			Sub: &vpp_interfaces.SubInterface{
				ParentName: side.Interface,
				SubId:      side.VLAN,
			},
		},
	}
	scope.Assert(vpp_interfaces.InterfaceKey(subIf.Name), subIf)
	return subIf.Name
}

// physicalInterface returns configuration for a port, with the dataplane
// interface type guessed from its name.
func physicalInterface(name string, vrf uint32) (key string, config *vpp_interfaces.Interface) {
	iface := &vpp_interfaces.Interface{
		Name:    name,
		Type:    interfaceTypeByName(name),
		Enabled: true,
		Vrf:     vrf,
	}
	if iface.Type == vpp_interfaces.Interface_AF_PACKET {
		iface.Link = &vpp_interfaces.Interface_Afpacket{
			Afpacket: &vpp_interfaces.AfpacketLink{
				HostIfName: name,
			},
		}
	}
	return vpp_interfaces.InterfaceKey(name), iface
}

// interfaceTypeByName guesses the dataplane interface type from the
// interface name.
func interfaceTypeByName(name string) vpp_interfaces.Interface_Type {
	switch {
	case strings.HasPrefix(name, "tap"):
		return vpp_interfaces.Interface_TAP
	case strings.Contains(name, "Ethernet"):
		// GigabitEthernet*, TenGigabitEthernet*, BondEthernet*
		return vpp_interfaces.Interface_DPDK
	default:
		return vpp_interfaces.Interface_AF_PACKET
	}
}

// subInterfaceName returns logical name for a VLAN sub-interface.
func subInterfaceName(parentIfName string, vlan uint32) string {
	return fmt.Sprintf("%s.%d", parentIfName, vlan)
}
