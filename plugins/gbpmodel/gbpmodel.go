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

// Package gbpmodel defines desired-state objects specific to group-based
// policy forwarding, configured alongside the generic dataplane models
// (interfaces, bridge domains, routes).
package gbpmodel

import (
	"github.com/gogo/protobuf/proto"
)

// Forwarding modes of an endpoint group.
const (
	// ModeTransport floods unknown traffic over a multicast VXLAN tunnel.
	ModeTransport = "transport"

	// ModeStitched forwards group traffic over a dedicated uplink
	// encap link.
	ModeStitched = "stitched"
)

// EndpointGroup binds a policy group VNID to its forwarding objects.
// BdVnid and RdVnid identify the group's domains in the overlay.
type EndpointGroup struct {
	Vnid            uint32 `protobuf:"varint,1,opt,name=vnid,proto3" json:"vnid,omitempty"`
	Mode            string `protobuf:"bytes,2,opt,name=mode,proto3" json:"mode,omitempty"`
	BridgeDomain    string `protobuf:"bytes,3,opt,name=bridge_domain,json=bridgeDomain,proto3" json:"bridge_domain,omitempty"`
	VrfId           uint32 `protobuf:"varint,4,opt,name=vrf_id,json=vrfId,proto3" json:"vrf_id,omitempty"`
	UplinkInterface string `protobuf:"bytes,5,opt,name=uplink_interface,json=uplinkInterface,proto3" json:"uplink_interface,omitempty"`
	BdVnid          uint32 `protobuf:"varint,6,opt,name=bd_vnid,json=bdVnid,proto3" json:"bd_vnid,omitempty"`
	RdVnid          uint32 `protobuf:"varint,7,opt,name=rd_vnid,json=rdVnid,proto3" json:"rd_vnid,omitempty"`
}

// Reset implements proto.Message.
func (m *EndpointGroup) Reset() { *m = EndpointGroup{} }

// String implements proto.Message.
func (m *EndpointGroup) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*EndpointGroup) ProtoMessage() {}

// Endpoint binds a workload interface to its policy group.
type Endpoint struct {
	Name        string   `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Interface   string   `protobuf:"bytes,2,opt,name=interface,proto3" json:"interface,omitempty"`
	PhysAddress string   `protobuf:"bytes,3,opt,name=phys_address,json=physAddress,proto3" json:"phys_address,omitempty"`
	IpAddresses []string `protobuf:"bytes,4,rep,name=ip_addresses,json=ipAddresses,proto3" json:"ip_addresses,omitempty"`
	Vnid        uint32   `protobuf:"varint,5,opt,name=vnid,proto3" json:"vnid,omitempty"`
}

// Reset implements proto.Message.
func (m *Endpoint) Reset() { *m = Endpoint{} }

// String implements proto.Message.
func (m *Endpoint) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Endpoint) ProtoMessage() {}

// Types of a policy subnet.
const (
	// SubnetInternal is routed locally between groups of one routing domain.
	SubnetInternal = "internal"

	// SubnetExternal is reachable only through NAT.
	SubnetExternal = "external"
)

// Subnet announces a prefix of a routing domain to the policy dataplane.
type Subnet struct {
	VrfId  uint32 `protobuf:"varint,1,opt,name=vrf_id,json=vrfId,proto3" json:"vrf_id,omitempty"`
	Prefix string `protobuf:"bytes,2,opt,name=prefix,proto3" json:"prefix,omitempty"`
	Type   string `protobuf:"bytes,3,opt,name=type,proto3" json:"type,omitempty"`
}

// Reset implements proto.Message.
func (m *Subnet) Reset() { *m = Subnet{} }

// String implements proto.Message.
func (m *Subnet) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Subnet) ProtoMessage() {}

// Types of a recirculation interface.
const (
	// RecircInternal re-classifies NAT-translated traffic of local groups.
	RecircInternal = "internal"

	// RecircExternal re-classifies traffic entering from external networks.
	RecircExternal = "external"
)

// Recirc is a recirculation hop through which NAT-translated traffic
// re-enters policy classification in the right group.
type Recirc struct {
	Interface string `protobuf:"bytes,1,opt,name=interface,proto3" json:"interface,omitempty"`
	Vnid      uint32 `protobuf:"varint,2,opt,name=vnid,proto3" json:"vnid,omitempty"`
	Type      string `protobuf:"bytes,3,opt,name=type,proto3" json:"type,omitempty"`
}

// Reset implements proto.Message.
func (m *Recirc) Reset() { *m = Recirc{} }

// String implements proto.Message.
func (m *Recirc) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*Recirc) ProtoMessage() {}

// Directions of an ethertype rule.
const (
	DirectionInput  = "input"
	DirectionOutput = "output"
)

// EthertypeACL whitelists ethertypes on an endpoint interface. Frames of
// any other ethertype are dropped before L3 classification.
type EthertypeACL struct {
	Interface string               `protobuf:"bytes,1,opt,name=interface,proto3" json:"interface,omitempty"`
	Rules     []*EthertypeACL_Rule `protobuf:"bytes,2,rep,name=rules,proto3" json:"rules,omitempty"`
}

// EthertypeACL_Rule permits one ethertype in one direction.
type EthertypeACL_Rule struct {
	Direction string `protobuf:"bytes,1,opt,name=direction,proto3" json:"direction,omitempty"`
	Ethertype uint32 `protobuf:"varint,2,opt,name=ethertype,proto3" json:"ethertype,omitempty"`
}

// Reset implements proto.Message.
func (m *EthertypeACL) Reset() { *m = EthertypeACL{} }

// String implements proto.Message.
func (m *EthertypeACL) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*EthertypeACL) ProtoMessage() {}

// Reset implements proto.Message.
func (m *EthertypeACL_Rule) Reset() { *m = EthertypeACL_Rule{} }

// String implements proto.Message.
func (m *EthertypeACL_Rule) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*EthertypeACL_Rule) ProtoMessage() {}

// LLDP enables link-layer discovery on the listed interfaces.
type LLDP struct {
	SystemName string   `protobuf:"bytes,1,opt,name=system_name,json=systemName,proto3" json:"system_name,omitempty"`
	Interfaces []string `protobuf:"bytes,2,rep,name=interfaces,proto3" json:"interfaces,omitempty"`
}

// Reset implements proto.Message.
func (m *LLDP) Reset() { *m = LLDP{} }

// String implements proto.Message.
func (m *LLDP) String() string { return proto.CompactTextString(m) }

// ProtoMessage implements proto.Message.
func (*LLDP) ProtoMessage() {}
