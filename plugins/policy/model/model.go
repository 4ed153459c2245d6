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

// Package model defines the northbound policy entities consumed by the
// renderers. Entities reference each other by URI, never by pointer, so that
// updates can arrive in any order and unresolved references simply postpone
// rendering.
package model

// Class identifies the kind of a policy entity.
type Class string

const (
	// ClassRoutingDomain is the class of L3 routing domains.
	ClassRoutingDomain Class = "routing-domain"

	// ClassBridgeDomain is the class of L2 bridge domains.
	ClassBridgeDomain Class = "bridge-domain"

	// ClassEndpointGroup is the class of endpoint groups.
	ClassEndpointGroup Class = "endpoint-group"

	// ClassEndpoint is the class of endpoints.
	ClassEndpoint Class = "endpoint"

	// ClassSecurityGroup is the class of security groups.
	ClassSecurityGroup Class = "security-group"

	// ClassPlatformConfig is the class of the platform-wide configuration.
	ClassPlatformConfig Class = "platform-config"
)

// Key uniquely identifies a policy entity.
type Key struct {
	Class Class
	URI   string
}

// String returns a human-readable representation of the key.
func (k Key) String() string {
	return string(k.Class) + "/" + k.URI
}

// RoutingDomain represents an L3 forwarding context.
type RoutingDomain struct {
	URI  string
	Name string
	Vnid uint32 // overlay identifier of the domain, zero when unassigned
}

// BridgeDomain represents an L2 forwarding context. It is always scoped
// inside a routing domain.
type BridgeDomain struct {
	URI           string
	Name          string
	Vnid          uint32 // overlay identifier of the domain, zero when unassigned
	RoutingDomain string // URI of the parent routing domain
}

// Subnet is a prefix attached to an endpoint group, optionally with
// a virtual-router (default gateway) address served by the dataplane.
type Subnet struct {
	Address         string
	PrefixLen       uint32
	VirtualRouterIP string
}

// EndpointGroup represents a set of endpoints sharing forwarding and
// policy treatment.
type EndpointGroup struct {
	URI          string
	Vnid         uint32
	BridgeDomain string // URI of the bridge domain, may be unresolved
	MulticastIP  string // overrides the platform-wide flood group when set
	Subnets      []Subnet
}

// FloatingIP is a NAT mapping from a routable address onto one of the
// endpoint's real addresses.
type FloatingIP struct {
	UUID          string
	IP            string
	MappedIP      string
	EndpointGroup string // URI of the group owning the floating address
}

// Endpoint represents a workload attached to the dataplane.
type Endpoint struct {
	UUID           string
	MAC            string
	IPs            []string
	EndpointGroup  string // URI of the parent group
	Interface      string // host interface name
	AccessVLAN     uint32 // non-zero for trunk (VLAN sub-interface) attachment
	SecurityGroups []string
	FloatingIPs    []FloatingIP
}

// RuleDirection tells which traffic direction a security rule classifies,
// from the endpoint's point of view.
type RuleDirection string

const (
	RuleDirectionIn            RuleDirection = "in"
	RuleDirectionOut           RuleDirection = "out"
	RuleDirectionBidirectional RuleDirection = "bidirectional"
)

// RuleAction is the verdict of a security rule.
type RuleAction string

const (
	RuleActionAllow   RuleAction = "allow"
	RuleActionDeny    RuleAction = "deny"
	RuleActionReflect RuleAction = "reflect"
)

// PortRange is an inclusive L4 port interval.
type PortRange struct {
	Start uint16
	End   uint16
}

// SecurityRule classifies traffic of one ethertype. Rules from all groups
// attached to an endpoint are merged by (Priority, list order) before
// they are rendered.
type SecurityRule struct {
	Name         string
	Priority     uint32
	Direction    RuleDirection
	Ethertype    string // "ipv4" or "ipv6"
	Protocol     string // "tcp", "udp", "icmp" or "" for any
	SrcPorts     []PortRange
	DstPorts     []PortRange
	RemoteCIDRs  []string
	Action       RuleAction
}

// SecurityGroup is an ordered list of security rules.
type SecurityGroup struct {
	URI   string
	Rules []SecurityRule
}

// PlatformConfig carries dataplane-wide tunables distributed through the
// policy channel rather than the local config file.
type PlatformConfig struct {
	URI         string
	MulticastIP string // default VXLAN flood group
}
