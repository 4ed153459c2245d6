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

package vppstate

import (
	"sort"

	"github.com/gogo/protobuf/proto"

	vpp_acl "github.com/ligato/vpp-agent/api/models/vpp/acl"
	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"
	vpp_nat "github.com/ligato/vpp-agent/api/models/vpp/nat"

	"github.com/gbpvpp/agent/plugins/gbpmodel"
)

// mergeFragments folds per-owner fragments into one value. The fold visits
// owners in lexicographical order, so the result depends only on the set of
// fragments, not on the order in which the owners asserted them.
func mergeFragments(fragments map[string]proto.Message) proto.Message {
	owners := make([]string, 0, len(fragments))
	for owner := range fragments {
		owners = append(owners, owner)
	}
	sort.Strings(owners)

	var merged proto.Message
	for _, owner := range owners {
		if merged == nil {
			merged = proto.Clone(fragments[owner])
			continue
		}
		merged = mergeValues(merged, fragments[owner])
	}
	return merged
}

// mergeValues merges fragment <b> into accumulated value <a>.
// <a> is never modified in place. For object types with no defined merge
// the later fragment wins.
func mergeValues(a, b proto.Message) proto.Message {
	switch prev := a.(type) {
	case *vpp_l2.BridgeDomain:
		next, ok := b.(*vpp_l2.BridgeDomain)
		if !ok {
			return proto.Clone(b)
		}
		return mergeBridgeDomains(prev, next)

	case *vpp_interfaces.Interface:
		next, ok := b.(*vpp_interfaces.Interface)
		if !ok {
			return proto.Clone(b)
		}
		return mergeInterfaces(prev, next)

	case *vpp_nat.Nat44Global:
		next, ok := b.(*vpp_nat.Nat44Global)
		if !ok {
			return proto.Clone(b)
		}
		return mergeNat44Globals(prev, next)

	case *vpp_l3.ProxyARP:
		next, ok := b.(*vpp_l3.ProxyARP)
		if !ok {
			return proto.Clone(b)
		}
		return mergeProxyARPs(prev, next)

	case *vpp_acl.ACL:
		next, ok := b.(*vpp_acl.ACL)
		if !ok {
			return proto.Clone(b)
		}
		return mergeACLs(prev, next)

	case *gbpmodel.LLDP:
		next, ok := b.(*gbpmodel.LLDP)
		if !ok {
			return proto.Clone(b)
		}
		return mergeLLDPs(prev, next)
	}
	return proto.Clone(b)
}

// mergeBridgeDomains unions the interface membership and the ARP termination
// table. Flags are OR-ed, so a bare membership fragment cannot downgrade
// the domain configuration asserted by its group.
func mergeBridgeDomains(a, b *vpp_l2.BridgeDomain) *vpp_l2.BridgeDomain {
	merged := proto.Clone(a).(*vpp_l2.BridgeDomain)
	merged.Flood = merged.Flood || b.Flood
	merged.UnknownUnicastFlood = merged.UnknownUnicastFlood || b.UnknownUnicastFlood
	merged.Forward = merged.Forward || b.Forward
	merged.Learn = merged.Learn || b.Learn
	merged.ArpTermination = merged.ArpTermination || b.ArpTermination

	byName := make(map[string]*vpp_l2.BridgeDomain_Interface)
	for _, iface := range merged.Interfaces {
		byName[iface.Name] = iface
	}
	for _, iface := range b.Interfaces {
		if _, known := byName[iface.Name]; !known {
			clone := proto.Clone(iface).(*vpp_l2.BridgeDomain_Interface)
			merged.Interfaces = append(merged.Interfaces, clone)
			byName[iface.Name] = clone
		}
	}
	sort.Slice(merged.Interfaces, func(i, j int) bool {
		return merged.Interfaces[i].Name < merged.Interfaces[j].Name
	})

	byIP := make(map[string]struct{})
	for _, entry := range merged.ArpTerminationTable {
		byIP[entry.IpAddress] = struct{}{}
	}
	for _, entry := range b.ArpTerminationTable {
		if _, known := byIP[entry.IpAddress]; !known {
			merged.ArpTerminationTable = append(merged.ArpTerminationTable,
				proto.Clone(entry).(*vpp_l2.BridgeDomain_ArpTerminationEntry))
			byIP[entry.IpAddress] = struct{}{}
		}
	}
	sort.Slice(merged.ArpTerminationTable, func(i, j int) bool {
		return merged.ArpTerminationTable[i].IpAddress < merged.ArpTerminationTable[j].IpAddress
	})
	return merged
}

// mergeInterfaces unions the IP addresses. The base configuration comes from
// the fragment which defines the interface type (the owner that created
// the interface); address-only fragments just extend it.
func mergeInterfaces(a, b *vpp_interfaces.Interface) *vpp_interfaces.Interface {
	base, extension := a, b
	if base.GetType() == 0 && extension.GetType() != 0 {
		base, extension = b, a
	}
	merged := proto.Clone(base).(*vpp_interfaces.Interface)

	known := make(map[string]struct{})
	for _, addr := range merged.IpAddresses {
		known[addr] = struct{}{}
	}
	for _, addr := range extension.IpAddresses {
		if _, dup := known[addr]; !dup {
			merged.IpAddresses = append(merged.IpAddresses, addr)
			known[addr] = struct{}{}
		}
	}
	sort.Strings(merged.IpAddresses)
	return merged
}

// mergeNat44Globals unions the NAT feature bindings of interfaces.
func mergeNat44Globals(a, b *vpp_nat.Nat44Global) *vpp_nat.Nat44Global {
	merged := proto.Clone(a).(*vpp_nat.Nat44Global)
	merged.Forwarding = merged.Forwarding || b.Forwarding

	type binding struct {
		name   string
		inside bool
	}
	known := make(map[binding]struct{})
	for _, iface := range merged.NatInterfaces {
		known[binding{iface.Name, iface.IsInside}] = struct{}{}
	}
	for _, iface := range b.NatInterfaces {
		if _, dup := known[binding{iface.Name, iface.IsInside}]; !dup {
			merged.NatInterfaces = append(merged.NatInterfaces,
				proto.Clone(iface).(*vpp_nat.Nat44Global_Interface))
			known[binding{iface.Name, iface.IsInside}] = struct{}{}
		}
	}
	sort.Slice(merged.NatInterfaces, func(i, j int) bool {
		if merged.NatInterfaces[i].Name != merged.NatInterfaces[j].Name {
			return merged.NatInterfaces[i].Name < merged.NatInterfaces[j].Name
		}
		return !merged.NatInterfaces[i].IsInside && merged.NatInterfaces[j].IsInside
	})
	return merged
}

// mergeProxyARPs unions the interfaces and the answered ranges.
func mergeProxyARPs(a, b *vpp_l3.ProxyARP) *vpp_l3.ProxyARP {
	merged := proto.Clone(a).(*vpp_l3.ProxyARP)

	knownIfs := make(map[string]struct{})
	for _, iface := range merged.Interfaces {
		knownIfs[iface.Name] = struct{}{}
	}
	for _, iface := range b.Interfaces {
		if _, dup := knownIfs[iface.Name]; !dup {
			merged.Interfaces = append(merged.Interfaces,
				proto.Clone(iface).(*vpp_l3.ProxyARP_Interface))
			knownIfs[iface.Name] = struct{}{}
		}
	}
	sort.Slice(merged.Interfaces, func(i, j int) bool {
		return merged.Interfaces[i].Name < merged.Interfaces[j].Name
	})

	type addrRange struct {
		first, last string
	}
	knownRanges := make(map[addrRange]struct{})
	for _, r := range merged.Ranges {
		knownRanges[addrRange{r.FirstIpAddr, r.LastIpAddr}] = struct{}{}
	}
	for _, r := range b.Ranges {
		if _, dup := knownRanges[addrRange{r.FirstIpAddr, r.LastIpAddr}]; !dup {
			merged.Ranges = append(merged.Ranges,
				proto.Clone(r).(*vpp_l3.ProxyARP_Range))
			knownRanges[addrRange{r.FirstIpAddr, r.LastIpAddr}] = struct{}{}
		}
	}
	sort.Slice(merged.Ranges, func(i, j int) bool {
		return merged.Ranges[i].FirstIpAddr < merged.Ranges[j].FirstIpAddr
	})
	return merged
}

// mergeACLs unions the interface attachments. The rule list comes from
// whichever fragment defines it; attachment-only fragments keep it intact.
func mergeACLs(a, b *vpp_acl.ACL) *vpp_acl.ACL {
	merged := proto.Clone(a).(*vpp_acl.ACL)
	if len(merged.Rules) == 0 {
		merged.Rules = nil
		for _, rule := range b.Rules {
			merged.Rules = append(merged.Rules, proto.Clone(rule).(*vpp_acl.ACL_Rule))
		}
	}
	if merged.Interfaces == nil && b.Interfaces == nil {
		return merged
	}
	if merged.Interfaces == nil {
		merged.Interfaces = &vpp_acl.ACL_Interfaces{}
	}
	if b.Interfaces != nil {
		merged.Interfaces.Ingress = unionSorted(merged.Interfaces.Ingress, b.Interfaces.Ingress)
		merged.Interfaces.Egress = unionSorted(merged.Interfaces.Egress, b.Interfaces.Egress)
	}
	return merged
}

// mergeLLDPs unions the enabled interfaces.
func mergeLLDPs(a, b *gbpmodel.LLDP) *gbpmodel.LLDP {
	merged := proto.Clone(a).(*gbpmodel.LLDP)
	if merged.SystemName == "" {
		merged.SystemName = b.SystemName
	}
	merged.Interfaces = unionSorted(merged.Interfaces, b.Interfaces)
	return merged
}

func unionSorted(a, b []string) []string {
	known := make(map[string]struct{})
	var union []string
	for _, item := range a {
		if _, dup := known[item]; !dup {
			union = append(union, item)
			known[item] = struct{}{}
		}
	}
	for _, item := range b {
		if _, dup := known[item]; !dup {
			union = append(union, item)
			known[item] = struct{}{}
		}
	}
	sort.Strings(union)
	return union
}
