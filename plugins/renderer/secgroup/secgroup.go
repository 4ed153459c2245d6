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

// Package secgroup compiles security groups into dataplane ACLs.
// The compilation is deterministic: the same set of groups always produces
// byte-identical ACLs, so unchanged policy never causes dataplane churn.
package secgroup

import (
	"sort"
	"strings"

	vpp_acl "github.com/ligato/vpp-agent/api/models/vpp/acl"

	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/policy/model"
)

// Well-known ethertypes.
const (
	EtherTypeIPv4 = 0x0800
	EtherTypeARP  = 0x0806
	EtherTypeIPv6 = 0x86DD
)

const (
	anyNetworkV4 = "0.0.0.0/0"
	anyNetworkV6 = "::/0"

	maxPort = 65535

	dhcpClientPortV4 = 68
	dhcpServerPortV4 = 67
	dhcpClientPortV6 = 546
	dhcpServerPortV6 = 547
)

// CompiledPolicy is the result of compiling the security groups attached to
// one endpoint. Rule lists are ordered by priority; "in" means traffic
// towards the endpoint, "out" traffic from it.
type CompiledPolicy struct {
	// BaseName is built from the sorted group URIs; the per-direction ACL
	// names append "-in" and "-out" to it.
	BaseName string

	InRules  []*vpp_acl.ACL_Rule
	OutRules []*vpp_acl.ACL_Rule

	// Ethertypes whitelisted on the endpoint interface, in the order of
	// first occurrence.
	Ethertypes []*gbpmodel.EthertypeACL_Rule
}

// Compile flattens and orders the rules of the given groups.
// Groups are visited in URI order and rules within a group by descending
// priority (ties keep the declaration order), so the output does not depend
// on the order in which the groups were attached.
func Compile(groups []*model.SecurityGroup) *CompiledPolicy {
	sorted := make([]*model.SecurityGroup, len(groups))
	copy(sorted, groups)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].URI < sorted[j].URI })

	var uris []string
	for _, group := range sorted {
		uris = append(uris, group.URI)
	}

	cp := &CompiledPolicy{
		BaseName: strings.Join(uris, ","),
	}

	et := &ethertypeTracker{}
	// ARP must pass for any policy to be useful
	et.permit(gbpmodel.DirectionInput, EtherTypeARP)
	et.permit(gbpmodel.DirectionOutput, EtherTypeARP)

	// the endpoint must always be able to obtain its address
	cp.allowDHCP()

	for _, group := range sorted {
		rules := make([]model.SecurityRule, len(group.Rules))
		copy(rules, group.Rules)
		sort.SliceStable(rules, func(i, j int) bool {
			return rules[i].Priority > rules[j].Priority
		})
		for _, rule := range rules {
			cp.expandRule(rule, et)
		}
	}

	cp.Ethertypes = et.rules
	return cp
}

// InACL returns the ACL holding the "in" rules, attached to egress of the
// endpoint interface (traffic leaving the dataplane towards the endpoint).
func (cp *CompiledPolicy) InACL(ifName string) (key string, config *vpp_acl.ACL) {
	acl := &vpp_acl.ACL{
		Name:  cp.BaseName + "-in",
		Rules: cp.InRules,
		Interfaces: &vpp_acl.ACL_Interfaces{
			Egress: []string{ifName},
		},
	}
	return vpp_acl.Key(acl.Name), acl
}

// OutACL returns the ACL holding the "out" rules, attached to ingress of
// the endpoint interface (traffic entering the dataplane from the endpoint).
func (cp *CompiledPolicy) OutACL(ifName string) (key string, config *vpp_acl.ACL) {
	acl := &vpp_acl.ACL{
		Name:  cp.BaseName + "-out",
		Rules: cp.OutRules,
		Interfaces: &vpp_acl.ACL_Interfaces{
			Ingress: []string{ifName},
		},
	}
	return vpp_acl.Key(acl.Name), acl
}

// EthertypeWhitelist returns the ethertype whitelist of the endpoint
// interface.
func (cp *CompiledPolicy) EthertypeWhitelist(ifName string) (key string, config *gbpmodel.EthertypeACL) {
	whitelist := &gbpmodel.EthertypeACL{
		Interface: ifName,
		Rules:     cp.Ethertypes,
	}
	return gbpmodel.EthertypeACLKey(ifName), whitelist
}

// expandRule translates one policy rule into ACL rules of the respective
// direction lists.
func (cp *CompiledPolicy) expandRule(rule model.SecurityRule, et *ethertypeTracker) {
	ipv6 := rule.Ethertype == "ipv6"

	toIn := rule.Direction == model.RuleDirectionIn ||
		rule.Direction == model.RuleDirectionBidirectional
	toOut := rule.Direction == model.RuleDirectionOut ||
		rule.Direction == model.RuleDirectionBidirectional

	ethertype := uint32(EtherTypeIPv4)
	if ipv6 {
		ethertype = EtherTypeIPv6
	}
	if toIn {
		et.permit(gbpmodel.DirectionOutput, ethertype)
	}
	if toOut {
		et.permit(gbpmodel.DirectionInput, ethertype)
	}

	remotes := rule.RemoteCIDRs
	if len(remotes) == 0 {
		remotes = []string{""}
	}

	for _, remote := range remotes {
		if toIn {
			// towards the endpoint: the remote is the source
			cp.InRules = append(cp.InRules,
				buildACLRule(rule, ipv6, remote, ""))
		}
		if toOut {
			// from the endpoint: the remote is the destination
			cp.OutRules = append(cp.OutRules,
				buildACLRule(rule, ipv6, "", remote))
		}
	}
}

// buildACLRule builds a single ACL rule matching the classifier of the
// policy rule against the given remote networks.
func buildACLRule(rule model.SecurityRule, ipv6 bool, srcNet, dstNet string) *vpp_acl.ACL_Rule {
	anyNetwork := anyNetworkV4
	if ipv6 {
		anyNetwork = anyNetworkV6
	}
	if srcNet == "" {
		srcNet = anyNetwork
	}
	if dstNet == "" {
		dstNet = anyNetwork
	}

	aclRule := &vpp_acl.ACL_Rule{
		Action: aclAction(rule.Action),
		IpRule: &vpp_acl.ACL_Rule_IpRule{
			Ip: &vpp_acl.ACL_Rule_IpRule_Ip{
				SourceNetwork:      srcNet,
				DestinationNetwork: dstNet,
			},
		},
	}

	switch rule.Protocol {
	case "tcp":
		aclRule.IpRule.Tcp = &vpp_acl.ACL_Rule_IpRule_Tcp{
			SourcePortRange:      portRange(rule.SrcPorts),
			DestinationPortRange: portRange(rule.DstPorts),
		}
	case "udp":
		aclRule.IpRule.Udp = &vpp_acl.ACL_Rule_IpRule_Udp{
			SourcePortRange:      portRange(rule.SrcPorts),
			DestinationPortRange: portRange(rule.DstPorts),
		}
	case "icmp":
		aclRule.IpRule.Icmp = &vpp_acl.ACL_Rule_IpRule_Icmp{
			Icmpv6: ipv6,
			IcmpCodeRange: &vpp_acl.ACL_Rule_IpRule_Icmp_Range{
				First: 0, Last: 255,
			},
			IcmpTypeRange: &vpp_acl.ACL_Rule_IpRule_Icmp_Range{
				First: 0, Last: 255,
			},
		}
	}
	return aclRule
}

// allowDHCP prepends permits for the DHCP handshake in both directions and
// families.
func (cp *CompiledPolicy) allowDHCP() {
	// v4 request from the endpoint, response towards it
	cp.OutRules = append(cp.OutRules,
		dhcpRule(false, dhcpClientPortV4, dhcpServerPortV4))
	cp.InRules = append(cp.InRules,
		dhcpRule(false, dhcpServerPortV4, dhcpClientPortV4))
	// v6 solicit/reply
	cp.OutRules = append(cp.OutRules,
		dhcpRule(true, dhcpClientPortV6, dhcpServerPortV6))
	cp.InRules = append(cp.InRules,
		dhcpRule(true, dhcpServerPortV6, dhcpClientPortV6))
}

func dhcpRule(ipv6 bool, srcPort, dstPort uint16) *vpp_acl.ACL_Rule {
	anyNetwork := anyNetworkV4
	if ipv6 {
		anyNetwork = anyNetworkV6
	}
	return &vpp_acl.ACL_Rule{
		Action: vpp_acl.ACL_Rule_PERMIT,
		IpRule: &vpp_acl.ACL_Rule_IpRule{
			Ip: &vpp_acl.ACL_Rule_IpRule_Ip{
				SourceNetwork:      anyNetwork,
				DestinationNetwork: anyNetwork,
			},
			Udp: &vpp_acl.ACL_Rule_IpRule_Udp{
				SourcePortRange: &vpp_acl.ACL_Rule_IpRule_PortRange{
					LowerPort: uint32(srcPort), UpperPort: uint32(srcPort),
				},
				DestinationPortRange: &vpp_acl.ACL_Rule_IpRule_PortRange{
					LowerPort: uint32(dstPort), UpperPort: uint32(dstPort),
				},
			},
		},
	}
}

// portRange folds the configured port ranges into one ACL range.
// No configured range matches all ports.
func portRange(ranges []model.PortRange) *vpp_acl.ACL_Rule_IpRule_PortRange {
	if len(ranges) == 0 {
		return &vpp_acl.ACL_Rule_IpRule_PortRange{
			LowerPort: 0, UpperPort: maxPort,
		}
	}
	lower, upper := uint32(ranges[0].Start), uint32(ranges[0].End)
	for _, r := range ranges[1:] {
		if uint32(r.Start) < lower {
			lower = uint32(r.Start)
		}
		if uint32(r.End) > upper {
			upper = uint32(r.End)
		}
	}
	return &vpp_acl.ACL_Rule_IpRule_PortRange{LowerPort: lower, UpperPort: upper}
}

func aclAction(action model.RuleAction) vpp_acl.ACL_Rule_Action {
	switch action {
	case model.RuleActionDeny:
		return vpp_acl.ACL_Rule_DENY
	case model.RuleActionReflect:
		return vpp_acl.ACL_Rule_REFLECT
	default:
		return vpp_acl.ACL_Rule_PERMIT
	}
}

// ethertypeTracker deduplicates ethertype permits, keeping the order of
// first occurrence.
type ethertypeTracker struct {
	rules []*gbpmodel.EthertypeACL_Rule
	seen  map[ethertypePermit]struct{}
}

type ethertypePermit struct {
	direction string
	ethertype uint32
}

func (t *ethertypeTracker) permit(direction string, ethertype uint32) {
	if t.seen == nil {
		t.seen = make(map[ethertypePermit]struct{})
	}
	key := ethertypePermit{direction, ethertype}
	if _, dup := t.seen[key]; dup {
		return
	}
	t.seen[key] = struct{}{}
	t.rules = append(t.rules, &gbpmodel.EthertypeACL_Rule{
		Direction: direction,
		Ethertype: ethertype,
	})
}
