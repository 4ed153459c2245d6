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
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/ligato/cn-infra/logging"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"
	vpp_nat "github.com/ligato/vpp-agent/api/models/vpp/nat"

	"github.com/gbpvpp/agent/mock/dataplane"
	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/idalloc"
	"github.com/gbpvpp/agent/plugins/policy/cache"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/uplink"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

const (
	uplinkIfName = "GigabitEthernet0/8/0"
	routerMAC    = "00:22:bd:f8:19:ff"

	rdURI    = "/tenant/rd/default"
	bdURI    = "/tenant/bd/web"
	groupURI = "/tenant/group/web"

	groupVnid = 0xA0A // 2570
)

// staticConfig replaces the file-loading configuration plugin in tests.
type staticConfig struct {
	cfg gbpconf.Config
}

func (c *staticConfig) GetConfig() *gbpconf.Config {
	return &c.cfg
}

func vlanConfig() gbpconf.Config {
	return gbpconf.Config{
		UplinkInterface: uplinkIfName,
		Encap:           gbpconf.EncapConfig{Mode: gbpconf.EncapModeVLAN},
		VirtualRouter: gbpconf.VirtualRouterConfig{
			Enabled:   true,
			Advertise: true,
			MAC:       routerMAC,
		},
	}
}

func vxlanConfig() gbpconf.Config {
	cfg := vlanConfig()
	cfg.Encap = gbpconf.EncapConfig{Mode: gbpconf.EncapModeVXLAN, VxlanPort: 4789}
	return cfg
}

type fixture struct {
	cache    *cache.PolicyCache
	ids      *idalloc.IDAllocator
	state    *vppstate.VppState
	uplink   *uplink.Uplink
	renderer *Renderer
	tracker  *dataplane.TxnTracker
}

func newFixture(cfg gbpconf.Config) *fixture {
	conf := &staticConfig{cfg: cfg}

	policyCache := &cache.PolicyCache{}
	policyCache.Log = logging.ForPlugin("test-policycache")
	Expect(policyCache.Init()).To(Succeed())

	ids := &idalloc.IDAllocator{}
	ids.Log = logging.ForPlugin("test-idalloc")
	Expect(ids.Init()).To(Succeed())

	state := &vppstate.VppState{}
	state.Log = logging.ForPlugin("test-vppstate")
	Expect(state.Init()).To(Succeed())

	up := &uplink.Uplink{}
	up.Log = logging.ForPlugin("test-uplink")
	up.GBPConf = conf
	up.VPPState = state
	Expect(up.Init()).To(Succeed())

	renderer := &Renderer{
		Deps: Deps{
			Cache:    policyCache,
			IDAlloc:  ids,
			VPPState: state,
			Uplink:   up,
			GBPConf:  conf,
		},
	}
	renderer.Log = logging.ForPlugin("test-epgroup")
	Expect(renderer.Init()).To(Succeed())

	return &fixture{
		cache:    policyCache,
		ids:      ids,
		state:    state,
		uplink:   up,
		renderer: renderer,
		tracker:  dataplane.NewTxnTracker(nil),
	}
}

// leaseUplink gives the uplink an address so that tunnels can be sourced.
func (f *fixture) leaseUplink() {
	txn := f.tracker.NewTxn()
	_, err := f.uplink.Update(&controller.DHCPLeaseAcquired{
		InterfaceName: uplinkIfName,
		HostIPAddress: "10.0.0.5/24",
		RouterIP:      "10.0.0.1",
	}, txn)
	Expect(err).ToNot(HaveOccurred())
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())
}

// render runs the renderer for one policy update and commits the result.
func (f *fixture) render(key model.Key) {
	txn := f.tracker.NewTxn()
	_, err := f.renderer.Update(&controller.PolicyUpdate{Key: key}, txn)
	Expect(err).ToNot(HaveOccurred())
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())
}

func (f *fixture) addForwardingDomains() {
	f.cache.Update(model.Key{Class: model.ClassRoutingDomain, URI: rdURI},
		&model.RoutingDomain{URI: rdURI, Name: "default"})
	f.cache.Update(model.Key{Class: model.ClassBridgeDomain, URI: bdURI},
		&model.BridgeDomain{URI: bdURI, Name: "web", RoutingDomain: rdURI})
}

func (f *fixture) addGroup(group *model.EndpointGroup) {
	f.cache.Update(model.Key{Class: model.ClassEndpointGroup, URI: group.URI}, group)
	f.render(model.Key{Class: model.ClassEndpointGroup, URI: group.URI})
}

func (f *fixture) removeGroup(uri string) {
	f.cache.Update(model.Key{Class: model.ClassEndpointGroup, URI: uri}, nil)
	f.render(model.Key{Class: model.ClassEndpointGroup, URI: uri})
}

func webGroup() *model.EndpointGroup {
	return &model.EndpointGroup{
		URI:          groupURI,
		Vnid:         groupVnid,
		BridgeDomain: bdURI,
	}
}

func bdMemberNames(bd *vpp_l2.BridgeDomain) (names []string) {
	for _, member := range bd.Interfaces {
		names = append(names, member.Name)
	}
	return names
}

func TestGroupRendersForwardingObjects(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())
	f.addForwardingDomains()
	f.addGroup(webGroup())

	applied := f.tracker.AppliedConfig

	// both VRF tables of the routing domain
	vrf4, isVrf := applied[vpp_l3.VrfTableKey(100, vpp_l3.VrfTable_IPV4)].(*vpp_l3.VrfTable)
	Expect(isVrf).To(BeTrue())
	Expect(vrf4.Label).To(Equal("vrf-100-IPv4"))
	vrf6, isVrf := applied[vpp_l3.VrfTableKey(100, vpp_l3.VrfTable_IPV6)].(*vpp_l3.VrfTable)
	Expect(isVrf).To(BeTrue())
	Expect(vrf6.Label).To(Equal("vrf-100-IPv6"))

	// bridge domain with learning off, the BVI and the encap link as members
	bd, isBD := applied[vpp_l2.BridgeDomainKey("bd-100")].(*vpp_l2.BridgeDomain)
	Expect(isBD).To(BeTrue())
	Expect(bd.Forward).To(BeTrue())
	Expect(bd.Flood).To(BeTrue())
	Expect(bd.UnknownUnicastFlood).To(BeTrue())
	Expect(bd.ArpTermination).To(BeTrue())
	Expect(bdMemberNames(bd)).To(ConsistOf("bvi-100", uplinkIfName+".2570"))

	// virtual-router BVI with the shared router MAC
	bvi, isIface := applied[vpp_interfaces.InterfaceKey("bvi-100")].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(bvi.Type).To(Equal(vpp_interfaces.Interface_SOFTWARE_LOOPBACK))
	Expect(bvi.Enabled).To(BeTrue())
	Expect(bvi.Vrf).To(BeEquivalentTo(100))
	Expect(bvi.PhysAddress).To(Equal(routerMAC))
	Expect(bvi.IpAddresses).To(BeEmpty())

	// static L2FIB entry of the BVI MAC
	fib, isFIB := applied[vpp_l2.FIBKey("bd-100", routerMAC)].(*vpp_l2.FIBEntry)
	Expect(isFIB).To(BeTrue())
	Expect(fib.StaticConfig).To(BeTrue())
	Expect(fib.BridgedVirtualInterface).To(BeTrue())
	Expect(fib.OutgoingInterface).To(Equal("bvi-100"))
	Expect(fib.Action).To(Equal(vpp_l2.FIBEntry_FORWARD))

	// the BVI is the inside edge of NAT
	nat, isNAT := applied[vpp_nat.GlobalNAT44Key()].(*vpp_nat.Nat44Global)
	Expect(isNAT).To(BeTrue())
	Expect(nat.NatInterfaces).To(HaveLen(1))
	Expect(nat.NatInterfaces[0].Name).To(Equal("bvi-100"))
	Expect(nat.NatInterfaces[0].IsInside).To(BeTrue())

	// stitched encap link on the uplink VLAN
	subIf, isIface := applied[vpp_interfaces.InterfaceKey(uplinkIfName+".2570")].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(subIf.Type).To(Equal(vpp_interfaces.Interface_SUB_INTERFACE))
	Expect(subIf.GetSub().GetParentName()).To(Equal(uplinkIfName))
	Expect(subIf.GetSub().GetSubId()).To(BeEquivalentTo(groupVnid))

	// policy binding of the group
	epg, isEPG := applied[gbpmodel.EndpointGroupKey(groupVnid)].(*gbpmodel.EndpointGroup)
	Expect(isEPG).To(BeTrue())
	Expect(epg.Mode).To(Equal(gbpmodel.ModeStitched))
	Expect(epg.BridgeDomain).To(Equal("bd-100"))
	Expect(epg.VrfId).To(BeEquivalentTo(100))
	Expect(epg.UplinkInterface).To(Equal(uplinkIfName + ".2570"))

	// without its own overlay identifier the bridge domain inherits the
	// group VNID
	Expect(epg.BdVnid).To(BeEquivalentTo(groupVnid))

	Expect(applied).To(HaveLen(8))
}

func TestSubnetRendersGatewayObjects(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())
	f.addForwardingDomains()

	group := webGroup()
	group.Subnets = []model.Subnet{
		{Address: "10.1.1.0", PrefixLen: 24, VirtualRouterIP: "10.1.1.1"},
	}
	f.addGroup(group)

	applied := f.tracker.AppliedConfig

	subnet, isSubnet := applied[gbpmodel.SubnetKey(100, "10.1.1.0/24")].(*gbpmodel.Subnet)
	Expect(isSubnet).To(BeTrue())
	Expect(subnet.Type).To(Equal(gbpmodel.SubnetInternal))
	Expect(subnet.VrfId).To(BeEquivalentTo(100))

	// gateway address configured on the BVI
	bvi := applied[vpp_interfaces.InterfaceKey("bvi-100")].(*vpp_interfaces.Interface)
	Expect(bvi.IpAddresses).To(ConsistOf("10.1.1.1/24"))

	// gateway ARP answered by the dataplane
	bd := applied[vpp_l2.BridgeDomainKey("bd-100")].(*vpp_l2.BridgeDomain)
	Expect(bd.ArpTerminationTable).To(HaveLen(1))
	Expect(bd.ArpTerminationTable[0].IpAddress).To(Equal("10.1.1.1"))
	Expect(bd.ArpTerminationTable[0].PhysAddress).To(Equal(routerMAC))

	// connected route of the subnet
	route, isRoute := applied[vpp_l3.RouteKey("bvi-100", 100, "10.1.1.0/24", "")].(*vpp_l3.Route)
	Expect(isRoute).To(BeTrue())
	Expect(route.OutgoingInterface).To(Equal("bvi-100"))
}

func TestSubnetWithoutGatewayBindsPrefixOnly(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())
	f.addForwardingDomains()

	group := webGroup()
	group.Subnets = []model.Subnet{
		{Address: "10.2.2.0", PrefixLen: 24},
	}
	f.addGroup(group)

	applied := f.tracker.AppliedConfig
	Expect(applied).To(HaveKey(gbpmodel.SubnetKey(100, "10.2.2.0/24")))

	bvi := applied[vpp_interfaces.InterfaceKey("bvi-100")].(*vpp_interfaces.Interface)
	Expect(bvi.IpAddresses).To(BeEmpty())
	Expect(applied).ToNot(HaveKey(vpp_l3.RouteKey("bvi-100", 100, "10.2.2.0/24", "")))
}

func TestUnresolvedForwardingRendersNothing(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())

	// bridge domain of the group is not known yet
	f.addGroup(webGroup())
	Expect(f.tracker.AppliedConfig).To(BeEmpty())

	// bridge domain arrived, but its routing domain is still missing
	f.cache.Update(model.Key{Class: model.ClassBridgeDomain, URI: bdURI},
		&model.BridgeDomain{URI: bdURI, Name: "web", RoutingDomain: rdURI})
	f.render(model.Key{Class: model.ClassBridgeDomain, URI: bdURI})
	Expect(f.tracker.AppliedConfig).To(BeEmpty())

	// the routing domain completes the forwarding context
	f.cache.Update(model.Key{Class: model.ClassRoutingDomain, URI: rdURI},
		&model.RoutingDomain{URI: rdURI, Name: "default"})
	f.render(model.Key{Class: model.ClassEndpointGroup, URI: groupURI})
	Expect(f.tracker.AppliedConfig).ToNot(BeEmpty())
	Expect(f.tracker.AppliedConfig).To(HaveKey(gbpmodel.EndpointGroupKey(groupVnid)))
}

func TestGroupRemovalSweepsEverything(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())
	f.addForwardingDomains()

	group := webGroup()
	group.Subnets = []model.Subnet{
		{Address: "10.1.1.0", PrefixLen: 24, VirtualRouterIP: "10.1.1.1"},
	}
	f.addGroup(group)
	Expect(f.tracker.AppliedConfig).ToNot(BeEmpty())

	f.removeGroup(groupURI)
	Expect(f.tracker.AppliedConfig).To(BeEmpty())
	Expect(f.state.ObjectCount()).To(BeZero())
}

func TestSharedRoutingDomainSurvivesGroupRemoval(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vlanConfig())

	// two bridge domains sharing one routing domain
	const bd2URI = "/tenant/bd/db"
	const group2URI = "/tenant/group/db"
	f.addForwardingDomains()
	f.cache.Update(model.Key{Class: model.ClassBridgeDomain, URI: bd2URI},
		&model.BridgeDomain{URI: bd2URI, Name: "db", RoutingDomain: rdURI})

	f.addGroup(webGroup())
	f.addGroup(&model.EndpointGroup{
		URI:          group2URI,
		Vnid:         0xB0B,
		BridgeDomain: bd2URI,
	})

	applied := f.tracker.AppliedConfig

	// distinct bridge domains, one shared VRF
	Expect(applied).To(HaveKey(vpp_l2.BridgeDomainKey("bd-100")))
	Expect(applied).To(HaveKey(vpp_l2.BridgeDomainKey("bd-101")))
	Expect(applied).To(HaveKey(vpp_l3.VrfTableKey(100, vpp_l3.VrfTable_IPV4)))
	Expect(applied).ToNot(HaveKey(vpp_l3.VrfTableKey(101, vpp_l3.VrfTable_IPV4)))

	// both BVIs are inside edges of the shared NAT configuration
	nat := applied[vpp_nat.GlobalNAT44Key()].(*vpp_nat.Nat44Global)
	Expect(nat.NatInterfaces).To(HaveLen(2))

	// removing one group keeps the shared routing domain objects alive
	f.removeGroup(groupURI)
	applied = f.tracker.AppliedConfig
	Expect(applied).ToNot(HaveKey(vpp_l2.BridgeDomainKey("bd-100")))
	Expect(applied).To(HaveKey(vpp_l2.BridgeDomainKey("bd-101")))
	Expect(applied).To(HaveKey(vpp_l3.VrfTableKey(100, vpp_l3.VrfTable_IPV4)))

	nat = applied[vpp_nat.GlobalNAT44Key()].(*vpp_nat.Nat44Global)
	Expect(nat.NatInterfaces).To(HaveLen(1))
	Expect(nat.NatInterfaces[0].Name).To(Equal("bvi-101"))
}

func TestVxlanModeWithoutLeasePostponesEncap(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vxlanConfig())
	f.addForwardingDomains()
	f.addGroup(webGroup())

	applied := f.tracker.AppliedConfig

	// the group forwards locally, the tunnel waits for the uplink address
	Expect(applied).ToNot(HaveKey(vpp_interfaces.InterfaceKey("vxlan-mc-2570")))
	Expect(applied).To(HaveKey(vpp_l2.BridgeDomainKey("bd-100")))

	epg := applied[gbpmodel.EndpointGroupKey(groupVnid)].(*gbpmodel.EndpointGroup)
	Expect(epg.Mode).To(Equal(gbpmodel.ModeTransport))
	Expect(epg.UplinkInterface).To(BeEmpty())
}

func TestDomainIdentifiersBindOverlay(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(vxlanConfig())
	f.leaseUplink()

	// the policy model assigns the domains their own overlay identifiers
	f.cache.Update(model.Key{Class: model.ClassRoutingDomain, URI: rdURI},
		&model.RoutingDomain{URI: rdURI, Name: "default", Vnid: 7})
	f.cache.Update(model.Key{Class: model.ClassBridgeDomain, URI: bdURI},
		&model.BridgeDomain{URI: bdURI, Name: "web", RoutingDomain: rdURI, Vnid: 300})

	group := webGroup()
	group.MulticastIP = "239.1.1.1"
	f.addGroup(group)

	applied := f.tracker.AppliedConfig

	// the flood tunnel belongs to the bridge domain, not to the group
	Expect(applied).To(HaveKey(vpp_interfaces.InterfaceKey("vxlan-mc-300")))
	Expect(applied).ToNot(HaveKey(vpp_interfaces.InterfaceKey("vxlan-mc-2570")))
	vxlan := applied[vpp_interfaces.InterfaceKey("vxlan-mc-300")].(*vpp_interfaces.Interface)
	Expect(vxlan.GetVxlan().GetVni()).To(BeEquivalentTo(300))

	epg := applied[gbpmodel.EndpointGroupKey(groupVnid)].(*gbpmodel.EndpointGroup)
	Expect(epg.BdVnid).To(BeEquivalentTo(300))
	Expect(epg.RdVnid).To(BeEquivalentTo(7))
}

func TestRouterDisabledSkipsGatewayObjects(t *testing.T) {
	RegisterTestingT(t)
	cfg := vlanConfig()
	cfg.VirtualRouter.Enabled = false
	f := newFixture(cfg)
	f.addForwardingDomains()

	group := webGroup()
	group.Subnets = []model.Subnet{
		{Address: "10.1.1.0", PrefixLen: 24, VirtualRouterIP: "10.1.1.1"},
	}
	f.addGroup(group)

	applied := f.tracker.AppliedConfig

	// the group forwards at L2 only
	bd, isBD := applied[vpp_l2.BridgeDomainKey("bd-100")].(*vpp_l2.BridgeDomain)
	Expect(isBD).To(BeTrue())
	Expect(bdMemberNames(bd)).To(ConsistOf(uplinkIfName + ".2570"))
	Expect(bd.ArpTerminationTable).To(BeEmpty())

	Expect(applied).ToNot(HaveKey(vpp_interfaces.InterfaceKey("bvi-100")))
	Expect(applied).ToNot(HaveKey(vpp_l2.FIBKey("bd-100", routerMAC)))
	Expect(applied).ToNot(HaveKey(vpp_nat.GlobalNAT44Key()))
	Expect(applied).ToNot(HaveKey(vpp_l3.RouteKey("bvi-100", 100, "10.1.1.0/24", "")))

	// the subnet is still bound for policy classification
	Expect(applied).To(HaveKey(gbpmodel.SubnetKey(100, "10.1.1.0/24")))
}

func TestRouterWithoutAdvertiseSkipsARPTermination(t *testing.T) {
	RegisterTestingT(t)
	cfg := vlanConfig()
	cfg.VirtualRouter.Advertise = false
	f := newFixture(cfg)
	f.addForwardingDomains()

	group := webGroup()
	group.Subnets = []model.Subnet{
		{Address: "10.1.1.0", PrefixLen: 24, VirtualRouterIP: "10.1.1.1"},
	}
	f.addGroup(group)

	applied := f.tracker.AppliedConfig

	// the gateway itself is still rendered
	bvi := applied[vpp_interfaces.InterfaceKey("bvi-100")].(*vpp_interfaces.Interface)
	Expect(bvi.IpAddresses).To(ConsistOf("10.1.1.1/24"))
	Expect(applied).To(HaveKey(vpp_l3.RouteKey("bvi-100", 100, "10.1.1.0/24", "")))

	// but its ARP is left to the router
	bd := applied[vpp_l2.BridgeDomainKey("bd-100")].(*vpp_l2.BridgeDomain)
	Expect(bd.ArpTerminationTable).To(BeEmpty())
}
