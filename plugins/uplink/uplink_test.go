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
	"context"
	"testing"

	. "github.com/onsi/gomega"

	"github.com/ligato/cn-infra/idxmap"
	idxmap_mem "github.com/ligato/cn-infra/idxmap/mem"
	"github.com/ligato/cn-infra/logging"
	"github.com/ligato/cn-infra/logging/logrus"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"
	vpp_l2 "github.com/ligato/vpp-agent/api/models/vpp/l2"
	vpp_l3 "github.com/ligato/vpp-agent/api/models/vpp/l3"

	"github.com/gbpvpp/agent/mock/dataplane"
	"github.com/gbpvpp/agent/mock/eventloop"
	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/gbpmodel"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

const uplinkIfName = "GigabitEthernet0/8/0"

// staticConfig replaces the file-loading configuration plugin in tests.
type staticConfig struct {
	cfg gbpconf.Config
}

func (c *staticConfig) GetConfig() *gbpconf.Config {
	return &c.cfg
}

func testConfig() gbpconf.Config {
	return gbpconf.Config{
		UplinkInterface: uplinkIfName,
		Encap:           gbpconf.EncapConfig{Mode: gbpconf.EncapModeVLAN},
		VirtualRouter: gbpconf.VirtualRouterConfig{
			Enabled:   true,
			Advertise: true,
			MAC:       "00:22:bd:f8:19:ff",
		},
		SystemName:      "test-node",
	}
}

type fixture struct {
	uplink    *Uplink
	state     *vppstate.VppState
	tracker   *dataplane.TxnTracker
	eventLoop *eventloop.MockEventLoop
	dhcpIndex idxmap.NamedMappingRW
}

func newFixture(cfg gbpconf.Config) *fixture {
	state := &vppstate.VppState{}
	state.Log = logging.ForPlugin("test-vppstate")
	Expect(state.Init()).To(Succeed())

	f := &fixture{
		state:     state,
		tracker:   dataplane.NewTxnTracker(nil),
		eventLoop: &eventloop.MockEventLoop{},
	}

	f.uplink = &Uplink{}
	f.uplink.Log = logging.ForPlugin("test-uplink")
	f.uplink.GBPConf = &staticConfig{cfg: cfg}
	f.uplink.VPPState = state
	f.uplink.EventLoop = f.eventLoop
	f.dhcpIndex = idxmap_mem.NewNamedMapping(
		logrus.DefaultLogger(), "test-dhcp_indexes", nil)
	f.uplink.DHCPIndex = f.dhcpIndex
	Expect(f.uplink.Init()).To(Succeed())
	return f
}

// apply runs the uplink handler for one event and commits the result.
func (f *fixture) apply(event controller.Event) {
	txn := f.tracker.NewTxn()
	_, err := f.uplink.Update(event, txn)
	Expect(err).ToNot(HaveOccurred())
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())
}

func (f *fixture) applyLease(addr, router string) {
	f.apply(&controller.DHCPLeaseAcquired{
		InterfaceName: f.uplink.ControlInterfaceName(),
		HostIPAddress: addr,
		RouterIP:      router,
	})
}

func TestResyncRendersUplinkObjects(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())
	f.apply(&controller.Resync{})

	applied := f.tracker.AppliedConfig

	// physical port leasing the address directly
	port, isIface := applied[vpp_interfaces.InterfaceKey(uplinkIfName)].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(port.Type).To(Equal(vpp_interfaces.Interface_DPDK))
	Expect(port.Enabled).To(BeTrue())
	Expect(port.SetDhcpClient).To(BeTrue())

	// global VRF tables carrying the uplink routes
	Expect(applied).To(HaveKey(vpp_l3.VrfTableKey(0, vpp_l3.VrfTable_IPV4)))
	Expect(applied).To(HaveKey(vpp_l3.VrfTableKey(0, vpp_l3.VrfTable_IPV6)))

	lldp, isLLDP := applied[gbpmodel.LLDPKey].(*gbpmodel.LLDP)
	Expect(isLLDP).To(BeTrue())
	Expect(lldp.SystemName).To(Equal("test-node"))
	Expect(lldp.Interfaces).To(ConsistOf(uplinkIfName))

	// everything depending on the leased address waits
	Expect(f.uplink.IsReady()).To(BeFalse())
	Expect(applied).ToNot(HaveKey(vpp_interfaces.InterfaceKey(uplinkTapName)))
	Expect(applied).ToNot(HaveKey(vpp_l3.ProxyARPKey()))
}

func TestControlVLANLeasesOverSubInterface(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.ControlVLAN = 4093
	f := newFixture(cfg)
	f.apply(&controller.Resync{})

	applied := f.tracker.AppliedConfig

	// the parent port does not run the DHCP client itself
	port := applied[vpp_interfaces.InterfaceKey(uplinkIfName)].(*vpp_interfaces.Interface)
	Expect(port.SetDhcpClient).To(BeFalse())

	ctrlName := uplinkIfName + ".4093"
	Expect(f.uplink.ControlInterfaceName()).To(Equal(ctrlName))
	ctrl, isIface := applied[vpp_interfaces.InterfaceKey(ctrlName)].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(ctrl.Type).To(Equal(vpp_interfaces.Interface_SUB_INTERFACE))
	Expect(ctrl.GetSub().GetSubId()).To(BeEquivalentTo(4093))
	Expect(ctrl.SetDhcpClient).To(BeTrue())
}

func TestLeaseRendersHostPuntAndDefaultRoute(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())
	f.apply(&controller.Resync{})
	f.applyLease("10.0.0.5/24", "10.0.0.1")

	Expect(f.uplink.IsReady()).To(BeTrue())
	srcIP, hasIP := f.uplink.TunnelSourceIP()
	Expect(hasIP).To(BeTrue())
	Expect(srcIP.String()).To(Equal("10.0.0.5"))

	applied := f.tracker.AppliedConfig

	// host punt tap sharing the leased address
	tap, isIface := applied[vpp_interfaces.InterfaceKey(uplinkTapName)].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(tap.Type).To(Equal(vpp_interfaces.Interface_TAP))
	Expect(tap.GetUnnumbered().GetInterfaceWithIp()).To(Equal(uplinkIfName))

	// proxy ARP for the whole leased prefix
	proxyARP, isProxy := applied[vpp_l3.ProxyARPKey()].(*vpp_l3.ProxyARP)
	Expect(isProxy).To(BeTrue())
	Expect(proxyARP.Ranges).To(HaveLen(1))
	Expect(proxyARP.Ranges[0].FirstIpAddr).To(Equal("10.0.0.0"))
	Expect(proxyARP.Ranges[0].LastIpAddr).To(Equal("10.0.0.255"))

	// default route via the announced router
	route, isRoute := applied[vpp_l3.RouteKey(uplinkIfName, 0, "0.0.0.0/0", "10.0.0.1")].(*vpp_l3.Route)
	Expect(isRoute).To(BeTrue())
	Expect(route.OutgoingInterface).To(Equal(uplinkIfName))
}

func TestLeaseWithoutRouterSkipsDefaultRoute(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())
	f.apply(&controller.Resync{})
	f.applyLease("10.0.0.5/24", "")

	Expect(f.uplink.IsReady()).To(BeTrue())
	Expect(f.tracker.AppliedConfig).To(HaveKey(vpp_interfaces.InterfaceKey(uplinkTapName)))
	Expect(f.tracker.AppliedConfig).ToNot(HaveKey(vpp_l3.RouteKey(uplinkIfName, 0, "0.0.0.0/0", "10.0.0.1")))
}

func TestCrossConnectsArePatchedBothWays(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.CrossConnects = []gbpconf.CrossConnectConfig{
		{
			East: gbpconf.CrossConnectSide{Interface: "GigabitEthernet0/9/0"},
			West: gbpconf.CrossConnectSide{Interface: "GigabitEthernet0/a/0", VLAN: 100},
		},
	}
	f := newFixture(cfg)
	f.apply(&controller.Resync{})

	applied := f.tracker.AppliedConfig
	westName := "GigabitEthernet0/a/0.100"

	Expect(applied).To(HaveKey(vpp_interfaces.InterfaceKey("GigabitEthernet0/9/0")))
	Expect(applied).To(HaveKey(vpp_interfaces.InterfaceKey(westName)))

	east, isXC := applied[vpp_l2.XConnectKey("GigabitEthernet0/9/0")].(*vpp_l2.XConnectPair)
	Expect(isXC).To(BeTrue())
	Expect(east.TransmitInterface).To(Equal(westName))

	west, isXC := applied[vpp_l2.XConnectKey(westName)].(*vpp_l2.XConnectPair)
	Expect(isXC).To(BeTrue())
	Expect(west.TransmitInterface).To(Equal("GigabitEthernet0/9/0"))
}

func TestEncapLinkVLANMode(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())

	owner := model.Key{Class: model.ClassEndpointGroup, URI: "/tenant/gA"}
	txn := f.tracker.NewTxn()
	scope := f.state.BeginScope(owner, txn)
	name, err := f.uplink.EncapLink(scope, 2570, 2570, "")
	Expect(err).ToNot(HaveOccurred())
	Expect(name).To(Equal(uplinkIfName + ".2570"))
	scope.Close()
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())

	subIf, isIface := f.tracker.AppliedConfig[vpp_interfaces.InterfaceKey(name)].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(subIf.GetSub().GetParentName()).To(Equal(uplinkIfName))
	Expect(subIf.GetSub().GetSubId()).To(BeEquivalentTo(2570))

	// frames must enter the bridge domain untagged
	Expect(subIf.GetSub().GetTagRwOption()).To(Equal(vpp_interfaces.SubInterface_POP1))
}

func TestEncapLinkVXLANMode(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.Encap = gbpconf.EncapConfig{Mode: gbpconf.EncapModeVXLAN, VxlanPort: 4789}
	f := newFixture(cfg)

	owner := model.Key{Class: model.ClassEndpointGroup, URI: "/tenant/gA"}
	txn := f.tracker.NewTxn()
	scope := f.state.BeginScope(owner, txn)

	// tunnels cannot be sourced before the address is leased
	_, err := f.uplink.EncapLink(scope, 2570, 2570, "239.1.1.1")
	Expect(err).To(HaveOccurred())
	scope.Close()
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())

	f.apply(&controller.Resync{})
	f.applyLease("10.0.0.5/24", "10.0.0.1")

	txn = f.tracker.NewTxn()
	scope = f.state.BeginScope(owner, txn)
	name, err := f.uplink.EncapLink(scope, 2570, 2570, "239.1.1.1")
	Expect(err).ToNot(HaveOccurred())
	Expect(name).To(Equal("vxlan-mc-2570"))

	// the flood destination is mandatory in transport mode
	_, err = f.uplink.EncapLink(scope, 2571, 2571, "")
	Expect(err).To(HaveOccurred())
	scope.Close()
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())

	vxlan, isIface := f.tracker.AppliedConfig[vpp_interfaces.InterfaceKey(name)].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(vxlan.Type).To(Equal(vpp_interfaces.Interface_VXLAN_TUNNEL))
	Expect(vxlan.GetVxlan().GetSrcAddress()).To(Equal("10.0.0.5"))
	Expect(vxlan.GetVxlan().GetDstAddress()).To(Equal("239.1.1.1"))
	Expect(vxlan.GetVxlan().GetVni()).To(BeEquivalentTo(2570))
}

func TestBondedUplinkEnslavesMembers(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.UplinkInterface = "BondEthernet0"
	cfg.UplinkSlaves = []string{"GigabitEthernet0/8/0", "GigabitEthernet0/9/0"}
	f := newFixture(cfg)
	f.apply(&controller.Resync{})

	applied := f.tracker.AppliedConfig

	bond, isIface := applied[vpp_interfaces.InterfaceKey("BondEthernet0")].(*vpp_interfaces.Interface)
	Expect(isIface).To(BeTrue())
	Expect(bond.Type).To(Equal(vpp_interfaces.Interface_BOND_INTERFACE))
	Expect(bond.Enabled).To(BeTrue())
	Expect(bond.SetDhcpClient).To(BeTrue())
	Expect(bond.GetBond().GetMode()).To(Equal(vpp_interfaces.BondLink_LACP))

	var memberNames []string
	for _, member := range bond.GetBond().GetBondedInterfaces() {
		memberNames = append(memberNames, member.Name)
	}
	Expect(memberNames).To(ConsistOf("GigabitEthernet0/8/0", "GigabitEthernet0/9/0"))

	// the member ports themselves are rendered too
	for _, member := range cfg.UplinkSlaves {
		port, isIface := applied[vpp_interfaces.InterfaceKey(member)].(*vpp_interfaces.Interface)
		Expect(isIface).To(BeTrue())
		Expect(port.Type).To(Equal(vpp_interfaces.Interface_DPDK))
		Expect(port.Enabled).To(BeTrue())
	}
}

func TestFloodTunnelKeyedByBridgeDomain(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.Encap = gbpconf.EncapConfig{Mode: gbpconf.EncapModeVXLAN, VxlanPort: 4789}
	f := newFixture(cfg)
	f.apply(&controller.Resync{})
	f.applyLease("10.0.0.5/24", "10.0.0.1")

	owner := model.Key{Class: model.ClassEndpointGroup, URI: "/tenant/gA"}
	txn := f.tracker.NewTxn()
	scope := f.state.BeginScope(owner, txn)

	// the group and its bridge domain carry different identifiers; the
	// flood tunnel belongs to the bridge domain
	name, err := f.uplink.EncapLink(scope, 2570, 300, "239.1.1.1")
	Expect(err).ToNot(HaveOccurred())
	Expect(name).To(Equal("vxlan-mc-300"))
	scope.Close()
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())

	vxlan := f.tracker.AppliedConfig[vpp_interfaces.InterfaceKey(name)].(*vpp_interfaces.Interface)
	Expect(vxlan.GetVxlan().GetVni()).To(BeEquivalentTo(300))
}

func TestEncapLinkFallsBackToConfiguredFloodDestination(t *testing.T) {
	RegisterTestingT(t)
	cfg := testConfig()
	cfg.Encap = gbpconf.EncapConfig{
		Mode:          gbpconf.EncapModeVXLAN,
		VxlanPort:     4789,
		VxlanRemoteIP: "192.0.2.100",
	}
	f := newFixture(cfg)
	f.apply(&controller.Resync{})
	f.applyLease("10.0.0.5/24", "10.0.0.1")

	owner := model.Key{Class: model.ClassEndpointGroup, URI: "/tenant/gA"}
	txn := f.tracker.NewTxn()
	scope := f.state.BeginScope(owner, txn)
	name, err := f.uplink.EncapLink(scope, 2570, 2570, "")
	Expect(err).ToNot(HaveOccurred())
	scope.Close()
	_, err = txn.Commit(context.Background())
	Expect(err).ToNot(HaveOccurred())

	vxlan := f.tracker.AppliedConfig[vpp_interfaces.InterfaceKey(name)].(*vpp_interfaces.Interface)
	Expect(vxlan.GetVxlan().GetDstAddress()).To(Equal("192.0.2.100"))
}

func TestRecordedLeaseIsRestoredOnResync(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())

	// the dataplane agent kept its lease over our restart
	f.dhcpIndex.Put(uplinkIfName, &vpp_interfaces.DHCPLease{
		InterfaceName:   uplinkIfName,
		HostIpAddress:   "10.0.0.5/24",
		RouterIpAddress: "10.0.0.1/24",
	})

	f.apply(&controller.Resync{})

	// the leased address is applied within the resync itself
	Expect(f.uplink.IsReady()).To(BeTrue())
	srcIP, hasIP := f.uplink.TunnelSourceIP()
	Expect(hasIP).To(BeTrue())
	Expect(srcIP.String()).To(Equal("10.0.0.5"))

	applied := f.tracker.AppliedConfig
	Expect(applied).To(HaveKey(vpp_interfaces.InterfaceKey(uplinkTapName)))
	Expect(applied).To(HaveKey(vpp_l3.ProxyARPKey()))
	Expect(applied).To(HaveKey(vpp_l3.RouteKey(uplinkIfName, 0, "0.0.0.0/0", "10.0.0.1")))

	// the restored lease is not re-processed as a fresh notification
	Consistently(f.eventLoop.QueuedEvents).Should(BeEmpty())
}

func TestDHCPNotificationPushesLeaseEvent(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())
	f.apply(&controller.Resync{})

	f.dhcpIndex.Put(uplinkIfName, &vpp_interfaces.DHCPLease{
		InterfaceName:   uplinkIfName,
		HostIpAddress:   "10.0.0.5/24",
		RouterIpAddress: "10.0.0.1/24",
	})

	Eventually(f.eventLoop.QueuedEvents).Should(HaveLen(1))
	lease, isLease := f.eventLoop.QueuedEvents()[0].(*controller.DHCPLeaseAcquired)
	Expect(isLease).To(BeTrue())
	Expect(lease.HostIPAddress).To(Equal("10.0.0.5/24"))
	Expect(lease.RouterIP).To(Equal("10.0.0.1/24"))
}

func TestUnrelatedDHCPLeaseIsIgnored(t *testing.T) {
	RegisterTestingT(t)
	f := newFixture(testConfig())
	f.apply(&controller.Resync{})

	f.dhcpIndex.Put("tap-other", &vpp_interfaces.DHCPLease{
		InterfaceName: "tap-other",
		HostIpAddress: "192.168.1.2/24",
	})

	Consistently(f.eventLoop.QueuedEvents).Should(BeEmpty())
}
