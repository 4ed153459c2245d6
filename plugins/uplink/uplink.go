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

// Package uplink manages the connection of the dataplane to the fabric:
// the uplink port, the control sub-interface with its DHCP-leased address,
// the punt tap towards the host and the per-group encap links.
package uplink

import (
	"net"
	"os"

	"github.com/gogo/protobuf/proto"
	"github.com/ligato/cn-infra/idxmap"
	"github.com/ligato/cn-infra/infra"
	"github.com/ligato/cn-infra/rpc/rest"
	"github.com/pkg/errors"

	vpp_interfaces "github.com/ligato/vpp-agent/api/models/vpp/interfaces"

	controller "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/policy/model"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

// uplinkOwner is the desired-state owner of all uplink objects.
var uplinkOwner = model.Key{Class: "uplink", URI: "vpp-uplink"}

// API is the access to the uplink state for the renderers.
type API interface {
	// IsReady tells whether the uplink has an address and tunnels can be
	// sourced from it.
	IsReady() bool

	// InterfaceName returns the dataplane name of the uplink port.
	InterfaceName() string

	// ControlInterfaceName returns the interface holding the uplink
	// address (the control VLAN sub-interface, or the uplink itself).
	ControlInterfaceName() string

	// TunnelSourceIP returns the DHCP-leased address.
	TunnelSourceIP() (net.IP, bool)

	// EncapLink asserts the encap link of the group into the caller's
	// scope and returns its interface name. The stitched VLAN is tagged
	// with <vnid>; the transport tunnel is keyed by the bridge domain's
	// <bdVnid> and floods to <mcastIP> (or to the configured remote
	// endpoint when the group has no flood address).
	EncapLink(scope vppstate.Scope, vnid, bdVnid uint32, mcastIP string) (ifName string, err error)
}

// Uplink implements API and renders the uplink objects on events.
type Uplink struct {
	Deps

	config *gbpconf.Config

	lease *leaseInfo

	// variables used only in the context of goroutines running
	// handleDHCPNotification
	lastDHCPLease *vpp_interfaces.DHCPLease

	watchingDHCP bool
}

// Deps lists dependencies of the Uplink plugin.
type Deps struct {
	infra.PluginDeps

	GBPConf      gbpconf.API
	VPPState     vppstate.API
	EventLoop    controller.EventLoop
	VPPIfPlugin  DHCPIndexProvider
	HTTPHandlers rest.HTTPHandlers // optional

	// DHCPIndex is the index of DHCP leases to watch. When nil, it is
	// obtained from VPPIfPlugin. Tests inject their own mapping here.
	DHCPIndex idxmap.NamedMapping
}

// DHCPIndexProvider exposes the DHCP lease index of the dataplane agent.
// Satisfied by the vpp-agent interface plugin.
type DHCPIndexProvider interface {
	GetDHCPIndex() idxmap.NamedMapping
}

type leaseInfo struct {
	hostAddr net.IP
	hostNet  *net.IPNet
	routerIP net.IP
}

// Init reads the configuration and locates the DHCP lease index.
func (u *Uplink) Init() error {
	u.config = u.GBPConf.GetConfig()
	if u.DHCPIndex == nil && u.VPPIfPlugin != nil {
		u.DHCPIndex = u.VPPIfPlugin.GetDHCPIndex()
	}
	if u.HTTPHandlers != nil {
		u.registerHandlers()
	}
	return nil
}

// Close is NOOP.
func (u *Uplink) Close() error {
	return nil
}

// String identifies the event handler.
func (u *Uplink) String() string {
	return "uplink"
}

// HandlesEvent selects Resync and DHCP lease events.
func (u *Uplink) HandlesEvent(event controller.Event) bool {
	switch event.(type) {
	case *controller.Resync:
		return true
	case *controller.DHCPLeaseAcquired:
		return true
	}
	return false
}

// Update renders the uplink objects for the given event.
func (u *Uplink) Update(event controller.Event, txn controller.Transaction) (string, error) {
	switch ev := event.(type) {
	case *controller.Resync:
		u.watchDHCP()
		change := "configure uplink"
		// a lease already recorded by the dataplane agent (restart of
		// this agent only) is applied inline instead of waiting for the
		// next Discover round
		if u.lease == nil {
			if dhcpLease := u.recordedLease(); dhcpLease != nil {
				lease, err := parseLease(
					dhcpLease.HostIpAddress, dhcpLease.RouterIpAddress)
				if err != nil {
					return "", err
				}
				u.lastDHCPLease = dhcpLease
				u.lease = lease
				change += ", restore leased address " + dhcpLease.HostIpAddress
			}
		}
		u.render(txn)
		return change, nil

	case *controller.DHCPLeaseAcquired:
		lease, err := parseLease(ev.HostIPAddress, ev.RouterIP)
		if err != nil {
			return "", err
		}
		u.lease = lease
		u.render(txn)
		return "apply uplink address " + ev.HostIPAddress, nil
	}
	return "", nil
}

// recordedLease returns the lease of the control interface already present
// in the DHCP index, if any.
func (u *Uplink) recordedLease() *vpp_interfaces.DHCPLease {
	if u.DHCPIndex == nil {
		return nil
	}
	value, found := u.DHCPIndex.GetValue(u.ControlInterfaceName())
	if !found {
		return nil
	}
	dhcpLease, isDHCPLease := value.(*vpp_interfaces.DHCPLease)
	if !isDHCPLease {
		u.Log.Warn("invalid metadata under the control interface DHCP lease")
		return nil
	}
	return dhcpLease
}

// IsReady tells whether the uplink has an address.
func (u *Uplink) IsReady() bool {
	return u.lease != nil
}

// InterfaceName returns the dataplane name of the uplink port.
func (u *Uplink) InterfaceName() string {
	return u.config.UplinkInterface
}

// ControlInterfaceName returns the interface holding the uplink address.
func (u *Uplink) ControlInterfaceName() string {
	if u.config.ControlVLAN != 0 {
		return subInterfaceName(u.config.UplinkInterface, u.config.ControlVLAN)
	}
	return u.config.UplinkInterface
}

// TunnelSourceIP returns the DHCP-leased address.
func (u *Uplink) TunnelSourceIP() (net.IP, bool) {
	if u.lease == nil {
		return nil, false
	}
	return u.lease.hostAddr, true
}

// EncapLink asserts the encap link of the given group into the caller's
// scope.
func (u *Uplink) EncapLink(scope vppstate.Scope, vnid, bdVnid uint32, mcastIP string) (string, error) {
	if u.config.Encap.Mode == gbpconf.EncapModeVLAN {
		key, subIf := u.encapVLANSubIf(vnid)
		scope.Assert(key, subIf)
		return subIf.Name, nil
	}

	// VXLAN mode
	if u.lease == nil {
		return "", errors.New("uplink address not leased yet, cannot source tunnels")
	}
	if mcastIP == "" {
		mcastIP = u.config.Encap.VxlanRemoteIP
	}
	if mcastIP == "" {
		return "", errors.Errorf("no flood destination for VNID %d", bdVnid)
	}
	key, vxlan := u.encapVxlanTunnel(bdVnid, mcastIP)
	scope.Assert(key, vxlan)
	return vxlan.Name, nil
}

// watchDHCP starts watching DHCP notifications, once.
func (u *Uplink) watchDHCP() {
	if u.DHCPIndex == nil || u.watchingDHCP {
		return
	}
	u.DHCPIndex.Watch("uplink", u.handleDHCPNotification)
	u.watchingDHCP = true
}

// handleDHCPNotification re-dispatches a DHCP lease notification into the
// event loop. Runs outside the event loop goroutine.
func (u *Uplink) handleDHCPNotification(notif idxmap.NamedMappingGenericEvent) {
	u.Log.Info("DHCP notification received")

	if notif.Del {
		u.lastDHCPLease = nil
		u.Log.Info("Ignoring event of removed DHCP lease")
		return
	}
	if notif.Value == nil {
		u.Log.Warn("DHCP notification metadata is empty")
		return
	}
	dhcpLease, isDHCPLease := notif.Value.(*vpp_interfaces.DHCPLease)
	if !isDHCPLease {
		u.Log.Warn("Received invalid DHCP notification")
		return
	}
	if dhcpLease.InterfaceName != u.ControlInterfaceName() {
		u.Log.Debugf("DHCP notification for unrelated interface (%s)",
			dhcpLease.InterfaceName)
		return
	}
	if proto.Equal(dhcpLease, u.lastDHCPLease) {
		u.Log.Info("Ignoring DHCP event - this lease was already processed")
		return
	}
	u.lastDHCPLease = dhcpLease

	err := u.EventLoop.PushEvent(&controller.DHCPLeaseAcquired{
		InterfaceName: dhcpLease.InterfaceName,
		HostIPAddress: dhcpLease.HostIpAddress,
		RouterIP:      dhcpLease.RouterIpAddress,
	})
	if err != nil {
		u.Log.Errorf("failed to push DHCP lease event: %v", err)
	}
}

// parseLease parses the addresses of a DHCP lease.
func parseLease(hostIPAddress, routerIP string) (*leaseInfo, error) {
	hostAddr, hostNet, err := net.ParseCIDR(hostIPAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse leased address %q", hostIPAddress)
	}
	lease := &leaseInfo{hostAddr: hostAddr, hostNet: hostNet}
	if routerIP != "" {
		if parsed, _, err := net.ParseCIDR(routerIP); err == nil {
			lease.routerIP = parsed
		} else if parsed := net.ParseIP(routerIP); parsed != nil {
			lease.routerIP = parsed
		} else {
			return nil, errors.Errorf("failed to parse router address %q", routerIP)
		}
	}
	return lease, nil
}

func (u *Uplink) systemName() string {
	if u.config.SystemName != "" {
		return u.config.SystemName
	}
	hostname, err := os.Hostname()
	if err != nil {
		return "gbp-vpp"
	}
	return hostname
}
