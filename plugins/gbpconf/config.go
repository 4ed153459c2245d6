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

package gbpconf

// Encapsulation modes of uplink traffic.
const (
	// EncapModeVLAN stitches each group onto a dedicated VLAN of the uplink.
	EncapModeVLAN = "vlan"

	// EncapModeVXLAN carries group traffic in VXLAN tunnels sourced from
	// the DHCP-leased uplink address.
	EncapModeVXLAN = "vxlan"
)

// Config is the static configuration of the agent, loaded from a YAML file
// on startup. Everything else arrives through the policy channel.
type Config struct {
	// UplinkInterface is the dataplane name of the uplink port. When left
	// empty, the first physical host interface is used.
	UplinkInterface string `json:"uplinkInterface"`

	// UplinkSlaves lists the member ports when the uplink is a bonded
	// interface.
	UplinkSlaves []string `json:"uplinkSlaves"`

	// ControlVLAN is the VLAN of the control sub-interface over which the
	// uplink address is leased. Zero means the uplink itself is used.
	ControlVLAN uint32 `json:"controlVlan"`

	Encap         EncapConfig          `json:"encap"`
	VirtualRouter VirtualRouterConfig  `json:"virtualRouter"`
	CrossConnects []CrossConnectConfig `json:"crossConnects"`

	// SystemName is announced over LLDP on the uplink.
	SystemName string `json:"systemName"`
}

// EncapConfig selects and parameterizes the uplink encapsulation.
type EncapConfig struct {
	Mode string `json:"mode"` // "vlan" or "vxlan"

	// VxlanRemoteIP is the flood destination of group tunnels without
	// an own multicast group.
	VxlanRemoteIP string `json:"vxlanRemoteIp"`
	VxlanPort     uint32 `json:"vxlanPort"`
}

// VirtualRouterConfig configures the distributed default gateway.
type VirtualRouterConfig struct {
	// Enabled turns on routing between groups through the BVIs. With
	// routing disabled the groups only bridge.
	Enabled bool `json:"enabled"`

	// Advertise makes the dataplane answer ARP for the virtual-router
	// addresses directly.
	Advertise bool `json:"advertise"`

	// MAC is the MAC address of every virtual-router interface.
	MAC string `json:"mac"`
}

// CrossConnectSide is one leg of a static L2 cross-connect.
type CrossConnectSide struct {
	Interface string `json:"interface"`
	VLAN      uint32 `json:"vlan"`
}

// CrossConnectConfig statically patches two ports through the dataplane.
type CrossConnectConfig struct {
	East CrossConnectSide `json:"east"`
	West CrossConnectSide `json:"west"`
}

// defaultConfig returns the configuration used when no file is provided.
func defaultConfig() *Config {
	return &Config{
		Encap: EncapConfig{
			Mode:      EncapModeVXLAN,
			VxlanPort: 4789,
		},
		VirtualRouter: VirtualRouterConfig{
			Enabled:   true,
			Advertise: true,
			MAC:       "00:22:bd:f8:19:ff",
		},
	}
}
