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

package gbpmodel

import (
	"fmt"
)

const (
	// KeyPrefix is the common prefix of all group-based policy keys.
	KeyPrefix = "config/gbp/v1/"

	// EndpointGroupKeyPrefix is the common prefix of endpoint group keys.
	EndpointGroupKeyPrefix = KeyPrefix + "epg/"

	// EndpointKeyPrefix is the common prefix of endpoint keys.
	EndpointKeyPrefix = KeyPrefix + "endpoint/"

	// SubnetKeyPrefix is the common prefix of subnet keys.
	SubnetKeyPrefix = KeyPrefix + "subnet/"

	// RecircKeyPrefix is the common prefix of recirculation keys.
	RecircKeyPrefix = KeyPrefix + "recirc/"

	// EthertypeACLKeyPrefix is the common prefix of ethertype ACL keys.
	EthertypeACLKeyPrefix = KeyPrefix + "ethertype-acl/"

	// LLDPKey is the key of the singleton LLDP configuration.
	LLDPKey = KeyPrefix + "lldp"
)

// EndpointGroupKey returns the key of the group with the given VNID.
func EndpointGroupKey(vnid uint32) string {
	return fmt.Sprintf("%s%d", EndpointGroupKeyPrefix, vnid)
}

// EndpointKey returns the key of the named endpoint.
func EndpointKey(name string) string {
	return EndpointKeyPrefix + name
}

// SubnetKey returns the key of the subnet within the given VRF.
func SubnetKey(vrfID uint32, prefix string) string {
	return fmt.Sprintf("%svrf/%d/%s", SubnetKeyPrefix, vrfID, prefix)
}

// RecircKey returns the key of the recirculation via the given interface.
func RecircKey(ifName string) string {
	return RecircKeyPrefix + ifName
}

// EthertypeACLKey returns the key of the ethertype ACL of the interface.
func EthertypeACLKey(ifName string) string {
	return EthertypeACLKeyPrefix + ifName
}
