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
	"net/http"

	"github.com/unrolled/render"
)

// stateURL returns the operational state of the uplink.
const stateURL = "/uplink/state"

// uplinkState is the JSON view of the uplink returned over REST.
type uplinkState struct {
	Interface        string `json:"interface"`
	ControlInterface string `json:"controlInterface"`
	EncapMode        string `json:"encapMode"`
	Ready            bool   `json:"ready"`
	Address          string `json:"address,omitempty"`
	Router           string `json:"router,omitempty"`
}

// registerHandlers registers all supported REST APIs.
func (u *Uplink) registerHandlers() {
	u.HTTPHandlers.RegisterHTTPHandler(stateURL, u.stateGetHandler, "GET")
}

// stateGetHandler is the GET handler for the "state" API.
func (u *Uplink) stateGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		state := uplinkState{
			Interface:        u.InterfaceName(),
			ControlInterface: u.ControlInterfaceName(),
			EncapMode:        u.config.Encap.Mode,
			Ready:            u.IsReady(),
		}
		if u.lease != nil {
			state.Address = u.lease.hostAddr.String()
			if u.lease.routerIP != nil {
				state.Router = u.lease.routerIP.String()
			}
		}
		formatter.JSON(w, http.StatusOK, state)
	}
}
