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
	"net/http"

	"github.com/unrolled/render"
)

const (
	// urlPrefix is the common prefix of REST urls of the plugin.
	urlPrefix = "/vppstate/"

	// dumpURL returns the merged desired state.
	dumpURL = urlPrefix + "dump"

	// ownersURL returns keys grouped by the asserting owner.
	ownersURL = urlPrefix + "owners"
)

// registerHandlers registers all supported REST APIs.
func (s *VppState) registerHandlers() {
	s.HTTPHandlers.RegisterHTTPHandler(dumpURL, s.dumpGetHandler, "GET")
	s.HTTPHandlers.RegisterHTTPHandler(ownersURL, s.ownersGetHandler, "GET")
}

// dumpGetHandler is the GET handler for the "dump" API.
func (s *VppState) dumpGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		formatter.JSON(w, http.StatusOK, s.Dump())
	}
}

// ownersGetHandler is the GET handler for the "owners" API.
func (s *VppState) ownersGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		formatter.JSON(w, http.StatusOK, s.Owners())
	}
}
