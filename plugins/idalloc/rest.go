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

package idalloc

import (
	"net/http"

	"github.com/unrolled/render"
)

// dumpURL returns the content of all allocation pools.
const dumpURL = "/idalloc/dump"

// registerHandlers registers all supported REST APIs.
func (a *IDAllocator) registerHandlers() {
	a.HTTPHandlers.RegisterHTTPHandler(dumpURL, a.dumpGetHandler, "GET")
}

// dumpGetHandler is the GET handler for the "dump" API.
func (a *IDAllocator) dumpGetHandler(formatter *render.Render) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		formatter.JSON(w, http.StatusOK, a.Dump())
	}
}
