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

package main

import (
	"github.com/ligato/cn-infra/agent"
	"github.com/ligato/cn-infra/health/probe"
	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/ligato/cn-infra/rpc/rest"

	"github.com/gbpvpp/agent/plugins/controller"
	controller_api "github.com/gbpvpp/agent/plugins/controller/api"
	"github.com/gbpvpp/agent/plugins/gbpconf"
	"github.com/gbpvpp/agent/plugins/idalloc"
	"github.com/gbpvpp/agent/plugins/peersync"
	"github.com/gbpvpp/agent/plugins/policy/cache"
	"github.com/gbpvpp/agent/plugins/renderer/endpoint"
	"github.com/gbpvpp/agent/plugins/renderer/epgroup"
	"github.com/gbpvpp/agent/plugins/stats"
	"github.com/gbpvpp/agent/plugins/uplink"
	"github.com/gbpvpp/agent/plugins/vppstate"
)

// GBPAgent groups all plugins of the agent. The startup order is derived
// from the dependency graph by the cn-infra agent.
type GBPAgent struct {
	HealthProbe *probe.Plugin
	HTTP        *rest.Plugin

	GBPConf     *gbpconf.GBPConf
	Stats       *stats.Plugin
	IDAlloc     *idalloc.IDAllocator
	VPPState    *vppstate.VppState
	PolicyCache *cache.PolicyCache
	Uplink      *uplink.Uplink
	PeerSync    *peersync.PeerSync
	EPGroup     *epgroup.Renderer
	Endpoint    *endpoint.Renderer
	Controller  *controller.Controller
}

// String returns the agent name.
func (a *GBPAgent) String() string {
	return "gbp-agent"
}

// Init is called at startup phase. Method added in order to implement
// the Plugin interface.
func (a *GBPAgent) Init() error {
	return nil
}

// Close is called at cleanup phase. Method added in order to implement
// the Plugin interface.
func (a *GBPAgent) Close() error {
	return nil
}

func main() {
	gbpAgent := &GBPAgent{
		HealthProbe: &probe.DefaultPlugin,
		HTTP:        &rest.DefaultPlugin,
		GBPConf:     &gbpconf.DefaultPlugin,
		Stats:       &stats.DefaultPlugin,
		IDAlloc:     &idalloc.DefaultPlugin,
		VPPState:    &vppstate.DefaultPlugin,
		PolicyCache: &cache.DefaultPlugin,
		Uplink:      &uplink.DefaultPlugin,
		PeerSync:    &peersync.DefaultPlugin,
		EPGroup:     &epgroup.DefaultPlugin,
		Endpoint:    &endpoint.DefaultPlugin,
	}

	// the uplink configures first, then group scaffolding, then endpoints;
	// vppstate runs last so that resync transactions carry the full arena
	ctrl := controller.NewPlugin(controller.UseDeps(func(deps *controller.Deps) {
		deps.EventHandlers = []controller_api.EventHandler{
			&peersync.DefaultPlugin,
			&uplink.DefaultPlugin,
			&epgroup.DefaultPlugin,
			&endpoint.DefaultPlugin,
			&vppstate.DefaultPlugin,
		}
	}))
	gbpAgent.Controller = ctrl

	cache.DefaultPlugin.EventLoop = ctrl
	uplink.DefaultPlugin.EventLoop = ctrl
	peersync.DefaultPlugin.EventLoop = ctrl

	a := agent.NewAgent(agent.AllPlugins(gbpAgent))
	if err := a.Run(); err != nil {
		logrus.DefaultLogger().Fatal(err)
	}
}
