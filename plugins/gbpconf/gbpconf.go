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

// Package gbpconf loads and validates the static agent configuration.
package gbpconf

import (
	"io/ioutil"
	"net"
	"os"

	"github.com/ghodss/yaml"
	"github.com/ligato/cn-infra/infra"
	"github.com/namsral/flag"
	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
)

// configFlagName is the CLI flag (and env var, uppercased by the flag
// library) selecting the configuration file.
const configFlagName = "gbp-config"

var configFile = flag.String(configFlagName, "/etc/gbpvpp/gbp.conf",
	"location of the agent configuration file")

// API provides read access to the loaded configuration.
type API interface {
	// GetConfig returns the loaded configuration. Never nil after Init.
	GetConfig() *Config
}

// GBPConf implements API.
type GBPConf struct {
	Deps

	config *Config
}

// Deps lists dependencies of the GBPConf plugin.
type Deps struct {
	infra.PluginDeps
}

// Init loads the configuration file and fills in the defaults.
func (p *GBPConf) Init() error {
	if !flag.Parsed() {
		flag.Parse()
	}

	p.config = defaultConfig()
	if err := p.loadFile(*configFile); err != nil {
		return err
	}
	if err := p.validate(); err != nil {
		return err
	}
	if p.config.UplinkInterface == "" {
		uplink, err := autodetectUplink()
		if err != nil {
			return err
		}
		p.config.UplinkInterface = uplink
		p.Log.Infof("auto-detected uplink interface: %s", uplink)
	}
	p.Log.Infof("loaded configuration: %+v", p.config)
	return nil
}

// Close is NOOP.
func (p *GBPConf) Close() error {
	return nil
}

// GetConfig returns the loaded configuration.
func (p *GBPConf) GetConfig() *Config {
	return p.config
}

func (p *GBPConf) loadFile(path string) error {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			p.Log.Warnf("configuration file %s does not exist, using defaults", path)
			return nil
		}
		return errors.Wrapf(err, "failed to read configuration file %s", path)
	}
	if err := yaml.Unmarshal(content, p.config); err != nil {
		return errors.Wrapf(err, "failed to parse configuration file %s", path)
	}
	return nil
}

func (p *GBPConf) validate() error {
	cfg := p.config
	if cfg.Encap.Mode != EncapModeVLAN && cfg.Encap.Mode != EncapModeVXLAN {
		return errors.Errorf("unsupported encap mode %q", cfg.Encap.Mode)
	}
	if cfg.Encap.Mode == EncapModeVXLAN {
		if cfg.Encap.VxlanPort == 0 || cfg.Encap.VxlanPort > 65535 {
			return errors.Errorf("invalid VXLAN port %d", cfg.Encap.VxlanPort)
		}
		if cfg.Encap.VxlanRemoteIP != "" && net.ParseIP(cfg.Encap.VxlanRemoteIP) == nil {
			return errors.Errorf("invalid VXLAN remote endpoint %q", cfg.Encap.VxlanRemoteIP)
		}
	}
	if _, err := net.ParseMAC(cfg.VirtualRouter.MAC); err != nil {
		return errors.Wrapf(err, "invalid virtual-router MAC %q", cfg.VirtualRouter.MAC)
	}
	for _, xconn := range cfg.CrossConnects {
		if xconn.East.Interface == "" || xconn.West.Interface == "" {
			return errors.New("cross-connect with an unnamed interface")
		}
	}
	return nil
}

// autodetectUplink returns the name of the first physical host interface.
func autodetectUplink() (string, error) {
	links, err := netlink.LinkList()
	if err != nil {
		return "", errors.Wrap(err, "failed to list host interfaces")
	}
	for _, link := range links {
		attrs := link.Attrs()
		if attrs == nil || attrs.Name == "lo" {
			continue
		}
		if link.Type() == "device" {
			return attrs.Name, nil
		}
	}
	return "", errors.New("no uplink interface configured and none detected")
}
