package oat

import (
	"fmt"
	"net"

	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/station"
)

// ToStation turns a parsed OAT file into the live configuration
// Station.Configure consumes. ifName(portIndex) names the host TAP
// interface for a port; cmdConfig carries the buffer-size tunables the
// OAT format itself does not express.
func (c *StationConfig) ToStation(ifName func(portIndex int) string, cmdConfig command.Config) station.StationConfig {
	hwaddr := map[int]net.HardwareAddr{}
	for _, h := range c.HWAddrs {
		hwaddr[h.PortIndex] = h.MAC
	}

	routesByPort := map[int][]station.RouteConfig{}
	for _, r := range c.Routes {
		routesByPort[r.PortIndex] = append(routesByPort[r.PortIndex], station.RouteConfig{NetAddr: r.NetAddr, NetMask: r.NetMask})
	}

	optsByPort := map[int]PortOptions{}
	for _, o := range c.PortOpts {
		optsByPort[o.PortIndex] = o
	}

	portIndexes := map[int]bool{}
	for _, e := range c.Entries {
		portIndexes[e.PortIndex] = true
	}

	var cfg station.StationConfig
	cfg.CmdConfig = cmdConfig

	for idx := range portIndexes {
		opts := optsByPort[idx]
		if opts.MTU == 0 {
			opts.MTU = 1500
		}
		cfg.Ports = append(cfg.Ports, station.PortConfig{
			Index:         idx,
			IfName:        ifName(idx),
			MAC:           hwaddr[idx],
			Preconfigured: opts.Preconfigured,
			MTU:           opts.MTU,
			SoftwareCksum: opts.SoftwareCksum,
			SoftwareMcast: opts.SoftwareMcast,
			Routes:        routesByPort[idx],
		})
	}

	for _, e := range c.Entries {
		cfg.Devices = append(cfg.Devices, station.DeviceConfig{
			Addr:       e.Addr,
			Mode:       e.Mode,
			PortIndex:  e.PortIndex,
			Type:       e.Type,
			IP:         e.IP,
			BufferSize: cmdConfig.DefaultBufferSize,
		})
	}

	return cfg
}

// DefaultIfName names a TAP interface tap<portIndex>.
func DefaultIfName(portIndex int) string {
	return fmt.Sprintf("tap%d", portIndex)
}
