/*
Package oat parses the Offload Adapter Table (OAT): the configuration
file mapping device addresses to ports, modes, and IPs, plus per-port
MAC/route/option lines. Line scanning and error wrapping use a
bufio.Reader plus a running line number, wrapped into every error via
fmt.Errorf, against this format's fixed positional fields.
*/
package oat

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/port"
)

// OATEntry is one parsed device-address line.
type OATEntry struct {
	Addr      uint16
	Mode      command.Mode
	PortIndex int
	Type      port.DeviceType
	IP        net.IP
}

// Route is one parsed ROUTE line, bound to a port.
type Route struct {
	PortIndex int
	NetAddr   string
	NetMask   string
}

// PortOptions is one parsed PORTOPT line.
type PortOptions struct {
	PortIndex     int
	MTU           int
	SoftwareCksum bool
	SoftwareMcast bool
	Preconfigured bool
}

// HWAddr is one parsed HWADD line.
type HWAddr struct {
	PortIndex int
	MAC       net.HardwareAddr
}

// StationConfig is the whole parsed OAT file.
type StationConfig struct {
	Entries  []OATEntry
	HWAddrs  []HWAddr
	Routes   []Route
	PortOpts []PortOptions
}

// Load reads and parses the OAT file at path.
func Load(path string) (*StationConfig, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("oat: open %s: %w", path, err)
	}
	defer file.Close()

	cfg := &StationConfig{}
	reader := bufio.NewReader(file)
	lineNumber := 0
	for {
		raw, err := reader.ReadString('\n')
		lineNumber++
		if len(raw) == 0 && err != nil {
			if err == io.EOF {
				break
			}
			return nil, fmt.Errorf("oat:%d: %w", lineNumber, err)
		}

		if perr := parseLine(cfg, raw); perr != nil {
			return nil, fmt.Errorf("oat:%d: %w", lineNumber, perr)
		}

		if err == io.EOF {
			break
		}
	}
	return cfg, nil
}

func parseLine(cfg *StationConfig, raw string) error {
	line := raw
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		line = line[:idx]
	}
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	keyword := strings.ToUpper(fields[0])
	switch keyword {
	case "HWADD":
		return parseHWAddr(cfg, fields)
	case "ROUTE":
		return parseRoute(cfg, fields)
	case "PORTOPT":
		return parsePortOpt(cfg, fields)
	default:
		return parseDevice(cfg, fields)
	}
}

func parseHWAddr(cfg *StationConfig, fields []string) error {
	if len(fields) != 3 {
		return fmt.Errorf("oat: HWADD requires port and mac, got %q", strings.Join(fields, " "))
	}
	portIdx, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("oat: HWADD port %q: %w", fields[1], err)
	}
	mac, err := net.ParseMAC(fields[2])
	if err != nil {
		return fmt.Errorf("oat: HWADD mac %q: %w", fields[2], err)
	}
	cfg.HWAddrs = append(cfg.HWAddrs, HWAddr{PortIndex: portIdx, MAC: mac})
	return nil
}

func parseRoute(cfg *StationConfig, fields []string) error {
	if len(fields) != 4 {
		return fmt.Errorf("oat: ROUTE requires port, net-addr, and net-mask, got %q", strings.Join(fields, " "))
	}
	portIdx, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("oat: ROUTE port %q: %w", fields[1], err)
	}
	if net.ParseIP(fields[2]) == nil {
		return fmt.Errorf("oat: ROUTE net-addr %q is not a valid IP", fields[2])
	}
	if net.ParseIP(fields[3]) == nil {
		return fmt.Errorf("oat: ROUTE net-mask %q is not a valid IP", fields[3])
	}
	cfg.Routes = append(cfg.Routes, Route{PortIndex: portIdx, NetAddr: fields[2], NetMask: fields[3]})
	return nil
}

func parsePortOpt(cfg *StationConfig, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("oat: PORTOPT requires a port index, got %q", strings.Join(fields, " "))
	}
	portIdx, err := strconv.Atoi(fields[1])
	if err != nil {
		return fmt.Errorf("oat: PORTOPT port %q: %w", fields[1], err)
	}
	opts := PortOptions{PortIndex: portIdx, MTU: 1500}
	for _, opt := range fields[2:] {
		switch {
		case strings.HasPrefix(strings.ToUpper(opt), "MTU="):
			mtu, err := strconv.Atoi(opt[4:])
			if err != nil {
				return fmt.Errorf("oat: PORTOPT MTU %q: %w", opt, err)
			}
			opts.MTU = mtu
		case strings.EqualFold(opt, "SWCKSUM"):
			opts.SoftwareCksum = true
		case strings.EqualFold(opt, "SWMCAST"):
			opts.SoftwareMcast = true
		case strings.EqualFold(opt, "PRECONFIG"):
			opts.Preconfigured = true
		default:
			return fmt.Errorf("oat: PORTOPT unknown option %q", opt)
		}
	}
	cfg.PortOpts = append(cfg.PortOpts, opts)
	return nil
}

// parseDevice handles the default line shape:
// <devaddr-hex> <IP|SNA> <port> [PRI|SEC] [ip-addr]
func parseDevice(cfg *StationConfig, fields []string) error {
	if len(fields) < 3 {
		return fmt.Errorf("oat: device line requires address, mode, and port, got %q", strings.Join(fields, " "))
	}

	addr, err := strconv.ParseUint(fields[0], 16, 16)
	if err != nil {
		return fmt.Errorf("oat: device address %q: %w", fields[0], err)
	}

	var mode command.Mode
	switch strings.ToUpper(fields[1]) {
	case "IP":
		mode = command.ModeIP
	case "SNA":
		mode = command.ModeSNA
	default:
		return fmt.Errorf("oat: unknown device mode %q", fields[1])
	}

	portIdx, err := strconv.Atoi(fields[2])
	if err != nil {
		return fmt.Errorf("oat: device port %q: %w", fields[2], err)
	}

	entry := OATEntry{Addr: uint16(addr), Mode: mode, PortIndex: portIdx, Type: port.DeviceNone}

	rest := fields[3:]
	for _, f := range rest {
		switch strings.ToUpper(f) {
		case "PRI":
			entry.Type = port.DevicePrimary
		case "SEC":
			entry.Type = port.DeviceSecondary
		default:
			ip := net.ParseIP(f)
			if ip == nil {
				return fmt.Errorf("oat: device option %q is neither PRI/SEC nor a valid IP", f)
			}
			entry.IP = ip
		}
	}

	cfg.Entries = append(cfg.Entries, entry)
	return nil
}
