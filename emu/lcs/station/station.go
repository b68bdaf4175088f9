/*
Package station wires the frame codec, per-device ring, command
processor, port reader, and attention thread into the two top-level
entities the rest of the repository talks to: Station (one emulator
instance) and Device (one LCS device, also the adapter that lets a
hosting channel dispatcher drive this code through emu/device.Device).
*/
package station

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/port"
	"github.com/rcornwell/lcsstation/emu/lcs/ring"
	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// DefNetReadTimeout bounds a blocked channel Read.
const DefNetReadTimeout = 5 * time.Second

// TapDevice is the host TAP adapter a Port reads from and writes to.
type TapDevice interface {
	ReadTimeout(buf []byte, timeout time.Duration) (int, error)
	Write(buf []byte) (int, error)
	Close() error
}

// LinkAdmin is the host network administration surface a Port's
// StartLan/StopLan handlers drive.
type LinkAdmin interface {
	SetUp(ifName string, mac net.HardwareAddr) error
	SetDown(ifName string) error
	SetMTU(ifName string, mtu int) error
	AddRoute(ifName, netAddr, netMask string) error
	DelRoute(ifName, netAddr, netMask string) error
	AddMulticast(ifName string, mac net.HardwareAddr) error
	DelMulticast(ifName string, mac net.HardwareAddr) error
	HardwareAddr(ifName string) (net.HardwareAddr, error)
}

// AttentionRaiser is implemented by the hosting channel subsystem.
type AttentionRaiser interface {
	DeviceAttention(devAddr uint16, status uint8) attn.Result
}

// RouteConfig is one OAT ROUTE line bound to a port.
type RouteConfig struct {
	NetAddr string
	NetMask string
}

// PortConfig seeds one Port at construction.
type PortConfig struct {
	Index         int
	IfName        string
	MAC           net.HardwareAddr
	Preconfigured bool
	MTU           int
	SoftwareCksum bool
	SoftwareMcast bool
	Routes        []RouteConfig
}

// Port is a station-level port: the TAP-backed group of devices plus
// the real interface configuration the command processor drives.
type Port struct {
	cfg    PortConfig
	tap    TapDevice
	link   LinkAdmin
	reader *port.Port

	mu      sync.Mutex
	started bool
	created bool
	used    bool

	log *slog.Logger
}

func newPort(cfg PortConfig, tap TapDevice, link LinkAdmin, log *slog.Logger) *Port {
	return &Port{cfg: cfg, tap: tap, link: link, created: true, used: true, log: log}
}

func (p *Port) Index() int               { return p.cfg.Index }
func (p *Port) MAC() net.HardwareAddr     { return p.cfg.MAC }
func (p *Port) SetMAC(m net.HardwareAddr) { p.cfg.MAC = m }
func (p *Port) Preconfigured() bool       { return p.cfg.Preconfigured }

func (p *Port) UsedCreatedNotStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used && p.created && !p.started
}

func (p *Port) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

func (p *Port) SetStarted(v bool) {
	p.mu.Lock()
	p.started = v
	p.mu.Unlock()
	p.reader.SetStarted(v)
}

func (p *Port) SoftwareMulticast() bool { return p.cfg.SoftwareMcast }

func (p *Port) AddMulticast(mac net.HardwareAddr) error {
	if p.cfg.SoftwareMcast {
		return p.reader.AddMulticast(mac)
	}
	return p.link.AddMulticast(p.cfg.IfName, mac)
}

func (p *Port) DelMulticast(mac net.HardwareAddr) error {
	if p.cfg.SoftwareMcast {
		return p.reader.DelMulticast(mac)
	}
	return p.link.DelMulticast(p.cfg.IfName, mac)
}

func (p *Port) HostMAC() (net.HardwareAddr, bool) {
	mac, err := p.link.HardwareAddr(p.cfg.IfName)
	if err != nil {
		return nil, false
	}
	return mac, true
}

func (p *Port) AssistsSupported() uint16 {
	return wire.AssistMulticast | wire.AssistInCksum | wire.AssistOutCksum
}

func (p *Port) AssistsEnabled() uint16 {
	supported := p.AssistsSupported()
	if !p.cfg.SoftwareCksum {
		supported &^= wire.AssistInCksum | wire.AssistOutCksum
	}
	return supported
}

func (p *Port) MulticastCapacity() uint16 { return wire.MaxIPMPairs }

// EnableInterface is StartLan's interface configuration step: bring
// the link up, add OAT routes, and add a point-to-point route for
// the device's IP, skipped entirely when the port is preconfigured.
func (p *Port) EnableInterface(devIP net.IP) error {
	if p.cfg.Preconfigured {
		return nil
	}
	if err := p.link.SetMTU(p.cfg.IfName, 1500); err != nil {
		return fmt.Errorf("station: set mtu: %w", err)
	}
	if err := p.link.SetUp(p.cfg.IfName, p.cfg.MAC); err != nil {
		return fmt.Errorf("station: set up: %w", err)
	}
	for _, r := range p.cfg.Routes {
		if err := p.link.AddRoute(p.cfg.IfName, r.NetAddr, r.NetMask); err != nil {
			return fmt.Errorf("station: add route %s/%s: %w", r.NetAddr, r.NetMask, err)
		}
	}
	if devIP != nil {
		if err := p.link.AddRoute(p.cfg.IfName, devIP.String(), "255.255.255.255"); err != nil {
			return fmt.Errorf("station: add device route: %w", err)
		}
	}
	return nil
}

// DisableInterface is StopLan's interface teardown step.
func (p *Port) DisableInterface() error {
	if p.cfg.Preconfigured {
		return nil
	}
	for _, r := range p.cfg.Routes {
		_ = p.link.DelRoute(p.cfg.IfName, r.NetAddr, r.NetMask)
	}
	if err := p.link.SetDown(p.cfg.IfName); err != nil {
		return fmt.Errorf("station: set down: %w", err)
	}
	return nil
}

// DeviceConfig seeds one Device at construction.
type DeviceConfig struct {
	Addr       uint16
	Mode       command.Mode
	PortIndex  int
	Type       port.DeviceType
	IP         net.IP
	BufferSize int
}

// pendingIO stages the CCW data area around one StartCmd call, since
// the byte-level channel framework that would otherwise carry it lives
// outside this package.
type pendingIO struct {
	mu     sync.Mutex
	buf    []byte
	status uint8
	sense  uint8
}

// Device is one LCS device: ring, flags, and the command.Device /
// port.TargetDevice adapter methods. It also implements
// emu/device.Device so a hosting channel dispatcher can drive it
// through the usual Write/Read/Sense/Control CCW opcodes.
type Device struct {
	cfg  DeviceConfig
	ring *ring.Ring
	port *Port
	proc *command.Processor
	tap  TapDevice
	io   pendingIO

	mu          sync.Mutex
	started     bool
	readWaiting bool
	haltOrClear bool

	log *slog.Logger
}

func newDevice(cfg DeviceConfig, r *ring.Ring, p *Port, proc *command.Processor, tap TapDevice, log *slog.Logger) *Device {
	return &Device{cfg: cfg, ring: r, port: p, proc: proc, tap: tap, log: log}
}

// -- command.Device --

func (d *Device) Addr() uint16      { return d.cfg.Addr }
func (d *Device) Mode() command.Mode { return d.cfg.Mode }
func (d *Device) IP() net.IP        { return d.cfg.IP }
func (d *Device) PortIndex() int    { return d.cfg.PortIndex }

func (d *Device) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *Device) SetStarted(v bool) {
	d.mu.Lock()
	d.started = v
	d.mu.Unlock()
}

func (d *Device) BufferSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfg.BufferSize
}

func (d *Device) SetBufferSize(v int) {
	d.mu.Lock()
	d.cfg.BufferSize = v
	d.mu.Unlock()
}

func (d *Device) EnqueueReply(ctx context.Context, reply []byte, baffleRequired bool) error {
	return d.ring.EnqueueReply(ctx, reply, baffleRequired)
}

// -- port.TargetDevice --

func (d *Device) Type() port.DeviceType { return d.cfg.Type }

func (d *Device) IsSNA() bool { return d.cfg.Mode == command.ModeSNA }

func (d *Device) EnqueueEth(ctx context.Context, portSlot uint8, payload []byte) error {
	return d.ring.EnqueueEth(ctx, portSlot, payload)
}

// Pending reports whether the device's ring has data the attention
// thread should keep nudging the guest about.
func (d *Device) Pending() bool { return d.ring.Pending() }
