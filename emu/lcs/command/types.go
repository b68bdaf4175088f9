/*
Package command implements the command processor: the IP-mode and
SNA-mode command handlers that consume a decoded command frame,
mutate port/device state, and enqueue a reply onto the device's ring.

The processor is deliberately decoupled from any concrete Port/Device
type (station.Port/station.Device implement these interfaces) so it
can be tested with fakes instead of a live Port/Device pair.
*/
package command

import (
	"context"
	"net"

	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// Mode distinguishes an IP-passthrough device from an SNA device.
type Mode int

const (
	ModeIP Mode = iota
	ModeSNA
)

// Device is the command processor's view of one LCS device.
type Device interface {
	Addr() uint16
	Mode() Mode
	IP() net.IP // nil if unset
	PortIndex() int

	Started() bool
	SetStarted(bool)

	BufferSize() int
	SetBufferSize(int)

	// EnqueueReply appends a pre-built reply to the device's ring,
	// blocking under backpressure per ring.Ring.EnqueueReply.
	EnqueueReply(ctx context.Context, reply []byte, baffleRequired bool) error
}

// Port is the command processor's view of one LCS port (a TAP-backed
// group of devices).
type Port interface {
	Index() int
	MAC() net.HardwareAddr
	SetMAC(net.HardwareAddr)
	Preconfigured() bool

	UsedCreatedNotStarted() bool
	Started() bool

	// EnableInterface sets MTU 1500 and brings the host interface up with
	// the port MAC (unless preconfigured), adds OAT routes, and adds a
	// point-to-point route for the device's IP. The interface's own IP
	// address is left unchanged.
	EnableInterface(devIP net.IP) error
	// DisableInterface brings the interface down and removes routes
	// added by EnableInterface.
	DisableInterface() error

	// SetStarted flips the port's started flag and wakes its reader,
	// implementing update_port_started(bool).
	SetStarted(bool)

	// SoftwareMulticast reports whether this port performs multicast
	// filtering itself (host could not enable kernel-level filtering).
	SoftwareMulticast() bool
	AddMulticast(mac net.HardwareAddr) error
	DelMulticast(mac net.HardwareAddr) error

	// HostMAC probes the real host NIC's hardware address, if
	// retrievable.
	HostMAC() (net.HardwareAddr, bool)

	AssistsSupported() uint16
	AssistsEnabled() uint16
	MulticastCapacity() uint16
}

// AttnQueue is the subset of attn.Queue the SNA handlers need.
type AttnQueue interface {
	Push(attn.Request)
}

// Config bundles the tunables the processor needs at construction.
type Config struct {
	MinBufferSize     int
	MaxBufferSize     int
	DefaultBufferSize int
	ReadLenFloor      uint32
}

// Processor dispatches command frames to per-command handlers.
type Processor struct {
	cfg   Config
	attnQ AttnQueue
}

// New creates a command processor. attnQ may be nil if no SNA device
// will ever be configured.
func New(cfg Config, attnQ AttnQueue) *Processor {
	return &Processor{cfg: cfg, attnQ: attnQ}
}

// Dispatch routes one decoded command frame (header + body, where body
// is everything after the 12-byte command header) to the appropriate
// handler. Unknown initiator LGW frames are silently ignored.
func (p *Processor) Dispatch(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader, body []byte) error {
	if hdr.Initiator == wire.InitiatorLGW {
		return nil
	}
	switch hdr.Cmd {
	case wire.CmdStartup:
		return p.startup(ctx, dev, hdr)
	case wire.CmdShutdown:
		return p.shutdown(ctx, dev, hdr)
	case wire.CmdStrtLan:
		return p.startLan(ctx, port, dev, hdr)
	case wire.CmdStopLan:
		return p.stopLan(ctx, port, dev, hdr)
	case wire.CmdQIPAssist:
		return p.queryIPAssists(ctx, port, dev, hdr)
	case wire.CmdLanStat:
		return p.lanStats(ctx, port, dev, hdr)
	case wire.CmdSetIPM:
		return p.setIPM(ctx, port, dev, hdr, body)
	case wire.CmdDelIPM:
		return p.delIPM(ctx, port, dev, hdr, body)
	case wire.CmdSNAStrtLan:
		return p.snaStartLanOnPort(ctx, port, dev, hdr)
	case wire.CmdSNAStopLan:
		return p.snaStopLan(ctx, dev, hdr)
	case wire.CmdSNALanStat:
		return p.snaLanStats(ctx, port, dev, hdr)
	default:
		return p.defaultReply(ctx, dev, hdr)
	}
}

// DispatchBaffle passes an inbound SNA baffle frame through to the ring
// verbatim; the baffle body carries no further processed semantics
// here, only the guest-bound envelope.
func (p *Processor) DispatchBaffle(ctx context.Context, dev Device, raw []byte) error {
	reply := make([]byte, len(raw))
	copy(reply, raw)
	return dev.EnqueueReply(ctx, reply, false)
}

func (p *Processor) defaultReply(ctx context.Context, dev Device, hdr wire.CmdHeader) error {
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	return dev.EnqueueReply(ctx, reply, false)
}

// incLastOctet returns mac with its last octet incremented by one, the
// convention LanStats/SNA replies use so the guest-visible MAC differs
// from the host-visible one by one.
func incLastOctet(mac net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	if len(out) > 0 {
		out[len(out)-1]++
	}
	return out
}
