package command

import (
	"context"
	"net"

	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// startup handles Startup (0x07).
func (p *Processor) startup(ctx context.Context, dev Device, hdr wire.CmdHeader) error {
	requested := dev.BufferSize()
	// The buffer size the guest places in the request body is not read:
	// neither this handler nor Dispatch's caller applies it. The
	// device's current buffer size is kept when it lies within
	// [MinBufferSize, MaxBufferSize] and replaced by the configured
	// default otherwise.
	size := requested
	if size < p.cfg.MinBufferSize || size > p.cfg.MaxBufferSize {
		size = p.cfg.DefaultBufferSize
	}
	dev.SetBufferSize(size)

	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	reply = (wire.StartupReply{BufferSize: uint16(size), ReadLen: p.cfg.ReadLenFloor}).Encode(reply)

	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	dev.SetStarted(true)
	return nil
}

// shutdown handles Shutdown (0x08).
func (p *Processor) shutdown(ctx context.Context, dev Device, hdr wire.CmdHeader) error {
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	dev.SetStarted(false)
	return nil
}

// startLan handles StartLan (0x01). The reply must be enqueued
// before the port reader is unpaused.
func (p *Processor) startLan(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	if port.UsedCreatedNotStarted() {
		if err := port.EnableInterface(dev.IP()); err != nil {
			return err
		}
	}
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	port.SetStarted(true)
	return nil
}

// stopLan handles StopLan (0x02). Ordering is flipped relative
// to StartLan: pause the reader, then enqueue the reply.
func (p *Processor) stopLan(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	if err := port.DisableInterface(); err != nil {
		return err
	}
	port.SetStarted(false)
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	return dev.EnqueueReply(ctx, reply, false)
}

// queryIPAssists handles QueryIPAssists (0xB2).
func (p *Processor) queryIPAssists(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	reply = (wire.QIPReply{
		NPairs:           port.MulticastCapacity(),
		AssistsSupported: port.AssistsSupported(),
		AssistsEnabled:   port.AssistsEnabled(),
		IPVersion:        4,
	}).Encode(reply)
	return dev.EnqueueReply(ctx, reply, false)
}

// lanStats handles LanStats (0x04): probe the host NIC MAC; if
// retrievable and different from configured, adopt it (no warning is
// logged; command stays free of slog). Reply carries port MAC with +1
// convention.
func (p *Processor) lanStats(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	if hostMAC, ok := port.HostMAC(); ok && !macEqual(hostMAC, port.MAC()) {
		port.SetMAC(hostMAC)
	}
	mac := incLastOctet(port.MAC())
	var macArr [6]byte
	copy(macArr[:], mac)

	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	reply = (wire.LanStatIPReply{MAC: macArr}).Encode(reply)
	return dev.EnqueueReply(ctx, reply, false)
}

// setIPM handles SetIPM (0xB4).
func (p *Processor) setIPM(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader, body []byte) error {
	return p.applyIPM(ctx, port, dev, hdr, body, port.AddMulticast)
}

// delIPM handles DelIPM (0xB5).
func (p *Processor) delIPM(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader, body []byte) error {
	return p.applyIPM(ctx, port, dev, hdr, body, port.DelMulticast)
}

func (p *Processor) applyIPM(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader, body []byte, op func(net.HardwareAddr) error) error {
	pairs := wire.DecodeIPMPairs(body)
	response := uint32(0)
	for _, pair := range pairs {
		if err := op(net.HardwareAddr(pair.MAC[:])); err != nil {
			response = 0xFFFF
		}
	}
	reply := wire.NewReply(hdr, wire.CmdHdrLen)
	reply = (wire.IPMReply{Response: response, Pairs: pairs}).Encode(reply)
	return dev.EnqueueReply(ctx, reply, false)
}

func macEqual(a, b net.HardwareAddr) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
