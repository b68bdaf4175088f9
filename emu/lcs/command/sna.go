package command

import (
	"context"

	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// snaReply builds the common SNA reply shape: initiator=SNA, slot=port,
// plus the small fixed payload (buffer size, read length floor, MAC
// with the +1 convention).
func (p *Processor) snaReply(port Port, hdr wire.CmdHeader, bufferSize int) []byte {
	h := hdr
	h.Initiator = wire.InitiatorSNA
	h.Slot = uint8(port.Index())

	reply := wire.NewReply(h, wire.CmdHdrLen)
	reply = (wire.StartupReply{BufferSize: uint16(bufferSize), ReadLen: p.cfg.ReadLenFloor}).Encode(reply)

	mac := incLastOctet(port.MAC())
	var macArr [6]byte
	copy(macArr[:], mac)
	reply = append(reply, macArr[:]...)
	return reply
}

// queueAttention appends an AttnRequest for dev after an SNA command
// reply is enqueued.
func (p *Processor) queueAttention(dev Device) {
	if p.attnQ == nil {
		return
	}
	p.attnQ.Push(attn.Request{DevAddr: dev.Addr()})
}

// snaStartLanOnPort handles StartLan-SNA (0x41). Named "OnPort"
// (rather than snaStartLan) to read consistently alongside the other
// SNA handlers that all need the owning port for the reply's
// slot/MAC fields.
func (p *Processor) snaStartLanOnPort(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	size := dev.BufferSize()
	if size < p.cfg.MinBufferSize || size > p.cfg.MaxBufferSize {
		size = p.cfg.DefaultBufferSize
	}
	dev.SetBufferSize(size)

	reply := p.snaReply(port, hdr, size)
	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	dev.SetStarted(true)
	p.queueAttention(dev)
	return nil
}

// snaStopLan handles StopLan-SNA (0x42).
func (p *Processor) snaStopLan(ctx context.Context, dev Device, hdr wire.CmdHeader) error {
	h := hdr
	h.Initiator = wire.InitiatorSNA
	reply := wire.NewReply(h, wire.CmdHdrLen)
	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	dev.SetStarted(false)
	p.queueAttention(dev)
	return nil
}

// snaLanStats handles LanStats-SNA (0x44).
func (p *Processor) snaLanStats(ctx context.Context, port Port, dev Device, hdr wire.CmdHeader) error {
	h := hdr
	h.Initiator = wire.InitiatorSNA
	h.Slot = uint8(port.Index())

	mac := incLastOctet(port.MAC())
	var macArr [6]byte
	copy(macArr[:], mac)

	reply := wire.NewReply(h, wire.CmdHdrLen)
	reply = (wire.LanStatSNAReply{Count: 1, MAC: macArr}).Encode(reply)
	if err := dev.EnqueueReply(ctx, reply, false); err != nil {
		return err
	}
	p.queueAttention(dev)
	return nil
}
