/*
Package port implements the port reader: one goroutine per Port
that blocks on the host TAP, classifies each inbound Ethernet frame,
demultiplexes it to a target device, applies software multicast
filtering, and enqueues to that device's ring. The goroutine is
started at Configure time and torn down by Close (a close-in-progress
flag plus a wake of the reader) plus sync.WaitGroup.
*/
package port

import (
	"context"
	"encoding/binary"
	"errors"
	"log/slog"
	"net"
	"sync"
	"syscall"
	"time"
)

// errEINTR is the interrupted-syscall error a TAP read may surface;
// it is retried rather than treated as fatal.
var errEINTR = syscall.EINTR

// EtherType values the demux cares about.
const (
	EtherTypeIPv4 uint16 = 0x0800
	EtherTypeARP  uint16 = 0x0806
	EtherTypeRARP uint16 = 0x8035
	EtherTypeIPv6 uint16 = 0x86DD
	EtherTypeSNA  uint16 = 0x80D5

	ethHeaderLen  = 14
	minEtherType  = 1536
	tapReadTimeout = 2 * time.Second
	eventTimeout   = 250 * time.Millisecond
)

// DeviceType marks a port's primary and secondary devices, the
// demux fallback targets; it is independent of the device's IP/SNA
// mode.
type DeviceType int

const (
	DeviceNone DeviceType = iota
	DevicePrimary
	DeviceSecondary
)

// Proto classifies one inbound frame for the demux rules below.
type Proto int

const (
	ProtoIPv4 Proto = iota
	ProtoARP
	ProtoRARP
	ProtoSNA
	ProtoIPv6
	ProtoOther
)

// Tap is the host TAP device this port reads from.
type Tap interface {
	ReadTimeout(buf []byte, timeout time.Duration) (int, error)
	Write(buf []byte) (int, error)
}

// TargetDevice is the demux's view of one device owned by this port.
// IsSNA stands in for a Mode-typed accessor so this interface does not
// collide with command.Device's differently-typed Mode() method on the
// same concrete station.Device (port must not import command; both
// depend only on wire-level concepts).
type TargetDevice interface {
	Type() DeviceType
	IsSNA() bool
	IP() net.IP
	Started() bool
	EnqueueEth(ctx context.Context, portSlot uint8, payload []byte) error
}

// errClosing is returned internally to break the reader loop when the
// port is closing.
var errClosing = errors.New("port: closing")

// Port aggregates the state the reader loop needs: its TAP, its MAC,
// its multicast table, whether it must filter multicast in software,
// and the set of devices to demux to.
type Port struct {
	mu sync.Mutex

	slot int
	mac  net.HardwareAddr
	tap  Tap

	started        bool
	closeInProgress bool

	softwareMcast bool
	mcastTable    map[string]bool

	devices []TargetDevice

	wake chan struct{}
	log  *slog.Logger

	wg sync.WaitGroup
}

// New creates a Port reader. devices is consulted live (append-only;
// callers must not reorder/remove after Start).
func New(slot int, mac net.HardwareAddr, tap Tap, softwareMcast bool, devices []TargetDevice, log *slog.Logger) *Port {
	if log == nil {
		log = slog.Default()
	}
	return &Port{
		slot:          slot,
		mac:           mac,
		tap:           tap,
		softwareMcast: softwareMcast,
		mcastTable:    map[string]bool{},
		devices:       devices,
		wake:          make(chan struct{}),
		log:           log,
	}
}

// broadcastLocked wakes every goroutine waiting in
// waitUntilActiveOrClosing. Caller holds p.mu.
func (p *Port) broadcastLocked() {
	close(p.wake)
	p.wake = make(chan struct{})
}

// SetStarted implements update_port_started(bool): flips the started
// flag and wakes the reader loop.
func (p *Port) SetStarted(started bool) {
	p.mu.Lock()
	p.started = started
	p.broadcastLocked()
	p.mu.Unlock()
}

// Started reports the port's current started flag.
func (p *Port) Started() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}

// AddMulticast adds mac to the port's software multicast table.
func (p *Port) AddMulticast(mac net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mcastTable[mac.String()] = true
	return nil
}

// DelMulticast removes mac from the port's software multicast table.
func (p *Port) DelMulticast(mac net.HardwareAddr) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.mcastTable, mac.String())
	return nil
}

// Close marks the port as closing; the reader exits on its next wake
// (at most one event-lock wait plus one TAP read timeout) and Close
// blocks until it has.
func (p *Port) Close() {
	p.mu.Lock()
	p.closeInProgress = true
	p.broadcastLocked()
	p.mu.Unlock()
	p.wg.Wait()
}

// Run is the port reader loop. Call it in its own goroutine; it
// returns when the port closes.
func (p *Port) Run(ctx context.Context) {
	p.wg.Add(1)
	defer p.wg.Done()

	buf := make([]byte, 65536)
	for {
		if err := p.waitUntilActiveOrClosing(ctx); err != nil {
			return
		}

		n, err := p.tap.ReadTimeout(buf, tapReadTimeout)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) || isEINTR(err) {
				continue
			}
			p.log.Warn("tap read failed, port reader exiting", slog.String("error", err.Error()))
			return
		}
		if n < ethHeaderLen {
			continue
		}
		p.handleFrame(ctx, buf[:n])
	}
}

// waitUntilActiveOrClosing blocks while the port is not started and not
// closing; it wakes on state change or the 250ms event timeout.
// Returns non-nil only when the port is closing.
func (p *Port) waitUntilActiveOrClosing(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closeInProgress {
			p.mu.Unlock()
			return errClosing
		}
		if p.started {
			p.mu.Unlock()
			return nil
		}
		wake := p.wake
		p.mu.Unlock()

		timer := time.NewTimer(eventTimeout)
		select {
		case <-wake:
			timer.Stop()
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func isTimeout(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}

func isEINTR(err error) bool {
	return errors.Is(err, errEINTR)
}

// handleFrame decodes, filters, demuxes, and enqueues one inbound
// frame.
func (p *Port) handleFrame(ctx context.Context, frame []byte) {
	dst := net.HardwareAddr(frame[0:6])
	etherType := binary.BigEndian.Uint16(frame[12:14])

	var proto Proto
	if etherType >= minEtherType {
		switch etherType {
		case EtherTypeIPv4:
			proto = ProtoIPv4
		case EtherTypeARP:
			proto = ProtoARP
		case EtherTypeRARP:
			proto = ProtoRARP
		case EtherTypeSNA:
			proto = ProtoSNA
		case EtherTypeIPv6:
			proto = ProtoIPv6
		default:
			proto = ProtoOther
		}
	} else {
		// 802.3 length field, not an EtherType: treat as SNA.
		proto = ProtoSNA
	}

	if p.softwareMulticastDrop(dst) {
		return
	}

	target := p.demux(proto, frame, dst)
	if target == nil || !target.Started() {
		return
	}
	if err := target.EnqueueEth(ctx, uint8(p.slot), frame); err != nil {
		p.log.Warn("failed to enqueue inbound frame", slog.String("error", err.Error()))
	}
}

// softwareMulticastDrop reports whether dst is a multicast address
// this port's software filter has not been told to accept.
func (p *Port) softwareMulticastDrop(dst net.HardwareAddr) bool {
	p.mu.Lock()
	sw := p.softwareMcast
	p.mu.Unlock()
	if !sw || !isMulticast(dst) {
		return false
	}
	p.mu.Lock()
	present := p.mcastTable[dst.String()]
	p.mu.Unlock()
	return !present
}

// isMulticast reports whether mac is an IPv4-multicast MAC, i.e.
// begins with 01:00:5e.
func isMulticast(mac net.HardwareAddr) bool {
	return len(mac) >= 3 && mac[0] == 0x01 && mac[1] == 0x00 && mac[2] == 0x5e
}

// demux picks the target device for an inbound frame: preferred
// exact matches, then the first SNA-mode device for SNA frames
// (started or not; handleFrame drops the frame if it is not), then
// Primary/Secondary fallback.
func (p *Port) demux(proto Proto, frame []byte, dst net.HardwareAddr) TargetDevice {
	switch proto {
	case ProtoIPv4, ProtoARP:
		if ip, ok := destIP(frame); ok {
			for _, d := range p.devices {
				if d.IP() != nil && d.IP().Equal(ip) {
					return d
				}
			}
		}
	case ProtoRARP:
		for _, d := range p.devices {
			if macEqual(dst, p.mac) {
				return d
			}
		}
	case ProtoSNA:
		for _, d := range p.devices {
			if d.IsSNA() {
				return d
			}
		}
	}

	var primary, secondary TargetDevice
	for _, d := range p.devices {
		switch d.Type() {
		case DevicePrimary:
			primary = d
		case DeviceSecondary:
			secondary = d
		}
	}
	if primary != nil && primary.Started() {
		return primary
	}
	if secondary != nil && secondary.Started() {
		return secondary
	}
	return nil
}

// destIP extracts the destination IPv4 address from an Ethernet frame
// carrying an IPv4 or ARP payload. For ARP it reads the target
// protocol address at a fixed offset in the standard ARP packet
// layout.
func destIP(frame []byte) (net.IP, bool) {
	if len(frame) < ethHeaderLen+20 {
		return nil, false
	}
	etherType := binary.BigEndian.Uint16(frame[12:14])
	switch etherType {
	case EtherTypeIPv4:
		// Destination address is bytes 16..20 of the IPv4 header.
		if len(frame) < ethHeaderLen+20 {
			return nil, false
		}
		return net.IP(frame[ethHeaderLen+16 : ethHeaderLen+20]), true
	case EtherTypeARP:
		if len(frame) < ethHeaderLen+28 {
			return nil, false
		}
		// ARP target protocol address: offset 24 within the ARP packet.
		return net.IP(frame[ethHeaderLen+24 : ethHeaderLen+28]), true
	}
	return nil, false
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
