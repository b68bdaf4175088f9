package station

import (
	"context"
	"net"
	"testing"
	"time"

	dev "github.com/rcornwell/lcsstation/emu/device"
	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/port"
	"github.com/rcornwell/lcsstation/emu/lcs/ring"
	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

type fakeTap struct{}

func (fakeTap) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	<-time.After(timeout)
	return 0, context.DeadlineExceeded
}
func (fakeTap) Write(buf []byte) (int, error) { return len(buf), nil }
func (fakeTap) Close() error                  { return nil }

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	cfg := DeviceConfig{Addr: 0x0700, Mode: command.ModeIP, BufferSize: ring.MinBufferSize}
	r := ring.New(ring.MinBufferSize, nil)
	p := newPort(PortConfig{Index: 0, MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}}, fakeTap{}, fakeLink{}, nil)
	proc := command.New(command.Config{MinBufferSize: ring.MinBufferSize, MaxBufferSize: ring.MaxBufferSize, DefaultBufferSize: ring.MinBufferSize}, nil)
	d := newDevice(cfg, r, p, proc, fakeTap{}, nil)
	p.reader = port.New(0, p.MAC(), fakeTap{}, false, []port.TargetDevice{d}, nil)
	return d
}

// TestStartupReply verifies that a Startup write followed by a Read
// returns the reply with the buffer size echoed and a 2-byte
// terminator.
func TestStartupReply(t *testing.T) {
	d := newTestDevice(t)

	hdr := wire.CmdHeader{Cmd: wire.CmdStartup, Initiator: wire.InitiatorTCPIP}
	frame := wire.Frame{Header: wire.Header{Type: wire.TypeCommand}, Body: encodeCmdBody(hdr, make([]byte, 12))}
	batch := wire.EncodeBatch([]wire.Frame{frame})

	d.SetPendingWrite(batch)
	status := d.StartCmd(dev.CCWWrite)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Write status = %#x, want CE|DE", status)
	}
	if !d.Started() {
		t.Fatalf("expected device started after Startup")
	}

	status = d.StartCmd(dev.CCWRead)
	if status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Read status = %#x, want CE|DE", status)
	}
	out, _, _ := d.TakePendingRead()

	got, err := wire.DecodeCmdHeader(out)
	if err != nil {
		t.Fatalf("DecodeCmdHeader: %v", err)
	}
	if got.Cmd != wire.CmdStartup || got.RC != 0 {
		t.Fatalf("unexpected reply header: %+v", got)
	}
	if size := int(out[wire.CmdHdrLen])<<8 | int(out[wire.CmdHdrLen+1]); size != ring.MinBufferSize {
		t.Fatalf("reply buffer size = %d, want %d", size, ring.MinBufferSize)
	}
	wantLen := wire.CmdHdrLen + 6 + 2 // command header + StartupReply body + terminator
	if len(out) != wantLen {
		t.Fatalf("reply length = %d, want %d", len(out), wantLen)
	}
	if out[len(out)-2] != 0 || out[len(out)-1] != 0 {
		t.Fatalf("expected zero terminator at end of batch")
	}
}

// TestStartLanThenInboundFrame verifies that a StartLan reply is
// followed in the same Read by an inbound Ethernet frame enqueued on
// the device after the StartLan write.
func TestStartLanThenInboundFrame(t *testing.T) {
	d := newTestDevice(t)
	d.cfg.IP = net.IPv4(10, 0, 0, 5)

	hdr := wire.CmdHeader{Cmd: wire.CmdStrtLan, Initiator: wire.InitiatorTCPIP}
	body := encodeCmdBody(hdr, nil)
	batch := wire.EncodeBatch([]wire.Frame{{Header: wire.Header{Type: wire.TypeCommand}, Body: body}})

	d.SetPendingWrite(batch)
	if status := d.StartCmd(dev.CCWWrite); status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("StartLan write status = %#x", status)
	}

	frame := make([]byte, 64)
	frame[12], frame[13] = 0x08, 0x00 // EtherType IPv4
	if err := d.EnqueueEth(context.Background(), 0, frame); err != nil {
		t.Fatalf("EnqueueEth: %v", err)
	}

	if status := d.StartCmd(dev.CCWRead); status != dev.CStatusChnEnd|dev.CStatusDevEnd {
		t.Fatalf("Read status = %#x", status)
	}
	out, _, _ := d.TakePendingRead()

	frames, err := wire.DecodeBatch(out)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames (StartLan reply + passthrough), got %d", len(frames))
	}
	if frames[0].Header.Type != wire.TypeCommand {
		t.Fatalf("expected first frame to be the command reply")
	}
	if frames[1].Header.Type != wire.TypeEthernet {
		t.Fatalf("expected second frame to be an Ethernet passthrough")
	}
}

// TestHaltDuringRead verifies that a blocked Read is cancelled by
// HaltClear and returns quickly with no status and the halt flag
// cleared.
func TestHaltDuringRead(t *testing.T) {
	d := newTestDevice(t)

	done := make(chan struct{})
	var n int
	var status uint8
	go func() {
		n, _, status, _ = d.Read(context.Background(), make([]byte, 1024))
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	d.HaltClear()

	select {
	case <-done:
	case <-time.After(50 * time.Millisecond):
		t.Fatalf("Read did not return within 50ms of Halt")
	}
	if n != 0 || status != 0 {
		t.Fatalf("expected zero n/status on halted read, got n=%d status=%#x", n, status)
	}
	d.mu.Lock()
	halted := d.haltOrClear
	d.mu.Unlock()
	if halted {
		t.Fatalf("expected halt-or-clear flag cleared after Read returns")
	}
}

// TestUnrecognizedCommandSetsSense verifies the CMDREJ/INTVENT sense
// mapping on an unstarted device issuing a non-Sense/Control opcode.
func TestUnrecognizedCommandSetsSense(t *testing.T) {
	d := newTestDevice(t)

	status := d.StartCmd(0x09) // arbitrary opcode, not Sense/Control/SenseID/etc.
	if status&dev.CStatusCheck == 0 {
		t.Fatalf("expected unit check for unrecognized command on unstarted device")
	}
	_, _, sense := d.TakePendingRead()
	if sense != dev.SenseINTVENT {
		t.Fatalf("expected SenseINTVENT on unstarted device, got %#x", sense)
	}

	d.SetStarted(true)
	status = d.StartCmd(0x09)
	if status&dev.CStatusCheck == 0 {
		t.Fatalf("expected unit check for unrecognized command on started device")
	}
	_, _, sense = d.TakePendingRead()
	if sense != dev.SenseCMDREJ {
		t.Fatalf("expected SenseCMDREJ on started device, got %#x", sense)
	}
}

func encodeCmdBody(hdr wire.CmdHeader, data []byte) []byte {
	buf := make([]byte, wire.CmdHdrLen-wire.HdrLen+len(data))
	full := make([]byte, wire.CmdHdrLen)
	hdr.Encode(full)
	copy(buf, full[wire.HdrLen:])
	copy(buf[wire.CmdHdrLen-wire.HdrLen:], data)
	return buf
}
