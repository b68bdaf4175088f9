package station

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/ring"
)

var errFakeOpen = errors.New("fake: open failed")

type fakeLink struct{}

func (fakeLink) SetUp(ifName string, mac net.HardwareAddr) error          { return nil }
func (fakeLink) SetDown(ifName string) error                              { return nil }
func (fakeLink) SetMTU(ifName string, mtu int) error                      { return nil }
func (fakeLink) AddRoute(ifName, netAddr, netMask string) error          { return nil }
func (fakeLink) DelRoute(ifName, netAddr, netMask string) error          { return nil }
func (fakeLink) AddMulticast(ifName string, mac net.HardwareAddr) error  { return nil }
func (fakeLink) DelMulticast(ifName string, mac net.HardwareAddr) error  { return nil }
func (fakeLink) HardwareAddr(ifName string) (net.HardwareAddr, error)    { return nil, nil }

type fakeTapOpener struct{ opened []string }

func (o *fakeTapOpener) Open(ifName string) (TapDevice, error) {
	o.opened = append(o.opened, ifName)
	return fakeTap{}, nil
}

type fakeRaiser struct{}

func (fakeRaiser) DeviceAttention(devAddr uint16, status uint8) attn.Result { return attn.ResultOK }

// TestConfigureWiresPortsAndDevices verifies Configure builds one Port
// per PortConfig, one Device per DeviceConfig bound to its port, and
// that every device becomes reachable via Station.Device.
func TestConfigureWiresPortsAndDevices(t *testing.T) {
	s := New(nil)
	cfg := StationConfig{
		Ports: []PortConfig{{Index: 0, IfName: "tap0", MAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}}},
		Devices: []DeviceConfig{
			{Addr: 0x0700, PortIndex: 0, Mode: command.ModeIP, BufferSize: ring.MinBufferSize},
			{Addr: 0x0701, PortIndex: 0, Mode: command.ModeIP, BufferSize: ring.MinBufferSize},
		},
		CmdConfig: command.Config{MinBufferSize: ring.MinBufferSize, MaxBufferSize: ring.MaxBufferSize, DefaultBufferSize: ring.MinBufferSize},
	}
	taps := &fakeTapOpener{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Configure(ctx, cfg, taps, fakeLink{}, fakeRaiser{}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	defer s.Close()

	if len(taps.opened) != 1 || taps.opened[0] != "tap0" {
		t.Fatalf("expected tap0 opened once, got %v", taps.opened)
	}
	for _, addr := range []uint16{0x0700, 0x0701} {
		if _, ok := s.Device(addr); !ok {
			t.Fatalf("expected device %#x to be configured", addr)
		}
	}
	if _, ok := s.Device(0x0799); ok {
		t.Fatalf("did not expect an unconfigured device address to resolve")
	}
}

// TestConfigureRejectsTapOpenFailure verifies a TAP open error aborts
// Configure with a wrapped error.
func TestConfigureRejectsTapOpenFailure(t *testing.T) {
	s := New(nil)
	cfg := StationConfig{
		Ports:     []PortConfig{{Index: 0, IfName: "bad0"}},
		CmdConfig: command.Config{MinBufferSize: ring.MinBufferSize, MaxBufferSize: ring.MaxBufferSize, DefaultBufferSize: ring.MinBufferSize},
	}
	err := s.Configure(context.Background(), cfg, failingOpener{}, fakeLink{}, fakeRaiser{}, nil)
	if err == nil {
		t.Fatalf("expected Configure to fail when tap open fails")
	}
}

type failingOpener struct{}

func (failingOpener) Open(ifName string) (TapDevice, error) {
	return nil, errFakeOpen
}

// TestCloseStopsGoroutinesPromptly verifies Close returns once the
// attention goroutine and every port reader goroutine have exited,
// without hanging.
func TestCloseStopsGoroutinesPromptly(t *testing.T) {
	s := New(nil)
	cfg := StationConfig{
		Ports:     []PortConfig{{Index: 0, IfName: "tap0"}},
		CmdConfig: command.Config{MinBufferSize: ring.MinBufferSize, MaxBufferSize: ring.MaxBufferSize, DefaultBufferSize: ring.MinBufferSize},
	}
	if err := s.Configure(context.Background(), cfg, &fakeTapOpener{}, fakeLink{}, fakeRaiser{}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not return within 2s")
	}
}
