/*
Package hostnet is the concrete adapter between the core lcsstation
emulator and the real host: a TAP interface (songgao/water) and host
link administration (vishvananda/netlink), implementing the core's
station.TapDevice/station.LinkAdmin/station.TapOpener interfaces so
emu/lcs/station never imports an OS-specific package directly.
*/
package hostnet

import (
	"fmt"
	"time"

	"github.com/songgao/water"

	"github.com/rcornwell/lcsstation/emu/lcs/station"
)

// TAP wraps a water.Interface in TAP mode. water.Interface has no
// native read deadline, so ReadTimeout races a background reader
// goroutine against a timer.
type TAP struct {
	iface *water.Interface
	reads chan readResult
}

type readResult struct {
	frame []byte
	err   error
}

// Open creates a TAP device bound to ifName, implementing
// station.TapOpener via Opener.
func Open(ifName string) (*TAP, error) {
	cfg := water.Config{DeviceType: water.TAP}
	cfg.Name = ifName

	iface, err := water.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("hostnet: open tap %s: %w", ifName, err)
	}

	t := &TAP{
		iface: iface,
		reads: make(chan readResult, 1),
	}
	go t.readLoop()
	return t, nil
}

// readLoop is the single goroutine allowed to call iface.Read; it
// feeds every completed read back through t.reads so ReadTimeout can
// race it against a deadline without a second concurrent reader.
func (t *TAP) readLoop() {
	for {
		buf := make([]byte, 65536)
		n, err := t.iface.Read(buf)
		t.reads <- readResult{frame: buf[:n], err: err}
		if err != nil {
			return
		}
	}
}

// ReadTimeout implements station.TapDevice: it returns the next frame
// the background reader produced, or a timeout error if none arrives
// within timeout.
func (t *TAP) ReadTimeout(buf []byte, timeout time.Duration) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-t.reads:
		if r.err != nil {
			return 0, r.err
		}
		return copy(buf, r.frame), nil
	case <-timer.C:
		return 0, errTimeout{}
	}
}

// Write implements station.TapDevice.
func (t *TAP) Write(buf []byte) (int, error) {
	return t.iface.Write(buf)
}

// Close implements station.TapDevice.
func (t *TAP) Close() error {
	return t.iface.Close()
}

type errTimeout struct{}

func (errTimeout) Error() string   { return "hostnet: tap read timed out" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }

// Opener implements station.TapOpener against real TAP interfaces.
type Opener struct{}

// Open implements station.TapOpener.
func (Opener) Open(ifName string) (station.TapDevice, error) {
	return Open(ifName)
}

var _ station.TapOpener = Opener{}
