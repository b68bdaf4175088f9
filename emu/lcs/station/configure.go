package station

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/rcornwell/lcsstation/emu/lcs/attn"
	"github.com/rcornwell/lcsstation/emu/lcs/command"
	"github.com/rcornwell/lcsstation/emu/lcs/port"
	"github.com/rcornwell/lcsstation/emu/lcs/ring"
)

// TapOpener opens the host TAP interface backing one port, by name.
type TapOpener interface {
	Open(ifName string) (TapDevice, error)
}

// StationConfig is the live configuration Station.Configure consumes,
// the in-memory form config/oat.Load's StationConfig is turned into.
type StationConfig struct {
	Ports     []PortConfig
	Devices   []DeviceConfig
	CmdConfig command.Config
}

// Station is one emulator instance: every configured Port and Device,
// the shared command processor, and the attention thread. One reader
// goroutine per port and one attention-thread goroutine are started
// from Configure and torn down via context cancellation plus
// sync.WaitGroup in Close.
type Station struct {
	mu      sync.RWMutex
	ports   map[int]*Port
	devices map[uint16]*Device

	proc  *command.Processor
	attnQ *attn.Queue

	cancel context.CancelFunc
	wg     sync.WaitGroup

	log *slog.Logger
}

// New creates an empty, unconfigured Station.
func New(log *slog.Logger) *Station {
	if log == nil {
		log = slog.Default()
	}
	return &Station{
		ports:   map[int]*Port{},
		devices: map[uint16]*Device{},
		log:     log,
	}
}

// Pending implements attn.PendingChecker: whether the named device's
// ring still has data worth nudging the guest about.
func (s *Station) Pending(devAddr uint16) bool {
	s.mu.RLock()
	d, ok := s.devices[devAddr]
	s.mu.RUnlock()
	return ok && d.Pending()
}

// Device looks up a configured device by its channel address.
func (s *Station) Device(addr uint16) (*Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[addr]
	return d, ok
}

// Configure builds every Port and Device from cfg, wires the command
// processor and attention thread, and starts one reader goroutine per
// port plus the attention goroutine. Call once per Station.
func (s *Station) Configure(ctx context.Context, cfg StationConfig, taps TapOpener, link LinkAdmin, raiser AttentionRaiser, log *slog.Logger) error {
	if log == nil {
		log = s.log
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.attnQ = attn.NewQueue(raiser, s, log)
	s.proc = command.New(cfg.CmdConfig, s.attnQ)

	byPort := map[int][]DeviceConfig{}
	for _, dc := range cfg.Devices {
		byPort[dc.PortIndex] = append(byPort[dc.PortIndex], dc)
	}

	for _, pc := range cfg.Ports {
		tap, err := taps.Open(pc.IfName)
		if err != nil {
			return fmt.Errorf("station: open tap %s: %w", pc.IfName, err)
		}

		sp := newPort(pc, tap, link, log)

		var targets []port.TargetDevice
		var built []*Device
		for _, dc := range byPort[pc.Index] {
			bufSize := ring.ClampBufferSize(dc.BufferSize, cfg.CmdConfig.DefaultBufferSize)
			dc.BufferSize = bufSize
			r := ring.New(bufSize, log)
			d := newDevice(dc, r, sp, s.proc, tap, log)
			built = append(built, d)
			targets = append(targets, d)
		}

		sp.reader = port.New(pc.Index, pc.MAC, tap, pc.SoftwareMcast, targets, log)

		s.mu.Lock()
		s.ports[pc.Index] = sp
		for _, d := range built {
			s.devices[d.Addr()] = d
		}
		s.mu.Unlock()

		s.wg.Add(1)
		go func(p *port.Port) {
			defer s.wg.Done()
			p.Run(runCtx)
		}(sp.reader)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.attnQ.Run(runCtx)
	}()

	return nil
}

// Close stops every port reader and the attention thread, and closes
// every device's ring.
func (s *Station) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.RLock()
	for _, p := range s.ports {
		p.reader.Close()
	}
	for _, d := range s.devices {
		d.ring.Close()
	}
	if s.attnQ != nil {
		s.attnQ.Close()
	}
	s.mu.RUnlock()
	s.wg.Wait()
}
