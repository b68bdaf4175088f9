package station

import (
	"context"
	"errors"
	"time"

	dev "github.com/rcornwell/lcsstation/emu/device"
	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// Write is the Channel Write handler. data is the whole
// guest buffer for this CCW. It walks the batch frame by frame,
// dispatching Ethernet frames to the TAP and command frames to the
// processor, and reports CE|DE|UC plus sense on the first failure.
func (d *Device) Write(ctx context.Context, data []byte, tap TapDevice) (status uint8, sense uint8) {
	isBaffle, batch := wire.DetectBaffle(data)

	frames, err := wire.DecodeBatch(batch)
	if err != nil {
		return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
	}

	for _, f := range frames {
		switch f.Header.Type {
		case wire.TypeCommand:
			hdr, body, err := decodeCmdFrame(f)
			if err != nil {
				return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
			}
			if err := d.proc.Dispatch(ctx, d.port, d, hdr, body); err != nil {
				return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
			}
		case wire.TypeEthernet:
			if err := d.writeEthernet(f.Body, tap); err != nil {
				return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
			}
		default:
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
		}
	}

	if isBaffle {
		if err := d.proc.DispatchBaffle(ctx, d, data[:8]); err != nil {
			return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck, dev.SenseEQUCHK
		}
	}

	return dev.CStatusChnEnd | dev.CStatusDevEnd, 0
}

// writeEthernet substitutes the port MAC for a zero source address,
// optionally recomputes checksums, and writes the frame to the TAP.
func (d *Device) writeEthernet(frame []byte, tap TapDevice) error {
	out := applySourceMAC(frame, d.port.MAC())
	if d.port.cfg.SoftwareCksum {
		if recomputed, err := wire.RecomputeChecksums(out); err == nil {
			out = recomputed
		}
	}
	n, err := tap.Write(out)
	if err != nil || n != len(out) {
		return errShortWrite
	}
	return nil
}

// Read is the Channel Read handler.
func (d *Device) Read(ctx context.Context, out []byte) (n int, more bool, status uint8, sense uint8) {
	d.mu.Lock()
	if !d.ring.Pending() {
		d.readWaiting = true
		d.mu.Unlock()

		// HaltClear only sets haltOrClear, so the wait runs in short
		// slices and the flag is re-checked after each one.
		const haltPollInterval = 5 * time.Millisecond
		deadline := time.Now().Add(DefNetReadTimeout)
		pending := false
		for {
			sliceStart := time.Now()
			pending = d.ring.WaitPending(ctx, haltPollInterval)
			d.mu.Lock()
			halted := d.haltOrClear
			d.mu.Unlock()
			if pending || halted || time.Since(sliceStart) < haltPollInterval || !time.Now().Before(deadline) {
				break
			}
		}

		d.mu.Lock()
		halted := d.haltOrClear
		d.haltOrClear = false
		d.readWaiting = false
		d.mu.Unlock()

		if halted {
			return 0, false, 0, 0
		}
		if !pending {
			return 0, false, dev.CStatusChnEnd | dev.CStatusDevEnd, 0
		}
	} else {
		d.mu.Unlock()
	}

	n, more, _ = d.ring.DrainInto(out)
	return n, more, dev.CStatusChnEnd | dev.CStatusDevEnd, 0
}

// HaltClear cancels a blocked Read.
func (d *Device) HaltClear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readWaiting {
		d.haltOrClear = true
	}
}

// -- emu/device.Device adapter --
//
// The hosting channel dispatcher is expected to stage the whole CCW
// data area via SetPendingWrite before calling StartCmd for a
// Write-class opcode, and to collect the result via TakePendingRead
// after StartCmd returns for a Read-class opcode. This package only
// implements the device.Device side and leaves byte movement between
// the dispatcher and the guest to the dispatcher itself.

var errShortWrite = errors.New("station: short or failed tap write")

// SetPendingWrite stages the guest's CCW data area for the next
// StartCmd(Write).
func (d *Device) SetPendingWrite(buf []byte) {
	d.io.mu.Lock()
	defer d.io.mu.Unlock()
	d.io.buf = buf
}

// TakePendingRead returns and clears whatever the most recent
// StartCmd(Read) produced.
func (d *Device) TakePendingRead() (buf []byte, status uint8, sense uint8) {
	d.io.mu.Lock()
	defer d.io.mu.Unlock()
	buf, status, sense = d.io.buf, d.io.status, d.io.sense
	d.io.buf, d.io.status, d.io.sense = nil, 0, 0
	return buf, status, sense
}

// setSense records the sense byte a following Sense CCW should report.
func (d *Device) setSense(sense uint8) {
	d.io.mu.Lock()
	d.io.sense = sense
	d.io.mu.Unlock()
}

// StartIO implements device.Device.
func (d *Device) StartIO() uint8 { return 0 }

// StartCmd implements device.Device, mapping CCW opcodes to the
// Write/Read/Control/Sense handlers above.
func (d *Device) StartCmd(cmd uint8) uint8 {
	started := d.Started()

	switch cmd & 0x0F {
	case dev.CCWWrite:
		d.io.mu.Lock()
		buf := d.io.buf
		d.io.mu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), DefNetReadTimeout)
		defer cancel()
		status, sense := d.Write(ctx, buf, d.tap)
		d.setSense(sense)
		return status
	case dev.CCWRead, dev.CCWRdBack:
		ctx, cancel := context.WithTimeout(context.Background(), DefNetReadTimeout)
		defer cancel()
		out := make([]byte, d.BufferSize())
		n, _, status, sense := d.Read(ctx, out)
		d.io.mu.Lock()
		d.io.buf = out[:n]
		d.io.status = status
		d.io.sense = sense
		d.io.mu.Unlock()
		return status
	case dev.CCWControl:
		return dev.CStatusChnEnd | dev.CStatusDevEnd
	case dev.CCWSense:
		return dev.CStatusChnEnd | dev.CStatusDevEnd
	}

	switch cmd {
	case dev.CCWSenseID:
		return dev.CStatusChnEnd | dev.CStatusDevEnd
	case dev.CCWWriteEOF, dev.CCWSetBasic, dev.CCWSetExt, dev.CCWPrepare, dev.CCWSenseCB:
		return dev.CStatusChnEnd | dev.CStatusDevEnd
	}

	if !started {
		d.setSense(dev.SenseINTVENT)
		return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
	}
	d.setSense(dev.SenseCMDREJ)
	return dev.CStatusChnEnd | dev.CStatusDevEnd | dev.CStatusCheck
}

// HaltIO implements device.Device.
func (d *Device) HaltIO() uint8 {
	d.HaltClear()
	return 1
}

// InitDev implements device.Device.
func (d *Device) InitDev() uint8 {
	d.mu.Lock()
	d.started = false
	d.haltOrClear = false
	d.readWaiting = false
	d.mu.Unlock()
	return 0
}

// Shutdown implements device.Device.
func (d *Device) Shutdown() {
	d.ring.Close()
}

// Debug implements device.Device. Station devices have no debug
// sub-options today.
func (d *Device) Debug(_ string) error { return nil }

var _ dev.Device = (*Device)(nil)
