/*
lcsstation LCS wire protocol frame codec.

	Copyright (c) 2024, Richard Cornwell

	Permission is hereby granted, free of charge, to any person obtaining a
	copy of this software and associated documentation files (the "Software"),
	to deal in the Software without restriction, including without limitation
	the rights to use, copy, modify, merge, publish, distribute, sublicense,
	and/or sell copies of the Software, and to permit persons to whom the
	Software is furnished to do so, subject to the following conditions:

	The above copyright notice and this permission notice shall be included in
	all copies or substantial portions of the Software.

	THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
	IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
	FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT.  IN NO EVENT SHALL
	RICHARD CORNWELL BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER LIABILITY, WHETHER
	IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM, OUT OF OR IN
	CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE SOFTWARE.

Package wire implements the LCS batch framing, command header, and SNA
baffle envelope. It is pure encode/decode: no device state, no I/O, no
locking. Everything here is big-endian, matching the wire layouts in
ctcadpt.h.
*/
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Frame types carried in the 1-byte type field of an LCSHDR.
const (
	TypeCommand  uint8 = 0x00
	TypeEthernet uint8 = 0x01
	TypeSNA      uint8 = 0x04
)

// Command codes (LCSCMDHDR.Cmd).
const (
	CmdTiming     uint8 = 0x00
	CmdStrtLan    uint8 = 0x01
	CmdStopLan    uint8 = 0x02
	CmdGenStat    uint8 = 0x03
	CmdLanStat    uint8 = 0x04
	CmdListLan    uint8 = 0x06
	CmdStartup    uint8 = 0x07
	CmdShutdown   uint8 = 0x08
	CmdListLan2   uint8 = 0x0B
	CmdQIPAssist  uint8 = 0xB2
	CmdSetIPM     uint8 = 0xB4
	CmdDelIPM     uint8 = 0xB5
	CmdSNAStrtLan uint8 = 0x41
	CmdSNAStopLan uint8 = 0x42
	CmdSNALanStat uint8 = 0x44
)

// Initiator byte values.
const (
	InitiatorTCPIP uint8 = 0x00
	InitiatorLGW   uint8 = 0x01 // Inbound only; ignored on outbound.
	InitiatorSNA   uint8 = 0x80
)

// QueryIPAssists bitmap values.
const (
	AssistARP       uint16 = 0x01
	AssistInCksum   uint16 = 0x02
	AssistOutCksum  uint16 = 0x04
	AssistIPFrag    uint16 = 0x08
	AssistIPFilter  uint16 = 0x10
	AssistIPv6      uint16 = 0x20
	AssistMulticast uint16 = 0x40
)

// Device identity returned on a Sense-ID CCW.
const (
	CUType     uint16 = 0x3088
	CUModel    uint8  = 0x60
	DevType    uint16 = 0x3088
	DevModel   uint8  = 0x01
	HdrLen            = 4  // LCSHDR: offset_next, type, slot.
	CmdHdrLen         = 12 // LCSHDR + cmd, initiator, seq, rc, lan_type, relative_adapter.
	BaffleLen         = 8
)

// ErrTruncated is returned when a batch's offsets run past the buffer.
var ErrTruncated = errors.New("wire: frame offset runs past end of batch")

// ErrNonMonotonic is returned when successive frame offsets do not increase.
var ErrNonMonotonic = errors.New("wire: frame offsets are not monotonically increasing")

// Header is the 4-byte LCSHDR common to every frame in a batch.
type Header struct {
	OffsetNext uint16 // Absolute offset of the next frame; 0 marks end of batch.
	Type       uint8
	Slot       uint8
}

func decodeHeader(b []byte) Header {
	return Header{
		OffsetNext: binary.BigEndian.Uint16(b[0:2]),
		Type:       b[2],
		Slot:       b[3],
	}
}

func (h Header) encode(b []byte) {
	binary.BigEndian.PutUint16(b[0:2], h.OffsetNext)
	b[2] = h.Type
	b[3] = h.Slot
}

// CmdHeader is the 12-byte LCSCMDHDR: a Header plus command fields.
type CmdHeader struct {
	Header
	Cmd           uint8
	Initiator     uint8
	Seq           uint16
	RC            uint16
	LanType       uint8
	RelAdapter    uint8
}

// DecodeCmdHeader reads a 12-byte command header from the start of b.
func DecodeCmdHeader(b []byte) (CmdHeader, error) {
	if len(b) < CmdHdrLen {
		return CmdHeader{}, fmt.Errorf("wire: command header needs %d bytes, got %d", CmdHdrLen, len(b))
	}
	return CmdHeader{
		Header:     decodeHeader(b[0:4]),
		Cmd:        b[4],
		Initiator:  b[5],
		Seq:        binary.BigEndian.Uint16(b[6:8]),
		RC:         binary.BigEndian.Uint16(b[8:10]),
		LanType:    b[10],
		RelAdapter: b[11],
	}, nil
}

// Encode writes the 12-byte command header into b, which must be at least
// CmdHdrLen bytes.
func (h CmdHeader) Encode(b []byte) {
	h.Header.encode(b[0:4])
	b[4] = h.Cmd
	b[5] = h.Initiator
	binary.BigEndian.PutUint16(b[6:8], h.Seq)
	binary.BigEndian.PutUint16(b[8:10], h.RC)
	b[10] = h.LanType
	b[11] = h.RelAdapter
}

// DecodeCmdFrame builds a CmdHeader from an already-decoded batch
// Header plus the bytes following it (body), as produced by
// DecodeBatch for a command-type frame. body's first 8 bytes are the
// command header's remaining fields; anything after that is the
// command's data area.
func DecodeCmdFrame(h Header, body []byte) (CmdHeader, []byte, error) {
	const cmdFieldsLen = CmdHdrLen - HdrLen
	if len(body) < cmdFieldsLen {
		return CmdHeader{}, nil, fmt.Errorf("wire: command frame needs %d bytes, got %d", cmdFieldsLen, len(body))
	}
	hdr := CmdHeader{
		Header:     h,
		Cmd:        body[0],
		Initiator:  body[1],
		Seq:        binary.BigEndian.Uint16(body[2:4]),
		RC:         binary.BigEndian.Uint16(body[4:6]),
		LanType:    body[6],
		RelAdapter: body[7],
	}
	return hdr, body[cmdFieldsLen:], nil
}

// SetOffsetNext stamps the offset-to-next field of an already-encoded
// header in place, used by a ring when it learns the real offset at
// enqueue time.
func SetOffsetNext(b []byte, offset uint16) {
	binary.BigEndian.PutUint16(b[0:2], offset)
}

// Frame is one decoded frame from a batch: its header plus the raw bytes
// that follow the 4-byte LCSHDR up to (but not including) the next frame.
type Frame struct {
	Header Header
	Body   []byte // Everything after the LCSHDR, up to the next frame's offset.
}

// DecodeBatch walks buf frame by frame following each offset_next field.
// It rejects batches whose offsets are non-monotonic or would read past
// len(buf). A batch is terminated by offset_next == 0; the terminator
// itself is not returned as a frame.
func DecodeBatch(buf []byte) ([]Frame, error) {
	var frames []Frame
	pos := 0
	for {
		if pos+2 > len(buf) {
			return nil, ErrTruncated
		}
		if binary.BigEndian.Uint16(buf[pos:pos+2]) == 0 {
			// Terminator: only its 2-byte offset field need be present.
			return frames, nil
		}
		if pos+HdrLen > len(buf) {
			return nil, ErrTruncated
		}
		hdr := decodeHeader(buf[pos : pos+HdrLen])
		next := int(hdr.OffsetNext)
		if next <= pos || next > len(buf) {
			if next > len(buf) {
				return nil, ErrTruncated
			}
			return nil, ErrNonMonotonic
		}
		frames = append(frames, Frame{Header: hdr, Body: buf[pos+HdrLen : next]})
		pos = next
	}
}

// EncodeBatch lays frames out contiguously, computing each offset_next
// field and appending the 4-byte zero terminator. It is the inverse of
// DecodeBatch for well-formed input (round-trip property).
func EncodeBatch(frames []Frame) []byte {
	total := HdrLen
	for _, f := range frames {
		total += HdrLen + len(f.Body)
	}
	out := make([]byte, total)
	pos := 0
	for _, f := range frames {
		next := pos + HdrLen + len(f.Body)
		h := f.Header
		h.OffsetNext = uint16(next)
		h.encode(out[pos : pos+HdrLen])
		copy(out[pos+HdrLen:next], f.Body)
		pos = next
	}
	// Terminator.
	binary.BigEndian.PutUint16(out[pos:pos+2], 0)
	out[pos+2] = 0
	out[pos+3] = 0
	return out
}

// DetectBaffle reports whether buf begins with a valid 8-byte SNA baffle
// envelope: the first two bytes equal len(buf)-8 and the next six bytes
// are zero. When true, the plain LCS batch follows immediately after the
// envelope.
func DetectBaffle(buf []byte) (isBaffle bool, batch []byte) {
	if len(buf) < BaffleLen {
		return false, buf
	}
	length := binary.BigEndian.Uint16(buf[0:2])
	if int(length) != len(buf)-BaffleLen {
		return false, buf
	}
	for _, b := range buf[2:8] {
		if b != 0 {
			return false, buf
		}
	}
	return true, buf[BaffleLen:]
}

// StampBaffle writes the 8-byte baffle envelope header in place at the
// front of buf, given the total length of buf including the envelope.
// Bytes 2..7 are zeroed per the wire format.
func StampBaffle(buf []byte, totalLen int) {
	binary.BigEndian.PutUint16(buf[0:2], uint16(totalLen-BaffleLen))
	for i := 2; i < BaffleLen; i++ {
		buf[i] = 0
	}
}

// NewReply builds a reply frame buffer of the given size: the request
// header copied verbatim, offset-to-next and return-code cleared, and the
// remainder zero padded. This is the pure constructor the source's
// INIT_REPLY_FRAME macro collapses to.
func NewReply(reqHeader CmdHeader, size int) []byte {
	reply := make([]byte, size)
	h := reqHeader
	h.OffsetNext = 0
	h.RC = 0
	h.Encode(reply[0:CmdHdrLen])
	return reply
}
