package wire

import "encoding/binary"

// Startup reply payload, following the 12-byte command header.
type StartupReply struct {
	BufferSize uint16
	ReadLen    uint32
}

// Encode appends the startup reply body to dst.
func (r StartupReply) Encode(dst []byte) []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], r.BufferSize)
	binary.BigEndian.PutUint32(buf[2:6], r.ReadLen)
	return append(dst, buf...)
}

// QIPReply is the reply body for a QueryIPAssists command.
type QIPReply struct {
	NPairs          uint16
	AssistsSupported uint16
	AssistsEnabled   uint16
	IPVersion        uint16
}

func (r QIPReply) Encode(dst []byte) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint16(buf[0:2], r.NPairs)
	binary.BigEndian.PutUint16(buf[2:4], r.AssistsSupported)
	binary.BigEndian.PutUint16(buf[4:6], r.AssistsEnabled)
	binary.BigEndian.PutUint16(buf[6:8], r.IPVersion)
	return append(dst, buf...)
}

// LanStatIPReply is the per-adapter IP-mode LAN statistics reply body:
// a hardware MAC address followed by nine 32-bit counters (per
// ctcadpt.h's LISTLAN_REPLY layout: tx/rx frames, tx/rx bytes, tx/rx
// discards, tx/rx errors, and a collision count).
type LanStatIPReply struct {
	MAC      [6]byte
	Counters [9]uint32
}

func (r LanStatIPReply) Encode(dst []byte) []byte {
	buf := make([]byte, 6+4*9)
	copy(buf[0:6], r.MAC[:])
	for i, c := range r.Counters {
		binary.BigEndian.PutUint32(buf[6+4*i:10+4*i], c)
	}
	return append(dst, buf...)
}

// LanStatSNAReply is the SNA-mode LAN statistics reply body.
type LanStatSNAReply struct {
	Count uint8
	MAC   [6]byte
}

func (r LanStatSNAReply) Encode(dst []byte) []byte {
	buf := make([]byte, 7)
	buf[0] = r.Count
	copy(buf[1:7], r.MAC[:])
	return append(dst, buf...)
}

// IPMPair is one IP-address-to-MAC-address association, as carried in
// SetIPM/DelIPM requests and replies.
type IPMPair struct {
	IP  uint32
	MAC [6]byte
}

// MaxIPMPairs bounds the number of pairs a single SetIPM/DelIPM frame
// may carry.
const MaxIPMPairs = 32

// IPMReply is the common reply shape for SetIPM and DelIPM: a response
// code followed by the (possibly truncated) list of pairs actually
// applied.
type IPMReply struct {
	Response uint32
	Pairs    []IPMPair
}

func (r IPMReply) Encode(dst []byte) []byte {
	buf := make([]byte, 4+10*len(r.Pairs))
	binary.BigEndian.PutUint32(buf[0:4], r.Response)
	for i, p := range r.Pairs {
		off := 4 + 10*i
		binary.BigEndian.PutUint32(buf[off:off+4], p.IP)
		copy(buf[off+4:off+10], p.MAC[:])
	}
	return append(dst, buf...)
}

// DecodeIPMPairs reads up to MaxIPMPairs 10-byte (IP, MAC) pairs from
// buf, as found in the body of a SetIPM/DelIPM request.
func DecodeIPMPairs(buf []byte) []IPMPair {
	n := len(buf) / 10
	if n > MaxIPMPairs {
		n = MaxIPMPairs
	}
	pairs := make([]IPMPair, n)
	for i := 0; i < n; i++ {
		off := i * 10
		pairs[i].IP = binary.BigEndian.Uint32(buf[off : off+4])
		copy(pairs[i].MAC[:], buf[off+4:off+10])
	}
	return pairs
}
