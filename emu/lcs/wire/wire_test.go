package wire

import (
	"bytes"
	"testing"
)

func TestBatchRoundTrip(t *testing.T) {
	frames := []Frame{
		{Header: Header{Type: TypeCommand, Slot: 0}, Body: []byte{1, 2, 3, 4}},
		{Header: Header{Type: TypeEthernet, Slot: 1}, Body: []byte{5, 6}},
		{Header: Header{Type: TypeEthernet, Slot: 1}, Body: nil},
	}

	encoded := EncodeBatch(frames)
	decoded, err := DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(decoded) != len(frames) {
		t.Fatalf("got %d frames, want %d", len(decoded), len(frames))
	}
	for i, f := range frames {
		if decoded[i].Header.Type != f.Header.Type || decoded[i].Header.Slot != f.Header.Slot {
			t.Fatalf("frame %d header mismatch: got %+v want %+v", i, decoded[i].Header, f.Header)
		}
		if !bytes.Equal(decoded[i].Body, f.Body) {
			t.Fatalf("frame %d body mismatch: got %v want %v", i, decoded[i].Body, f.Body)
		}
	}
}

func TestDecodeBatchEmpty(t *testing.T) {
	encoded := EncodeBatch(nil)
	decoded, err := DecodeBatch(encoded)
	if err != nil {
		t.Fatalf("DecodeBatch: %v", err)
	}
	if len(decoded) != 0 {
		t.Fatalf("expected no frames, got %d", len(decoded))
	}
}

func TestDecodeBatchTruncated(t *testing.T) {
	buf := []byte{0, 20, 0, 0} // offset_next points past end of buffer.
	if _, err := DecodeBatch(buf); err != ErrTruncated {
		t.Fatalf("expected ErrTruncated, got %v", err)
	}
}

func TestDecodeBatchNonMonotonic(t *testing.T) {
	buf := make([]byte, 16)
	// The second frame, at offset 8, claims next offset 8 (itself), which
	// is not increasing.
	Header{OffsetNext: 8, Type: TypeCommand}.encode(buf[0:4])
	Header{OffsetNext: 8, Type: TypeCommand}.encode(buf[8:12])
	if _, err := DecodeBatch(buf); err != ErrNonMonotonic {
		t.Fatalf("expected ErrNonMonotonic, got %v", err)
	}
}

func TestCmdHeaderRoundTrip(t *testing.T) {
	h := CmdHeader{
		Header:     Header{Type: TypeCommand, Slot: 2},
		Cmd:        CmdStartup,
		Initiator:  InitiatorTCPIP,
		Seq:        42,
		RC:         0,
		LanType:    1,
		RelAdapter: 0,
	}
	buf := make([]byte, CmdHdrLen)
	h.Encode(buf)
	got, err := DecodeCmdHeader(buf)
	if err != nil {
		t.Fatalf("DecodeCmdHeader: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, h)
	}
}

func TestBaffleSymmetry(t *testing.T) {
	batch := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	total := BaffleLen + len(batch)
	buf := make([]byte, total)
	StampBaffle(buf, total)
	copy(buf[BaffleLen:], batch)

	isBaffle, inner := DetectBaffle(buf)
	if !isBaffle {
		t.Fatalf("expected baffle to be detected")
	}
	if !bytes.Equal(inner, batch) {
		t.Fatalf("inner batch mismatch: got %v want %v", inner, batch)
	}
}

func TestDetectBaffleRejectsPlainBatch(t *testing.T) {
	// A plain (non-baffled) batch whose first two bytes don't happen to
	// encode its own trailing length must not be misdetected.
	buf := EncodeBatch([]Frame{{Header: Header{Type: TypeCommand}, Body: []byte{1, 2, 3}}})
	isBaffle, _ := DetectBaffle(buf)
	if isBaffle {
		t.Fatalf("plain batch misdetected as baffle")
	}
}

func TestNewReplyClearsOffsetAndRC(t *testing.T) {
	req := CmdHeader{
		Header:    Header{OffsetNext: 99, Type: TypeCommand, Slot: 3},
		Cmd:       CmdQIPAssist,
		Initiator: InitiatorTCPIP,
		Seq:       7,
		RC:        5,
	}
	reply := NewReply(req, CmdHdrLen+8)
	got, err := DecodeCmdHeader(reply)
	if err != nil {
		t.Fatalf("DecodeCmdHeader: %v", err)
	}
	if got.OffsetNext != 0 {
		t.Fatalf("expected cleared offset_next, got %d", got.OffsetNext)
	}
	if got.RC != 0 {
		t.Fatalf("expected cleared rc, got %d", got.RC)
	}
	if got.Cmd != req.Cmd || got.Seq != req.Seq || got.Slot != req.Slot {
		t.Fatalf("expected copied identity fields, got %+v", got)
	}
	if len(reply) != CmdHdrLen+8 {
		t.Fatalf("expected reply length %d, got %d", CmdHdrLen+8, len(reply))
	}
}

func TestIPMPairRoundTrip(t *testing.T) {
	pairs := []IPMPair{
		{IP: 0x0A000001, MAC: [6]byte{0, 1, 2, 3, 4, 5}},
		{IP: 0x0A000002, MAC: [6]byte{6, 7, 8, 9, 10, 11}},
	}
	reply := IPMReply{Response: 0, Pairs: pairs}
	encoded := reply.Encode(nil)
	got := DecodeIPMPairs(encoded[4:])
	if len(got) != len(pairs) {
		t.Fatalf("got %d pairs, want %d", len(got), len(pairs))
	}
	for i := range pairs {
		if got[i] != pairs[i] {
			t.Fatalf("pair %d mismatch: got %+v want %+v", i, got[i], pairs[i])
		}
	}
}
