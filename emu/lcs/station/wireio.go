package station

import (
	"fmt"
	"net"

	"github.com/rcornwell/lcsstation/emu/lcs/wire"
)

// decodeCmdFrame reads the 12-byte command header plus trailing body
// out of a command-type wire.Frame.
func decodeCmdFrame(f wire.Frame) (wire.CmdHeader, []byte, error) {
	hdr, body, err := wire.DecodeCmdFrame(f.Header, f.Body)
	if err != nil {
		return wire.CmdHeader{}, nil, fmt.Errorf("station: decode command frame: %w", err)
	}
	return hdr, body, nil
}

// applySourceMAC substitutes mac for an all-zero source address in an
// outbound Ethernet frame. A non-zero source is left as the guest sent
// it.
func applySourceMAC(frame []byte, mac net.HardwareAddr) []byte {
	if len(frame) < 12 || mac == nil {
		return frame
	}
	for _, b := range frame[6:12] {
		if b != 0 {
			return frame
		}
	}
	out := make([]byte, len(frame))
	copy(out, frame)
	copy(out[6:12], mac)
	return out
}
