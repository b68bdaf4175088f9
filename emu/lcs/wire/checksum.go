package wire

import (
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// RecomputeChecksums re-serializes an Ethernet frame carrying an IPv4
// datagram, recomputing the IPv4 header checksum and the TCP/UDP
// checksum over the pseudo-header. It is a no-op (returns frame
// unchanged) for anything other than Ethernet-over-IPv4, matching the
// scope of the outbound checksum-offload assist.
func RecomputeChecksums(frame []byte) ([]byte, error) {
	packet := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ipLayer := packet.Layer(layers.LayerTypeIPv4)
	if ipLayer == nil {
		return frame, nil
	}
	ip4, _ := ipLayer.(*layers.IPv4)

	var transport gopacket.SerializableLayer
	switch ip4.Protocol {
	case layers.IPProtocolTCP:
		tcp, _ := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		if tcp == nil {
			return frame, nil
		}
		if err := tcp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, err
		}
		transport = tcp
	case layers.IPProtocolUDP:
		udp, _ := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if udp == nil {
			return frame, nil
		}
		if err := udp.SetNetworkLayerForChecksum(ip4); err != nil {
			return nil, err
		}
		transport = udp
	default:
		transport = nil
	}

	eth, _ := packet.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	if eth == nil {
		return frame, nil
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	layersToSerialize := []gopacket.SerializableLayer{eth, ip4}
	if transport != nil {
		layersToSerialize = append(layersToSerialize, transport)
		if payload := packet.ApplicationLayer(); payload != nil {
			layersToSerialize = append(layersToSerialize, gopacket.Payload(payload.Payload()))
		}
	} else if payload := ip4.LayerPayload(); len(payload) > 0 {
		layersToSerialize = append(layersToSerialize, gopacket.Payload(payload))
	}

	if err := gopacket.SerializeLayers(buf, opts, layersToSerialize...); err != nil {
		return nil, err
	}
	out := make([]byte, len(buf.Bytes()))
	copy(out, buf.Bytes())
	return out, nil
}
