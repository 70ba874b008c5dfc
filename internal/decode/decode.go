// Package decode parses link/network/transport headers out of a captured
// frame and emits a models.ParsedPacket, or a reason it could not.
package decode

import (
	"errors"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/netcensus/netcensus/internal/models"
)

// ErrSkip indicates the frame had no decodable IPv4 or IPv6 layer (non-IP
// traffic, or IP headers too truncated or garbled to parse) and was not
// decoded further. Not an error condition — the caller
// should simply move on to the next frame.
var ErrSkip = errors.New("decode: unsupported network layer")

// Frame is the raw capture result handed from the packet source to the
// decoder: the wire length of the original frame, the (possibly truncated)
// captured bytes, and the capture timestamp.
type Frame struct {
	Data     []byte
	WireLen  int
	TsSecs   int64
	TsUsecs  int64
}

// Decode parses an Ethernet frame into a ParsedPacket. It never panics on
// malformed input: gopacket's lazy decoding surfaces truncated or garbled
// layers as a nil layer. A missing network layer yields ErrSkip, and Decode
// returns no other error; a transport layer that is missing or fails to
// decode leaves the packet with an ICMP or Other protocol and no ports.
func Decode(f Frame) (*models.ParsedPacket, error) {
	packet := gopacket.NewPacket(f.Data, layers.LayerTypeEthernet, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	networkLayer := packet.NetworkLayer()
	if networkLayer == nil {
		return nil, ErrSkip
	}

	var srcIP, dstIP string
	switch nl := networkLayer.(type) {
	case *layers.IPv4:
		srcIP = nl.SrcIP.String()
		dstIP = nl.DstIP.String()
	case *layers.IPv6:
		srcIP = nl.SrcIP.String()
		dstIP = nl.DstIP.String()
	default:
		return nil, ErrSkip
	}

	parsed := &models.ParsedPacket{
		SrcIP:     srcIP,
		DstIP:     dstIP,
		SizeBytes: uint64(f.WireLen),
		TsSecs:    f.TsSecs,
		TsUsecs:   f.TsUsecs,
	}

	switch tl := packet.TransportLayer().(type) {
	case *layers.TCP:
		parsed.Protocol = models.ProtocolTCP
		parsed.SrcPort = uint16(tl.SrcPort)
		parsed.DstPort = uint16(tl.DstPort)
		parsed.HasSrcPort = true
		parsed.HasDstPort = true
	case *layers.UDP:
		parsed.Protocol = models.ProtocolUDP
		parsed.SrcPort = uint16(tl.SrcPort)
		parsed.DstPort = uint16(tl.DstPort)
		parsed.HasSrcPort = true
		parsed.HasDstPort = true
	default:
		if icmpLayer := packet.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
			parsed.Protocol = models.ProtocolICMPv4
		} else if icmpLayer := packet.Layer(layers.LayerTypeICMPv6); icmpLayer != nil {
			parsed.Protocol = models.ProtocolICMPv6
		} else {
			parsed.Protocol = models.ProtocolOther
		}
	}

	return parsed, nil
}
