package decode

import (
	"net"
	"testing"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/netcensus/netcensus/internal/models"
)

func buildFrame(t *testing.T, transport gopacket.SerializableLayer, proto layers.IPProtocol) Frame {
	t.Helper()

	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       net.HardwareAddr{0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP("10.0.0.1").To4(),
		DstIP:    net.ParseIP("8.8.8.8").To4(),
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

	var err error
	if transport != nil {
		if tcp, ok := transport.(*layers.TCP); ok {
			tcp.SetNetworkLayerForChecksum(ip)
		}
		if udp, ok := transport.(*layers.UDP); ok {
			udp.SetNetworkLayerForChecksum(ip)
		}
		err = gopacket.SerializeLayers(buf, opts, eth, ip, transport)
	} else {
		err = gopacket.SerializeLayers(buf, opts, eth, ip)
	}
	if err != nil {
		t.Fatalf("serialize layers: %v", err)
	}

	data := buf.Bytes()
	return Frame{Data: data, WireLen: len(data), TsSecs: 100, TsUsecs: 500}
}

func TestDecodeTCP(t *testing.T) {
	tcp := &layers.TCP{SrcPort: 51000, DstPort: 443, SYN: true, Window: 1024}
	frame := buildFrame(t, tcp, layers.IPProtocolTCP)

	p, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if p.Protocol != models.ProtocolTCP {
		t.Errorf("Protocol = %v, want TCP", p.Protocol)
	}
	if p.SrcIP != "10.0.0.1" || p.DstIP != "8.8.8.8" {
		t.Errorf("SrcIP/DstIP = %s/%s, want 10.0.0.1/8.8.8.8", p.SrcIP, p.DstIP)
	}
	if p.SrcPort != 51000 || p.DstPort != 443 || !p.HasSrcPort || !p.HasDstPort {
		t.Errorf("ports = %d/%d (has %v/%v), want 51000/443 (true/true)", p.SrcPort, p.DstPort, p.HasSrcPort, p.HasDstPort)
	}
	if p.SizeBytes != uint64(frame.WireLen) {
		t.Errorf("SizeBytes = %d, want %d", p.SizeBytes, frame.WireLen)
	}
}

func TestDecodeUDP(t *testing.T) {
	udp := &layers.UDP{SrcPort: 53, DstPort: 51000}
	frame := buildFrame(t, udp, layers.IPProtocolUDP)

	p, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode returned error: %v", err)
	}
	if p.Protocol != models.ProtocolUDP {
		t.Errorf("Protocol = %v, want UDP", p.Protocol)
	}
}

func TestDecodeNonIPSkipped(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x01, 0x02, 0x03, 0x04, 0x05},
		DstMAC:       net.HardwareAddr{0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:        layers.LinkTypeEthernet,
		Protocol:        layers.EthernetTypeIPv4,
		HwAddressSize:   6,
		ProtAddressSize: 4,
		Operation:       layers.ARPRequest,
		SourceHwAddress: []byte{0, 1, 2, 3, 4, 5},
		SourceProtAddress: []byte{10, 0, 0, 1},
		DstHwAddress:      []byte{0, 0, 0, 0, 0, 0},
		DstProtAddress:    []byte{10, 0, 0, 2},
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		t.Fatalf("serialize layers: %v", err)
	}

	f := Frame{Data: buf.Bytes(), WireLen: len(buf.Bytes())}
	_, err := Decode(f)
	if err != ErrSkip {
		t.Errorf("Decode(ARP frame) error = %v, want ErrSkip", err)
	}
}
