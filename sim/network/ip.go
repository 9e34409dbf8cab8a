package network

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Header sizes added to every application payload.
const (
	IPv4HeaderBytes = 20
	UDPHeaderBytes  = 8

	DefaultTTL = 64
)

// BroadcastAddr is the limited broadcast address.
var BroadcastAddr = netip.AddrFrom4([4]byte{255, 255, 255, 255})

// datagram is a decoded IPv4/UDP packet.
type datagram struct {
	src     netip.Addr
	dst     netip.Addr
	ttl     uint8
	id      uint16
	srcPort uint16
	dstPort uint16
	payload []byte
}

var serializeOpts = gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}

func (d *datagram) encode() ([]byte, error) {
	ip := &layers.IPv4{
		Version:  4,
		TTL:      d.ttl,
		Id:       d.id,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IP(d.src.AsSlice()),
		DstIP:    net.IP(d.dst.AsSlice()),
	}
	udp := &layers.UDP{SrcPort: layers.UDPPort(d.srcPort), DstPort: layers.UDPPort(d.dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, err
	}
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOpts, ip, udp, gopacket.Payload(d.payload)); err != nil {
		return nil, fmt.Errorf("serialize %v -> %v: %w", d.src, d.dst, err)
	}
	return buf.Bytes(), nil
}

func decodeDatagram(b []byte) (*datagram, error) {
	packet := gopacket.NewPacket(b, layers.LayerTypeIPv4, gopacket.NoCopy)
	ipl := packet.Layer(layers.LayerTypeIPv4)
	if ipl == nil {
		return nil, fmt.Errorf("not an IPv4 packet (%d bytes)", len(b))
	}
	ip := ipl.(*layers.IPv4)
	udpl := packet.Layer(layers.LayerTypeUDP)
	if udpl == nil {
		return nil, fmt.Errorf("protocol %v is not UDP", ip.Protocol)
	}
	udp := udpl.(*layers.UDP)
	src, _ := netip.AddrFromSlice(ip.SrcIP.To4())
	dst, _ := netip.AddrFromSlice(ip.DstIP.To4())
	return &datagram{
		src:     src,
		dst:     dst,
		ttl:     ip.TTL,
		id:      ip.Id,
		srcPort: uint16(udp.SrcPort),
		dstPort: uint16(udp.DstPort),
		payload: udp.Payload,
	}, nil
}
