// Package flow classifies IP packets into five-tuple flows and accounts
// their delivery: packets and bytes sent and received, loss, one-way delay
// and jitter.
//
// Accounting is keyed by a per-packet UID supplied by the network layer, so
// every packet settles exactly once as received or lost no matter how many
// hops or copies it produces.
package flow

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// ErrNotClassifiable is returned for packets that are not IPv4 TCP/UDP.
var ErrNotClassifiable = errors.New("packet has no five-tuple")

// FiveTuple identifies a flow.
type FiveTuple struct {
	Src      netip.Addr
	Dst      netip.Addr
	SrcPort  uint16
	DstPort  uint16
	Protocol uint8
}

func (t FiveTuple) String() string {
	return fmt.Sprintf("%v:%d -> %v:%d proto %d", t.Src, t.SrcPort, t.Dst, t.DstPort, t.Protocol)
}

// Classify decodes an IPv4 packet and returns its five-tuple.
func Classify(data []byte) (FiveTuple, error) {
	packet := gopacket.NewPacket(data, layers.LayerTypeIPv4, gopacket.NoCopy)

	var t FiveTuple
	l := packet.Layer(layers.LayerTypeIPv4)
	if l == nil {
		return t, fmt.Errorf("not an IPv4 packet: %w", ErrNotClassifiable)
	}
	ip := l.(*layers.IPv4)
	src, ok1 := netip.AddrFromSlice(ip.SrcIP.To4())
	dst, ok2 := netip.AddrFromSlice(ip.DstIP.To4())
	if !ok1 || !ok2 {
		return t, fmt.Errorf("bad IPv4 addresses: %w", ErrNotClassifiable)
	}
	t.Src, t.Dst, t.Protocol = src, dst, uint8(ip.Protocol)

	if l := packet.Layer(layers.LayerTypeUDP); l != nil {
		udp := l.(*layers.UDP)
		t.SrcPort, t.DstPort = uint16(udp.SrcPort), uint16(udp.DstPort)
	} else if l := packet.Layer(layers.LayerTypeTCP); l != nil {
		tcp := l.(*layers.TCP)
		t.SrcPort, t.DstPort = uint16(tcp.SrcPort), uint16(tcp.DstPort)
	} else {
		return t, fmt.Errorf("protocol %v: %w", ip.Protocol, ErrNotClassifiable)
	}
	return t, nil
}
