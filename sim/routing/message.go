package routing

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"
)

// ControlPort is the UDP port OLSR control traffic is sent to.
const ControlPort = 698

// MessageType tags an OLSR control message.
type MessageType uint8

const (
	MessageHello MessageType = 1
	MessageTc    MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageHello:
		return "HELLO"
	case MessageTc:
		return "TC"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// LinkStatus is how a HELLO originator sees a neighbor.
type LinkStatus uint8

const (
	LinkAsymmetric LinkStatus = 1 // heard, not yet confirmed
	LinkSymmetric  LinkStatus = 2
)

// Neighbor is one entry of a HELLO.
type Neighbor struct {
	Addr   netip.Addr
	Status LinkStatus
}

// Message is a decoded control message.
//
// Wire layout, big-endian:
//
//	type(1) ttl(1) seq(2) originator(4)
//	HELLO: nIfaces(1) iface(4)... nNeighbors(2) [status(1) addr(4)]...
//	TC:    ansn(2) nNeighbors(2) addr(4)...
type Message struct {
	Type       MessageType
	TTL        uint8
	Seq        uint16
	Originator netip.Addr

	Interfaces []netip.Addr // HELLO: all interface addresses of the originator
	Neighbors  []Neighbor   // HELLO: heard neighbors; TC: advertised (symmetric) set

	Ansn uint16 // TC: advertised neighbor sequence number
}

var errMalformed = errors.New("malformed olsr message")

const headerLen = 8

// Marshal encodes m.
func (m *Message) Marshal() ([]byte, error) {
	if !m.Originator.Is4() {
		return nil, fmt.Errorf("originator %v is not IPv4: %w", m.Originator, errMalformed)
	}
	b := make([]byte, headerLen, headerLen+4+5*len(m.Neighbors)+4*len(m.Interfaces))
	b[0] = byte(m.Type)
	b[1] = m.TTL
	binary.BigEndian.PutUint16(b[2:], m.Seq)
	a := m.Originator.As4()
	copy(b[4:], a[:])

	switch m.Type {
	case MessageHello:
		if len(m.Interfaces) > 255 {
			return nil, fmt.Errorf("%d interfaces: %w", len(m.Interfaces), errMalformed)
		}
		b = append(b, byte(len(m.Interfaces)))
		for _, ifc := range m.Interfaces {
			a := ifc.As4()
			b = append(b, a[:]...)
		}
		b = binary.BigEndian.AppendUint16(b, uint16(len(m.Neighbors)))
		for _, n := range m.Neighbors {
			a := n.Addr.As4()
			b = append(b, byte(n.Status))
			b = append(b, a[:]...)
		}
	case MessageTc:
		b = binary.BigEndian.AppendUint16(b, m.Ansn)
		b = binary.BigEndian.AppendUint16(b, uint16(len(m.Neighbors)))
		for _, n := range m.Neighbors {
			a := n.Addr.As4()
			b = append(b, a[:]...)
		}
	default:
		return nil, fmt.Errorf("message %v: %w", m.Type, errMalformed)
	}
	return b, nil
}

// UnmarshalMessage decodes a control message.
func UnmarshalMessage(b []byte) (*Message, error) {
	if len(b) < headerLen {
		return nil, fmt.Errorf("%d byte header: %w", len(b), errMalformed)
	}
	m := &Message{
		Type:       MessageType(b[0]),
		TTL:        b[1],
		Seq:        binary.BigEndian.Uint16(b[2:]),
		Originator: netip.AddrFrom4([4]byte(b[4:8])),
	}
	r := b[headerLen:]
	switch m.Type {
	case MessageHello:
		if len(r) < 1 {
			return nil, errMalformed
		}
		n := int(r[0])
		r = r[1:]
		if len(r) < 4*n+2 {
			return nil, fmt.Errorf("hello interfaces: %w", errMalformed)
		}
		for i := 0; i < n; i++ {
			m.Interfaces = append(m.Interfaces, netip.AddrFrom4([4]byte(r[4*i:4*i+4])))
		}
		r = r[4*n:]
		k := int(binary.BigEndian.Uint16(r))
		r = r[2:]
		if len(r) != 5*k {
			return nil, fmt.Errorf("hello neighbors: %w", errMalformed)
		}
		for i := 0; i < k; i++ {
			e := r[5*i : 5*i+5]
			m.Neighbors = append(m.Neighbors, Neighbor{Status: LinkStatus(e[0]), Addr: netip.AddrFrom4([4]byte(e[1:5]))})
		}
	case MessageTc:
		if len(r) < 4 {
			return nil, fmt.Errorf("tc header: %w", errMalformed)
		}
		m.Ansn = binary.BigEndian.Uint16(r)
		k := int(binary.BigEndian.Uint16(r[2:]))
		r = r[4:]
		if len(r) != 4*k {
			return nil, fmt.Errorf("tc neighbors: %w", errMalformed)
		}
		for i := 0; i < k; i++ {
			m.Neighbors = append(m.Neighbors, Neighbor{Status: LinkSymmetric, Addr: netip.AddrFrom4([4]byte(r[4*i : 4*i+4]))})
		}
	default:
		return nil, fmt.Errorf("message %v: %w", m.Type, errMalformed)
	}
	return m, nil
}
