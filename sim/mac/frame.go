package mac

import (
	"time"

	"github.com/wnsim/wnsim/sim"
)

// FrameKind distinguishes data from control frames.
type FrameKind uint8

const (
	FrameData FrameKind = iota
	FrameRts
	FrameCts
	FrameAck
)

func (k FrameKind) String() string {
	switch k {
	case FrameData:
		return "DATA"
	case FrameRts:
		return "RTS"
	case FrameCts:
		return "CTS"
	case FrameAck:
		return "ACK"
	}
	return "UNKNOWN"
}

// On-air frame sizes in bytes.
const (
	DataHeaderBytes = 28 // MAC header + FCS
	LlcSnapBytes    = 8
	RtsBytes        = 20
	CtsBytes        = 14
	AckBytes        = 14

	// DataOverhead is added to every network-layer payload.
	DataOverhead = DataHeaderBytes + LlcSnapBytes
)

// Frame is a MAC frame in flight. Receivers treat it as read-only.
type Frame struct {
	Kind FrameKind
	Src  sim.DeviceID
	Dst  sim.DeviceID // sim.BroadcastDevice for broadcast
	Seq  uint16
	Size int // bytes on air

	// Duration is the NAV reservation carried by the frame, counted from
	// the end of the frame.
	Duration time.Duration

	// Protected is set on a DATA frame sent after a successful RTS/CTS exchange.
	Protected bool
	Retry     bool

	Payload []byte // network packet, DATA only
	Tag     uint64 // opaque upper-layer packet id
}

// IsBroadcast reports whether the frame is addressed to every device.
func (f *Frame) IsBroadcast() bool {
	return f.Dst == sim.BroadcastDevice
}

// RxInfo describes a successful reception.
type RxInfo struct {
	Time     time.Duration
	PowerDbm float64
	SnrDb    float64
}
