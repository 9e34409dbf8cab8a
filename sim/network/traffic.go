package network

import (
	"fmt"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/flow"
)

// Ports used by traffic sources.
const (
	DefaultDstPort   = 9 // discard
	FirstSourcePort  = 49153
	maxStartJitterNs = int64(time.Millisecond)
)

// Traffic describes a constant-bit-rate UDP source.
type Traffic struct {
	Src sim.DeviceID
	// Dst is the receiving device, or sim.BroadcastDevice.
	Dst         sim.DeviceID
	PayloadSize int // bytes of UDP payload per packet
	Start, Stop time.Duration
	Rate        float64 // offered load in bits per second of payload
	// DstPort defaults to DefaultDstPort.
	DstPort uint16
}

// Interval returns the time between packets.
func (t Traffic) Interval() time.Duration {
	return time.Duration(float64(t.PayloadSize*8) / t.Rate * float64(time.Second))
}

type cbrSource struct {
	spec    Traffic
	src     *Interface
	dst     *Interface // nil for broadcast
	srcPort uint16
	sent    uint64
}

// Send registers a CBR source from device src to device dst (or
// sim.BroadcastDevice) on the default port, sending payload-byte packets
// at rate bits per second between start and stop.
func (nw *Network) Send(src, dst sim.DeviceID, payload int, start, stop time.Duration, rate float64) error {
	return nw.AddTraffic(Traffic{Src: src, Dst: dst, PayloadSize: payload, Start: start, Stop: stop, Rate: rate})
}

// AddTraffic registers a CBR source and a packet sink on the destination
// port of the receiving node (every node for broadcast).
func (nw *Network) AddTraffic(t Traffic) error {
	if err := nw.checkSetup(); err != nil {
		return err
	}
	if !validRate(t.Rate) {
		return fmt.Errorf("traffic rate %v bps: %w", t.Rate, sim.ErrInvalidRate)
	}
	src, err := nw.iface(t.Src)
	if err != nil {
		return err
	}
	var dst *Interface
	if t.Dst != sim.BroadcastDevice {
		if dst, err = nw.iface(t.Dst); err != nil {
			return err
		}
		if dst.node == src.node {
			return fmt.Errorf("traffic from device %d to its own node: %w", t.Src, sim.ErrInvalidConfig)
		}
	}
	maxPayload := 65535 - IPv4HeaderBytes - UDPHeaderBytes
	if t.PayloadSize < 1 || t.PayloadSize > maxPayload {
		return fmt.Errorf("payload size %d outside [1, %d]: %w", t.PayloadSize, maxPayload, sim.ErrInvalidConfig)
	}
	if t.Start < 0 || t.Stop <= t.Start {
		return fmt.Errorf("traffic window [%v, %v): %w", t.Start, t.Stop, sim.ErrInvalidConfig)
	}
	if t.Interval() <= 0 {
		return fmt.Errorf("rate %v bps too high for %d byte packets: %w", t.Rate, t.PayloadSize, sim.ErrInvalidRate)
	}
	if t.DstPort == 0 {
		t.DstPort = DefaultDstPort
	}
	if nw.nextSrc == 0 {
		nw.nextSrc = FirstSourcePort
	}
	s := &cbrSource{spec: t, src: src, dst: dst, srcPort: nw.nextSrc}
	nw.nextSrc++
	nw.sources = append(nw.sources, s)

	if dst != nil {
		nw.ensureSink(dst.node, t.DstPort)
	} else {
		for _, n := range nw.nodes {
			if n != src.node {
				nw.ensureSink(n, t.DstPort)
			}
		}
	}
	return nil
}

func (nw *Network) ensureSink(n *Node, port uint16) {
	if _, ok := n.sinks[port]; !ok {
		n.sinks[port] = &SinkStats{}
	}
}

// start schedules the first packet, jittered by up to a millisecond from
// the traffic stream.
func (s *cbrSource) start(nw *Network) {
	jitter := time.Duration(nw.rng.ForSubsystem(sim.SubsystemTraffic).Int64N(maxStartJitterNs))
	nw.sched.MustSchedule(s.spec.Start+jitter, func() { s.emit(nw) })
}

func (s *cbrSource) emit(nw *Network) {
	now := nw.sched.Now()
	if now >= s.spec.Stop {
		return
	}
	d := &datagram{
		src:     s.src.addr,
		dst:     BroadcastAddr,
		ttl:     DefaultTTL,
		srcPort: s.srcPort,
		dstPort: s.spec.DstPort,
		payload: make([]byte, s.spec.PayloadSize),
	}
	if s.dst != nil {
		d.dst = s.dst.addr
	}
	uid := nw.newUID()
	d.id = uint16(uid)
	s.sent++

	pkt, err := d.encode()
	if err != nil {
		logrus.Errorf("source %d: %v", s.srcPort, err)
		return
	}
	if _, err := nw.monitor.OnTransmit(uid, pkt, int(s.src.node.id), now); err != nil {
		logrus.Errorf("source %d: %v", s.srcPort, err)
	}
	if s.dst == nil {
		nw.enqueue(s.src, sim.BroadcastDevice, pkt, uid)
	} else {
		nw.output(s.src.node, d.dst, pkt, uid)
	}
	nw.sched.MustSchedule(s.spec.Interval(), func() { s.emit(nw) })
}

// Sent returns the number of packets originated by all sources.
func (nw *Network) Sent() uint64 {
	var n uint64
	for _, s := range nw.sources {
		n += s.sent
	}
	return n
}

// SourceTuple returns the five-tuple of the i-th registered source, in
// AddTraffic order.
func (nw *Network) SourceTuple(i int) (flow.FiveTuple, error) {
	if i < 0 || i >= len(nw.sources) {
		return flow.FiveTuple{}, fmt.Errorf("traffic source %d of %d: %w", i, len(nw.sources), sim.ErrInvalidConfig)
	}
	s := nw.sources[i]
	ft := flow.FiveTuple{
		Src:      s.src.addr,
		Dst:      BroadcastAddr,
		SrcPort:  s.srcPort,
		DstPort:  s.spec.DstPort,
		Protocol: uint8(layers.IPProtocolUDP),
	}
	if s.dst != nil {
		ft.Dst = s.dst.addr
	}
	return ft, nil
}
