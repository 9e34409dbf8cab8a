// Package network assembles nodes, channels and devices into a runnable
// wireless network: it assigns IPv4 addresses, forwards packets hop by hop
// using each node's routing list, drives constant-bit-rate traffic sources
// and feeds flow accounting and packet trace callbacks.
//
// A Network owns its scheduler; one Network is one run.
package network

import (
	"errors"
	"fmt"
	"math"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/flow"
	"github.com/wnsim/wnsim/sim/mac"
	"github.com/wnsim/wnsim/sim/mobility"
	"github.com/wnsim/wnsim/sim/propagation"
	"github.com/wnsim/wnsim/sim/routing"
	"github.com/wnsim/wnsim/sim/trace"
)

// Drop reasons reported above the MAC.
const (
	DropNoRoute    = "no-route"
	DropTTLExpired = "ttl-expired"
	DropNoSink     = "no-sink"
)

// Config parameterizes a Network.
type Config struct {
	Seed  int64
	Trace trace.TraceConfig
	// MaxDelay is the age past which packets still in flight at the end of
	// Run are declared lost. Zero means flow.DefaultMaxDelay.
	MaxDelay time.Duration
}

// ChannelSpec describes a channel's propagation.
type ChannelSpec struct {
	// Loss is applied in order. Each factory receives the channel's own
	// random stream.
	Loss  []propagation.Factory
	Delay propagation.DelayModel
}

// Node is a host with one or more radio interfaces.
type Node struct {
	id       sim.NodeID
	mobility mobility.Model
	ifaces   []*Interface
	routes   routing.List
	static   *routing.StaticTable
	olsr     *routing.Agent
	sinks    map[uint16]*SinkStats
}

// ID returns the node id.
func (n *Node) ID() sim.NodeID { return n.id }

// Interface binds a MAC device to a node and an address.
type Interface struct {
	node    *Node
	dev     *mac.Device
	addr    netip.Addr
	channel sim.ChannelID
}

// SinkStats counts application payload received on a port.
type SinkStats struct {
	Packets uint64
	Bytes   uint64
}

// Network is a simulated wireless network.
type Network struct {
	cfg   Config
	sched *sim.Scheduler
	rng   *sim.PartitionedRNG

	nodes    []*Node
	channels []*mac.Channel
	ifaces   []*Interface // indexed by DeviceID
	byAddr   map[netip.Addr]*Interface
	perChan  map[sim.ChannelID]int

	olsrCfg *routing.OlsrConfig
	sources []*cbrSource
	nextSrc uint16

	monitor    *flow.Monitor
	dispatcher *trace.Dispatcher
	trace      *trace.SimulationTrace
	nextUID    uint64

	ran       bool
	destroyed bool
}

// New creates an empty network.
func New(cfg Config) *Network {
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = flow.DefaultMaxDelay
	}
	return &Network{
		cfg:        cfg,
		sched:      sim.NewScheduler(),
		rng:        sim.NewPartitionedRNG(sim.NewSimulationKey(cfg.Seed)),
		byAddr:     make(map[netip.Addr]*Interface),
		perChan:    make(map[sim.ChannelID]int),
		monitor:    flow.NewMonitor(),
		dispatcher: trace.NewDispatcher(),
		trace:      trace.NewSimulationTrace(cfg.Trace),
	}
}

// Scheduler returns the network's event scheduler.
func (nw *Network) Scheduler() *sim.Scheduler { return nw.sched }

// Now returns the current virtual time.
func (nw *Network) Now() time.Duration { return nw.sched.Now() }

var errFrozen = errors.New("topology cannot change after Run")

func (nw *Network) checkSetup() error {
	if nw.destroyed {
		return sim.ErrDestroyed
	}
	if nw.ran {
		return fmt.Errorf("%w: %w", errFrozen, sim.ErrInvalidConfig)
	}
	return nil
}

// CreateNode adds a stationary node at pos.
func (nw *Network) CreateNode(pos sim.Vector3) (sim.NodeID, error) {
	m, err := mobility.NewStatic(pos)
	if err != nil {
		return 0, err
	}
	return nw.CreateMobileNode(m)
}

// CreateMobileNode adds a node whose position follows m.
func (nw *Network) CreateMobileNode(m mobility.Model) (sim.NodeID, error) {
	if err := nw.checkSetup(); err != nil {
		return 0, err
	}
	if m == nil {
		return 0, fmt.Errorf("nil mobility model: %w", sim.ErrInvalidConfig)
	}
	n := &Node{
		id:       sim.NodeID(len(nw.nodes)),
		mobility: m,
		static:   routing.NewStaticTable(),
		sinks:    make(map[uint16]*SinkStats),
	}
	nw.nodes = append(nw.nodes, n)
	return n.id, nil
}

// NumNodes returns the number of nodes.
func (nw *Network) NumNodes() int { return len(nw.nodes) }

// Position returns where node id is at time t.
func (nw *Network) Position(id sim.NodeID, t time.Duration) (sim.Vector3, error) {
	n, err := nw.node(id)
	if err != nil {
		return sim.Vector3{}, err
	}
	return n.mobility.Position(t), nil
}

func (nw *Network) node(id sim.NodeID) (*Node, error) {
	if id < 0 || int(id) >= len(nw.nodes) {
		return nil, fmt.Errorf("node %d: %w", id, sim.ErrUnknownNode)
	}
	return nw.nodes[id], nil
}

func (nw *Network) iface(id sim.DeviceID) (*Interface, error) {
	if id < 0 || int(id) >= len(nw.ifaces) {
		return nil, fmt.Errorf("device %d: %w", id, sim.ErrUnknownDevice)
	}
	return nw.ifaces[id], nil
}

// CreateChannel builds a channel whose loss chain is instantiated from
// spec with the channel's random stream.
func (nw *Network) CreateChannel(spec ChannelSpec) (sim.ChannelID, error) {
	if err := nw.checkSetup(); err != nil {
		return 0, err
	}
	id := sim.ChannelID(len(nw.channels))
	if id >= 254 {
		return 0, fmt.Errorf("at most 254 channels: %w", sim.ErrInvalidConfig)
	}
	stream := nw.rng.ForSubsystem(sim.SubsystemChannel(id))
	models := make([]propagation.LossModel, 0, len(spec.Loss))
	for i, f := range spec.Loss {
		m, err := f(stream)
		if err != nil {
			return 0, fmt.Errorf("channel %d loss model %d: %w", id, i, err)
		}
		models = append(models, m)
	}
	ch, err := mac.NewChannel(id, nw.sched, propagation.NewChain(models...), spec.Delay)
	if err != nil {
		return 0, err
	}
	nw.channels = append(nw.channels, ch)
	return id, nil
}

// AttachDevice adds a radio to node on channel ch. Devices on channel c
// are addressed 10.1.(c+1).k, k counting from 1 in attach order.
func (nw *Network) AttachDevice(node sim.NodeID, ch sim.ChannelID, cfg mac.Config) (sim.DeviceID, error) {
	if err := nw.checkSetup(); err != nil {
		return 0, err
	}
	n, err := nw.node(node)
	if err != nil {
		return 0, err
	}
	if ch < 0 || int(ch) >= len(nw.channels) {
		return 0, fmt.Errorf("channel %d: %w", ch, sim.ErrUnknownChannel)
	}
	k := nw.perChan[ch] + 1
	if k > 254 {
		return 0, fmt.Errorf("channel %d already has 254 devices: %w", ch, sim.ErrInvalidConfig)
	}
	id := sim.DeviceID(len(nw.ifaces))
	dev, err := mac.NewDevice(id, nw.channels[ch], n.mobility, cfg, nw.rng.ForSubsystem(sim.SubsystemMAC(id)))
	if err != nil {
		return 0, err
	}
	ifc := &Interface{
		node:    n,
		dev:     dev,
		addr:    netip.AddrFrom4([4]byte{10, 1, byte(ch + 1), byte(k)}),
		channel: ch,
	}
	dev.SetHooks(nw.macHooks(ifc))
	nw.perChan[ch] = k
	nw.ifaces = append(nw.ifaces, ifc)
	nw.byAddr[ifc.addr] = ifc
	n.ifaces = append(n.ifaces, ifc)
	logrus.Debugf("node %d: device %d on channel %d at %v", node, id, ch, ifc.addr)
	return id, nil
}

// NumDevices returns the number of attached devices.
func (nw *Network) NumDevices() int { return len(nw.ifaces) }

// Address returns the IPv4 address of device id.
func (nw *Network) Address(id sim.DeviceID) (netip.Addr, error) {
	ifc, err := nw.iface(id)
	if err != nil {
		return netip.Addr{}, err
	}
	return ifc.addr, nil
}

// DeviceNode returns the node owning device id.
func (nw *Network) DeviceNode(id sim.DeviceID) (sim.NodeID, error) {
	ifc, err := nw.iface(id)
	if err != nil {
		return 0, err
	}
	return ifc.node.id, nil
}

// MacStats returns the contention counters of device id.
func (nw *Network) MacStats(id sim.DeviceID) (mac.Stats, error) {
	ifc, err := nw.iface(id)
	if err != nil {
		return mac.Stats{}, err
	}
	return ifc.dev.Stats(), nil
}

// EnableRouting runs an OLSR agent on every node once Run starts.
func (nw *Network) EnableRouting(cfg routing.OlsrConfig) error {
	if err := nw.checkSetup(); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	nw.olsrCfg = &cfg
	return nil
}

// AddStaticRoute installs a host route on node.
func (nw *Network) AddStaticRoute(node sim.NodeID, dst, nextHop netip.Addr) error {
	if err := nw.checkSetup(); err != nil {
		return err
	}
	n, err := nw.node(node)
	if err != nil {
		return err
	}
	return n.static.Add(dst, nextHop)
}

// Routes returns the OLSR table of node, or nil when routing is off.
func (nw *Network) Routes(node sim.NodeID) (map[netip.Addr]netip.Addr, error) {
	n, err := nw.node(node)
	if err != nil {
		return nil, err
	}
	if n.olsr == nil {
		return nil, nil
	}
	return n.olsr.Routes(), nil
}

// OnEvent registers cb for packet events of kind k.
func (nw *Network) OnEvent(k trace.Kind, cb trace.Callback) error {
	if !trace.IsValidKind(k) {
		return fmt.Errorf("trace kind %q: %w", k, sim.ErrInvalidConfig)
	}
	nw.dispatcher.On(k, cb)
	return nil
}

// EventCount returns how many events of kind k were emitted.
func (nw *Network) EventCount(k trace.Kind) uint64 { return nw.dispatcher.Count(k) }

// Trace returns the recorded packet trace.
func (nw *Network) Trace() *trace.SimulationTrace { return nw.trace }

// Flows returns a snapshot of flow accounting.
func (nw *Network) Flows() flow.Snapshot { return nw.monitor.Snapshot() }

// Sink returns the counters of the packet sink on node's port.
func (nw *Network) Sink(node sim.NodeID, port uint16) (SinkStats, error) {
	n, err := nw.node(node)
	if err != nil {
		return SinkStats{}, err
	}
	if s, ok := n.sinks[port]; ok {
		return *s, nil
	}
	return SinkStats{}, nil
}

// Run prepares routing agents and traffic sources and advances the clock
// to stop. A network runs once.
func (nw *Network) Run(stop time.Duration) error {
	if nw.destroyed {
		return sim.ErrDestroyed
	}
	if nw.ran {
		panic("network: Run called twice")
	}
	if stop < 0 {
		return fmt.Errorf("stop time %v: %w", stop, sim.ErrInvalidDelay)
	}
	nw.ran = true

	for _, n := range nw.nodes {
		nw.setupRouting(n)
	}
	for _, src := range nw.sources {
		src.start(nw)
	}
	logrus.Infof("run start: %d nodes, %d devices, %d sources, stop %v", len(nw.nodes), len(nw.ifaces), len(nw.sources), stop)
	if err := nw.sched.RunUntil(stop); err != nil {
		return err
	}
	lost := nw.monitor.CheckForLostPackets(stop, nw.cfg.MaxDelay)
	logrus.Infof("run complete at %v: %d events, %d packets declared lost", nw.sched.Now(), nw.sched.Executed(), lost)
	return nil
}

func (nw *Network) setupRouting(n *Node) {
	if nw.olsrCfg != nil && len(n.ifaces) > 0 {
		addrs := make([]netip.Addr, len(n.ifaces))
		for i, ifc := range n.ifaces {
			addrs[i] = ifc.addr
		}
		agent, err := routing.NewAgent(addrs, *nw.olsrCfg, nw.sched, nw.rng.ForSubsystem(sim.SubsystemRouting(n.id)), &nodeTransport{nw: nw, node: n})
		if err != nil {
			// config was validated by EnableRouting
			panic(fmt.Sprintf("network: olsr agent for node %d: %v", n.id, err))
		}
		n.olsr = agent
		n.routes.Add(agent, routing.PriorityOlsr)
		n.routes.Add(n.static, routing.PriorityStatic)
		agent.Start()
		return
	}
	n.routes.Add(n.static, routing.PriorityStatic)
	n.routes.Add(routing.OnLink{}, 0)
}

// Destroy cancels every pending event and resets the clock. It may be
// called once.
func (nw *Network) Destroy() error {
	if nw.destroyed {
		return sim.ErrDestroyed
	}
	nw.destroyed = true
	return nw.sched.Destroy()
}

func (nw *Network) emit(r trace.Record) {
	nw.trace.Record(r)
	nw.dispatcher.Emit(r)
}

func (nw *Network) macHooks(ifc *Interface) mac.Hooks {
	rec := func(k trace.Kind, f *mac.Frame) trace.Record {
		return trace.Record{
			Kind:   k,
			Time:   nw.sched.Now(),
			Node:   int(ifc.node.id),
			Device: int(ifc.dev.ID()),
			UID:    f.Tag,
			Size:   len(f.Payload),
		}
	}
	return mac.Hooks{
		Transmit: func(f *mac.Frame) {
			nw.emit(rec(trace.KindTransmit, f))
		},
		Receive: func(f *mac.Frame, info mac.RxInfo) {
			nw.emit(rec(trace.KindReceive, f))
			nw.receive(ifc, f)
		},
		Retry: func(f *mac.Frame, attempt int) {
			r := rec(trace.KindRetry, f)
			r.Attempt = attempt
			nw.emit(r)
		},
		Drop: func(f *mac.Frame, reason mac.DropReason) {
			r := rec(trace.KindDrop, f)
			r.Reason = string(reason)
			nw.emit(r)
			nw.monitor.OnDrop(f.Tag, int(ifc.node.id), string(reason))
		},
	}
}

// drop settles uid as lost above the MAC.
func (nw *Network) drop(n *Node, uid uint64, size int, reason string) {
	logrus.Debugf("[%v] node %d: drop uid %d: %s", nw.sched.Now(), n.id, uid, reason)
	nw.emit(trace.Record{
		Kind:   trace.KindDrop,
		Time:   nw.sched.Now(),
		Node:   int(n.id),
		Device: -1,
		UID:    uid,
		Size:   size,
		Reason: reason,
	})
	nw.monitor.OnDrop(uid, int(n.id), reason)
}

func (nw *Network) isLocal(n *Node, addr netip.Addr) bool {
	for _, ifc := range n.ifaces {
		if ifc.addr == addr {
			return true
		}
	}
	return false
}

// output routes an encoded packet for dst out of node n.
func (nw *Network) output(n *Node, dst netip.Addr, pkt []byte, uid uint64) {
	nh, ok := n.routes.NextHop(dst)
	if !ok {
		nw.drop(n, uid, len(pkt), DropNoRoute)
		return
	}
	peer, ok := nw.byAddr[nh]
	if !ok {
		nw.drop(n, uid, len(pkt), DropNoRoute)
		return
	}
	var out *Interface
	for _, ifc := range n.ifaces {
		if ifc.channel == peer.channel {
			out = ifc
			break
		}
	}
	if out == nil || out == peer {
		nw.drop(n, uid, len(pkt), DropNoRoute)
		return
	}
	nw.enqueue(out, peer.dev.ID(), pkt, uid)
}

func (nw *Network) enqueue(out *Interface, dst sim.DeviceID, pkt []byte, uid uint64) {
	if err := out.dev.Enqueue(dst, pkt, uid); err != nil {
		if errors.Is(err, mac.ErrQueueFull) {
			nw.drop(out.node, uid, len(pkt), string(mac.DropQueueOverflow))
			return
		}
		logrus.Errorf("node %d: enqueue: %v", out.node.id, err)
	}
}

// receive handles a DATA frame delivered by ifc's MAC.
func (nw *Network) receive(ifc *Interface, f *mac.Frame) {
	n := ifc.node
	d, err := decodeDatagram(f.Payload)
	if err != nil {
		logrus.Warnf("node %d: discarding frame from device %d: %v", n.id, f.Src, err)
		return
	}
	if d.dst != BroadcastAddr {
		// the sender's MAC may still give up on this frame if our ACK is lost
		nw.monitor.OnArrive(f.Tag, int(n.id))
	}
	if d.dst == BroadcastAddr || nw.isLocal(n, d.dst) {
		nw.deliver(ifc, d, f.Tag)
		return
	}
	if d.ttl <= 1 {
		nw.drop(n, f.Tag, len(f.Payload), DropTTLExpired)
		return
	}
	d.ttl--
	pkt, err := d.encode()
	if err != nil {
		logrus.Errorf("node %d: %v", n.id, err)
		return
	}
	nw.monitor.OnForward(f.Tag, int(n.id))
	nw.output(n, d.dst, pkt, f.Tag)
}

func (nw *Network) deliver(ifc *Interface, d *datagram, uid uint64) {
	n := ifc.node
	if d.dstPort == routing.ControlPort {
		if n.olsr == nil {
			return
		}
		if err := n.olsr.HandlePacket(ifc.addr, d.src, d.payload); err != nil {
			logrus.Warnf("node %d: %v", n.id, err)
		}
		return
	}
	s, ok := n.sinks[d.dstPort]
	if !ok {
		if d.dst != BroadcastAddr {
			nw.drop(n, uid, IPv4HeaderBytes+UDPHeaderBytes+len(d.payload), DropNoSink)
		}
		return
	}
	s.Packets++
	s.Bytes += uint64(len(d.payload))
	nw.monitor.OnReceive(uid, nw.sched.Now())
}

func (nw *Network) newUID() uint64 {
	nw.nextUID++
	return nw.nextUID
}

// nodeTransport lets a node's OLSR agent broadcast control packets.
type nodeTransport struct {
	nw   *Network
	node *Node
}

func (t *nodeTransport) Broadcast(iface netip.Addr, payload []byte) {
	ifc, ok := t.nw.byAddr[iface]
	if !ok || ifc.node != t.node {
		return
	}
	d := &datagram{
		src:     iface,
		dst:     BroadcastAddr,
		ttl:     1,
		srcPort: routing.ControlPort,
		dstPort: routing.ControlPort,
		payload: payload,
	}
	pkt, err := d.encode()
	if err != nil {
		logrus.Errorf("node %d: %v", t.node.id, err)
		return
	}
	t.nw.enqueue(ifc, sim.BroadcastDevice, pkt, t.nw.newUID())
}

func validRate(rate float64) bool {
	return rate > 0 && !math.IsInf(rate, 0) && !math.IsNaN(rate)
}
