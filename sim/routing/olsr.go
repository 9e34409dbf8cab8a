package routing

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/rand/v2"
	"net/netip"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/wnsim/wnsim/sim"
)

// OlsrConfig holds the proactive routing timers.
type OlsrConfig struct {
	HelloInterval time.Duration
	TcInterval    time.Duration
	// HoldFactor multiplies an interval to get how long advertised state
	// stays valid without refresh.
	HoldFactor int
	// LinkCost weighs the link between two main addresses for the shortest
	// path computation. It must be symmetric and return a positive finite
	// cost. Nil counts hops.
	LinkCost func(a, b netip.Addr) float64
}

func (c OlsrConfig) cost(a, b netip.Addr) float64 {
	if c.LinkCost == nil {
		return 1
	}
	return c.LinkCost(a, b)
}

// DefaultOlsrConfig returns the RFC 3626 default intervals.
func DefaultOlsrConfig() OlsrConfig {
	return OlsrConfig{
		HelloInterval: 2 * time.Second,
		TcInterval:    5 * time.Second,
		HoldFactor:    3,
	}
}

// Validate rejects non-positive timers.
func (c OlsrConfig) Validate() error {
	if c.HelloInterval <= 0 {
		return fmt.Errorf("olsr hello interval %v must be > 0: %w", c.HelloInterval, sim.ErrInvalidConfig)
	}
	if c.TcInterval <= 0 {
		return fmt.Errorf("olsr tc interval %v must be > 0: %w", c.TcInterval, sim.ErrInvalidConfig)
	}
	if c.HoldFactor < 1 {
		return fmt.Errorf("olsr hold factor %d must be >= 1: %w", c.HoldFactor, sim.ErrInvalidConfig)
	}
	return nil
}

// Transport sends a control payload as a one-hop broadcast out of the
// interface with address iface.
type Transport interface {
	Broadcast(iface netip.Addr, payload []byte)
}

const tcTTL = 255

type link struct {
	remote     netip.Addr // neighbor interface the link was heard on
	heardUntil time.Duration
	symUntil   time.Duration
}

type topologyEntry struct {
	ansn    uint16
	dests   []netip.Addr
	expires time.Duration
}

type dupKey struct {
	orig netip.Addr
	seq  uint16
}

// Agent is a per-node OLSR instance. Neighbors are sensed with periodic
// HELLOs, the symmetric neighbor set is flooded in TC messages, and routes
// are shortest paths (hop count unless LinkCost says otherwise) over the
// resulting topology, recomputed lazily after any change. Among equal-cost
// paths the next hop with the lowest address wins.
type Agent struct {
	main   netip.Addr
	ifaces []netip.Addr
	cfg    OlsrConfig
	sched  *sim.Scheduler
	rng    *rand.Rand
	tx     Transport

	seq        uint16
	ansn       uint16
	advertised []netip.Addr

	// neighbor main -> link
	links map[netip.Addr]*link
	// neighbor main -> 2-hop main -> expiry
	twoHop map[netip.Addr]map[netip.Addr]time.Duration
	// TC originator -> advertised set
	topology map[netip.Addr]*topologyEntry
	// interface -> main
	aliases map[netip.Addr]netip.Addr
	dups    map[dupKey]time.Duration
	// destination main -> next-hop interface
	routes map[netip.Addr]netip.Addr
	dirty  bool

	helloEvent *sim.Event
	tcEvent    *sim.Event
	started    bool
}

// NewAgent creates an agent for a node owning ifaces; the first interface
// is the node's main address.
func NewAgent(ifaces []netip.Addr, cfg OlsrConfig, sched *sim.Scheduler, rng *rand.Rand, tx Transport) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(ifaces) == 0 {
		return nil, fmt.Errorf("olsr agent needs at least one interface: %w", sim.ErrInvalidConfig)
	}
	if sched == nil || rng == nil || tx == nil {
		return nil, fmt.Errorf("olsr agent needs a scheduler, rng and transport: %w", sim.ErrInvalidConfig)
	}
	a := &Agent{
		main:     ifaces[0],
		ifaces:   slices.Clone(ifaces),
		cfg:      cfg,
		sched:    sched,
		rng:      rng,
		tx:       tx,
		links:    make(map[netip.Addr]*link),
		twoHop:   make(map[netip.Addr]map[netip.Addr]time.Duration),
		topology: make(map[netip.Addr]*topologyEntry),
		aliases:  make(map[netip.Addr]netip.Addr),
		dups:     make(map[dupKey]time.Duration),
		routes:   make(map[netip.Addr]netip.Addr),
	}
	return a, nil
}

// Main returns the node's main address.
func (a *Agent) Main() netip.Addr { return a.main }

// Start schedules the first HELLO and TC emissions, each jittered.
func (a *Agent) Start() {
	if a.started {
		return
	}
	a.started = true
	a.helloEvent = a.sched.MustSchedule(a.jitter(a.cfg.HelloInterval), a.sendHello)
	a.tcEvent = a.sched.MustSchedule(a.jitter(a.cfg.TcInterval), a.sendTc)
}

// Stop cancels the periodic emissions.
func (a *Agent) Stop() {
	a.sched.Cancel(a.helloEvent)
	a.sched.Cancel(a.tcEvent)
	a.started = false
}

// jitter draws uniformly from [0, interval/4).
func (a *Agent) jitter(interval time.Duration) time.Duration {
	q := int64(interval / 4)
	if q <= 0 {
		return 0
	}
	return time.Duration(a.rng.Int64N(q))
}

func (a *Agent) hold(interval time.Duration) time.Duration {
	return time.Duration(a.cfg.HoldFactor) * interval
}

func (a *Agent) nextSeq() uint16 {
	a.seq++
	return a.seq
}

func (a *Agent) sendHello() {
	now := a.sched.Now()
	a.purge(now)
	m := &Message{
		Type:       MessageHello,
		TTL:        1,
		Seq:        a.nextSeq(),
		Originator: a.main,
		Interfaces: a.ifaces,
	}
	for _, n := range sortedKeys(a.links) {
		st := LinkAsymmetric
		if a.links[n].symUntil > now {
			st = LinkSymmetric
		}
		m.Neighbors = append(m.Neighbors, Neighbor{Addr: n, Status: st})
	}
	a.broadcast(m)
	a.helloEvent = a.sched.MustSchedule(a.cfg.HelloInterval-a.jitter(a.cfg.HelloInterval), a.sendHello)
}

func (a *Agent) sendTc() {
	now := a.sched.Now()
	a.purge(now)
	sym := a.SymmetricNeighbors()
	if !slices.Equal(sym, a.advertised) {
		a.ansn++
		a.advertised = sym
	}
	if len(sym) > 0 {
		m := &Message{
			Type:       MessageTc,
			TTL:        tcTTL,
			Seq:        a.nextSeq(),
			Originator: a.main,
			Ansn:       a.ansn,
		}
		for _, n := range sym {
			m.Neighbors = append(m.Neighbors, Neighbor{Addr: n, Status: LinkSymmetric})
		}
		a.broadcast(m)
	}
	a.tcEvent = a.sched.MustSchedule(a.cfg.TcInterval-a.jitter(a.cfg.TcInterval), a.sendTc)
}

func (a *Agent) broadcast(m *Message) {
	b, err := m.Marshal()
	if err != nil {
		logrus.Errorf("olsr %v: encode %v: %v", a.main, m.Type, err)
		return
	}
	for _, ifc := range a.ifaces {
		a.tx.Broadcast(ifc, b)
	}
}

// HandlePacket processes a control payload received on local interface
// local from the neighbor interface src.
func (a *Agent) HandlePacket(local, src netip.Addr, payload []byte) error {
	m, err := UnmarshalMessage(payload)
	if err != nil {
		return fmt.Errorf("olsr %v from %v: %w", a.main, src, err)
	}
	if m.Originator == a.main {
		return nil
	}
	now := a.sched.Now()
	a.purge(now)
	switch m.Type {
	case MessageHello:
		a.handleHello(src, m, now)
	case MessageTc:
		a.handleTc(src, m, now)
	}
	return nil
}

func (a *Agent) handleHello(src netip.Addr, m *Message, now time.Duration) {
	orig := m.Originator
	a.aliases[orig] = orig
	a.aliases[src] = orig
	for _, ifc := range m.Interfaces {
		a.aliases[ifc] = orig
	}
	l, ok := a.links[orig]
	if !ok {
		l = &link{}
		a.links[orig] = l
		logrus.Debugf("[%v] olsr %v: new neighbor %v via %v", now, a.main, orig, src)
	}
	l.remote = src
	l.heardUntil = now + a.hold(a.cfg.HelloInterval)

	two := make(map[netip.Addr]time.Duration)
	for _, n := range m.Neighbors {
		if n.Addr == a.main {
			l.symUntil = l.heardUntil
			continue
		}
		if n.Status == LinkSymmetric {
			two[n.Addr] = now + a.hold(a.cfg.HelloInterval)
		}
	}
	a.twoHop[orig] = two
	a.dirty = true
}

func (a *Agent) handleTc(src netip.Addr, m *Message, now time.Duration) {
	key := dupKey{m.Originator, m.Seq}
	if _, seen := a.dups[key]; seen {
		return
	}
	a.dups[key] = now + a.hold(a.cfg.TcInterval)

	sender, ok := a.aliases[src]
	if !ok || a.links[sender] == nil || a.links[sender].symUntil <= now {
		return // only accept topology from symmetric neighbors
	}
	e := a.topology[m.Originator]
	if e != nil && seqNewer(e.ansn, m.Ansn) {
		return
	}
	dests := make([]netip.Addr, 0, len(m.Neighbors))
	for _, n := range m.Neighbors {
		dests = append(dests, n.Addr)
	}
	a.topology[m.Originator] = &topologyEntry{ansn: m.Ansn, dests: dests, expires: now + a.hold(a.cfg.TcInterval)}
	a.dirty = true

	if m.TTL > 1 {
		fwd := *m
		fwd.TTL--
		a.sched.MustSchedule(a.jitter(a.cfg.HelloInterval), func() { a.broadcast(&fwd) })
	}
}

// seqNewer reports whether a is newer than b in wrapping uint16 order.
func seqNewer(a, b uint16) bool {
	return int16(a-b) > 0
}

// purge drops every entry whose validity ran out.
func (a *Agent) purge(now time.Duration) {
	for n, l := range a.links {
		if l.heardUntil <= now {
			delete(a.links, n)
			delete(a.twoHop, n)
			a.dirty = true
			logrus.Debugf("[%v] olsr %v: neighbor %v lost", now, a.main, n)
		}
	}
	for n, set := range a.twoHop {
		for x, exp := range set {
			if exp <= now {
				delete(set, x)
				a.dirty = true
			}
		}
		if len(set) == 0 {
			delete(a.twoHop, n)
		}
	}
	for o, e := range a.topology {
		if e.expires <= now {
			delete(a.topology, o)
			a.dirty = true
		}
	}
	for k, exp := range a.dups {
		if exp <= now {
			delete(a.dups, k)
		}
	}
}

// SymmetricNeighbors returns the mains of currently symmetric neighbors, sorted.
func (a *Agent) SymmetricNeighbors() []netip.Addr {
	now := a.sched.Now()
	var out []netip.Addr
	for n, l := range a.links {
		if l.symUntil > now && l.heardUntil > now {
			out = append(out, n)
		}
	}
	slices.SortFunc(out, func(x, y netip.Addr) int { return x.Compare(y) })
	return out
}

// NextHop implements Router.
func (a *Agent) NextHop(dst netip.Addr) (netip.Addr, bool) {
	a.purge(a.sched.Now())
	if a.dirty {
		a.recompute()
	}
	if m, ok := a.aliases[dst]; ok {
		dst = m
	}
	nh, ok := a.routes[dst]
	return nh, ok
}

// Routes returns a copy of the routing table keyed by destination main address.
func (a *Agent) Routes() map[netip.Addr]netip.Addr {
	a.purge(a.sched.Now())
	if a.dirty {
		a.recompute()
	}
	out := make(map[netip.Addr]netip.Addr, len(a.routes))
	for k, v := range a.routes {
		out[k] = v
	}
	return out
}

func nodeID(addr netip.Addr) int64 {
	b := addr.As4()
	return int64(binary.BigEndian.Uint32(b[:]))
}

func addrOf(id int64) netip.Addr {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(id))
	return netip.AddrFrom4(b)
}

// recompute rebuilds the routing table from the current link, 2-hop and
// topology sets.
func (a *Agent) recompute() {
	a.dirty = false
	g := simple.NewWeightedUndirectedGraph(0, math.Inf(1))
	addEdge := func(x, y netip.Addr) {
		if x == y {
			return
		}
		w := a.cfg.cost(x, y)
		if !(w > 0) || math.IsInf(w, 1) {
			panic(fmt.Sprintf("olsr %v: link cost %v between %v and %v must be positive and finite", a.main, w, x, y))
		}
		g.SetWeightedEdge(g.NewWeightedEdge(simple.Node(nodeID(x)), simple.Node(nodeID(y)), w))
	}
	sym := a.SymmetricNeighbors()
	for _, n := range sym {
		addEdge(a.main, n)
		for x := range a.twoHop[n] {
			addEdge(n, x)
		}
	}
	for o, e := range a.topology {
		for _, d := range e.dests {
			addEdge(o, d)
		}
	}

	routes := make(map[netip.Addr]netip.Addr)
	me := nodeID(a.main)
	if g.Node(me) != nil {
		sp := path.DijkstraAllFrom(simple.Node(me), g)
		nodes := g.Nodes()
		for nodes.Next() {
			id := nodes.Node().ID()
			if id == me {
				continue
			}
			paths, w := sp.AllTo(id)
			if math.IsInf(w, 1) || len(paths) == 0 {
				continue
			}
			best := int64(math.MaxInt64)
			for _, p := range paths {
				if len(p) > 1 && p[1].ID() < best {
					best = p[1].ID()
				}
			}
			l := a.links[addrOf(best)]
			if l == nil {
				continue
			}
			routes[addrOf(id)] = l.remote
		}
	}
	if len(routes) != len(a.routes) {
		logrus.Debugf("[%v] olsr %v: %d routes", a.sched.Now(), a.main, len(routes))
	}
	a.routes = routes
}

func sortedKeys[V any](m map[netip.Addr]V) []netip.Addr {
	out := make([]netip.Addr, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.SortFunc(out, func(x, y netip.Addr) int { return x.Compare(y) })
	return out
}
