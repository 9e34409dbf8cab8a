package flow

import (
	"maps"
	"slices"
	"time"

	"github.com/sirupsen/logrus"
)

// ID numbers flows in order of first observation, starting at 1.
type ID uint32

// DefaultMaxDelay is how long a packet may stay in flight before
// CheckForLostPackets declares it lost.
const DefaultMaxDelay = 10 * time.Second

// Stats are the counters of one flow. Byte counts are IP packet sizes.
type Stats struct {
	TxPackets   uint64
	TxBytes     uint64
	RxPackets   uint64
	RxBytes     uint64
	LostPackets uint64

	DelaySum  time.Duration
	JitterSum time.Duration
	LastDelay time.Duration

	// TimesForwarded counts relay hops of packets that were received.
	TimesForwarded uint64

	TimeFirstTx time.Duration
	TimeLastTx  time.Duration
	TimeFirstRx time.Duration
	TimeLastRx  time.Duration

	// Drops counts explicit drops per reason.
	Drops map[string]uint64
}

// MeanDelay returns DelaySum / RxPackets, or 0 before any reception.
func (s Stats) MeanDelay() time.Duration {
	if s.RxPackets == 0 {
		return 0
	}
	return s.DelaySum / time.Duration(s.RxPackets)
}

// Goodput returns received bits per second over window.
func (s Stats) Goodput(window time.Duration) float64 {
	if window <= 0 {
		return 0
	}
	return float64(s.RxBytes*8) / window.Seconds()
}

func (s Stats) clone() Stats {
	s.Drops = maps.Clone(s.Drops)
	if s.Drops == nil {
		s.Drops = map[string]uint64{}
	}
	return s
}

type tracked struct {
	flow      ID
	sent      time.Duration
	size      int
	forwarded uint64
	holder    int // node currently responsible for the packet
}

// Monitor is the flow accounting engine. It is driven from the event loop
// and is not safe for concurrent use.
type Monitor struct {
	ids    map[FiveTuple]ID
	tuples []FiveTuple
	stats  []*Stats

	inFlight map[uint64]*tracked
}

// NewMonitor returns an empty monitor.
func NewMonitor() *Monitor {
	return &Monitor{
		ids:      make(map[FiveTuple]ID),
		inFlight: make(map[uint64]*tracked),
	}
}

func (m *Monitor) flowFor(t FiveTuple) (ID, *Stats) {
	if id, ok := m.ids[t]; ok {
		return id, m.stats[id-1]
	}
	id := ID(len(m.tuples) + 1)
	m.ids[t] = id
	m.tuples = append(m.tuples, t)
	s := &Stats{Drops: make(map[string]uint64)}
	m.stats = append(m.stats, s)
	logrus.Debugf("flow %d: %v", id, t)
	return id, s
}

// OnTransmit records the origination of packet uid at node origin. A uid is
// counted once; packets without a five-tuple are rejected.
func (m *Monitor) OnTransmit(uid uint64, packet []byte, origin int, now time.Duration) (ID, error) {
	if tr, ok := m.inFlight[uid]; ok {
		return tr.flow, nil
	}
	t, err := Classify(packet)
	if err != nil {
		return 0, err
	}
	id, s := m.flowFor(t)
	if s.TxPackets == 0 {
		s.TimeFirstTx = now
	}
	s.TxPackets++
	s.TxBytes += uint64(len(packet))
	s.TimeLastTx = now
	m.inFlight[uid] = &tracked{flow: id, sent: now, size: len(packet), holder: origin}
	return id, nil
}

// OnArrive hands an in-flight packet over to the node that just received it.
func (m *Monitor) OnArrive(uid uint64, node int) {
	if tr, ok := m.inFlight[uid]; ok {
		tr.holder = node
	}
}

// OnForward records that relay took over an in-flight packet.
func (m *Monitor) OnForward(uid uint64, relay int) {
	if tr, ok := m.inFlight[uid]; ok {
		tr.forwarded++
		tr.holder = relay
	}
}

// OnReceive settles uid as delivered. Receptions of settled or unknown
// packets are ignored; it reports whether this call counted.
func (m *Monitor) OnReceive(uid uint64, now time.Duration) bool {
	tr, ok := m.inFlight[uid]
	if !ok {
		return false
	}
	delete(m.inFlight, uid)
	s := m.stats[tr.flow-1]
	delay := now - tr.sent
	if s.RxPackets == 0 {
		s.TimeFirstRx = now
	} else {
		s.JitterSum += (delay - s.LastDelay).Abs()
	}
	s.RxPackets++
	s.RxBytes += uint64(tr.size)
	s.DelaySum += delay
	s.LastDelay = delay
	s.TimeLastRx = now
	s.TimesForwarded += tr.forwarded
	return true
}

// OnDrop settles uid as lost for reason when node holds it. Drops of
// settled or unknown packets, and drops by a node the packet has already
// moved past, are ignored; it reports whether this call counted.
func (m *Monitor) OnDrop(uid uint64, node int, reason string) bool {
	tr, ok := m.inFlight[uid]
	if !ok || tr.holder != node {
		return false
	}
	delete(m.inFlight, uid)
	s := m.stats[tr.flow-1]
	s.LostPackets++
	s.Drops[reason]++
	return true
}

// CheckForLostPackets declares lost every packet in flight for longer than
// maxDelay and returns how many were.
func (m *Monitor) CheckForLostPackets(now, maxDelay time.Duration) int {
	n := 0
	for _, uid := range slices.Sorted(maps.Keys(m.inFlight)) {
		tr := m.inFlight[uid]
		if now-tr.sent > maxDelay {
			delete(m.inFlight, uid)
			m.stats[tr.flow-1].LostPackets++
			n++
		}
	}
	return n
}

// InFlight returns the number of unsettled packets.
func (m *Monitor) InFlight() int { return len(m.inFlight) }

// Record is one flow in a Snapshot.
type Record struct {
	ID    ID
	Tuple FiveTuple
	Stats Stats
}

// Snapshot is a point-in-time copy of every flow, ordered by ID.
type Snapshot struct {
	Flows []Record
}

// Snapshot copies the current counters.
func (m *Monitor) Snapshot() Snapshot {
	out := Snapshot{Flows: make([]Record, len(m.tuples))}
	for i, t := range m.tuples {
		out.Flows[i] = Record{ID: ID(i + 1), Tuple: t, Stats: m.stats[i].clone()}
	}
	return out
}

// Lookup returns the record for t.
func (s Snapshot) Lookup(t FiveTuple) (Record, bool) {
	for _, r := range s.Flows {
		if r.Tuple == t {
			return r, true
		}
	}
	return Record{}, false
}

// Totals sums the counters of every flow.
func (s Snapshot) Totals() Stats {
	var tot Stats
	tot.Drops = map[string]uint64{}
	for _, r := range s.Flows {
		st := r.Stats
		tot.TxPackets += st.TxPackets
		tot.TxBytes += st.TxBytes
		tot.RxPackets += st.RxPackets
		tot.RxBytes += st.RxBytes
		tot.LostPackets += st.LostPackets
		tot.DelaySum += st.DelaySum
		tot.JitterSum += st.JitterSum
		tot.TimesForwarded += st.TimesForwarded
		for k, v := range st.Drops {
			tot.Drops[k] += v
		}
	}
	return tot
}
