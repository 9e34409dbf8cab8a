// Package routing decides the next hop for packets leaving or crossing a
// node.
//
// A node consults a List of Routers in priority order: the proactive OLSR
// agent first, then statically configured routes. OnLink serves networks
// without a routing layer, where every destination is assumed to be one
// hop away.
package routing

import (
	"fmt"
	"net/netip"
	"sort"

	"github.com/wnsim/wnsim/sim"
)

// Router maps a destination address to the address of the next hop.
type Router interface {
	NextHop(dst netip.Addr) (netip.Addr, bool)
}

// Priorities used when composing a List. Higher is consulted first.
const (
	PriorityOlsr   = 10
	PriorityStatic = 5
)

// Protocol names accepted in scenario configuration.
const (
	ProtocolNone = "none"
	ProtocolOlsr = "olsr"
)

var validProtocols = map[string]bool{ProtocolNone: true, ProtocolOlsr: true}

// IsValidProtocol reports whether name is a known routing protocol.
func IsValidProtocol(name string) bool { return validProtocols[name] }

// ValidProtocolNames returns the accepted protocol names, sorted.
func ValidProtocolNames() []string {
	names := make([]string, 0, len(validProtocols))
	for n := range validProtocols {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// OnLink treats every destination as a direct neighbor.
type OnLink struct{}

// NextHop implements Router.
func (OnLink) NextHop(dst netip.Addr) (netip.Addr, bool) { return dst, true }

// StaticTable holds configured host routes.
type StaticTable struct {
	routes map[netip.Addr]netip.Addr
}

// NewStaticTable returns an empty table.
func NewStaticTable() *StaticTable {
	return &StaticTable{routes: make(map[netip.Addr]netip.Addr)}
}

// Add installs dst -> nextHop, replacing any previous route to dst.
func (t *StaticTable) Add(dst, nextHop netip.Addr) error {
	if !dst.Is4() || !nextHop.Is4() {
		return fmt.Errorf("static route %v via %v: addresses must be IPv4: %w", dst, nextHop, sim.ErrInvalidConfig)
	}
	t.routes[dst] = nextHop
	return nil
}

// Len returns the number of routes.
func (t *StaticTable) Len() int { return len(t.routes) }

// NextHop implements Router.
func (t *StaticTable) NextHop(dst netip.Addr) (netip.Addr, bool) {
	nh, ok := t.routes[dst]
	return nh, ok
}

type entry struct {
	priority int
	router   Router
}

// List consults routers from highest to lowest priority; equal priorities
// keep insertion order.
type List struct {
	entries []entry
}

// Add registers r at priority.
func (l *List) Add(r Router, priority int) {
	l.entries = append(l.entries, entry{priority: priority, router: r})
	sort.SliceStable(l.entries, func(i, j int) bool {
		return l.entries[i].priority > l.entries[j].priority
	})
}

// Len returns the number of registered routers.
func (l *List) Len() int { return len(l.entries) }

// NextHop implements Router.
func (l *List) NextHop(dst netip.Addr) (netip.Addr, bool) {
	for _, e := range l.entries {
		if nh, ok := e.router.NextHop(dst); ok {
			return nh, true
		}
	}
	return netip.Addr{}, false
}
