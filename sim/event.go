package sim

import "time"

// Event is a unit of scheduled work. Handles are returned by Schedule and
// may be passed to Cancel until the event fires.
type Event struct {
	time      time.Duration // virtual fire time
	seq       uint64        // insertion order, breaks ties between equal fire times
	fn        func()
	index     int // position in the EventQueue, -1 once removed
	cancelled bool
}

// Timestamp returns the virtual time at which the event fires.
func (e *Event) Timestamp() time.Duration {
	return e.time
}

// Seq returns the event's insertion sequence number.
func (e *Event) Seq() uint64 {
	return e.seq
}

// Pending reports whether the event is still waiting to fire.
func (e *Event) Pending() bool {
	return e != nil && e.index >= 0
}

// Cancelled reports whether the event was cancelled before firing.
func (e *Event) Cancelled() bool {
	return e != nil && e.cancelled
}

// EventQueue implements heap.Interface and orders events by (fire time, seq).
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-PriorityQueue
type EventQueue []*Event

func (eq EventQueue) Len() int { return len(eq) }

func (eq EventQueue) Less(i, j int) bool {
	if eq[i].time != eq[j].time {
		return eq[i].time < eq[j].time
	}
	return eq[i].seq < eq[j].seq
}

func (eq EventQueue) Swap(i, j int) {
	eq[i], eq[j] = eq[j], eq[i]
	eq[i].index = i
	eq[j].index = j
}

func (eq *EventQueue) Push(x any) {
	ev := x.(*Event)
	ev.index = len(*eq)
	*eq = append(*eq, ev)
}

func (eq *EventQueue) Pop() any {
	old := *eq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*eq = old[0 : n-1]
	return item
}
