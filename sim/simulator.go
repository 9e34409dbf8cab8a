// sim/simulator.go
package sim

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler owns the virtual clock and the pending event set for one run.
// All state transitions in a simulation happen inside callbacks dispatched
// by RunUntil, one at a time, in (fire time, insertion order).
//
// Thread-safety: NOT thread-safe. Must be driven from a single goroutine.
type Scheduler struct {
	clock     time.Duration
	nextSeq   uint64
	queue     EventQueue
	executed  uint64
	running   bool
	destroyed bool
}

// NewScheduler creates a Scheduler with the clock at zero.
func NewScheduler() *Scheduler {
	return &Scheduler{
		queue: make(EventQueue, 0),
	}
}

// Now returns the current virtual time.
func (s *Scheduler) Now() time.Duration {
	return s.clock
}

// Pending returns the number of events waiting to fire.
func (s *Scheduler) Pending() int {
	return len(s.queue)
}

// Executed returns the number of callbacks dispatched so far.
func (s *Scheduler) Executed() uint64 {
	return s.executed
}

// Schedule inserts fn to fire delay after the current time.
// Returns ErrInvalidDelay for a negative delay.
func (s *Scheduler) Schedule(delay time.Duration, fn func()) (*Event, error) {
	if delay < 0 {
		return nil, fmt.Errorf("schedule at %v with delay %v: %w", s.clock, delay, ErrInvalidDelay)
	}
	return s.ScheduleAt(s.clock+delay, fn)
}

// ScheduleAt inserts fn to fire at absolute virtual time t. Back-dating
// (t before the current clock) returns ErrInvalidDelay.
func (s *Scheduler) ScheduleAt(t time.Duration, fn func()) (*Event, error) {
	if s.destroyed {
		return nil, ErrDestroyed
	}
	if t < s.clock {
		return nil, fmt.Errorf("schedule at %v before clock %v: %w", t, s.clock, ErrInvalidDelay)
	}
	if fn == nil {
		return nil, fmt.Errorf("schedule at %v: nil callback: %w", t, ErrInvalidConfig)
	}
	ev := &Event{time: t, seq: s.nextSeq, fn: fn, index: -1}
	s.nextSeq++
	heap.Push(&s.queue, ev)
	return ev, nil
}

// MustSchedule is Schedule for internal callers whose delays are computed,
// not user supplied. A failure is an invariant violation and panics.
func (s *Scheduler) MustSchedule(delay time.Duration, fn func()) *Event {
	ev, err := s.Schedule(delay, fn)
	if err != nil {
		panic(fmt.Sprintf("sim: %v", err))
	}
	return ev
}

// Cancel removes ev from the pending set. Cancelling an event that already
// fired, was already cancelled, or is nil is a no-op.
func (s *Scheduler) Cancel(ev *Event) {
	if ev == nil || ev.index < 0 || ev.index >= len(s.queue) || s.queue[ev.index] != ev {
		return
	}
	ev.cancelled = true
	heap.Remove(&s.queue, ev.index)
	ev.fn = nil
}

// RunUntil dispatches events in order until the pending set is empty or the
// earliest remaining event fires after stop. On return the clock reads stop
// (or stays put if it was already past it). Callbacks may schedule further
// events but may not call RunUntil themselves.
func (s *Scheduler) RunUntil(stop time.Duration) error {
	if s.destroyed {
		return ErrDestroyed
	}
	if s.running {
		panic("sim: RunUntil called from inside an event callback")
	}
	s.running = true
	defer func() { s.running = false }()

	for len(s.queue) > 0 && s.queue[0].time <= stop {
		ev := heap.Pop(&s.queue).(*Event)
		if ev.cancelled {
			panic(fmt.Sprintf("sim: cancelled event seq=%d reached dispatch", ev.seq))
		}
		s.clock = ev.time
		fn := ev.fn
		ev.fn = nil
		s.executed++
		fn()
	}
	if stop > s.clock {
		s.clock = stop
	}
	logrus.Debugf("[%v] scheduler paused, %d events pending, %d executed", s.clock, len(s.queue), s.executed)
	return nil
}

// Destroy releases every pending event and resets the clock and sequence
// counter. It may be called once; the scheduler refuses further use.
func (s *Scheduler) Destroy() error {
	if s.destroyed {
		return ErrDestroyed
	}
	for _, ev := range s.queue {
		ev.cancelled = true
		ev.index = -1
		ev.fn = nil
	}
	s.queue = nil
	s.clock = 0
	s.nextSeq = 0
	s.destroyed = true
	return nil
}
