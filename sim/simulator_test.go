package sim

import (
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_FiresInTimeOrder(t *testing.T) {
	// GIVEN events scheduled out of time order
	s := NewScheduler()
	var got []int
	for _, d := range []int{30, 10, 20} {
		d := d
		s.MustSchedule(time.Duration(d)*time.Millisecond, func() { got = append(got, d) })
	}

	// WHEN the scheduler runs past all of them
	require.NoError(t, s.RunUntil(time.Second))

	// THEN they fire in non-decreasing fire time
	assert.Equal(t, []int{10, 20, 30}, got)
	assert.Equal(t, uint64(3), s.Executed())
}

func TestScheduler_TiesFireInInsertionOrder(t *testing.T) {
	s := NewScheduler()
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		s.MustSchedule(5*time.Microsecond, func() { got = append(got, i) })
	}
	require.NoError(t, s.RunUntil(time.Second))

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v, "FIFO tie-break violated at %d", i)
	}
}

func TestScheduler_ClockAdvancesToEventTime(t *testing.T) {
	s := NewScheduler()
	var seen time.Duration
	s.MustSchedule(250*time.Millisecond, func() { seen = s.Now() })

	require.NoError(t, s.RunUntil(time.Second))

	assert.Equal(t, 250*time.Millisecond, seen)
	assert.Equal(t, time.Second, s.Now(), "clock rests at stop time")
}

func TestScheduler_StopsAtStopTime(t *testing.T) {
	// GIVEN one event before and one after the stop time
	s := NewScheduler()
	fired := 0
	s.MustSchedule(time.Second, func() { fired++ })
	s.MustSchedule(3*time.Second, func() { fired++ })

	// WHEN running until 2s
	require.NoError(t, s.RunUntil(2*time.Second))

	// THEN only the first fired and the second remains pending
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, s.Pending())

	// WHEN running further
	require.NoError(t, s.RunUntil(5*time.Second))
	assert.Equal(t, 2, fired)
}

func TestScheduler_EventAtStopTimeFires(t *testing.T) {
	s := NewScheduler()
	fired := false
	s.MustSchedule(time.Second, func() { fired = true })
	require.NoError(t, s.RunUntil(time.Second))
	assert.True(t, fired)
}

func TestScheduler_CallbacksScheduleFurtherEvents(t *testing.T) {
	s := NewScheduler()
	var times []time.Duration
	var tick func()
	tick = func() {
		times = append(times, s.Now())
		if len(times) < 4 {
			s.MustSchedule(100*time.Millisecond, tick)
		}
	}
	s.MustSchedule(0, tick)

	require.NoError(t, s.RunUntil(time.Second))

	assert.Equal(t, []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}, times)
}

func TestScheduler_NegativeDelayRejected(t *testing.T) {
	s := NewScheduler()
	_, err := s.Schedule(-time.Nanosecond, func() {})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidDelay))
	assert.Equal(t, 0, s.Pending())
}

func TestScheduler_BackdatingRejected(t *testing.T) {
	s := NewScheduler()
	require.NoError(t, s.RunUntil(time.Second))
	_, err := s.ScheduleAt(500*time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrInvalidDelay)
}

func TestScheduler_MustSchedulePanicsOnNegativeDelay(t *testing.T) {
	s := NewScheduler()
	assert.Panics(t, func() { s.MustSchedule(-time.Second, func() {}) })
}

func TestScheduler_CancelRandomSubset(t *testing.T) {
	// GIVEN N events and a random subset of them cancelled
	const n = 500
	s := NewScheduler()
	rng := rand.New(rand.NewPCG(99, 100))
	fired := make([]bool, n)
	events := make([]*Event, n)
	for i := 0; i < n; i++ {
		i := i
		events[i] = s.MustSchedule(time.Duration(rng.IntN(1000))*time.Microsecond, func() { fired[i] = true })
	}
	cancelled := make([]bool, n)
	for i := 0; i < n; i++ {
		if rng.IntN(3) == 0 {
			s.Cancel(events[i])
			cancelled[i] = true
		}
	}

	// WHEN the scheduler runs to completion
	require.NoError(t, s.RunUntil(time.Second))

	// THEN exactly the uncancelled subset fired
	for i := 0; i < n; i++ {
		assert.Equal(t, !cancelled[i], fired[i], "event %d", i)
		assert.Equal(t, cancelled[i], events[i].Cancelled(), "event %d", i)
		assert.False(t, events[i].Pending())
	}
}

func TestScheduler_CancelFromInsideCallback(t *testing.T) {
	// GIVEN two events at the same time where the first cancels the second
	s := NewScheduler()
	var second *Event
	secondFired := false
	s.MustSchedule(time.Millisecond, func() { s.Cancel(second) })
	second = s.MustSchedule(time.Millisecond, func() { secondFired = true })

	require.NoError(t, s.RunUntil(time.Second))

	// THEN the second never runs even though it was already due
	assert.False(t, secondFired)
}

func TestScheduler_CancelAfterFireIsNoop(t *testing.T) {
	s := NewScheduler()
	ev := s.MustSchedule(time.Millisecond, func() {})
	require.NoError(t, s.RunUntil(time.Second))

	s.Cancel(ev)
	s.Cancel(nil)

	assert.False(t, ev.Cancelled())
}

func TestScheduler_DeterministicReplay(t *testing.T) {
	run := func() []uint64 {
		s := NewScheduler()
		var order []uint64
		for i := 0; i < 200; i++ {
			var ev *Event
			ev = s.MustSchedule(time.Duration(i%7)*time.Microsecond, func() { order = append(order, ev.Seq()) })
		}
		require.NoError(t, s.RunUntil(time.Second))
		return order
	}
	assert.Equal(t, run(), run())
}

func TestScheduler_Destroy(t *testing.T) {
	// GIVEN a scheduler with pending events
	s := NewScheduler()
	ev := s.MustSchedule(time.Second, func() { t.Fatal("destroyed event fired") })
	require.NoError(t, s.RunUntil(500*time.Millisecond))

	// WHEN it is destroyed
	require.NoError(t, s.Destroy())

	// THEN events are released and the clock is reset
	assert.Equal(t, 0, s.Pending())
	assert.Equal(t, time.Duration(0), s.Now())
	assert.True(t, ev.Cancelled())

	// AND further use is refused
	assert.ErrorIs(t, s.Destroy(), ErrDestroyed)
	assert.ErrorIs(t, s.RunUntil(2*time.Second), ErrDestroyed)
	_, err := s.Schedule(0, func() {})
	assert.ErrorIs(t, err, ErrDestroyed)
}

func TestScheduler_NestedRunPanics(t *testing.T) {
	s := NewScheduler()
	s.MustSchedule(0, func() {
		assert.Panics(t, func() { _ = s.RunUntil(time.Second) })
	})
	require.NoError(t, s.RunUntil(time.Second))
}
