package mac

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/mobility"
)

// ErrQueueFull is returned by Enqueue when the transmit queue is at its limit.
var ErrQueueFull = errors.New("mac queue full")

// State is the contention state of a Device.
type State int

const (
	StateIdle State = iota
	StateBackoff
	StateTransmitting
	StateWaitingCts
	StateWaitingAck
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBackoff:
		return "backoff"
	case StateTransmitting:
		return "transmitting"
	case StateWaitingCts:
		return "waiting-cts"
	case StateWaitingAck:
		return "waiting-ack"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// DropReason names why a frame was given up.
type DropReason string

const (
	DropQueueOverflow DropReason = "queue-overflow"
	DropRetryLimit    DropReason = "retry-limit"
)

// Hooks are upcalls from a Device to its owner. Nil hooks are skipped.
type Hooks struct {
	// Receive is called once per DATA frame delivered upward; duplicates
	// caused by lost ACKs are filtered out first.
	Receive func(f *Frame, info RxInfo)
	// Transmit is called each time a DATA frame goes on the air.
	Transmit func(f *Frame)
	// Drop is called when a DATA frame is abandoned after retries.
	Drop func(f *Frame, reason DropReason)
	// Retry is called before each retransmission; attempt counts from 1.
	Retry func(f *Frame, attempt int)
}

// Stats are per-device contention counters. For unicast frames
// Attempts == Successes + RetryDrops + InFlight at every instant.
type Stats struct {
	Attempts   uint64 // unicast frames taken into service
	Successes  uint64 // acknowledged
	RetryDrops uint64 // abandoned after RetryLimit retransmissions
	Retries    uint64 // retransmissions
	QueueDrops uint64
	Broadcasts uint64
	Duplicates uint64 // retransmitted frames received again and filtered
	RtsSent    uint64
	Received   uint64 // DATA frames delivered upward
}

// Device is one radio interface running IEEE 802.11 DCF: physical and
// virtual carrier sense, slotted binary exponential backoff that freezes
// while the medium is busy, optional RTS/CTS, stop-and-wait ACK, and
// bounded retransmission.
type Device struct {
	id     sim.DeviceID
	cfg    Config
	timing Timing
	sched  *sim.Scheduler
	rng    *rand.Rand
	phy    *Phy
	hooks  Hooks

	state   State
	queue   []*Frame
	cur     *Frame
	retries int
	cw      int
	nextSeq uint16

	backoffSlots   int
	countdownStart time.Duration
	idleSince      time.Duration
	accessEvent    *sim.Event
	timeoutEvent   *sim.Event

	navUntil time.Duration
	navEvent *sim.Event

	lastSeq map[sim.DeviceID]uint16

	stats Stats
}

// NewDevice validates cfg, attaches a new PHY to ch at the position given by
// mob, and returns the idle device. rng drives backoff draws.
func NewDevice(id sim.DeviceID, ch *Channel, mob mobility.Model, cfg Config, rng *rand.Rand) (*Device, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("device %d: %w", id, err)
	}
	if ch == nil || mob == nil || rng == nil {
		return nil, fmt.Errorf("device %d: channel, mobility and rng are required: %w", id, sim.ErrInvalidConfig)
	}
	t, _ := TimingFor(cfg.Standard)
	d := &Device{
		id:      id,
		cfg:     cfg,
		timing:  t,
		sched:   ch.sched,
		rng:     rng,
		cw:      t.CWMin,
		lastSeq: make(map[sim.DeviceID]uint16),
	}
	d.phy = newPhy(d, ch, mob, cfg, t)
	return d, nil
}

// ID returns the device id.
func (d *Device) ID() sim.DeviceID { return d.id }

// Config returns the device configuration.
func (d *Device) Config() Config { return d.cfg }

// Timing returns the PHY timing of the device's standard.
func (d *Device) Timing() Timing { return d.timing }

// State returns the current contention state.
func (d *Device) State() State { return d.state }

// Stats returns a copy of the counters.
func (d *Device) Stats() Stats { return d.stats }

// InFlight reports whether a unicast frame is in service.
func (d *Device) InFlight() bool { return d.cur != nil && !d.cur.IsBroadcast() }

// QueueLen returns the number of frames waiting behind the one in service.
func (d *Device) QueueLen() int { return len(d.queue) }

// Phy returns the device's radio.
func (d *Device) Phy() *Phy { return d.phy }

// SetHooks installs the owner's upcalls.
func (d *Device) SetHooks(h Hooks) { d.hooks = h }

// DataTxDuration returns the airtime of a DATA frame carrying payload bytes.
func (d *Device) DataTxDuration(payload int) time.Duration {
	return d.timing.TxDuration(DataOverhead+payload, d.cfg.DataRate)
}

func (d *Device) controlDuration(size int) time.Duration {
	return d.timing.TxDuration(size, d.timing.ControlRate)
}

// Enqueue queues payload for dst (or sim.BroadcastDevice). tag is handed
// back in every hook for this frame.
func (d *Device) Enqueue(dst sim.DeviceID, payload []byte, tag uint64) error {
	if len(d.queue) >= d.cfg.QueueLimit {
		d.stats.QueueDrops++
		return fmt.Errorf("device %d: %d frames queued: %w", d.id, len(d.queue), ErrQueueFull)
	}
	d.queue = append(d.queue, &Frame{
		Kind:    FrameData,
		Src:     d.id,
		Dst:     dst,
		Size:    DataOverhead + len(payload),
		Payload: payload,
		Tag:     tag,
	})
	if d.cur == nil {
		d.startNext()
	}
	return nil
}

func (d *Device) startNext() {
	if len(d.queue) == 0 {
		d.cur = nil
		d.state = StateIdle
		return
	}
	d.cur = d.queue[0]
	d.queue[0] = nil
	d.queue = d.queue[1:]
	d.cur.Seq = d.nextSeq
	d.nextSeq++
	d.retries = 0
	if !d.cur.IsBroadcast() {
		d.stats.Attempts++
	}
	d.beginBackoff()
}

func (d *Device) beginBackoff() {
	d.state = StateBackoff
	d.backoffSlots = d.rng.IntN(d.cw + 1)
	d.scheduleAccess()
}

// scheduleAccess starts (or resumes) the backoff countdown once the medium
// has been idle for DIFS and the NAV has expired.
func (d *Device) scheduleAccess() {
	if d.state != StateBackoff || d.accessEvent.Pending() {
		return
	}
	now := d.sched.Now()
	if d.phy.Busy() || now < d.navUntil {
		return
	}
	start := max(d.idleSince+d.timing.DIFS(), now)
	d.countdownStart = start
	fire := start + time.Duration(d.backoffSlots)*d.timing.Slot
	d.accessEvent = d.sched.MustSchedule(fire-now, d.accessGranted)
}

// freeze cancels a running countdown, keeping the slots not yet elapsed.
func (d *Device) freeze() {
	if !d.accessEvent.Pending() {
		return
	}
	d.sched.Cancel(d.accessEvent)
	d.accessEvent = nil
	now := d.sched.Now()
	if now > d.countdownStart {
		elapsed := int((now - d.countdownStart) / d.timing.Slot)
		d.backoffSlots = max(d.backoffSlots-elapsed, 0)
	}
}

func (d *Device) mediumBusy() {
	d.freeze()
}

func (d *Device) mediumIdle() {
	now := d.sched.Now()
	if now >= d.navUntil {
		d.idleSince = now
	}
	d.scheduleAccess()
}

func (d *Device) setNav(until time.Duration) {
	if until <= d.navUntil {
		return
	}
	d.navUntil = until
	d.freeze()
	d.sched.Cancel(d.navEvent)
	d.navEvent = d.sched.MustSchedule(until-d.sched.Now(), d.navExpired)
}

func (d *Device) navExpired() {
	d.navEvent = nil
	if !d.phy.Busy() {
		d.idleSince = d.sched.Now()
		d.scheduleAccess()
	}
}

func (d *Device) accessGranted() {
	d.accessEvent = nil
	d.backoffSlots = 0
	f := d.cur
	switch {
	case f.IsBroadcast():
		d.sendData(false)
	case len(f.Payload) >= d.cfg.RtsCtsThreshold:
		d.sendRts()
	default:
		d.sendData(false)
	}
}

func (d *Device) sendRts() {
	f := d.cur
	cts := d.controlDuration(CtsBytes)
	ack := d.controlDuration(AckBytes)
	data := d.timing.TxDuration(f.Size, d.cfg.DataRate)
	rts := &Frame{
		Kind:     FrameRts,
		Src:      d.id,
		Dst:      f.Dst,
		Seq:      f.Seq,
		Size:     RtsBytes,
		Duration: 3*d.timing.SIFS + cts + data + ack,
		Tag:      f.Tag,
	}
	d.state = StateTransmitting
	d.stats.RtsSent++
	logrus.Tracef("[%v] dev%d RTS -> %d seq=%d", d.sched.Now(), d.id, f.Dst, f.Seq)
	d.phy.transmit(rts, d.controlDuration(RtsBytes))
}

func (d *Device) sendData(protected bool) {
	tx := *d.cur
	tx.Protected = protected
	if !tx.IsBroadcast() {
		tx.Duration = d.timing.SIFS + d.controlDuration(AckBytes)
	}
	d.state = StateTransmitting
	logrus.Tracef("[%v] dev%d DATA -> %d seq=%d retry=%v protected=%v", d.sched.Now(), d.id, tx.Dst, tx.Seq, tx.Retry, protected)
	if d.hooks.Transmit != nil {
		d.hooks.Transmit(&tx)
	}
	d.phy.transmit(&tx, d.timing.TxDuration(tx.Size, d.cfg.DataRate))
}

// txDone is called by the PHY at the end of every own transmission.
func (d *Device) txDone(f *Frame) {
	if d.cur == nil || f.Seq != d.cur.Seq {
		return
	}
	switch f.Kind {
	case FrameRts:
		d.state = StateWaitingCts
		d.timeoutEvent = d.sched.MustSchedule(d.responseTimeout(CtsBytes), d.responseTimedOut)
	case FrameData:
		if f.IsBroadcast() {
			d.stats.Broadcasts++
			d.finish()
			return
		}
		d.state = StateWaitingAck
		d.timeoutEvent = d.sched.MustSchedule(d.responseTimeout(AckBytes), d.responseTimedOut)
	}
}

func (d *Device) responseTimeout(size int) time.Duration {
	return d.timing.SIFS + d.timing.Slot + d.controlDuration(size)
}

func (d *Device) responseTimedOut() {
	d.timeoutEvent = nil
	logrus.Debugf("[%v] dev%d %s timeout for seq=%d (retry %d)", d.sched.Now(), d.id, d.waitingFor(), d.cur.Seq, d.retries)
	d.retries++
	if d.retries > d.cfg.RetryLimit {
		d.stats.RetryDrops++
		f := d.cur
		d.cw = d.timing.CWMin
		if d.hooks.Drop != nil {
			d.hooks.Drop(f, DropRetryLimit)
		}
		d.finish()
		return
	}
	d.stats.Retries++
	d.cur.Retry = true
	if d.hooks.Retry != nil {
		d.hooks.Retry(d.cur, d.retries)
	}
	d.cw = min(2*d.cw+1, d.timing.CWMax)
	d.beginBackoff()
}

func (d *Device) waitingFor() string {
	if d.state == StateWaitingCts {
		return "CTS"
	}
	return "ACK"
}

// finish releases the frame in service and moves to the next one.
func (d *Device) finish() {
	d.cur = nil
	d.retries = 0
	d.startNext()
}

// receive is called by the PHY for every decoded frame.
func (d *Device) receive(f *Frame, info RxInfo) {
	now := d.sched.Now()
	switch f.Kind {
	case FrameRts:
		if f.Dst != d.id {
			d.setNav(now + f.Duration)
			return
		}
		if now < d.navUntil {
			return
		}
		cts := d.controlDuration(CtsBytes)
		d.respond(&Frame{Kind: FrameCts, Src: d.id, Dst: f.Src, Size: CtsBytes, Duration: f.Duration - d.timing.SIFS - cts})

	case FrameCts:
		if f.Dst != d.id {
			d.setNav(now + f.Duration)
			return
		}
		if d.state != StateWaitingCts || d.cur == nil || f.Src != d.cur.Dst {
			return
		}
		d.sched.Cancel(d.timeoutEvent)
		d.timeoutEvent = nil
		d.state = StateTransmitting
		d.sched.MustSchedule(d.timing.SIFS, func() {
			if d.phy.transmitting() {
				d.responseTimedOut()
				return
			}
			d.sendData(true)
		})

	case FrameAck:
		if f.Dst != d.id || d.state != StateWaitingAck || d.cur == nil || f.Src != d.cur.Dst {
			return
		}
		d.sched.Cancel(d.timeoutEvent)
		d.timeoutEvent = nil
		d.stats.Successes++
		d.cw = d.timing.CWMin
		d.finish()

	case FrameData:
		if f.IsBroadcast() {
			d.deliver(f, info)
			return
		}
		if f.Dst != d.id {
			d.setNav(now + f.Duration)
			return
		}
		d.respond(&Frame{Kind: FrameAck, Src: d.id, Dst: f.Src, Size: AckBytes})
		if last, seen := d.lastSeq[f.Src]; seen && f.Retry && last == f.Seq {
			d.stats.Duplicates++
			return
		}
		d.lastSeq[f.Src] = f.Seq
		d.deliver(f, info)
	}
}

func (d *Device) deliver(f *Frame, info RxInfo) {
	d.stats.Received++
	if d.hooks.Receive != nil {
		d.hooks.Receive(f, info)
	}
}

// respond sends a control frame SIFS after the frame that triggered it,
// without carrier sense.
func (d *Device) respond(f *Frame) {
	d.sched.MustSchedule(d.timing.SIFS, func() {
		if d.phy.transmitting() {
			return
		}
		d.phy.transmit(f, d.controlDuration(f.Size))
	})
}
