package mac

import (
	"time"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/mobility"
	"github.com/wnsim/wnsim/sim/propagation"
)

// signal is one transmission arriving at a PHY.
type signal struct {
	frame    *Frame
	powerDbm float64
	powerW   float64
	end      time.Duration

	// interferenceW sums every other signal that overlapped this one.
	interferenceW float64
	// corrupted is set when the receiver itself transmitted during the signal.
	corrupted bool
}

// Phy is a half-duplex radio: it locks onto at most one decodable signal,
// tracks everything above the noise floor for carrier sense and
// interference, and reports busy/idle transitions to its Device.
type Phy struct {
	dev      *Device
	channel  *Channel
	sched    *sim.Scheduler
	mobility mobility.Model
	cfg      Config

	noiseFloorDbm float64
	noiseW        float64

	signals []*signal
	rx      *signal
	txEnd   time.Duration
	busy    bool // last state reported to the device
}

func newPhy(dev *Device, ch *Channel, mob mobility.Model, cfg Config, t Timing) *Phy {
	nf := cfg.NoiseFloorDbm(t)
	p := &Phy{
		dev:           dev,
		channel:       ch,
		sched:         ch.sched,
		mobility:      mob,
		cfg:           cfg,
		noiseFloorDbm: nf,
		noiseW:        propagation.DbmToW(nf),
	}
	ch.attach(p)
	return p
}

func (p *Phy) position(t time.Duration) sim.Vector3 {
	return p.mobility.Position(t)
}

// Busy reports the carrier-sense state last signalled to the device.
func (p *Phy) Busy() bool { return p.busy }

// NoiseFloorDbm returns the receiver noise floor.
func (p *Phy) NoiseFloorDbm() float64 { return p.noiseFloorDbm }

func (p *Phy) transmitting() bool {
	return p.sched.Now() < p.txEnd
}

// transmit puts f on the air. Any reception in progress is lost.
func (p *Phy) transmit(f *Frame, airtime time.Duration) {
	if p.transmitting() {
		panic("mac: transmit while already transmitting")
	}
	if p.rx != nil {
		p.rx.corrupted = true
		p.rx = nil
	}
	for _, s := range p.signals {
		s.corrupted = true
	}
	p.txEnd = p.sched.Now() + airtime
	p.channel.transmit(p, f, p.cfg.TxPowerDbm, airtime)
	p.updateCca()
	p.sched.MustSchedule(airtime, func() {
		p.dev.txDone(f)
		p.updateCca()
	})
}

func (p *Phy) startRx(f *Frame, powerDbm float64, airtime time.Duration) {
	if powerDbm < p.noiseFloorDbm {
		return
	}
	s := &signal{
		frame:    f,
		powerDbm: powerDbm,
		powerW:   propagation.DbmToW(powerDbm),
		end:      p.sched.Now() + airtime,
	}
	for _, o := range p.signals {
		o.interferenceW += s.powerW
		s.interferenceW += o.powerW
	}
	p.signals = append(p.signals, s)

	switch {
	case p.transmitting():
		s.corrupted = true
	case p.rx == nil && powerDbm >= p.cfg.RxSensitivityDbm && powerDbm-p.noiseFloorDbm >= p.cfg.MinSnrDb:
		p.rx = s
	}
	p.sched.MustSchedule(airtime, func() { p.endRx(s) })
	p.updateCca()
}

func (p *Phy) endRx(s *signal) {
	for i, o := range p.signals {
		if o == s {
			p.signals = append(p.signals[:i], p.signals[i+1:]...)
			break
		}
	}
	if p.rx == s {
		p.rx = nil
		if p.decodable(s) {
			p.dev.receive(s.frame, RxInfo{
				Time:     p.sched.Now(),
				PowerDbm: s.powerDbm,
				SnrDb:    s.powerDbm - propagation.WToDbm(p.noiseW+s.interferenceW),
			})
		}
	}
	p.updateCca()
}

// decodable applies the collision policy to a locked signal.
func (p *Phy) decodable(s *signal) bool {
	if s.corrupted {
		return false
	}
	if s.interferenceW == 0 {
		return true
	}
	sinrDb := s.powerDbm - propagation.WToDbm(p.noiseW+s.interferenceW)
	if s.frame.Protected {
		return sinrDb >= p.cfg.MinSnrDb
	}
	if p.cfg.Capture {
		return sinrDb >= p.cfg.MinSnrDb && s.powerDbm-propagation.WToDbm(s.interferenceW) >= p.cfg.CaptureMarginDb
	}
	return false
}

func (p *Phy) senseBusy() bool {
	if p.transmitting() || p.rx != nil {
		return true
	}
	for _, s := range p.signals {
		if s.powerDbm >= p.cfg.CcaThresholdDbm {
			return true
		}
	}
	return false
}

func (p *Phy) updateCca() {
	busy := p.senseBusy()
	if busy == p.busy {
		return
	}
	p.busy = busy
	if busy {
		p.dev.mediumBusy()
	} else {
		p.dev.mediumIdle()
	}
}
