package mac

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wnsim/wnsim/sim"
	"github.com/wnsim/wnsim/sim/propagation"
)

// Channel is the shared medium. For every transmission it asks the loss
// and delay models about each attached receiver, in attach order, and
// schedules the signal's arrival there. It holds no per-transmission state.
type Channel struct {
	id    sim.ChannelID
	sched *sim.Scheduler
	loss  propagation.LossModel
	delay propagation.DelayModel
	phys  []*Phy
}

// NewChannel creates a channel. A nil loss model is lossless; a nil delay
// model propagates at the speed of light.
func NewChannel(id sim.ChannelID, sched *sim.Scheduler, loss propagation.LossModel, delay propagation.DelayModel) (*Channel, error) {
	if sched == nil {
		return nil, fmt.Errorf("channel %d: nil scheduler: %w", id, sim.ErrInvalidConfig)
	}
	if loss == nil {
		loss = propagation.NewChain()
	}
	if delay == nil {
		delay = propagation.NewConstantSpeed()
	}
	return &Channel{id: id, sched: sched, loss: loss, delay: delay}, nil
}

// ID returns the channel id.
func (c *Channel) ID() sim.ChannelID { return c.id }

// NumDevices returns the number of attached PHYs.
func (c *Channel) NumDevices() int { return len(c.phys) }

func (c *Channel) attach(p *Phy) {
	c.phys = append(c.phys, p)
}

func (c *Channel) transmit(from *Phy, f *Frame, txPowerDbm float64, airtime time.Duration) {
	now := c.sched.Now()
	txPos := from.position(now)
	for _, p := range c.phys {
		if p == from {
			continue
		}
		rxPos := p.position(now)
		power := c.loss.RxPower(txPowerDbm, txPos, rxPos)
		delay := c.delay.Delay(txPos, rxPos)
		logrus.Tracef("[%v] ch%d %s %d->%d rx=%d %.2f dBm delay=%v", now, c.id, f.Kind, f.Src, f.Dst, p.dev.id, power, delay)
		rx := p
		c.sched.MustSchedule(delay, func() { rx.startRx(f, power, airtime) })
	}
}
