// Package propagation computes received signal power and propagation delay
// between two positions.
//
// Loss models are composed in a Chain in a fixed order. Deterministic models
// are pure functions of distance; fading models draw from a random stream
// owned by the channel they belong to.
package propagation

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/wnsim/wnsim/sim"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299792458.0

// NoSignalDbm is reported when a model decides nothing arrives at all.
const NoSignalDbm = -1000.0

// LossModel maps a transmit power to a received power for a tx/rx pair.
type LossModel interface {
	RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64
}

// Factory builds a LossModel bound to a channel's random stream.
// Deterministic models ignore the stream.
type Factory func(stream *rand.Rand) (LossModel, error)

// Chain applies loss models in order, feeding each the previous output.
type Chain struct {
	models []LossModel
}

// NewChain returns a Chain over models. An empty chain is lossless.
func NewChain(models ...LossModel) *Chain {
	return &Chain{models: append([]LossModel(nil), models...)}
}

// Len returns the number of models in the chain.
func (c *Chain) Len() int { return len(c.models) }

// RxPower implements LossModel.
func (c *Chain) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	p := txPowerDbm
	for _, m := range c.models {
		p = m.RxPower(p, tx, rx)
		if p <= NoSignalDbm {
			return NoSignalDbm
		}
	}
	return p
}

// DbmToW converts dBm to watts.
func DbmToW(dbm float64) float64 {
	return math.Pow(10, (dbm-30)/10)
}

// WToDbm converts watts to dBm. Non-positive power reads as NoSignalDbm.
func WToDbm(w float64) float64 {
	if w <= 0 {
		return NoSignalDbm
	}
	return 10*math.Log10(w) + 30
}

// clampDistance returns the tx/rx distance, raised to min when shorter.
func clampDistance(tx, rx sim.Vector3, min float64) float64 {
	d := tx.Distance(rx)
	if d < min {
		return min
	}
	return d
}

func checkPositive(model, field string, v float64) error {
	if !(v > 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %s must be a positive finite number, got %v: %w", model, field, v, sim.ErrInvalidConfig)
	}
	return nil
}

func checkNonNegative(model, field string, v float64) error {
	if !(v >= 0) || math.IsInf(v, 0) {
		return fmt.Errorf("%s: %s must be a non-negative finite number, got %v: %w", model, field, v, sim.ErrInvalidConfig)
	}
	return nil
}
