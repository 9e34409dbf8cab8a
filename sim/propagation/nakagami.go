package propagation

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/wnsim/wnsim/sim"
)

// NakagamiConfig sets the fading shape parameter per distance band.
type NakagamiConfig struct {
	Distance1 float64 // meters
	Distance2 float64 // meters
	M0        float64 // d < Distance1
	M1        float64 // Distance1 <= d < Distance2
	M2        float64 // d >= Distance2
}

// DefaultNakagamiConfig returns the 80 m / 200 m banded configuration.
func DefaultNakagamiConfig() NakagamiConfig {
	return NakagamiConfig{Distance1: 80, Distance2: 200, M0: 1.5, M1: 0.75, M2: 0.75}
}

// Nakagami applies Nakagami-m fast fading to the power it is given: the
// received power is Gamma distributed with shape m and mean equal to the
// input power. It adds no mean loss and is normally chained after a
// large-scale model.
type Nakagami struct {
	cfg    NakagamiConfig
	stream *rand.Rand
}

// NewNakagami validates cfg and binds the model to stream.
func NewNakagami(cfg NakagamiConfig, stream *rand.Rand) (*Nakagami, error) {
	for _, f := range []struct {
		name string
		v    float64
	}{{"m0", cfg.M0}, {"m1", cfg.M1}, {"m2", cfg.M2}} {
		if err := checkPositive("nakagami", f.name, f.v); err != nil {
			return nil, err
		}
	}
	if err := checkNonNegative("nakagami", "distance1", cfg.Distance1); err != nil {
		return nil, err
	}
	if cfg.Distance2 < cfg.Distance1 {
		return nil, fmt.Errorf("nakagami: distance2 %v below distance1 %v: %w", cfg.Distance2, cfg.Distance1, sim.ErrInvalidConfig)
	}
	if stream == nil {
		return nil, fmt.Errorf("nakagami: nil random stream: %w", sim.ErrInvalidConfig)
	}
	return &Nakagami{cfg: cfg, stream: stream}, nil
}

func (m *Nakagami) shape(d float64) float64 {
	switch {
	case d < m.cfg.Distance1:
		return m.cfg.M0
	case d < m.cfg.Distance2:
		return m.cfg.M1
	default:
		return m.cfg.M2
	}
}

// RxPower implements LossModel. Each call consumes draws from the stream.
func (m *Nakagami) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	mean := DbmToW(txPowerDbm)
	if mean <= 0 {
		return NoSignalDbm
	}
	shape := m.shape(tx.Distance(rx))
	g := distuv.Gamma{Alpha: shape, Beta: shape / mean, Src: m.stream}
	return WToDbm(g.Rand())
}
