package propagation

import (
	"math"

	"github.com/wnsim/wnsim/sim"
)

// TwoRayGroundConfig parameterizes the two-ray ground reflection model.
type TwoRayGroundConfig struct {
	Frequency    float64 // Hz
	SystemLoss   float64
	MinDistance  float64 // meters
	HeightAboveZ float64 // antenna height added to each node's Z, meters
}

// DefaultTwoRayGroundConfig mirrors the Friis defaults with antennas at node height.
func DefaultTwoRayGroundConfig() TwoRayGroundConfig {
	return TwoRayGroundConfig{Frequency: 5.15e9, SystemLoss: 1, MinDistance: 0.5}
}

// TwoRayGround uses Friis up to the crossover distance
//
//	dc = 4*pi*ht*hr / lambda
//
// and the ground-reflection law Pr = Pt*ht^2*hr^2 / (d^4*L) beyond it.
// A zero antenna height puts the crossover at zero and nothing is received
// past it.
type TwoRayGround struct {
	cfg    TwoRayGroundConfig
	lambda float64
}

// NewTwoRayGround validates cfg and returns the model.
func NewTwoRayGround(cfg TwoRayGroundConfig) (*TwoRayGround, error) {
	if err := validateFreeSpace("two-ray-ground", cfg.Frequency, cfg.SystemLoss, cfg.MinDistance); err != nil {
		return nil, err
	}
	if err := checkNonNegative("two-ray-ground", "height above z", cfg.HeightAboveZ); err != nil {
		return nil, err
	}
	return &TwoRayGround{cfg: cfg, lambda: SpeedOfLight / cfg.Frequency}, nil
}

// Crossover returns the crossover distance for the given antenna heights.
func (m *TwoRayGround) Crossover(ht, hr float64) float64 {
	return 4 * math.Pi * ht * hr / m.lambda
}

// RxPower implements LossModel.
func (m *TwoRayGround) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	d := clampDistance(tx, rx, m.cfg.MinDistance)
	ht := tx.Z + m.cfg.HeightAboveZ
	hr := rx.Z + m.cfg.HeightAboveZ

	if d <= m.Crossover(ht, hr) {
		return txPowerDbm - friisLossDb(m.lambda, d, m.cfg.SystemLoss)
	}
	num := ht * ht * hr * hr
	if num <= 0 {
		return NoSignalDbm
	}
	den := d * d * d * d * m.cfg.SystemLoss
	return txPowerDbm + 10*math.Log10(num/den)
}
