package propagation

import (
	"math"

	"github.com/wnsim/wnsim/sim"
)

// FriisConfig parameterizes free-space loss.
type FriisConfig struct {
	Frequency   float64 // Hz
	SystemLoss  float64 // dimensionless, >= 1
	MinDistance float64 // meters
}

// DefaultFriisConfig returns a 5.15 GHz lossless-system Friis configuration.
func DefaultFriisConfig() FriisConfig {
	return FriisConfig{Frequency: 5.15e9, SystemLoss: 1, MinDistance: 0.5}
}

// Friis implements inverse-square free-space loss:
//
//	Pr = Pt * lambda^2 / ((4*pi*d)^2 * L)
type Friis struct {
	cfg    FriisConfig
	lambda float64
}

// NewFriis validates cfg and returns the model.
func NewFriis(cfg FriisConfig) (*Friis, error) {
	if err := validateFreeSpace("friis", cfg.Frequency, cfg.SystemLoss, cfg.MinDistance); err != nil {
		return nil, err
	}
	return &Friis{cfg: cfg, lambda: SpeedOfLight / cfg.Frequency}, nil
}

// RxPower implements LossModel.
func (f *Friis) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	d := clampDistance(tx, rx, f.cfg.MinDistance)
	return txPowerDbm - friisLossDb(f.lambda, d, f.cfg.SystemLoss)
}

func friisLossDb(lambda, d, systemLoss float64) float64 {
	num := lambda * lambda
	den := 16 * math.Pi * math.Pi * d * d * systemLoss
	return -10 * math.Log10(num/den)
}

func validateFreeSpace(model string, frequency, systemLoss, minDistance float64) error {
	if err := checkPositive(model, "frequency", frequency); err != nil {
		return err
	}
	if err := checkPositive(model, "system loss", systemLoss); err != nil {
		return err
	}
	return checkPositive(model, "min distance", minDistance)
}
