package propagation

import (
	"math"
	"time"

	"github.com/wnsim/wnsim/sim"
)

// Range is a hard cutoff: full transmit power within MaxRange, nothing beyond.
type Range struct {
	MaxRange float64 // meters
}

// NewRange validates maxRange and returns the model.
func NewRange(maxRange float64) (*Range, error) {
	if err := checkPositive("range", "max range", maxRange); err != nil {
		return nil, err
	}
	return &Range{MaxRange: maxRange}, nil
}

// RxPower implements LossModel.
func (m *Range) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	if tx.Distance(rx) <= m.MaxRange {
		return txPowerDbm
	}
	return NoSignalDbm
}

// LogDistanceConfig parameterizes the log-distance model.
type LogDistanceConfig struct {
	Exponent          float64
	ReferenceDistance float64 // meters
	ReferenceLossDb   float64
}

// DefaultLogDistanceConfig is the 5.15 GHz free-space loss at 1 m with exponent 3.
func DefaultLogDistanceConfig() LogDistanceConfig {
	return LogDistanceConfig{Exponent: 3, ReferenceDistance: 1, ReferenceLossDb: 46.6777}
}

// LogDistance implements L = L0 + 10*n*log10(d/d0). Distances inside d0
// are clamped to d0.
type LogDistance struct {
	cfg LogDistanceConfig
}

// NewLogDistance validates cfg and returns the model.
func NewLogDistance(cfg LogDistanceConfig) (*LogDistance, error) {
	if err := checkPositive("log-distance", "exponent", cfg.Exponent); err != nil {
		return nil, err
	}
	if err := checkPositive("log-distance", "reference distance", cfg.ReferenceDistance); err != nil {
		return nil, err
	}
	if err := checkNonNegative("log-distance", "reference loss", cfg.ReferenceLossDb); err != nil {
		return nil, err
	}
	return &LogDistance{cfg: cfg}, nil
}

// RxPower implements LossModel.
func (m *LogDistance) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	d := clampDistance(tx, rx, m.cfg.ReferenceDistance)
	return txPowerDbm - m.cfg.ReferenceLossDb - 10*m.cfg.Exponent*math.Log10(d/m.cfg.ReferenceDistance)
}

// DelayModel computes the time a signal takes between two positions.
type DelayModel interface {
	Delay(tx, rx sim.Vector3) time.Duration
}

// ConstantSpeed propagates at a fixed speed in m/s.
type ConstantSpeed struct {
	Speed float64
}

// NewConstantSpeed returns a delay model at the speed of light.
func NewConstantSpeed() *ConstantSpeed {
	return &ConstantSpeed{Speed: SpeedOfLight}
}

// Delay implements DelayModel, rounded to the nearest nanosecond.
func (m *ConstantSpeed) Delay(tx, rx sim.Vector3) time.Duration {
	sec := tx.Distance(rx) / m.Speed
	return time.Duration(math.Round(sec * float64(time.Second)))
}
