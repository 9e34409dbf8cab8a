package propagation

import (
	"fmt"
	"math"

	"github.com/wnsim/wnsim/sim"
)

// CitySize selects the COST-231 mobile antenna and metropolitan corrections.
type CitySize string

const (
	CitySmall  CitySize = "small"
	CityMedium CitySize = "medium"
	CityLarge  CitySize = "large"
)

var validCitySizes = map[CitySize]bool{
	CitySmall:  true,
	CityMedium: true,
	CityLarge:  true,
}

// Cost231Config parameterizes the COST-231 Hata urban model.
type Cost231Config struct {
	Frequency         float64 // Hz, valid roughly 1.5-2 GHz
	BSAntennaHeight   float64 // meters
	SSAntennaHeight   float64 // meters
	CitySize          CitySize
	ShadowingMarginDb float64
	MinDistance       float64 // meters
}

// DefaultCost231Config returns the usual 2.3 GHz macro-cell configuration.
func DefaultCost231Config() Cost231Config {
	return Cost231Config{
		Frequency:       2.3e9,
		BSAntennaHeight: 50,
		SSAntennaHeight: 3,
		CitySize:        CityLarge,
		MinDistance:     0.5,
	}
}

// Cost231 implements
//
//	L = 46.3 + 33.9*log10(f) - 13.82*log10(hb) - a(hm) + (44.9 - 6.55*log10(hb))*log10(d) + C + S
//
// with f in MHz and d in km.
type Cost231 struct {
	cfg Cost231Config
}

// NewCost231 validates cfg and returns the model.
func NewCost231(cfg Cost231Config) (*Cost231, error) {
	if err := checkPositive("cost231", "frequency", cfg.Frequency); err != nil {
		return nil, err
	}
	if err := checkPositive("cost231", "base station antenna height", cfg.BSAntennaHeight); err != nil {
		return nil, err
	}
	if err := checkPositive("cost231", "subscriber antenna height", cfg.SSAntennaHeight); err != nil {
		return nil, err
	}
	if err := checkPositive("cost231", "min distance", cfg.MinDistance); err != nil {
		return nil, err
	}
	if err := checkNonNegative("cost231", "shadowing margin", cfg.ShadowingMarginDb); err != nil {
		return nil, err
	}
	if !validCitySizes[cfg.CitySize] {
		return nil, fmt.Errorf("cost231: unknown city size %q; valid: small, medium, large: %w", cfg.CitySize, sim.ErrInvalidConfig)
	}
	return &Cost231{cfg: cfg}, nil
}

// LossDb returns the path loss at distance d meters.
func (m *Cost231) LossDb(d float64) float64 {
	if d < m.cfg.MinDistance {
		d = m.cfg.MinDistance
	}
	logF := math.Log10(m.cfg.Frequency / 1e6)
	logHb := math.Log10(m.cfg.BSAntennaHeight)
	hm := m.cfg.SSAntennaHeight

	var aHm, c float64
	if m.cfg.CitySize == CityLarge {
		aHm = 3.2*math.Pow(math.Log10(11.75*hm), 2) - 4.97
		c = 3
	} else {
		aHm = (1.1*logF-0.7)*hm - (1.56*logF - 0.8)
	}
	return 46.3 + 33.9*logF - 13.82*logHb - aHm + (44.9-6.55*logHb)*math.Log10(d/1000) + c + m.cfg.ShadowingMarginDb
}

// RxPower implements LossModel.
func (m *Cost231) RxPower(txPowerDbm float64, tx, rx sim.Vector3) float64 {
	return txPowerDbm - m.LossDb(tx.Distance(rx))
}
