package mac

import (
	"fmt"
	"math"

	"github.com/wnsim/wnsim/sim"
)

// Config is the per-device MAC/PHY configuration.
type Config struct {
	Standard Standard
	DataRate float64 // bps

	// RtsCtsThreshold: MAC payloads of at least this many bytes are
	// preceded by an RTS/CTS exchange. The MAC payload is the whole network
	// packet, so for UDP traffic it includes 28 bytes of IPv4 and UDP
	// headers on top of the application payload. 0 forces the handshake on
	// every unicast frame.
	RtsCtsThreshold int
	RetryLimit      int
	QueueLimit      int // frames waiting behind the one in service

	TxPowerDbm       float64
	RxSensitivityDbm float64
	CcaThresholdDbm  float64
	NoiseFigureDb    float64
	MinSnrDb         float64

	// Capture lets a frame survive overlap when it exceeds the summed
	// interference by CaptureMarginDb. Off by default: any overlap at the
	// receiver destroys an unprotected frame.
	Capture         bool
	CaptureMarginDb float64
}

// DefaultConfig returns a configuration at the lowest rate of std with
// RTS/CTS disabled.
func DefaultConfig(std Standard) Config {
	cfg := Config{
		Standard:         std,
		RtsCtsThreshold:  65535,
		RetryLimit:       7,
		QueueLimit:       100,
		TxPowerDbm:       16.0206,
		RxSensitivityDbm: -101,
		CcaThresholdDbm:  -82,
		NoiseFigureDb:    7,
		MinSnrDb:         4,
		CaptureMarginDb:  10,
	}
	if t, ok := standards[std]; ok {
		cfg.DataRate = t.rates[0]
	}
	return cfg
}

// Validate checks every field. Rate problems wrap sim.ErrInvalidRate,
// everything else sim.ErrInvalidConfig.
func (c Config) Validate() error {
	t, err := TimingFor(c.Standard)
	if err != nil {
		return err
	}
	if !(c.DataRate > 0) {
		return fmt.Errorf("data rate %v bps: %w", c.DataRate, sim.ErrInvalidRate)
	}
	if !t.SupportsRate(c.DataRate) {
		return fmt.Errorf("data rate %v bps not supported by %s; valid: %v: %w", c.DataRate, c.Standard, t.rates, sim.ErrInvalidRate)
	}
	if c.RtsCtsThreshold < 0 {
		return fmt.Errorf("rts/cts threshold %d must be >= 0: %w", c.RtsCtsThreshold, sim.ErrInvalidConfig)
	}
	if c.RetryLimit < 0 {
		return fmt.Errorf("retry limit %d must be >= 0: %w", c.RetryLimit, sim.ErrInvalidConfig)
	}
	if c.QueueLimit < 1 {
		return fmt.Errorf("queue limit %d must be >= 1: %w", c.QueueLimit, sim.ErrInvalidConfig)
	}
	for _, f := range []struct {
		name string
		v    float64
	}{
		{"tx power", c.TxPowerDbm},
		{"rx sensitivity", c.RxSensitivityDbm},
		{"cca threshold", c.CcaThresholdDbm},
		{"noise figure", c.NoiseFigureDb},
		{"min snr", c.MinSnrDb},
		{"capture margin", c.CaptureMarginDb},
	} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return fmt.Errorf("%s must be finite, got %v: %w", f.name, f.v, sim.ErrInvalidConfig)
		}
	}
	if c.NoiseFigureDb < 0 {
		return fmt.Errorf("noise figure %v must be >= 0: %w", c.NoiseFigureDb, sim.ErrInvalidConfig)
	}
	if c.Capture && c.CaptureMarginDb < 0 {
		return fmt.Errorf("capture margin %v must be >= 0: %w", c.CaptureMarginDb, sim.ErrInvalidConfig)
	}
	return nil
}

// NoiseFloorDbm is the thermal noise over the channel bandwidth plus the
// receiver noise figure.
func (c Config) NoiseFloorDbm(t Timing) float64 {
	return -174 + 10*math.Log10(t.Bandwidth) + c.NoiseFigureDb
}
