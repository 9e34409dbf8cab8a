package mac

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/wnsim/wnsim/sim"
)

// Standard selects PHY timing and the set of legal data rates.
type Standard string

const (
	Standard80211a Standard = "80211a" // OFDM, 5 GHz
	Standard80211b Standard = "80211b" // DSSS/CCK, 2.4 GHz
)

// Timing holds the interframe spaces and contention window bounds of a standard.
type Timing struct {
	Slot        time.Duration
	SIFS        time.Duration
	CWMin       int
	CWMax       int
	ControlRate float64 // bps, used for RTS/CTS/ACK
	Bandwidth   float64 // Hz, for the thermal noise floor

	ofdm  bool
	rates []float64 // bps, ascending
}

// DIFS returns SIFS + 2 slots.
func (t Timing) DIFS() time.Duration {
	return t.SIFS + 2*t.Slot
}

// Rates returns the legal data rates in bps, ascending.
func (t Timing) Rates() []float64 {
	return append([]float64(nil), t.rates...)
}

var standards = map[Standard]Timing{
	Standard80211a: {
		Slot:        9 * time.Microsecond,
		SIFS:        16 * time.Microsecond,
		CWMin:       15,
		CWMax:       1023,
		ControlRate: 6e6,
		Bandwidth:   20e6,
		ofdm:        true,
		rates:       []float64{6e6, 9e6, 12e6, 18e6, 24e6, 36e6, 48e6, 54e6},
	},
	Standard80211b: {
		Slot:        20 * time.Microsecond,
		SIFS:        10 * time.Microsecond,
		CWMin:       31,
		CWMax:       1023,
		ControlRate: 1e6,
		Bandwidth:   22e6,
		rates:       []float64{1e6, 2e6, 5.5e6, 11e6},
	},
}

// IsValidStandard reports whether name is a supported standard.
func IsValidStandard(name string) bool {
	_, ok := standards[Standard(name)]
	return ok
}

// ValidStandardNames returns supported standard names, sorted.
func ValidStandardNames() []string {
	names := make([]string, 0, len(standards))
	for s := range standards {
		names = append(names, string(s))
	}
	sort.Strings(names)
	return names
}

// TimingFor returns the timing parameters of std.
func TimingFor(std Standard) (Timing, error) {
	t, ok := standards[std]
	if !ok {
		return Timing{}, fmt.Errorf("unknown standard %q; valid: %v: %w", std, ValidStandardNames(), sim.ErrInvalidConfig)
	}
	return t, nil
}

// SupportsRate reports whether rate (bps) is a legal data rate.
func (t Timing) SupportsRate(rate float64) bool {
	for _, r := range t.rates {
		if r == rate {
			return true
		}
	}
	return false
}

const (
	dsssPreamble = 192 * time.Microsecond // long preamble + PLCP header
	ofdmPreamble = 20 * time.Microsecond  // training + SIGNAL
	ofdmSymbol   = 4 * time.Microsecond
	ofdmService  = 16 // bits
	ofdmTail     = 6  // bits
)

// TxDuration returns the airtime of a frame of size bytes sent at rate bps.
func (t Timing) TxDuration(size int, rate float64) time.Duration {
	if t.ofdm {
		bitsPerSymbol := rate * float64(ofdmSymbol) / float64(time.Second)
		symbols := math.Ceil(float64(ofdmService+8*size+ofdmTail) / bitsPerSymbol)
		return ofdmPreamble + time.Duration(symbols)*ofdmSymbol
	}
	payload := math.Ceil(float64(8*size) * float64(time.Second) / rate)
	return dsssPreamble + time.Duration(payload)
}
