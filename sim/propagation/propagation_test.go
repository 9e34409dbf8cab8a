package propagation

import (
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wnsim/wnsim/sim"
)

func at(x float64) sim.Vector3 { return sim.Vector3{X: x} }

var origin = sim.Vector3{}

func TestFriis_ReferenceLossAtOneMeter(t *testing.T) {
	// GIVEN the default 5.15 GHz Friis model
	m, err := NewFriis(DefaultFriisConfig())
	require.NoError(t, err)

	// THEN the loss at 1 m matches the log-distance reference loss
	assert.InDelta(t, 0-46.68, m.RxPower(0, origin, at(1)), 0.01)
}

func TestFriis_InverseSquare(t *testing.T) {
	m, err := NewFriis(DefaultFriisConfig())
	require.NoError(t, err)

	for _, d := range []float64{10, 50, 100, 150} {
		near := m.RxPower(16, origin, at(d))
		far := m.RxPower(16, origin, at(2*d))
		assert.InDelta(t, 20*math.Log10(2), near-far, 1e-9, "doubling distance from %v m", d)
	}
}

func TestFriis_ClampsBelowMinDistance(t *testing.T) {
	cfg := DefaultFriisConfig()
	cfg.MinDistance = 2
	m, err := NewFriis(cfg)
	require.NoError(t, err)

	atMin := m.RxPower(0, origin, at(2))
	assert.Equal(t, atMin, m.RxPower(0, origin, at(0)))
	assert.Equal(t, atMin, m.RxPower(0, origin, at(1)))
	assert.False(t, math.IsInf(m.RxPower(0, origin, origin), 0))
}

func TestTwoRayGround_CrossoverBehavior(t *testing.T) {
	// GIVEN antennas 1.5 m above ground at 2.4 GHz
	cfg := DefaultTwoRayGroundConfig()
	cfg.Frequency = 2.4e9
	cfg.HeightAboveZ = 1.5
	m, err := NewTwoRayGround(cfg)
	require.NoError(t, err)
	friis, err := NewFriis(FriisConfig{Frequency: 2.4e9, SystemLoss: 1, MinDistance: 0.5})
	require.NoError(t, err)

	dc := m.Crossover(1.5, 1.5)
	require.InDelta(t, 226.4, dc, 0.5)

	// THEN below the crossover it matches Friis
	assert.InDelta(t, friis.RxPower(16, origin, at(100)), m.RxPower(16, origin, at(100)), 1e-9)

	// AND beyond it power falls 40 dB per decade
	assert.InDelta(t, 40, m.RxPower(16, origin, at(1000))-m.RxPower(16, origin, at(10000)), 1e-9)
}

func TestTwoRayGround_ZeroHeightReceivesNothingPastCrossover(t *testing.T) {
	m, err := NewTwoRayGround(DefaultTwoRayGroundConfig())
	require.NoError(t, err)
	assert.Equal(t, NoSignalDbm, m.RxPower(16, origin, at(10)))
}

func TestCost231_DistanceSlopeAndCitySize(t *testing.T) {
	large, err := NewCost231(DefaultCost231Config())
	require.NoError(t, err)
	cfg := DefaultCost231Config()
	cfg.CitySize = CityMedium
	medium, err := NewCost231(cfg)
	require.NoError(t, err)

	slope := 44.9 - 6.55*math.Log10(50)
	assert.InDelta(t, slope, large.LossDb(10000)-large.LossDb(1000), 1e-9)

	// metropolitan correction makes a large city lossier at the same distance
	assert.Greater(t, large.LossDb(1000), medium.LossDb(1000))
	assert.InDelta(t, 4.86, large.LossDb(1000)-medium.LossDb(1000), 0.01)
}

func TestCost231_ShadowingMarginAddsLoss(t *testing.T) {
	base, err := NewCost231(DefaultCost231Config())
	require.NoError(t, err)
	cfg := DefaultCost231Config()
	cfg.ShadowingMarginDb = 8
	shadowed, err := NewCost231(cfg)
	require.NoError(t, err)

	assert.InDelta(t, 8, base.RxPower(30, origin, at(500))-shadowed.RxPower(30, origin, at(500)), 1e-9)
}

func TestNakagami_DeterministicPerStream(t *testing.T) {
	draw := func(seed uint64) []float64 {
		m, err := NewNakagami(DefaultNakagamiConfig(), rand.New(rand.NewPCG(seed, seed)))
		require.NoError(t, err)
		out := make([]float64, 10)
		for i := range out {
			out[i] = m.RxPower(-60, origin, at(50))
		}
		return out
	}
	assert.Equal(t, draw(5), draw(5))
	assert.NotEqual(t, draw(5), draw(6))
}

func TestNakagami_PreservesMeanPower(t *testing.T) {
	// GIVEN fading beyond the second distance band (m = 0.75)
	m, err := NewNakagami(DefaultNakagamiConfig(), rand.New(rand.NewPCG(1, 2)))
	require.NoError(t, err)

	// WHEN many draws are averaged in the linear domain
	const n = 20000
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += DbmToW(m.RxPower(-70, origin, at(300)))
	}

	// THEN the mean received power matches the input power
	assert.InEpsilon(t, DbmToW(-70), sum/n, 0.05)
}

func TestRange_Cutoff(t *testing.T) {
	m, err := NewRange(250)
	require.NoError(t, err)
	assert.Equal(t, 16.0, m.RxPower(16, origin, at(250)))
	assert.Equal(t, NoSignalDbm, m.RxPower(16, origin, at(250.001)))
}

func TestLogDistance_Slope(t *testing.T) {
	m, err := NewLogDistance(DefaultLogDistanceConfig())
	require.NoError(t, err)
	assert.InDelta(t, -46.6777, m.RxPower(0, origin, at(0.2)), 1e-9)
	assert.InDelta(t, 30, m.RxPower(0, origin, at(10))-m.RxPower(0, origin, at(100)), 1e-9)
}

func TestChain_AppliesInOrder(t *testing.T) {
	friis, err := NewFriis(DefaultFriisConfig())
	require.NoError(t, err)
	cutoff, err := NewRange(100)
	require.NoError(t, err)
	chain := NewChain(friis, cutoff)

	assert.Equal(t, 2, chain.Len())
	assert.InDelta(t, friis.RxPower(16, origin, at(50)), chain.RxPower(16, origin, at(50)), 1e-12)
	assert.Equal(t, NoSignalDbm, chain.RxPower(16, origin, at(150)))
	assert.Equal(t, 16.0, NewChain().RxPower(16, origin, at(1e6)))
}

func TestChain_StopsDrawingOnceSignalIsGone(t *testing.T) {
	// GIVEN a cutoff followed by a fading model
	stream := rand.New(rand.NewPCG(3, 3))
	twin := rand.New(rand.NewPCG(3, 3))
	fading, err := NewNakagami(DefaultNakagamiConfig(), stream)
	require.NoError(t, err)
	cutoff, err := NewRange(10)
	require.NoError(t, err)
	chain := NewChain(cutoff, fading)

	// WHEN the pair is out of range
	assert.Equal(t, NoSignalDbm, chain.RxPower(16, origin, at(20)))

	// THEN the fading stream is untouched
	assert.Equal(t, twin.Uint64(), stream.Uint64())
}

func TestConstantSpeed_Delay(t *testing.T) {
	m := NewConstantSpeed()
	assert.Equal(t, time.Second, m.Delay(origin, at(SpeedOfLight)))
	assert.Equal(t, 1001*time.Nanosecond, m.Delay(origin, at(300)))
	assert.Equal(t, time.Duration(0), m.Delay(origin, origin))
}

func TestConstructors_RejectMalformedParameters(t *testing.T) {
	stream := rand.New(rand.NewPCG(1, 1))
	tests := []struct {
		name string
		fn   func() error
	}{
		{"friis zero frequency", func() error { _, err := NewFriis(FriisConfig{SystemLoss: 1, MinDistance: 1}); return err }},
		{"friis negative min distance", func() error {
			_, err := NewFriis(FriisConfig{Frequency: 1e9, SystemLoss: 1, MinDistance: -1})
			return err
		}},
		{"two-ray negative height", func() error {
			cfg := DefaultTwoRayGroundConfig()
			cfg.HeightAboveZ = -1
			_, err := NewTwoRayGround(cfg)
			return err
		}},
		{"cost231 unknown city", func() error {
			cfg := DefaultCost231Config()
			cfg.CitySize = "village"
			_, err := NewCost231(cfg)
			return err
		}},
		{"nakagami zero m", func() error {
			cfg := DefaultNakagamiConfig()
			cfg.M1 = 0
			_, err := NewNakagami(cfg, stream)
			return err
		}},
		{"nakagami inverted bands", func() error {
			cfg := DefaultNakagamiConfig()
			cfg.Distance2 = 10
			_, err := NewNakagami(cfg, stream)
			return err
		}},
		{"nakagami nil stream", func() error { _, err := NewNakagami(DefaultNakagamiConfig(), nil); return err }},
		{"range zero", func() error { _, err := NewRange(0); return err }},
		{"log-distance NaN exponent", func() error {
			cfg := DefaultLogDistanceConfig()
			cfg.Exponent = math.NaN()
			_, err := NewLogDistance(cfg)
			return err
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.fn(), sim.ErrInvalidConfig)
		})
	}
}
