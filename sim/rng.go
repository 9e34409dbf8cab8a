package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// === SimulationKey ===

// SimulationKey uniquely identifies a reproducible simulation run.
// Two simulations with the same SimulationKey and identical configuration
// MUST produce bit-for-bit identical results.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

// === Subsystem Names ===

// SubsystemTraffic is the RNG subsystem for traffic generation.
// Uses the master seed directly.
const SubsystemTraffic = "traffic"

// SubsystemChannel returns the subsystem name for channel N (fading draws).
func SubsystemChannel(id ChannelID) string {
	return fmt.Sprintf("channel_%d", id)
}

// SubsystemMAC returns the subsystem name for device N (backoff draws).
func SubsystemMAC(id DeviceID) string {
	return fmt.Sprintf("mac_%d", id)
}

// SubsystemRouting returns the subsystem name for node N (control jitter).
func SubsystemRouting(id NodeID) string {
	return fmt.Sprintf("routing_%d", id)
}

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG streams per subsystem,
// so adding draws in one component never shifts the draws seen by another.
//
// Derivation formula:
//   - For SubsystemTraffic: uses masterSeed directly
//   - For all other subsystems: masterSeed XOR fnv1a64(subsystemName)
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        SimulationKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from a SimulationKey.
func NewPartitionedRNG(key SimulationKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
// Never returns nil.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}

	var derived uint64
	if name == SubsystemTraffic {
		derived = uint64(p.key)
	} else {
		derived = uint64(p.key) ^ fnv1a64(name)
	}

	rng := rand.New(rand.NewPCG(derived, derived^pcgStream))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

// pcgStream decorrelates the second PCG seed word from the first.
const pcgStream = 0x9e3779b97f4a7c15

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
