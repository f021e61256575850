package avo

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
)

// === ExperimentKey ===

// ExperimentKey identifies a reproducible AVO run. Two runs with the same key
// and configuration draw identical random streams.
type ExperimentKey int64

// NewExperimentKey creates an ExperimentKey from a seed value.
func NewExperimentKey(seed int64) ExperimentKey {
	return ExperimentKey(seed)
}

// === Subsystem Constants ===

const (
	// SubsystemVariational draws θ from the variational distribution.
	SubsystemVariational = "variational"

	// SubsystemCache draws reference images from the sample cache.
	SubsystemCache = "cache"

	// SubsystemSimulator seeds the simulator pool's per-unit streams.
	SubsystemSimulator = "simulator"

	// SubsystemDiscriminator seeds discriminator initialisation and shuffling.
	SubsystemDiscriminator = "discriminator"
)

// === PartitionedRNG ===

// PartitionedRNG provides deterministic, isolated RNG instances per subsystem.
//
// Derivation formula: seed(name) = masterSeed XOR fnv1a64(name).
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type PartitionedRNG struct {
	key        ExperimentKey
	subsystems map[string]*rand.Rand
}

// NewPartitionedRNG creates a PartitionedRNG from an ExperimentKey.
func NewPartitionedRNG(key ExperimentKey) *PartitionedRNG {
	return &PartitionedRNG{
		key:        key,
		subsystems: make(map[string]*rand.Rand),
	}
}

// ForSubsystem returns a deterministically-seeded RNG for the named subsystem.
// The same subsystem name always returns the same *rand.Rand instance (cached).
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	rng := rand.New(rand.NewPCG(p.Seed(name), 0))
	p.subsystems[name] = rng
	return rng
}

// Seed returns the derived seed for a subsystem, for components that build
// their own streams (the simulator pool, the discriminator).
func (p *PartitionedRNG) Seed(name string) uint64 {
	return uint64(int64(p.key) ^ fnv1a64(name))
}

// Key returns the ExperimentKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() ExperimentKey {
	return p.key
}

func (p *PartitionedRNG) String() string {
	return fmt.Sprintf("PartitionedRNG(key=%d, subsystems=%d)", p.key, len(p.subsystems))
}

// fnv1a64 computes a 64-bit FNV-1a hash of the input string.
func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
