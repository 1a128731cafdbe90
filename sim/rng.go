package sim

import (
	"fmt"
	"hash/fnv"
	"math/rand"
)

// SimulationKey identifies a reproducible run. Two runs with the same key and
// identical topology, workload and policy configuration produce identical
// telemetry.
type SimulationKey int64

// NewSimulationKey creates a SimulationKey from a seed value.
func NewSimulationKey(seed int64) SimulationKey {
	return SimulationKey(seed)
}

const (
	// SubsystemWorkload drives synthetic job generation. It uses the master
	// seed directly.
	SubsystemWorkload = "workload"

	// SubsystemEligibility drives randomized task eligibility policies.
	SubsystemEligibility = "eligibility"

	// SubsystemPlacement drives randomized host placement.
	SubsystemPlacement = "placement"

	// SubsystemTopology drives the identities generated for topology entities.
	SubsystemTopology = "topology"
)

// SubsystemCluster returns the subsystem name for the cluster at index id.
func SubsystemCluster(id int) string {
	return fmt.Sprintf("cluster_%d", id)
}

// PartitionedRNG hands out isolated, deterministically seeded generators per
// subsystem, so adding draws in one subsystem never shifts another.
//
// Derivation:
//   - SubsystemWorkload: the master seed
//   - every other subsystem: master seed XOR fnv1a64(name)
//
// NOT thread-safe.
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

// ForSubsystem returns the generator for the named subsystem. Repeated calls
// with the same name return the same instance.
func (p *PartitionedRNG) ForSubsystem(name string) *rand.Rand {
	if rng, ok := p.subsystems[name]; ok {
		return rng
	}
	derivedSeed := int64(p.key)
	if name != SubsystemWorkload {
		derivedSeed ^= fnv1a64(name)
	}
	rng := rand.New(rand.NewSource(derivedSeed))
	p.subsystems[name] = rng
	return rng
}

// Key returns the SimulationKey used to create this PartitionedRNG.
func (p *PartitionedRNG) Key() SimulationKey {
	return p.key
}

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}
