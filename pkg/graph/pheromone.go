package graph

import (
	"math"
	"sync/atomic"
)

// Pheromone bounds shared by edge trails and the plan cache. Reinforcement
// never pushes a trail above the ceiling; evaporation never drops it below
// the floor.
const (
	PheromoneInitial = 1.0
	PheromoneFloor   = 0.1
	PheromoneCeiling = 10.0

	// EvaporationFactor is the per-cycle multiplicative decay.
	EvaporationFactor = 0.95
)

// Pheromone is an atomically updated, clamped scalar. Updates are lock-free
// compare-and-swap loops; concurrent reinforcement and evaporation may
// interleave in any order, which is acceptable because pheromone is a
// heuristic signal, not correctness-critical state.
type Pheromone struct {
	bits atomic.Uint64
}

// NewPheromone returns a trail at the initial strength.
func NewPheromone() *Pheromone {
	p := &Pheromone{}
	p.bits.Store(math.Float64bits(PheromoneInitial))
	return p
}

// Strength returns the current pheromone level.
func (p *Pheromone) Strength() float64 {
	return math.Float64frombits(p.bits.Load())
}

// Reinforce adds amount, clamped to the ceiling. Negative amounts are
// ignored.
func (p *Pheromone) Reinforce(amount float64) {
	if amount <= 0 || math.IsNaN(amount) {
		return
	}
	for {
		old := p.bits.Load()
		next := math.Float64frombits(old) + amount
		if next > PheromoneCeiling {
			next = PheromoneCeiling
		}
		if p.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}

// Evaporate multiplies the trail by factor, clamped to the floor.
func (p *Pheromone) Evaporate(factor float64) {
	if factor <= 0 || factor >= 1 {
		factor = EvaporationFactor
	}
	for {
		old := p.bits.Load()
		next := math.Float64frombits(old) * factor
		if next < PheromoneFloor {
			next = PheromoneFloor
		}
		if p.bits.CompareAndSwap(old, math.Float64bits(next)) {
			return
		}
	}
}
