package swarm

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deeddb/deed/pkg/graph"
	"github.com/deeddb/deed/pkg/plan"
)

// Optimizer defaults. Colonies are small because the transformation space
// for a single statement is small; patience cuts the search short once it
// stops paying.
const (
	DefaultAnts       = 20
	DefaultIterations = 10
	DefaultPatience   = 2
	DefaultMaxSteps   = 4

	// Relative weight of learned pheromone versus immediate cost
	// improvement when an ant picks its next transformation.
	pheromoneWeight = 0.6
	heuristicWeight = 0.4
)

// Optimizer runs an ant colony search over plan transformations. The zero
// value is not usable; construct with NewOptimizer.
type Optimizer struct {
	Ants       int
	Iterations int
	Patience   int
	MaxSteps   int

	// Seed fixes the random walk for tests. Zero seeds from the clock.
	Seed int64

	log *logrus.Logger
}

// NewOptimizer returns an optimizer with the default colony shape.
func NewOptimizer(log *logrus.Logger) *Optimizer {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Optimizer{
		Ants:       DefaultAnts,
		Iterations: DefaultIterations,
		Patience:   DefaultPatience,
		MaxSteps:   DefaultMaxSteps,
		log:        log,
	}
}

// Result is the outcome of one optimization run.
type Result struct {
	Plan       *plan.Plan
	Recipe     []Transformation
	Cost       float64
	NaiveCost  float64
	Iterations int
}

// Improved reports whether the search found a plan cheaper than the naive
// lowering.
func (r *Result) Improved() bool {
	return r.Cost < r.NaiveCost
}

// Optimize searches for a cheaper equivalent of the naive plan. The result
// is never worse than the input: when no transformation helps, the naive
// plan comes back with an empty recipe.
func (o *Optimizer) Optimize(naive *plan.Plan, store graph.Store, stats *graph.Stats) *Result {
	seed := o.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	naiveCost := naive.Cost(stats)
	best := &Result{
		Plan:      naive,
		Recipe:    nil,
		Cost:      naiveCost,
		NaiveCost: naiveCost,
	}

	// Pheromone per transformation key, local to this run. The cross-run
	// memory lives in the stigmergy cache, keyed by plan signature.
	trail := make(map[string]float64)
	strength := func(key string) float64 {
		if tau, ok := trail[key]; ok {
			return tau
		}
		return graph.PheromoneInitial
	}

	stale := 0
	for iter := 0; iter < o.Iterations; iter++ {
		improved := false
		var iterBest *Result

		for ant := 0; ant < o.Ants; ant++ {
			r := o.walk(rng, best, store, stats, strength)
			if iterBest == nil || r.Cost < iterBest.Cost {
				iterBest = r
			}
			if r.Cost < best.Cost {
				best = r
				improved = true
			}
		}

		// Evaporate, then lay pheromone along the iteration winner's
		// path, stronger for cheaper plans.
		for key := range trail {
			tau := trail[key] * graph.EvaporationFactor
			if tau < graph.PheromoneFloor {
				tau = graph.PheromoneFloor
			}
			trail[key] = tau
		}
		if iterBest != nil {
			deposit := 1.0 / (1.0 + iterBest.Cost)
			for _, step := range iterBest.Recipe {
				tau := strength(step.String()) + deposit
				if tau > graph.PheromoneCeiling {
					tau = graph.PheromoneCeiling
				}
				trail[step.String()] = tau
			}
		}

		best.Iterations = iter + 1
		if improved {
			stale = 0
		} else {
			stale++
			if stale >= o.Patience {
				break
			}
		}
	}

	o.log.WithFields(logrus.Fields{
		"naive_cost": naiveCost,
		"best_cost":  best.Cost,
		"steps":      len(best.Recipe),
		"iterations": best.Iterations,
	}).Debug("ant colony finished")
	return best
}

// walk sends one ant out from the current global best. Each step picks a
// transformation by roulette over pheromone and cost improvement; the walk
// may pass through worse plans, only the endpoint is judged.
func (o *Optimizer) walk(rng *rand.Rand, start *Result, store graph.Store, stats *graph.Stats, strength func(string) float64) *Result {
	current := start.Plan
	cost := start.Cost
	recipe := append([]Transformation(nil), start.Recipe...)

	for step := 0; step < o.MaxSteps; step++ {
		type move struct {
			t     Transformation
			plan  *plan.Plan
			cost  float64
			score float64
		}
		var moves []move
		var total float64
		for _, cand := range Candidates(current, store) {
			next, ok := cand.Apply(current, store)
			if !ok {
				continue
			}
			nextCost := next.Cost(stats)
			desirability := cost / (nextCost + 1)
			score := pheromoneWeight*strength(cand.String()) + heuristicWeight*desirability
			moves = append(moves, move{t: cand, plan: next, cost: nextCost, score: score})
			total += score
		}
		if len(moves) == 0 || total <= 0 {
			break
		}

		pick := rng.Float64() * total
		chosen := moves[len(moves)-1]
		for _, m := range moves {
			pick -= m.score
			if pick <= 0 {
				chosen = m
				break
			}
		}

		current = chosen.plan
		cost = chosen.cost
		recipe = append(recipe, chosen.t)
	}

	return &Result{Plan: current, Recipe: recipe, Cost: cost, NaiveCost: start.NaiveCost}
}

// Replay applies a recorded recipe to a fresh naive plan. It returns false
// when any step no longer applies, which callers treat as a cache miss.
func Replay(recipe []Transformation, naive *plan.Plan, store graph.Store) (*plan.Plan, bool) {
	current := naive
	for _, step := range recipe {
		next, ok := step.Apply(current, store)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}
