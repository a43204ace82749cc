package engine

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
	"github.com/deeddb/deed/pkg/plan"
	"github.com/deeddb/deed/pkg/swarm"
)

// Options tunes the adaptive machinery. Zero values select the defaults.
type Options struct {
	Ants          int
	Iterations    int
	Patience      int
	CacheCapacity int

	// Seed fixes optimizer randomness, for tests.
	Seed int64

	// EvaporationInterval is the cadence of the background decay cycle
	// started by StartEvaporation.
	EvaporationInterval time.Duration
}

// DefaultEvaporationInterval paces the background decay of plan cache and
// edge pheromone when the caller does not choose one.
const DefaultEvaporationInterval = 30 * time.Second

// Engine is the query engine: it parses DQL, plans, optimizes through the
// ant colony, remembers recipes in the stigmergy cache, and executes
// against the store. Safe for concurrent use.
type Engine struct {
	store graph.Store
	exec  *Executor
	cache *swarm.Cache
	opt   *swarm.Optimizer
	log   *logrus.Logger

	evaporationInterval time.Duration
}

// New builds an engine over a store.
func New(store graph.Store, opts Options, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}

	opt := swarm.NewOptimizer(log)
	if opts.Ants > 0 {
		opt.Ants = opts.Ants
	}
	if opts.Iterations > 0 {
		opt.Iterations = opts.Iterations
	}
	if opts.Patience > 0 {
		opt.Patience = opts.Patience
	}
	opt.Seed = opts.Seed

	interval := opts.EvaporationInterval
	if interval <= 0 {
		interval = DefaultEvaporationInterval
	}

	return &Engine{
		store:               store,
		exec:                NewExecutor(store),
		cache:               swarm.NewCache(opts.CacheCapacity, log),
		opt:                 opt,
		log:                 log,
		evaporationInterval: interval,
	}
}

// Store exposes the underlying graph store.
func (e *Engine) Store() graph.Store { return e.store }

// CacheStats returns plan cache counters.
func (e *Engine) CacheStats() swarm.CacheStats { return e.cache.Stats() }

// Execute runs one DQL statement. Reads go through the cache and the
// optimizer; writes run their naive plan directly, since their cost is
// dominated by the mutation itself.
func (e *Engine) Execute(ctx context.Context, query string) (*Result, error) {
	start := time.Now()

	stmt, err := dql.Parse(query)
	if err != nil {
		return nil, err
	}
	naive, err := plan.Build(stmt)
	if err != nil {
		return nil, err
	}

	chosen, cached, cost, entry := e.choosePlan(naive)
	result, err := e.exec.Run(ctx, chosen)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		e.cache.Reinforce(entry, cost)
	}

	result.Cached = cached
	result.EstimatedCost = cost
	result.PlanText = chosen.String()

	e.log.WithFields(logrus.Fields{
		"cost":     cost,
		"cached":   cached,
		"rows":     len(result.Rows),
		"affected": result.RowsAffected,
		"elapsed":  time.Since(start),
	}).Debug("statement executed")
	return result, nil
}

// choosePlan picks the plan to run: the naive plan for mutations, a
// replayed cached recipe on a hit, a fresh ant colony run otherwise.
func (e *Engine) choosePlan(naive *plan.Plan) (p *plan.Plan, cached bool, cost float64, entry *swarm.CacheEntry) {
	stats := e.store.Stats()
	if isMutation(naive) {
		return naive, false, naive.Cost(stats), nil
	}

	sig := plan.Signature(naive)
	if hit, ok := e.cache.Lookup(sig); ok {
		if replayed, ok := swarm.Replay(hit.Recipe, naive, e.store); ok {
			return replayed, true, replayed.Cost(stats), hit
		}
		// The recipe no longer applies, likely a dropped index. Let it
		// decay and optimize from scratch.
		e.log.WithField("signature", sig).Debug("cached recipe no longer applies")
	}

	res := e.opt.Optimize(naive, e.store, stats)
	entry = e.cache.Store(sig, res.Recipe, res.Cost)
	return res.Plan, false, res.Cost, entry
}

// Explanation describes how a statement would run without running it.
type Explanation struct {
	NaivePlan       string
	NaiveCost       float64
	ChosenPlan      string
	ChosenCost      float64
	Cached          bool
	Transformations []string
}

// Explain plans a statement and reports the naive and chosen pipelines.
// It consults and warms the cache but touches no data.
func (e *Engine) Explain(ctx context.Context, query string) (*Explanation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	stmt, err := dql.Parse(query)
	if err != nil {
		return nil, err
	}
	naive, err := plan.Build(stmt)
	if err != nil {
		return nil, err
	}
	stats := e.store.Stats()

	ex := &Explanation{
		NaivePlan: naive.String(),
		NaiveCost: naive.Cost(stats),
	}
	if isMutation(naive) {
		ex.ChosenPlan = ex.NaivePlan
		ex.ChosenCost = ex.NaiveCost
		return ex, nil
	}

	sig := plan.Signature(naive)
	if hit, ok := e.cache.Lookup(sig); ok {
		if replayed, ok := swarm.Replay(hit.Recipe, naive, e.store); ok {
			ex.ChosenPlan = replayed.String()
			ex.ChosenCost = replayed.Cost(stats)
			ex.Cached = true
			ex.Transformations = recipeNames(hit.Recipe)
			return ex, nil
		}
	}

	res := e.opt.Optimize(naive, e.store, stats)
	e.cache.Store(sig, res.Recipe, res.Cost)
	ex.ChosenPlan = res.Plan.String()
	ex.ChosenCost = res.Cost
	ex.Transformations = recipeNames(res.Recipe)
	return ex, nil
}

// StartEvaporation decays the plan cache and edge pheromone on a fixed
// cadence until the context is cancelled.
func (e *Engine) StartEvaporation(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(e.evaporationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.cache.Evaporate()
				e.store.EvaporateEdges()
			}
		}
	}()
}

// Evaporate runs one decay cycle immediately.
func (e *Engine) Evaporate() {
	e.cache.Evaporate()
	e.store.EvaporateEdges()
}

func isMutation(p *plan.Plan) bool {
	for _, op := range p.Ops {
		switch op.(type) {
		case *plan.InsertEntities, *plan.UpdateEntities, *plan.DeleteEntities, *plan.CreateEdge:
			return true
		}
	}
	return false
}

func recipeNames(recipe []swarm.Transformation) []string {
	if len(recipe) == 0 {
		return nil
	}
	out := make([]string, len(recipe))
	for i, t := range recipe {
		out[i] = t.String()
	}
	return out
}
