package swarm

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/deeddb/deed/pkg/graph"
)

// DefaultCacheCapacity bounds the total number of cached recipes.
const DefaultCacheCapacity = 1024

// CacheEntry is one remembered optimization: the transformation recipe for
// a plan signature, plus the pheromone bookkeeping that decides whether it
// survives.
type CacheEntry struct {
	Signature uint64
	Recipe    []Transformation
	Cost      float64

	pheromone float64
	hits      uint64
	lastUsed  time.Time
}

// Pheromone returns the entry's current trail strength.
func (e *CacheEntry) Pheromone() float64 { return e.pheromone }

// Hits returns how many lookups returned this entry.
func (e *CacheEntry) Hits() uint64 { return e.hits }

// CacheStats is a snapshot of cache effectiveness counters and the
// pheromone distribution across live entries.
type CacheStats struct {
	Entries   int
	Hits      uint64
	Misses    uint64
	Evictions uint64

	// Zero when the cache is empty.
	MinPheromone float64
	AvgPheromone float64
	MaxPheromone float64
}

// Cache is the stigmergy plan cache. Entries compete per signature: every
// execution of a cached recipe reinforces it, every evaporation cycle
// weakens all of them, and entries that decay below the pheromone floor
// are evicted. Over capacity the globally weakest entries go first.
type Cache struct {
	mu       sync.Mutex
	entries  map[uint64][]*CacheEntry
	size     int
	capacity int

	hits      uint64
	misses    uint64
	evictions uint64

	log *logrus.Logger
}

// NewCache returns an empty cache. A non-positive capacity falls back to
// the default.
func NewCache(capacity int, log *logrus.Logger) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	if log == nil {
		log = logrus.New()
		log.SetLevel(logrus.WarnLevel)
	}
	return &Cache{
		entries:  make(map[uint64][]*CacheEntry),
		capacity: capacity,
		log:      log,
	}
}

// Lookup returns the strongest entry for a signature: highest pheromone,
// most recently used on a tie. A hit bumps the entry's usage bookkeeping.
func (c *Cache) Lookup(sig uint64) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var best *CacheEntry
	for _, e := range c.entries[sig] {
		if best == nil ||
			e.pheromone > best.pheromone ||
			(e.pheromone == best.pheromone && e.lastUsed.After(best.lastUsed)) {
			best = e
		}
	}
	if best == nil {
		c.misses++
		return nil, false
	}
	c.hits++
	best.hits++
	best.lastUsed = time.Now()
	return best, true
}

// Store records a recipe for a signature. Storing an already-known recipe
// refreshes its cost and reinforces it instead of duplicating it.
func (c *Cache) Store(sig uint64, recipe []Transformation, cost float64) *CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := recipeKey(recipe)
	for _, e := range c.entries[sig] {
		if recipeKey(e.Recipe) == key {
			e.Cost = cost
			c.reinforceLocked(e, cost)
			return e
		}
	}

	entry := &CacheEntry{
		Signature: sig,
		Recipe:    recipe,
		Cost:      cost,
		pheromone: graph.PheromoneInitial,
		lastUsed:  time.Now(),
	}
	c.entries[sig] = append(c.entries[sig], entry)
	c.size++
	c.enforceCapacityLocked()
	return entry
}

// Reinforce strengthens an entry after a successful execution. Cheaper
// observed costs deposit more pheromone.
func (c *Cache) Reinforce(e *CacheEntry, observedCost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reinforceLocked(e, observedCost)
}

func (c *Cache) reinforceLocked(e *CacheEntry, observedCost float64) {
	if observedCost < 0 {
		observedCost = 0
	}
	e.pheromone += 1.0 / (1.0 + observedCost)
	if e.pheromone > graph.PheromoneCeiling {
		e.pheromone = graph.PheromoneCeiling
	}
}

// Evaporate decays every entry and evicts those that fall below the floor.
// Call it on a steady cadence; the cadence, not the factor, sets how fast
// unused plans fade.
func (c *Cache) Evaporate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for sig, list := range c.entries {
		kept := list[:0]
		for _, e := range list {
			e.pheromone *= graph.EvaporationFactor
			if e.pheromone < graph.PheromoneFloor {
				c.size--
				c.evictions++
				continue
			}
			kept = append(kept, e)
		}
		if len(kept) == 0 {
			delete(c.entries, sig)
		} else {
			c.entries[sig] = kept
		}
	}
}

// enforceCapacityLocked evicts the weakest entries until the cache fits.
func (c *Cache) enforceCapacityLocked() {
	for c.size > c.capacity {
		var weakest *CacheEntry
		var weakestSig uint64
		for sig, list := range c.entries {
			for _, e := range list {
				if weakest == nil ||
					e.pheromone < weakest.pheromone ||
					(e.pheromone == weakest.pheromone && e.lastUsed.Before(weakest.lastUsed)) {
					weakest = e
					weakestSig = sig
				}
			}
		}
		if weakest == nil {
			return
		}
		list := c.entries[weakestSig]
		kept := list[:0]
		for _, e := range list {
			if e != weakest {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(c.entries, weakestSig)
		} else {
			c.entries[weakestSig] = kept
		}
		c.size--
		c.evictions++
		c.log.WithFields(logrus.Fields{
			"signature": weakestSig,
			"pheromone": weakest.pheromone,
		}).Debug("evicted plan cache entry")
	}
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Stats returns a snapshot of the cache counters and pheromone spread.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Entries:   c.size,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	var sum float64
	for _, list := range c.entries {
		for _, e := range list {
			sum += e.pheromone
			if stats.MinPheromone == 0 || e.pheromone < stats.MinPheromone {
				stats.MinPheromone = e.pheromone
			}
			if e.pheromone > stats.MaxPheromone {
				stats.MaxPheromone = e.pheromone
			}
		}
	}
	if c.size > 0 {
		stats.AvgPheromone = sum / float64(c.size)
	}
	return stats
}

func recipeKey(recipe []Transformation) string {
	parts := make([]string, len(recipe))
	for i, t := range recipe {
		parts[i] = t.String()
	}
	return strings.Join(parts, "|")
}
