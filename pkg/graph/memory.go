package graph

import (
	"sync"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

const numShards = 16

// entityShard holds a slice of the entity space plus the adjacency lists of
// the entities it owns.
type entityShard struct {
	mu       sync.RWMutex
	entities map[EntityID]*Entity
	outgoing map[EntityID]map[EdgeID]struct{}
	incoming map[EntityID]map[EdgeID]struct{}
}

// edgeTrail is the mutable, shared pheromone state of one edge. It is
// updated atomically outside the shard locks so traversal reinforcement
// never serializes unrelated queries.
type edgeTrail struct {
	pher       *Pheromone
	traversals atomic.Uint64
}

type edgeShard struct {
	mu     sync.RWMutex
	edges  map[EdgeID]*Edge
	trails map[EdgeID]*edgeTrail
}

// MemoryGraph is the in-memory Store implementation: entity and edge spaces
// are sharded by ID hash so concurrent readers and writers touching
// different entities never contend on a single lock.
type MemoryGraph struct {
	entityShards [numShards]*entityShard
	edgeShards   [numShards]*edgeShard

	colMu       sync.RWMutex
	collections map[string]map[EntityID]struct{}

	ixMu    sync.RWMutex
	indexes map[string]*propertyIndex // "collection.field"
}

// NewMemoryGraph creates an empty graph.
func NewMemoryGraph() *MemoryGraph {
	g := &MemoryGraph{
		collections: make(map[string]map[EntityID]struct{}),
		indexes:     make(map[string]*propertyIndex),
	}
	for i := range g.entityShards {
		g.entityShards[i] = &entityShard{
			entities: make(map[EntityID]*Entity),
			outgoing: make(map[EntityID]map[EdgeID]struct{}),
			incoming: make(map[EntityID]map[EdgeID]struct{}),
		}
	}
	for i := range g.edgeShards {
		g.edgeShards[i] = &edgeShard{
			edges:  make(map[EdgeID]*Edge),
			trails: make(map[EdgeID]*edgeTrail),
		}
	}
	return g
}

func shardFor(id string) int {
	return int(xxhash.Sum64String(id) % numShards)
}

func (g *MemoryGraph) entityShard(id EntityID) *entityShard {
	return g.entityShards[shardFor(string(id))]
}

func (g *MemoryGraph) edgeShard(id EdgeID) *edgeShard {
	return g.edgeShards[shardFor(string(id))]
}

func indexKey(collection, field string) string {
	return collection + "." + field
}

// InsertEntity stores a new entity in the collection, creating the
// collection on first use, and returns its generated ID.
func (g *MemoryGraph) InsertEntity(collection string, props map[string]any) (EntityID, error) {
	if collection == "" {
		return "", ErrInvalidData
	}

	id := EntityID(uuid.NewString())
	stored := &Entity{
		ID:         id,
		Collection: collection,
		Properties: make(map[string]any, len(props)),
	}
	for k, v := range props {
		stored.Properties[k] = NormalizeValue(v)
	}

	s := g.entityShard(id)
	s.mu.Lock()
	s.entities[id] = stored
	s.outgoing[id] = make(map[EdgeID]struct{})
	s.incoming[id] = make(map[EdgeID]struct{})
	s.mu.Unlock()

	g.colMu.Lock()
	if g.collections[collection] == nil {
		g.collections[collection] = make(map[EntityID]struct{})
	}
	g.collections[collection][id] = struct{}{}
	g.colMu.Unlock()

	g.indexEntity(stored, true)
	return id, nil
}

// GetEntity returns a copy of the entity.
func (g *MemoryGraph) GetEntity(id EntityID) (*Entity, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	s := g.entityShard(id)
	s.mu.RLock()
	e, ok := s.entities[id]
	var out *Entity
	if ok {
		atomic.AddUint64(&e.AccessCount, 1)
		out = copyEntity(e)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return out, nil
}

// UpdateEntity merges set into the entity's properties.
func (g *MemoryGraph) UpdateEntity(id EntityID, set map[string]any) error {
	if id == "" {
		return ErrInvalidID
	}
	s := g.entityShard(id)

	s.mu.Lock()
	e, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	old := copyEntity(e)
	for k, v := range set {
		e.Properties[k] = NormalizeValue(v)
	}
	updated := copyEntity(e)
	s.mu.Unlock()

	g.indexEntity(old, false)
	g.indexEntity(updated, true)
	return nil
}

// DeleteEntity removes the entity and every edge attached to it.
func (g *MemoryGraph) DeleteEntity(id EntityID) error {
	if id == "" {
		return ErrInvalidID
	}
	s := g.entityShard(id)

	s.mu.Lock()
	e, ok := s.entities[id]
	if !ok {
		s.mu.Unlock()
		return ErrNotFound
	}
	removed := copyEntity(e)
	edgeIDs := make([]EdgeID, 0, len(s.outgoing[id])+len(s.incoming[id]))
	for eid := range s.outgoing[id] {
		edgeIDs = append(edgeIDs, eid)
	}
	for eid := range s.incoming[id] {
		edgeIDs = append(edgeIDs, eid)
	}
	delete(s.entities, id)
	delete(s.outgoing, id)
	delete(s.incoming, id)
	s.mu.Unlock()

	for _, eid := range edgeIDs {
		g.dropEdge(eid)
	}

	g.colMu.Lock()
	if ids := g.collections[removed.Collection]; ids != nil {
		delete(ids, id)
	}
	g.colMu.Unlock()

	g.indexEntity(removed, false)
	return nil
}

// CreateEdge links two existing entities with a typed, directed edge.
func (g *MemoryGraph) CreateEdge(from, to EntityID, edgeType string, props map[string]any) (EdgeID, error) {
	if from == "" || to == "" {
		return "", ErrInvalidID
	}
	if edgeType == "" {
		return "", ErrInvalidData
	}
	if _, err := g.GetEntity(from); err != nil {
		return "", err
	}
	if _, err := g.GetEntity(to); err != nil {
		return "", err
	}

	id := EdgeID(uuid.NewString())
	stored := &Edge{
		ID:         id,
		From:       from,
		To:         to,
		Type:       edgeType,
		Properties: make(map[string]any, len(props)),
	}
	for k, v := range props {
		stored.Properties[k] = NormalizeValue(v)
	}

	es := g.edgeShard(id)
	es.mu.Lock()
	es.edges[id] = stored
	es.trails[id] = &edgeTrail{pher: NewPheromone()}
	es.mu.Unlock()

	fs := g.entityShard(from)
	fs.mu.Lock()
	if fs.outgoing[from] == nil {
		fs.outgoing[from] = make(map[EdgeID]struct{})
	}
	fs.outgoing[from][id] = struct{}{}
	fs.mu.Unlock()

	ts := g.entityShard(to)
	ts.mu.Lock()
	if ts.incoming[to] == nil {
		ts.incoming[to] = make(map[EdgeID]struct{})
	}
	ts.incoming[to][id] = struct{}{}
	ts.mu.Unlock()

	return id, nil
}

// GetEdge returns a copy of the edge with a pheromone snapshot.
func (g *MemoryGraph) GetEdge(id EdgeID) (*Edge, error) {
	if id == "" {
		return nil, ErrInvalidID
	}
	es := g.edgeShard(id)
	es.mu.RLock()
	e, ok := es.edges[id]
	trail := es.trails[id]
	var out *Edge
	if ok {
		out = copyEdge(e)
	}
	es.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	if trail != nil {
		out.Pheromone = trail.pher.Strength()
		out.TraversalCount = trail.traversals.Load()
	}
	return out, nil
}

func (g *MemoryGraph) dropEdge(id EdgeID) {
	es := g.edgeShard(id)
	es.mu.Lock()
	e, ok := es.edges[id]
	if !ok {
		es.mu.Unlock()
		return
	}
	delete(es.edges, id)
	delete(es.trails, id)
	es.mu.Unlock()

	fs := g.entityShard(e.From)
	fs.mu.Lock()
	if out := fs.outgoing[e.From]; out != nil {
		delete(out, id)
	}
	fs.mu.Unlock()

	ts := g.entityShard(e.To)
	ts.mu.Lock()
	if in := ts.incoming[e.To]; in != nil {
		delete(in, id)
	}
	ts.mu.Unlock()
}

// ScanCollection returns copies of every entity in the collection.
func (g *MemoryGraph) ScanCollection(collection string) []*Entity {
	g.colMu.RLock()
	ids := make([]EntityID, 0, len(g.collections[collection]))
	for id := range g.collections[collection] {
		ids = append(ids, id)
	}
	g.colMu.RUnlock()

	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e, err := g.GetEntity(id); err == nil {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns the entities one edge away from id in the requested
// direction, restricted to edgeType when non-empty.
func (g *MemoryGraph) Neighbors(id EntityID, edgeType string, dir Direction) []Neighbor {
	type hop struct {
		edge     EdgeID
		outgoing bool
	}

	s := g.entityShard(id)
	s.mu.RLock()
	hops := make([]hop, 0)
	if dir == DirectionOut || dir == DirectionBoth {
		for eid := range s.outgoing[id] {
			hops = append(hops, hop{edge: eid, outgoing: true})
		}
	}
	if dir == DirectionIn || dir == DirectionBoth {
		for eid := range s.incoming[id] {
			hops = append(hops, hop{edge: eid})
		}
	}
	s.mu.RUnlock()

	out := make([]Neighbor, 0, len(hops))
	for _, h := range hops {
		es := g.edgeShard(h.edge)
		es.mu.RLock()
		e := es.edges[h.edge]
		es.mu.RUnlock()
		if e == nil {
			continue
		}
		if edgeType != "" && e.Type != edgeType {
			continue
		}
		other := e.From
		if h.outgoing {
			other = e.To
		}
		out = append(out, Neighbor{Entity: other, Edge: h.edge})
	}
	return out
}

// ReinforceEdge strengthens the edge's pheromone trail and bumps its
// traversal count. Missing edges are ignored; reinforcement is best-effort.
func (g *MemoryGraph) ReinforceEdge(id EdgeID, amount float64) {
	es := g.edgeShard(id)
	es.mu.RLock()
	trail := es.trails[id]
	es.mu.RUnlock()
	if trail == nil {
		return
	}
	trail.pher.Reinforce(amount)
	trail.traversals.Add(1)
}

// EvaporateEdges decays every edge trail by the standard factor.
func (g *MemoryGraph) EvaporateEdges() {
	for _, es := range g.edgeShards {
		es.mu.RLock()
		trails := make([]*edgeTrail, 0, len(es.trails))
		for _, t := range es.trails {
			trails = append(trails, t)
		}
		es.mu.RUnlock()
		for _, t := range trails {
			t.pher.Evaporate(EvaporationFactor)
		}
	}
}

// CreateIndex builds an ordered index over (collection, field) from the
// current contents of the collection. Creating an existing index is a no-op.
func (g *MemoryGraph) CreateIndex(collection, field string) {
	key := indexKey(collection, field)

	g.ixMu.Lock()
	if _, exists := g.indexes[key]; exists {
		g.ixMu.Unlock()
		return
	}
	ix := newPropertyIndex()
	g.indexes[key] = ix
	g.ixMu.Unlock()

	for _, e := range g.ScanCollection(collection) {
		if v, ok := e.Properties[field]; ok {
			ix.add(v, e.ID)
		}
	}
}

// HasIndex reports whether (collection, field) is indexed.
func (g *MemoryGraph) HasIndex(collection, field string) bool {
	g.ixMu.RLock()
	_, ok := g.indexes[indexKey(collection, field)]
	g.ixMu.RUnlock()
	return ok
}

// IndexLookup resolves a range predicate through the ordered index. The
// second return is false when no index exists for (collection, field).
// Matches are re-verified against the live entity, so a racing update can
// shrink but never corrupt the result.
func (g *MemoryGraph) IndexLookup(collection, field string, rng ValueRange) ([]*Entity, bool) {
	g.ixMu.RLock()
	ix := g.indexes[indexKey(collection, field)]
	g.ixMu.RUnlock()
	if ix == nil {
		return nil, false
	}

	ids := ix.lookup(rng)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := g.GetEntity(id)
		if err != nil || e.Collection != collection {
			continue
		}
		if v, ok := e.Properties[field]; !ok || !rng.Matches(v) {
			continue
		}
		out = append(out, e)
	}
	return out, true
}

// indexEntity adds (or removes) the entity's fields to every matching index.
func (g *MemoryGraph) indexEntity(e *Entity, add bool) {
	g.ixMu.RLock()
	defer g.ixMu.RUnlock()
	for key, ix := range g.indexes {
		prefix := e.Collection + "."
		if len(key) <= len(prefix) || key[:len(prefix)] != prefix {
			continue
		}
		field := key[len(prefix):]
		v, ok := e.Properties[field]
		if !ok {
			continue
		}
		if add {
			ix.add(v, e.ID)
		} else {
			ix.remove(v, e.ID)
		}
	}
}

// Stats computes a statistics snapshot across all shards.
func (g *MemoryGraph) Stats() *Stats {
	stats := &Stats{
		Collections:  make(map[string]int64),
		AvgOutDegree: make(map[string]float64),
		Selectivity:  make(map[string]float64),
	}

	g.colMu.RLock()
	for name, ids := range g.collections {
		stats.Collections[name] = int64(len(ids))
		stats.EntityCount += int64(len(ids))
	}
	g.colMu.RUnlock()

	edgesByType := make(map[string]int64)
	sourcesByType := make(map[string]map[EntityID]struct{})
	var pherSum float64
	for _, es := range g.edgeShards {
		es.mu.RLock()
		for id, e := range es.edges {
			stats.EdgeCount++
			edgesByType[e.Type]++
			if sourcesByType[e.Type] == nil {
				sourcesByType[e.Type] = make(map[EntityID]struct{})
			}
			sourcesByType[e.Type][e.From] = struct{}{}
			if t := es.trails[id]; t != nil {
				pherSum += t.pher.Strength()
			}
		}
		es.mu.RUnlock()
	}
	for typ, count := range edgesByType {
		if n := len(sourcesByType[typ]); n > 0 {
			stats.AvgOutDegree[typ] = float64(count) / float64(n)
		}
	}
	if stats.EdgeCount > 0 {
		stats.AvgPheromone = pherSum / float64(stats.EdgeCount)
	}

	g.ixMu.RLock()
	for key, ix := range g.indexes {
		if d := ix.distinct(); d > 0 {
			stats.Selectivity[key] = 1.0 / float64(d)
		}
	}
	g.ixMu.RUnlock()

	return stats
}

func copyEntity(e *Entity) *Entity {
	out := &Entity{
		ID:          e.ID,
		Collection:  e.Collection,
		Properties:  make(map[string]any, len(e.Properties)),
		AccessCount: atomic.LoadUint64(&e.AccessCount),
	}
	for k, v := range e.Properties {
		out.Properties[k] = v
	}
	return out
}

func copyEdge(e *Edge) *Edge {
	out := &Edge{
		ID:         e.ID,
		From:       e.From,
		To:         e.To,
		Type:       e.Type,
		Properties: make(map[string]any, len(e.Properties)),
	}
	for k, v := range e.Properties {
		out.Properties[k] = v
	}
	return out
}

// Verify MemoryGraph implements Store.
var _ Store = (*MemoryGraph)(nil)
