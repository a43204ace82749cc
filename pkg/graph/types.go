// Package graph provides the property-graph store consumed by the query
// engine: entities grouped into collections, directed typed edges carrying
// pheromone trails, ordered property indexes, and graph statistics.
//
// The engine only depends on the Store interface. MemoryGraph is the
// reference implementation: a sharded in-memory store safe for many
// concurrent readers and writers without a global lock.
package graph

import "errors"

// EntityID uniquely identifies an entity.
type EntityID string

// EdgeID uniquely identifies an edge.
type EdgeID string

// Storage errors.
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidID   = errors.New("invalid ID")
	ErrInvalidData = errors.New("invalid data")
)

// Entity is a typed property bag: one row of a collection and one vertex of
// the graph at the same time. Property values are one of string, int64,
// float64, bool, or nil.
type Entity struct {
	ID         EntityID
	Collection string
	Properties map[string]any

	// Access metadata, maintained by the store.
	AccessCount uint64
}

// Property returns the named property value, or nil if absent.
func (e *Entity) Property(key string) any {
	if e == nil || e.Properties == nil {
		return nil
	}
	return e.Properties[key]
}

// Edge is a directed, typed relationship between two entities. Every edge
// carries a pheromone scalar reinforced by successful traversals and decayed
// by evaporation.
type Edge struct {
	ID         EdgeID
	From       EntityID
	To         EntityID
	Type       string
	Properties map[string]any

	// Pheromone is a snapshot of the edge's pheromone at read time. The
	// authoritative value lives inside the store and is mutated atomically.
	Pheromone      float64
	TraversalCount uint64
}

// Direction selects which edges a neighbor lookup follows.
type Direction int

const (
	DirectionOut Direction = iota
	DirectionIn
	DirectionBoth
)

func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "outgoing"
	case DirectionIn:
		return "incoming"
	default:
		return "both"
	}
}

// Neighbor is one hop of a traversal: the entity reached and the edge used.
type Neighbor struct {
	Entity EntityID
	Edge   EdgeID
}

// Bound is one end of a value range.
type Bound struct {
	Value     any
	Inclusive bool
}

// ValueRange describes an equality or range predicate for an index lookup.
// A nil Lower or Upper leaves that side unbounded. Equality is expressed as
// identical inclusive bounds on both sides.
type ValueRange struct {
	Lower *Bound
	Upper *Bound
}

// Equality builds the range matching exactly v.
func Equality(v any) ValueRange {
	b := Bound{Value: v, Inclusive: true}
	return ValueRange{Lower: &b, Upper: &b}
}

// Store is the graph-store contract the query engine executes against.
// Implementations must be safe for concurrent use; pheromone updates are
// heuristic and may race (a lost update degrades optimization quality only).
type Store interface {
	// Reads.
	ScanCollection(collection string) []*Entity
	GetEntity(id EntityID) (*Entity, error)
	GetEdge(id EdgeID) (*Edge, error)
	IndexLookup(collection, field string, rng ValueRange) ([]*Entity, bool)
	HasIndex(collection, field string) bool
	Neighbors(id EntityID, edgeType string, dir Direction) []Neighbor

	// Mutations.
	InsertEntity(collection string, props map[string]any) (EntityID, error)
	UpdateEntity(id EntityID, set map[string]any) error
	DeleteEntity(id EntityID) error
	CreateEdge(from, to EntityID, edgeType string, props map[string]any) (EdgeID, error)

	// Pheromone side channel.
	ReinforceEdge(id EdgeID, amount float64)
	EvaporateEdges()

	// Statistics for the cost model.
	Stats() *Stats
}
