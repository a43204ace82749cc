package graph

// Stats is a read-only snapshot of graph shape used by the cost model.
// It is refreshed by the store on demand; the engine never mutates it.
type Stats struct {
	EntityCount int64
	EdgeCount   int64

	// Cardinality per collection.
	Collections map[string]int64

	// Average out-degree per edge type.
	AvgOutDegree map[string]float64

	// Selectivity per "collection.field": estimated fraction of a
	// collection matched by an equality predicate on that field
	// (1/distinct-values). Missing fields fall back to DefaultSelectivity.
	Selectivity map[string]float64

	AvgPheromone float64
}

const (
	// DefaultOutDegree is assumed for edge types with no recorded edges.
	DefaultOutDegree = 2.0

	// DefaultSelectivity is assumed for fields with no statistics.
	DefaultSelectivity = 0.5
)

// CollectionCardinality returns the entity count of a collection.
func (s *Stats) CollectionCardinality(collection string) float64 {
	if s == nil || s.Collections == nil {
		return 0
	}
	return float64(s.Collections[collection])
}

// OutDegree returns the average out-degree for an edge type. An empty type
// averages across all edge types.
func (s *Stats) OutDegree(edgeType string) float64 {
	if s == nil || len(s.AvgOutDegree) == 0 {
		return DefaultOutDegree
	}
	if edgeType != "" {
		if d, ok := s.AvgOutDegree[edgeType]; ok && d > 0 {
			return d
		}
		return DefaultOutDegree
	}
	var sum float64
	for _, d := range s.AvgOutDegree {
		sum += d
	}
	return sum / float64(len(s.AvgOutDegree))
}

// FieldSelectivity returns the equality selectivity estimate for a field.
func (s *Stats) FieldSelectivity(collection, field string) float64 {
	if s == nil || s.Selectivity == nil {
		return DefaultSelectivity
	}
	if sel, ok := s.Selectivity[collection+"."+field]; ok && sel > 0 {
		return sel
	}
	return DefaultSelectivity
}
