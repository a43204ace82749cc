package engine

import "github.com/deeddb/deed/pkg/graph"

// Result is the outcome of executing one statement. Reads fill Columns and
// Rows; writes fill RowsAffected, with inserts also reporting the
// generated ids.
type Result struct {
	Columns      []string
	Rows         [][]any
	RowsAffected int64
	InsertedIDs  []graph.EntityID

	// Planning metadata, filled by the engine.
	Cached        bool
	EstimatedCost float64
	PlanText      string
}

// IsEmpty reports whether the result carries no rows and touched nothing.
func (r *Result) IsEmpty() bool {
	return len(r.Rows) == 0 && r.RowsAffected == 0
}
