// Package plan defines the physical plan IR, its cost model, and the
// lowering from parsed statements to naive plans.
//
// A plan is a linear pipeline of operators executed left to right. Each
// operator consumes the rows of its predecessor; the cost model folds over
// the pipeline the same way, propagating an estimated cardinality.
package plan

import (
	"fmt"
	"math"
	"strings"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
)

// Op is one operator in a plan pipeline. The set of implementations is
// closed; the executor and optimizer switch exhaustively over it.
type Op interface {
	fmt.Stringer
	op()
}

func (*Scan) op()           {}
func (*IndexLookup) op()    {}
func (*Traverse) op()       {}
func (*Filter) op()         {}
func (*Project) op()        {}
func (*Aggregate) op()      {}
func (*Sort) op()           {}
func (*Limit) op()          {}
func (*InsertEntities) op() {}
func (*UpdateEntities) op() {}
func (*DeleteEntities) op() {}
func (*CreateEdge) op()     {}

// Scan reads every entity of a collection and binds each to Alias.
type Scan struct {
	Collection string
	Alias      string
}

func (s *Scan) String() string {
	return fmt.Sprintf("Scan(%s AS %s)", s.Collection, s.Alias)
}

// IndexLookup reads the entities of a collection whose Field falls inside
// Range, using an ordered property index instead of a full scan.
type IndexLookup struct {
	Collection string
	Alias      string
	Field      string
	Range      graph.ValueRange
}

func (ix *IndexLookup) String() string {
	return fmt.Sprintf("IndexLookup(%s.%s %s AS %s)", ix.Collection, ix.Field, formatRange(ix.Range), ix.Alias)
}

func formatRange(rng graph.ValueRange) string {
	if rng.Lower != nil && rng.Upper != nil &&
		rng.Lower.Inclusive && rng.Upper.Inclusive &&
		graph.ValuesEqual(rng.Lower.Value, rng.Upper.Value) {
		return fmt.Sprintf("= %v", rng.Lower.Value)
	}
	var sb strings.Builder
	if rng.Lower != nil {
		if rng.Lower.Inclusive {
			fmt.Fprintf(&sb, ">= %v", rng.Lower.Value)
		} else {
			fmt.Fprintf(&sb, "> %v", rng.Lower.Value)
		}
	}
	if rng.Upper != nil {
		if sb.Len() > 0 {
			sb.WriteString(" ")
		}
		if rng.Upper.Inclusive {
			fmt.Fprintf(&sb, "<= %v", rng.Upper.Value)
		} else {
			fmt.Fprintf(&sb, "< %v", rng.Upper.Value)
		}
	}
	if sb.Len() == 0 {
		return "any"
	}
	return sb.String()
}

// Traverse expands each row by following edges from FromAlias, binding each
// reached entity to Alias. Hops between MinHops and MaxHops are explored
// breadth first.
type Traverse struct {
	FromAlias string
	Alias     string
	EdgeType  string // empty matches any type
	Direction graph.Direction
	MinHops   int
	MaxHops   int
}

func (t *Traverse) String() string {
	hops := ""
	if t.MinHops != 1 || t.MaxHops != 1 {
		hops = fmt.Sprintf("*%d..%d", t.MinHops, t.MaxHops)
	}
	typ := t.EdgeType
	if typ == "" {
		typ = "*"
	}
	return fmt.Sprintf("Traverse(%s -[%s%s:%s]-> %s)", t.FromAlias, t.Direction, hops, typ, t.Alias)
}

// Filter keeps rows whose predicate evaluates to true.
type Filter struct {
	Predicate dql.Expr
}

func (f *Filter) String() string {
	return fmt.Sprintf("Filter(%s)", f.Predicate)
}

// Project maps each row to the selected output columns.
type Project struct {
	Fields []dql.SelectField
}

func (p *Project) String() string {
	cols := make([]string, len(p.Fields))
	for i, f := range p.Fields {
		cols[i] = f.String()
	}
	return fmt.Sprintf("Project(%s)", strings.Join(cols, ", "))
}

// Aggregate groups rows by the GroupBy keys and computes the selected
// fields per group, then filters groups through Having. With no keys the
// whole input is one group.
type Aggregate struct {
	GroupBy []dql.Expr
	Fields  []dql.SelectField
	Having  dql.Expr
}

func (a *Aggregate) String() string {
	cols := make([]string, len(a.Fields))
	for i, f := range a.Fields {
		cols[i] = f.String()
	}
	keys := make([]string, len(a.GroupBy))
	for i, k := range a.GroupBy {
		keys[i] = k.String()
	}
	s := fmt.Sprintf("Aggregate(%s", strings.Join(cols, ", "))
	if len(keys) > 0 {
		s += " BY " + strings.Join(keys, ", ")
	}
	if a.Having != nil {
		s += " HAVING " + a.Having.String()
	}
	return s + ")"
}

// Sort orders rows by the given keys.
type Sort struct {
	Keys []dql.OrderKey
}

func (s *Sort) String() string {
	keys := make([]string, len(s.Keys))
	for i, k := range s.Keys {
		keys[i] = k.String()
	}
	return fmt.Sprintf("Sort(%s)", strings.Join(keys, ", "))
}

// Limit keeps at most Count rows after skipping Offset rows. A negative
// Count means no limit.
type Limit struct {
	Count  int64
	Offset int64
}

func (l *Limit) String() string {
	if l.Count < 0 {
		return fmt.Sprintf("Limit(offset %d)", l.Offset)
	}
	if l.Offset > 0 {
		return fmt.Sprintf("Limit(%d offset %d)", l.Count, l.Offset)
	}
	return fmt.Sprintf("Limit(%d)", l.Count)
}

// InsertEntities creates one entity per row of literal properties.
type InsertEntities struct {
	Collection string
	Rows       []map[string]dql.Expr
}

func (i *InsertEntities) String() string {
	return fmt.Sprintf("Insert(%s, %d rows)", i.Collection, len(i.Rows))
}

// UpdateEntities applies the assignments to every row produced upstream.
type UpdateEntities struct {
	Alias string
	Set   []dql.Assignment
}

func (u *UpdateEntities) String() string {
	fields := make([]string, len(u.Set))
	for i, a := range u.Set {
		fields[i] = a.Field
	}
	return fmt.Sprintf("Update(%s SET %s)", u.Alias, strings.Join(fields, ", "))
}

// DeleteEntities deletes every entity bound to Alias upstream.
type DeleteEntities struct {
	Alias string
}

func (d *DeleteEntities) String() string {
	return fmt.Sprintf("Delete(%s)", d.Alias)
}

// CreateEdge creates one edge between matched endpoints.
type CreateEdge struct {
	Source dql.EndpointMatch
	Target dql.EndpointMatch
	Type   string
	Props  map[string]dql.Expr
}

func (c *CreateEdge) String() string {
	return fmt.Sprintf("CreateEdge((%s)-[:%s]->(%s))", c.Source.String(), c.Type, c.Target.String())
}

// Plan is an executable pipeline. AliasCollections records, for aliases
// bound by Scan or IndexLookup, which collection they came from; traversal
// aliases are absent because their targets are not typed.
type Plan struct {
	Ops              []Op
	AliasCollections map[string]string
}

// Clone returns a deep enough copy for the optimizer to mutate: the op
// slice and alias map are fresh, op structs are shared except where a
// transformation replaces them wholesale.
func (p *Plan) Clone() *Plan {
	next := &Plan{
		Ops:              make([]Op, len(p.Ops)),
		AliasCollections: make(map[string]string, len(p.AliasCollections)),
	}
	copy(next.Ops, p.Ops)
	for k, v := range p.AliasCollections {
		next.AliasCollections[k] = v
	}
	return next
}

func (p *Plan) String() string {
	steps := make([]string, len(p.Ops))
	for i, op := range p.Ops {
		steps[i] = op.String()
	}
	return strings.Join(steps, " -> ")
}

// Cost estimates execution cost by folding over the pipeline, propagating
// an estimated row cardinality. Lower is better; the scale is abstract.
func (p *Plan) Cost(stats *graph.Stats) float64 {
	var cost float64
	card := 1.0
	for _, op := range p.Ops {
		switch o := op.(type) {
		case *Scan:
			card = math.Max(stats.CollectionCardinality(o.Collection), 1)
			cost += card
		case *IndexLookup:
			n := math.Max(stats.CollectionCardinality(o.Collection), 1)
			sel := rangeSelectivity(stats, o.Collection, o.Field, o.Range)
			card = math.Max(n*sel, 1)
			cost += math.Log2(n+1) + card
		case *Traverse:
			fanout := math.Pow(stats.OutDegree(o.EdgeType), float64(o.MaxHops))
			card = math.Max(card*fanout, 1)
			cost += card
		case *Filter:
			cost += card
			card = math.Max(card*predicateSelectivity(stats, p.AliasCollections, o.Predicate), 1)
		case *Project:
			cost += card
		case *Aggregate:
			cost += card
			if len(o.GroupBy) > 0 {
				card = math.Max(card*0.1, 1)
			} else {
				card = 1
			}
		case *Sort:
			cost += card * math.Log2(card+1)
		case *Limit:
			if o.Count >= 0 {
				card = math.Min(card, float64(o.Count))
			}
		case *InsertEntities:
			card = float64(len(o.Rows))
			cost += card
		case *UpdateEntities, *DeleteEntities:
			cost += card
		case *CreateEdge:
			cost++
		}
	}
	return cost
}

// rangeSelectivity estimates the fraction of a collection matched by a
// range on one field. Point lookups use per-field statistics; open ranges
// assume a third of the collection.
func rangeSelectivity(stats *graph.Stats, collection, field string, rng graph.ValueRange) float64 {
	point := rng.Lower != nil && rng.Upper != nil &&
		rng.Lower.Inclusive && rng.Upper.Inclusive &&
		graph.ValuesEqual(rng.Lower.Value, rng.Upper.Value)
	if point {
		return stats.FieldSelectivity(collection, field)
	}
	return 1.0 / 3.0
}

// predicateSelectivity estimates the fraction of rows a filter keeps.
// Equality on a known collection's field uses field statistics, other
// comparisons assume a third, AND multiplies, OR saturates by addition.
func predicateSelectivity(stats *graph.Stats, aliases map[string]string, expr dql.Expr) float64 {
	switch e := expr.(type) {
	case *dql.BinaryExpr:
		switch e.Op {
		case dql.OpAnd:
			return predicateSelectivity(stats, aliases, e.Left) * predicateSelectivity(stats, aliases, e.Right)
		case dql.OpOr:
			s := predicateSelectivity(stats, aliases, e.Left) + predicateSelectivity(stats, aliases, e.Right)
			return math.Min(s, 1)
		case dql.OpEq:
			if ref, ok := e.Left.(*dql.FieldRef); ok {
				if col, ok := aliases[ref.Alias]; ok {
					return stats.FieldSelectivity(col, ref.Field)
				}
			}
			return graph.DefaultSelectivity
		case dql.OpNeq:
			return 1 - graph.DefaultSelectivity/2
		case dql.OpLt, dql.OpLte, dql.OpGt, dql.OpGte:
			return 1.0 / 3.0
		}
	case *dql.UnaryExpr:
		if e.Op == dql.OpNot {
			return 1 - predicateSelectivity(stats, aliases, e.Operand)
		}
	}
	return graph.DefaultSelectivity
}
