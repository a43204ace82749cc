// Package swarm holds the adaptive layer of the engine: legal plan
// transformations, the ant colony optimizer that searches over them, and
// the stigmergy cache that remembers which transformation paths worked.
package swarm

import (
	"fmt"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
	"github.com/deeddb/deed/pkg/plan"
)

// Transformation is one semantics-preserving rewrite of a plan. Apply
// returns the rewritten plan and true, or nil and false when the
// transformation does not apply to this plan.
//
// Transformations are replayable: a recipe recorded against one plan
// applies to any later plan with the same structural signature, because
// positions and aliases line up.
type Transformation interface {
	fmt.Stringer
	Apply(p *plan.Plan, store graph.Store) (*plan.Plan, bool)
}

// IndexSubstitution replaces a full collection scan with an index lookup
// when a filter constrains an indexed field of the scanned alias with a
// constant comparison. The satisfied conjunct is removed from the filter.
type IndexSubstitution struct {
	Alias string
	Field string
}

func (t *IndexSubstitution) String() string {
	return fmt.Sprintf("use-index(%s.%s)", t.Alias, t.Field)
}

func (t *IndexSubstitution) Apply(p *plan.Plan, store graph.Store) (*plan.Plan, bool) {
	scanPos := -1
	var scan *plan.Scan
	for i, op := range p.Ops {
		if s, ok := op.(*plan.Scan); ok && s.Alias == t.Alias {
			scanPos, scan = i, s
			break
		}
	}
	if scan == nil || !store.HasIndex(scan.Collection, t.Field) {
		return nil, false
	}

	// Only filters that run directly after the scan may be absorbed;
	// anything past a traversal or shaping operator sees different rows.
	for i := scanPos + 1; i < len(p.Ops); i++ {
		f, ok := p.Ops[i].(*plan.Filter)
		if !ok {
			return nil, false
		}
		rng, rest, ok := extractRange(f.Predicate, t.Alias, t.Field)
		if !ok {
			continue
		}

		next := p.Clone()
		next.Ops[scanPos] = &plan.IndexLookup{
			Collection: scan.Collection,
			Alias:      scan.Alias,
			Field:      t.Field,
			Range:      rng,
		}
		if rest == nil {
			next.Ops = append(next.Ops[:i], next.Ops[i+1:]...)
		} else {
			next.Ops[i] = &plan.Filter{Predicate: rest}
		}
		return next, true
	}
	return nil, false
}

// extractRange pulls a constant comparison on alias.field out of a
// predicate. Only top-level conjuncts are considered; the remainder of the
// predicate is returned, nil when the conjunct was the whole predicate.
func extractRange(pred dql.Expr, alias, field string) (graph.ValueRange, dql.Expr, bool) {
	if b, ok := pred.(*dql.BinaryExpr); ok && b.Op == dql.OpAnd {
		if rng, rest, ok := extractRange(b.Left, alias, field); ok {
			if rest == nil {
				return rng, b.Right, true
			}
			return rng, &dql.BinaryExpr{Op: dql.OpAnd, Left: rest, Right: b.Right}, true
		}
		if rng, rest, ok := extractRange(b.Right, alias, field); ok {
			if rest == nil {
				return rng, b.Left, true
			}
			return rng, &dql.BinaryExpr{Op: dql.OpAnd, Left: b.Left, Right: rest}, true
		}
		return graph.ValueRange{}, nil, false
	}

	b, ok := pred.(*dql.BinaryExpr)
	if !ok || !b.Op.IsComparison() {
		return graph.ValueRange{}, nil, false
	}

	ref, refOK := b.Left.(*dql.FieldRef)
	lit, litOK := b.Right.(*dql.Literal)
	op := b.Op
	if !refOK || !litOK {
		// Allow the flipped form, mirroring the operator.
		ref, refOK = b.Right.(*dql.FieldRef)
		lit, litOK = b.Left.(*dql.Literal)
		if !refOK || !litOK {
			return graph.ValueRange{}, nil, false
		}
		op = flipComparison(op)
	}
	if ref.Alias != alias || ref.Field != field || lit.Value == nil {
		return graph.ValueRange{}, nil, false
	}

	switch op {
	case dql.OpEq:
		return graph.Equality(lit.Value), nil, true
	case dql.OpLt:
		return graph.ValueRange{Upper: &graph.Bound{Value: lit.Value}}, nil, true
	case dql.OpLte:
		return graph.ValueRange{Upper: &graph.Bound{Value: lit.Value, Inclusive: true}}, nil, true
	case dql.OpGt:
		return graph.ValueRange{Lower: &graph.Bound{Value: lit.Value}}, nil, true
	case dql.OpGte:
		return graph.ValueRange{Lower: &graph.Bound{Value: lit.Value, Inclusive: true}}, nil, true
	}
	return graph.ValueRange{}, nil, false
}

func flipComparison(op dql.BinaryOp) dql.BinaryOp {
	switch op {
	case dql.OpLt:
		return dql.OpGt
	case dql.OpLte:
		return dql.OpGte
	case dql.OpGt:
		return dql.OpLt
	case dql.OpGte:
		return dql.OpLte
	default:
		return op
	}
}

// FilterPushdown moves the filter at Pos one position earlier. Legal only
// when the preceding operator does not bind an alias the predicate reads.
type FilterPushdown struct {
	Pos int
}

func (t *FilterPushdown) String() string {
	return fmt.Sprintf("push-filter(%d)", t.Pos)
}

func (t *FilterPushdown) Apply(p *plan.Plan, _ graph.Store) (*plan.Plan, bool) {
	if t.Pos <= 1 || t.Pos >= len(p.Ops) {
		return nil, false
	}
	f, ok := p.Ops[t.Pos].(*plan.Filter)
	if !ok {
		return nil, false
	}
	switch prev := p.Ops[t.Pos-1].(type) {
	case *plan.Traverse:
		if exprReferences(f.Predicate, prev.Alias) {
			return nil, false
		}
	case *plan.Filter:
		// Swapping adjacent filters changes nothing.
		return nil, false
	default:
		return nil, false
	}

	next := p.Clone()
	next.Ops[t.Pos-1], next.Ops[t.Pos] = next.Ops[t.Pos], next.Ops[t.Pos-1]
	return next, true
}

// exprReferences reports whether any field reference in expr reads alias.
func exprReferences(expr dql.Expr, alias string) bool {
	switch e := expr.(type) {
	case *dql.FieldRef:
		return e.Alias == alias
	case *dql.BinaryExpr:
		return exprReferences(e.Left, alias) || exprReferences(e.Right, alias)
	case *dql.UnaryExpr:
		return exprReferences(e.Operand, alias)
	case *dql.Aggregate:
		return e.Arg != nil && exprReferences(e.Arg, alias)
	default:
		return false
	}
}

// ProjectionPushdown moves the projection ahead of a preceding sort when
// every sort key is resolvable from the projected columns, so the sort
// handles narrow output rows instead of full binding rows.
type ProjectionPushdown struct{}

func (t *ProjectionPushdown) String() string {
	return "push-projection"
}

func (t *ProjectionPushdown) Apply(p *plan.Plan, _ graph.Store) (*plan.Plan, bool) {
	projPos := -1
	var proj *plan.Project
	for i, op := range p.Ops {
		if pr, ok := op.(*plan.Project); ok {
			projPos, proj = i, pr
			break
		}
	}
	if proj == nil || projPos == 0 {
		return nil, false
	}

	outputs := make(map[string]bool, len(proj.Fields))
	for _, f := range proj.Fields {
		outputs[plan.OutputName(f)] = true
	}

	// Walk backwards over sort and limit; stop at anything else.
	moveTo := projPos
	for i := projPos - 1; i >= 0; i-- {
		switch op := p.Ops[i].(type) {
		case *plan.Limit:
			moveTo = i
			continue
		case *plan.Sort:
			for _, k := range op.Keys {
				if !outputs[k.Expr.String()] {
					return nil, false
				}
			}
			moveTo = i
			continue
		}
		break
	}
	if moveTo == projPos {
		return nil, false
	}

	next := p.Clone()
	copy(next.Ops[moveTo+1:projPos+1], next.Ops[moveTo:projPos])
	next.Ops[moveTo] = proj
	return next, true
}

// TraversalSwap exchanges the traversal at Pos with the one before it.
// Legal only when the two traversals are independent, meaning the later
// one does not start from the alias the earlier one binds.
type TraversalSwap struct {
	Pos int
}

func (t *TraversalSwap) String() string {
	return fmt.Sprintf("swap-traversals(%d)", t.Pos)
}

func (t *TraversalSwap) Apply(p *plan.Plan, _ graph.Store) (*plan.Plan, bool) {
	if t.Pos <= 0 || t.Pos >= len(p.Ops) {
		return nil, false
	}
	second, ok := p.Ops[t.Pos].(*plan.Traverse)
	if !ok {
		return nil, false
	}
	first, ok := p.Ops[t.Pos-1].(*plan.Traverse)
	if !ok {
		return nil, false
	}
	if second.FromAlias == first.Alias {
		return nil, false
	}

	next := p.Clone()
	next.Ops[t.Pos-1], next.Ops[t.Pos] = next.Ops[t.Pos], next.Ops[t.Pos-1]
	return next, true
}

// Candidates enumerates every transformation that could apply to the plan
// in its current shape. Applicability is re-checked by Apply; this only
// narrows the search space.
func Candidates(p *plan.Plan, store graph.Store) []Transformation {
	var out []Transformation
	seenIndex := make(map[string]bool)

	for i, op := range p.Ops {
		switch o := op.(type) {
		case *plan.Filter:
			if i > 1 {
				if _, ok := p.Ops[i-1].(*plan.Traverse); ok {
					out = append(out, &FilterPushdown{Pos: i})
				}
			}
			for _, cand := range indexCandidates(p, o.Predicate, store) {
				key := cand.Alias + "." + cand.Field
				if !seenIndex[key] {
					seenIndex[key] = true
					out = append(out, cand)
				}
			}
		case *plan.Traverse:
			if i > 0 {
				if _, ok := p.Ops[i-1].(*plan.Traverse); ok {
					out = append(out, &TraversalSwap{Pos: i})
				}
			}
		case *plan.Project:
			if i > 0 {
				out = append(out, &ProjectionPushdown{})
			}
		}
	}
	return out
}

// indexCandidates lists index substitutions suggested by one predicate.
func indexCandidates(p *plan.Plan, pred dql.Expr, store graph.Store) []*IndexSubstitution {
	var out []*IndexSubstitution
	var walk func(e dql.Expr)
	walk = func(e dql.Expr) {
		switch x := e.(type) {
		case *dql.BinaryExpr:
			if x.Op == dql.OpAnd {
				walk(x.Left)
				walk(x.Right)
				return
			}
			if !x.Op.IsComparison() {
				return
			}
			ref, ok := x.Left.(*dql.FieldRef)
			if !ok {
				ref, ok = x.Right.(*dql.FieldRef)
			}
			if !ok {
				return
			}
			col, bound := p.AliasCollections[ref.Alias]
			if bound && store.HasIndex(col, ref.Field) {
				out = append(out, &IndexSubstitution{Alias: ref.Alias, Field: ref.Field})
			}
		}
	}
	walk(pred)
	return out
}
