package engine

import (
	"fmt"
	"strings"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
	"github.com/deeddb/deed/pkg/plan"
)

// accumulator folds one aggregate over the rows of a group. Null arguments
// are skipped; COUNT(*) counts rows regardless.
type accumulator struct {
	fn    dql.AggFunc
	count int64
	sumI  int64
	sumF  float64
	isInt bool
	min   any
	max   any
	seen  bool
}

func newAccumulator(fn dql.AggFunc) *accumulator {
	return &accumulator{fn: fn, isInt: true}
}

func (a *accumulator) add(v any) error {
	if v == nil {
		return nil
	}
	a.count++
	switch a.fn {
	case dql.AggCount:
		return nil
	case dql.AggSum, dql.AggAvg:
		switch n := v.(type) {
		case int64:
			a.sumI += n
			a.sumF += float64(n)
		case float64:
			a.isInt = false
			a.sumF += n
		default:
			return execErrf("%s over %s", a.fn, typeName(v))
		}
		return nil
	case dql.AggMin, dql.AggMax:
		if !a.seen {
			a.min, a.max = v, v
			a.seen = true
			return nil
		}
		cmp, ok := graph.CompareValues(v, a.min)
		if !ok {
			return execErrf("%s over mixed types", a.fn)
		}
		if cmp < 0 {
			a.min = v
		}
		if cmp, _ = graph.CompareValues(v, a.max); cmp > 0 {
			a.max = v
		}
		return nil
	}
	return execErrf("unsupported aggregate %s", a.fn)
}

// value returns the final aggregate. Empty groups yield 0 for COUNT and
// null for the rest.
func (a *accumulator) value() any {
	switch a.fn {
	case dql.AggCount:
		return a.count
	case dql.AggSum:
		if a.count == 0 {
			return nil
		}
		if a.isInt {
			return a.sumI
		}
		return a.sumF
	case dql.AggAvg:
		if a.count == 0 {
			return nil
		}
		return a.sumF / float64(a.count)
	case dql.AggMin:
		return a.min
	case dql.AggMax:
		return a.max
	}
	return nil
}

// aggGroup is one group under construction: its key values, a
// representative row for evaluating group keys, and one accumulator per
// distinct aggregate expression.
type aggGroup struct {
	first binding
	rows  int64
	accs  map[string]*accumulator
}

// runAggregate folds binding rows into grouped column rows. Groups emerge
// in first-seen order so results are deterministic for a given input order.
func (ex *Executor) runAggregate(op *plan.Aggregate, rows []binding) ([]string, [][]any, error) {
	aggs := collectAggregates(op)

	groups := make(map[string]*aggGroup)
	var order []string
	for _, row := range rows {
		key, err := groupKey(op.GroupBy, row)
		if err != nil {
			return nil, nil, err
		}
		g, ok := groups[key]
		if !ok {
			g = &aggGroup{first: row, accs: make(map[string]*accumulator, len(aggs))}
			for name, agg := range aggs {
				g.accs[name] = newAccumulator(agg.Func)
			}
			groups[key] = g
			order = append(order, key)
		}
		g.rows++
		for name, agg := range aggs {
			if agg.Arg == nil {
				g.accs[name].count++
				continue
			}
			v, err := evalExpr(agg.Arg, row)
			if err != nil {
				return nil, nil, err
			}
			if err := g.accs[name].add(v); err != nil {
				return nil, nil, err
			}
		}
	}

	// A global aggregate over zero rows still produces one group.
	if len(op.GroupBy) == 0 && len(groups) == 0 {
		g := &aggGroup{first: binding{}, accs: make(map[string]*accumulator, len(aggs))}
		for name, agg := range aggs {
			g.accs[name] = newAccumulator(agg.Func)
		}
		groups[""] = g
		order = append(order, "")
	}

	columns := make([]string, len(op.Fields))
	for i, f := range op.Fields {
		columns[i] = plan.OutputName(f)
	}

	out := make([][]any, 0, len(groups))
	for _, key := range order {
		g := groups[key]

		if op.Having != nil {
			keep, err := evalGroupBool(op.Having, g)
			if err != nil {
				return nil, nil, err
			}
			if !keep {
				continue
			}
		}

		row := make([]any, len(op.Fields))
		for i, f := range op.Fields {
			v, err := evalGroupExpr(f.Expr, g)
			if err != nil {
				return nil, nil, err
			}
			row[i] = v
		}
		out = append(out, row)
	}
	return columns, out, nil
}

// collectAggregates gathers the distinct aggregate expressions appearing
// in the output fields and the HAVING clause, keyed by canonical text.
func collectAggregates(op *plan.Aggregate) map[string]*dql.Aggregate {
	aggs := make(map[string]*dql.Aggregate)
	var walk func(e dql.Expr)
	walk = func(e dql.Expr) {
		switch x := e.(type) {
		case *dql.Aggregate:
			aggs[x.String()] = x
		case *dql.BinaryExpr:
			walk(x.Left)
			walk(x.Right)
		case *dql.UnaryExpr:
			walk(x.Operand)
		}
	}
	for _, f := range op.Fields {
		walk(f.Expr)
	}
	if op.Having != nil {
		walk(op.Having)
	}
	return aggs
}

// groupKey renders the group-by values of one row into a canonical string.
func groupKey(keys []dql.Expr, row binding) (string, error) {
	if len(keys) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, k := range keys {
		v, err := evalExpr(k, row)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&sb, "%T:%v\x00", v, v)
	}
	return sb.String(), nil
}

// evalGroupExpr evaluates an output expression for one group: aggregate
// nodes read their accumulator, everything else evaluates against the
// group's representative row.
func evalGroupExpr(expr dql.Expr, g *aggGroup) (any, error) {
	switch e := expr.(type) {
	case *dql.Aggregate:
		acc, ok := g.accs[e.String()]
		if !ok {
			return nil, execErrf("aggregate %s was not accumulated", e)
		}
		return acc.value(), nil
	case *dql.BinaryExpr:
		if !hasAggregateExpr(e) {
			return evalExpr(e, g.first)
		}
		left, err := evalGroupExpr(e.Left, g)
		if err != nil {
			return nil, err
		}
		right, err := evalGroupExpr(e.Right, g)
		if err != nil {
			return nil, err
		}
		if e.Op.IsComparison() {
			return compare(e.Op, left, right)
		}
		switch e.Op {
		case dql.OpAnd, dql.OpOr:
			lb, lok := left.(bool)
			rb, rok := right.(bool)
			if !lok || !rok {
				return nil, execErrf("boolean operator over non-boolean group values")
			}
			if e.Op == dql.OpAnd {
				return lb && rb, nil
			}
			return lb || rb, nil
		}
		return arithmetic(e.Op, left, right)
	case *dql.UnaryExpr:
		if !hasAggregateExpr(e) {
			return evalExpr(e, g.first)
		}
		v, err := evalGroupExpr(e.Operand, g)
		if err != nil {
			return nil, err
		}
		if e.Op == dql.OpNot {
			b, ok := v.(bool)
			if !ok {
				return nil, execErrf("NOT applied to %s", typeName(v))
			}
			return !b, nil
		}
		f, ok := asNumber(v)
		if !ok {
			return nil, execErrf("negation applied to %s", typeName(v))
		}
		return -f, nil
	default:
		return evalExpr(expr, g.first)
	}
}

func evalGroupBool(expr dql.Expr, g *aggGroup) (bool, error) {
	v, err := evalGroupExpr(expr, g)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, execErrf("HAVING evaluated to %s, want boolean", typeName(v))
	}
	return b, nil
}

func hasAggregateExpr(expr dql.Expr) bool {
	switch e := expr.(type) {
	case *dql.Aggregate:
		return true
	case *dql.BinaryExpr:
		return hasAggregateExpr(e.Left) || hasAggregateExpr(e.Right)
	case *dql.UnaryExpr:
		return hasAggregateExpr(e.Operand)
	default:
		return false
	}
}
