package plan

import (
	"fmt"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
)

// PlanError reports a statement that parsed but cannot be lowered, such as
// a reference to an unbound alias.
type PlanError struct {
	Message string
}

func (e *PlanError) Error() string {
	return "plan: " + e.Message
}

func errf(format string, args ...any) *PlanError {
	return &PlanError{Message: fmt.Sprintf(format, args...)}
}

// Build lowers a parsed statement to a naive plan: scans instead of index
// lookups, filters exactly where the statement placed them. The optimizer
// improves on this; the executor can always run it as is.
func Build(stmt dql.Statement) (*Plan, error) {
	switch s := stmt.(type) {
	case *dql.Query:
		return buildQuery(s)
	case *dql.Insert:
		return buildInsert(s)
	case *dql.Update:
		return buildUpdate(s)
	case *dql.Delete:
		return buildDelete(s)
	case *dql.CreateEdge:
		return buildCreateEdge(s)
	default:
		return nil, errf("unsupported statement %T", stmt)
	}
}

func buildQuery(q *dql.Query) (*Plan, error) {
	p := &Plan{AliasCollections: map[string]string{q.Alias: q.Collection}}
	bound := map[string]bool{q.Alias: true}
	p.Ops = append(p.Ops, &Scan{Collection: q.Collection, Alias: q.Alias})

	appendFilters := func(stage int) error {
		for _, f := range q.Filters {
			if f.Stage != stage {
				continue
			}
			pred, err := normalizeExpr(f.Expr, bound, q.Alias, nil)
			if err != nil {
				return err
			}
			p.Ops = append(p.Ops, &Filter{Predicate: pred})
		}
		return nil
	}

	if err := appendFilters(0); err != nil {
		return nil, err
	}
	prev := q.Alias
	for i, step := range q.Traversals {
		if bound[step.Alias] {
			return nil, errf("alias %q bound twice", step.Alias)
		}
		bound[step.Alias] = true
		p.Ops = append(p.Ops, &Traverse{
			FromAlias: prev,
			Alias:     step.Alias,
			EdgeType:  step.EdgeType,
			Direction: traverseDirection(step.Direction),
			MinHops:   step.MinHops,
			MaxHops:   step.MaxHops,
		})
		prev = step.Alias
		if err := appendFilters(i + 1); err != nil {
			return nil, err
		}
	}

	// Output column names, for ORDER BY references to SELECT aliases.
	outputs := make(map[string]bool, len(q.Select))
	aggregated := len(q.GroupBy) > 0 || q.Having != nil
	fields := make([]dql.SelectField, 0, len(q.Select))
	for _, f := range q.Select {
		expr, err := normalizeExpr(f.Expr, bound, q.Alias, nil)
		if err != nil {
			return nil, err
		}
		fields = append(fields, dql.SelectField{Expr: expr, Alias: f.Alias})
		outputs[OutputName(dql.SelectField{Expr: expr, Alias: f.Alias})] = true
		if hasAggregate(expr) {
			aggregated = true
		}
	}

	var orderKeys []dql.OrderKey
	for _, k := range q.OrderBy {
		expr, err := normalizeExpr(k.Expr, bound, q.Alias, outputs)
		if err != nil {
			return nil, err
		}
		orderKeys = append(orderKeys, dql.OrderKey{Expr: expr, Descending: k.Descending})
	}

	if aggregated {
		groupBy := make([]dql.Expr, 0, len(q.GroupBy))
		for _, e := range q.GroupBy {
			expr, err := normalizeExpr(e, bound, q.Alias, nil)
			if err != nil {
				return nil, err
			}
			groupBy = append(groupBy, expr)
		}
		for _, f := range fields {
			if !hasAggregate(f.Expr) && !exprInList(f.Expr, groupBy) {
				return nil, errf("field %s must be aggregated or appear in GROUP BY", f.Expr)
			}
		}
		var having dql.Expr
		if q.Having != nil {
			expr, err := normalizeExpr(q.Having, bound, q.Alias, nil)
			if err != nil {
				return nil, err
			}
			having = expr
		}
		p.Ops = append(p.Ops, &Aggregate{GroupBy: groupBy, Fields: fields, Having: having})
		if len(orderKeys) > 0 {
			p.Ops = append(p.Ops, &Sort{Keys: orderKeys})
		}
		if limit := buildLimit(q); limit != nil {
			p.Ops = append(p.Ops, limit)
		}
		return p, nil
	}

	// Sort and Limit run on binding rows so ORDER BY may use fields the
	// projection drops.
	if len(orderKeys) > 0 {
		p.Ops = append(p.Ops, &Sort{Keys: orderKeys})
	}
	if limit := buildLimit(q); limit != nil {
		p.Ops = append(p.Ops, limit)
	}
	p.Ops = append(p.Ops, &Project{Fields: fields})
	return p, nil
}

func buildLimit(q *dql.Query) *Limit {
	if q.Limit == nil && q.Offset == nil {
		return nil
	}
	l := &Limit{Count: -1}
	if q.Limit != nil {
		l.Count = *q.Limit
	}
	if q.Offset != nil {
		l.Offset = *q.Offset
	}
	return l
}

func buildInsert(ins *dql.Insert) (*Plan, error) {
	for _, row := range ins.Rows {
		for field, value := range row {
			if err := requireConstant(value); err != nil {
				return nil, errf("INSERT value for %q: %v", field, err)
			}
		}
	}
	return &Plan{
		Ops:              []Op{&InsertEntities{Collection: ins.Collection, Rows: ins.Rows}},
		AliasCollections: map[string]string{},
	}, nil
}

func buildUpdate(u *dql.Update) (*Plan, error) {
	p := &Plan{AliasCollections: map[string]string{u.Alias: u.Collection}}
	bound := map[string]bool{u.Alias: true}
	p.Ops = append(p.Ops, &Scan{Collection: u.Collection, Alias: u.Alias})
	if u.Where != nil {
		pred, err := normalizeExpr(u.Where, bound, u.Alias, nil)
		if err != nil {
			return nil, err
		}
		p.Ops = append(p.Ops, &Filter{Predicate: pred})
	}
	set := make([]dql.Assignment, 0, len(u.Set))
	for _, a := range u.Set {
		value, err := normalizeExpr(a.Value, bound, u.Alias, nil)
		if err != nil {
			return nil, err
		}
		if hasAggregate(value) {
			return nil, errf("SET %s: aggregates are not allowed in assignments", a.Field)
		}
		set = append(set, dql.Assignment{Field: a.Field, Value: value})
	}
	p.Ops = append(p.Ops, &UpdateEntities{Alias: u.Alias, Set: set})
	return p, nil
}

func buildDelete(d *dql.Delete) (*Plan, error) {
	p := &Plan{AliasCollections: map[string]string{d.Alias: d.Collection}}
	bound := map[string]bool{d.Alias: true}
	p.Ops = append(p.Ops, &Scan{Collection: d.Collection, Alias: d.Alias})
	if d.Where != nil {
		pred, err := normalizeExpr(d.Where, bound, d.Alias, nil)
		if err != nil {
			return nil, err
		}
		p.Ops = append(p.Ops, &Filter{Predicate: pred})
	}
	p.Ops = append(p.Ops, &DeleteEntities{Alias: d.Alias})
	return p, nil
}

func buildCreateEdge(c *dql.CreateEdge) (*Plan, error) {
	for _, m := range []dql.EndpointMatch{c.Source, c.Target} {
		if m.ID == "" && m.Value != nil {
			if err := requireConstant(m.Value); err != nil {
				return nil, errf("CREATE endpoint match: %v", err)
			}
		}
	}
	for field, value := range c.Props {
		if err := requireConstant(value); err != nil {
			return nil, errf("CREATE property %q: %v", field, err)
		}
	}
	return &Plan{
		Ops:              []Op{&CreateEdge{Source: c.Source, Target: c.Target, Type: c.Type, Props: c.Props}},
		AliasCollections: map[string]string{},
	}, nil
}

// OutputName is the column name of a projected field: the AS alias when
// present, the canonical expression text otherwise.
func OutputName(f dql.SelectField) string {
	if f.Alias != "" {
		return f.Alias
	}
	return f.Expr.String()
}

func traverseDirection(d dql.TraverseDirection) graph.Direction {
	switch d {
	case dql.TraverseIn:
		return graph.DirectionIn
	case dql.TraverseBoth:
		return graph.DirectionBoth
	default:
		return graph.DirectionOut
	}
}

// normalizeExpr rewrites bare field references to the FROM alias and
// verifies every referenced alias is bound. When outputs is non-nil, a
// bare reference matching a projected column name is kept as a column
// reference instead.
func normalizeExpr(expr dql.Expr, bound map[string]bool, fromAlias string, outputs map[string]bool) (dql.Expr, error) {
	switch e := expr.(type) {
	case *dql.Literal:
		return e, nil
	case *dql.FieldRef:
		if e.Alias == "" {
			if outputs != nil && outputs[e.Field] {
				return e, nil
			}
			return &dql.FieldRef{Alias: fromAlias, Field: e.Field}, nil
		}
		if !bound[e.Alias] {
			return nil, errf("unknown alias %q in %s", e.Alias, e)
		}
		return e, nil
	case *dql.BinaryExpr:
		left, err := normalizeExpr(e.Left, bound, fromAlias, outputs)
		if err != nil {
			return nil, err
		}
		right, err := normalizeExpr(e.Right, bound, fromAlias, outputs)
		if err != nil {
			return nil, err
		}
		return &dql.BinaryExpr{Op: e.Op, Left: left, Right: right}, nil
	case *dql.UnaryExpr:
		operand, err := normalizeExpr(e.Operand, bound, fromAlias, outputs)
		if err != nil {
			return nil, err
		}
		return &dql.UnaryExpr{Op: e.Op, Operand: operand}, nil
	case *dql.Aggregate:
		if e.Arg == nil {
			return e, nil
		}
		arg, err := normalizeExpr(e.Arg, bound, fromAlias, nil)
		if err != nil {
			return nil, err
		}
		return &dql.Aggregate{Func: e.Func, Arg: arg}, nil
	default:
		return nil, errf("unsupported expression %T", expr)
	}
}

func hasAggregate(expr dql.Expr) bool {
	switch e := expr.(type) {
	case *dql.Aggregate:
		return true
	case *dql.BinaryExpr:
		return hasAggregate(e.Left) || hasAggregate(e.Right)
	case *dql.UnaryExpr:
		return hasAggregate(e.Operand)
	default:
		return false
	}
}

func requireConstant(expr dql.Expr) error {
	switch e := expr.(type) {
	case *dql.Literal:
		return nil
	case *dql.BinaryExpr:
		if err := requireConstant(e.Left); err != nil {
			return err
		}
		return requireConstant(e.Right)
	case *dql.UnaryExpr:
		return requireConstant(e.Operand)
	default:
		return fmt.Errorf("expression %s is not constant", expr)
	}
}

func exprInList(expr dql.Expr, list []dql.Expr) bool {
	s := expr.String()
	for _, e := range list {
		if e.String() == s {
			return true
		}
	}
	return false
}
