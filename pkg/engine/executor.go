// Package engine executes plans against a graph store and ties the front
// end, optimizer, and stigmergy cache together behind one Execute call.
package engine

import (
	"context"
	"sort"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
	"github.com/deeddb/deed/pkg/plan"
)

// Executor runs plan pipelines against a store.
type Executor struct {
	store graph.Store
}

// NewExecutor returns an executor bound to a store.
func NewExecutor(store graph.Store) *Executor {
	return &Executor{store: store}
}

// rowset is the executor's working state: binding rows before projection,
// column rows after. Exactly one of the two shapes is active.
type rowset struct {
	bindings []binding
	columns  []string
	rows     [][]any
	tabular  bool
}

// Run executes a plan. The context is checked between operators and inside
// the row loops of the expensive ones.
func (ex *Executor) Run(ctx context.Context, p *plan.Plan) (*Result, error) {
	rs := &rowset{}
	result := &Result{}

	for _, op := range p.Ops {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		switch o := op.(type) {
		case *plan.Scan:
			err = ex.runScan(o, rs)
		case *plan.IndexLookup:
			err = ex.runIndexLookup(o, rs)
		case *plan.Traverse:
			err = ex.runTraverse(ctx, o, rs)
		case *plan.Filter:
			err = ex.runFilter(o, rs)
		case *plan.Sort:
			err = ex.runSort(o, rs)
		case *plan.Limit:
			runLimit(o, rs)
		case *plan.Project:
			err = ex.runProject(o, rs)
		case *plan.Aggregate:
			rs.columns, rs.rows, err = ex.runAggregate(o, rs.bindings)
			rs.bindings = nil
			rs.tabular = true
		case *plan.InsertEntities:
			err = ex.runInsert(o, result)
		case *plan.UpdateEntities:
			err = ex.runUpdate(o, rs, result)
		case *plan.DeleteEntities:
			err = ex.runDelete(o, rs, result)
		case *plan.CreateEdge:
			err = ex.runCreateEdge(o, result)
		default:
			err = execErrf("unsupported operator %T", op)
		}
		if err != nil {
			return nil, err
		}
	}

	if rs.tabular {
		result.Columns = rs.columns
		result.Rows = rs.rows
	}
	return result, nil
}

func (ex *Executor) runScan(op *plan.Scan, rs *rowset) error {
	entities := ex.store.ScanCollection(op.Collection)
	rs.bindings = make([]binding, len(entities))
	for i, e := range entities {
		rs.bindings[i] = binding{op.Alias: e}
	}
	return nil
}

func (ex *Executor) runIndexLookup(op *plan.IndexLookup, rs *rowset) error {
	entities, ok := ex.store.IndexLookup(op.Collection, op.Field, op.Range)
	if !ok {
		// The index vanished between planning and execution. Degrade to
		// a scan with the same predicate rather than failing the query.
		entities = nil
		for _, e := range ex.store.ScanCollection(op.Collection) {
			if v, has := e.Properties[op.Field]; has && op.Range.Matches(v) {
				entities = append(entities, e)
			}
		}
	}
	rs.bindings = make([]binding, len(entities))
	for i, e := range entities {
		rs.bindings[i] = binding{op.Alias: e}
	}
	return nil
}

// runTraverse expands every row through a breadth-first walk. Each row's
// start entity gets its own visited set, so one row cannot hide another
// row's targets; within a row, an entity reached at two depths counts once.
// Edges walked for the first time are reinforced once the row's expansion
// finishes, depositing 1/(1+links examined): cheap traversals lay stronger
// trails than expensive ones.
func (ex *Executor) runTraverse(ctx context.Context, op *plan.Traverse, rs *rowset) error {
	var out []binding
	for _, row := range rs.bindings {
		if err := ctx.Err(); err != nil {
			return err
		}
		start, ok := row[op.FromAlias]
		if !ok {
			return execErrf("traversal source %q is not bound", op.FromAlias)
		}

		var walked []graph.EdgeID
		examined := 0
		visited := map[graph.EntityID]bool{start.ID: true}
		frontier := []graph.EntityID{start.ID}
		for depth := 1; depth <= op.MaxHops && len(frontier) > 0; depth++ {
			var next []graph.EntityID
			for _, id := range frontier {
				neighbors := ex.store.Neighbors(id, op.EdgeType, op.Direction)
				examined += len(neighbors)
				for _, nb := range neighbors {
					if visited[nb.Entity] {
						continue
					}
					visited[nb.Entity] = true
					walked = append(walked, nb.Edge)
					next = append(next, nb.Entity)

					if depth < op.MinHops {
						continue
					}
					target, err := ex.store.GetEntity(nb.Entity)
					if err != nil {
						continue
					}
					expanded := make(binding, len(row)+1)
					for k, v := range row {
						expanded[k] = v
					}
					expanded[op.Alias] = target
					out = append(out, expanded)
				}
			}
			frontier = next
		}

		deposit := 1.0 / (1.0 + float64(examined))
		for _, id := range walked {
			ex.store.ReinforceEdge(id, deposit)
		}
	}
	rs.bindings = out
	return nil
}

func (ex *Executor) runFilter(op *plan.Filter, rs *rowset) error {
	if rs.tabular {
		return execErrf("filter over projected rows")
	}
	kept := rs.bindings[:0]
	for _, row := range rs.bindings {
		keep, err := evalBool(op.Predicate, row)
		if err != nil {
			return err
		}
		if keep {
			kept = append(kept, row)
		}
	}
	rs.bindings = kept
	return nil
}

func (ex *Executor) runSort(op *plan.Sort, rs *rowset) error {
	if rs.tabular {
		return ex.sortTabular(op, rs)
	}

	keys := make([][]any, len(rs.bindings))
	for i, row := range rs.bindings {
		keys[i] = make([]any, len(op.Keys))
		for j, k := range op.Keys {
			v, err := evalExpr(k.Expr, row)
			if err != nil {
				return err
			}
			keys[i][j] = v
		}
	}

	idx := make([]int, len(rs.bindings))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return lessKeys(keys[idx[a]], keys[idx[b]], op.Keys)
	})

	sorted := make([]binding, len(rs.bindings))
	for i, j := range idx {
		sorted[i] = rs.bindings[j]
	}
	rs.bindings = sorted
	return nil
}

// sortTabular sorts projected or aggregated rows. Keys resolve by output
// column name: an AS alias, or the canonical text of the selected
// expression.
func (ex *Executor) sortTabular(op *plan.Sort, rs *rowset) error {
	cols := make([]int, len(op.Keys))
	for j, k := range op.Keys {
		name := k.Expr.String()
		if ref, ok := k.Expr.(*dql.FieldRef); ok && ref.Alias == "" {
			name = ref.Field
		}
		pos := -1
		for i, c := range rs.columns {
			if c == name {
				pos = i
				break
			}
		}
		if pos < 0 {
			return execErrf("ORDER BY key %s is not an output column", k.Expr)
		}
		cols[j] = pos
	}

	sort.SliceStable(rs.rows, func(a, b int) bool {
		for j, pos := range cols {
			cmp := orderValues(rs.rows[a][pos], rs.rows[b][pos])
			if cmp == 0 {
				continue
			}
			if op.Keys[j].Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
	return nil
}

// lessKeys orders two key tuples honoring per-key direction. Nulls sort
// first ascending; mismatched types fall back to the stable type order.
func lessKeys(a, b []any, keys []dql.OrderKey) bool {
	for j := range keys {
		cmp := orderValues(a[j], b[j])
		if cmp == 0 {
			continue
		}
		if keys[j].Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

func orderValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	cmp, _ := graph.CompareValues(a, b)
	return cmp
}

func runLimit(op *plan.Limit, rs *rowset) {
	if rs.tabular {
		rs.rows = sliceWindow(rs.rows, op.Offset, op.Count)
		return
	}
	rs.bindings = sliceWindow(rs.bindings, op.Offset, op.Count)
}

func sliceWindow[T any](rows []T, offset, count int64) []T {
	if offset >= int64(len(rows)) {
		return nil
	}
	rows = rows[offset:]
	if count >= 0 && count < int64(len(rows)) {
		rows = rows[:count]
	}
	return rows
}

func (ex *Executor) runProject(op *plan.Project, rs *rowset) error {
	if rs.tabular {
		return execErrf("projection over projected rows")
	}
	columns := make([]string, len(op.Fields))
	for i, f := range op.Fields {
		columns[i] = plan.OutputName(f)
	}
	rows := make([][]any, len(rs.bindings))
	for i, row := range rs.bindings {
		out := make([]any, len(op.Fields))
		for j, f := range op.Fields {
			v, err := evalExpr(f.Expr, row)
			if err != nil {
				return err
			}
			out[j] = v
		}
		rows[i] = out
	}
	rs.bindings = nil
	rs.columns = columns
	rs.rows = rows
	rs.tabular = true
	return nil
}

func (ex *Executor) runInsert(op *plan.InsertEntities, result *Result) error {
	result.Columns = []string{"id"}
	for _, row := range op.Rows {
		props := make(map[string]any, len(row))
		for field, expr := range row {
			v, err := evalExpr(expr, nil)
			if err != nil {
				return err
			}
			props[field] = v
		}
		id, err := ex.store.InsertEntity(op.Collection, props)
		if err != nil {
			return err
		}
		result.Rows = append(result.Rows, []any{string(id)})
		result.InsertedIDs = append(result.InsertedIDs, id)
		result.RowsAffected++
	}
	return nil
}

func (ex *Executor) runUpdate(op *plan.UpdateEntities, rs *rowset, result *Result) error {
	seen := make(map[graph.EntityID]bool)
	for _, row := range rs.bindings {
		entity, ok := row[op.Alias]
		if !ok {
			return execErrf("update target %q is not bound", op.Alias)
		}
		if seen[entity.ID] {
			continue
		}
		seen[entity.ID] = true

		set := make(map[string]any, len(op.Set))
		for _, a := range op.Set {
			v, err := evalExpr(a.Value, row)
			if err != nil {
				return err
			}
			set[a.Field] = v
		}
		if err := ex.store.UpdateEntity(entity.ID, set); err != nil {
			return err
		}
		result.RowsAffected++
	}
	return nil
}

func (ex *Executor) runDelete(op *plan.DeleteEntities, rs *rowset, result *Result) error {
	seen := make(map[graph.EntityID]bool)
	for _, row := range rs.bindings {
		entity, ok := row[op.Alias]
		if !ok {
			return execErrf("delete target %q is not bound", op.Alias)
		}
		if seen[entity.ID] {
			continue
		}
		seen[entity.ID] = true
		if err := ex.store.DeleteEntity(entity.ID); err != nil {
			return err
		}
		result.RowsAffected++
	}
	return nil
}

func (ex *Executor) runCreateEdge(op *plan.CreateEdge, result *Result) error {
	sources, err := ex.resolveEndpoint(op.Source)
	if err != nil {
		return err
	}
	targets, err := ex.resolveEndpoint(op.Target)
	if err != nil {
		return err
	}

	props := make(map[string]any, len(op.Props))
	for field, expr := range op.Props {
		v, err := evalExpr(expr, nil)
		if err != nil {
			return err
		}
		props[field] = v
	}

	result.Columns = []string{"edge_id"}
	for _, src := range sources {
		for _, dst := range targets {
			id, err := ex.store.CreateEdge(src, dst, op.Type, props)
			if err != nil {
				return err
			}
			result.Rows = append(result.Rows, []any{string(id)})
			result.RowsAffected++
		}
	}
	return nil
}

// resolveEndpoint finds the entities an edge endpoint refers to, either a
// single id or every entity matching a field equality. Matching uses the
// index when one exists.
func (ex *Executor) resolveEndpoint(m dql.EndpointMatch) ([]graph.EntityID, error) {
	if m.ID != "" {
		if _, err := ex.store.GetEntity(graph.EntityID(m.ID)); err != nil {
			return nil, err
		}
		return []graph.EntityID{graph.EntityID(m.ID)}, nil
	}

	value, err := evalExpr(m.Value, nil)
	if err != nil {
		return nil, err
	}

	var matched []graph.EntityID
	if entities, ok := ex.store.IndexLookup(m.Collection, m.Field, graph.Equality(value)); ok {
		for _, e := range entities {
			matched = append(matched, e.ID)
		}
	} else {
		for _, e := range ex.store.ScanCollection(m.Collection) {
			if graph.ValuesEqual(e.Properties[m.Field], value) {
				matched = append(matched, e.ID)
			}
		}
	}
	if len(matched) == 0 {
		return nil, execErrf("no %s entity matches %s = %v", m.Collection, m.Field, value)
	}
	return matched, nil
}
