package dql

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Statement is any parsed DQL statement.
type Statement interface {
	fmt.Stringer
	stmt()
}

func (*Query) stmt()      {}
func (*Insert) stmt()     {}
func (*Update) stmt()     {}
func (*Delete) stmt()     {}
func (*CreateEdge) stmt() {}

// Expr is any expression node. String renders the canonical form, which
// re-parses to a structurally equal expression.
type Expr interface {
	fmt.Stringer
	expr()
}

func (*Literal) expr()    {}
func (*FieldRef) expr()   {}
func (*BinaryExpr) expr() {}
func (*UnaryExpr) expr()  {}
func (*Aggregate) expr()  {}

// BinaryOp is a binary operator in an expression.
type BinaryOp int

const (
	OpEq BinaryOp = iota
	OpNeq
	OpLt
	OpLte
	OpGt
	OpGte
	OpAnd
	OpOr
	OpAdd
	OpSub
	OpMul
	OpDiv
)

var binaryOpNames = map[BinaryOp]string{
	OpEq:  "=",
	OpNeq: "!=",
	OpLt:  "<",
	OpLte: "<=",
	OpGt:  ">",
	OpGte: ">=",
	OpAnd: "AND",
	OpOr:  "OR",
	OpAdd: "+",
	OpSub: "-",
	OpMul: "*",
	OpDiv: "/",
}

func (op BinaryOp) String() string { return binaryOpNames[op] }

// IsComparison reports whether the operator yields a boolean from two
// comparable operands.
func (op BinaryOp) IsComparison() bool {
	switch op {
	case OpEq, OpNeq, OpLt, OpLte, OpGt, OpGte:
		return true
	}
	return false
}

// UnaryOp is a prefix operator.
type UnaryOp int

const (
	OpNot UnaryOp = iota
	OpNeg
)

// AggFunc names an aggregate function.
type AggFunc int

const (
	AggCount AggFunc = iota
	AggSum
	AggAvg
	AggMin
	AggMax
)

var aggFuncNames = map[AggFunc]string{
	AggCount: "COUNT",
	AggSum:   "SUM",
	AggAvg:   "AVG",
	AggMin:   "MIN",
	AggMax:   "MAX",
}

func (f AggFunc) String() string { return aggFuncNames[f] }

// Literal is a constant value: string, int64, float64, bool, or nil.
type Literal struct {
	Value any
}

func (l *Literal) String() string {
	switch v := l.Value.(type) {
	case nil:
		return "NULL"
	case string:
		return "'" + strings.ReplaceAll(v, "'", `\'`) + "'"
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	default:
		return fmt.Sprintf("%v", v)
	}
}

// FieldRef references a property of a bound alias. Alias is empty for bare
// references, which bind to the FROM alias during planning.
type FieldRef struct {
	Alias string
	Field string
}

func (f *FieldRef) String() string {
	if f.Alias == "" {
		return f.Field
	}
	return f.Alias + "." + f.Field
}

// BinaryExpr applies a binary operator to two operands.
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
}

func (b *BinaryExpr) String() string {
	return "(" + b.Left.String() + " " + b.Op.String() + " " + b.Right.String() + ")"
}

// UnaryExpr applies NOT or arithmetic negation to an operand.
type UnaryExpr struct {
	Op      UnaryOp
	Operand Expr
}

func (u *UnaryExpr) String() string {
	if u.Op == OpNot {
		return "(NOT " + u.Operand.String() + ")"
	}
	return "(-" + u.Operand.String() + ")"
}

// Aggregate is an aggregate function call. A nil Arg means COUNT(*).
type Aggregate struct {
	Func AggFunc
	Arg  Expr
}

func (a *Aggregate) String() string {
	if a.Arg == nil {
		return a.Func.String() + "(*)"
	}
	return a.Func.String() + "(" + a.Arg.String() + ")"
}

// TraverseDirection is the direction of a traversal step.
type TraverseDirection int

const (
	TraverseOut TraverseDirection = iota
	TraverseIn
	TraverseBoth
)

// TraversalStep is one -[:TYPE*min..max]-> hop pattern binding a new alias.
type TraversalStep struct {
	Direction TraverseDirection
	EdgeType  string // empty matches any edge type
	MinHops   int
	MaxHops   int
	Alias     string
}

func (t *TraversalStep) String() string {
	var sb strings.Builder
	sb.WriteString("TRAVERSE ")
	if t.Direction == TraverseOut {
		sb.WriteString("-")
	} else {
		sb.WriteString("<-")
	}
	sb.WriteString("[")
	if t.EdgeType != "" {
		sb.WriteString(":")
		sb.WriteString(t.EdgeType)
	}
	if t.MinHops != 1 || t.MaxHops != 1 {
		fmt.Fprintf(&sb, "*%d..%d", t.MinHops, t.MaxHops)
	}
	sb.WriteString("]")
	if t.Direction == TraverseIn {
		sb.WriteString("-")
	} else {
		sb.WriteString("->")
	}
	sb.WriteString(" ")
	sb.WriteString(t.Alias)
	return sb.String()
}

// SelectField is one projected output column.
type SelectField struct {
	Expr  Expr
	Alias string // AS name, empty when unnamed
}

func (s *SelectField) String() string {
	if s.Alias == "" {
		return s.Expr.String()
	}
	return s.Expr.String() + " AS " + s.Alias
}

// OrderKey is one ORDER BY key.
type OrderKey struct {
	Expr       Expr
	Descending bool
}

func (o *OrderKey) String() string {
	if o.Descending {
		return o.Expr.String() + " DESC"
	}
	return o.Expr.String() + " ASC"
}

// Query is a read statement: FROM, optional traversals and filters,
// projection, and optional grouping, ordering, and pagination.
type Query struct {
	Collection string
	Alias      string // defaults to Collection when omitted
	Traversals []TraversalStep
	Filters    []QueryFilter
	Select     []SelectField
	GroupBy    []Expr
	Having     Expr
	OrderBy    []OrderKey
	Limit      *int64
	Offset     *int64
}

// QueryFilter is a WHERE clause in source order, tagged with how many
// traversal steps preceded it. Stage 0 filters apply to the FROM binding
// alone; stage n filters see the aliases bound by the first n traversals.
type QueryFilter struct {
	Stage int
	Expr  Expr
}

func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString("FROM ")
	sb.WriteString(q.Collection)
	if q.Alias != "" && q.Alias != q.Collection {
		sb.WriteString(" ")
		sb.WriteString(q.Alias)
	}

	stage := 0
	writeFilters := func() {
		for _, f := range q.Filters {
			if f.Stage == stage {
				sb.WriteString(" WHERE ")
				sb.WriteString(f.Expr.String())
			}
		}
	}
	writeFilters()
	for _, t := range q.Traversals {
		sb.WriteString(" ")
		sb.WriteString(t.String())
		stage++
		writeFilters()
	}

	sb.WriteString(" SELECT ")
	for i, f := range q.Select {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	if len(q.GroupBy) > 0 {
		sb.WriteString(" GROUP BY ")
		for i, e := range q.GroupBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(e.String())
		}
	}
	if q.Having != nil {
		sb.WriteString(" HAVING ")
		sb.WriteString(q.Having.String())
	}
	if len(q.OrderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		for i, k := range q.OrderBy {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k.String())
		}
	}
	if q.Limit != nil {
		fmt.Fprintf(&sb, " LIMIT %d", *q.Limit)
	}
	if q.Offset != nil {
		fmt.Fprintf(&sb, " OFFSET %d", *q.Offset)
	}
	return sb.String()
}

// Insert is INSERT INTO collection VALUES ({...}, ...).
type Insert struct {
	Collection string
	Rows       []map[string]Expr
}

func (ins *Insert) String() string {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(ins.Collection)
	sb.WriteString(" VALUES (")
	for i, row := range ins.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		writeProps(&sb, row)
	}
	sb.WriteString(")")
	return sb.String()
}

// Update is UPDATE collection SET k = expr, ... [WHERE expr].
type Update struct {
	Collection string
	Alias      string
	Set        []Assignment
	Where      Expr
}

// Assignment is one SET item, in source order.
type Assignment struct {
	Field string
	Value Expr
}

func (u *Update) String() string {
	var sb strings.Builder
	sb.WriteString("UPDATE ")
	sb.WriteString(u.Collection)
	if u.Alias != "" && u.Alias != u.Collection {
		sb.WriteString(" ")
		sb.WriteString(u.Alias)
	}
	sb.WriteString(" SET ")
	for i, a := range u.Set {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Field)
		sb.WriteString(" = ")
		sb.WriteString(a.Value.String())
	}
	if u.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(u.Where.String())
	}
	return sb.String()
}

// Delete is DELETE FROM collection [WHERE expr].
type Delete struct {
	Collection string
	Alias      string
	Where      Expr
}

func (d *Delete) String() string {
	var sb strings.Builder
	sb.WriteString("DELETE FROM ")
	sb.WriteString(d.Collection)
	if d.Alias != "" && d.Alias != d.Collection {
		sb.WriteString(" ")
		sb.WriteString(d.Alias)
	}
	if d.Where != nil {
		sb.WriteString(" WHERE ")
		sb.WriteString(d.Where.String())
	}
	return sb.String()
}

// EndpointMatch selects edge endpoints for CREATE, either by entity id or by
// collection plus an equality match on one field.
type EndpointMatch struct {
	ID         string // non-empty when matching by id
	Collection string
	Field      string
	Value      Expr
}

func (m *EndpointMatch) String() string {
	if m.ID != "" {
		return "'" + m.ID + "'"
	}
	return fmt.Sprintf("%s %s = %s", m.Collection, m.Field, m.Value.String())
}

// CreateEdge is CREATE (src)-[:TYPE]->(dst) {props}.
type CreateEdge struct {
	Source EndpointMatch
	Target EndpointMatch
	Type   string
	Props  map[string]Expr
}

func (c *CreateEdge) String() string {
	var sb strings.Builder
	sb.WriteString("CREATE (")
	sb.WriteString(c.Source.String())
	sb.WriteString(")-[:")
	sb.WriteString(c.Type)
	sb.WriteString("]->(")
	sb.WriteString(c.Target.String())
	sb.WriteString(")")
	if len(c.Props) > 0 {
		sb.WriteString(" ")
		writeProps(&sb, c.Props)
	}
	return sb.String()
}

// writeProps renders a property map in sorted key order so the canonical
// form is deterministic.
func writeProps(sb *strings.Builder, props map[string]Expr) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sb.WriteString("{")
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(props[k].String())
	}
	sb.WriteString("}")
}
