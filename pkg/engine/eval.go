package engine

import (
	"fmt"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
)

// ExecutionError reports a failure while running a plan, such as a type
// mismatch in a predicate or an unbound alias.
type ExecutionError struct {
	Message string
}

func (e *ExecutionError) Error() string {
	return "execute: " + e.Message
}

func execErrf(format string, args ...any) *ExecutionError {
	return &ExecutionError{Message: fmt.Sprintf(format, args...)}
}

// binding is one result row before projection: every alias the pipeline has
// bound so far, mapped to its entity.
type binding map[string]*graph.Entity

// evalExpr evaluates an expression against one binding row. Aggregates are
// rejected here; they only appear under the Aggregate operator, which
// substitutes their computed values before calling in.
func evalExpr(expr dql.Expr, row binding) (any, error) {
	switch e := expr.(type) {
	case *dql.Literal:
		return e.Value, nil

	case *dql.FieldRef:
		entity, ok := row[e.Alias]
		if !ok {
			return nil, execErrf("alias %q is not bound", e.Alias)
		}
		// Missing properties evaluate to null, not an error.
		return graph.NormalizeValue(entity.Properties[e.Field]), nil

	case *dql.UnaryExpr:
		v, err := evalExpr(e.Operand, row)
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
		switch n := v.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		}
		return nil, execErrf("negation applied to %s", typeName(v))

	case *dql.BinaryExpr:
		return evalBinary(e, row)

	case *dql.Aggregate:
		return nil, execErrf("aggregate %s outside GROUP BY context", e)

	default:
		return nil, execErrf("unsupported expression %T", expr)
	}
}

func evalBinary(e *dql.BinaryExpr, row binding) (any, error) {
	// AND and OR short-circuit: the right operand is untouched when the
	// left already decides the result.
	switch e.Op {
	case dql.OpAnd, dql.OpOr:
		left, err := evalBool(e.Left, row)
		if err != nil {
			return nil, err
		}
		if e.Op == dql.OpAnd && !left {
			return false, nil
		}
		if e.Op == dql.OpOr && left {
			return true, nil
		}
		return evalBool(e.Right, row)
	}

	left, err := evalExpr(e.Left, row)
	if err != nil {
		return nil, err
	}
	right, err := evalExpr(e.Right, row)
	if err != nil {
		return nil, err
	}

	if e.Op.IsComparison() {
		return compare(e.Op, left, right)
	}
	return arithmetic(e.Op, left, right)
}

// compare applies a comparison operator. Null compares equal only to null
// and is less than everything else for ordering operators; mismatched
// non-numeric types are an execution error.
func compare(op dql.BinaryOp, left, right any) (any, error) {
	if left == nil || right == nil {
		switch op {
		case dql.OpEq:
			return left == nil && right == nil, nil
		case dql.OpNeq:
			return !(left == nil && right == nil), nil
		default:
			return false, nil
		}
	}

	cmp, ok := graph.CompareValues(left, right)
	if !ok {
		return nil, execErrf("cannot compare %s with %s", typeName(left), typeName(right))
	}
	switch op {
	case dql.OpEq:
		return cmp == 0, nil
	case dql.OpNeq:
		return cmp != 0, nil
	case dql.OpLt:
		return cmp < 0, nil
	case dql.OpLte:
		return cmp <= 0, nil
	case dql.OpGt:
		return cmp > 0, nil
	case dql.OpGte:
		return cmp >= 0, nil
	}
	return nil, execErrf("unsupported comparison %s", op)
}

// arithmetic applies +, -, *, /. Integer pairs stay integral except for
// division, which is always floating point. String + string concatenates.
func arithmetic(op dql.BinaryOp, left, right any) (any, error) {
	if op == dql.OpAdd {
		if ls, ok := left.(string); ok {
			if rs, ok := right.(string); ok {
				return ls + rs, nil
			}
		}
	}

	li, lInt := left.(int64)
	ri, rInt := right.(int64)
	if lInt && rInt && op != dql.OpDiv {
		switch op {
		case dql.OpAdd:
			return li + ri, nil
		case dql.OpSub:
			return li - ri, nil
		case dql.OpMul:
			return li * ri, nil
		}
	}

	lf, lok := asNumber(left)
	rf, rok := asNumber(right)
	if !lok || !rok {
		return nil, execErrf("arithmetic on %s and %s", typeName(left), typeName(right))
	}
	switch op {
	case dql.OpAdd:
		return lf + rf, nil
	case dql.OpSub:
		return lf - rf, nil
	case dql.OpMul:
		return lf * rf, nil
	case dql.OpDiv:
		if rf == 0 {
			return nil, execErrf("division by zero")
		}
		return lf / rf, nil
	}
	return nil, execErrf("unsupported operator %s", op)
}

// evalBool evaluates an expression and requires a boolean result.
func evalBool(expr dql.Expr, row binding) (bool, error) {
	v, err := evalExpr(expr, row)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, execErrf("predicate %s evaluated to %s, want boolean", expr, typeName(v))
	}
	return b, nil
}

func asNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case int64:
		return "integer"
	case float64:
		return "float"
	case bool:
		return "boolean"
	}
	return fmt.Sprintf("%T", v)
}
