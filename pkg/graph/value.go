package graph

import (
	"fmt"
	"strings"
)

// Property values are restricted to string, int64, float64, bool, and nil.
// NormalizeValue coerces the convenience types callers tend to hand in
// (int, int32, float32) onto that closed set.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case nil, string, int64, float64, bool:
		return x
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return int64(x)
	case uint32:
		return int64(x)
	case float32:
		return float64(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// typeRank orders values of different types so index keys have a total
// order: null < bool < number < string.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case string:
		return 3
	default:
		return 4
	}
}

func asFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	default:
		return 0, false
	}
}

// CompareValues totally orders two property values. Numbers compare
// numerically across int64/float64; values of different type rank compare by
// type rank. The second return is false when the comparison is not
// meaningful for filtering (different, non-numeric types).
func CompareValues(a, b any) (int, bool) {
	a, b = NormalizeValue(a), NormalizeValue(b)

	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		// Numeric cross-type comparison is still fine; anything else is a
		// type mismatch for filtering purposes but keeps a stable order.
		if ra < rb {
			return -1, false
		}
		return 1, false
	}

	switch x := a.(type) {
	case nil:
		return 0, true
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0, true
		case !x:
			return -1, true
		default:
			return 1, true
		}
	case int64, float64:
		fa, _ := asFloat(a)
		fb, _ := asFloat(b)
		switch {
		case fa < fb:
			return -1, true
		case fa > fb:
			return 1, true
		default:
			return 0, true
		}
	case string:
		return strings.Compare(x, b.(string)), true
	}
	return 0, false
}

// ValuesEqual reports whether two property values are equal under the
// engine's comparison semantics (numeric cross-type equality allowed).
func ValuesEqual(a, b any) bool {
	cmp, ok := CompareValues(a, b)
	return ok && cmp == 0
}

// Matches reports whether v falls inside the range.
func (r ValueRange) Matches(v any) bool {
	if r.Lower != nil {
		cmp, ok := CompareValues(v, r.Lower.Value)
		if !ok {
			return false
		}
		if cmp < 0 || (cmp == 0 && !r.Lower.Inclusive) {
			return false
		}
	}
	if r.Upper != nil {
		cmp, ok := CompareValues(v, r.Upper.Value)
		if !ok {
			return false
		}
		if cmp > 0 || (cmp == 0 && !r.Upper.Inclusive) {
			return false
		}
	}
	return true
}
