package plan

import (
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"

	"github.com/deeddb/deed/pkg/dql"
)

// Signature hashes the structural shape of a plan with every constant
// erased. Two queries that differ only in literal values share a signature,
// so an optimization learned for one applies to the other.
func Signature(p *Plan) uint64 {
	d := xxhash.New()
	for _, op := range p.Ops {
		writeOpSig(d, op)
	}
	return d.Sum64()
}

func writeOpSig(d *xxhash.Digest, op Op) {
	switch o := op.(type) {
	case *Scan:
		writeStrings(d, "scan", o.Collection, o.Alias)
	case *IndexLookup:
		// Bounds are constants; only their shape participates.
		shape := "pt"
		if o.Range.Lower == nil || o.Range.Upper == nil ||
			!o.Range.Lower.Inclusive || !o.Range.Upper.Inclusive {
			shape = "rng"
		}
		writeStrings(d, "ixlookup", o.Collection, o.Alias, o.Field, shape)
	case *Traverse:
		writeStrings(d, "traverse", o.FromAlias, o.Alias, o.EdgeType,
			o.Direction.String(),
			strconv.Itoa(o.MinHops), strconv.Itoa(o.MaxHops))
	case *Filter:
		writeStrings(d, "filter")
		writeExprSig(d, o.Predicate)
	case *Project:
		writeStrings(d, "project")
		for _, f := range o.Fields {
			writeExprSig(d, f.Expr)
			writeStrings(d, f.Alias)
		}
	case *Aggregate:
		writeStrings(d, "aggregate")
		for _, e := range o.GroupBy {
			writeExprSig(d, e)
		}
		writeStrings(d, "|")
		for _, f := range o.Fields {
			writeExprSig(d, f.Expr)
			writeStrings(d, f.Alias)
		}
		if o.Having != nil {
			writeStrings(d, "having")
			writeExprSig(d, o.Having)
		}
	case *Sort:
		writeStrings(d, "sort")
		for _, k := range o.Keys {
			writeExprSig(d, k.Expr)
			if k.Descending {
				writeStrings(d, "desc")
			}
		}
	case *Limit:
		writeStrings(d, "limit")
	case *InsertEntities:
		writeStrings(d, "insert", o.Collection)
		for _, row := range o.Rows {
			keys := make([]string, 0, len(row))
			for k := range row {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			writeStrings(d, keys...)
		}
	case *UpdateEntities:
		writeStrings(d, "update", o.Alias)
		for _, a := range o.Set {
			writeStrings(d, a.Field)
			writeExprSig(d, a.Value)
		}
	case *DeleteEntities:
		writeStrings(d, "delete", o.Alias)
	case *CreateEdge:
		writeStrings(d, "createedge", o.Type,
			o.Source.Collection, o.Source.Field,
			o.Target.Collection, o.Target.Field)
	}
	writeStrings(d, ";")
}

func writeExprSig(d *xxhash.Digest, expr dql.Expr) {
	switch e := expr.(type) {
	case *dql.Literal:
		writeStrings(d, "?")
	case *dql.FieldRef:
		writeStrings(d, "f", e.Alias, e.Field)
	case *dql.BinaryExpr:
		writeStrings(d, "(", e.Op.String())
		writeExprSig(d, e.Left)
		writeExprSig(d, e.Right)
		writeStrings(d, ")")
	case *dql.UnaryExpr:
		if e.Op == dql.OpNot {
			writeStrings(d, "not")
		} else {
			writeStrings(d, "neg")
		}
		writeExprSig(d, e.Operand)
	case *dql.Aggregate:
		writeStrings(d, e.Func.String())
		if e.Arg != nil {
			writeExprSig(d, e.Arg)
		}
	}
}

func writeStrings(d *xxhash.Digest, parts ...string) {
	for _, s := range parts {
		d.WriteString(s)
		d.Write([]byte{0})
	}
}
