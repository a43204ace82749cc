package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeddb/deed/pkg/dql"
	"github.com/deeddb/deed/pkg/graph"
)

func mustBuild(t *testing.T, src string) *Plan {
	t.Helper()
	stmt, err := dql.Parse(src)
	require.NoError(t, err)
	p, err := Build(stmt)
	require.NoError(t, err)
	return p
}

func testStats() *graph.Stats {
	return &graph.Stats{
		EntityCount:  1100,
		Collections:  map[string]int64{"Users": 1000, "Products": 100},
		AvgOutDegree: map[string]float64{"PURCHASED": 5},
		Selectivity:  map[string]float64{"Users.city": 0.01},
	}
}

func TestBuild(t *testing.T) {
	t.Run("query lowers to scan filter project", func(t *testing.T) {
		p := mustBuild(t, "FROM Users u WHERE u.age > 30 SELECT u.name")
		require.Len(t, p.Ops, 3)
		assert.IsType(t, &Scan{}, p.Ops[0])
		assert.IsType(t, &Filter{}, p.Ops[1])
		assert.IsType(t, &Project{}, p.Ops[2])
		assert.Equal(t, "Users", p.AliasCollections["u"])
	})

	t.Run("bare fields bind to the FROM alias", func(t *testing.T) {
		p := mustBuild(t, "FROM Users u WHERE age > 30 SELECT name")
		filter := p.Ops[1].(*Filter)
		cmp := filter.Predicate.(*dql.BinaryExpr)
		assert.Equal(t, &dql.FieldRef{Alias: "u", Field: "age"}, cmp.Left)

		proj := p.Ops[2].(*Project)
		assert.Equal(t, &dql.FieldRef{Alias: "u", Field: "name"}, proj.Fields[0].Expr)
	})

	t.Run("traversal keeps filter stages in place", func(t *testing.T) {
		p := mustBuild(t, `
			FROM Users u WHERE u.city = 'NYC'
			TRAVERSE -[:PURCHASED]-> p
			WHERE p.price > 100
			SELECT u.name, p.name`)
		require.Len(t, p.Ops, 5)
		assert.IsType(t, &Scan{}, p.Ops[0])
		assert.IsType(t, &Filter{}, p.Ops[1])
		tr, ok := p.Ops[2].(*Traverse)
		require.True(t, ok)
		assert.Equal(t, "u", tr.FromAlias)
		assert.Equal(t, "p", tr.Alias)
		assert.Equal(t, graph.DirectionOut, tr.Direction)
		assert.IsType(t, &Filter{}, p.Ops[3])
		assert.IsType(t, &Project{}, p.Ops[4])
	})

	t.Run("chained traversals link aliases", func(t *testing.T) {
		p := mustBuild(t, `
			FROM Users u
			TRAVERSE -[:PURCHASED]-> p
			TRAVERSE <-[:PURCHASED]- other
			SELECT other.name`)
		second := p.Ops[2].(*Traverse)
		assert.Equal(t, "p", second.FromAlias)
		assert.Equal(t, "other", second.Alias)
		assert.Equal(t, graph.DirectionIn, second.Direction)
	})

	t.Run("aggregate query", func(t *testing.T) {
		p := mustBuild(t, `
			FROM Users u
			SELECT u.city, COUNT(*) AS n
			GROUP BY u.city
			HAVING COUNT(*) > 1
			ORDER BY n DESC`)
		require.Len(t, p.Ops, 3)
		agg, ok := p.Ops[1].(*Aggregate)
		require.True(t, ok)
		require.Len(t, agg.GroupBy, 1)
		require.NotNil(t, agg.Having)
		sortOp := p.Ops[2].(*Sort)
		// ORDER BY n refers to the output column, not a property.
		assert.Equal(t, &dql.FieldRef{Field: "n"}, sortOp.Keys[0].Expr)
	})

	t.Run("sort precedes project for plain queries", func(t *testing.T) {
		p := mustBuild(t, "FROM Users u SELECT u.name ORDER BY u.age LIMIT 5 OFFSET 2")
		require.Len(t, p.Ops, 4)
		assert.IsType(t, &Sort{}, p.Ops[1])
		limit := p.Ops[2].(*Limit)
		assert.Equal(t, int64(5), limit.Count)
		assert.Equal(t, int64(2), limit.Offset)
		assert.IsType(t, &Project{}, p.Ops[3])
	})

	t.Run("update lowers to scan filter update", func(t *testing.T) {
		p := mustBuild(t, "UPDATE Users u SET age = u.age + 1 WHERE u.name = 'Alice'")
		require.Len(t, p.Ops, 3)
		assert.IsType(t, &Scan{}, p.Ops[0])
		assert.IsType(t, &Filter{}, p.Ops[1])
		assert.IsType(t, &UpdateEntities{}, p.Ops[2])
	})

	t.Run("delete without filter scans everything", func(t *testing.T) {
		p := mustBuild(t, "DELETE FROM Sessions")
		require.Len(t, p.Ops, 2)
		assert.IsType(t, &DeleteEntities{}, p.Ops[1])
	})

	t.Run("insert is a single op", func(t *testing.T) {
		p := mustBuild(t, "INSERT INTO Users VALUES ({name: 'Alice'})")
		require.Len(t, p.Ops, 1)
	})
}

func TestBuildErrors(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"unknown alias in filter", "FROM Users u WHERE x.age > 1 SELECT u.name"},
		{"unknown alias in select", "FROM Users u SELECT x.name"},
		{"alias bound twice", "FROM Users u TRAVERSE -[:A]-> u SELECT u.name"},
		{"ungrouped select field", "FROM Users u SELECT u.name, COUNT(*) GROUP BY u.city"},
		{"field ref in insert", "INSERT INTO Users VALUES ({name: other.name})"},
		{"aggregate in set", "UPDATE Users u SET age = COUNT(*)"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			stmt, err := dql.Parse(tc.src)
			require.NoError(t, err)
			_, err = Build(stmt)
			var planErr *PlanError
			require.ErrorAs(t, err, &planErr)
		})
	}
}

func TestCost(t *testing.T) {
	stats := testStats()

	t.Run("index lookup beats scan plus filter", func(t *testing.T) {
		naive := mustBuild(t, "FROM Users u WHERE u.city = 'NYC' SELECT u.name")

		indexed := naive.Clone()
		indexed.Ops = []Op{
			&IndexLookup{Collection: "Users", Alias: "u", Field: "city", Range: graph.Equality("NYC")},
			&Project{Fields: naive.Ops[2].(*Project).Fields},
		}
		assert.Less(t, indexed.Cost(stats), naive.Cost(stats))
	})

	t.Run("filter before traversal is cheaper than after", func(t *testing.T) {
		early := mustBuild(t, `
			FROM Users u WHERE u.city = 'NYC'
			TRAVERSE -[:PURCHASED]-> p
			SELECT p.name`)

		late := early.Clone()
		late.Ops = []Op{early.Ops[0], early.Ops[2], early.Ops[1], early.Ops[3]}
		assert.Less(t, early.Cost(stats), late.Cost(stats))
	})

	t.Run("deeper traversals cost more", func(t *testing.T) {
		one := mustBuild(t, "FROM Users u TRAVERSE -[:PURCHASED]-> p SELECT p.name")
		three := mustBuild(t, "FROM Users u TRAVERSE -[:PURCHASED*1..3]-> p SELECT p.name")
		assert.Less(t, one.Cost(stats), three.Cost(stats))
	})

	t.Run("missing stats fall back to defaults", func(t *testing.T) {
		p := mustBuild(t, "FROM Unknown u WHERE u.f = 1 SELECT u.f")
		cost := p.Cost(&graph.Stats{})
		assert.Greater(t, cost, 0.0)
	})
}

func TestSignature(t *testing.T) {
	t.Run("constants are erased", func(t *testing.T) {
		a := mustBuild(t, "FROM Users u WHERE u.age > 30 SELECT u.name")
		b := mustBuild(t, "FROM Users u WHERE u.age > 99 SELECT u.name")
		assert.Equal(t, Signature(a), Signature(b))
	})

	t.Run("structure is not", func(t *testing.T) {
		a := mustBuild(t, "FROM Users u WHERE u.age > 30 SELECT u.name")
		b := mustBuild(t, "FROM Users u WHERE u.age = 30 SELECT u.name")
		c := mustBuild(t, "FROM Users u WHERE u.city > 30 SELECT u.name")
		assert.NotEqual(t, Signature(a), Signature(b))
		assert.NotEqual(t, Signature(a), Signature(c))
	})

	t.Run("op order matters", func(t *testing.T) {
		p := mustBuild(t, `
			FROM Users u WHERE u.city = 'NYC'
			TRAVERSE -[:PURCHASED]-> p
			SELECT p.name`)
		reordered := p.Clone()
		reordered.Ops = []Op{p.Ops[0], p.Ops[2], p.Ops[1], p.Ops[3]}
		assert.NotEqual(t, Signature(p), Signature(reordered))
	})

	t.Run("limit constants are erased", func(t *testing.T) {
		a := mustBuild(t, "FROM Users u SELECT u.name LIMIT 10")
		b := mustBuild(t, "FROM Users u SELECT u.name LIMIT 500")
		assert.Equal(t, Signature(a), Signature(b))
	})
}
