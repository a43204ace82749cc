package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deeddb/deed/pkg/graph"
)

func quietLog() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

// fixture is a small store: three users, two products, purchase edges, and
// a follower chain for multi-hop traversals.
type fixture struct {
	g     *graph.MemoryGraph
	e     *Engine
	users map[string]graph.EntityID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	g := graph.NewMemoryGraph()
	f := &fixture{g: g, users: make(map[string]graph.EntityID)}

	for _, u := range []map[string]any{
		{"name": "Alice", "age": 30, "city": "NYC"},
		{"name": "Bob", "age": 25, "city": "SF"},
		{"name": "Cara", "age": 35, "city": "NYC"},
	} {
		id, err := g.InsertEntity("Users", u)
		require.NoError(t, err)
		f.users[u["name"].(string)] = id
	}

	products := map[string]graph.EntityID{}
	for _, p := range []map[string]any{
		{"name": "laptop", "price": 1200},
		{"name": "mouse", "price": 25},
	} {
		id, err := g.InsertEntity("Products", p)
		require.NoError(t, err)
		products[p["name"].(string)] = id
	}

	mustEdge := func(from, to graph.EntityID, typ string) {
		t.Helper()
		_, err := g.CreateEdge(from, to, typ, nil)
		require.NoError(t, err)
	}
	mustEdge(f.users["Alice"], products["laptop"], "PURCHASED")
	mustEdge(f.users["Alice"], products["mouse"], "PURCHASED")
	mustEdge(f.users["Bob"], products["mouse"], "PURCHASED")

	// Alice -> Bob -> Cara follower chain.
	mustEdge(f.users["Alice"], f.users["Bob"], "FOLLOWS")
	mustEdge(f.users["Bob"], f.users["Cara"], "FOLLOWS")

	f.e = New(g, Options{Seed: 7}, quietLog())
	return f
}

func (f *fixture) run(t *testing.T, query string) *Result {
	t.Helper()
	res, err := f.e.Execute(context.Background(), query)
	require.NoError(t, err)
	return res
}

func column(res *Result, name string) []any {
	for i, c := range res.Columns {
		if c == name {
			out := make([]any, len(res.Rows))
			for j, row := range res.Rows {
				out[j] = row[i]
			}
			return out
		}
	}
	return nil
}

func TestExecuteQueries(t *testing.T) {
	f := newFixture(t)

	t.Run("filter and project", func(t *testing.T) {
		res := f.run(t, "FROM Users u WHERE u.age > 28 SELECT u.name")
		assert.Equal(t, []string{"u.name"}, res.Columns)
		assert.ElementsMatch(t, []any{"Alice", "Cara"}, column(res, "u.name"))
	})

	t.Run("order by with limit", func(t *testing.T) {
		res := f.run(t, "FROM Users u SELECT u.name ORDER BY u.age DESC LIMIT 2")
		assert.Equal(t, []any{"Cara", "Alice"}, column(res, "u.name"))
	})

	t.Run("order by a field the projection drops", func(t *testing.T) {
		res := f.run(t, "FROM Users u SELECT u.city ORDER BY u.age ASC")
		assert.Equal(t, []any{"SF", "NYC", "NYC"}, column(res, "u.city"))
	})

	t.Run("offset", func(t *testing.T) {
		res := f.run(t, "FROM Users u SELECT u.name ORDER BY u.age LIMIT 10 OFFSET 1")
		assert.Equal(t, []any{"Alice", "Cara"}, column(res, "u.name"))
	})

	t.Run("traversal pairs source and target", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u WHERE u.city = 'NYC'
			TRAVERSE -[:PURCHASED]-> p
			SELECT u.name, p.name AS product`)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, []any{"Alice", "Alice"}, column(res, "u.name"))
		assert.ElementsMatch(t, []any{"laptop", "mouse"}, column(res, "product"))
	})

	t.Run("traversal filter on target", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u
			TRAVERSE -[:PURCHASED]-> p
			WHERE p.price > 100
			SELECT u.name`)
		assert.Equal(t, []any{"Alice"}, column(res, "u.name"))
	})

	t.Run("incoming traversal", func(t *testing.T) {
		res := f.run(t, `
			FROM Products pr WHERE pr.name = 'mouse'
			TRAVERSE <-[:PURCHASED]- buyer
			SELECT buyer.name`)
		assert.ElementsMatch(t, []any{"Alice", "Bob"}, column(res, "buyer.name"))
	})

	t.Run("single hop follows", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u WHERE u.name = 'Alice'
			TRAVERSE -[:FOLLOWS]-> v
			SELECT v.name`)
		assert.Equal(t, []any{"Bob"}, column(res, "v.name"))
	})

	t.Run("hop range reaches depth two", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u WHERE u.name = 'Alice'
			TRAVERSE -[:FOLLOWS*1..2]-> v
			SELECT v.name`)
		assert.ElementsMatch(t, []any{"Bob", "Cara"}, column(res, "v.name"))
	})

	t.Run("minimum hops exclude near targets", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u WHERE u.name = 'Alice'
			TRAVERSE -[:FOLLOWS*2..2]-> v
			SELECT v.name`)
		assert.Equal(t, []any{"Cara"}, column(res, "v.name"))
	})

	t.Run("traversal with no matches yields no rows", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u WHERE u.name = 'Cara'
			TRAVERSE -[:FOLLOWS]-> v
			SELECT v.name`)
		assert.Empty(t, res.Rows)
	})

	t.Run("arithmetic in projection", func(t *testing.T) {
		res := f.run(t, "FROM Users u WHERE u.name = 'Alice' SELECT u.age * 2 AS doubled")
		assert.Equal(t, []any{int64(60)}, column(res, "doubled"))
	})

	t.Run("boolean connectives", func(t *testing.T) {
		res := f.run(t, "FROM Users u WHERE u.city = 'NYC' AND NOT u.age = 35 SELECT u.name")
		assert.Equal(t, []any{"Alice"}, column(res, "u.name"))
	})
}

func TestExecuteAggregates(t *testing.T) {
	f := newFixture(t)

	t.Run("group by city", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u
			SELECT u.city, COUNT(*) AS n, AVG(u.age) AS avg_age
			GROUP BY u.city
			ORDER BY n DESC`)
		require.Len(t, res.Rows, 2)
		assert.Equal(t, []any{"NYC", "SF"}, column(res, "u.city"))
		assert.Equal(t, []any{int64(2), int64(1)}, column(res, "n"))
		assert.Equal(t, []any{32.5, 25.0}, column(res, "avg_age"))
	})

	t.Run("having filters groups", func(t *testing.T) {
		res := f.run(t, `
			FROM Users u
			SELECT u.city, COUNT(*) AS n
			GROUP BY u.city
			HAVING COUNT(*) > 1`)
		require.Len(t, res.Rows, 1)
		assert.Equal(t, []any{"NYC"}, column(res, "u.city"))
	})

	t.Run("global aggregates", func(t *testing.T) {
		res := f.run(t, "FROM Users u SELECT COUNT(*), MIN(u.age), MAX(u.age), SUM(u.age)")
		require.Len(t, res.Rows, 1)
		assert.Equal(t, []any{int64(3), int64(25), int64(35), int64(90)}, res.Rows[0])
	})

	t.Run("count over an empty collection", func(t *testing.T) {
		res := f.run(t, "FROM Ghosts g SELECT COUNT(*)")
		require.Len(t, res.Rows, 1)
		assert.Equal(t, []any{int64(0)}, res.Rows[0])
	})
}

func TestExecuteWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("insert returns generated ids", func(t *testing.T) {
		res := f.run(t, "INSERT INTO Users VALUES ({name: 'Dan', age: 41, city: 'LA'})")
		assert.Equal(t, int64(1), res.RowsAffected)
		require.Len(t, res.InsertedIDs, 1)
		assert.Equal(t, []string{"id"}, res.Columns)

		e, err := f.g.GetEntity(res.InsertedIDs[0])
		require.NoError(t, err)
		assert.Equal(t, "Dan", e.Properties["name"])
	})

	t.Run("update rewrites matched rows", func(t *testing.T) {
		res := f.run(t, "UPDATE Users u SET age = u.age + 1 WHERE u.city = 'NYC'")
		assert.Equal(t, int64(2), res.RowsAffected)

		check := f.run(t, "FROM Users u WHERE u.name = 'Alice' SELECT u.age")
		assert.Equal(t, []any{int64(31)}, column(check, "u.age"))
	})

	t.Run("create edge by field match", func(t *testing.T) {
		res := f.run(t, "CREATE (Users name = 'Dan')-[:FOLLOWS]->(Users name = 'Alice') {since: 2024}")
		assert.Equal(t, int64(1), res.RowsAffected)

		follows := f.run(t, `
			FROM Users u WHERE u.name = 'Dan'
			TRAVERSE -[:FOLLOWS]-> v
			SELECT v.name`)
		assert.Equal(t, []any{"Alice"}, column(follows, "v.name"))
	})

	t.Run("create edge with missing endpoint fails", func(t *testing.T) {
		_, err := f.e.Execute(ctx, "CREATE (Users name = 'Nobody')-[:FOLLOWS]->(Users name = 'Alice')")
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
	})

	t.Run("delete removes matched rows", func(t *testing.T) {
		res := f.run(t, "DELETE FROM Users u WHERE u.name = 'Dan'")
		assert.Equal(t, int64(1), res.RowsAffected)
		left := f.run(t, "FROM Users u SELECT COUNT(*)")
		assert.Equal(t, []any{int64(3)}, left.Rows[0])
	})
}

func TestExecuteErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t.Run("type mismatch in comparison", func(t *testing.T) {
		_, err := f.e.Execute(ctx, "FROM Users u WHERE u.name > 10 SELECT u.name")
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
		assert.Contains(t, execErr.Message, "compare")
	})

	t.Run("non-boolean predicate", func(t *testing.T) {
		_, err := f.e.Execute(ctx, "FROM Users u WHERE u.age + 1 SELECT u.name")
		var execErr *ExecutionError
		require.ErrorAs(t, err, &execErr)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := f.e.Execute(cancelled, "FROM Users u SELECT u.name")
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("null comparisons are quiet", func(t *testing.T) {
		res := f.run(t, "FROM Users u WHERE u.missing = 1 SELECT u.name")
		assert.Empty(t, res.Rows)
	})
}

func TestAdaptiveBehavior(t *testing.T) {
	t.Run("repeat queries hit the cache", func(t *testing.T) {
		f := newFixture(t)
		f.g.CreateIndex("Users", "city")

		first := f.run(t, "FROM Users u WHERE u.city = 'NYC' SELECT u.name")
		assert.False(t, first.Cached)

		second := f.run(t, "FROM Users u WHERE u.city = 'NYC' SELECT u.name")
		assert.True(t, second.Cached)
		assert.ElementsMatch(t, []any{"Alice", "Cara"}, column(second, "u.name"))

		stats := f.e.CacheStats()
		assert.Equal(t, uint64(1), stats.Hits)
	})

	t.Run("cached recipe carries fresh constants", func(t *testing.T) {
		f := newFixture(t)
		f.g.CreateIndex("Users", "city")

		f.run(t, "FROM Users u WHERE u.city = 'NYC' SELECT u.name")
		res := f.run(t, "FROM Users u WHERE u.city = 'SF' SELECT u.name")
		assert.True(t, res.Cached)
		assert.Equal(t, []any{"Bob"}, column(res, "u.name"))
	})

	t.Run("optimized plan uses the index", func(t *testing.T) {
		f := newFixture(t)
		f.g.CreateIndex("Users", "city")

		ex, err := f.e.Explain(context.Background(), "FROM Users u WHERE u.city = 'NYC' SELECT u.name")
		require.NoError(t, err)
		assert.Less(t, ex.ChosenCost, ex.NaiveCost)
		assert.Contains(t, ex.ChosenPlan, "IndexLookup")
		assert.NotEmpty(t, ex.Transformations)
	})

	t.Run("mutations bypass the cache", func(t *testing.T) {
		f := newFixture(t)
		f.run(t, "INSERT INTO Users VALUES ({name: 'X'})")
		f.run(t, "INSERT INTO Users VALUES ({name: 'Y'})")
		stats := f.e.CacheStats()
		assert.Zero(t, stats.Hits)
		assert.Zero(t, stats.Misses)
		assert.Zero(t, stats.Entries)
	})

	t.Run("traversals reinforce edges", func(t *testing.T) {
		f := newFixture(t)
		f.run(t, `
			FROM Users u WHERE u.name = 'Alice'
			TRAVERSE -[:FOLLOWS]-> v
			SELECT v.name`)

		out := f.g.Neighbors(f.users["Alice"], "FOLLOWS", graph.DirectionOut)
		require.Len(t, out, 1)
		e, err := f.g.GetEdge(out[0].Edge)
		require.NoError(t, err)
		assert.Greater(t, e.Pheromone, graph.PheromoneInitial)
		assert.Equal(t, uint64(1), e.TraversalCount)
	})

	t.Run("cheaper traversals deposit more pheromone", func(t *testing.T) {
		g := graph.NewMemoryGraph()
		mk := func(col, name string) graph.EntityID {
			id, err := g.InsertEntity(col, map[string]any{"name": name})
			require.NoError(t, err)
			return id
		}
		a := mk("Sparse", "a")
		sparseEdge, err := g.CreateEdge(a, mk("Targets", "b"), "LINKS", nil)
		require.NoError(t, err)

		h := mk("Dense", "h")
		var denseEdge graph.EdgeID
		for i := 0; i < 4; i++ {
			denseEdge, err = g.CreateEdge(h, mk("Targets", fmt.Sprintf("t%d", i)), "LINKS", nil)
			require.NoError(t, err)
		}

		eng := New(g, Options{Seed: 7}, quietLog())
		ctx := context.Background()
		_, err = eng.Execute(ctx, "FROM Sparse s TRAVERSE -[:LINKS]-> t SELECT t.name")
		require.NoError(t, err)
		_, err = eng.Execute(ctx, "FROM Dense d TRAVERSE -[:LINKS]-> t SELECT t.name")
		require.NoError(t, err)

		cheap, err := g.GetEdge(sparseEdge)
		require.NoError(t, err)
		costly, err := g.GetEdge(denseEdge)
		require.NoError(t, err)
		assert.Greater(t, cheap.Pheromone, costly.Pheromone)
		assert.Greater(t, costly.Pheromone, graph.PheromoneInitial)
	})

	t.Run("evaporation decays the cache", func(t *testing.T) {
		f := newFixture(t)
		f.run(t, "FROM Users u WHERE u.age > 1 SELECT u.name")
		require.Equal(t, 1, f.e.CacheStats().Entries)

		for i := 0; i < 100; i++ {
			f.e.Evaporate()
		}
		assert.Zero(t, f.e.CacheStats().Entries)
	})
}
