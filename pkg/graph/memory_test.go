package graph

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEntityCRUD(t *testing.T) {
	g := NewMemoryGraph()

	t.Run("insert and get", func(t *testing.T) {
		id, err := g.InsertEntity("Users", map[string]any{"name": "Alice", "age": 30})
		require.NoError(t, err)
		require.NotEmpty(t, id)

		e, err := g.GetEntity(id)
		require.NoError(t, err)
		assert.Equal(t, "Users", e.Collection)
		assert.Equal(t, "Alice", e.Properties["name"])
		// Integers normalize to int64 on the way in.
		assert.Equal(t, int64(30), e.Properties["age"])
	})

	t.Run("reads return copies", func(t *testing.T) {
		id, err := g.InsertEntity("Users", map[string]any{"name": "Bob"})
		require.NoError(t, err)

		e1, err := g.GetEntity(id)
		require.NoError(t, err)
		e1.Properties["name"] = "mutated"

		e2, err := g.GetEntity(id)
		require.NoError(t, err)
		assert.Equal(t, "Bob", e2.Properties["name"])
	})

	t.Run("update merges properties", func(t *testing.T) {
		id, err := g.InsertEntity("Users", map[string]any{"name": "Cara", "age": 40})
		require.NoError(t, err)

		require.NoError(t, g.UpdateEntity(id, map[string]any{"age": 41, "city": "SF"}))
		e, err := g.GetEntity(id)
		require.NoError(t, err)
		assert.Equal(t, "Cara", e.Properties["name"])
		assert.Equal(t, int64(41), e.Properties["age"])
		assert.Equal(t, "SF", e.Properties["city"])
	})

	t.Run("delete removes entity and collection membership", func(t *testing.T) {
		id, err := g.InsertEntity("Temp", map[string]any{"x": 1})
		require.NoError(t, err)
		require.NoError(t, g.DeleteEntity(id))

		_, err = g.GetEntity(id)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, g.ScanCollection("Temp"))
	})

	t.Run("missing and invalid ids", func(t *testing.T) {
		_, err := g.GetEntity("no-such-id")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = g.GetEntity("")
		assert.ErrorIs(t, err, ErrInvalidID)
		assert.ErrorIs(t, g.UpdateEntity("no-such-id", nil), ErrNotFound)
		assert.ErrorIs(t, g.DeleteEntity(""), ErrInvalidID)
	})

	t.Run("empty collection name rejected", func(t *testing.T) {
		_, err := g.InsertEntity("", nil)
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("access count climbs on reads", func(t *testing.T) {
		id, err := g.InsertEntity("Users", map[string]any{"name": "Dee"})
		require.NoError(t, err)
		for i := 0; i < 3; i++ {
			_, err = g.GetEntity(id)
			require.NoError(t, err)
		}
		e, err := g.GetEntity(id)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, e.AccessCount, uint64(3))
	})
}

func TestEdges(t *testing.T) {
	g := NewMemoryGraph()
	a, err := g.InsertEntity("Users", map[string]any{"name": "a"})
	require.NoError(t, err)
	b, err := g.InsertEntity("Users", map[string]any{"name": "b"})
	require.NoError(t, err)
	c, err := g.InsertEntity("Users", map[string]any{"name": "c"})
	require.NoError(t, err)

	ab, err := g.CreateEdge(a, b, "KNOWS", map[string]any{"since": 2020})
	require.NoError(t, err)
	cb, err := g.CreateEdge(c, b, "FOLLOWS", nil)
	require.NoError(t, err)

	t.Run("edges start at the initial pheromone", func(t *testing.T) {
		e, err := g.GetEdge(ab)
		require.NoError(t, err)
		assert.Equal(t, a, e.From)
		assert.Equal(t, b, e.To)
		assert.Equal(t, "KNOWS", e.Type)
		assert.Equal(t, int64(2020), e.Properties["since"])
		assert.InDelta(t, PheromoneInitial, e.Pheromone, 1e-9)
		assert.Zero(t, e.TraversalCount)
	})

	t.Run("endpoints must exist", func(t *testing.T) {
		_, err := g.CreateEdge(a, "ghost", "KNOWS", nil)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("neighbors by direction", func(t *testing.T) {
		out := g.Neighbors(a, "", DirectionOut)
		require.Len(t, out, 1)
		assert.Equal(t, b, out[0].Entity)
		assert.Equal(t, ab, out[0].Edge)

		in := g.Neighbors(b, "", DirectionIn)
		assert.Len(t, in, 2)

		both := g.Neighbors(b, "", DirectionBoth)
		assert.Len(t, both, 2)

		assert.Empty(t, g.Neighbors(a, "", DirectionIn))
	})

	t.Run("neighbors filter by edge type", func(t *testing.T) {
		in := g.Neighbors(b, "FOLLOWS", DirectionIn)
		require.Len(t, in, 1)
		assert.Equal(t, c, in[0].Entity)
		assert.Equal(t, cb, in[0].Edge)
	})

	t.Run("reinforcement and evaporation are clamped", func(t *testing.T) {
		for i := 0; i < 1000; i++ {
			g.ReinforceEdge(ab, 0.5)
		}
		e, err := g.GetEdge(ab)
		require.NoError(t, err)
		assert.InDelta(t, PheromoneCeiling, e.Pheromone, 1e-9)
		assert.Equal(t, uint64(1000), e.TraversalCount)

		for i := 0; i < 1000; i++ {
			g.EvaporateEdges()
		}
		e, err = g.GetEdge(ab)
		require.NoError(t, err)
		assert.InDelta(t, PheromoneFloor, e.Pheromone, 1e-9)
	})

	t.Run("deleting an entity drops its edges", func(t *testing.T) {
		require.NoError(t, g.DeleteEntity(b))
		_, err := g.GetEdge(ab)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, g.Neighbors(a, "", DirectionOut))
		assert.Empty(t, g.Neighbors(c, "", DirectionOut))
	})
}

func TestIndexes(t *testing.T) {
	g := NewMemoryGraph()
	ids := make([]EntityID, 0, 5)
	for _, row := range []map[string]any{
		{"name": "a", "age": 25},
		{"name": "b", "age": 30},
		{"name": "c", "age": 30},
		{"name": "d", "age": 45},
		{"name": "e"},
	} {
		id, err := g.InsertEntity("Users", row)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	t.Run("lookup requires an index", func(t *testing.T) {
		_, ok := g.IndexLookup("Users", "age", Equality(int64(30)))
		assert.False(t, ok)
		assert.False(t, g.HasIndex("Users", "age"))
	})

	g.CreateIndex("Users", "age")

	t.Run("equality", func(t *testing.T) {
		require.True(t, g.HasIndex("Users", "age"))
		got, ok := g.IndexLookup("Users", "age", Equality(int64(30)))
		require.True(t, ok)
		assert.Len(t, got, 2)
	})

	t.Run("ranges", func(t *testing.T) {
		got, ok := g.IndexLookup("Users", "age", ValueRange{
			Lower: &Bound{Value: int64(30), Inclusive: true},
		})
		require.True(t, ok)
		assert.Len(t, got, 3)

		got, ok = g.IndexLookup("Users", "age", ValueRange{
			Lower: &Bound{Value: int64(25)},
			Upper: &Bound{Value: int64(45)},
		})
		require.True(t, ok)
		assert.Len(t, got, 2)
	})

	t.Run("index tracks updates", func(t *testing.T) {
		require.NoError(t, g.UpdateEntity(ids[0], map[string]any{"age": 31}))
		got, ok := g.IndexLookup("Users", "age", Equality(int64(31)))
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Equal(t, ids[0], got[0].ID)

		got, ok = g.IndexLookup("Users", "age", Equality(int64(25)))
		require.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("index tracks deletes", func(t *testing.T) {
		require.NoError(t, g.DeleteEntity(ids[3]))
		got, ok := g.IndexLookup("Users", "age", Equality(int64(45)))
		require.True(t, ok)
		assert.Empty(t, got)
	})

	t.Run("late index covers existing entities", func(t *testing.T) {
		g.CreateIndex("Users", "name")
		got, ok := g.IndexLookup("Users", "name", Equality("b"))
		require.True(t, ok)
		require.Len(t, got, 1)
		assert.Equal(t, "b", got[0].Properties["name"])
	})
}

func TestStats(t *testing.T) {
	g := NewMemoryGraph()
	var users []EntityID
	for _, city := range []string{"NYC", "NYC", "SF"} {
		id, err := g.InsertEntity("Users", map[string]any{"city": city})
		require.NoError(t, err)
		users = append(users, id)
	}
	p, err := g.InsertEntity("Products", map[string]any{"name": "widget"})
	require.NoError(t, err)

	_, err = g.CreateEdge(users[0], p, "PURCHASED", nil)
	require.NoError(t, err)
	_, err = g.CreateEdge(users[1], p, "PURCHASED", nil)
	require.NoError(t, err)

	g.CreateIndex("Users", "city")

	stats := g.Stats()
	assert.Equal(t, int64(4), stats.EntityCount)
	assert.Equal(t, int64(2), stats.EdgeCount)
	assert.Equal(t, int64(3), stats.Collections["Users"])
	assert.Equal(t, int64(1), stats.Collections["Products"])
	// Two PURCHASED edges from two distinct sources.
	assert.InDelta(t, 1.0, stats.AvgOutDegree["PURCHASED"], 1e-9)
	// Two distinct cities over the index.
	assert.InDelta(t, 0.5, stats.Selectivity["Users.city"], 1e-9)
	assert.InDelta(t, PheromoneInitial, stats.AvgPheromone, 1e-9)

	t.Run("fallbacks", func(t *testing.T) {
		assert.Equal(t, DefaultOutDegree, stats.OutDegree("NOPE"))
		assert.Equal(t, DefaultSelectivity, stats.FieldSelectivity("Users", "name"))
		assert.Equal(t, 3.0, stats.CollectionCardinality("Users"))
	})
}

func TestCompareValues(t *testing.T) {
	t.Run("numbers compare across types", func(t *testing.T) {
		cmp, ok := CompareValues(int64(2), 2.5)
		require.True(t, ok)
		assert.Equal(t, -1, cmp)

		cmp, ok = CompareValues(2.0, int64(2))
		require.True(t, ok)
		assert.Equal(t, 0, cmp)
	})

	t.Run("strings", func(t *testing.T) {
		cmp, ok := CompareValues("a", "b")
		require.True(t, ok)
		assert.Equal(t, -1, cmp)
	})

	t.Run("mismatched types are ordered but flagged", func(t *testing.T) {
		_, ok := CompareValues("a", int64(1))
		assert.False(t, ok)
	})

	t.Run("equality helpers", func(t *testing.T) {
		assert.True(t, ValuesEqual(int64(1), 1.0))
		assert.False(t, ValuesEqual("1", int64(1)))
		assert.True(t, ValuesEqual(nil, nil))
	})
}

func TestConcurrentAccess(t *testing.T) {
	g := NewMemoryGraph()
	seed := make([]EntityID, 0, 10)
	for i := 0; i < 10; i++ {
		id, err := g.InsertEntity("Users", map[string]any{"n": i})
		require.NoError(t, err)
		seed = append(seed, id)
	}
	edge, err := g.CreateEdge(seed[0], seed[1], "KNOWS", nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				switch i % 4 {
				case 0:
					_, _ = g.InsertEntity("Users", map[string]any{"w": w, "i": i})
				case 1:
					_ = g.ScanCollection("Users")
				case 2:
					g.ReinforceEdge(edge, 0.01)
				case 3:
					g.EvaporateEdges()
				}
			}
		}(w)
	}
	wg.Wait()

	e, err := g.GetEdge(edge)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, e.Pheromone, PheromoneFloor)
	assert.LessOrEqual(t, e.Pheromone, PheromoneCeiling)
	assert.GreaterOrEqual(t, len(g.ScanCollection("Users")), 10)
}
