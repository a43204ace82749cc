package graph

import (
	"sort"
	"sync"
)

// propertyIndex is an ordered index over one (collection, field) pair.
// Keys are kept sorted so equality and range lookups resolve with binary
// search instead of a collection scan.
//
// A simple sorted slice is deliberate: index cardinality is bounded by the
// collection size, lookups dominate mutations in the intended workload, and
// the engine only needs ordered iteration between two bounds.
type propertyIndex struct {
	mu       sync.RWMutex
	keys     []any
	postings map[int]map[EntityID]struct{} // key position -> ids
}

func newPropertyIndex() *propertyIndex {
	return &propertyIndex{postings: make(map[int]map[EntityID]struct{})}
}

// locate returns the position of key and whether it is present.
func (ix *propertyIndex) locate(key any) (int, bool) {
	pos := sort.Search(len(ix.keys), func(i int) bool {
		cmp, _ := CompareValues(ix.keys[i], key)
		return cmp >= 0
	})
	if pos < len(ix.keys) {
		if cmp, _ := CompareValues(ix.keys[pos], key); cmp == 0 {
			return pos, true
		}
	}
	return pos, false
}

func (ix *propertyIndex) add(key any, id EntityID) {
	key = NormalizeValue(key)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	pos, found := ix.locate(key)
	if !found {
		ix.keys = append(ix.keys, nil)
		copy(ix.keys[pos+1:], ix.keys[pos:])
		ix.keys[pos] = key

		// Shift postings above the insertion point.
		next := make(map[int]map[EntityID]struct{}, len(ix.postings)+1)
		for p, ids := range ix.postings {
			if p >= pos {
				next[p+1] = ids
			} else {
				next[p] = ids
			}
		}
		ix.postings = next
	}
	if ix.postings[pos] == nil {
		ix.postings[pos] = make(map[EntityID]struct{})
	}
	ix.postings[pos][id] = struct{}{}
}

func (ix *propertyIndex) remove(key any, id EntityID) {
	key = NormalizeValue(key)

	ix.mu.Lock()
	defer ix.mu.Unlock()

	pos, found := ix.locate(key)
	if !found {
		return
	}
	delete(ix.postings[pos], id)
	if len(ix.postings[pos]) > 0 {
		return
	}

	// Key is empty, drop it and compact postings positions.
	ix.keys = append(ix.keys[:pos], ix.keys[pos+1:]...)
	next := make(map[int]map[EntityID]struct{}, len(ix.postings))
	for p, ids := range ix.postings {
		switch {
		case p < pos:
			next[p] = ids
		case p > pos:
			next[p-1] = ids
		}
	}
	ix.postings = next
}

// lookup returns the ids of all keys inside the range, in key order.
func (ix *propertyIndex) lookup(rng ValueRange) []EntityID {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	start := 0
	if rng.Lower != nil {
		pos, found := ix.locate(NormalizeValue(rng.Lower.Value))
		start = pos
		if found && !rng.Lower.Inclusive {
			start = pos + 1
		}
	}

	end := len(ix.keys)
	if rng.Upper != nil {
		pos, found := ix.locate(NormalizeValue(rng.Upper.Value))
		end = pos
		if found && rng.Upper.Inclusive {
			end = pos + 1
		}
	}

	var out []EntityID
	for i := start; i < end && i < len(ix.keys); i++ {
		for id := range ix.postings[i] {
			out = append(out, id)
		}
	}
	return out
}

// distinct returns the number of distinct keys, for selectivity estimates.
func (ix *propertyIndex) distinct() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.keys)
}
