package bitmap_test

import (
	"testing"

	"github.com/hugoev/PolarisDB/bitmap"
	"github.com/hugoev/PolarisDB/payload"
	"github.com/stretchr/testify/assert"
)

func TestQueryEq(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"category": payload.String("electronics")})
	idx.Insert(2, payload.Document{"category": payload.String("books")})
	idx.Insert(3, payload.Document{"category": payload.String("electronics")})

	f := payload.MustCondition("category", payload.OpEqual, payload.String("electronics"))
	matches := idx.Query(f)

	assert.Equal(t, uint64(2), matches.GetCardinality())
	assert.True(t, matches.Contains(1))
	assert.True(t, matches.Contains(3))
	assert.False(t, matches.Contains(2))
}

func TestQueryNe(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"status": payload.String("active")})
	idx.Insert(2, payload.Document{"status": payload.String("inactive")})
	idx.Insert(3, payload.Document{"status": payload.String("active")})

	f := payload.MustCondition("status", payload.OpNotEqual, payload.String("active"))
	matches := idx.Query(f)

	assert.Equal(t, uint64(1), matches.GetCardinality())
	assert.True(t, matches.Contains(2))
}

func TestQueryContainedIn(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"color": payload.String("red")})
	idx.Insert(2, payload.Document{"color": payload.String("blue")})
	idx.Insert(3, payload.Document{"color": payload.String("green")})

	f := payload.MustCondition("color", payload.OpContainedIn,
		payload.Array(payload.String("red"), payload.String("blue")))
	matches := idx.Query(f)

	assert.Equal(t, uint64(2), matches.GetCardinality())
	assert.True(t, matches.Contains(1))
	assert.True(t, matches.Contains(2))
}

func TestQueryAndOr(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"category": payload.String("electronics"), "brand": payload.String("sony")})
	idx.Insert(2, payload.Document{"category": payload.String("electronics"), "brand": payload.String("lg")})
	idx.Insert(3, payload.Document{"category": payload.String("books"), "brand": payload.String("sony")})

	and := payload.And(
		payload.MustCondition("category", payload.OpEqual, payload.String("electronics")),
		payload.MustCondition("brand", payload.OpEqual, payload.String("sony")),
	)
	matches := idx.Query(and)
	assert.Equal(t, uint64(1), matches.GetCardinality())
	assert.True(t, matches.Contains(1))

	or := payload.Or(
		payload.MustCondition("category", payload.OpEqual, payload.String("electronics")),
		payload.MustCondition("category", payload.OpEqual, payload.String("books")),
	)
	assert.Equal(t, uint64(3), idx.Query(or).GetCardinality())
}

func TestQueryNot(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"active": payload.Bool(true)})
	idx.Insert(2, payload.Document{"active": payload.Bool(false)})

	f := payload.Not(payload.MustCondition("active", payload.OpEqual, payload.Bool(true)))
	matches := idx.Query(f)
	assert.Equal(t, uint64(1), matches.GetCardinality())
	assert.True(t, matches.Contains(2))
}

func TestQueryExists(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"name": payload.String("test")})
	idx.Insert(2, payload.Document{})

	f := payload.MustCondition("name", payload.OpExists)
	matches := idx.Query(f)
	assert.Equal(t, uint64(1), matches.GetCardinality())
	assert.True(t, matches.Contains(1))
}

func TestDelete(t *testing.T) {
	idx := bitmap.New()
	doc := payload.Document{"category": payload.String("electronics")}
	idx.Insert(1, doc)
	idx.Insert(2, doc)
	assert.Equal(t, uint64(2), idx.Len())

	idx.Remove(1, doc)
	assert.Equal(t, uint64(1), idx.Len())

	f := payload.MustCondition("category", payload.OpEqual, payload.String("electronics"))
	matches := idx.Query(f)
	assert.Equal(t, uint64(1), matches.GetCardinality())
	assert.True(t, matches.Contains(2))
}

// TestOverApproximationSoundness asserts the quantified invariant:
// bitmap.query(F) ⊇ {id | F.matches(payloads[id])}.
func TestOverApproximationSoundness(t *testing.T) {
	idx := bitmap.New()
	docs := map[uint64]payload.Document{
		1: {"title": payload.String("Learning Rust")},
		2: {"title": payload.String("Go in Action")},
		3: {"title": payload.String("Rust for Rustaceans")},
	}
	for id, doc := range docs {
		idx.Insert(id, doc)
	}

	f := payload.MustCondition("title", payload.OpContains, payload.String("Rust"))
	candidates := idx.Query(f)

	for id, doc := range docs {
		if f.Matches(doc) {
			assert.True(t, candidates.Contains(uint32(id)), "id %d should be a candidate", id)
		}
	}
	// contains is over-approximated to the universe.
	assert.Equal(t, uint64(len(docs)), candidates.GetCardinality())
}

func TestNumericRangeOverApproximates(t *testing.T) {
	idx := bitmap.New()
	idx.Insert(1, payload.Document{"price": payload.Int(10)})
	idx.Insert(2, payload.Document{"price": payload.Int(25)})
	idx.Insert(3, payload.Document{"price": payload.Int(50)})

	f := payload.MustCondition("price", payload.OpGreaterThan, payload.Int(20))
	candidates := idx.Query(f)
	// no range index: over-approximates to the universe, residual pass narrows it.
	assert.Equal(t, uint64(3), candidates.GetCardinality())
}
