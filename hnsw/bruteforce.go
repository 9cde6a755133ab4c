package hnsw

import (
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hugoev/PolarisDB/distance"
)

// BruteForce is a linear-scan VectorIndex: exact, with no construction cost,
// trading O(n) query time for simplicity. It backs the brute_force
// index_kind. Index's own low-selectivity fallback (bruteForceOverAllowed)
// is a separate scan inside Index and does not use this type.
type BruteForce struct {
	dimension int
	metric    distance.Metric
	distFn    distance.Func

	ids       map[VectorId]int
	vectors   [][]float32
	keys      []VectorId
	tombstone []bool
	live      int
}

// NewBruteForce builds an empty brute-force index over vectors of the given
// dimension under metric.
func NewBruteForce(dimension int, metric distance.Metric) (*BruteForce, error) {
	distFn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	return &BruteForce{
		dimension: dimension,
		metric:    metric,
		distFn:    distFn,
		ids:       make(map[VectorId]int),
	}, nil
}

func (b *BruteForce) Len() int { return b.live }

// Contains reports whether id has ever been assigned.
func (b *BruteForce) Contains(id VectorId) bool {
	_, ok := b.ids[id]
	return ok
}

// Vector returns the raw vector stored under id, live or tombstoned.
func (b *BruteForce) Vector(id VectorId) ([]float32, bool) {
	idx, ok := b.ids[id]
	if !ok {
		return nil, false
	}
	return b.vectors[idx], true
}

func (b *BruteForce) Insert(id VectorId, vector []float32) error {
	if len(vector) != b.dimension {
		return &ErrDimensionMismatch{Expected: b.dimension, Actual: len(vector)}
	}
	if b.metric == distance.Cosine && distance.IsZero(vector) {
		return ErrZeroVectorUnderCosine
	}
	if _, exists := b.ids[id]; exists {
		return ErrDuplicateID
	}

	idx := len(b.vectors)
	b.vectors = append(b.vectors, append([]float32(nil), vector...))
	b.keys = append(b.keys, id)
	b.tombstone = append(b.tombstone, false)
	b.ids[id] = idx
	b.live++
	return nil
}

func (b *BruteForce) Update(id VectorId, vector []float32) error {
	idx, ok := b.ids[id]
	if !ok {
		return ErrUnknownID
	}
	if len(vector) != b.dimension {
		return &ErrDimensionMismatch{Expected: b.dimension, Actual: len(vector)}
	}
	if b.metric == distance.Cosine && distance.IsZero(vector) {
		return ErrZeroVectorUnderCosine
	}
	if b.tombstone[idx] {
		b.live++
	}
	b.tombstone[idx] = false
	b.vectors[idx] = append([]float32(nil), vector...)
	return nil
}

func (b *BruteForce) Delete(id VectorId) error {
	idx, ok := b.ids[id]
	if !ok {
		return ErrUnknownID
	}
	if b.tombstone[idx] {
		return nil
	}
	b.tombstone[idx] = true
	b.live--
	return nil
}

// Search scans every live, admissible vector and returns the k closest
// ascending by distance. ef is accepted to satisfy VectorIndex but unused —
// brute force always examines the whole admissible set.
func (b *BruteForce) Search(query []float32, k int, _ int, allowed *roaring.Bitmap, filter func(VectorId) bool) ([]SearchResult, error) {
	if len(query) != b.dimension {
		return nil, &ErrDimensionMismatch{Expected: b.dimension, Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}

	candidates := make([]SearchResult, 0, len(b.vectors))
	for i, vec := range b.vectors {
		if b.tombstone[i] {
			continue
		}
		id := b.keys[i]
		if allowed != nil && !allowed.Contains(uint32(id)) {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		candidates = append(candidates, SearchResult{ID: id, Distance: b.distFn(query, vec)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Distance < candidates[j].Distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates, nil
}
