// Package hnsw implements the hierarchical navigable small world graph used
// as the collection's primary vector index, alongside BruteForce, a linear
// scan index selectable as the collection's index_kind.
package hnsw

import (
	"math"
	"math/rand"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/bits-and-blooms/bitset"
	"github.com/hugoev/PolarisDB/distance"
)

// VectorId is the caller-chosen identifier for a stored vector. Ids are
// never reused: once assigned, an id remains permanently associated with
// its vector, live or tombstoned.
type VectorId = uint64

// SearchResult is one ranked hit from a Search call.
type SearchResult struct {
	ID       VectorId
	Distance float32
}

// VectorIndex is the common interface both Index (HNSW) and BruteForce
// satisfy, letting a collection pick its index_kind without the rest of the
// codebase caring which one it got.
type VectorIndex interface {
	Insert(id VectorId, vector []float32) error
	Update(id VectorId, vector []float32) error
	Delete(id VectorId) error
	Search(query []float32, k int, ef int, allowed *roaring.Bitmap, filter func(VectorId) bool) ([]SearchResult, error)
	Len() int
	// Contains reports whether id has ever been assigned (live or
	// tombstoned), letting a caller validate before mutating without
	// triggering the index's own error path.
	Contains(id VectorId) bool
	// Vector returns the raw vector stored under id, live or tombstoned,
	// and whether id is known at all. It exists for snapshotting: the
	// index is the only place a vector's bytes live once inserted.
	Vector(id VectorId) ([]float32, bool)
}

type node struct {
	id        VectorId
	vector    []float32
	level     int
	neighbors [][]int32 // neighbors[l] are this node's edges at layer l, for l in [0, level]
	tombstone bool
}

// Index is a hierarchical navigable small world graph over a fixed-dimension
// vector space under a single distance metric.
type Index struct {
	dimension int
	metric    distance.Metric
	distFn    distance.Func
	config    Config
	rng       *rand.Rand

	nodes      []*node
	idToIdx    map[VectorId]int32
	entryPoint int32 // -1 when the index is empty
	maxLevel   int
	liveCount  int
}

// NewIndex builds an empty HNSW index over vectors of the given dimension
// under metric, using config (the zero Config selects defaults for M=16).
func NewIndex(dimension int, metric distance.Metric, config Config) (*Index, error) {
	distFn, err := distance.Provider(metric)
	if err != nil {
		return nil, err
	}
	cfg := config.normalized()
	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	return &Index{
		dimension:  dimension,
		metric:     metric,
		distFn:     distFn,
		config:     cfg,
		rng:        rand.New(rand.NewSource(seed)),
		idToIdx:    make(map[VectorId]int32),
		entryPoint: -1,
	}, nil
}

// Len reports the number of live (non-tombstoned) vectors.
func (h *Index) Len() int { return h.liveCount }

// Contains reports whether id has ever been assigned.
func (h *Index) Contains(id VectorId) bool {
	_, ok := h.idToIdx[id]
	return ok
}

// Vector returns the raw vector stored under id, live or tombstoned.
func (h *Index) Vector(id VectorId) ([]float32, bool) {
	idx, ok := h.idToIdx[id]
	if !ok {
		return nil, false
	}
	return h.nodes[idx].vector, true
}

func (h *Index) mForLayer(layer int) int {
	if layer == 0 {
		return h.config.MMax0
	}
	return h.config.M
}

func (h *Index) randomLevel() int {
	u := h.rng.Float64()
	for u == 0 {
		u = h.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * h.config.LevelMult))
	if level < 0 {
		level = 0
	}
	return level
}

// Insert adds a new vector under id. It is an error if id already exists
// (live or tombstoned), if vector's length does not match the index
// dimension, or if the index's metric is Cosine and vector is the zero
// vector (cosine distance is undefined there).
func (h *Index) Insert(id VectorId, vector []float32) error {
	if len(vector) != h.dimension {
		return &ErrDimensionMismatch{Expected: h.dimension, Actual: len(vector)}
	}
	if h.metric == distance.Cosine && distance.IsZero(vector) {
		return ErrZeroVectorUnderCosine
	}
	if _, exists := h.idToIdx[id]; exists {
		return ErrDuplicateID
	}

	vecCopy := append([]float32(nil), vector...)
	level := h.randomLevel()

	n := &node{id: id, vector: vecCopy, level: level, neighbors: make([][]int32, level+1)}
	for l := range n.neighbors {
		n.neighbors[l] = nil
	}

	idx := int32(len(h.nodes))

	if h.entryPoint == -1 {
		h.nodes = append(h.nodes, n)
		h.idToIdx[id] = idx
		h.entryPoint = idx
		h.maxLevel = level
		h.liveCount++
		return nil
	}

	curr := h.entryPoint
	currDist := h.distFn(vector, h.nodes[curr].vector)
	for l := h.maxLevel; l > level; l-- {
		curr, currDist = h.greedyDescend(vector, curr, currDist, l)
	}

	h.nodes = append(h.nodes, n)
	h.idToIdx[id] = idx

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(vector, curr, currDist, h.config.EFConstruction, l, nil)
		neighbors := h.selectNeighborsHeuristic(candidates, vector, h.mForLayer(l))
		n.neighbors[l] = neighbors
		for _, nb := range neighbors {
			h.link(nb, idx, l)
		}
		if candidates.Len() > 0 {
			top := candidates.Top()
			curr, currDist = top.node, top.distance
		}
	}

	if level > h.maxLevel {
		h.entryPoint = idx
		h.maxLevel = level
	}
	h.liveCount++
	return nil
}

// link adds a directed edge a->b at layer, pruning a's edge set back down to
// its degree cap via the neighbor-selection heuristic when it overflows. Any
// neighbor the heuristic drops (which may be b itself) has its own back-edge
// to a removed in the same step, keeping the graph's bidirectional-edge
// invariant intact: a node never lists a neighbor that doesn't list it back.
func (h *Index) link(a, b int32, layer int) {
	na := h.nodes[a]
	na.neighbors[layer] = append(na.neighbors[layer], b)

	maxConn := h.mForLayer(layer)
	if len(na.neighbors[layer]) <= maxConn {
		return
	}

	before := na.neighbors[layer]
	cq := newCandidateQueue(true)
	for _, nb := range before {
		d := h.distFn(na.vector, h.nodes[nb].vector)
		cq.push(&candidate{node: nb, distance: d})
	}
	after := h.selectNeighborsHeuristic(cq, na.vector, maxConn)
	na.neighbors[layer] = after

	kept := make(map[int32]bool, len(after))
	for _, nb := range after {
		kept[nb] = true
	}
	for _, nb := range before {
		if !kept[nb] {
			h.removeBackEdge(nb, a, layer)
		}
	}
}

// removeBackEdge deletes target from node's neighbor list at layer, used
// when link prunes node out of some other node's list so the dropped edge
// doesn't survive asymmetrically in the other direction.
func (h *Index) removeBackEdge(node, target int32, layer int) {
	n := h.nodes[node]
	if layer >= len(n.neighbors) {
		return
	}
	list := n.neighbors[layer]
	for i, nb := range list {
		if nb == target {
			list[i] = list[len(list)-1]
			n.neighbors[layer] = list[:len(list)-1]
			return
		}
	}
}

// selectNeighborsHeuristic implements the diversity-aware neighbor selection
// heuristic: scan candidates ascending by distance to query and admit a
// candidate c only if no already-admitted neighbor is strictly closer to c
// than query is, stopping once m neighbors are admitted.
func (h *Index) selectNeighborsHeuristic(candidates *candidateQueue, query []float32, m int) []int32 {
	sorted := candidates.asSorted()
	result := make([]int32, 0, m)
	for _, c := range sorted {
		if len(result) >= m {
			break
		}
		admit := true
		for _, r := range result {
			if h.distFn(h.nodes[c.node].vector, h.nodes[r].vector) < c.distance {
				admit = false
				break
			}
		}
		if admit {
			result = append(result, c.node)
		}
	}
	return result
}

// greedyDescend repeatedly moves to a strictly closer neighbor of curr at
// layer until no such neighbor exists.
func (h *Index) greedyDescend(query []float32, curr int32, currDist float32, layer int) (int32, float32) {
	for {
		improved := false
		n := h.nodes[curr]
		if layer >= len(n.neighbors) {
			return curr, currDist
		}
		for _, nb := range n.neighbors[layer] {
			d := h.distFn(query, h.nodes[nb].vector)
			if d < currDist {
				curr, currDist = nb, d
				improved = true
			}
		}
		if !improved {
			return curr, currDist
		}
	}
}

// searchLayer runs the beam search at a single layer starting from entry,
// returning a max-heap of up to ef results. When allowed is non-nil, only
// nodes whose id is a member are admitted into the result set, though the
// graph walk still traverses through disallowed nodes for connectivity.
func (h *Index) searchLayer(query []float32, entry int32, entryDist float32, ef int, layer int, allowed *roaring.Bitmap) *candidateQueue {
	visited := bitset.New(uint(len(h.nodes)))
	visited.Set(uint(entry))

	explore := newCandidateQueue(false)
	results := newCandidateQueue(true)

	explore.push(&candidate{node: entry, distance: entryDist})
	if admissible(h.nodes[entry], allowed) {
		results.push(&candidate{node: entry, distance: entryDist})
	}

	for explore.Len() > 0 {
		c := explore.pop()
		if results.Len() >= ef && c.distance > results.Top().distance {
			break
		}

		n := h.nodes[c.node]
		if layer >= len(n.neighbors) {
			continue
		}
		for _, nb := range n.neighbors[layer] {
			if visited.Test(uint(nb)) {
				continue
			}
			visited.Set(uint(nb))

			d := h.distFn(query, h.nodes[nb].vector)
			if results.Len() < ef || d < results.Top().distance {
				explore.push(&candidate{node: nb, distance: d})
				if admissible(h.nodes[nb], allowed) {
					results.push(&candidate{node: nb, distance: d})
					if results.Len() > ef {
						results.pop()
					}
				}
			}
		}
	}

	return results
}

func admissible(n *node, allowed *roaring.Bitmap) bool {
	if n.tombstone {
		return false
	}
	if allowed == nil {
		return true
	}
	return allowed.Contains(uint32(n.id))
}

// Search returns up to k nearest neighbors of query, ranked ascending by
// distance. ef is the beam width to use for this call; callers typically
// pass the index's configured EFSearch. When allowed is non-nil, results are
// restricted to ids present in it. filter, when non-nil, is applied as a
// post-filter pass over the beam's sorted output before truncating to k —
// it does not affect how many candidates the beam explores. When allowed's
// cardinality is a small enough fraction of the live set (config.
// BruteForceFallbackSelectivity), the graph walk is skipped in favor of a
// direct scan over allowed, since a highly selective filter starves the
// beam's admission rate.
//
// k == 0 returns (nil, nil). An empty index returns (nil, nil).
func (h *Index) Search(query []float32, k int, ef int, allowed *roaring.Bitmap, filter func(VectorId) bool) ([]SearchResult, error) {
	if len(query) != h.dimension {
		return nil, &ErrDimensionMismatch{Expected: h.dimension, Actual: len(query)}
	}
	if k <= 0 {
		return nil, nil
	}
	if h.entryPoint == -1 {
		return nil, nil
	}
	if ef < k {
		ef = k
	}

	if allowed != nil && h.liveCount > 0 {
		selectivity := float64(allowed.GetCardinality()) / float64(h.liveCount)
		if selectivity < h.config.BruteForceFallbackSelectivity {
			return h.bruteForceOverAllowed(query, k, allowed, filter), nil
		}
	}

	curr := h.entryPoint
	currDist := h.distFn(query, h.nodes[curr].vector)
	for l := h.maxLevel; l >= 1; l-- {
		curr, currDist = h.greedyDescend(query, curr, currDist, l)
	}

	results := h.searchLayer(query, curr, currDist, ef, 0, allowed)
	sorted := results.asSorted()

	out := make([]SearchResult, 0, k)
	for _, c := range sorted {
		if len(out) >= k {
			break
		}
		id := h.nodes[c.node].id
		if filter != nil && !filter(id) {
			continue
		}
		out = append(out, SearchResult{ID: id, Distance: c.distance})
	}
	return out, nil
}

// bruteForceOverAllowed scans allowed directly instead of walking the graph.
// Below config.BruteForceFallbackSelectivity, the allowed set is small
// enough relative to the live index that the beam search's per-hop
// admission rate collapses (most explored neighbors get rejected by
// admissible), making a linear scan of the allowed ids cheaper and exact.
func (h *Index) bruteForceOverAllowed(query []float32, k int, allowed *roaring.Bitmap, filter func(VectorId) bool) []SearchResult {
	out := make([]SearchResult, 0, allowed.GetCardinality())
	it := allowed.Iterator()
	for it.HasNext() {
		id := VectorId(it.Next())
		idx, ok := h.idToIdx[id]
		if !ok {
			continue
		}
		n := h.nodes[idx]
		if n.tombstone {
			continue
		}
		if filter != nil && !filter(id) {
			continue
		}
		out = append(out, SearchResult{ID: id, Distance: h.distFn(query, n.vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// Update replaces id's vector in place, leaving existing graph edges
// untouched — a deliberate simplification over rerunning the insertion
// algorithm, at the cost of the graph's neighbor lists gradually drifting
// out of sync with true proximity for heavily updated vectors. A
// tombstoned id is revived.
func (h *Index) Update(id VectorId, vector []float32) error {
	idx, ok := h.idToIdx[id]
	if !ok {
		return ErrUnknownID
	}
	if len(vector) != h.dimension {
		return &ErrDimensionMismatch{Expected: h.dimension, Actual: len(vector)}
	}
	if h.metric == distance.Cosine && distance.IsZero(vector) {
		return ErrZeroVectorUnderCosine
	}

	n := h.nodes[idx]
	wasTombstoned := n.tombstone
	n.vector = append([]float32(nil), vector...)
	n.tombstone = false
	if wasTombstoned {
		h.liveCount++
	}
	return nil
}

// Delete tombstones id: it is excluded from future search results but its
// graph edges are left in place (no repair pass). Deleting an already
// tombstoned id is a no-op, matching the round-trip law that repeated
// deletes collapse to a single delete.
func (h *Index) Delete(id VectorId) error {
	idx, ok := h.idToIdx[id]
	if !ok {
		return ErrUnknownID
	}
	n := h.nodes[idx]
	if n.tombstone {
		return nil
	}
	n.tombstone = true
	h.liveCount--
	return nil
}
