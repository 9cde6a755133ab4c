// Package bitmap implements the compressed per-(field,value) inverted
// index used to accelerate highly selective metadata filters, backed by
// Roaring bitmaps.
package bitmap

import (
	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hugoev/PolarisDB/payload"
)

// Index maintains, for each (field, value) pair appearing in any indexed
// document, a compressed set of vector ids whose payload carries that
// pair. It answers a Filter as an over-approximating candidate set: exact
// for eq/ne/contained_in/exists, and the universe (deferring to a
// post-filter pass) for operators it cannot answer precisely, namely
// contains and any numeric range comparison.
type Index struct {
	// field -> value.Key() -> bitmap of ids
	fields map[string]map[string]*roaring.Bitmap
	// allIDs tracks every indexed id, used for `ne` complements and for
	// the over-approximation fallback.
	allIDs *roaring.Bitmap
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		fields: make(map[string]map[string]*roaring.Bitmap),
		allIDs: roaring.New(),
	}
}

// Insert indexes doc's scalar leaf fields under id. Array elements are
// indexed per scalar element under the same field name; nested objects
// (and array elements that are themselves arrays or objects) are not
// indexed, matching the bitmap index's documented scope.
func (idx *Index) Insert(id uint64, doc payload.Document) {
	idx.allIDs.Add(uint32(id))
	for field, value := range doc {
		idx.indexValue(id, field, value)
	}
}

// Remove undoes a prior Insert for the same (id, doc) pair.
func (idx *Index) Remove(id uint64, doc payload.Document) {
	idx.allIDs.Remove(uint32(id))
	for field, value := range doc {
		idx.unindexValue(id, field, value)
	}
}

func (idx *Index) indexValue(id uint64, field string, value payload.Value) {
	switch value.Kind() {
	case payload.KindArray:
		elems, _ := value.AsArray()
		for _, e := range elems {
			if isScalar(e) {
				idx.bitmapFor(field, e.Key()).Add(uint32(id))
			}
		}
	case payload.KindObject:
		// Nested objects are not indexed.
	default:
		idx.bitmapFor(field, value.Key()).Add(uint32(id))
	}
}

func (idx *Index) unindexValue(id uint64, field string, value payload.Value) {
	switch value.Kind() {
	case payload.KindArray:
		elems, _ := value.AsArray()
		for _, e := range elems {
			if isScalar(e) {
				if bm := idx.existingBitmap(field, e.Key()); bm != nil {
					bm.Remove(uint32(id))
				}
			}
		}
	case payload.KindObject:
	default:
		if bm := idx.existingBitmap(field, value.Key()); bm != nil {
			bm.Remove(uint32(id))
		}
	}
}

func isScalar(v payload.Value) bool {
	switch v.Kind() {
	case payload.KindArray, payload.KindObject:
		return false
	default:
		return true
	}
}

func (idx *Index) bitmapFor(field, key string) *roaring.Bitmap {
	values, ok := idx.fields[field]
	if !ok {
		values = make(map[string]*roaring.Bitmap)
		idx.fields[field] = values
	}
	bm, ok := values[key]
	if !ok {
		bm = roaring.New()
		values[key] = bm
	}
	return bm
}

func (idx *Index) existingBitmap(field, key string) *roaring.Bitmap {
	values, ok := idx.fields[field]
	if !ok {
		return nil
	}
	return values[key]
}

// Query evaluates f structurally and returns the candidate bitmap. The
// result is a superset of {id | f.Matches(payloads[id])}; callers must
// still apply a residual Matches pass whenever the filter contains an
// operator the bitmap cannot answer exactly.
func (idx *Index) Query(f *payload.Filter) *roaring.Bitmap {
	return evalNode(idx, f)
}

// Len reports how many distinct ids are currently indexed.
func (idx *Index) Len() uint64 {
	return idx.allIDs.GetCardinality()
}

// evalNode walks the filter tree structurally, mapping each combinator to
// the corresponding Roaring set operation and each leaf to an exact
// lookup or a universe over-approximation.
func evalNode(idx *Index, f *payload.Filter) *roaring.Bitmap {
	switch f.NodeKind() {
	case payload.NodeAnd:
		children := f.Children()
		if len(children) == 0 {
			return idx.allIDs.Clone()
		}
		result := evalNode(idx, children[0])
		for _, c := range children[1:] {
			result = roaring.And(result, evalNode(idx, c))
		}
		return result
	case payload.NodeOr:
		children := f.Children()
		result := roaring.New()
		for _, c := range children {
			result = roaring.Or(result, evalNode(idx, c))
		}
		return result
	case payload.NodeNot:
		inner := evalNode(idx, f.Children()[0])
		return roaring.AndNot(idx.allIDs, inner)
	default:
		return evalLeaf(idx, f)
	}
}

func evalLeaf(idx *Index, f *payload.Filter) *roaring.Bitmap {
	field := f.Field()
	operand, hasOperand := f.Operand()

	switch f.Op() {
	case payload.OpEqual:
		if !hasOperand || !isScalar(operand) {
			return idx.universe()
		}
		return idx.lookup(field, operand.Key())
	case payload.OpNotEqual:
		if !hasOperand || !isScalar(operand) {
			return idx.universe()
		}
		return roaring.AndNot(idx.allIDs, idx.lookup(field, operand.Key()))
	case payload.OpContainedIn:
		items, _ := operand.AsArray()
		result := roaring.New()
		for _, item := range items {
			if isScalar(item) {
				result = roaring.Or(result, idx.lookup(field, item.Key()))
			} else {
				// A non-scalar member can't be matched by the bitmap; fall
				// back to the universe so the residual pass decides it.
				return idx.universe()
			}
		}
		return result
	case payload.OpExists:
		return idx.fieldUnion(field)
	default:
		// gt/gte/lt/lte (no range index) and contains (substring) cannot be
		// answered exactly: over-approximate with the universe and let the
		// residual Matches pass filter the false positives out.
		return idx.universe()
	}
}

func (idx *Index) lookup(field, key string) *roaring.Bitmap {
	if bm := idx.existingBitmap(field, key); bm != nil {
		return bm.Clone()
	}
	return roaring.New()
}

func (idx *Index) fieldUnion(field string) *roaring.Bitmap {
	values, ok := idx.fields[field]
	if !ok {
		return roaring.New()
	}
	result := roaring.New()
	for _, bm := range values {
		result = roaring.Or(result, bm)
	}
	return result
}

func (idx *Index) universe() *roaring.Bitmap {
	return idx.allIDs.Clone()
}
