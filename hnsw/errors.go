package hnsw

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch reports that a vector's length does not match the
// index's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("hnsw: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

var (
	// ErrDuplicateID is returned by Insert when the id is already present
	// (live or tombstoned — ids are never reused).
	ErrDuplicateID = errors.New("hnsw: duplicate vector id")

	// ErrUnknownID is returned by Update/Delete for an id the index has
	// never seen.
	ErrUnknownID = errors.New("hnsw: unknown vector id")

	// ErrZeroVectorUnderCosine is returned when inserting or updating a
	// zero vector on an index configured with the Cosine metric, where
	// cosine distance is undefined.
	ErrZeroVectorUnderCosine = errors.New("hnsw: zero vector is invalid under the cosine metric")
)
