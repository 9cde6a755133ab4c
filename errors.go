package polarisdb

import (
	"errors"
	"fmt"

	"github.com/hugoev/PolarisDB/hnsw"
)

// Category sentinels group the typed errors below so callers can branch on
// "what kind of problem is this" (errors.Is(err, ErrCallerContract)) without
// enumerating every concrete type.
var (
	// ErrCallerContract marks a violation of an API precondition: bad
	// dimension, unknown id, malformed filter. Retrying the identical call
	// will never succeed; the caller must change its input.
	ErrCallerContract = errors.New("polarisdb: caller contract violation")

	// ErrResourceExhaustion marks a failure caused by running out of some
	// resource (disk space, memory) rather than bad input.
	ErrResourceExhaustion = errors.New("polarisdb: resource exhaustion")

	// ErrIO marks a failure in the underlying storage layer (disk read,
	// write, or fsync failure).
	ErrIO = errors.New("polarisdb: storage io failure")

	// ErrConcurrency marks a failure arising from the single-writer
	// invariant: a second open of an already-open collection.
	ErrConcurrency = errors.New("polarisdb: concurrency violation")
)

// ErrDimensionMismatch reports that a vector's length did not match the
// collection's configured dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("polarisdb: dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return ErrCallerContract }

// ErrInvalidDistanceValue reports that a vector is invalid under the
// collection's configured metric — currently only the Cosine zero-vector
// case.
type ErrInvalidDistanceValue struct {
	Reason string
}

func (e *ErrInvalidDistanceValue) Error() string {
	return fmt.Sprintf("polarisdb: invalid vector for configured metric: %s", e.Reason)
}

func (e *ErrInvalidDistanceValue) Unwrap() error { return ErrCallerContract }

var (
	// ErrDuplicateID is returned by Insert for an id already present.
	ErrDuplicateID = fmt.Errorf("polarisdb: duplicate vector id: %w", ErrCallerContract)

	// ErrUnknownID is returned by Update/Delete for an id the
	// collection has never assigned.
	ErrUnknownID = fmt.Errorf("polarisdb: unknown vector id: %w", ErrCallerContract)

	// ErrInvalidFilter names the malformed-filter case of the caller
	// contract. No Collection method returns it: filters are validated when
	// the payload package's constructors build them, and Search does not
	// validate them again.
	ErrInvalidFilter = fmt.Errorf("polarisdb: invalid filter: %w", ErrCallerContract)

	// ErrInvalidK is returned when Search is called with k < 0.
	ErrInvalidK = fmt.Errorf("polarisdb: k must be non-negative: %w", ErrCallerContract)

	// ErrReadOnly is returned by any mutating call on a collection opened
	// read-only.
	ErrReadOnly = fmt.Errorf("polarisdb: collection is read-only: %w", ErrCallerContract)

	// ErrAlreadyOpen is returned by OpenOrCreate when another session already
	// holds the collection's lock file.
	ErrAlreadyOpen = fmt.Errorf("polarisdb: collection already open in another session: %w", ErrConcurrency)

	// ErrIntegrity is returned when a snapshot or WAL record fails its
	// checksum during recovery in a way recovery cannot route around (a
	// corrupt snapshot header; WAL torn-tail truncation is not this —
	// that is expected and handled silently).
	ErrIntegrity = fmt.Errorf("polarisdb: storage integrity check failed: %w", ErrIO)

	// ErrClosed is returned by any call on a collection after Close, except
	// Close itself, which returns nil when repeated.
	ErrClosed = fmt.Errorf("polarisdb: collection is closed: %w", ErrCallerContract)
)

// translateIndexError maps the hnsw package's internal error vocabulary
// onto the collection's own typed errors, so callers never need to know
// which index_kind is backing a collection.
func translateIndexError(err error) error {
	if err == nil {
		return nil
	}
	var dm *hnsw.ErrDimensionMismatch
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual}
	}
	if errors.Is(err, hnsw.ErrDuplicateID) {
		return ErrDuplicateID
	}
	if errors.Is(err, hnsw.ErrUnknownID) {
		return ErrUnknownID
	}
	if errors.Is(err, hnsw.ErrZeroVectorUnderCosine) {
		return &ErrInvalidDistanceValue{Reason: "zero vector under cosine metric"}
	}
	return err
}
