// Package polarisdb implements an embedded vector database: distance
// kernels, an HNSW proximity index with a brute-force alternative, a
// metadata filter with bitmap pre-filtering, and a durable, single-writer
// collection built on a write-ahead log and periodic snapshots.
package polarisdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hugoev/PolarisDB/bitmap"
	"github.com/hugoev/PolarisDB/distance"
	"github.com/hugoev/PolarisDB/hnsw"
	"github.com/hugoev/PolarisDB/internal/lockfile"
	"github.com/hugoev/PolarisDB/payload"
	"github.com/hugoev/PolarisDB/snapshot"
	"github.com/hugoev/PolarisDB/wal"
	"golang.org/x/sync/errgroup"
)

const (
	metadataFileName = "metadata.json"
	snapshotFileName = "data.bin"
	walFileName      = "wal.bin"
	lockFileName     = "LOCK"
)

// SearchResult is one ranked hit, carrying the stored payload alongside the
// id and distance spec.md's SearchResult describes.
type SearchResult struct {
	ID       hnsw.VectorId
	Distance float32
	Payload  payload.Document
}

// Collection owns one vector index plus its durable storage: a snapshot
// file and a write-ahead log, guarded by a single-writer/multi-reader lock
// per spec.md §5.
type Collection struct {
	mu sync.RWMutex

	dir    string
	config Config

	index     hnsw.VectorIndex
	bitmapIdx *bitmap.Index
	payloads  map[hnsw.VectorId]payload.Document

	w    *wal.WAL
	lock *lockfile.Lock

	logger  *Logger
	metrics MetricsCollector

	ioFailed bool
	closed   bool
}

// OpenOrCreate opens the collection directory at dir, creating it (and its
// metadata.json) if absent. dimension and metric are required and are
// checked for conflict against any existing metadata.json.
func OpenOrCreate(dir string, dimension int, metric distance.Metric, opts ...Option) (*Collection, error) {
	cfg := DefaultConfig(dimension, metric)
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("polarisdb: create directory: %w", err)
	}

	var lock *lockfile.Lock
	if !cfg.ReadOnly {
		l, err := lockfile.Acquire(filepath.Join(dir, lockFileName))
		if err != nil {
			if errors.Is(err, lockfile.ErrAlreadyLocked) {
				return nil, ErrAlreadyOpen
			}
			return nil, fmt.Errorf("polarisdb: acquire lock: %w", err)
		}
		lock = l
	}

	metaPath := filepath.Join(dir, metadataFileName)
	persisted, err := loadOrCreateMetadata(metaPath, cfg)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}
	if err := reconcileMetadata(persisted, &cfg); err != nil {
		_ = lock.Release()
		return nil, err
	}

	index, err := newIndex(cfg)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	c := &Collection{
		dir:       dir,
		config:    cfg,
		index:     index,
		bitmapIdx: bitmap.New(),
		payloads:  make(map[hnsw.VectorId]payload.Document),
		lock:      lock,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	snapPath := filepath.Join(dir, snapshotFileName)
	if snapshot.Exists(snapPath) {
		if _, err := snapshot.Read(snapPath, func(rec snapshot.Record) error {
			return c.applyInsertOrUpdate(rec.ID, rec.Vector, rec.Payload)
		}); err != nil {
			_ = lock.Release()
			return nil, fmt.Errorf("polarisdb: %w: loading snapshot: %v", ErrIntegrity, err)
		}
	}

	walOpts := wal.DefaultOptions()
	walOpts.Path = filepath.Join(dir, walFileName)
	walOpts.Compress = cfg.CompressWAL
	walOpts.Sync = cfg.WALSync
	walOpts.SnapshotTriggerBytes = int64(cfg.SnapshotTriggerBytes)

	w, err := wal.Open(walOpts)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("polarisdb: %w: %v", ErrIO, err)
	}
	c.w = w

	replayed := 0
	if err := w.Replay(func(rec wal.Record) error {
		replayed++
		switch wal.OperationType(rec.Op) {
		case wal.OpInsert, wal.OpUpdate:
			return c.applyInsertOrUpdate(rec.ID, rec.Vector, rec.Payload)
		case wal.OpDelete:
			return c.applyDelete(rec.ID)
		default:
			return nil
		}
	}); err != nil {
		_ = w.Close()
		_ = lock.Release()
		return nil, fmt.Errorf("polarisdb: %w: replaying wal: %v", ErrIntegrity, err)
	}
	c.logger.logRecovery(context.Background(), replayed, nil)

	return c, nil
}

// maybeSnapshot triggers a checkpoint once the WAL has grown past
// SnapshotTriggerBytes. It is called after the in-memory index/payload
// state has already absorbed the mutation that just appended to the WAL —
// never from inside wal.WAL's own Append, which would run a checkpoint
// before that mutation reached the index and lose it once the WAL that
// held it gets truncated.
func (c *Collection) maybeSnapshot() {
	if c.config.ReadOnly || c.config.SnapshotTriggerBytes == 0 {
		return
	}
	if c.w.Size() < int64(c.config.SnapshotTriggerBytes) {
		return
	}
	if err := c.snapshotLocked(); err != nil {
		c.logger.logSnapshot(context.Background(), filepath.Join(c.dir, snapshotFileName), err)
	}
}

func newIndex(cfg Config) (hnsw.VectorIndex, error) {
	switch cfg.IndexKind {
	case IndexBruteForce:
		return hnsw.NewBruteForce(cfg.Dimension, cfg.Metric)
	case IndexHNSW, "":
		return hnsw.NewIndex(cfg.Dimension, cfg.Metric, cfg.HNSW)
	default:
		return nil, fmt.Errorf("polarisdb: unknown index_kind %q: %w", cfg.IndexKind, ErrCallerContract)
	}
}

func loadOrCreateMetadata(path string, cfg Config) (persistedConfig, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		p := toPersisted(cfg)
		buf, merr := json.MarshalIndent(p, "", "  ")
		if merr != nil {
			return persistedConfig{}, fmt.Errorf("polarisdb: encode metadata: %w", merr)
		}
		if werr := os.WriteFile(path, buf, 0o600); werr != nil {
			return persistedConfig{}, fmt.Errorf("polarisdb: %w: write metadata: %v", ErrIO, werr)
		}
		return p, nil
	}
	if err != nil {
		return persistedConfig{}, fmt.Errorf("polarisdb: %w: read metadata: %v", ErrIO, err)
	}
	var p persistedConfig
	if err := json.Unmarshal(data, &p); err != nil {
		return persistedConfig{}, fmt.Errorf("polarisdb: %w: malformed metadata.json: %v", ErrIntegrity, err)
	}
	if p.FormatVersion != metadataFormatVersion {
		return persistedConfig{}, fmt.Errorf("polarisdb: %w: unsupported metadata format version %d", ErrIntegrity, p.FormatVersion)
	}
	return p, nil
}

// reconcileMetadata checks the caller-supplied config against what is on
// disk and fills in HNSW tuning from disk when the caller didn't override
// it, so an existing collection's parameters survive a reopen that only
// specifies dimension/metric.
func reconcileMetadata(p persistedConfig, cfg *Config) error {
	if p.Dimension != cfg.Dimension {
		return fmt.Errorf("polarisdb: %w: metadata.json has dimension %d, got %d", ErrCallerContract, p.Dimension, cfg.Dimension)
	}
	wantMetric, err := distance.ParseMetric(p.Metric)
	if err != nil {
		return fmt.Errorf("polarisdb: %w: %v", ErrIntegrity, err)
	}
	if wantMetric != cfg.Metric {
		return fmt.Errorf("polarisdb: %w: metadata.json has metric %s, got %s", ErrCallerContract, wantMetric, cfg.Metric)
	}
	if cfg.IndexKind == "" {
		cfg.IndexKind = IndexKind(p.IndexKind)
	} else if string(cfg.IndexKind) != p.IndexKind {
		return fmt.Errorf("polarisdb: %w: metadata.json has index_kind %s, got %s", ErrCallerContract, p.IndexKind, cfg.IndexKind)
	}
	if !cfg.hnswExplicit {
		cfg.HNSW.M = p.M
		cfg.HNSW.MMax0 = p.MMax0
		cfg.HNSW.EFConstruction = p.EFConstruction
		cfg.HNSW.EFSearch = p.EFSearch
		cfg.HNSW.LevelMult = p.LevelMult
		cfg.HNSW.Seed = p.Seed
	}
	return nil
}

func (c *Collection) applyInsertOrUpdate(id hnsw.VectorId, vector []float32, payloadBytes []byte) error {
	doc, err := decodePayload(payloadBytes)
	if err != nil {
		return err
	}
	if c.index.Contains(id) {
		if old, ok := c.payloads[id]; ok {
			c.bitmapIdx.Remove(id, old)
		}
		if err := c.index.Update(id, vector); err != nil {
			return err
		}
	} else {
		if err := c.index.Insert(id, vector); err != nil {
			return err
		}
	}
	c.payloads[id] = doc
	c.bitmapIdx.Insert(id, doc)
	return nil
}

func (c *Collection) applyDelete(id hnsw.VectorId) error {
	if !c.index.Contains(id) {
		return nil
	}
	if err := c.index.Delete(id); err != nil {
		return err
	}
	if doc, ok := c.payloads[id]; ok {
		c.bitmapIdx.Remove(id, doc)
		delete(c.payloads, id)
	}
	return nil
}

func decodePayload(raw []byte) (payload.Document, error) {
	if len(raw) == 0 {
		return payload.Document{}, nil
	}
	var doc payload.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("polarisdb: %w: malformed payload: %v", ErrIntegrity, err)
	}
	return doc, nil
}

// Insert adds a new vector under id with doc as its payload.
func (c *Collection) Insert(ctx context.Context, id hnsw.VectorId, vector []float32, doc payload.Document) error {
	start := time.Now()
	err := c.insert(ctx, id, vector, doc)
	c.metrics.RecordInsert(time.Since(start), err)
	c.logger.logInsert(ctx, id, err)
	return err
}

func (c *Collection) insert(_ context.Context, id hnsw.VectorId, vector []float32, doc payload.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeGuard(); err != nil {
		return err
	}
	if len(vector) != c.config.Dimension {
		return &ErrDimensionMismatch{Expected: c.config.Dimension, Actual: len(vector)}
	}
	if c.index.Contains(id) {
		return ErrDuplicateID
	}

	payloadBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("polarisdb: encode payload: %w", err)
	}

	if err := c.w.Append(wal.Record{Op: wal.OpInsert, ID: id, Vector: vector, Payload: payloadBytes}); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := c.index.Insert(id, vector); err != nil {
		return translateIndexError(err)
	}
	c.payloads[id] = doc
	c.bitmapIdx.Insert(id, doc)
	c.maybeSnapshot()
	return nil
}

// BatchInsert validates every item's dimension and metric-validity
// concurrently (via errgroup) before acquiring the writer lock, then
// serializes the WAL append and index apply under one lock acquisition.
// Each record is appended separately, so with WALSync set every record is
// fsynced on its own.
func (c *Collection) BatchInsert(ctx context.Context, ids []hnsw.VectorId, vectors [][]float32, docs []payload.Document) error {
	start := time.Now()
	failed, err := c.batchInsert(ctx, ids, vectors, docs)
	c.metrics.RecordBatchInsert(len(ids), failed, time.Since(start))
	c.logger.logBatchInsert(ctx, len(ids), failed)
	return err
}

func (c *Collection) batchInsert(ctx context.Context, ids []hnsw.VectorId, vectors [][]float32, docs []payload.Document) (int, error) {
	if len(ids) != len(vectors) || len(ids) != len(docs) {
		return len(ids), fmt.Errorf("polarisdb: %w: mismatched batch slice lengths", ErrCallerContract)
	}

	g, _ := errgroup.WithContext(ctx)
	for i := range ids {
		i := i
		g.Go(func() error {
			if len(vectors[i]) != c.config.Dimension {
				return &ErrDimensionMismatch{Expected: c.config.Dimension, Actual: len(vectors[i])}
			}
			if c.config.Metric == distance.Cosine && distance.IsZero(vectors[i]) {
				return &ErrInvalidDistanceValue{Reason: "zero vector under cosine metric"}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return len(ids), err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeGuard(); err != nil {
		return len(ids), err
	}

	seen := make(map[hnsw.VectorId]bool, len(ids))
	for _, id := range ids {
		if c.index.Contains(id) || seen[id] {
			return len(ids), ErrDuplicateID
		}
		seen[id] = true
	}

	encoded := make([][]byte, len(docs))
	for i, doc := range docs {
		b, err := json.Marshal(doc)
		if err != nil {
			return len(ids), fmt.Errorf("polarisdb: encode payload: %w", err)
		}
		encoded[i] = b
	}

	for i := range ids {
		if err := c.w.Append(wal.Record{Op: wal.OpInsert, ID: ids[i], Vector: vectors[i], Payload: encoded[i]}); err != nil {
			c.ioFailed = true
			return len(ids) - i, fmt.Errorf("%w: %v", ErrIO, err)
		}
		if err := c.index.Insert(ids[i], vectors[i]); err != nil {
			return len(ids) - i, translateIndexError(err)
		}
		c.payloads[ids[i]] = docs[i]
		c.bitmapIdx.Insert(ids[i], docs[i])
	}
	c.maybeSnapshot()
	return 0, nil
}

// Update replaces id's vector and payload.
func (c *Collection) Update(ctx context.Context, id hnsw.VectorId, vector []float32, doc payload.Document) error {
	start := time.Now()
	err := c.update(id, vector, doc)
	c.metrics.RecordUpdate(time.Since(start), err)
	c.logger.logUpdate(ctx, id, err)
	return err
}

func (c *Collection) update(id hnsw.VectorId, vector []float32, doc payload.Document) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeGuard(); err != nil {
		return err
	}
	if len(vector) != c.config.Dimension {
		return &ErrDimensionMismatch{Expected: c.config.Dimension, Actual: len(vector)}
	}
	if !c.index.Contains(id) {
		return ErrUnknownID
	}

	payloadBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("polarisdb: encode payload: %w", err)
	}
	if err := c.w.Append(wal.Record{Op: wal.OpUpdate, ID: id, Vector: vector, Payload: payloadBytes}); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := c.index.Update(id, vector); err != nil {
		return translateIndexError(err)
	}
	if old, ok := c.payloads[id]; ok {
		c.bitmapIdx.Remove(id, old)
	}
	c.payloads[id] = doc
	c.bitmapIdx.Insert(id, doc)
	c.maybeSnapshot()
	return nil
}

// Delete tombstones id.
func (c *Collection) Delete(ctx context.Context, id hnsw.VectorId) error {
	start := time.Now()
	err := c.delete(id)
	c.metrics.RecordDelete(time.Since(start), err)
	c.logger.logDelete(ctx, id, err)
	return err
}

func (c *Collection) delete(id hnsw.VectorId) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.writeGuard(); err != nil {
		return err
	}
	if !c.index.Contains(id) {
		return ErrUnknownID
	}

	if err := c.w.Append(wal.Record{Op: wal.OpDelete, ID: id}); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := c.index.Delete(id); err != nil {
		return translateIndexError(err)
	}
	if doc, ok := c.payloads[id]; ok {
		c.bitmapIdx.Remove(id, doc)
		delete(c.payloads, id)
	}
	c.maybeSnapshot()
	return nil
}

// Search returns up to k nearest neighbors of query, ranked ascending by
// distance, restricted to payloads matching filter (nil = no filter).
// Highly selective filters are accelerated via the bitmap pre-filter; any
// operator the bitmap cannot answer exactly falls back to a residual
// Matches pass over the beam's output, per spec.md §4.3/§4.4.
func (c *Collection) Search(ctx context.Context, query []float32, k int, filter *payload.Filter) ([]SearchResult, error) {
	start := time.Now()
	results, err := c.search(query, k, filter)
	c.metrics.RecordSearch(k, time.Since(start), err)
	c.logger.logSearch(ctx, k, len(results), err)
	return results, err
}

func (c *Collection) search(query []float32, k int, filter *payload.Filter) ([]SearchResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, ErrClosed
	}
	if len(query) != c.config.Dimension {
		return nil, &ErrDimensionMismatch{Expected: c.config.Dimension, Actual: len(query)}
	}
	if k < 0 {
		return nil, ErrInvalidK
	}
	if k == 0 {
		return nil, nil
	}

	var allowed *roaring.Bitmap
	if filter != nil {
		allowed = c.bitmapIdx.Query(filter)
	}

	postFilter := func(id hnsw.VectorId) bool {
		if filter == nil {
			return true
		}
		doc, ok := c.payloads[id]
		if !ok {
			return false
		}
		return filter.Matches(doc)
	}

	ef := c.config.HNSW.EFSearch
	hits, err := c.index.Search(query, k, ef, allowed, postFilter)
	if err != nil {
		return nil, translateIndexError(err)
	}

	out := make([]SearchResult, len(hits))
	for i, h := range hits {
		out[i] = SearchResult{ID: h.ID, Distance: h.Distance, Payload: c.payloads[h.ID]}
	}
	return out, nil
}

// Flush fsyncs the WAL without writing a new snapshot. Append already
// fsyncs per-record when WALSync is set, so Flush matters only for
// collections running with WALSync false that want an explicit durability
// checkpoint on demand.
func (c *Collection) Flush(ctx context.Context) error {
	start := time.Now()
	err := c.flush()
	c.metrics.RecordFlush(time.Since(start), err)
	c.logger.logFlush(ctx, err)
	return err
}

func (c *Collection) flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.writeGuard(); err != nil {
		return err
	}
	if err := c.w.Sync(); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Snapshot atomically writes data.bin from the current in-memory state and
// truncates the WAL.
func (c *Collection) Snapshot(ctx context.Context) error {
	start := time.Now()
	c.mu.Lock()
	err := c.snapshotLocked()
	c.mu.Unlock()
	c.metrics.RecordSnapshot(time.Since(start), err)
	c.logger.logSnapshot(ctx, filepath.Join(c.dir, snapshotFileName), err)
	return err
}

// snapshotLocked requires c.mu held for writing. It is called from Snapshot
// and from maybeSnapshot, after a mutation has reached the in-memory state.
func (c *Collection) snapshotLocked() error {
	if err := c.writeGuard(); err != nil {
		return err
	}

	ids := make([]hnsw.VectorId, 0, len(c.payloads))
	for id := range c.payloads {
		ids = append(ids, id)
	}

	i := 0
	next := func() (snapshot.Record, error) {
		for i < len(ids) {
			id := ids[i]
			i++
			vec, ok := c.index.Vector(id)
			if !ok {
				continue
			}
			payloadBytes, err := json.Marshal(c.payloads[id])
			if err != nil {
				return snapshot.Record{}, err
			}
			return snapshot.Record{ID: id, Vector: vec, Payload: payloadBytes}, nil
		}
		return snapshot.Record{}, io.EOF
	}

	path := filepath.Join(c.dir, snapshotFileName)
	if err := snapshot.Write(path, uint64(len(ids)), next); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := c.w.Checkpoint(); err != nil {
		c.ioFailed = true
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Close fsyncs the WAL and releases the collection's lock file.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var walErr error
	if c.w != nil {
		walErr = c.w.Sync()
		if closeErr := c.w.Close(); walErr == nil {
			walErr = closeErr
		}
	}
	lockErr := c.lock.Release()
	if walErr != nil {
		return fmt.Errorf("%w: closing wal: %v", ErrIO, walErr)
	}
	return lockErr
}

func (c *Collection) writeGuard() error {
	if c.closed {
		return ErrClosed
	}
	if c.config.ReadOnly {
		return ErrReadOnly
	}
	if c.ioFailed {
		return fmt.Errorf("%w: collection is read-only after a prior io failure", ErrIO)
	}
	return nil
}
