// Package wal provides write-ahead logging for crash recovery: every
// mutation is appended as a length-prefixed, CRC32-checked Record before the
// in-memory index is updated, so a crash can replay it on reopen.
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// Options configures a WAL instance.
type Options struct {
	// Path is the WAL file's location.
	Path string

	// Compress wraps the append stream in zstd, trading CPU for disk I/O.
	// Off by default: the fixed binary record format is already compact,
	// and compression defeats the torn-write truncation contract unless
	// the whole stream is re-read on every open, which this package does
	// anyway, so it is offered as an explicit opt-in rather than a default.
	Compress bool

	// CompressionLevel is the zstd level used when Compress is set.
	CompressionLevel int

	// SnapshotTriggerBytes, when non-zero, asks the WAL to invoke its
	// checkpoint callback once the file grows past this size. Ownership
	// of actually writing the snapshot belongs to the caller; the WAL
	// only detects the threshold and truncates once the callback returns.
	SnapshotTriggerBytes int64

	// Sync selects whether Append fsyncs before returning. Durable by
	// default; set false only for workloads that tolerate losing the tail
	// of unflushed writes on an unclean shutdown.
	Sync bool
}

// DefaultOptions returns the conservative defaults: synchronous fsync, no
// compression, no automatic checkpointing.
func DefaultOptions() Options {
	return Options{
		Path:             "polarisdb.wal",
		CompressionLevel: 3,
		Sync:             true,
	}
}

// WAL is an append-only, replayable log of Records.
type WAL struct {
	mu         sync.Mutex
	file       *os.File
	writer     io.Writer
	bufWriter  *bufio.Writer
	compressor *zstd.Encoder
	opts       Options

	appended       int64
	checkpointFunc func() error
}

// Open opens (creating if necessary) the WAL file at opts.Path for
// appending, positioned at end-of-file.
func Open(opts Options) (*WAL, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("wal: empty path")
	}
	if dir := filepath.Dir(opts.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("wal: create directory: %w", err)
		}
	}

	file, err := os.OpenFile(opts.Path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("wal: open: %w", err)
	}
	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}

	w := &WAL{file: file, opts: opts, appended: st.Size()}

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: seek: %w", err)
	}

	if opts.Compress {
		level := zstd.EncoderLevelFromZstd(opts.CompressionLevel)
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("wal: new compressor: %w", err)
		}
		w.compressor = enc
		w.bufWriter = bufio.NewWriter(enc)
	} else {
		w.bufWriter = bufio.NewWriter(file)
	}
	w.writer = w.bufWriter

	return w, nil
}

// SetCheckpointCallback installs the function invoked when the WAL crosses
// SnapshotTriggerBytes after an Append. The callback is expected to persist
// a full snapshot and return; on success the WAL truncates itself.
func (w *WAL) SetCheckpointCallback(fn func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.checkpointFunc = fn
}

// Append writes rec to the log. When opts.Sync is set, it fsyncs before
// returning so the caller's durability guarantee holds the moment Append
// returns nil.
func (w *WAL) Append(rec Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	buf := rec.Encode(nil)
	if _, err := w.writer.Write(buf); err != nil {
		return fmt.Errorf("wal: append: %w", err)
	}
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.compressor != nil {
		// zstd frames must be flushed for the bytes to reach the file;
		// readers re-open a fresh decoder per read so partial frames are
		// fine to leave unflushed between writes, but a torn-write replay
		// needs them on disk as soon as Append returns under Sync.
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("wal: flush compressor: %w", err)
		}
	}
	if w.opts.Sync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}
	w.appended += int64(len(buf))

	if w.opts.SnapshotTriggerBytes > 0 && w.appended >= w.opts.SnapshotTriggerBytes && w.checkpointFunc != nil {
		cb := w.checkpointFunc
		w.mu.Unlock()
		err := cb()
		w.mu.Lock()
		if err != nil {
			return fmt.Errorf("wal: checkpoint callback: %w", err)
		}
		return w.truncateLocked()
	}
	return nil
}

// Sync flushes any buffered bytes and fsyncs the underlying file. Callers
// running with Options.Sync false use this for an explicit durability
// checkpoint without waiting for the next Append.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.compressor != nil {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("wal: flush compressor: %w", err)
		}
	}
	return w.file.Sync()
}

// Replay reads every well-formed record from the beginning of the WAL file
// and calls fn for each, in append order. It stops at the first corrupt or
// torn record without error, since a torn tail is the expected signature of
// a crash mid-append rather than an integrity fault to surface to the
// caller. When it stops early on a corrupt tail, it rewrites the file to
// contain exactly the records that replayed cleanly before returning, so
// the WAL and whatever just replayed from it agree on the committed set and
// a subsequent Append lands right after the last good record instead of
// behind the discarded garbage. fn must not retain rec.Vector/rec.Payload
// beyond the call.
func (w *WAL) Replay(fn func(Record) error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush before replay: %w", err)
	}

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("wal: seek: %w", err)
	}

	var reader io.Reader = w.file
	if w.opts.Compress {
		dec, err := zstd.NewReader(w.file)
		if err != nil {
			return fmt.Errorf("wal: new decompressor: %w", err)
		}
		defer dec.Close()
		reader = dec
	}

	var valid []Record
	torn := false
	for {
		rec, err := ReadRecord(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, ErrCorrupt) {
				torn = true
				break
			}
			return fmt.Errorf("wal: replay: %w", err)
		}
		valid = append(valid, rec)
		if err := fn(rec); err != nil {
			return err
		}
	}

	if torn {
		if err := w.rewriteLocked(valid); err != nil {
			return fmt.Errorf("wal: truncating torn tail: %w", err)
		}
		return nil
	}

	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("wal: seek to end: %w", err)
	}
	return nil
}

// Checkpoint truncates the WAL to empty. Callers invoke this after
// persisting a snapshot that supersedes everything logged so far.
func (w *WAL) Checkpoint() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.truncateLocked()
}

func (w *WAL) truncateLocked() error {
	if err := w.closeWritersLocked(); err != nil {
		return err
	}
	file, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("wal: truncate: %w", err)
	}
	w.file = file
	w.appended = 0

	if w.opts.Compress {
		level := zstd.EncoderLevelFromZstd(w.opts.CompressionLevel)
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("wal: new compressor: %w", err)
		}
		w.compressor = enc
		w.bufWriter = bufio.NewWriter(enc)
	} else {
		w.bufWriter = bufio.NewWriter(file)
	}
	w.writer = w.bufWriter
	return nil
}

// rewriteLocked replaces the WAL file's contents with exactly the encoded
// form of records, in order. Replay uses this to cut a torn tail left by a
// crash mid-append: byte-for-byte truncation at the last good record works
// for the uncompressed stream, but a zstd frame boundary doesn't line up
// with a record boundary, so re-encoding the records that did survive is
// the one approach that truncates correctly under both settings.
func (w *WAL) rewriteLocked(records []Record) error {
	if err := w.closeWritersLocked(); err != nil {
		return err
	}
	file, err := os.OpenFile(w.opts.Path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("wal: reopen for rewrite: %w", err)
	}
	w.file = file
	w.appended = 0

	if w.opts.Compress {
		level := zstd.EncoderLevelFromZstd(w.opts.CompressionLevel)
		enc, err := zstd.NewWriter(file, zstd.WithEncoderLevel(level))
		if err != nil {
			return fmt.Errorf("wal: new compressor: %w", err)
		}
		w.compressor = enc
		w.bufWriter = bufio.NewWriter(enc)
	} else {
		w.bufWriter = bufio.NewWriter(file)
	}
	w.writer = w.bufWriter

	var buf []byte
	for _, rec := range records {
		buf = rec.Encode(buf[:0])
		if _, err := w.writer.Write(buf); err != nil {
			return fmt.Errorf("wal: rewrite: %w", err)
		}
		w.appended += int64(len(buf))
	}
	if err := w.bufWriter.Flush(); err != nil {
		return fmt.Errorf("wal: flush: %w", err)
	}
	if w.compressor != nil {
		if err := w.compressor.Flush(); err != nil {
			return fmt.Errorf("wal: flush compressor: %w", err)
		}
	}
	return w.file.Sync()
}

func (w *WAL) closeWritersLocked() error {
	if w.bufWriter != nil {
		if err := w.bufWriter.Flush(); err != nil {
			return err
		}
	}
	if w.compressor != nil {
		if err := w.compressor.Close(); err != nil {
			return err
		}
		w.compressor = nil
	}
	return w.file.Close()
}

// Close flushes and closes the underlying file. The WAL is unusable
// afterward.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.closeWritersLocked()
	w.file = nil
	return err
}

// Size returns the number of bytes appended since the last checkpoint.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appended
}
