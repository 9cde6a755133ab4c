package polarisdb

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with collection-specific context, following the
// structured-logging convention the rest of this codebase's ambient stack
// uses for consistent field names across operations.
type Logger struct {
	*slog.Logger
}

// NewLogger wraps an existing slog.Handler. A nil handler falls back to a
// text handler at Info level on stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// NewJSONLogger returns a Logger that emits JSON lines to stderr.
func NewJSONLogger(level slog.Level) *Logger {
	return &Logger{Logger: slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))}
}

// NoopLogger discards everything; used when the caller supplies no logger.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.Level(1000)}))}
}

func (l *Logger) logInsert(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "insert completed", "id", id)
}

func (l *Logger) logBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with failures", "total", count, "failed", failed)
		return
	}
	l.InfoContext(ctx, "batch insert completed", "count", count)
}

func (l *Logger) logSearch(ctx context.Context, k, found int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "search failed", "k", k, "error", err)
		return
	}
	l.DebugContext(ctx, "search completed", "k", k, "results", found)
}

func (l *Logger) logDelete(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "delete failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "delete completed", "id", id)
}

func (l *Logger) logUpdate(ctx context.Context, id uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "update failed", "id", id, "error", err)
		return
	}
	l.DebugContext(ctx, "update completed", "id", id)
}

func (l *Logger) logSnapshot(ctx context.Context, path string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed", "path", path, "error", err)
		return
	}
	l.InfoContext(ctx, "snapshot saved", "path", path)
}

func (l *Logger) logFlush(ctx context.Context, err error) {
	if err != nil {
		l.ErrorContext(ctx, "flush failed", "error", err)
		return
	}
	l.DebugContext(ctx, "flush completed")
}

func (l *Logger) logRecovery(ctx context.Context, replayed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "wal recovery failed", "entries_replayed", replayed, "error", err)
		return
	}
	l.InfoContext(ctx, "wal recovery completed", "entries_replayed", replayed)
}
