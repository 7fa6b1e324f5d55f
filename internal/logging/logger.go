package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/samber/oops"
)

// Logger is a thin wrapper around slog.Logger shared by every package.
type Logger struct {
	*slog.Logger
}

// NewLogger returns a text logger at debug level in development and a JSON
// logger at info level otherwise, both writing to stdout.
func NewLogger(isDev bool) *Logger {
	return New(os.Stdout, isDev)
}

// New builds a Logger writing to w.
func New(w io.Writer, isDev bool) *Logger {
	var handler slog.Handler
	if isDev {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	}
	return &Logger{Logger: slog.New(handler)}
}

// Discard returns a Logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// WithFields returns a child logger carrying the given fields.
// Keys are applied in sorted order so output is stable.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(fields)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return &Logger{Logger: l.Logger.With(args...)}
}

// LogError logs err at error level. For oops errors the code and the
// attached context are logged as separate attributes.
func (l *Logger) LogError(msg string, err error) {
	if oopsErr, ok := oops.AsOops(err); ok {
		attrs := []any{"error", oopsErr.Error()}
		if code := fmt.Sprint(oopsErr.Code()); code != "" && code != "<nil>" {
			attrs = append(attrs, "code", code)
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			attrs = append(attrs, "context", ctx)
		}
		l.Error(msg, attrs...)
		return
	}
	l.Error(msg, "error", err)
}
