// Package logging builds the process slog logger from config sinks.
package logging

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/Ashennwitch/mbg-tracker/internal/config"
)

const (
	ansiReset   = "\x1b[0m"
	ansiRed     = "\x1b[31m"
	ansiGreen   = "\x1b[32m"
	ansiYellow  = "\x1b[33m"
	ansiBlue    = "\x1b[34m"
	ansiMagenta = "\x1b[35m"
	ansiCyan    = "\x1b[36m"
	ansiGray    = "\x1b[90m"
)

// New builds a logger writing to every enabled sink.
// Params: cfg console/file sink settings (defaults already applied).
// Returns: logger, close function for file sinks, and open error.
func New(cfg config.LogConfig) (*slog.Logger, func(), error) {
	handlers := make([]slog.Handler, 0, 2)
	closers := make([]io.Closer, 0, 1)

	if cfg.Console.Enabled {
		var out io.Writer = os.Stderr
		if cfg.Console.Format != "json" && isatty.IsTerminal(os.Stderr.Fd()) {
			out = &colorLineWriter{dst: os.Stderr}
		}
		handlers = append(handlers, newHandler(out, cfg.Console))
	}

	if cfg.File.Enabled {
		file, err := os.OpenFile(cfg.File.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file %q: %w", cfg.File.Path, err)
		}
		closers = append(closers, file)
		handlers = append(handlers, newHandler(file, cfg.File))
	}

	closeFn := func() {
		for _, closer := range closers {
			_ = closer.Close()
		}
	}

	if len(handlers) == 1 {
		return slog.New(handlers[0]), closeFn, nil
	}
	return slog.New(&fanoutHandler{handlers: handlers}), closeFn, nil
}

func newHandler(out io.Writer, sink config.LogSinkConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLevel(sink.Level)}
	if sink.Format == "json" {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanoutHandler duplicates records to several sinks.
type fanoutHandler struct {
	handlers []slog.Handler
}

func (h *fanoutHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *fanoutHandler) Handle(ctx context.Context, record slog.Record) error {
	var errs []error
	for _, handler := range h.handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *fanoutHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithAttrs(attrs))
	}
	return &fanoutHandler{handlers: next}
}

func (h *fanoutHandler) WithGroup(name string) slog.Handler {
	next := make([]slog.Handler, 0, len(h.handlers))
	for _, handler := range h.handlers {
		next = append(next, handler.WithGroup(name))
	}
	return &fanoutHandler{handlers: next}
}

// colorLineWriter paints slog text lines: the whole line in the level color,
// quoted strings, IP addresses and numbers in their own colors.
type colorLineWriter struct {
	mu  sync.Mutex
	dst io.Writer
}

// Write colors one rendered line.
// Params: p one slog text record.
// Returns: len(p) on success.
func (w *colorLineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	base := levelColor(p)
	if base == "" {
		if _, err := w.dst.Write(p); err != nil {
			return 0, err
		}
		return len(p), nil
	}

	line := p
	newline := false
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
		newline = true
	}

	var b bytes.Buffer
	b.Grow(len(p) + 64)
	b.WriteString(base)
	for i := 0; i < len(line); {
		switch line[i] {
		case '"':
			end := quotedEnd(line, i)
			paint(&b, ansiGreen, line[i:end], base)
			i = end
		case '=':
			b.WriteByte('=')
			i++
			if i >= len(line) || line[i] == '"' {
				continue
			}
			end := i
			for end < len(line) && line[end] != ' ' {
				end++
			}
			token := line[i:end]
			switch {
			case isIP(token):
				paint(&b, ansiCyan, token, base)
			case isNumber(token):
				paint(&b, ansiYellow, token, base)
			default:
				b.Write(token)
			}
			i = end
		default:
			b.WriteByte(line[i])
			i++
		}
	}
	b.WriteString(ansiReset)
	if newline {
		b.WriteByte('\n')
	}

	if _, err := w.dst.Write(b.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

func paint(b *bytes.Buffer, color string, token []byte, base string) {
	b.WriteString(color)
	b.Write(token)
	b.WriteString(ansiReset)
	b.WriteString(base)
}

func levelColor(line []byte) string {
	idx := bytes.Index(line, []byte("level="))
	if idx < 0 {
		return ""
	}
	rest := line[idx+len("level="):]
	if end := bytes.IndexAny(rest, " \n"); end >= 0 {
		rest = rest[:end]
	}
	switch {
	case bytes.HasPrefix(rest, []byte("DEBUG")):
		return ansiGray
	case bytes.HasPrefix(rest, []byte("INFO")):
		return ansiBlue
	case bytes.HasPrefix(rest, []byte("WARN")):
		return ansiMagenta
	case bytes.HasPrefix(rest, []byte("ERROR")):
		return ansiRed
	default:
		return ""
	}
}

// quotedEnd returns the index just past the closing quote starting at start.
func quotedEnd(line []byte, start int) int {
	for i := start + 1; i < len(line); i++ {
		switch line[i] {
		case '\\':
			i++
		case '"':
			return i + 1
		}
	}
	return len(line)
}

func isIP(token []byte) bool {
	value := string(token)
	if host, _, err := net.SplitHostPort(value); err == nil {
		value = host
	}
	return net.ParseIP(value) != nil
}

func isNumber(token []byte) bool {
	if len(token) == 0 {
		return false
	}
	start := 0
	if token[0] == '-' {
		start = 1
	}
	dots := 0
	digits := 0
	for _, c := range token[start:] {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
			dots++
		default:
			return false
		}
	}
	return digits > 0 && dots <= 1
}
