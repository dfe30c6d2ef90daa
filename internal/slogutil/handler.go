// Package slogutil provides the slog handler and logger constructors used across Caliper.
package slogutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Scope attribute keys. A logger scoped with these via With renders them
// ahead of the message so lines from concurrent extractions stay apart.
const (
	PackageKey = "package"
	RunKey     = "run"
)

// CaliperHandler formats records as:
// TIMESTAMP [level] <package#run> message | key=value key=value
//
// The <package#run> scope only appears for loggers built with With(PackageKey, ...).
type CaliperHandler struct {
	w      io.Writer
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
	pkg    string
	run    string
	mu     *sync.Mutex
}

// NewCaliperHandler creates a new handler writing to w.
func NewCaliperHandler(w io.Writer, opts *slog.HandlerOptions) *CaliperHandler {
	var level slog.Leveler = slog.LevelInfo
	if opts != nil && opts.Level != nil {
		level = opts.Level
	}
	return &CaliperHandler{
		w:     w,
		level: level,
		mu:    &sync.Mutex{},
	}
}

// Enabled reports whether the handler handles records at the given level.
func (h *CaliperHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle formats and writes the log record.
func (h *CaliperHandler) Handle(_ context.Context, r slog.Record) error {
	var buf bytes.Buffer

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	buf.WriteString(ts.UTC().Format(time.RFC3339))
	buf.WriteString(" [")
	buf.WriteString(levelString(r.Level))
	buf.WriteString("] ")
	if scope := h.scope(); scope != "" {
		buf.WriteString(scope)
		buf.WriteByte(' ')
	}
	buf.WriteString(r.Message)

	attrs := make([]slog.Attr, 0, len(h.attrs)+r.NumAttrs())
	attrs = append(attrs, h.attrs...)
	r.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, h.resolveAttr(a))
		return true
	})

	if len(attrs) > 0 {
		buf.WriteString(" |")
		for _, a := range attrs {
			if a.Key == "" {
				continue
			}
			buf.WriteString(" ")
			buf.WriteString(a.Key)
			buf.WriteString("=")
			buf.WriteString(formatValue(a.Value))
		}
	}
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// WithAttrs returns a new handler with the given attributes added.
func (h *CaliperHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := &CaliperHandler{w: h.w, level: h.level, groups: h.groups, pkg: h.pkg, run: h.run, mu: h.mu}
	nh.attrs = make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(nh.attrs, h.attrs)
	for _, a := range attrs {
		if len(h.groups) == 0 {
			switch a.Key {
			case PackageKey:
				nh.pkg = a.Value.Resolve().String()
				continue
			case RunKey:
				nh.run = a.Value.Resolve().String()
				continue
			}
		}
		nh.attrs = append(nh.attrs, h.resolveAttr(a))
	}
	return nh
}

// WithGroup returns a new handler with the given group name added.
func (h *CaliperHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	groups := make([]string, len(h.groups)+1)
	copy(groups, h.groups)
	groups[len(h.groups)] = name
	return &CaliperHandler{w: h.w, level: h.level, attrs: h.attrs, groups: groups, pkg: h.pkg, run: h.run, mu: h.mu}
}

func (h *CaliperHandler) scope() string {
	switch {
	case h.pkg == "" && h.run == "":
		return ""
	case h.run == "":
		return "<" + h.pkg + ">"
	case h.pkg == "":
		return "<#" + h.run + ">"
	}
	return "<" + h.pkg + "#" + h.run + ">"
}

// resolveAttr applies group prefixes to attribute keys.
func (h *CaliperHandler) resolveAttr(a slog.Attr) slog.Attr {
	if len(h.groups) == 0 {
		return a
	}
	key := a.Key
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return slog.Attr{Key: key, Value: a.Value}
}

func levelString(level slog.Level) string {
	switch {
	case level < slog.LevelInfo:
		return "debug"
	case level < slog.LevelWarn:
		return "info"
	case level < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func formatValue(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindDuration:
		return v.Duration().String()
	default:
		return fmt.Sprint(v.Any())
	}
}
