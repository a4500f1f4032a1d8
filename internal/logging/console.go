package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// syncWriter serializes writes from handler clones sharing one sink.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// subject holds the fields the console handler lifts out of the key=value
// tail into the line prefix. The first value seen for each wins.
type subject struct {
	component string
	jobID     string
	stage     string
}

func (s *subject) capture(key string, v slog.Value) bool {
	var dst *string
	switch key {
	case FieldComponent:
		dst = &s.component
	case FieldJobID:
		dst = &s.jobID
	case FieldStage:
		dst = &s.stage
	default:
		return false
	}
	if *dst == "" {
		*dst = strings.TrimSpace(plainString(v))
	}
	return true
}

func (s subject) label() string {
	job := s.jobID
	if len(job) > 8 {
		job = job[:8]
	}
	switch {
	case job != "" && s.stage != "":
		return "job " + job + " (" + s.stage + ")"
	case job != "":
		return "job " + job
	}
	return s.stage
}

// consoleHandler renders one human-readable line per record:
//
//	2026-01-02T15:04:05Z INFO [workflow] job 01234567 (transcribing) - msg key=value
//
// Attrs added through WithAttrs are rendered once and reused.
type consoleHandler struct {
	out       *syncWriter
	level     slog.Leveler
	addSource bool
	prefix    string
	subject   subject
	rendered  string
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) *consoleHandler {
	return &consoleHandler{out: &syncWriter{w: w}, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, r slog.Record) error {
	subj := h.subject
	var tail strings.Builder
	tail.WriteString(h.rendered)
	r.Attrs(func(a slog.Attr) bool {
		appendAttr(&tail, &subj, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		msg = "(no message)"
	}

	var line strings.Builder
	line.Grow(64 + len(msg) + tail.Len())
	line.WriteString(ts.UTC().Format(time.RFC3339))
	line.WriteByte(' ')
	line.WriteString(levelName(r.Level))
	if subj.component != "" {
		fmt.Fprintf(&line, " [%s]", subj.component)
	}
	if label := subj.label(); label != "" {
		line.WriteByte(' ')
		line.WriteString(label)
	}
	line.WriteString(" - ")
	line.WriteString(msg)
	if h.addSource {
		if src := r.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&line, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	line.WriteString(tail.String())
	line.WriteByte('\n')
	_, err := io.WriteString(h.out, line.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	var b strings.Builder
	b.WriteString(h.rendered)
	for _, a := range attrs {
		appendAttr(&b, &next.subject, h.prefix, a)
	}
	next.rendered = b.String()
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}

// appendAttr writes a as " key=value", flattening groups into dotted keys.
// Top-level subject fields are captured instead of written.
func appendAttr(b *strings.Builder, subj *subject, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Value.Kind() == slog.KindGroup {
		inner := prefix
		if a.Key != "" {
			inner = prefix + a.Key + "."
		}
		for _, member := range a.Value.Group() {
			appendAttr(b, subj, inner, member)
		}
		return
	}
	if a.Key == "" {
		return
	}
	if prefix == "" && subj.capture(a.Key, a.Value) {
		return
	}
	b.WriteByte(' ')
	b.WriteString(prefix)
	b.WriteString(a.Key)
	b.WriteByte('=')
	b.WriteString(quoted(plainString(a.Value)))
}

func plainString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quoted(s string) string {
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return r <= ' ' || r == '=' || r == '"' }) < 0 {
		return s
	}
	return strconv.Quote(s)
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	}
	return "DEBUG"
}
