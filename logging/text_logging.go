package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"unicode"
	"unicode/utf8"
)

// TextHandler writes one line per record, prefixed with the logger's
// instanceID so the output of a coordinator and its in-process workers can be
// told apart and filtered.
type TextHandler struct {
	instanceID string
	prefix     string // Dotted group names applied to attribute keys
	attrs      []slog.Attr
	mu         *sync.Mutex // Shared by all derived handlers to serialize writes
	w          io.Writer
}

func NewTextHandler() *TextHandler {
	return NewTextHandlerTo(os.Stderr)
}

func NewTextHandlerTo(w io.Writer) *TextHandler {
	return &TextHandler{
		instanceID: "root",
		mu:         &sync.Mutex{},
		w:          w,
	}
}

func (h *TextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= globalLevel.Level()
}

func (h *TextHandler) Handle(ctx context.Context, r slog.Record) error {
	buf := make([]byte, 0, 1024)
	buf = fmt.Appendf(buf, "%s %s [%s] %s", r.Time.Format("2006/01/02 15:04:05"), r.Level, h.instanceID, r.Message)
	for _, a := range h.attrs {
		buf = appendAttr(buf, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		buf = appendAttr(buf, h.prefix, a)
		return true
	})
	buf = append(buf, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf)
	return err
}

// WithAttrs lifts an instanceID attribute into the line prefix.
func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := h.clone()
	attrs = slices.Clone(attrs)
	if i := slices.IndexFunc(attrs, func(a slog.Attr) bool { return a.Key == "instanceID" }); i >= 0 {
		next.instanceID = attrs[i].Value.String()
		attrs = slices.Delete(attrs, i, i+1)
	}
	for _, a := range attrs {
		next.attrs = append(next.attrs, slog.Attr{Key: h.prefix + a.Key, Value: a.Value})
	}
	return next
}

func (h *TextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := h.clone()
	next.prefix = h.prefix + name + "."
	return next
}

func (h *TextHandler) clone() *TextHandler {
	return &TextHandler{
		instanceID: h.instanceID,
		prefix:     h.prefix,
		attrs:      slices.Clip(h.attrs),
		mu:         h.mu,
		w:          h.w,
	}
}

func appendAttr(buf []byte, prefix string, a slog.Attr) []byte {
	if a.Equal(slog.Attr{}) {
		return buf
	}
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			buf = appendAttr(buf, prefix+a.Key+".", ga)
		}
		return buf
	}
	buf = fmt.Appendf(buf, " %s%s=", prefix, a.Key)
	return appendValue(buf, a.Value.Resolve())
}

// Append a value to the buffer wrapping in quotes if needed.
func appendValue(buf []byte, value slog.Value) []byte {
	s := value.String()
	if needsQuoting(s) {
		return fmt.Appendf(buf, "%q", s)
	}
	return append(buf, s...)
}

// Only spaces, `=` and unprintable runes need quoting for this format.
func needsQuoting(s string) bool {
	if len(s) == 0 {
		return true
	}
	for i := 0; i < len(s); {
		b := s[i]
		if b < utf8.RuneSelf {
			if b == ' ' || b == '=' || b == '"' {
				return true
			}
			i++
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError || unicode.IsSpace(r) || !unicode.IsPrint(r) {
			return true
		}
		i += size
	}
	return false
}
