package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/braingenix/bglog/internal/model"
)

// Handler is a slog.Handler that feeds records into a Logger, so code
// written against log/slog lands in the same file and store.
//
// The "module" and "fn" attributes, when present, fill the call site.
// Everything else is appended to the message as key=value pairs.
type Handler struct {
	l      *Logger
	module string
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a handler writing to l under the given module name.
// A nil level enables everything.
func NewHandler(l *Logger, module string, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelDebug
	}
	return &Handler{l: l, module: module, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	site := model.Site(h.module, "")
	var extra []string

	add := func(a slog.Attr) {
		a.Value = a.Value.Resolve()
		switch a.Key {
		case "component", "module":
			site.Module = a.Value.String()
			return
		case "fn":
			site.Function = a.Value.String()
			return
		}
		if a.Equal(slog.Attr{}) {
			return
		}
		key := a.Key
		if len(h.groups) > 0 {
			key = strings.Join(h.groups, ".") + "." + key
		}
		extra = append(extra, fmt.Sprintf("%s=%v", key, a.Value.Any()))
	}

	for _, a := range h.attrs {
		add(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		add(a)
		return true
	})

	msg := r.Message
	if len(extra) > 0 {
		msg += " " + strings.Join(extra, " ")
	}
	h.l.Log(site, msg, levelFromSlog(r.Level))
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	h2 := *h
	h2.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &h2
}

func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	h2 := *h
	h2.groups = append(append([]string(nil), h.groups...), name)
	return &h2
}

func levelFromSlog(l slog.Level) model.Level {
	switch {
	case l >= slog.LevelError+4:
		return model.LevelFatal
	case l >= slog.LevelError:
		return model.LevelError
	case l >= slog.LevelWarn:
		return model.LevelWarning
	default:
		return model.LevelInfo
	}
}
