package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ChannelHandler formats records as single lines and delivers them to a
// channel. Lines are dropped when the consumer falls behind.
type ChannelHandler struct {
	ch     chan<- string
	level  slog.Leveler
	attrs  []slog.Attr
	prefix string
}

// NewChannelHandler sends records at or above level to ch.
func NewChannelHandler(ch chan<- string, level slog.Leveler) *ChannelHandler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &ChannelHandler{ch: ch, level: level}
}

func (h *ChannelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *ChannelHandler) Handle(_ context.Context, record slog.Record) error {
	var sb strings.Builder
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	fmt.Fprintf(&sb, "[%s] ", ts.Format("15:04:05"))
	if record.Level != slog.LevelInfo {
		sb.WriteString(record.Level.String())
		sb.WriteByte(' ')
	}
	sb.WriteString(record.Message)

	write := func(a slog.Attr) {
		if a.Key == FieldComponent || a.Equal(slog.Attr{}) {
			return
		}
		fmt.Fprintf(&sb, " %s%s=%v", h.prefix, a.Key, a.Value.Resolve())
	}
	for _, a := range h.attrs {
		write(a)
	}
	record.Attrs(func(a slog.Attr) bool {
		write(a)
		return true
	})

	select {
	case h.ch <- sb.String():
	default:
		// drop if channel full
	}
	return nil
}

func (h *ChannelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &next
}

func (h *ChannelHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.prefix = h.prefix + name + "."
	return &next
}
