// Package logging configures the process-wide slog logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// LevelTrace sits below slog.LevelDebug. Browser console.trace output lands here.
const LevelTrace = slog.Level(-8)

// TargetKey is the attribute naming the component a record came from.
const TargetKey = "target"

// BrowserTarget tags records relayed from the page's console.
const BrowserTarget = "app"

// Option configures New.
type Option func(*targetFilter)

// WithTargetLevels sets per-target thresholds that replace the base level
// for records carrying a matching TargetKey attribute.
func WithTargetLevels(levels map[string]slog.Level) Option {
	return func(f *targetFilter) {
		for target, lvl := range levels {
			f.targets[target] = lvl
		}
	}
}

// New returns a text logger without timestamps, which keeps the terminal
// output readable next to a browser console.
func New(w io.Writer, level slog.Leveler, opts ...Option) *slog.Logger {
	f := &targetFilter{level: level, targets: make(map[string]slog.Level)}
	for _, opt := range opts {
		opt(f)
	}
	f.next = slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: leveler(f.minLevel),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return a
			}
			switch a.Key {
			case slog.TimeKey:
				return slog.Attr{}
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl < slog.LevelDebug {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
	return slog.New(f)
}

type leveler func() slog.Level

func (l leveler) Level() slog.Level { return l() }

// targetFilter applies the threshold of a record's target, falling back to
// the base level.
type targetFilter struct {
	next    slog.Handler
	level   slog.Leveler
	targets map[string]slog.Level
	target  string // from WithAttrs
}

func (h *targetFilter) minLevel() slog.Level {
	lowest := h.level.Level()
	for _, lvl := range h.targets {
		lowest = min(lowest, lvl)
	}
	return lowest
}

func (h *targetFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *targetFilter) Handle(ctx context.Context, r slog.Record) error {
	target := h.target
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == TargetKey {
			target = a.Value.String()
			return false
		}
		return true
	})

	threshold, ok := h.targets[target]
	if !ok {
		threshold = h.level.Level()
	}
	if r.Level < threshold {
		return nil
	}
	return h.next.Handle(ctx, r)
}

func (h *targetFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	for _, a := range attrs {
		if a.Key == TargetKey {
			c.target = a.Value.String()
		}
	}
	c.next = h.next.WithAttrs(attrs)
	return &c
}

func (h *targetFilter) WithGroup(name string) slog.Handler {
	c := *h
	c.next = h.next.WithGroup(name)
	return &c
}

// ParseLevel accepts trace, debug, info, warn and error in any case.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q, expected trace, debug, info, warn or error", s)
}

// Discard is a logger that drops everything, for tests and optional loggers.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
