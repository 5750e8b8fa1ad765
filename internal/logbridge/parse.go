package logbridge

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jakobhellermann/wasm-server-runner/internal/logging"
)

// ErrMissingSeparator is returned for messages without a "level," prefix.
var ErrMissingSeparator = errors.New("missing ',' between level and text")

// UnknownLevelError reports a level outside log, trace, debug, info, warn, error.
type UnknownLevelError struct {
	Level string
}

func (e UnknownLevelError) Error() string {
	return fmt.Sprintf("unexpected log level %q", e.Level)
}

// Message is one browser log line.
type Message struct {
	Level slog.Level
	Text  string
}

var levels = map[string]slog.Level{
	"log":   slog.LevelInfo,
	"trace": logging.LevelTrace,
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// Formatted Rust log lines carry their own level, which wins over the
// console method they were printed with.
var textPrefixes = []struct {
	prefix string
	level  string
}{
	{"TRACE ", "trace"},
	{"DEBUG ", "debug"},
	{"INFO ", "info"},
	{"WARN ", "warn"},
	{"ERROR ", "error"},
}

// Parse decodes a "level,text" frame.
func Parse(frame string) (Message, error) {
	level, text, ok := strings.Cut(frame, ",")
	if !ok {
		return Message{}, ErrMissingSeparator
	}

	for _, p := range textPrefixes {
		if rest, found := strings.CutPrefix(text, p.prefix); found {
			level, text = p.level, rest
			break
		}
	}

	lvl, ok := levels[level]
	if !ok {
		return Message{}, UnknownLevelError{Level: level}
	}
	return Message{Level: lvl, Text: text}, nil
}
