// Package config loads the per-run Options from environment variables.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/afero"

	"github.com/jakobhellermann/wasm-server-runner/internal/logging"
)

// EnvPrefix is shared by every environment variable the runner reads.
const EnvPrefix = "WASM_SERVER_RUNNER_"

const (
	EnvAddress         = EnvPrefix + "ADDRESS"
	EnvDirectory       = EnvPrefix + "DIRECTORY"
	EnvHTTPS           = EnvPrefix + "HTTPS"
	EnvNoModule        = EnvPrefix + "NO_MODULE"
	EnvCustomIndexHTML = EnvPrefix + "CUSTOM_INDEX_HTML"
	EnvTitle           = EnvPrefix + "TITLE"
	EnvWatch           = EnvPrefix + "WATCH"
	EnvLog             = EnvPrefix + "LOG"
	EnvConfig          = EnvPrefix + "CONFIG"
)

var (
	trueTokens  = []string{"true", "1", "yes"}
	falseTokens = []string{"false", "0", "no"}
)

// Options is the immutable configuration of one run.
type Options struct {
	Title           string
	Address         string // host, optionally with :port
	Directory       string // serve root for static files
	CustomIndexHTML string // relative paths resolve against Directory
	HTTPS           bool
	NoModule        bool
	Watch           bool
	LogLevel        slog.Level
	// TargetLevels overrides LogLevel per log target. Browser output shows
	// at debug unless a level is set explicitly.
	TargetLevels map[string]slog.Level
	Tunables     *Tunables
}

// IndexHTMLPath returns the custom index page path, or "" when the bundled
// page should be used.
func (o *Options) IndexHTMLPath() string {
	if o.CustomIndexHTML == "" {
		return ""
	}
	if filepath.IsAbs(o.CustomIndexHTML) {
		return o.CustomIndexHTML
	}
	return filepath.Join(o.Directory, o.CustomIndexHTML)
}

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(string) (string, bool)

// UnexpectedOptionError reports a boolean variable with an unrecognized value.
type UnexpectedOptionError struct {
	Name  string
	Value string
}

func (e UnexpectedOptionError) Error() string {
	return fmt.Sprintf("unexpected option %s=%s, expected %s or %s",
		e.Name, e.Value, strings.Join(trueTokens, ","), strings.Join(falseTokens, ","))
}

// Load builds Options from the environment. inputPath is the wasm file being
// served; its stem is the fallback title.
func Load(lookup LookupFunc, fsys afero.Fs, inputPath string) (*Options, error) {
	var err error
	opts := &Options{
		Address:         option(lookup, EnvAddress, "127.0.0.1"),
		Directory:       option(lookup, EnvDirectory, "."),
		CustomIndexHTML: option(lookup, EnvCustomIndexHTML, ""),
	}

	opts.Title = option(lookup, EnvTitle, "")
	if opts.Title == "" {
		// cargo run sets this for the runner, keep honoring it
		opts.Title = option(lookup, "CARGO_PKG_NAME", "")
	}
	if opts.Title == "" {
		opts.Title = strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	}

	if opts.HTTPS, err = BoolOption(lookup, EnvHTTPS, false); err != nil {
		return nil, err
	}
	if opts.NoModule, err = BoolOption(lookup, EnvNoModule, false); err != nil {
		return nil, err
	}
	if opts.Watch, err = BoolOption(lookup, EnvWatch, false); err != nil {
		return nil, err
	}
	if opts.LogLevel, err = logging.ParseLevel(option(lookup, EnvLog, "info")); err != nil {
		return nil, fmt.Errorf("%s: %w", EnvLog, err)
	}
	if _, set := lookup(EnvLog); !set {
		opts.TargetLevels = map[string]slog.Level{logging.BrowserTarget: slog.LevelDebug}
	}
	if opts.Tunables, err = LoadTunables(fsys, option(lookup, EnvConfig, DefaultConfigFile)); err != nil {
		return nil, err
	}

	return opts, nil
}

// BoolOption reads name as a boolean, returning def when it is unset.
func BoolOption(lookup LookupFunc, name string, def bool) (bool, error) {
	value, ok := lookup(name)
	switch {
	case !ok:
		return def, nil
	case slices.Contains(trueTokens, value):
		return true, nil
	case slices.Contains(falseTokens, value):
		return false, nil
	}
	return false, UnexpectedOptionError{Name: name, Value: value}
}

func option(lookup LookupFunc, name, def string) string {
	if value, ok := lookup(name); ok {
		return value
	}
	return def
}

// EnvHelp writes the supported environment variables and their defaults.
func EnvHelp(w io.Writer) {
	fmt.Fprintln(w, "Environment variables:")
	for _, v := range []struct{ name, def string }{
		{EnvAddress, "127.0.0.1 (a free port is picked when none is given)"},
		{EnvDirectory, "."},
		{EnvHTTPS, "false"},
		{EnvNoModule, "false"},
		{EnvCustomIndexHTML, "(bundled index.html)"},
		{EnvTitle, "$CARGO_PKG_NAME or the wasm file name"},
		{EnvWatch, "false"},
		{EnvLog, "info"},
		{EnvConfig, DefaultConfigFile},
	} {
		fmt.Fprintf(w, "  %-38s %s\n", v.name, v.def)
	}
}
