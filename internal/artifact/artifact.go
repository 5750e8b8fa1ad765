// Package artifact turns a compiled .wasm file into the assets the browser
// loads: a loader script, the binary and its compressed variants, and the
// JavaScript snippets the bindings import.
package artifact

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
)

// Output is generated once per process and only read afterwards.
type Output struct {
	Script string
	Binary []byte

	// Variants holds the precompressed binary keyed by Content-Encoding token.
	Variants map[string][]byte

	FragmentGroups map[string][]string
	NamedModules   map[string]string

	ScriptETag string
	// BinaryETags is keyed like Variants; "" is the uncompressed binary.
	BinaryETags map[string]string
}

// Options controls generation.
type Options struct {
	NoModule         bool
	CompressionLevel int
	// GoRoot locates wasm_exec.js for GOOS=js binaries; empty means ask the go tool.
	GoRoot string
	Logger *slog.Logger
}

// Generate reads inputPath and builds every served asset from it.
func Generate(ctx context.Context, fsys afero.Fs, inputPath string, opts Options) (*Output, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	binary, err := afero.ReadFile(fsys, inputPath)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", inputPath, err)
	}

	info, err := inspect(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inputPath, err)
	}

	dir := filepath.Dir(inputPath)
	groups, named, err := readFragments(fsys, filepath.Join(dir, "snippets"), logger)
	if err != nil {
		return nil, fmt.Errorf("reading snippets: %w", err)
	}

	script, err := loadScript(fsys, inputPath, info, opts.GoRoot, logger)
	if err != nil {
		return nil, err
	}
	if opts.NoModule {
		if script, err = toNoModule(script, named, groups); err != nil {
			return nil, fmt.Errorf("converting script to no-module form: %w", err)
		}
	}

	variants, err := Compress(binary, opts.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("compressing %s: %w", inputPath, err)
	}

	out := &Output{
		Script:         script,
		Binary:         binary,
		Variants:       variants,
		FragmentGroups: groups,
		NamedModules:   named,
		ScriptETag:     ETag([]byte(script)),
		BinaryETags:    map[string]string{"": ETag(binary)},
	}
	for enc, data := range variants {
		out.BinaryETags[enc] = ETag(data)
	}
	return out, nil
}

// loadScript prefers bindings generated next to the binary and otherwise
// synthesizes a loader.
func loadScript(fsys afero.Fs, inputPath string, info *moduleInfo, goroot string, logger *slog.Logger) (string, error) {
	bindings := strings.TrimSuffix(inputPath, filepath.Ext(inputPath)) + ".js"
	data, err := afero.ReadFile(fsys, bindings)
	if err == nil {
		logger.Debug("using generated bindings", "path", bindings)
		return string(data), nil
	}
	if exists, _ := afero.Exists(fsys, bindings); exists {
		return "", fmt.Errorf("reading %s: %w", bindings, err)
	}

	var goRuntime string
	if info.UsesGoRuntime() {
		goRuntime, err = findGoRuntime(fsys, goroot)
		if err != nil {
			logger.Warn("module imports the Go runtime but wasm_exec.js was not found", "error", err)
		}
	}
	return synthesizeLoader(info, goRuntime)
}

// ETag returns a strong entity tag derived from the blake3 hash of data.
func ETag(data []byte) string {
	sum := blake3.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
