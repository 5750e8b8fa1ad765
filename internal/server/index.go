package server

import (
	_ "embed"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"

	"github.com/spf13/afero"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"

	"github.com/jakobhellermann/wasm-server-runner/internal/config"
)

//go:embed static/index.html
var defaultIndex string

const (
	noModuleScript = `<script src="./api/wasm.js"></script>`
	moduleImport   = `import wasm_bindgen from './api/wasm.js';`
)

// loadIndex returns the custom index page if configured, else the bundled one.
func loadIndex(fsys afero.Fs, opts *config.Options) (string, error) {
	path := opts.IndexHTMLPath()
	if path == "" {
		return defaultIndex, nil
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return "", fmt.Errorf("reading custom index %s: %w", path, err)
	}
	return string(data), nil
}

// renderIndex fills the page placeholders for the selected script mode.
func renderIndex(source, title string, noModule bool) string {
	page := strings.ReplaceAll(source, "{{ TITLE }}", title)
	if noModule {
		page = strings.ReplaceAll(page, "{{ NO_MODULE }}", noModuleScript)
		return strings.ReplaceAll(page, "// {{ MODULE }}", "")
	}
	page = strings.ReplaceAll(page, "// {{ MODULE }}", moduleImport)
	return strings.ReplaceAll(page, "{{ NO_MODULE }}", "")
}

func newMinifier() *minify.M {
	m := minify.New()
	m.AddFunc("text/html", html.Minify)
	m.AddFunc("text/css", css.Minify)
	m.AddFuncRegexp(regexp.MustCompile("^(application|text)/(x-)?(java|ecma)script$"), js.Minify)
	return m
}

// minifyIndex returns page unchanged if the minifier rejects it.
func minifyIndex(m *minify.M, page string) (string, error) {
	out, err := m.String("text/html", page)
	if err != nil {
		return page, err
	}
	return out, nil
}

const versionAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// generateVersion returns the per-process token pages poll to detect restarts.
func generateVersion() string {
	b := make([]byte, 12)
	for i := range b {
		b[i] = versionAlphabet[rand.IntN(len(versionAlphabet))]
	}
	return string(b)
}
