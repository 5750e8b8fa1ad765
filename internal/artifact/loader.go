package artifact

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/spf13/afero"
)

//go:embed templates/loader.js.tmpl
var templateFS embed.FS

var loaderTemplate = template.Must(template.ParseFS(templateFS, "templates/loader.js.tmpl"))

// ErrGoRuntimeNotFound is returned when wasm_exec.js cannot be located.
var ErrGoRuntimeNotFound = errors.New("wasm_exec.js not found")

// wasm_exec.js moved from misc/wasm to lib/wasm in Go 1.24.
var goRuntimePaths = []string{
	filepath.Join("lib", "wasm", "wasm_exec.js"),
	filepath.Join("misc", "wasm", "wasm_exec.js"),
}

// synthesizeLoader renders an ES module whose default export instantiates
// the binary. goRuntime is the wasm_exec.js source, or "" for plain modules.
func synthesizeLoader(info *moduleInfo, goRuntime string) (string, error) {
	stubs := make(map[string][]string)
	for _, imp := range info.Imports {
		stubs[imp.Module] = append(stubs[imp.Module], imp.Name)
	}
	imports, err := json.Marshal(stubs)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	err = loaderTemplate.Execute(&buf, struct {
		GoRuntime string
		Imports   string
	}{
		GoRuntime: goRuntime,
		Imports:   string(imports),
	})
	if err != nil {
		return "", fmt.Errorf("rendering loader: %w", err)
	}
	return buf.String(), nil
}

// findGoRuntime reads wasm_exec.js from goroot, falling back to $GOROOT and
// then `go env GOROOT`.
func findGoRuntime(fsys afero.Fs, goroot string) (string, error) {
	if goroot == "" {
		goroot = os.Getenv("GOROOT")
	}
	if goroot == "" {
		out, err := exec.Command("go", "env", "GOROOT").Output()
		if err != nil {
			return "", fmt.Errorf("%w: resolving GOROOT: %w", ErrGoRuntimeNotFound, err)
		}
		goroot = strings.TrimSpace(string(out))
	}

	for _, rel := range goRuntimePaths {
		data, err := afero.ReadFile(fsys, filepath.Join(goroot, rel))
		if err == nil {
			return string(data), nil
		}
	}
	return "", fmt.Errorf("%w in %s", ErrGoRuntimeNotFound, goroot)
}
