package artifact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
)

// ErrInvalidModule is returned when the input is not a loadable WebAssembly module.
var ErrInvalidModule = errors.New("invalid wasm module")

var wasmMagic = []byte{0x00, 'a', 's', 'm'}

// goImportModules are the import namespaces of GOOS=js binaries.
var goImportModules = []string{"gojs", "go"}

// Import is one function the module expects from its host.
type Import struct {
	Module string
	Name   string
}

type moduleInfo struct {
	Imports []Import
	Exports []string
}

// UsesGoRuntime reports whether the module was built with GOOS=js.
func (m *moduleInfo) UsesGoRuntime() bool {
	for _, imp := range m.Imports {
		if slices.Contains(goImportModules, imp.Module) {
			return true
		}
	}
	return false
}

// inspect validates binary and lists its function imports and exports.
func inspect(ctx context.Context, binary []byte) (*moduleInfo, error) {
	if !bytes.HasPrefix(binary, wasmMagic) {
		return nil, fmt.Errorf("%w: missing \\0asm header", ErrInvalidModule)
	}

	cfg := wazero.NewRuntimeConfigInterpreter().
		WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	rt := wazero.NewRuntimeWithConfig(ctx, cfg)
	defer func() { _ = rt.Close(ctx) }()

	compiled, err := rt.CompileModule(ctx, binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidModule, err)
	}
	defer func() { _ = compiled.Close(ctx) }()

	info := &moduleInfo{}
	for _, fn := range compiled.ImportedFunctions() {
		module, name, _ := fn.Import()
		info.Imports = append(info.Imports, Import{Module: module, Name: name})
	}
	for name := range compiled.ExportedFunctions() {
		info.Exports = append(info.Exports, name)
	}
	slices.Sort(info.Exports)
	return info, nil
}
