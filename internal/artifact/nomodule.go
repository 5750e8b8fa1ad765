package artifact

import (
	"fmt"
	"path"
	"strings"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/jakobhellermann/wasm-server-runner/internal/snippets"
)

// GlobalName is the global the no-module script defines.
const GlobalName = "wasm_bindgen"

const snippetsNamespace = "wasm-snippets"

// Calling the global initializes the module; the other exports hang off it.
var noModuleFooter = GlobalName + " = Object.assign(" + GlobalName + ".default, " + GlobalName + ");"

// toNoModule bundles the ES module script, including any imported snippets,
// into a classic script that defines the wasm_bindgen global.
func toNoModule(script string, namedModules map[string]string, groups map[string][]string) (string, error) {
	result := api.Build(api.BuildOptions{
		Stdin: &api.StdinOptions{
			Contents:   script,
			Sourcefile: "wasm.js",
			Loader:     api.LoaderJS,
		},
		Bundle:     true,
		Write:      false,
		Format:     api.FormatIIFE,
		GlobalName: GlobalName,
		Footer:     map[string]string{"js": noModuleFooter},
		LogLevel:   api.LogLevelSilent,
		Plugins:    []api.Plugin{snippetPlugin(namedModules, groups)},
	})
	if len(result.Errors) > 0 {
		msgs := make([]string, 0, len(result.Errors))
		for _, m := range result.Errors {
			msgs = append(msgs, m.Text)
		}
		return "", fmt.Errorf("esbuild failed with %d errors: %s", len(result.Errors), strings.Join(msgs, "; "))
	}
	if len(result.OutputFiles) == 0 {
		return "", fmt.Errorf("esbuild produced no output")
	}
	return string(result.OutputFiles[0].Contents), nil
}

// snippetPlugin serves ./snippets/ imports from memory, the same table the
// /api/snippets route resolves against.
func snippetPlugin(namedModules map[string]string, groups map[string][]string) api.Plugin {
	return api.Plugin{
		Name: "snippets",
		Setup: func(build api.PluginBuild) {
			build.OnResolve(api.OnResolveOptions{Filter: `^\./snippets/`},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      strings.TrimPrefix(args.Path, "./snippets/"),
						Namespace: snippetsNamespace,
					}, nil
				})
			build.OnResolve(api.OnResolveOptions{Filter: `^\.\.?/`, Namespace: snippetsNamespace},
				func(args api.OnResolveArgs) (api.OnResolveResult, error) {
					return api.OnResolveResult{
						Path:      path.Join(path.Dir(args.Importer), args.Path),
						Namespace: snippetsNamespace,
					}, nil
				})
			build.OnLoad(api.OnLoadOptions{Filter: `.*`, Namespace: snippetsNamespace},
				func(args api.OnLoadArgs) (api.OnLoadResult, error) {
					body, err := snippets.Resolve(args.Path, namedModules, groups)
					if err != nil {
						return api.OnLoadResult{}, err
					}
					return api.OnLoadResult{Contents: &body, Loader: api.LoaderJS}, nil
				})
		},
	}
}
