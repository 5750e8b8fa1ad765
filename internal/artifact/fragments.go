package artifact

import (
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/jakobhellermann/wasm-server-runner/internal/snippets"
)

// Fragment tables are dense; a stray huge index must not allocate gigabytes.
const maxInlineIndex = 1 << 16

// readFragments loads the snippets/ directory written next to generated
// bindings. <group>/inline<N>.js files become numbered fragments; every
// other .js file is a named module keyed by its slash-separated path.
func readFragments(fsys afero.Fs, dir string, logger *slog.Logger) (map[string][]string, map[string]string, error) {
	groups := make(map[string][]string)
	named := make(map[string]string)

	if exists, err := afero.DirExists(fsys, dir); err != nil || !exists {
		return groups, named, err
	}

	err := afero.Walk(fsys, dir, func(path string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(path), ".js") {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		body, err := afero.ReadFile(fsys, path)
		if err != nil {
			return err
		}

		group, name, nested := strings.Cut(rel, "/")
		if nested && !strings.Contains(name, "/") {
			index, err := snippets.ParseInlineName(name)
			switch {
			case err == nil && index < maxInlineIndex:
				fragments := groups[group]
				for len(fragments) <= index {
					fragments = append(fragments, "")
				}
				fragments[index] = string(body)
				groups[group] = fragments
				return nil
			case err == nil || !errors.Is(err, snippets.ErrInvalidName):
				logger.Warn("treating snippet with unusable index as a module", "path", rel)
			}
		}

		named[rel] = string(body)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	for group, fragments := range groups {
		for i, body := range fragments {
			if body == "" {
				logger.Warn("inline snippet missing", "path", group+"/"+snippets.InlineName(i))
			}
		}
	}
	return groups, named, nil
}
