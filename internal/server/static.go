package server

import (
	"errors"
	"io/fs"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// handleStatic serves the developer's directory. Missing files are plain
// 404s; any other filesystem failure is a 500 carrying the error text.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "405 - Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	reqPath := normalizeRequestPath(r.URL.Path)

	// Validate path to prevent traversal attacks
	fullPath, err := validatePath(s.opts.Directory, reqPath)
	if err != nil {
		s.logger.Warn("rejected static path", "path", r.URL.Path, "error", err)
		http.Error(w, "403 - Forbidden: Invalid path", http.StatusForbidden)
		return
	}

	info, err := s.fs.Stat(fullPath)
	if err != nil {
		s.fileError(w, r, err)
		return
	}

	if info.IsDir() {
		if !strings.HasSuffix(r.URL.Path, "/") {
			target := r.URL.Path + "/"
			if r.URL.RawQuery != "" {
				target += "?" + r.URL.RawQuery
			}
			http.Redirect(w, r, target, http.StatusMovedPermanently)
			return
		}
		fullPath = filepath.Join(fullPath, "index.html")
		if info, err = s.fs.Stat(fullPath); err != nil {
			s.fileError(w, r, err)
			return
		}
	}

	f, err := s.fs.Open(fullPath)
	if err != nil {
		s.fileError(w, r, err)
		return
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			s.logger.Warn("Failed to close file", "path", fullPath, "error", cerr)
		}
	}()

	// Long-lived caching only for content-hashed names
	filename := info.Name()
	if isHashedAsset(filename) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	} else {
		w.Header().Set("Cache-Control", "no-cache")
	}

	http.ServeContent(w, r, filename, info.ModTime(), f)
}

func (s *Server) fileError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		s.notFound(w)
		return
	}
	s.logger.Error("failed to serve static file", "path", r.URL.Path, "error", err)
	http.Error(w, "Unhandled internal error: "+err.Error(), http.StatusInternalServerError)
}

// notFound uses the directory's 404.html when it has one.
func (s *Server) notFound(w http.ResponseWriter) {
	content, err := afero.ReadFile(s.fs, filepath.Join(s.opts.Directory, "404.html"))
	if err != nil {
		http.Error(w, "404 - Page Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusNotFound)
	_, _ = w.Write(content)
}
