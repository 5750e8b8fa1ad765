package server

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jakobhellermann/wasm-server-runner/internal/artifact"
	"github.com/jakobhellermann/wasm-server-runner/internal/snippets"
)

const (
	contentTypeHTML = "text/html; charset=utf-8"
	contentTypeJS   = "application/javascript"
	contentTypeWasm = "application/wasm"
	contentTypeText = "text/plain; charset=utf-8"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeHTML)
	w.Header().Set("Cache-Control", "no-cache")
	_, _ = io.WriteString(w, s.index)
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	serveGenerated(w, r, "wasm.js", contentTypeJS, s.output.ScriptETag, []byte(s.output.Script))
}

// handleBinary serves the best precompressed variant the client accepts.
func (s *Server) handleBinary(w http.ResponseWriter, r *http.Request) {
	w.Header().Add("Vary", "Accept-Encoding")

	data := s.output.Binary
	enc := artifact.Negotiate(r.Header.Get("Accept-Encoding"), s.output.Variants)
	if enc != "" {
		data = s.output.Variants[enc]
		w.Header().Set("Content-Encoding", enc)
	}
	serveGenerated(w, r, "wasm.wasm", contentTypeWasm, s.output.BinaryETags[enc], data)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", contentTypeText)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, s.version)
}

func (s *Server) handleSnippet(w http.ResponseWriter, r *http.Request) {
	path := chi.URLParam(r, "*")
	source, err := snippets.Resolve(path, s.output.NamedModules, s.output.FragmentGroups)
	if err != nil {
		s.logger.Error("failed to serve snippet", "path", path, "error", err)
		w.Header().Set("Content-Type", contentTypeText)
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	w.Header().Set("Content-Type", contentTypeJS)
	_, _ = io.WriteString(w, source)
}

// serveGenerated answers conditional and range requests for in-memory assets.
func serveGenerated(w http.ResponseWriter, r *http.Request, name, contentType, etag string, data []byte) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	h.Set("Cache-Control", "no-cache")
	if etag != "" {
		h.Set("ETag", etag)
	}
	http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
}
