package server

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/afero"

	"github.com/jakobhellermann/wasm-server-runner/internal/artifact"
	"github.com/jakobhellermann/wasm-server-runner/internal/certificate"
	"github.com/jakobhellermann/wasm-server-runner/internal/config"
	"github.com/jakobhellermann/wasm-server-runner/internal/logging"
	"github.com/jakobhellermann/wasm-server-runner/internal/testutil"
)

const testScript = "export default function init() {}"

func testOptions() *config.Options {
	tunables := config.DefaultTunables()
	tunables.MinifyIndex = false
	tunables.ShutdownTimeout = 2 * time.Second
	tunables.DebounceDuration = 20 * time.Millisecond
	return &config.Options{
		Title:     "demo",
		Address:   "127.0.0.1",
		Directory: "/www",
		LogLevel:  logging.LevelTrace,
		Tunables:  tunables,
	}
}

func testOutput() *artifact.Output {
	return &artifact.Output{
		Script: testScript,
		Binary: []byte("\x00asm\x01\x00\x00\x00"),
		Variants: map[string][]byte{
			artifact.EncodingBrotli: []byte("br-bytes"),
			artifact.EncodingGzip:   []byte("gzip-bytes"),
		},
		FragmentGroups: map[string][]string{"foo": {"a", "b", "c", "d"}},
		NamedModules:   map[string]string{"foo/inline0.js": "named module"},
		ScriptETag:     `"script"`,
		BinaryETags: map[string]string{
			"":                      `"identity"`,
			artifact.EncodingBrotli: `"br"`,
			artifact.EncodingGzip:   `"gzip"`,
		},
	}
}

func newTestServer(t *testing.T, opts *config.Options, fsys afero.Fs) *Server {
	t.Helper()
	if fsys == nil {
		fsys = afero.NewMemMapFs()
	}
	s, err := New(opts, testOutput(), logging.Discard(),
		WithFs(fsys),
		WithCertificates(certificate.NewManager(
			certificate.WithFs(afero.NewMemMapFs()),
			certificate.WithDir("/certs"),
			certificate.WithLogger(logging.Discard()),
		)),
	)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s
}

func get(t *testing.T, h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIndex_ModuleMode(t *testing.T) {
	s := newTestServer(t, testOptions(), nil)
	rec := get(t, s.Handler(), "/", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("GET / status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "<title>demo</title>") {
		t.Error("index should carry the title")
	}
	if !strings.Contains(body, moduleImport) {
		t.Error("module mode should import the script")
	}
	if strings.Contains(body, "{{") {
		t.Error("all placeholders should be replaced")
	}
	if got := rec.Header().Get(headerCOOP); got != "same-origin" {
		t.Errorf("%s = %q, want same-origin", headerCOOP, got)
	}
	if got := rec.Header().Get(headerCOEP); got != "require-corp" {
		t.Errorf("%s = %q, want require-corp", headerCOEP, got)
	}
	if got := rec.Header().Get("Content-Type"); !strings.HasPrefix(got, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", got)
	}
}

func TestIndex_NoModuleMode(t *testing.T) {
	opts := testOptions()
	opts.NoModule = true
	body := get(t, newTestServer(t, opts, nil).Handler(), "/", nil).Body.String()

	if !strings.Contains(body, noModuleScript) {
		t.Error("no-module mode should load the script with a classic tag")
	}
	if strings.Contains(body, moduleImport) || strings.Contains(body, "{{") {
		t.Error("no-module mode should neither import the script nor leave placeholders")
	}
}

func TestIndex_Custom(t *testing.T) {
	fsys := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"/www/custom.html": `<title>{{ TITLE }}</title>{{ NO_MODULE }}<script type="module">// {{ MODULE }}</script>`,
	})
	opts := testOptions()
	opts.CustomIndexHTML = "custom.html"

	body := get(t, newTestServer(t, opts, fsys).Handler(), "/", nil).Body.String()
	want := `<title>demo</title><script type="module">import wasm_bindgen from './api/wasm.js';</script>`
	if body != want {
		t.Errorf("GET / = %q, want %q", body, want)
	}
}

func TestNew_MissingCustomIndex(t *testing.T) {
	opts := testOptions()
	opts.CustomIndexHTML = "missing.html"
	if _, err := New(opts, testOutput(), logging.Discard(), WithFs(afero.NewMemMapFs())); err == nil {
		t.Error("New() should fail when the custom index cannot be read")
	}
}

func TestIndex_Minified(t *testing.T) {
	opts := testOptions()
	opts.Tunables.MinifyIndex = true
	body := get(t, newTestServer(t, opts, nil).Handler(), "/", nil).Body.String()

	unminified := renderIndex(defaultIndex, "demo", false)
	if len(body) >= len(unminified) {
		t.Errorf("minified index is %d bytes, want fewer than %d", len(body), len(unminified))
	}
	if !strings.Contains(body, "./api/wasm.js") {
		t.Error("minified index should still import the script")
	}
}

func TestScript_ETag(t *testing.T) {
	h := newTestServer(t, testOptions(), nil).Handler()

	rec := get(t, h, "/api/wasm.js", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != testScript {
		t.Fatalf("GET /api/wasm.js = %d %q", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != contentTypeJS {
		t.Errorf("Content-Type = %q, want %q", got, contentTypeJS)
	}
	if got := rec.Header().Get("ETag"); got != `"script"` {
		t.Errorf("ETag = %q", got)
	}

	rec = get(t, h, "/api/wasm.js", map[string]string{"If-None-Match": `"script"`})
	if rec.Code != http.StatusNotModified {
		t.Errorf("conditional GET status = %d, want 304", rec.Code)
	}
}

func TestBinary_ContentNegotiation(t *testing.T) {
	h := newTestServer(t, testOptions(), nil).Handler()

	tests := []struct {
		accept       string
		wantEncoding string
		wantBody     string
		wantETag     string
	}{
		{"", "", "\x00asm\x01\x00\x00\x00", `"identity"`},
		{"gzip", "gzip", "gzip-bytes", `"gzip"`},
		{"gzip, deflate, br", "br", "br-bytes", `"br"`},
		{"br;q=0, gzip", "gzip", "gzip-bytes", `"gzip"`},
	}

	for _, tt := range tests {
		rec := get(t, h, "/api/wasm.wasm", map[string]string{"Accept-Encoding": tt.accept})
		if rec.Code != http.StatusOK {
			t.Fatalf("Accept-Encoding %q: status = %d", tt.accept, rec.Code)
		}
		if got := rec.Header().Get("Content-Encoding"); got != tt.wantEncoding {
			t.Errorf("Accept-Encoding %q: Content-Encoding = %q, want %q", tt.accept, got, tt.wantEncoding)
		}
		if got := rec.Body.String(); got != tt.wantBody {
			t.Errorf("Accept-Encoding %q: body = %q, want %q", tt.accept, got, tt.wantBody)
		}
		if got := rec.Header().Get("ETag"); got != tt.wantETag {
			t.Errorf("Accept-Encoding %q: ETag = %q, want %q", tt.accept, got, tt.wantETag)
		}
		if got := rec.Header().Get("Content-Type"); got != contentTypeWasm {
			t.Errorf("Content-Type = %q, want %q", got, contentTypeWasm)
		}
		if !strings.Contains(strings.Join(rec.Header().Values("Vary"), ","), "Accept-Encoding") {
			t.Errorf("Vary = %q, want Accept-Encoding", rec.Header().Values("Vary"))
		}
	}

	req := httptest.NewRequest(http.MethodHead, "/api/wasm.wasm", nil)
	req.Header.Set("Accept-Encoding", "br")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("HEAD /api/wasm.wasm status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() != 0 {
		t.Errorf("HEAD /api/wasm.wasm wrote %d body bytes, want none", rec.Body.Len())
	}
	if got := rec.Header().Get("Content-Encoding"); got != "br" {
		t.Errorf("HEAD Content-Encoding = %q, want br", got)
	}
	if got := rec.Header().Get("ETag"); got != `"br"` {
		t.Errorf("HEAD ETag = %q, want the br variant's", got)
	}
}

func TestHead_GeneratedRoutes(t *testing.T) {
	h := newTestServer(t, testOptions(), nil).Handler()

	tests := []struct {
		path        string
		contentType string
	}{
		{"/", contentTypeHTML},
		{"/api/wasm.js", contentTypeJS},
		{"/api/version", contentTypeText},
		{"/api/snippets/foo/inline3.js", contentTypeJS},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodHead, tt.path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("HEAD %s status = %d, want 200", tt.path, rec.Code)
		}
		if got := rec.Header().Get("Content-Type"); got != tt.contentType {
			t.Errorf("HEAD %s Content-Type = %q, want %q", tt.path, got, tt.contentType)
		}
	}
}

func TestVersion(t *testing.T) {
	h := newTestServer(t, testOptions(), nil).Handler()

	first := get(t, h, "/api/version", nil).Body.String()
	if !regexp.MustCompile(`^[A-Za-z0-9]{12}$`).MatchString(first) {
		t.Errorf("version = %q, want 12 alphanumeric characters", first)
	}
	if second := get(t, h, "/api/version", nil).Body.String(); second != first {
		t.Errorf("version changed within one process: %q then %q", first, second)
	}
}

func TestSnippets(t *testing.T) {
	h := newTestServer(t, testOptions(), nil).Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/api/snippets/foo/inline3.js", http.StatusOK, "d"},
		{"/api/snippets/foo/inline0.js", http.StatusOK, "named module"},
		{"/api/snippets/foo/inline10.js", http.StatusNotFound, "snippet index out of bounds"},
		{"/api/snippets/unknownpath.js", http.StatusNotFound, "invalid snippet path"},
		{"/api/snippets/bar/inline0.js", http.StatusNotFound, "invalid snippet name"},
		{"/api/snippets/foo/module.js", http.StatusNotFound, "invalid snippet name in path"},
		{"/api/snippets/foo/inlineX.js", http.StatusNotFound, "invalid index"},
	}

	for _, tt := range tests {
		rec := get(t, h, tt.path, nil)
		if rec.Code != tt.wantStatus || rec.Body.String() != tt.wantBody {
			t.Errorf("GET %s = %d %q, want %d %q", tt.path, rec.Code, rec.Body.String(), tt.wantStatus, tt.wantBody)
		}
	}
}

func TestStatic(t *testing.T) {
	base := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"/www/assets/app.css":       "body {}",
		"/www/sub/index.html":       "<p>sub</p>",
		"/www/app.a1b2c3d4.js":      "hashed",
		"/www/private/secret.txt":   "secret",
		"/www/assets/sprite.png":    "png",
		"/outside/should-not-serve": "nope",
	})
	fsys := testutil.DeniedFs{Fs: base, Deny: "private/"}
	h := newTestServer(t, testOptions(), fsys).Handler()

	tests := []struct {
		path       string
		wantStatus int
		wantBody   string
	}{
		{"/assets/app.css", http.StatusOK, "body {}"},
		{"/sub/", http.StatusOK, "<p>sub</p>"},
		{"/missing.txt", http.StatusNotFound, ""},
		{"/../outside/should-not-serve", http.StatusNotFound, ""},
		{"/private/secret.txt", http.StatusInternalServerError, "Unhandled internal error: "},
	}

	for _, tt := range tests {
		rec := get(t, h, tt.path, nil)
		if rec.Code != tt.wantStatus {
			t.Errorf("GET %s status = %d, want %d", tt.path, rec.Code, tt.wantStatus)
			continue
		}
		if tt.wantBody != "" && !strings.HasPrefix(rec.Body.String(), tt.wantBody) {
			t.Errorf("GET %s body = %q, want prefix %q", tt.path, rec.Body.String(), tt.wantBody)
		}
	}

	rec := get(t, h, "/sub", nil)
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/sub/" {
		t.Errorf("GET /sub = %d Location %q, want 301 to /sub/", rec.Code, rec.Header().Get("Location"))
	}

	rec = get(t, h, "/app.a1b2c3d4.js", nil)
	if got := rec.Header().Get("Cache-Control"); !strings.Contains(got, "immutable") {
		t.Errorf("hashed asset Cache-Control = %q, want immutable", got)
	}
	rec = get(t, h, "/assets/app.css", nil)
	if got := rec.Header().Get("Cache-Control"); got != "no-cache" {
		t.Errorf("Cache-Control = %q, want no-cache", got)
	}
	if got := rec.Header().Get(headerCOEP); got != "require-corp" {
		t.Errorf("static files should carry %s, got %q", headerCOEP, got)
	}
}

func TestStatic_Custom404(t *testing.T) {
	fsys := testutil.CreateTestFilesystemWithContent(t, map[string]string{
		"/www/404.html": "<h1>lost</h1>",
	})
	rec := get(t, newTestServer(t, testOptions(), fsys).Handler(), "/nope", nil)
	if rec.Code != http.StatusNotFound || rec.Body.String() != "<h1>lost</h1>" {
		t.Errorf("GET /nope = %d %q, want 404 with 404.html", rec.Code, rec.Body.String())
	}
}

func TestWebSocket_BypassesCompression(t *testing.T) {
	s := newTestServer(t, testOptions(), nil)
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	header := http.Header{"Accept-Encoding": {"gzip"}}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer func() { _ = ws.Close() }()

	waitFor(t, func() bool { return s.Hub().Len() == 1 })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// startServing runs s.Serve on a loopback listener and returns its address.
func startServing(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Serve() error: %v", err)
			}
		case <-time.After(10 * time.Second):
			t.Error("Serve() did not return after cancel")
		}
	})
	return ln.Addr().String()
}

func TestServe_PlainHTTP(t *testing.T) {
	addr := startServing(t, newTestServer(t, testOptions(), nil))

	resp, err := http.Get("http://" + addr + "/api/version")
	if err != nil {
		t.Fatalf("GET error: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestServe_HTTPSDualProtocol(t *testing.T) {
	opts := testOptions()
	opts.HTTPS = true
	addr := startServing(t, newTestServer(t, opts, nil))

	secure := &http.Client{
		Timeout: 5 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := secure.Get("https://" + addr + "/api/wasm.js")
	if err != nil {
		t.Fatalf("HTTPS GET error: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(body) != testScript {
		t.Errorf("HTTPS GET = %d %q, want 200 with the script", resp.StatusCode, body)
	}
	if resp.TLS == nil || len(resp.TLS.PeerCertificates) == 0 {
		t.Fatal("response should arrive over TLS")
	}
	if err := resp.TLS.PeerCertificates[0].VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate should cover localhost: %v", err)
	}

	plain := &http.Client{
		Timeout: 5 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err = plain.Get("http://" + addr + "/assets/app.css?v=1")
	if err != nil {
		t.Fatalf("plain GET error: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusPermanentRedirect {
		t.Errorf("plain GET status = %d, want 308", resp.StatusCode)
	}
	if got, want := resp.Header.Get("Location"), "https://"+addr+"/assets/app.css?v=1"; got != want {
		t.Errorf("Location = %q, want %q", got, want)
	}
}

func TestServe_LiveReload(t *testing.T) {
	dir := t.TempDir()
	opts := testOptions()
	opts.Directory = dir
	opts.Watch = true
	s := newTestServer(t, opts, afero.NewOsFs())
	addr := startServing(t, s)

	ws, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	defer func() { _ = ws.Close() }()
	waitFor(t, func() bool { return s.Hub().Len() == 1 })

	if err := os.WriteFile(filepath.Join(dir, "level.json"), []byte("{}"), 0644); err != nil {
		t.Fatal(err)
	}

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	if string(msg) != "reload" {
		t.Errorf("message = %q, want reload", msg)
	}
}

func TestListenAddress(t *testing.T) {
	if got := listenAddress("0.0.0.0:8080", 1334, 10); got != "0.0.0.0:8080" {
		t.Errorf("listenAddress with port = %q, want verbatim", got)
	}
	if got := listenAddress("[::1]:9000", 1334, 10); got != "[::1]:9000" {
		t.Errorf("listenAddress with IPv6 port = %q, want verbatim", got)
	}

	for _, tt := range []struct{ in, wantHost string }{
		{"127.0.0.1", "127.0.0.1"},
		{"localhost", "localhost"},
		{"::1", "::1"},
		{"[::1]", "::1"},
	} {
		got := listenAddress(tt.in, 1334, 10)
		host, portStr, err := net.SplitHostPort(got)
		if err != nil {
			t.Errorf("listenAddress(%q) = %q, not host:port: %v", tt.in, got, err)
			continue
		}
		if host != tt.wantHost || portStr == "" {
			t.Errorf("listenAddress(%q) = %q, want host %q with a port", tt.in, got, tt.wantHost)
		}
	}
}
