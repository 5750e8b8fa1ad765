// Package server serves the generated wasm bundle, the developer's static
// directory and the browser log bridge.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/jakobhellermann/wasm-server-runner/internal/artifact"
	"github.com/jakobhellermann/wasm-server-runner/internal/certificate"
	"github.com/jakobhellermann/wasm-server-runner/internal/config"
	"github.com/jakobhellermann/wasm-server-runner/internal/logbridge"
)

func init() {
	// Force register the WASM mime type
	_ = mime.AddExtensionType(".wasm", contentTypeWasm)
}

// Server holds everything the handlers read. It is immutable once built,
// apart from the connection registry inside the hub.
type Server struct {
	opts    *config.Options
	output  *artifact.Output
	logger  *slog.Logger
	fs      afero.Fs
	certs   *certificate.Manager
	hub     *logbridge.Hub
	bridge  *logbridge.Bridge
	handler http.Handler
	index   string
	version string
}

// Option configures a Server.
type Option func(*Server)

// WithFs sets the filesystem for static files and the custom index page.
func WithFs(fsys afero.Fs) Option {
	return func(s *Server) { s.fs = fsys }
}

// WithCertificates sets where HTTPS certificates come from.
func WithCertificates(m *certificate.Manager) Option {
	return func(s *Server) { s.certs = m }
}

// New renders the index page and builds the route table. A custom index
// page that cannot be read is an error.
func New(opts *config.Options, output *artifact.Output, logger *slog.Logger, options ...Option) (*Server, error) {
	s := &Server{
		opts:    opts,
		output:  output,
		logger:  logger,
		fs:      afero.NewOsFs(),
		version: generateVersion(),
	}
	for _, o := range options {
		o(s)
	}
	if s.certs == nil {
		s.certs = certificate.NewManager(certificate.WithLogger(logger))
	}
	s.hub = logbridge.NewHub(logger)
	s.bridge = logbridge.New(logger, s.hub)

	source, err := loadIndex(s.fs, opts)
	if err != nil {
		return nil, err
	}
	s.index = renderIndex(source, opts.Title, opts.NoModule)
	if opts.Tunables.MinifyIndex {
		if s.index, err = minifyIndex(newMinifier(), s.index); err != nil {
			logger.Warn("Failed to minify index page, serving it as is", "error", err)
		}
	}

	if s.handler, err = s.routes(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) routes() (http.Handler, error) {
	compress, err := compression(s.opts.Tunables.CompressionLevel)
	if err != nil {
		return nil, fmt.Errorf("configuring compression: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	// HEAD is answered by the GET route.
	r.Use(middleware.GetHead)
	r.Use(crossOriginIsolation)
	r.Use(requestLogger(s.logger))

	r.Group(func(r chi.Router) {
		r.Use(compress)
		r.Get("/", s.handleIndex)
		r.Get("/api/wasm.js", s.handleScript)
		r.Get("/api/wasm.wasm", s.handleBinary)
		r.Get("/api/version", s.handleVersion)
		r.Get("/api/snippets/*", s.handleSnippet)
	})

	// Upgrades need the raw connection, so no compression here.
	r.Get("/ws", s.bridge.ServeHTTP)

	r.NotFound(compress(http.HandlerFunc(s.handleStatic)).ServeHTTP)
	r.MethodNotAllowed(compress(http.HandlerFunc(s.handleStatic)).ServeHTTP)
	return r, nil
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Hub returns the registry of connected pages.
func (s *Server) Hub() *logbridge.Hub {
	return s.hub
}

// Run resolves the listen address, binds and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	addr := listenAddress(s.opts.Address, s.opts.Tunables.PortStart, s.opts.Tunables.PortTries)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully
// within the configured timeout. It takes ownership of ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	var (
		servers []*http.Server
		dual    *dualListener
		scheme  = "http"
	)
	if s.opts.HTTPS {
		tlsConfig, err := s.tlsConfig()
		if err != nil {
			_ = ln.Close()
			return err
		}
		scheme = "https"
		dual = newDualListener(ln, s.logger)
		secure := s.httpServer(s.handler)
		redirect := s.httpServer(http.HandlerFunc(redirectToHTTPS))
		servers = append(servers, secure, redirect)

		g.Go(dual.Serve)
		g.Go(func() error { return serve(secure, dual.TLS(tlsConfig)) })
		g.Go(func() error { return serve(redirect, dual.Plain()) })
	} else {
		plain := s.httpServer(s.handler)
		servers = append(servers, plain)
		g.Go(func() error { return serve(plain, ln) })
	}

	if s.opts.Watch {
		if err := s.startWatcher(gctx, g); err != nil {
			s.logger.Error("live reload disabled", "error", err)
		}
	}

	s.logger.Info(fmt.Sprintf("starting webserver at %s://%s", scheme, ln.Addr()))

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.Tunables.ShutdownTimeout)
		defer cancel()

		var errs []error
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		if dual != nil {
			if err := dual.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}

func (s *Server) httpServer(h http.Handler) *http.Server {
	return &http.Server{
		Handler:           h,
		ReadHeaderTimeout: s.opts.Tunables.ReadHeaderTimeout,
		IdleTimeout:       s.opts.Tunables.IdleTimeout,
		// Browsers that distrust the certificate abort handshakes constantly.
		ErrorLog: slog.NewLogLogger(s.logger.Handler(), slog.LevelDebug),
	}
}

func (s *Server) tlsConfig() (*tls.Config, error) {
	cert, outcome, err := s.certs.Obtain()
	if err != nil {
		return nil, fmt.Errorf("obtaining certificate: %w", err)
	}
	s.logger.Debug("certificate ready", "outcome", outcome.String())

	tlsCert, err := cert.TLS()
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{tlsCert},
		MinVersion:   tls.VersionTLS12,
		// WebSocket upgrades need HTTP/1.1.
		NextProtos: []string{"http/1.1"},
	}, nil
}

func serve(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run builds a Server on the OS filesystem and serves until ctx is cancelled.
func Run(ctx context.Context, opts *config.Options, output *artifact.Output, logger *slog.Logger) error {
	s, err := New(opts, output, logger)
	if err != nil {
		return err
	}
	return s.Run(ctx)
}

