// Package certificate provides the self-signed localhost certificate used
// when serving over HTTPS. A generated pair is cached in the per-user data
// directory so the browser exception survives restarts.
package certificate

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"net"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
)

const (
	AppName  = "wasm-server-runner"
	CertFile = "certificate.der"
	KeyFile  = "private_key.der"
)

// ErrKeyMismatch is returned when the private key does not belong to the
// certificate.
var ErrKeyMismatch = errors.New("private key does not match certificate")

// Certificate is a DER certificate plus its PKCS#8 DER private key.
type Certificate struct {
	Certificate []byte
	PrivateKey  []byte
}

// TLS converts the pair into a certificate usable by crypto/tls.
func (c Certificate) TLS() (tls.Certificate, error) {
	key, err := x509.ParsePKCS8PrivateKey(c.PrivateKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing private key: %w", err)
	}
	leaf, err := x509.ParseCertificate(c.Certificate)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("parsing certificate: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return tls.Certificate{}, fmt.Errorf("unsupported private key type %T", key)
	}
	pub, ok := signer.Public().(interface{ Equal(crypto.PublicKey) bool })
	if !ok || !pub.Equal(leaf.PublicKey) {
		return tls.Certificate{}, ErrKeyMismatch
	}
	return tls.Certificate{
		Certificate: [][]byte{c.Certificate},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// Outcome tells how Obtain produced its certificate.
type Outcome int

const (
	Reused Outcome = iota
	GeneratedAndCached
	GeneratedEphemeral
)

func (o Outcome) String() string {
	switch o {
	case Reused:
		return "reused"
	case GeneratedAndCached:
		return "generated and cached"
	case GeneratedEphemeral:
		return "generated ephemeral"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Manager obtains certificates from the cache directory, generating and
// persisting a fresh pair when needed.
type Manager struct {
	fs       afero.Fs
	dir      func() (string, error)
	logger   *slog.Logger
	generate func() (Certificate, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithFs sets the filesystem the cache lives on.
func WithFs(fsys afero.Fs) Option {
	return func(m *Manager) { m.fs = fsys }
}

// WithDir pins the cache directory.
func WithDir(dir string) Option {
	return func(m *Manager) { m.dir = func() (string, error) { return dir, nil } }
}

// WithDirFunc sets how the cache directory is resolved.
func WithDirFunc(fn func() (string, error)) Option {
	return func(m *Manager) { m.dir = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager returns a Manager backed by the OS filesystem and the platform
// data directory unless overridden.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		fs:       afero.NewOsFs(),
		dir:      func() (string, error) { return DataLocalDir(AppName) },
		logger:   slog.Default(),
		generate: Generate,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Obtain returns the cached certificate or a new one. Cache problems never
// fail the call; the only error is a failure to generate key material.
func (m *Manager) Obtain() (Certificate, Outcome, error) {
	dir, err := m.dir()
	if err != nil {
		m.logger.Warn("failed to determine data directory, generating temporary certificate", "error", err)
		return m.ephemeral()
	}

	certPath := filepath.Join(dir, CertFile)
	keyPath := filepath.Join(dir, KeyFile)

	certDER, certErr := afero.ReadFile(m.fs, certPath)
	keyDER, keyErr := afero.ReadFile(m.fs, keyPath)
	if certErr == nil && keyErr == nil {
		cached := Certificate{Certificate: certDER, PrivateKey: keyDER}
		if _, err := cached.TLS(); err != nil {
			m.logger.Error("cached certificate is corrupt", "dir", dir, "error", err)
			m.logger.Warn("generated temporary certificate")
			return m.ephemeral()
		}
		m.logger.Info("using cached certificate", "dir", dir)
		return cached, Reused, nil
	}

	if unreadable(certErr) || unreadable(keyErr) {
		for _, e := range []error{certErr, keyErr} {
			if unreadable(e) {
				m.logger.Error("failed to read cached certificate", "error", e)
			}
		}
		m.logger.Warn("generated temporary certificate")
		return m.ephemeral()
	}

	cert, err := m.generate()
	if err != nil {
		return Certificate{}, GeneratedEphemeral, err
	}
	if err := m.persist(dir, certPath, keyPath, cert); err != nil {
		m.logger.Error("failed to store certificate", "error", err)
		m.logger.Warn("generated temporary certificate")
		return cert, GeneratedEphemeral, nil
	}

	m.logger.Info("generated new certificate", "dir", dir)
	return cert, GeneratedAndCached, nil
}

func (m *Manager) ephemeral() (Certificate, Outcome, error) {
	cert, err := m.generate()
	if err != nil {
		return Certificate{}, GeneratedEphemeral, err
	}
	return cert, GeneratedEphemeral, nil
}

func (m *Manager) persist(dir, certPath, keyPath string, cert Certificate) error {
	if err := m.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	if err := afero.WriteFile(m.fs, certPath, cert.Certificate, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", certPath, err)
	}
	if err := afero.WriteFile(m.fs, keyPath, cert.PrivateKey, 0600); err != nil {
		// A certificate without its key would be reused on the next run.
		err = fmt.Errorf("writing %s: %w", keyPath, err)
		if rmErr := m.fs.Remove(certPath); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			err = errors.Join(err, fmt.Errorf("removing %s: %w", certPath, rmErr))
		}
		return err
	}
	return nil
}

// unreadable reports a read failure other than a missing file.
func unreadable(err error) bool {
	return err != nil && !errors.Is(err, fs.ErrNotExist)
}

// Generate creates a self-signed ECDSA P-256 certificate for localhost.
func Generate() (Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return Certificate{}, fmt.Errorf("generating key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return Certificate{}, fmt.Errorf("generating serial number: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: AppName + " self signed cert"},
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return Certificate{}, fmt.Errorf("encoding private key: %w", err)
	}

	return Certificate{Certificate: certDER, PrivateKey: keyDER}, nil
}
