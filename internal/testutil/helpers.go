// Package testutil holds filesystem helpers shared by package tests.
package testutil

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

// CreateTestFilesystemWithContent creates an in-memory filesystem with initial content
func CreateTestFilesystemWithContent(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fsys := afero.NewMemMapFs()
	for path, content := range files {
		if err := fsys.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory for %s: %v", path, err)
		}
		if err := afero.WriteFile(fsys, path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
	return fsys
}

// AssertFileExists checks if a file exists in the filesystem
func AssertFileExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Error checking file existence: %v", err)
	}
	if !exists {
		t.Errorf("Expected file to exist: %s", path)
	}
}

// AssertFileNotExists checks if a file does not exist
func AssertFileNotExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Error checking file existence: %v", err)
	}
	if exists {
		t.Errorf("Expected file to not exist: %s", path)
	}
}

// AssertFileContent checks if a file has the expected content
func AssertFileContent(t *testing.T, fs afero.Fs, path string, expected []byte) {
	t.Helper()
	content, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	if string(content) != string(expected) {
		t.Errorf("File %s content mismatch:\nexpected: %s\ngot: %s", path, expected, content)
	}
}

// DeniedFs wraps an afero.Fs and fails Open and Stat with os.ErrPermission
// for every path containing Deny. Everything else is passed through.
type DeniedFs struct {
	afero.Fs
	Deny string
}

func (d DeniedFs) denied(name string) bool {
	return d.Deny != "" && strings.Contains(filepath.ToSlash(name), d.Deny)
}

func (d DeniedFs) Open(name string) (afero.File, error) {
	if d.denied(name) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.Open(name)
}

func (d DeniedFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if d.denied(name) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.OpenFile(name, flag, perm)
}

func (d DeniedFs) Stat(name string) (os.FileInfo, error) {
	if d.denied(name) {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrPermission}
	}
	return d.Fs.Stat(name)
}

// ErrDiskFull is what FullFs returns for rejected writes.
var ErrDiskFull = errors.New("disk full")

// FullFs wraps an afero.Fs and fails every write to a path containing Match.
// Reads are passed through.
type FullFs struct {
	afero.Fs
	Match string
}

func (f FullFs) full(name string) bool {
	return f.Match != "" && strings.Contains(filepath.ToSlash(name), f.Match)
}

func (f FullFs) Create(name string) (afero.File, error) {
	if f.full(name) {
		return nil, &os.PathError{Op: "create", Path: name, Err: ErrDiskFull}
	}
	return f.Fs.Create(name)
}

func (f FullFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.full(name) && flag&(os.O_WRONLY|os.O_RDWR|os.O_CREATE|os.O_APPEND|os.O_TRUNC) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: ErrDiskFull}
	}
	return f.Fs.OpenFile(name, flag, perm)
}
