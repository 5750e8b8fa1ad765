package server

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// validatePath ensures that the user-provided path is within the base directory
// and prevents path traversal attacks. It returns the path joined onto baseDir.
func validatePath(baseDir, userPath string) (string, error) {
	// Convert to absolute paths to prevent any relative traversal
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	// Clean the user path to remove any ../ or ./
	cleanPath := filepath.Clean(filepath.FromSlash(userPath))

	absUserPath, err := filepath.Abs(filepath.Join(baseDir, cleanPath))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	// Ensure the resolved path is within the base directory
	relPath, err := filepath.Rel(absBase, absUserPath)
	if err != nil {
		return "", fmt.Errorf("path validation error: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected")
	}

	return filepath.Join(baseDir, relPath), nil
}

// normalizeRequestPath cleans a URL path into a slash-separated path
// relative to the serve root.
func normalizeRequestPath(rawPath string) string {
	return strings.TrimPrefix(path.Clean("/"+rawPath), "/")
}

// isHashedAsset checks if filename contains a content hash (e.g., layout.a1b2c3d4.css)
func isHashedAsset(filename string) bool {
	// Check for pattern: name.8-12chars.hash.ext
	parts := strings.Split(filename, ".")
	if len(parts) < 3 {
		return false
	}
	// Middle part should be 8-12 hex characters
	hashPart := parts[len(parts)-2]
	if len(hashPart) < 8 || len(hashPart) > 12 {
		return false
	}
	for _, c := range hashPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}
