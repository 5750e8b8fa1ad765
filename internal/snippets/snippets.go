// Package snippets resolves the virtual paths that generated bindings use to
// import auxiliary JavaScript.
//
// Two namespaces share the /api/snippets/ prefix: whole named modules, keyed by
// their exact virtual path, and numbered inline snippets grouped by the crate
// or package that declared them (<group>/inline<N>.js).
package snippets

import (
	"errors"
	"strconv"
	"strings"
)

const (
	inlinePrefix = "inline"
	inlineSuffix = ".js"
)

// ErrNotFound matches every resolution failure under errors.Is.
var ErrNotFound = errors.New("snippet not found")

// notFound carries the reason shown to the client.
type notFound string

func (e notFound) Error() string        { return string(e) }
func (e notFound) Is(target error) bool { return target == ErrNotFound }

var (
	// ErrInvalidPath is returned for paths without a group directory.
	ErrInvalidPath error = notFound("invalid snippet path")
	// ErrInvalidName is returned when the file is not named inline<N>.js.
	ErrInvalidName error = notFound("invalid snippet name in path")
	// ErrInvalidIndex is returned when <N> is not a decimal number.
	ErrInvalidIndex error = notFound("invalid index")
	// ErrUnknownGroup is returned for a group the bindings never declared.
	ErrUnknownGroup error = notFound("invalid snippet name")
	// ErrIndexOutOfBounds is returned when the group has no fragment <N>.
	ErrIndexOutOfBounds error = notFound("snippet index out of bounds")
)

// Resolve returns the source for path. An exact match in modules always wins,
// even when path would also parse as <group>/inline<N>.js.
func Resolve(path string, modules map[string]string, groups map[string][]string) (string, error) {
	if module, ok := modules[path]; ok {
		return module, nil
	}

	group, name, ok := strings.Cut(path, "/")
	if !ok {
		return "", ErrInvalidPath
	}

	index, err := ParseInlineName(name)
	if err != nil {
		return "", err
	}

	fragments, ok := groups[group]
	if !ok {
		return "", ErrUnknownGroup
	}
	if index >= len(fragments) {
		return "", ErrIndexOutOfBounds
	}
	return fragments[index], nil
}

// ParseInlineName extracts N from a file name of the form inline<N>.js.
func ParseInlineName(name string) (int, error) {
	digits, ok := strings.CutPrefix(name, inlinePrefix)
	if ok {
		digits, ok = strings.CutSuffix(digits, inlineSuffix)
	}
	if !ok {
		return 0, ErrInvalidName
	}

	index, err := strconv.ParseUint(digits, 10, strconv.IntSize-1)
	if err != nil {
		return 0, ErrInvalidIndex
	}
	return int(index), nil
}

// InlineName is the inverse of ParseInlineName.
func InlineName(index int) string {
	return inlinePrefix + strconv.Itoa(index) + inlineSuffix
}
