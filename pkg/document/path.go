package document

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Errors returned by path parsing and tree mutation.
var (
	// ErrInvalidPath is returned when a field path is syntactically malformed.
	ErrInvalidPath = errors.New("invalid field path")

	// ErrIndexOutOfRange is returned when a list segment addresses beyond the list bounds.
	ErrIndexOutOfRange = errors.New("list index out of range")

	// ErrTypeMismatch is returned when a path traverses through a value that is not a container.
	ErrTypeMismatch = errors.New("path traverses a non-container value")

	// ErrNotObject is returned when a JSON document does not have an object at its root.
	ErrNotObject = errors.New("document root must be a JSON object")
)

// PathSeparator separates segments in a field path.
const PathSeparator = "."

// Path is a parsed, validated field path.
type Path struct {
	raw      string
	segments []string
}

// ParsePath validates and splits a dot-separated field path.
func ParsePath(raw string) (Path, error) {
	if raw == "" {
		return Path{}, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	segments := strings.Split(raw, PathSeparator)
	for i, seg := range segments {
		if seg == "" {
			return Path{}, fmt.Errorf("%w: empty segment at position %d in %q", ErrInvalidPath, i, raw)
		}
	}
	return Path{raw: raw, segments: segments}, nil
}

// MustParsePath is like ParsePath but panics on a malformed path.
// Intended for package-level variables and tests.
func MustParsePath(raw string) Path {
	p, err := ParsePath(raw)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the path in its dotted form.
func (p Path) String() string {
	return p.raw
}

// Segments returns a copy of the path segments.
func (p Path) Segments() []string {
	out := make([]string, len(p.segments))
	copy(out, p.segments)
	return out
}

// IsZero reports whether the path was never parsed.
func (p Path) IsZero() bool {
	return len(p.segments) == 0
}

// Parent returns the path without its last segment and the last segment itself.
// ok is false for single-segment paths.
func (p Path) Parent() (parent Path, last string, ok bool) {
	if len(p.segments) < 2 {
		return Path{}, p.last(), false
	}
	segs := p.segments[:len(p.segments)-1]
	return Path{raw: strings.Join(segs, PathSeparator), segments: segs}, p.last(), true
}

func (p Path) last() string {
	if len(p.segments) == 0 {
		return ""
	}
	return p.segments[len(p.segments)-1]
}

// listIndex parses a list segment. Negative or non-numeric segments are rejected.
func listIndex(seg string) (int, bool) {
	if seg == "" || seg[0] == '-' || seg[0] == '+' {
		return 0, false
	}
	idx, err := strconv.Atoi(seg)
	if err != nil {
		return 0, false
	}
	return idx, true
}
