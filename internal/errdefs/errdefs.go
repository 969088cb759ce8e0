// Package errdefs defines the error kinds shared by the store packages.
//
// Every failure leaving the engine is an *Error carrying the operation,
// the path and identity or ref name involved, one of the kind sentinels
// below, and the underlying cause. errors.Is matches both the kind and
// the cause, so callers can test for ErrNotFound as well as for
// fs.ErrPermission on the same value.
package errdefs

import (
	"errors"
	"io/fs"
	"strings"
)

var (
	// ErrNotFound reports a missing object or ref. Expected on cache misses.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists reports that the destination was already present.
	// On publish it signals successful deduplication.
	ErrAlreadyExists = errors.New("already exists")

	// ErrCorrupt reports an object or ref that exists but fails its
	// consistency checks.
	ErrCorrupt = errors.New("corrupt")

	// ErrResource reports an unusable filesystem: permissions, disk
	// full, unexpected I/O failures.
	ErrResource = errors.New("resource error")

	// ErrInvalid reports malformed input such as a bad identity or ref name.
	ErrInvalid = errors.New("invalid argument")
)

// ErrKindConflict is the cause attached to ErrAlreadyExists when content
// digests to the identity of a stored object of the other kind: a blob
// whose bytes are the canonical form of a stored tree, or the reverse.
// It is never a successful deduplication.
var ErrKindConflict = errors.New("identity already stored as a different kind")

// Error is the error type returned by store operations.
type Error struct {
	Op   string // operation, e.g. "publish"
	Path string // filesystem path involved, if any
	ID   string // identity or ref name involved, if any
	Kind error  // one of the Err* sentinels
	Err  error  // underlying cause, may be nil
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ID != "" {
		b.WriteString(" ")
		b.WriteString(e.ID)
	}
	if e.Path != "" {
		b.WriteString(" (")
		b.WriteString(e.Path)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// New returns an *Error of the given kind.
func New(kind error, op, path, id string, cause error) error {
	return &Error{Op: op, Path: path, ID: id, Kind: kind, Err: cause}
}

// FromFS classifies a filesystem error: missing paths become ErrNotFound,
// existing destinations ErrAlreadyExists, anything else ErrResource.
func FromFS(op, path, id string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrResource
	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = ErrNotFound
	case errors.Is(err, fs.ErrExist):
		kind = ErrAlreadyExists
	}
	return &Error{Op: op, Path: path, ID: id, Kind: kind, Err: err}
}

// Resource wraps err as an ErrResource failure regardless of its cause.
func Resource(op, path, id string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Path: path, ID: id, Kind: ErrResource, Err: err}
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsCorrupt(err error) bool       { return errors.Is(err, ErrCorrupt) }
func IsInvalid(err error) bool       { return errors.Is(err, ErrInvalid) }
