package buildstore

import "github.com/aweris/buildstore/internal/errdefs"

// Error kinds. Every error returned by a Store matches exactly one of
// these with errors.Is.
var (
	ErrNotFound      = errdefs.ErrNotFound
	ErrAlreadyExists = errdefs.ErrAlreadyExists
	ErrCorrupt       = errdefs.ErrCorrupt
	ErrResource      = errdefs.ErrResource
	ErrInvalid       = errdefs.ErrInvalid
)

// ErrKindConflict accompanies ErrAlreadyExists when a blob and a tree
// digest to the same identity.
var ErrKindConflict = errdefs.ErrKindConflict

// Error is the concrete error type, carrying the operation and the path,
// identity or ref name involved.
type Error = errdefs.Error
