// Package store implements the persistent object table.
//
// Objects are keyed by content identity and laid out Git-style, sharded
// by algorithm and the first two hex characters of the digest:
//
//	objects/
//	  sha256/
//	    2c/
//	      2cf24dba.../
//	        content     (blob file or tree root directory)
//	        meta.cbor   (kind, identity, size, tree entries)
//
// An object directory only ever appears through a single rename of a
// fully prepared staging handle, so it is either complete or absent.
package store

import (
	"context"
	"iter"

	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/staging"
)

// Store is the object table.
type Store interface {
	// Has reports whether the object exists.
	Has(id digest.Identity) (bool, error)

	// Get returns the object, ErrNotFound if absent or ErrCorrupt if it
	// fails its consistency checks.
	Get(id digest.Identity) (Object, error)

	// Publish moves staged content, already digested into res, into
	// place. ErrAlreadyExists means another copy won and the handle was
	// discarded.
	Publish(h *staging.Handle, res digest.Result) error

	// Enumerate yields every stored identity. Meant for reclamation
	// tooling, not the hot path.
	Enumerate() iter.Seq2[digest.Identity, error]

	// Verify recomputes the identity of a stored object.
	Verify(ctx context.Context, id digest.Identity) error

	// Remove deletes an object without ever exposing it partially.
	Remove(id digest.Identity) error
}

// Object is a published object.
type Object struct {
	ID      digest.Identity
	Kind    digest.Kind
	Size    int64
	Path    string // content path; treat as read-only
	Dir     string // object directory
	Entries []digest.Entry
}

// MetaVersion is the version of the meta.cbor layout.
const MetaVersion = 1

// Meta is the per-object metadata stored next to the content.
type Meta struct {
	Version int             `cbor:"version"`
	ID      digest.Identity `cbor:"id"`
	Kind    digest.Kind     `cbor:"kind"`
	Size    int64           `cbor:"size"`
	Entries []digest.Entry  `cbor:"entries,omitempty"`
}
