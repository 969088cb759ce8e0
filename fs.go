package buildstore

import (
	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/refs"
	"github.com/aweris/buildstore/internal/staging"
	"github.com/aweris/buildstore/internal/store"
)

// Identity is a content identifier (e.g., "sha256:2cf24d...").
type Identity = digest.Identity

// Algorithm names a hash function.
type Algorithm = digest.Algorithm

const (
	SHA256 = digest.SHA256
	BLAKE3 = digest.BLAKE3
)

// Kind tells blobs from trees.
type Kind = digest.Kind

const (
	KindBlob = digest.KindBlob
	KindTree = digest.KindTree
)

// Entry is one path of a tree in canonical form.
type Entry = digest.Entry

// Object is a stored object.
type Object = store.Object

// Handle is a private staging directory; write the artifact at
// ContentPath and pass the handle to Commit.
type Handle = staging.Handle

// Ref is a name bound to an identity.
type Ref = refs.Ref

// RefUpdate is a change reported by WatchRef.
type RefUpdate = refs.Update

// ParseIdentity validates s as an identity.
func ParseIdentity(s string) (Identity, error) {
	return digest.Parse(s)
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	return digest.ParseAlgorithm(s)
}

// ValidateRefName checks s against the ref naming rules.
func ValidateRefName(s string) error {
	return refs.ValidateName(s)
}
