package digest

import (
	"crypto/sha256"
	"fmt"
	"hash"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/aweris/buildstore/internal/errdefs"
)

// Algorithm names a hash function usable for identities.
type Algorithm string

const (
	SHA256 Algorithm = "sha256"
	BLAKE3 Algorithm = "blake3"
)

// Canonical is the algorithm used when none is configured.
const Canonical = SHA256

// Size returns the digest length in bytes.
func (a Algorithm) Size() int {
	switch a {
	case SHA256:
		return sha256.Size
	case BLAKE3:
		return 32
	}
	return 0
}

// Available reports whether a is a supported algorithm.
func (a Algorithm) Available() bool {
	return a.Size() > 0
}

func (a Algorithm) hash() hash.Hash {
	switch a {
	case SHA256:
		return sha256.New()
	case BLAKE3:
		return blake3.New()
	}
	panic(fmt.Sprintf("digest: unsupported algorithm %q", string(a)))
}

// ParseAlgorithm validates an algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(s))
	if !a.Available() {
		return "", errdefs.New(errdefs.ErrInvalid, "parse algorithm", "", s, nil)
	}
	return a, nil
}

// Identity is the content identity of an object, formatted as
// "<algorithm>:<lowercase hex>" (e.g., "sha256:2cf24d...").
type Identity string

// NewIdentity formats a raw digest.
func NewIdentity(algo Algorithm, sum []byte) Identity {
	return Identity(string(algo) + ":" + fmt.Sprintf("%x", sum))
}

// Parse validates s and returns it as an Identity.
func Parse(s string) (Identity, error) {
	id := Identity(s)
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate checks the algorithm, the hex encoding and the length.
func (id Identity) Validate() error {
	algo, hex, ok := strings.Cut(string(id), ":")
	if !ok {
		return errdefs.New(errdefs.ErrInvalid, "parse identity", "", string(id), fmt.Errorf("missing algorithm prefix"))
	}
	a := Algorithm(algo)
	if !a.Available() {
		return errdefs.New(errdefs.ErrInvalid, "parse identity", "", string(id), fmt.Errorf("unsupported algorithm %q", algo))
	}
	if len(hex) != a.Size()*2 {
		return errdefs.New(errdefs.ErrInvalid, "parse identity", "", string(id), fmt.Errorf("expected %d hex characters, got %d", a.Size()*2, len(hex)))
	}
	for i := 0; i < len(hex); i++ {
		c := hex[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return errdefs.New(errdefs.ErrInvalid, "parse identity", "", string(id), fmt.Errorf("invalid hex character %q", c))
		}
	}
	return nil
}

// Algorithm returns the algorithm part. The identity must be valid.
func (id Identity) Algorithm() Algorithm {
	algo, _, _ := strings.Cut(string(id), ":")
	return Algorithm(algo)
}

// Hex returns the encoded digest part.
func (id Identity) Hex() string {
	_, hex, _ := strings.Cut(string(id), ":")
	return hex
}

// Short returns the first 12 hex characters, for display.
func (id Identity) Short() string {
	hex := id.Hex()
	if len(hex) > 12 {
		hex = hex[:12]
	}
	return hex
}

func (id Identity) String() string { return string(id) }
