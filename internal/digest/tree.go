package digest

import (
	"io/fs"
	"sort"

	"github.com/aweris/buildstore/internal/codec"
)

// EntryType is the kind of a tree entry.
type EntryType string

const (
	TypeFile    EntryType = "file"
	TypeDir     EntryType = "dir"
	TypeSymlink EntryType = "symlink"
)

// Normalized file modes. Only the execute bit survives canonicalization;
// every other permission bit, timestamps and ownership are excluded so
// the same tree produced by different build runs hashes identically.
const (
	ModeRegular    uint32 = 0o644
	ModeExecutable uint32 = 0o755
)

// NormalizeMode maps a file's permission bits onto ModeRegular or
// ModeExecutable.
func NormalizeMode(mode fs.FileMode) uint32 {
	if mode.Perm()&0o111 != 0 {
		return ModeExecutable
	}
	return ModeRegular
}

// Entry is one path in the canonical form of a tree.
//
// Path is slash-separated and relative to the tree root. Mode, Digest
// and Size are set for files only; Target for symlinks only.
type Entry struct {
	Path   string    `cbor:"path"`
	Type   EntryType `cbor:"type"`
	Mode   uint32    `cbor:"mode,omitempty"`
	Digest Identity  `cbor:"digest,omitempty"`
	Size   int64     `cbor:"size,omitempty"`
	Target string    `cbor:"target,omitempty"`
}

// TreeFormatVersion is the version of the canonical tree serialization.
const TreeFormatVersion = 1

// treeDoc is the hashed document. Field names and order are part of the
// identity contract: changing them changes every tree identity.
type treeDoc struct {
	Version   int       `cbor:"version"`
	Algorithm Algorithm `cbor:"algorithm"`
	Entries   []Entry   `cbor:"entries"`
}

// SortEntries orders entries by path, the canonical order.
func SortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Path < entries[j].Path
	})
}

// EncodeTree returns the canonical serialization of entries. Entries are
// sorted first, so the caller's order never matters.
func EncodeTree(algo Algorithm, entries []Entry) ([]byte, error) {
	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	SortEntries(sorted)
	return codec.Marshal(treeDoc{
		Version:   TreeFormatVersion,
		Algorithm: algo,
		Entries:   sorted,
	})
}

// TreeIdentity hashes the canonical serialization of entries.
func TreeIdentity(algo Algorithm, entries []Entry) (Identity, error) {
	data, err := EncodeTree(algo, entries)
	if err != nil {
		return "", err
	}
	h := algo.hash()
	h.Write(data)
	return NewIdentity(algo, h.Sum(nil)), nil
}
