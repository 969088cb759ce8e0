package buildstore

import (
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/aweris/buildstore/internal/errdefs"
)

// Snapshot is a read-only fs.FS view of a tree object. Its listing comes
// from the canonical entries recorded at publish time, so Lookup never
// touches the filesystem.
type Snapshot struct {
	id      Identity
	fsys    fs.FS
	entries []Entry
}

var (
	_ fs.ReadFileFS = (*Snapshot)(nil)
	_ fs.ReadDirFS  = (*Snapshot)(nil)
	_ fs.StatFS     = (*Snapshot)(nil)
)

// Snapshot opens a tree object as a filesystem.
func (s *Store) Snapshot(id Identity) (*Snapshot, error) {
	obj, err := s.objects.Get(id)
	if err != nil {
		return nil, err
	}
	if obj.Kind != KindTree {
		return nil, errdefs.New(errdefs.ErrInvalid, "snapshot", obj.Path, id.String(), fmt.Errorf("object is a %s", obj.Kind))
	}
	return &Snapshot{
		id:      id,
		fsys:    os.DirFS(obj.Path),
		entries: obj.Entries,
	}, nil
}

// ID returns the identity of the tree.
func (s *Snapshot) ID() Identity { return s.id }

// Entries returns the tree's entries in canonical order. The slice must
// not be modified.
func (s *Snapshot) Entries() []Entry { return s.entries }

// Lookup returns the entry recorded for a slash-separated path.
func (s *Snapshot) Lookup(name string) (Entry, bool) {
	i, ok := slices.BinarySearchFunc(s.entries, name, func(e Entry, name string) int {
		return strings.Compare(e.Path, name)
	})
	if !ok {
		return Entry{}, false
	}
	return s.entries[i], true
}

func (s *Snapshot) Open(name string) (fs.File, error) {
	return s.fsys.Open(name)
}

func (s *Snapshot) ReadFile(name string) ([]byte, error) {
	return fs.ReadFile(s.fsys, name)
}

func (s *Snapshot) ReadDir(name string) ([]fs.DirEntry, error) {
	return fs.ReadDir(s.fsys, name)
}

func (s *Snapshot) Stat(name string) (fs.FileInfo, error) {
	return fs.Stat(s.fsys, name)
}
