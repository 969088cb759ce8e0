// Package digest computes content identities for blobs and directory
// trees.
//
// A blob identity is the hash of its raw bytes. A tree identity is the
// hash of the tree's canonical form (see Entry and EncodeTree): every
// path under the root with its type, normalized mode, content identity
// or link target, encoded as deterministic CBOR. Nothing here writes to
// the filesystem.
package digest

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/sourcegraph/conc/pool"

	"github.com/aweris/buildstore/internal/errdefs"
)

// Kind distinguishes blob objects from tree objects.
type Kind string

const (
	KindBlob Kind = "blob"
	KindTree Kind = "tree"
)

// DefaultConcurrency bounds parallel file hashing inside a tree.
const DefaultConcurrency = 4

// Result describes digested content.
type Result struct {
	ID      Identity
	Kind    Kind
	Size    int64   // blob length, or total file bytes of a tree
	Entries []Entry // trees only, in canonical order
}

// Digester computes identities with a fixed algorithm.
type Digester struct {
	algo        Algorithm
	concurrency int
}

// New returns a Digester. A non-positive concurrency selects
// DefaultConcurrency.
func New(algo Algorithm, concurrency int) (*Digester, error) {
	if !algo.Available() {
		return nil, errdefs.New(errdefs.ErrInvalid, "new digester", "", string(algo), fmt.Errorf("unsupported algorithm"))
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Digester{algo: algo, concurrency: concurrency}, nil
}

func (d *Digester) Algorithm() Algorithm { return d.algo }

// Bytes returns the blob identity of b.
func (d *Digester) Bytes(b []byte) Identity {
	h := d.algo.hash()
	h.Write(b)
	return NewIdentity(d.algo, h.Sum(nil))
}

// Reader returns the blob identity of everything read from r and the
// number of bytes read.
func (d *Digester) Reader(r io.Reader) (Identity, int64, error) {
	h := d.algo.hash()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return NewIdentity(d.algo, h.Sum(nil)), n, nil
}

// File returns the blob identity of the regular file at path.
func (d *Digester) File(path string) (Identity, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, errdefs.FromFS("digest", path, "", err)
	}
	defer f.Close()
	id, n, err := d.Reader(f)
	if err != nil {
		return "", 0, errdefs.Resource("digest", path, "", err)
	}
	return id, n, nil
}

// Path digests the regular file or directory tree rooted at root.
// Symlinks are never followed; a symlink or special file at the root
// is rejected.
func (d *Digester) Path(ctx context.Context, root string) (Result, error) {
	info, err := os.Lstat(root)
	if err != nil {
		return Result{}, errdefs.FromFS("digest", root, "", err)
	}
	switch {
	case info.Mode().IsRegular():
		id, size, err := d.File(root)
		if err != nil {
			return Result{}, err
		}
		return Result{ID: id, Kind: KindBlob, Size: size}, nil
	case info.IsDir():
		return d.tree(ctx, root)
	}
	return Result{}, errdefs.New(errdefs.ErrInvalid, "digest", root, "", fmt.Errorf("unsupported file type %s", info.Mode().Type()))
}

func (d *Digester) tree(ctx context.Context, root string) (Result, error) {
	var (
		entries []Entry
		files   []int // indexes into entries still needing a content digest
	)

	err := filepath.WalkDir(root, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return errdefs.FromFS("digest", path, "", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		entry := Entry{Path: filepath.ToSlash(rel)}

		switch typ := de.Type(); {
		case typ.IsDir():
			entry.Type = TypeDir
		case typ.IsRegular():
			info, err := de.Info()
			if err != nil {
				return errdefs.FromFS("digest", path, "", err)
			}
			entry.Type = TypeFile
			entry.Mode = NormalizeMode(info.Mode())
			files = append(files, len(entries))
		case typ&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return errdefs.FromFS("digest", path, "", err)
			}
			entry.Type = TypeSymlink
			entry.Target = target
		default:
			return errdefs.New(errdefs.ErrInvalid, "digest", path, "", fmt.Errorf("unsupported file type %s", typ))
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	p := pool.New().WithMaxGoroutines(d.concurrency).WithContext(ctx).WithCancelOnError()
	for _, i := range files {
		p.Go(func(ctx context.Context) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			id, size, err := d.File(filepath.Join(root, filepath.FromSlash(entries[i].Path)))
			if err != nil {
				return err
			}
			entries[i].Digest = id
			entries[i].Size = size
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Result{}, err
	}

	SortEntries(entries)
	var total int64
	for _, e := range entries {
		total += e.Size
	}
	id, err := TreeIdentity(d.algo, entries)
	if err != nil {
		return Result{}, errdefs.New(errdefs.ErrResource, "digest", root, "", err)
	}
	return Result{ID: id, Kind: KindTree, Size: total, Entries: entries}, nil
}
