// Package refs implements the table of named, mutable references to
// stored objects.
//
// A ref is a small file under the refs directory whose content is the
// identity text of its target. Writers prepare the new content in a temp
// file on the same filesystem and rename it into place, so readers
// observe either the old or the new target and never a partial one.
package refs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fsnotify/fsnotify"
	"github.com/google/renameio"
	"github.com/sirupsen/logrus"

	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/errdefs"
	"github.com/aweris/buildstore/internal/fsutil"
)

// MaxNameLen is the longest accepted ref name in bytes.
const MaxNameLen = 512

// Ref is a named pointer to an object.
type Ref struct {
	Name string
	ID   digest.Identity
}

// Update is a change observed by Watch.
type Update struct {
	Name    string
	ID      digest.Identity // empty when Deleted
	Deleted bool
}

// Table is the ref table of a store.
type Table struct {
	dir    string
	tmpDir string
	log    logrus.FieldLogger

	// beforeCommit runs after the new content is written and before it
	// is renamed into place.
	beforeCommit func(name string)
}

// New opens the ref table in dir. Pending writes are staged in tmpDir,
// which must be on the same filesystem.
func New(dir, tmpDir string, log logrus.FieldLogger) (*Table, error) {
	for _, d := range []string{dir, tmpDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, errdefs.Resource("open refs", d, "", err)
		}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Table{dir: dir, tmpDir: tmpDir, log: log}, nil
}

// ValidateName checks that name is usable as a ref name: slash-separated
// components, none of them empty, "." or ".." or starting with a dot.
func ValidateName(name string) error {
	invalid := func(reason string) error {
		return errdefs.New(errdefs.ErrInvalid, "validate ref", "", name, errors.New(reason))
	}
	switch {
	case name == "":
		return invalid("empty name")
	case len(name) > MaxNameLen:
		return invalid(fmt.Sprintf("longer than %d bytes", MaxNameLen))
	case strings.ContainsRune(name, 0):
		return invalid("contains NUL")
	}
	for _, part := range strings.Split(name, "/") {
		switch {
		case part == "":
			return invalid("empty path component")
		case part == "." || part == "..":
			return invalid("relative path component")
		case part[0] == '.':
			return invalid("component starts with a dot")
		}
	}
	return nil
}

func (t *Table) path(name string) string {
	return filepath.Join(t.dir, filepath.FromSlash(name))
}

// Resolve returns the target of a ref.
func (t *Table) Resolve(name string) (digest.Identity, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	return t.read(name, t.path(name))
}

func (t *Table) read(name, path string) (digest.Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR) {
			return "", errdefs.New(errdefs.ErrNotFound, "resolve ref", path, name, err)
		}
		return "", errdefs.Resource("resolve ref", path, name, err)
	}
	id, err := digest.Parse(string(data))
	if err != nil {
		return "", errdefs.New(errdefs.ErrCorrupt, "resolve ref", path, name, err)
	}
	return id, nil
}

// Set points name at id, replacing any previous target. Concurrent
// writers race and the last rename wins.
func (t *Table) Set(name string, id digest.Identity) error {
	return t.write("set ref", name, id, func(pf *renameio.PendingFile, path string) error {
		return pf.CloseAtomicallyReplace()
	})
}

// Create points name at id only if the ref does not exist yet.
func (t *Table) Create(name string, id digest.Identity) error {
	return t.write("create ref", name, id, func(pf *renameio.PendingFile, path string) error {
		if err := pf.Sync(); err != nil {
			return err
		}
		if err := fsutil.RenameNoReplace(pf.Name(), path); err != nil {
			return err
		}
		return pf.Close()
	})
}

func (t *Table) write(op, name string, id digest.Identity, commit func(*renameio.PendingFile, string) error) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := id.Validate(); err != nil {
		return err
	}
	path := t.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		if nameClash(err) {
			return errdefs.New(errdefs.ErrInvalid, op, path, name, fmt.Errorf("a prefix of the name is a ref: %w", err))
		}
		return errdefs.Resource(op, path, name, err)
	}

	pf, err := renameio.TempFile(t.tmpDir, path)
	if err != nil {
		return errdefs.Resource(op, t.tmpDir, name, err)
	}
	defer pf.Cleanup()

	if err := pf.Chmod(0o644); err != nil {
		return errdefs.Resource(op, pf.Name(), name, err)
	}
	if _, err := pf.WriteString(id.String()); err != nil {
		return errdefs.Resource(op, pf.Name(), name, err)
	}
	if t.beforeCommit != nil {
		t.beforeCommit(name)
	}
	if err := commit(pf, path); err != nil {
		if nameClash(err) || isDir(path) {
			return errdefs.New(errdefs.ErrInvalid, op, path, name, fmt.Errorf("the name is a prefix of other refs: %w", err))
		}
		return errdefs.FromFS(op, path, name, err)
	}

	if err := fsutil.SyncDir(filepath.Dir(path)); err != nil {
		t.log.WithError(err).WithField("ref", name).Warn("failed to sync ref directory")
	}
	t.log.WithFields(logrus.Fields{"ref": name, "id": id.String()}).Debug("updated ref")
	return nil
}

// nameClash reports a ref name colliding with the directory of other
// refs, or running through an existing ref.
func nameClash(err error) bool {
	return errors.Is(err, syscall.ENOTDIR) || errors.Is(err, syscall.EISDIR)
}

func isDir(path string) bool {
	info, err := os.Lstat(path)
	return err == nil && info.IsDir()
}

// Delete removes a ref. The target object is not touched.
func (t *Table) Delete(name string) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	path := t.path(name)
	info, err := os.Lstat(path)
	if err == nil && info.IsDir() {
		return errdefs.New(errdefs.ErrNotFound, "delete ref", path, name, nil)
	}
	if err == nil {
		err = os.Remove(path)
	}
	if err != nil {
		if errors.Is(err, syscall.ENOTDIR) {
			return errdefs.New(errdefs.ErrNotFound, "delete ref", path, name, err)
		}
		return errdefs.FromFS("delete ref", path, name, err)
	}
	t.log.WithField("ref", name).Debug("deleted ref")
	return nil
}

// List yields every ref in name order. The walk is best effort: refs
// deleted while it runs are skipped, and a ref whose content does not
// parse yields an ErrCorrupt error carrying its name.
func (t *Table) List() iter.Seq2[Ref, error] {
	return func(yield func(Ref, error) bool) {
		errStop := errors.New("stop")
		err := filepath.WalkDir(t.dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				if !yield(Ref{}, errdefs.Resource("list refs", path, "", err)) {
					return errStop
				}
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(t.dir, path)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			if ValidateName(name) != nil {
				t.log.WithField("path", path).Warn("skipping entry with invalid ref name")
				return nil
			}
			id, err := t.read(name, path)
			if errdefs.IsNotFound(err) {
				return nil
			}
			if !yield(Ref{Name: name, ID: id}, err) {
				return errStop
			}
			return nil
		})
		if err != nil && err != errStop {
			yield(Ref{}, errdefs.Resource("list refs", t.dir, "", err))
		}
	}
}

// Watch reports changes to a ref until ctx is cancelled. The current
// state is sent first; after that an Update is sent whenever the target
// changes or the ref is deleted. The channel is closed when watching
// stops.
func (t *Table) Watch(ctx context.Context, name string) (<-chan Update, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	path := t.path(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Resource("watch ref", dir, name, err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errdefs.Resource("watch ref", dir, name, err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, errdefs.Resource("watch ref", dir, name, err)
	}

	ch := make(chan Update)
	go func() {
		defer close(ch)
		defer w.Close()

		var last *Update
		emit := func() bool {
			u := Update{Name: name}
			id, err := t.read(name, path)
			switch {
			case errdefs.IsNotFound(err):
				u.Deleted = true
			case err != nil:
				t.log.WithError(err).WithField("ref", name).Warn("failed to read watched ref")
				return true
			default:
				u.ID = id
			}
			if last != nil && *last == u {
				return true
			}
			last = &u
			select {
			case ch <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !emit() {
			return
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != path {
					continue
				}
				if !emit() {
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.log.WithError(err).WithField("ref", name).Warn("ref watcher error")
			}
		}
	}()
	return ch, nil
}
