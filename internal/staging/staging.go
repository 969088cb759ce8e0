// Package staging manages the private scratch directories in which
// callers build object content before it is published.
//
// Handles live under the store's temp area and are named with a random
// suffix chosen by create-if-absent, so handles of different callers and
// processes never collide. A handle disappears from the temp area either
// by being published (renamed into the object table) or by Discard. If
// its owner crashes first, a later Sweep reclaims it once it is older
// than the grace period.
package staging

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/aweris/buildstore/internal/errdefs"
	"github.com/aweris/buildstore/internal/fsutil"
)

const (
	// ContentName is the entry inside a handle holding the artifact.
	ContentName = "content"

	// DefaultGrace is the minimum age of a temp entry before Sweep
	// considers it abandoned.
	DefaultGrace = 24 * time.Hour

	handlePattern = "stage-*"
)

// Area is the temp area of a store.
type Area struct {
	dir string
	log logrus.FieldLogger
	now func() time.Time
}

// New returns the staging area rooted at dir, creating it if needed.
func New(dir string, log logrus.FieldLogger) (*Area, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errdefs.Resource("create temp area", dir, "", err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Area{dir: dir, log: log, now: time.Now}, nil
}

// Dir returns the temp area directory.
func (a *Area) Dir() string { return a.dir }

// Begin creates a fresh, exclusively owned handle. Sweep treats a
// handle whose newest file is older than the grace period as abandoned;
// a writer that pauses longer than that calls Touch.
func (a *Area) Begin() (*Handle, error) {
	path, err := os.MkdirTemp(a.dir, handlePattern)
	if err != nil {
		return nil, errdefs.Resource("begin staging", a.dir, "", err)
	}
	return &Handle{path: path}, nil
}

// Sweep removes temp entries last modified more than grace ago and
// returns how many were removed. An entry's age is that of the newest
// file or directory under it, so a writer still filling a deep tree is
// left alone.
func (a *Area) Sweep(grace time.Duration) (int, error) {
	if grace <= 0 {
		return 0, errdefs.New(errdefs.ErrInvalid, "sweep", a.dir, "", fmt.Errorf("grace must be positive, got %s", grace))
	}
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, errdefs.FromFS("sweep", a.dir, "", err)
	}

	cutoff := a.now().Add(-grace)
	removed := 0
	var errs []error
	for _, entry := range entries {
		path := filepath.Join(a.dir, entry.Name())
		info, err := entry.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue // published or discarded meanwhile
		}
		if err != nil {
			errs = append(errs, errdefs.Resource("sweep", path, "", err))
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		modified := lastModified(path, info)
		if !modified.Before(cutoff) {
			continue
		}
		if err := fsutil.ForceRemoveAll(path); err != nil {
			errs = append(errs, errdefs.Resource("sweep", path, "", err))
			continue
		}
		removed++
		a.log.WithFields(logrus.Fields{
			"path": path,
			"age":  a.now().Sub(modified).Round(time.Second),
		}).Info("swept abandoned temp entry")
	}
	return removed, errors.Join(errs...)
}

// lastModified returns the newest modification time of path and
// everything under it. Entries that vanish during the walk are ignored.
func lastModified(path string, info fs.FileInfo) time.Time {
	latest := info.ModTime()
	if !info.IsDir() {
		return latest
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || p == path {
			return nil
		}
		if fi, err := d.Info(); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
		return nil
	})
	return latest
}

// Handle is a staging directory owned by one caller. Write the artifact
// (a regular file or a directory tree) at ContentPath.
type Handle struct {
	path string

	mu   sync.Mutex
	done bool
}

// Path returns the handle directory.
func (h *Handle) Path() string { return h.path }

// ContentPath returns where the artifact must be written.
func (h *Handle) ContentPath() string { return filepath.Join(h.path, ContentName) }

// Touch refreshes the handle's age so a long-running writer is not
// mistaken for an abandoned one by Sweep.
func (h *Handle) Touch() error {
	now := time.Now()
	if err := os.Chtimes(h.path, now, now); err != nil {
		return errdefs.FromFS("touch", h.path, "", err)
	}
	return nil
}

// Discard removes the handle and everything under it. It is safe to
// call more than once and after Release.
func (h *Handle) Discard() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return nil
	}
	if err := fsutil.ForceRemoveAll(h.path); err != nil {
		return errdefs.Resource("discard", h.path, "", err)
	}
	h.done = true
	return nil
}

// Release marks the handle as consumed after its directory was moved
// out of the temp area.
func (h *Handle) Release() {
	h.mu.Lock()
	h.done = true
	h.mu.Unlock()
}

// Done reports whether the handle was discarded or released.
func (h *Handle) Done() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.done
}
