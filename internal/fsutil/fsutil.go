// Package fsutil holds the filesystem primitives the store builds its
// atomicity on.
package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// RenameNoReplace atomically renames oldpath to newpath, failing with an
// error matching fs.ErrExist when newpath already exists. It works for
// files and directories.
func RenameNoReplace(oldpath, newpath string) error {
	err := renameNoReplace(oldpath, newpath)
	if err == errUnsupported {
		return renameFallback(oldpath, newpath)
	}
	return err
}

var errUnsupported = errors.New("conditional rename unsupported")

// renameFallback emulates a no-replace rename. Regular files are
// hard-linked into place (link fails on an existing name) and the source
// unlinked. Directories rely on rename refusing to replace a non-empty
// directory, which holds for every object and handle the store creates.
func renameFallback(oldpath, newpath string) error {
	info, err := os.Lstat(oldpath)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return os.Rename(oldpath, newpath)
	}
	if err := os.Link(oldpath, newpath); err != nil {
		return err
	}
	return os.Remove(oldpath)
}

// SyncDir flushes directory metadata so a completed rename survives a crash.
func SyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Sync(); err != nil && !errors.Is(err, fs.ErrInvalid) {
		return err
	}
	return nil
}

// ForceRemoveAll removes path like os.RemoveAll, restoring owner write
// permission on directories that block the removal.
func ForceRemoveAll(path string) error {
	err := os.RemoveAll(path)
	if err == nil || !errors.Is(err, fs.ErrPermission) {
		return err
	}
	_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, werr error) error {
		if werr == nil && d.IsDir() {
			_ = os.Chmod(p, 0o700)
		}
		return nil
	})
	return os.RemoveAll(path)
}
