package fsutil

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func TestRenameNoReplaceFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("one"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := RenameNoReplace(src, dst); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(src); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("source still present: %v", err)
	}

	if err := os.WriteFile(src, []byte("two"), 0o644); err != nil {
		t.Fatal(err)
	}
	err := RenameNoReplace(src, dst)
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected exist error, got %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "one" {
		t.Fatalf("destination replaced: %q", got)
	}
}

func TestRenameNoReplaceDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a", "b"} {
		if err := os.MkdirAll(filepath.Join(dir, name), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name, "f"), []byte(name), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	err := RenameNoReplace(filepath.Join(dir, "a"), filepath.Join(dir, "b"))
	if !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected exist error, got %v", err)
	}
	if err := RenameNoReplace(filepath.Join(dir, "a"), filepath.Join(dir, "c")); err != nil {
		t.Fatal(err)
	}
}

func TestRenameFallback(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	dst := filepath.Join(dir, "dst")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dst, []byte("y"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := renameFallback(src, dst); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected exist error, got %v", err)
	}
	if err := os.Remove(dst); err != nil {
		t.Fatal(err)
	}
	if err := renameFallback(src, dst); err != nil {
		t.Fatal(err)
	}
}

func TestForceRemoveAll(t *testing.T) {
	dir := t.TempDir()
	locked := filepath.Join(dir, "locked")
	if err := os.MkdirAll(filepath.Join(locked, "inner"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(locked, "inner", "f"), []byte("x"), 0o444); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(filepath.Join(locked, "inner"), 0o555); err != nil {
		t.Fatal(err)
	}
	if err := ForceRemoveAll(locked); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(locked); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected removal, got %v", err)
	}
}

func TestCopyTree(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	if err := os.MkdirAll(filepath.Join(src, "sub", "deep"), 0o700); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "sub", "run"), []byte("x"), 0o555); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("../missing", filepath.Join(src, "sub", "dangling")); err != nil {
		t.Fatal(err)
	}

	dst := filepath.Join(t.TempDir(), "dst")
	if err := CopyTree(src, dst); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(filepath.Join(dst, "sub", "run"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o111 != 0o111 {
		t.Errorf("execute bits lost: %v", info.Mode())
	}
	if target, err := os.Readlink(filepath.Join(dst, "sub", "dangling")); err != nil || target != "../missing" {
		t.Errorf("symlink not copied verbatim: %q %v", target, err)
	}
	if _, err := os.Stat(filepath.Join(dst, "sub", "deep")); err != nil {
		t.Errorf("empty directory not copied: %v", err)
	}

	if err := CopyTree(src, dst); !errors.Is(err, fs.ErrExist) {
		t.Errorf("copy onto existing destination: %v", err)
	}
}

func TestUnshare(t *testing.T) {
	dir := t.TempDir()
	orig := filepath.Join(dir, "orig")
	if err := os.WriteFile(orig, []byte("shared"), 0o755); err != nil {
		t.Fatal(err)
	}
	linked := filepath.Join(dir, "linked")
	if err := os.Link(orig, linked); err != nil {
		t.Fatal(err)
	}

	if err := Unshare(linked); err != nil {
		t.Fatal(err)
	}
	a, err := os.Stat(orig)
	if err != nil {
		t.Fatal(err)
	}
	b, err := os.Stat(linked)
	if err != nil {
		t.Fatal(err)
	}
	if os.SameFile(a, b) {
		t.Fatal("files still share an inode")
	}
	if LinkCount(b) != 1 {
		t.Errorf("link count %d", LinkCount(b))
	}
	if b.Mode().Perm() != 0o755 {
		t.Errorf("mode %v", b.Mode().Perm())
	}
	if data, err := os.ReadFile(linked); err != nil || string(data) != "shared" {
		t.Errorf("content %q %v", data, err)
	}

	// A file with a single link is left alone.
	if err := Unshare(orig); err != nil {
		t.Fatal(err)
	}
	c, err := os.Stat(orig)
	if err != nil {
		t.Fatal(err)
	}
	if !os.SameFile(a, c) {
		t.Error("single-link file was replaced")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}
