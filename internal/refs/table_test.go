package refs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/sirupsen/logrus"

	"github.com/aweris/buildstore/internal/digest"
	"github.com/aweris/buildstore/internal/errdefs"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func setup(t *testing.T) (*Table, string) {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	root := t.TempDir()
	tbl, err := New(filepath.Join(root, "refs"), filepath.Join(root, "tmp"), log)
	if err != nil {
		t.Fatal(err)
	}
	return tbl, root
}

func ident(s string) digest.Identity {
	d, _ := digest.New(digest.SHA256, 0)
	return d.Bytes([]byte(s))
}

func TestSetResolve(t *testing.T) {
	tbl, root := setup(t)
	a, b := ident("a"), ident("b")

	_, err := tbl.Resolve("release/latest")
	tassert(t, errdefs.IsNotFound(err), "resolve missing: %v", err)

	tassert(t, tbl.Set("release/latest", a) == nil, "set a failed")
	got, err := tbl.Resolve("release/latest")
	tassert(t, err == nil && got == a, "resolve: %s %v", got, err)

	data, err := os.ReadFile(filepath.Join(root, "refs", "release", "latest"))
	tassert(t, err == nil, "%v", err)
	tassert(t, string(data) == a.String(), "ref file holds %q", data)

	tassert(t, tbl.Set("release/latest", b) == nil, "set b failed")
	got, err = tbl.Resolve("release/latest")
	tassert(t, err == nil && got == b, "resolve after overwrite: %s %v", got, err)

	entries, err := os.ReadDir(filepath.Join(root, "tmp"))
	tassert(t, err == nil && len(entries) == 0, "temp files left behind: %d %v", len(entries), err)
}

func TestCreate(t *testing.T) {
	tbl, _ := setup(t)
	a, b := ident("a"), ident("b")

	tassert(t, tbl.Create("pin", a) == nil, "create failed")
	err := tbl.Create("pin", b)
	tassert(t, errdefs.IsAlreadyExists(err), "second create: %v", err)

	got, err := tbl.Resolve("pin")
	tassert(t, err == nil && got == a, "create replaced the ref: %s %v", got, err)
}

func TestConcurrentCreateHasOneWinner(t *testing.T) {
	tbl, _ := setup(t)
	const n = 8
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tbl.Create("contended", ident(string(rune('a'+i))))
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		tassert(t, errdefs.IsAlreadyExists(err), "unexpected error %v", err)
	}
	tassert(t, wins == 1, "%d creators won", wins)
}

func TestResolveCorrupt(t *testing.T) {
	tbl, root := setup(t)
	path := filepath.Join(root, "refs", "broken")
	if err := os.WriteFile(path, []byte("sha256:zz"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := tbl.Resolve("broken")
	tassert(t, errdefs.IsCorrupt(err), "got %v", err)

	// A trailing newline is not part of the format.
	if err := os.WriteFile(path, []byte(ident("x").String()+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err = tbl.Resolve("broken")
	tassert(t, errdefs.IsCorrupt(err), "got %v", err)
}

func TestInvalidNames(t *testing.T) {
	tbl, _ := setup(t)
	for _, name := range []string{
		"",
		"/abs",
		"trailing/",
		"a//b",
		".",
		"..",
		"a/../b",
		".hidden",
		"dir/.hidden",
		"nul\x00byte",
		strings.Repeat("x", MaxNameLen+1),
	} {
		err := tbl.Set(name, ident("a"))
		tassert(t, errdefs.IsInvalid(err), "set %q: %v", name, err)
		_, err = tbl.Resolve(name)
		tassert(t, errdefs.IsInvalid(err), "resolve %q: %v", name, err)
	}
	tassert(t, ValidateName(strings.Repeat("x", MaxNameLen)) == nil, "max length name rejected")
	tassert(t, ValidateName("builds/x86_64/v1.2") == nil, "nested name rejected")
}

func TestNameClashes(t *testing.T) {
	tbl, _ := setup(t)
	tassert(t, tbl.Set("a", ident("a")) == nil, "set a")
	tassert(t, tbl.Set("b/c", ident("c")) == nil, "set b/c")

	// "a" is a ref, so it cannot also hold refs.
	err := tbl.Set("a/b", ident("x"))
	tassert(t, errdefs.IsInvalid(err), "set a/b: %v", err)
	err = tbl.Create("a/b/c", ident("x"))
	tassert(t, errdefs.IsInvalid(err), "create a/b/c: %v", err)

	// "b" holds refs, so it cannot be one.
	err = tbl.Set("b", ident("x"))
	tassert(t, errdefs.IsInvalid(err), "set b: %v", err)
	err = tbl.Create("b", ident("x"))
	tassert(t, errdefs.IsInvalid(err), "create b: %v", err)

	id, err := tbl.Resolve("a")
	tassert(t, err == nil && id == ident("a"), "a changed: %s %v", id, err)
	id, err = tbl.Resolve("b/c")
	tassert(t, err == nil && id == ident("c"), "b/c changed: %s %v", id, err)
}

func TestSetRejectsBadIdentity(t *testing.T) {
	tbl, _ := setup(t)
	err := tbl.Set("x", "sha256:abc")
	tassert(t, errdefs.IsInvalid(err), "got %v", err)
}

func TestDelete(t *testing.T) {
	tbl, _ := setup(t)
	tassert(t, tbl.Set("a/b", ident("a")) == nil, "set failed")

	err := tbl.Delete("a")
	tassert(t, errdefs.IsNotFound(err), "deleting a ref directory: %v", err)
	tassert(t, tbl.Delete("a/b") == nil, "delete failed")

	_, err = tbl.Resolve("a/b")
	tassert(t, errdefs.IsNotFound(err), "resolve after delete: %v", err)
	err = tbl.Delete("a/b")
	tassert(t, errdefs.IsNotFound(err), "second delete: %v", err)
	err = tbl.Delete("a/b/c")
	tassert(t, errdefs.IsNotFound(err), "delete below missing ref: %v", err)
}

func TestList(t *testing.T) {
	tbl, root := setup(t)
	want := []Ref{
		{Name: "alpha", ID: ident("1")},
		{Name: "builds/amd64", ID: ident("2")},
		{Name: "builds/arm64", ID: ident("3")},
		{Name: "zeta", ID: ident("4")},
	}
	for i := len(want) - 1; i >= 0; i-- {
		tassert(t, tbl.Set(want[i].Name, want[i].ID) == nil, "set %s failed", want[i].Name)
	}
	if err := os.WriteFile(filepath.Join(root, "refs", "builds", "garbage"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "refs", ".stray"), []byte("nope"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got []Ref
	var corrupt []string
	for ref, err := range tbl.List() {
		if err != nil {
			tassert(t, errdefs.IsCorrupt(err), "unexpected error %v", err)
			corrupt = append(corrupt, ref.Name)
			continue
		}
		got = append(got, ref)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("refs mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"builds/garbage"}, corrupt); diff != "" {
		t.Errorf("corrupt refs mismatch (-want +got):\n%s", diff)
	}
}

// Readers racing a slow writer see the old target or the new one and
// nothing else.
func TestReadersNeverSeePartialRef(t *testing.T) {
	tbl, _ := setup(t)
	a, b := ident("old"), ident("new")
	tassert(t, tbl.Set("main", a) == nil, "set failed")

	written := make(chan struct{})
	release := make(chan struct{})
	tbl.beforeCommit = func(string) {
		close(written)
		<-release
	}

	done := make(chan error, 1)
	go func() { done <- tbl.Set("main", b) }()
	<-written

	for i := 0; i < 100; i++ {
		got, err := tbl.Resolve("main")
		tassert(t, err == nil && got == a, "mid-write resolve: %s %v", got, err)
	}
	close(release)
	tassert(t, <-done == nil, "set failed")

	got, err := tbl.Resolve("main")
	tassert(t, err == nil && got == b, "after write: %s %v", got, err)
}

func TestWatch(t *testing.T) {
	tbl, _ := setup(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := tbl.Watch(ctx, "ci/main")
	tassert(t, err == nil, "watch: %v", err)

	next := func() Update {
		t.Helper()
		select {
		case u, ok := <-ch:
			tassert(t, ok, "watch channel closed")
			return u
		case <-ctx.Done():
			t.Fatal("timed out waiting for update")
		}
		return Update{}
	}

	u := next()
	tassert(t, u.Deleted, "initial state: %+v", u)

	a, b := ident("a"), ident("b")
	tassert(t, tbl.Set("ci/main", a) == nil, "set a failed")
	u = next()
	tassert(t, u.ID == a, "first update: %+v", u)

	tassert(t, tbl.Set("ci/main", b) == nil, "set b failed")
	u = next()
	tassert(t, u.ID == b, "second update: %+v", u)

	tassert(t, tbl.Delete("ci/main") == nil, "delete failed")
	u = next()
	tassert(t, u.Deleted, "delete update: %+v", u)

	cancel()
	for range ch {
	}
}
