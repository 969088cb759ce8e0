package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func tassert(t *testing.T, cond bool, txt string, args ...interface{}) {
	t.Helper()
	if !cond {
		t.Fatalf(txt, args...)
	}
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

// setupEnv points the CLI at a fresh store and an empty config dir.
func setupEnv(t *testing.T) string {
	t.Helper()
	root := filepath.Join(t.TempDir(), "store")
	t.Setenv("BUILDSTORE_ROOT", root)
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("BUILDSTORE_LOG_LEVEL", "error")
	return root
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	err := rootCmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	out, err := run(t, stdin, args...)
	tassert(t, err == nil, "%v: %v\n%s", args, err, out)
	return strings.TrimSpace(out)
}

func TestPutGetRef(t *testing.T) {
	setupEnv(t)
	const hello = "sha256:2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824"

	id := mustRun(t, "hello", "put", "--ref", "latest")
	tassert(t, id == hello, "put printed %q", id)

	tassert(t, mustRun(t, "", "get", id) == "hello", "get by identity")
	tassert(t, mustRun(t, "", "get", "latest") == "hello", "get by ref")
	tassert(t, mustRun(t, "", "ref", "get", "latest") == hello, "ref get")
	tassert(t, mustRun(t, "", "has", hello) == "true", "has")

	_, err := run(t, "", "put", "--ref", "latest", "--create", "-")
	tassert(t, err != nil, "create over existing ref succeeded")

	ls := mustRun(t, "", "ref", "ls")
	tassert(t, ls == "latest\t"+hello, "ref ls printed %q", ls)

	mustRun(t, "", "ref", "rm", "latest")
	_, err = run(t, "", "ref", "get", "latest")
	tassert(t, err != nil, "deleted ref still resolves")
	tassert(t, mustRun(t, "", "get", hello) == "hello", "object gone with ref")
}

func TestTreeExportImport(t *testing.T) {
	root := setupEnv(t)

	src := filepath.Join(t.TempDir(), "out")
	tassert(t, os.MkdirAll(filepath.Join(src, "bin"), 0o755) == nil, "mkdir")
	tassert(t, os.WriteFile(filepath.Join(src, "bin", "tool"), []byte("tool"), 0o755) == nil, "write")

	digest := mustRun(t, "", "digest", src)
	id := mustRun(t, "", "put", src)
	tassert(t, strings.HasPrefix(digest, id+"\t"), "digest %q, put %q", digest, id)

	dst := filepath.Join(t.TempDir(), "copy")
	mustRun(t, "", "get", id, dst)
	data, err := os.ReadFile(filepath.Join(dst, "bin", "tool"))
	tassert(t, err == nil && string(data) == "tool", "copied tree %q %v", data, err)

	archive := filepath.Join(t.TempDir(), "obj.tar.zst")
	mustRun(t, "", "export", id, archive)

	t.Setenv("BUILDSTORE_ROOT", filepath.Join(t.TempDir(), "other"))
	imported := mustRun(t, "", "import", "--ref", "restored", archive)
	tassert(t, imported == id, "import printed %q, want %s", imported, id)
	tassert(t, mustRun(t, "", "verify", "restored") == id+"\tok", "verify")

	t.Setenv("BUILDSTORE_ROOT", root)
	objects := mustRun(t, "", "objects")
	tassert(t, objects == id, "objects printed %q", objects)
	tassert(t, mustRun(t, "", "fsck") == "ok", "fsck")

	stats := mustRun(t, "", "stats")
	tassert(t, strings.Contains(stats, "objects:   1"), "stats printed %q", stats)

	mustRun(t, "", "rm", id)
	out, err := run(t, "", "has", id)
	tassert(t, err != nil && strings.HasPrefix(out, "false"), "has after rm: %q %v", out, err)
}

func TestSweep(t *testing.T) {
	setupEnv(t)
	out := mustRun(t, "", "sweep", "--grace", "1h")
	tassert(t, out == "removed 0 entries", "sweep printed %q", out)

	_, err := run(t, "", "sweep", "--grace", "0s")
	tassert(t, err != nil, "zero grace accepted")
}

func TestBlake3FromEnv(t *testing.T) {
	setupEnv(t)
	t.Setenv("BUILDSTORE_ALGORITHM", "blake3")
	id := mustRun(t, "hello", "put")
	tassert(t, strings.HasPrefix(id, "blake3:"), "put printed %q", id)

	t.Setenv("BUILDSTORE_ALGORITHM", "md5")
	_, err := run(t, "hello", "put")
	tassert(t, err != nil, "unknown algorithm accepted")
}
