package farm

import (
	"os"
	"path/filepath"
	"testing"
)

func fetchedDir(t *testing.T, root string, name string) string {
	t.Helper()
	dir := filepath.Join(root, "crates", name)
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte("[package]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestBuild(t *testing.T) {
	root := t.TempDir()
	farmDir := filepath.Join(root, "vendor")

	entries := []Entry{
		{Basename: "foo-1.2.3", Target: fetchedDir(t, root, "foo-1.2.3")},
		{Basename: "bar-0.1.0", Target: fetchedDir(t, root, "bar-0.1.0")},
	}
	if err := Build(farmDir, entries); err != nil {
		t.Fatal(err)
	}

	if err := Verify(farmDir, 2); err != nil {
		t.Fatal(err)
	}

	// entries must resolve through the symlink to the fetched package
	manifest := filepath.Join(farmDir, "foo-1.2.3", "Cargo.toml")
	if _, err := os.Stat(manifest); err != nil {
		t.Errorf("farm entry does not resolve: %v", err)
	}

	// no staging leftovers
	if _, err := os.Stat(farmDir + ".staging"); err == nil {
		t.Error("staging directory was left behind")
	}
}

func TestBuildIsRegenerable(t *testing.T) {
	root := t.TempDir()
	farmDir := filepath.Join(root, "vendor")
	entries := []Entry{{Basename: "foo-1.2.3", Target: fetchedDir(t, root, "foo-1.2.3")}}

	if err := Build(farmDir, entries); err != nil {
		t.Fatal(err)
	}
	// building again over an existing farm must work
	if err := Build(farmDir, entries); err != nil {
		t.Fatal(err)
	}
	if err := Verify(farmDir, 1); err != nil {
		t.Fatal(err)
	}
}

func TestBuildRejectsCollisions(t *testing.T) {
	root := t.TempDir()
	farmDir := filepath.Join(root, "vendor")

	entries := []Entry{
		{Basename: "foo-1.2.3", Target: filepath.Join(root, "a")},
		{Basename: "foo-1.2.3", Target: filepath.Join(root, "b")},
	}
	if err := Build(farmDir, entries); err == nil {
		t.Fatal("colliding basenames must be rejected")
	}
	if _, err := os.Stat(farmDir); err == nil {
		t.Error("no farm may exist after a failed build")
	}
}

func TestVerifyCountsEntries(t *testing.T) {
	root := t.TempDir()
	farmDir := filepath.Join(root, "vendor")
	entries := []Entry{{Basename: "foo-1.2.3", Target: fetchedDir(t, root, "foo-1.2.3")}}

	if err := Build(farmDir, entries); err != nil {
		t.Fatal(err)
	}
	if err := Verify(farmDir, 2); err == nil {
		t.Error("expected a count mismatch")
	}
}
