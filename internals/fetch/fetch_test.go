package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/cratefarm/cratefarm/internals/cargolock"
	"github.com/cratefarm/cratefarm/internals/gitfetch"
	"github.com/cratefarm/cratefarm/internals/source"
)

// crateTarball builds a gzipped tarball the way the registry packs crates:
// one "{name}-{version}" top level directory containing everything
func crateTarball(t *testing.T, topDir string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zipper := gzip.NewWriter(&buf)
	writer := tar.NewWriter(zipper)

	for name, content := range files {
		header := &tar.Header{
			Name: topDir + "/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := writer.WriteHeader(header); err != nil {
			t.Fatal(err)
		}
		if _, err := writer.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zipper.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func sha256hex(data []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(data))
}

func testCrate(t *testing.T) (pkg cargolock.Package, tarball []byte) {
	pkg = cargolock.Package{
		Name:     "foo",
		Version:  "1.2.3",
		Source:   "registry+https://github.com/rust-lang/crates.io-index",
		Checksum: "",
	}
	tarball = crateTarball(t, "foo-1.2.3", map[string]string{
		"Cargo.toml": "[package]\nname = \"foo\"\nversion = \"1.2.3\"\n",
		"src/lib.rs": "pub fn foo() {}\n",
	})
	return pkg, tarball
}

func crateServer(t *testing.T, tarball []byte) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/foo/foo-1.2.3.crate" {
			http.NotFound(w, r)
			return
		}
		w.Write(tarball)
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRegistryItemFetch(t *testing.T) {
	pkg, tarball := testCrate(t)
	server := crateServer(t, tarball)

	dest := filepath.Join(t.TempDir(), "foo-1.2.3")
	item := &RegistryItem{
		DownloadBase: server.URL,
		Package:      pkg,
		Checksum:     sha256hex(tarball),
		Dest:         dest,
	}

	if err := item.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	// the outer foo-1.2.3 directory must be stripped
	for _, name := range []string{"Cargo.toml", "src/lib.rs", MarkerName} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Errorf("expected %s in unpacked crate: %v", name, err)
		}
	}
	if _, err := os.Stat(filepath.Join(dest, "foo-1.2.3")); err == nil {
		t.Error("top level directory was not stripped")
	}

	marker := readMarker(t, dest)
	if marker.Package == nil || *marker.Package != item.Checksum {
		t.Errorf("marker should embed the crate hash, got %+v", marker)
	}
	if marker.Files == nil || len(marker.Files) != 0 {
		t.Errorf("marker files should be an empty object, got %+v", marker.Files)
	}
}

// symlinkCrateTarball packs a crate containing a symlink entry
func symlinkCrateTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	zipper := gzip.NewWriter(&buf)
	writer := tar.NewWriter(zipper)

	lib := "pub fn foo() {}\n"
	if err := writer.WriteHeader(&tar.Header{
		Name: "foo-1.2.3/src/lib.rs",
		Mode: 0o644,
		Size: int64(len(lib)),
	}); err != nil {
		t.Fatal(err)
	}
	if _, err := writer.Write([]byte(lib)); err != nil {
		t.Fatal(err)
	}
	if err := writer.WriteHeader(&tar.Header{
		Name:     "foo-1.2.3/LICENSE",
		Typeflag: tar.TypeSymlink,
		Linkname: "src/lib.rs",
		Mode:     0o777,
	}); err != nil {
		t.Fatal(err)
	}

	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	if err := zipper.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestRegistryItemRefetch(t *testing.T) {
	// re-running over an existing output directory must succeed, even when
	// the crate contains symlinks (which can not be created over existing
	// files)
	tarball := symlinkCrateTarball(t)
	server := crateServer(t, tarball)

	dest := filepath.Join(t.TempDir(), "foo-1.2.3")
	item := &RegistryItem{
		DownloadBase: server.URL,
		Package:      cargolock.Package{Name: "foo", Version: "1.2.3", Source: "registry+https://github.com/rust-lang/crates.io-index"},
		Checksum:     sha256hex(tarball),
		Dest:         dest,
	}

	for run := 1; run <= 2; run++ {
		if err := item.Fetch(context.Background()); err != nil {
			t.Fatalf("fetch run %d: %v", run, err)
		}
	}

	link, err := os.Readlink(filepath.Join(dest, "LICENSE"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "src/lib.rs" {
		t.Errorf("expected symlink to src/lib.rs, got %q", link)
	}
}

func TestRegistryItemIntegrityMismatch(t *testing.T) {
	pkg, tarball := testCrate(t)
	server := crateServer(t, tarball)

	dest := filepath.Join(t.TempDir(), "foo-1.2.3")
	item := &RegistryItem{
		DownloadBase: server.URL,
		Package:      pkg,
		Checksum:     "0000000000000000000000000000000000000000000000000000000000000000",
		Dest:         dest,
	}

	err := item.Fetch(context.Background())
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if integrity.ID != pkg.ID() {
		t.Errorf("error should name the package, got %q", integrity.ID)
	}
	// nothing may be unpacked after a failed verification
	if _, err := os.Stat(filepath.Join(dest, "Cargo.toml")); err == nil {
		t.Error("crate was unpacked despite failing verification")
	}
}

func TestRegistryItemNotFound(t *testing.T) {
	server := crateServer(t, nil)

	item := &RegistryItem{
		DownloadBase: server.URL,
		Package:      cargolock.Package{Name: "nope", Version: "0.0.1"},
		Checksum:     "irrelevant",
		Dest:         filepath.Join(t.TempDir(), "nope-0.0.1"),
	}

	err := item.Fetch(context.Background())
	var failure *Error
	if !errors.As(err, &failure) {
		t.Fatalf("expected a fetch Error, got %v", err)
	}
}

func TestRegistryItemURL(t *testing.T) {
	item := &RegistryItem{Package: cargolock.Package{Name: "serde", Version: "1.0.160"}}
	want := DefaultDownloadBase + "/serde/serde-1.0.160.crate"
	if item.URL() != want {
		t.Errorf("expected %s, got %s", want, item.URL())
	}
}

// fakeGit writes a fixed tree instead of cloning
type fakeGit struct {
	files map[string]string
	links map[string]string
	fail  error
}

func (f *fakeGit) SupportsSubmodules() bool { return true }

func (f *fakeGit) Fetch(ctx context.Context, url string, rev string, dest string, submodules bool) error {
	if f.fail != nil {
		return f.fail
	}
	for name, content := range f.files {
		path := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return err
		}
	}
	for name, target := range f.links {
		if err := os.Symlink(target, filepath.Join(dest, name)); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeGit) treeHash(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	if err := f.Fetch(context.Background(), "", "", tmp, true); err != nil {
		t.Fatal(err)
	}
	hash, err := gitfetch.HashTree(tmp)
	if err != nil {
		t.Fatal(err)
	}
	return hash
}

func gitPackage() (cargolock.Package, source.Provenance) {
	pkg := cargolock.Package{Name: "bar", Version: "0.1.0", Source: "git+https://host/bar?rev=shortsha"}
	return pkg, source.ParseGitSource(pkg.Source)
}

func TestGitItemFetch(t *testing.T) {
	git := &fakeGit{files: map[string]string{
		"Cargo.toml":  "[package]\nname = \"bar\"\n",
		"src/main.rs": "fn main() {}\n",
	}}
	pkg, prov := gitPackage()

	dest := filepath.Join(t.TempDir(), "bar-0.1.0")
	item := &GitItem{Git: git, Package: pkg, Prov: prov, Hash: git.treeHash(t), Dest: dest}
	if err := item.Fetch(context.Background()); err != nil {
		t.Fatal(err)
	}

	for _, name := range []string{"Cargo.toml", "src/main.rs", MarkerName} {
		if _, err := os.Stat(filepath.Join(dest, name)); err != nil {
			t.Errorf("expected %s in vendored tree: %v", name, err)
		}
	}

	// git sources get a null package hash
	marker := readMarker(t, dest)
	if marker.Package != nil {
		t.Errorf("git marker should have a null package hash, got %q", *marker.Package)
	}
}

func TestGitItemRefetch(t *testing.T) {
	git := &fakeGit{
		files: map[string]string{"src/main.rs": "fn main() {}\n"},
		links: map[string]string{"main.rs": "src/main.rs"},
	}
	pkg, prov := gitPackage()

	dest := filepath.Join(t.TempDir(), "bar-0.1.0")
	item := &GitItem{Git: git, Package: pkg, Prov: prov, Hash: git.treeHash(t), Dest: dest}

	// the copied symlink must not break a second run into the same Dest
	for run := 1; run <= 2; run++ {
		if err := item.Fetch(context.Background()); err != nil {
			t.Fatalf("fetch run %d: %v", run, err)
		}
	}

	link, err := os.Readlink(filepath.Join(dest, "main.rs"))
	if err != nil {
		t.Fatal(err)
	}
	if link != "src/main.rs" {
		t.Errorf("expected symlink to src/main.rs, got %q", link)
	}
}

func TestGitItemIntegrityMismatch(t *testing.T) {
	git := &fakeGit{files: map[string]string{"src/main.rs": "fn main() {}\n"}}
	pkg, prov := gitPackage()

	dest := filepath.Join(t.TempDir(), "bar-0.1.0")
	item := &GitItem{Git: git, Package: pkg, Prov: prov, Hash: "not-the-tree-hash", Dest: dest}

	err := item.Fetch(context.Background())
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("expected IntegrityError, got %v", err)
	}
	if _, statErr := os.Stat(dest); statErr == nil {
		t.Error("tree was copied despite failing verification")
	}
}

func readMarker(t *testing.T, dir string) *checksumMarker {
	t.Helper()
	buf, err := os.ReadFile(filepath.Join(dir, MarkerName))
	if err != nil {
		t.Fatal(err)
	}
	marker := checksumMarker{}
	if err := json.Unmarshal(buf, &marker); err != nil {
		t.Fatal(err)
	}
	return &marker
}

type countingItem struct {
	id      string
	counter *int32
	err     error
}

func (c *countingItem) ID() string { return c.id }

func (c *countingItem) Fetch(ctx context.Context) error {
	atomic.AddInt32(c.counter, 1)
	return c.err
}

func TestQueueRunsEverything(t *testing.T) {
	var fetched int32
	queue := NewQueue(4)
	for at := 0; at < 20; at++ {
		queue.Add(&countingItem{id: fmt.Sprintf("item-%d", at), counter: &fetched})
	}

	var progress int32
	queue.OnProgress = func(done int, total int) {
		atomic.StoreInt32(&progress, int32(done))
	}

	if err := queue.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if fetched != 20 {
		t.Errorf("expected 20 fetches, got %d", fetched)
	}
	if progress != 20 {
		t.Errorf("expected final progress 20, got %d", progress)
	}
}

func TestQueueAbortsOnError(t *testing.T) {
	var fetched int32
	boom := errors.New("boom")

	queue := NewQueue(1)
	queue.Add(&countingItem{id: "ok", counter: &fetched})
	queue.Add(&countingItem{id: "bad", counter: &fetched, err: boom})
	queue.Add(&countingItem{id: "never", counter: &fetched})

	err := queue.Start(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected the item error, got %v", err)
	}
}

func TestQueueEmpty(t *testing.T) {
	if err := NewQueue(4).Start(context.Background()); err != nil {
		t.Fatal(err)
	}
}
