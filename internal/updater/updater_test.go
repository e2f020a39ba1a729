package updater

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/catalog"
	"github.com/starford/beetle/internal/manifest"
	"github.com/starford/beetle/internal/models"
	"github.com/starford/beetle/internal/scanner"
	"github.com/starford/beetle/internal/storage"
	"github.com/starford/beetle/internal/testutil"

	_ "modernc.org/sqlite"
)

type fixture struct {
	store *storage.FS
	cat   *catalog.Catalog
	up    *Updater
	repo  string
}

func newFixture(t *testing.T, files testutil.Files) *fixture {
	t.Helper()
	store, err := storage.NewFS(filepath.Join(t.TempDir(), "indexes"))
	require.NoError(t, err)
	cat := catalog.New(store, nil)
	t.Cleanup(func() { cat.Close() })

	repo := testutil.TestRepo(t, files)
	_, err = cat.Create("repo", repo)
	require.NoError(t, err)
	return &fixture{store: store, cat: cat, up: New(cat, nil), repo: repo}
}

func defaultOptions() Options {
	return Options{Scan: scanner.DefaultOptions(), Workers: 4}
}

func (f *fixture) update(t *testing.T, opts Options) models.Stats {
	t.Helper()
	stats, err := f.up.Update(context.Background(), "repo", "", opts)
	require.NoError(t, err)
	require.NoError(t, f.cat.Reload("repo"))
	return stats
}

func (f *fixture) search(t *testing.T, term string) []string {
	t.Helper()
	r, err := f.cat.Reader("repo")
	require.NoError(t, err)
	rows, err := r.Search(context.Background(), `"`+term+`"`, 100)
	require.NoError(t, err)
	var out []string
	for _, row := range rows {
		out = append(out, row.Path)
	}
	return out
}

func (f *fixture) docCount(t *testing.T) int {
	t.Helper()
	r, err := f.cat.Reader("repo")
	require.NoError(t, err)
	n, err := r.DocCount(context.Background())
	require.NoError(t, err)
	return n
}

func (f *fixture) manifestBytes(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.store.Dir("repo"), "manifest.bin"))
	require.NoError(t, err)
	return data
}

func TestUpdateFirstRun(t *testing.T) {
	f := newFixture(t, testutil.Files{
		"main.go":        "package main // pelican",
		"docs/README.md": "pelican and walrus",
		"lib/util.go":    "package lib",
	})

	stats := f.update(t, defaultOptions())
	assert.Equal(t, 3, stats.Added)
	assert.Equal(t, 0, stats.Modified)
	assert.Equal(t, 0, stats.Removed)
	assert.Equal(t, 3, stats.Indexed)
	assert.Equal(t, 0, stats.Skipped)
	assert.Positive(t, stats.TotalBytes)

	assert.ElementsMatch(t, []string{"docs/README.md", "main.go"}, f.search(t, "pelican"))
	assert.Equal(t, 3, f.docCount(t))

	snap, err := manifest.Decode(f.manifestBytes(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"docs/README.md", "lib/util.go", "main.go"}, snap.Paths())
}

func TestUpdateIncremental(t *testing.T) {
	f := newFixture(t, testutil.Files{
		"a.go": "alpha original",
		"b.go": "bravo stays",
		"c.go": "charlie leaves",
	})
	f.update(t, defaultOptions())

	testutil.WriteFileAt(t, f.repo, "a.go", "alpha rewritten entirely", time.Now().Add(time.Hour))
	testutil.Remove(t, f.repo, "c.go")
	testutil.WriteFile(t, f.repo, "d.go", "delta arrives")

	stats := f.update(t, defaultOptions())
	assert.Equal(t, 1, stats.Added)
	assert.Equal(t, 1, stats.Modified)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 2, stats.Indexed)

	assert.Empty(t, f.search(t, "original"))
	assert.Equal(t, []string{"a.go"}, f.search(t, "rewritten"))
	assert.Empty(t, f.search(t, "charlie"))
	assert.Equal(t, []string{"d.go"}, f.search(t, "arrives"))
	assert.Equal(t, []string{"b.go"}, f.search(t, "bravo"))
	assert.Equal(t, 3, f.docCount(t))
}

func TestUpdateIdempotent(t *testing.T) {
	f := newFixture(t, testutil.Files{"x.txt": "one", "y/z.txt": "two"})
	f.update(t, defaultOptions())
	before := f.manifestBytes(t)

	stats := f.update(t, defaultOptions())
	assert.Zero(t, stats.Added)
	assert.Zero(t, stats.Modified)
	assert.Zero(t, stats.Removed)
	assert.Zero(t, stats.Indexed)
	assert.Equal(t, before, f.manifestBytes(t))
	assert.Equal(t, 2, f.docCount(t))
}

func TestUpdateNotVisibleUntilReload(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.txt": "narwhal"})

	r, err := f.cat.Reader("repo")
	require.NoError(t, err)

	_, err = f.up.Update(context.Background(), "repo", "", defaultOptions())
	require.NoError(t, err)

	n, err := r.DocCount(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, f.cat.Reload("repo"))
	n, err = r.DocCount(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUpdateLockBusy(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.txt": "x"})

	w, err := f.cat.Writer(context.Background(), "repo", 0)
	require.NoError(t, err)
	_, err = f.up.Update(context.Background(), "repo", "", defaultOptions())
	require.ErrorIs(t, err, apperr.ErrLockBusy)
	require.NoError(t, w.Release())

	other := flock.New(f.store.LockPath("repo"))
	locked, err := other.TryLock()
	require.NoError(t, err)
	require.True(t, locked)
	defer other.Unlock()

	_, err = f.up.Update(context.Background(), "repo", "", defaultOptions())
	require.ErrorIs(t, err, apperr.ErrLockBusy)
}

func TestUpdateCorruptManifest(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.txt": "heron"})
	f.update(t, defaultOptions())

	require.NoError(t, os.WriteFile(filepath.Join(f.store.Dir("repo"), "manifest.bin"), []byte("garbage"), 0o644))
	testutil.WriteFile(t, f.repo, "b.txt", "heron again")

	_, err := f.up.Update(context.Background(), "repo", "", defaultOptions())
	require.ErrorIs(t, err, apperr.ErrCorruptManifest)
	require.NoError(t, f.cat.Reload("repo"))
	assert.Equal(t, []string{"a.txt"}, f.search(t, "heron"))

	opts := defaultOptions()
	opts.Mode = Full
	stats := f.update(t, opts)
	assert.Equal(t, 2, stats.Added)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, f.search(t, "heron"))

	_, err = manifest.Decode(f.manifestBytes(t))
	require.NoError(t, err)
}

func TestUpdateFullDropsStaleDocuments(t *testing.T) {
	f := newFixture(t, testutil.Files{"keep.txt": "ibis", "gone.txt": "ibis"})
	f.update(t, defaultOptions())

	// Removed behind the manifest's back.
	testutil.Remove(t, f.repo, "gone.txt")
	require.NoError(t, os.Remove(filepath.Join(f.store.Dir("repo"), "manifest.bin")))

	opts := defaultOptions()
	opts.Mode = Full
	f.update(t, opts)
	assert.Equal(t, []string{"keep.txt"}, f.search(t, "ibis"))
}

func TestUpdateCanceledLeavesIndexUntouched(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.txt": "okapi"})
	f.update(t, defaultOptions())
	before := f.manifestBytes(t)

	testutil.WriteFile(t, f.repo, "b.txt", "okapi")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.up.Update(ctx, "repo", "", defaultOptions())
	require.Error(t, err)

	require.NoError(t, f.cat.Reload("repo"))
	assert.Equal(t, []string{"a.txt"}, f.search(t, "okapi"))
	assert.Equal(t, before, f.manifestBytes(t))

	// The writer was released.
	f.update(t, defaultOptions())
	assert.Len(t, f.search(t, "okapi"), 2)
}

func TestUpdateCommitFailureKeepsManifest(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.txt": "tapir"})
	f.update(t, defaultOptions())
	before := f.manifestBytes(t)

	// Make the commit bookkeeping write fail from a second connection.
	raw, err := sql.Open("sqlite", f.store.EnginePath("repo"))
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })
	for _, stmt := range []string{
		`CREATE TRIGGER fail_commit_ins BEFORE INSERT ON index_state BEGIN SELECT RAISE(ABORT, 'commit refused'); END`,
		`CREATE TRIGGER fail_commit_upd BEFORE UPDATE ON index_state BEGIN SELECT RAISE(ABORT, 'commit refused'); END`,
	} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}

	testutil.WriteFile(t, f.repo, "b.txt", "tapir")
	_, err = f.up.Update(context.Background(), "repo", "", defaultOptions())
	require.ErrorIs(t, err, apperr.ErrCommit)

	assert.Equal(t, before, f.manifestBytes(t))
	require.NoError(t, f.cat.Reload("repo"))
	assert.Equal(t, []string{"a.txt"}, f.search(t, "tapir"))

	for _, stmt := range []string{`DROP TRIGGER fail_commit_ins`, `DROP TRIGGER fail_commit_upd`} {
		_, err := raw.Exec(stmt)
		require.NoError(t, err)
	}
	stats := f.update(t, defaultOptions())
	assert.Equal(t, 1, stats.Added)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, f.search(t, "tapir"))
}

func TestUpdateSymlinkedTarget(t *testing.T) {
	store, err := storage.NewFS(filepath.Join(t.TempDir(), "indexes"))
	require.NoError(t, err)
	cat := catalog.New(store, nil)
	t.Cleanup(func() { cat.Close() })

	repo := testutil.TestRepo(t, testutil.Files{"a.go": "gecko", "pkg/b.go": "gecko"})
	link := filepath.Join(t.TempDir(), "link")
	if err := os.Symlink(repo, link); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	meta, err := cat.Create("repo", link)
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(repo)
	require.NoError(t, err)
	assert.Equal(t, resolved, meta.TargetPath)

	stats, err := New(cat, nil).Update(context.Background(), "repo", link, defaultOptions())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)
	assert.Equal(t, 2, stats.Indexed)
}

func TestUpdateTargetReplacedBySymlink(t *testing.T) {
	f := newFixture(t, testutil.Files{"a.go": "gecko", "pkg/b.go": "gecko"})
	f.update(t, defaultOptions())

	moved := filepath.Join(t.TempDir(), "moved")
	require.NoError(t, os.Rename(f.repo, moved))
	if err := os.Symlink(moved, f.repo); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	stats := f.update(t, defaultOptions())
	assert.Zero(t, stats.Removed)
	assert.Zero(t, stats.Added)
	assert.Equal(t, 2, f.docCount(t))
}

func TestUpdateUnknownIndex(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.up.Update(context.Background(), "nope", "", defaultOptions())
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestUpdateSkippedFileIsRetried(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	f := newFixture(t, testutil.Files{"ok.txt": "tapir", "locked.txt": "tapir"})
	locked := filepath.Join(f.repo, "locked.txt")
	require.NoError(t, os.Chmod(locked, 0))
	t.Cleanup(func() { os.Chmod(locked, 0o644) })

	stats := f.update(t, defaultOptions())
	assert.Equal(t, 1, stats.Skipped)
	assert.Equal(t, []string{"ok.txt"}, f.search(t, "tapir"))

	snap, err := manifest.Decode(f.manifestBytes(t))
	require.NoError(t, err)
	assert.Equal(t, []string{"ok.txt"}, snap.Paths())

	require.NoError(t, os.Chmod(locked, 0o644))
	stats = f.update(t, defaultOptions())
	assert.Equal(t, 1, stats.Added)
	assert.Len(t, f.search(t, "tapir"), 2)
}

func TestReadDocument(t *testing.T) {
	root := testutil.TestRepo(t, testutil.Files{
		"text.GO":  "package x",
		"big.txt":  "0123456789",
		"blob.dat": "ab\x00cd",
	})
	opts := scanner.Options{MaxFileSize: 5, ExcludeBinary: true}

	_, err := readDocument(root, models.FileMetadata{Path: "big.txt"}, opts)
	assert.ErrorIs(t, err, errTooLarge)

	opts.MaxFileSize = 0
	_, err = readDocument(root, models.FileMetadata{Path: "blob.dat"}, opts)
	assert.ErrorIs(t, err, errBinary)

	doc, err := readDocument(root, models.FileMetadata{Path: "text.GO", ModifiedTime: 1700000000}, opts)
	require.NoError(t, err)
	assert.Equal(t, "go", doc.Extension)
	assert.Equal(t, uint64(9), doc.Size)
	assert.Equal(t, int64(1700000000), doc.ModifiedAt.Unix())

	_, err = readDocument(root, models.FileMetadata{Path: "missing.txt"}, opts)
	assert.Error(t, err)
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": Incremental, "incremental": Incremental, "FULL": Full, "reindex": Full} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("sideways")
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}
