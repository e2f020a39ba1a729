// Package testutil provides shared test helpers for building throwaway repositories.
package testutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// Files maps slash-separated relative paths to file contents.
type Files map[string]string

// TestRepo creates a temporary repository directory populated with files.
func TestRepo(t *testing.T, files Files) string {
	t.Helper()
	root := t.TempDir()
	WriteFiles(t, root, files)
	return root
}

// WriteFiles writes files under root, creating parent directories.
func WriteFiles(t *testing.T, root string, files Files) {
	t.Helper()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
}

// WriteFile writes a single file under root.
func WriteFile(t *testing.T, root, rel, content string) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// WriteFileAt writes a file and pins its modification time, so edits made
// within the same second are still observable.
func WriteFileAt(t *testing.T, root, rel, content string, mtime time.Time) {
	t.Helper()
	WriteFile(t, root, rel, content)
	Touch(t, root, rel, mtime)
}

// Touch sets the modification time of an existing file.
func Touch(t *testing.T, root, rel string, mtime time.Time) {
	t.Helper()
	p := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.Chtimes(p, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// Remove deletes a file under root.
func Remove(t *testing.T, root, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(root, filepath.FromSlash(rel))); err != nil {
		t.Fatal(err)
	}
}
