package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/manifest"
	"github.com/starford/beetle/internal/models"
)

// SchemaVersion is recorded in the metadata of every new index.
const SchemaVersion = 1

const (
	metaFile     = "meta.yaml"
	engineFile   = "index.db"
	manifestFile = "manifest.bin"
	lockFile     = "writer.lock"
)

var nameRule = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidateName checks that name is usable as an index directory name.
func ValidateName(name string) error {
	err := validation.Validate(name,
		validation.Required,
		validation.Length(1, 64),
		validation.Match(nameRule).Error("must start with a letter or digit and contain only letters, digits, '.', '_' or '-'"),
	)
	if err != nil {
		return fmt.Errorf("storage: index name %q: %w", name, errors.Join(apperr.ErrInvalidArgument, err))
	}
	return nil
}

// FS implements Provider backed by the local file system.
type FS struct {
	root string // absolute path to the storage root
	now  func() time.Time
}

// NewFS creates a new FS provider rooted at the given directory,
// creating it if needed.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create root: %w", errors.Join(apperr.ErrIO, err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: stat root: %w", errors.Join(apperr.ErrIO, err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage: root is not a directory: %s: %w", abs, apperr.ErrIO)
	}
	return &FS{root: abs, now: time.Now}, nil
}

// Root returns the absolute storage root.
func (f *FS) Root() string { return f.root }

// safePath resolves an index name to its directory and rejects anything
// that would escape the storage root.
func (f *FS) safePath(name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	abs := filepath.Join(f.root, name)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: path escapes storage root: %s: %w", name, apperr.ErrInvalidArgument)
	}
	return abs, nil
}

// Dir returns the directory of the named index.
func (f *FS) Dir(name string) string { return filepath.Join(f.root, name) }

// EnginePath returns the search database path of the named index.
func (f *FS) EnginePath(name string) string { return filepath.Join(f.root, name, engineFile) }

// LockPath returns the writer lock path of the named index.
func (f *FS) LockPath(name string) string { return filepath.Join(f.root, name, lockFile) }

// Create makes the index directory and writes its metadata. target must be
// an existing directory; it is stored as an absolute path with symlinks
// resolved.
func (f *FS) Create(name, target string) (models.IndexMetadata, error) {
	dir, err := f.safePath(name)
	if err != nil {
		return models.IndexMetadata{}, err
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return models.IndexMetadata{}, fmt.Errorf("storage: resolve target: %w", errors.Join(apperr.ErrInvalidArgument, err))
	}
	info, err := os.Stat(absTarget)
	if err != nil {
		return models.IndexMetadata{}, fmt.Errorf("storage: stat target: %w", errors.Join(apperr.ErrInvalidArgument, err))
	}
	if !info.IsDir() {
		return models.IndexMetadata{}, fmt.Errorf("storage: target is not a directory: %s: %w", absTarget, apperr.ErrInvalidArgument)
	}
	if absTarget, err = filepath.EvalSymlinks(absTarget); err != nil {
		return models.IndexMetadata{}, fmt.Errorf("storage: resolve target: %w", errors.Join(apperr.ErrInvalidArgument, err))
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return models.IndexMetadata{}, fmt.Errorf("storage: create %s: %w", name, apperr.ErrAlreadyExists)
		}
		return models.IndexMetadata{}, fmt.Errorf("storage: create %s: %w", name, errors.Join(apperr.ErrIO, err))
	}

	meta := models.IndexMetadata{
		Name:          name,
		TargetPath:    absTarget,
		CreatedAt:     f.now().UTC().Truncate(time.Second),
		SchemaVersion: SchemaVersion,
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		_ = os.RemoveAll(dir)
		return models.IndexMetadata{}, fmt.Errorf("storage: encode metadata: %w", err)
	}
	if err := writeAtomic(filepath.Join(dir, metaFile), data); err != nil {
		_ = os.RemoveAll(dir)
		return models.IndexMetadata{}, err
	}
	return meta, nil
}

// Metadata reads the metadata of the named index.
func (f *FS) Metadata(name string) (models.IndexMetadata, error) {
	dir, err := f.safePath(name)
	if err != nil {
		return models.IndexMetadata{}, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metaFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.IndexMetadata{}, fmt.Errorf("storage: %s: %w", name, apperr.ErrNotFound)
		}
		return models.IndexMetadata{}, fmt.Errorf("storage: read metadata %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	var meta models.IndexMetadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return models.IndexMetadata{}, fmt.Errorf("storage: decode metadata %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	return meta, nil
}

// List returns the metadata of every index sorted by name. Directories
// without readable metadata are skipped.
func (f *FS) List() ([]models.IndexMetadata, error) {
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", errors.Join(apperr.ErrIO, err))
	}
	out := make([]models.IndexMetadata, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateName(e.Name()) != nil {
			continue
		}
		meta, err := f.Metadata(e.Name())
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Remove deletes the named index directory. A directory left behind by an
// interrupted create is removed too.
func (f *FS) Remove(name string) error {
	dir, err := f.safePath(name)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("storage: %s: %w", name, apperr.ErrNotFound)
		}
		return fmt.Errorf("storage: stat %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("storage: remove %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	return nil
}

// ReadManifest loads the persisted snapshot. A missing manifest (first run)
// yields an empty snapshot.
func (f *FS) ReadManifest(name string) (models.Snapshot, error) {
	dir, err := f.safePath(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.Snapshot{}, nil
		}
		return nil, fmt.Errorf("storage: read manifest %s: %w", name, errors.Join(apperr.ErrIO, err))
	}
	snap, err := manifest.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", name, err)
	}
	return snap, nil
}

// WriteManifest encodes snap and atomically replaces the persisted manifest.
func (f *FS) WriteManifest(name string, snap models.Snapshot) error {
	dir, err := f.safePath(name)
	if err != nil {
		return err
	}
	data, err := manifest.Encode(snap)
	if err != nil {
		return fmt.Errorf("storage: %s: %w", name, err)
	}
	return writeAtomic(filepath.Join(dir, manifestFile), data)
}

// writeAtomic writes content: tmp file → fsync → rename.
func writeAtomic(path string, content []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".beetle-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", errors.Join(apperr.ErrIO, err))
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", errors.Join(apperr.ErrIO, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("storage: rename: %w", errors.Join(apperr.ErrIO, err))
	}
	success = true
	return nil
}
