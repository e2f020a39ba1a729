// Package scanner walks a repository and produces the sorted snapshot of
// files eligible for indexing.
package scanner

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/starford/beetle/internal/apperr"
	"github.com/starford/beetle/internal/models"
)

// Options controls which files a scan reports.
type Options struct {
	// RespectIgnore honors .gitignore and .ignore files in every directory
	// plus .git/info/exclude at the root.
	RespectIgnore bool
	// IncludeHidden reports dot-files and descends into dot-directories.
	// .git is never descended.
	IncludeHidden bool
	// MaxFileSize excludes files larger than this many bytes. Zero disables the cap.
	MaxFileSize int64
	// ExcludeBinary drops files with a binary extension or binary leading bytes.
	ExcludeBinary bool
	Logger        *slog.Logger
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		RespectIgnore: true,
		MaxFileSize:   1 << 20,
		ExcludeBinary: true,
	}
}

var ignoreFiles = []string{".gitignore", ".ignore"}

// Scan walks root once and returns metadata for every eligible regular file,
// sorted by slash-separated relative path. Unreadable subtrees are skipped
// with a warning; a missing or non-directory root is fatal.
func Scan(root string, opts Options) (models.Snapshot, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("scanner: resolve root: %w", errors.Join(apperr.ErrIO, err))
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("scanner: stat root: %w", errors.Join(apperr.ErrIO, err))
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanner: root is not a directory: %s: %w", abs, apperr.ErrIO)
	}
	// WalkDir does not follow a symlinked root.
	if abs, err = filepath.EvalSymlinks(abs); err != nil {
		return nil, fmt.Errorf("scanner: resolve root: %w", errors.Join(apperr.ErrIO, err))
	}

	rs := &rules{dirs: map[string]*matcher{}}
	if opts.RespectIgnore {
		m, err := loadMatcher("", filepath.Join(abs, ".git", "info", "exclude"))
		if err != nil {
			logger.Warn("scanner: read exclude file failed", slog.String("error", err.Error()))
		}
		rs.exclude = m
	}

	out := make(models.Snapshot, 0, 128)
	err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if p == abs {
				return walkErr
			}
			logger.Warn("scanner: skipping unreadable entry",
				slog.String("path", p),
				slog.String("error", walkErr.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel := ""
		if p != abs {
			r, err := filepath.Rel(abs, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(r)
		}
		name := d.Name()

		if d.IsDir() {
			if rel == "" {
				loadRules(rs, abs, rel, opts, logger)
				return nil
			}
			if name == ".git" {
				return filepath.SkipDir
			}
			if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if rs.ignored(rel, true) {
				return filepath.SkipDir
			}
			loadRules(rs, p, rel, opts, logger)
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if !opts.IncludeHidden && strings.HasPrefix(name, ".") {
			return nil
		}
		if rs.ignored(rel, false) {
			return nil
		}
		if opts.ExcludeBinary && HasBinaryExtension(rel) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			logger.Warn("scanner: stat failed", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if opts.MaxFileSize > 0 && fi.Size() > opts.MaxFileSize {
			logger.Debug("scanner: file exceeds size cap",
				slog.String("path", rel),
				slog.Int64("size", fi.Size()))
			return nil
		}
		if opts.ExcludeBinary {
			bin, err := sniffFile(p)
			if err != nil {
				logger.Warn("scanner: read failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil
			}
			if bin {
				return nil
			}
		}

		out = append(out, models.FileMetadata{
			Path:         rel,
			Size:         uint64(fi.Size()),
			ModifiedTime: unixSeconds(fi),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanner: walk %s: %w", abs, errors.Join(apperr.ErrIO, err))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func loadRules(rs *rules, dir, rel string, opts Options, logger *slog.Logger) {
	if !opts.RespectIgnore {
		return
	}
	names := make([]string, len(ignoreFiles))
	for i, n := range ignoreFiles {
		names[i] = filepath.Join(dir, n)
	}
	m, err := loadMatcher(rel, names...)
	if err != nil {
		logger.Warn("scanner: read ignore file failed",
			slog.String("dir", rel),
			slog.String("error", err.Error()))
		return
	}
	if m != nil {
		rs.dirs[rel] = m
	}
}

func unixSeconds(fi fs.FileInfo) uint64 {
	s := fi.ModTime().Unix()
	if s < 0 {
		return 0
	}
	return uint64(s)
}
