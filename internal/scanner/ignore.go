package scanner

import (
	"bufio"
	"os"
	"path"
	"strings"
)

type pattern struct {
	negated  bool
	dirOnly  bool
	anchored bool
	segments []string
}

// matcher evaluates gitignore-style patterns loaded from one directory.
// base is the slash-separated directory the patterns are relative to ("" for
// the repository root).
type matcher struct {
	base     string
	patterns []pattern
}

// loadMatcher reads pattern files in order. Missing files are not an error;
// it returns nil when no pattern was found.
func loadMatcher(base string, files ...string) (*matcher, error) {
	var lines []string
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			lines = append(lines, sc.Text())
		}
		err = sc.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	m := parsePatterns(base, lines)
	if len(m.patterns) == 0 {
		return nil, nil
	}
	return m, nil
}

func parsePatterns(base string, lines []string) *matcher {
	m := &matcher{base: base}
	for _, line := range lines {
		line = trimTrailingSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var p pattern
		if strings.HasPrefix(line, "!") {
			p.negated = true
			line = line[1:]
		} else if strings.HasPrefix(line, `\`) {
			line = line[1:]
		}
		if strings.HasSuffix(line, "/") {
			p.dirOnly = true
			line = strings.TrimRight(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			p.anchored = true
			line = strings.TrimLeft(line, "/")
		}
		if strings.Contains(line, "/") {
			p.anchored = true
		}
		if line == "" {
			continue
		}
		p.segments = strings.Split(line, "/")
		m.patterns = append(m.patterns, p)
	}
	return m
}

// trimTrailingSpace drops trailing blanks unless the last one is escaped
// with a backslash; path.Match then reads "\ " as a literal space.
func trimTrailingSpace(line string) string {
	line = strings.TrimRight(line, "\r")
	for len(line) > 0 {
		last := line[len(line)-1]
		if last != ' ' && last != '\t' {
			break
		}
		if len(line) > 1 && line[len(line)-2] == '\\' {
			break
		}
		line = line[:len(line)-1]
	}
	return line
}

// match reports whether rel (relative to the repository root) is decided by
// this matcher, and if so whether it is ignored. The last matching pattern wins.
func (m *matcher) match(rel string, isDir bool) (ignored, decided bool) {
	if m == nil {
		return false, false
	}
	if m.base != "" {
		if !strings.HasPrefix(rel, m.base+"/") {
			return false, false
		}
		rel = rel[len(m.base)+1:]
	}
	parts := strings.Split(rel, "/")
	for _, p := range m.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		var ok bool
		if p.anchored {
			ok = matchSegments(p.segments, parts)
		} else {
			ok = matchSegment(p.segments[0], parts[len(parts)-1])
		}
		if ok {
			ignored, decided = !p.negated, true
		}
	}
	return ignored, decided
}

// matchSegments matches pattern segments against path segments; "**" spans
// zero or more segments.
func matchSegments(pat, parts []string) bool {
	for len(pat) > 0 {
		if pat[0] == "**" {
			// A trailing "**" matches everything inside, not the directory itself.
			if len(pat) == 1 {
				return len(parts) > 0
			}
			for i := 0; i <= len(parts); i++ {
				if matchSegments(pat[1:], parts[i:]) {
					return true
				}
			}
			return false
		}
		if len(parts) == 0 || !matchSegment(pat[0], parts[0]) {
			return false
		}
		pat, parts = pat[1:], parts[1:]
	}
	return len(parts) == 0
}

func matchSegment(glob, name string) bool {
	ok, err := path.Match(glob, name)
	return err == nil && ok
}

// rules holds .git/info/exclude plus the matchers of every visited directory.
type rules struct {
	exclude *matcher
	dirs    map[string]*matcher
}

// ignored evaluates the exclude file first, then matchers from the root down
// to the entry's parent so that deeper files override shallower ones.
func (r *rules) ignored(rel string, isDir bool) bool {
	result, _ := r.exclude.match(rel, isDir)
	if len(r.dirs) == 0 {
		return result
	}
	if ig, ok := r.dirs[""].match(rel, isDir); ok {
		result = ig
	}
	for i := 0; i < len(rel); i++ {
		if rel[i] != '/' {
			continue
		}
		if ig, ok := r.dirs[rel[:i]].match(rel, isDir); ok {
			result = ig
		}
	}
	return result
}
