// Package models defines the domain types for beetle.
package models

// FileMetadata describes one file observed in a repository scan.
// Path is slash-separated and relative to the repository root.
type FileMetadata struct {
	Path         string `json:"path"`
	Size         uint64 `json:"size"`
	ModifiedTime uint64 `json:"modified_time"` // whole seconds since the Unix epoch
}

// Snapshot is the file set of a repository at one instant, sorted by Path.
type Snapshot []FileMetadata

// Paths returns the paths of s in order.
func (s Snapshot) Paths() []string {
	out := make([]string, len(s))
	for i, f := range s {
		out[i] = f.Path
	}
	return out
}

// Without returns a copy of s minus the given paths.
func (s Snapshot) Without(skip map[string]struct{}) Snapshot {
	out := make(Snapshot, 0, len(s))
	for _, f := range s {
		if _, ok := skip[f.Path]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Delta classifies the differences between two snapshots.
type Delta struct {
	Added    []FileMetadata
	Modified []FileMetadata
	Removed  []FileMetadata
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}
