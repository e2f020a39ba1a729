// Package differ classifies the changes between two file snapshots.
package differ

import "github.com/starford/beetle/internal/models"

// Diff compares the current scan with the previous manifest.
//
// A path present only in current is Added, present only in previous is
// Removed, and present in both with a different size or modification time is
// Modified. A touched file with identical content is still Modified.
// Added and Modified keep current's order; Removed keeps previous's order.
func Diff(current, previous models.Snapshot) models.Delta {
	prev := make(map[string]models.FileMetadata, len(previous))
	for _, f := range previous {
		prev[f.Path] = f
	}

	var d models.Delta
	seen := make(map[string]struct{}, len(current))
	for _, f := range current {
		seen[f.Path] = struct{}{}
		old, ok := prev[f.Path]
		switch {
		case !ok:
			d.Added = append(d.Added, f)
		case old.Size != f.Size || old.ModifiedTime != f.ModifiedTime:
			d.Modified = append(d.Modified, f)
		}
	}
	for _, f := range previous {
		if _, ok := seen[f.Path]; !ok {
			d.Removed = append(d.Removed, f)
		}
	}
	return d
}
