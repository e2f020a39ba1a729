package models

import "time"

// IndexMetadata is written once when an index is created.
type IndexMetadata struct {
	Name          string    `json:"name" yaml:"name"`
	TargetPath    string    `json:"target_path" yaml:"target_path"`
	CreatedAt     time.Time `json:"created_at" yaml:"created_at"`
	SchemaVersion int       `json:"schema_version" yaml:"schema_version"`
}

// Document is the searchable representation of one indexed file.
type Document struct {
	Path       string
	Content    string
	Extension  string
	Size       uint64
	ModifiedAt time.Time
}

// Hit is a single ranked search result.
type Hit struct {
	Path      string  `json:"path"`
	Score     float64 `json:"score"`
	Extension string  `json:"extension"`
	Snippet   string  `json:"snippet"`
}

// Stats summarizes one update pass.
type Stats struct {
	Added      int           `json:"added"`
	Modified   int           `json:"modified"`
	Removed    int           `json:"removed"`
	Indexed    int           `json:"indexed"`
	Skipped    int           `json:"skipped"`
	TotalBytes uint64        `json:"total_bytes"`
	Duration   time.Duration `json:"duration_ns"`
}
