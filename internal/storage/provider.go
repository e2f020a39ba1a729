// Package storage owns the on-disk layout of every index under one root:
//
//	<root>/<name>/meta.yaml     creation metadata
//	<root>/<name>/index.db      search engine database (plus WAL files)
//	<root>/<name>/manifest.bin  snapshot of the last successful update
//	<root>/<name>/writer.lock   cross-process writer lock
package storage

import "github.com/starford/beetle/internal/models"

// Provider is the interface for index directory operations.
type Provider interface {
	// Create lays out a new index directory for target and records its metadata.
	Create(name, target string) (models.IndexMetadata, error)
	// Metadata reads the metadata of an existing index.
	Metadata(name string) (models.IndexMetadata, error)
	// List returns the metadata of every index sorted by name.
	List() ([]models.IndexMetadata, error)
	// Remove deletes the index directory and everything in it.
	Remove(name string) error
	// ReadManifest returns the persisted snapshot; a missing manifest is empty.
	ReadManifest(name string) (models.Snapshot, error)
	// WriteManifest atomically replaces the persisted snapshot.
	WriteManifest(name string, snap models.Snapshot) error
	// EnginePath is the search database file of the index.
	EnginePath(name string) string
	// LockPath is the writer lock file of the index.
	LockPath(name string) string
}

var _ Provider = (*FS)(nil)
