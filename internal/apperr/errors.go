// Package apperr defines the sentinel errors shared across beetle's layers.
// Callers wrap them with %w and test with errors.Is.
package apperr

import "errors"

var (
	ErrIO              = errors.New("i/o error")
	ErrNotFound        = errors.New("index not found")
	ErrAlreadyExists   = errors.New("index already exists")
	ErrLockBusy        = errors.New("index writer is busy")
	ErrCorruptManifest = errors.New("corrupt manifest")
	ErrSchemaMismatch  = errors.New("index schema mismatch")
	ErrCommit          = errors.New("index commit failed")
	ErrInvalidArgument = errors.New("invalid argument")
)
