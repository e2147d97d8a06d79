package vfs

import (
	"errors"
	iofs "io/fs"
)

var (
	// ErrInvalidPath is an error for raw input that is rejected before any
	// filesystem access: embedded NUL bytes or input over the length limit.
	ErrInvalidPath = errors.New("invalid path")
	// ErrBadPathResolution is an error for a path that, syntactically or
	// after symlink resolution, lands outside the tenant root it was
	// resolved against.
	ErrBadPathResolution = errors.New("bad path resolution")
	// ErrUnknownTenant is an error for a tenant identifier that does not map
	// to a provisioned root directory.
	ErrUnknownTenant = errors.New("unknown tenant")
	// ErrNotDirectory is an error for when traversal is blocked by an entry
	// that exists but is not a directory.
	ErrNotDirectory = errors.New("not a directory")

	// ErrNotExist is an error for when an entry does not exist.
	ErrNotExist = iofs.ErrNotExist
	// ErrExist is an error for when an entry already exists.
	ErrExist = iofs.ErrExist
)

// PathError records an error and the operation and file path that caused it.
type PathError = iofs.PathError

// FileMode represents a file's mode and permission bits.
type FileMode = iofs.FileMode
