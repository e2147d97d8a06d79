package vfs

import (
	"strings"
)

// Handle is the capability returned on successful confinement. It pairs a
// verified real path with the tenant root it was checked against and is the
// only type through which the I/O layers are permitted to act on a path.
//
// There is no public constructor: a Handle exists only because Verify
// succeeded. Consumers must never re-derive a path from the raw input that
// produced the handle.
type Handle struct {
	root     Root
	realPath string
}

// RealPath returns the verified, symlink-resolved path the handle refers to.
// It is equal to or a descendant of the tenant root's real path.
func (h *Handle) RealPath() string {
	return h.realPath
}

// TenantID returns the identifier of the tenant whose root bounded the
// verification.
func (h *Handle) TenantID() string {
	return h.root.tenantID
}

// Root returns the tenant root the handle was verified against.
func (h *Handle) Root() Root {
	return h.root
}

// rel returns the handle's path relative to its root, or "." when the handle
// addresses the root itself. Used by the open implementations, which work
// with *at syscalls that treat absolute paths differently.
func (h *Handle) rel() string {
	r := strings.TrimPrefix(strings.TrimPrefix(h.realPath, h.root.realPath), "/")
	if r == "" {
		return "."
	}
	return r
}
