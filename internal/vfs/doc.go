// Package vfs implements the path confinement engine used to pin every
// tenant-supplied path to that tenant's root directory. It is designed to be
// used in-place of direct `path/filepath` manipulation wherever a path
// originates from an untrusted client.
//
// A raw path moves through a fixed, fail-fast pipeline:
//
//	Normalize -> Resolve -> Verify -> *Handle
//
// Normalize and Resolve are pure string operations; Verify is the only stage
// that consults the real filesystem, closing the gap where a symlink inside
// the tenant tree points outside of it. A *Handle is the sole artifact the
// I/O layers accept, so a path that has not survived the pipeline cannot
// reach the disk.
package vfs
