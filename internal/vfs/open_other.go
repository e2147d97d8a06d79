//go:build !linux

package vfs

import (
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
)

// Open flags for hosts without openat2. Values match the os package's
// portable constants.
const (
	O_RDONLY   = os.O_RDONLY
	O_WRONLY   = os.O_WRONLY
	O_RDWR     = os.O_RDWR
	O_APPEND   = os.O_APPEND
	O_CREATE   = os.O_CREATE
	O_EXCL     = os.O_EXCL
	O_TRUNC    = os.O_TRUNC
	O_NOFOLLOW = 0
)

// SetOpenat2Mode is a no-op on hosts without openat2.
func SetOpenat2Mode(string) error { return nil }

// SupportsOpenat2 always reports false on hosts without the syscall.
func SupportsOpenat2() bool { return false }

// MkdirAll creates the directory the handle refers to along with any missing
// ancestors. Without *at syscalls the tree is created by path and then
// re-canonicalized; creation that was redirected through a just-planted
// symlink fails the containment re-check. As with Open, the window between
// the two steps cannot be fully closed on this platform.
func (h *Handle) MkdirAll(mode FileMode) error {
	return mkdirChecked(h.root, h.realPath, mode)
}

// MkdirParents is MkdirAll for the handle's ancestors only, leaving the
// final component to the caller (typically an Open with O_CREATE).
func (h *Handle) MkdirParents(mode FileMode) error {
	d := filepath.Dir(h.realPath)
	if d == h.root.realPath {
		return nil
	}
	return mkdirChecked(h.root, d, mode)
}

func mkdirChecked(root Root, dir string, mode FileMode) error {
	if err := os.MkdirAll(dir, mode.Perm()); err != nil {
		return errors.WithStackIf(err)
	}
	ep, err := filepath.EvalSymlinks(dir)
	if err != nil || !root.contains(ep) {
		rel := strings.TrimPrefix(strings.TrimPrefix(dir, root.realPath), "/")
		return errors.WithStack(&PathError{Op: "mkdir", Path: rel, Err: ErrBadPathResolution})
	}
	return nil
}

// Open opens the file the handle refers to. Without openat2 there is no
// portable way to constrain the kernel's own resolution, so the best
// available mitigation is re-running canonicalization after the open and
// rejecting a path that moved. A swap timed between that re-check and the
// caller's first read remains possible; that residual race is inherent to
// path-based opens on this platform.
func (h *Handle) Open(flag int, mode FileMode) (*os.File, error) {
	f, err := os.OpenFile(h.realPath, flag, mode)
	if err != nil {
		return nil, err
	}
	ep, err := filepath.EvalSymlinks(h.realPath)
	if err != nil || !h.root.contains(ep) {
		_ = f.Close()
		return nil, errors.WithStack(&PathError{Op: "open", Path: h.rel(), Err: ErrBadPathResolution})
	}
	return f, nil
}
