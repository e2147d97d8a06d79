//go:build linux

package vfs

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"emperror.dev/errors"
	"golang.org/x/sys/unix"
)

// Flags re-exported so callers do not need to import unix directly. Go sets
// O_CLOEXEC itself in the os package, but since we issue the syscalls
// ourselves we carry it here too.
const (
	O_RDONLY   = unix.O_RDONLY
	O_WRONLY   = unix.O_WRONLY
	O_RDWR     = unix.O_RDWR
	O_APPEND   = unix.O_APPEND
	O_CREATE   = unix.O_CREAT
	O_EXCL     = unix.O_EXCL
	O_TRUNC    = unix.O_TRUNC
	O_NOFOLLOW = unix.O_NOFOLLOW
)

var (
	openat2Once   sync.Once
	openat2Works  bool
	openat2Forced atomic.Int32 // 0 auto, 1 force on, -1 force off
)

// SetOpenat2Mode overrides openat2 detection: "openat2" forces it on,
// "openat" forces it off, and "auto" (or empty) restores kernel probing.
func SetOpenat2Mode(mode string) error {
	switch mode {
	case "openat2":
		openat2Forced.Store(1)
	case "openat":
		openat2Forced.Store(-1)
	case "", "auto":
		openat2Forced.Store(0)
	default:
		return errors.Errorf("vfs: unknown openat mode %q", mode)
	}
	return nil
}

// SupportsOpenat2 reports whether the running kernel accepts the openat2
// syscall. The probe runs once per process.
func SupportsOpenat2() bool {
	switch openat2Forced.Load() {
	case 1:
		return true
	case -1:
		return false
	}
	openat2Once.Do(func() {
		fd, err := unix.Openat2(unix.AT_FDCWD, ".", &unix.OpenHow{
			Flags:   unix.O_RDONLY | unix.O_CLOEXEC | unix.O_DIRECTORY,
			Resolve: unix.RESOLVE_BENEATH,
		})
		if err == nil {
			_ = unix.Close(fd)
			openat2Works = true
		}
	})
	return openat2Works
}

// Open opens the file the handle refers to without trusting the path string
// a second time. Between Verify and this call a concurrent rename or symlink
// swap could change what the path points to, so the final open refuses to
// follow a symlink at the last component and, where the kernel supports it,
// constrains the whole walk beneath the root with openat2(RESOLVE_BENEATH).
//
// On kernels without openat2 the open falls back to openat with O_NOFOLLOW
// and then re-validates containment using the opened descriptor's resolved
// identity via /proc/self/fd rather than the path string. An intermediate
// component swapped for a symlink between openat and that re-check is the
// residual risk of the fallback; openat2 closes it entirely.
func (h *Handle) Open(flag int, mode FileMode) (*os.File, error) {
	dirfd, err := unix.Open(h.root.realPath, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, errors.Wrap(err, "vfs: failed to open tenant root descriptor")
	}
	defer unix.Close(dirfd)

	fd, err := openat(dirfd, h.rel(), flag, mode)
	if err != nil {
		return nil, err
	}

	if !SupportsOpenat2() {
		// Resolve what we actually opened and compare it against the root.
		final, err := os.Readlink("/proc/self/fd/" + strconv.Itoa(fd))
		if err != nil {
			_ = unix.Close(fd)
			return nil, errors.Wrap(err, "vfs: failed to resolve opened descriptor")
		}
		if !h.root.contains(final) {
			_ = unix.Close(fd)
			return nil, errors.WithStack(&PathError{Op: "open", Path: h.rel(), Err: ErrBadPathResolution})
		}
	}

	return os.NewFile(uintptr(fd), h.realPath), nil
}

// MkdirAll creates the directory the handle refers to along with any missing
// ancestors. Each level is created and entered relative to a descriptor of
// the previous level with O_NOFOLLOW, so a component swapped for a symlink
// after verification stops the walk with ErrBadPathResolution instead of
// redirecting directory creation outside the root.
func (h *Handle) MkdirAll(mode FileMode) error {
	rel := h.rel()
	if rel == "." {
		return nil
	}
	return h.mkdirat(strings.Split(rel, "/"), mode)
}

// MkdirParents is MkdirAll for the handle's ancestors only, leaving the
// final component to the caller (typically an Open with O_CREATE).
func (h *Handle) MkdirParents(mode FileMode) error {
	rel := h.rel()
	if rel == "." {
		return nil
	}
	parts := strings.Split(rel, "/")
	if len(parts) < 2 {
		return nil
	}
	return h.mkdirat(parts[:len(parts)-1], mode)
}

func (h *Handle) mkdirat(parts []string, mode FileMode) error {
	dirfd, err := unix.Open(h.root.realPath, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return errors.Wrap(err, "vfs: failed to open tenant root descriptor")
	}
	for _, seg := range parts {
		if err := unix.Mkdirat(dirfd, seg, syscallMode(mode)); err != nil && err != unix.EEXIST {
			_ = unix.Close(dirfd)
			return convertErrorType(&PathError{Op: "mkdirat", Path: seg, Err: err})
		}
		fd, err := unix.Openat(dirfd, seg, unix.O_DIRECTORY|unix.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
		_ = unix.Close(dirfd)
		if err != nil {
			// ELOOP or ENOTDIR here means the component is not the plain
			// directory we just required it to be.
			return convertErrorType(&PathError{Op: "openat", Path: seg, Err: err})
		}
		dirfd = fd
	}
	_ = unix.Close(dirfd)
	return nil
}

// openat dispatches to openat2 when available, otherwise plain openat. Both
// paths force O_NOFOLLOW so the final component is never a followed symlink.
func openat(dirfd int, name string, flag int, mode FileMode) (int, error) {
	if flag&unix.O_NOFOLLOW == 0 {
		flag |= unix.O_NOFOLLOW
	}
	if flag&unix.O_CLOEXEC == 0 {
		flag |= unix.O_CLOEXEC
	}

	for {
		var fd int
		var err error
		if SupportsOpenat2() {
			fd, err = unix.Openat2(dirfd, name, &unix.OpenHow{
				Flags: uint64(flag) | unix.O_LARGEFILE,
				Mode:  uint64(syscallMode(mode)),
				// The bread and butter of symlink-escape prevention: the
				// kernel refuses any resolution that would leave dirfd.
				Resolve: unix.RESOLVE_BENEATH,
			})
		} else {
			fd, err = unix.Openat(dirfd, name, flag, syscallMode(mode))
		}
		switch {
		case err == nil:
			return fd, nil
		case err == unix.EINTR:
			// Retry per go.dev/issue/11180 and go.dev/issue/39237.
			continue
		default:
			return 0, convertErrorType(&PathError{Op: "openat", Path: name, Err: err})
		}
	}
}

// syscallMode returns the syscall-level mode bits for the given FileMode.
func syscallMode(i FileMode) (o uint32) {
	o |= uint32(i.Perm())
	if i&os.ModeSetuid != 0 {
		o |= unix.S_ISUID
	}
	if i&os.ModeSetgid != 0 {
		o |= unix.S_ISGID
	}
	if i&os.ModeSticky != 0 {
		o |= unix.S_ISVTX
	}
	return o
}

// convertErrorType maps raw errnos onto the package's closed error set so
// callers can match with errors.Is regardless of which syscall produced the
// failure.
func convertErrorType(err error) error {
	var pErr *PathError
	if !errors.As(err, &pErr) {
		return err
	}
	switch {
	case errors.Is(pErr.Err, unix.ENOENT):
		return &PathError{Op: pErr.Op, Path: pErr.Path, Err: ErrNotExist}
	case errors.Is(pErr.Err, unix.ENOTDIR):
		return &PathError{Op: pErr.Op, Path: pErr.Path, Err: ErrNotDirectory}
	case errors.Is(pErr.Err, unix.EEXIST):
		return &PathError{Op: pErr.Op, Path: pErr.Path, Err: ErrExist}
	case errors.Is(pErr.Err, unix.ELOOP), errors.Is(pErr.Err, unix.EXDEV):
		// ELOOP here means the last component was a symlink we refused to
		// follow; EXDEV means openat2 rejected the resolution. Both are
		// escapes, not lookups that happened to fail.
		return &PathError{Op: pErr.Op, Path: pErr.Path, Err: ErrBadPathResolution}
	}
	return err
}
