package vfs

import (
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"emperror.dev/errors"
)

// Verify resolves a confined candidate path through the real filesystem,
// following symlinks to their final target, and confirms the result still
// lies within the tenant root. This is the stage that catches the attack the
// syntactic resolver cannot: a symlink inside the tenant tree pointing at
// /etc or at a sibling tenant's root.
//
// If the tail of the candidate does not exist yet (the caller intends to
// create it), the deepest existing ancestor directory is resolved and
// validated instead, and the not-yet-created remainder is re-appended. The
// remainder can contain neither ".." (guaranteed by Resolve) nor symlinks
// (it does not exist), so validating the ancestor validates the whole path.
//
// Verify performs metadata lookups only; it never opens or mutates content.
func Verify(c ConfinedPath) (*Handle, error) {
	if c.root.IsZero() {
		return nil, errors.WithStack(&PathError{Op: "verify", Path: c.rel, Err: ErrUnknownTenant})
	}

	r := c.Candidate()

	ep, err := filepath.EvalSymlinks(r)
	if err == nil {
		if !c.root.contains(ep) {
			return nil, escapeError(c.rel)
		}
		return &Handle{root: c.root, realPath: ep}, nil
	}

	switch {
	case os.IsNotExist(err):
		// Fall through to the ancestor walk below.
	case errors.Is(err, syscall.ENOTDIR):
		// A component exists but is not a directory, blocking traversal.
		// That is an ordinary not-found for the caller, not an escape.
		return nil, errors.WithStack(&PathError{Op: "verify", Path: c.rel, Err: ErrNotExist})
	default:
		// Any other canonicalization failure (a symlink loop being the usual
		// one) means the path cannot be followed to a real target. The error
		// set is closed, so this surfaces as not-found rather than as a raw
		// host error, which would also echo the root-anchored path back.
		return nil, errors.WithStack(&PathError{Op: "verify", Path: c.rel, Err: ErrNotExist})
	}

	// The requested path does not exist, so iterate up the chain until we
	// hit a directory that does and can be validated.
	parts := strings.Split(r, "/")
	for k := range parts {
		try := strings.Join(parts[:len(parts)-k], "/")
		if !c.root.contains(try) {
			// Climbed above the root without finding anything that exists.
			// The root is created at provisioning time, so this means it was
			// pulled out from under us.
			break
		}
		resolved, err := filepath.EvalSymlinks(try)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			// Same closed-set mapping as above: an ancestor that cannot be
			// canonicalized is not-found, never a raw host error.
			return nil, errors.WithStack(&PathError{Op: "verify", Path: c.rel, Err: ErrNotExist})
		}
		if !c.root.contains(resolved) {
			return nil, escapeError(c.rel)
		}
		// Re-append the segments below the verified ancestor. They do not
		// exist, so they cannot redirect the path any further.
		final := resolved + strings.TrimPrefix(r, try)
		if !c.root.contains(final) {
			return nil, escapeError(c.rel)
		}
		return &Handle{root: c.root, realPath: final}, nil
	}

	return nil, escapeError(c.rel)
}

// ResolvePath runs the full confinement pipeline over a raw path using the
// host-default normalizer. The pipeline fails fast: the first stage to
// detect a violation short-circuits the rest, and there is no
// retry-with-repair of an unsafe path.
func ResolvePath(root Root, raw string) (*Handle, error) {
	return DefaultNormalizer.ResolvePath(root, raw)
}

// ResolvePath is the Normalizer-bound variant of the package-level function.
func (n Normalizer) ResolvePath(root Root, raw string) (*Handle, error) {
	p, err := n.Normalize(raw)
	if err != nil {
		return nil, errors.WithStackIf(err)
	}
	c, err := Resolve(root, p)
	if err != nil {
		return nil, err
	}
	return Verify(c)
}

// escapeError builds the generic denial returned for every escape. The
// message carries the tenant-relative input but never the real path it
// resolved to; recording that for audit is the caller's concern.
func escapeError(rel string) error {
	return errors.WithStackDepth(&PathError{Op: "verify", Path: rel, Err: ErrBadPathResolution}, 1)
}
