package vfs

import (
	"os"
	"path/filepath"
	"strings"

	"emperror.dev/errors"
)

// Root is one tenant's storage boundary: an opaque tenant identifier paired
// with the canonical (symlink-resolved, absolute) path of the directory that
// bounds everything the tenant may touch.
//
// A Root is immutable once constructed and safe to share read-only across
// concurrent requests for the same tenant. The core never builds a Root from
// unchecked input; that is the provisioning collaborator's job.
type Root struct {
	tenantID string
	realPath string
}

// NewRoot canonicalizes the given directory and binds it to a tenant
// identifier. The directory must already exist: provisioning a tenant's
// storage area is outside this package's scope.
func NewRoot(tenantID string, dir string) (Root, error) {
	if tenantID == "" {
		return Root{}, errors.WithStack(&PathError{Op: "root", Path: dir, Err: ErrUnknownTenant})
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, errors.Wrap(err, "vfs: failed to absolutize tenant root")
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return Root{}, errors.WithStack(&PathError{Op: "root", Path: abs, Err: ErrNotExist})
		}
		return Root{}, errors.Wrap(err, "vfs: failed to canonicalize tenant root")
	}
	st, err := os.Stat(real)
	if err != nil {
		return Root{}, errors.Wrap(err, "vfs: failed to stat tenant root")
	}
	if !st.IsDir() {
		return Root{}, errors.WithStack(&PathError{Op: "root", Path: abs, Err: ErrNotDirectory})
	}
	return Root{tenantID: tenantID, realPath: strings.TrimSuffix(real, "/")}, nil
}

// TenantID returns the opaque identifier of the tenant this root bounds.
func (r Root) TenantID() string {
	return r.tenantID
}

// RealPath returns the canonical path of the bounding directory.
func (r Root) RealPath() string {
	return r.realPath
}

// IsZero reports whether the Root has not been constructed through NewRoot.
func (r Root) IsZero() bool {
	return r.realPath == "" || r.tenantID == ""
}

// contains checks that the given path string sits at or below the root. The
// comparison is done on whole segments so that a sibling directory sharing
// the root as a name prefix (e.g. /tenants/acme2 vs /tenants/acme) does not
// pass. It says nothing about symlinks: callers must only feed it canonical
// paths.
func (r Root) contains(p string) bool {
	return strings.HasPrefix(strings.TrimSuffix(p, "/")+"/", r.realPath+"/")
}
