package filesystem

import (
	"fmt"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/google/uuid"

	"github.com/hypi-universe/rapid-fs/internal/vfs"
)

// ErrorCode is the closed set of failure kinds this package surfaces. The
// dispatch layer matches on codes exhaustively; there is deliberately no
// open hierarchy for a catch-all to default into permissive behavior.
type ErrorCode string

const (
	ErrCodeIsDirectory    ErrorCode = "E_ISDIR"
	ErrCodeDiskSpace      ErrorCode = "E_NODISK"
	ErrCodeInvalidPath    ErrorCode = "E_INVALPATH"
	ErrCodePathResolution ErrorCode = "E_BADPATH"
	ErrCodeDenylistFile   ErrorCode = "E_DENYLIST"
	ErrCodeUnknownTenant  ErrorCode = "E_NOTENANT"
	ErrCodeNotExist       ErrorCode = "E_NOTEXIST"
	ErrCodeUnknownError   ErrorCode = "E_UNKNOWN"
)

type Error struct {
	code ErrorCode

	// path is the tenant-relative path as the client supplied it. Safe to
	// show back to the client.
	path string

	// audit correlates a denied resolution with the internal log entry that
	// recorded where the path actually pointed. The destination itself never
	// appears in the error string.
	audit string

	err error
}

// Code returns the ErrorCode of this Error instance.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Path returns the client-supplied path associated with this error, if any.
func (e *Error) Path() string {
	return e.path
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) Error() string {
	switch e.code {
	case ErrCodeIsDirectory:
		return "filesystem: is a directory"
	case ErrCodeDiskSpace:
		return "filesystem: not enough disk space"
	case ErrCodeInvalidPath:
		return fmt.Sprintf("filesystem: path [%s] is malformed", e.path)
	case ErrCodePathResolution:
		if e.audit == "" {
			return fmt.Sprintf("filesystem: tenant path [%s] resolves to a location outside the tenant root", e.path)
		}
		return fmt.Sprintf("filesystem: tenant path [%s] resolves to a location outside the tenant root (audit %s)", e.path, e.audit)
	case ErrCodeDenylistFile:
		return fmt.Sprintf("filesystem: access to path [%s] is prohibited", e.path)
	case ErrCodeUnknownTenant:
		return "filesystem: unknown tenant"
	case ErrCodeNotExist:
		return "filesystem: does not exist"
	case ErrCodeUnknownError:
		fallthrough
	default:
		return fmt.Sprintf("filesystem: an error occurred: %s", e.Unwrap())
	}
}

// newFilesystemError returns a new error instance with a stack trace
// associated with it.
func newFilesystemError(code ErrorCode, err error) error {
	if err != nil {
		return errors.WrapIf(&Error{code: code, err: err}, "filesystem error")
	}
	return errors.WithStackDepth(&Error{code: code}, 1)
}

// IsErrorCode checks if err is an Error with the given ErrorCode.
func IsErrorCode(err error, code ErrorCode) bool {
	var fserr *Error
	if errors.As(err, &fserr) {
		return fserr.code == code
	}
	return false
}

// NewBadPathResolution returns a new path resolution error. The attempted
// raw path and the location it resolved to are written to the audit log
// under a generated identifier; the error the caller sees carries only the
// identifier and the path the client already knows.
func NewBadPathResolution(tenantID string, path string, resolved string) error {
	id := uuid.New().String()
	if resolved == "" {
		resolved = "<empty>"
	}
	log.WithField("subsystem", "filesystem").
		WithField("audit_id", id).
		WithField("tenant", tenantID).
		WithField("path", path).
		WithField("resolved", resolved).
		Warn("denied path resolving outside of tenant root")
	return errors.WithStackDepth(&Error{code: ErrCodePathResolution, path: path, audit: id}, 1)
}

// wrapError converts a failure coming out of the confinement pipeline into
// this package's error surface. Already-converted errors pass through
// untouched so codes assigned deeper in a call chain stick.
func (fs *Filesystem) wrapError(p string, err error) error {
	if err == nil {
		return nil
	}
	var fserr *Error
	if errors.As(err, &fserr) {
		return err
	}
	switch {
	case errors.Is(err, vfs.ErrInvalidPath):
		return errors.WithStackDepth(&Error{code: ErrCodeInvalidPath, path: p, err: err}, 1)
	case errors.Is(err, vfs.ErrBadPathResolution):
		return NewBadPathResolution(fs.root.TenantID(), p, "")
	case errors.Is(err, vfs.ErrUnknownTenant):
		return errors.WithStackDepth(&Error{code: ErrCodeUnknownTenant, path: p, err: err}, 1)
	case errors.Is(err, vfs.ErrNotExist), errors.Is(err, vfs.ErrNotDirectory):
		return errors.WithStackDepth(&Error{code: ErrCodeNotExist, path: p, err: err}, 1)
	default:
		return errors.WithStackDepth(&Error{code: ErrCodeUnknownError, path: p, err: err}, 1)
	}
}

// error returns an error logger instance scoped to this filesystem.
func (fs *Filesystem) error(err error) *log.Entry {
	return log.WithField("subsystem", "filesystem").WithField("tenant", fs.root.TenantID()).WithField("error", err)
}
