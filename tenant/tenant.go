// Package tenant maps opaque tenant identifiers onto the immutable storage
// roots the confinement engine verifies against. The engine itself treats
// this package as a black box: it never constructs a root from unchecked
// input, it only consumes the values produced here.
package tenant

import (
	"path"
	"strconv"
)

// Well-known subdirectories inside the shared storage area. One base
// directory hosts every service; the domains registry maps public domain
// names onto service bindings.
const (
	DomainsDir   = "domains"
	ResourcesDir = "files"
	TmpDir       = ".tmp"
	VersionsDir  = "versions"
	DraftsDir    = "drafts"
	EcmaDir      = "ecma"
	PluginsDir   = "plugins"
)

// Options is the service binding stored in a domain registry entry. A domain
// resolves to exactly one service at one version, either published or draft.
type Options struct {
	ServiceID int64  `json:"service_id"`
	Version   string `json:"version"`
	IsDraft   bool   `json:"is_draft"`
}

// TenantID returns the storage identifier for the bound service.
func (o Options) TenantID() string {
	return strconv.FormatInt(o.ServiceID, 10)
}

// versionDir returns the subtree the binding's schema files live in.
func (o Options) versionDir() string {
	if o.IsDraft {
		return path.Join(DraftsDir, o.Version)
	}
	return path.Join(VersionsDir, o.Version)
}

// The helpers below produce tenant-relative paths. They are convenience
// joiners only: every result still goes through the confinement pipeline
// before any I/O happens, so a hostile name in `file` gains nothing here.

// ResourcePath returns the tenant-relative path of a static resource.
func ResourcePath(file string) string {
	return path.Join(ResourcesDir, file)
}

// TmpPath returns the tenant-relative path of a staging file.
func TmpPath(file string) string {
	return path.Join(TmpDir, file)
}

// PluginPath returns the tenant-relative path of a plugin file.
func PluginPath(file string) string {
	return path.Join(PluginsDir, file)
}

// SchemaPath returns the tenant-relative path of a schema file for the
// version (published or draft) the options are bound to.
func SchemaPath(o Options, file string) string {
	return path.Join(o.versionDir(), file)
}

// EcmaPath returns the tenant-relative path of a script belonging to the
// bound version.
func EcmaPath(o Options, file string) string {
	return path.Join(o.versionDir(), EcmaDir, file)
}
