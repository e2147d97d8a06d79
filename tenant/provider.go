package tenant

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"emperror.dev/errors"
	"github.com/asaskevich/govalidator"
	json "github.com/goccy/go-json"
	cache "github.com/patrickmn/go-cache"

	"github.com/hypi-universe/rapid-fs/internal/vfs"
)

// Provider maps an opaque tenant identifier to the immutable root bounding
// that tenant's files. Implementations must return vfs.ErrUnknownTenant for
// identifiers that do not map to a provisioned root, before any path logic
// runs on the request.
type Provider interface {
	TenantRoot(id string) (vfs.Root, error)
}

// DirectoryProvider provisions tenant roots out of a single base directory
// laid out as <base>/<service id>/ with a <base>/domains/ registry of domain
// bindings. Roots are immutable once canonicalized, so they are cached and
// shared read-only across concurrent requests.
type DirectoryProvider struct {
	base    string
	domains vfs.Root
	roots   *cache.Cache
}

var _ Provider = (*DirectoryProvider)(nil)

// NewDirectoryProvider canonicalizes the base storage directory and prepares
// the domain registry root. The base and its domains/ subdirectory must
// already exist; creating them is deployment's job, not this package's.
func NewDirectoryProvider(base string) (*DirectoryProvider, error) {
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, errors.Wrap(err, "tenant: failed to absolutize base directory")
	}
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, errors.Wrap(err, "tenant: failed to canonicalize base directory")
	}
	// The registry is itself a confined tree: domain names coming off the
	// wire are resolved against it like any other untrusted path.
	domains, err := vfs.NewRoot(DomainsDir, filepath.Join(real, DomainsDir))
	if err != nil {
		return nil, errors.Wrap(err, "tenant: failed to open domain registry")
	}
	return &DirectoryProvider{
		base:    real,
		domains: domains,
		roots:   cache.New(15*time.Minute, 5*time.Minute),
	}, nil
}

// BasePath returns the canonical base storage directory.
func (p *DirectoryProvider) BasePath() string {
	return p.base
}

// TenantRoot returns the immutable root for the given tenant identifier.
// Identifiers that fail validation or that have no provisioned directory
// yield vfs.ErrUnknownTenant; no path logic runs for them.
func (p *DirectoryProvider) TenantRoot(id string) (vfs.Root, error) {
	if !validTenantID(id) {
		return vfs.Root{}, unknownTenant(id)
	}
	if r, ok := p.roots.Get(id); ok {
		return r.(vfs.Root), nil
	}
	root, err := vfs.NewRoot(id, filepath.Join(p.base, id))
	if err != nil {
		if errors.Is(err, vfs.ErrNotExist) || errors.Is(err, vfs.ErrNotDirectory) {
			return vfs.Root{}, unknownTenant(id)
		}
		return vfs.Root{}, err
	}
	p.roots.Set(id, root, cache.DefaultExpiration)
	return root, nil
}

// DomainOptions resolves a public domain name through the registry and
// decodes the service binding stored for it. The domain string is untrusted
// and is confined within the registry tree before the file is read.
func (p *DirectoryProvider) DomainOptions(domain string) (Options, error) {
	h, err := vfs.ResolvePath(p.domains, domain)
	if err != nil {
		return Options{}, err
	}
	b, err := os.ReadFile(h.RealPath())
	if err != nil {
		if os.IsNotExist(err) {
			return Options{}, unknownTenant(domain)
		}
		return Options{}, errors.Wrap(err, "tenant: failed to read domain registry entry")
	}
	var o Options
	if err := json.Unmarshal(b, &o); err != nil {
		return Options{}, errors.Wrap(err, "tenant: failed to decode domain registry entry")
	}
	return o, nil
}

// ServiceRoot resolves a domain to its bound service and returns that
// service's storage root together with the binding.
func (p *DirectoryProvider) ServiceRoot(domain string) (vfs.Root, Options, error) {
	o, err := p.DomainOptions(domain)
	if err != nil {
		return vfs.Root{}, Options{}, err
	}
	root, err := p.TenantRoot(o.TenantID())
	if err != nil {
		return vfs.Root{}, Options{}, err
	}
	return root, o, nil
}

// Flush drops every cached root, forcing re-canonicalization on next use.
func (p *DirectoryProvider) Flush() {
	p.roots.Flush()
}

// validTenantID accepts numeric service identifiers and DNS names, the two
// shapes the registry stores. Everything else, separators included, is
// rejected without touching the disk.
func validTenantID(id string) bool {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.HasPrefix(id, ".") {
		return false
	}
	return govalidator.IsNumeric(id) || govalidator.IsDNSName(id)
}

func unknownTenant(id string) error {
	return errors.WithStackDepth(&vfs.PathError{Op: "tenant", Path: id, Err: vfs.ErrUnknownTenant}, 1)
}
