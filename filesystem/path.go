package filesystem

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"emperror.dev/errors"
	"golang.org/x/sync/errgroup"

	"github.com/hypi-universe/rapid-fs/internal/vfs"
)

// SafeHandle runs the raw client path through the confinement pipeline and
// returns the verified handle for it. This is the only way a raw path turns
// into something the I/O methods will touch.
func (fs *Filesystem) SafeHandle(p string) (*vfs.Handle, error) {
	h, err := fs.normalizer.ResolvePath(fs.root, p)
	if err != nil {
		return nil, fs.wrapError(p, err)
	}
	return h, nil
}

// SafePath resolves a raw client path to the verified real path on disk.
// Prefer SafeHandle when the result is going to be opened; the handle keeps
// the verified identity through the open itself.
func (fs *Filesystem) SafePath(p string) (string, error) {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return "", err
	}
	return h.RealPath(), nil
}

// ParallelSafePath verifies a batch of paths concurrently and returns the
// verified real paths. The first confinement failure cancels the remaining
// checks and is returned; partial results are discarded with it.
func (fs *Filesystem) ParallelSafePath(paths []string) ([]string, error) {
	var (
		mu  sync.Mutex
		out []string
	)

	g, _ := errgroup.WithContext(context.Background())
	for _, p := range paths {
		p := p
		g.Go(func() error {
			sp, err := fs.SafePath(p)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, sp)
			mu.Unlock()
			return nil
		})
	}

	return out, g.Wait()
}

// IsIgnored returns an error when any of the given paths matches this
// tenant's denylist. Matching is done on the tenant-relative form of the
// verified path so patterns behave the same regardless of where the base
// directory lives on the host.
func (fs *Filesystem) IsIgnored(paths ...string) error {
	for _, p := range paths {
		sp, err := fs.SafePath(p)
		if err != nil {
			return err
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(sp, fs.Path()), string(filepath.Separator))
		if fs.denylist.MatchesPath(rel) {
			return errors.WithStackDepth(&Error{code: ErrCodeDenylistFile, path: p}, 1)
		}
	}
	return nil
}
