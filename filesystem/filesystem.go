package filesystem

import (
	"bufio"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	ignore "github.com/sabhiram/go-gitignore"

	"github.com/hypi-universe/rapid-fs/config"
	"github.com/hypi-universe/rapid-fs/internal/vfs"
)

// Filesystem performs tenant-bound I/O. Every operation confines its raw
// input through the vfs pipeline before touching the disk; the original raw
// path is never used again once a verified path exists for it.
//
// One Filesystem is bound to one tenant root. Roots are immutable, so an
// instance is safe for concurrent use across requests for its tenant.
type Filesystem struct {
	mu                sync.RWMutex
	lastLookupTime    *usageLookupTime
	lookupInProgress  atomic.Bool
	diskUsed          atomic.Int64
	diskLimit         atomic.Int64
	diskCheckInterval time.Duration

	normalizer vfs.Normalizer
	denylist   *ignore.GitIgnore

	root vfs.Root

	isTest bool
}

// New creates a new Filesystem instance bound to the given tenant root.
func New(root vfs.Root, size int64, denylist []string) *Filesystem {
	cfg := config.Get()
	fs := &Filesystem{
		root:              root,
		lastLookupTime:    &usageLookupTime{},
		diskCheckInterval: time.Duration(cfg.System.DiskCheckInterval) * time.Second,
		normalizer:        vfs.Normalizer{MaxLength: cfg.System.MaxPathLength},
		denylist:          ignore.CompileIgnoreLines(denylist...),
	}
	fs.diskLimit.Store(size)
	return fs
}

// Path returns the real root path for the Filesystem instance.
func (fs *Filesystem) Path() string {
	return fs.root.RealPath()
}

// TenantID returns the identifier of the tenant this instance is bound to.
func (fs *Filesystem) TenantID() string {
	return fs.root.TenantID()
}

// Root returns the immutable tenant root this instance is bound to.
func (fs *Filesystem) Root() vfs.Root {
	return fs.root
}

// File returns an open handle for a file along with its stat information.
func (fs *Filesystem) File(p string) (*os.File, *Stat, error) {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return nil, nil, err
	}
	st, err := fs.unsafeStat(h.RealPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil, newFilesystemError(ErrCodeNotExist, err)
		}
		return nil, nil, errors.WithStackIf(err)
	}
	if st.Info.IsDir() {
		return nil, nil, newFilesystemError(ErrCodeIsDirectory, nil)
	}
	f, err := h.Open(vfs.O_RDONLY, 0)
	if err != nil {
		return nil, nil, fs.wrapError(p, err)
	}
	return f, st, nil
}

// Readfile copies a file's contents into the given writer, buffering the
// read. Chunked streaming and reassembly belong to callers, not here.
func (fs *Filesystem) Readfile(p string, w io.Writer) error {
	f, _, err := fs.File(p)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := bufio.NewReader(f).WriteTo(w); err != nil {
		return errors.Wrap(err, "filesystem: readfile: failed to copy contents")
	}
	return nil
}

// Touch opens the file at the given path, creating it and any missing
// parent directories when it does not exist yet. Opens that fail because
// the file is busy are retried briefly before giving up.
func (fs *Filesystem) Touch(p string, flag int) (*os.File, error) {
	if flag&vfs.O_CREATE == 0 {
		flag |= vfs.O_CREATE
	}
	h, err := fs.SafeHandle(p)
	if err != nil {
		return nil, err
	}
	// Create the directory tree leading up to the file first, descending
	// level by level from the root descriptor so a component swapped for a
	// symlink after verification cannot redirect the creation.
	if err := h.MkdirParents(0o755); err != nil {
		return nil, fs.wrapError(p, err)
	}
	var f *os.File
	err = backoff.Retry(func() error {
		of, err := h.Open(flag, 0o644)
		if err != nil {
			if strings.Contains(err.Error(), "text file busy") {
				return err
			}
			return backoff.Permanent(err)
		}
		f = of
		return nil
	}, backoff.WithMaxRetries(backoff.NewConstantBackOff(100*time.Millisecond), 3))
	if err != nil {
		return nil, fs.wrapError(p, err)
	}
	return f, nil
}

// Writefile writes the contents of the reader to the given path, creating
// the file if needed and accounting for the disk space delta.
func (fs *Filesystem) Writefile(p string, r io.Reader) error {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return err
	}

	var currentSize int64
	st, err := os.Stat(h.RealPath())
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "filesystem: writefile: failed to stat file")
	} else if err == nil {
		if st.IsDir() {
			return newFilesystemError(ErrCodeIsDirectory, nil)
		}
		currentSize = st.Size()
	}

	// The stream's size is unknown until it has been copied, so the only
	// pre-write check possible is that the tenant is not already over its
	// allowance. The actual bytes written are accounted for afterwards.
	if err := fs.HasSpaceErr(true); err != nil {
		return err
	}

	br := bufio.NewReader(r)

	file, err := fs.Touch(p, vfs.O_RDWR|vfs.O_CREATE|vfs.O_TRUNC)
	if err != nil {
		return err
	}
	defer file.Close()

	buf := make([]byte, 1024*4)
	sz, err := io.CopyBuffer(file, br, buf)
	if err != nil {
		return errors.Wrap(err, "filesystem: writefile: failed to copy contents")
	}

	fs.addDisk(sz - currentSize)
	return nil
}

// CreateDirectory creates a new directory (name) at the given path for the
// tenant.
func (fs *Filesystem) CreateDirectory(name string, p string) error {
	h, err := fs.SafeHandle(path.Join(p, name))
	if err != nil {
		return err
	}
	return fs.wrapError(path.Join(p, name), h.MkdirAll(0o755))
}

// Rename moves (or renames) a file or directory, creating the destination's
// parent directories when needed.
func (fs *Filesystem) Rename(from string, to string) error {
	fromH, err := fs.SafeHandle(from)
	if err != nil {
		return err
	}
	toH, err := fs.SafeHandle(to)
	if err != nil {
		return err
	}

	if toH.RealPath() == fs.Path() || fromH.RealPath() == fs.Path() {
		return NewBadPathResolution(fs.TenantID(), from, "")
	}

	// If the target already exists bail out before the rename clobbers it.
	if _, err := os.Lstat(toH.RealPath()); err == nil {
		return errors.WithStack(os.ErrExist)
	}

	if err := toH.MkdirParents(0o755); err != nil {
		return fs.wrapError(to, err)
	}

	return errors.WithStackIf(os.Rename(fromH.RealPath(), toH.RealPath()))
}

// Chmod changes the mode of the file at the given path.
func (fs *Filesystem) Chmod(p string, mode os.FileMode) error {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return err
	}
	if fs.isTest {
		return nil
	}
	return errors.WithStackIf(os.Chmod(h.RealPath(), mode))
}

// Chtimes changes the access and modification times of the file at the
// given path.
func (fs *Filesystem) Chtimes(p string, atime, mtime time.Time) error {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return err
	}
	if fs.isTest {
		return nil
	}
	return errors.WithStackIf(os.Chtimes(h.RealPath(), atime, mtime))
}

// findCopySuffix generates a unique name for a copied file by appending
// " copy" (then " copy 2" and so on) to the base name. After fifty taken
// names it falls back to a timestamp rather than looping forever.
func (fs *Filesystem) findCopySuffix(dir string, name string, extension string) (string, error) {
	var i int
	suffix := " copy"

	for i = 0; i < 51; i++ {
		if i > 0 {
			suffix = " copy " + strconv.Itoa(i)
		}

		n := name + suffix + extension
		if _, err := fs.Stat(path.Join(dir, n)); err != nil {
			if !IsErrorCode(err, ErrCodeNotExist) {
				return "", err
			}
			break
		}

		if i == 50 {
			suffix = "copy." + time.Now().Format(time.RFC3339)
		}
	}

	return name + suffix + extension, nil
}

// Copy duplicates a file in place, appending a copy suffix to the new name.
func (fs *Filesystem) Copy(p string) error {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return err
	}
	s, err := os.Stat(h.RealPath())
	if err != nil {
		if os.IsNotExist(err) {
			return newFilesystemError(ErrCodeNotExist, err)
		}
		return errors.WithStackIf(err)
	} else if s.IsDir() || !s.Mode().IsRegular() {
		// Directories and special files aren't copyable; anything calling
		// this understands a not-exist response for them.
		return newFilesystemError(ErrCodeNotExist, nil)
	}

	if err := fs.HasSpaceFor(s.Size()); err != nil {
		return err
	}

	base := filepath.Base(h.RealPath())
	relative := strings.TrimSuffix(strings.TrimPrefix(h.RealPath(), fs.Path()), base)
	extension := filepath.Ext(base)
	name := strings.TrimSuffix(base, extension)

	// Keep ".tar" as part of the extension so "x.tar.gz" copies to
	// "x copy.tar.gz" rather than "x.tar copy.gz".
	if strings.HasSuffix(name, ".tar") {
		extension = ".tar" + extension
		name = strings.TrimSuffix(name, ".tar")
	}

	source, err := h.Open(vfs.O_RDONLY, 0)
	if err != nil {
		return fs.wrapError(p, err)
	}
	defer source.Close()

	n, err := fs.findCopySuffix(relative, name, extension)
	if err != nil {
		return err
	}

	return fs.Writefile(path.Join(relative, n), source)
}

// Delete removes a file or directory from the tenant's tree.
//
// This is the one operation that deliberately skips symlink verification:
// resolving a symlink before deleting would remove the link's target instead
// of the link, and a link pointing outside the root could not be deleted at
// all. The path is confined syntactically and removed without following it.
func (fs *Filesystem) Delete(p string) error {
	np, err := fs.normalizer.Normalize(p)
	if err != nil {
		return fs.wrapError(p, err)
	}
	c, err := vfs.Resolve(fs.root, np)
	if err != nil {
		return fs.wrapError(p, err)
	}
	resolved := c.Candidate()

	// Block any whoopsies.
	if resolved == fs.Path() {
		return errors.New("cannot delete the tenant root directory")
	}

	var wg sync.WaitGroup
	if st, err := os.Lstat(resolved); err != nil {
		if !os.IsNotExist(err) {
			fs.error(err).Warn("error while attempting to stat file before deletion")
		}
	} else {
		if !st.IsDir() {
			fs.addDisk(-st.Size())
		} else {
			wg.Add(1)
			go func(st os.FileInfo, resolved string) {
				defer wg.Done()
				if s, err := fs.DirectorySize(strings.TrimPrefix(resolved, fs.Path())); err == nil {
					fs.addDisk(-s)
				}
			}(st, resolved)
		}
	}
	wg.Wait()

	return errors.WithStackIf(os.RemoveAll(resolved))
}

// ListDirectory lists the contents of a given directory and returns stat
// information about each file and folder within it.
func (fs *Filesystem) ListDirectory(p string) ([]*Stat, error) {
	h, err := fs.SafeHandle(p)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(h.RealPath())
	if err != nil {
		return nil, fs.wrapError(p, err)
	}

	var wg sync.WaitGroup
	// Initialize as non-nil so an empty directory marshals to [] and not
	// null in API responses.
	out := make([]*Stat, len(entries))

	for i, entry := range entries {
		wg.Add(1)
		go func(idx int, e os.DirEntry) {
			defer wg.Done()

			info, err := e.Info()
			if err != nil {
				return
			}

			var m *mimetype.MIME
			d := "inode/directory"
			if !info.IsDir() {
				target := filepath.Join(h.RealPath(), e.Name())
				if info.Mode()&os.ModeSymlink != 0 {
					// Only sniff a symlink's content if it safely resolves
					// within this tenant's tree.
					target, _ = fs.SafePath(filepath.Join(p, e.Name()))
				}

				// Never sniff a pipe, the detection read would block forever.
				if target != "" && info.Mode()&os.ModeNamedPipe == 0 {
					m, _ = mimetype.DetectFile(target)
				} else {
					d = "application/octet-stream"
				}
			}

			st := &Stat{Info: info, Mimetype: d}
			if m != nil {
				st.Mimetype = m.String()
			}
			out[idx] = st
		}(i, entry)
	}
	wg.Wait()

	// Entries that failed to stat mid-listing leave holes; drop them.
	out2 := out[:0]
	for _, st := range out {
		if st != nil {
			out2 = append(out2, st)
		}
	}
	out = out2

	// Alphabetize first since the concurrent stat pass randomized order,
	// then float directories to the top.
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Info.Name()) < strings.ToLower(out[j].Info.Name())
	})
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Info.IsDir() && !out[j].Info.IsDir()
	})

	return out, nil
}
