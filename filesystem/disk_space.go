package filesystem

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/karrick/godirwalk"
)

type usageLookupTime struct {
	sync.RWMutex
	value time.Time
}

// Set sets the last time that a disk space lookup was performed.
func (ult *usageLookupTime) Set(t time.Time) {
	ult.Lock()
	ult.value = t
	ult.Unlock()
}

// Get the last time that we performed a disk space usage lookup.
func (ult *usageLookupTime) Get() time.Time {
	ult.RLock()
	defer ult.RUnlock()

	return ult.value
}

// MaxDisk returns the maximum amount of disk space that this Filesystem
// instance is allowed to use.
func (fs *Filesystem) MaxDisk() int64 {
	return fs.diskLimit.Load()
}

// SetDiskLimit sets the disk space limit for this Filesystem instance.
func (fs *Filesystem) SetDiskLimit(i int64) {
	fs.diskLimit.Store(i)
}

// HasSpaceErr is the same concept as HasSpaceAvailable however this will
// return an error if there is no space, rather than a boolean value.
func (fs *Filesystem) HasSpaceErr(allowStaleValue bool) error {
	if !fs.HasSpaceAvailable(allowStaleValue) {
		return newFilesystemError(ErrCodeDiskSpace, nil)
	}
	return nil
}

// HasSpaceAvailable determines if the tenant still fits inside its disk
// allowance.
//
// Because determining the amount of space in use is a taxing operation the
// value is cached and re-walked only after the check interval has passed.
// This operation will potentially block unless allowStaleValue is set to
// true. See the documentation on DiskUsage for how this affects the call.
func (fs *Filesystem) HasSpaceAvailable(allowStaleValue bool) bool {
	size, err := fs.DiskUsage(allowStaleValue)
	if err != nil {
		log.WithField("root", fs.Path()).WithField("error", err).Warn("failed to determine root fs directory size")
	}

	// A limit of 0 means unlimited. The usage calculation above still ran so
	// the cached value stays warm for callers that report it.
	if fs.MaxDisk() == 0 {
		return true
	}

	return size <= fs.MaxDisk()
}

// CachedUsage returns the cached value for the amount of disk space used by
// the filesystem. Do not rely on this function for critical logical checks;
// it is meant for reporting surfaces where the value being slightly stale
// does not matter.
func (fs *Filesystem) CachedUsage() int64 {
	return fs.diskUsed.Load()
}

// DiskUsage returns the total number of bytes the tenant's tree is using,
// preferring the cached value to avoid excessive IO. The tree is only walked
// when the cached value has passed the check interval.
//
// If "allowStaleValue" is set to true, a stale value MAY be returned to the
// caller if there is an expired cache value AND there is currently another
// lookup in progress. If there is no cached value but no other lookup is in
// progress, a fresh disk space response will be returned to the caller.
func (fs *Filesystem) DiskUsage(allowStaleValue bool) (int64, error) {
	// A disk check interval of 0 means this functionality is completely disabled.
	if fs.diskCheckInterval == 0 {
		return 0, nil
	}

	if !fs.lastLookupTime.Get().After(time.Now().Add(-fs.diskCheckInterval)) {
		if !allowStaleValue {
			return fs.updateCachedDiskUsage()
		} else if !fs.lookupInProgress.Load() {
			// A stale value is fine for this caller, kick the refresh off in
			// the background if nobody else already has.
			go func(fs *Filesystem) {
				if _, err := fs.updateCachedDiskUsage(); err != nil {
					log.WithField("root", fs.Path()).WithField("error", err).Warn("failed to update fs disk usage from within routine")
				}
			}(fs)
		}
	}

	return fs.diskUsed.Load(), nil
}

// updateCachedDiskUsage walks the tenant's tree and refreshes the cached
// usage value.
func (fs *Filesystem) updateCachedDiskUsage() (int64, error) {
	// Obtain an exclusive lock on this process so that we don't unintentionally
	// run it at the same time as another running process. Once the lock is
	// available it'll read from the cache for the second call rather than
	// hitting the disk in parallel.
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.lookupInProgress.Store(true)
	defer fs.lookupInProgress.Store(false)

	size, err := fs.DirectorySize("/")

	// Always cache the size, even if there is an error. We want to always
	// return that value so that we don't cause an endless loop of determining
	// the disk size if there is a temporary error encountered.
	fs.lastLookupTime.Set(time.Now())

	fs.diskUsed.Store(size)

	return size, err
}

// DirectorySize calculates the size of a directory and its descendants.
func (fs *Filesystem) DirectorySize(dir string) (int64, error) {
	d, err := fs.SafePath(dir)
	if err != nil {
		return 0, err
	}

	var size atomic.Int64
	err = godirwalk.Walk(d, &godirwalk.Options{
		Unsorted: true,
		Callback: func(p string, e *godirwalk.Dirent) error {
			// Only calculate the size of regular files. Symlinks are skipped
			// entirely rather than followed: their targets either live inside
			// the tree and get counted on their own, or live outside it and
			// are not the tenant's bytes.
			if !e.IsRegular() {
				return nil
			}

			if st, err := os.Lstat(p); err == nil {
				size.Add(st.Size())
			}
			return nil
		},
	})

	return size.Load(), errors.WrapIf(err, "filesystem: directorysize: failed to walk directory")
}

// HasSpaceFor checks that adding size bytes keeps the tenant within its disk
// allowance.
func (fs *Filesystem) HasSpaceFor(size int64) error {
	if fs.MaxDisk() == 0 {
		return nil
	}
	if fs.CachedUsage()+size > fs.MaxDisk() {
		return newFilesystemError(ErrCodeDiskSpace, nil)
	}
	return nil
}

// addDisk adjusts the cached disk usage, clamping at zero.
func (fs *Filesystem) addDisk(i int64) int64 {
	for {
		used := fs.diskUsed.Load()
		next := used + i
		if next < 0 {
			next = 0
		}
		if fs.diskUsed.CompareAndSwap(used, next) {
			return next
		}
	}
}
