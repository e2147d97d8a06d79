package filesystem

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/franela/goblin"

	"github.com/hypi-universe/rapid-fs/config"
	"github.com/hypi-universe/rapid-fs/internal/vfs"
)

func NewFs() (*Filesystem, *rootFs) {
	config.Set(&config.Configuration{
		System: config.SystemConfiguration{
			MaxPathLength:     4096,
			DiskCheckInterval: 150,
		},
	})

	tmpDir, err := os.MkdirTemp(os.TempDir(), "rapid-fs")
	if err != nil {
		panic(err)
	}

	rfs := rootFs{root: tmpDir}
	rfs.reset()

	root, err := vfs.NewRoot("42", filepath.Join(tmpDir, "/42"))
	if err != nil {
		panic(err)
	}

	fs := New(root, 0, []string{})
	fs.isTest = true
	// Mark the usage cache fresh so reads hit the counters the tests set up
	// instead of kicking off a background directory walk.
	fs.lastLookupTime.Set(time.Now())

	return fs, &rfs
}

type rootFs struct {
	root string
}

func (rfs *rootFs) CreateTenantFile(p string, c []byte) error {
	f, err := os.Create(filepath.Join(rfs.root, "/42", p))

	if err == nil {
		f.Write(c)
		f.Close()
	}

	return err
}

func (rfs *rootFs) CreateTenantFileFromString(p string, c string) error {
	return rfs.CreateTenantFile(p, []byte(c))
}

func (rfs *rootFs) StatTenantFile(p string) (os.FileInfo, error) {
	return os.Stat(filepath.Join(rfs.root, "/42", p))
}

func (rfs *rootFs) reset() {
	if err := os.RemoveAll(filepath.Join(rfs.root, "/42")); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := os.Mkdir(filepath.Join(rfs.root, "/42"), 0o755); err != nil {
		panic(err)
	}
}

func TestFilesystem_Readfile(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Readfile", func() {
		buf := &bytes.Buffer{}

		g.It("opens a file if it exists on the system", func() {
			err := rfs.CreateTenantFileFromString("test.txt", "testing")
			g.Assert(err).IsNil()

			err = fs.Readfile("test.txt", buf)
			g.Assert(err).IsNil()
			g.Assert(buf.String()).Equal("testing")
		})

		g.It("returns an error if the file does not exist", func() {
			err := fs.Readfile("missing.txt", buf)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
		})

		g.It("returns an error if the target is a directory", func() {
			err := os.Mkdir(filepath.Join(rfs.root, "/42/some_dir"), 0o755)
			g.Assert(err).IsNil()

			err = fs.Readfile("some_dir", buf)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeIsDirectory)).IsTrue()
		})

		g.It("cannot read a file outside the tenant root", func() {
			err := fs.Readfile("../test.txt", buf)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.AfterEach(func() {
			buf.Truncate(0)
			rfs.reset()
		})
	})
}

func TestFilesystem_Writefile(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Writefile", func() {
		buf := &bytes.Buffer{}

		g.It("can create a new file", func() {
			r := bytes.NewReader([]byte("test file content"))

			err := fs.Writefile("test.txt", r)
			g.Assert(err).IsNil()

			err = fs.Readfile("test.txt", buf)
			g.Assert(err).IsNil()
			g.Assert(buf.String()).Equal("test file content")
		})

		g.It("can create a new file inside a nested directory with no existing parents", func() {
			r := bytes.NewReader([]byte("test file content"))

			err := fs.Writefile("some/nested/test.txt", r)
			g.Assert(err).IsNil()

			err = fs.Readfile("some/nested/test.txt", buf)
			g.Assert(err).IsNil()
			g.Assert(buf.String()).Equal("test file content")
		})

		g.It("cannot write a file that points outside the tenant root", func() {
			r := bytes.NewReader([]byte("test file content"))

			err := fs.Writefile("../test.txt", r)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("cannot write a file that clobbers a directory", func() {
			err := os.Mkdir(filepath.Join(rfs.root, "/42/some_dir"), 0o755)
			g.Assert(err).IsNil()

			r := bytes.NewReader([]byte("test file content"))
			err = fs.Writefile("some_dir", r)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeIsDirectory)).IsTrue()
		})

		g.It("refuses to write when the tenant is over its disk allowance", func() {
			fs.diskUsed.Store(10)
			fs.SetDiskLimit(5)

			r := bytes.NewReader([]byte("test file content"))
			err := fs.Writefile("test.txt", r)
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeDiskSpace)).IsTrue()

			_, err = rfs.StatTenantFile("test.txt")
			g.Assert(os.IsNotExist(err)).IsTrue()
		})

		g.It("updates the disk usage accounting when writing", func() {
			fs.diskUsed.Store(100)

			r := bytes.NewReader([]byte("test"))
			err := fs.Writefile("test.txt", r)
			g.Assert(err).IsNil()
			g.Assert(fs.CachedUsage()).Equal(int64(104))
		})

		g.AfterEach(func() {
			buf.Truncate(0)
			rfs.reset()
			fs.diskUsed.Store(0)
			fs.diskLimit.Store(0)
		})
	})
}

func TestFilesystem_CreateDirectory(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("CreateDirectory", func() {
		g.It("should create missing directories automatically", func() {
			err := fs.CreateDirectory("test", "foo/bar")
			g.Assert(err).IsNil()

			st, err := rfs.StatTenantFile("foo/bar/test")
			g.Assert(err).IsNil()
			g.Assert(st.IsDir()).IsTrue()
		})

		g.It("should not allow the creation of directories outside the root", func() {
			err := fs.CreateDirectory("test", "e/../../something")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("should not allow the creation of directories with a too-long name", func() {
			dir := make([]byte, 5000)
			for i := range dir {
				dir[i] = 'a'
			}
			err := fs.CreateDirectory(string(dir), "/")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeInvalidPath)).IsTrue()
		})

		g.AfterEach(func() {
			rfs.reset()
		})
	})
}

func TestFilesystem_Rename(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Rename", func() {
		g.BeforeEach(func() {
			if err := rfs.CreateTenantFileFromString("source.txt", "text content"); err != nil {
				panic(err)
			}
		})

		g.It("returns an error if the target already exists", func() {
			err := rfs.CreateTenantFileFromString("target.txt", "taken")
			g.Assert(err).IsNil()

			err = fs.Rename("source.txt", "target.txt")
			g.Assert(err).IsNotNil()
			g.Assert(errors.Is(err, os.ErrExist)).IsTrue()
		})

		g.It("returns an error if the final destination is the root directory", func() {
			err := fs.Rename("source.txt", "/")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("returns an error if the source destination is the root directory", func() {
			err := fs.Rename("/", "target.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("does not allow renaming to a location outside the root", func() {
			err := fs.Rename("source.txt", "../target.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("does not allow renaming from a location outside the root", func() {
			err := rfs.CreateTenantFileFromString("/../ext-source.txt", "taken")
			g.Assert(err).IsNil()

			err = fs.Rename("../ext-source.txt", "target.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("allows a file to be renamed", func() {
			err := fs.Rename("source.txt", "target.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("source.txt")
			g.Assert(err).IsNotNil()
			g.Assert(os.IsNotExist(err)).IsTrue()

			st, err := rfs.StatTenantFile("target.txt")
			g.Assert(err).IsNil()
			g.Assert(st.Size()).IsNotZero()
		})

		g.It("allows a folder to be renamed", func() {
			err := os.Mkdir(filepath.Join(rfs.root, "/42/source_dir"), 0o755)
			g.Assert(err).IsNil()

			err = fs.Rename("source_dir", "target_dir")
			g.Assert(err).IsNil()

			st, err := rfs.StatTenantFile("target_dir")
			g.Assert(err).IsNil()
			g.Assert(st.IsDir()).IsTrue()
		})

		g.It("creates missing parent directories for the target", func() {
			err := fs.Rename("source.txt", "nested/in/dir/target.txt")
			g.Assert(err).IsNil()

			st, err := rfs.StatTenantFile("nested/in/dir/target.txt")
			g.Assert(err).IsNil()
			g.Assert(st.Size()).IsNotZero()
		})

		g.AfterEach(func() {
			rfs.reset()
		})
	})
}

func TestFilesystem_Copy(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Copy", func() {
		g.BeforeEach(func() {
			if err := rfs.CreateTenantFileFromString("source.txt", "text content"); err != nil {
				panic(err)
			}
			fs.diskUsed.Store(int64(len("text content")))
		})

		g.It("should return an error if the source does not exist", func() {
			err := fs.Copy("missing.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
		})

		g.It("should return an error if the source is outside the root", func() {
			err := rfs.CreateTenantFileFromString("/../ext-source.txt", "text content")
			g.Assert(err).IsNil()

			err = fs.Copy("../ext-source.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.It("should return an error if the source is a directory", func() {
			err := os.Mkdir(filepath.Join(rfs.root, "/42/dir"), 0o755)
			g.Assert(err).IsNil()

			err = fs.Copy("dir")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeNotExist)).IsTrue()
		})

		g.It("should return an error if there is not space available", func() {
			fs.SetDiskLimit(2)

			err := fs.Copy("source.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodeDiskSpace)).IsTrue()
		})

		g.It("should create a copy of the file", func() {
			err := fs.Copy("source.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("source copy.txt")
			g.Assert(err).IsNil()
		})

		g.It("should create a copy with an incremented name when a copy exists", func() {
			err := fs.Copy("source.txt")
			g.Assert(err).IsNil()

			err = fs.Copy("source.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("source copy.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("source copy 1.txt")
			g.Assert(err).IsNil()
		})

		g.It("should create a copy inside of a nested directory", func() {
			err := os.MkdirAll(filepath.Join(rfs.root, "/42/nested/dir"), 0o755)
			g.Assert(err).IsNil()

			err = rfs.CreateTenantFileFromString("nested/dir/source.txt", "text content")
			g.Assert(err).IsNil()

			err = fs.Copy("nested/dir/source.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("nested/dir/source copy.txt")
			g.Assert(err).IsNil()
		})

		g.AfterEach(func() {
			rfs.reset()
			fs.diskUsed.Store(0)
			fs.diskLimit.Store(0)
		})
	})
}

func TestFilesystem_Delete(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("Delete", func() {
		g.BeforeEach(func() {
			if err := rfs.CreateTenantFileFromString("source.txt", "text content"); err != nil {
				panic(err)
			}
			fs.diskUsed.Store(int64(len("text content")))
		})

		g.It("does not delete the root directory of the tenant", func() {
			err := fs.Delete("/")
			g.Assert(err).IsNotNil()

			_, err = rfs.StatTenantFile("source.txt")
			g.Assert(err).IsNil()
		})

		g.It("does not allow deleting a file outside the root", func() {
			err := rfs.CreateTenantFileFromString("/../ext-source.txt", "external content")
			g.Assert(err).IsNil()

			err = fs.Delete("../ext-source.txt")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()

			_, err = os.Stat(filepath.Join(rfs.root, "ext-source.txt"))
			g.Assert(err).IsNil()
		})

		g.It("deletes a symlink without following it", func() {
			err := rfs.CreateTenantFileFromString("/../ext-source.txt", "external content")
			g.Assert(err).IsNil()

			err = os.Symlink(filepath.Join(rfs.root, "ext-source.txt"), filepath.Join(rfs.root, "/42/symlinked.txt"))
			g.Assert(err).IsNil()

			err = fs.Delete("symlinked.txt")
			g.Assert(err).IsNil()

			// The link is gone but the file it pointed at survives.
			_, err = rfs.StatTenantFile("symlinked.txt")
			g.Assert(os.IsNotExist(err)).IsTrue()

			_, err = os.Stat(filepath.Join(rfs.root, "ext-source.txt"))
			g.Assert(err).IsNil()
		})

		g.It("deletes a file and updates the disk usage", func() {
			err := fs.Delete("source.txt")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("source.txt")
			g.Assert(os.IsNotExist(err)).IsTrue()
			g.Assert(fs.CachedUsage()).Equal(int64(0))
		})

		g.It("deletes a directory recursively", func() {
			err := os.MkdirAll(filepath.Join(rfs.root, "/42/nested/dir"), 0o755)
			g.Assert(err).IsNil()
			err = rfs.CreateTenantFileFromString("nested/dir/source.txt", "text content")
			g.Assert(err).IsNil()

			err = fs.Delete("nested")
			g.Assert(err).IsNil()

			_, err = rfs.StatTenantFile("nested")
			g.Assert(os.IsNotExist(err)).IsTrue()
		})

		g.It("does not error when deleting a file that does not exist", func() {
			err := fs.Delete("missing.txt")
			g.Assert(err).IsNil()
		})

		g.AfterEach(func() {
			rfs.reset()
			fs.diskUsed.Store(0)
		})
	})
}

func TestFilesystem_ListDirectory(t *testing.T) {
	g := Goblin(t)
	fs, rfs := NewFs()

	g.Describe("ListDirectory", func() {
		g.It("lists directories before files, both alphabetized", func() {
			g.Assert(rfs.CreateTenantFileFromString("b.txt", "b")).IsNil()
			g.Assert(rfs.CreateTenantFileFromString("a.txt", "a")).IsNil()
			g.Assert(os.Mkdir(filepath.Join(rfs.root, "/42/zdir"), 0o755)).IsNil()

			out, err := fs.ListDirectory("/")
			g.Assert(err).IsNil()
			g.Assert(len(out)).Equal(3)
			g.Assert(out[0].Info.Name()).Equal("zdir")
			g.Assert(out[1].Info.Name()).Equal("a.txt")
			g.Assert(out[2].Info.Name()).Equal("b.txt")
		})

		g.It("returns an empty slice for an empty directory", func() {
			out, err := fs.ListDirectory("/")
			g.Assert(err).IsNil()
			g.Assert(len(out)).Equal(0)
			g.Assert(out != nil).IsTrue()
		})

		g.It("errors when listing outside the root", func() {
			_, err := fs.ListDirectory("../")
			g.Assert(err).IsNotNil()
			g.Assert(IsErrorCode(err, ErrCodePathResolution)).IsTrue()
		})

		g.AfterEach(func() {
			rfs.reset()
		})
	})
}
