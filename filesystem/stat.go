package filesystem

import (
	"os"
	"strconv"
	"time"

	"github.com/gabriel-vasile/mimetype"
	json "github.com/goccy/go-json"
)

// Stat bundles a file's info with its sniffed mimetype.
type Stat struct {
	Info     os.FileInfo
	Mimetype string
}

func (s *Stat) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string `json:"name"`
		Created   string `json:"created"`
		Modified  string `json:"modified"`
		Mode      string `json:"mode"`
		ModeBits  string `json:"mode_bits"`
		Size      int64  `json:"size"`
		Directory bool   `json:"directory"`
		File      bool   `json:"file"`
		Symlink   bool   `json:"symlink"`
		Mime      string `json:"mime"`
	}{
		Name:      s.Info.Name(),
		Created:   s.CTime().Format(time.RFC3339),
		Modified:  s.Info.ModTime().Format(time.RFC3339),
		Mode:      s.Info.Mode().String(),
		ModeBits:  strconv.FormatUint(uint64(s.Info.Mode()&os.ModePerm), 8),
		Size:      s.Info.Size(),
		Directory: s.Info.IsDir(),
		File:      !s.Info.IsDir(),
		Symlink:   s.Info.Mode().Perm()&os.ModeSymlink != 0,
		Mime:      s.Mimetype,
	})
}

// Stat stats a file or directory at the given path for the tenant after
// confining it.
func (fs *Filesystem) Stat(p string) (*Stat, error) {
	sp, err := fs.SafePath(p)
	if err != nil {
		return nil, err
	}
	st, err := fs.unsafeStat(sp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, newFilesystemError(ErrCodeNotExist, err)
		}
		return nil, err
	}
	return st, nil
}

// unsafeStat stats a path without confining it first. Callers must only
// hand it verified paths.
func (fs *Filesystem) unsafeStat(p string) (*Stat, error) {
	s, err := os.Stat(p)
	if err != nil {
		return nil, err
	}

	var m *mimetype.MIME
	if !s.IsDir() {
		m, err = mimetype.DetectFile(p)
		if err != nil {
			return nil, err
		}
	}

	st := &Stat{
		Info:     s,
		Mimetype: "inode/directory",
	}
	if m != nil {
		st.Mimetype = m.String()
	}
	return st, nil
}
