package filesystem

import (
	"syscall"
	"time"
)

// CTime returns the inode change time of the file or folder.
func (s *Stat) CTime() time.Time {
	if st, ok := s.Info.Sys().(*syscall.Stat_t); ok {
		return time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
	}
	return time.Time{}
}
