//go:build !linux && !darwin

package filesystem

import "time"

// CTime is not portably available here, fall back to the modification time.
func (s *Stat) CTime() time.Time {
	return s.Info.ModTime()
}
