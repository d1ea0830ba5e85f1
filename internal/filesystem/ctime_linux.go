//go:build linux

package filesystem

import (
	"io/fs"
	"time"

	"golang.org/x/sys/unix"
)

// creationTime returns the inode change time, falling back to the
// modification time when the file cannot be stat'ed again.
func creationTime(path string, info fs.FileInfo) time.Time {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return info.ModTime()
	}
	sec, nsec := st.Ctim.Unix()
	return time.Unix(sec, nsec)
}
