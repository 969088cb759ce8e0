//go:build unix

package fsutil

import (
	"io/fs"
	"syscall"
)

// LinkCount returns the number of hard links to the file described by
// info.
func LinkCount(info fs.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return uint64(st.Nlink)
	}
	return 1
}
