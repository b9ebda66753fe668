//go:build !windows

package local

import "syscall"

type statfsT struct {
	Total uint64
	Free  uint64
}

// statfs reports space info for the filesystem containing path, mirrored
// from the teacher's backend/local/about_unix.go which calls
// syscall.Statfs directly rather than pulling in a library for it.
func statfs(path string, out *statfsT) error {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return err
	}
	bsize := uint64(st.Bsize)
	out.Total = st.Blocks * bsize
	out.Free = st.Bfree * bsize
	return nil
}
