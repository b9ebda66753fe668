//go:build windows

package local

import "errors"

type statfsT struct {
	Total uint64
	Free  uint64
}

func statfs(path string, out *statfsT) error {
	return errors.New("space_info not implemented on this platform")
}
