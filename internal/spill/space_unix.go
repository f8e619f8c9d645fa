//go:build unix

package spill

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errUnsupported = errors.New("free space probe unsupported")

// FreeBytes returns the bytes available to unprivileged users on the file
// system holding dir.
func FreeBytes(dir string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bavail) * uint64(st.Bsize), nil
}
