//go:build !unix

package spill

import "errors"

var errUnsupported = errors.New("free space probe unsupported")

// FreeBytes is not implemented on this platform.
func FreeBytes(string) (uint64, error) { return 0, errUnsupported }
