//go:build unix

package stream

import (
	"golang.org/x/sys/unix"
)

type fder interface {
	Fd() uintptr
}

// lock takes a non-blocking flock on files that expose a descriptor.
// In-memory files have none and are not locked.
func lock(f any, shared bool) (func() error, error) {
	fd, ok := f.(fder)
	if !ok {
		return func() error { return nil }, nil
	}
	how := unix.LOCK_EX
	if shared {
		how = unix.LOCK_SH
	}
	if err := unix.Flock(int(fd.Fd()), how|unix.LOCK_NB); err != nil {
		return nil, err
	}
	return func() error {
		return unix.Flock(int(fd.Fd()), unix.LOCK_UN)
	}, nil
}
