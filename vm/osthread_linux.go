//go:build linux

package vm

import "golang.org/x/sys/unix"

// osThreadID returns the kernel id of the calling OS thread.
func osThreadID() int {
	return unix.Gettid()
}
