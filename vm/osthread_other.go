//go:build !linux

package vm

import "os"

// osThreadID has no portable kernel thread id to report; the process id
// stands in.
func osThreadID() int {
	return os.Getpid()
}
