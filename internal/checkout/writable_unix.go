//go:build unix

package checkout

import "golang.org/x/sys/unix"

// IsWritable reports whether the current process may write path.
func IsWritable(path string) bool {
	return unix.Access(path, unix.W_OK) == nil
}
